package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File names used when certificates live in Settings.Dir.
const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

// Settings configures HTTPS for the control API.
type Settings struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	CommonName   string   `mapstructure:"common_name"`
	DNSNames     []string `mapstructure:"dns_names"`
	ValidDays    int      `mapstructure:"valid_days"`
	MinVersion   string   `mapstructure:"min_version"` // "1.2" or "1.3"
}

// Validate reports settings that Setup would reject, without touching disk.
func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if _, err := parseVersion(s.MinVersion); err != nil {
		return err
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	if s.CertFile == "" && s.Dir == "" {
		return errors.New("tls: enabled but neither cert_file/key_file nor dir is set")
	}
	return nil
}

// Setup returns the server TLS config, or nil when TLS is disabled.
// Explicit cert/key files win over Dir. With AutoGenerate a self-signed pair
// is written to Dir when it is missing.
func Setup(s Settings) (*tls.Config, error) {
	if !s.Enabled {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(s.MinVersion)

	certPath, keyPath := s.CertFile, s.KeyFile
	if certPath == "" {
		certPath = filepath.Join(s.Dir, CertFile)
		keyPath = filepath.Join(s.Dir, KeyFile)
		if s.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(s); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	// fail fast on unreadable pairs; rotation is picked up per handshake
	if _, err := loadPair(certPath, keyPath); err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certPath, keyPath)
		},
	}, nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("tls: unsupported min_version %q", v)
	}
}

func loadPair(certPath, keyPath string) (*tls.Certificate, error) {
	pair, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	return &pair, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(s Settings) error {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	cn := s.CommonName
	if cn == "" {
		cn = "localhost"
	}
	names := s.DNSNames
	if len(names) == 0 {
		names = []string{"localhost"}
	}
	days := s.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:  cn,
		DNSNames:    names,
		IPAddresses: []string{"127.0.0.1", "::1"},
		NotAfter:    time.Now().AddDate(0, 0, days),
		CertPath:    filepath.Join(s.Dir, CertFile),
		KeyPath:     filepath.Join(s.Dir, KeyFile),
		CACertPath:  filepath.Join(s.Dir, CACertFile),
	})
}

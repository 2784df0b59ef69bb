package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/fgsvc/internal/detector"
	"github.com/loykin/fgsvc/internal/logger"
	"github.com/loykin/fgsvc/internal/task"
	itls "github.com/loykin/fgsvc/internal/tls"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. FGSVC_SERVER_LISTEN.
const EnvPrefix = "FGSVC"

// Config is the top-level configuration file structure.
type Config struct {
	Task    TaskConfig    `mapstructure:"task"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	History HistoryConfig `mapstructure:"history"`
	Log     logger.Config `mapstructure:"log"`
}

// TaskConfig describes the supervised task.
type TaskConfig struct {
	Name         string            `mapstructure:"name"`
	Command      string            `mapstructure:"command"`
	WorkDir      string            `mapstructure:"work_dir"`
	Env          []string          `mapstructure:"env"`
	EnvFiles     []string          `mapstructure:"env_files"`
	PIDFile      string            `mapstructure:"pid_file"`
	RestartDelay time.Duration     `mapstructure:"restart_delay"`
	StopWait     time.Duration     `mapstructure:"stop_wait"`
	KeepRunning  bool              `mapstructure:"keep_running"` // leave the task up when the daemon exits
	Detectors    []DetectorEntry   `mapstructure:"detectors"`
	Log          logger.FileConfig `mapstructure:"log"`
}

type DetectorEntry struct {
	Type    string        `mapstructure:"type"`
	Path    string        `mapstructure:"path"`
	PID     int           `mapstructure:"pid"`
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen    string  `mapstructure:"listen"`
	BasePath  string  `mapstructure:"base_path"`
	Engine    string  `mapstructure:"engine"`     // gin or echo
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second; 0 disables
	Burst     int     `mapstructure:"burst"`

	TLS itls.Settings `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("task.restart_delay", task.DefaultRestartDelay)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.engine", "gin")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the file at path (TOML unless the extension says otherwise) and
// applies FGSVC_* environment overrides. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "toml"
	}
}

// bindEnvKeys makes AutomaticEnv visible to Unmarshal for keys that are not
// present in the file.
func bindEnvKeys(v *viper.Viper) {
	for _, k := range []string{
		"task.name", "task.command", "task.work_dir", "task.pid_file",
		"task.restart_delay", "task.stop_wait", "task.keep_running",
		"server.listen", "server.base_path", "server.engine", "server.rate_limit", "server.burst",
		"server.tls.enabled", "server.tls.cert_file", "server.tls.key_file", "server.tls.dir", "server.tls.auto_generate",
		"metrics.enabled", "metrics.listen",
		"log.level", "log.format", "log.color", "log.file.path",
	} {
		_ = v.BindEnv(k)
	}
}

// Validate checks cross-field constraints that decoding cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Server.Engine) {
	case "", "gin", "echo":
	default:
		return fmt.Errorf("unknown server engine %q", c.Server.Engine)
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		return errors.New("server rate_limit and burst must not be negative")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return err
	}
	return nil
}

// TaskSpec converts the task section into a task.Spec, loading env files and
// building detectors.
func (c *Config) TaskSpec() (task.Spec, error) {
	tc := c.Task
	env, err := mergeEnv(tc.EnvFiles, tc.Env)
	if err != nil {
		return task.Spec{}, err
	}
	dets, err := buildDetectors(tc.Name, tc.Detectors)
	if err != nil {
		return task.Spec{}, err
	}
	spec := task.Spec{
		Name:         tc.Name,
		Command:      tc.Command,
		WorkDir:      tc.WorkDir,
		Env:          env,
		PIDFile:      tc.PIDFile,
		RestartDelay: tc.RestartDelay,
		StopWait:     tc.StopWait,
		Log:          logger.Config{File: tc.Log},
		Detached:     tc.KeepRunning,
		Detectors:    dets,
	}
	if err := spec.Validate(); err != nil {
		return task.Spec{}, err
	}
	return spec, nil
}

func buildDetectors(name string, entries []DetectorEntry) ([]detector.Detector, error) {
	dets := make([]detector.Detector, 0, len(entries))
	for _, d := range entries {
		switch d.Type {
		case "pidfile":
			if d.Path == "" {
				return nil, fmt.Errorf("detector pidfile requires path for task %s", name)
			}
			dets = append(dets, detector.PIDFileDetector{PIDFile: d.Path})
		case "pid":
			if d.PID <= 0 {
				return nil, fmt.Errorf("detector pid requires positive pid for task %s", name)
			}
			dets = append(dets, detector.PIDDetector{PID: d.PID})
		case "command":
			if d.Command == "" {
				return nil, fmt.Errorf("detector command requires command for task %s", name)
			}
			dets = append(dets, detector.CommandDetector{Command: d.Command, Timeout: d.Timeout})
		default:
			return nil, fmt.Errorf("unknown detector type %q for task %s", d.Type, name)
		}
	}
	return dets, nil
}

// mergeEnv applies env files in order, then the inline list. Later keys win.
func mergeEnv(files, inline []string) ([]string, error) {
	if len(files) == 0 {
		return inline, nil
	}
	m := make(map[string]string)
	var order []string
	set := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range files {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			k, v, _ := strings.Cut(kv, "=")
			set(k, v)
		}
	}
	for _, kv := range inline {
		if k, v, ok := strings.Cut(kv, "="); ok {
			set(k, v)
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// LoadEnvFile parses a .env file with KEY=VALUE lines. Blank lines and lines
// starting with # are skipped; an optional "export " prefix is dropped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.Trim(strings.TrimSpace(v), `"'`))
	}
	return out, nil
}

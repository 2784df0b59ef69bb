package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDMeta is the optional second line of a PID file.
type PIDMeta struct {
	Name      string `json:"name,omitempty"`
	StartUnix int64  `json:"start_unix,omitempty"`
}

// WritePIDFile writes "<pid>\n<meta json>\n" to path, creating parent dirs.
func WritePIDFile(path string, pid int, meta PIDMeta) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(mb) + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}

// ReadPIDFile parses a PID file. Files holding only a PID return a zero meta.
func ReadPIDFile(path string) (int, PIDMeta, error) {
	var meta PIDMeta
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) >= 2 {
		// unparsable meta is ignored; the pid alone is still usable
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &meta)
	}
	return pid, meta, nil
}

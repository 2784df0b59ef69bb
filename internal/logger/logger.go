package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings applied when a FileConfig leaves them at zero.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config controls the daemon logger and the task output files.
type Config struct {
	Level  string     `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string     `json:"format" mapstructure:"format"` // text, json
	Color  bool       `json:"color" mapstructure:"color"`   // colorize text output
	File   FileConfig `json:"file" mapstructure:"file"`
}

// FileConfig describes log file destinations. Rotation follows lumberjack semantics.
// If StdoutPath/StderrPath are empty and Dir is set, task output goes to
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type FileConfig struct {
	Path       string `json:"path" mapstructure:"path"` // daemon log file; empty means the writer passed to New
	Dir        string `json:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout_path" mapstructure:"stdout_path"`
	StderrPath string `json:"stderr_path" mapstructure:"stderr_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// New builds the daemon logger. When cfg.File.Path is set output is rotated
// through lumberjack, otherwise it goes to w (os.Stderr when nil).
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.File.Path != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.File.Path), 0o750)
		w = cfg.File.rotating(cfg.File.Path)
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		if cfg.Color && cfg.File.Path == "" {
			h = NewColorTextHandler(w, opts)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	}
	return slog.New(h)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProcessWriters returns rotating writers for a task's stdout and stderr.
// A nil writer means that stream is not captured. The writers live in the
// calling process, so the task's output stops when that process exits.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout, stderr, err := c.processPaths(name)
	if err != nil {
		return nil, nil, err
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.File.rotating(stdout)
	}
	if stderr != "" {
		errW = c.File.rotating(stderr)
	}
	return outW, errW, nil
}

// ProcessFiles opens the same destinations as ProcessWriters as plain
// append-mode files. The child writes to them directly and keeps working
// after the caller exits. Rotation settings do not apply.
func (c Config) ProcessFiles(name string) (stdout *os.File, stderr *os.File, err error) {
	outPath, errPath, err := c.processPaths(name)
	if err != nil {
		return nil, nil, err
	}
	if outPath != "" {
		if stdout, err = openAppend(outPath); err != nil {
			return nil, nil, err
		}
	}
	if errPath != "" {
		if stderr, err = openAppend(errPath); err != nil {
			if stdout != nil {
				_ = stdout.Close()
			}
			return nil, nil, err
		}
	}
	return stdout, stderr, nil
}

func (c Config) processPaths(name string) (string, string, error) {
	fc := c.File
	stdout := fc.StdoutPath
	stderr := fc.StderrPath
	if stdout == "" && fc.Dir != "" {
		stdout = filepath.Join(fc.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && fc.Dir != "" {
		stderr = filepath.Join(fc.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if fc.Dir != "" {
		if err := os.MkdirAll(fc.Dir, 0o750); err != nil {
			return "", "", fmt.Errorf("create log dir: %w", err)
		}
	}
	return stdout, stderr, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open task log: %w", err)
	}
	return f, nil
}

func (fc FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(fc.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(fc.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(fc.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   fc.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

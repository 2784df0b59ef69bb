package task

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/fgsvc/internal/detector"
	"github.com/loykin/fgsvc/internal/logger"
)

// DefaultRestartDelay is how long a restart waits before re-acquiring the task.
const DefaultRestartDelay = time.Second

// Spec describes the single task managed by the supervisor.
type Spec struct {
	Name         string              `json:"name" mapstructure:"name"`                   // identity token
	Command      string              `json:"command" mapstructure:"command"`             // command line (shell-aware)
	WorkDir      string              `json:"work_dir" mapstructure:"work_dir"`           // optional working dir
	Env          []string            `json:"env" mapstructure:"env"`                     // extra KEY=VALUE pairs
	PIDFile      string              `json:"pid_file" mapstructure:"pid_file"`           // written on acquire, removed on release
	RestartDelay time.Duration       `json:"restart_delay" mapstructure:"restart_delay"` // deferred start after restart
	StopWait     time.Duration       `json:"stop_wait" mapstructure:"stop_wait"`         // SIGTERM grace; zero kills immediately
	Log          logger.Config       `json:"log" mapstructure:"log"`
	Detached     bool                `json:"detached" mapstructure:"detached"` // task may outlive this process
	Detectors    []detector.Detector `json:"-" mapstructure:"-"`
}

// Validate checks the fields a launch depends on.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("task requires name")
	}
	if !IsSafeName(s.Name) {
		return fmt.Errorf("invalid task name %q: allowed [A-Za-z0-9._-]", s.Name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("task %s requires command", s.Name)
	}
	if s.RestartDelay < 0 || s.StopWait < 0 {
		return fmt.Errorf("task %s: durations must not be negative", s.Name)
	}
	return nil
}

// Delay returns RestartDelay or the default.
func (s Spec) Delay() time.Duration {
	if s.RestartDelay <= 0 {
		return DefaultRestartDelay
	}
	return s.RestartDelay
}

// IsSafeName reports whether s can be used as an identity and in file names.
func IsSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// BuildCommand constructs an *exec.Cmd for Command. A shell is used only
// when the command already names one or contains shell metacharacters.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return trueCommand()
	}
	if script, ok := explicitShellScript(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// explicitShellScript matches "sh -c <script>" style prefixes and returns the
// script with one pair of surrounding quotes stripped.
func explicitShellScript(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		after, ok := strings.CutPrefix(trim, p)
		if !ok {
			continue
		}
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}

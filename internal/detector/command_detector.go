package detector

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandDetector runs a probe command; exit status 0 means alive.
type CommandDetector struct {
	Command string
	Timeout time.Duration // default 5s
}

func (d CommandDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := probeCommand(ctx, d.Command).Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }

// probeCommand avoids a shell unless metacharacters are present (G204 mitigation).
func probeCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.CommandContext(ctx, "true")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

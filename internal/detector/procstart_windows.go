//go:build windows

package detector

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// ProcStartUnix returns the process start time as Unix seconds, 0 when unknown.
func ProcStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

func sameStart(a, b int64) bool {
	d := a - b
	return d >= -1 && d <= 1
}

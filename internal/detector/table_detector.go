package detector

import (
	"fmt"
	"slices"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// TableDetector looks the PID up in the OS process table. Zombies count as
// gone, and a non-zero StartUnix guards against PID reuse.
type TableDetector struct {
	PID       int
	StartUnix int64
}

func (d TableDetector) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	exists, err := gopsproc.PidExists(int32(d.PID))
	if err != nil || !exists {
		return false, err
	}
	p, err := gopsproc.NewProcess(int32(d.PID))
	if err != nil {
		return false, nil
	}
	if st, err := p.Status(); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return false, nil
	}
	if d.StartUnix > 0 {
		if ms, err := p.CreateTime(); err == nil && ms > 0 && !sameStart(ms/1000, d.StartUnix) {
			return false, nil
		}
	}
	return true, nil
}

func (d TableDetector) Describe() string { return fmt.Sprintf("table:%d", d.PID) }

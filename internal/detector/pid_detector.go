package detector

import (
	"fmt"
	"os"
)

// PIDFileDetector detects the task via a PID file written at launch.
// When the file carries a start time it must match the live process,
// otherwise the PID is treated as reused by an unrelated process.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, meta, err := ReadPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if meta.StartUnix > 0 {
		if cur := ProcStartUnix(pid); cur > 0 && !sameStart(cur, meta.StartUnix) {
			return false, nil
		}
	}
	return pidAlive(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }

package detector

// Detector is a strategy that determines if the task is running.
// Implementations consult the OS process table, a PID file, or a custom command.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// FirstAlive runs detectors in order and returns the description of the first
// one that reports the process alive. Detector errors count as not alive.
func FirstAlive(dets ...Detector) (bool, string) {
	for _, d := range dets {
		if d == nil {
			continue
		}
		if ok, _ := d.Alive(); ok {
			return true, d.Describe()
		}
	}
	return false, ""
}

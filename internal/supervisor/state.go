package supervisor

import "time"

// State is the lifecycle state of the supervised task.
//
//	Stopped -> Running -> Stopped
//	Running|Stopped -> Restarting -> Running|Stopped
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of the supervisor.
type Snapshot struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	StoppedAt  time.Time `json:"stopped_at,omitzero"`
	Starts     int       `json:"starts"`
	Restarts   int       `json:"restarts"`
	LastError  string    `json:"last_error,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
}

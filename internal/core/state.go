package core

import (
	"errors"
	"time"
)

// ErrInvalidState is returned when a Manager operation is not allowed in
// the current lifecycle state.
var ErrInvalidState = errors.New("invalid manager state")

// State define as fases do ciclo de vida do Manager.
type State int32

const (
	StateUnstarted State = iota
	StateRunning
	StateJoining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateJoining:
		return "joining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of the Manager's counters.
type Stats struct {
	State        string        `json:"state" yaml:"state"`
	Threads      int           `json:"threads" yaml:"threads"`
	Targets      int           `json:"targets" yaml:"targets"`
	Units        int           `json:"units" yaml:"units"`
	UnitsQueued  int64         `json:"units_queued" yaml:"units_queued"`
	UnitsDone    int64         `json:"units_done" yaml:"units_done"`
	Evaluations  int64         `json:"evaluations" yaml:"evaluations"`
	Exceptions   int64         `json:"exceptions" yaml:"exceptions"`
	Duplicates   int64         `json:"duplicates" yaml:"duplicates"`
	DepthLimited int64         `json:"depth_limited" yaml:"depth_limited"`
	Flags        int           `json:"flags" yaml:"flags"`
	Pending      int           `json:"pending" yaml:"pending"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
}

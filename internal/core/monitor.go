package core

import (
	"github.com/rafabd1/Nightshade/internal/unit"
)

// Monitor observes a run. Callbacks are invoked from worker goroutines and
// must be safe for concurrent use. A nil unit in OnWork means the worker is
// idle.
type Monitor interface {
	OnFlag(u unit.Unit, flag string)
	OnData(u unit.Unit, data []byte)
	OnArtifact(u unit.Unit, path string)
	OnException(u unit.Unit, err error)
	OnDepthLimit(parent unit.Unit, depth int)
	OnWork(worker int, u unit.Unit, c unit.Case)
	OnCompletion(timedOut bool)
}

// NopMonitor ignores every event. Embed it to implement only some callbacks.
type NopMonitor struct{}

func (NopMonitor) OnFlag(unit.Unit, string)         {}
func (NopMonitor) OnData(unit.Unit, []byte)         {}
func (NopMonitor) OnArtifact(unit.Unit, string)     {}
func (NopMonitor) OnException(unit.Unit, error)     {}
func (NopMonitor) OnDepthLimit(unit.Unit, int)      {}
func (NopMonitor) OnWork(int, unit.Unit, unit.Case) {}
func (NopMonitor) OnCompletion(bool)                {}

// MultiMonitor fans every event out to several monitors in order.
type MultiMonitor []Monitor

func (mm MultiMonitor) OnFlag(u unit.Unit, flag string) {
	for _, m := range mm {
		m.OnFlag(u, flag)
	}
}

func (mm MultiMonitor) OnData(u unit.Unit, data []byte) {
	for _, m := range mm {
		m.OnData(u, data)
	}
}

func (mm MultiMonitor) OnArtifact(u unit.Unit, path string) {
	for _, m := range mm {
		m.OnArtifact(u, path)
	}
}

func (mm MultiMonitor) OnException(u unit.Unit, err error) {
	for _, m := range mm {
		m.OnException(u, err)
	}
}

func (mm MultiMonitor) OnDepthLimit(parent unit.Unit, depth int) {
	for _, m := range mm {
		m.OnDepthLimit(parent, depth)
	}
}

func (mm MultiMonitor) OnWork(worker int, u unit.Unit, c unit.Case) {
	for _, m := range mm {
		m.OnWork(worker, u, c)
	}
}

func (mm MultiMonitor) OnCompletion(timedOut bool) {
	for _, m := range mm {
		m.OnCompletion(timedOut)
	}
}

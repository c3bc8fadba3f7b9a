package pipeline

import (
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/monitoring"
)

var logf = monitoring.Component("Pipeline")

// Notifier receives the signals a user interface needs: the current stage,
// errors with the stage they came from, and whether a call is in flight.
// Methods are called without any Session lock held.
type Notifier interface {
	StageChanged(state model.State, stage model.Stage)
	Error(err *StageError)
	BusyChanged(busy bool)
}

// LogNotifier writes notifications to the diagnostic log.
type LogNotifier struct{}

func (LogNotifier) StageChanged(state model.State, stage model.Stage) {
	logf("state %s, next stage %s", state, stage)
}

func (LogNotifier) Error(err *StageError) {
	logf("%s failed: %s (%v)", err.Stage, err.Message(), err.Err)
}

func (LogNotifier) BusyChanged(busy bool) {
	if busy {
		logf("busy")
	} else {
		logf("idle")
	}
}

// Notifiers fans every notification out to each of its members.
type Notifiers []Notifier

func (ns Notifiers) StageChanged(state model.State, stage model.Stage) {
	for _, n := range ns {
		n.StageChanged(state, stage)
	}
}

func (ns Notifiers) Error(err *StageError) {
	for _, n := range ns {
		n.Error(err)
	}
}

func (ns Notifiers) BusyChanged(busy bool) {
	for _, n := range ns {
		n.BusyChanged(busy)
	}
}

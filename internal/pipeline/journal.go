package pipeline

import (
	"time"

	"github.com/banshee-data/blockview/internal/model"
)

// StageEvent describes one completed stage call. Error is empty on
// success. Items counts voxels, blocks or exports produced.
type StageEvent struct {
	SessionID string
	Stage     model.Stage
	Started   time.Time
	Duration  time.Duration
	Items     int
	Error     string
}

// Journal records session history. *db.DB implements it.
type Journal interface {
	RecordStage(ev StageEvent) error
	RecordExport(sessionID string, format model.ExportFormat, ref string, at time.Time) error
}

type nopJournal struct{}

func (nopJournal) RecordStage(StageEvent) error { return nil }

func (nopJournal) RecordExport(string, model.ExportFormat, string, time.Time) error { return nil }

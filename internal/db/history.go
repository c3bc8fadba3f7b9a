package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/pipeline"
)

// RecordStage stores one stage call. Successful calls with a session id
// also create or touch the session row.
func (db *DB) RecordStage(ev pipeline.StageEvent) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var sessionID interface{}
	if ev.SessionID != "" {
		sessionID = ev.SessionID
	}
	var errText interface{}
	if ev.Error != "" {
		errText = ev.Error
	}
	now := ev.Started.Add(ev.Duration).UnixNano()

	if ev.SessionID != "" && ev.Error == "" {
		if _, err := tx.Exec(`
			INSERT INTO sessions (session_id, created_unix_nanos, updated_unix_nanos, last_stage)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				updated_unix_nanos = excluded.updated_unix_nanos,
				last_stage = excluded.last_stage`,
			ev.SessionID, ev.Started.UnixNano(), now, int(ev.Stage),
		); err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO stage_events (session_id, stage, started_unix_nanos, duration_ms, items, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, int(ev.Stage), ev.Started.UnixNano(),
		float64(ev.Duration)/float64(time.Millisecond), ev.Items, errText,
	); err != nil {
		return fmt.Errorf("failed to insert stage event: %w", err)
	}
	return tx.Commit()
}

// RecordExport stores an export's download reference.
func (db *DB) RecordExport(sessionID string, format model.ExportFormat, ref string, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO exports (session_id, format, download_ref, exported_unix_nanos)
		VALUES (?, ?, ?, ?)`,
		sessionID, string(format), ref, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert export: %w", err)
	}
	return nil
}

// RecordDownload notes where an export was saved locally.
func (db *DB) RecordDownload(ref, localPath string) error {
	res, err := db.Exec(`UPDATE exports SET local_path = ? WHERE download_ref = ?`, localPath, ref)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no export with reference %q", ref)
	}
	return nil
}

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	SessionID string      `json:"sessionId"`
	Created   time.Time   `json:"created"`
	Updated   time.Time   `json:"updated"`
	LastStage model.Stage `json:"lastStage"`
	Exports   int         `json:"exports"`
}

// RecentSessions returns up to limit sessions, most recently active first.
func (db *DB) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.created_unix_nanos, s.updated_unix_nanos, s.last_stage,
			(SELECT COUNT(*) FROM exports e WHERE e.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.updated_unix_nanos DESC, s.session_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r                SessionRecord
			created, updated int64
			stage            int
		)
		if err := rows.Scan(&r.SessionID, &created, &updated, &stage, &r.Exports); err != nil {
			return nil, err
		}
		r.Created = time.Unix(0, created).UTC()
		r.Updated = time.Unix(0, updated).UTC()
		r.LastStage = model.Stage(stage)
		out = append(out, r)
	}
	return out, rows.Err()
}

// StageTiming summarises all recorded calls of one stage. MeanMs and MaxMs
// cover successful calls only.
type StageTiming struct {
	Stage    model.Stage `json:"stage"`
	Calls    int         `json:"calls"`
	Failures int         `json:"failures"`
	MeanMs   float64     `json:"meanMs"`
	MaxMs    float64     `json:"maxMs"`
}

// StageTimings returns per-stage call statistics in stage order.
func (db *DB) StageTimings() ([]StageTiming, error) {
	rows, err := db.Query(`
		SELECT stage,
			COUNT(*),
			SUM(CASE WHEN error IS NULL THEN 0 ELSE 1 END),
			AVG(CASE WHEN error IS NULL THEN duration_ms END),
			MAX(CASE WHEN error IS NULL THEN duration_ms END)
		FROM stage_events
		GROUP BY stage
		ORDER BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StageTiming
	for rows.Next() {
		var (
			t             StageTiming
			stage         int
			meanMs, maxMs sql.NullFloat64
		)
		if err := rows.Scan(&stage, &t.Calls, &t.Failures, &meanMs, &maxMs); err != nil {
			return nil, err
		}
		t.Stage = model.Stage(stage)
		t.MeanMs = meanMs.Float64
		t.MaxMs = maxMs.Float64
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneSessions deletes sessions last active before cutoff, with their
// events and exports, plus older events whose session was never recorded. It
// returns the number of sessions removed.
func (db *DB) PruneSessions(cutoff time.Time) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	c := cutoff.UnixNano()
	const stale = `SELECT session_id FROM sessions WHERE updated_unix_nanos < ?`
	if _, err := tx.Exec(`DELETE FROM exports WHERE session_id IN (`+stale+`)`, c); err != nil {
		return 0, fmt.Errorf("failed to prune exports: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM stage_events WHERE session_id IN (`+stale+`)
		OR (started_unix_nanos < ? AND (session_id IS NULL
			OR session_id NOT IN (SELECT session_id FROM sessions)))`, c, c); err != nil {
		return 0, fmt.Errorf("failed to prune stage events: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE updated_unix_nanos < ?`, c)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		logf("pruned %d sessions last active before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

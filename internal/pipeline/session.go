// Package pipeline drives a session through the four processing stages:
// upload and reconstruction, voxelization, block mapping and export. It
// owns the session id and state, calls the processing service, and hands
// each stage's output to the display.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/blockview/internal/atlas"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/remote"
	"github.com/banshee-data/blockview/internal/scene"
	"github.com/banshee-data/blockview/internal/timeutil"
)

// Remote is the processing service. *remote.Client implements it.
type Remote interface {
	Reconstruct(ctx context.Context, image []byte, opts model.ReconstructOptions) (model.ReconstructionResult, error)
	Voxelize(ctx context.Context, sessionID string, p model.VoxelizeParams) (model.VoxelGrid, error)
	MapBlocks(ctx context.Context, sessionID string) (model.BlockList, error)
	Export(ctx context.Context, sessionID string, format model.ExportFormat) (string, error)
}

// Display turns stage output into scene roots and shows them.
// *visualiser.Visualiser implements it.
type Display interface {
	RenderMesh(ctx context.Context, meshRef, textureRef string) (*scene.Root, error)
	RenderVoxels(grid model.VoxelGrid) *scene.Root
	RenderBlocks(blocks model.BlockList) (*scene.Root, error)
	Show(root *scene.Root)
	ClearAll()
	Discard(root *scene.Root)
}

// Config holds the optional collaborators of a Session.
type Config struct {
	Notifier Notifier
	Journal  Journal
	Clock    timeutil.Clock
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State     string `json:"state"`
	Stage     string `json:"stage"`
	SessionID string `json:"sessionId,omitempty"`
	Busy      bool   `json:"busy"`
}

// Session is the pipeline state machine. All methods are safe for
// concurrent use, but only one stage call runs at a time; overlapping calls
// fail with ErrOperationInProgress.
type Session struct {
	remote  Remote
	display Display
	notify  Notifier
	journal Journal
	clock   timeutil.Clock

	mu        sync.Mutex
	state     model.State
	sessionID string
	busy      bool
	// gen changes on every Reset; calls started under an older generation
	// discard their results.
	gen uint64
}

// New returns an idle session.
func New(r Remote, d Display, cfg Config) *Session {
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{}
	}
	if cfg.Journal == nil {
		cfg.Journal = nopJournal{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Session{
		remote:  r,
		display: d,
		notify:  cfg.Notifier,
		journal: cfg.Journal,
		clock:   cfg.Clock,
	}
}

// State returns the current state.
func (s *Session) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stage returns the stage the user is on.
func (s *Session) Stage() model.Stage {
	return s.State().Stage()
}

// SessionID returns the live session id, or "" when idle.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Busy reports whether a stage call is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Snapshot returns the state, stage, session id and busy flag together.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state.String(),
		Stage:     s.state.Stage().String(),
		SessionID: s.sessionID,
		Busy:      s.busy,
	}
}

// call is the bookkeeping for one in-flight stage call.
type call struct {
	stage     model.Stage
	gen       uint64
	sessionID string
	started   time.Time
}

// begin checks the call's preconditions and marks the session busy.
// Reconstruction runs from Idle; every other stage needs a session in one
// of the allowed states.
func (s *Session) begin(stage model.Stage, allowed ...model.State) (*call, error) {
	s.mu.Lock()
	err := s.checkLocked(stage, allowed)
	if err == nil {
		s.busy = true
	}
	c := &call{stage: stage, gen: s.gen, sessionID: s.sessionID, started: s.clock.Now()}
	s.mu.Unlock()

	if err != nil {
		return nil, s.fail(stage, err)
	}
	s.notify.BusyChanged(true)
	return c, nil
}

func (s *Session) checkLocked(stage model.Stage, allowed []model.State) error {
	if s.busy {
		return ErrOperationInProgress
	}
	if stage != model.StageUpload && s.sessionID == "" {
		return ErrNoActiveSession
	}
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	// Out-of-order calls match ErrNoActiveSession too.
	return fmt.Errorf("%w: %w: %s from state %s", ErrInvalidStage, ErrNoActiveSession, stage, s.state)
}

// end clears the busy flag unless a Reset already did.
func (s *Session) end(c *call) {
	s.mu.Lock()
	current := c.gen == s.gen
	if current {
		s.busy = false
	}
	s.mu.Unlock()
	if current {
		s.notify.BusyChanged(false)
	}
}

func (s *Session) fail(stage model.Stage, err error) error {
	se := &StageError{Stage: stage, Err: err}
	s.notify.Error(se)
	return se
}

// discard is the error of a call that Reset overtook. Nothing is notified
// or journalled for it.
func (s *Session) discard(c *call) error {
	return &StageError{Stage: c.stage, Err: ErrStaleResponse}
}

// failCall reports a failed call, or discards it when it is stale.
func (s *Session) failCall(c *call, sessionID string, err error) error {
	if s.stale(c) {
		return s.discard(c)
	}
	s.record(c, sessionID, 0, err)
	return s.fail(c.stage, err)
}

func (s *Session) stale(c *call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.gen != s.gen
}

// commit applies a successful call: the new state and session id, and the
// root to show if there is one. A call overtaken by Reset changes nothing
// and releases its root.
func (s *Session) commit(c *call, next model.State, sessionID string, root *scene.Root) error {
	s.mu.Lock()
	if c.gen != s.gen {
		s.mu.Unlock()
		if root != nil {
			s.display.Discard(root)
		}
		return ErrStaleResponse
	}
	s.state = next
	s.sessionID = sessionID
	if root != nil {
		// Shown under the lock so a concurrent Reset cannot clear the
		// scene before this root is mounted.
		s.display.Show(root)
	}
	s.mu.Unlock()

	s.notify.StageChanged(next, next.Stage())
	return nil
}

func (s *Session) record(c *call, sessionID string, items int, err error) {
	ev := StageEvent{
		SessionID: sessionID,
		Stage:     c.stage,
		Started:   c.started,
		Duration:  s.clock.Since(c.started),
		Items:     items,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if jerr := s.journal.RecordStage(ev); jerr != nil {
		logf("journal %s event: %v", c.stage, jerr)
	}
}

// StartReconstruction uploads an image, shows the reconstructed mesh and
// moves to Uploaded. It requires the Idle state.
func (s *Session) StartReconstruction(ctx context.Context, image []byte, opts model.ReconstructOptions) (model.ReconstructionResult, error) {
	c, err := s.begin(model.StageUpload, model.StateIdle)
	if err != nil {
		return model.ReconstructionResult{}, err
	}
	defer s.end(c)

	res, err := s.remote.Reconstruct(ctx, image, opts)
	if err != nil {
		return model.ReconstructionResult{}, s.failCall(c, "", err)
	}
	if s.stale(c) {
		return model.ReconstructionResult{}, s.discard(c)
	}

	root, err := s.display.RenderMesh(ctx, res.MeshRef, res.TextureRef)
	if err != nil {
		return model.ReconstructionResult{}, s.failCall(c, res.SessionID, fmt.Errorf("render mesh: %w", err))
	}
	if err := s.commit(c, model.StateUploaded, res.SessionID, root); err != nil {
		return model.ReconstructionResult{}, s.discard(c)
	}
	s.record(c, res.SessionID, 0, nil)
	logf("session %s reconstructed", res.SessionID)
	return res, nil
}

// Voxelize converts the session's model into a voxel grid, shows it and
// moves to Voxelized. It requires the Uploaded state.
func (s *Session) Voxelize(ctx context.Context, p model.VoxelizeParams) (model.VoxelGrid, error) {
	c, err := s.begin(model.StageVoxelize, model.StateUploaded)
	if err != nil {
		return nil, err
	}
	defer s.end(c)
	if p.MaxBlocks <= 0 {
		return nil, s.fail(c.stage, fmt.Errorf("%w: maxBlocks must be positive, got %d", remote.ErrInvalidInput, p.MaxBlocks))
	}

	grid, err := s.remote.Voxelize(ctx, c.sessionID, p)
	if err != nil {
		return nil, s.failCall(c, c.sessionID, err)
	}
	if s.stale(c) {
		return nil, s.discard(c)
	}
	root := s.display.RenderVoxels(grid)
	if err := s.commit(c, model.StateVoxelized, c.sessionID, root); err != nil {
		return nil, s.discard(c)
	}
	s.record(c, c.sessionID, len(grid), nil)
	return grid, nil
}

// MapBlocks maps the voxels to blocks, shows them and moves to Mapped. It
// requires the Voxelized state. When the block atlas is not loaded the
// state still advances and the blocks are returned, but nothing new is
// shown and an error is sent to the notifier.
func (s *Session) MapBlocks(ctx context.Context) (model.BlockList, error) {
	c, err := s.begin(model.StageMapBlocks, model.StateVoxelized)
	if err != nil {
		return nil, err
	}
	defer s.end(c)

	blocks, err := s.remote.MapBlocks(ctx, c.sessionID)
	if err != nil {
		return nil, s.failCall(c, c.sessionID, err)
	}
	if s.stale(c) {
		return nil, s.discard(c)
	}

	root, renderErr := s.display.RenderBlocks(blocks)
	if renderErr != nil && !errors.Is(renderErr, atlas.ErrAtlasNotReady) {
		return nil, s.failCall(c, c.sessionID, fmt.Errorf("render blocks: %w", renderErr))
	}
	if err := s.commit(c, model.StateMapped, c.sessionID, root); err != nil {
		return nil, s.discard(c)
	}
	if renderErr != nil {
		s.fail(c.stage, renderErr)
	}
	s.record(c, c.sessionID, len(blocks), nil)
	return blocks, nil
}

// ExportAs asks the service for a schematic in format and returns its
// download reference. It runs from Mapped or Exported, so exports can be
// repeated in either format.
func (s *Session) ExportAs(ctx context.Context, format model.ExportFormat) (string, error) {
	if _, err := model.ParseExportFormat(string(format)); err != nil {
		return "", s.fail(model.StageExport, fmt.Errorf("%w: %v", remote.ErrInvalidInput, err))
	}
	c, err := s.begin(model.StageExport, model.StateMapped, model.StateExported)
	if err != nil {
		return "", err
	}
	defer s.end(c)

	ref, err := s.remote.Export(ctx, c.sessionID, format)
	if err != nil {
		return "", s.failCall(c, c.sessionID, err)
	}
	if err := s.commit(c, model.StateExported, c.sessionID, nil); err != nil {
		return "", s.discard(c)
	}
	s.record(c, c.sessionID, 1, nil)
	if jerr := s.journal.RecordExport(c.sessionID, format, ref, s.clock.Now()); jerr != nil {
		logf("journal export: %v", jerr)
	}
	return ref, nil
}

// Reset returns to Idle, forgets the session and clears the display. Calls
// still in flight discard their results when they complete.
func (s *Session) Reset() {
	s.mu.Lock()
	wasBusy := s.busy
	prev := s.sessionID
	s.gen++
	s.state = model.StateIdle
	s.sessionID = ""
	s.busy = false
	s.display.ClearAll()
	s.mu.Unlock()

	if prev != "" {
		logf("session %s reset", prev)
	}
	if wasBusy {
		s.notify.BusyChanged(false)
	}
	s.notify.StageChanged(model.StateIdle, model.StageUpload)
}

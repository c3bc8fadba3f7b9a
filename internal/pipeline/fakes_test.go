package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/scene"
)

// fakeRemote answers every call with canned results. A non-nil gate makes
// calls block until it is closed, to hold an operation in flight.
type fakeRemote struct {
	mu        sync.Mutex
	gate      chan struct{}
	entered   chan string
	err       error
	calls     []string
	sessionID string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sessionID: "sess-1", entered: make(chan string, 64)}
}

func (f *fakeRemote) wait(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	gate, err := f.gate, f.err
	f.mu.Unlock()
	f.entered <- name
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeRemote) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeRemote) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRemote) Reconstruct(ctx context.Context, image []byte, opts model.ReconstructOptions) (model.ReconstructionResult, error) {
	if err := f.wait(ctx, "reconstruct"); err != nil {
		return model.ReconstructionResult{}, err
	}
	return model.ReconstructionResult{
		SessionID:  f.sessionID,
		MeshRef:    "http://svc/temp/" + f.sessionID + "/model.obj",
		TextureRef: "http://svc/temp/" + f.sessionID + "/baked_texture.png",
	}, nil
}

func (f *fakeRemote) Voxelize(ctx context.Context, sessionID string, p model.VoxelizeParams) (model.VoxelGrid, error) {
	if err := f.wait(ctx, "voxelize:"+sessionID); err != nil {
		return nil, err
	}
	return model.VoxelGrid{{X: 0}: {R: 255}, {X: 1}: {G: 255}}, nil
}

func (f *fakeRemote) MapBlocks(ctx context.Context, sessionID string) (model.BlockList, error) {
	if err := f.wait(ctx, "map-blocks:"+sessionID); err != nil {
		return nil, err
	}
	return model.BlockList{
		{Name: "minecraft:stone", Position: model.BlockPos{}},
		{Name: "minecraft:dirt", Position: model.BlockPos{X: 1}},
	}, nil
}

func (f *fakeRemote) Export(ctx context.Context, sessionID string, format model.ExportFormat) (string, error) {
	if err := f.wait(ctx, "export:"+sessionID); err != nil {
		return "", err
	}
	return "http://svc/temp/" + sessionID + "/output." + string(format), nil
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeDisplay builds empty roots and records what is shown and released.
type fakeDisplay struct {
	mu        sync.Mutex
	meshErr   error
	blocksErr error
	shown     []*scene.Root
	discarded []*scene.Root
	clears    int
	current   *scene.Root
}

func (d *fakeDisplay) root(kind scene.RootKind) *scene.Root {
	return scene.NewRoot(kind, scene.NewGroup(string(kind)))
}

func (d *fakeDisplay) RenderMesh(ctx context.Context, meshRef, textureRef string) (*scene.Root, error) {
	if d.meshErr != nil {
		return nil, d.meshErr
	}
	return d.root(scene.RootMesh), nil
}

func (d *fakeDisplay) RenderVoxels(grid model.VoxelGrid) *scene.Root {
	return d.root(scene.RootVoxels)
}

func (d *fakeDisplay) RenderBlocks(blocks model.BlockList) (*scene.Root, error) {
	if d.blocksErr != nil {
		return nil, d.blocksErr
	}
	return d.root(scene.RootBlocks), nil
}

func (d *fakeDisplay) Show(root *scene.Root) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, root)
	d.current = root
}

func (d *fakeDisplay) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clears++
	d.current = nil
}

func (d *fakeDisplay) Discard(root *scene.Root) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discarded = append(d.discarded, root)
}

func (d *fakeDisplay) Current() *scene.Root {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// recordingNotifier keeps every notification in order.
type recordingNotifier struct {
	mu     sync.Mutex
	states []model.State
	errors []*StageError
	busy   []bool
}

func (n *recordingNotifier) StageChanged(state model.State, stage model.Stage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
}

func (n *recordingNotifier) Error(err *StageError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, err)
}

func (n *recordingNotifier) BusyChanged(busy bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.busy = append(n.busy, busy)
}

func (n *recordingNotifier) Errors() []*StageError {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*StageError(nil), n.errors...)
}

func (n *recordingNotifier) Busy() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.busy...)
}

func (n *recordingNotifier) States() []model.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.State(nil), n.states...)
}

type exportRecord struct {
	sessionID string
	format    model.ExportFormat
	ref       string
}

type memJournal struct {
	mu      sync.Mutex
	events  []StageEvent
	exports []exportRecord
}

func (j *memJournal) RecordStage(ev StageEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memJournal) Events() []StageEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]StageEvent(nil), j.events...)
}

func (j *memJournal) RecordExport(sessionID string, format model.ExportFormat, ref string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.exports = append(j.exports, exportRecord{sessionID, format, ref})
	return nil
}

package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blockview/internal/timeutil"
)

type fakeRenderer struct {
	mu       sync.Mutex
	frames   []Frame
	sizes    [][2]int
	released map[string]ResourceKind
	err      error
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{released: make(map[string]ResourceKind)}
}

func (f *fakeRenderer) Render(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	if f.err != nil {
		return f.err
	}
	if fr.Root == nil {
		return nil
	}
	var stale error
	fr.Root.Group.Walk(func(o Object) {
		if m, ok := o.(*Mesh); ok {
			if _, gone := f.released[m.Geometry.ID()]; gone {
				stale = fmt.Errorf("frame %d draws released geometry", fr.Seq)
			}
		}
	})
	return stale
}

func (f *fakeRenderer) Resize(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, [2]int{w, h})
}

func (f *fakeRenderer) Release(r Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.released[r.ID()]; dup {
		panic("double release of " + r.ID())
	}
	f.released[r.ID()] = r.Kind()
}

func (f *fakeRenderer) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newCubeRoot() *Root {
	g, _ := twoCubeGroup()
	Recenter(g)
	return NewRoot(RootVoxels, g)
}

func TestSurface_MountReleasesPrevious(t *testing.T) {
	r := newFakeRenderer()
	s := NewSurface(r, DefaultConfig())

	first := newCubeRoot()
	s.Mount(first)
	assert.Same(t, first, s.Current())
	assert.Empty(t, r.released)

	s.Mount(first)
	assert.Empty(t, r.released, "remounting the same root must not release it")

	second := newCubeRoot()
	s.Mount(second)
	assert.Same(t, second, s.Current())
	assert.Len(t, r.released, 3, "one geometry and two materials")

	s.Clear()
	assert.Nil(t, s.Current())
	assert.Len(t, r.released, 6)
	assert.Equal(t, uint64(6), s.Stats().Released)
}

func TestSurface_Remove(t *testing.T) {
	r := newFakeRenderer()
	s := NewSurface(r, DefaultConfig())
	root := newCubeRoot()
	other := newCubeRoot()

	s.Mount(root)
	assert.False(t, s.Remove(other))
	assert.Same(t, root, s.Current())

	assert.True(t, s.Remove(root))
	assert.Nil(t, s.Current())
	assert.Len(t, r.released, 3)

	s.Dispose(other)
	assert.Len(t, r.released, 6)
}

func TestSurface_ResizeBeforeCamera(t *testing.T) {
	r := newFakeRenderer()
	s := NewSurface(r, DefaultConfig())

	s.Resize(800, 600)
	assert.Empty(t, r.sizes)

	require.NoError(t, s.RenderFrame())
	f := r.frames[0]
	assert.Nil(t, f.Camera)
	assert.Nil(t, f.Root)
	assert.Equal(t, DefaultEnvironment(), f.Environment)

	s.InitCamera(1280, 720)
	s.Resize(640, 0)
	assert.Equal(t, [][2]int{{1280, 720}}, r.sizes)

	s.Resize(600, 300)
	require.NoError(t, s.RenderFrame())
	f = r.frames[1]
	require.NotNil(t, f.Camera)
	assert.InDelta(t, 2.0, f.Camera.Aspect, 1e-6)
	assert.Equal(t, 600, f.Width)
	assert.Equal(t, uint64(2), f.Seq)
}

func TestSurface_ContinuousRender(t *testing.T) {
	r := newFakeRenderer()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.Clock = clock
	s := NewSurface(r, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ContinuousRender(ctx) }()

	require.Eventually(t, func() bool { return clock.TickerCount() == 1 }, time.Second, time.Millisecond)

	// Frames are drawn with nothing mounted, then with a root.
	clock.Advance(cfg.FrameInterval)
	require.Eventually(t, func() bool { return r.frameCount() == 1 }, time.Second, time.Millisecond)
	s.Mount(newCubeRoot())
	clock.Advance(cfg.FrameInterval)
	require.Eventually(t, func() bool { return r.frameCount() == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSurface_RenderErrorsCounted(t *testing.T) {
	r := newFakeRenderer()
	r.err = errors.New("device lost")
	s := NewSurface(r, DefaultConfig())

	assert.Error(t, s.RenderFrame())
	assert.Equal(t, uint64(1), s.Stats().RenderErrors)
}

func TestSurface_SwapIsAtomicForRenderLoop(t *testing.T) {
	r := newFakeRenderer()
	s := NewSurface(r, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if err := s.RenderFrame(); err != nil {
				t.Errorf("render: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		s.Mount(newCubeRoot())
	}
	cancel()
	wg.Wait()
	s.Clear()
	assert.Len(t, r.released, 600)
}

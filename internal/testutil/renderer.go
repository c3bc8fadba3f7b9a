package testutil

import (
	"fmt"
	"sync"

	"github.com/banshee-data/blockview/internal/scene"
)

// RecordingRenderer is a scene.Renderer that records calls. Render fails if
// the frame references a resource that was already released.
type RecordingRenderer struct {
	mu       sync.Mutex
	Frames   []scene.Frame
	Sizes    [][2]int
	Released []scene.Resource
	released map[string]bool
	// RenderErr, when set, is returned by every Render call.
	RenderErr error
}

// NewRecordingRenderer returns an empty recorder.
func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{released: make(map[string]bool)}
}

func (r *RecordingRenderer) Render(f scene.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Frames = append(r.Frames, f)
	if r.RenderErr != nil {
		return r.RenderErr
	}
	if f.Root == nil {
		return nil
	}
	var stale error
	f.Root.Group.Walk(func(o scene.Object) {
		var g *scene.Geometry
		var m *scene.Material
		switch v := o.(type) {
		case *scene.Mesh:
			g, m = v.Geometry, v.Material
		case *scene.InstancedMesh:
			g, m = v.Geometry, v.Material
		default:
			return
		}
		for _, id := range []string{g.ID(), m.ID()} {
			if r.released[id] && stale == nil {
				stale = fmt.Errorf("frame %d uses released resource %s", f.Seq, id)
			}
		}
	})
	return stale
}

func (r *RecordingRenderer) Resize(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sizes = append(r.Sizes, [2]int{w, h})
}

func (r *RecordingRenderer) Release(res scene.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released[res.ID()] {
		panic(fmt.Sprintf("resource %s released twice", res.ID()))
	}
	r.released[res.ID()] = true
	r.Released = append(r.Released, res)
}

// FrameCount returns the number of Render calls.
func (r *RecordingRenderer) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Frames)
}

// ReleasedCount returns how many resources of kind were released.
func (r *RecordingRenderer) ReleasedCount(kind scene.ResourceKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.Released {
		if res.Kind() == kind {
			n++
		}
	}
	return n
}

// LastFrame returns the most recent frame.
func (r *RecordingRenderer) LastFrame() (scene.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Frames) == 0 {
		return scene.Frame{}, false
	}
	return r.Frames[len(r.Frames)-1], true
}

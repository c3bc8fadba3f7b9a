package scene

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/blockview/internal/monitoring"
	"github.com/banshee-data/blockview/internal/timeutil"
)

var logf = monitoring.Component("Scene")

// Renderer is the render backend capability set the Surface drives.
type Renderer interface {
	// Render draws one frame. The frame's root is not modified or released
	// while Render runs.
	Render(f Frame) error
	// Resize changes the output size.
	Resize(width, height int)
	// Release frees a resource the renderer may have uploaded. It is called
	// exactly once per resource, after the last frame that could use it.
	Release(r Resource)
}

// Environment is the static part of the scene: background, lights and the
// floor grid.
type Environment struct {
	Background           mgl32.Vec3
	AmbientColor         mgl32.Vec3
	AmbientIntensity     float32
	DirectionalColor     mgl32.Vec3
	DirectionalIntensity float32
	DirectionalPosition  mgl32.Vec3
	GridSize             float32
	GridDivisions        int
}

// DefaultEnvironment is the viewer's light grey backdrop with soft ambient
// light, one directional light and a 10x10 grid.
func DefaultEnvironment() Environment {
	return Environment{
		Background:           mgl32.Vec3{0xf0 / 255.0, 0xf4 / 255.0, 0xf8 / 255.0},
		AmbientColor:         White,
		AmbientIntensity:     0.7,
		DirectionalColor:     White,
		DirectionalIntensity: 0.8,
		DirectionalPosition:  mgl32.Vec3{5, 10, 7},
		GridSize:             10,
		GridDivisions:        10,
	}
}

// Frame is everything a Renderer needs for one draw.
type Frame struct {
	Seq         uint64
	Time        time.Time
	Width       int
	Height      int
	Camera      *CameraState // nil before InitCamera
	Environment Environment
	Root        *Root // nil when nothing is displayed
}

// Config configures a Surface.
type Config struct {
	FrameInterval time.Duration
	Environment   Environment
	Clock         timeutil.Clock
}

// DefaultConfig renders at 60 frames per second on the real clock.
func DefaultConfig() Config {
	return Config{
		FrameInterval: time.Second / 60,
		Environment:   DefaultEnvironment(),
		Clock:         timeutil.RealClock{},
	}
}

// Surface owns the render target: the camera, the viewport and the one
// displayed Root.
type Surface struct {
	renderer Renderer
	config   Config

	// rootMu is held for reading for the duration of each frame; swapping
	// the root takes the write lock so a frame sees either root, never a mix.
	rootMu sync.RWMutex
	root   *Root

	camMu  sync.Mutex
	camera *Camera
	width  int
	height int

	frames      atomic.Uint64
	renderErrs  atomic.Uint64
	releases    atomic.Uint64
	lastErrLogN atomic.Uint64
}

// NewSurface creates a Surface drawing through r.
func NewSurface(r Renderer, cfg Config) *Surface {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = time.Second / 60
	}
	return &Surface{renderer: r, config: cfg}
}

// Mount displays root in place of the current root, then releases the
// resources of the root it replaced. Mounting the current root is a no-op.
func (s *Surface) Mount(root *Root) {
	s.rootMu.Lock()
	old := s.root
	if old == root {
		s.rootMu.Unlock()
		return
	}
	s.root = root
	s.rootMu.Unlock()

	if root != nil {
		logf("mounted %s root %s", root.Kind, root.ID)
	}
	if old != nil {
		s.Dispose(old)
	}
}

// Clear removes the displayed root and releases it.
func (s *Surface) Clear() {
	s.Mount(nil)
}

// Remove detaches root if it is the one displayed and releases it. It
// reports whether root was displayed.
func (s *Surface) Remove(root *Root) bool {
	s.rootMu.Lock()
	if root == nil || s.root != root {
		s.rootMu.Unlock()
		return false
	}
	s.root = nil
	s.rootMu.Unlock()

	s.Dispose(root)
	return true
}

// Dispose releases root's resources through the renderer. Use it for roots
// that were built but never mounted; mounted roots are released by Mount,
// Clear and Remove.
func (s *Surface) Dispose(root *Root) {
	freed := root.Dispose()
	for _, r := range freed {
		s.renderer.Release(r)
	}
	s.releases.Add(uint64(len(freed)))
	if len(freed) > 0 {
		logf("released %s root %s: %d resources", root.Kind, root.ID, len(freed))
	}
}

// Current returns the displayed root, or nil.
func (s *Surface) Current() *Root {
	s.rootMu.RLock()
	defer s.rootMu.RUnlock()
	return s.root
}

// InitCamera creates the perspective camera for a width x height viewport.
func (s *Surface) InitCamera(width, height int) {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	s.camMu.Lock()
	s.camera = NewPerspectiveCamera(DefaultFOV, aspect, DefaultNear, DefaultFar)
	s.width, s.height = width, height
	s.camMu.Unlock()

	s.renderer.Resize(width, height)
}

// Resize updates the aspect ratio and projection. It does nothing before
// InitCamera or for a zero height.
func (s *Surface) Resize(width, height int) {
	s.camMu.Lock()
	if s.camera == nil || height <= 0 || width <= 0 {
		s.camMu.Unlock()
		return
	}
	s.camera.Aspect = float32(width) / float32(height)
	s.camera.UpdateProjection()
	s.width, s.height = width, height
	s.camMu.Unlock()

	s.renderer.Resize(width, height)
}

// Viewport returns the current viewport size.
func (s *Surface) Viewport() (width, height int) {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	return s.width, s.height
}

// RenderFrame draws the displayed root once.
func (s *Surface) RenderFrame() error {
	s.camMu.Lock()
	var cam *CameraState
	if s.camera != nil {
		cam = s.camera.state()
	}
	w, h := s.width, s.height
	s.camMu.Unlock()

	s.rootMu.RLock()
	defer s.rootMu.RUnlock()

	f := Frame{
		Seq:         s.frames.Add(1),
		Time:        s.config.Clock.Now(),
		Width:       w,
		Height:      h,
		Camera:      cam,
		Environment: s.config.Environment,
		Root:        s.root,
	}
	if err := s.renderer.Render(f); err != nil {
		s.renderErrs.Add(1)
		return err
	}
	return nil
}

// ContinuousRender draws a frame on every tick until ctx is done,
// whatever is or is not displayed. Render errors are logged and the loop
// carries on.
func (s *Surface) ContinuousRender(ctx context.Context) error {
	ticker := s.config.Clock.NewTicker(s.config.FrameInterval)
	defer ticker.Stop()

	logf("render loop started (interval %v)", s.config.FrameInterval)
	for {
		select {
		case <-ctx.Done():
			logf("render loop stopped after %d frames", s.frames.Load())
			return ctx.Err()
		case <-ticker.C():
			if err := s.RenderFrame(); err != nil {
				n := s.renderErrs.Load()
				// Log the first error and then one in every hundred.
				if n == 1 || n-s.lastErrLogN.Load() >= 100 {
					s.lastErrLogN.Store(n)
					logf("render error (%d total): %v", n, err)
				}
			}
		}
	}
}

// SurfaceStats reports render counters.
type SurfaceStats struct {
	Frames       uint64   `json:"frames"`
	RenderErrors uint64   `json:"renderErrors"`
	Released     uint64   `json:"released"`
	RootID       string   `json:"rootId,omitempty"`
	RootKind     RootKind `json:"rootKind,omitempty"`
}

// Stats returns the current counters.
func (s *Surface) Stats() SurfaceStats {
	st := SurfaceStats{
		Frames:       s.frames.Load(),
		RenderErrors: s.renderErrs.Load(),
		Released:     s.releases.Load(),
	}
	if r := s.Current(); r != nil {
		st.RootID = r.ID
		st.RootKind = r.Kind
	}
	return st
}

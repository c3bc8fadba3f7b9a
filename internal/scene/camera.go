package scene

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Camera defaults of the viewer.
const (
	DefaultFOV  = 50 // degrees
	DefaultNear = 0.1
	DefaultFar  = 1000
)

// DefaultEye is where the camera starts, looking at the origin.
var DefaultEye = mgl32.Vec3{0, 1, 3}

// Camera is a perspective camera.
type Camera struct {
	FOV    float32 // vertical, degrees
	Aspect float32
	Near   float32
	Far    float32
	Eye    mgl32.Vec3
	Target mgl32.Vec3
	Up     mgl32.Vec3

	projection mgl32.Mat4
}

// NewPerspectiveCamera creates a camera at DefaultEye looking at the origin.
func NewPerspectiveCamera(fov, aspect, near, far float32) *Camera {
	c := &Camera{
		FOV:    fov,
		Aspect: aspect,
		Near:   near,
		Far:    far,
		Eye:    DefaultEye,
		Up:     mgl32.Vec3{0, 1, 0},
	}
	c.UpdateProjection()
	return c
}

// UpdateProjection recomputes the projection matrix after a field change.
func (c *Camera) UpdateProjection() {
	c.projection = mgl32.Perspective(mgl32.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
}

// Projection returns the current projection matrix.
func (c *Camera) Projection() mgl32.Mat4 { return c.projection }

// View returns the world-to-camera matrix.
func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Eye, c.Target, c.Up)
}

// CameraState is the camera as seen by a single frame.
type CameraState struct {
	Eye        mgl32.Vec3
	Target     mgl32.Vec3
	FOV        float32
	Aspect     float32
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

func (c *Camera) state() *CameraState {
	return &CameraState{
		Eye:        c.Eye,
		Target:     c.Target,
		FOV:        c.FOV,
		Aspect:     c.Aspect,
		View:       c.View(),
		Projection: c.projection,
	}
}

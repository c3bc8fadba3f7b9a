package viewer

import (
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/blockview/internal/scene"
)

// SceneSnapshot is one rendered frame as sent to viewers. Full snapshots
// carry the environment and every batch; the frames between them only
// carry the header and camera.
type SceneSnapshot struct {
	Seq         uint64               `json:"seq"`
	TimeMillis  int64                `json:"timeMillis"`
	Full        bool                 `json:"full"`
	Width       int                  `json:"width"`
	Height      int                  `json:"height"`
	RootID      string               `json:"rootId,omitempty"`
	RootKind    string               `json:"rootKind,omitempty"`
	Camera      *CameraSnapshot      `json:"camera,omitempty"`
	Environment *EnvironmentSnapshot `json:"environment,omitempty"`
	Batches     []BatchSnapshot      `json:"batches,omitempty"`
}

type CameraSnapshot struct {
	Eye    [3]float32 `json:"eye"`
	Target [3]float32 `json:"target"`
	FOV    float32    `json:"fov"`
	Aspect float32    `json:"aspect"`
}

type EnvironmentSnapshot struct {
	Background    string     `json:"background"`
	Ambient       float32    `json:"ambient"`
	Directional   float32    `json:"directional"`
	LightPosition [3]float32 `json:"lightPosition"`
	GridSize      float32    `json:"gridSize"`
	GridDivisions int        `json:"gridDivisions"`
}

// BatchSnapshot is one draw unit: a plain mesh, with a single position, or
// an instanced batch with one position per instance. Positions are in
// world space.
type BatchSnapshot struct {
	Name      string       `json:"name"`
	Kind      string       `json:"kind"`
	Color     string       `json:"color"`
	Textured  bool         `json:"textured"`
	UVOffset  [2]float32   `json:"uvOffset"`
	UVRepeat  [2]float32   `json:"uvRepeat"`
	Vertices  int          `json:"vertices"`
	Positions [][3]float32 `json:"positions"`
}

const (
	BatchMesh      = "mesh"
	BatchInstanced = "instanced"
)

// Instances is the number of copies the batch draws.
func (b BatchSnapshot) Instances() int { return len(b.Positions) }

func header(f scene.Frame) *SceneSnapshot {
	s := &SceneSnapshot{
		Seq:        f.Seq,
		TimeMillis: f.Time.UnixMilli(),
		Width:      f.Width,
		Height:     f.Height,
	}
	if f.Root != nil {
		s.RootID = f.Root.ID
		s.RootKind = string(f.Root.Kind)
	}
	if c := f.Camera; c != nil {
		s.Camera = &CameraSnapshot{Eye: c.Eye, Target: c.Target, FOV: c.FOV, Aspect: c.Aspect}
	}
	return s
}

// fullSnapshot flattens the frame's root into batches.
func fullSnapshot(f scene.Frame) *SceneSnapshot {
	s := header(f)
	s.Full = true
	env := f.Environment
	s.Environment = &EnvironmentSnapshot{
		Background:    hex(env.Background),
		Ambient:       env.AmbientIntensity,
		Directional:   env.DirectionalIntensity,
		LightPosition: env.DirectionalPosition,
		GridSize:      env.GridSize,
		GridDivisions: env.GridDivisions,
	}
	if f.Root == nil {
		return s
	}

	origin := mgl32.Vec3{
		float32(f.Root.Group.Position.X),
		float32(f.Root.Group.Position.Y),
		float32(f.Root.Group.Position.Z),
	}
	f.Root.Group.Walk(func(o scene.Object) {
		switch v := o.(type) {
		case *scene.Mesh:
			b := batch(v.Name, BatchMesh, v.Material, v.Geometry.VertexCount())
			p := origin.Add(mgl32.Vec3{float32(v.Position.X), float32(v.Position.Y), float32(v.Position.Z)})
			b.Positions = [][3]float32{p}
			s.Batches = append(s.Batches, b)
		case *scene.InstancedMesh:
			b := batch(v.Name, BatchInstanced, v.Material, v.Geometry.VertexCount())
			b.Positions = make([][3]float32, len(v.Matrices))
			for i, m := range v.Matrices {
				b.Positions[i] = origin.Add(m.Col(3).Vec3())
			}
			s.Batches = append(s.Batches, b)
		}
	})
	return s
}

func batch(name, kind string, m *scene.Material, vertices int) BatchSnapshot {
	b := BatchSnapshot{
		Name:     name,
		Kind:     kind,
		Color:    hex(m.Color),
		Vertices: vertices,
		UVRepeat: [2]float32{1, 1},
	}
	if m.Map != nil {
		b.Textured = true
		b.UVOffset = m.Map.Offset
		b.UVRepeat = m.Map.Repeat
	}
	return b
}

func hex(c mgl32.Vec3) string {
	ch := func(v float32) uint8 {
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 255
		}
		return uint8(v*255 + 0.5)
	}
	return fmt.Sprintf("#%02x%02x%02x", ch(c[0]), ch(c[1]), ch(c[2]))
}

// withoutGeometry returns a copy of s with the batches dropped.
func (s *SceneSnapshot) withoutGeometry() *SceneSnapshot {
	c := *s
	c.Batches = nil
	return &c
}

func (s *SceneSnapshot) toStruct() (*structpb.Struct, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return st, nil
}

func snapshotFromStruct(st *structpb.Struct) (*SceneSnapshot, error) {
	data, err := protojson.Marshal(st)
	if err != nil {
		return nil, err
	}
	var s SceneSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

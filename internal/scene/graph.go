package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// Object is a node of the scene graph.
type Object interface {
	// Bounds returns the node's box in its parent's space. ok is false for
	// nodes without geometry.
	Bounds() (box r3.Box, ok bool)
}

// Mesh draws one geometry with one material at Position.
type Mesh struct {
	Name     string
	Position r3.Vec
	Geometry *Geometry
	Material *Material
}

// NewMesh creates a mesh holding references on g and m.
func NewMesh(name string, g *Geometry, m *Material) *Mesh {
	g.retain()
	m.retain()
	return &Mesh{Name: name, Geometry: g, Material: m}
}

func (m *Mesh) Bounds() (r3.Box, bool) {
	if m.Geometry.VertexCount() == 0 {
		return r3.Box{}, false
	}
	return m.Geometry.Bounds().Add(m.Position), true
}

// InstancedMesh draws one geometry many times, once per matrix, in a single
// batch.
type InstancedMesh struct {
	Name     string
	Geometry *Geometry
	Material *Material
	Matrices []mgl32.Mat4
}

// NewInstancedMesh creates a batch holding references on g and m.
func NewInstancedMesh(name string, g *Geometry, m *Material, matrices []mgl32.Mat4) *InstancedMesh {
	g.retain()
	m.retain()
	return &InstancedMesh{Name: name, Geometry: g, Material: m, Matrices: matrices}
}

// Count is the number of instances.
func (im *InstancedMesh) Count() int { return len(im.Matrices) }

func (im *InstancedMesh) Bounds() (r3.Box, bool) {
	if im.Geometry.VertexCount() == 0 || len(im.Matrices) == 0 {
		return r3.Box{}, false
	}
	local := im.Geometry.Bounds()
	box := transformBox(local, im.Matrices[0])
	for _, m := range im.Matrices[1:] {
		box = union(box, transformBox(local, m))
	}
	return box, true
}

// Group positions a set of children.
type Group struct {
	Name     string
	Position r3.Vec
	Children []Object
}

// NewGroup returns an empty group at the origin.
func NewGroup(name string) *Group {
	return &Group{Name: name}
}

// Add appends children.
func (g *Group) Add(children ...Object) {
	g.Children = append(g.Children, children...)
}

// Bounds is the union of the children's boxes translated by Position.
func (g *Group) Bounds() (r3.Box, bool) {
	var (
		box r3.Box
		ok  bool
	)
	for _, c := range g.Children {
		cb, cok := c.Bounds()
		if !cok {
			continue
		}
		if !ok {
			box, ok = cb, true
			continue
		}
		box = union(box, cb)
	}
	if !ok {
		return r3.Box{}, false
	}
	return box.Add(g.Position), true
}

// Walk calls fn for g and every descendant, depth first.
func (g *Group) Walk(fn func(Object)) {
	fn(g)
	for _, c := range g.Children {
		if cg, ok := c.(*Group); ok {
			cg.Walk(fn)
			continue
		}
		fn(c)
	}
}

// Recenter moves g so the centre of its bounding box sits on the parent
// origin. It reports false and leaves g alone when g has no geometry.
func Recenter(g *Group) bool {
	box, ok := g.Bounds()
	if !ok {
		return false
	}
	g.Position = r3.Sub(g.Position, box.Center())
	return true
}

// RootKind says which stage output a root displays.
type RootKind string

const (
	RootMesh   RootKind = "mesh"
	RootVoxels RootKind = "voxels"
	RootBlocks RootKind = "blocks"
)

// Root is a complete displayable graph. It is built off-screen, mounted on
// a Surface as a whole and never edited while mounted.
type Root struct {
	ID    string
	Kind  RootKind
	Group *Group

	disposeOnce sync.Once
}

// NewRoot wraps g with a fresh ID.
func NewRoot(kind RootKind, g *Group) *Root {
	return &Root{ID: uuid.New().String(), Kind: kind, Group: g}
}

// Summary counts what a root draws.
type Summary struct {
	Meshes    int
	Batches   int
	Instances int
	Vertices  int
	// PerBatch maps batch name to instance count.
	PerBatch map[string]int
}

// Summarize walks the root.
func (r *Root) Summarize() Summary {
	s := Summary{PerBatch: make(map[string]int)}
	r.Group.Walk(func(o Object) {
		switch v := o.(type) {
		case *Mesh:
			s.Meshes++
			s.Vertices += v.Geometry.VertexCount()
		case *InstancedMesh:
			s.Batches++
			s.Instances += v.Count()
			s.Vertices += v.Geometry.VertexCount() * v.Count()
			s.PerBatch[v.Name] += v.Count()
		}
	})
	return s
}

// Dispose drops the root's references and returns the resources that are
// no longer held by anything. Only the first call has an effect.
func (r *Root) Dispose() []Resource {
	var freed []Resource
	r.disposeOnce.Do(func() {
		drop := func(g *Geometry, m *Material) {
			if g.drop() {
				freed = append(freed, g)
			}
			if m.drop() {
				freed = append(freed, m)
				if m.Map != nil && m.Map.drop() {
					freed = append(freed, m.Map)
				}
			}
		}
		r.Group.Walk(func(o Object) {
			switch v := o.(type) {
			case *Mesh:
				drop(v.Geometry, v.Material)
			case *InstancedMesh:
				drop(v.Geometry, v.Material)
			}
		})
	})
	return freed
}

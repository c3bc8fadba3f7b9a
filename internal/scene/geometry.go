package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"
)

// Geometry is a flat triangle list. It is shared between meshes and freed
// when the last mesh holding it is disposed.
type Geometry struct {
	refCounted
	Positions []mgl32.Vec3
	UVs       []mgl32.Vec2
	Normals   []mgl32.Vec3

	bounds r3.Box
}

// NewGeometry wraps triangle data. uvs and normals may be nil.
func NewGeometry(positions []mgl32.Vec3, uvs []mgl32.Vec2, normals []mgl32.Vec3) *Geometry {
	g := &Geometry{
		refCounted: newRefCounted(),
		Positions:  positions,
		UVs:        uvs,
		Normals:    normals,
	}
	g.bounds = pointBounds(positions)
	return g
}

func (g *Geometry) Kind() ResourceKind { return KindGeometry }

// VertexCount is the number of triangle vertices.
func (g *Geometry) VertexCount() int { return len(g.Positions) }

// Bounds is the local axis-aligned box of the vertices.
func (g *Geometry) Bounds() r3.Box { return g.bounds }

// boxFaces lists the corner indices of each face (two triangles) with its
// outward normal. Corners follow r3.Box.Vertices ordering.
var boxFaces = []struct {
	corners [4]int
	normal  mgl32.Vec3
}{
	{[4]int{1, 2, 6, 5}, mgl32.Vec3{1, 0, 0}},
	{[4]int{4, 7, 3, 0}, mgl32.Vec3{-1, 0, 0}},
	{[4]int{3, 7, 6, 2}, mgl32.Vec3{0, 1, 0}},
	{[4]int{0, 1, 5, 4}, mgl32.Vec3{0, -1, 0}},
	{[4]int{4, 5, 6, 7}, mgl32.Vec3{0, 0, 1}},
	{[4]int{0, 3, 2, 1}, mgl32.Vec3{0, 0, -1}},
}

var quadUVs = [4]mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

// NewBoxGeometry builds a w x h x d box centred on the origin, each face
// mapped to the full 0..1 UV square.
func NewBoxGeometry(w, h, d float32) *Geometry {
	box := r3.NewBox(-float64(w)/2, -float64(h)/2, -float64(d)/2, float64(w)/2, float64(h)/2, float64(d)/2)
	corners := box.Vertices()

	positions := make([]mgl32.Vec3, 0, 36)
	uvs := make([]mgl32.Vec2, 0, 36)
	normals := make([]mgl32.Vec3, 0, 36)
	for _, f := range boxFaces {
		for _, i := range [6]int{0, 1, 2, 0, 2, 3} {
			c := corners[f.corners[i]]
			positions = append(positions, mgl32.Vec3{float32(c.X), float32(c.Y), float32(c.Z)})
			uvs = append(uvs, quadUVs[i])
			normals = append(normals, f.normal)
		}
	}
	return NewGeometry(positions, uvs, normals)
}

func pointBounds(points []mgl32.Vec3) r3.Box {
	if len(points) == 0 {
		return r3.Box{}
	}
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range points {
		v := r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return r3.Box{Min: lo, Max: hi}
}

// union encloses both boxes. r3.Box.Union treats flat boxes as empty, which
// would drop planar meshes, so degenerate boxes are merged component-wise.
func union(a, b r3.Box) r3.Box {
	if !a.Empty() && !b.Empty() {
		return a.Union(b)
	}
	return r3.Box{
		Min: r3.Vec{X: math.Min(a.Min.X, b.Min.X), Y: math.Min(a.Min.Y, b.Min.Y), Z: math.Min(a.Min.Z, b.Min.Z)},
		Max: r3.Vec{X: math.Max(a.Max.X, b.Max.X), Y: math.Max(a.Max.Y, b.Max.Y), Z: math.Max(a.Max.Z, b.Max.Z)},
	}
}

// transformBox returns the axis-aligned box enclosing b after m.
func transformBox(b r3.Box, m mgl32.Mat4) r3.Box {
	pts := make([]mgl32.Vec3, 0, 8)
	for _, c := range b.Vertices() {
		v := m.Mul4x1(mgl32.Vec4{float32(c.X), float32(c.Y), float32(c.Z), 1})
		pts = append(pts, v.Vec3())
	}
	return pointBounds(pts)
}

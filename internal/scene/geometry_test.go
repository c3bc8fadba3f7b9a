package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestNewBoxGeometry(t *testing.T) {
	g := NewBoxGeometry(1, 2, 3)

	require.Equal(t, 36, g.VertexCount())
	assert.Len(t, g.UVs, 36)
	assert.Len(t, g.Normals, 36)
	assert.Equal(t, r3.NewBox(-0.5, -1, -1.5, 0.5, 1, 1.5), g.Bounds())
	assert.Equal(t, KindGeometry, g.Kind())
	assert.NotEmpty(t, g.ID())

	// Every triangle winds outward: its face normal agrees with the
	// stored vertex normal.
	for i := 0; i < 36; i += 3 {
		a, b, c := g.Positions[i], g.Positions[i+1], g.Positions[i+2]
		n := b.Sub(a).Cross(c.Sub(a)).Normalize()
		assert.True(t, n.ApproxEqual(g.Normals[i]), "triangle %d normal %v, want %v", i/3, n, g.Normals[i])
	}
}

func TestGeometryBounds_Empty(t *testing.T) {
	g := NewGeometry(nil, nil, nil)
	m := NewMesh("empty", g, NewMaterial(White, nil))
	_, ok := m.Bounds()
	assert.False(t, ok)
}

func TestUnion_FlatBoxes(t *testing.T) {
	flat := r3.Box{Min: r3.Vec{X: 0, Y: 0, Z: 0}, Max: r3.Vec{X: 2, Y: 2, Z: 0}}
	cube := r3.NewBox(-1, -1, -1, 0, 0, 0)

	got := union(flat, cube)
	assert.Equal(t, r3.NewBox(-1, -1, -1, 2, 2, 0), got)
}

func TestTransformBox(t *testing.T) {
	b := r3.NewBox(-0.5, -0.5, -0.5, 0.5, 0.5, 0.5)
	got := transformBox(b, mgl32.Translate3D(10, 0, -2))
	assert.InDelta(t, 9.5, got.Min.X, 1e-6)
	assert.InDelta(t, 10.5, got.Max.X, 1e-6)
	assert.InDelta(t, -2.5, got.Min.Z, 1e-6)
}

func TestTextureClone(t *testing.T) {
	base := NewTexture(nil)
	base.MagFilter = FilterNearest

	c := base.Clone()
	c.Offset = mgl32.Vec2{0.25, 0.5}
	c.Repeat = mgl32.Vec2{0.0625, 0.0625}

	assert.NotEqual(t, base.ID(), c.ID())
	assert.Equal(t, mgl32.Vec2{0, 0}, base.Offset)
	assert.Equal(t, mgl32.Vec2{1, 1}, base.Repeat)
	assert.Equal(t, FilterNearest, c.MagFilter)
}

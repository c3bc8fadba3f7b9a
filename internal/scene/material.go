package scene

import (
	"image"

	"github.com/go-gl/mathgl/mgl32"
)

// Filter is a texture sampling filter.
type Filter int

const (
	FilterLinear Filter = iota
	FilterNearest
)

// Texture samples a window of a decoded image. Clones share the image and
// each own their Offset and Repeat.
type Texture struct {
	refCounted
	Image     image.Image
	Offset    mgl32.Vec2
	Repeat    mgl32.Vec2
	MagFilter Filter
	MinFilter Filter
}

// NewTexture samples the whole of img.
func NewTexture(img image.Image) *Texture {
	return &Texture{
		refCounted: newRefCounted(),
		Image:      img,
		Repeat:     mgl32.Vec2{1, 1},
	}
}

func (t *Texture) Kind() ResourceKind { return KindTexture }

// Clone returns a new texture over the same image with copied sampling
// parameters. Changing the clone never affects t.
func (t *Texture) Clone() *Texture {
	return &Texture{
		refCounted: newRefCounted(),
		Image:      t.Image,
		Offset:     t.Offset,
		Repeat:     t.Repeat,
		MagFilter:  t.MagFilter,
		MinFilter:  t.MinFilter,
	}
}

// Material is a standard lit surface with a base colour and optional map.
type Material struct {
	refCounted
	Color mgl32.Vec3 // linear 0..1
	Map   *Texture
}

// NewMaterial creates a material. The material holds a reference on m.
func NewMaterial(color mgl32.Vec3, m *Texture) *Material {
	mat := &Material{refCounted: newRefCounted(), Color: color, Map: m}
	if m != nil {
		m.retain()
	}
	return mat
}

func (m *Material) Kind() ResourceKind { return KindMaterial }

// White is the neutral base colour used under texture maps.
var White = mgl32.Vec3{1, 1, 1}

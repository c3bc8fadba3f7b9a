// Package scene is the render-side object graph: shared geometry, materials
// and textures, the groups and meshes built from them, and the Surface that
// owns the displayed root and drives a Renderer.
package scene

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ResourceKind identifies the type of a GPU-side resource.
type ResourceKind int

const (
	KindGeometry ResourceKind = iota + 1
	KindMaterial
	KindTexture
)

func (k ResourceKind) String() string {
	switch k {
	case KindGeometry:
		return "geometry"
	case KindMaterial:
		return "material"
	case KindTexture:
		return "texture"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Resource is anything a Renderer may have uploaded and must free.
type Resource interface {
	ID() string
	Kind() ResourceKind
}

// refCounted tracks how many scene objects hold a resource.
type refCounted struct {
	id   string
	refs atomic.Int32
}

func newRefCounted() refCounted {
	return refCounted{id: uuid.New().String()}
}

func (r *refCounted) ID() string { return r.id }

// Refs returns the current holder count.
func (r *refCounted) Refs() int { return int(r.refs.Load()) }

func (r *refCounted) retain() { r.refs.Add(1) }

// drop releases one reference and reports whether it was the last.
func (r *refCounted) drop() bool {
	return r.refs.Add(-1) == 0
}

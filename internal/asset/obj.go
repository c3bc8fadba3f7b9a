package asset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is a decoded Wavefront OBJ model, split into the parts named by its
// o/g lines. Faces are triangulated and de-indexed so every part is a flat
// triangle list.
type Mesh struct {
	Parts []*Part
}

// Part is one object or group of a mesh. UVs and Normals are either empty or
// the same length as Positions.
type Part struct {
	Name      string
	Positions []mgl32.Vec3
	UVs       []mgl32.Vec2
	Normals   []mgl32.Vec3
}

// TriangleCount returns the number of triangles in the part.
func (p *Part) TriangleCount() int { return len(p.Positions) / 3 }

// VertexCount returns the number of triangle vertices over all parts.
func (m *Mesh) VertexCount() int {
	n := 0
	for _, p := range m.Parts {
		n += len(p.Positions)
	}
	return n
}

type faceVertex struct {
	v, vt, vn int // -1 when absent
}

type objDecoder struct {
	line     int
	vertices []mgl32.Vec3
	uvs      []mgl32.Vec2
	normals  []mgl32.Vec3
	mesh     *Mesh
	current  *Part
}

// ParseOBJ decodes the geometry statements of an OBJ document (v, vt, vn,
// f, o, g). Polygons are fan-triangulated and negative indices are resolved
// relative to the last element read. Material statements are ignored since
// the texture is supplied separately.
func ParseOBJ(r io.Reader) (*Mesh, error) {
	dec := &objDecoder{mesh: &Mesh{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		dec.line++
		if err := dec.parseLine(sc.Text()); err != nil {
			return nil, fmt.Errorf("obj line %d: %w", dec.line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read obj: %w", err)
	}

	parts := dec.mesh.Parts[:0]
	for _, p := range dec.mesh.Parts {
		if len(p.Positions) > 0 {
			parts = append(parts, p)
		}
	}
	dec.mesh.Parts = parts
	if len(parts) == 0 {
		return nil, fmt.Errorf("obj has no faces")
	}
	return dec.mesh, nil
}

func (dec *objDecoder) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	args := fields[1:]
	switch fields[0] {
	case "v":
		v, err := parseFloats(args, 3)
		if err != nil {
			return fmt.Errorf("vertex: %w", err)
		}
		dec.vertices = append(dec.vertices, mgl32.Vec3{v[0], v[1], v[2]})
	case "vt":
		v, err := parseFloats(args, 2)
		if err != nil {
			return fmt.Errorf("texture coordinate: %w", err)
		}
		dec.uvs = append(dec.uvs, mgl32.Vec2{v[0], v[1]})
	case "vn":
		v, err := parseFloats(args, 3)
		if err != nil {
			return fmt.Errorf("normal: %w", err)
		}
		dec.normals = append(dec.normals, mgl32.Vec3{v[0], v[1], v[2]})
	case "o", "g":
		name := "unnamed"
		if len(args) > 0 {
			name = strings.Join(args, " ")
		}
		dec.startPart(name)
	case "f":
		return dec.parseFace(args)
	}
	// mtllib, usemtl, s and anything else are not needed here.
	return nil
}

func (dec *objDecoder) startPart(name string) {
	dec.current = &Part{Name: name}
	dec.mesh.Parts = append(dec.mesh.Parts, dec.current)
}

func (dec *objDecoder) parseFace(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("face needs at least 3 vertices, got %d", len(args))
	}
	if dec.current == nil {
		dec.startPart("default")
	}

	verts := make([]faceVertex, len(args))
	for i, a := range args {
		fv, err := dec.parseFaceVertex(a)
		if err != nil {
			return err
		}
		verts[i] = fv
	}

	// Fan triangulation around the first vertex.
	for i := 1; i+1 < len(verts); i++ {
		for _, fv := range []faceVertex{verts[0], verts[i], verts[i+1]} {
			dec.emit(fv)
		}
	}
	return nil
}

// emit appends one triangle vertex. Faces may mix vertices with and without
// uv or normal indices; missing attributes are zero so UVs and Normals stay
// aligned with Positions once any face in the part supplies them.
func (dec *objDecoder) emit(fv faceVertex) {
	p := dec.current
	p.Positions = append(p.Positions, dec.vertices[fv.v])
	n := len(p.Positions)
	if fv.vt >= 0 {
		p.UVs = padTo(p.UVs, n-1)
		p.UVs = append(p.UVs, dec.uvs[fv.vt])
	} else if len(p.UVs) > 0 {
		p.UVs = padTo(p.UVs, n)
	}
	if fv.vn >= 0 {
		p.Normals = padTo(p.Normals, n-1)
		p.Normals = append(p.Normals, dec.normals[fv.vn])
	} else if len(p.Normals) > 0 {
		p.Normals = padTo(p.Normals, n)
	}
}

func padTo[T any](s []T, n int) []T {
	var zero T
	for len(s) < n {
		s = append(s, zero)
	}
	return s
}

func (dec *objDecoder) parseFaceVertex(s string) (faceVertex, error) {
	parts := strings.Split(s, "/")
	fv := faceVertex{v: -1, vt: -1, vn: -1}

	var err error
	if fv.v, err = resolveIndex(parts[0], len(dec.vertices)); err != nil {
		return fv, fmt.Errorf("vertex index %q: %w", s, err)
	}
	if len(parts) > 1 && parts[1] != "" {
		if fv.vt, err = resolveIndex(parts[1], len(dec.uvs)); err != nil {
			return fv, fmt.Errorf("uv index %q: %w", s, err)
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if fv.vn, err = resolveIndex(parts[2], len(dec.normals)); err != nil {
			return fv, fmt.Errorf("normal index %q: %w", s, err)
		}
	}
	return fv, nil
}

// resolveIndex turns a 1-based (or negative, relative) OBJ index into a
// 0-based index into a list of n elements.
func resolveIndex(s string, n int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	var idx int
	switch {
	case v > 0:
		idx = v - 1
	case v < 0:
		idx = n + v
	default:
		return 0, fmt.Errorf("index 0 is invalid")
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("index %d out of range (have %d)", v, n)
	}
	return idx, nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Package atlas holds the block texture atlas: a square, uniformly gridded
// image and the table mapping block type names to tiles within it.
package atlas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"sync"

	"github.com/banshee-data/blockview/internal/asset"
	"github.com/banshee-data/blockview/internal/fsutil"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/monitoring"
)

var (
	// ErrAtlasLoad is returned when the descriptor or image is malformed.
	ErrAtlasLoad = errors.New("atlas load failed")
	// ErrAtlasNotReady is returned by Index.Table before a table is set.
	ErrAtlasNotReady = errors.New("block atlas not loaded")
)

var logf = monitoring.Component("Atlas")

// Tile is a tile coordinate in the atlas grid; Y counts rows from the top.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// UVRect is the texture-space window of a tile: origin (U0,V0) and side
// Size, with V pointing up.
type UVRect struct {
	U0, V0, Size float64
}

type descriptor struct {
	AtlasSize int             `json:"atlasSize"`
	UVMap     map[string]Tile `json:"uvMap"`
}

// Table is a loaded atlas. It is immutable and safe to share.
type Table struct {
	size     int
	tiles    map[string]Tile
	fallback Tile
	image    image.Image
}

// Load parses the descriptor JSON {"atlasSize": N, "uvMap": {name: {x,y}}}
// and decodes the atlas image.
func Load(descriptorJSON io.Reader, atlasImage io.Reader) (*Table, error) {
	var d descriptor
	if err := json.NewDecoder(descriptorJSON).Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: parse descriptor: %v", ErrAtlasLoad, err)
	}
	if d.AtlasSize <= 0 {
		return nil, fmt.Errorf("%w: atlasSize must be positive, got %d", ErrAtlasLoad, d.AtlasSize)
	}
	for name, t := range d.UVMap {
		if t.X < 0 || t.Y < 0 || t.X >= d.AtlasSize || t.Y >= d.AtlasSize {
			return nil, fmt.Errorf("%w: tile %s (%d,%d) outside %dx%d grid",
				ErrAtlasLoad, name, t.X, t.Y, d.AtlasSize, d.AtlasSize)
		}
	}

	data, err := io.ReadAll(atlasImage)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ErrAtlasLoad, err)
	}
	img, _, err := asset.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAtlasLoad, err)
	}

	t := &Table{size: d.AtlasSize, tiles: d.UVMap, image: img}
	if t.tiles == nil {
		t.tiles = map[string]Tile{}
	}
	if stone, ok := t.tiles[model.DefaultBlock]; ok {
		t.fallback = stone
	} else {
		logf("no %s entry in atlas, unknown blocks fall back to tile (0,0)", model.DefaultBlock)
	}
	logf("loaded %d tiles on a %dx%d grid", len(t.tiles), t.size, t.size)
	return t, nil
}

// LoadFiles reads the descriptor and image from fs.
func LoadFiles(fs fsutil.FileSystem, descriptorPath, imagePath string) (*Table, error) {
	desc, err := fs.ReadFile(descriptorPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAtlasLoad, err)
	}
	img, err := fs.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAtlasLoad, err)
	}
	return Load(bytes.NewReader(desc), bytes.NewReader(img))
}

// Size is the number of tiles per row and column.
func (t *Table) Size() int { return t.size }

// Image is the decoded atlas image, shared by every texture cut from it.
func (t *Table) Image() image.Image { return t.image }

// Len is the number of named tiles.
func (t *Table) Len() int { return len(t.tiles) }

// Names returns the block names in the table, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.tiles))
	for n := range t.tiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the tile for name and whether it was present.
func (t *Table) Lookup(name string) (Tile, bool) {
	tile, ok := t.tiles[name]
	return tile, ok
}

// Resolve returns the tile for name, or the default block's tile when the
// name is unknown.
func (t *Table) Resolve(name string) Tile {
	if tile, ok := t.tiles[name]; ok {
		return tile
	}
	return t.fallback
}

// UVRect computes the sampling window for tile. Rows count from the top of
// the image while V counts from the bottom, hence the inversion.
func (t *Table) UVRect(tile Tile) UVRect {
	n := float64(t.size)
	return UVRect{
		U0:   float64(tile.X) / n,
		V0:   1 - float64(tile.Y+1)/n,
		Size: 1 / n,
	}
}

// Index holds the table once it has been loaded. Loading can fail without
// affecting stages that do not need the atlas.
type Index struct {
	mu    sync.RWMutex
	table *Table
	err   error
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{}
}

// Set installs a loaded table.
func (i *Index) Set(t *Table) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.table = t
	i.err = nil
}

// SetError records why the atlas could not be loaded.
func (i *Index) SetError(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.table = nil
	i.err = err
}

// Table returns the loaded table or an error wrapping ErrAtlasNotReady.
func (i *Index) Table() (*Table, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.table == nil {
		if i.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAtlasNotReady, i.err)
		}
		return nil, ErrAtlasNotReady
	}
	return i.table, nil
}

// Ready reports whether a table is loaded.
func (i *Index) Ready() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.table != nil
}

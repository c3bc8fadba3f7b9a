package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VoxelKey is an integer cell coordinate.
type VoxelKey struct {
	X, Y, Z int
}

// String formats the key the way the service keys its voxel map.
func (k VoxelKey) String() string {
	return fmt.Sprintf("%d,%d,%d", k.X, k.Y, k.Z)
}

// ParseVoxelKey parses "x,y,z".
func ParseVoxelKey(s string) (VoxelKey, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return VoxelKey{}, fmt.Errorf("voxel key %q: want x,y,z", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return VoxelKey{}, fmt.Errorf("voxel key %q: %w", s, err)
		}
		v[i] = n
	}
	return VoxelKey{X: v[0], Y: v[1], Z: v[2]}, nil
}

// Color is an RGB triple on the 0..255 scale.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Hex renders the colour as #rrggbb, clamping each channel.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", clampByte(c.R), clampByte(c.G), clampByte(c.B))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// VoxelGrid is a sparse grid of coloured cells. Absent cells are empty.
type VoxelGrid map[VoxelKey]Color

// UnmarshalJSON decodes {"x,y,z": {"r":..,"g":..,"b":..}}.
func (g *VoxelGrid) UnmarshalJSON(data []byte) error {
	var raw map[string]Color
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(VoxelGrid, len(raw))
	for k, c := range raw {
		key, err := ParseVoxelKey(k)
		if err != nil {
			return err
		}
		out[key] = c
	}
	*g = out
	return nil
}

// MarshalJSON encodes the grid with "x,y,z" keys.
func (g VoxelGrid) MarshalJSON() ([]byte, error) {
	raw := make(map[string]Color, len(g))
	for k, c := range g {
		raw[k.String()] = c
	}
	return json.Marshal(raw)
}

// SortedKeys returns the occupied cells ordered by x, then y, then z.
func (g VoxelGrid) SortedKeys() []VoxelKey {
	keys := make([]VoxelKey, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return keys
}

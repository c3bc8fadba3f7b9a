package model

import "sort"

// DefaultBlock is substituted for blocks without a name and is the atlas
// fallback for names the atlas does not know.
const DefaultBlock = "minecraft:stone"

// BlockPos is an integer block position.
type BlockPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Block is one placed block.
type Block struct {
	Name     string   `json:"name"`
	Position BlockPos `json:"position"`
}

// TypeName is Name, or DefaultBlock when Name is empty.
func (b Block) TypeName() string {
	if b.Name == "" {
		return DefaultBlock
	}
	return b.Name
}

// BlockList keeps the order the service returned. Duplicate positions are
// passed through untouched.
type BlockList []Block

// Palette returns the distinct block type names, sorted.
func (l BlockList) Palette() []string {
	seen := make(map[string]struct{})
	for _, b := range l {
		seen[b.TypeName()] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GroupByType buckets positions by block type name, preserving list order
// within each bucket.
func (l BlockList) GroupByType() map[string][]BlockPos {
	groups := make(map[string][]BlockPos)
	for _, b := range l {
		name := b.TypeName()
		groups[name] = append(groups[name], b.Position)
	}
	return groups
}

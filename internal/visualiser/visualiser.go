// Package visualiser turns the output of each pipeline stage into a scene
// root: a textured mesh for the reconstruction, coloured cubes for the voxel
// grid and atlas-textured instanced batches for the block list.
package visualiser

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/blockview/internal/asset"
	"github.com/banshee-data/blockview/internal/atlas"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/monitoring"
	"github.com/banshee-data/blockview/internal/scene"
)

var logf = monitoring.Component("Visualiser")

// AssetLoader fetches the reconstruction artefacts.
type AssetLoader interface {
	LoadMesh(ctx context.Context, url string) (*asset.Mesh, error)
	LoadImage(ctx context.Context, url string) (image.Image, error)
}

// Visualiser builds roots and shows them on a Surface.
type Visualiser struct {
	surface *scene.Surface
	assets  AssetLoader
	atlas   *atlas.Index
}

// New returns a Visualiser drawing on surface.
func New(surface *scene.Surface, assets AssetLoader, atlasIndex *atlas.Index) *Visualiser {
	return &Visualiser{surface: surface, assets: assets, atlas: atlasIndex}
}

// RenderMesh loads the mesh and its texture concurrently and builds a root
// where every part of the mesh shares one material mapped with the texture.
// Nothing is built if either load fails.
func (v *Visualiser) RenderMesh(ctx context.Context, meshRef, textureRef string) (*scene.Root, error) {
	var (
		wg      sync.WaitGroup
		mesh    *asset.Mesh
		img     image.Image
		meshErr error
		texErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		mesh, meshErr = v.assets.LoadMesh(ctx, meshRef)
	}()
	go func() {
		defer wg.Done()
		img, texErr = v.assets.LoadImage(ctx, textureRef)
	}()
	wg.Wait()

	if texErr != nil {
		return nil, fmt.Errorf("load texture: %w", texErr)
	}
	if meshErr != nil {
		return nil, fmt.Errorf("load mesh: %w", meshErr)
	}

	mat := scene.NewMaterial(scene.White, scene.NewTexture(img))
	g := scene.NewGroup("reconstruction")
	for _, p := range mesh.Parts {
		geom := scene.NewGeometry(p.Positions, p.UVs, p.Normals)
		g.Add(scene.NewMesh(p.Name, geom, mat))
	}
	root := scene.NewRoot(scene.RootMesh, g)
	logf("built mesh root %s: %d parts, %d vertices", root.ID, len(mesh.Parts), mesh.VertexCount())
	return root, nil
}

// RenderVoxels places a unit cube at every occupied cell, coloured by the
// cell, and recentres the group on the origin. Cubes share one geometry and
// cells of the same colour share a material. The result depends only on the
// grid.
func (v *Visualiser) RenderVoxels(grid model.VoxelGrid) *scene.Root {
	geom := scene.NewBoxGeometry(1, 1, 1)
	materials := make(map[model.Color]*scene.Material)
	g := scene.NewGroup("voxels")

	for _, k := range grid.SortedKeys() {
		c := grid[k]
		mat, ok := materials[c]
		if !ok {
			mat = scene.NewMaterial(colorVec(c), nil)
			materials[c] = mat
		}
		cube := scene.NewMesh(k.String(), geom, mat)
		cube.Position = r3.Vec{X: float64(k.X), Y: float64(k.Y), Z: float64(k.Z)}
		g.Add(cube)
	}
	scene.Recenter(g)

	root := scene.NewRoot(scene.RootVoxels, g)
	logf("built voxel root %s: %d cubes, %d materials", root.ID, len(grid), len(materials))
	return root
}

// RenderBlocks builds one instanced batch per block type. Each batch samples
// its tile through a clone of the atlas texture, so the decoded image is
// shared while every batch has its own offset and repeat. Names missing from
// the atlas use the default block's tile.
func (v *Visualiser) RenderBlocks(blocks model.BlockList) (*scene.Root, error) {
	table, err := v.atlas.Table()
	if err != nil {
		return nil, err
	}

	base := scene.NewTexture(table.Image())
	base.MagFilter = scene.FilterNearest
	base.MinFilter = scene.FilterNearest

	geom := scene.NewBoxGeometry(1, 1, 1)
	groups := blocks.GroupByType()
	g := scene.NewGroup("blocks")

	var unknown []string
	for _, name := range blocks.Palette() {
		if _, ok := table.Lookup(name); !ok {
			unknown = append(unknown, name)
		}
		rect := table.UVRect(table.Resolve(name))

		tex := base.Clone()
		tex.Offset = mgl32.Vec2{float32(rect.U0), float32(rect.V0)}
		tex.Repeat = mgl32.Vec2{float32(rect.Size), float32(rect.Size)}

		positions := groups[name]
		matrices := make([]mgl32.Mat4, len(positions))
		for i, p := range positions {
			matrices[i] = mgl32.Translate3D(float32(p.X), float32(p.Y), float32(p.Z))
		}
		g.Add(scene.NewInstancedMesh(name, geom, scene.NewMaterial(scene.White, tex), matrices))
	}
	scene.Recenter(g)

	if len(unknown) > 0 {
		logf("%d block types not in atlas, drawn as %s: %v", len(unknown), model.DefaultBlock, unknown)
	}
	root := scene.NewRoot(scene.RootBlocks, g)
	logf("built block root %s: %d blocks in %d batches", root.ID, len(blocks), len(groups))
	return root, nil
}

// Show mounts root on the surface, releasing whatever it replaces.
func (v *Visualiser) Show(root *scene.Root) {
	v.surface.Mount(root)
}

// Clear detaches and releases root if it is displayed.
func (v *Visualiser) Clear(root *scene.Root) {
	v.surface.Remove(root)
}

// ClearAll detaches and releases whatever is displayed.
func (v *Visualiser) ClearAll() {
	v.surface.Clear()
}

// Discard releases a root that was built but will never be shown.
func (v *Visualiser) Discard(root *scene.Root) {
	if root != nil {
		v.surface.Dispose(root)
	}
}

// Current returns the displayed root.
func (v *Visualiser) Current() *scene.Root {
	return v.surface.Current()
}

func colorVec(c model.Color) mgl32.Vec3 {
	return mgl32.Vec3{float32(c.R / 255), float32(c.G / 255), float32(c.B / 255)}
}

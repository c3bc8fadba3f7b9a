package visualiser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/blockview/internal/asset"
	"github.com/banshee-data/blockview/internal/atlas"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/scene"
	"github.com/banshee-data/blockview/internal/testutil"
)

type fakeAssets struct {
	mesh    *asset.Mesh
	img     image.Image
	meshErr error
	imgErr  error
}

func (f *fakeAssets) LoadMesh(ctx context.Context, url string) (*asset.Mesh, error) {
	return f.mesh, f.meshErr
}

func (f *fakeAssets) LoadImage(ctx context.Context, url string) (image.Image, error) {
	return f.img, f.imgErr
}

func newTestVisualiser(t *testing.T, assets AssetLoader, withAtlas bool) (*Visualiser, *testutil.RecordingRenderer) {
	t.Helper()
	r := testutil.NewRecordingRenderer()
	surface := scene.NewSurface(r, scene.DefaultConfig())
	idx := atlas.NewIndex()
	if withAtlas {
		table, err := atlas.Load(strings.NewReader(testutil.AtlasDescriptor), bytes.NewReader(testutil.PNGBytes(t, 32, 32)))
		require.NoError(t, err)
		idx.Set(table)
	}
	return New(surface, assets, idx), r
}

func TestRenderVoxels_CentresTwoCubes(t *testing.T) {
	v, _ := newTestVisualiser(t, nil, false)

	root := v.RenderVoxels(model.VoxelGrid{
		{X: 0, Y: 0, Z: 0}: {R: 255},
		{X: 1, Y: 0, Z: 0}: {G: 255},
	})
	require.Equal(t, scene.RootVoxels, root.Kind)
	g := root.Group
	require.Len(t, g.Children, 2)

	var world []r3.Vec
	for _, c := range g.Children {
		world = append(world, r3.Add(g.Position, c.(*scene.Mesh).Position))
	}
	assert.Equal(t, []r3.Vec{{X: -0.5}, {X: 0.5}}, world)

	box, ok := g.Bounds()
	require.True(t, ok)
	assert.Equal(t, r3.Vec{}, box.Center())

	red := g.Children[0].(*scene.Mesh)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, red.Material.Color)
	assert.Same(t, red.Geometry, g.Children[1].(*scene.Mesh).Geometry, "cubes share one geometry")
}

func TestRenderVoxels_Deterministic(t *testing.T) {
	v, _ := newTestVisualiser(t, nil, false)
	grid := model.VoxelGrid{}
	for i := 0; i < 50; i++ {
		grid[model.VoxelKey{X: i % 5, Y: i / 5, Z: -i % 3}] = model.Color{R: float64(i % 4 * 60)}
	}

	layout := func(root *scene.Root) []string {
		var out []string
		for _, c := range root.Group.Children {
			m := c.(*scene.Mesh)
			out = append(out, fmt.Sprintf("%s@%v:%v", m.Name, m.Position, m.Material.Color))
		}
		return append(out, fmt.Sprint(root.Group.Position))
	}
	assert.Equal(t, layout(v.RenderVoxels(grid)), layout(v.RenderVoxels(grid)))
}

func TestRenderVoxels_SharesMaterialsByColour(t *testing.T) {
	v, r := newTestVisualiser(t, nil, false)
	root := v.RenderVoxels(model.VoxelGrid{
		{X: 0}: {R: 10, G: 20, B: 30},
		{X: 1}: {R: 10, G: 20, B: 30},
		{X: 2}: {R: 200},
	})
	v.Show(root)
	v.ClearAll()

	assert.Equal(t, 1, r.ReleasedCount(scene.KindGeometry))
	assert.Equal(t, 2, r.ReleasedCount(scene.KindMaterial))
}

func TestRenderBlocks_AtlasNotReady(t *testing.T) {
	v, _ := newTestVisualiser(t, nil, false)
	_, err := v.RenderBlocks(model.BlockList{{Name: "minecraft:dirt"}})
	assert.ErrorIs(t, err, atlas.ErrAtlasNotReady)
}

func TestRenderBlocks_BatchesByType(t *testing.T) {
	v, _ := newTestVisualiser(t, nil, true)

	blocks := model.BlockList{
		{Name: "minecraft:red_wool", Position: model.BlockPos{X: 0, Y: 0, Z: 0}},
		{Name: "minecraft:red_wool", Position: model.BlockPos{X: 1, Y: 0, Z: 0}},
		{Name: "minecraft:unobtainium", Position: model.BlockPos{X: 2, Y: 0, Z: 0}},
		{Name: "", Position: model.BlockPos{X: 3, Y: 0, Z: 0}},
		{Name: "minecraft:stone", Position: model.BlockPos{X: 3, Y: 1, Z: 0}},
	}
	root, err := v.RenderBlocks(blocks)
	require.NoError(t, err)
	require.Equal(t, scene.RootBlocks, root.Kind)

	batches := map[string]*scene.InstancedMesh{}
	for _, c := range root.Group.Children {
		im := c.(*scene.InstancedMesh)
		batches[im.Name] = im
	}
	require.Len(t, batches, 3, "red_wool, stone (with the unnamed block) and the unknown type")
	assert.Equal(t, 2, batches["minecraft:red_wool"].Count())
	assert.Equal(t, 2, batches["minecraft:stone"].Count())

	wool := batches["minecraft:red_wool"].Material.Map
	assert.InDelta(t, 0.1875, wool.Offset.X(), 1e-6)
	assert.InDelta(t, 0.8125, wool.Offset.Y(), 1e-6)
	assert.InDelta(t, 0.0625, wool.Repeat.X(), 1e-6)
	assert.Equal(t, scene.FilterNearest, wool.MagFilter)

	// Unknown blocks sample the stone tile (1,0).
	unknown := batches["minecraft:unobtainium"].Material.Map
	stone := batches["minecraft:stone"].Material.Map
	assert.Equal(t, stone.Offset, unknown.Offset)
	assert.InDelta(t, 0.0625, unknown.Offset.X(), 1e-6)
	assert.InDelta(t, 0.9375, unknown.Offset.Y(), 1e-6)

	// Clones share the decoded atlas but not their sampling window.
	assert.Same(t, wool.Image, stone.Image)
	assert.NotEqual(t, wool.ID(), stone.ID())

	box, ok := root.Group.Bounds()
	require.True(t, ok)
	assert.InDelta(t, 0, box.Center().X, 1e-9)
	assert.InDelta(t, 0, box.Center().Y, 1e-9)
}

func TestRenderBlocks_KeepsDuplicatePositions(t *testing.T) {
	v, _ := newTestVisualiser(t, nil, true)
	root, err := v.RenderBlocks(model.BlockList{
		{Name: "minecraft:dirt", Position: model.BlockPos{X: 4}},
		{Name: "minecraft:dirt", Position: model.BlockPos{X: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, root.Summarize().Instances)
}

func TestRenderMesh_SharedMaterial(t *testing.T) {
	mesh, err := asset.ParseOBJ(strings.NewReader(testutil.CubeOBJ))
	require.NoError(t, err)
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	v, r := newTestVisualiser(t, &fakeAssets{mesh: mesh, img: img}, false)

	root, err := v.RenderMesh(context.Background(), "/temp/a/mesh.obj", "/temp/a/texture.png")
	require.NoError(t, err)
	require.Len(t, root.Group.Children, 2)

	top := root.Group.Children[0].(*scene.Mesh)
	sides := root.Group.Children[1].(*scene.Mesh)
	assert.Equal(t, "top", top.Name)
	assert.Same(t, top.Material, sides.Material)
	assert.Same(t, img, top.Material.Map.Image)

	v.Show(root)
	v.Clear(root)
	assert.Nil(t, v.Current())
	assert.Equal(t, 1, r.ReleasedCount(scene.KindMaterial))
	assert.Equal(t, 1, r.ReleasedCount(scene.KindTexture))
	assert.Equal(t, 2, r.ReleasedCount(scene.KindGeometry))
}

func TestRenderMesh_LoadFailureLeavesSceneAlone(t *testing.T) {
	loadErr := fmt.Errorf("%w: status 404", asset.ErrAssetLoad)
	for name, fa := range map[string]*fakeAssets{
		"mesh":    {meshErr: loadErr, img: image.NewRGBA(image.Rect(0, 0, 1, 1))},
		"texture": {mesh: &asset.Mesh{}, imgErr: loadErr},
	} {
		t.Run(name, func(t *testing.T) {
			v, _ := newTestVisualiser(t, fa, false)
			prior := v.RenderVoxels(model.VoxelGrid{{}: {}})
			v.Show(prior)

			root, err := v.RenderMesh(context.Background(), "m", "t")
			assert.Nil(t, root)
			assert.True(t, errors.Is(err, asset.ErrAssetLoad))
			assert.Same(t, prior, v.Current())
		})
	}
}

func TestDiscard(t *testing.T) {
	v, r := newTestVisualiser(t, nil, false)
	root := v.RenderVoxels(model.VoxelGrid{{}: {R: 1}})
	v.Discard(root)
	v.Discard(nil)
	assert.Equal(t, 1, r.ReleasedCount(scene.KindGeometry))
}

package remote

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blockview/internal/asset"
	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/testutil"
	"github.com/banshee-data/blockview/internal/timeutil"
)

func newStub(t *testing.T, clock timeutil.Clock) (*StubService, *Client) {
	t.Helper()
	cfg := DefaultStubConfig()
	cfg.MaxUploadBytes = 1 << 20
	if clock != nil {
		cfg.Clock = clock
	}
	stub := NewStubService(cfg)
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, httputil.NewStandardClient(srv.Client()), 0)
	require.NoError(t, err)
	return stub, c
}

func TestStub_FullPipeline(t *testing.T) {
	stub, c := newStub(t, nil)
	ctx := context.Background()

	res, err := c.Reconstruct(ctx, testutil.PNGBytes(t, 8, 8), model.ReconstructOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 1, stub.SessionCount())

	loader := asset.NewLoader(httputil.NewStandardClient(nil))
	mesh, err := loader.LoadMesh(ctx, res.MeshRef)
	require.NoError(t, err)
	assert.Equal(t, 36, mesh.VertexCount())
	tex, err := loader.LoadImage(ctx, res.TextureRef)
	require.NoError(t, err)
	assert.Equal(t, 8, tex.Bounds().Dx())

	grid, err := c.Voxelize(ctx, res.SessionID, model.VoxelizeParams{MaxBlocks: 6, Fill: true})
	require.NoError(t, err)
	require.NotEmpty(t, grid)
	for k := range grid {
		assert.True(t, k.X >= 0 && k.X < 6 && k.Y >= 0 && k.Y < 6 && k.Z >= 0 && k.Z < 6, k.String())
	}

	blocks, err := c.MapBlocks(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, blocks, len(grid))

	for _, format := range []model.ExportFormat{model.FormatLitematic, model.FormatSchem} {
		u, err := c.Export(ctx, res.SessionID, format)
		require.NoError(t, err)
		assert.Contains(t, u, "/temp/"+res.SessionID+"/output."+string(format))

		data, err := c.Download(ctx, u)
		require.NoError(t, err)
		zr, err := gzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		var doc struct {
			Format string          `json:"format"`
			Blocks model.BlockList `json:"blocks"`
		}
		require.NoError(t, json.NewDecoder(zr).Decode(&doc))
		assert.Equal(t, string(format), doc.Format)
		assert.Len(t, doc.Blocks, len(blocks))
	}
}

func TestStub_StageOrderErrors(t *testing.T) {
	_, c := newStub(t, nil)
	ctx := context.Background()

	_, err := c.Voxelize(ctx, "nope", model.VoxelizeParams{MaxBlocks: 4})
	assertStatus(t, err, http.StatusNotFound)

	res, err := c.Reconstruct(ctx, testutil.PNGBytes(t, 4, 4), model.ReconstructOptions{})
	require.NoError(t, err)

	_, err = c.MapBlocks(ctx, res.SessionID)
	ce := assertStatus(t, err, http.StatusNotFound)
	assert.Contains(t, ce.Detail, "stage 2")

	_, err = c.Export(ctx, res.SessionID, model.FormatSchem)
	ce = assertStatus(t, err, http.StatusNotFound)
	assert.Contains(t, ce.Detail, "stage 3")

	_, err = c.Voxelize(ctx, res.SessionID, model.VoxelizeParams{MaxBlocks: 0})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestStub_RevoxelizeDiscardsBlocks(t *testing.T) {
	_, c := newStub(t, nil)
	ctx := context.Background()

	res, err := c.Reconstruct(ctx, testutil.PNGBytes(t, 4, 4), model.ReconstructOptions{})
	require.NoError(t, err)
	_, err = c.Voxelize(ctx, res.SessionID, model.VoxelizeParams{MaxBlocks: 4})
	require.NoError(t, err)
	_, err = c.MapBlocks(ctx, res.SessionID)
	require.NoError(t, err)
	_, err = c.Voxelize(ctx, res.SessionID, model.VoxelizeParams{MaxBlocks: 5})
	require.NoError(t, err)

	_, err = c.Export(ctx, res.SessionID, model.FormatLitematic)
	assertStatus(t, err, http.StatusNotFound)
}

func TestStub_UploadRejections(t *testing.T) {
	stub, _ := newStub(t, nil)
	h := stub.Handler()

	post := func(t *testing.T, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("image", "upload")
		require.NoError(t, err)
		_, _ = fw.Write(data)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/reconstruct", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("not an image", func(t *testing.T) {
		rec := post(t, []byte("hello there, this is text"))
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	})
	t.Run("too large", func(t *testing.T) {
		data := append(testutil.PNGBytes(t, 2, 2), make([]byte, (1<<20)+10)...)
		rec := post(t, data)
		testutil.AssertStatusCode(t, rec.Code, http.StatusRequestEntityTooLarge)
		var body httputil.ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body.Detail, "MB")
	})
	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reconstruct", nil))
		testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
	})
	assert.Equal(t, 0, stub.SessionCount())
}

func TestStub_TempNotFound(t *testing.T) {
	stub, _ := newStub(t, nil)
	rec := httptest.NewRecorder()
	stub.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/temp/x/../../etc/passwd", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestStub_PruneExpired(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	stub, c := newStub(t, clock)
	ctx := context.Background()

	old, err := c.Reconstruct(ctx, testutil.PNGBytes(t, 2, 2), model.ReconstructOptions{})
	require.NoError(t, err)
	clock.Advance(20 * time.Hour)
	fresh, err := c.Reconstruct(ctx, testutil.PNGBytes(t, 2, 2), model.ReconstructOptions{})
	require.NoError(t, err)

	clock.Advance(5 * time.Hour)
	assert.Equal(t, 1, stub.PruneExpired())
	assert.Equal(t, 1, stub.SessionCount())

	_, err = c.Download(ctx, old.MeshRef)
	assertStatus(t, err, http.StatusNotFound)
	_, err = c.Download(ctx, fresh.MeshRef)
	assert.NoError(t, err)
}

func TestStub_RunCleanup(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	stub, c := newStub(t, clock)

	_, err := c.Reconstruct(context.Background(), testutil.PNGBytes(t, 2, 2), model.ReconstructOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stub.RunCleanup(ctx, 6*time.Hour)
		close(done)
	}()
	require.Eventually(t, func() bool { return clock.TickerCount() == 1 }, time.Second, time.Millisecond)

	clock.Advance(30 * time.Hour)
	assert.Eventually(t, func() bool { return stub.SessionCount() == 0 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestSphereGrid(t *testing.T) {
	solid := sphereGrid(8, true, nil)
	shell := sphereGrid(8, false, nil)
	assert.Greater(t, len(solid), len(shell))
	for k := range shell {
		_, ok := solid[k]
		assert.True(t, ok, "shell voxel %s outside solid sphere", k)
	}
	// Centre of an 8-wide sphere is hollow without fill.
	_, ok := shell[model.VoxelKey{X: 4, Y: 4, Z: 4}]
	assert.False(t, ok)

	big := sphereGrid(1000, true, nil)
	for k := range big {
		assert.Less(t, k.X, maxStubVoxelSpan)
	}
	assert.Len(t, sphereGrid(1, false, nil), 1)
}

func TestNearestBlock(t *testing.T) {
	assert.Equal(t, "minecraft:red_wool", nearestBlock(model.Color{R: 170, G: 30, B: 30}))
	assert.Equal(t, "minecraft:white_wool", nearestBlock(model.Color{R: 255, G: 255, B: 255}))
	assert.Equal(t, "minecraft:stone", nearestBlock(model.Color{R: 128, G: 128, B: 128}))
}

func assertStatus(t *testing.T, err error, status int) *CallError {
	t.Helper()
	var ce *CallError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, status, ce.StatusCode)
	return ce
}

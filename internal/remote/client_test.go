package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/testutil"
)

func newTestClient(t *testing.T, mock *httputil.MockHTTPClient) *Client {
	t.Helper()
	c, err := NewClient("http://svc.local:8000", mock, 1<<20)
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	for _, u := range []string{"", "svc.local", "/api", "::bad"} {
		_, err := NewClient(u, httputil.NewMockHTTPClient(), 0)
		assert.Error(t, err, u)
	}
}

func TestClient_ResolveURL(t *testing.T) {
	c := newTestClient(t, httputil.NewMockHTTPClient())
	assert.Equal(t, "http://svc.local:8000/temp/abc/model.obj", c.ResolveURL("/temp/abc/model.obj"))
	assert.Equal(t, "https://cdn.example/x.png", c.ResolveURL("https://cdn.example/x.png"))
}

func TestClient_Reconstruct(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddJSONResponse(http.StatusOK, map[string]string{
		"sessionId":  "s1",
		"objUrl":     "/temp/s1/model.obj",
		"textureUrl": "/temp/s1/baked_texture.png",
	})
	c := newTestClient(t, mock)

	img := testutil.PNGBytes(t, 4, 4)
	res, err := c.Reconstruct(context.Background(), img, model.ReconstructOptions{RemoveBackground: true, Filename: "cat.png"})
	require.NoError(t, err)
	assert.Equal(t, model.ReconstructionResult{
		SessionID:  "s1",
		MeshRef:    "http://svc.local:8000/temp/s1/model.obj",
		TextureRef: "http://svc.local:8000/temp/s1/baked_texture.png",
	}, res)

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/reconstruct", req.URL.Path)

	_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	require.NoError(t, err)
	form, err := multipart.NewReader(bytes.NewReader(mock.GetBody(0)), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, form.Value["remove_bg"])
	assert.Equal(t, []string{"256"}, form.Value["resolution"])
	require.Len(t, form.File["image"], 1)
	assert.Equal(t, "cat.png", form.File["image"][0].Filename)
	f, err := form.File["image"][0].Open()
	require.NoError(t, err)
	defer f.Close()
	sent, _ := io.ReadAll(f)
	assert.Equal(t, img, sent)
}

func TestClient_Reconstruct_InvalidInputNeverSent(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	c := newTestClient(t, mock)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image, just some words")},
		{"oversized", append(testutil.PNGBytes(t, 2, 2), make([]byte, 2<<20)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Reconstruct(context.Background(), tt.data, model.ReconstructOptions{})
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, mock.RequestCount())
}

func TestClient_Reconstruct_MissingFields(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddJSONResponse(http.StatusOK, map[string]string{"sessionId": "s1"})
	c := newTestClient(t, mock)

	_, err := c.Reconstruct(context.Background(), testutil.PNGBytes(t, 2, 2), model.ReconstructOptions{})
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
}

func TestClient_ErrorDetail(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"service detail", http.StatusNotFound, `{"detail":"Run stage 2 first."}`, "Run stage 2 first."},
		{"empty body", http.StatusInternalServerError, ``, "voxelization failed"},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`, "voxelization failed"},
		{"structured detail", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"}]}`, "voxelization failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httputil.NewMockHTTPClient()
			mock.AddResponse(tt.status, tt.body)
			c := newTestClient(t, mock)

			_, err := c.Voxelize(context.Background(), "s1", model.VoxelizeParams{MaxBlocks: 32})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRemoteCallFailed)

			var ce *CallError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, CallVoxelize, ce.Call)
			assert.Equal(t, tt.status, ce.StatusCode)
			assert.Equal(t, tt.wantDetail, ce.Detail)
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(boom)
	c := newTestClient(t, mock)

	_, err := c.MapBlocks(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
	assert.ErrorIs(t, err, boom)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, ce.StatusCode)
	assert.Equal(t, "block mapping failed", ce.Detail)
}

func TestClient_MalformedResponse(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"voxels": {"not-a-key": {"r":1,"g":2,"b":3}}}`)
	c := newTestClient(t, mock)

	_, err := c.Voxelize(context.Background(), "s1", model.VoxelizeParams{MaxBlocks: 8})
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
}

func TestClient_Voxelize(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"sessionId":"s1","voxels":{"0,0,0":{"r":255,"g":0,"b":0},"1,2,3":{"r":0,"g":0,"b":255}}}`)
	c := newTestClient(t, mock)

	grid, err := c.Voxelize(context.Background(), "s1", model.VoxelizeParams{MaxBlocks: 48, Fill: true})
	require.NoError(t, err)
	assert.Equal(t, model.VoxelGrid{
		{X: 0, Y: 0, Z: 0}: {R: 255},
		{X: 1, Y: 2, Z: 3}: {B: 255},
	}, grid)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(mock.GetBody(0), &sent))
	assert.Equal(t, map[string]interface{}{"sessionId": "s1", "maxBlocks": float64(48), "fill": true}, sent)
	assert.Equal(t, "application/json", mock.GetRequest(0).Header.Get("Content-Type"))
}

func TestClient_Voxelize_EmptyGrid(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"sessionId":"s1"}`)
	c := newTestClient(t, mock)

	grid, err := c.Voxelize(context.Background(), "s1", model.VoxelizeParams{MaxBlocks: 8})
	require.NoError(t, err)
	assert.NotNil(t, grid)
	assert.Empty(t, grid)
}

func TestClient_MapBlocks(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"blocks":[
		{"name":"minecraft:stone","position":{"x":0,"y":0,"z":0}},
		{"name":"","position":{"x":1,"y":0,"z":0}}]}`)
	c := newTestClient(t, mock)

	blocks, err := c.MapBlocks(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, model.BlockPos{X: 1}, blocks[1].Position)
	assert.Equal(t, model.DefaultBlock, blocks[1].TypeName())
	assert.Equal(t, "/map-blocks", mock.GetRequest(0).URL.Path)
}

func TestClient_Export(t *testing.T) {
	for _, format := range []model.ExportFormat{model.FormatLitematic, model.FormatSchem} {
		t.Run(string(format), func(t *testing.T) {
			mock := httputil.NewMockHTTPClient()
			mock.AddJSONResponse(http.StatusOK, map[string]string{"downloadUrl": "/temp/s1/output." + string(format)})
			c := newTestClient(t, mock)

			u, err := c.Export(context.Background(), "s1", format)
			require.NoError(t, err)
			assert.Equal(t, "http://svc.local:8000/temp/s1/output."+string(format), u)
			assert.Equal(t, "/export-"+string(format), mock.GetRequest(0).URL.Path)
		})
	}
}

func TestClient_Export_NoURL(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddJSONResponse(http.StatusOK, map[string]string{})
	c := newTestClient(t, mock)

	_, err := c.Export(context.Background(), "s1", model.FormatSchem)
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
}

func TestClient_Download(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddBytesResponse(http.StatusOK, []byte{0x1f, 0x8b, 0x08}, "application/octet-stream")
	mock.AddResponse(http.StatusNotFound, `{"detail":"File not found."}`)
	c := newTestClient(t, mock)

	data, err := c.Download(context.Background(), "/temp/s1/output.schem")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b, 0x08}, data)
	assert.Equal(t, http.MethodGet, mock.GetRequest(0).Method)
	assert.NotEmpty(t, mock.GetRequest(0).Header.Get("User-Agent"))

	_, err = c.Download(context.Background(), "/temp/s1/missing")
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, CallDownload, ce.Call)
	assert.Equal(t, "File not found.", ce.Detail)
}

func TestCallError_Error(t *testing.T) {
	assert.Equal(t, "export: Run stage 3 first. (status 404)",
		(&CallError{Call: CallExport, StatusCode: 404, Detail: "Run stage 3 first."}).Error())
	assert.Equal(t, "export: export failed: eof",
		(&CallError{Call: CallExport, Detail: "export failed", Err: errors.New("eof")}).Error())
	assert.Equal(t, "export: no url",
		(&CallError{Call: CallExport, Detail: "no url"}).Error())
}

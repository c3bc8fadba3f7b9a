// Package remote talks to the processing service that reconstructs,
// voxelizes, maps and exports, and provides an in-process stand-in for it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/version"
)

// maxResponseSize caps JSON responses; block lists for large models run to
// a few megabytes.
const maxResponseSize = 64 << 20

// Client calls the processing service.
type Client struct {
	base      *url.URL
	http      httputil.HTTPClient
	maxUpload int64
}

// NewClient returns a client for the service at baseURL. Uploads larger
// than maxUploadBytes are rejected locally; zero disables the check.
func NewClient(baseURL string, client httputil.HTTPClient, maxUploadBytes int64) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid service URL %q", baseURL)
	}
	return &Client{base: u, http: client, maxUpload: maxUploadBytes}, nil
}

// BaseURL returns the service URL.
func (c *Client) BaseURL() string { return c.base.String() }

// ResolveURL turns a reference returned by the service, usually a path
// like /temp/{id}/model.obj, into an absolute URL.
func (c *Client) ResolveURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

type reconstructResponse struct {
	SessionID  string `json:"sessionId"`
	ObjURL     string `json:"objUrl"`
	TextureURL string `json:"textureUrl"`
}

// Reconstruct uploads an image and returns the session and the absolute
// URLs of the generated mesh and texture.
func (c *Client) Reconstruct(ctx context.Context, image []byte, opts model.ReconstructOptions) (model.ReconstructionResult, error) {
	if err := ValidateUpload(image, c.maxUpload); err != nil {
		return model.ReconstructionResult{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	name := opts.Filename
	if name == "" {
		name = "upload"
	}
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return model.ReconstructionResult{}, err
	}
	if _, err := fw.Write(image); err != nil {
		return model.ReconstructionResult{}, err
	}
	resolution := opts.Resolution
	if resolution <= 0 {
		resolution = 256
	}
	if err := mw.WriteField("remove_bg", strconv.FormatBool(opts.RemoveBackground)); err != nil {
		return model.ReconstructionResult{}, err
	}
	if err := mw.WriteField("resolution", strconv.Itoa(resolution)); err != nil {
		return model.ReconstructionResult{}, err
	}
	if err := mw.Close(); err != nil {
		return model.ReconstructionResult{}, err
	}

	var resp reconstructResponse
	if err := c.post(ctx, CallReconstruct, "/reconstruct", mw.FormDataContentType(), &body, &resp); err != nil {
		return model.ReconstructionResult{}, err
	}
	if resp.SessionID == "" || resp.ObjURL == "" || resp.TextureURL == "" {
		return model.ReconstructionResult{}, &CallError{
			Call: CallReconstruct, Detail: "response is missing the session or model URLs",
		}
	}
	return model.ReconstructionResult{
		SessionID:  resp.SessionID,
		MeshRef:    c.ResolveURL(resp.ObjURL),
		TextureRef: c.ResolveURL(resp.TextureURL),
	}, nil
}

type voxelizeRequest struct {
	SessionID string `json:"sessionId"`
	MaxBlocks int    `json:"maxBlocks"`
	Fill      bool   `json:"fill"`
}

// Voxelize converts the session's model into a coloured voxel grid.
func (c *Client) Voxelize(ctx context.Context, sessionID string, p model.VoxelizeParams) (model.VoxelGrid, error) {
	var resp struct {
		Voxels model.VoxelGrid `json:"voxels"`
	}
	req := voxelizeRequest{SessionID: sessionID, MaxBlocks: p.MaxBlocks, Fill: p.Fill}
	if err := c.postJSON(ctx, CallVoxelize, "/voxelize", req, &resp); err != nil {
		return nil, err
	}
	if resp.Voxels == nil {
		resp.Voxels = model.VoxelGrid{}
	}
	return resp.Voxels, nil
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// MapBlocks maps the session's voxels to blocks.
func (c *Client) MapBlocks(ctx context.Context, sessionID string) (model.BlockList, error) {
	var resp struct {
		Blocks model.BlockList `json:"blocks"`
	}
	if err := c.postJSON(ctx, CallMapBlocks, "/map-blocks", sessionRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	if resp.Blocks == nil {
		resp.Blocks = model.BlockList{}
	}
	return resp.Blocks, nil
}

// Export writes the session's blocks in format and returns the absolute
// download URL.
func (c *Client) Export(ctx context.Context, sessionID string, format model.ExportFormat) (string, error) {
	var resp struct {
		DownloadURL string `json:"downloadUrl"`
	}
	if err := c.postJSON(ctx, CallExport, "/export-"+string(format), sessionRequest{SessionID: sessionID}, &resp); err != nil {
		return "", err
	}
	if resp.DownloadURL == "" {
		return "", &CallError{Call: CallExport, Detail: "response has no download URL"}
	}
	return c.ResolveURL(resp.DownloadURL), nil
}

// Download fetches an export artefact.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ResolveURL(rawURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &CallError{Call: CallDownload, Detail: defaultDetail[CallDownload], Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(CallDownload, resp); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func (c *Client) postJSON(ctx context.Context, call Call, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", call, err)
	}
	return c.post(ctx, call, path, "application/json", bytes.NewReader(data), out)
}

func (c *Client) post(ctx context.Context, call Call, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ResolveURL(path), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", call, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return &CallError{Call: call, Detail: defaultDetail[call], Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(call, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return &CallError{Call: call, Detail: "malformed response", Err: err}
	}
	return nil
}

// checkStatus turns a non-2xx response into a CallError, using the
// service's {"detail": ...} message when there is one.
func checkStatus(call Call, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail := defaultDetail[call]
	var body httputil.ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		detail = body.Detail
	}
	return &CallError{Call: call, StatusCode: resp.StatusCode, Detail: detail}
}

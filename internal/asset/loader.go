// Package asset fetches and decodes the artefacts the processing service
// hosts: Wavefront OBJ meshes and texture images.
package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/version"
)

// ErrAssetLoad is returned when a mesh or texture cannot be fetched or
// decoded.
var ErrAssetLoad = errors.New("asset load failed")

// maxAssetSize caps a single downloaded asset.
const maxAssetSize = 256 << 20

// Loader fetches assets over HTTP.
type Loader struct {
	client httputil.HTTPClient
}

// NewLoader returns a Loader using client for requests.
func NewLoader(client httputil.HTTPClient) *Loader {
	return &Loader{client: client}
}

// Fetch downloads url and returns its body.
func (l *Loader) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetLoad, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrAssetLoad, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrAssetLoad, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrAssetLoad, url, err)
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrAssetLoad, url, maxAssetSize)
	}
	return data, nil
}

// LoadMesh fetches and parses an OBJ mesh.
func (l *Loader) LoadMesh(ctx context.Context, url string) (*Mesh, error) {
	data, err := l.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	mesh, err := ParseOBJ(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAssetLoad, url, err)
	}
	return mesh, nil
}

// LoadImage fetches and decodes a texture image.
func (l *Loader) LoadImage(ctx context.Context, url string) (image.Image, error) {
	data, err := l.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return img, nil
}

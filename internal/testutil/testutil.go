// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a new HTTP request for testing.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a new response recorder for testing.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// PNGBytes encodes a w x h checkerboard PNG.
func PNGBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 40, G: 90, B: 160, A: 255}
			if (x+y)%2 == 0 {
				c = color.RGBA{R: 220, G: 200, B: 120, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// AtlasDescriptor is a 16x16 atlas table with a handful of blocks.
const AtlasDescriptor = `{
  "atlasSize": 16,
  "uvMap": {
    "minecraft:stone":       {"x": 1, "y": 0},
    "minecraft:dirt":        {"x": 2, "y": 0},
    "minecraft:oak_planks":  {"x": 4, "y": 0},
    "minecraft:red_wool":    {"x": 3, "y": 2},
    "minecraft:white_wool":  {"x": 0, "y": 4}
  }
}`

// CubeOBJ is a unit cube split into two named parts.
const CubeOBJ = `# cube
o top
v -0.5 0.5 -0.5
v 0.5 0.5 -0.5
v 0.5 0.5 0.5
v -0.5 0.5 0.5
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 4/4 3/3 2/2
o sides
v -0.5 -0.5 -0.5
v 0.5 -0.5 -0.5
v 0.5 -0.5 0.5
v -0.5 -0.5 0.5
f 5/1 6/2 2/3 1/4
f 6/1 7/2 3/3 2/4
f 7/1 8/2 4/3 3/4
f 8/1 5/2 1/3 4/4
`

package remote

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/blockview/internal/asset"
	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/monitoring"
	"github.com/banshee-data/blockview/internal/timeutil"
)

var stubLogf = monitoring.Component("Stub")

// maxStubVoxelSpan bounds the grid the stub generates so tests stay fast.
const maxStubVoxelSpan = 24

// StubConfig configures a StubService.
type StubConfig struct {
	MaxUploadBytes  int64
	SessionLifespan time.Duration
	Clock           timeutil.Clock
}

// DefaultStubConfig mirrors the real service: 10 MB uploads and sessions
// kept for a day.
func DefaultStubConfig() StubConfig {
	return StubConfig{
		MaxUploadBytes:  10 << 20,
		SessionLifespan: 24 * time.Hour,
		Clock:           timeutil.RealClock{},
	}
}

type stubSession struct {
	id      string
	created time.Time
	texture image.Image
	voxels  model.VoxelGrid
	blocks  model.BlockList
}

// StubService implements the processing service API in process. It does no
// real reconstruction: the mesh is a cube textured with the upload, the
// voxel grid is a sphere coloured from the texture and blocks are chosen by
// nearest palette colour.
type StubService struct {
	cfg StubConfig

	mu       sync.Mutex
	sessions map[string]*stubSession
	files    map[string][]byte // keyed by URL path under /temp/
}

// NewStubService returns an empty service.
func NewStubService(cfg StubConfig) *StubService {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.SessionLifespan <= 0 {
		cfg.SessionLifespan = 24 * time.Hour
	}
	return &StubService{
		cfg:      cfg,
		sessions: make(map[string]*stubSession),
		files:    make(map[string][]byte),
	}
}

// Handler routes the service endpoints.
func (s *StubService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reconstruct", s.handleReconstruct)
	mux.HandleFunc("/voxelize", s.handleVoxelize)
	mux.HandleFunc("/map-blocks", s.handleMapBlocks)
	for _, f := range []model.ExportFormat{model.FormatLitematic, model.FormatSchem} {
		format := f
		mux.HandleFunc("/export-"+string(format), func(w http.ResponseWriter, r *http.Request) {
			s.handleExport(w, r, format)
		})
	}
	mux.HandleFunc("/temp/", s.handleTemp)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]interface{}{"status": "ok", "sessions": s.SessionCount()})
	})
	return mux
}

// SessionCount returns the number of live sessions.
func (s *StubService) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// PruneExpired deletes sessions older than the configured lifespan along
// with their files, returning how many were removed.
func (s *StubService) PruneExpired() int {
	now := s.cfg.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.created) <= s.cfg.SessionLifespan {
			continue
		}
		prefix := "/temp/" + id + "/"
		for p := range s.files {
			if strings.HasPrefix(p, prefix) {
				delete(s.files, p)
			}
		}
		delete(s.sessions, id)
		removed++
	}
	if removed > 0 {
		stubLogf("pruned %d expired sessions", removed)
	}
	return removed
}

// RunCleanup prunes expired sessions every interval until ctx is done.
func (s *StubService) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := s.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.PruneExpired()
		}
	}
}

func (s *StubService) session(id string) (*stubSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *StubService) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes + 1<<20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d MB.", s.cfg.MaxUploadBytes>>20))
			return
		}
		httputil.BadRequest(w, "Expected a multipart form with an image field.")
		return
	}
	f, _, err := r.FormFile("image")
	if err != nil {
		httputil.BadRequest(w, "Missing image field.")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		httputil.BadRequest(w, "Could not read image.")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d MB.", s.cfg.MaxUploadBytes>>20))
		return
	}
	if err := ValidateUpload(data, 0); err != nil {
		httputil.BadRequest(w, "Not a valid image. Only JPEG, PNG and BMP are accepted.")
		return
	}
	img, _, err := asset.DecodeImage(data)
	if err != nil {
		httputil.BadRequest(w, "Image could not be decoded.")
		return
	}

	var tex bytes.Buffer
	if err := png.Encode(&tex, img); err != nil {
		httputil.InternalServerError(w, "Internal error while reconstructing the 3D model.")
		return
	}

	id := uuid.New().String()
	objPath := "/temp/" + id + "/model.obj"
	texPath := "/temp/" + id + "/baked_texture.png"

	s.mu.Lock()
	s.sessions[id] = &stubSession{id: id, created: s.cfg.Clock.Now(), texture: img}
	s.files[objPath] = []byte(stubCubeOBJ)
	s.files[texPath] = tex.Bytes()
	s.mu.Unlock()

	stubLogf("[%s] reconstructed %dx%d image (remove_bg=%s, resolution=%s)",
		id, img.Bounds().Dx(), img.Bounds().Dy(), r.FormValue("remove_bg"), r.FormValue("resolution"))
	httputil.WriteJSONOK(w, map[string]string{
		"sessionId":  id,
		"objUrl":     objPath,
		"textureUrl": texPath,
	})
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		httputil.BadRequest(w, "Malformed JSON body.")
		return false
	}
	return true
}

func (s *StubService) handleVoxelize(w http.ResponseWriter, r *http.Request) {
	var req voxelizeRequest
	if !decodeSessionRequest(w, r, &req) {
		return
	}
	if req.MaxBlocks <= 0 {
		httputil.BadRequest(w, "maxBlocks must be a positive integer.")
		return
	}
	sess, ok := s.session(req.SessionID)
	if !ok {
		httputil.NotFound(w, "Model or texture not found for this session.")
		return
	}

	grid := sphereGrid(req.MaxBlocks, req.Fill, sess.texture)
	s.mu.Lock()
	sess.voxels = grid
	sess.blocks = nil
	s.mu.Unlock()

	stubLogf("[%s] voxelized: %d voxels (maxBlocks=%d fill=%v)", sess.id, len(grid), req.MaxBlocks, req.Fill)
	httputil.WriteJSONOK(w, map[string]interface{}{"sessionId": sess.id, "voxels": grid})
}

func (s *StubService) handleMapBlocks(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeSessionRequest(w, r, &req) {
		return
	}
	sess, ok := s.session(req.SessionID)
	s.mu.Lock()
	var blocks model.BlockList
	if ok && sess.voxels != nil {
		blocks = mapToPalette(sess.voxels)
		sess.blocks = blocks
	}
	s.mu.Unlock()
	if blocks == nil {
		httputil.NotFound(w, "Voxel data not found. Run stage 2 first.")
		return
	}

	stubLogf("[%s] mapped %d blocks", sess.id, len(blocks))
	httputil.WriteJSONOK(w, map[string]interface{}{"sessionId": sess.id, "blocks": blocks})
}

func (s *StubService) handleExport(w http.ResponseWriter, r *http.Request, format model.ExportFormat) {
	var req sessionRequest
	if !decodeSessionRequest(w, r, &req) {
		return
	}
	sess, ok := s.session(req.SessionID)
	s.mu.Lock()
	var blocks model.BlockList
	if ok {
		blocks = sess.blocks
	}
	s.mu.Unlock()
	if blocks == nil {
		httputil.NotFound(w, "Block mapping not found. Run stage 3 first.")
		return
	}

	data, err := encodeStubSchematic(format, blocks)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	p := "/temp/" + sess.id + "/output." + string(format)
	s.mu.Lock()
	s.files[p] = data
	s.mu.Unlock()

	stubLogf("[%s] exported %d blocks as .%s", sess.id, len(blocks), format)
	httputil.WriteJSONOK(w, map[string]string{"downloadUrl": p})
}

func (s *StubService) handleTemp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	p := path.Clean(r.URL.Path)
	s.mu.Lock()
	data, ok := s.files[p]
	s.mu.Unlock()
	if !ok {
		httputil.NotFound(w, "File not found.")
		return
	}
	switch path.Ext(p) {
	case ".png":
		w.Header().Set("Content-Type", "image/png")
	case ".obj":
		w.Header().Set("Content-Type", "text/plain")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// sphereGrid fills a sphere whose diameter is maxBlocks (capped), coloured
// by projecting the texture onto the x/y plane. Without fill only the
// outer shell is kept.
func sphereGrid(maxBlocks int, fill bool, tex image.Image) model.VoxelGrid {
	span := maxBlocks
	if span > maxStubVoxelSpan {
		span = maxStubVoxelSpan
	}
	radius := float64(span) / 2
	centre := float64(span-1) / 2
	grid := make(model.VoxelGrid)
	for x := 0; x < span; x++ {
		for y := 0; y < span; y++ {
			for z := 0; z < span; z++ {
				d := math.Sqrt(sq(float64(x)-centre) + sq(float64(y)-centre) + sq(float64(z)-centre))
				if d > radius || (!fill && d < radius-1) {
					continue
				}
				grid[model.VoxelKey{X: x, Y: y, Z: z}] = sampleTexture(tex, float64(x)/float64(span), float64(y)/float64(span))
			}
		}
	}
	return grid
}

func sq(v float64) float64 { return v * v }

func sampleTexture(img image.Image, u, v float64) model.Color {
	if img == nil {
		return model.Color{R: 128, G: 128, B: 128}
	}
	b := img.Bounds()
	px := b.Min.X + int(u*float64(b.Dx()))
	// Voxel y grows upwards, image rows grow downwards.
	py := b.Max.Y - 1 - int(v*float64(b.Dy()))
	r, g, bl, _ := img.At(px, py).RGBA()
	return model.Color{R: float64(r >> 8), G: float64(g >> 8), B: float64(bl >> 8)}
}

type paletteEntry struct {
	name  string
	color model.Color
}

var stubPalette = []paletteEntry{
	{"minecraft:stone", model.Color{R: 125, G: 125, B: 125}},
	{"minecraft:dirt", model.Color{R: 134, G: 96, B: 67}},
	{"minecraft:oak_planks", model.Color{R: 162, G: 130, B: 78}},
	{"minecraft:sand", model.Color{R: 219, G: 207, B: 163}},
	{"minecraft:white_wool", model.Color{R: 233, G: 236, B: 236}},
	{"minecraft:black_wool", model.Color{R: 21, G: 21, B: 26}},
	{"minecraft:red_wool", model.Color{R: 161, G: 39, B: 34}},
	{"minecraft:green_wool", model.Color{R: 84, G: 109, B: 27}},
	{"minecraft:blue_wool", model.Color{R: 53, G: 57, B: 157}},
	{"minecraft:yellow_wool", model.Color{R: 248, G: 197, B: 39}},
}

// nearestBlock picks the palette entry closest in RGB space.
func nearestBlock(c model.Color) string {
	best, bestDist := stubPalette[0].name, math.Inf(1)
	for _, p := range stubPalette {
		d := sq(c.R-p.color.R) + sq(c.G-p.color.G) + sq(c.B-p.color.B)
		if d < bestDist {
			best, bestDist = p.name, d
		}
	}
	return best
}

func mapToPalette(grid model.VoxelGrid) model.BlockList {
	blocks := make(model.BlockList, 0, len(grid))
	for _, k := range grid.SortedKeys() {
		blocks = append(blocks, model.Block{
			Name:     nearestBlock(grid[k]),
			Position: model.BlockPos{X: k.X, Y: k.Y, Z: k.Z},
		})
	}
	return blocks
}

// encodeStubSchematic writes a gzip-compressed JSON stand-in for a real
// schematic: the palette and the block positions.
func encodeStubSchematic(format model.ExportFormat, blocks model.BlockList) ([]byte, error) {
	doc := struct {
		Format  string          `json:"format"`
		Palette []string        `json:"palette"`
		Blocks  model.BlockList `json:"blocks"`
	}{string(format), blocks.Palette(), blocks}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode schematic: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress schematic: %w", err)
	}
	return buf.Bytes(), nil
}

const stubCubeOBJ = `# blockview stub reconstruction
o model
v -0.5 -0.5 0.5
v 0.5 -0.5 0.5
v 0.5 0.5 0.5
v -0.5 0.5 0.5
v -0.5 -0.5 -0.5
v 0.5 -0.5 -0.5
v 0.5 0.5 -0.5
v -0.5 0.5 -0.5
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3 4/4
f 6/1 5/2 8/3 7/4
f 2/1 6/2 7/3 3/4
f 5/1 1/2 4/3 8/4
f 4/1 3/2 7/3 8/4
f 5/1 6/2 2/3 1/4
`

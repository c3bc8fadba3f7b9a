package monitor

import (
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/scene"
)

const maxPreviewPoints = 20000

// handlePreview renders a top-down (X/Z) scatter of the displayed root as
// PNG. Query params:
//   - size (optional; default 480, 100..2000) edge length in points
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	size := 480
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 || n > 2000 {
			httputil.BadRequest(w, "size must be between 100 and 2000")
			return
		}
		size = n
	}
	root := s.currentRoot(w)
	if root == nil {
		return
	}

	p, err := previewPlot(root)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build preview: %v", err))
		return
	}
	wt, err := p.WriterTo(vg.Points(float64(size)), vg.Points(float64(size)), "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render preview: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		logf("preview write failed: %v", err)
	}
}

func previewPlot(root *scene.Root) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (top-down)", root.Kind)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Z"
	p.Add(plotter.NewGrid())

	pts := topDownPoints(root, maxPreviewPoints)
	if len(pts) == 0 {
		return p, nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	sc.GlyphStyle.Shape = draw.BoxGlyph{}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	sc.GlyphStyle.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	p.Add(sc)
	return p, nil
}

// topDownPoints projects the root onto the X/Z plane. Meshes contribute
// their vertices, instanced batches one point per instance. The result is
// strided down to at most limit points.
func topDownPoints(root *scene.Root, limit int) plotter.XYs {
	origin := root.Group.Position
	var pts plotter.XYs
	root.Group.Walk(func(o scene.Object) {
		switch v := o.(type) {
		case *scene.Mesh:
			for _, q := range v.Geometry.Positions {
				pts = append(pts, plotter.XY{
					X: origin.X + v.Position.X + float64(q[0]),
					Y: origin.Z + v.Position.Z + float64(q[2]),
				})
			}
		case *scene.InstancedMesh:
			for _, m := range v.Matrices {
				t := m.Col(3)
				pts = append(pts, plotter.XY{X: origin.X + float64(t[0]), Y: origin.Z + float64(t[2])})
			}
		}
	})
	if limit <= 0 || len(pts) <= limit {
		return pts
	}
	stride := (len(pts) + limit - 1) / limit
	out := make(plotter.XYs, 0, limit)
	for i := 0; i < len(pts); i += stride {
		out = append(out, pts[i])
	}
	return out
}

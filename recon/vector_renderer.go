package recon

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// ProjectionAxes selects which two world axes the overview is drawn in
type ProjectionAxes [2]int

var (
	AxesXY = ProjectionAxes{0, 1} // Top-down
	AxesXZ = ProjectionAxes{0, 2} // Front
	AxesYZ = ProjectionAxes{1, 2} // Side
)

// ParseAxes maps "xy", "xz" or "yz" to ProjectionAxes
func ParseAxes(s string) (ProjectionAxes, error) {
	switch s {
	case "", "xy":
		return AxesXY, nil
	case "xz":
		return AxesXZ, nil
	case "yz":
		return AxesYZ, nil
	}
	return ProjectionAxes{}, fmt.Errorf("unknown projection %q", s)
}

var (
	faceFill    = color.RGBA{200, 200, 200, 255}
	faceEdge    = color.RGBA{120, 120, 120, 255}
	cameraColor = color.RGBA{60, 60, 60, 255}
	mainColor   = color.RGBA{220, 60, 40, 255}
	pairColor   = color.RGBA{40, 110, 220, 255}
)

// OverviewRenderer draws an orthographic overview of a mesh, the candidate
// camera centers and the chosen camera pairs
type OverviewRenderer struct {
	Mesh       *Mesh
	Cameras    []Mat4
	Plan       *ChosenCameraSet // Optional
	Axes       ProjectionAxes
	Size       float64           // Longest side of the drawing in millimeters
	Padding    float64           // Padding in millimeters
	Resolution canvas.Resolution // Resolution for PNG output
}

// NewOverviewRenderer creates an overview renderer with default settings
func NewOverviewRenderer(m *Mesh, cameras []Mat4, plan *ChosenCameraSet) *OverviewRenderer {
	return &OverviewRenderer{
		Mesh:       m,
		Cameras:    cameras,
		Plan:       plan,
		Axes:       AxesXY,
		Size:       200.0,
		Padding:    10.0,
		Resolution: canvas.DPI(96),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overview as an SVG to the provided writer
func (r *OverviewRenderer) RenderToSVG(w io.Writer) error {
	v := r.viewport()
	svgRenderer := svg.New(w, v.width, v.height, nil)
	r.renderToCanvas(svgRenderer, v)
	return svgRenderer.Close()
}

// RenderToPNG writes the overview as a PNG to the provided writer
func (r *OverviewRenderer) RenderToPNG(w io.Writer) error {
	v := r.viewport()
	rast := rasterizer.New(v.width, v.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, v)
	return png.Encode(w, rast)
}

// viewport maps projected world coordinates onto the drawing
type viewport struct {
	bound         orb.Bound
	scale         float64
	padding       float64
	width, height float64
}

func (v viewport) toCanvas(p orb.Point) (float64, float64) {
	return (p[0]-v.bound.Min[0])*v.scale + v.padding, (p[1]-v.bound.Min[1])*v.scale + v.padding
}

// project drops the world axis not in Axes
func (r *OverviewRenderer) project(c Vec3) orb.Point {
	return orb.Point{c[r.Axes[0]], c[r.Axes[1]]}
}

// cameraCenters returns the projected centers of cameras at finite positions,
// indexed like Cameras; ok[i] is false for cameras at infinity
func (r *OverviewRenderer) cameraCenters() ([]orb.Point, []bool) {
	centers := make([]orb.Point, len(r.Cameras))
	ok := make([]bool, len(r.Cameras))
	for i, P := range r.Cameras {
		c := CameraCenter(P)
		if c[3] == 0 {
			continue
		}
		centers[i] = r.project(c.Cartesian())
		ok[i] = true
	}
	return centers, ok
}

func (r *OverviewRenderer) viewport() viewport {
	var pts orb.MultiPoint
	if r.Mesh != nil {
		for _, v := range r.Mesh.Vertices {
			pts = append(pts, r.project(v.Cartesian()))
		}
	}
	centers, ok := r.cameraCenters()
	for i, c := range centers {
		if ok[i] {
			pts = append(pts, c)
		}
	}

	v := viewport{padding: r.Padding, scale: 1}
	if len(pts) > 0 {
		v.bound = pts.Bound()
	}
	extent := math.Max(v.bound.Max[0]-v.bound.Min[0], v.bound.Max[1]-v.bound.Min[1])
	if extent > 0 {
		v.scale = r.Size / extent
	}
	v.width = (v.bound.Max[0]-v.bound.Min[0])*v.scale + 2*r.Padding
	v.height = (v.bound.Max[1]-v.bound.Min[1])*v.scale + 2*r.Padding
	return v
}

func (r *OverviewRenderer) renderToCanvas(renderer canvasRenderer, v viewport) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(v.width, v.height), bgStyle, canvas.Identity)

	if r.Mesh != nil {
		faceStyle := canvas.DefaultStyle
		faceStyle.Fill = canvas.Paint{Color: faceFill}
		faceStyle.Stroke = canvas.Paint{Color: faceEdge}
		faceStyle.StrokeWidth = 0.1

		for f := range r.Mesh.Faces {
			a, b, c := r.Mesh.Corners(f)
			cp := &canvas.Path{}
			cp.MoveTo(v.toCanvas(r.project(a)))
			cp.LineTo(v.toCanvas(r.project(b)))
			cp.LineTo(v.toCanvas(r.project(c)))
			cp.Close()
			renderer.RenderPath(cp, faceStyle, canvas.Identity)
		}
	}

	centers, ok := r.cameraCenters()

	if r.Plan != nil {
		pairStyle := canvas.DefaultStyle
		pairStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		pairStyle.Stroke = canvas.Paint{Color: pairColor}
		pairStyle.StrokeWidth = 0.3

		for _, b := range r.Plan.Bundles() {
			if b.Main >= len(centers) || !ok[b.Main] {
				continue
			}
			for _, side := range b.Sides {
				if side >= len(centers) || !ok[side] {
					continue
				}
				line := &canvas.Path{}
				line.MoveTo(v.toCanvas(centers[b.Main]))
				line.LineTo(v.toCanvas(centers[side]))
				renderer.RenderPath(line, pairStyle, canvas.Identity)
			}
		}
	}

	for i, c := range centers {
		if !ok[i] {
			continue
		}
		camStyle := canvas.DefaultStyle
		camStyle.Fill = canvas.Paint{Color: cameraColor}
		camStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		radius := 1.0
		if r.Plan != nil && len(r.Plan.Sides(i)) > 0 {
			camStyle.Fill = canvas.Paint{Color: mainColor}
			radius = 1.8
		}
		cx, cy := v.toCanvas(c)
		renderer.RenderPath(canvas.Circle(radius).Translate(cx, cy), camStyle, canvas.Identity)
	}
}

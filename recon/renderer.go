package recon

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// BackgroundDepth marks a pixel no geometry covers
const BackgroundDepth = math.MaxFloat64

// DepthBuffer holds NDC depth per pixel, row-major. Row r covers
// y in [2r/H - 1, 2(r+1)/H - 1); column c covers x likewise over W.
type DepthBuffer struct {
	Width  int
	Height int
	Depth  []float64
}

// NewDepthBuffer returns a buffer filled with BackgroundDepth
func NewDepthBuffer(width, height int) *DepthBuffer {
	d := &DepthBuffer{Width: width, Height: height, Depth: make([]float64, width*height)}
	for i := range d.Depth {
		d.Depth[i] = BackgroundDepth
	}
	return d
}

// At returns the depth stored at (row, col)
func (d *DepthBuffer) At(row, col int) float64 {
	return d.Depth[row*d.Width+col]
}

// Set stores depth at (row, col)
func (d *DepthBuffer) Set(row, col int, depth float64) {
	d.Depth[row*d.Width+col] = depth
}

// Pixel maps NDC (x, y) to the covering pixel. ok is false outside the buffer.
func (d *DepthBuffer) Pixel(x, y float64) (row, col int, ok bool) {
	fr := math.Floor((y + 1) * float64(d.Height) / 2)
	fc := math.Floor((x + 1) * float64(d.Width) / 2)
	if fr < 0 || fc < 0 || fr >= float64(d.Height) || fc >= float64(d.Width) {
		return 0, 0, false
	}
	return int(fr), int(fc), true
}

// Coverage returns the number of pixels holding geometry
func (d *DepthBuffer) Coverage() int {
	n := 0
	for _, z := range d.Depth {
		if z != BackgroundDepth {
			n++
		}
	}
	return n
}

// Image renders near geometry bright and background black, with +y up.
// A non-empty caption is drawn in the top-left corner.
func (d *DepthBuffer) Image(caption string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for row := 0; row < d.Height; row++ {
		for col := 0; col < d.Width; col++ {
			z := d.At(row, col)
			c := color.RGBA{A: 255}
			if z != BackgroundDepth {
				v := uint8(255 - math.Round((z+1)/2*215))
				c = color.RGBA{R: v, G: v, B: v, A: 255}
			}
			img.SetRGBA(col, d.Height-1-row, c)
		}
	}
	if caption != "" {
		drawText(img, 4, 14, caption, color.RGBA{R: 255, G: 200, B: 0, A: 255})
	}
	return img
}

// WriteDepthPNG encodes the buffer as a captioned PNG
func WriteDepthPNG(w io.Writer, d *DepthBuffer, caption string) error {
	return png.Encode(w, d.Image(caption))
}

// SaveDepthPNG writes the buffer to a PNG file
func SaveDepthPNG(path string, d *DepthBuffer, caption string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return WriteDepthPNG(f, d, caption)
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// Renderer rasterizes the loaded mesh into a depth buffer
type Renderer interface {
	LoadMesh(m *Mesh)
	Depth(camera Mat4) *DepthBuffer
}

// RasterRenderer is a software z-buffer rasterizer
type RasterRenderer struct {
	Width  int
	Height int
	mesh   *Mesh
}

// NewRasterRenderer creates a renderer producing width x height buffers
func NewRasterRenderer(width, height int) *RasterRenderer {
	return &RasterRenderer{Width: width, Height: height}
}

// LoadMesh sets the mesh drawn by subsequent Depth calls
func (r *RasterRenderer) LoadMesh(m *Mesh) {
	r.mesh = m
}

// screenVertex is a projected vertex in pixel units with its NDC depth
type screenVertex struct {
	x, y, z float64
}

// Depth renders the mesh through camera. Triangles with a vertex at or
// behind the camera plane (clip w <= 0) are skipped; fragments outside the
// NDC depth range are discarded.
func (r *RasterRenderer) Depth(camera Mat4) *DepthBuffer {
	buf := NewDepthBuffer(r.Width, r.Height)
	if r.mesh == nil {
		return buf
	}

	screen := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{float64(r.Width), float64(r.Height)}}
	projected := make([]screenVertex, len(r.mesh.Vertices))
	visible := make([]bool, len(r.mesh.Vertices))
	for i, v := range r.mesh.Vertices {
		clip := camera.Apply(v)
		if clip[3] <= 0 || v[3] == 0 {
			continue
		}
		clip = clip.Scale(1 / clip[3])
		projected[i] = screenVertex{
			x: (clip[0] + 1) * float64(r.Width) / 2,
			y: (clip[1] + 1) * float64(r.Height) / 2,
			z: clip[2],
		}
		visible[i] = true
	}

	for _, face := range r.mesh.Faces {
		if !visible[face[0]] || !visible[face[1]] || !visible[face[2]] {
			continue
		}
		p0, p1, p2 := projected[face[0]], projected[face[1]], projected[face[2]]
		bound := orb.MultiPoint{{p0.x, p0.y}, {p1.x, p1.y}, {p2.x, p2.y}}.Bound()
		if !bound.Intersects(screen) {
			continue
		}
		r.fillTriangle(buf, p0, p1, p2, bound)
	}
	return buf
}

// fillTriangle z-buffers one triangle, sampling at pixel centers
func (r *RasterRenderer) fillTriangle(buf *DepthBuffer, p0, p1, p2 screenVertex, bound orb.Bound) {
	area := edgeFunction(p0, p1, p2.x, p2.y)
	if area == 0 {
		return
	}
	minCol := int(math.Max(0, math.Floor(bound.Min[0])))
	maxCol := int(math.Min(float64(r.Width-1), math.Floor(bound.Max[0])))
	minRow := int(math.Max(0, math.Floor(bound.Min[1])))
	maxRow := int(math.Min(float64(r.Height-1), math.Floor(bound.Max[1])))

	for row := minRow; row <= maxRow; row++ {
		py := float64(row) + 0.5
		for col := minCol; col <= maxCol; col++ {
			px := float64(col) + 0.5
			b0 := edgeFunction(p1, p2, px, py) / area
			b1 := edgeFunction(p2, p0, px, py) / area
			b2 := edgeFunction(p0, p1, px, py) / area
			if b0 < 0 || b1 < 0 || b2 < 0 {
				continue
			}
			z := b0*p0.z + b1*p1.z + b2*p2.z
			if z < -1 || z > 1 {
				continue
			}
			if z < buf.At(row, col) {
				buf.Set(row, col, z)
			}
		}
	}
}

// edgeFunction is twice the signed area of (a, b, (x, y))
func edgeFunction(a, b screenVertex, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

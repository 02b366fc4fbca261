package recon

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthBuffer_Pixel(t *testing.T) {
	d := NewDepthBuffer(4, 2)
	tests := []struct {
		name     string
		x, y     float64
		row, col int
		ok       bool
	}{
		{"bottom left corner", -1, -1, 0, 0, true},
		{"center", 0, 0, 1, 2, true},
		{"just inside top right", 0.999, 0.999, 1, 3, true},
		{"right edge is outside", 1, 0, 0, 0, false},
		{"top edge is outside", 0, 1, 0, 0, false},
		{"left of buffer", -1.01, 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, col, ok := d.Pixel(tt.x, tt.y)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.row, row)
				assert.Equal(t, tt.col, col)
			}
		})
	}
}

func TestRasterRenderer_SquareCoverage(t *testing.T) {
	r := NewRasterRenderer(64, 48)
	r.LoadMesh(centeredSquare(0.5, 0))

	cam := lookDown(Vec3{0, 0, 2})
	buf := r.Depth(cam)

	// The square spans NDC [-0.125, 0.125] on both axes: 8 columns by 6 rows.
	assert.Equal(t, 48, buf.Coverage())

	clip := cam.Apply(NewPoint(0, 0, 0))
	want := clip[2] / clip[3]
	row, col, ok := buf.Pixel(0, 0)
	require.True(t, ok)
	assert.InDelta(t, want, buf.At(row, col), 1e-9)
	assert.Equal(t, BackgroundDepth, buf.At(0, 0))
}

func TestRasterRenderer_NearestSurfaceWins(t *testing.T) {
	far := centeredSquare(0.5, 0)
	near := centeredSquare(0.25, 1)
	m := &Mesh{Vertices: append(append([]Point{}, far.Vertices...), near.Vertices...)}
	m.Faces = append(m.Faces, far.Faces...)
	for _, f := range near.Faces {
		m.Faces = append(m.Faces, [3]int{f[0] + 4, f[1] + 4, f[2] + 4})
	}

	r := NewRasterRenderer(64, 48)
	r.LoadMesh(m)
	cam := lookDown(Vec3{0, 0, 2})
	buf := r.Depth(cam)

	clip := cam.Apply(NewPoint(0, 0, 1))
	row, col, _ := buf.Pixel(0, 0)
	assert.InDelta(t, clip[2]/clip[3], buf.At(row, col), 1e-9)
}

func TestRasterRenderer_SkipsGeometryBehindCamera(t *testing.T) {
	r := NewRasterRenderer(32, 32)
	r.LoadMesh(centeredSquare(0.5, 3))
	buf := r.Depth(lookDown(Vec3{0, 0, 2}))
	assert.Equal(t, 0, buf.Coverage())
}

func TestRasterRenderer_NoMesh(t *testing.T) {
	buf := NewRasterRenderer(8, 8).Depth(Identity4())
	assert.Equal(t, 0, buf.Coverage())
	assert.Len(t, buf.Depth, 64)
}

func TestDepthBuffer_ImageAndPNG(t *testing.T) {
	r := NewRasterRenderer(64, 48)
	r.LoadMesh(centeredSquare(0.5, 0))
	buf := r.Depth(lookDown(Vec3{0, 0, 2}))

	img := buf.Image("shot 1")
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
	assert.Equal(t, uint8(0), img.RGBAAt(63, 47).R, "background stays black")
	row, col, _ := buf.Pixel(0, 0)
	assert.NotZero(t, img.RGBAAt(col, 47-row).R, "geometry is lit")

	captioned := false
	for y := 0; y < 16 && !captioned; y++ {
		for x := 0; x < 40; x++ {
			if c := img.RGBAAt(x, y); c.G == 200 && c.B == 0 {
				captioned = true
				break
			}
		}
	}
	assert.True(t, captioned, "caption drawn in the top-left corner")

	var out bytes.Buffer
	require.NoError(t, WriteDepthPNG(&out, buf, ""))
	decoded, err := png.Decode(&out)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

// ---- helpers ----

// lookDown is a projection from center looking along -z with +x to the right
func lookDown(center Vec3) Mat4 {
	rt := RigidTransform([3]Vec3{{1, 0, 0}, {0, -1, 0}, {0, 0, -1}}, center)
	return Perspective(viewerFocal, viewerNear, viewerFar).Mul(rt)
}

// centeredSquare is an axis-aligned square of half-size h at height z,
// wound counter-clockwise seen from +z
func centeredSquare(h, z float64) *Mesh {
	return &Mesh{
		Vertices: []Point{
			NewPoint(-h, -h, z),
			NewPoint(h, -h, z),
			NewPoint(h, h, z),
			NewPoint(-h, h, z),
		},
		Faces: [][3]int{{0, 1, 2}, {0, 2, 3}},
	}
}

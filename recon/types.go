package recon

import (
	"errors"
	"fmt"
	"math"
)

// Vec3 is a Cartesian 3-vector. Normals use the same representation.
type Vec3 [3]float64

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

// Dot returns the scalar product of v and o.
func (v Vec3) Dot(o Vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

// Cross returns the vector product v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Normalized returns v scaled to unit length, or the zero vector when v is zero.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

// Homogeneous lifts v to a Point with w = 1.
func (v Vec3) Homogeneous() Point { return Point{v[0], v[1], v[2], 1} }

// Point is a homogeneous 4-vector (x, y, z, w).
type Point [4]float64

// NewPoint returns the homogeneous point (x, y, z, 1).
func NewPoint(x, y, z float64) Point { return Point{x, y, z, 1} }

// Cartesian returns (x/w, y/w, z/w).
func (p Point) Cartesian() Vec3 {
	return Vec3{p[0] / p[3], p[1] / p[3], p[2] / p[3]}
}

// Scale multiplies every component, including w, by s.
func (p Point) Scale(s float64) Point {
	return Point{p[0] * s, p[1] * s, p[2] * s, p[3] * s}
}

// CartesianCloud converts homogeneous points to Cartesian coordinates.
func CartesianCloud(points []Point) []Vec3 {
	out := make([]Vec3, len(points))
	for i, p := range points {
		out[i] = p.Cartesian()
	}
	return out
}

var (
	// ErrFaceIndexOutOfRange is returned when a face references a vertex that does not exist.
	ErrFaceIndexOutOfRange = errors.New("face index out of range")
	// ErrNonTriangularFace is returned when a mesh source holds a polygon that is not a triangle.
	ErrNonTriangularFace = errors.New("face is not a triangle")
)

// Mesh is a triangle mesh over homogeneous vertices.
type Mesh struct {
	Vertices []Point  `json:"vertices"`
	Faces    [][3]int `json:"faces"`
}

// Validate checks that every face index refers to an existing vertex.
func (m *Mesh) Validate() error {
	for f, face := range m.Faces {
		for _, idx := range face {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("face %d vertex %d: %w", f, idx, ErrFaceIndexOutOfRange)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{
		Vertices: make([]Point, len(m.Vertices)),
		Faces:    make([][3]int, len(m.Faces)),
	}
	copy(out.Vertices, m.Vertices)
	copy(out.Faces, m.Faces)
	return out
}

// Corners returns the Cartesian positions of face f's three vertices.
func (m *Mesh) Corners(f int) (a, b, c Vec3) {
	face := m.Faces[f]
	return m.Vertices[face[0]].Cartesian(), m.Vertices[face[1]].Cartesian(), m.Vertices[face[2]].Cartesian()
}

// FaceArea returns the area of face f.
func (m *Mesh) FaceArea(f int) float64 {
	a, b, c := m.Corners(f)
	return b.Sub(a).Cross(c.Sub(b)).Norm() / 2
}

// BoundingBoxSize returns the largest extent of the axis-aligned box around points.
func BoundingBoxSize(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	lo := points[0].Cartesian()
	hi := lo
	for _, p := range points[1:] {
		c := p.Cartesian()
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], c[k])
			hi[k] = math.Max(hi[k], c[k])
		}
	}
	size := 0.0
	for k := 0; k < 3; k++ {
		size = math.Max(size, hi[k]-lo[k])
	}
	return size
}

// Config represents the full configuration file
type Config struct {
	Iterations      int           `yaml:"iterations" json:"iterations"`                           // Iteration budget for NotHappy
	Verbosity       int           `yaml:"verbosity" json:"verbosity"`                             // 0 quiet, 1 phases, 2 statistics
	SeedMesh        string        `yaml:"seedMesh,omitempty" json:"seedMesh,omitempty"`           // Optional OBJ loaded at iteration 1
	CameraThreshold float64       `yaml:"cameraThreshold" json:"cameraThreshold"`                 // Camera-pair threshold scalar
	Render          RenderConfig  `yaml:"render" json:"render"`                                   // Depth buffer size
	RandomSeed      int64         `yaml:"randomSeed,omitempty" json:"randomSeed,omitempty"`       // 0 seeds from the clock
	DensityFilter   *bool         `yaml:"densityFilter,omitempty" json:"densityFilter,omitempty"` // Filter points on iterations > 1 (default true)
	Strategy        string        `yaml:"strategy,omitempty" json:"strategy,omitempty"`           // Reconstruction after iteration 1 (default poisson)
	Poisson         PoissonConfig `yaml:"poisson" json:"poisson"`                                 // Poisson backend and post filter depth
	RBF             CommandConfig `yaml:"rbf,omitempty" json:"rbf,omitempty"`                     // RBF backend
	Greedy          CommandConfig `yaml:"greedy,omitempty" json:"greedy,omitempty"`               // Greedy triangulation backend
	AlphaShape      CommandConfig `yaml:"alphaShape,omitempty" json:"alphaShape,omitempty"`       // Alpha-shape backend for iteration 1
	Refine          CommandConfig `yaml:"refine,omitempty" json:"refine,omitempty"`               // External photometric refinement
	Normals         NormalsConfig `yaml:"normals,omitempty" json:"normals,omitempty"`             // Normal estimation
	MQTT            MQTTConfig    `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`                   // Plan publishing
	Ledger          LedgerConfig  `yaml:"ledger,omitempty" json:"ledger,omitempty"`               // sqlite run history
}

// RenderConfig holds the depth buffer dimensions
type RenderConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// PoissonConfig configures the hole-filling reconstruction backend
type PoissonConfig struct {
	Depth   int    `yaml:"depth" json:"depth"`                         // Octree depth, drives the post filter cutoff
	Command string `yaml:"command,omitempty" json:"command,omitempty"` // Template with {in}, {out}, {depth}
}

// CommandConfig configures an external command backend
type CommandConfig struct {
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
}

// NormalsConfig configures PCA normal estimation
type NormalsConfig struct {
	Neighbors int `yaml:"neighbors" json:"neighbors"` // k nearest neighbours per point
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// LedgerConfig locates the sqlite run ledger
type LedgerConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// DefaultConfig returns the configuration used when no file overrides a key
func DefaultConfig() *Config {
	return &Config{
		Iterations:      3,
		Verbosity:       1,
		CameraThreshold: 1.0,
		Render:          RenderConfig{Width: 640, Height: 480},
		Strategy:        string(StrategyPoisson),
		Poisson:         PoissonConfig{Depth: 8},
		Normals:         NormalsConfig{Neighbors: 20},
	}
}

// FilterEnabled reports whether the density filter runs on later iterations
func (c *Config) FilterEnabled() bool {
	return c.DensityFilter == nil || *c.DensityFilter
}

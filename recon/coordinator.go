package recon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"
)

// ErrNoAlpha is returned when a step needs the alpha history before the
// first tessellation recorded one
var ErrNoAlpha = errors.New("no alpha value recorded yet")

// Backends are the pluggable collaborators of a Coordinator. Zero fields are
// built from the configuration.
type Backends struct {
	Reconstructor SurfaceReconstructor // Strategy used after iteration 1
	AlphaShaper   AlphaShaper          // Seed mesh builder for iteration 1
	Renderer      Renderer             // Depth renderer for camera selection
	NewIndex      IndexBuilder         // Neighbour index for the density filter
	Rand          *rand.Rand           // Sampling source
	SeedLoader    func(path string) (*Mesh, error)
}

// Coordinator runs the per-iteration state machine: it decides when to
// stop, which tessellation to use, how far to filter and which cameras to
// refine with
type Coordinator struct {
	config        *Config
	cameras       []Mat4
	reconstructor SurfaceReconstructor
	alphaShaper   AlphaShaper
	newIndex      IndexBuilder
	seedLoader    func(path string) (*Mesh, error)
	selector      *CameraSelector

	iteration int
	alphas    []float64
	mesh      *Mesh
}

// NewCoordinator validates the configuration and wires the backends
func NewCoordinator(config *Config, cameras []Mat4, b Backends) (*Coordinator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	strategy, _ := ParseStrategy(config.Strategy)

	if b.Reconstructor == nil {
		b.Reconstructor = NewReconstructor(strategy, config)
	}
	if b.AlphaShaper == nil && config.AlphaShape.Command != "" {
		b.AlphaShaper = &ExecAlphaShaper{Command: config.AlphaShape.Command, Verbosity: config.Verbosity}
	}
	if b.Renderer == nil {
		b.Renderer = NewRasterRenderer(config.Render.Width, config.Render.Height)
	}
	if b.NewIndex == nil {
		b.NewIndex = DefaultIndexBuilder
	}
	if b.Rand == nil {
		seed := config.RandomSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		b.Rand = rand.New(rand.NewSource(seed))
	}
	if b.SeedLoader == nil {
		b.SeedLoader = ReadOBJ
	}

	selector := NewCameraSelector(SelectorConfig{
		Width:     config.Render.Width,
		Height:    config.Render.Height,
		Threshold: config.CameraThreshold,
		Shots:     shotCount,
		Verbosity: config.Verbosity,
	}, b.Renderer, b.Rand)

	return &Coordinator{
		config:        config,
		cameras:       cameras,
		reconstructor: b.Reconstructor,
		alphaShaper:   b.AlphaShaper,
		newIndex:      b.NewIndex,
		seedLoader:    b.SeedLoader,
		selector:      selector,
	}, nil
}

// NewReconstructor builds the configured backend for a strategy. Poisson
// output is post filtered at the finest octree cell.
func NewReconstructor(strategy Strategy, config *Config) SurfaceReconstructor {
	neighbors := config.Normals.Neighbors
	if neighbors == 0 {
		neighbors = DefaultNormalNeighbors
	}
	switch strategy {
	case StrategyRBF:
		return &ExecReconstructor{Command: config.RBF.Command, Depth: config.Poisson.Depth, Neighbors: neighbors, Verbosity: config.Verbosity}
	case StrategyGreedy:
		return &ExecReconstructor{Command: config.Greedy.Command, Neighbors: neighbors, Verbosity: config.Verbosity}
	default:
		return &PoissonSurface{
			Backend: &ExecReconstructor{
				Command:   config.Poisson.Command,
				Depth:     config.Poisson.Depth,
				Neighbors: neighbors,
				Verbosity: config.Verbosity,
			},
			Depth:     config.Poisson.Depth,
			Verbosity: config.Verbosity,
		}
	}
}

// NotHappy advances the iteration counter and reports whether another
// refinement pass is wanted. Only the iteration budget is consulted.
func (c *Coordinator) NotHappy(points []Point) bool {
	c.iteration++
	return c.iteration <= c.config.Iterations
}

// Tessellate polygonizes the cloud. Iteration 1 takes the seed mesh when one
// is configured (alpha 1) or an alpha shape over the points; later
// iterations run the surface reconstructor and halve alpha.
func (c *Coordinator) Tessellate(ctx context.Context, points []Point, normals []Vec3) (*Mesh, error) {
	if c.iteration <= 1 {
		if c.config.SeedMesh != "" {
			m, err := c.seedLoader(c.config.SeedMesh)
			if err != nil {
				return nil, fmt.Errorf("loading seed mesh: %w", err)
			}
			c.alphas = append(c.alphas, 1)
			c.mesh = m
			return m, nil
		}
		if c.alphaShaper == nil {
			return nil, fmt.Errorf("alpha shape: %w", ErrNoBackend)
		}
		if c.config.Verbosity >= 1 {
			log.Printf("Tessellating: alpha shape over %d points", len(points))
		}
		faces, alpha, err := c.alphaShaper.AlphaShape(ctx, points)
		if err != nil {
			return nil, fmt.Errorf("alpha shape: %w", err)
		}
		m := &Mesh{Vertices: append([]Point(nil), points...), Faces: faces}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("alpha shape: %w", err)
		}
		c.alphas = append(c.alphas, alpha)
		c.mesh = m
		return m, nil
	}

	last, err := c.Alpha()
	if err != nil {
		return nil, err
	}
	m, err := c.reconstructor.Reconstruct(ctx, points, normals)
	if err != nil {
		return nil, fmt.Errorf("iteration %d: %w", c.iteration, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("iteration %d: %w", c.iteration, err)
	}
	c.alphas = append(c.alphas, last/2)
	c.mesh = m
	return m, nil
}

// FilterPoints runs the density filter with a radius of a quarter of the
// latest alpha
func (c *Coordinator) FilterPoints(points []Point, normals []Vec3) ([]Point, []Vec3, DensityStats, error) {
	alpha, err := c.Alpha()
	if err != nil {
		return nil, nil, DensityStats{}, err
	}
	f := &DensityFilter{Radius: alpha / 4, NewIndex: c.newIndex, Verbosity: c.config.Verbosity}
	p, n, stats := f.Filter(points, normals)
	return p, n, stats, nil
}

// ChooseCameras selects camera pairs over m and returns how many were added
func (c *Coordinator) ChooseCameras(m *Mesh) int {
	if c.config.Verbosity >= 1 {
		log.Printf("Choosing cameras: %d candidates over %d faces", len(c.cameras), len(m.Faces))
	}
	return c.selector.ChooseCameras(m, c.cameras)
}

// Plan returns the camera pairs of the last ChooseCameras call
func (c *Coordinator) Plan() *ChosenCameraSet {
	return c.selector.Chosen()
}

// LastDepth returns the last viewer depth buffer rendered during selection
func (c *Coordinator) LastDepth() *DepthBuffer {
	return c.selector.LastDepth()
}

// Iteration returns the current iteration number (0 before the first NotHappy)
func (c *Coordinator) Iteration() int {
	return c.iteration
}

// Alpha returns the latest recorded alpha
func (c *Coordinator) Alpha() (float64, error) {
	if len(c.alphas) == 0 {
		return 0, ErrNoAlpha
	}
	return c.alphas[len(c.alphas)-1], nil
}

// AlphaHistory returns every recorded alpha, oldest first
func (c *Coordinator) AlphaHistory() []float64 {
	return append([]float64(nil), c.alphas...)
}

// Mesh returns the most recent tessellation, or nil
func (c *Coordinator) Mesh() *Mesh {
	return c.mesh
}

// Cameras returns the candidate cameras
func (c *Coordinator) Cameras() []Mat4 {
	return c.cameras
}

// RenderSize returns the frame size used for reprojection
func (c *Coordinator) RenderSize() (width, height int) {
	return c.config.Render.Width, c.config.Render.Height
}

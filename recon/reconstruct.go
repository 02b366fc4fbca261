package recon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Strategy names a surface reconstruction algorithm
type Strategy string

const (
	StrategyPoisson Strategy = "poisson" // Hole-filling volumetric reconstruction
	StrategyRBF     Strategy = "rbf"     // Radial basis function marching cubes
	StrategyGreedy  Strategy = "greedy"  // Greedy projection triangulation
)

// ParseStrategy validates a strategy name, defaulting to Poisson when empty
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", StrategyPoisson:
		return StrategyPoisson, nil
	case StrategyRBF:
		return StrategyRBF, nil
	case StrategyGreedy:
		return StrategyGreedy, nil
	}
	return "", fmt.Errorf("unknown reconstruction strategy %q", s)
}

// ErrNoBackend is returned when a reconstruction step has nothing configured to run it
var ErrNoBackend = errors.New("no reconstruction backend configured")

// SurfaceReconstructor turns an oriented point cloud into a triangle mesh
type SurfaceReconstructor interface {
	Reconstruct(ctx context.Context, points []Point, normals []Vec3) (*Mesh, error)
}

// AlphaShaper builds a seed mesh over exactly the given points and reports
// the alpha it settled on
type AlphaShaper interface {
	AlphaShape(ctx context.Context, points []Point) (faces [][3]int, alpha float64, err error)
}

// PoissonSurface runs a hole-filling backend and strips the faces it
// extrapolated beyond the finest octree cell
type PoissonSurface struct {
	Backend   SurfaceReconstructor
	Depth     int
	Verbosity int
}

// Reconstruct implements SurfaceReconstructor
func (p *PoissonSurface) Reconstruct(ctx context.Context, points []Point, normals []Vec3) (*Mesh, error) {
	if p.Backend == nil {
		return nil, ErrNoBackend
	}
	if p.Verbosity >= 1 {
		log.Printf("Reconstructing: poisson surface at depth %d from %d points", p.Depth, len(points))
	}
	raw, err := p.Backend.Reconstruct(ctx, points, normals)
	if err != nil {
		return nil, fmt.Errorf("poisson reconstruction: %w", err)
	}
	size := PoissonFilterSize(raw, p.Depth)
	filtered := FilterFinest(raw, size)
	if p.Verbosity >= 2 {
		logMeshFilter(raw, filtered, size)
	}
	return filtered, nil
}

// ExecReconstructor delegates reconstruction to an external command. The
// template is split on whitespace and {in}, {out} and {depth} are replaced
// with the oriented cloud path, the expected OBJ path and Depth.
type ExecReconstructor struct {
	Command   string
	Depth     int
	Neighbors int // k for normal estimation before export
	Verbosity int
}

// Reconstruct implements SurfaceReconstructor
func (e *ExecReconstructor) Reconstruct(ctx context.Context, points []Point, normals []Vec3) (*Mesh, error) {
	if strings.TrimSpace(e.Command) == "" {
		return nil, ErrNoBackend
	}
	dir, err := os.MkdirTemp("", "meshrefine-recon-")
	if err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "cloud.xyzn")
	out := filepath.Join(dir, "mesh.obj")
	if err := WritePoints(in, points, OrientedNormals(points, normals, e.Neighbors)); err != nil {
		return nil, err
	}

	err = runTemplate(ctx, e.Command, map[string]string{
		"{in}":    in,
		"{out}":   out,
		"{depth}": strconv.Itoa(e.Depth),
	}, e.Verbosity)
	if err != nil {
		return nil, err
	}
	return ReadOBJ(out)
}

// ExecAlphaShaper delegates alpha-shape construction to an external command.
// {in} is the point file and {out} the OBJ to produce; the command writes the
// chosen alpha as a single number to {alpha}. Faces index the input points.
type ExecAlphaShaper struct {
	Command   string
	Verbosity int
}

// AlphaShape implements AlphaShaper
func (e *ExecAlphaShaper) AlphaShape(ctx context.Context, points []Point) ([][3]int, float64, error) {
	if strings.TrimSpace(e.Command) == "" {
		return nil, 0, ErrNoBackend
	}
	dir, err := os.MkdirTemp("", "meshrefine-alpha-")
	if err != nil {
		return nil, 0, fmt.Errorf("creating work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "cloud.xyzn")
	out := filepath.Join(dir, "alpha.obj")
	alphaPath := filepath.Join(dir, "alpha.txt")
	if err := WritePoints(in, points, make([]Vec3, len(points))); err != nil {
		return nil, 0, err
	}

	err = runTemplate(ctx, e.Command, map[string]string{
		"{in}":    in,
		"{out}":   out,
		"{alpha}": alphaPath,
	}, e.Verbosity)
	if err != nil {
		return nil, 0, err
	}

	m, err := ReadOBJ(out)
	if err != nil {
		return nil, 0, err
	}
	for f, face := range m.Faces {
		for _, v := range face {
			if v >= len(points) {
				return nil, 0, fmt.Errorf("alpha shape face %d vertex %d: %w", f, v, ErrFaceIndexOutOfRange)
			}
		}
	}

	raw, err := os.ReadFile(alphaPath)
	if err != nil {
		return nil, 0, fmt.Errorf("reading alpha value: %w", err)
	}
	alpha, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing alpha value: %w", err)
	}
	return m.Faces, alpha, nil
}

// runTemplate expands placeholders in a command template and runs it
func runTemplate(ctx context.Context, template string, vars map[string]string, verbosity int) error {
	args := strings.Fields(template)
	for i, a := range args {
		for k, v := range vars {
			a = strings.ReplaceAll(a, k, v)
		}
		args[i] = a
	}
	if verbosity >= 2 {
		log.Printf("Running %s", strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

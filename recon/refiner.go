package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RefineRequest is everything a refinement pass gets for one iteration
type RefineRequest struct {
	Iteration int
	Mesh      *Mesh
	Plan      *ChosenCameraSet
	Points    []Point
	Normals   []Vec3
}

// Refiner moves points toward the photo-consistent surface using the
// selected camera pairs and returns the refined cloud
type Refiner interface {
	Refine(ctx context.Context, req RefineRequest) ([]Point, []Vec3, error)
}

// ExecRefiner delegates refinement to an external command. Placeholders:
// {mesh} current OBJ, {plan} camera plan JSON, {points} current cloud,
// {out} refined cloud to produce, {iteration} the iteration number.
type ExecRefiner struct {
	Command   string
	Verbosity int
}

// Refine implements Refiner
func (e *ExecRefiner) Refine(ctx context.Context, req RefineRequest) ([]Point, []Vec3, error) {
	if strings.TrimSpace(e.Command) == "" {
		return nil, nil, fmt.Errorf("refine: %w", ErrNoBackend)
	}
	dir, err := os.MkdirTemp("", "meshrefine-refine-")
	if err != nil {
		return nil, nil, fmt.Errorf("creating work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	meshPath := filepath.Join(dir, "mesh.obj")
	planPath := filepath.Join(dir, "plan.json")
	pointsPath := filepath.Join(dir, "points.xyzn")
	outPath := filepath.Join(dir, "refined.xyzn")

	if err := WriteOBJ(meshPath, req.Mesh); err != nil {
		return nil, nil, err
	}
	plan, err := json.Marshal(req.Plan)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.WriteFile(planPath, plan, 0644); err != nil {
		return nil, nil, fmt.Errorf("writing plan: %w", err)
	}
	if err := WritePoints(pointsPath, req.Points, req.Normals); err != nil {
		return nil, nil, err
	}

	err = runTemplate(ctx, e.Command, map[string]string{
		"{mesh}":      meshPath,
		"{plan}":      planPath,
		"{points}":    pointsPath,
		"{out}":       outPath,
		"{iteration}": strconv.Itoa(req.Iteration),
	}, e.Verbosity)
	if err != nil {
		return nil, nil, fmt.Errorf("refine: %w", err)
	}

	points, normals, err := ReadPoints(outPath)
	if err != nil {
		return nil, nil, err
	}
	if len(points) == 0 {
		return nil, nil, fmt.Errorf("refine: command produced an empty cloud")
	}
	return points, normals, nil
}

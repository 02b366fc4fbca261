package recon

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RunResult is the final state of a pipeline run
type RunResult struct {
	RunID      string
	Iterations int // Iterations that produced a plan
	Mesh       *Mesh
	Plan       *ChosenCameraSet
	Points     []Point
	Normals    []Vec3
	Alphas     []float64
}

// Pipeline drives a Coordinator through its iterations and reports each
// one. Publisher, State, Ledger and Refiner are optional.
type Pipeline struct {
	Coordinator *Coordinator
	Refiner     Refiner
	Publisher   *Publisher
	State       *StateTracker
	Ledger      *Ledger
	RunID       string
	Verbosity   int
}

// Run iterates NotHappy, FilterPoints (after the first iteration, when
// enabled), Tessellate, ChooseCameras, reporting and Refine. Without a
// refiner the run stops after the first plan.
func (p *Pipeline) Run(ctx context.Context, points []Point, normals []Vec3) (*RunResult, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("empty point cloud")
	}
	if len(points) != len(normals) {
		return nil, fmt.Errorf("%d points but %d normals", len(points), len(normals))
	}
	if p.RunID == "" {
		p.RunID = NewRunID()
	}
	c := p.Coordinator
	if p.State != nil {
		p.State.SetCameras(c.Cameras())
	}
	if p.Ledger != nil {
		if err := p.Ledger.StartRun(p.RunID, c.config, len(c.Cameras()), len(points)); err != nil {
			return nil, err
		}
	}
	p.status(StatusMessage{State: "running", RunID: p.RunID})

	result, err := p.iterate(ctx, points, normals)
	if err != nil {
		p.finish("failed")
		p.status(StatusMessage{State: "failed", RunID: p.RunID, Iteration: c.Iteration(), Error: err.Error()})
		return nil, err
	}
	p.finish("done")
	p.status(StatusMessage{State: "done", RunID: p.RunID, Iteration: result.Iterations})
	return result, nil
}

func (p *Pipeline) iterate(ctx context.Context, points []Point, normals []Vec3) (*RunResult, error) {
	c := p.Coordinator
	result := &RunResult{RunID: p.RunID}

	for c.NotHappy(points) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iteration := c.Iteration()
		if p.Verbosity >= 1 {
			log.Printf("Iteration %d: %d points", iteration, len(points))
		}

		var density *DensityStats
		if iteration > 1 && c.config.FilterEnabled() {
			filtered, filteredNormals, stats, err := c.FilterPoints(points, normals)
			if err != nil {
				return nil, err
			}
			points, normals, density = filtered, filteredNormals, &stats
		}

		m, err := c.Tessellate(ctx, points, normals)
		if err != nil {
			return nil, err
		}
		pairs := c.ChooseCameras(m)
		alpha, _ := c.Alpha()

		snap := IterationSnapshot{
			RunID:     p.RunID,
			Iteration: iteration,
			Alpha:     alpha,
			Points:    len(points),
			Vertices:  len(m.Vertices),
			Faces:     len(m.Faces),
			Pairs:     pairs,
			Bundles:   c.Plan().Bundles(),
			Density:   density,
			Timestamp: time.Now(),
			Mesh:      m,
			Depth:     c.LastDepth(),
		}
		if err := p.report(snap); err != nil {
			return nil, err
		}

		result.Iterations = iteration
		result.Mesh = m
		result.Plan = c.Plan()
		result.Points, result.Normals = points, normals
		result.Alphas = c.AlphaHistory()

		if p.Refiner == nil {
			break
		}
		p.status(StatusMessage{State: "refining", RunID: p.RunID, Iteration: iteration})
		points, normals, err = p.Refiner.Refine(ctx, RefineRequest{
			Iteration: iteration,
			Mesh:      m,
			Plan:      c.Plan(),
			Points:    points,
			Normals:   normals,
		})
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		result.Points, result.Normals = points, normals
	}
	return result, nil
}

// report hands a finished iteration to the state tracker, ledger and broker.
// Broker failures are logged; ledger failures end the run.
func (p *Pipeline) report(snap IterationSnapshot) error {
	if p.Verbosity >= 2 {
		log.Printf("Iteration %d: alpha %.4g, %d vertices, %d faces, %d pairs",
			snap.Iteration, snap.Alpha, snap.Vertices, snap.Faces, snap.Pairs)
	}
	if p.State != nil {
		p.State.Record(snap)
	}
	if p.Ledger != nil {
		if err := p.Ledger.RecordIteration(snap); err != nil {
			return err
		}
	}
	if p.Publisher != nil {
		if err := p.Publisher.PublishPlan(p.RunID, snap); err != nil {
			log.Printf("Error publishing plan: %v", err)
		}
	}
	return nil
}

func (p *Pipeline) status(s StatusMessage) {
	if p.Publisher == nil {
		return
	}
	if err := p.Publisher.PublishStatus(s); err != nil && p.Verbosity >= 2 {
		log.Printf("Error publishing status: %v", err)
	}
}

func (p *Pipeline) finish(status string) {
	if p.Ledger == nil {
		return
	}
	if err := p.Ledger.FinishRun(p.RunID, status); err != nil {
		log.Printf("Error finishing run in ledger: %v", err)
	}
}

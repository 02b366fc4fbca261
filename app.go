package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kwv/meshrefine/recon"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *recon.Config
	Cameras      []recon.Mat4
	StateTracker *recon.StateTracker
	MQTTClient   *recon.MQTTClient
	Publisher    *recon.Publisher
	Ledger       *recon.Ledger

	// Backends and Refiner override what the config would build
	Backends recon.Backends
	Refiner  recon.Refiner

	// CLI Flags (effectively dependencies)
	ConfigFile  string
	PointsFile  string
	CamerasFile string
	MeshFile    string
	SeedMesh    string
	OutputDir   string
	OutputFile  string
	StateCache  string
	Axes        string
	Format      string
	Iterations  int
	Verbosity   int
	HttpPort    int
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: recon.NewStateTracker(),
		Verbosity:    -1,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.PointsFile = opts.PointsFile
	a.CamerasFile = opts.CamerasFile
	a.MeshFile = opts.MeshFile
	a.SeedMesh = opts.SeedMesh
	a.OutputDir = opts.OutputDir
	a.OutputFile = opts.OutputFile
	a.StateCache = opts.StateCache
	a.Axes = opts.Axes
	a.Format = opts.Format
	a.Iterations = opts.Iterations
	a.Verbosity = opts.Verbosity
	a.HttpPort = opts.HttpPort
}

// RunInitConfig writes the default configuration to the config path. An
// existing file is left alone.
func (a *App) RunInitConfig() error {
	if _, err := os.Stat(a.ConfigFile); err == nil {
		return fmt.Errorf("%s already exists", a.ConfigFile)
	}
	if err := recon.SaveConfig(a.ConfigFile, recon.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", a.ConfigFile)
	return nil
}

// RunOverview renders a mesh with the candidate cameras to OutputFile
func (a *App) RunOverview() error {
	if a.MeshFile == "" {
		return fmt.Errorf("--overview needs --mesh")
	}
	m, err := recon.ReadOBJ(a.MeshFile)
	if err != nil {
		return err
	}
	var cams []recon.Mat4
	if a.CamerasFile != "" {
		cams, err = recon.LoadCameras(a.CamerasFile)
		if err != nil {
			log.Printf("Warning: %v; rendering the mesh alone", err)
		}
	}
	axes, err := recon.ParseAxes(a.Axes)
	if err != nil {
		return err
	}

	renderer := recon.NewOverviewRenderer(m, cams, nil)
	renderer.Axes = axes

	f, err := os.Create(a.OutputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch a.Format {
	case "", "svg":
		err = renderer.RenderToSVG(f)
	case "png":
		err = renderer.RenderToPNG(f)
	default:
		return fmt.Errorf("unknown format %q (want svg or png)", a.Format)
	}
	if err != nil {
		return fmt.Errorf("rendering overview: %w", err)
	}
	fmt.Printf("Overview saved to %s\n", a.OutputFile)
	return nil
}

// RunPipeline reconstructs and plans once, writes the outputs and exits
func (a *App) RunPipeline() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	_, err := a.runPipeline(ctx)
	return err
}

// RunService runs the pipeline while serving the inspection endpoints, then
// keeps serving the final state until interrupted
func (a *App) RunService() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	axes, err := recon.ParseAxes(a.Axes)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", a.HttpPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           newHTTPServer(a.StateTracker, axes),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()

	if a.PointsFile != "" {
		if _, err := a.runPipeline(ctx); err != nil {
			log.Printf("Run failed: %v", err)
		}
	} else {
		log.Println("No --points given; serving the cached state")
	}

	<-ctx.Done()
	fmt.Println("\nShutting down service...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	fmt.Println("Service stopped")
	return nil
}

// Close releases the broker connection and the ledger
func (a *App) Close() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
		a.MQTTClient = nil
	}
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			log.Printf("Error closing ledger: %v", err)
		}
		a.Ledger = nil
	}
}

// setup loads configuration and cameras and connects the optional sinks
func (a *App) setup() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.Config = config

	cams, err := recon.LoadCameras(a.CamerasFile)
	if err != nil {
		return err
	}
	a.Cameras = cams
	log.Printf("Loaded %d candidate cameras from %s", len(cams), a.CamerasFile)

	if a.StateCache != "" {
		a.StateTracker = recon.NewStateTrackerWithCache(a.StateCache)
	} else if a.StateTracker == nil {
		a.StateTracker = recon.NewStateTracker()
	}

	if config.Ledger.Path != "" {
		ledger, err := recon.OpenLedger(config.Ledger.Path)
		if err != nil {
			return err
		}
		a.Ledger = ledger
		log.Printf("Recording runs in %s", config.Ledger.Path)
	}

	client, err := recon.InitMQTT(config)
	if err != nil {
		log.Printf("Warning: MQTT disabled: %v", err)
	} else if client != nil {
		a.MQTTClient = client
		a.Publisher = recon.NewPublisher(client.GetClient(), client.Prefix())
	}
	return nil
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, and applies the command line overrides
func (a *App) loadConfig() (*recon.Config, error) {
	var config *recon.Config
	if _, err := os.Stat(a.ConfigFile); os.IsNotExist(err) {
		log.Printf("No config at %s, using defaults", a.ConfigFile)
		config = recon.DefaultConfig()
	} else {
		config, err = recon.LoadConfig(a.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", a.ConfigFile, err)
		}
		log.Printf("Loaded config from %s", a.ConfigFile)
	}

	if a.SeedMesh != "" {
		config.SeedMesh = a.SeedMesh
	}
	if a.Iterations > 0 {
		config.Iterations = a.Iterations
	}
	if a.Verbosity >= 0 {
		config.Verbosity = a.Verbosity
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// runPipeline reads the point cloud, runs every iteration and writes the
// outputs to OutputDir
func (a *App) runPipeline(ctx context.Context) (*recon.RunResult, error) {
	points, normals, err := recon.ReadPoints(a.PointsFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d points from %s", len(points), a.PointsFile)

	coordinator, err := recon.NewCoordinator(a.Config, a.Cameras, a.Backends)
	if err != nil {
		return nil, err
	}
	refiner := a.Refiner
	if refiner == nil && a.Config.Refine.Command != "" {
		refiner = &recon.ExecRefiner{Command: a.Config.Refine.Command, Verbosity: a.Config.Verbosity}
	}

	pipeline := &recon.Pipeline{
		Coordinator: coordinator,
		Refiner:     refiner,
		Publisher:   a.Publisher,
		State:       a.StateTracker,
		Ledger:      a.Ledger,
		Verbosity:   a.Config.Verbosity,
	}
	result, err := pipeline.Run(ctx, points, normals)
	if err != nil {
		return nil, err
	}
	log.Printf("Run %s finished after %d iterations with %d camera pairs",
		result.RunID, result.Iterations, result.Plan.Pairs())

	if err := a.writeOutputs(result); err != nil {
		return nil, err
	}
	return result, nil
}

// writeOutputs saves the final mesh, plan, point cloud and depth buffer
func (a *App) writeOutputs(result *recon.RunResult) error {
	dir := a.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	if err := recon.WriteOBJ(filepath.Join(dir, "mesh.obj"), result.Mesh); err != nil {
		return err
	}
	plan, err := json.MarshalIndent(result.Plan, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plan.json"), plan, 0644); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	if err := recon.WritePoints(filepath.Join(dir, "points.xyzn"), result.Points, result.Normals); err != nil {
		return err
	}
	if depth := a.StateTracker.Depth(); depth != nil {
		caption := fmt.Sprintf("iteration %d", result.Iterations)
		if err := recon.SaveDepthPNG(filepath.Join(dir, "depth.png"), depth, caption); err != nil {
			return fmt.Errorf("writing depth image: %w", err)
		}
	}
	fmt.Printf("Outputs saved to %s\n", dir)
	return nil
}

// signalContext is cancelled on interrupt or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

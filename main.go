package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line settings handed to the app
type AppOptions struct {
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
	HttpMode    bool
	Overview    bool
	InitConfig  bool
}

// application is the set of modes main can dispatch to
type application interface {
	ApplyOptions(opts AppOptions)
	RunInitConfig() error
	RunOverview() error
	RunPipeline() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("meshrefine: %v", err)
	}
}

func run(args []string, out io.Writer, app application) error {
	fs := flag.NewFlagSet("meshrefine", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.PointsFile, "points", "", "Oriented point cloud to reconstruct (x y z [nx ny nz] per line)")
	fs.StringVar(&opts.CamerasFile, "cameras", "cameras.yaml", "Candidate camera projection matrices")
	fs.StringVar(&opts.MeshFile, "mesh", "", "OBJ mesh for --overview mode")
	fs.StringVar(&opts.SeedMesh, "seed-mesh", "", "Override seedMesh from the config")
	fs.StringVar(&opts.OutputDir, "output-dir", ".", "Directory for mesh, plan and depth outputs")
	fs.StringVar(&opts.OutputFile, "output", "overview.svg", "Output file for --overview mode")
	fs.StringVar(&opts.StateCache, "state-cache", ".meshrefine-state.json", "Path to the last iteration snapshot")
	fs.StringVar(&opts.Axes, "axes", "xy", "Overview projection plane: xy, xz or yz")
	fs.StringVar(&opts.Format, "format", "svg", "Overview format: svg or png")
	fs.IntVar(&opts.Iterations, "iterations", 0, "Override the iteration budget (0 keeps the config value)")
	fs.IntVar(&opts.Verbosity, "verbosity", -1, "Override verbosity 0..2 (-1 keeps the config value)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the inspection endpoints while running")
	fs.BoolVar(&opts.Overview, "overview", false, "Render a mesh and camera overview and exit")
	fs.BoolVar(&opts.InitConfig, "init-config", false, "Write the default configuration and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "meshrefine version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.InitConfig:
		return app.RunInitConfig()
	case opts.Overview:
		return app.RunOverview()
	case opts.HttpMode:
		return app.RunService()
	case opts.PointsFile != "":
		return app.RunPipeline()
	}

	_, _ = fmt.Fprintln(out, "Use --points FILE to reconstruct and plan camera pairs")
	_, _ = fmt.Fprintln(out, "Use --http with --points to serve /plan, /alpha, /depth.png and /mesh.svg while running")
	_, _ = fmt.Fprintln(out, "Use --overview --mesh FILE to render a mesh and camera overview")
	_, _ = fmt.Fprintln(out, "Use --init-config to write a default config.yaml")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintln(out, "  config.yaml - iterations, backends, MQTT and ledger settings")
	_, _ = fmt.Fprintln(out, "  cameras.yaml - candidate camera projection matrices")
	return nil
}

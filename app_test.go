package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/meshrefine/recon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAlphaShaper triangulates the first four points as a square
type fakeAlphaShaper struct {
	alpha float64
	err   error
}

func (f *fakeAlphaShaper) AlphaShape(ctx context.Context, points []recon.Point) ([][3]int, float64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return [][3]int{{0, 1, 2}, {0, 2, 3}}, f.alpha, nil
}

// testWorkspace writes a config, camera file, point cloud and seed mesh into
// a temp dir and returns an App pointed at them
func testWorkspace(t *testing.T) (*App, string) {
	t.Helper()
	t.Setenv("MQTT_BROKER", "")
	dir := t.TempDir()

	config := recon.DefaultConfig()
	config.Iterations = 1
	config.Verbosity = 0
	config.Render = recon.RenderConfig{Width: 64, Height: 48}
	config.RandomSeed = 7
	config.Ledger.Path = filepath.Join(dir, "runs.db")
	require.NoError(t, recon.SaveConfig(filepath.Join(dir, "config.yaml"), config))

	require.NoError(t, recon.SaveCameras(filepath.Join(dir, "cameras.yaml"), testCameras(3)))
	square := testSquare()
	require.NoError(t, recon.WritePoints(filepath.Join(dir, "points.xyz"), square.Vertices, make([]recon.Vec3, len(square.Vertices))))
	require.NoError(t, recon.WriteOBJ(filepath.Join(dir, "seed.obj"), square))

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:  filepath.Join(dir, "config.yaml"),
		PointsFile:  filepath.Join(dir, "points.xyz"),
		CamerasFile: filepath.Join(dir, "cameras.yaml"),
		OutputDir:   filepath.Join(dir, "out"),
		Axes:        "xy",
		Verbosity:   -1,
	})
	return app, dir
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.StateTracker == nil {
		t.Error("StateTracker should be initialized")
	}
	if app.Verbosity != -1 {
		t.Errorf("Verbosity = %d, want -1 (keep config value)", app.Verbosity)
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		ConfigFile:  "test-config.yaml",
		PointsFile:  "cloud.xyzn",
		CamerasFile: "rig.yaml",
		MeshFile:    "mesh.obj",
		SeedMesh:    "seed.obj",
		OutputDir:   "/tmp/out",
		OutputFile:  "overview.png",
		StateCache:  ".state.json",
		Axes:        "xz",
		Format:      "png",
		Iterations:  4,
		Verbosity:   2,
		HttpPort:    9090,
	}

	app.ApplyOptions(opts)

	if app.ConfigFile != "test-config.yaml" {
		t.Errorf("ConfigFile = %s, want test-config.yaml", app.ConfigFile)
	}
	if app.PointsFile != "cloud.xyzn" {
		t.Errorf("PointsFile = %s, want cloud.xyzn", app.PointsFile)
	}
	if app.CamerasFile != "rig.yaml" {
		t.Errorf("CamerasFile = %s, want rig.yaml", app.CamerasFile)
	}
	if app.MeshFile != "mesh.obj" || app.SeedMesh != "seed.obj" {
		t.Errorf("MeshFile, SeedMesh = %s, %s", app.MeshFile, app.SeedMesh)
	}
	if app.OutputDir != "/tmp/out" || app.OutputFile != "overview.png" {
		t.Errorf("OutputDir, OutputFile = %s, %s", app.OutputDir, app.OutputFile)
	}
	if app.StateCache != ".state.json" {
		t.Errorf("StateCache = %s, want .state.json", app.StateCache)
	}
	if app.Axes != "xz" || app.Format != "png" {
		t.Errorf("Axes, Format = %s, %s", app.Axes, app.Format)
	}
	if app.Iterations != 4 || app.Verbosity != 2 || app.HttpPort != 9090 {
		t.Errorf("Iterations, Verbosity, HttpPort = %d, %d, %d", app.Iterations, app.Verbosity, app.HttpPort)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "absent.yaml")
	app.SeedMesh = "seed.obj"
	app.Iterations = 5
	app.Verbosity = 0

	config, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "seed.obj", config.SeedMesh)
	assert.Equal(t, 5, config.Iterations)
	assert.Equal(t, 0, config.Verbosity)
	assert.Equal(t, recon.DefaultConfig().Render, config.Render)
}

func TestLoadConfig_KeepsFileValues(t *testing.T) {
	app, _ := testWorkspace(t)

	config, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, config.Iterations)
	assert.Equal(t, int64(7), config.RandomSeed)
	assert.Equal(t, 0, config.Verbosity)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("iterations: 0\n"), 0644))

	app := NewApp()
	app.ConfigFile = bad
	_, err := app.loadConfig()
	assert.Error(t, err, "invalid file")

	app.ConfigFile = filepath.Join(dir, "absent.yaml")
	app.Verbosity = 7
	_, err = app.loadConfig()
	assert.Error(t, err, "override is validated")
}

func TestRunInitConfig(t *testing.T) {
	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, app.RunInitConfig())
	config, err := recon.LoadConfig(app.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, recon.DefaultConfig().Iterations, config.Iterations)

	assert.Error(t, app.RunInitConfig(), "existing file is not overwritten")
}

func TestRunOverview(t *testing.T) {
	app, dir := testWorkspace(t)
	app.MeshFile = filepath.Join(dir, "seed.obj")

	app.OutputFile = filepath.Join(dir, "overview.svg")
	app.Format = "svg"
	require.NoError(t, app.RunOverview())
	data, err := os.ReadFile(app.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")

	app.OutputFile = filepath.Join(dir, "overview.png")
	app.Format = "png"
	app.Axes = "yz"
	require.NoError(t, app.RunOverview())
	info, err := os.Stat(app.OutputFile)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRunOverview_Errors(t *testing.T) {
	app, dir := testWorkspace(t)
	app.OutputFile = filepath.Join(dir, "overview.svg")

	assert.Error(t, app.RunOverview(), "no mesh")

	app.MeshFile = filepath.Join(dir, "seed.obj")
	app.Format = "pdf"
	assert.Error(t, app.RunOverview(), "unknown format")

	app.Format = "svg"
	app.Axes = "xx"
	assert.Error(t, app.RunOverview(), "unknown axes")

	// a missing camera file still renders the mesh
	app.Axes = "xy"
	app.CamerasFile = filepath.Join(dir, "absent.yaml")
	assert.NoError(t, app.RunOverview())
}

func TestRunPipeline_SeedMesh(t *testing.T) {
	app, dir := testWorkspace(t)
	app.SeedMesh = filepath.Join(dir, "seed.obj")

	require.NoError(t, app.RunPipeline())

	out := filepath.Join(dir, "out")
	m, err := recon.ReadOBJ(filepath.Join(out, "mesh.obj"))
	require.NoError(t, err)
	assert.Len(t, m.Faces, 2)

	data, err := os.ReadFile(filepath.Join(out, "plan.json"))
	require.NoError(t, err)
	var bundles []recon.CameraBundle
	require.NoError(t, json.Unmarshal(data, &bundles))

	points, _, err := recon.ReadPoints(filepath.Join(out, "points.xyzn"))
	require.NoError(t, err)
	assert.Len(t, points, 4)

	latest, ok := app.StateTracker.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, latest.Iteration)
	assert.Equal(t, []float64{1}, app.StateTracker.AlphaHistory())
	assert.Len(t, bundles, len(latest.Bundles))

	// the ledger was closed and can be reopened
	assert.Nil(t, app.Ledger)
	ledger, err := recon.OpenLedger(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer func() { _ = ledger.Close() }()
	run, err := ledger.Run(latest.RunID)
	require.NoError(t, err)
	assert.Equal(t, "done", run.Status)
	assert.Equal(t, 3, run.Cameras)
}

func TestRunPipeline_InjectedAlphaShaper(t *testing.T) {
	app, dir := testWorkspace(t)
	app.Backends.AlphaShaper = &fakeAlphaShaper{alpha: 0.5}

	require.NoError(t, app.RunPipeline())
	assert.Equal(t, []float64{0.5}, app.StateTracker.AlphaHistory())
	_, err := os.Stat(filepath.Join(dir, "out", "mesh.obj"))
	assert.NoError(t, err)
}

func TestRunPipeline_Errors(t *testing.T) {
	app, dir := testWorkspace(t)
	app.Backends.AlphaShaper = &fakeAlphaShaper{err: errors.New("qhull missing")}
	err := app.RunPipeline()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "qhull missing"), err.Error())

	app, _ = testWorkspace(t)
	app.CamerasFile = filepath.Join(dir, "absent.yaml")
	assert.Error(t, app.RunPipeline(), "missing cameras")

	app, _ = testWorkspace(t)
	app.PointsFile = filepath.Join(dir, "absent.xyz")
	assert.Error(t, app.RunPipeline(), "missing points")
}

func TestSetup_StateCache(t *testing.T) {
	app, dir := testWorkspace(t)
	app.SeedMesh = filepath.Join(dir, "seed.obj")
	app.StateCache = filepath.Join(dir, "state.json")
	require.NoError(t, app.RunPipeline())

	// a fresh app picks up the cached snapshot
	next, _ := testWorkspace(t)
	next.StateCache = app.StateCache
	require.NoError(t, next.setup())
	defer next.Close()
	latest, ok := next.StateTracker.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, latest.Iteration)
}

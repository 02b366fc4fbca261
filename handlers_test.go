package main

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kwv/meshrefine/recon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// testSquare is a unit square split into two triangles at z = 0
func testSquare() *recon.Mesh {
	return &recon.Mesh{
		Vertices: []recon.Point{
			recon.NewPoint(0, 0, 0),
			recon.NewPoint(1, 0, 0),
			recon.NewPoint(1, 1, 0),
			recon.NewPoint(0, 1, 0),
		},
		Faces: [][3]int{{0, 1, 2}, {0, 2, 3}},
	}
}

// testCameras places n cameras on a line above the square looking down
func testCameras(n int) []recon.Mat4 {
	cams := make([]recon.Mat4, n)
	for i := range cams {
		rt := recon.RigidTransform([3]recon.Vec3{{1, 0, 0}, {0, -1, 0}, {0, 0, -1}}, recon.Vec3{float64(i), 0.5, 2})
		cams[i] = recon.Perspective(1, 0.1, 10).Mul(rt)
	}
	return cams
}

// populatedTracker returns a StateTracker holding two recorded iterations
func populatedTracker() *recon.StateTracker {
	st := recon.NewStateTracker()
	st.SetCameras(testCameras(3))
	st.Record(recon.IterationSnapshot{RunID: "run-1", Iteration: 1, Alpha: 0.8, Timestamp: time.Unix(100, 0)})
	st.Record(recon.IterationSnapshot{
		RunID:     "run-1",
		Iteration: 2,
		Alpha:     0.4,
		Pairs:     2,
		Bundles:   []recon.CameraBundle{{Main: 0, Sides: []int{1, 2}}},
		Timestamp: time.Unix(200, 0),
		Mesh:      testSquare(),
		Depth:     recon.NewDepthBuffer(64, 48),
	})
	return st
}

// emptyTracker returns a StateTracker with no iterations
func emptyTracker() *recon.StateTracker {
	return recon.NewStateTracker()
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /health
// ---------------------------------------------------------------------------

func TestHealth_NoPlan(t *testing.T) {
	w := get(t, newHTTPServer(emptyTracker(), recon.AxesXY), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Status  string `json:"status"`
		HasPlan bool   `json:"hasPlan"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode /health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.HasPlan {
		t.Error("hasPlan = true, want false before any iteration")
	}
}

func TestHealth_WithPlan(t *testing.T) {
	w := get(t, newHTTPServer(populatedTracker(), recon.AxesXY), "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		HasPlan   bool   `json:"hasPlan"`
		RunID     string `json:"runId"`
		Iteration int    `json:"iteration"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.HasPlan)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 2, body.Iteration)
}

// ---------------------------------------------------------------------------
// /plan and /alpha
// ---------------------------------------------------------------------------

func TestPlan(t *testing.T) {
	w := get(t, newHTTPServer(populatedTracker(), recon.AxesXY), "/plan")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var plan recon.PlanMessage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&plan))
	assert.Equal(t, recon.PlanMessage{
		RunID:     "run-1",
		Iteration: 2,
		Alpha:     0.4,
		Pairs:     2,
		Bundles:   []recon.CameraBundle{{Main: 0, Sides: []int{1, 2}}},
		Timestamp: 200,
	}, plan)
}

func TestPlan_EmptyBundlesIsArray(t *testing.T) {
	st := recon.NewStateTracker()
	st.Record(recon.IterationSnapshot{RunID: "r", Iteration: 1})

	w := get(t, newHTTPServer(st, recon.AxesXY), "/plan")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bundles":[]`)
}

func TestAlpha(t *testing.T) {
	w := get(t, newHTTPServer(populatedTracker(), recon.AxesXY), "/alpha")
	require.Equal(t, http.StatusOK, w.Code)

	var alphas []float64
	require.NoError(t, json.NewDecoder(w.Body).Decode(&alphas))
	assert.Equal(t, []float64{0.8, 0.4}, alphas)
}

func TestAlpha_Empty(t *testing.T) {
	w := get(t, newHTTPServer(emptyTracker(), recon.AxesXY), "/alpha")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

// ---------------------------------------------------------------------------
// images
// ---------------------------------------------------------------------------

func TestEndpoints_NoState_503(t *testing.T) {
	handler := newHTTPServer(emptyTracker(), recon.AxesXY)
	for _, path := range []string{"/plan", "/depth.png", "/mesh.svg", "/mesh.png"} {
		t.Run(path, func(t *testing.T) {
			w := get(t, handler, path)
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

func TestDepthPNG(t *testing.T) {
	w := get(t, newHTTPServer(populatedTracker(), recon.AxesXY), "/depth.png")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestMeshSVG(t *testing.T) {
	w := get(t, newHTTPServer(populatedTracker(), recon.AxesXY), "/mesh.svg")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<svg")
}

func TestMeshPNG_SideAxes(t *testing.T) {
	w := get(t, newHTTPServer(populatedTracker(), recon.AxesXY), "/mesh.png?axes=xz")
	require.Equal(t, http.StatusOK, w.Code)

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestMesh_BadAxes(t *testing.T) {
	w := get(t, newHTTPServer(populatedTracker(), recon.AxesXY), "/mesh.svg?axes=zz")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

package recon

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IterationSnapshot describes the outcome of one refinement iteration
type IterationSnapshot struct {
	RunID     string         `json:"runId"`
	Iteration int            `json:"iteration"`
	Alpha     float64        `json:"alpha"`
	Points    int            `json:"points"`
	Vertices  int            `json:"vertices"`
	Faces     int            `json:"faces"`
	Pairs     int            `json:"pairs"`
	Bundles   []CameraBundle `json:"bundles"`
	Density   *DensityStats  `json:"density,omitempty"` // Nil when the filter did not run
	Timestamp time.Time      `json:"timestamp"`

	Mesh  *Mesh        `json:"-"`
	Depth *DepthBuffer `json:"-"`
}

// StateTracker keeps the latest iteration results for HTTP endpoints
type StateTracker struct {
	mu        sync.RWMutex
	history   []IterationSnapshot
	alphas    []float64
	cameras   []Mat4
	mesh      *Mesh
	depth     *DepthBuffer
	cachePath string // path to the last snapshot JSON; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// NewStateTrackerWithCache creates a state tracker that persists the latest
// snapshot to cachePath. If the file exists, it is loaded as the starting
// history.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := &StateTracker{cachePath: cachePath}
	if cachePath != "" {
		if snap, err := LoadSnapshot(cachePath); err == nil {
			st.history = append(st.history, *snap)
			st.alphas = append(st.alphas, snap.Alpha)
		}
	}
	return st
}

// SetCameras stores the candidate cameras for overview rendering
func (st *StateTracker) SetCameras(cams []Mat4) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cameras = append([]Mat4(nil), cams...)
}

// Record appends a finished iteration. The mesh and depth buffer are kept
// only for the latest iteration.
func (st *StateTracker) Record(snap IterationSnapshot) {
	st.mu.Lock()
	if snap.Mesh != nil {
		st.mesh = snap.Mesh
	}
	if snap.Depth != nil {
		st.depth = snap.Depth
	}
	snap.Mesh, snap.Depth = nil, nil
	st.history = append(st.history, snap)
	st.alphas = append(st.alphas, snap.Alpha)
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" {
		if err := SaveSnapshot(&snap, cachePath); err != nil {
			log.Printf("warning: failed to save snapshot cache: %v", err)
		}
	}
}

// Latest returns the most recent snapshot
func (st *StateTracker) Latest() (IterationSnapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if len(st.history) == 0 {
		return IterationSnapshot{}, false
	}
	return st.history[len(st.history)-1], true
}

// History returns a copy of every recorded snapshot, oldest first
func (st *StateTracker) History() []IterationSnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]IterationSnapshot(nil), st.history...)
}

// AlphaHistory returns the alpha of every recorded iteration
func (st *StateTracker) AlphaHistory() []float64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]float64{}, st.alphas...)
}

// Mesh returns the latest mesh, or nil
func (st *StateTracker) Mesh() *Mesh {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.mesh
}

// Depth returns the latest viewer depth buffer, or nil
func (st *StateTracker) Depth() *DepthBuffer {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.depth
}

// Cameras returns the candidate cameras
func (st *StateTracker) Cameras() []Mat4 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]Mat4(nil), st.cameras...)
}

// SaveSnapshot writes a snapshot to disk as JSON.
func SaveSnapshot(snap *IterationSnapshot, path string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot cache: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from a JSON file on disk.
func LoadSnapshot(path string) (*IterationSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot cache: %w", err)
	}
	var snap IterationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot cache: %w", err)
	}
	return &snap, nil
}

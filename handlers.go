package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/kwv/meshrefine/recon"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *recon.StateTracker, axes recon.ProjectionAxes) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		latest, ok := stateTracker.Latest()
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasPlan   bool      `json:"hasPlan"`
			RunID     string    `json:"runId,omitempty"`
			Iteration int       `json:"iteration"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasPlan:   ok,
			RunID:     latest.RunID,
			Iteration: latest.Iteration,
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Latest camera plan
	mux.HandleFunc("/plan", func(w http.ResponseWriter, r *http.Request) {
		latest, ok := stateTracker.Latest()
		if !ok {
			http.Error(w, "No plan available", http.StatusServiceUnavailable)
			return
		}
		bundles := latest.Bundles
		if bundles == nil {
			bundles = []recon.CameraBundle{}
		}
		plan := recon.PlanMessage{
			RunID:     latest.RunID,
			Iteration: latest.Iteration,
			Alpha:     latest.Alpha,
			Pairs:     latest.Pairs,
			Bundles:   bundles,
			Timestamp: latest.Timestamp.Unix(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(plan); err != nil {
			log.Printf("Error encoding plan: %v", err)
		}
	})

	// Alpha history, one entry per iteration
	mux.HandleFunc("/alpha", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stateTracker.AlphaHistory()); err != nil {
			log.Printf("Error encoding alpha history: %v", err)
		}
	})

	// Last depth buffer rendered during camera selection
	mux.HandleFunc("/depth.png", func(w http.ResponseWriter, r *http.Request) {
		depth := stateTracker.Depth()
		if depth == nil {
			http.Error(w, "No depth buffer available", http.StatusServiceUnavailable)
			return
		}
		latest, _ := stateTracker.Latest()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		caption := fmt.Sprintf("iteration %d", latest.Iteration)
		if err := recon.WriteDepthPNG(w, depth, caption); err != nil {
			log.Printf("Error encoding depth PNG: %v", err)
		}
	})

	mux.HandleFunc("/mesh.svg", func(w http.ResponseWriter, r *http.Request) {
		serveOverview(w, r, stateTracker, axes, "svg")
	})
	mux.HandleFunc("/mesh.png", func(w http.ResponseWriter, r *http.Request) {
		serveOverview(w, r, stateTracker, axes, "png")
	})

	return mux
}

// serveOverview renders the latest mesh, cameras and plan. An "axes" query
// parameter overrides the default projection.
func serveOverview(w http.ResponseWriter, r *http.Request, stateTracker *recon.StateTracker, axes recon.ProjectionAxes, format string) {
	m := stateTracker.Mesh()
	if m == nil {
		http.Error(w, "No mesh available", http.StatusServiceUnavailable)
		return
	}
	if q := r.URL.Query().Get("axes"); q != "" {
		parsed, err := recon.ParseAxes(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		axes = parsed
	}

	latest, _ := stateTracker.Latest()
	renderer := recon.NewOverviewRenderer(m, stateTracker.Cameras(), recon.ChosenFromBundles(latest.Bundles))
	renderer.Axes = axes

	w.Header().Set("Cache-Control", "no-cache")
	var err error
	if format == "svg" {
		w.Header().Set("Content-Type", "image/svg+xml")
		err = renderer.RenderToSVG(w)
	} else {
		w.Header().Set("Content-Type", "image/png")
		err = renderer.RenderToPNG(w)
	}
	if err != nil {
		log.Printf("Error rendering mesh overview: %v", err)
	}
}

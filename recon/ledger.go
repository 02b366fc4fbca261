package recon

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ledger_schema.sql creates the run, iteration and camera pair tables.
//
//go:embed ledger_schema.sql
var ledgerSchemaSQL string

// Ledger records run history in a sqlite database
type Ledger struct {
	*sql.DB
}

// RunRecord is one row of the runs table
type RunRecord struct {
	RunID       string    `json:"runId"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	Status      string    `json:"status"`
	Iterations  int       `json:"iterations"`
	Cameras     int       `json:"cameras"`
	InputPoints int       `json:"inputPoints"`
}

// IterationRecord is one row of the iterations table
type IterationRecord struct {
	Iteration int           `json:"iteration"`
	Alpha     float64       `json:"alpha"`
	Points    int           `json:"points"`
	Vertices  int           `json:"vertices"`
	Faces     int           `json:"faces"`
	Pairs     int           `json:"pairs"`
	Density   *DensityStats `json:"density,omitempty"`
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// OpenLedger opens (creating if needed) the ledger at path
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(ledgerSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	log.Printf("Opened run ledger %s", path)
	return &Ledger{db}, nil
}

// StartRun inserts a run row
func (l *Ledger) StartRun(runID string, config *Config, cameras, inputPoints int) error {
	cfg, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling run config: %w", err)
	}
	_, err = l.Exec(`
		INSERT INTO runs (run_id, started_at, cameras, input_points, config_json)
		VALUES (?, ?, ?, ?, ?)
	`, runID, time.Now().Unix(), cameras, inputPoints, string(cfg))
	if err != nil {
		return fmt.Errorf("starting run %s: %w", runID, err)
	}
	return nil
}

// RecordIteration stores an iteration and its camera pairs in one transaction
func (l *Ledger) RecordIteration(snap IterationSnapshot) error {
	var density sql.NullString
	if snap.Density != nil {
		data, err := json.Marshal(snap.Density)
		if err != nil {
			return fmt.Errorf("marshaling density stats: %w", err)
		}
		density = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := l.Begin()
	if err != nil {
		return fmt.Errorf("beginning iteration insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO iterations (run_id, iteration, alpha, points, vertices, faces, pairs, density_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.RunID, snap.Iteration, snap.Alpha, snap.Points, snap.Vertices, snap.Faces, snap.Pairs, density, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("inserting iteration %d: %w", snap.Iteration, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO camera_pairs (run_id, iteration, main_camera, side_camera)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing pair insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, b := range snap.Bundles {
		for _, side := range b.Sides {
			if _, err := stmt.Exec(snap.RunID, snap.Iteration, b.Main, side); err != nil {
				return fmt.Errorf("inserting pair (%d, %d): %w", b.Main, side, err)
			}
		}
	}

	if _, err := tx.Exec(`UPDATE runs SET iterations = ? WHERE run_id = ?`, snap.Iteration, snap.RunID); err != nil {
		return fmt.Errorf("updating run %s: %w", snap.RunID, err)
	}
	return tx.Commit()
}

// FinishRun marks a run finished with the given status
func (l *Ledger) FinishRun(runID, status string) error {
	res, err := l.Exec(`UPDATE runs SET finished_at = ?, status = ? WHERE run_id = ?`,
		time.Now().Unix(), status, runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: no such run", runID)
	}
	return nil
}

// Run returns one run row
func (l *Ledger) Run(runID string) (*RunRecord, error) {
	var r RunRecord
	var started int64
	var finished sql.NullInt64
	err := l.QueryRow(`
		SELECT run_id, started_at, finished_at, status, iterations, cameras, input_points
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &started, &finished, &r.Status, &r.Iterations, &r.Cameras, &r.InputPoints)
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	r.StartedAt = time.Unix(started, 0)
	if finished.Valid {
		r.FinishedAt = time.Unix(finished.Int64, 0)
	}
	return &r, nil
}

// Iterations returns every recorded iteration of a run in order
func (l *Ledger) Iterations(runID string) ([]IterationRecord, error) {
	rows, err := l.Query(`
		SELECT iteration, alpha, points, vertices, faces, pairs, density_json
		FROM iterations WHERE run_id = ? ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var density sql.NullString
		if err := rows.Scan(&rec.Iteration, &rec.Alpha, &rec.Points, &rec.Vertices, &rec.Faces, &rec.Pairs, &density); err != nil {
			return nil, fmt.Errorf("scanning iteration: %w", err)
		}
		if density.Valid {
			rec.Density = &DensityStats{}
			if err := json.Unmarshal([]byte(density.String), rec.Density); err != nil {
				return nil, fmt.Errorf("decoding density stats: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Pairs returns the (main, side) pairs chosen in one iteration, ordered by main then side
func (l *Ledger) Pairs(runID string, iteration int) ([][2]int, error) {
	rows, err := l.Query(`
		SELECT main_camera, side_camera FROM camera_pairs
		WHERE run_id = ? AND iteration = ?
		ORDER BY main_camera, side_camera
	`, runID, iteration)
	if err != nil {
		return nil, fmt.Errorf("querying pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out [][2]int
	for rows.Next() {
		var p [2]int
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("scanning pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

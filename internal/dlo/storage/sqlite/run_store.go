package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/timeutil"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one replay of a recorded session through the tracker.
type Run struct {
	RunID           string `json:"run_id"`
	SourcePath      string `json:"source_path"`
	NodeCount       int    `json:"node_count"`
	Status          string `json:"status"`
	StartedAt       int64  `json:"started_at"`
	FinishedAt      int64  `json:"finished_at,omitempty"`
	FramesProcessed int    `json:"frames_processed"`
	Error           string `json:"error,omitempty"`
}

// FrameRecord is the persisted outcome of one tracker step.
type FrameRecord struct {
	RunID          string       `json:"run_id"`
	FrameIndex     int          `json:"frame_index"`
	TimestampNanos int64        `json:"ts_unix_nanos"`
	Sigma2         float64      `json:"sigma2"`
	Converged      bool         `json:"converged"`
	GuideConverged bool         `json:"guide_converged"`
	GuideSkipped   bool         `json:"guide_skipped"`
	Iterations     int          `json:"iterations"`
	VisibleCount   int          `json:"visible_count"`
	OccludedCount  int          `json:"occluded_count"`
	Nodes          dlo.PointSet `json:"nodes"`
	GuideNodes     dlo.PointSet `json:"guide_nodes,omitempty"`
}

// RunStore reads and writes runs and their frames.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a new RunStore stamping rows with the wall clock.
func NewRunStore(db *sql.DB) *RunStore {
	return NewRunStoreWithClock(db, timeutil.RealClock{})
}

// NewRunStoreWithClock creates a RunStore with an injected clock.
func NewRunStoreWithClock(db *sql.DB, clock timeutil.Clock) *RunStore {
	return &RunStore{db: db, clock: clock}
}

// StartRun inserts a running row and returns its generated ID.
func (s *RunStore) StartRun(sourcePath string, nodeCount int) (string, error) {
	runID := uuid.NewString()
	err := retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(`
			INSERT INTO dlo_runs (run_id, source_path, node_count, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			runID, sourcePath, nodeCount, RunStatusRunning, s.clock.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// InsertFrame stores one frame and bumps the run's processed count.
func (s *RunStore) InsertFrame(f *FrameRecord) error {
	nodesJSON, err := encodeNodes(f.Nodes)
	if err != nil {
		return fmt.Errorf("encode nodes: %w", err)
	}
	var guideJSON interface{}
	if len(f.GuideNodes) > 0 {
		g, err := encodeNodes(f.GuideNodes)
		if err != nil {
			return fmt.Errorf("encode guide nodes: %w", err)
		}
		guideJSON = g
	}

	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO dlo_frames (
				run_id, frame_index, ts_unix_nanos, sigma2, converged, guide_converged,
				guide_skipped, iterations, visible_count, occluded_count,
				nodes_json, guide_nodes_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.RunID, f.FrameIndex, f.TimestampNanos, f.Sigma2, f.Converged, f.GuideConverged,
			f.GuideSkipped, f.Iterations, f.VisibleCount, f.OccludedCount,
			nodesJSON, guideJSON,
		)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`UPDATE dlo_runs SET frames_processed = frames_processed + 1 WHERE run_id = ?`, f.RunID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, f.RunID)
		}
		return tx.Commit()
	})
}

// CompleteRun marks a run as completed.
func (s *RunStore) CompleteRun(runID string) error {
	return s.finish(runID, RunStatusCompleted, "")
}

// FailRun marks a run as failed with a reason.
func (s *RunStore) FailRun(runID, reason string) error {
	return s.finish(runID, RunStatusFailed, reason)
}

func (s *RunStore) finish(runID, status, reason string) error {
	var errText interface{}
	if reason != "" {
		errText = reason
	}
	return retryOnBusy(s.clock, func() error {
		res, err := s.db.Exec(`
			UPDATE dlo_runs SET status = ?, finished_at = ?, error = ?
			WHERE run_id = ?`,
			status, s.clock.Now().UnixNano(), errText, runID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// GetRun returns a run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source_path, node_count, status, started_at,
		       finished_at, frames_processed, error
		FROM dlo_runs
		WHERE run_id = ?`, runID)

	var r Run
	var finished sql.NullInt64
	var errText sql.NullString
	err := row.Scan(&r.RunID, &r.SourcePath, &r.NodeCount, &r.Status, &r.StartedAt,
		&finished, &r.FramesProcessed, &errText)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.FinishedAt = finished.Int64
	r.Error = errText.String
	return &r, nil
}

// GetFrames returns all frames of a run ordered by frame index.
func (s *RunStore) GetFrames(runID string) ([]*FrameRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, frame_index, ts_unix_nanos, sigma2, converged, guide_converged,
		       guide_skipped, iterations, visible_count, occluded_count,
		       nodes_json, guide_nodes_json
		FROM dlo_frames
		WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var frames []*FrameRecord
	for rows.Next() {
		var f FrameRecord
		var nodesJSON string
		var guideJSON sql.NullString
		if err := rows.Scan(&f.RunID, &f.FrameIndex, &f.TimestampNanos, &f.Sigma2,
			&f.Converged, &f.GuideConverged, &f.GuideSkipped, &f.Iterations,
			&f.VisibleCount, &f.OccludedCount, &nodesJSON, &guideJSON); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		if f.Nodes, err = decodeNodes(nodesJSON); err != nil {
			return nil, fmt.Errorf("frame %d nodes: %w", f.FrameIndex, err)
		}
		if guideJSON.Valid {
			if f.GuideNodes, err = decodeNodes(guideJSON.String); err != nil {
				return nil, fmt.Errorf("frame %d guide nodes: %w", f.FrameIndex, err)
			}
		}
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}

// Nodes are stored as [[x,y,z],...].
func encodeNodes(ps dlo.PointSet) (string, error) {
	triples := make([][3]float64, len(ps))
	for i, p := range ps {
		triples[i] = [3]float64{p.X, p.Y, p.Z}
	}
	b, err := json.Marshal(triples)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeNodes(s string) (dlo.PointSet, error) {
	var triples [][3]float64
	if err := json.Unmarshal([]byte(s), &triples); err != nil {
		return nil, err
	}
	ps := make(dlo.PointSet, len(triples))
	for i, t := range triples {
		ps[i] = dlo.Point{X: t[0], Y: t[1], Z: t[2]}
	}
	return ps, nil
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/replay"
	"github.com/banshee-data/dlotrack/internal/dlo/storage/sqlite"
)

// ropeCloud samples a straight rope along X at depth z, offset by dy.
func ropeCloud(length, dy, z float64) dlo.PointSet {
	var ps dlo.PointSet
	for s := 0.0; s <= length+1e-9; s += 0.005 {
		ps = append(ps, dlo.Point{X: s - length/2, Y: dy, Z: z})
	}
	return ps
}

const testTuning = `{
  "node_count": 12,
  "ordering_max_step": 0.1,
  "voxel_leaf_size": 0.001
}`

func writeReplay(t *testing.T, dir string, lines func(w *replay.Writer, f *os.File)) string {
	t.Helper()
	path := filepath.Join(dir, "frames.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := replay.NewWriter(f)
	lines(w, f)
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())
	return path
}

func setup(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testTuning), 0o644))
	return dir, cfgPath
}

func openStore(t *testing.T, path string) *sqlite.RunStore {
	t.Helper()
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewRunStore(db.DB)
}

func TestRunReplaysFrames(t *testing.T) {
	dir, cfgPath := setup(t)
	input := writeReplay(t, dir, func(w *replay.Writer, f *os.File) {
		require.NoError(t, w.Write(replay.NewFrame(0, 100, ropeCloud(0.3, 0, 1), nil)))
		require.NoError(t, w.Write(replay.NewFrame(1, 200, ropeCloud(0.3, 0.002, 1), nil)))
		require.NoError(t, w.Flush())
		// Malformed and empty frames are skipped.
		_, err := f.WriteString("{\"index\":2,\"points\":[[0,0]]}\n")
		require.NoError(t, err)
		require.NoError(t, w.Write(replay.NewFrame(3, 400, nil, nil)))
		require.NoError(t, w.Write(replay.NewFrame(4, 500, ropeCloud(0.3, 0.004, 1), nil)))
	})

	dbPath := filepath.Join(dir, "runs.db")
	plots := filepath.Join(dir, "plots")
	runID, err := run(context.Background(), options{
		input:      input,
		configPath: cfgPath,
		dbPath:     dbPath,
		plotsDir:   plots,
		plotEvery:  4,
	})
	require.NoError(t, err)

	store := openStore(t, dbPath)
	r, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusCompleted, r.Status)
	assert.Equal(t, 3, r.FramesProcessed)
	assert.Equal(t, 12, r.NodeCount)

	frames, err := store.GetFrames(runID)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int{0, 1, 4}, []int{frames[0].FrameIndex, frames[1].FrameIndex, frames[2].FrameIndex})
	last := frames[2]
	assert.Equal(t, len(frames[0].Nodes), len(last.Nodes))
	for _, n := range last.Nodes {
		assert.InDelta(t, 0.004, n.Y, 0.01)
		assert.InDelta(t, 1.0, n.Z, 0.01)
	}

	for _, name := range []string{"frame_000000.png", "frame_000000.html", "frame_000004.png", "frame_000004.html"} {
		assert.FileExists(t, filepath.Join(plots, name))
	}
	assert.NoFileExists(t, filepath.Join(plots, "frame_000001.png"))
}

func TestRunBootstrapsFromKeypoints(t *testing.T) {
	dir, cfgPath := setup(t)
	keypoints := dlo.PointSet{{X: 0.15, Z: 1}, {X: -0.15, Z: 1}, {X: 0, Z: 1}, {X: -0.075, Z: 1}, {X: 0.075, Z: 1}}
	input := writeReplay(t, dir, func(w *replay.Writer, f *os.File) {
		require.NoError(t, w.Write(replay.NewFrame(0, 100, ropeCloud(0.3, 0, 1), keypoints)))
	})

	dbPath := filepath.Join(dir, "runs.db")
	runID, err := run(context.Background(), options{input: input, configPath: cfgPath, dbPath: dbPath})
	require.NoError(t, err)

	frames, err := openStore(t, dbPath).GetFrames(runID)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Nodes, len(keypoints))
}

func TestRunInterruptedMarksFailed(t *testing.T) {
	dir, cfgPath := setup(t)
	input := writeReplay(t, dir, func(w *replay.Writer, f *os.File) {
		require.NoError(t, w.Write(replay.NewFrame(0, 100, ropeCloud(0.3, 0, 1), nil)))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dbPath := filepath.Join(dir, "runs.db")
	runID, err := run(ctx, options{input: input, configPath: cfgPath, dbPath: dbPath})
	require.ErrorIs(t, err, context.Canceled)
	require.NotEmpty(t, runID)

	r, err := openStore(t, dbPath).GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusFailed, r.Status)
	assert.Contains(t, r.Error, "interrupted")
	assert.Zero(t, r.FramesProcessed)
}

func TestRunRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := run(context.Background(), options{
		input:      filepath.Join(dir, "missing.jsonl"),
		configPath: filepath.Join(dir, "missing.json"),
		dbPath:     filepath.Join(dir, "runs.db"),
	})
	assert.Error(t, err)
}

// Command dlotrack replays a recorded session through the deformable
// linear object tracker, persisting every frame to SQLite and optionally
// writing snapshot plots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/dlotrack/internal/config"
	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/cloud"
	"github.com/banshee-data/dlotrack/internal/dlo/occlusion"
	"github.com/banshee-data/dlotrack/internal/dlo/render"
	"github.com/banshee-data/dlotrack/internal/dlo/replay"
	"github.com/banshee-data/dlotrack/internal/dlo/storage/sqlite"
	"github.com/banshee-data/dlotrack/internal/dlo/tracking"
	"github.com/banshee-data/dlotrack/internal/version"
)

var (
	input      = flag.String("input", "", "Replay file (JSON lines, one frame per line)")
	configPath = flag.String("config", "", "Tuning config JSON (defaults when empty)")
	dbPath     = flag.String("db", "dlotrack.db", "SQLite database for runs and frames")
	plotsDir   = flag.String("plots", "", "Directory for PNG/HTML snapshots (disabled when empty)")
	plotEvery  = flag.Int("plot-every", 10, "Write a snapshot every N frames")
	diag       = flag.Bool("diag", false, "Enable per-frame diagnostics logging")
	trace      = flag.Bool("trace", false, "Enable per-iteration trace logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: dlotrack -input frames.jsonl [-config tuning.json] [-db dlotrack.db] [-plots dir] [-plot-every n]")
		os.Exit(2)
	}

	w := dlo.LogWriters{Ops: os.Stderr}
	if *diag {
		w.Diag = os.Stderr
	}
	if *trace {
		w.Trace = os.Stderr
	}
	dlo.SetLogWriters(w)
	dlo.Opsf("%s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := run(ctx, options{
		input:      *input,
		configPath: *configPath,
		dbPath:     *dbPath,
		plotsDir:   *plotsDir,
		plotEvery:  *plotEvery,
	})
	if err != nil {
		log.Fatalf("run %s: %v", runID, err)
	}
	log.Printf("run %s completed", runID)
}

type options struct {
	input      string
	configPath string
	dbPath     string
	plotsDir   string
	plotEvery  int
}

// session holds everything a replay needs between frames.
type session struct {
	opts    options
	tuning  *config.TuningConfig
	tracker *tracking.Tracker
	store   *sqlite.RunStore
	runID   string
	state   *tracking.TrackState
}

// run replays opts.input and returns the run ID. The run is marked failed
// when ctx is cancelled or a storage error occurs.
func run(ctx context.Context, opts options) (string, error) {
	tuning := config.EmptyTuningConfig()
	if opts.configPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(opts.configPath); err != nil {
			return "", err
		}
	}
	trackerCfg, err := tracking.TrackerConfigFromTuning(tuning)
	if err != nil {
		return "", err
	}
	cam, err := dlo.NewCamera(tuning.GetCameraProjection())
	if err != nil {
		return "", err
	}
	if opts.plotsDir != "" {
		if err := os.MkdirAll(opts.plotsDir, 0o755); err != nil {
			return "", fmt.Errorf("create plots dir: %w", err)
		}
	}

	db, err := sqlite.Open(opts.dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	reader, err := replay.OpenFile(opts.input)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	s := &session{
		opts:    opts,
		tuning:  tuning,
		tracker: tracking.NewTracker(trackerCfg, cam),
		store:   sqlite.NewRunStore(db.DB),
	}
	if s.runID, err = s.store.StartRun(opts.input, tuning.GetNodeCount()); err != nil {
		return "", err
	}
	dlo.Opsf("run %s started: input=%s", s.runID, opts.input)

	if err := s.replay(ctx, reader); err != nil {
		if ferr := s.store.FailRun(s.runID, err.Error()); ferr != nil {
			dlo.Opsf("run %s: mark failed: %v", s.runID, ferr)
		}
		return s.runID, err
	}
	return s.runID, s.store.CompleteRun(s.runID)
}

func (s *session) replay(ctx context.Context, reader *replay.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted: %w", err)
		}
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			dlo.Opsf("skipping frame: %v", err)
			continue
		}
		if err := s.process(frame); err != nil {
			return err
		}
	}
}

// process tracks one frame. Malformed frames are logged and skipped; only
// storage and plotting failures are returned.
func (s *session) process(frame replay.Frame) error {
	raw := frame.Cloud()
	x := cloud.VoxelGrid(raw, s.tuning.GetVoxelLeafSize())

	if s.state == nil {
		state, err := s.bootstrap(x, frame.KeypointSet())
		if err != nil {
			dlo.Opsf("frame %d: bootstrap failed, skipping: %v", frame.Index, err)
			return nil
		}
		s.state = state
		rec := &sqlite.FrameRecord{
			RunID:          s.runID,
			FrameIndex:     frame.Index,
			TimestampNanos: frame.TimestampNanos,
			Sigma2:         state.Sigma2,
			Converged:      true,
			GuideSkipped:   true,
			VisibleCount:   len(state.Nodes),
			Nodes:          state.Nodes,
		}
		if err := s.store.InsertFrame(rec); err != nil {
			return fmt.Errorf("frame %d: %w", frame.Index, err)
		}
		return s.snapshot(frame, raw, nil)
	}

	mask := occlusion.MaskFromPoints(raw, s.tracker.Camera(),
		s.tuning.GetImageWidth(), s.tuning.GetImageHeight(), s.tuning.GetMaskPointRadius())
	field := occlusion.DistanceTransform(mask)

	res, err := s.tracker.Step(x, s.state, field)
	if err != nil {
		dlo.Opsf("frame %d: skipping: %v", frame.Index, err)
		return nil
	}
	rec := &sqlite.FrameRecord{
		RunID:          s.runID,
		FrameIndex:     frame.Index,
		TimestampNanos: frame.TimestampNanos,
		Sigma2:         s.state.Sigma2,
		Converged:      res.Converged,
		GuideConverged: res.GuideConverged,
		GuideSkipped:   res.GuideSkipped,
		Iterations:     res.Iterations,
		VisibleCount:   len(res.Visible),
		OccludedCount:  len(res.Occluded),
		Nodes:          s.state.Nodes,
		GuideNodes:     res.GuideNodes,
	}
	if err := s.store.InsertFrame(rec); err != nil {
		return fmt.Errorf("frame %d: %w", frame.Index, err)
	}
	return s.snapshot(frame, raw, res)
}

func (s *session) bootstrap(x, keypoints dlo.PointSet) (*tracking.TrackState, error) {
	if len(keypoints) > 0 {
		return tracking.BootstrapFromKeypoints(x, keypoints, s.tracker.Config)
	}
	return tracking.Bootstrap(x, s.tracker.Config)
}

func (s *session) snapshot(frame replay.Frame, raw dlo.PointSet, res *tracking.FrameResult) error {
	if s.opts.plotsDir == "" || s.opts.plotEvery <= 0 || frame.Index%s.opts.plotEvery != 0 {
		return nil
	}
	snap := render.Snapshot{
		Title:    fmt.Sprintf("frame %d", frame.Index),
		Observed: raw,
		Nodes:    s.state.Nodes,
	}
	if res != nil {
		snap.GuideNodes = res.GuideNodes
		snap.Occluded = res.Occluded
	}

	base := filepath.Join(s.opts.plotsDir, fmt.Sprintf("frame_%06d", frame.Index))
	if err := writeFile(base+".png", func(w io.Writer) error { return render.WriteChainPNG(w, snap) }); err != nil {
		return err
	}
	return writeFile(base+".html", func(w io.Writer) error { return render.WriteChainHTML(w, snap) })
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

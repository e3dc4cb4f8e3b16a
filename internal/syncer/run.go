package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/accelara/treesync/internal/common"
	"github.com/accelara/treesync/internal/events"
	"github.com/accelara/treesync/internal/integrity"
	"github.com/accelara/treesync/internal/metrics"
	"github.com/accelara/treesync/internal/planner"
	"github.com/accelara/treesync/internal/progress"
	"github.com/accelara/treesync/internal/utils"
)

// Snapshot is an immutable view of a run in progress.
type Snapshot struct {
	RunID       uuid.UUID
	Kind        string
	State       State
	CurrentFile string
	Transferred int64
	Total       int64
	Fraction    float64
	RateBps     int64
}

// run is the state of one sync or verify execution. Only the goroutine
// executing it mutates it; the atomics are read by snapshots and the rate
// sampler.
type run struct {
	e    *Engine
	ctx  context.Context
	id   uuid.UUID
	kind string
	ev   events.Logger
	log  *slog.Logger

	meter   *progress.Meter
	state   atomic.Int32
	current atomic.Pointer[string]
	rate    atomic.Int64
}

func (e *Engine) newRun(ctx context.Context, kind string) *run {
	id := uuid.New()
	return &run{
		e:     e,
		ctx:   ctx,
		id:    id,
		kind:  kind,
		ev:    e.bus.WithRun(id),
		log:   e.log.With(slog.String("run", id.String()), slog.String("kind", kind)),
		meter: progress.NewMeter(),
	}
}

func (r *run) snapshot() Snapshot {
	stats := r.meter.Snapshot()
	s := Snapshot{
		RunID:       r.id,
		Kind:        r.kind,
		State:       State(r.state.Load()),
		Transferred: stats.BytesDone,
		Total:       stats.Total,
		Fraction:    stats.Fraction,
		RateBps:     r.rate.Load(),
	}
	if p := r.current.Load(); p != nil {
		s.CurrentFile = *p
	}
	return s
}

func (r *run) to(next State) {
	prev := State(r.state.Load())
	if err := checkTransition(prev, next); err != nil {
		// A broken lifecycle is a programming error.
		panic(err)
	}
	r.state.Store(int32(next))
	r.log.Debug("state changed", slog.String("from", prev.String()), slog.String("to", next.String()))
	r.ev.Log(events.StateChanged, events.StateChangedData{From: prev.String(), To: next.String()})
}

func (r *run) setCurrent(path string) {
	r.current.Store(&path)
}

func (r *run) started(subset []string) {
	metrics.ActiveRun.Inc()
	r.log.Info("run started")
	r.ev.Log(events.RunStarted, events.RunStartedData{Kind: r.kind, Subset: subset})
}

// finish moves the run into its terminal state and publishes the matching
// event.
func (r *run) finish(res Result, status, message string, err error) (Result, error) {
	defer metrics.ActiveRun.Dec()

	res.RunID = r.id
	res.Kind = r.kind

	data := events.FinishedData{
		Kind:        r.kind,
		Status:      status,
		Message:     message,
		Corrupted:   res.Corrupted,
		Transferred: res.Transferred,
		Total:       res.Total,
	}

	switch status {
	case events.StatusStopped:
		res.StoppedEarly = true
		r.to(Cancelled)
		r.log.Info("run stopped", slog.Int64("transferred", res.Transferred))
		r.ev.Log(events.RunStopped, data)
	case events.StatusError:
		r.to(Failed)
		r.log.Error("run failed", slog.Any("error", err))
		r.ev.Log(events.RunFailed, data)
	default:
		r.to(Completed)
		r.log.Info(message,
			slog.Int("corrupted", len(res.Corrupted)),
			slog.String("transferred", utils.HumanBytes(res.Transferred)),
		)
		r.ev.Log(events.RunCompleted, data)
	}

	res.State = State(r.state.Load())
	res.Succeeded = status != events.StatusError && len(res.Corrupted) == 0 && !res.StoppedEarly
	metrics.Runs.WithLabelValues(r.kind, status).Inc()

	return res, err
}

// stoppedOrFailed classifies an error from a phase that aborts the run.
func (r *run) stoppedOrFailed(res Result, err error) (Result, error) {
	if errors.Is(err, common.ErrCancelled) || r.ctx.Err() != nil {
		return r.finish(res, events.StatusStopped, "stopped by user", nil)
	}
	return r.finish(res, events.StatusError, fmt.Sprintf("failed: %v", err), err)
}

func (r *run) sync(subset []string) (Result, error) {
	e := r.e
	var res Result

	r.started(subset)
	r.to(Planning)

	m, err := e.fetcher.Fetch(r.ctx, e.opts.ManifestURL)
	if err != nil {
		return r.stoppedOrFailed(res, err)
	}

	tasks, err := e.planner.Plan(r.ctx, m, e.opts.TargetDir, subset)
	if err != nil {
		return r.stoppedOrFailed(res, err)
	}

	if len(tasks) == 0 {
		res.UpToDate = true
		return r.finish(res, events.StatusUpToDate, "already up to date", nil)
	}

	for _, t := range tasks {
		res.Total += t.Entry.Size
	}
	res.Queued = len(tasks)
	r.meter.Start(res.Total)
	r.log.Info("transferring", slog.Int("files", len(tasks)), slog.String("size", utils.HumanBytes(res.Total)))
	r.to(Transferring)

	sampleCtx, stopSampling := context.WithCancel(r.ctx)
	var out transferOutcome
	var g errgroup.Group
	g.Go(func() error {
		r.sample(sampleCtx)
		return nil
	})
	g.Go(func() error {
		defer stopSampling()
		out = r.transfer(tasks)
		return nil
	})
	_ = g.Wait()

	res.Corrupted = out.corrupted
	res.Transferred = r.meter.Snapshot().BytesDone
	if !out.stopped {
		r.meter.Finish()
		// Only empty files were queued, so no byte ever moved the fraction.
		if res.Total == 0 {
			fileProgress{r: r}.publish()
		}
	}

	switch {
	case out.stopped:
		return r.finish(res, events.StatusStopped, "stopped by user", nil)
	case out.fsFailures == len(tasks):
		err := fmt.Errorf("every file failed on the local filesystem: %w", out.firstFSErr)
		return r.finish(res, events.StatusError, fmt.Sprintf("failed: %v", err), err)
	case len(out.corrupted) > 0:
		return r.finish(res, events.StatusSuccessWithErrors, fmt.Sprintf("completed with %d corrupted files", len(out.corrupted)), nil)
	default:
		return r.finish(res, events.StatusSuccess, "synchronization complete", nil)
	}
}

type transferOutcome struct {
	corrupted  []string
	fsFailures int
	firstFSErr error
	stopped    bool
}

func (o *transferOutcome) fail(path, reason string, err error) {
	o.corrupted = append(o.corrupted, path)
	metrics.FilesCorrupted.WithLabelValues(reason).Inc()
	if reason == metrics.ReasonFilesystem {
		o.fsFailures++
		if o.firstFSErr == nil {
			o.firstFSErr = err
		}
	}
}

func (r *run) transfer(tasks []planner.Task) transferOutcome {
	e := r.e
	var out transferOutcome

	for i, t := range tasks {
		if r.ctx.Err() != nil {
			out.stopped = true
			return out
		}
		if State(r.state.Load()) == Finalizing {
			r.to(Transferring)
		}

		path := t.Entry.Path
		log := r.log.With(slog.String("item", path))
		r.setCurrent(path)
		r.ev.Log(events.FileStarted, events.FileStartedData{File: path, Index: i + 1, Count: len(tasks)})

		if err := e.fs.MkdirAll(filepath.Dir(t.LocalPath), 0o755); err != nil {
			log.Error("could not create directory", slog.Any("error", err))
			out.fail(path, metrics.ReasonFilesystem, err)
			continue
		}

		err := e.dl.Fetch(r.ctx, t.URL, t.StagingPath, t.Entry.Size, fileProgress{r: r, path: path})
		switch {
		case errors.Is(err, common.ErrCancelled):
			out.stopped = true
			return out
		case errors.Is(err, common.ErrTransferFailed):
			log.Error("transfer failed", slog.Any("error", err))
			out.fail(path, metrics.ReasonTransfer, err)
			continue
		case err != nil:
			log.Error("staging failed", slog.Any("error", err))
			out.fail(path, metrics.ReasonFilesystem, err)
			continue
		}

		r.to(Finalizing)
		if stop := r.finalize(t, log, &out); stop {
			out.stopped = true
			return out
		}
	}

	return out
}

// finalize promotes a staged file whose content matches the manifest. It
// reports whether the run was cancelled while hashing.
func (r *run) finalize(t planner.Task, log *slog.Logger, out *transferOutcome) bool {
	fs := r.e.fs
	path := t.Entry.Path

	st, err := r.e.checker.Check(r.ctx, t.StagingPath, t.Entry.Size, t.Entry.Hash)
	if errors.Is(err, common.ErrCancelled) {
		return true
	}
	if st != integrity.Valid {
		log.Warn("downloaded file does not match manifest", slog.String("status", st.String()))
		if err := fs.Remove(t.StagingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("could not remove staging file", slog.Any("error", err))
		}
		out.fail(path, metrics.ReasonMismatch, fmt.Errorf("%w: %s", common.ErrVerificationMismatch, path))
		return false
	}

	if err := fs.Remove(t.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error("could not replace local file", slog.Any("error", err))
		out.fail(path, metrics.ReasonFilesystem, err)
		return false
	}
	if err := fs.Rename(t.StagingPath, t.LocalPath); err != nil {
		log.Error("could not move staging file into place", slog.Any("error", err))
		out.fail(path, metrics.ReasonFilesystem, err)
		return false
	}

	metrics.FilesFinalized.Inc()
	log.Debug("file synchronized")
	return false
}

// sample publishes the transfer rate until ctx ends. Intervals without new
// bytes are skipped.
func (r *run) sample(ctx context.Context) {
	t := time.NewTicker(r.e.opts.SampleInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			bps, ok := r.meter.Sample()
			if !ok {
				continue
			}
			r.rate.Store(bps)
			stats := r.meter.Snapshot()
			r.ev.Log(events.RateSampled, events.RateData{
				BytesPerSecond: bps,
				Formatted:      utils.HumanRate(bps),
				Transferred:    stats.BytesDone,
				Total:          stats.Total,
			})
		}
	}
}

// fileProgress feeds downloader callbacks into the run meter.
type fileProgress struct {
	r    *run
	path string
}

func (p fileProgress) Resumed(n int64) {
	p.r.meter.Advance(n)
	p.publish()
}

func (p fileProgress) Transferred(n int64) {
	p.r.meter.Add(n)
	p.publish()
}

func (p fileProgress) publish() {
	stats := p.r.meter.Snapshot()
	p.r.ev.Log(events.Progress, events.ProgressData{
		File:        p.path,
		Transferred: stats.BytesDone,
		Total:       stats.Total,
		Fraction:    stats.Fraction,
	})
}

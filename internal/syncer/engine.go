// Package syncer drives synchronization and verification runs of one target
// directory against a remote manifest.
package syncer

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/accelara/treesync/internal/common"
	"github.com/accelara/treesync/internal/downloader"
	"github.com/accelara/treesync/internal/events"
	"github.com/accelara/treesync/internal/integrity"
	"github.com/accelara/treesync/internal/logging"
	"github.com/accelara/treesync/internal/manifest"
	"github.com/accelara/treesync/internal/planner"
)

const (
	KindSync   = "sync"
	KindVerify = "verify"

	DefaultSampleInterval = time.Second
)

// Options configures an Engine. It is copied at construction.
type Options struct {
	ManifestURL    string
	BaseURL        string
	TargetDir      string
	Download       downloader.Options
	HashBlockSize  int
	SampleInterval time.Duration

	// HTTPClient, when set, replaces the client built from Download.
	HTTPClient *http.Client
}

// Result is the outcome of a finished run.
type Result struct {
	RunID        uuid.UUID
	Kind         string
	State        State
	Succeeded    bool
	Corrupted    []string
	StoppedEarly bool
	UpToDate     bool
	Queued       int
	Transferred  int64
	Total        int64
}

// Engine serializes runs over one target directory.
type Engine struct {
	opts    Options
	fs      afero.Fs
	fetcher *manifest.Fetcher
	checker *integrity.Checker
	planner *planner.Planner
	dl      *downloader.HTTPDownloader
	bus     *events.Bus
	log     *slog.Logger

	mu     sync.Mutex
	active *Handle
}

func NewEngine(fs afero.Fs, opts Options, bus *events.Bus, log *slog.Logger) *Engine {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	if log == nil {
		log = logging.Discard()
	}
	if bus == nil {
		bus = events.NewBus()
	}

	dl := downloader.NewHTTPDownloader(fs, opts.Download, log.With(slog.String("component", "downloader")))
	if opts.HTTPClient != nil {
		dl.SetClient(opts.HTTPClient)
	}
	checker := integrity.NewChecker(fs, opts.HashBlockSize, log.With(slog.String("component", "integrity")))

	return &Engine{
		opts:    opts,
		fs:      fs,
		fetcher: manifest.NewFetcher(dl.Client(), log.With(slog.String("component", "manifest"))),
		checker: checker,
		planner: planner.New(fs, checker, opts.BaseURL, log.With(slog.String("component", "planner"))),
		dl:      dl,
		bus:     bus,
		log:     log,
	}
}

func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Active returns the handle of the running run, or nil.
func (e *Engine) Active() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// StartSync begins a synchronization run in the background, stopping any
// active run first. A nil subset synchronizes the whole manifest.
func (e *Engine) StartSync(ctx context.Context, subset []string) *Handle {
	h, _ := e.begin(ctx, KindSync, true)
	go e.execute(h, func(r *run) (Result, error) { return r.sync(subset) })
	return h
}

// StartVerify begins a verification run in the background, stopping any
// active run first.
func (e *Engine) StartVerify(ctx context.Context) *Handle {
	h, _ := e.begin(ctx, KindVerify, true)
	go e.execute(h, func(r *run) (Result, error) { return r.verify() })
	return h
}

// Sync runs a synchronization to completion. It fails with
// common.ErrRunActive if another run is in progress.
func (e *Engine) Sync(ctx context.Context, subset []string) (Result, error) {
	h, err := e.begin(ctx, KindSync, false)
	if err != nil {
		return Result{}, err
	}
	e.execute(h, func(r *run) (Result, error) { return r.sync(subset) })
	return h.Wait()
}

// Verify runs a verification to completion. It fails with
// common.ErrRunActive if another run is in progress.
func (e *Engine) Verify(ctx context.Context) (Result, error) {
	h, err := e.begin(ctx, KindVerify, false)
	if err != nil {
		return Result{}, err
	}
	e.execute(h, func(r *run) (Result, error) { return r.verify() })
	return h.Wait()
}

// Repair verifies the target and synchronizes the files found missing or
// corrupt. When nothing needs repair, or verification did not complete,
// the verification result is returned.
func (e *Engine) Repair(ctx context.Context) (Result, error) {
	vr, err := e.Verify(ctx)
	if err != nil || vr.StoppedEarly || len(vr.Corrupted) == 0 {
		return vr, err
	}

	e.log.Info("repairing files", slog.Int("count", len(vr.Corrupted)))
	return e.Sync(ctx, vr.Corrupted)
}

func (e *Engine) begin(parent context.Context, kind string, replace bool) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for e.active != nil {
		if !replace {
			return nil, common.ErrRunActive
		}
		prev := e.active
		e.mu.Unlock()
		prev.Stop()
		<-prev.Done()
		e.mu.Lock()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		run:    e.newRun(ctx, kind),
	}
	e.active = h

	return h, nil
}

func (e *Engine) execute(h *Handle, fn func(r *run) (Result, error)) {
	res, err := fn(h.run)

	e.mu.Lock()
	if e.active == h {
		e.active = nil
	}
	e.mu.Unlock()

	h.result, h.err = res, err
	h.cancel()
	close(h.done)
}

// Handle controls a background run.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	run    *run

	result Result
	err    error
}

func (h *Handle) RunID() uuid.UUID {
	return h.run.id
}

func (h *Handle) Kind() string {
	return h.run.kind
}

// Stop requests cancellation. The run finishes its current block and ends
// in the Cancelled state.
func (h *Handle) Stop() {
	h.cancel()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run ends and returns its outcome.
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

// Snapshot returns the live transfer state of the run.
func (h *Handle) Snapshot() Snapshot {
	return h.run.snapshot()
}

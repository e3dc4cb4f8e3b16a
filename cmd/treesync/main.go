// Command treesync keeps a local directory tree identical to the file list
// published by an HTTP mirror.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/accelara/treesync/internal/config"
	"github.com/accelara/treesync/internal/events"
	"github.com/accelara/treesync/internal/logging"
	"github.com/accelara/treesync/internal/syncer"
)

type CLI struct {
	Config   string `name:"config" short:"c" placeholder:"PATH" env:"TREESYNC_CONFIG" help:"YAML configuration file"`
	Manifest string `name:"manifest" placeholder:"URL" help:"Manifest URL"`
	BaseURL  string `name:"base-url" placeholder:"URL" help:"URL files are fetched from (default: the manifest's directory)"`
	Target   string `name:"target" short:"t" placeholder:"DIR" help:"Target directory"`
	Limit    string `name:"limit" placeholder:"SIZE" help:"Download rate limit per second, e.g. 2MiB"`
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error)"`
	LogFile  string `name:"log-file" placeholder:"PATH" help:"Also write logs to this file"`
	Metrics  string `name:"metrics-listen" placeholder:"ADDR" help:"Serve Prometheus metrics on this address"`
	JSON     bool   `name:"json" help:"Print status as JSON lines on stdout"`

	Sync   syncCmd   `cmd:"" default:"1" help:"Synchronize the target directory with the manifest"`
	Verify verifyCmd `cmd:"" help:"Check the target directory against the manifest"`
	Probe  probeCmd  `cmd:"" help:"Show how the mirror serves one file"`
	Status statusCmd `cmd:"" help:"Check whether the configured servers accept connections"`
}

// app is what commands run against.
type app struct {
	ctx    context.Context
	cfg    config.Config
	log    *slog.Logger
	bus    *events.Bus
	report func(status map[string]any)
}

func main() {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("treesync"),
		kong.Description("Synchronize a directory tree from an HTTP mirror."),
		kong.UsageOnError(),
	)

	a, closeFn, err := cli.setup()
	kctx.FatalIfErrorf(err)

	err = kctx.Run(a)
	closeFn()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *CLI) setup() (*app, func(), error) {
	cfg, err := config.Load(afero.NewOsFs(), c.Config)
	if err != nil {
		return nil, nil, err
	}
	c.overlay(&cfg)

	log, closeLog, err := logging.New("treesync", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewBus()
	var rep reporter
	if c.JSON {
		rep = newJSONReporter(os.Stdout)
	} else {
		rep = newTextReporter(os.Stderr)
	}
	sub := bus.Subscribe(events.AllEvents, 256)
	done := consume(sub, rep)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		log.Info("shutting down", slog.String("signal", sig.String()))
		rep.Report(map[string]any{
			"type":    "info",
			"status":  "stopping",
			"message": "Shutdown signal received, stopping after the current block",
		})
		cancel()
	}()

	if cfg.MetricsListen != "" {
		go serveMetrics(cfg.MetricsListen, log)
	}

	a := &app{ctx: ctx, cfg: cfg, log: log, bus: bus, report: rep.Report}

	closeFn := func() {
		signal.Stop(sigChan)
		close(sigChan)
		cancel()
		sub.Unsubscribe()
		<-done
		closeLog()
	}

	return a, closeFn, nil
}

// overlay applies command line flags, which win over file and environment.
func (c *CLI) overlay(cfg *config.Config) {
	if c.Manifest != "" {
		cfg.ManifestURL = c.Manifest
	}
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	if c.Target != "" {
		cfg.TargetDir = c.Target
	}
	if c.Limit != "" {
		cfg.Download.RateLimit = c.Limit
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFile != "" {
		cfg.LogFile = c.LogFile
	}
	if c.Metrics != "" {
		cfg.MetricsListen = c.Metrics
	}
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", slog.Any("error", err))
	}
}

func (a *app) engine() (*syncer.Engine, error) {
	opts, err := a.cfg.EngineOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return syncer.NewEngine(afero.NewOsFs(), opts, a.bus, a.log), nil
}

type syncCmd struct {
	Only []string `name:"only" sep:"none" placeholder:"PATH" help:"Synchronize only these manifest paths"`
}

func (c *syncCmd) Run(a *app) error {
	e, err := a.engine()
	if err != nil {
		return err
	}

	var subset []string
	if len(c.Only) > 0 {
		subset = c.Only
	}

	res, err := e.Sync(a.ctx, subset)
	return outcome(res, err)
}

type verifyCmd struct {
	Repair bool `name:"repair" help:"Download files found missing or corrupt"`
}

func (c *verifyCmd) Run(a *app) error {
	e, err := a.engine()
	if err != nil {
		return err
	}

	var res syncer.Result
	if c.Repair {
		res, err = e.Repair(a.ctx)
	} else {
		res, err = e.Verify(a.ctx)
	}
	return outcome(res, err)
}

// outcome turns a run result into the process exit status.
func outcome(res syncer.Result, err error) error {
	switch {
	case err != nil:
		return err
	case res.StoppedEarly:
		return nil
	case len(res.Corrupted) > 0:
		return fmt.Errorf("%d files are missing or corrupt", len(res.Corrupted))
	default:
		return nil
	}
}

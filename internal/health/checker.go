// Package health reports whether the servers behind a mirrored tree accept
// TCP connections.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/accelara/treesync/internal/events"
	"github.com/accelara/treesync/internal/metrics"
)

const (
	DefaultTimeout  = 2 * time.Second
	DefaultInterval = 5 * time.Second
)

// Summary values for a Report with some or no targets up.
const (
	SummaryOffline = "offline"
	SummaryOnline  = "online"
)

type Target struct {
	Name string
	Addr string // host:port
}

// ParseTarget accepts "name=host:port" or a bare "host:port", which is also
// used as the name.
func ParseTarget(s string) (Target, error) {
	name, addr, ok := strings.Cut(s, "=")
	if !ok {
		addr = s
		name = s
	}
	name = strings.TrimSpace(name)
	addr = strings.TrimSpace(addr)
	if name == "" {
		return Target{}, fmt.Errorf("target %q has an empty name", s)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Target{}, fmt.Errorf("target %q: %w", s, err)
	}
	return Target{Name: name, Addr: addr}, nil
}

type Result struct {
	Target  Target
	Up      bool
	Latency time.Duration
	Err     error
}

type Report struct {
	Results []Result
	Online  bool   // at least one target accepted a connection
	Summary string // "online" when all are up, the up targets' names when some are, "offline" otherwise
}

// Up returns the names of the targets that accepted a connection.
func (r Report) Up() []string {
	var names []string
	for _, res := range r.Results {
		if res.Up {
			names = append(names, res.Target.Name)
		}
	}
	return names
}

// Down returns the names of the targets that did not.
func (r Report) Down() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Up {
			names = append(names, res.Target.Name)
		}
	}
	return names
}

type Checker struct {
	targets []Target
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	bus     events.Logger
	log     *slog.Logger
}

// NewChecker returns a checker for targets. A timeout of zero selects
// DefaultTimeout; a nil bus discards events.
func NewChecker(targets []Target, timeout time.Duration, bus events.Logger, log *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if bus == nil {
		bus = events.Discard
	}
	d := &net.Dialer{}
	return &Checker{
		targets: targets,
		timeout: timeout,
		dial:    d.DialContext,
		bus:     bus,
		log:     log,
	}
}

// Check dials every target once, in parallel, and publishes the report.
func (c *Checker) Check(ctx context.Context) Report {
	results := make([]Result, len(c.targets))

	var g errgroup.Group
	for i, t := range c.targets {
		g.Go(func() error {
			results[i] = c.ping(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	rep := summarize(results)
	for _, res := range rep.Results {
		up := 0.0
		if res.Up {
			up = 1
		}
		metrics.TargetUp.WithLabelValues(res.Target.Name).Set(up)
		if !res.Up {
			c.log.Debug("target unreachable",
				slog.String("target", res.Target.Name),
				slog.String("addr", res.Target.Addr),
				slog.Any("error", res.Err))
		}
	}
	c.bus.Log(events.ServiceStatus, events.ServiceStatusData{
		Online:  rep.Online,
		Summary: rep.Summary,
		Up:      rep.Up(),
		Down:    rep.Down(),
	})

	return rep
}

// Watch checks every interval until ctx is done, calling fn with each
// report. The first check runs immediately.
func (c *Checker) Watch(ctx context.Context, interval time.Duration, fn func(Report)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		rep := c.Check(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if rep.Summary != last {
			c.log.Info("server status changed", slog.String("status", rep.Summary))
			last = rep.Summary
		}
		if fn != nil {
			fn(rep)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Checker) ping(ctx context.Context, t Target) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	conn, err := c.dial(ctx, "tcp", t.Addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no answer within %s", c.timeout)
		}
		return Result{Target: t, Err: err}
	}
	conn.Close()
	return Result{Target: t, Up: true, Latency: time.Since(start)}
}

func summarize(results []Result) Report {
	rep := Report{Results: results, Summary: SummaryOffline}
	up := 0
	for _, res := range results {
		if res.Up {
			up++
		}
	}
	switch {
	case len(results) > 0 && up == len(results):
		rep.Online = true
		rep.Summary = SummaryOnline
	case up > 0:
		rep.Online = true
		rep.Summary = strings.Join(rep.Up(), ", ")
	}
	return rep
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/accelara/treesync/internal/events"
	"github.com/accelara/treesync/internal/utils"
)

// progressInterval throttles Progress events; everything else is printed.
const progressInterval = 100 * time.Millisecond

type reporter interface {
	Handle(ev events.Event)
	Report(status map[string]any)
}

// consume feeds sub into rep until the subscription is closed.
func consume(sub *events.Subscription, rep reporter) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C() {
			rep.Handle(ev)
		}
	}()
	return done
}

// jsonReporter prints one JSON object per line.
type jsonReporter struct {
	mu           sync.Mutex
	out          io.Writer
	now          func() time.Time
	lastProgress time.Time
}

func newJSONReporter(out io.Writer) *jsonReporter {
	return &jsonReporter{out: out, now: time.Now}
}

func (r *jsonReporter) Report(status map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	output := map[string]any{
		"timestamp": r.now().Unix(),
	}
	for k, v := range status {
		output[k] = v
	}

	data, _ := json.Marshal(output)
	fmt.Fprintln(r.out, string(data))
}

func (r *jsonReporter) Handle(ev events.Event) {
	if ev.Type == events.Progress {
		now := r.now()
		if now.Sub(r.lastProgress) < progressInterval {
			return
		}
		r.lastProgress = now
	}

	status := map[string]any{
		"run_id": ev.RunID.String(),
		"type":   strings.ToLower(ev.Type.String()),
	}

	switch d := ev.Data.(type) {
	case events.RunStartedData:
		status["status"] = "started"
		status["kind"] = d.Kind
		if d.Subset != nil {
			status["files"] = d.Subset
		}
	case events.StateChangedData:
		status["status"] = d.To
		status["from"] = d.From
	case events.FileStartedData:
		status["status"] = "downloading"
		status["file"] = d.File
		status["index"] = d.Index
		status["count"] = d.Count
	case events.ProgressData:
		status["status"] = "downloading"
		status["file"] = d.File
		status["downloaded"] = d.Transferred
		status["total"] = d.Total
		status["progress"] = d.Fraction * 100
	case events.RateData:
		status["status"] = "downloading"
		status["speed"] = d.BytesPerSecond
		status["speed_human"] = d.Formatted
		status["downloaded"] = d.Transferred
		status["total"] = d.Total
	case events.VerifyProgressData:
		status["status"] = "verifying"
		status["file"] = d.File
		status["checked"] = d.Checked
		status["total"] = d.Total
		status["progress"] = d.Fraction * 100
	case events.FinishedData:
		status["status"] = d.Status
		status["kind"] = d.Kind
		status["message"] = d.Message
		status["corrupted"] = d.Corrupted
		status["downloaded"] = d.Transferred
		status["total"] = d.Total
	case events.ServiceStatusData:
		status["status"] = d.Summary
		status["online"] = d.Online
		status["up"] = d.Up
		status["down"] = d.Down
	}

	r.Report(status)
}

// textReporter prints terse human readable lines.
type textReporter struct {
	mu  sync.Mutex
	out io.Writer
}

func newTextReporter(out io.Writer) *textReporter {
	return &textReporter{out: out}
}

func (r *textReporter) Report(status map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := status["message"]; ok {
		fmt.Fprintln(r.out, msg)
	}
}

func (r *textReporter) Handle(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch d := ev.Data.(type) {
	case events.FileStartedData:
		fmt.Fprintf(r.out, "[%d/%d] %s\n", d.Index, d.Count, d.File)
	case events.RateData:
		pct := 0.0
		if d.Total > 0 {
			pct = float64(d.Transferred) / float64(d.Total) * 100
		}
		fmt.Fprintf(r.out, "  %5.1f%%  %s / %s  %s\n", pct, utils.HumanBytes(d.Transferred), utils.HumanBytes(d.Total), d.Formatted)
	case events.FinishedData:
		fmt.Fprintf(r.out, "%s: %s\n", d.Kind, d.Message)
		for _, p := range d.Corrupted {
			fmt.Fprintf(r.out, "  ! %s\n", p)
		}
	case events.ServiceStatusData:
		fmt.Fprintf(r.out, "servers: %s\n", d.Summary)
		for _, name := range d.Down {
			fmt.Fprintf(r.out, "  ! %s unreachable\n", name)
		}
	}
}

package syncer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/accelara/treesync/internal/common"
	"github.com/accelara/treesync/internal/events"
	"github.com/accelara/treesync/internal/integrity"
	"github.com/accelara/treesync/internal/planner"
)

// verify checks every manifest entry against the target directory and
// collects the paths that are missing or corrupt, in manifest order.
func (r *run) verify() (Result, error) {
	e := r.e
	var res Result

	r.started(nil)
	r.to(Verifying)

	m, err := e.fetcher.Fetch(r.ctx, e.opts.ManifestURL)
	if err != nil {
		return r.stoppedOrFailed(res, err)
	}

	entries := m.Entries()
	res.Queued = len(entries)
	var bad []string

	for i, entry := range entries {
		if r.ctx.Err() != nil {
			return r.finish(res, events.StatusStopped, "stopped by user", nil)
		}
		r.setCurrent(entry.Path)

		local := planner.LocalPath(e.opts.TargetDir, entry.Path)
		st, err := e.checker.Check(r.ctx, local, entry.Size, entry.Hash)
		if errors.Is(err, common.ErrCancelled) {
			return r.finish(res, events.StatusStopped, "stopped by user", nil)
		}
		if st != integrity.Valid {
			r.log.Info("file needs repair", slog.String("item", entry.Path), slog.String("status", st.String()))
			bad = append(bad, entry.Path)
		}

		r.ev.Log(events.VerifyProgress, events.VerifyProgressData{
			File:     entry.Path,
			Checked:  i + 1,
			Total:    len(entries),
			Fraction: float64(i+1) / float64(len(entries)),
		})
	}

	res.Corrupted = bad
	if len(bad) > 0 {
		return r.finish(res, events.StatusSuccessWithErrors, fmt.Sprintf("%d files missing or corrupt", len(bad)), nil)
	}
	return r.finish(res, events.StatusSuccess, "all files verified", nil)
}

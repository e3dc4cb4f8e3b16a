// Package planner decides which manifest entries need to be downloaded into
// a target directory.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/accelara/treesync/internal/common"
	"github.com/accelara/treesync/internal/integrity"
	"github.com/accelara/treesync/internal/logging"
	"github.com/accelara/treesync/internal/manifest"
)

// Task is one file to download.
type Task struct {
	Entry       manifest.Entry
	LocalPath   string
	StagingPath string
	URL         string
}

type Planner struct {
	fs      afero.Fs
	checker *integrity.Checker
	baseURL string
	log     *slog.Logger
}

func New(fs afero.Fs, checker *integrity.Checker, baseURL string, log *slog.Logger) *Planner {
	if log == nil {
		log = logging.Discard()
	}
	return &Planner{fs: fs, checker: checker, baseURL: baseURL, log: log}
}

// Plan returns the download queue in manifest path order.
//
// With a nil subset every entry whose local file is not already valid is
// queued, and a stale local file is removed first. A non-nil subset queues
// exactly the listed paths present in the manifest and leaves local files
// alone; unknown paths are ignored.
func (p *Planner) Plan(ctx context.Context, m *manifest.Manifest, targetDir string, subset []string) ([]Task, error) {
	var wanted map[string]bool
	if subset != nil {
		wanted = make(map[string]bool, len(subset))
		for _, s := range subset {
			norm, err := manifest.NormalizePath(s)
			if err != nil {
				p.log.Debug("ignoring subset path", slog.String("item", s), slog.Any("error", err))
				continue
			}
			wanted[norm] = true
		}
	}

	var tasks []Task
	for _, e := range m.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}

		t, err := p.task(e, targetDir)
		if err != nil {
			return nil, err
		}

		if wanted != nil {
			if wanted[e.Path] {
				tasks = append(tasks, t)
			}
			continue
		}

		st, err := p.checker.Check(ctx, t.LocalPath, e.Size, e.Hash)
		if errors.Is(err, common.ErrCancelled) {
			return nil, err
		}
		if st == integrity.Valid {
			continue
		}

		if st != integrity.Missing {
			p.log.Debug("local file out of date", slog.String("item", e.Path), slog.String("status", st.String()))
			if err := p.fs.Remove(t.LocalPath); err != nil {
				p.log.Warn("could not remove stale file", slog.String("item", t.LocalPath), slog.Any("error", err))
			}
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (p *Planner) task(e manifest.Entry, targetDir string) (Task, error) {
	u, err := FileURL(p.baseURL, e.Path)
	if err != nil {
		return Task{}, err
	}
	local := LocalPath(targetDir, e.Path)
	return Task{
		Entry:       e,
		LocalPath:   local,
		StagingPath: local + manifest.StagingSuffix,
		URL:         u,
	}, nil
}

// FileURL joins a manifest path onto the base URL, escaping each segment.
func FileURL(base, rel string) (string, error) {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	u, err := url.JoinPath(base, segs...)
	if err != nil {
		return "", fmt.Errorf("file url for %s: %w", rel, err)
	}
	return u, nil
}

// LocalPath maps a manifest path into targetDir.
func LocalPath(targetDir, rel string) string {
	return filepath.Join(targetDir, filepath.FromSlash(rel))
}

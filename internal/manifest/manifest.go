// Package manifest models the remote file list a target tree is synchronized
// against and fetches it over HTTP.
package manifest

import (
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/accelara/treesync/internal/common"
)

// StagingSuffix is appended to a local path to name its staging file. Paths
// carrying it are reserved and never accepted from a manifest.
const StagingSuffix = ".syncpart"

// HashLength is the length of a hex encoded SHA-256 digest.
const HashLength = 64

// Entry is one expected file.
type Entry struct {
	Path string // slash separated, relative to the target directory
	Size int64
	Hash string // lowercase hex SHA-256
}

// Manifest is an immutable set of entries keyed by path.
type Manifest struct {
	entries map[string]Entry
	paths   []string
}

// New validates entries and builds a manifest. Every validation failure
// wraps common.ErrManifestMalformed.
func New(entries []Entry) (*Manifest, error) {
	m := &Manifest{
		entries: make(map[string]Entry, len(entries)),
		paths:   make([]string, 0, len(entries)),
	}

	for _, e := range entries {
		p, err := NormalizePath(e.Path)
		if err != nil {
			return nil, err
		}
		if e.Size < 0 {
			return nil, malformedf("%s: negative size %d", p, e.Size)
		}
		h, err := NormalizeHash(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if _, dup := m.entries[p]; dup {
			return nil, malformedf("duplicate path %q", p)
		}

		m.entries[p] = Entry{Path: p, Size: e.Size, Hash: h}
		m.paths = append(m.paths, p)
	}

	sort.Strings(m.paths)

	return m, nil
}

func (m *Manifest) Len() int {
	return len(m.paths)
}

func (m *Manifest) Get(p string) (Entry, bool) {
	e, ok := m.entries[p]
	return e, ok
}

// Paths returns all paths in sorted order.
func (m *Manifest) Paths() []string {
	return append([]string(nil), m.paths...)
}

// Entries returns all entries sorted by path.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.paths))
	for _, p := range m.paths {
		out = append(out, m.entries[p])
	}
	return out
}

func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.entries {
		total += e.Size
	}
	return total
}

// NormalizePath converts a manifest path to its canonical slash separated
// form and rejects paths that could escape the target directory or collide
// with staging files.
func NormalizePath(p string) (string, error) {
	orig := p
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" {
		return "", malformedf("empty path")
	}
	if strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':') {
		return "", malformedf("absolute path %q", orig)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", malformedf("path %q leaves the target directory", orig)
		}
	}

	p = path.Clean(p)
	if p == "." {
		return "", malformedf("empty path %q", orig)
	}
	// A directory named like a staging file would block that file's staging path.
	for _, seg := range strings.Split(p, "/") {
		if strings.HasSuffix(seg, StagingSuffix) {
			return "", malformedf("path %q uses the reserved suffix %s", orig, StagingSuffix)
		}
	}

	return p, nil
}

// NormalizeHash lowercases h and checks it is a hex SHA-256 digest.
func NormalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if len(h) != HashLength {
		return "", malformedf("hash %q is not %d hex characters", h, HashLength)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", malformedf("hash %q is not hex", h)
	}
	return h, nil
}

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrManifestMalformed, fmt.Sprintf(format, args...))
}

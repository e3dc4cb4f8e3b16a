// Package integrity decides whether a local file matches an expected size
// and SHA-256 digest.
package integrity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/minio/sha256-simd"
	"github.com/spf13/afero"

	"github.com/accelara/treesync/internal/common"
	"github.com/accelara/treesync/internal/logging"
	"github.com/accelara/treesync/internal/metrics"
)

const DefaultBlockSize = 64 << 10

type Status int

const (
	Valid Status = iota
	Missing
	SizeMismatch
	HashMismatch
	Unreadable
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case SizeMismatch:
		return "size-mismatch"
	case HashMismatch:
		return "hash-mismatch"
	case Unreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Checker struct {
	fs        afero.Fs
	blockSize int
	log       *slog.Logger
}

// NewChecker returns a checker reading through fs. A non-positive blockSize
// selects DefaultBlockSize.
func NewChecker(fs afero.Fs, blockSize int, log *slog.Logger) *Checker {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Checker{fs: fs, blockSize: blockSize, log: log}
}

// Verify reports whether the file at path has exactly size bytes and the
// given digest. It never fails: anything that prevents a positive answer is
// a negative one.
func (c *Checker) Verify(path string, size int64, hash string) bool {
	st, _ := c.Check(context.Background(), path, size, hash)
	return st == Valid
}

// Check classifies the file at path. The error is non-nil only for
// Unreadable, and wraps common.ErrCancelled when ctx ended mid-hash.
func (c *Checker) Check(ctx context.Context, path string, size int64, hash string) (Status, error) {
	fi, err := c.fs.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Missing, nil
	case err != nil:
		return Unreadable, err
	case fi.IsDir():
		return Unreadable, fmt.Errorf("%s is a directory", path)
	case fi.Size() != size:
		return SizeMismatch, nil
	}

	got, _, err := c.HashFile(ctx, path)
	if err != nil {
		c.log.Debug("hash failed", slog.String("item", path), slog.Any("error", err))
		return Unreadable, err
	}

	if !strings.EqualFold(got, hash) {
		return HashMismatch, nil
	}

	return Valid, nil
}

// HashFile streams path through SHA-256 and returns the lowercase hex digest
// together with the number of bytes read.
func (c *Checker) HashFile(ctx context.Context, path string) (string, int64, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, c.blockSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return "", total, fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}

		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
			metrics.HashedBytes.Add(float64(n))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, fmt.Errorf("read %s: %w", path, err)
		}
	}

	metrics.FilesHashed.Inc()

	return hex.EncodeToString(h.Sum(nil)), total, nil
}

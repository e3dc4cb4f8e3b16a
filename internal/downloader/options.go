package downloader

import "time"

const (
	DefaultSegmentSize  = 10 << 20
	DefaultBlockSize    = 8 << 10
	DefaultRetries      = 3
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultMaxRedirects = 10
)

// Progress receives byte counts while a file is fetched.
type Progress interface {
	// Resumed reports bytes found in the staging file before the first
	// request.
	Resumed(n int64)
	// Transferred reports bytes appended to the staging file, once per
	// written block.
	Transferred(n int64)
}

// Options contains all download options
type Options struct {
	SegmentSize    int64
	BlockSize      int
	RateLimit      int64 // bytes per second, 0 disables limiting
	Proxy          string
	Retries        int // attempts per segment
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // longest silence tolerated while reading a body
	MaxRedirects   int
	UserAgent      string
}

func (o Options) withDefaults() Options {
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.UserAgent == "" {
		o.UserAgent = "treesync"
	}
	return o
}

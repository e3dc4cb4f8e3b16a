// Package config loads treesync settings from a YAML file and TREESYNC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"github.com/accelara/treesync/internal/downloader"
	"github.com/accelara/treesync/internal/health"
	"github.com/accelara/treesync/internal/integrity"
	"github.com/accelara/treesync/internal/syncer"
	"github.com/accelara/treesync/internal/utils"
)

const EnvPrefix = "TREESYNC_"

type DownloadConfig struct {
	SegmentSize    string        `yaml:"segment_size"`
	BlockSize      string        `yaml:"block_size"`
	HashBlockSize  string        `yaml:"hash_block_size"`
	RateLimit      string        `yaml:"rate_limit"` // per second, "0" for unlimited
	Retries        int           `yaml:"retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Proxy          string        `yaml:"proxy"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// StatusConfig lists the servers checked by the status command.
type StatusConfig struct {
	Targets  []string      `yaml:"targets"` // name=host:port
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

type Config struct {
	ManifestURL   string         `yaml:"manifest_url"`
	BaseURL       string         `yaml:"base_url"` // defaults to the manifest's directory
	TargetDir     string         `yaml:"target_dir"`
	LogLevel      string         `yaml:"log_level"`
	LogFile       string         `yaml:"log_file"`
	MetricsListen string         `yaml:"metrics_listen"`
	Download      DownloadConfig `yaml:"download"`
	Status        StatusConfig   `yaml:"status"`
}

func Default() Config {
	return Config{
		TargetDir: ".",
		LogLevel:  "info",
		Download: DownloadConfig{
			SegmentSize:    "10MiB",
			BlockSize:      "8KiB",
			HashBlockSize:  "64KiB",
			RateLimit:      "0",
			Retries:        downloader.DefaultRetries,
			RetryDelay:     downloader.DefaultRetryDelay,
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    60 * time.Second,
			SampleInterval: syncer.DefaultSampleInterval,
		},
		Status: StatusConfig{
			Timeout:  health.DefaultTimeout,
			Interval: health.DefaultInterval,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped when
// path is empty) and then with the environment.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyEnv overrides fields from TREESYNC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MANIFEST_URL":    &c.ManifestURL,
		"BASE_URL":        &c.BaseURL,
		"TARGET_DIR":      &c.TargetDir,
		"LOG_LEVEL":       &c.LogLevel,
		"LOG_FILE":        &c.LogFile,
		"METRICS_LISTEN":  &c.MetricsListen,
		"SEGMENT_SIZE":    &c.Download.SegmentSize,
		"BLOCK_SIZE":      &c.Download.BlockSize,
		"HASH_BLOCK_SIZE": &c.Download.HashBlockSize,
		"RATE_LIMIT":      &c.Download.RateLimit,
		"PROXY":           &c.Download.Proxy,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRETRIES: %w", EnvPrefix, err)
		}
		c.Download.Retries = n
	}

	if v, ok := lookup(EnvPrefix + "STATUS_TARGETS"); ok {
		c.Status.Targets = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Status.Targets = append(c.Status.Targets, t)
			}
		}
	}

	durs := map[string]*time.Duration{
		"RETRY_DELAY":     &c.Download.RetryDelay,
		"CONNECT_TIMEOUT": &c.Download.ConnectTimeout,
		"READ_TIMEOUT":    &c.Download.ReadTimeout,
		"SAMPLE_INTERVAL": &c.Download.SampleInterval,
		"STATUS_TIMEOUT":  &c.Status.Timeout,
		"STATUS_INTERVAL": &c.Status.Interval,
	}
	for key, dst := range durs {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	return nil
}

func (c Config) Validate() error {
	var errs []error

	if c.ManifestURL == "" {
		errs = append(errs, errors.New("manifest_url is required"))
	} else if _, err := parseHTTPURL(c.ManifestURL); err != nil {
		errs = append(errs, fmt.Errorf("manifest_url: %w", err))
	}
	if c.BaseURL != "" {
		if _, err := parseHTTPURL(c.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("base_url: %w", err))
		}
	}
	if c.TargetDir == "" {
		errs = append(errs, errors.New("target_dir is required"))
	}
	if c.Download.Retries < 1 {
		errs = append(errs, fmt.Errorf("retries must be at least 1, got %d", c.Download.Retries))
	}

	sizes := map[string]string{
		"segment_size":    c.Download.SegmentSize,
		"block_size":      c.Download.BlockSize,
		"hash_block_size": c.Download.HashBlockSize,
	}
	for name, v := range sizes {
		n, err := utils.ParseBytes(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, err := utils.ParseBytes(c.Download.RateLimit); err != nil {
		errs = append(errs, fmt.Errorf("rate_limit: %w", err))
	}

	return errors.Join(errs...)
}

// EngineOptions converts a validated config into engine options.
func (c Config) EngineOptions() (syncer.Options, error) {
	if err := c.Validate(); err != nil {
		return syncer.Options{}, err
	}

	dl, err := c.DownloadOptions()
	if err != nil {
		return syncer.Options{}, err
	}
	hashBlock, _ := utils.ParseBytes(c.Download.HashBlockSize)

	return syncer.Options{
		ManifestURL:    c.ManifestURL,
		BaseURL:        c.FileBaseURL(),
		TargetDir:      c.TargetDir,
		Download:       dl,
		HashBlockSize:  clampBlock(hashBlock),
		SampleInterval: c.Download.SampleInterval,
	}, nil
}

// DownloadOptions converts only the download section, for commands that
// talk to the mirror without a manifest.
func (c Config) DownloadOptions() (downloader.Options, error) {
	segment, err := utils.ParseBytes(c.Download.SegmentSize)
	if err != nil {
		return downloader.Options{}, fmt.Errorf("segment_size: %w", err)
	}
	block, err := utils.ParseBytes(c.Download.BlockSize)
	if err != nil {
		return downloader.Options{}, fmt.Errorf("block_size: %w", err)
	}
	limit, err := utils.ParseBytes(c.Download.RateLimit)
	if err != nil {
		return downloader.Options{}, fmt.Errorf("rate_limit: %w", err)
	}

	return downloader.Options{
		SegmentSize:    segment,
		BlockSize:      int(block),
		RateLimit:      limit,
		Proxy:          c.Download.Proxy,
		Retries:        c.Download.Retries,
		RetryDelay:     c.Download.RetryDelay,
		ConnectTimeout: c.Download.ConnectTimeout,
		ReadTimeout:    c.Download.ReadTimeout,
	}, nil
}

// HealthTargets parses the status targets.
func (c Config) HealthTargets() ([]health.Target, error) {
	if len(c.Status.Targets) == 0 {
		return nil, errors.New("no status targets configured")
	}
	targets := make([]health.Target, 0, len(c.Status.Targets))
	for _, s := range c.Status.Targets {
		t, err := health.ParseTarget(s)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// FileBaseURL is BaseURL, or the manifest's directory when unset.
func (c Config) FileBaseURL() string {
	if c.BaseURL != "" || c.ManifestURL == "" {
		return c.BaseURL
	}
	return DefaultBaseURL(c.ManifestURL)
}

// DefaultBaseURL is the directory holding the manifest.
func DefaultBaseURL(manifestURL string) string {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return manifestURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.ResolveReference(&url.URL{Path: "./"}).String()
}

func clampBlock(n int64) int {
	if n <= 0 || n > 16<<20 {
		return integrity.DefaultBlockSize
	}
	return int(n)
}

func parseHTTPURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/accelara/treesync/internal/downloader"
	"github.com/accelara/treesync/internal/manifest"
	"github.com/accelara/treesync/internal/planner"
	"github.com/accelara/treesync/internal/utils"
)

type probeCmd struct {
	Path string `arg:"" help:"Manifest path relative to the base URL, or a full URL"`
}

func (c *probeCmd) Run(a *app) error {
	target, err := c.url(a)
	if err != nil {
		return err
	}

	opts, err := a.cfg.DownloadOptions()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	dl := downloader.NewHTTPDownloader(afero.NewOsFs(), opts, a.log)

	res, err := dl.Probe(a.ctx, target)
	if err != nil {
		return err
	}

	out := map[string]any{
		"url":             res.URL,
		"size":            res.Size,
		"accept_ranges":   res.AcceptRanges,
		"range_supported": res.RangeSupported,
		"content_type":    res.ContentType,
		"last_modified":   res.LastModified,
	}
	if res.Size >= 0 {
		out["size_human"] = utils.HumanBytes(res.Size)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (c *probeCmd) url(a *app) (string, error) {
	if strings.HasPrefix(c.Path, "http://") || strings.HasPrefix(c.Path, "https://") {
		return c.Path, nil
	}

	base := a.cfg.FileBaseURL()
	if base == "" {
		return "", errors.New("a base URL or manifest URL is required to probe a relative path")
	}
	rel, err := manifest.NormalizePath(c.Path)
	if err != nil {
		return "", err
	}
	return planner.FileURL(base, rel)
}

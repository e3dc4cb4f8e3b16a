package downloader

import (
	"context"
	"fmt"
	"net/http"
)

// ProbeResult describes how a server serves one file.
type ProbeResult struct {
	URL            string `json:"url"` // after redirects
	Size           int64  `json:"size"`
	AcceptRanges   bool   `json:"accept_ranges"`
	RangeSupported bool   `json:"range_supported"`
	ContentType    string `json:"content_type,omitempty"`
	LastModified   string `json:"last_modified,omitempty"`
}

// Probe inspects rawURL with a HEAD request and a one byte range request.
// A server that rejects HEAD is still probed through the range request.
func (d *HTTPDownloader) Probe(ctx context.Context, rawURL string) (ProbeResult, error) {
	res := ProbeResult{URL: rawURL, Size: -1}

	if resp, err := d.do(ctx, http.MethodHead, rawURL, ""); err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			res.URL = resp.Request.URL.String()
			res.Size = resp.ContentLength
			res.AcceptRanges = resp.Header.Get("Accept-Ranges") == "bytes"
			res.ContentType = resp.Header.Get("Content-Type")
			res.LastModified = resp.Header.Get("Last-Modified")
		}
	} else if ctx.Err() != nil {
		return res, ctx.Err()
	}

	resp, err := d.do(ctx, http.MethodGet, res.URL, "bytes=0-0")
	if err != nil {
		return res, fmt.Errorf("failed to probe URL: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		res.RangeSupported = true
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total >= 0 {
			res.Size = total
		}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if res.Size < 0 {
			res.Size = resp.ContentLength
		}
	default:
		return res, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	res.URL = resp.Request.URL.String()
	if res.ContentType == "" {
		res.ContentType = resp.Header.Get("Content-Type")
	}
	if res.LastModified == "" {
		res.LastModified = resp.Header.Get("Last-Modified")
	}
	return res, nil
}

func (d *HTTPDownloader) do(ctx context.Context, method, rawURL, rng string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	if rng != "" {
		req.Header.Set("Range", rng)
	}
	return d.client.Do(req)
}

package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/accelara/treesync/internal/common"
	"github.com/accelara/treesync/internal/logging"
)

// MaxDocumentSize bounds how much of a manifest response is read.
const MaxDocumentSize = 64 << 20

// Fetcher downloads and decodes manifests.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger
}

func NewFetcher(client *http.Client, log *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Fetcher{client: client, log: log}
}

// Fetch retrieves the manifest at rawURL. Transport failures and non-2xx
// responses wrap common.ErrManifestUnavailable; undecodable or invalid
// documents wrap common.ErrManifestMalformed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrManifestUnavailable, err)
	}
	req.Header.Set("Accept", "application/json, application/yaml, application/x-bencode;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrManifestUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected HTTP status: %s", common.ErrManifestUnavailable, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", common.ErrManifestUnavailable, err)
	}
	if len(data) > MaxDocumentSize {
		return nil, malformedf("document exceeds %d bytes", MaxDocumentSize)
	}

	format := FormatFor(resp.Header.Get("Content-Type"), rawURL)
	m, err := Decode(data, format)
	if err != nil {
		if !errors.Is(err, common.ErrManifestMalformed) {
			err = fmt.Errorf("%w: %w", common.ErrManifestMalformed, err)
		}
		f.log.Warn("manifest rejected", slog.String("url", rawURL), slog.String("format", format.String()), slog.Any("error", err))
		return nil, err
	}

	f.log.Debug("manifest fetched",
		slog.String("url", rawURL),
		slog.String("format", format.String()),
		slog.Int("files", m.Len()),
		slog.Int64("bytes", m.TotalSize()),
	)

	return m, nil
}

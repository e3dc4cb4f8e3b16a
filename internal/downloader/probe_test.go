package downloader

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeRangeServer(t *testing.T) {
	d, _, url := newTestDownloader(t, &recorder{}, Options{})

	res, err := d.Probe(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Size)
	assert.True(t, res.AcceptRanges)
	assert.True(t, res.RangeSupported)
	assert.Equal(t, url, res.URL)
}

func TestProbeWithoutRanges(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(content)
	})
	d, _, url := newTestDownloader(t, h, Options{})

	res, err := d.Probe(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Size)
	assert.False(t, res.AcceptRanges)
	assert.False(t, res.RangeSupported)
	assert.Equal(t, "application/octet-stream", res.ContentType)
}

func TestProbeMissingFile(t *testing.T) {
	d, _, url := newTestDownloader(t, http.NotFoundHandler(), Options{})

	_, err := d.Probe(context.Background(), url)
	require.Error(t, err)
}

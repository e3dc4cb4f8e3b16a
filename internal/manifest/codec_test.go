package manifest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelara/treesync/internal/common"
)

func TestFormatFor(t *testing.T) {
	cases := []struct {
		contentType string
		url         string
		want        Format
	}{
		{"application/json; charset=utf-8", "http://x/m", FormatJSON},
		{"application/x-yaml", "http://x/m.json", FormatYAML},
		{"application/x-bencode", "http://x/m", FormatBencode},
		{"text/plain", "http://x/files.yml", FormatYAML},
		{"", "http://x/files.benc?v=2", FormatBencode},
		{"", "http://x/files", FormatJSON},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatFor(tc.contentType, tc.url), "%s %s", tc.contentType, tc.url)
	}
}

func TestDecodeJSON(t *testing.T) {
	doc := fmt.Sprintf(`{"version": 3, "files": {"a.txt": {"size": 3, "hash": %q}}}`, hashA)

	m, err := Decode([]byte(doc), FormatJSON)
	require.NoError(t, err)

	e, ok := m.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, Entry{Path: "a.txt", Size: 3, Hash: hashA}, e)
}

func TestDecodeYAML(t *testing.T) {
	doc := fmt.Sprintf("files:\n  dir/b.bin:\n    size: 10\n    hash: \"%s\"\n", hashB)

	m, err := Decode([]byte(doc), FormatYAML)
	require.NoError(t, err)

	e, ok := m.Get("dir/b.bin")
	require.True(t, ok)
	assert.Equal(t, int64(10), e.Size)
	assert.Equal(t, hashB, e.Hash)
}

func TestDecodeBencode(t *testing.T) {
	doc := fmt.Sprintf("d5:filesd5:a.txtd4:hash64:%s4:sizei3eeee", hashA)

	m, err := Decode([]byte(doc), FormatBencode)
	require.NoError(t, err)

	e, ok := m.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(3), e.Size)
}

func TestDecodeRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"files": [`,
		"missing files":    `{"items": {}}`,
		"files not a map":  `{"files": ["a"]}`,
		"missing size":     fmt.Sprintf(`{"files": {"a": {"hash": %q}}}`, hashA),
		"missing hash":     `{"files": {"a": {"size": 1}}}`,
		"fractional size":  fmt.Sprintf(`{"files": {"a": {"size": 1.5, "hash": %q}}}`, hashA),
		"string size":      fmt.Sprintf(`{"files": {"a": {"size": "1", "hash": %q}}}`, hashA),
		"escaping path":    fmt.Sprintf(`{"files": {"../a": {"size": 1, "hash": %q}}}`, hashA),
		"malformed digest": `{"files": {"a": {"size": 1, "hash": "nope"}}}`,
		"trailing data":    `{"files": {}} garbage`,
		"second document":  `{"files": {}} {"files": {}}`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc), FormatJSON)
			require.ErrorIs(t, err, common.ErrManifestMalformed)
		})
	}
}

func TestEncodeDecodeAcrossFormats(t *testing.T) {
	m, err := New([]Entry{
		{Path: "a.txt", Size: 3, Hash: hashA},
		{Path: "dir/b.bin", Size: 0, Hash: hashB},
	})
	require.NoError(t, err)

	for _, f := range []Format{FormatJSON, FormatYAML, FormatBencode} {
		t.Run(f.String(), func(t *testing.T) {
			data, err := Encode(m, f)
			require.NoError(t, err)

			got, err := Decode(data, f)
			require.NoError(t, err)
			assert.Equal(t, m.Entries(), got.Entries())
		})
	}
}

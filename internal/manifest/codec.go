package manifest

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"gopkg.in/yaml.v2"
)

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatBencode
)

func (f Format) String() string {
	return [...]string{"json", "yaml", "bencode"}[f]
}

// document is the wire shape shared by every codec. Pointer fields let a
// missing key be told apart from a zero value.
type document struct {
	Files map[string]rawEntry `json:"files" yaml:"files" bencode:"files"`
}

type rawEntry struct {
	Size *int64  `json:"size" yaml:"size" bencode:"size"`
	Hash *string `json:"hash" yaml:"hash" bencode:"hash"`
}

type wireDocument struct {
	Files map[string]wireEntry `json:"files" yaml:"files" bencode:"files"`
}

type wireEntry struct {
	Size int64  `json:"size" yaml:"size" bencode:"size"`
	Hash string `json:"hash" yaml:"hash" bencode:"hash"`
}

// FormatFor picks a codec from the response content type, falling back to
// the extension of the manifest URL and finally to JSON.
func FormatFor(contentType, rawURL string) Format {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "application/json", "text/json":
			return FormatJSON
		case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
			return FormatYAML
		case "application/x-bencode", "application/x-bittorrent":
			return FormatBencode
		}
	}

	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".benc", ".bencode":
		return FormatBencode
	default:
		return FormatJSON
	}
}

// Decode parses a manifest document. Any error wraps
// common.ErrManifestMalformed.
func Decode(data []byte, f Format) (*Manifest, error) {
	var doc document
	var err error

	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatBencode:
		err = bencode.Unmarshal(data, &doc)
	default:
		return nil, malformedf("unknown format %d", f)
	}
	if err != nil {
		return nil, malformedf("decode %s: %v", f, err)
	}
	if doc.Files == nil {
		return nil, malformedf("missing files")
	}

	entries := make([]Entry, 0, len(doc.Files))
	for p, raw := range doc.Files {
		if raw.Size == nil {
			return nil, malformedf("%s: missing size", p)
		}
		if raw.Hash == nil {
			return nil, malformedf("%s: missing hash", p)
		}
		entries = append(entries, Entry{Path: p, Size: *raw.Size, Hash: *raw.Hash})
	}

	return New(entries)
}

// Encode renders m in format f.
func Encode(m *Manifest, f Format) ([]byte, error) {
	doc := wireDocument{Files: make(map[string]wireEntry, m.Len())}
	for _, e := range m.Entries() {
		doc.Files[e.Path] = wireEntry{Size: e.Size, Hash: e.Hash}
	}

	switch f {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatBencode:
		return bencode.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown format %d", f)
	}
}

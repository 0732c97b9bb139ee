package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedDocument reports a backup document that cannot be imported:
// unparseable, unversioned, or missing a required array.
var ErrMalformedDocument = errors.New("malformed backup document")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...))
}

// Image is one blob as it appears in a backup document: base64 bytes tagged
// with their content type.
type Image struct {
	ID   string `json:"id"`
	Data string `json:"data"`
	Type string `json:"type"`
}

// payload is one generation-independent view of the primary app's data.
// Items and Regions are required; a nil slice means the array was absent.
type payload struct {
	Items    []json.RawMessage
	Regions  []json.RawMessage
	Settings json.RawMessage
	Images   []Image
}

// wirePayload accepts both the current and the legacy collection names.
type wirePayload struct {
	Items       []json.RawMessage `json:"items"`
	Photos      []json.RawMessage `json:"photos"`
	Regions     []json.RawMessage `json:"regions"`
	Prefectures []json.RawMessage `json:"prefectures"`
	Settings    json.RawMessage   `json:"settings"`
	Images      []Image           `json:"images"`
}

func (w *wirePayload) normalize() (*payload, error) {
	p := &payload{
		Items:    w.Items,
		Regions:  w.Regions,
		Settings: w.Settings,
		Images:   w.Images,
	}
	if p.Items == nil {
		p.Items = w.Photos
	}
	if p.Regions == nil {
		p.Regions = w.Prefectures
	}
	if p.Items == nil {
		return nil, malformed("missing items array")
	}
	if p.Regions == nil {
		return nil, malformed("missing regions array")
	}
	if isNull(p.Settings) {
		p.Settings = nil
	}
	return p, nil
}

// document is a parsed backup in its single internal shape, whatever
// generation it was written in.
type document struct {
	Version   string
	Major     int
	Primary   *payload
	Secondary json.RawMessage
	// Upgraded is set when a legacy document was lifted into this shape.
	Upgraded bool
}

// decoder turns a top-level object of one generation into a document.
type decoder func(data []byte, top map[string]json.RawMessage, keys appKeys) (*document, error)

var decoders = map[int]decoder{
	1: decodeV1,
	2: decodeV2,
}

type appKeys struct {
	primary   string
	secondary string
}

// parseDocument detects the generation of data and dispatches to its decoder.
func parseDocument(data []byte, keys appKeys) (*document, error) {
	top, err := parseTop(data)
	if err != nil {
		return nil, err
	}

	version, err := versionOf(top)
	if err != nil {
		return nil, err
	}
	major, err := majorOf(version)
	if err != nil {
		return nil, err
	}
	dec, ok := decoders[major]
	if !ok {
		return nil, malformed("unsupported version %q", version)
	}

	doc, err := dec(data, top, keys)
	if err != nil {
		return nil, err
	}
	doc.Version = version
	doc.Major = major
	return doc, nil
}

func parseTop(data []byte) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	if top == nil {
		return nil, malformed("document is not an object")
	}
	return top, nil
}

// versionOf reads the version marker. Both "version" and "formatVersion" are
// recognized; numbers are tolerated alongside strings.
func versionOf(top map[string]json.RawMessage) (string, error) {
	for _, field := range []string{"formatVersion", "version"} {
		raw, ok := top[field]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s, nil
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), nil
		}
		return "", malformed("unreadable %s", field)
	}
	return "", malformed("missing version marker")
}

func majorOf(version string) (int, error) {
	head, _, _ := strings.Cut(strings.TrimPrefix(version, "v"), ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, malformed("unreadable version %q", version)
	}
	return major, nil
}

// decodeV1 lifts a flat legacy document into the namespaced shape.
func decodeV1(data []byte, _ map[string]json.RawMessage, _ appKeys) (*document, error) {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed("invalid legacy payload: %v", err)
	}
	p, err := w.normalize()
	if err != nil {
		return nil, err
	}
	return &document{Primary: p, Upgraded: true}, nil
}

func decodeV2(_ []byte, top map[string]json.RawMessage, keys appKeys) (*document, error) {
	rawApps, ok := top["apps"]
	if !ok || isNull(rawApps) {
		return nil, malformed("missing apps")
	}
	var apps map[string]json.RawMessage
	if err := json.Unmarshal(rawApps, &apps); err != nil {
		return nil, malformed("invalid apps: %v", err)
	}

	rawPrimary, ok := apps[keys.primary]
	if !ok || isNull(rawPrimary) {
		return nil, malformed("missing apps.%s", keys.primary)
	}
	var w wirePayload
	if err := json.Unmarshal(rawPrimary, &w); err != nil {
		return nil, malformed("invalid apps.%s: %v", keys.primary, err)
	}
	p, err := w.normalize()
	if err != nil {
		return nil, err
	}

	doc := &document{Primary: p}
	if raw, ok := apps[keys.secondary]; ok && !isNull(raw) {
		doc.Secondary = raw
	}
	return doc, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}

package backup

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
	"github.com/vbonduro/manholedex/internal/store"
)

const (
	// FormatVersion is written into every exported document.
	FormatVersion = "2.0.0"

	DefaultPrimaryKey   = "manhole"
	DefaultSecondaryKey = "companion"

	// secondaryValueKey holds the last imported secondary namespace verbatim.
	secondaryValueKey = "backup.secondary"

	exportedAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Codec exports the whole store to a backup document and imports one back.
type Codec struct {
	db     *db.Store
	logger *slog.Logger
	keys   appKeys
	now    func() time.Time
}

type Option func(*Codec)

// WithAppKeys sets the namespaces used under "apps". Empty keys keep the
// defaults.
func WithAppKeys(primary, secondary string) Option {
	return func(c *Codec) {
		if primary != "" {
			c.keys.primary = primary
		}
		if secondary != "" {
			c.keys.secondary = secondary
		}
	}
}

func NewCodec(d *db.Store, logger *slog.Logger, opts ...Option) *Codec {
	c := &Codec{
		db:     d,
		logger: logger,
		keys:   appKeys{primary: DefaultPrimaryKey, secondary: DefaultSecondaryKey},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// exportPayload is the primary namespace as written by Export.
type exportPayload struct {
	Items    []json.RawMessage `json:"items"`
	Regions  []json.RawMessage `json:"regions"`
	Settings json.RawMessage   `json:"settings,omitempty"`
	Images   []Image           `json:"images"`
}

// Export serializes all four collections into a version 2 document. A
// secondary namespace kept from the last import is emitted unchanged.
func (c *Codec) Export(ctx context.Context) (data []byte, err error) {
	start := time.Now()
	defer func() { observe(opExport, start, err) }()

	secondary, err := c.storedSecondary(ctx)
	if err != nil {
		return nil, err
	}
	return c.export(ctx, secondary)
}

// ExportWithSecondary is Export with payload merged into the secondary
// namespace. When both the stored namespace and payload are JSON objects,
// payload's keys win; otherwise payload replaces the namespace.
func (c *Codec) ExportWithSecondary(ctx context.Context, payload json.RawMessage) (data []byte, err error) {
	start := time.Now()
	defer func() { observe(opExportSecondary, start, err) }()

	if !isNull(payload) && !json.Valid(payload) {
		return nil, fmt.Errorf("secondary payload is not valid JSON")
	}
	stored, err := c.storedSecondary(ctx)
	if err != nil {
		return nil, err
	}
	merged, err := mergeSecondary(stored, payload)
	if err != nil {
		return nil, err
	}
	return c.export(ctx, merged)
}

func (c *Codec) export(ctx context.Context, secondary json.RawMessage) ([]byte, error) {
	p, err := c.readPayload(ctx)
	if err != nil {
		c.logger.Error("failed to read store for export", "error", err)
		return nil, err
	}
	primary, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode primary payload: %w", err)
	}

	data, err := c.assemble(primary, secondary)
	if err != nil {
		return nil, err
	}
	sizeGauge.Set(float64(len(data)))
	c.logger.Info("backup exported",
		"items", len(p.Items),
		"regions", len(p.Regions),
		"images", len(p.Images),
		"bytes", len(data),
		"secondary", secondary != nil)
	return data, nil
}

func (c *Codec) readPayload(ctx context.Context) (*exportPayload, error) {
	items, err := c.db.GetAll(ctx, db.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	regions, err := c.db.GetAll(ctx, db.Regions)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions: %w", err)
	}
	settings, err := c.db.GetAll(ctx, db.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	blobs, err := c.db.GetAllBlobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read images: %w", err)
	}

	p := &exportPayload{
		Items:   rawValues(items),
		Regions: rawValues(regions),
		Images:  make([]Image, 0, len(blobs)),
	}
	for _, rec := range settings {
		if rec.Key == store.SettingsKey {
			p.Settings = rec.Value
		}
	}
	for _, b := range blobs {
		p.Images = append(p.Images, Image{
			ID:   b.ID,
			Data: base64.StdEncoding.EncodeToString(b.Data),
			Type: b.Type,
		})
	}
	return p, nil
}

func rawValues(records []db.Record) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Value)
	}
	return out
}

// assemble writes the document by hand so the secondary namespace is copied
// byte for byte; encoding/json would compact and re-escape it.
func (c *Codec) assemble(primary, secondary json.RawMessage) ([]byte, error) {
	header, err := json.Marshal(struct {
		FormatVersion string `json:"formatVersion"`
		ExportedAt    string `json:"exportedAt"`
	}{FormatVersion, c.now().UTC().Format(exportedAtLayout)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode document header: %w", err)
	}
	primaryKey, err := json.Marshal(c.keys.primary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode app key: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(header[:len(header)-1])
	buf.WriteString(`,"apps":{`)
	buf.Write(primaryKey)
	buf.WriteByte(':')
	buf.Write(primary)
	if secondary != nil {
		secondaryKey, err := json.Marshal(c.keys.secondary)
		if err != nil {
			return nil, fmt.Errorf("failed to encode app key: %w", err)
		}
		buf.WriteByte(',')
		buf.Write(secondaryKey)
		buf.WriteByte(':')
		buf.Write(secondary)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func (c *Codec) storedSecondary(ctx context.Context) (json.RawMessage, error) {
	value, ok, err := c.db.GetValue(ctx, secondaryValueKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read secondary namespace: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return json.RawMessage(value), nil
}

func mergeSecondary(stored, payload json.RawMessage) (json.RawMessage, error) {
	if isNull(payload) {
		return stored, nil
	}
	if isNull(stored) {
		return payload, nil
	}
	var base, extra map[string]json.RawMessage
	if json.Unmarshal(stored, &base) != nil || json.Unmarshal(payload, &extra) != nil || base == nil || extra == nil {
		return payload, nil
	}
	for k, v := range extra {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to merge secondary namespace: %w", err)
	}
	return merged, nil
}

// ExtractSecondary returns the secondary namespace of an already serialized
// document without decoding the primary data. It reports false when the
// document has none.
func (c *Codec) ExtractSecondary(data []byte) (json.RawMessage, bool, error) {
	top, err := parseTop(data)
	if err != nil {
		return nil, false, err
	}
	rawApps, ok := top["apps"]
	if !ok || isNull(rawApps) {
		return nil, false, nil
	}
	var apps map[string]json.RawMessage
	if err := json.Unmarshal(rawApps, &apps); err != nil {
		return nil, false, malformed("invalid apps: %v", err)
	}
	raw, ok := apps[c.keys.secondary]
	if !ok || isNull(raw) {
		return nil, false, nil
	}
	return raw, true, nil
}

// Result summarizes a completed import.
type Result struct {
	Version   string
	Upgraded  bool
	Items     int
	Regions   int
	Images    int
	Settings  bool
	Secondary bool
}

// staged is a fully decoded document, ready to be written.
type staged struct {
	items     []*domain.Item
	regions   []*domain.Region
	settings  *domain.Settings
	blobs     []*db.Blob
	secondary json.RawMessage
}

// Import replaces the entire store with the contents of data. The document
// is decoded completely before anything is written, and the clear and
// repopulate run in one transaction: on any failure the store is unchanged.
func (c *Codec) Import(ctx context.Context, data []byte) (res *Result, err error) {
	start := time.Now()
	defer func() { observe(opImport, start, err) }()

	doc, err := parseDocument(data, c.keys)
	if err != nil {
		c.logger.Error("failed to parse backup document", "error", err)
		return nil, err
	}
	st, err := c.stage(doc)
	if err != nil {
		c.logger.Error("failed to decode backup document", "version", doc.Version, "error", err)
		return nil, err
	}

	if err := c.db.Update(ctx, func(tx *db.Tx) error {
		return c.write(ctx, tx, st)
	}); err != nil {
		c.logger.Error("failed to import backup", "version", doc.Version, "error", err)
		return nil, fmt.Errorf("failed to import backup: %w", err)
	}

	res = &Result{
		Version:   doc.Version,
		Upgraded:  doc.Upgraded,
		Items:     len(st.items),
		Regions:   len(st.regions),
		Images:    len(st.blobs),
		Settings:  st.settings != nil,
		Secondary: st.secondary != nil,
	}
	sizeGauge.Set(float64(len(data)))
	c.logger.Info("backup imported",
		"version", res.Version,
		"upgraded", res.Upgraded,
		"items", res.Items,
		"regions", res.Regions,
		"images", res.Images)
	return res, nil
}

func (c *Codec) stage(doc *document) (*staged, error) {
	p := doc.Primary
	st := &staged{secondary: doc.Secondary}

	blobIDs := make(map[string]int, len(p.Images))
	for i, img := range p.Images {
		blob, err := decodeImage(img)
		if err != nil {
			return nil, malformed("images[%d]: %v", i, err)
		}
		if pos, dup := blobIDs[blob.ID]; dup {
			st.blobs[pos] = blob
			continue
		}
		blobIDs[blob.ID] = len(st.blobs)
		st.blobs = append(st.blobs, blob)
	}

	regionIdx := make(map[string]*domain.Region, len(p.Regions))
	for i, raw := range p.Regions {
		region, err := store.DecodeRegion(raw)
		if err != nil {
			return nil, malformed("regions[%d]: %v", i, err)
		}
		region.ItemCount = 0
		region.LastItemDate = nil
		if _, dup := regionIdx[region.ID]; !dup {
			st.regions = append(st.regions, region)
		} else {
			c.logger.Warn("backup document repeats a region", "region_id", region.ID)
			replaceRegion(st.regions, region)
		}
		regionIdx[region.ID] = region
	}

	// Items are written by id, so a repeated id keeps its last entry.
	itemIdx := make(map[string]int, len(p.Items))
	for i, raw := range p.Items {
		item, err := store.DecodeItem(raw)
		if err != nil {
			return nil, malformed("items[%d]: %v", i, err)
		}
		if pos, dup := itemIdx[item.ID]; dup {
			c.logger.Warn("backup document repeats an item", "item_id", item.ID)
			st.items[pos] = item
			continue
		}
		itemIdx[item.ID] = len(st.items)
		st.items = append(st.items, item)
	}

	for _, item := range st.items {
		for _, ref := range []string{item.PrimaryImageID, item.ThumbnailImageID} {
			if _, ok := blobIDs[ref]; !ok {
				c.logger.Warn("imported item references a missing image", "item_id", item.ID, "image_id", ref)
			}
		}
		region, ok := regionIdx[item.RegionID]
		if !ok {
			c.logger.Warn("imported item references an unknown region", "item_id", item.ID, "region_id", item.RegionID)
			continue
		}
		region.ItemCount++
		if region.LastItemDate == nil || item.TakenAt.After(*region.LastItemDate) {
			t := item.TakenAt
			region.LastItemDate = &t
		}
	}

	switch {
	case p.Settings != nil:
		settings, err := store.DecodeSettings(p.Settings)
		if err != nil {
			return nil, malformed("settings: %v", err)
		}
		st.settings = settings
	case doc.Upgraded:
		st.settings = store.DefaultSettings(domain.TierStandard, c.now())
	}
	return st, nil
}

func replaceRegion(regions []*domain.Region, region *domain.Region) {
	for i, r := range regions {
		if r.ID == region.ID {
			regions[i] = region
			return
		}
	}
}

func (c *Codec) write(ctx context.Context, tx *db.Tx, st *staged) error {
	for _, col := range []db.Collection{db.Blobs, db.Items, db.Regions, db.Settings} {
		if err := tx.Clear(ctx, col); err != nil {
			return err
		}
	}

	for _, b := range st.blobs {
		if err := tx.PutBlob(ctx, b); err != nil {
			return err
		}
	}
	for _, item := range st.items {
		data, err := store.EncodeItem(item)
		if err != nil {
			return fmt.Errorf("failed to encode item %s: %w", item.ID, err)
		}
		if err := tx.Put(ctx, db.Items, item.ID, data); err != nil {
			return err
		}
	}
	for _, region := range st.regions {
		data, err := store.EncodeRegion(region)
		if err != nil {
			return fmt.Errorf("failed to encode region %s: %w", region.ID, err)
		}
		if err := tx.Put(ctx, db.Regions, region.ID, data); err != nil {
			return err
		}
	}
	if st.settings != nil {
		data, err := store.EncodeSettings(st.settings)
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		if err := tx.Put(ctx, db.Settings, store.SettingsKey, data); err != nil {
			return err
		}
	}

	if st.secondary != nil {
		return tx.SetValue(ctx, secondaryValueKey, string(st.secondary))
	}
	return tx.DeleteValue(ctx, secondaryValueKey)
}

// decodeImage reverses the base64 encoding of one image entry. A data URL
// is accepted in place of bare base64; its media type fills an empty Type.
func decodeImage(img Image) (*db.Blob, error) {
	if img.ID == "" {
		return nil, fmt.Errorf("image has no id")
	}
	payload, typ := img.Data, img.Type
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, encoded, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("image %s: unsupported data URL", img.ID)
		}
		if typ == "" {
			typ = strings.TrimSuffix(meta, ";base64")
		}
		payload = encoded
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", img.ID, err)
	}
	return &db.Blob{ID: img.ID, Type: typ, Data: data}, nil
}

// Package prefs holds small user preferences kept in the store's key-value
// table, outside the four record collections.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// ValueStore is the key-value surface prefs needs. *db.Store satisfies it.
type ValueStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

const hiddenRegionsKey = "prefs.hiddenRegions"

// HiddenSet is a persisted set of ids, stored as a JSON array.
type HiddenSet struct {
	values ValueStore
	key    string
	logger *slog.Logger
}

// NewHiddenRegions returns the set of regions the user has hidden from
// summaries.
func NewHiddenRegions(values ValueStore, logger *slog.Logger) *HiddenSet {
	return &HiddenSet{values: values, key: hiddenRegionsKey, logger: logger}
}

// Set returns the hidden ids. An unreadable stored value reads as empty.
func (h *HiddenSet) Set(ctx context.Context) (map[string]bool, error) {
	raw, ok, err := h.values.GetValue(ctx, h.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read hidden set: %w", err)
	}
	set := make(map[string]bool)
	if !ok {
		return set, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		h.logger.Warn("ignoring unreadable hidden set", "key", h.key, "error", err)
		return set, nil
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// List returns the hidden ids in sorted order.
func (h *HiddenSet) List(ctx context.Context) ([]string, error) {
	set, err := h.Set(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(set), nil
}

func (h *HiddenSet) Contains(ctx context.Context, id string) (bool, error) {
	set, err := h.Set(ctx)
	if err != nil {
		return false, err
	}
	return set[id], nil
}

func (h *HiddenSet) Hide(ctx context.Context, id string) error {
	return h.update(ctx, func(set map[string]bool) { set[id] = true })
}

func (h *HiddenSet) Unhide(ctx context.Context, id string) error {
	return h.update(ctx, func(set map[string]bool) { delete(set, id) })
}

// Toggle flips id's membership and reports whether it is now hidden.
func (h *HiddenSet) Toggle(ctx context.Context, id string) (bool, error) {
	var hidden bool
	err := h.update(ctx, func(set map[string]bool) {
		hidden = !set[id]
		if hidden {
			set[id] = true
		} else {
			delete(set, id)
		}
	})
	return hidden, err
}

// Clear empties the set.
func (h *HiddenSet) Clear(ctx context.Context) error {
	if err := h.values.DeleteValue(ctx, h.key); err != nil {
		return fmt.Errorf("failed to clear hidden set: %w", err)
	}
	return nil
}

func (h *HiddenSet) update(ctx context.Context, fn func(map[string]bool)) error {
	set, err := h.Set(ctx)
	if err != nil {
		return err
	}
	fn(set)

	data, err := json.Marshal(sortedKeys(set))
	if err != nil {
		return fmt.Errorf("failed to encode hidden set: %w", err)
	}
	if err := h.values.SetValue(ctx, h.key, string(data)); err != nil {
		return fmt.Errorf("failed to write hidden set: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

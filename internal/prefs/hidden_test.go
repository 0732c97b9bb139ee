package prefs

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/manholedex/internal/db"
)

func newHidden(t *testing.T) (*db.Store, *HiddenSet) {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, NewHiddenRegions(d, slog.Default())
}

func TestHiddenSetHideAndUnhide(t *testing.T) {
	_, hidden := newHidden(t)
	ctx := context.Background()

	ids, err := hidden.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, hidden.Hide(ctx, "47"))
	require.NoError(t, hidden.Hide(ctx, "01"))
	require.NoError(t, hidden.Hide(ctx, "01"))

	ids, err = hidden.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "47"}, ids)

	ok, err := hidden.Contains(ctx, "47")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, hidden.Unhide(ctx, "47"))
	ok, err = hidden.Contains(ctx, "47")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHiddenSetToggle(t *testing.T) {
	_, hidden := newHidden(t)
	ctx := context.Background()

	now, err := hidden.Toggle(ctx, "13")
	require.NoError(t, err)
	assert.True(t, now)

	now, err = hidden.Toggle(ctx, "13")
	require.NoError(t, err)
	assert.False(t, now)
}

func TestHiddenSetClear(t *testing.T) {
	_, hidden := newHidden(t)
	ctx := context.Background()
	require.NoError(t, hidden.Hide(ctx, "13"))

	require.NoError(t, hidden.Clear(ctx))
	ids, err := hidden.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHiddenSetUnreadableValueReadsEmpty(t *testing.T) {
	d, hidden := newHidden(t)
	ctx := context.Background()
	require.NoError(t, d.SetValue(ctx, hiddenRegionsKey, "{not an array"))

	ids, err := hidden.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, hidden.Hide(ctx, "02"))
	raw, ok, err := d.GetValue(ctx, hiddenRegionsKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `["02"]`, raw)
}

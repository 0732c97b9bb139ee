package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/media"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"quota", fmt.Errorf("failed to put blob: %w", db.ErrQuotaExceeded), "The device is out of storage space. Free some space and try again."},
		{"unavailable", db.ErrStorageUnavailable, "Local storage is unavailable right now."},
		{"not found", fmt.Errorf("failed to get item: %w", db.ErrNotFound), "The requested record no longer exists."},
		{"decode", media.ErrDecode, "The photo could not be read. Try a JPEG, PNG or WebP image."},
		{"premium", ErrPremiumRequired, "This feature requires premium."},
		{"duplicate", fmt.Errorf("%w: matches item x", ErrDuplicatePhoto), "This photo is already in your catalog."},
		{"cancelled", context.Canceled, "The operation was cancelled."},
		{"unknown", errors.New("sql: connection reset"), "Something went wrong."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.err))
		})
	}
}

func TestKeySetValidator(t *testing.T) {
	v := NewKeySetValidator([]string{"MH-0001", " "}, []string{"pal"})

	assert.True(t, v.Validate("mh-0001").Valid)
	assert.True(t, v.Validate(" PAL ").IsFriendCode)
	assert.False(t, v.Validate("").Valid)
	assert.False(t, v.Validate("MH-0002").Valid)
}

func TestDescribeKnown(t *testing.T) {
	msg, ok := DescribeKnown(ErrPremiumRequired)
	assert.True(t, ok)
	assert.Equal(t, "This feature requires premium.", msg)

	_, ok = DescribeKnown(errors.New("unknown flag: --bogus"))
	assert.False(t, ok)
}

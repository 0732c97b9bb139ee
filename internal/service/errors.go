package service

import (
	"context"
	"errors"

	"github.com/vbonduro/manholedex/internal/backup"
	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/media"
)

var (
	ErrPremiumRequired = errors.New("premium required")
	ErrInvalidLicense  = errors.New("invalid license key")
	ErrDuplicatePhoto  = errors.New("photo already in catalog")
)

// Describe turns err into a message fit to show the user. Internal details
// never leak through; unknown failures get a generic message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := DescribeKnown(err); ok {
		return msg
	}
	return "Something went wrong."
}

// DescribeKnown is Describe without the generic fallback. It reports false
// when err matches none of the catalog's failure kinds.
func DescribeKnown(err error) (string, bool) {
	msg := describe(err)
	return msg, msg != ""
}

func describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, db.ErrQuotaExceeded):
		return "The device is out of storage space. Free some space and try again."
	case errors.Is(err, db.ErrStorageUnavailable):
		return "Local storage is unavailable right now."
	case errors.Is(err, db.ErrNotFound):
		return "The requested record no longer exists."
	case errors.Is(err, media.ErrDecode):
		return "The photo could not be read. Try a JPEG, PNG or WebP image."
	case errors.Is(err, media.ErrEncode):
		return "The photo could not be compressed."
	case errors.Is(err, backup.ErrMalformedDocument):
		return "The backup file is not valid. Nothing was imported."
	case errors.Is(err, ErrPremiumRequired):
		return "This feature requires premium."
	case errors.Is(err, ErrInvalidLicense):
		return "The license key is not valid."
	case errors.Is(err, ErrDuplicatePhoto):
		return "This photo is already in your catalog."
	case errors.Is(err, context.Canceled):
		return "The operation was cancelled."
	}
	return ""
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/manholedex/internal/backup"
	"github.com/vbonduro/manholedex/internal/features"
)

// backupCodec is the subset of backup.Codec that BackupService requires.
type backupCodec interface {
	Export(ctx context.Context) ([]byte, error)
	ExportWithSecondary(ctx context.Context, payload json.RawMessage) ([]byte, error)
	Import(ctx context.Context, data []byte) (*backup.Result, error)
	ExtractSecondary(data []byte) (json.RawMessage, bool, error)
}

// BackupService wraps the backup codec with the bookkeeping around it.
type BackupService struct {
	codec    backupCodec
	settings settingsRepository
	regions  regionLister
	gates    featureGates
	logger   *slog.Logger
	now      func() time.Time
}

// NewBackupService builds the service. gates may be nil, leaving every
// export mode available. regions feeds the item count to gate rules.
func NewBackupService(codec backupCodec, settings settingsRepository, regions regionLister, gates featureGates, logger *slog.Logger) *BackupService {
	return &BackupService{codec: codec, settings: settings, regions: regions, gates: gates, logger: logger, now: time.Now}
}

// Export returns the backup document and records the time of the backup.
func (s *BackupService) Export(ctx context.Context) ([]byte, error) {
	data, err := s.codec.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export backup: %w", err)
	}
	s.stampBackup(ctx)
	return data, nil
}

// ExportWithSecondary is Export with payload merged into the secondary
// namespace. It requires the SecondaryExport feature.
func (s *BackupService) ExportWithSecondary(ctx context.Context, payload json.RawMessage) ([]byte, error) {
	if s.gates != nil {
		settings, err := s.settings.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get settings: %w", err)
		}
		ok, err := s.gates.Enabled(ctx, features.SecondaryExport, featureEnv(ctx, settings, s.regions))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrPremiumRequired
		}
	}

	data, err := s.codec.ExportWithSecondary(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to export backup: %w", err)
	}
	s.stampBackup(ctx)
	return data, nil
}

// Import replaces the store with the document's contents.
func (s *BackupService) Import(ctx context.Context, data []byte) (*backup.Result, error) {
	return s.codec.Import(ctx, data)
}

// Secondary extracts the secondary namespace of a serialized document.
func (s *BackupService) Secondary(data []byte) (json.RawMessage, bool, error) {
	return s.codec.ExtractSecondary(data)
}

// stampBackup records the export time. The document has already been
// produced, so a failure here is only logged.
func (s *BackupService) stampBackup(ctx context.Context) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Error("failed to read settings after export", "error", err)
		return
	}
	now := s.now()
	settings.LastBackupAt = &now
	if _, err := s.settings.Update(ctx, settings); err != nil {
		s.logger.Error("failed to record backup time", "error", err)
	}
}

// Command manholedex manages a local catalog of manhole cover photos.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vbonduro/manholedex/internal/backup"
	"github.com/vbonduro/manholedex/internal/backupfile"
	"github.com/vbonduro/manholedex/internal/config"
	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
	"github.com/vbonduro/manholedex/internal/features"
	"github.com/vbonduro/manholedex/internal/logging"
	"github.com/vbonduro/manholedex/internal/media"
	"github.com/vbonduro/manholedex/internal/prefs"
	"github.com/vbonduro/manholedex/internal/service"
	"github.com/vbonduro/manholedex/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", userMessage(err))
		stop()
		os.Exit(1)
	}
}

// userMessage prefers the catalog's own wording and falls back to the raw
// error for usage mistakes the catalog knows nothing about.
func userMessage(err error) string {
	if msg, ok := service.DescribeKnown(err); ok {
		return msg
	}
	return err.Error()
}

// app holds everything a command needs. It is filled in by open before any
// subcommand runs.
type app struct {
	jsonOut     bool
	metricsFile string

	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
	db      *db.Store
	catalog *service.CatalogService
	backups *service.BackupService
	files   *backupfile.Dir
	hidden  *prefs.HiddenSet
	gates   *features.Gates
}

// newRootCmd builds the command tree. The caller closes the returned app
// after Execute, whether or not the command failed.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "manholedex",
		Short:         "Manholedex catalogs manhole cover photos by prefecture",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "output as JSON")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newSeedCmd(a),
		newRegionsCmd(a),
		newHideCmd(a),
		newUnhideCmd(a),
		newItemsCmd(a),
		newThumbnailCmd(a),
		newImagesCmd(a),
		newBackupCmd(a),
		newSettingsCmd(a),
		newPremiumCmd(a),
		newFeaturesCmd(a),
	)
	return root, a
}

func (a *app) open() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger, a.cleanup = logger, cleanup

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		return err
	}
	a.db = database

	files, err := backupfile.NewDir(cfg.BackupDir)
	if err != nil {
		return err
	}
	a.files = files

	gates, err := features.New(database, logger, nil)
	if err != nil {
		return err
	}
	a.gates = gates
	a.hidden = prefs.NewHiddenRegions(database, logger)

	tier := domain.CompressionTier(cfg.CompressionTier)
	settings := store.NewSettingsStore(database, tier, logger)

	regions := store.NewRegionStore(database, logger)
	a.catalog = service.NewCatalogService(
		regions,
		store.NewItemStore(database, logger),
		settings,
		store.NewBlobStore(database),
		media.NewCodec(logger),
		logger,
		service.WithHiddenRegions(a.hidden),
		service.WithFeatureGates(gates),
		service.WithLicenseValidator(service.NewKeySetValidator(cfg.LicenseKeys, cfg.FriendCodes)),
	)
	codec := backup.NewCodec(database, logger, backup.WithAppKeys(cfg.PrimaryAppKey, cfg.SecondaryAppKey))
	a.backups = service.NewBackupService(codec, settings, regions, gates, logger)
	return nil
}

func (a *app) close() error {
	var firstErr error
	if a.metricsFile != "" {
		if err := prometheus.WriteToTextfile(a.metricsFile, prometheus.DefaultGatherer); err != nil {
			firstErr = fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && a.logger != nil {
			a.logger.Error("failed to close database", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		a.db = nil
	}
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
	return firstErr
}

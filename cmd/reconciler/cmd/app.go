package cmd

import (
	"context"

	"reconciliation-workflow/cmd/reconciler/config"
	"reconciliation-workflow/internal/ingest"
	"reconciliation-workflow/internal/ledger"
	"reconciliation-workflow/internal/notify"
	"reconciliation-workflow/internal/reconciler"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// application holds the services every command works against
type application struct {
	store     ledger.Service
	workspace *reconciler.ReconciliationService
	matcher   *ingest.ToleranceMatcher
	notify    *notify.MemoryService
	close     func()
}

// openApplication connects the configured store, imports the seed and loads
// the workspace
func openApplication(ctx context.Context, s *config.Settings, log logger.Logger) (*application, error) {
	var seed *ledger.Seed
	if s.Database.SeedFile != "" {
		var err error
		if seed, err = ledger.LoadSeed(s.Database.SeedFile, s.Thresholds()); err != nil {
			return nil, err
		}
	}

	app := &application{close: func() {}}
	switch s.Database.Driver {
	case config.DriverPostgres:
		store, err := ledger.OpenPostgres(s.Database.DSN, verbose)
		if err != nil {
			return nil, err
		}
		app.store = store
		app.close = func() {
			if sqlDB, err := store.DB().DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		if err := store.ImportSeed(ctx, seed); err != nil {
			app.close()
			return nil, err
		}
	default:
		store, err := ledger.NewMemoryStoreFromSeed(seed)
		if err != nil {
			return nil, err
		}
		app.store = store
	}

	matcher, err := ingest.NewToleranceMatcher(s.ToleranceConfig(), s.Thresholds())
	if err != nil {
		app.close()
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", s.Matching, err)
	}
	app.matcher = matcher

	app.workspace, err = reconciler.NewReconciliationService(app.store, s.ReconcilerConfig(),
		reconciler.WithLogger(log),
		reconciler.WithRematcher(matcher),
	)
	if err != nil {
		app.close()
		return nil, err
	}
	if err := app.workspace.Load(ctx); err != nil {
		app.close()
		return nil, err
	}

	if seed != nil {
		app.notify, err = notify.NewMemoryServiceFromSeed(seed.Notifications)
		if err != nil {
			app.close()
			return nil, err
		}
	} else {
		app.notify = notify.NewMemoryService()
	}
	app.notify.SetLogger(log)
	return app, nil
}

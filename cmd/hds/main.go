package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dmitrijs2005/osteokeeper/internal/cli"
	"github.com/dmitrijs2005/osteokeeper/internal/config"
	"github.com/dmitrijs2005/osteokeeper/internal/cryptox"
	"github.com/dmitrijs2005/osteokeeper/internal/filex"
	"github.com/dmitrijs2005/osteokeeper/internal/handles"
	"github.com/dmitrijs2005/osteokeeper/internal/legacy"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/dmitrijs2005/osteokeeper/internal/manager"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
	"github.com/dmitrijs2005/osteokeeper/internal/storage/fsstore"
	"github.com/dmitrijs2005/osteokeeper/internal/storage/sqlitestore"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	stateDir, err := filex.EnsureDir(filepath.Dir(cfg.StateDB))
	if err != nil {
		return err
	}

	// The console owns stdout, so logs go to a file next to the state db.
	logFile, err := os.OpenFile(filepath.Join(stateDir, "hds.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filex.FilePerm)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := logging.NewJSON(logFile, cfg.LogLevel)

	db, err := handles.OpenDatabase(ctx, cfg.StateDB)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := handles.NewSQLiteRepository(db)

	var app *cli.App
	picker := fsstore.PickerFunc(func(ctx context.Context) (string, error) {
		return app.PickDirectory(ctx)
	})

	deps := manager.Deps{
		Handles: repo,
		DirectFS: fsstore.New(
			fsstore.WithHandles(repo),
			fsstore.WithPicker(picker),
			fsstore.WithLogger(logger),
		),
		EmbeddedDB: sqlitestore.New(
			sqlitestore.WithHandles(repo),
			sqlitestore.WithDefaultPath(cfg.DatabasePath),
			sqlitestore.WithLogger(logger),
		),
		Embedded:      cfg.Embedded,
		Preferred:     storage.BackendType(cfg.PreferredBackend),
		Logger:        logger,
		EngineOptions: []storage.Option{storage.WithCipher(cryptox.NewCipher(cfg.FutureTolerance))},
	}

	if cfg.LegacyDB != "" {
		src, err := legacy.Open(cfg.LegacyDB)
		if err != nil {
			return err
		}
		defer src.Close()
		deps.Legacy = src
	}

	m := manager.New(deps)
	defer m.Close()

	app = cli.NewApp(m, cfg, os.Stdin, os.Stdout, logger)

	if err := m.Restore(ctx); err != nil {
		logger.Warn(ctx, "stored configuration unusable", "error", err)
		fmt.Fprintf(os.Stderr, "Stored storage configuration could not be restored (%v); run 'configure'.\n", err)
	}

	app.Root(ctx)
	return nil
}

package commands

import (
	"database/sql"
	"time"

	"github.com/inflow-io/inflow/adapter/csvsource"
	"github.com/inflow-io/inflow/adapter/monday"
	"github.com/inflow-io/inflow/config"
	"github.com/inflow-io/inflow/db"
	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/eventlog"
	"github.com/inflow-io/inflow/hierarchy"
	"github.com/inflow-io/inflow/importer"
	"github.com/inflow-io/inflow/interpret"
	"github.com/inflow-io/inflow/logger"
	"github.com/inflow-io/inflow/records"
	"github.com/inflow-io/inflow/schemamatch"
	"github.com/inflow-io/inflow/syncmap"
)

// app is the wired import pipeline for one CLI invocation.
type app struct {
	cfg      *config.Config
	database *sql.DB
	service  *importer.Service
	records  *records.Store
}

// openApp loads configuration, opens and migrates the database, and wires
// the full import pipeline.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}

	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, err
	}

	log := logger.Logger

	store := importer.NewStore(database, log)
	recordStore := records.NewStore(database, log)
	interpreter := interpret.New(log)
	matcher := schemamatch.New(cfg.Import.SchemaMatchThreshold, log)

	classifier := importer.NewClassifier(interpreter, matcher, log)
	compiler := importer.NewCompiler(store, classifier, recordStore, log)

	composer := importer.NewComposer(
		store,
		hierarchy.NewNodeStore(database, log),
		hierarchy.NewActionStore(database, log),
		recordStore,
		eventlog.NewWriter(database, log),
		eventlog.NewFactKindStore(database, log),
		syncmap.NewStore(database, log),
		interpreter,
		log,
		cfg.Import.DefaultActor,
	)

	mondayClient := monday.NewClient(monday.ClientConfig{
		APIToken:          cfg.Monday.APIToken,
		BaseURL:           cfg.Monday.BaseURL,
		RequestsPerMinute: cfg.Monday.RequestsPerMinute,
		Timeout:           time.Duration(cfg.Monday.TimeoutSeconds) * time.Second,
	}, log)

	service := importer.NewService(store, compiler, composer, log,
		csvsource.New(log),
		monday.New(mondayClient, log),
	)

	return &app{
		cfg:      cfg,
		database: database,
		service:  service,
		records:  recordStore,
	}, nil
}

// Close releases the application's database handle.
func (a *app) Close() {
	if err := a.database.Close(); err != nil && !db.IsDatabaseClosed(err) {
		logger.Logger.Warnw("Failed to close database", "error", err)
	}
}

// Package app wires configuration into a running Tallyline instance: state
// stores, sources, the reconciliation engine, and the operational API.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/tallyline/tallyline/internal/alert"
	httpapi "github.com/tallyline/tallyline/internal/api/http"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/engine"
	"github.com/tallyline/tallyline/internal/parity"
	"github.com/tallyline/tallyline/internal/projection"
	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/internal/runlog"
	"github.com/tallyline/tallyline/internal/server"
	"github.com/tallyline/tallyline/internal/snapshot"
	"github.com/tallyline/tallyline/internal/source"
	"github.com/tallyline/tallyline/internal/storage"
)

// App holds a fully wired Tallyline instance. All state stores share the
// SQLite file under the configured data directory.
type App struct {
	cfg    *config.Config
	logger *log.Logger

	quarantine *quarantine.SQLiteStore
	sink       *projection.SQLiteSink
	reports    *parity.SQLiteReportStore
	tracker    *runlog.SQLiteTracker

	payloads     source.PayloadSource
	interactions source.InteractionSource
	overrides    source.OverrideStore
	pg           *source.PostgresSources

	notifier *alert.Notifier
	engine   *engine.Engine
}

// New resolves and validates the configuration, opens the state stores, and
// wires the engine.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "tallyline: ", log.LstdFlags|log.Lmsgprefix)
	a := &App{cfg: cfg, logger: logger}

	var err error
	statePath := cfg.StatePath()
	if a.quarantine, err = quarantine.NewSQLiteStore(statePath); err != nil {
		return nil, err
	}
	if a.sink, err = projection.NewSQLiteSink(statePath); err != nil {
		a.Close()
		return nil, err
	}
	if a.reports, err = parity.NewSQLiteReportStore(statePath); err != nil {
		a.Close()
		return nil, err
	}
	if a.tracker, err = runlog.NewSQLiteTracker(statePath); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.wireSources(ctx); err != nil {
		a.Close()
		return nil, err
	}

	exporter, err := a.buildExporter(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.notifier = alert.NewNotifier(16)
	a.engine = engine.New(cfg, engine.Deps{
		Payloads:     a.payloads,
		Interactions: a.interactions,
		Overrides:    a.overrides,
		Quarantine:   a.quarantine,
		Sink:         a.sink,
		Reports:      a.reports,
		Tracker:      a.tracker,
		Exporter:     exporter,
		Notifier:     a.notifier,
		Logger:       logger,
	})
	return a, nil
}

// wireSources connects to the warehouse when a DSN is configured; otherwise
// the instance runs on empty in-memory sources, useful for local smoke runs
// and the HTTP API against existing state.
func (a *App) wireSources(ctx context.Context) error {
	if dsn := a.cfg.Sources.PostgresDSN; dsn != "" {
		pg, err := source.NewPostgresSources(ctx, dsn, a.cfg.Sources.QueryTimeout)
		if err != nil {
			return err
		}
		a.pg = pg
		a.payloads = pg.Payloads()
		a.interactions = pg.Interactions()
		a.overrides = pg.Overrides()
		return nil
	}
	a.logger.Printf("no postgres_dsn configured, using empty in-memory sources")
	a.payloads = source.NewMemoryPayloadSource()
	a.interactions = source.NewMemoryInteractionSource()
	a.overrides = source.NewMemoryOverrideStore()
	return nil
}

func (a *App) buildExporter(ctx context.Context) (*snapshot.Exporter, error) {
	if !a.cfg.Snapshot.Enabled {
		return nil, nil
	}
	var store storage.ObjectStore
	var err error
	switch a.cfg.Snapshot.Storage {
	case config.SnapshotStorageS3:
		store, err = storage.NewS3Store(ctx, a.cfg.Snapshot.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Snapshot.S3.Region,
			Endpoint:     a.cfg.Snapshot.S3.Endpoint,
			UsePathStyle: a.cfg.Snapshot.S3.UsePathStyle,
		})
	default:
		store, err = storage.NewLocalStore(a.cfg.Snapshot.Path)
	}
	if err != nil {
		return nil, err
	}
	return snapshot.NewExporter(store, a.cfg.TaskCode), nil
}

// Engine returns the wired reconciliation engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Tracker returns the run tracker.
func (a *App) Tracker() runlog.Tracker { return a.tracker }

// Reports returns the parity report store.
func (a *App) Reports() parity.ReportStore { return a.reports }

// Quarantine returns the quarantine store.
func (a *App) Quarantine() quarantine.Store { return a.quarantine }

// Overrides returns the override store.
func (a *App) Overrides() source.OverrideStore { return a.overrides }

// Sink returns the projection sink.
func (a *App) Sink() projection.Sink { return a.sink }

// Logger returns the application logger.
func (a *App) Logger() *log.Logger { return a.logger }

// Notifier returns the run alert bus.
func (a *App) Notifier() *alert.Notifier { return a.notifier }

// Serve runs the operational HTTP API until shutdown. Run alerts are drained
// into the application log while serving.
func (a *App) Serve(ctx context.Context) error {
	sub := a.notifier.Subscribe("serve-log", a.cfg.TaskCode)
	defer a.notifier.Unsubscribe("serve-log")
	go func() {
		for n := range sub.Ch {
			a.logger.Printf("alert: %s task=%s run=%s %s", n.Kind, n.TaskCode, n.RunID, n.Message)
		}
	}()

	api := httpapi.NewServer(a.engine, a.tracker, a.reports, a.quarantine,
		a.overrides, a.sink, a.cfg.TaskCode, a.logger)

	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      api.Router(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	lc := server.NewLifecycle(a.cfg.HTTP.ShutdownTimeout, a.logger)
	lc.RegisterCloseFunc(a.Close)
	return lc.Serve(ctx, srv)
}

// Close tears down stores and connections. Safe on a partially built App.
func (a *App) Close() error {
	var firstErr error
	closeIt := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.pg != nil {
		a.pg.Close()
		a.pg = nil
	}
	if a.tracker != nil {
		closeIt(a.tracker.Close())
		a.tracker = nil
	}
	if a.reports != nil {
		closeIt(a.reports.Close())
		a.reports = nil
	}
	if a.sink != nil {
		closeIt(a.sink.Close())
		a.sink = nil
	}
	if a.quarantine != nil {
		closeIt(a.quarantine.Close())
		a.quarantine = nil
	}
	return firstErr
}

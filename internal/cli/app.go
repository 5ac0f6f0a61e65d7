package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sadhana/internal/catalog"
	"github.com/roach88/sadhana/internal/config"
	"github.com/roach88/sadhana/internal/engine"
	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/logging"
	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/store"
)

// App is the wired client for one CLI invocation: config, logger, local
// store, the session and, when signed in, the remote gateway.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Store   *store.Store
	Session store.Session
	Gateway *remote.Gateway // nil in guest mode
	Engine  *engine.Engine
	Tracker *engine.Tracker
	Catalog *catalog.Catalog

	sessions *store.SessionStore
	catalogs *store.CatalogStore
	tp       *sdktrace.TracerProvider
	closers  []func() error
}

// bootstrap loads config and builds the logger and, with --trace, a tracer
// provider printing spans to stderr. It does not touch the local store.
func bootstrap(opts *RootOptions, stderr io.Writer) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, closeLog, err := logging.NewWithWriter(cfg.Log, stderr)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, "init logging", err)
	}

	a := &App{Config: cfg, Logger: logger}
	a.closers = append(a.closers, closeLog)

	if opts.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tp = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		a.closers = append(a.closers, func() error {
			return a.tp.Shutdown(context.Background())
		})
	}
	return a, nil
}

// openApp bootstraps and opens the local store, then wires the engine for
// the stored session.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*App, error) {
	a, err := bootstrap(opts, stderr)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(a.Config.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, ErrCodeStore, "create data directory", err)
		}
	}
	db, err := store.Open(a.Config.DBPath)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, ErrCodeStore, "open store", err)
	}
	a.Store = db
	a.closers = append(a.closers, db.Close)
	a.sessions = store.NewSessionStore(db)
	a.catalogs = store.NewCatalogStore(db)

	if a.Session, err = a.sessions.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close stops the tracker and releases resources in reverse order.
func (a *App) Close() error {
	if a.Tracker != nil {
		a.Tracker.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Authenticated reports whether commands run against the remote tracker.
func (a *App) Authenticated() bool {
	return a.Gateway != nil
}

// wire (re)builds the gateway, the catalog, the engine and the tracker from
// the current session.
func (a *App) wire(ctx context.Context) error {
	a.Gateway = nil
	if a.Session.LoggedIn && a.Config.APIURL != "" {
		gwOpts := []remote.Option{
			remote.WithTimeout(a.Config.RequestTimeout),
			remote.WithRateLimit(a.Config.RequestsPerSecond, a.Config.FetchConcurrency),
			remote.WithConcurrency(a.Config.FetchConcurrency),
			remote.WithLogger(a.Logger.Named("remote")),
		}
		if a.tp != nil {
			gwOpts = append(gwOpts, remote.WithTracerProvider(a.tp))
		}
		a.Gateway = remote.New(a.Config.APIURL, a.Session.AccessToken, gwOpts...)
	}

	if err := a.loadCatalog(ctx); err != nil {
		return err
	}
	a.build()
	return nil
}

// build creates the engine and tracker over the current gateway and
// catalog. Only a non-nil gateway is passed on, so guest mode keeps nil
// interfaces.
func (a *App) build() {
	if a.Tracker != nil {
		a.Tracker.Close()
	}

	engOpts := []engine.Option{
		engine.WithLogKey(a.Config.JournalKey),
		engine.WithGuestCap(a.Config.MaxPerItem),
		engine.WithLogger(a.Logger.Named("engine")),
	}
	if a.tp != nil {
		engOpts = append(engOpts, engine.WithTracerProvider(a.tp))
	}
	tcfg := engine.TrackerConfig{
		Catalog:       a.Catalog,
		MaxPerItem:    a.Config.MaxPerItem,
		InitialPoints: a.Config.InitialPoints,
		DecayDebounce: a.Config.DecayDebounce,
		Logger:        a.Logger.Named("tracker"),
	}
	if a.Gateway != nil {
		engOpts = append(engOpts, engine.WithRemote(a.Gateway))
		tcfg.Profile = a.Gateway
	}

	a.Engine = engine.New(a.Store, engOpts...)
	tcfg.Engine = a.Engine
	a.Tracker = engine.NewTracker(tcfg)
}

// loadCatalog reads the cached catalog. With nothing cached and a gateway
// available it fetches once; a failed fetch leaves an empty catalog.
func (a *App) loadCatalog(ctx context.Context) error {
	items, ok, err := a.catalogs.Read(ctx)
	if err != nil {
		return err
	}
	if !ok && a.Gateway != nil {
		fetched, err := a.fetchCatalog(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Logger.Warn("catalog unavailable", zap.Error(err))
		}
		items = fetched
	}
	a.Catalog = catalog.New(items)
	return nil
}

func (a *App) fetchCatalog(ctx context.Context) ([]journal.Item, error) {
	items, err := a.Gateway.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.catalogs.Write(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// RefreshCatalog replaces the cached catalog with the remote one.
func (a *App) RefreshCatalog(ctx context.Context) error {
	if a.Gateway == nil {
		return NewExitError(ExitCommandError, ErrCodeNotLoggedIn, "catalog refresh requires a signed-in session")
	}
	items, err := a.fetchCatalog(ctx)
	if err != nil {
		return err
	}
	a.Catalog = catalog.New(items)
	a.build()
	return nil
}

// ImportCatalog replaces the cached catalog with items.
func (a *App) ImportCatalog(ctx context.Context, items []journal.Item) error {
	if err := a.catalogs.Write(ctx, items); err != nil {
		return err
	}
	a.Catalog = catalog.New(items)
	a.build()
	return nil
}

// SignIn stores a new session and rewires against the remote tracker.
func (a *App) SignIn(ctx context.Context, sess store.Session) error {
	if err := a.sessions.Save(ctx, sess); err != nil {
		return err
	}
	a.Session = sess
	return a.wire(ctx)
}

// SignOut clears the session and rewires in guest mode.
func (a *App) SignOut(ctx context.Context) error {
	if err := a.sessions.Clear(ctx); err != nil {
		return err
	}
	a.Session = store.Session{}
	return a.wire(ctx)
}

// catalogFile is the import format:
//
//	items:
//	  - id: yoga
//	    name: Yoga
//	    points: 10
//	    active: true
type catalogFile struct {
	Items []catalogFileEntry `yaml:"items"`
}

type catalogFileEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Points int    `yaml:"points"`
	Active *bool  `yaml:"active"`
}

// readCatalogFile parses a YAML catalog. Entries without an active flag
// are active.
func readCatalogFile(path string) ([]journal.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var f catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	items := make([]journal.Item, 0, len(f.Items))
	for i, e := range f.Items {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog file %s: items[%d]: id is required", path, i)
		}
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		items = append(items, journal.Item{ID: e.ID, Name: e.Name, Points: e.Points, Active: active})
	}
	return items, nil
}

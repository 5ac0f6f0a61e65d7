package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/store"
)

// Remote is the part of the tracker gateway the engine drives.
// Implemented by *remote.Gateway.
type Remote interface {
	FetchPage(ctx context.Context, page, pageSize int) (journal.RemotePage, error)
	FetchAll(ctx context.Context) (journal.Log, error)
	Submit(ctx context.Context, ev journal.Event) error
	Remove(ctx context.Context, ev journal.Event) error
}

// Mode is the sync status the engine operates in.
type Mode int

const (
	// GuestLocal reads and writes the local log only.
	GuestLocal Mode = iota
	// AuthenticatedRemote reads remote ∪ extras and writes remote first.
	AuthenticatedRemote
)

func (m Mode) String() string {
	if m == AuthenticatedRemote {
		return "authenticated"
	}
	return "guest"
}

// ExtrasCap bounds the overflow copies of one pair held locally while
// authenticated. Together with the one record the remote accepts, this gives
// two completions per item per day.
const ExtrasCap = 1

// CommitHook runs inside the transaction that persists an applied mutation.
// Returning an error rolls the whole mutation back.
type CommitHook func(ctx context.Context, tx *store.Tx) error

// Result is the outcome of an engine operation.
type Result struct {
	// Log is the full merged view after the operation, newest day first.
	Log journal.Log

	// Applied reports whether the operation changed the event set. A capped
	// add or a delete with no match leaves it false.
	Applied bool

	// Extra reports that the change landed in the extras overlay.
	Extra bool

	// Fresh reports that Log reflects a successful remote fetch.
	Fresh bool

	// Seq is the operation number.
	Seq int64
}

// UploadReport summarizes Upload.
type UploadReport struct {
	Submitted int
	Conflicts int
	Extras    int // same-day repeats kept as local extras
}

// Engine reconciles the local log, the extras overlay and the remote tracker.
//
// The engine exclusively owns the log and extras keys; nothing else writes
// them. Mutations are all-or-nothing: local state is only written after the
// remote call (if any) returned and the context is still live, and log, extras
// and hook writes commit in one transaction.
//
// Thread-safety model:
//   - All methods are safe from any goroutine
//   - At most one AddItem/DeleteItem per (dayKey, itemId) runs at a time;
//     a concurrent second call fails fast with WRITE_IN_FLIGHT
type Engine struct {
	db     *store.Store
	logKey string
	local  *store.LogStore
	extras *store.LogStore
	remote Remote
	clock  daykey.Clock

	guestCap int
	guard    *InFlightGuard
	seq      *Sequence

	logger *zap.Logger
	tracer trace.Tracer
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithRemote switches the engine to AuthenticatedRemote mode.
// A nil remote keeps GuestLocal mode.
func WithRemote(r Remote) Option {
	return func(e *Engine) {
		e.remote = r
	}
}

// WithLogKey sets the primary log key. The extras key is derived from it.
//
// Default: store.DefaultLogKey
func WithLogKey(key string) Option {
	return func(e *Engine) {
		if key != "" {
			e.logKey = key
		}
	}
}

// WithClock sets the wall clock used for legacy migrations.
func WithClock(c daykey.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithGuestCap sets how many completions of one item per day a guest may log.
//
// Default: journal.DefaultCap (2)
func WithGuestCap(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.guestCap = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracerProvider sets the tracer provider for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer("github.com/roach88/sadhana/internal/engine")
		}
	}
}

// WithSequence sets the operation counter. Used by tests and the scenario
// harness to get stable operation numbers.
func WithSequence(s *Sequence) Option {
	return func(e *Engine) {
		if s != nil {
			e.seq = s
		}
	}
}

// New creates an Engine over db.
func New(db *store.Store, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		logKey:   store.DefaultLogKey,
		clock:    daykey.SystemClock{},
		guestCap: journal.DefaultCap,
		guard:    NewInFlightGuard(),
		seq:      NewSequence(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/roach88/sadhana/internal/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.local = store.NewLogStore(db, e.logKey, e.clock)
	e.extras = store.NewExtrasStore(db, e.logKey, e.clock)
	return e
}

// Mode reports the sync status.
func (e *Engine) Mode() Mode {
	if e.remote != nil {
		return AuthenticatedRemote
	}
	return GuestLocal
}

// LogKey returns the primary log key.
func (e *Engine) LogKey() string {
	return e.logKey
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.db
}

// Local reads the locally persisted log without touching the remote. In
// GuestLocal mode this is the guest log; otherwise it is the offline cache.
func (e *Engine) Local(ctx context.Context) (journal.Log, error) {
	return e.local.Read(ctx)
}

// Extras reads the extras overlay.
func (e *Engine) Extras(ctx context.Context) (journal.Log, error) {
	return e.extras.Read(ctx)
}

// Load returns the full log. Remote failures never surface: the cached local
// log is returned instead. A successful remote read refreshes that cache.
// Only local storage failures and cancellation of ctx are returned.
func (e *Engine) Load(ctx context.Context) (Result, error) {
	seq := e.seq.Next()
	ctx, span := e.startSpan(ctx, "engine.Load", seq)
	defer span.End()

	cached, cacheErr := e.local.Read(ctx)
	if e.remote == nil {
		if cacheErr != nil {
			return Result{}, fail(span, fmt.Errorf("load: %w", cacheErr))
		}
		return Result{Log: cached, Seq: seq}, nil
	}

	merged, err := e.fetchMerged(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fail(span, ctx.Err())
		}
		e.logger.Warn("load: serving cached log", zap.Int64("seq", seq), zap.Error(err))
		if cacheErr != nil {
			return Result{}, fail(span, fmt.Errorf("load: %w", cacheErr))
		}
		return Result{Log: cached, Seq: seq}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fail(span, err)
	}
	if err := e.local.Write(ctx, merged); err != nil {
		e.logger.Warn("load: cache refresh failed", zap.Int64("seq", seq), zap.Error(err))
	}
	return Result{Log: merged, Fresh: true, Seq: seq}, nil
}

// LoadPage returns one page of the log for infinite scrolling. Extras are
// only merged into page 1. When the remote is unreachable the page is cut
// from the cached full log.
func (e *Engine) LoadPage(ctx context.Context, page, pageSize int) (journal.Page, error) {
	seq := e.seq.Next()
	ctx, span := e.startSpan(ctx, "engine.LoadPage", seq)
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	if e.remote != nil {
		p, err := e.remotePage(ctx, page, pageSize)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return journal.Page{}, fail(span, ctx.Err())
		}
		e.logger.Warn("load page: serving cached slice",
			zap.Int64("seq", seq), zap.Int("page", page), zap.Error(err))
	}

	cached, err := e.local.Read(ctx)
	if err != nil {
		return journal.Page{}, fail(span, fmt.Errorf("load page %d: %w", page, err))
	}
	return journal.Slice(cached, page, pageSize), nil
}

func (e *Engine) remotePage(ctx context.Context, page, pageSize int) (journal.Page, error) {
	rp, err := e.remote.FetchPage(ctx, page, pageSize)
	if err != nil {
		return journal.Page{}, err
	}
	items := rp.Items
	if page == 1 {
		extras, err := e.extras.Read(ctx)
		if err != nil {
			return journal.Page{}, err
		}
		items = journal.Merge(items, extras)
	}
	if items == nil {
		items = journal.Log{}
	}
	return journal.Page{Items: items, HasMore: page < rp.TotalPages}, nil
}

// AddItem records a completion.
//
// Guest: the event is appended to the local log subject to the guest cap.
// Authenticated: the event is submitted; a remote duplicate turns it into an
// extras entry (capped at ExtrasCap). Any other remote failure is returned
// and nothing local changes.
//
// hooks run in the persisting transaction only when Result.Applied is true.
func (e *Engine) AddItem(ctx context.Context, ev journal.Event, hooks ...CommitHook) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, NewInvalidEventError(err)
	}
	k := ev.Key()
	if !e.guard.TryAcquire(k) {
		return Result{}, NewInFlightError(k)
	}
	defer e.guard.Release(k)

	seq := e.seq.Next()
	ctx, span := e.startSpan(ctx, "engine.AddItem", seq)
	defer span.End()
	span.SetAttributes(attribute.String("event.key", k.String()))

	var (
		res Result
		err error
	)
	if e.remote == nil {
		res, err = e.addLocal(ctx, ev, hooks)
	} else {
		res, err = e.addRemote(ctx, ev, hooks)
	}
	if err != nil {
		return Result{}, fail(span, fmt.Errorf("add %s: %w", k, err))
	}
	res.Seq = seq
	span.SetAttributes(attribute.Bool("applied", res.Applied), attribute.Bool("extra", res.Extra))
	e.logger.Debug("add item",
		zap.Int64("seq", seq), zap.String("key", k.String()),
		zap.Bool("applied", res.Applied), zap.Bool("extra", res.Extra))
	return res, nil
}

func (e *Engine) addLocal(ctx context.Context, ev journal.Event, hooks []CommitHook) (Result, error) {
	var res Result
	err := e.db.Update(ctx, func(tx *store.Tx) error {
		local := e.local.With(tx)
		prev, err := local.Read(ctx)
		if err != nil {
			return err
		}
		next := journal.AddWithCap(prev, ev, e.guestCap)
		if len(next) <= len(prev) {
			res = Result{Log: prev}
			return nil
		}
		next = journal.Sorted(next)
		res = Result{Log: next, Applied: true}
		if err := local.Write(ctx, next); err != nil {
			return err
		}
		return runHooks(ctx, tx, hooks)
	})
	return res, err
}

func (e *Engine) addRemote(ctx context.Context, ev journal.Event, hooks []CommitHook) (Result, error) {
	submitErr := e.remote.Submit(ctx, ev)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	switch {
	case submitErr == nil:
		extras, err := e.extras.Read(ctx)
		if err != nil {
			return Result{}, err
		}
		view, fresh, err := e.viewAfter(ctx, extras, func(cached journal.Log) journal.Log {
			return journal.Sorted(append(cached, ev))
		})
		if err != nil {
			return Result{}, err
		}
		res := Result{Log: view, Applied: true, Fresh: fresh}
		err = e.db.Update(ctx, func(tx *store.Tx) error {
			if err := e.local.With(tx).Write(ctx, view); err != nil {
				return err
			}
			return runHooks(ctx, tx, hooks)
		})
		return res, err

	case remote.IsConflict(submitErr):
		var res Result
		err := e.db.Update(ctx, func(tx *store.Tx) error {
			extrasTx := e.extras.With(tx)
			prev, err := extrasTx.Read(ctx)
			if err != nil {
				return err
			}
			next := journal.AddWithCap(prev, ev, ExtrasCap)
			if len(next) <= len(prev) {
				res = Result{Log: journal.Merge(nil, prev)}
				return nil
			}
			res = Result{Log: journal.Merge(nil, next), Applied: true, Extra: true}
			if err := extrasTx.Write(ctx, next); err != nil {
				return err
			}
			return runHooks(ctx, tx, hooks)
		})
		if err != nil {
			return Result{}, err
		}
		extras, err := e.extras.Read(ctx)
		if err != nil {
			return Result{}, err
		}
		if merged, err := e.refetch(ctx, extras); err == nil {
			res.Log, res.Fresh = merged, true
			e.refreshCache(ctx, merged)
		} else {
			e.logger.Warn("add: refetch after conflict failed; extras-only view", zap.Error(err))
		}
		return res, nil

	default:
		return Result{}, submitErr
	}
}

// DeleteItem removes one occurrence of ev.
//
// Guest: the first matching local occurrence is removed.
// Authenticated: an extras copy is consumed first without touching the
// remote; only if there is none is the remote record deleted.
//
// hooks run in the persisting transaction only when Result.Applied is true.
func (e *Engine) DeleteItem(ctx context.Context, ev journal.Event, hooks ...CommitHook) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, NewInvalidEventError(err)
	}
	k := ev.Key()
	if !e.guard.TryAcquire(k) {
		return Result{}, NewInFlightError(k)
	}
	defer e.guard.Release(k)

	seq := e.seq.Next()
	ctx, span := e.startSpan(ctx, "engine.DeleteItem", seq)
	defer span.End()
	span.SetAttributes(attribute.String("event.key", k.String()))

	var (
		res Result
		err error
	)
	if e.remote == nil {
		res, err = e.deleteLocal(ctx, k, hooks)
	} else {
		res, err = e.deleteRemote(ctx, ev, hooks)
	}
	if err != nil {
		return Result{}, fail(span, fmt.Errorf("delete %s: %w", k, err))
	}
	res.Seq = seq
	span.SetAttributes(attribute.Bool("applied", res.Applied), attribute.Bool("extra", res.Extra))
	e.logger.Debug("delete item",
		zap.Int64("seq", seq), zap.String("key", k.String()),
		zap.Bool("applied", res.Applied), zap.Bool("extra", res.Extra))
	return res, nil
}

func (e *Engine) deleteLocal(ctx context.Context, k journal.Key, hooks []CommitHook) (Result, error) {
	var res Result
	err := e.db.Update(ctx, func(tx *store.Tx) error {
		local := e.local.With(tx)
		prev, err := local.Read(ctx)
		if err != nil {
			return err
		}
		next, removed := journal.RemoveOne(prev, k)
		if !removed {
			res = Result{Log: prev}
			return nil
		}
		res = Result{Log: next, Applied: true}
		if err := local.Write(ctx, next); err != nil {
			return err
		}
		return runHooks(ctx, tx, hooks)
	})
	return res, err
}

func (e *Engine) deleteRemote(ctx context.Context, ev journal.Event, hooks []CommitHook) (Result, error) {
	k := ev.Key()
	dropOne := func(cached journal.Log) journal.Log {
		next, _ := journal.RemoveOne(cached, k)
		return next
	}

	// Extras are re-read and written in the same transaction as the cache
	// patch and the hooks.
	var consumed bool
	err := e.db.Update(ctx, func(tx *store.Tx) error {
		extrasTx := e.extras.With(tx)
		prev, err := extrasTx.Read(ctx)
		if err != nil {
			return err
		}
		next, removed := journal.RemoveOne(prev, k)
		if !removed {
			return nil
		}
		consumed = true
		if err := extrasTx.Write(ctx, next); err != nil {
			return err
		}
		localTx := e.local.With(tx)
		cached, err := localTx.Read(ctx)
		if err != nil {
			return err
		}
		if err := localTx.Write(ctx, dropOne(cached)); err != nil {
			return err
		}
		return runHooks(ctx, tx, hooks)
	})
	if err != nil {
		return Result{}, err
	}
	if consumed {
		res := Result{Applied: true, Extra: true}
		res.Log, res.Fresh = e.currentView(ctx)
		return res, nil
	}

	if err := e.remote.Remove(ctx, ev); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	extras, err := e.extras.Read(ctx)
	if err != nil {
		return Result{}, err
	}
	view, fresh, err := e.viewAfter(ctx, extras, dropOne)
	if err != nil {
		return Result{}, err
	}
	err = e.db.Update(ctx, func(tx *store.Tx) error {
		if err := e.local.With(tx).Write(ctx, view); err != nil {
			return err
		}
		return runHooks(ctx, tx, hooks)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Log: view, Applied: true, Fresh: fresh}, nil
}

// currentView refetches the remote after a local-only commit. On failure the
// already patched cache is returned.
func (e *Engine) currentView(ctx context.Context) (journal.Log, bool) {
	extras, err := e.extras.Read(ctx)
	if err == nil {
		var merged journal.Log
		if merged, err = e.refetch(ctx, extras); err == nil {
			e.refreshCache(ctx, merged)
			return merged, true
		}
	}
	e.logger.Warn("refetch after local commit failed; using cached log", zap.Error(err))
	cached, cerr := e.local.Read(context.WithoutCancel(ctx))
	if cerr != nil {
		return nil, false
	}
	return cached, false
}

// Upload submits events one by one, treating remote duplicates as already
// uploaded. It stops at the first other failure.
func (e *Engine) Upload(ctx context.Context, events journal.Log) (UploadReport, error) {
	if e.remote == nil {
		return UploadReport{}, errors.New("upload: engine has no remote")
	}
	seq := e.seq.Next()
	ctx, span := e.startSpan(ctx, "engine.Upload", seq)
	defer span.End()

	var rep UploadReport
	for _, ev := range events {
		if ev.Validate() != nil {
			continue
		}
		err := e.remote.Submit(ctx, ev)
		switch {
		case err == nil:
			rep.Submitted++
		case remote.IsConflict(err):
			rep.Conflicts++
		default:
			return rep, fail(span, fmt.Errorf("upload %s: %w", ev.Key(), err))
		}
	}
	span.SetAttributes(attribute.Int("submitted", rep.Submitted), attribute.Int("conflicts", rep.Conflicts))
	return rep, nil
}

// AdoptExtras records events whose first occurrence the remote already holds
// as local extras, at most ExtrasCap per pair. It returns how many were kept.
func (e *Engine) AdoptExtras(ctx context.Context, events journal.Log) (int, error) {
	kept := 0
	err := e.db.Update(ctx, func(tx *store.Tx) error {
		extrasTx := e.extras.With(tx)
		cur, err := extrasTx.Read(ctx)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Validate() != nil {
				continue
			}
			next := journal.AddWithCap(cur, ev, ExtrasCap)
			if len(next) > len(cur) {
				kept++
			}
			cur = next
		}
		if kept == 0 {
			return nil
		}
		return extrasTx.Write(ctx, cur)
	})
	if err != nil {
		return 0, err
	}
	return kept, nil
}

// fetchMerged reads the full remote log and the extras overlay in parallel.
func (e *Engine) fetchMerged(ctx context.Context) (journal.Log, error) {
	var remoteLog, extras journal.Log
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		remoteLog, err = e.remote.FetchAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		extras, err = e.extras.Read(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return journal.Merge(remoteLog, extras), nil
}

func (e *Engine) refetch(ctx context.Context, extras journal.Log) (journal.Log, error) {
	remoteLog, err := e.remote.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return journal.Merge(remoteLog, extras), nil
}

// viewAfter rebuilds the merged view after a confirmed remote mutation. If the
// refetch fails the cached log is patched with fallback instead, since the
// mutation itself already succeeded.
func (e *Engine) viewAfter(ctx context.Context, extras journal.Log, fallback func(journal.Log) journal.Log) (journal.Log, bool, error) {
	merged, err := e.refetch(ctx, extras)
	if err == nil {
		return merged, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	e.logger.Warn("refetch after write failed; patching cached log", zap.Error(err))
	cached, cerr := e.local.Read(ctx)
	if cerr != nil {
		return nil, false, cerr
	}
	return fallback(cached), false, nil
}

func (e *Engine) refreshCache(ctx context.Context, merged journal.Log) {
	if ctx.Err() != nil {
		return
	}
	if err := e.local.Write(ctx, merged); err != nil {
		e.logger.Warn("cache refresh failed", zap.Error(err))
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, seq int64) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("op.seq", seq),
		attribute.String("mode", e.Mode().String()),
	))
}

func runHooks(ctx context.Context, tx *store.Tx, hooks []CommitHook) error {
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if err := h(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

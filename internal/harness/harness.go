package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/sadhana/internal/catalog"
	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/engine"
	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/testutil"
)

// DefaultCatalog is used when a scenario declares no catalog.
var DefaultCatalog = []journal.Item{
	{ID: "yoga", Name: "Yoga", Points: 10, Active: true},
	{ID: "med", Name: "Meditation", Points: 25, Active: true},
	{ID: "japa", Name: "Japa", Points: 5, Active: true},
}

// Harness holds the live objects of one scenario run.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	tracker *engine.Tracker
	fake    *testutil.FakeTracker // nil in guest mode
	clock   *daykey.FixedClock
	logger  *zap.Logger
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
	dir    string
}

// WithLogger routes engine and tracker logs to l.
func WithLogger(l *zap.Logger) Option {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDir places the scenario database in dir instead of a fresh temp dir.
func WithDir(dir string) Option {
	return func(c *runConfig) {
		c.dir = dir
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh SQLite store, a real engine and
// tracker, a fixed clock on scenario.Today and, when authenticated, an
// in-memory fake tracker.
//
// Execution flow:
// 1. Seed catalog, local log, extras, remote records and points
// 2. Execute flow steps, checking expect clauses
// 3. Evaluate assertions against the trace and final state
//
// A step failing is not a run error: it is recorded in the trace and
// checked by its expect clause. Run errors mean the scenario could not be
// executed at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := cfg.dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "sadhana-scenario-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create scenario dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	st, err := store.Open(filepath.Join(dir, scenario.Name+".db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, st, scenario, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}
	defer h.tracker.Close()

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, st *store.Store, s *Scenario, logger *zap.Logger) (*Harness, error) {
	clock := daykey.NewFixedClockAt(s.Today)

	items := DefaultCatalog
	if len(s.Catalog) > 0 {
		items = make([]journal.Item, 0, len(s.Catalog))
		for _, it := range s.Catalog {
			name := it.Name
			if name == "" {
				name = it.ID
			}
			items = append(items, journal.Item{ID: it.ID, Name: name, Points: it.Points, Active: true})
		}
	}

	h := &Harness{store: st, clock: clock, logger: logger}
	engOpts := []engine.Option{engine.WithClock(clock), engine.WithLogger(logger)}
	if s.Mode == ModeAuthenticated {
		h.fake = testutil.NewFakeTracker(toLog(s.Seed.Remote)...)
		engOpts = append(engOpts, engine.WithRemote(h.fake))
	}
	h.engine = engine.New(st, engOpts...)
	h.tracker = engine.NewTracker(engine.TrackerConfig{
		Engine:        h.engine,
		Catalog:       catalog.New(items),
		Clock:         clock,
		InitialPoints: s.Seed.Points,
		Logger:        logger,
	})

	if len(s.Seed.Local) > 0 {
		if err := store.NewLogStore(st, h.engine.LogKey(), clock).Write(ctx, toLog(s.Seed.Local)); err != nil {
			return nil, err
		}
	}
	if len(s.Seed.Extras) > 0 {
		if err := store.NewExtrasStore(st, h.engine.LogKey(), clock).Write(ctx, toLog(s.Seed.Extras)); err != nil {
			return nil, err
		}
	}
	if _, err := h.tracker.Rollover(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// executeFlow runs all flow steps and validates expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		out, err := h.execute(ctx, step)
		var runErr *stepError
		if errors.As(err, &runErr) {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Op, runErr.err)
		}

		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeError
			out = map[string]any{"code": errorCode(err)}
		}
		ev := result.AddStepTrace(step.Op, step.Args, outcome, out)

		h.logger.Debug("flow step completed",
			zap.Int("step", i),
			zap.String("op", step.Op),
			zap.String("outcome", outcome),
			zap.Error(err))

		if step.Expect == nil {
			continue
		}
		if step.Expect.Case != ev.Outcome {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %q, got %q (result %v)",
				i, step.Op, step.Expect.Case, ev.Outcome, ev.Result))
			continue
		}
		for key, want := range step.Expect.Result {
			got, ok := ev.Result[key]
			if !ok || !valuesEqual(want, got) {
				result.AddError(fmt.Sprintf("flow[%d] %s: expected %s = %v, got %v",
					i, step.Op, key, want, got))
			}
		}
	}
	return nil
}

// stepError marks a malformed step, as opposed to an operation that ran and
// failed.
type stepError struct {
	err error
}

func (e *stepError) Error() string { return e.err.Error() }

func badStep(format string, args ...any) error {
	return &stepError{err: fmt.Errorf(format, args...)}
}

func (h *Harness) execute(ctx context.Context, step FlowStep) (map[string]any, error) {
	today := daykey.Today(h.clock)

	switch step.Op {
	case OpMarkDone:
		item, err := argString(step.Args, "item", "")
		if err != nil {
			return nil, err
		}
		out, err := h.tracker.MarkDone(ctx, item)
		if err != nil {
			return nil, err
		}
		return outcomeResult(out), nil

	case OpDelete:
		ev, err := argEvent(step.Args, today)
		if err != nil {
			return nil, err
		}
		out, err := h.tracker.Delete(ctx, ev)
		if err != nil {
			return nil, err
		}
		return outcomeResult(out), nil

	case OpAdd, OpRemove:
		ev, err := argEvent(step.Args, today)
		if err != nil {
			return nil, err
		}
		var res engine.Result
		if step.Op == OpAdd {
			res, err = h.engine.AddItem(ctx, ev)
		} else {
			res, err = h.engine.DeleteItem(ctx, ev)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"applied": res.Applied, "extra": res.Extra, "log": len(res.Log)}, nil

	case OpLoad:
		res, err := h.engine.Load(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"fresh": res.Fresh, "log": len(res.Log)}, nil

	case OpLoadPage:
		page, err := argInt(step.Args, "page", 1)
		if err != nil {
			return nil, err
		}
		size, err := argInt(step.Args, "page_size", 10)
		if err != nil {
			return nil, err
		}
		p, err := h.engine.LoadPage(ctx, page, size)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": len(p.Items), "has_more": p.HasMore}, nil

	case OpAdvanceDay:
		days, err := argInt(step.Args, "days", 1)
		if err != nil {
			return nil, err
		}
		h.clock.Advance(time.Duration(days) * 24 * time.Hour)
		return map[string]any{"today": daykey.Today(h.clock)}, nil

	case OpRollover:
		reset, err := h.tracker.Rollover(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"reset": reset}, nil

	case OpRecomputePoints:
		before, after, err := h.tracker.RecomputePoints(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"before": before, "after": after}, nil

	case OpFault:
		return nil, h.injectFault(step.Args)

	default:
		return nil, badStep("unknown op %q", step.Op)
	}
}

// injectFault installs (or with error "none", clears) a failure on one of
// the fake tracker's calls.
func (h *Harness) injectFault(args map[string]any) error {
	if h.fake == nil {
		return badStep("fault requires authenticated mode")
	}
	target, err := argString(args, "target", "")
	if err != nil {
		return err
	}
	kind, err := argString(args, "error", "network")
	if err != nil {
		return err
	}

	var fault error
	switch kind {
	case "none":
	case "network":
		fault = testutil.ErrNetwork
	case "timeout":
		fault = &remote.Error{Kind: remote.Timeout, Message: "request timed out"}
	case "unauthorized":
		fault = &remote.Error{Kind: remote.Unauthorized, Status: http.StatusUnauthorized, Message: "Please authenticate"}
	case "server":
		fault = &remote.Error{Kind: remote.Transient, Status: http.StatusInternalServerError, Message: "Internal server error"}
	case "hard":
		fault = &remote.Error{Kind: remote.Hard, Status: http.StatusBadRequest, Message: "Bad request"}
	default:
		return badStep("unknown fault %q", kind)
	}

	switch target {
	case "fetch":
		h.fake.FailFetches(fault)
	case "submit":
		if fault == nil {
			h.fake.OnSubmit = nil
		} else {
			h.fake.OnSubmit = func(context.Context, journal.Event) error { return fault }
		}
	case "remove":
		if fault == nil {
			h.fake.OnRemove = nil
		} else {
			h.fake.OnRemove = func(context.Context, journal.Event) error { return fault }
		}
	default:
		return badStep("unknown fault target %q", target)
	}
	return nil
}

func outcomeResult(out engine.Outcome) map[string]any {
	return map[string]any{
		"applied": out.Applied,
		"extra":   out.Extra,
		"points":  out.Points,
		"marks":   out.Marks,
		"log":     len(out.Log),
	}
}

// errorCode names err for the trace: the engine code when there is one,
// otherwise the remote error kind.
func errorCode(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return "REMOTE_" + strings.ToUpper(re.Kind.String())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELED"
	}
	return "ERROR"
}

func argString(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok {
		if def == "" {
			return "", badStep("argument %q is required", key)
		}
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", badStep("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

func argInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, badStep("argument %q must be an integer, got %T", key, v)
	}
}

// argEvent reads {day, item}; day defaults to today.
func argEvent(args map[string]any, today string) (journal.Event, error) {
	day, err := argString(args, "day", today)
	if err != nil {
		return journal.Event{}, err
	}
	item, err := argString(args, "item", "")
	if err != nil {
		return journal.Event{}, err
	}
	return journal.Event{DayKey: day, ItemID: item}, nil
}

func toLog(specs []EventSpec) journal.Log {
	out := make(journal.Log, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Event())
	}
	return out
}

package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/sadhana/internal/catalog"
	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/store"
)

// Profile is the user-record part of the remote API.
// Implemented by *remote.Gateway.
type Profile interface {
	Profile(ctx context.Context) (remote.Profile, error)
	UpdateDecay(ctx context.Context, decay int) error
}

// DefaultDecayDebounce is how long SetDecay waits before pushing.
const DefaultDecayDebounce = 800 * time.Millisecond

// Tracker is the home-screen orchestration on top of the engine: it pairs
// every log mutation with the points ledger and the per-day done marks, and
// owns day rollover, the decay preference and the one-time guest upload.
type Tracker struct {
	eng        *Engine
	catalog    *catalog.Catalog
	ledger     *store.Ledger
	marks      *store.Marks
	session    *store.SessionStore
	profile    Profile
	clock      daykey.Clock
	maxPerItem int
	decay      *Debouncer
	logger     *zap.Logger
}

// TrackerConfig carries the tracker's collaborators and tunables.
type TrackerConfig struct {
	Engine        *Engine
	Catalog       *catalog.Catalog
	Profile       Profile // nil in guest mode
	Clock         daykey.Clock
	MaxPerItem    int
	InitialPoints int
	DecayDebounce time.Duration
	Logger        *zap.Logger
}

// NewTracker wires a tracker over cfg.Engine's store.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = daykey.SystemClock{}
	}
	if cfg.MaxPerItem < 1 {
		cfg.MaxPerItem = journal.DefaultCap
	}
	if cfg.DecayDebounce <= 0 {
		cfg.DecayDebounce = DefaultDecayDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.New(nil)
	}

	db := cfg.Engine.Store()
	t := &Tracker{
		eng:        cfg.Engine,
		catalog:    cfg.Catalog,
		ledger:     store.NewLedger(db, store.PointsKey, cfg.InitialPoints),
		marks:      store.NewMarks(db, cfg.Clock),
		session:    store.NewSessionStore(db),
		profile:    cfg.Profile,
		clock:      cfg.Clock,
		maxPerItem: cfg.MaxPerItem,
		logger:     cfg.Logger,
	}
	t.decay = NewDebouncer(cfg.DecayDebounce, func(err error) {
		t.logger.Warn("decay push failed", zap.Error(err))
	})
	return t
}

// Outcome is the result of a tracker mutation.
type Outcome struct {
	Result
	Points int // ledger total after the operation
	Marks  int // done count for the item today after the operation
}

// ItemStatus is one row of the today view.
type ItemStatus struct {
	Item  journal.Item `json:"item"`
	Count int          `json:"count"`
	Done  bool         `json:"done"`
}

// TodayView is the home screen: today's marks and the points total.
type TodayView struct {
	DayKey string       `json:"dayKey"`
	Items  []ItemStatus `json:"items"`
	Points int          `json:"points"`
}

// Engine returns the underlying engine.
func (t *Tracker) Engine() *Engine {
	return t.eng
}

// Today returns the done marks for today and the local points total.
func (t *Tracker) Today(ctx context.Context) (TodayView, error) {
	today := daykey.Today(t.clock)
	marks, err := t.marks.Day(ctx, today)
	if err != nil {
		return TodayView{}, err
	}
	total, err := t.ledger.Total(ctx)
	if err != nil {
		return TodayView{}, err
	}

	view := TodayView{DayKey: today, Points: total, Items: []ItemStatus{}}
	for _, it := range t.catalog.Items() {
		n := marks[it.ID]
		view.Items = append(view.Items, ItemStatus{Item: it, Count: n, Done: n > 0})
	}
	return view, nil
}

// MarkDone records a completion of itemID today. It refuses with
// CAP_REACHED once the item has been marked maxPerItem times today, without
// calling the engine. Points and the done mark commit with the log write.
func (t *Tracker) MarkDone(ctx context.Context, itemID string) (Outcome, error) {
	it, ok := t.catalog.Lookup(itemID)
	if !ok {
		return Outcome{}, NewUnknownItemError(itemID)
	}
	today := daykey.Today(t.clock)
	ev := journal.Event{DayKey: today, ItemID: it.ID}

	marks, err := t.marks.Day(ctx, today)
	if err != nil {
		return Outcome{}, err
	}
	if marks[it.ID] >= t.maxPerItem {
		return Outcome{}, NewCapError(ev.Key(), t.maxPerItem)
	}

	res, err := t.eng.AddItem(ctx, ev, func(ctx context.Context, tx *store.Tx) error {
		if _, err := t.ledger.With(tx).Increment(ctx, it.Points); err != nil {
			return err
		}
		_, _, err := t.marks.With(tx).Increment(ctx, today, it.ID, t.maxPerItem)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return t.outcome(ctx, res, today, it.ID)
}

// Delete removes one occurrence of ev. Its points are reversed, floored at
// zero, and if ev is from today its done mark is lowered. Returns NOT_FOUND
// when there was nothing to remove.
func (t *Tracker) Delete(ctx context.Context, ev journal.Event) (Outcome, error) {
	today := daykey.Today(t.clock)
	points := t.catalog.Points(ev.ItemID)

	res, err := t.eng.DeleteItem(ctx, ev, func(ctx context.Context, tx *store.Tx) error {
		if _, err := t.ledger.With(tx).Decrement(ctx, points); err != nil {
			return err
		}
		if ev.DayKey != today {
			return nil
		}
		_, err := t.marks.With(tx).Decrement(ctx, today, ev.ItemID)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	if !res.Applied {
		return Outcome{}, NewNotFoundError(ev.Key())
	}
	return t.outcome(ctx, res, today, ev.ItemID)
}

// Rollover clears the done marks when the calendar day changed since the
// last reset. It reports whether a reset happened.
func (t *Tracker) Rollover(ctx context.Context) (bool, error) {
	reset, err := t.marks.Rollover(ctx)
	if err != nil {
		return false, err
	}
	if reset {
		t.logger.Info("day rollover", zap.String("day", daykey.Today(t.clock)))
	}
	return reset, nil
}

// LoadPoints returns the points total. When authenticated the remote value
// plus the value of the local extras wins and is cached locally; any remote
// failure falls back to the ledger.
func (t *Tracker) LoadPoints(ctx context.Context) (int, error) {
	if t.profile != nil {
		p, err := t.profile.Profile(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			t.logger.Warn("load points: using local total", zap.Error(err))
		case p.SadhanaPoints != nil:
			// The server only scores its own records; extras live on this
			// device and are added back.
			extras, err := t.eng.Extras(ctx)
			if err != nil {
				return 0, err
			}
			return t.ledger.Set(ctx, *p.SadhanaPoints+journal.Points(extras, t.catalog.Index()))
		}
	}
	return t.ledger.Total(ctx)
}

// Decay returns the stored decay preference, or nil when unset.
func (t *Tracker) Decay(ctx context.Context) (*int, error) {
	return t.session.Decay(ctx)
}

// SetDecay persists the decay preference locally and, when authenticated,
// schedules a debounced push of the latest value.
func (t *Tracker) SetDecay(ctx context.Context, v int) error {
	if err := t.session.SetDecay(ctx, v); err != nil {
		return err
	}
	if t.profile == nil {
		return nil
	}
	t.decay.Schedule(func(ctx context.Context) error {
		return t.profile.UpdateDecay(ctx, v)
	})
	return nil
}

// FlushDecay pushes a pending decay change immediately.
func (t *Tracker) FlushDecay(ctx context.Context) error {
	return t.decay.Flush(ctx)
}

// SyncGuest uploads the guest log once per user after sign-in. Events
// are deduplicated by (dayKey, itemId) and remote duplicates are ignored.
// On failure the guest data is kept and the user is not marked synced, so
// the next call retries.
func (t *Tracker) SyncGuest(ctx context.Context, userID string) (UploadReport, error) {
	if userID == "" {
		return UploadReport{}, fmt.Errorf("sync guest: empty user id")
	}
	done, err := t.session.GuestSynced(ctx, userID)
	if err != nil {
		return UploadReport{}, err
	}
	if done {
		return UploadReport{}, nil
	}

	guest, err := t.eng.Local(ctx)
	if err != nil {
		return UploadReport{}, err
	}
	rep, err := t.eng.Upload(ctx, journal.Dedupe(guest))
	if err != nil {
		return rep, fmt.Errorf("sync guest: %w", err)
	}
	// The remote keeps one record per pair; a second same-day completion
	// survives as an extra.
	if rep.Extras, err = t.eng.AdoptExtras(ctx, journal.Overflow(guest)); err != nil {
		return rep, fmt.Errorf("sync guest: %w", err)
	}
	if err := t.session.MarkGuestSynced(ctx, userID); err != nil {
		return rep, err
	}
	t.logger.Info("guest log uploaded",
		zap.String("user", userID), zap.Int("submitted", rep.Submitted), zap.Int("conflicts", rep.Conflicts), zap.Int("extras", rep.Extras))
	return rep, nil
}

// RecomputePoints rebuilds the ledger from the merged log and the catalog
// point values, repairing drift. It returns the totals before and after.
func (t *Tracker) RecomputePoints(ctx context.Context) (before, after int, err error) {
	res, err := t.eng.Load(ctx)
	if err != nil {
		return 0, 0, err
	}
	before, err = t.ledger.Total(ctx)
	if err != nil {
		return 0, 0, err
	}
	after, err = t.ledger.Set(ctx, journal.Points(res.Log, t.catalog.Index()))
	if err != nil {
		return 0, 0, err
	}
	if before != after {
		t.logger.Error("points drift repaired", zap.Int("before", before), zap.Int("after", after))
	}
	return before, after, nil
}

// Close discards a pending decay push. Call FlushDecay first to keep it.
func (t *Tracker) Close() {
	t.decay.Stop()
}

func (t *Tracker) outcome(ctx context.Context, res Result, today, itemID string) (Outcome, error) {
	total, err := t.ledger.Total(ctx)
	if err != nil {
		return Outcome{}, err
	}
	marks, err := t.marks.Day(ctx, today)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: res, Points: total, Marks: marks[itemID]}, nil
}

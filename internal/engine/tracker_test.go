package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/catalog"
	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/testutil"
)

func testCatalog() *catalog.Catalog {
	return catalog.New([]journal.Item{
		{ID: "yoga", Name: "Yoga", Points: 10, Active: true},
		{ID: "med", Name: "Meditation", Points: 25, Active: true},
		{ID: "retired", Name: "Retired", Points: 5, Active: false},
	})
}

type fakeProfile struct {
	mu      sync.Mutex
	profile remote.Profile
	err     error
	decays  []int
}

func (f *fakeProfile) Profile(context.Context) (remote.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, f.err
}

func (f *fakeProfile) UpdateDecay(_ context.Context, v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decays = append(f.decays, v)
	return nil
}

func (f *fakeProfile) pushed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.decays...)
}

func newGuestTracker(t *testing.T) (*Tracker, *daykey.FixedClock) {
	t.Helper()
	clock := daykey.NewFixedClockAt(day)
	s := testutil.OpenStore(t)
	eng := New(s, WithClock(clock))
	tr := NewTracker(TrackerConfig{Engine: eng, Catalog: testCatalog(), Clock: clock})
	t.Cleanup(tr.Close)
	return tr, clock
}

func newAuthTracker(t *testing.T, ft *testutil.FakeTracker, p Profile) *Tracker {
	t.Helper()
	clock := daykey.NewFixedClockAt(day)
	s := testutil.OpenStore(t)
	eng := New(s, WithRemote(ft), WithClock(clock))
	tr := NewTracker(TrackerConfig{
		Engine:        eng,
		Catalog:       testCatalog(),
		Profile:       p,
		Clock:         clock,
		DecayDebounce: time.Hour,
	})
	t.Cleanup(tr.Close)
	return tr
}

func TestTracker_MarkDoneAddsPointsAndMark(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()

	out, err := tr.MarkDone(ctx, "med")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 25, out.Points)
	assert.Equal(t, 1, out.Marks)
	assert.Equal(t, testutil.Events(day, "med"), out.Log)

	out, err = tr.MarkDone(ctx, "med")
	require.NoError(t, err)
	assert.Equal(t, 50, out.Points)
	assert.Equal(t, 2, out.Marks)
}

func TestTracker_MarkDoneCap(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := tr.MarkDone(ctx, "yoga")
		require.NoError(t, err)
	}
	_, err := tr.MarkDone(ctx, "yoga")
	require.True(t, IsCapReached(err))

	view, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, view.Points, "no points for the capped attempt")
}

func TestTracker_MarkDoneUnknownItem(t *testing.T) {
	tr, _ := newGuestTracker(t)

	_, err := tr.MarkDone(context.Background(), "retired")
	assert.True(t, IsUnknownItem(err))

	_, err = tr.MarkDone(context.Background(), "ghost")
	assert.True(t, IsUnknownItem(err))
}

func TestTracker_Today(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()
	_, err := tr.MarkDone(ctx, "yoga")
	require.NoError(t, err)

	view, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, day, view.DayKey)
	assert.Equal(t, 10, view.Points)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "yoga", view.Items[0].Item.ID)
	assert.True(t, view.Items[0].Done)
	assert.Equal(t, 1, view.Items[0].Count)
	assert.False(t, view.Items[1].Done)
}

func TestTracker_DeleteToday(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()
	_, err := tr.MarkDone(ctx, "med")
	require.NoError(t, err)

	out, err := tr.Delete(ctx, ev(day, "med"))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Points)
	assert.Equal(t, 0, out.Marks)
	assert.Empty(t, out.Log)
}

func TestTracker_DeletePastDayKeepsMarks(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()
	_, err := tr.MarkDone(ctx, "med")
	require.NoError(t, err)
	require.NoError(t, tr.eng.local.Write(ctx, testutil.Events(day, "med", "2024-02-01", "med")))
	_, err = tr.ledger.Set(ctx, 50)
	require.NoError(t, err)

	out, err := tr.Delete(ctx, ev("2024-02-01", "med"))
	require.NoError(t, err)
	assert.Equal(t, 25, out.Points)
	assert.Equal(t, 1, out.Marks, "today's mark untouched")
}

func TestTracker_DeleteFloorsAtZero(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.eng.local.Write(ctx, testutil.Events("2024-02-01", "med")))

	out, err := tr.Delete(ctx, ev("2024-02-01", "med"))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Points)
}

func TestTracker_DeleteDeactivatedItemReversesPoints(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.eng.local.Write(ctx, testutil.Events("2024-02-01", "retired", "2024-02-01", "med")))
	_, err := tr.ledger.Set(ctx, 30)
	require.NoError(t, err)

	out, err := tr.Delete(ctx, ev("2024-02-01", "retired"))
	require.NoError(t, err)
	assert.Equal(t, 25, out.Points)
}

func TestTracker_DeleteNothing(t *testing.T) {
	tr, _ := newGuestTracker(t)

	_, err := tr.Delete(context.Background(), ev(day, "yoga"))
	assert.True(t, IsNotFound(err))
}

func TestTracker_Rollover(t *testing.T) {
	tr, clock := newGuestTracker(t)
	ctx := context.Background()

	reset, err := tr.Rollover(ctx)
	require.NoError(t, err)
	assert.True(t, reset, "first run records the day")

	_, err = tr.MarkDone(ctx, "yoga")
	require.NoError(t, err)

	reset, err = tr.Rollover(ctx)
	require.NoError(t, err)
	assert.False(t, reset, "same day")

	clock.Advance(24 * time.Hour)
	reset, err = tr.Rollover(ctx)
	require.NoError(t, err)
	assert.True(t, reset)

	view, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.False(t, view.Items[0].Done)
	assert.Equal(t, 10, view.Points, "points survive rollover")
}

func TestTracker_AuthDuplicateStillScores(t *testing.T) {
	ft := testutil.NewFakeTracker()
	tr := newAuthTracker(t, ft, nil)
	ctx := context.Background()

	_, err := tr.MarkDone(ctx, "med")
	require.NoError(t, err)
	out, err := tr.MarkDone(ctx, "med")
	require.NoError(t, err)
	assert.True(t, out.Extra)
	assert.Equal(t, 50, out.Points)
	assert.Equal(t, 2, out.Marks)
}

func TestTracker_AuthHardFailureLeavesPoints(t *testing.T) {
	ft := testutil.NewFakeTracker()
	ft.OnSubmit = func(context.Context, journal.Event) error {
		return &remote.Error{Kind: remote.Hard, Status: 500, Message: "boom"}
	}
	tr := newAuthTracker(t, ft, nil)
	ctx := context.Background()

	_, err := tr.MarkDone(ctx, "med")
	require.Error(t, err)

	view, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Points)
	assert.False(t, view.Items[1].Done)
}

func TestTracker_LoadPoints(t *testing.T) {
	remotePoints := 420
	p := &fakeProfile{profile: remote.Profile{ID: "u1", SadhanaPoints: &remotePoints}}
	tr := newAuthTracker(t, testutil.NewFakeTracker(), p)
	ctx := context.Background()

	got, err := tr.LoadPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 420, got)

	p.mu.Lock()
	p.err = testutil.ErrNetwork
	p.mu.Unlock()
	got, err = tr.LoadPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 420, got, "falls back to the cached total")
}

func TestTracker_LoadPointsKeepsExtras(t *testing.T) {
	ft := testutil.NewFakeTracker()
	p := &fakeProfile{}
	tr := newAuthTracker(t, ft, p)
	ctx := context.Background()

	_, err := tr.MarkDone(ctx, "yoga")
	require.NoError(t, err)
	out, err := tr.MarkDone(ctx, "yoga")
	require.NoError(t, err)
	require.True(t, out.Extra)
	assert.Equal(t, 20, out.Points)

	serverPoints := 10
	p.mu.Lock()
	p.profile = remote.Profile{ID: "u1", SadhanaPoints: &serverPoints}
	p.mu.Unlock()

	got, err := tr.LoadPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, got, "server total plus the extra copy")

	view, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, view.Points)
}

func TestTracker_LoadPointsGuest(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()
	_, err := tr.MarkDone(ctx, "yoga")
	require.NoError(t, err)

	got, err := tr.LoadPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestTracker_SetDecayDebounced(t *testing.T) {
	p := &fakeProfile{}
	tr := newAuthTracker(t, testutil.NewFakeTracker(), p)
	ctx := context.Background()

	require.NoError(t, tr.SetDecay(ctx, 1))
	require.NoError(t, tr.SetDecay(ctx, 2))
	require.NoError(t, tr.SetDecay(ctx, 3))
	assert.Empty(t, p.pushed(), "nothing pushed before the debounce")

	stored, err := tr.Decay(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 3, *stored)

	require.NoError(t, tr.FlushDecay(ctx))
	assert.Equal(t, []int{3}, p.pushed())
}

func TestTracker_SetDecayGuestIsLocalOnly(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.SetDecay(ctx, 5))
	require.NoError(t, tr.FlushDecay(ctx))

	stored, err := tr.Decay(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 5, *stored)
}

func TestTracker_SyncGuestOncePerUser(t *testing.T) {
	clock := daykey.NewFixedClockAt(day)
	s := testutil.OpenStore(t)
	guestLog := store.NewLogStore(s, store.DefaultLogKey, clock)
	require.NoError(t, guestLog.Write(context.Background(),
		testutil.Events(day, "yoga", day, "yoga", "2024-02-04", "med")))

	ft := testutil.NewFakeTracker(ev("2024-02-04", "med"))
	tr := NewTracker(TrackerConfig{
		Engine:  New(s, WithRemote(ft), WithClock(clock)),
		Catalog: testCatalog(),
		Clock:   clock,
	})
	defer tr.Close()
	ctx := context.Background()

	rep, err := tr.SyncGuest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, UploadReport{Submitted: 1, Conflicts: 1, Extras: 1}, rep)
	assert.Equal(t, testutil.Events(day, "yoga", "2024-02-04", "med"), ft.Records())

	rep, err = tr.SyncGuest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, UploadReport{}, rep, "already synced")
	assert.Equal(t, 2, ft.Calls(testutil.CallSubmit))

	_, err = tr.SyncGuest(ctx, "")
	assert.Error(t, err)
}

func TestTracker_SyncGuestKeepsSameDayRepeat(t *testing.T) {
	clock := daykey.NewFixedClockAt(day)
	s := testutil.OpenStore(t)
	require.NoError(t, store.NewLogStore(s, store.DefaultLogKey, clock).
		Write(context.Background(), testutil.Events(day, "yoga", day, "yoga")))

	ft := testutil.NewFakeTracker()
	eng := New(s, WithRemote(ft), WithClock(clock))
	tr := NewTracker(TrackerConfig{Engine: eng, Catalog: testCatalog(), Clock: clock})
	defer tr.Close()
	ctx := context.Background()

	rep, err := tr.SyncGuest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, UploadReport{Submitted: 1, Extras: 1}, rep)
	assert.Equal(t, testutil.Events(day, "yoga"), ft.Records())

	res, err := eng.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count(res.Log, day, "yoga"), "the repeat survives as an extra")
}

func TestTracker_SyncGuestRetriesAfterFailure(t *testing.T) {
	clock := daykey.NewFixedClockAt(day)
	s := testutil.OpenStore(t)
	require.NoError(t, store.NewLogStore(s, store.DefaultLogKey, clock).
		Write(context.Background(), testutil.Events(day, "yoga")))

	ft := testutil.NewFakeTracker()
	fail := true
	ft.OnSubmit = func(context.Context, journal.Event) error {
		if fail {
			return testutil.ErrNetwork
		}
		return nil
	}
	tr := NewTracker(TrackerConfig{Engine: New(s, WithRemote(ft), WithClock(clock)), Clock: clock})
	defer tr.Close()
	ctx := context.Background()

	_, err := tr.SyncGuest(ctx, "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, testutil.ErrNetwork))

	fail = false
	rep, err := tr.SyncGuest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Submitted)
}

func TestTracker_RecomputePoints(t *testing.T) {
	tr, _ := newGuestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.eng.local.Write(ctx,
		testutil.Events(day, "yoga", day, "med", "2024-02-01", "med", "2024-02-01", "retired")))
	_, err := tr.ledger.Set(ctx, 7)
	require.NoError(t, err)

	before, after, err := tr.RecomputePoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, before)
	assert.Equal(t, 65, after, "deactivated items keep their value")

	total, err := tr.LoadPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 65, total)
}

package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/testutil"
)

func TestJourney_InfiniteScroll(t *testing.T) {
	e, _ := newGuest(t)
	full := makeLog(25)
	seedLocal(t, e, full)
	j := NewJourney(e, nil)
	ctx := context.Background()

	snap, err := j.Load(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, full[:10], snap.Items)
	assert.True(t, snap.HasMore)
	assert.Equal(t, 1, snap.Page)

	snap, err = j.LoadNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, full[:20], snap.Items)
	assert.Equal(t, 2, snap.Page)

	snap, err = j.LoadNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, full, snap.Items)
	assert.False(t, snap.HasMore)

	snap, err = j.LoadNext(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 25, "no more pages is a no-op")
	assert.Equal(t, 3, snap.Page)
}

func TestJourney_ReusesCachedSnapshot(t *testing.T) {
	ft := testutil.NewFakeTracker(makeLog(15)...)
	e, _ := newAuth(t, ft)
	cache := NewMemorySnapshotCache(0, nil)
	ctx := context.Background()

	first := NewJourney(e, cache)
	_, err := first.Load(ctx, false)
	require.NoError(t, err)
	_, err = first.LoadNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ft.Calls(testutil.CallFetchPage))

	second := NewJourney(e, cache)
	snap, err := second.Load(ctx, false)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 15, "both pages restored")
	assert.False(t, snap.HasMore)
	assert.Equal(t, 2, ft.Calls(testutil.CallFetchPage), "no refetch")

	snap, err = second.Load(ctx, true)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 10, "force reloads the first page")
	assert.Equal(t, 3, ft.Calls(testutil.CallFetchPage))
}

func TestJourney_Invalidate(t *testing.T) {
	ft := testutil.NewFakeTracker(makeLog(3)...)
	e, _ := newAuth(t, ft)
	cache := NewMemorySnapshotCache(0, nil)
	ctx := context.Background()

	j := NewJourney(e, cache)
	_, err := j.Load(ctx, false)
	require.NoError(t, err)
	require.NoError(t, j.Invalidate(ctx))

	_, err = NewJourney(e, cache).Load(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, ft.Calls(testutil.CallFetchPage))
}

func TestJourney_AddResetsToFirstPage(t *testing.T) {
	e, _ := newGuest(t)
	seedLocal(t, e, makeLog(25))
	j := NewJourney(e, nil, WithPageSize(5))
	ctx := context.Background()

	_, err := j.Load(ctx, false)
	require.NoError(t, err)
	_, err = j.LoadNext(ctx)
	require.NoError(t, err)

	newest := ev("2024-03-01", "yoga")
	snap, res, err := j.Add(ctx, newest)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Len(t, res.Log, 26)
	assert.Len(t, snap.Items, 5)
	assert.Equal(t, newest, snap.Items[0])
	assert.Equal(t, 1, snap.Page)
	assert.True(t, snap.HasMore)

	snap, res, err = j.Delete(ctx, newest)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.NotEqual(t, newest, snap.Items[0])
}

func TestJourney_AddErrorKeepsView(t *testing.T) {
	e, _ := newGuest(t)
	seedLocal(t, e, makeLog(3))
	j := NewJourney(e, nil)
	ctx := context.Background()

	before, err := j.Load(ctx, false)
	require.NoError(t, err)

	snap, _, err := j.Add(ctx, ev("bad", "yoga"))
	assert.True(t, IsInvalidEvent(err))
	assert.Equal(t, before.Items, snap.Items)
}

func TestJourney_OverlappingLoadIsNoop(t *testing.T) {
	ft := testutil.NewFakeTracker(makeLog(3)...)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ft.OnFetch = func(context.Context) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}
	e, _ := newAuth(t, ft)
	j := NewJourney(e, nil)
	ctx := context.Background()

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := j.Load(ctx, true)
		done <- snap
	}()
	<-entered

	snap, err := j.Load(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, snap.Items, "second load returns the current view")

	snap, err = j.LoadNext(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)

	close(release)
	assert.Len(t, (<-done).Items, 3)
	assert.Equal(t, 1, ft.Calls(testutil.CallFetchPage))
}

func TestJourney_DefaultKeySeparatesModes(t *testing.T) {
	cache := NewMemorySnapshotCache(0, nil)
	ctx := context.Background()

	guest, _ := newGuest(t)
	seedLocal(t, guest, testutil.Events(day, "guest-only"))
	_, err := NewJourney(guest, cache).Load(ctx, false)
	require.NoError(t, err)

	ft := testutil.NewFakeTracker(ev(day, "remote-only"))
	auth, _ := newAuth(t, ft)
	snap, err := NewJourney(auth, cache).Load(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, journal.Log{ev(day, "remote-only")}, snap.Items)
}

package trackerd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/engine"
	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/testutil"
)

var testSecret = []byte("test-secret")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	srv *Server
	ts  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "trackerd.db"), false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	srv, err := New(db, testSecret)
	require.NoError(t, err)
	require.NoError(t, srv.Repo().SeedCatalog(context.Background(), []journal.Item{
		{ID: "yoga", Name: "Yoga", Points: 10, Active: true},
		{ID: "med", Name: "<b>Meditation</b>", Points: 25, Active: true},
		{ID: "retired", Name: "Retired", Points: 5, Active: false},
	}))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts}
}

func (f *fixture) gateway(t *testing.T, userID string, opts ...remote.Option) *remote.Gateway {
	t.Helper()
	token, _, err := IssueToken(testSecret, userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return remote.New(f.ts.URL, token, opts...)
}

func ev(d, item string) journal.Event {
	return journal.Event{DayKey: d, ItemID: item}
}

// =============================================================================
// Auth
// =============================================================================

func TestIssueAndParseToken(t *testing.T) {
	token, sub, err := IssueToken(testSecret, "u1", "a@example.com", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)

	_, err = ParseToken([]byte("other"), token)
	assert.Error(t, err)
}

func TestIssueToken_GeneratesSubject(t *testing.T) {
	_, sub, err := IssueToken(testSecret, "", "", time.Hour)
	require.NoError(t, err)
	assert.Len(t, sub, 36)

	_, _, err = IssueToken(nil, "u1", "", time.Hour)
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	token, _, err := IssueToken(testSecret, "u1", "", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, token)
	assert.Error(t, err)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + remote.CatalogPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	gw := remote.New(f.ts.URL, "not-a-jwt")
	_, err = gw.FetchAll(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsUnauthorized(err))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// Tracker endpoints through the gateway
// =============================================================================

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	items, err := f.gateway(t, "u1").Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "yoga", items[0].ID)
	assert.Equal(t, "Meditation", items[1].Name, "markup stripped on seed")
	assert.False(t, items[2].Active)
}

func TestSubmitFetchRemove(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, "u1")
	ctx := context.Background()

	require.NoError(t, gw.Submit(ctx, ev("2024-02-05", "yoga")))
	require.NoError(t, gw.Submit(ctx, ev("2024-02-05", "med")))
	require.NoError(t, gw.Submit(ctx, ev("2024-02-04", "yoga")))

	all, err := gw.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Events("2024-02-05", "yoga", "2024-02-05", "med", "2024-02-04", "yoga"), all)

	require.NoError(t, gw.Remove(ctx, ev("2024-02-05", "yoga")))
	all, err = gw.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Events("2024-02-05", "med", "2024-02-04", "yoga"), all)

	err = gw.Remove(ctx, ev("2024-02-05", "yoga"))
	require.Error(t, err)
	assert.False(t, remote.IsConflict(err))
}

func TestDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, "u1")
	ctx := context.Background()

	require.NoError(t, gw.Submit(ctx, ev("2024-02-05", "med")))
	err := gw.Submit(ctx, ev("2024-02-05", "med"))
	require.Error(t, err)
	assert.True(t, remote.IsConflict(err))

	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.Status)
	assert.Equal(t, "Sadana already opted", re.Message)
}

func TestSubmitUnknownOrInactiveItem(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, "u1")
	ctx := context.Background()

	for _, id := range []string{"ghost", "retired"} {
		err := gw.Submit(ctx, ev("2024-02-05", id))
		require.Error(t, err, id)
		assert.False(t, remote.IsConflict(err), id)
		assert.False(t, remote.IsTransient(err), id)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.gateway(t, "u1").Submit(ctx, ev("2024-02-05", "yoga")))
	require.NoError(t, f.gateway(t, "u2").Submit(ctx, ev("2024-02-05", "yoga")), "no conflict across users")

	all, err := f.gateway(t, "u2").FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPaginationCountsDays(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, "u1", remote.WithFetchLimit(5), remote.WithConcurrency(2))
	ctx := context.Background()

	base, err := daykey.Parse("2024-02-20")
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		require.NoError(t, gw.Submit(ctx, ev(daykey.Key(base.AddDate(0, 0, -i)), "yoga")))
	}
	require.NoError(t, gw.Submit(ctx, ev("2024-02-20", "med")))

	p1, err := gw.FetchPage(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, p1.TotalPages)
	assert.Len(t, p1.Items, 6, "five days, one with two entries")
	assert.Equal(t, "2024-02-20", p1.Items[0].DayKey)

	p3, err := gw.FetchPage(ctx, 3, 5)
	require.NoError(t, err)
	assert.Len(t, p3.Items, 2)

	all, err := gw.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 13)
	assert.Equal(t, journal.Sorted(all), all)
}

func TestProfilePointsAndDecay(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, "u1")
	ctx := context.Background()

	p, err := gw.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	require.NotNil(t, p.SadhanaPoints)
	assert.Equal(t, 0, *p.SadhanaPoints)
	assert.Nil(t, p.DecayPoints)

	require.NoError(t, gw.Submit(ctx, ev("2024-02-05", "yoga")))
	require.NoError(t, gw.Submit(ctx, ev("2024-02-05", "med")))
	require.NoError(t, gw.Remove(ctx, ev("2024-02-05", "yoga")))
	require.NoError(t, gw.UpdateDecay(ctx, 3))

	p, err = gw.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, *p.SadhanaPoints)
	require.NotNil(t, p.DecayPoints)
	assert.Equal(t, 3, *p.DecayPoints)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	token, _, err := IssueToken(testSecret, "u1", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, remote.TrackerPath, `{"dayKey":"5 Feb","itemId":"yoga"}`},
		{http.MethodPost, remote.TrackerPath, `{"itemId":"yoga"}`},
		{http.MethodPost, remote.TrackerPath, `not json`},
		{http.MethodPatch, remote.UserPath, `{}`},
		{http.MethodPatch, remote.UserPath, `{"decayPoints":-1}`},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.body), func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			f.srv.Router().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"message"`)
		})
	}
}

// =============================================================================
// Engine against the real tracker
// =============================================================================

func TestEngineDoubleCompletionBecomesExtra(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, "u1")
	eng := engine.New(testutil.OpenStore(t),
		engine.WithRemote(gw),
		engine.WithClock(daykey.NewFixedClockAt("2024-02-05")))
	ctx := context.Background()

	r1, err := eng.AddItem(ctx, ev("2024-02-05", "med"))
	require.NoError(t, err)
	assert.False(t, r1.Extra)

	r2, err := eng.AddItem(ctx, ev("2024-02-05", "med"))
	require.NoError(t, err)
	assert.True(t, r2.Extra)
	assert.True(t, r2.Fresh)
	assert.Equal(t, testutil.Events("2024-02-05", "med", "2024-02-05", "med"), r2.Log)

	r3, err := eng.AddItem(ctx, ev("2024-02-05", "med"))
	require.NoError(t, err)
	assert.False(t, r3.Applied)

	remoteLog, err := gw.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, remoteLog, 1)

	r4, err := eng.DeleteItem(ctx, ev("2024-02-05", "med"))
	require.NoError(t, err)
	assert.True(t, r4.Extra, "extras consumed first")
	remoteLog, err = gw.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, remoteLog, 1)

	r5, err := eng.DeleteItem(ctx, ev("2024-02-05", "med"))
	require.NoError(t, err)
	assert.False(t, r5.Extra)
	assert.Empty(t, r5.Log)
}

func TestEngineOfflineFallback(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, "u1", remote.WithTimeout(2*time.Second))
	eng := engine.New(testutil.OpenStore(t), engine.WithRemote(gw))
	ctx := context.Background()

	_, err := eng.AddItem(ctx, ev("2024-02-05", "yoga"))
	require.NoError(t, err)
	f.ts.Close()

	res, err := eng.Load(ctx)
	require.NoError(t, err)
	assert.False(t, res.Fresh)
	assert.Equal(t, testutil.Events("2024-02-05", "yoga"), res.Log)

	_, err = eng.AddItem(ctx, ev("2024-02-05", "med"))
	require.Error(t, err)
	assert.True(t, remote.IsTransient(err))
}

package cli

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/trackerd"
)

// startTracker runs a reference server with the yoga/med catalog.
func startTracker(t *testing.T) (*httptest.Server, *trackerd.Repo) {
	t.Helper()
	db, err := trackerd.OpenDB(filepath.Join(t.TempDir(), "trackerd.db"), false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	srv, err := trackerd.New(db, []byte(testSecret))
	require.NoError(t, err)
	require.NoError(t, srv.Repo().SeedCatalog(context.Background(), []journal.Item{
		{ID: "yoga", Name: "Yoga", Points: 10, Active: true},
		{ID: "med", Name: "Meditation", Points: 25, Active: true},
	}))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv.Repo()
}

func TestLoginUploadsGuestLogAndSyncs(t *testing.T) {
	ts, repo := startTracker(t)
	env := newTestEnv(t, "api_url: "+ts.URL)
	env.importPractices(t)

	require.Equal(t, ExitSuccess, env.run(t, "done", "yoga").code)

	var tok tokenView
	code, resp := env.runJSON(t, "token", "--user-id", "u1", "--email", "u1@example.com")
	require.Equal(t, ExitSuccess, code)
	resp.decode(t, &tok)

	var sv sessionView
	code, resp = env.runJSON(t, "login", "--token", tok.Token)
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	resp.decode(t, &sv)
	assert.True(t, sv.LoggedIn)
	assert.Equal(t, "u1", sv.UserID)
	assert.Equal(t, "authenticated", sv.Mode)
	assert.Equal(t, 1, sv.Submitted)
	assert.Empty(t, sv.SyncError)

	var mv mutationView
	code, resp = env.runJSON(t, "done", "med")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	resp.decode(t, &mv)
	assert.True(t, mv.Applied)
	assert.False(t, mv.Extra)

	code, resp = env.runJSON(t, "done", "med")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	resp.decode(t, &mv)
	assert.True(t, mv.Extra)

	var lv logView
	code, resp = env.runJSON(t, "log", "--all")
	require.Equal(t, ExitSuccess, code)
	resp.decode(t, &lv)
	assert.Equal(t, "authenticated", lv.Mode)
	assert.Len(t, lv.Events, 3)

	var pv pointsView
	code, resp = env.runJSON(t, "points")
	require.Equal(t, ExitSuccess, code)
	resp.decode(t, &pv)
	assert.Equal(t, 60, pv.Points, "server total plus the extra med")

	code, resp = env.runJSON(t, "sync-guest")
	require.Equal(t, ExitSuccess, code)
	resp.decode(t, &sv)
	assert.Equal(t, 0, sv.Submitted)

	var dv decayView
	code, resp = env.runJSON(t, "decay", "7")
	require.Equal(t, ExitSuccess, code)
	resp.decode(t, &dv)
	assert.True(t, dv.Pushed)

	u, err := repo.User(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, u.DecayPoints)
	assert.Equal(t, 7, *u.DecayPoints)
	assert.Equal(t, 35, u.SadhanaPoints)

	r := env.run(t, "logout")
	require.Equal(t, ExitSuccess, r.code)
	assert.Equal(t, "signed out (guest mode)\n", r.stdout)

	code, resp = env.runJSON(t, "today")
	require.Equal(t, ExitSuccess, code)
	var tv todayView
	resp.decode(t, &tv)
	assert.Equal(t, "guest", tv.Mode)
}

func TestLoginRejectedToken(t *testing.T) {
	ts, _ := startTracker(t)
	env := newTestEnv(t, "api_url: "+ts.URL)

	code, resp := env.runJSON(t, "login", "--token", "not-a-jwt", "--user-id", "u1")
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "REMOTE_UNAUTHORIZED", resp.Error.Code)

	r := env.run(t, "sync-guest")
	assert.Equal(t, ExitCommandError, r.code, "rejected session is not kept")
}

func TestCatalogRefreshFromTracker(t *testing.T) {
	ts, _ := startTracker(t)
	env := newTestEnv(t, "api_url: "+ts.URL)

	var tok tokenView
	code, resp := env.runJSON(t, "token", "--user-id", "u2")
	require.Equal(t, ExitSuccess, code)
	resp.decode(t, &tok)
	require.Equal(t, ExitSuccess, env.run(t, "login", "--token", tok.Token).code)

	var cv catalogView
	code, resp = env.runJSON(t, "catalog", "--refresh")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	resp.decode(t, &cv)
	assert.Equal(t, "remote", cv.Source)
	require.Len(t, cv.Items, 2)
	ids := []string{cv.Items[0].ID, cv.Items[1].ID}
	assert.ElementsMatch(t, []string{"yoga", "med"}, ids)
}

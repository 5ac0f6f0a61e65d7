package store

import (
	"context"
	"fmt"
	"strconv"
)

// Session keys, kept compatible with the app's on-device layout.
const (
	keyAccessToken = "access_token"
	keyIsLoggedIn  = "is_logged_in"
	keyUserID      = "user_id"
	keyUserEmail   = "user_email"
	keyDecayPoints = "decay_points"
)

// Session is the persisted authentication state and user preferences.
type Session struct {
	AccessToken string
	LoggedIn    bool
	UserID      string
	Email       string
	DecayPoints *int
}

// SessionStore persists the session and per-user sync flags.
type SessionStore struct {
	kv KV
}

// NewSessionStore binds session keys to kv.
func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv}
}

// Load returns the stored session. A missing session is a zero Session.
func (s *SessionStore) Load(ctx context.Context) (Session, error) {
	var sess Session
	var err error
	if sess.AccessToken, _, err = s.kv.Get(ctx, keyAccessToken); err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	flag, _, err := s.kv.Get(ctx, keyIsLoggedIn)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	sess.LoggedIn = flag == "true" && sess.AccessToken != ""
	if sess.UserID, _, err = s.kv.Get(ctx, keyUserID); err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Email, _, err = s.kv.Get(ctx, keyUserEmail); err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	decay, err := s.Decay(ctx)
	if err != nil {
		return Session{}, err
	}
	sess.DecayPoints = decay
	return sess, nil
}

// Save writes every session field.
func (s *SessionStore) Save(ctx context.Context, sess Session) error {
	pairs := [][2]string{
		{keyAccessToken, sess.AccessToken},
		{keyIsLoggedIn, strconv.FormatBool(sess.LoggedIn)},
		{keyUserID, sess.UserID},
		{keyUserEmail, sess.Email},
	}
	for _, p := range pairs {
		if err := s.kv.Set(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	if sess.DecayPoints != nil {
		return s.SetDecay(ctx, *sess.DecayPoints)
	}
	return nil
}

// Clear removes the session and the decay preference.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, keyAccessToken, keyIsLoggedIn, keyUserID, keyUserEmail, keyDecayPoints); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Decay returns the stored decay preference, or nil when unset.
func (s *SessionStore) Decay(ctx context.Context) (*int, error) {
	raw, ok, err := s.kv.Get(ctx, keyDecayPoints)
	if err != nil {
		return nil, fmt.Errorf("load decay: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, nil
	}
	return &n, nil
}

// SetDecay stores the decay preference.
func (s *SessionStore) SetDecay(ctx context.Context, v int) error {
	if err := s.kv.Set(ctx, keyDecayPoints, strconv.Itoa(v)); err != nil {
		return fmt.Errorf("save decay: %w", err)
	}
	return nil
}

// GuestSynced reports whether guest data was already uploaded for userID.
func (s *SessionStore) GuestSynced(ctx context.Context, userID string) (bool, error) {
	v, _, err := s.kv.Get(ctx, fmt.Sprintf(guestSyncedFmt, userID))
	if err != nil {
		return false, fmt.Errorf("guest synced: %w", err)
	}
	return v == "1", nil
}

// MarkGuestSynced records that guest data was uploaded for userID.
func (s *SessionStore) MarkGuestSynced(ctx context.Context, userID string) error {
	if err := s.kv.Set(ctx, fmt.Sprintf(guestSyncedFmt, userID), "1"); err != nil {
		return fmt.Errorf("mark guest synced: %w", err)
	}
	return nil
}

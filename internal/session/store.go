// Package session owns the authentication session: the single mutable copy,
// its persisted mirror, and the refresh lifecycle.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/collectkit/amazon-collector/internal/backend"
	"github.com/collectkit/amazon-collector/internal/models"
	"github.com/collectkit/amazon-collector/internal/state"
)

// RefreshThreshold is how far before expiry the store refreshes proactively.
const RefreshThreshold = 300 * time.Second

// Store holds the current session. All mutation goes through it; nothing else
// writes the persisted copy.
type Store struct {
	auth   *backend.AuthClient
	state  state.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	current  *models.Session
	inflight *refreshCall
}

// refreshCall lets concurrent 401 handlers share one refresh round trip.
type refreshCall struct {
	done chan struct{}
	err  error
}

func NewStore(auth *backend.AuthClient, st state.Store, logger *slog.Logger) *Store {
	return &Store{
		auth:   auth,
		state:  st,
		logger: logger.With("component", "session_store"),
		now:    time.Now,
	}
}

// Load restores the persisted session at process start. An expired-but-
// refreshable session is refreshed; one that cannot be refreshed is cleared
// and the store stays logged out.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.state.Get(ctx, state.KeySession)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("persisted session unreadable, discarding", "error", err)
		s.state.Delete(ctx, state.KeySession)
		return nil
	}
	if sess.AccessToken == "" {
		return nil
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	if sess.IsExpiringSoon(s.now(), RefreshThreshold) {
		if err := s.Refresh(ctx); err != nil {
			s.logger.Info("saved session could not be refreshed", "error", err)
			return nil
		}
	}

	email := ""
	if sess.User != nil {
		email = sess.User.Email
	}
	s.logger.Info("session restored", "email", email)
	return nil
}

// Login authenticates and makes the resulting session current.
func (s *Store) Login(ctx context.Context, email, password string) (*models.User, error) {
	sess, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.setSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess.User, nil
}

// Register creates the account and then logs in with the same credentials.
func (s *Store) Register(ctx context.Context, email, password string) (*models.User, error) {
	if _, err := s.auth.SignUp(ctx, email, password); err != nil {
		return nil, err
	}
	return s.Login(ctx, email, password)
}

// Refresh exchanges the stored refresh token for new tokens. Concurrent
// callers share a single in-flight exchange. On failure the session is
// cleared, locally and in storage, forcing a fresh login.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight != nil {
		call := s.inflight
		s.mu.Unlock()
		<-call.done
		return call.err
	}

	if s.current == nil || s.current.RefreshToken == "" {
		hadSession := s.current != nil
		s.mu.Unlock()
		if hadSession {
			// A session without a refresh token cannot outlive its access
			// token; a failed refresh always forces a fresh login.
			s.logger.Warn("no refresh token held, clearing session")
			s.clear(ctx)
		}
		return backend.AuthError{Err: fmt.Errorf("no refresh token available")}
	}

	call := &refreshCall{done: make(chan struct{})}
	s.inflight = call
	refreshToken := s.current.RefreshToken
	prevUser := s.current.User
	s.mu.Unlock()

	sess, err := s.auth.RefreshSession(ctx, refreshToken)
	if err == nil && sess.User == nil {
		// The refresh grant may omit the user object; keep the one we know.
		sess.User = prevUser
	}
	if err == nil {
		err = s.setSession(ctx, sess)
	}
	if err != nil {
		s.logger.Warn("token refresh failed, clearing session", "error", err)
		s.clear(ctx)
	} else {
		s.logger.Info("token refreshed")
	}

	s.mu.Lock()
	call.err = err
	s.inflight = nil
	s.mu.Unlock()
	close(call.done)
	return err
}

// Logout revokes the session server side (best effort) and always clears the
// local session and any persisted in-progress collection state.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	token := ""
	if s.current != nil {
		token = s.current.AccessToken
	}
	s.mu.Unlock()

	if token != "" {
		if err := s.auth.SignOut(ctx, token); err != nil {
			s.logger.Warn("server-side logout failed", "error", err)
		}
	}

	s.clear(ctx)
	s.state.Delete(ctx, state.KeyCollectionState)
	s.logger.Info("logged out")
}

// Invalidate drops the session without a server round trip. The backend
// client calls it when a request comes back token-expired.
func (s *Store) Invalidate(ctx context.Context) {
	s.clear(ctx)
}

// Current returns a copy of the session, or nil when logged out.
func (s *Store) Current() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	copy := *s.current
	return &copy
}

// IsLoggedIn reports whether a session is held, expired or not.
func (s *Store) IsLoggedIn() bool {
	return s.Current() != nil
}

// IsExpired reports whether the held session is past its expiry.
func (s *Store) IsExpired() bool {
	return s.Current().IsExpired(s.now())
}

// IsExpiringSoon reports whether the held session is within the proactive
// refresh window.
func (s *Store) IsExpiringSoon() bool {
	return s.Current().IsExpiringSoon(s.now(), RefreshThreshold)
}

// AccessToken implements backend.TokenProvider.
func (s *Store) AccessToken() string {
	if sess := s.Current(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

// UserID implements backend.TokenProvider.
func (s *Store) UserID() string {
	return s.Current().UserID()
}

func (s *Store) setSession(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.state.Set(ctx, state.KeySession, data); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	return nil
}

func (s *Store) clear(ctx context.Context) {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if err := s.state.Delete(ctx, state.KeySession); err != nil {
		s.logger.Warn("failed to clear persisted session", "error", err)
	}
}

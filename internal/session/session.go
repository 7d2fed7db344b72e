// Package session ties login state to the chat socket: one Connection
// Manager per logged-in user, created at login and torn down at logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/chat-client/internal/api"
	"github.com/rickgao/chat-client/internal/connection"
	"github.com/rickgao/chat-client/internal/store"
)

var (
	// ErrNotLoggedIn is returned when no session is active or stored.
	ErrNotLoggedIn = errors.New("session: not logged in")

	// ErrTokenExpired is returned by Resume when the stored token has expired.
	ErrTokenExpired = errors.New("session: stored token expired")
)

// Authenticator is the subset of *api.Client used by Session.
type Authenticator interface {
	Login(ctx context.Context, name, password string) (*api.LoginResult, error)
	SetToken(token string)
}

// Session owns the credentials and the Connection Manager of the logged-in user.
type Session struct {
	auth   Authenticator
	store  store.Store
	cfg    connection.ManagerConfig
	logger *slog.Logger
	opts   []connection.Option
	now    func() time.Time

	mu      sync.Mutex
	manager *connection.Manager
	user    store.UserInfo
}

// New creates a Session. opts are passed to every Manager it creates.
func New(auth Authenticator, st store.Store, cfg connection.ManagerConfig, logger *slog.Logger, opts ...connection.Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		auth:   auth,
		store:  st,
		cfg:    cfg,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Login authenticates, saves the session to the store and opens the socket.
// Any previous session is logged out first.
func (s *Session) Login(ctx context.Context, name, password string) (*connection.Manager, error) {
	res, err := s.auth.Login(ctx, name, password)
	if err != nil {
		return nil, err
	}

	sess := store.Session{
		User: store.UserInfo{
			ID:       res.User.ID,
			Name:     res.User.Name,
			Nickname: res.User.Nickname,
			Avatar:   res.User.Avatar,
		},
		Token:       res.Token,
		TokenExpire: res.ExpiresAt(),
	}
	if err := store.SaveSession(ctx, s.store, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("logged in", "user_id", sess.User.ID, "name", sess.User.Name)
	return s.start(ctx, sess)
}

// Resume reconnects with the session saved by an earlier Login.
func (s *Session) Resume(ctx context.Context) (*connection.Manager, error) {
	sess, err := store.LoadSession(ctx, s.store)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Token == "" || sess.User.ID == 0 {
		return nil, ErrNotLoggedIn
	}
	if sess.Expired(s.now()) {
		return nil, ErrTokenExpired
	}

	s.auth.SetToken(sess.Token)
	s.logger.Info("resuming session", "user_id", sess.User.ID)
	return s.start(ctx, sess)
}

// start replaces any running manager with a fresh one for sess and connects it.
// A failed first dial is not an error: the manager keeps retrying. The new
// manager is installed only once its identity resolves.
func (s *Session) start(ctx context.Context, sess store.Session) (*connection.Manager, error) {
	s.mu.Lock()
	old := s.manager
	s.manager = nil
	s.user = store.UserInfo{}
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	m := connection.NewManager(s.cfg, store.IdentitySource{Store: s.store}, s.logger, s.opts...)
	if err := m.Connect(ctx, sess.Token); err != nil {
		if errors.Is(err, connection.ErrNoIdentity) {
			m.Disconnect()
			return nil, err
		}
		s.logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	s.mu.Lock()
	s.manager = m
	s.user = sess.User
	s.mu.Unlock()
	return m, nil
}

// Manager returns the active Connection Manager, or nil when logged out.
func (s *Session) Manager() *connection.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager
}

// User returns the logged-in user.
func (s *Session) User() (store.UserInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.manager != nil
}

// Logout closes the socket and removes the stored credentials.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	m := s.manager
	s.manager = nil
	s.user = store.UserInfo{}
	s.mu.Unlock()

	if m != nil {
		m.Disconnect()
	}
	s.auth.SetToken("")

	if err := store.ClearSession(ctx, s.store); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// Package pending implements the confirmation gate for side-effecting
// capabilities. A staged action waits here until the user confirms or
// cancels it. Each session holds at most one action; staging a new one
// replaces the old one.
package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/majordomo/internal/capability"
)

// DefaultSession is the scope used when a caller names none.
const DefaultSession = "default"

var (
	// ErrNoPendingAction is returned by Confirm when nothing is staged
	// for the session, or the staged action has expired.
	ErrNoPendingAction = errors.New("no pending action")

	// ErrTokenMismatch is returned by Confirm when the supplied token
	// does not match the staged action. The action is kept.
	ErrTokenMismatch = errors.New("confirmation token does not match pending action")

	// ErrTokenRequired is returned by Confirm when the store requires
	// a token and none was supplied. The action is kept.
	ErrTokenRequired = errors.New("confirmation token required")
)

// Action is a staged side-effecting capability call.
type Action struct {
	Token     string          `json:"token"`
	Session   string          `json:"session"`
	Kind      capability.Kind `json:"capability"`
	Args      capability.Args `json:"args"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Expired reports whether a is past its expiry at now. An action with
// no expiry never expires.
func (a Action) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Backend persists actions, one per session. Implementations need not
// be safe for concurrent use; Store serializes access.
type Backend interface {
	// Put stores a, replacing any action for a.Session.
	Put(a Action) error
	// Get returns the action for session, if any.
	Get(session string) (Action, bool, error)
	// Delete removes the action for session. Deleting nothing is not an error.
	Delete(session string) error
	// List returns every stored action.
	List() ([]Action, error)
}

// Runner executes a confirmed action.
type Runner func(ctx context.Context, a Action) (string, error)

// Options configures a Store.
type Options struct {
	// TTL is how long a staged action stays confirmable. Zero disables expiry.
	TTL time.Duration
	// RequireToken rejects confirmations that do not carry the token.
	RequireToken bool
}

// Store is the confirmation gate. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	backend Backend
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a store over backend.
func NewStore(backend Backend, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// RequireToken reports whether confirmations must carry a token.
func (s *Store) RequireToken() bool { return s.opts.RequireToken }

func sessionOrDefault(session string) string {
	if session == "" {
		return DefaultSession
	}
	return session
}

// Stage replaces the session's pending action with a new one for kind
// and args, and returns it with a fresh token.
func (s *Store) Stage(session string, kind capability.Kind, args capability.Args) (Action, error) {
	now := s.now()
	a := Action{
		Token:     uuid.NewString(),
		Session:   sessionOrDefault(session),
		Kind:      kind,
		Args:      args.Clone(),
		CreatedAt: now,
	}
	if s.opts.TTL > 0 {
		a.ExpiresAt = now.Add(s.opts.TTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok, err := s.backend.Get(a.Session)
	if err != nil {
		s.logger.Debug("previous pending action unreadable", "session", a.Session, "error", err)
	}
	if ok {
		s.logger.Info("replacing pending action",
			"session", a.Session,
			"previous", prev.Kind,
			"previous_token", prev.Token,
		)
	}
	if err := s.backend.Put(a); err != nil {
		return Action{}, fmt.Errorf("stage %s: %w", kind, err)
	}
	s.logger.Info("action staged",
		"session", a.Session,
		"capability", a.Kind,
		"token", a.Token,
		"expires_at", a.ExpiresAt,
	)
	return a, nil
}

// Peek returns the session's pending action without changing it.
// Expired actions are removed and not returned.
func (s *Store) Peek(session string) (Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(sessionOrDefault(session))
}

// current must be called with s.mu held.
func (s *Store) current(session string) (Action, bool, error) {
	a, ok, err := s.backend.Get(session)
	if err != nil || !ok {
		return Action{}, false, err
	}
	if a.Expired(s.now()) {
		s.logger.Info("pending action expired", "session", session, "capability", a.Kind)
		if err := s.backend.Delete(session); err != nil {
			return Action{}, false, err
		}
		return Action{}, false, nil
	}
	return a, true, nil
}

// Confirm executes the session's pending action with run. The action
// is removed before run is called, so it runs at most once even under
// concurrent confirmations, and the store is left empty whether run
// succeeds or fails. token may be empty unless the store requires one.
func (s *Store) Confirm(ctx context.Context, session, token string, run Runner) (Action, string, error) {
	session = sessionOrDefault(session)

	s.mu.Lock()
	a, ok, err := s.current(session)
	switch {
	case err != nil:
		s.mu.Unlock()
		return Action{}, "", fmt.Errorf("load pending action: %w", err)
	case !ok:
		s.mu.Unlock()
		return Action{}, "", ErrNoPendingAction
	case token == "" && s.opts.RequireToken:
		s.mu.Unlock()
		return a, "", ErrTokenRequired
	case token != "" && token != a.Token:
		s.mu.Unlock()
		return a, "", ErrTokenMismatch
	}
	if err := s.backend.Delete(session); err != nil {
		s.mu.Unlock()
		return a, "", fmt.Errorf("clear pending action: %w", err)
	}
	s.mu.Unlock()

	out, err := run(ctx, a)
	if err != nil {
		s.logger.Warn("confirmed action failed",
			"session", session, "capability", a.Kind, "error", err)
		return a, "", err
	}
	s.logger.Info("confirmed action executed", "session", session, "capability", a.Kind)
	return a, out, nil
}

// Cancel discards the session's pending action. It reports whether an
// action was discarded; cancelling an empty session is not an error.
func (s *Store) Cancel(session string) (bool, error) {
	session = sessionOrDefault(session)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok, err := s.current(session)
	if err != nil {
		return false, err
	}
	if err := s.backend.Delete(session); err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	if ok {
		s.logger.Info("pending action cancelled", "session", session, "capability", a.Kind)
	}
	return ok, nil
}

// Sweep removes every expired action and returns how many were removed.
func (s *Store) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.backend.List()
	if err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	for _, a := range all {
		if !a.Expired(now) {
			continue
		}
		if err := s.backend.Delete(a.Session); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Run sweeps expired actions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(); err != nil {
				s.logger.Warn("pending sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("expired pending actions removed", "count", n)
			}
		}
	}
}

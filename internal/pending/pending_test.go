package pending

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/majordomo/internal/capability"
)

// backends runs fn against every Backend implementation.
func backends(t *testing.T, fn func(t *testing.T, newStore func(Options) *Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, func(o Options) *Store { return NewStore(NewMemoryBackend(), o, slog.Default()) })
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, func(o Options) *Store {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "pending.db"))
			if err != nil {
				t.Fatalf("NewSQLiteBackend: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return NewStore(b, o, slog.Default())
		})
	})
}

// recorder is a Runner that remembers what it ran.
type recorder struct {
	mu   sync.Mutex
	runs []Action
	err  error
}

func (r *recorder) run(ctx context.Context, a Action) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, a)
	if r.err != nil {
		return "", r.err
	}
	return a.Args.String("location") + " light set to " + a.Args.String("action") + ".", nil
}

func lights(loc, action string) capability.Args {
	return capability.Args{"location": loc, "action": action}
}

func TestStageOverwrites(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{})
		if _, err := s.Stage("", capability.ControlLights, lights("LIVING_ROOM", "ON")); err != nil {
			t.Fatal(err)
		}
		b, err := s.Stage("", capability.ControlLights, lights("BEDROOM", "OFF"))
		if err != nil {
			t.Fatal(err)
		}

		rec := &recorder{}
		_, out, err := s.Confirm(context.Background(), "", "", rec.run)
		if err != nil {
			t.Fatalf("Confirm: %v", err)
		}
		if len(rec.runs) != 1 || rec.runs[0].Token != b.Token {
			t.Fatalf("ran %+v, want only the second action", rec.runs)
		}
		if out != "BEDROOM light set to OFF." {
			t.Errorf("output = %q", out)
		}
	})
}

func TestConfirmEmpty(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{})
		rec := &recorder{}
		_, _, err := s.Confirm(context.Background(), "", "", rec.run)
		if !errors.Is(err, ErrNoPendingAction) {
			t.Errorf("err = %v, want ErrNoPendingAction", err)
		}
		if len(rec.runs) != 0 {
			t.Error("nothing should run")
		}
		if _, ok, _ := s.Peek(""); ok {
			t.Error("store should stay empty")
		}
	})
}

func TestCancelIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{})
		for i := range 2 {
			had, err := s.Cancel("")
			if err != nil || had {
				t.Errorf("Cancel #%d on empty store = %v, %v", i+1, had, err)
			}
		}

		s.Stage("", capability.ControlLights, lights("BEDROOM", "ON"))
		if had, err := s.Cancel(""); err != nil || !had {
			t.Errorf("Cancel with action = %v, %v", had, err)
		}
		if had, _ := s.Cancel(""); had {
			t.Error("second Cancel should find nothing")
		}
		if _, _, err := s.Confirm(context.Background(), "", "", (&recorder{}).run); !errors.Is(err, ErrNoPendingAction) {
			t.Errorf("confirm after cancel: err = %v", err)
		}
	})
}

func TestConfirmClearsStore(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		for _, runErr := range []error{nil, errors.New("bridge unreachable")} {
			s := newStore(Options{})
			s.Stage("", capability.ControlLights, lights("LIVING_ROOM", "ON"))

			rec := &recorder{err: runErr}
			_, _, err := s.Confirm(context.Background(), "", "", rec.run)
			if !errors.Is(err, runErr) {
				t.Errorf("err = %v, want %v", err, runErr)
			}
			if _, ok, _ := s.Peek(""); ok {
				t.Errorf("store not cleared after run error %v", runErr)
			}
			// Second confirm must not run again.
			s.Confirm(context.Background(), "", "", rec.run)
			if len(rec.runs) != 1 {
				t.Errorf("ran %d times, want 1", len(rec.runs))
			}
		}
	})
}

func TestRoundTripArgs(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{})
		args := capability.Args{"location": "LIVING_ROOM", "action": "ON"}
		s.Stage("", capability.ControlLights, args)

		rec := &recorder{}
		a, _, err := s.Confirm(context.Background(), "", "", rec.run)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(map[string]any(rec.runs[0].Args), map[string]any(args)) {
			t.Errorf("ran with %v, staged %v", rec.runs[0].Args, args)
		}
		if a.Kind != capability.ControlLights {
			t.Errorf("kind = %v", a.Kind)
		}
	})
}

func TestStageCopiesArgs(t *testing.T) {
	s := NewStore(NewMemoryBackend(), Options{}, slog.Default())
	args := lights("BEDROOM", "ON")
	s.Stage("", capability.ControlLights, args)
	args["action"] = "OFF"

	a, _, _ := s.Peek("")
	if a.Args["action"] != "ON" {
		t.Error("staged args changed after Stage returned")
	}
}

// unreadableBackend fails every Get but otherwise stores normally.
type unreadableBackend struct {
	Backend
}

func (unreadableBackend) Get(string) (Action, bool, error) {
	return Action{}, false, errors.New("disk I/O error")
}

func TestStageLogsUnreadablePrevious(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewStore(unreadableBackend{NewMemoryBackend()}, Options{}, logger)

	a, err := s.Stage("", capability.ControlLights, lights("BEDROOM", "ON"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if a.Token == "" {
		t.Error("staged action has no token")
	}
	if !strings.Contains(buf.String(), "disk I/O error") {
		t.Errorf("Get error not logged: %q", buf.String())
	}
}

func TestTokens(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{RequireToken: true})
		a, _ := s.Stage("kitchen", capability.ControlLights, lights("BEDROOM", "ON"))
		rec := &recorder{}

		if _, _, err := s.Confirm(context.Background(), "kitchen", "", rec.run); !errors.Is(err, ErrTokenRequired) {
			t.Errorf("no token: err = %v", err)
		}
		if _, _, err := s.Confirm(context.Background(), "kitchen", "wrong", rec.run); !errors.Is(err, ErrTokenMismatch) {
			t.Errorf("bad token: err = %v", err)
		}
		if _, ok, _ := s.Peek("kitchen"); !ok {
			t.Fatal("rejected confirmations must keep the action")
		}
		if _, _, err := s.Confirm(context.Background(), "kitchen", a.Token, rec.run); err != nil {
			t.Errorf("good token: err = %v", err)
		}
		if len(rec.runs) != 1 {
			t.Errorf("runs = %d", len(rec.runs))
		}
	})
}

func TestSessionsAreIndependent(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{})
		s.Stage("alice", capability.ControlLights, lights("BEDROOM", "ON"))
		s.Stage("bob", capability.ControlLights, lights("LIVING_ROOM", "OFF"))

		rec := &recorder{}
		if _, _, err := s.Confirm(context.Background(), "carol", "", rec.run); !errors.Is(err, ErrNoPendingAction) {
			t.Errorf("carol: err = %v", err)
		}
		s.Cancel("bob")
		if _, _, err := s.Confirm(context.Background(), "alice", "", rec.run); err != nil {
			t.Fatalf("alice: %v", err)
		}
		if rec.runs[0].Session != "alice" || rec.runs[0].Args["location"] != "BEDROOM" {
			t.Errorf("ran %+v", rec.runs[0])
		}
	})
}

func TestExpiry(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{TTL: time.Minute})
		clock := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return clock }

		a, _ := s.Stage("", capability.ControlLights, lights("BEDROOM", "ON"))
		if !a.ExpiresAt.Equal(clock.Add(time.Minute)) {
			t.Errorf("expires_at = %v", a.ExpiresAt)
		}

		clock = clock.Add(59 * time.Second)
		if _, ok, _ := s.Peek(""); !ok {
			t.Fatal("action expired early")
		}

		clock = clock.Add(time.Second)
		rec := &recorder{}
		if _, _, err := s.Confirm(context.Background(), "", "", rec.run); !errors.Is(err, ErrNoPendingAction) {
			t.Errorf("expired confirm: err = %v", err)
		}
		if len(rec.runs) != 0 {
			t.Error("expired action must not run")
		}
	})
}

func TestSweep(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{TTL: time.Minute})
		clock := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return clock }

		s.Stage("old", capability.ControlLights, lights("BEDROOM", "ON"))
		clock = clock.Add(2 * time.Minute)
		s.Stage("new", capability.ControlLights, lights("BEDROOM", "OFF"))

		n, err := s.Sweep()
		if err != nil || n != 1 {
			t.Errorf("Sweep = %d, %v; want 1", n, err)
		}
		if _, ok, _ := s.Peek("new"); !ok {
			t.Error("fresh action swept")
		}
	})
}

func TestConcurrentConfirmRunsOnce(t *testing.T) {
	backends(t, func(t *testing.T, newStore func(Options) *Store) {
		s := newStore(Options{})
		s.Stage("", capability.ControlLights, lights("LIVING_ROOM", "ON"))

		var runs atomic.Int32
		run := func(ctx context.Context, a Action) (string, error) {
			runs.Add(1)
			time.Sleep(10 * time.Millisecond)
			return "done", nil
		}

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Confirm(context.Background(), "", "", run)
			}()
		}
		wg.Wait()

		if got := runs.Load(); got != 1 {
			t.Errorf("action ran %d times, want 1", got)
		}
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.db")

	b1, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	s1 := NewStore(b1, Options{TTL: time.Hour}, slog.Default())
	staged, _ := s1.Stage("", capability.ControlLights, lights("BEDROOM", "ON"))
	b1.Close()

	b2, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	s2 := NewStore(b2, Options{TTL: time.Hour}, slog.Default())

	got, ok, err := s2.Peek("")
	if err != nil || !ok {
		t.Fatalf("Peek after reopen = %v, %v", ok, err)
	}
	if got.Token != staged.Token || got.Args["location"] != "BEDROOM" {
		t.Errorf("reloaded %+v, staged %+v", got, staged)
	}
	if !got.CreatedAt.Equal(staged.CreatedAt) {
		t.Errorf("created_at %v != %v", got.CreatedAt, staged.CreatedAt)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewStore(NewMemoryBackend(), Options{TTL: time.Millisecond}, slog.Default())
	s.Stage("", capability.ControlLights, lights("BEDROOM", "ON"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(stored(s)) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if all := stored(s); len(all) != 0 {
		t.Errorf("expired action not swept: %+v", all)
	}
}

// stored lists the backend directly, bypassing expiry.
func stored(s *Store) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, _ := s.backend.List()
	return all
}

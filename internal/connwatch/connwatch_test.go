package connwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/majordomo/internal/events"
)

func fastBackoff() Backoff {
	return Backoff{
		Initial:    time.Millisecond,
		Max:        4 * time.Millisecond,
		Multiplier: 2,
		Retries:    3,
		Poll:       5 * time.Millisecond,
		Timeout:    100 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := Backoff{}.withDefaults()
	if b != DefaultBackoff() {
		t.Errorf("zero Backoff defaults = %+v, want %+v", b, DefaultBackoff())
	}
	b = Backoff{Retries: 2}.withDefaults()
	if b.Retries != 2 || b.Poll != time.Minute {
		t.Errorf("partial defaults = %+v", b)
	}
}

func TestWatch_ImmediateSuccess(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Stop()

	w := m.Watch(context.Background(), "llm", func(context.Context) error { return nil }, fastBackoff())
	waitFor(t, "ready", func() bool { return w.Status().Ready })

	st := m.Status()
	if len(st) != 1 || st[0].Name != "llm" || st[0].LastError != "" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestWatch_RecoversAfterFailures(t *testing.T) {
	var calls atomic.Int32
	probe := func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	m := NewManager(nil, nil)
	defer m.Stop()
	w := m.Watch(context.Background(), "imap", probe, fastBackoff())
	waitFor(t, "ready", func() bool { return w.Status().Ready })
	if calls.Load() < 3 {
		t.Errorf("probe calls = %d, want >= 3", calls.Load())
	}
}

func TestWatch_TransitionsEmitEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	var healthy atomic.Bool
	healthy.Store(true)
	probe := func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("broker gone")
	}

	m := NewManager(nil, bus)
	defer m.Stop()
	w := m.Watch(context.Background(), "mqtt", probe, fastBackoff())

	next := func() events.Event {
		t.Helper()
		select {
		case e := <-ch:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return events.Event{}
		}
	}

	if e := next(); e.Kind != events.KindServiceReady || e.Data["service"] != "mqtt" {
		t.Errorf("first event = %+v", e)
	}

	healthy.Store(false)
	e := next()
	if e.Kind != events.KindServiceDown || e.Data["error"] != "broker gone" {
		t.Errorf("second event = %+v", e)
	}
	if st := w.Status(); st.Ready || st.LastError != "broker gone" {
		t.Errorf("status after outage = %+v", st)
	}

	healthy.Store(true)
	if e := next(); e.Kind != events.KindServiceReady {
		t.Errorf("third event = %+v", e)
	}
}

func TestWatch_ProbeTimeout(t *testing.T) {
	b := fastBackoff()
	b.Timeout = 5 * time.Millisecond
	probe := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	m := NewManager(nil, nil)
	defer m.Stop()
	w := m.Watch(context.Background(), "slow", probe, b)
	waitFor(t, "a failed check", func() bool { return !w.Status().LastCheck.IsZero() })
	if st := w.Status(); st.Ready || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(nil, nil)
	w := m.Watch(ctx, "svc", func(context.Context) error { return errors.New("down") }, fastBackoff())
	cancel()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after cancel")
	}
}

func TestWatch_ReplacesByName(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Stop()

	first := m.Watch(context.Background(), "svc", func(context.Context) error { return nil }, fastBackoff())
	m.Watch(context.Background(), "svc", func(context.Context) error { return nil }, fastBackoff())

	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("replaced watcher still running")
	}
	if n := len(m.Status()); n != 1 {
		t.Errorf("watchers = %d, want 1", n)
	}
}

package events

import (
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceDispatch, Kind: KindRequestStart})
	b.Emit(SourcePending, KindActionStaged, nil)
	if b.SubscriberCount() != 0 || b.Dropped() != 0 {
		t.Error("nil bus should report zero subscribers and drops")
	}
}

func TestEmit(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	before := time.Now()
	b.Emit(SourcePending, KindActionStaged, map[string]any{"session": "kitchen", "capability": "control_lights"})

	got := recv(t, ch)
	if got.Timestamp.Before(before) {
		t.Errorf("timestamp %v before emit %v", got.Timestamp, before)
	}
	if got.Source != SourcePending || got.Kind != KindActionStaged || got.Data["session"] != "kitchen" {
		t.Errorf("event = %+v", got)
	}
}

func TestFanOut(t *testing.T) {
	b := New()
	subs := make([]<-chan Event, 3)
	for i := range subs {
		subs[i] = b.Subscribe(2)
	}
	if b.SubscriberCount() != 3 {
		t.Fatalf("SubscriberCount() = %d, want 3", b.SubscriberCount())
	}

	b.Publish(Event{Source: SourceRouter, Kind: KindRouted})
	for i, ch := range subs {
		if got := recv(t, ch); got.Kind != KindRouted {
			t.Errorf("subscriber %d got %q", i, got.Kind)
		}
		b.Unsubscribe(ch)
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() after unsubscribe = %d", b.SubscriberCount())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	slow := b.Subscribe(1)
	fast := b.Subscribe(4)
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	b.Emit(SourceConnwatch, KindServiceDown, map[string]any{"service": "imap"})
	b.Emit(SourceConnwatch, KindServiceReady, map[string]any{"service": "imap"})

	if got := recv(t, slow); got.Kind != KindServiceDown {
		t.Errorf("slow subscriber got %q first", got.Kind)
	}
	select {
	case extra := <-slow:
		t.Errorf("slow subscriber should have missed %q", extra.Kind)
	default:
	}
	if len(fast) != 2 {
		t.Errorf("fast subscriber buffered %d events, want 2", len(fast))
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	b.Unsubscribe(ch) // must not panic on double close
}

func TestConcurrentEmit(t *testing.T) {
	b := New()
	ch := b.Subscribe(500)
	defer b.Unsubscribe(ch)

	var wg sync.WaitGroup
	for w := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Emit(SourceDispatch, KindCapabilityCall, map[string]any{"worker": w})
			}
		}()
	}
	wg.Wait()

	if len(ch) != 500 || b.Dropped() != 0 {
		t.Errorf("buffered %d, dropped %d; want 500, 0", len(ch), b.Dropped())
	}
}

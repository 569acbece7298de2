package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func collect(sub *Subscription, n int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	ch := sub.Events()
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishOrder(t *testing.T) {
	b := NewEventBus()
	sub := b.Subscribe("s1")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish("s1", EventAssistantPartial, map[string]any{"i": i})
	}

	events := collect(sub, 10, 2*time.Second)
	if len(events) != 10 {
		t.Fatalf("expected 10 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.Payload["i"] != i {
			t.Errorf("event %d: payload out of order: %v", i, ev.Payload)
		}
	}
}

func TestEventsReturnsSameChannel(t *testing.T) {
	b := NewEventBus()
	sub := b.Subscribe("s1")
	defer sub.Close()

	if sub.Events() != sub.Events() {
		t.Fatal("Events() returned different channels across calls")
	}
}

func TestRepeatedEventsCallsLoseNothing(t *testing.T) {
	// Consumers that call Events() once per select iteration must still
	// receive every event, in order.
	b := NewEventBus()
	sub := b.Subscribe("s1")
	defer sub.Close()

	const n = 20
	for i := 0; i < n; i++ {
		b.Publish("s1", EventAssistantPartial, map[string]any{"i": i})
	}

	var got []Event
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(got), n)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("received %d of %d events", len(got), n)
		}
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: seq = %d, want %d", i, ev.Seq, i+1)
		}
	}
}

func TestSequenceIsPerSession(t *testing.T) {
	b := NewEventBus()
	s1 := b.Subscribe("a")
	s2 := b.Subscribe("b")
	defer s1.Close()
	defer s2.Close()

	b.Publish("a", EventTurnComplete, nil)
	b.Publish("b", EventTurnComplete, nil)

	if ev := collect(s1, 1, time.Second); len(ev) != 1 || ev[0].Seq != 1 {
		t.Errorf("session a: got %+v", ev)
	}
	if ev := collect(s2, 1, time.Second); len(ev) != 1 || ev[0].Seq != 1 {
		t.Errorf("session b: got %+v", ev)
	}
}

func TestNoSubscribersDropsSilently(t *testing.T) {
	b := NewEventBus()
	// Must not block or panic.
	for i := 0; i < 200; i++ {
		b.Publish("ghost", EventToolStarted, nil)
	}
}

func TestLateSubscriberSeesOnlySubsequentEvents(t *testing.T) {
	b := NewEventBus()
	b.Publish("s", EventAssistantPartial, nil)
	b.Publish("s", EventAssistantPartial, nil)

	sub := b.Subscribe("s")
	defer sub.Close()
	b.Publish("s", EventTurnComplete, nil)

	events := collect(sub, 1, time.Second)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
	if events[0].Type != EventTurnComplete {
		t.Errorf("got %q, want turn_complete", events[0].Type)
	}
	if events[0].Seq != 3 {
		t.Errorf("seq = %d, want 3", events[0].Seq)
	}
}

func TestSlowSubscriberOverflowMarksGap(t *testing.T) {
	b := NewEventBusWithCapacity(4)
	sub := b.Subscribe("s")
	defer sub.Close()

	// Queue more than capacity before the subscriber reads anything.
	for i := 0; i < 10; i++ {
		b.Publish("s", EventAssistantPartial, map[string]any{"i": i})
	}

	events := collect(sub, 4, time.Second)
	if len(events) != 4 {
		t.Fatalf("expected 4 surviving events, got %d", len(events))
	}
	if !events[0].Gap {
		t.Error("first surviving event should carry the gap marker")
	}
	// The oldest events were dropped; the survivors are the newest 4.
	if events[0].Seq != 7 {
		t.Errorf("first surviving seq = %d, want 7", events[0].Seq)
	}
	for _, ev := range events[1:] {
		if ev.Gap {
			t.Error("gap marker must only be set once per overflow")
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewEventBusWithCapacity(2)
	sub := b.Subscribe("s")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("s", EventAssistantPartial, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	b := NewEventBus()
	const subscribers = 5
	subs := make([]*Subscription, subscribers)
	for i := range subs {
		subs[i] = b.Subscribe("s")
	}
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	var wg sync.WaitGroup
	results := make([][]Event, subscribers)
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *Subscription) {
			defer wg.Done()
			results[i] = collect(s, 20, 2*time.Second)
		}(i, s)
	}
	for i := 0; i < 20; i++ {
		b.Publish("s", EventToolResult, map[string]any{"i": i})
	}
	wg.Wait()

	for i, got := range results {
		if len(got) != 20 {
			t.Fatalf("subscriber %d: got %d events, want 20", i, len(got))
		}
		for j, ev := range got {
			if ev.Seq != uint64(j+1) {
				t.Errorf("subscriber %d event %d: seq %d", i, j, ev.Seq)
			}
		}
	}
}

func TestOrderUnderConcurrentSessions(t *testing.T) {
	b := NewEventBus()
	const sessions = 8
	var wg sync.WaitGroup
	subs := make([]*Subscription, sessions)
	for i := 0; i < sessions; i++ {
		subs[i] = b.Subscribe(fmt.Sprintf("s%d", i))
	}

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			for j := 0; j < 50; j++ {
				b.Publish(id, EventAssistantPartial, nil)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		events := collect(subs[i], 50, 2*time.Second)
		if len(events) != 50 {
			t.Fatalf("session %d: got %d events", i, len(events))
		}
		for j, ev := range events {
			if ev.Seq != uint64(j+1) {
				t.Errorf("session %d: reordered delivery at %d (seq %d)", i, j, ev.Seq)
			}
		}
		subs[i].Close()
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewEventBus()
	sub := b.Subscribe("s")
	sub.Close()
	sub.Close() // idempotent

	if n := b.SubscriberCount("s"); n != 0 {
		t.Errorf("subscriber count after close = %d", n)
	}

	b.Publish("s", EventTurnComplete, nil)
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("closed subscription delivered an event")
		}
	case <-time.After(time.Second):
		t.Error("closed subscription channel never closed")
	}
}

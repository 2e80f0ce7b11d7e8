package stream

import (
	"context"
	"testing"
	"time"

	"civicguard.org/internal/crisis"
)

func TestSubscribeReceivesLatestThenUpdates(t *testing.T) {
	s := New()
	s.Publish(crisis.Snapshot{Mode: crisis.Elevated, Event: crisis.EventOverrideChanged})

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)

	first := <-ch
	if first.Mode != crisis.Elevated {
		t.Fatalf("expected replay of latest snapshot, got %+v", first)
	}

	s.CrisisChanged(crisis.Snapshot{Mode: crisis.Lockdown, Event: crisis.EventLockdownCommitted})
	select {
	case got := <-ch:
		if got.Mode != crisis.Lockdown {
			t.Fatalf("unexpected snapshot: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	cancel()
	for range ch {
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("subscriber not removed: %d", n)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(crisis.Snapshot{Mode: crisis.Normal})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

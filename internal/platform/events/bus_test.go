package events

import (
	"context"
	"errors"
	"testing"
)

type testEvent struct{ name string }

func (e testEvent) EventType() string { return e.name }

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []int
	bus.Subscribe("thing.changed", func(ctx context.Context, evt Event) error {
		got = append(got, 1)
		return nil
	})
	bus.Subscribe("thing.changed", func(ctx context.Context, evt Event) error {
		got = append(got, 2)
		return nil
	})
	bus.Subscribe("other.changed", func(ctx context.Context, evt Event) error {
		t.Fatal("unrelated subscriber invoked")
		return nil
	})

	if err := bus.Publish(context.Background(), testEvent{"thing.changed"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected in-order delivery [1 2], got %v", got)
	}
}

func TestPublishStopsOnHandlerError(t *testing.T) {
	bus := NewBus(nil)
	boom := errors.New("boom")
	calls := 0
	bus.Subscribe("thing.changed", func(ctx context.Context, evt Event) error {
		calls++
		return boom
	})
	bus.Subscribe("thing.changed", func(ctx context.Context, evt Event) error {
		calls++
		return nil
	})

	err := bus.Publish(context.Background(), testEvent{"thing.changed"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected delivery to stop after failing handler, got %d calls", calls)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	if err := bus.Publish(context.Background(), testEvent{"nobody.cares"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

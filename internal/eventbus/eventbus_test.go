package eventbus

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeReplaysLatest(t *testing.T) {
	b := New()
	b.Publish(TopicSpinCount, int64(1))
	b.Publish(TopicSpinCount, int64(2))

	ch, unsubscribe := b.Subscribe(TopicSpinCount, 4)
	defer unsubscribe()

	if got := recv(t, ch).Payload.(int64); got != 2 {
		t.Fatalf("unexpected replay: got=%d want=2", got)
	}

	b.Publish(TopicSpinCount, int64(3))
	if got := recv(t, ch).Payload.(int64); got != 3 {
		t.Fatalf("unexpected payload: got=%d want=3", got)
	}
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicWheelChanged, 1)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		b.Publish(TopicWheelChanged, i)
	}
	if got := recv(t, ch).Payload.(int); got != 9 {
		t.Fatalf("unexpected payload: got=%d want=9", got)
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicSpinResolved, 1)
	b.Publish(TopicSpinCount, 1)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	if n := b.SubscriberCount(TopicSpinResolved); n != 0 {
		t.Fatalf("unexpected subscriber count: got=%d want=0", n)
	}
}

// Package eventbus はプロセス内の pub/sub。トピックごとに最新の値を保持し、
// 購読開始時にそれを再送する。
package eventbus

import (
	"sync"
	"time"
)

const (
	TopicSpinCount    = "spin_count"
	TopicSpinResolved = "spin_resolved"
	TopicWheelChanged = "wheel_changed"
)

type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan Event
	latest map[string]Event
}

func New() *Bus {
	return &Bus{
		subs:   make(map[string]map[uint64]chan Event),
		latest: make(map[string]Event),
	}
}

// Publish stores payload as the topic's latest value and delivers it to every
// subscriber. A subscriber whose buffer is full loses its oldest event.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload, At: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest[topic] = ev
	for _, ch := range b.subs[topic] {
		deliver(ch, ev)
	}
}

// Subscribe returns a channel of the topic's events, starting with the latest
// one if any. buffer below 1 is treated as 1.
func (b *Bus) Subscribe(topic string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]chan Event)
	}
	b.subs[topic][id] = ch
	if ev, ok := b.latest[topic]; ok {
		ch <- ev
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			close(ch)
		})
	}
}

// Latest returns the last published event of topic.
func (b *Bus) Latest(topic string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.latest[topic]
	return ev, ok
}

func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		// 満杯なら古いものを捨てる
		select {
		case <-ch:
		default:
		}
	}
}

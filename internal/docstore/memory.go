package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/types"
)

// MemoryStore is an in-process Store. wheelctl uses it for offline wheels.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]types.Wheel
	notifier *Notifier
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]types.Wheel),
		notifier: NewNotifier(),
		now:      time.Now,
	}
}

// Put stores w as a new document at version 1.
func (s *MemoryStore) Put(w types.Wheel) (types.Wheel, error) {
	if w.ID == "" {
		return types.Wheel{}, fmt.Errorf("document id is required")
	}
	s.mu.Lock()
	if _, exists := s.docs[w.ID]; exists {
		s.mu.Unlock()
		return types.Wheel{}, fmt.Errorf("document %s already exists", w.ID)
	}
	now := s.now()
	w = w.Clone()
	w.Version = 1
	w.CreatedAt = now
	w.UpdatedAt = now
	s.docs[w.ID] = w
	s.mu.Unlock()

	s.notifier.Notify(w.ID)
	return w.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (types.Wheel, error) {
	if err := ctx.Err(); err != nil {
		return types.Wheel{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.docs[id]
	if !ok {
		return types.Wheel{}, ErrNotFound
	}
	return w.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next types.Wheel) (types.Wheel, error) {
	if err := ctx.Err(); err != nil {
		return types.Wheel{}, err
	}
	s.mu.Lock()
	cur, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return types.Wheel{}, ErrNotFound
	}
	if cur.Version != expectedVersion {
		s.mu.Unlock()
		return types.Wheel{}, ErrConflict
	}
	next = next.Clone()
	next.ID = cur.ID
	next.Owner = cur.Owner
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	s.docs[id] = next
	s.mu.Unlock()

	s.notifier.Notify(id)
	return next.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fields Fields) (types.Wheel, error) {
	if err := ctx.Err(); err != nil {
		return types.Wheel{}, err
	}
	s.mu.Lock()
	cur, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return types.Wheel{}, ErrNotFound
	}
	fields.Apply(&cur)
	cur.Version++
	cur.UpdatedAt = s.now()
	s.docs[id] = cur
	s.mu.Unlock()

	s.notifier.Notify(id)
	return cur.Clone(), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string, onChange func(types.Wheel), onError func(error)) (func(), error) {
	return Watch(ctx, s, s.notifier, id, onChange, onError)
}

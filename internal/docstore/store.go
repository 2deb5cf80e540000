// Package docstore defines the wheel document store and its optimistic
// transaction helper.
package docstore

import (
	"context"
	"errors"

	"github.com/nantokaworks/choice-wheel/internal/types"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document version conflict")
)

// Fields は Update で書き換える非スピン項目。nil のフィールドは変更しない。
type Fields struct {
	Title        *string
	Slices       []string
	Visibility   *types.Visibility
	Participants []types.Participant
}

func (f Fields) Empty() bool {
	return f.Title == nil && f.Slices == nil && f.Visibility == nil && f.Participants == nil
}

// Apply writes the set fields into w.
func (f Fields) Apply(w *types.Wheel) {
	if f.Title != nil {
		w.Title = *f.Title
	}
	if f.Slices != nil {
		w.Slices = append([]string(nil), f.Slices...)
	}
	if f.Visibility != nil {
		w.Visibility = *f.Visibility
	}
	if f.Participants != nil {
		w.Participants = types.NormalizeParticipants(f.Participants)
	}
}

// Store is a versioned wheel document store with change subscriptions.
type Store interface {
	Get(ctx context.Context, id string) (types.Wheel, error)
	// CompareAndSwap writes next when the stored version equals expectedVersion
	// and returns the stored document with its new version. ErrConflict otherwise.
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next types.Wheel) (types.Wheel, error)
	// Update is a last-writer-wins write of non-spin fields.
	Update(ctx context.Context, id string, fields Fields) (types.Wheel, error)
	// Subscribe delivers the current document and then every change, at least once.
	// onChange and onError are never called concurrently for one subscription.
	Subscribe(ctx context.Context, id string, onChange func(types.Wheel), onError func(error)) (unsubscribe func(), err error)
}

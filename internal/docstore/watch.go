package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nantokaworks/choice-wheel/internal/types"
)

// Getter reads one document.
type Getter interface {
	Get(ctx context.Context, id string) (types.Wheel, error)
}

// Watch implements Subscribe on top of a Getter and a Notifier: the current
// document is delivered first, then the latest document after every signal.
// Callbacks run on one goroutine; unsubscribe waits for it to exit, so no
// callback runs after unsubscribe returns. Do not call unsubscribe from a callback.
func Watch(ctx context.Context, getter Getter, n *Notifier, id string, onChange func(types.Wheel), onError func(error)) (func(), error) {
	if onError == nil {
		onError = func(error) {}
	}

	initial, err := getter.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := n.Subscribe(id)
	var stopped atomic.Bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		if stopped.Load() {
			return
		}
		onChange(initial)
		last := initial.Version

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				w, err := getter.Get(ctx, id)
				if stopped.Load() {
					return
				}
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					onError(err)
					continue
				}
				if w.Version == last {
					continue
				}
				last = w.Version
				onChange(w)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
			n.Unsubscribe(id, ch)
			<-done
		})
	}, nil
}

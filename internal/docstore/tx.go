package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

const (
	DefaultTxAttempts = 5
	defaultTxDelay    = 10 * time.Millisecond
)

// Tx is handed to a transaction function. Current is a private copy of the
// stored document; call Set to write, or return without Set to skip the write.
type Tx struct {
	Current types.Wheel
	next    *types.Wheel
}

func (tx *Tx) Set(w types.Wheel) {
	c := w.Clone()
	tx.next = &c
}

// TxResult is the outcome of RunTransaction.
type TxResult struct {
	Wheel     types.Wheel
	Committed bool
	Attempts  uint
}

type txOptions struct {
	attempts uint
	delay    time.Duration
}

type TxOption func(*txOptions)

func WithAttempts(n uint) TxOption {
	return func(o *txOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

func WithDelay(d time.Duration) TxOption {
	return func(o *txOptions) { o.delay = d }
}

// RunTransaction performs read, fn, compare-and-swap. Only ErrConflict is
// retried; any other error, including one from fn, aborts and is returned as is.
func RunTransaction(ctx context.Context, store Store, id string, fn func(tx *Tx) error, opts ...TxOption) (TxResult, error) {
	o := txOptions{attempts: DefaultTxAttempts, delay: defaultTxDelay}
	for _, opt := range opts {
		opt(&o)
	}

	var result TxResult
	err := retry.Do(func() error {
		result.Attempts++

		current, err := store.Get(ctx, id)
		if err != nil {
			return err
		}

		tx := &Tx{Current: current.Clone()}
		if err := fn(tx); err != nil {
			return err
		}
		if tx.next == nil {
			result.Wheel = current
			result.Committed = false
			return nil
		}

		stored, err := store.CompareAndSwap(ctx, id, current.Version, *tx.next)
		if err != nil {
			return err
		}
		result.Wheel = stored
		result.Committed = true
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.Delay(o.delay),
		retry.MaxJitter(o.delay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrConflict) }),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("Retrying document transaction",
				zap.String("doc_id", id),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return result, err
	}
	return result, nil
}

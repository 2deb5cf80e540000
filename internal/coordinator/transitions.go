package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"github.com/nantokaworks/choice-wheel/internal/types"
)

// Transitions are the document writes of the spin protocol. Clients run them
// through their own store; the HTTP server runs them for thin clients and uses
// ValidateTransition to guard raw compare-and-swap writes.
type Transitions struct {
	Store    docstore.Store
	Auth     Authorizer
	Now      func() time.Time
	Attempts uint
}

func (t Transitions) auth() Authorizer {
	if t.Auth == nil {
		return DocumentAuthorizer{}
	}
	return t.Auth
}

func (t Transitions) txOptions() []docstore.TxOption {
	if t.Attempts == 0 {
		return nil
	}
	return []docstore.TxOption{docstore.WithAttempts(t.Attempts)}
}

// NextTimestamp returns max(now, prev+1) in milliseconds.
func (t Transitions) NextTimestamp(prev int64) int64 {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	ts := now().UnixMilli()
	if ts <= prev {
		return prev + 1
	}
	return ts
}

// Start marks the wheel as spinning with user as the initiator.
func (t Transitions) Start(ctx context.Context, user types.User, wheelID string) (types.Wheel, error) {
	res, err := docstore.RunTransaction(ctx, t.Store, wheelID, func(tx *docstore.Tx) error {
		w := tx.Current
		if err := CheckStart(t.auth(), user, w); err != nil {
			return err
		}
		w.Spin = types.SpinDocFrom(types.Spinning{
			Initiator: user.ID,
			Timestamp: t.NextTimestamp(w.Spin.Timestamp()),
		}, 0)
		tx.Set(w)
		return nil
	}, t.txOptions()...)
	if err != nil {
		return types.Wheel{}, err
	}
	return res.Wheel, nil
}

// Resolve writes winner when the wheel is still spinning and user is the
// recorded initiator. Otherwise nothing is written and committed is false.
func (t Transitions) Resolve(ctx context.Context, user types.User, wheelID, winner string) (types.Wheel, bool, error) {
	res, err := docstore.RunTransaction(ctx, t.Store, wheelID, func(tx *docstore.Tx) error {
		w := tx.Current
		p, ok := w.Spin.Phase().(types.Spinning)
		if !ok || user.ID == "" || p.Initiator != user.ID {
			return nil
		}
		slices := types.CleanSlices(w.Slices)
		idx := spin.FindSlice(slices, winner)
		if idx < 0 {
			return fmt.Errorf("%w: %q", spin.ErrUnknownWinner, winner)
		}
		w.Spin = types.SpinDocFrom(types.Resolved{
			Winner:    slices[idx],
			Timestamp: t.NextTimestamp(p.Timestamp),
		}, 0)
		tx.Set(w)
		return nil
	}, t.txOptions()...)
	if err != nil {
		return types.Wheel{}, false, err
	}
	return res.Wheel, res.Committed, nil
}

// CheckStart reports why user may not start a spin on w, or nil.
func CheckStart(auth Authorizer, user types.User, w types.Wheel) error {
	if user.ID == "" || !auth.CanSpin(user, w) {
		return ErrPermissionDenied
	}
	if len(types.CleanSlices(w.Slices)) == 0 {
		return spin.ErrEmptyWheel
	}
	if w.Spin.IsSpinning {
		return ErrAlreadySpinning
	}
	return nil
}

// ValidateTransition checks a spin sub-document write from prev to next made
// by user. Only owners and editors start spins, only the recorded initiator
// resolves one, and timestamps strictly increase.
func ValidateTransition(auth Authorizer, user types.User, prev, next types.Wheel) error {
	if auth == nil {
		auth = DocumentAuthorizer{}
	}
	prevPhase := prev.Spin.Phase()
	ps, prevSpinning := prevPhase.(types.Spinning)

	switch np := next.Spin.Phase().(type) {
	case types.Spinning:
		if prevSpinning {
			if np == ps {
				return nil
			}
			return ErrAlreadySpinning
		}
		if err := CheckStart(auth, user, prev); err != nil {
			return err
		}
		if np.Initiator != user.ID {
			return ErrPermissionDenied
		}
		if np.Timestamp <= prev.Spin.Timestamp() {
			return fmt.Errorf("%w: timestamp must increase", ErrInvalidTransition)
		}
		return nil

	case types.Resolved:
		if !prevSpinning {
			if pr, ok := prevPhase.(types.Resolved); ok && pr == np {
				return nil
			}
			return fmt.Errorf("%w: wheel is not spinning", ErrInvalidTransition)
		}
		if user.ID == "" || ps.Initiator != user.ID {
			return ErrPermissionDenied
		}
		if spin.FindSlice(types.CleanSlices(prev.Slices), np.Winner) < 0 {
			return fmt.Errorf("%w: %q", spin.ErrUnknownWinner, np.Winner)
		}
		if np.Timestamp <= ps.Timestamp {
			return fmt.Errorf("%w: timestamp must increase", ErrInvalidTransition)
		}
		return nil

	default:
		if _, ok := prevPhase.(types.Idle); ok {
			return nil
		}
		return fmt.Errorf("%w: a spin ends only with a winner", ErrInvalidTransition)
	}
}

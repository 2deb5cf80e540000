package coordinator

import (
	"testing"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/spin"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"github.com/stretchr/testify/assert"
)

func baseWheel() types.Wheel {
	return types.Wheel{
		ID:     wheelA,
		Slices: []string{"A", "B"},
		Owner:  userX.ID,
		Participants: []types.Participant{
			{Email: userY.Email, Role: types.RoleEditor},
			{Email: userV.Email, Role: types.RoleViewer},
		},
	}
}

func withPhase(w types.Wheel, p types.SpinPhase, prev int64) types.Wheel {
	w = w.Clone()
	w.Spin = types.SpinDocFrom(p, prev)
	return w
}

func TestValidateTransition(t *testing.T) {
	idle := baseWheel()
	spinning := withPhase(idle, types.Spinning{Initiator: userX.ID, Timestamp: 10}, 0)
	resolved := withPhase(idle, types.Resolved{Winner: "A", Timestamp: 11}, 0)

	tests := []struct {
		name string
		user types.User
		prev types.Wheel
		next types.Wheel
		want error
	}{
		{"owner starts", userX, idle, spinning, nil},
		{"editor starts", userY, idle, withPhase(idle, types.Spinning{Initiator: userY.ID, Timestamp: 10}, 0), nil},
		{"viewer cannot start", userV, idle, withPhase(idle, types.Spinning{Initiator: userV.ID, Timestamp: 10}, 0), ErrPermissionDenied},
		{"start for someone else", userY, idle, spinning, ErrPermissionDenied},
		{"double start", userY, spinning, withPhase(idle, types.Spinning{Initiator: userY.ID, Timestamp: 12}, 0), ErrAlreadySpinning},
		{"initiator resolves", userX, spinning, resolved, nil},
		{"editor cannot resolve others spin", userY, spinning, resolved, ErrPermissionDenied},
		{"unknown winner", userX, spinning, withPhase(idle, types.Resolved{Winner: "Z", Timestamp: 11}, 0), spin.ErrUnknownWinner},
		{"stale timestamp", userX, spinning, withPhase(idle, types.Resolved{Winner: "A", Timestamp: 10}, 0), ErrInvalidTransition},
		{"resolve while idle", userX, idle, resolved, ErrInvalidTransition},
		{"clear spinning without winner", userX, spinning, withPhase(idle, types.Idle{}, 10), ErrInvalidTransition},
		{"restart needs newer timestamp", userX, resolved, withPhase(idle, types.Spinning{Initiator: userX.ID, Timestamp: 11}, 0), ErrInvalidTransition},
		{"unchanged resolved", userV, resolved, resolved, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(nil, tt.user, tt.prev, tt.next)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNextTimestamp(t *testing.T) {
	tr := Transitions{Now: func() time.Time { return time.UnixMilli(500) }}
	if got := tr.NextTimestamp(100); got != 500 {
		t.Fatalf("unexpected timestamp: got=%d want=500", got)
	}
	if got := tr.NextTimestamp(500); got != 501 {
		t.Fatalf("unexpected timestamp: got=%d want=501", got)
	}
}

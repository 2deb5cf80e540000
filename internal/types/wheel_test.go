package types

import (
	"errors"
	"testing"
)

func TestValidateSlices(t *testing.T) {
	got, err := ValidateSlices([]string{" A ", "", "   ", "B", "A"})
	if err != nil {
		t.Fatalf("ValidateSlices failed: %v", err)
	}
	want := []string{"A", "B", "A"}
	if len(got) != len(want) {
		t.Fatalf("unexpected slice count: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected slice[%d]: got=%q want=%q", i, got[i], want[i])
		}
	}

	if _, err := ValidateSlices([]string{" ", ""}); !errors.Is(err, ErrNoSlices) {
		t.Fatalf("unexpected error for empty wheel: %v", err)
	}

	many := make([]string, MaxSlices+1)
	for i := range many {
		many[i] = "x"
	}
	if _, err := ValidateSlices(many); !errors.Is(err, ErrTooManySlices) {
		t.Fatalf("unexpected error for too many slices: %v", err)
	}
}

func TestWheelAccess(t *testing.T) {
	w := Wheel{
		Owner:      "u-owner",
		Visibility: VisibilityPrivate,
		Participants: []Participant{
			{Email: "ed@example.com", Role: RoleEditor},
			{Email: "view@example.com", Role: RoleViewer},
		},
	}

	owner := User{ID: "u-owner", Email: "owner@example.com"}
	editor := User{ID: "u-ed", Email: " ED@example.com "}
	viewer := User{ID: "u-view", Email: "view@example.com"}
	stranger := User{ID: "u-x", Email: "x@example.com"}

	if !w.CanSpin(owner) || !w.CanSpin(editor) {
		t.Fatalf("owner and editor should be able to spin")
	}
	if w.CanSpin(viewer) {
		t.Fatalf("viewer should not be able to spin")
	}
	if !w.CanView(viewer) {
		t.Fatalf("viewer should be able to view")
	}
	if w.CanView(stranger) {
		t.Fatalf("stranger should not view a private wheel")
	}

	w.Visibility = VisibilityPublic
	if !w.CanView(stranger) {
		t.Fatalf("stranger should view a public wheel")
	}
	if w.CanSpin(stranger) {
		t.Fatalf("public visibility must not grant spin")
	}
}

func TestNormalizeParticipants(t *testing.T) {
	got := NormalizeParticipants([]Participant{
		{Email: "A@example.com", Role: RoleViewer},
		{Email: "", Role: RoleEditor},
		{Email: "b@example.com", Role: "admin"},
		{Email: "a@example.com ", Role: RoleEditor},
	})
	if len(got) != 2 {
		t.Fatalf("unexpected participant count: got=%d want=2", len(got))
	}
	if got[0].Email != "a@example.com" || got[0].Role != RoleEditor {
		t.Fatalf("unexpected first participant: %+v", got[0])
	}
	if got[1].Role != RoleViewer {
		t.Fatalf("unknown role should fall back to viewer: got=%q", got[1].Role)
	}
}

func TestSpinDocPhaseRoundTrip(t *testing.T) {
	if _, ok := (SpinDoc{}).Phase().(Idle); !ok {
		t.Fatalf("empty doc should be Idle")
	}

	spinning := SpinDocFrom(Spinning{Initiator: "u1", Timestamp: 10}, 0)
	if !spinning.IsSpinning || spinning.InitiatedBy != "u1" {
		t.Fatalf("unexpected spinning doc: %+v", spinning)
	}
	if spinning.CurrentSpin == nil || spinning.CurrentSpin.Winner != nil {
		t.Fatalf("spinning doc must carry a null winner")
	}
	if p, ok := spinning.Phase().(Spinning); !ok || p.Initiator != "u1" || p.Timestamp != 10 {
		t.Fatalf("unexpected phase: %#v", spinning.Phase())
	}

	resolved := SpinDocFrom(Resolved{Winner: "B", Timestamp: 11}, 10)
	p, ok := resolved.Phase().(Resolved)
	if !ok {
		t.Fatalf("expected Resolved, got %#v", resolved.Phase())
	}
	if p.Winner != "B" || p.Timestamp != 11 {
		t.Fatalf("unexpected resolved phase: %+v", p)
	}

	idle := SpinDocFrom(Idle{}, 11)
	if idle.Timestamp() != 11 {
		t.Fatalf("idle should keep previous timestamp: got=%d want=11", idle.Timestamp())
	}

	clone := resolved.Clone()
	*clone.CurrentSpin.Winner = "Z"
	if *resolved.CurrentSpin.Winner != "B" {
		t.Fatalf("Clone must not share the winner pointer")
	}
}

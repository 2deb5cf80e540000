package spin

import (
	"errors"
	"math"
	"testing"
)

func ptr(s string) *string { return &s }

func TestResolve_EmptyWheel(t *testing.T) {
	_, err := NewResolver(DefaultExtraTurns).Resolve(nil, nil, 0)
	if !errors.Is(err, ErrEmptyWheel) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolve_ForcedWinnerFromZero(t *testing.T) {
	r := NewResolver(DefaultExtraTurns)
	r.RandomInt = func(max int) (int, error) {
		t.Fatalf("random source must not be used when the forced winner matches")
		return 0, nil
	}

	got, err := r.Resolve([]string{"A", "B", "C", "D"}, ptr("c"), 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.WinnerIndex != 2 {
		t.Fatalf("unexpected winner index: got=%d want=2", got.WinnerIndex)
	}
	if got.Winner != "C" {
		t.Fatalf("unexpected winner: got=%q want=%q", got.Winner, "C")
	}
	if got.EndAngle != 2295 {
		t.Fatalf("unexpected end angle: got=%v want=2295", got.EndAngle)
	}
}

func TestResolve_ForcedWinnerFromWoundAngle(t *testing.T) {
	got, err := NewResolver(DefaultExtraTurns).Resolve([]string{"A", "B", "C", "D"}, ptr(" A "), 370)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.WinnerIndex != 0 {
		t.Fatalf("unexpected winner index: got=%d want=0", got.WinnerIndex)
	}
	if got.EndAngle != 2835 {
		t.Fatalf("unexpected end angle: got=%v want=2835", got.EndAngle)
	}
}

func TestResolve_ForcedWinnerFirstMatch(t *testing.T) {
	got, err := NewResolver(DefaultExtraTurns).Resolve([]string{"x", "Pizza", "pizza"}, ptr("PIZZA"), 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.WinnerIndex != 1 {
		t.Fatalf("unexpected winner index: got=%d want=1", got.WinnerIndex)
	}
}

func TestResolve_UnmatchedForcedFallsBackToRandom(t *testing.T) {
	r := NewResolver(DefaultExtraTurns)
	calls := 0
	r.RandomInt = func(max int) (int, error) {
		calls++
		if max != 3 {
			t.Fatalf("unexpected random range: got=%d want=3", max)
		}
		return 1, nil
	}

	got, err := r.Resolve([]string{"a", "b", "c"}, ptr("zzz"), 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if calls != 1 || got.WinnerIndex != 1 {
		t.Fatalf("unexpected random pick: calls=%d index=%d", calls, got.WinnerIndex)
	}
}

func TestResolve_RandomError(t *testing.T) {
	r := NewResolver(DefaultExtraTurns)
	sentinel := errors.New("entropy exhausted")
	r.RandomInt = func(int) (int, error) { return 0, sentinel }

	if _, err := r.Resolve([]string{"a"}, nil, 0); !errors.Is(err, sentinel) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolve_AngleMonotonicAndLandsOnWinner(t *testing.T) {
	r := NewResolver(DefaultExtraTurns)
	for n := 1; n <= 16; n++ {
		slices := make([]string, n)
		for i := range slices {
			slices[i] = string(rune('a' + i))
		}

		angle := 0.0
		for round := 0; round < 5; round++ {
			got, err := r.Resolve(slices, nil, angle)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			delta := got.EndAngle - angle
			if delta < 360*DefaultExtraTurns || delta >= 360*(DefaultExtraTurns+1) {
				t.Fatalf("unexpected delta for n=%d: got=%v", n, delta)
			}
			if idx := IndexAt(n, got.EndAngle); idx != got.WinnerIndex {
				t.Fatalf("pointer does not land on winner for n=%d: got=%d want=%d", n, idx, got.WinnerIndex)
			}
			angle = got.EndAngle
		}
	}
}

func TestSnap(t *testing.T) {
	r := NewResolver(DefaultExtraTurns)

	got, err := r.Snap([]string{"A", "B", "C", "D"}, "c", 2295)
	if err != nil {
		t.Fatalf("Snap failed: %v", err)
	}
	if got.EndAngle != 2295 {
		t.Fatalf("already on the winner should not move: got=%v want=2295", got.EndAngle)
	}

	got, err = r.Snap([]string{"A", "B", "C", "D"}, "B", 0)
	if err != nil {
		t.Fatalf("Snap failed: %v", err)
	}
	if got.EndAngle != 225 {
		t.Fatalf("unexpected snap angle: got=%v want=225", got.EndAngle)
	}

	if _, err := r.Snap([]string{"A"}, "nope", 0); !errors.Is(err, ErrUnknownWinner) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[float64]float64{0: 0, 360: 0, 370: 10, -10: 350, 725.5: 5.5}
	for in, want := range cases {
		if got := Normalize(in); math.Abs(got-want) > 1e-9 {
			t.Fatalf("Normalize(%v): got=%v want=%v", in, got, want)
		}
	}
}

func TestResolve_NoExtraTurnsStillRotates(t *testing.T) {
	r := NewResolver(0)
	slices := []string{"A", "B", "C", "D"}

	first, err := r.Resolve(slices, ptr("c"), 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.EndAngle != 135 {
		t.Fatalf("unexpected first end angle: got=%v want=135", first.EndAngle)
	}

	second, err := r.Resolve(slices, ptr("c"), first.EndAngle)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if second.EndAngle <= first.EndAngle {
		t.Fatalf("end angle must move forward: got=%v current=%v", second.EndAngle, first.EndAngle)
	}
	if second.EndAngle != first.EndAngle+360 {
		t.Fatalf("unexpected second end angle: got=%v want=%v", second.EndAngle, first.EndAngle+360)
	}
	if idx := IndexAt(len(slices), second.EndAngle); idx != 2 {
		t.Fatalf("winner not under pointer: got=%d want=2", idx)
	}
}

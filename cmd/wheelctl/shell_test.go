package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nantokaworks/choice-wheel/internal/localspin"
	"github.com/nantokaworks/choice-wheel/internal/spin"
)

func TestTerminalSkipsRepeatedLabels(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf)

	term.OnAnimationStart("w1", true)
	term.OnAnimationTick("w1", localspin.Tick{Label: "A"})
	term.OnAnimationTick("w1", localspin.Tick{Label: "A"})
	term.OnAnimationTick("w1", localspin.Tick{Label: "B"})

	if got := strings.Count(buf.String(), "▶ A"); got != 1 {
		t.Fatalf("label A printed %d times, want 1", got)
	}
	if !strings.Contains(buf.String(), "▶ B") {
		t.Fatalf("label B missing: %q", buf.String())
	}
}

func TestTerminalSignalsWinnerOnce(t *testing.T) {
	term := newTerminal(&bytes.Buffer{})

	term.OnCelebrate("w1", "old")
	select {
	case got := <-term.done:
		t.Fatalf("unarmed terminal signalled %s", got)
	default:
	}

	term.arm()
	term.OnComplete(spin.Result{Winner: "C", EndAngle: 2295})
	term.OnWin("C")
	term.OnCelebrate("w1", "C")

	if got := <-term.done; got != "C" {
		t.Fatalf("unexpected winner: got=%s want=C", got)
	}
	select {
	case extra := <-term.done:
		t.Fatalf("unexpected second signal: %s", extra)
	default:
	}
}

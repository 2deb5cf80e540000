package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nantokaworks/choice-wheel/internal/localspin"
	"github.com/nantokaworks/choice-wheel/internal/spin"
)

// terminal prints spin events for one or more wheels. It serves both the
// shared coordinator and the local controller.
type terminal struct {
	out io.Writer

	mu        sync.Mutex
	lastLabel string
	// armed は自分のスピンが始まってから立つ。それまでの祝福では done を送らない
	armed bool
	done  chan string
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, done: make(chan string, 1)}
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) tick(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if label == t.lastLabel {
		return
	}
	t.lastLabel = label
	fmt.Fprintf(t.out, "\r  ▶ %-24s", label)
}

func (t *terminal) arm() {
	t.mu.Lock()
	t.armed = true
	t.mu.Unlock()
}

func (t *terminal) finish(winner string) {
	t.mu.Lock()
	armed := t.armed
	t.mu.Unlock()
	if !armed {
		return
	}
	select {
	case t.done <- winner:
	default:
	}
}

// coordinator.Listener

func (t *terminal) OnSpinRequested(wheelID string) {
	t.printf("spin requested on %s\n", wheelID)
}

func (t *terminal) OnAnimationStart(wheelID string, initiator bool) {
	t.mu.Lock()
	t.lastLabel = ""
	t.mu.Unlock()
	if initiator {
		t.arm()
		t.printf("🎡 spinning...\n")
		return
	}
	t.printf("🎡 someone is spinning %s...\n", wheelID)
}

func (t *terminal) OnAnimationTick(_ string, tick localspin.Tick) {
	t.tick(tick.Label)
}

func (t *terminal) OnAnimationStop(string) {
	t.printf("\n")
}

func (t *terminal) OnSpinResolved(_ string, winner string, angle float64) {
	t.printf("\r  ■ %-24s (%.0f°)\n", winner, spin.Normalize(angle))
}

func (t *terminal) OnCelebrate(_ string, winner string) {
	t.printf("🎉 %s\n", winner)
	t.finish(winner)
}

func (t *terminal) OnError(wheelID string, err error) {
	t.printf("\n⚠ %s: %v\n", wheelID, err)
}

// localspin.Listener

func (t *terminal) OnTick(tick localspin.Tick) {
	t.tick(tick.Label)
}

func (t *terminal) OnComplete(res spin.Result) {
	t.printf("\r  ■ %-24s (%.0f°)\n", res.Winner, spin.Normalize(res.EndAngle))
}

func (t *terminal) OnWin(winner string) {
	t.printf("🎉 %s\n", winner)
	t.finish(winner)
}

func formatSlices(slices []string) string {
	return strings.Join(slices, " / ")
}

// Package localspin drives one wheel's spin animation on a single client.
package localspin

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"go.uber.org/zap"
)

const (
	DefaultDuration     = 4200 * time.Millisecond
	DefaultTickInterval = 120 * time.Millisecond
)

var (
	ErrAlreadySpinning = errors.New("spin already in progress")
	ErrClosed          = errors.New("controller closed")
)

// State はコントローラーの状態。
type State int

const (
	Idle State = iota
	Spinning
)

func (s State) String() string {
	if s == Spinning {
		return "spinning"
	}
	return "idle"
}

// Tick はアニメーション中の途中経過。
type Tick struct {
	Angle    float64
	Progress float64
	Index    int
	Label    string
}

// Listener receives animation events. Every callback is made with the
// controller's emit lock held and must not call Cancel, SnapTo or Close.
type Listener interface {
	OnTick(Tick)
	OnComplete(result spin.Result)
	OnWin(winner string)
}

type Config struct {
	Duration     time.Duration
	TickInterval time.Duration
}

type Controller struct {
	resolver *spin.Resolver
	cfg      Config
	listener Listener

	// emitMu serializes listener callbacks with transitions out of Spinning.
	emitMu sync.Mutex

	mu        sync.Mutex
	state     State
	closed    bool
	angle     float64
	fromAngle float64
	slices    []string
	startedAt time.Time
	gen       uint64
	timer     *time.Timer
	stopTick  chan struct{}
}

func New(resolver *spin.Resolver, cfg Config, listener Listener) *Controller {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if resolver == nil {
		resolver = spin.NewResolver(spin.DefaultExtraTurns)
	}
	if listener == nil {
		listener = nopListener{}
	}
	return &Controller{resolver: resolver, cfg: cfg, listener: listener}
}

// Start begins a spin. While a spin is running it returns ErrAlreadySpinning
// and leaves the running spin untouched.
func (c *Controller) Start(slices []string, forcedWinner *string) (spin.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return spin.Result{}, ErrClosed
	}
	if c.state == Spinning {
		return spin.Result{}, ErrAlreadySpinning
	}

	res, err := c.resolver.Resolve(slices, forcedWinner, c.angle)
	if err != nil {
		return spin.Result{}, err
	}

	c.gen++
	gen := c.gen
	c.state = Spinning
	c.fromAngle = c.angle
	c.angle = res.EndAngle
	c.slices = append([]string(nil), slices...)
	c.startedAt = time.Now()

	stop := make(chan struct{})
	c.stopTick = stop
	go c.tickLoop(gen, stop)
	c.timer = time.AfterFunc(c.cfg.Duration, func() { c.finish(gen, res) })

	logger.Debug("Local spin started",
		zap.Int("winner_index", res.WinnerIndex),
		zap.Float64("end_angle", res.EndAngle))

	return res, nil
}

// SnapTo stops any running spin and rotates forward just enough to show winner.
func (c *Controller) SnapTo(slices []string, winner string) (spin.Result, error) {
	c.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.resolver.Snap(slices, winner, c.angle)
	if err != nil {
		return spin.Result{}, err
	}
	c.angle = res.EndAngle
	return res, nil
}

// Cancel stops the running spin. No callback for it fires after Cancel returns.
func (c *Controller) Cancel() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Close cancels everything and rejects further spins.
func (c *Controller) Close() {
	c.Cancel()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Angle returns the committed angle. During a spin this is the target angle.
func (c *Controller) Angle() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.angle
}

func (c *Controller) stopLocked() {
	if c.state != Spinning {
		return
	}
	c.gen++
	c.state = Idle
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	// 途中で止めた場合は表示中の角度ではなく目標角度に留める
}

func (c *Controller) finish(gen uint64, res spin.Result) {
	c.emitMu.Lock()
	c.mu.Lock()
	if c.gen != gen || c.state != Spinning {
		c.mu.Unlock()
		c.emitMu.Unlock()
		return
	}
	c.timer = nil
	c.stopLocked()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	// emitMu を持ったまま通知するので、Cancel/Close は通知の完了を待つ
	logger.Debug("Local spin finished", zap.String("winner", res.Winner))
	c.listener.OnComplete(res)
	c.listener.OnWin(res.Winner)
}

func (c *Controller) tickLoop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if !c.emitTick(gen, now) {
				return
			}
		}
	}
}

func (c *Controller) emitTick(gen uint64, now time.Time) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.gen != gen || c.state != Spinning {
		c.mu.Unlock()
		return false
	}
	progress := float64(now.Sub(c.startedAt)) / float64(c.cfg.Duration)
	if progress > 1 {
		progress = 1
	}
	angle := c.fromAngle + (c.angle-c.fromAngle)*easeOutCubic(progress)
	idx := spin.IndexAt(len(c.slices), angle)
	tick := Tick{Angle: angle, Progress: progress, Index: idx}
	if idx >= 0 {
		tick.Label = c.slices[idx]
	}
	c.mu.Unlock()

	c.listener.OnTick(tick)
	return true
}

func easeOutCubic(p float64) float64 {
	return 1 - math.Pow(1-p, 3)
}

type nopListener struct{}

func (nopListener) OnTick(Tick)            {}
func (nopListener) OnComplete(spin.Result) {}
func (nopListener) OnWin(string)           {}

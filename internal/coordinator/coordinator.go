// Package coordinator synchronizes spins of one shared wheel across clients
// through the document store. The document is authoritative; local animation
// timers are advisory.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/identity"
	"github.com/nantokaworks/choice-wheel/internal/localspin"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

const DefaultCompleteCooldown = 2000 * time.Millisecond

var (
	ErrAlreadySpinning   = errors.New("already spinning")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrSyncWriteFailed   = errors.New("failed to write spin result")
	ErrInvalidTransition = errors.New("invalid spin transition")
)

// Authorizer decides access to a wheel document.
type Authorizer interface {
	CanView(user types.User, w types.Wheel) bool
	CanSpin(user types.User, w types.Wheel) bool
}

// DocumentAuthorizer reads access straight from the wheel's owner,
// participants and visibility.
type DocumentAuthorizer struct{}

func (DocumentAuthorizer) CanView(user types.User, w types.Wheel) bool { return w.CanView(user) }
func (DocumentAuthorizer) CanSpin(user types.User, w types.Wheel) bool { return w.CanSpin(user) }

// Listener is the presentation side of a coordinator. Calls for one wheel are
// not made concurrently, except OnAnimationTick which may overlap the others.
type Listener interface {
	OnSpinRequested(wheelID string)
	OnAnimationStart(wheelID string, initiator bool)
	OnAnimationTick(wheelID string, tick localspin.Tick)
	OnAnimationStop(wheelID string)
	OnSpinResolved(wheelID, winner string, angle float64)
	OnCelebrate(wheelID, winner string)
	OnError(wheelID string, err error)
}

type Config struct {
	Duration         time.Duration
	TickInterval     time.Duration
	ExtraTurns       int
	CompleteCooldown time.Duration
	TxAttempts       uint
	Now              func() time.Time
	// Resolver overrides the resolver built from ExtraTurns.
	Resolver *spin.Resolver
}

type Coordinator struct {
	store    docstore.Store
	ident    identity.Provider
	auth     Authorizer
	listener Listener
	cfg      Config
	resolver *spin.Resolver
	tr       Transitions

	mu     sync.Mutex
	wheels map[string]*wheelState
}

type wheelState struct {
	id   string
	ctrl *localspin.Controller

	// snapMu serializes snapshot handling.
	snapMu sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	observing   bool
	animating   bool
	initiator   bool
	spinTS      int64
	lastSeen    int64
	slices      []string
	forced      *string
	forcedSet   bool
	completeOff bool
	cooldown    *time.Timer
	stop        func()
}

func New(store docstore.Store, ident identity.Provider, auth Authorizer, listener Listener, cfg Config) *Coordinator {
	if ident == nil {
		ident = identity.Anonymous{}
	}
	if auth == nil {
		auth = DocumentAuthorizer{}
	}
	if listener == nil {
		listener = NopListener{}
	}
	if cfg.CompleteCooldown <= 0 {
		cfg.CompleteCooldown = DefaultCompleteCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	resolver := cfg.Resolver
	if resolver == nil {
		turns := cfg.ExtraTurns
		if turns <= 0 {
			turns = spin.DefaultExtraTurns
		}
		resolver = spin.NewResolver(turns)
	}

	return &Coordinator{
		store:    store,
		ident:    ident,
		auth:     auth,
		listener: listener,
		cfg:      cfg,
		resolver: resolver,
		tr:       Transitions{Store: store, Auth: auth, Now: cfg.Now, Attempts: cfg.TxAttempts},
		wheels:   make(map[string]*wheelState),
	}
}

func (c *Coordinator) state(wheelID string) *wheelState {
	c.mu.Lock()
	defer c.mu.Unlock()

	ws, ok := c.wheels[wheelID]
	if !ok {
		ws = &wheelState{id: wheelID, ctx: context.Background()}
		ws.ctrl = localspin.New(c.resolver, localspin.Config{
			Duration:     c.cfg.Duration,
			TickInterval: c.cfg.TickInterval,
		}, &animationListener{c: c, ws: ws})
		c.wheels[wheelID] = ws
	}
	return ws
}

// RequestSpinStart starts a spin on the shared wheel. forcedWinner, when set,
// is used by this client's animation once the spinning state comes back
// through the subscription.
func (c *Coordinator) RequestSpinStart(ctx context.Context, wheelID string, forcedWinner *string) error {
	user, ok := c.ident.CurrentUser()
	if !ok {
		return ErrPermissionDenied
	}

	ws := c.state(wheelID)
	ws.mu.Lock()
	ws.forced = forcedWinner
	ws.forcedSet = true
	ws.mu.Unlock()

	if _, err := c.tr.Start(ctx, user, wheelID); err != nil {
		ws.mu.Lock()
		if !ws.animating {
			ws.forced = nil
			ws.forcedSet = false
		}
		ws.mu.Unlock()

		logger.Info("Spin request rejected",
			zap.String("wheel_id", wheelID),
			zap.String("user_id", user.ID),
			zap.Error(err))
		return err
	}

	logger.Info("Spin requested",
		zap.String("wheel_id", wheelID),
		zap.String("user_id", user.ID))
	c.listener.OnSpinRequested(wheelID)
	return nil
}

// ReportSpinComplete writes winner when this client initiated the running
// spin. A second call within the cooldown window is a no-op, as is a call from
// a client that did not initiate the spin.
func (c *Coordinator) ReportSpinComplete(ctx context.Context, wheelID, winner string) error {
	ws := c.state(wheelID)

	ws.mu.Lock()
	if ws.completeOff {
		ws.mu.Unlock()
		logger.Debug("Duplicate spin completion ignored", zap.String("wheel_id", wheelID))
		return nil
	}
	ws.completeOff = true
	ws.cooldown = time.AfterFunc(c.cfg.CompleteCooldown, func() {
		ws.mu.Lock()
		ws.completeOff = false
		ws.cooldown = nil
		ws.mu.Unlock()
	})
	ws.mu.Unlock()

	user, ok := c.ident.CurrentUser()
	if !ok {
		return nil
	}

	_, committed, err := c.tr.Resolve(ctx, user, wheelID, winner)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSyncWriteFailed, err)
		logger.Error("Failed to write spin result",
			zap.String("wheel_id", wheelID),
			zap.String("winner", winner),
			zap.Error(err))
		c.listener.OnError(wheelID, err)
		return err
	}
	if !committed {
		logger.Debug("Not the spin initiator, result not written",
			zap.String("wheel_id", wheelID),
			zap.String("user_id", user.ID))
		return nil
	}

	logger.Info("Spin result written",
		zap.String("wheel_id", wheelID),
		zap.String("winner", winner))
	return nil
}

// Observe subscribes to the wheel and drives the local animation from its
// snapshots until stop is called or ctx is done.
func (c *Coordinator) Observe(ctx context.Context, wheelID string) (func(), error) {
	ws := c.state(wheelID)

	ws.mu.Lock()
	if ws.observing {
		ws.mu.Unlock()
		return nil, fmt.Errorf("wheel %s is already observed", wheelID)
	}
	ws.observing = true
	ws.ctx = ctx
	ws.mu.Unlock()

	unsubscribe, err := c.store.Subscribe(ctx, wheelID,
		func(w types.Wheel) { c.handleSnapshot(ws, w) },
		func(err error) {
			logger.Warn("Wheel subscription error",
				zap.String("wheel_id", wheelID),
				zap.Error(err))
			c.listener.OnError(wheelID, err)
		})
	if err != nil {
		ws.mu.Lock()
		ws.observing = false
		ws.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			unsubscribe()
			ws.ctrl.Cancel()

			ws.mu.Lock()
			ws.observing = false
			ws.animating = false
			ws.stop = nil
			if ws.cooldown != nil {
				ws.cooldown.Stop()
				ws.cooldown = nil
				ws.completeOff = false
			}
			ws.mu.Unlock()
		})
	}

	ws.mu.Lock()
	ws.stop = stop
	ws.mu.Unlock()

	return stop, nil
}

// Close stops every observation.
func (c *Coordinator) Close() {
	c.mu.Lock()
	wheels := make([]*wheelState, 0, len(c.wheels))
	for _, ws := range c.wheels {
		wheels = append(wheels, ws)
	}
	c.mu.Unlock()

	for _, ws := range wheels {
		ws.mu.Lock()
		stop := ws.stop
		ws.mu.Unlock()
		if stop != nil {
			stop()
		}
		ws.ctrl.Close()
	}
}

func (c *Coordinator) handleSnapshot(ws *wheelState, w types.Wheel) {
	ws.snapMu.Lock()
	defer ws.snapMu.Unlock()

	user, _ := c.ident.CurrentUser()
	if !c.auth.CanView(user, w) {
		c.stopAnimation(ws)
		c.listener.OnError(ws.id, ErrPermissionDenied)
		return
	}

	slices := types.CleanSlices(w.Slices)

	ws.mu.Lock()
	ws.slices = slices
	ws.mu.Unlock()

	switch p := w.Spin.Phase().(type) {
	case types.Spinning:
		c.startAnimation(ws, user, p, slices)

	case types.Resolved:
		c.stopAnimation(ws)

		ws.mu.Lock()
		fresh := p.Timestamp > ws.lastSeen
		if fresh {
			ws.lastSeen = p.Timestamp
		}
		ws.mu.Unlock()
		if !fresh {
			return
		}

		// 勝者がスライスに無くても結果は確定済みなので祝う。角度はそのまま
		angle := ws.ctrl.Angle()
		res, err := ws.ctrl.SnapTo(slices, p.Winner)
		if err != nil {
			logger.Warn("Failed to snap to winner",
				zap.String("wheel_id", ws.id),
				zap.String("winner", p.Winner),
				zap.Error(err))
			c.listener.OnError(ws.id, err)
		} else {
			angle = res.EndAngle
		}
		logger.Info("Spin resolved",
			zap.String("wheel_id", ws.id),
			zap.String("winner", p.Winner),
			zap.Int64("timestamp", p.Timestamp))
		c.listener.OnSpinResolved(ws.id, p.Winner, angle)
		c.listener.OnCelebrate(ws.id, p.Winner)

	default:
		c.stopAnimation(ws)
	}
}

func (c *Coordinator) startAnimation(ws *wheelState, user types.User, p types.Spinning, slices []string) {
	ws.mu.Lock()
	// 解決済みか再生中のスピン以前のスナップショットは再配信なので無視する
	if p.Timestamp <= ws.lastSeen || (ws.animating && p.Timestamp <= ws.spinTS) {
		ws.mu.Unlock()
		return
	}
	restart := ws.animating
	initiator := user.ID != "" && p.Initiator == user.ID
	var forced *string
	if initiator && ws.forcedSet {
		forced = ws.forced
	}
	ws.forced = nil
	ws.forcedSet = false
	ws.animating = true
	ws.initiator = initiator
	ws.spinTS = p.Timestamp
	ws.mu.Unlock()

	if restart {
		ws.ctrl.Cancel()
	}

	// フォロワーの結果は見た目だけで、勝者はドキュメントから届く
	if _, err := ws.ctrl.Start(slices, forced); err != nil {
		ws.mu.Lock()
		ws.animating = false
		ws.mu.Unlock()
		logger.Warn("Failed to start local animation",
			zap.String("wheel_id", ws.id),
			zap.Error(err))
		c.listener.OnError(ws.id, err)
		return
	}

	logger.Debug("Local animation started",
		zap.String("wheel_id", ws.id),
		zap.Bool("initiator", initiator))
	c.listener.OnAnimationStart(ws.id, initiator)
}

func (c *Coordinator) stopAnimation(ws *wheelState) {
	ws.mu.Lock()
	wasAnimating := ws.animating
	ws.animating = false
	ws.initiator = false
	ws.mu.Unlock()

	if !wasAnimating {
		return
	}
	ws.ctrl.Cancel()
	c.listener.OnAnimationStop(ws.id)
}

type animationListener struct {
	c  *Coordinator
	ws *wheelState
}

func (l *animationListener) OnTick(t localspin.Tick) {
	l.c.listener.OnAnimationTick(l.ws.id, t)
}

func (l *animationListener) OnComplete(res spin.Result) {
	l.ws.mu.Lock()
	report := l.ws.animating && l.ws.initiator
	ctx := l.ws.ctx
	l.ws.mu.Unlock()

	if !report {
		return
	}
	// エラーは listener に通知済み
	_ = l.c.ReportSpinComplete(ctx, l.ws.id, res.Winner)
}

// OnWin is ignored; the celebration comes from the document.
func (l *animationListener) OnWin(string) {}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) OnSpinRequested(string)                 {}
func (NopListener) OnAnimationStart(string, bool)          {}
func (NopListener) OnAnimationTick(string, localspin.Tick) {}
func (NopListener) OnAnimationStop(string)                 {}
func (NopListener) OnSpinResolved(string, string, float64) {}
func (NopListener) OnCelebrate(string, string)             {}
func (NopListener) OnError(string, error)                  {}

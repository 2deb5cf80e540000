package webserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/coordinator"
	"github.com/nantokaworks/choice-wheel/internal/eventbus"
	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/metrics"
	"github.com/nantokaworks/choice-wheel/internal/rbac"
	"github.com/nantokaworks/choice-wheel/internal/settings"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/sounds"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"go.uber.org/zap"
)

var httpServer *http.Server

// Options are the server's collaborators. Enforcer, Bus and Sounds are optional.
type Options struct {
	Store          *localdb.WheelStore
	Enforcer       *rbac.Enforcer
	Settings       *settings.SettingsManager
	Bus            *eventbus.Bus
	Sounds         *sounds.Catalog
	PublicBaseURL  string
	AllowedOrigins []string
	TxAttempts     uint
	ExtraTurns     int
	Now            func() time.Time
}

type Server struct {
	opts     Options
	auth     coordinator.Authorizer
	tr       coordinator.Transitions
	resolver *spin.Resolver
	hub      *WSHub
	mux      *http.ServeMux
	stopBus  func()

	preflight map[string]bool
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	if opts.ExtraTurns <= 0 {
		opts.ExtraTurns = spin.DefaultExtraTurns
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")

	var auth coordinator.Authorizer = coordinator.DocumentAuthorizer{}
	if opts.Enforcer != nil {
		auth = opts.Enforcer
	}

	s := &Server{
		opts:     opts,
		auth:     auth,
		tr:       coordinator.Transitions{Store: opts.Store, Auth: auth, Now: opts.Now, Attempts: opts.TxAttempts},
		resolver: spin.NewResolver(opts.ExtraTurns),
		hub:      newWSHub(opts.AllowedOrigins),
		mux:      http.NewServeMux(),

		preflight: make(map[string]bool),
	}

	opts.Store.OnResolved(s.onSpinResolved)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("POST /api/users", s.handleCreateUser)
	s.handle("GET /api/me", s.requireUser(s.handleMe))

	s.handle("POST /api/wheels", s.requireUser(s.handleCreateWheel))
	s.handle("GET /api/wheels", s.requireUser(s.handleListWheels))
	s.handle("GET /api/wheels/{id}", s.handleGetWheel)
	s.handle("DELETE /api/wheels/{id}", s.requireUser(s.handleDeleteWheel))
	s.handle("PUT /api/wheels/{id}/slices", s.requireUser(s.handleUpdateSlices))
	s.handle("PUT /api/wheels/{id}/participants", s.requireUser(s.handleUpdateParticipants))
	s.handle("PUT /api/wheels/{id}/visibility", s.requireUser(s.handleUpdateVisibility))
	s.handle("GET /api/wheels/{id}/history", s.handleHistory)
	s.handle("GET /api/wheels/{id}/qr", s.handleQR)

	s.handle("GET /api/docs/wheels/{id}", s.handleGetDocument)
	s.handle("PUT /api/docs/wheels/{id}/spin", s.requireUser(s.handlePutSpin))
	s.handle("POST /api/wheels/{id}/spin/start", s.requireUser(s.handleSpinStart))
	s.handle("POST /api/wheels/{id}/spin/complete", s.requireUser(s.handleSpinComplete))

	s.handle("GET /api/stats", s.handleStats)
	s.handle("GET /api/settings", s.handleSettings)
	s.handle("GET /api/sounds", s.handleSounds)
	s.handle("GET /sounds/{name}", s.handleSoundFile)
	s.handle("GET /api/version", s.handleVersion)
	s.handle("GET /ws", s.handleWS)

	s.mux.Handle("GET /metrics", metrics.Handler())
}

// handle registers h with CORS, token lookup and request metrics.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	route := pattern
	if i := strings.Index(pattern, " "); i >= 0 {
		route = pattern[i+1:]
	}
	wrapped := s.corsMiddleware(s.withUser(instrument(route, h)))
	s.mux.Handle(pattern, wrapped)

	// プリフライト用
	if !strings.HasPrefix(pattern, "GET ") && !s.preflight[route] {
		s.preflight[route] = true
		s.mux.Handle("OPTIONS "+route, s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
	}
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start runs the websocket hub and forwards the spin counter to every client.
func (s *Server) Start() {
	s.hub.Start()

	ch, stop := s.opts.Bus.Subscribe(eventbus.TopicSpinCount, 8)
	s.stopBus = stop
	go func() {
		for ev := range ch {
			s.hub.Broadcast("spin_count", map[string]interface{}{"total_spins": ev.Payload})
		}
	}()
}

func (s *Server) Stop() {
	if s.stopBus != nil {
		s.stopBus()
	}
	s.hub.Stop()
}

func (s *Server) onSpinResolved(r localdb.ResolvedSpin) {
	metrics.RecordSpinResolved()
	s.opts.Bus.Publish(eventbus.TopicSpinCount, r.TotalSpins)
	s.opts.Bus.Publish(eventbus.TopicSpinResolved, map[string]interface{}{
		"wheel_id": r.Wheel.ID,
		"winner":   r.Winner,
	})
}

// corsMiddleware adds CORS headers to HTTP handlers
func (s *Server) corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(s.opts.AllowedOrigins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case originAllowed(s.opts.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack は websocket のアップグレードに必要
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status))
	}
}

// StartWebServer starts s on port.
func StartWebServer(port int, s *Server) error {
	addr := fmt.Sprintf(":%d", port)

	// 起動メッセージを表示（logger出力の前に）
	fmt.Println("")
	fmt.Println("====================================================")
	fmt.Printf("🎡 Wheel サーバーが起動しました\n")
	fmt.Printf("📡 API:       http://localhost:%d/api/\n", port)
	fmt.Printf("   WebSocket: ws://localhost:%d/ws?wheel={id}\n", port)
	fmt.Printf("   Metrics:   http://localhost:%d/metrics\n", port)
	fmt.Printf("\n")
	fmt.Printf("🔧 環境変数 WHEEL_SERVER_PORT で変更可能\n")
	fmt.Println("====================================================")
	fmt.Println("")

	logger.Info("Starting web server", zap.String("address", addr))

	s.Start()

	httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine and wait briefly to check for immediate errors
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// Wait briefly to catch immediate binding errors
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			s.Stop()
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
	}

	return nil
}

// Shutdown gracefully shuts down the web server
func Shutdown(s *Server) {
	if httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
	if s != nil {
		s.Stop()
	}
}

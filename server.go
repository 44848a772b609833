package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/interpose/middleware"
	"github.com/justinas/alice"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const healthTimeout = 2 * time.Second

const (
	limiterSweepEvery = time.Minute
	limiterIdleAfter  = 5 * time.Minute
)

// rateLimiter is a per-IP token bucket. A background sweep forgets idle
// clients until stop is called.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*bucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

func newRateLimiter(rate int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go rl.sweepLoop(limiterSweepEvery)
	return rl
}

func (rl *rateLimiter) sweepLoop(every time.Duration) {
	defer close(rl.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.quit:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// sweep drops buckets not used since limiterIdleAfter before now.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.visitors {
		if now.Sub(b.lastSeen) > limiterIdleAfter {
			delete(rl.visitors, ip)
		}
	}
}

// stop ends the sweep and waits for it to return. It is safe to call twice.
func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.quit) })
	<-rl.done
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &bucket{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	if refill := int(now.Sub(b.lastSeen) / rl.interval); refill > 0 {
		b.tokens = min(b.tokens+refill*rl.rate, rl.rate)
		b.lastSeen = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Server is the main HTTP server.
type Server struct {
	handler  http.Handler
	store    RecordStore
	analyzer *Analyzer
	sse      *Broadcaster
	log      *slog.Logger
	mutantRL *rateLimiter // nil when rate limiting is disabled
	maxBody  int64
}

// NewServer creates a configured HTTP server.
func NewServer(store RecordStore, cfg *Config, log *slog.Logger) *Server {
	s := &Server{
		store:    store,
		analyzer: NewAnalyzer(store, cfg.DNA, log),
		sse:      NewBroadcaster(log),
		log:      log,
		maxBody:  cfg.Server.MaxBodyBytes,
	}
	if cfg.Server.RateLimit > 0 {
		s.mutantRL = newRateLimiter(cfg.Server.RateLimit, time.Second)
	}
	s.analyzer.onStored = s.publishStats
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	POST := router.Methods("POST").Subrouter()
	GET := router.Methods("GET", "HEAD").Subrouter()

	// Log all requests to STDOUT
	logged := alice.New(middleware.GorillaLog())

	GET.Handle("/", logged.ThenFunc(s.handleIndex))
	GET.Handle("/health", logged.ThenFunc(s.handleHealth))
	GET.Handle("/stats", logged.ThenFunc(s.handleStats))
	POST.Handle("/mutant", logged.ThenFunc(s.handleMutant))

	// Event streams are long-lived and stay out of the access log.
	GET.HandleFunc("/stats/events", s.handleStatsEvents)

	router.NotFoundHandler = logged.ThenFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, "not found", http.StatusNotFound)
	})

	return alice.New(securityHeaders).Then(router)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the background work started by NewServer. The store is
// owned by the caller and stays open.
func (s *Server) Close() {
	if s.mutantRL != nil {
		s.mutantRL.stop()
	}
}

// HTTPServer wraps s in an *http.Server listening on cfg.Port.
func (s *Server) HTTPServer(cfg ServerConfig) *http.Server {
	var h http.Handler = s
	if cfg.H2C {
		h = h2c.NewHandler(s, &http2.Server{})
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// --- Handlers ---

// GET /: welcome message.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Mutant DNA Analyzer API"})
}

// GET /health: liveness plus store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.WarnContext(ctx, "store ping failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /mutant: classify a DNA grid; 200 for mutant, 403 for human.
func (s *Server) handleMutant(w http.ResponseWriter, r *http.Request) {
	if s.mutantRL != nil && !s.mutantRL.allow(clientIP(r)) {
		jsonError(w, "too many requests, retry later", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req struct {
		DNA []string `json:"dna"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "field 'dna' required: a list of strings", http.StatusBadRequest)
		return
	}

	mutant, err := s.analyzer.Analyze(r.Context(), req.DNA)
	if err != nil {
		if isInputError(err) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.ErrorContext(r.Context(), "analyze dna", "err", err)
		jsonError(w, "an error occurred while checking mutant", http.StatusInternalServerError)
		return
	}

	if mutant {
		writeJSON(w, http.StatusOK, map[string]string{"message": "DNA is mutant"})
		return
	}
	writeJSON(w, http.StatusForbidden, map[string]string{"message": "DNA is not mutant"})
}

// GET /stats: mutant and human counts with their ratio.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := ComputeStats(r.Context(), s.store)
	if err != nil {
		s.log.ErrorContext(r.Context(), "compute stats", "err", err)
		jsonError(w, "an error occurred while getting stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /stats/events: SSE stream of stats snapshots.
func (s *Server) handleStatsEvents(w http.ResponseWriter, r *http.Request) {
	s.sse.ServeSSE(w, r, func(ctx context.Context) (Stats, error) {
		return ComputeStats(ctx, s.store)
	})
}

// publishStats pushes a new snapshot to stats subscribers.
func (s *Server) publishStats(ctx context.Context, _ *Record) {
	if s.sse.Subscribers() == 0 {
		return
	}
	st, err := ComputeStats(ctx, s.store)
	if err != nil {
		s.log.WarnContext(ctx, "publish stats", "err", err)
		return
	}
	s.sse.Publish(st)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

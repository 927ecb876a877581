// Package server exposes the webhook intake and the operator API over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vmaliev/crypto/internal/engine"
	"github.com/vmaliev/crypto/internal/monitoring"
	"github.com/vmaliev/crypto/internal/safety"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body
const SignatureHeader = "X-Signature"

// Logger is the subset of the bot logger used by the server
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(context string, message string, args ...interface{})
	Error(format string, args ...interface{})
}

// Config controls the listener and the webhook limits
type Config struct {
	Addr string `json:"addr" yaml:"addr"`
	// OperatorToken, when set, is required as a bearer token on operator endpoints
	OperatorToken   string        `json:"-" yaml:"-"`
	MaxBodyBytes    int64         `json:"max_body_bytes" yaml:"max_body_bytes"`
	WebhookRate     float64       `json:"webhook_rate" yaml:"webhook_rate"`
	WebhookBurst    int           `json:"webhook_burst" yaml:"webhook_burst"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns the listener defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodyBytes:    64 << 10,
		WebhookRate:     2,
		WebhookBurst:    10,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.WebhookRate <= 0 {
		c.WebhookRate = d.WebhookRate
	}
	if c.WebhookBurst <= 0 {
		c.WebhookBurst = d.WebhookBurst
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// Server routes HTTP requests to the engine
type Server struct {
	engine  *engine.Engine
	cfg     Config
	logger  Logger
	limiter *safety.KeyedRateLimiter
	hub     *Hub
	mux     *http.ServeMux

	mu     sync.Mutex
	http   *http.Server
	addr   string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the server and its routes
func New(eng *engine.Engine, cfg Config, logger Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		engine:  eng,
		cfg:     cfg,
		logger:  logger,
		limiter: safety.NewKeyedRateLimiter("webhook", cfg.WebhookBurst, cfg.WebhookRate, 10*time.Minute),
		hub:     NewHub(logger),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)

	s.mux.Handle("GET /status", s.operator(s.handleStatus))
	s.mux.Handle("GET /orders", s.operator(s.handleOrders))
	s.mux.Handle("POST /positions/close-all", s.operator(s.handleCloseAll))
	s.mux.Handle("POST /emergency-stop", s.operator(s.handleEmergencyStop))
	s.mux.Handle("DELETE /emergency-stop", s.operator(s.handleEmergencyClear))
	s.mux.Handle("POST /circuit-breaker/reset", s.operator(s.handleBreakerReset))
	s.mux.Handle("POST /intake/resume", s.operator(s.handleResume))
	s.mux.Handle("GET /ws", s.operator(s.hub.ServeHTTP))

	s.mux.Handle("GET /metrics", s.engine.Metrics().Handler())
	s.mux.Handle("GET /health", s.engine.Health())
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the websocket event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the bound address once Start has returned
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.http = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	events, unsubscribe := s.engine.Events().Subscribe()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.hub.Run(runCtx, events)
	}()
	go func() {
		defer s.wg.Done()
		s.pruneLimiter(runCtx)
	}()

	srv := s.http
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()

	s.logger.Info("HTTP server listening on %s", s.addr)
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.http, s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, done := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer done()
	err := srv.Shutdown(shutdownCtx)
	cancel()
	s.wg.Wait()
	s.logger.Info("HTTP server stopped")
	return err
}

func (s *Server) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	metrics := s.engine.Metrics()

	if !s.limiter.Allow(clientIP(r)) {
		metrics.RecordWebhook(http.StatusTooManyRequests)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordWebhook(http.StatusRequestEntityTooLarge)
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		metrics.RecordWebhook(http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	out := s.engine.Ingest(r.Context(), body, r.Header.Get(SignatureHeader))
	status := webhookStatus(out.Status)
	metrics.RecordWebhook(status)

	// Authentication failures get no pipeline detail.
	if status == http.StatusUnauthorized {
		writeError(w, status, out.Reason)
		return
	}
	writeJSON(w, status, out)
}

// webhookStatus maps a pipeline outcome to an HTTP status. Trading
// decisions such as a risk rejection are successful deliveries.
func webhookStatus(outcome string) int {
	switch outcome {
	case monitoring.OutcomeInvalid:
		return http.StatusBadRequest
	case monitoring.OutcomeUnauthorized:
		return http.StatusUnauthorized
	case monitoring.OutcomeDuplicate:
		return http.StatusConflict
	case monitoring.OutcomeIntakeHalted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  s.engine.ActiveOrders(),
		"history": s.engine.OrderHistory(),
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	req := readReason(r)
	closed, err := s.engine.ForceCloseAll(r.Context(), req.Reason)
	resp := map[string]interface{}{"closed": closed}
	if err != nil {
		s.logger.Error("Close-all failed: %v", err)
		resp["error"] = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	req := readReason(r)
	s.engine.ActivateEmergencyStop(req.Reason)
	writeJSON(w, http.StatusOK, s.engine.SafetyStatus())
}

func (s *Server) handleEmergencyClear(w http.ResponseWriter, r *http.Request) {
	s.engine.DeactivateEmergencyStop()
	writeJSON(w, http.StatusOK, s.engine.SafetyStatus())
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetCircuitBreaker()
	writeJSON(w, http.StatusOK, s.engine.SafetyStatus())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": s.engine.ResumeIntake()})
}

// operator guards a handler with the bearer token when one is configured
func (s *Server) operator(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.OperatorToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.OperatorToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "operator token required")
				return
			}
		}
		next(w, r)
	})
}

func readReason(r *http.Request) reasonRequest {
	var req reasonRequest
	if r.Body != nil {
		_ = json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req)
	}
	return req
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

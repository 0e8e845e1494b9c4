// Package server is the HTTP boundary: WebSocket upgrades, the per-client
// receive loop, and the administrative endpoints consumed by the
// surrounding application. Authorization happens upstream, outside this
// layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"wsrelay/internal/config"
	"wsrelay/internal/feed"
	"wsrelay/internal/hub"
	"wsrelay/internal/limits"
	"wsrelay/internal/monitoring"
	"wsrelay/internal/registry"
	"wsrelay/internal/transport"
)

// Server ties the hub to its HTTP surface.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	clk    clock.Clock

	hub         *hub.Hub
	reqLimiter  *limits.SlidingWindow
	connLimiter *limits.ConnLimiter
	updateFeed  *feed.Feed

	listener   net.Listener
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shuttingDown atomic.Bool
	startedAt    time.Time
}

// New builds a server from configuration. The clock is injectable for
// tests; pass nil for the wall clock.
func New(cfg *config.Config, logger zerolog.Logger, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := hub.New(hub.Options{
		MaxConnections:    cfg.MaxConnections,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Quality: registry.QualityParams{
			Baseline: cfg.QualityBaseline,
			Cap:      cfg.QualityCap,
			Gain:     cfg.QualityGain,
		},
		Clock:  clk,
		Logger: logger,
	})

	return &Server{
		cfg:        cfg,
		logger:     logger.With().Str("component", "server").Logger(),
		clk:        clk,
		hub:        h,
		reqLimiter: limits.NewSlidingWindow(cfg.RateLimitRequests, cfg.RateLimitWindow),
		connLimiter: limits.NewConnLimiter(limits.ConnLimiterConfig{
			IPBurst:     cfg.ConnRateIPBurst,
			IPRate:      cfg.ConnRateIPRate,
			GlobalBurst: cfg.ConnRateGlobalBurst,
			GlobalRate:  cfg.ConnRateGlobalRate,
			Logger:      logger,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Hub exposes the composition facade, mainly for tests.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Addr returns the bound listen address. Valid after Start; useful when
// configured with ":0".
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.startedAt = s.clk.Now()

	if s.cfg.NATSURL != "" {
		f, err := feed.Connect(s.cfg.NATSURL, s.hub, s.logger)
		if err != nil {
			listener.Close()
			return err
		}
		s.updateFeed = f
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/v1/websocket/stats", s.handleStats)
	mux.HandleFunc("/api/v1/websocket/broadcast", s.handleBroadcast)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", monitoring.Handler())

	s.httpServer = &http.Server{
		Handler:        mux,
		ReadTimeout:    s.cfg.HTTPReadTimeout,
		WriteTimeout:   s.cfg.HTTPWriteTimeout,
		IdleTimeout:    s.cfg.HTTPIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info().
		Str("addr", s.cfg.Addr).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("Server listening")
	return nil
}

// sweepLoop reclaims fully stale rate-limiter keys.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := s.clk.Ticker(s.cfg.RateLimitWindow)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reqLimiter.Sweep(s.clk.Now())
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)

	if s.shuttingDown.Load() {
		monitoring.ConnectionsRejected.WithLabelValues(monitoring.RejectReasonShutdown).Inc()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	// Burst flood protection first, then the sliding-window request limit.
	if !s.connLimiter.Allow(clientIP) {
		monitoring.ConnectionsRejected.WithLabelValues(monitoring.RejectReasonRateLimit).Inc()
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	if !s.reqLimiter.Allow(clientIP, s.clk.Now()) {
		monitoring.RateLimited.WithLabelValues("request_window").Inc()
		monitoring.ConnectionsRejected.WithLabelValues(monitoring.RejectReasonRateLimit).Inc()
		s.logger.Warn().
			Str("client_ip", clientIP).
			Msg("Upgrade rejected: request window exhausted")
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("client_ip", clientIP).
			Msg("WebSocket upgrade failed")
		return
	}

	ch := transport.NewChannel(conn, s.cfg.WriteTimeout)
	clientID := r.URL.Query().Get("client_id")

	c, err := s.hub.Connect(ch, clientID)
	if err != nil {
		// Capacity rejections already closed the channel with a policy
		// code; anything else gets a normal close.
		if !errors.Is(err, registry.ErrCapacityExceeded) {
			ch.Close(transport.CloseNormal, "")
		}
		return
	}

	s.wg.Add(1)
	go s.receiveLoop(c.ID(), ch)
}

// receiveLoop reads inbound messages for one connection until its channel
// fails or closes. A read error cancels only this loop.
func (s *Server) receiveLoop(clientID string, ch transport.Channel) {
	defer s.wg.Done()
	defer s.hub.Disconnect(clientID)

	for {
		var msg map[string]any
		if err := ch.ReceiveJSON(&msg); err != nil {
			s.logger.Debug().
				Err(err).
				Str("client_id", clientID).
				Msg("Receive loop ended")
			return
		}
		monitoring.MessagesReceived.Inc()

		if err := s.hub.HandleInbound(clientID, msg); err != nil {
			// Reply delivery failed; the router already unregistered the
			// connection, so the next read returns an error and exits.
			s.logger.Debug().
				Err(err).
				Str("client_id", clientID).
				Msg("Inbound dispatch failed")
			return
		}
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	ack := s.hub.Broadcast(payload)
	s.logger.Info().
		Int("recipients", ack.Recipients).
		Msg("Admin broadcast sent")
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sys := monitoring.SampleSystem()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"uptime_seconds":     s.clk.Now().Sub(s.startedAt).Seconds(),
		"active_connections": s.hub.Registry().Len(),
		"max_connections":    s.hub.Registry().Cap(),
		"heartbeat_running":  s.hub.HeartbeatRunning(),
		"system":             sys,
	})
}

// Shutdown stops accepting connections, closes the feed and every live
// connection, and waits for the loops to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	s.shuttingDown.Store(true)

	if s.updateFeed != nil {
		s.updateFeed.Stop()
	}
	if s.httpServer != nil {
		s.httpServer.Shutdown(ctx)
	}

	s.hub.Shutdown()
	s.connLimiter.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clientIP extracts the caller IP, honoring X-Forwarded-For from load
// balancers.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Package server exposes the WhatsApp webhook, a health check and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/idempotency"
	"github.com/joshsymonds/the-pantry-must-flow/internal/metrics"
	"github.com/joshsymonds/the-pantry-must-flow/internal/whatsapp"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// EventHandler processes one inbound message.
type EventHandler interface {
	Handle(ctx context.Context, ev whatsapp.Event) error
}

// Config holds the webhook secrets. An empty AppSecret disables signature checks.
type Config struct {
	VerifyToken string
	AppSecret   string
}

// Server serves the webhook. Events are handled in the background after the
// request is acknowledged; Wait blocks until they finish.
type Server struct {
	engine   *gin.Engine
	handler  EventHandler
	dedupe   idempotency.Store
	metrics  *metrics.Collectors
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	baseCtx  context.Context
	inflight sync.WaitGroup
	config   Config
}

// New builds the gin engine. gatherer serves /metrics and defaults to the global registry.
func New(cfg Config, handler EventHandler, dedupe idempotency.Store, c *metrics.Collectors, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		handler:  handler,
		dedupe:   dedupe,
		metrics:  c,
		gatherer: gatherer,
		logger:   slog.Default().With("component", "server"),
		baseCtx:  context.Background(),
		config:   cfg,
	}
	s.engine = s.newEngine()
	return s
}

func (s *Server) newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/webhook", s.verifyWebhook)
	r.POST("/webhook", s.receiveWebhook)

	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// verifyWebhook answers the subscription handshake.
func (s *Server) verifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || s.config.VerifyToken == "" || token != s.config.VerifyToken {
		s.logger.Warn("webhook verification failed", "mode", mode)
		c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
		return
	}
	c.String(http.StatusOK, challenge)
}

// receiveWebhook acknowledges every well-signed delivery with 200, whatever happens
// downstream, so WhatsApp does not redeliver.
func (s *Server) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		common.LogError(err, "failed to read webhook body", nil)
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "unreadable body"})
		return
	}

	if s.config.AppSecret != "" {
		if err := whatsapp.VerifySignature(s.config.AppSecret, body, c.GetHeader(whatsapp.SignatureHeader)); err != nil {
			s.logger.Warn("rejected webhook with bad signature", "remote", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	events, err := whatsapp.ParseEvents(body)
	if err != nil {
		common.LogError(err, "failed to parse webhook payload", common.Fields{"bytes": len(body)})
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "invalid payload"})
		return
	}

	for _, ev := range events {
		s.dispatch(c.Request.Context(), ev)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) dispatch(ctx context.Context, ev whatsapp.Event) {
	eventID := uuid.NewString()
	logger := s.logger.With("event_id", eventID, "message_id", ev.MessageID, "user", ev.Sender, "type", ev.Type)
	s.metrics.WebhookEvent(ev.Type)

	first, err := s.dedupe.Claim(ctx, ev.MessageID)
	switch {
	case err != nil:
		logger.Warn("idempotency check failed, processing anyway", "error", err)
	case !first:
		s.metrics.DuplicateEvent()
		logger.Info("dropping redelivered message")
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				common.LogError(fmt.Errorf("panic: %v", r), "event handler panicked", common.Fields{"event_id": eventID})
			}
		}()

		start := time.Now()
		if err := s.handler.Handle(s.baseCtx, ev); err != nil {
			common.LogError(err, "event handling failed", common.Fields{
				"event_id":   eventID,
				"message_id": ev.MessageID,
				"user":       ev.Sender,
			})
			return
		}
		logger.Debug("event handled", "duration", time.Since(start))
	}()
}

// Wait blocks until every dispatched event has been handled.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// Run serves on addr until ctx is cancelled, then shuts down and waits for
// in-flight events.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.Wait()
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/elisa/internal/broadcast"
	"github.com/haasonsaas/elisa/internal/config"
	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/internal/ratelimit"
	"github.com/haasonsaas/elisa/internal/router"
)

const maxRequestBytes = 64 << 10

// runServe loads configuration, wires the engine and serves until SIGINT
// or SIGTERM.
func runServe(ctx context.Context, configPath string, debug, watch bool) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Logging, debug)
	slog.SetDefault(logger)
	logger.Info("starting ELISA",
		"version", version,
		"commit", commit,
		"config", configPath,
		"database", cfg.Database.Driver,
		"llm_provider", cfg.LLM.Provider,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		a.close(shutdownCtx)
	}()

	if watch && configPath != "" {
		err := config.Watch(ctx, configPath, 0, logger, func(next *config.Config) {
			a.router.SetPhrases(phrasesFromConfig(next.Assistant.Phrases))
		})
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		}
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("ELISA started", "addr", cfg.Server.ListenAddr, "websocket_path", cfg.Server.WebSocketPath)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("maintenance did not stop in time", "error", err)
	}
	logger.Info("ELISA stopped gracefully")
	return nil
}

// httpHandler routes health, metrics, websocket and the JSON message API.
func (a *app) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if a.registry != nil {
		mux.Handle("GET "+a.cfg.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	mux.Handle(a.cfg.Server.WebSocketPath, a.hub)
	mux.HandleFunc("POST /v1/messages", a.handleMessage)
	return mux
}

type messageRequest struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	GroupID    int64  `json:"group_id"`
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *app) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if user := r.Header.Get(broadcast.UserHeader); user != "" {
		req.UserID = user
	}
	resp, err := a.handleInbound(r.Context(), broadcast.Inbound{
		ID:         req.ID,
		UserID:     req.UserID,
		GroupID:    req.GroupID,
		AuthorName: req.AuthorName,
		Text:       req.Text,
	})
	if err != nil {
		status := statusFor(err)
		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.Retry.Seconds()))))
		}
		if status == http.StatusInternalServerError {
			a.logger.ErrorContext(r.Context(), "message request failed", "error", err)
			writeJSON(w, status, errorResponse{Error: "internal error"})
			return
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, router.ErrUserRequired), errors.Is(err, router.ErrTextRequired),
		errors.Is(err, router.ErrGroupRequired), errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

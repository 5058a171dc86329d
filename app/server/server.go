// Package server exposes the bot's HTTP surface: a health probe and the
// YooKassa payment notification endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/meetupbot/app/payment"
	"github.com/m3rciful/meetupbot/core/logger"
)

// DonationConfirmer marks the donation behind a payment as paid.
type DonationConfirmer interface {
	ConfirmDonation(ctx context.Context, paymentID string) (bool, error)
}

// Options configures New.
type Options struct {
	Listen    string
	Payments  payment.Provider
	Donations DonationConfirmer
}

// Server wraps an http.Server with the bot routes.
type Server struct {
	opts Options
	srv  *http.Server
	done chan error
}

// New builds the router. Nothing listens until Start.
func New(opts Options) *Server {
	s := &Server{opts: opts}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLog)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/healthz"))
	r.Post("/payments/yookassa", s.yookassaWebhook)

	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.opts.Listen, err)
	}
	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	logger.LogEvent(ctx, logger.HTTP, slog.LevelInfo, "http.listen", slog.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	if serveErr := <-s.done; serveErr != nil && err == nil {
		err = serveErr
	}
	logger.LogEvent(ctx, logger.HTTP, slog.LevelInfo, "http.stop", slog.String("outcome", logger.Status(err)))
	return err
}

// yookassaWebhook confirms a donation after re-reading the payment from the
// provider; the notification body alone is not trusted.
func (s *Server) yookassaWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := payment.ParseNotification(r.Body)
	if err != nil {
		http.Error(w, "bad notification", http.StatusBadRequest)
		return
	}
	if !n.Succeeded() {
		w.WriteHeader(http.StatusOK)
		return
	}
	id := n.PaymentID()
	p, err := s.opts.Payments.GetPayment(ctx, id)
	if err != nil {
		logger.LogEvent(ctx, logger.HTTP, slog.LevelWarn, "payment.verify",
			slog.String("payment_id", id),
			slog.String("err", err.Error()),
		)
		http.Error(w, "payment lookup failed", http.StatusBadGateway)
		return
	}
	if p.Status != payment.StatusSucceeded {
		logger.LogEvent(ctx, logger.HTTP, slog.LevelWarn, "payment.mismatch",
			slog.String("payment_id", id),
			slog.String("status", p.Status),
		)
		w.WriteHeader(http.StatusOK)
		return
	}
	changed, err := s.opts.Donations.ConfirmDonation(ctx, id)
	if err != nil {
		logger.LogEvent(ctx, logger.HTTP, slog.LevelError, "payment.confirm",
			slog.String("payment_id", id),
			slog.String("err", err.Error()),
		)
		http.Error(w, "confirm failed", http.StatusInternalServerError)
		return
	}
	logger.LogEvent(ctx, logger.HTTP, slog.LevelInfo, "payment.confirm",
		slog.String("payment_id", id),
		slog.Bool("changed", changed),
	)
	w.WriteHeader(http.StatusOK)
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.LogEvent(r.Context(), logger.HTTP, level, "http.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Duration("duration", logger.Took(start)),
		)
	})
}

// Package notify fans a message out to every subscribed participant.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/logger"
)

const (
	defaultWorkers = 8
	defaultTimeout = 10 * time.Second
)

// Options tunes a Notifier.
type Options struct {
	Workers int
	// Timeout bounds each delivery.
	Timeout time.Duration
}

// Notifier delivers broadcasts. One failed recipient never stops the rest.
type Notifier struct {
	gw      domain.Gateway
	msg     domain.Messenger
	workers int
	timeout time.Duration
}

// New builds a Notifier.
func New(gw domain.Gateway, msg domain.Messenger, opts Options) *Notifier {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Notifier{gw: gw, msg: msg, workers: opts.Workers, timeout: opts.Timeout}
}

// NotifySubscribers sends text to every subscribed participant and returns
// the number of confirmed deliveries. The error is non-nil only when the
// recipient list could not be loaded.
func (n *Notifier) NotifySubscribers(ctx context.Context, text string) (int, error) {
	recipients, err := n.gw.ListSubscribedParticipants(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: list subscribers: %w", err)
	}
	start := time.Now()

	jobs := make(chan domain.Participant)
	var delivered, failed atomic.Int64
	var wg sync.WaitGroup
	workers := n.workers
	if workers > len(recipients) {
		workers = len(recipients)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if err := n.deliver(ctx, p, text); err != nil {
					failed.Add(1)
					continue
				}
				delivered.Add(1)
			}
		}()
	}

	skipped := 0
feed:
	for _, p := range recipients {
		if p.TelegramID == 0 {
			skipped++
			continue
		}
		select {
		case jobs <- p:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	logger.LogEvent(ctx, logger.Notify, slog.LevelInfo, "notify.summary",
		slog.Int("recipients", len(recipients)),
		slog.Int64("delivered", delivered.Load()),
		slog.Int64("failed", failed.Load()),
		slog.Int("skipped", skipped),
		slog.Duration("duration", logger.Took(start)),
	)
	return int(delivered.Load()), nil
}

func (n *Notifier) deliver(ctx context.Context, p domain.Participant, text string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	err := domain.Deliver(ctx, n.msg, p.TelegramID, text, nil)
	if err != nil {
		var derr *domain.DeliveryError
		level := slog.LevelWarn
		if errors.As(err, &derr) && errors.Is(derr.Err, context.Canceled) {
			level = slog.LevelDebug
		}
		logger.LogEvent(ctx, logger.Notify, level, "notify.fail",
			slog.Int64("participant_id", p.ID),
			slog.Int64("chat_id", p.TelegramID),
			slog.String("err", err.Error()),
		)
	}
	return err
}

// AnnounceEvent tells subscribers about a newly created active event.
func (n *Notifier) AnnounceEvent(ctx context.Context, ev domain.Event) {
	text := fmt.Sprintf("New event: %s", ev.Title)
	if !ev.Date.IsZero() {
		text += "\nDate: " + ev.Date.Format("02.01.2006")
	}
	if ev.Description != "" {
		text += "\n\n" + ev.Description
	}
	sent, err := n.NotifySubscribers(ctx, text)
	if err != nil {
		logger.LogEvent(ctx, logger.Notify, slog.LevelError, "notify.event",
			slog.Int64("event_id", ev.ID),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.LogEvent(ctx, logger.Notify, slog.LevelInfo, "notify.event",
		slog.Int64("event_id", ev.ID),
		slog.Int("delivered", sent),
	)
}

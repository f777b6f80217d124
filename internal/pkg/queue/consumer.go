package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

// BatchHandler processes one batch and returns the IDs of the deliveries
// that failed. Everything else in the batch is acknowledged.
type BatchHandler func(ctx context.Context, msgs []Message) (failed []string)

// MessageHandler processes a single delivery. A non-nil error leaves the
// message on the queue for redelivery.
type MessageHandler func(ctx context.Context, msg Message) error

// HandleEach adapts a MessageHandler into a BatchHandler that runs every
// message of the batch independently, at most concurrency at a time.
func HandleEach(h MessageHandler, concurrency int) BatchHandler {
	if concurrency < 1 {
		concurrency = 1
	}
	return func(ctx context.Context, msgs []Message) []string {
		var (
			mu     sync.Mutex
			failed []string
			g      errgroup.Group
		)
		g.SetLimit(concurrency)
		for _, m := range msgs {
			g.Go(func() error {
				if err := h(ctx, m); err != nil {
					slog.ErrorContext(ctx, "message handling failed",
						"message_id", m.MessageID, "entry_id", m.ID,
						"receive_count", m.ReceiveCount, "error", err)
					mu.Lock()
					failed = append(failed, m.ID)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		return failed
	}
}

// Poller drives a Receiver: receive a batch, hand it to the handler and
// acknowledge whatever did not fail.
type Poller struct {
	rx      Receiver
	handle  BatchHandler
	metrics *telemetry.Metrics
	// ErrorDelay is how long Run sleeps after a transport error.
	ErrorDelay time.Duration
	// IdleDelay is how long Run sleeps after an empty receive.
	IdleDelay time.Duration
}

func NewPoller(rx Receiver, handle BatchHandler, metrics *telemetry.Metrics) *Poller {
	return &Poller{rx: rx, handle: handle, metrics: metrics, ErrorDelay: time.Second, IdleDelay: 100 * time.Millisecond}
}

// PollOnce runs one receive/handle/ack cycle and returns the number of
// deliveries handled. Cancelling ctx stops the receive only: a batch that was
// received is handled and acknowledged to the end.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	msgs, err := p.rx.Receive(ctx)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	name := p.rx.Name()
	p.metrics.QueueMessage(name, "received", len(msgs))

	ctx = context.WithoutCancel(ctx)
	failed := make(map[string]struct{})
	for _, id := range p.handle(ctx, msgs) {
		failed[id] = struct{}{}
	}

	done := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := failed[m.ID]; !ok {
			done = append(done, m)
		}
	}
	p.metrics.QueueMessage(name, "failed", len(msgs)-len(done))

	if err := p.rx.Ack(ctx, done...); err != nil {
		return len(msgs), err
	}
	p.metrics.QueueMessage(name, "acked", len(done))
	return len(msgs), nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "queue consumer started", "queue", p.rx.Name())
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := p.PollOnce(ctx)
		delay := time.Duration(0)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			slog.ErrorContext(ctx, "queue poll failed", "queue", p.rx.Name(), "error", err)
			delay = p.ErrorDelay
		case n == 0:
			delay = p.IdleDelay
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

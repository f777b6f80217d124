// Package queue is the at-least-once message transport between the API and
// the workers. A delivered message stays pending until it is acknowledged;
// unacknowledged messages are redelivered with exponential backoff and moved
// to a dead-letter queue once their receive budget is spent.
package queue

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Message is one delivery of a queued message.
type Message struct {
	// ID identifies this delivery and is what Ack takes.
	ID string
	// MessageID is assigned by Send and is stable across redeliveries.
	MessageID    string
	Body         []byte
	Attributes   map[string]string
	SentAt       time.Time
	ReceiveCount int
}

// Sender enqueues messages.
type Sender interface {
	Send(ctx context.Context, body []byte, attrs map[string]string) (string, error)
}

// Receiver hands out deliveries and takes acknowledgements.
type Receiver interface {
	Name() string
	Receive(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, msgs ...Message) error
}

// Options configure one queue and its consumer.
type Options struct {
	Stream     string
	DeadLetter string
	Group      string
	Consumer   string

	// VisibilityTimeout is how long a delivery stays invisible before the
	// first redelivery. Later redeliveries double it up to BackoffMax.
	VisibilityTimeout time.Duration
	BackoffMax        time.Duration
	MaxReceiveCount   int
	BatchSize         int
	// WaitTime bounds how long Receive blocks when nothing is available.
	// Zero or less means do not block.
	WaitTime time.Duration
}

// Backoff returns how long a message delivered receiveCount times must stay
// idle before it is handed out again.
func (o Options) Backoff(receiveCount int) time.Duration {
	if receiveCount < 1 {
		receiveCount = 1
	}
	limit := o.BackoffMax
	if limit <= 0 {
		limit = math.MaxInt64
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval: o.VisibilityTimeout,
		Multiplier:      2,
		MaxInterval:     limit,
	}
	var d time.Duration
	for i := 0; i < receiveCount; i++ {
		d = b.NextBackOff()
	}
	return min(d, limit)
}

func (o Options) withDefaults() Options {
	if o.DeadLetter == "" {
		o.DeadLetter = o.Stream + "-dlq"
	}
	if o.Group == "" {
		o.Group = o.Stream + "-consumers"
	}
	if o.Consumer == "" {
		o.Consumer = "consumer-1"
	}
	if o.MaxReceiveCount < 1 {
		o.MaxReceiveCount = 3
	}
	if o.BatchSize < 1 {
		o.BatchSize = 10
	}
	return o
}

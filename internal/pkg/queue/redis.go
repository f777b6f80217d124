package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

const (
	fieldMessageID    = "message_id"
	fieldBody         = "body"
	fieldSentAt       = "sent_at"
	fieldReceiveCount = "receive_count"
	fieldSourceQueue  = "source_queue"
	fieldDeadAt       = "dead_lettered_at"
	attrPrefix        = "attr:"
)

// RedisQueue implements Sender and Receiver on a Redis stream read through a
// consumer group. Redeliveries come from the group's pending entries list.
type RedisQueue struct {
	client  redis.UniversalClient
	opts    Options
	metrics *telemetry.Metrics
}

func NewRedisQueue(client redis.UniversalClient, opts Options, metrics *telemetry.Metrics) *RedisQueue {
	return &RedisQueue{client: client, opts: opts.withDefaults(), metrics: metrics}
}

func (q *RedisQueue) Name() string { return q.opts.Stream }

// EnsureGroup creates the stream and its consumer group if needed.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue %s: create consumer group: %w", q.opts.Stream, err)
	}
	return nil
}

func (q *RedisQueue) Send(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	messageID := uuid.NewString()
	values := map[string]any{
		fieldMessageID: messageID,
		fieldBody:      body,
		fieldSentAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range attrs {
		values[attrPrefix+k] = v
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.opts.Stream, Values: values}).Err(); err != nil {
		return "", fmt.Errorf("queue %s: send: %w", q.opts.Stream, err)
	}
	return messageID, nil
}

// Receive returns up to BatchSize deliveries. Pending messages whose backoff
// has elapsed come first; messages that already used their receive budget
// are moved to the dead-letter stream instead of being returned.
func (q *RedisQueue) Receive(ctx context.Context) ([]Message, error) {
	msgs, err := q.reclaim(ctx)
	if err != nil {
		return nil, err
	}
	if len(msgs) >= q.opts.BatchSize {
		return msgs, nil
	}

	block := q.opts.WaitTime
	if block <= 0 || len(msgs) > 0 {
		block = -1
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    int64(q.opts.BatchSize - len(msgs)),
		Block:    block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return msgs, fmt.Errorf("queue %s: read: %w", q.opts.Stream, err)
	}
	for _, s := range streams {
		for _, xm := range s.Messages {
			msgs = append(msgs, decode(xm, 1))
		}
	}
	return msgs, nil
}

// reclaim pages through the pending entries list until it has BatchSize
// deliveries whose backoff elapsed, so entries still backing off never hide
// later ones that are due. Entries idle for less than the visibility timeout
// are filtered out by Redis.
func (q *RedisQueue) reclaim(ctx context.Context) ([]Message, error) {
	var out []Message
	start := "-"
	for len(out) < q.opts.BatchSize {
		pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q.opts.Stream,
			Group:  q.opts.Group,
			Idle:   q.opts.VisibilityTimeout,
			Start:  start,
			End:    "+",
			Count:  int64(q.opts.BatchSize),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return out, fmt.Errorf("queue %s: pending: %w", q.opts.Stream, err)
		}

		for _, p := range pending {
			if len(out) >= q.opts.BatchSize {
				break
			}
			msgs, err := q.reclaimEntry(ctx, p)
			if err != nil {
				return out, err
			}
			out = append(out, msgs...)
		}

		if len(pending) < q.opts.BatchSize {
			break
		}
		next, err := nextEntryID(pending[len(pending)-1].ID)
		if err != nil {
			return out, fmt.Errorf("queue %s: pending: %w", q.opts.Stream, err)
		}
		start = next
	}
	return out, nil
}

func (q *RedisQueue) reclaimEntry(ctx context.Context, p redis.XPendingExt) ([]Message, error) {
	received := int(p.RetryCount)
	wait := q.opts.Backoff(received)
	if p.Idle < wait {
		return nil, nil
	}
	if received >= q.opts.MaxReceiveCount {
		return nil, q.deadLetter(ctx, p.ID, received)
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  wait,
		Messages: []string{p.ID},
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue %s: claim %s: %w", q.opts.Stream, p.ID, err)
	}
	out := make([]Message, 0, len(claimed))
	for _, xm := range claimed {
		out = append(out, decode(xm, received+1))
	}
	return out, nil
}

// nextEntryID returns the smallest stream id greater than id.
func nextEntryID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("malformed entry id %q", id)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed entry id %q: %w", id, err)
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), nil
}

// deadLetter copies the entry to the dead-letter stream and removes it from
// the source stream.
func (q *RedisQueue) deadLetter(ctx context.Context, id string, received int) error {
	entries, err := q.client.XRangeN(ctx, q.opts.Stream, id, id, 1).Result()
	if err != nil {
		return fmt.Errorf("queue %s: read %s for dead-letter: %w", q.opts.Stream, id, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(entries) == 1 {
			values := make(map[string]any, len(entries[0].Values)+3)
			for k, v := range entries[0].Values {
				values[k] = v
			}
			values[fieldReceiveCount] = received
			values[fieldSourceQueue] = q.opts.Stream
			values[fieldDeadAt] = time.Now().UTC().Format(time.RFC3339Nano)
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.opts.DeadLetter, Values: values})
		}
		pipe.XAck(ctx, q.opts.Stream, q.opts.Group, id)
		pipe.XDel(ctx, q.opts.Stream, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue %s: dead-letter %s: %w", q.opts.Stream, id, err)
	}

	slog.WarnContext(ctx, "message moved to dead-letter queue",
		"queue", q.opts.Stream, "dead_letter_queue", q.opts.DeadLetter,
		"entry_id", id, "receive_count", received)
	q.metrics.QueueMessage(q.opts.Stream, "dead_lettered", 1)
	return nil
}

// Ack removes the deliveries from the queue for good.
func (q *RedisQueue) Ack(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.opts.Stream, q.opts.Group, ids...)
		pipe.XDel(ctx, q.opts.Stream, ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue %s: ack: %w", q.opts.Stream, err)
	}
	return nil
}

// DeadLetters returns up to n messages from the dead-letter stream, oldest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]Message, error) {
	entries, err := q.client.XRangeN(ctx, q.opts.DeadLetter, "-", "+", n).Result()
	if err != nil {
		return nil, fmt.Errorf("queue %s: read dead letters: %w", q.opts.DeadLetter, err)
	}
	out := make([]Message, 0, len(entries))
	for _, xm := range entries {
		received, _ := strconv.Atoi(stringValue(xm.Values[fieldReceiveCount]))
		out = append(out, decode(xm, received))
	}
	return out, nil
}

func decode(xm redis.XMessage, receiveCount int) Message {
	m := Message{
		ID:           xm.ID,
		MessageID:    stringValue(xm.Values[fieldMessageID]),
		Body:         []byte(stringValue(xm.Values[fieldBody])),
		ReceiveCount: receiveCount,
	}
	if t, err := time.Parse(time.RFC3339Nano, stringValue(xm.Values[fieldSentAt])); err == nil {
		m.SentAt = t
	}
	for k, v := range xm.Values {
		if name, ok := strings.CutPrefix(k, attrPrefix); ok {
			if m.Attributes == nil {
				m.Attributes = make(map[string]string)
			}
			m.Attributes[name] = stringValue(v)
		}
	}
	return m
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

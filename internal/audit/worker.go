package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskdeck/taskdeck/internal/metrics"
	"github.com/taskdeck/taskdeck/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group for audit workers.
	ConsumerGroup = "audit_workers"

	// BatchSize is the max events to read per iteration.
	BatchSize = 100

	// BlockTimeout is how long to block waiting for new events.
	BlockTimeout = 5 * time.Second

	// ClaimMinIdleTime is the min idle time before claiming pending
	// messages from dead consumers.
	ClaimMinIdleTime = 30 * time.Second

	// MaxProcessRetries is the max attempts to flush a batch to the sink.
	MaxProcessRetries = 3
)

// EventSink persists processed auth events.
type EventSink interface {
	BulkInsertAuthEvents(ctx context.Context, events []*model.AuthEvent) error
}

// Worker consumes auth events from the Redis stream and persists them.
type Worker struct {
	redis      *redis.Client
	sink       EventSink
	logger     *slog.Logger
	metrics    metrics.Recorder
	consumerID string

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewWorker creates an audit worker bound to a unique consumer ID.
func NewWorker(client *redis.Client, sink EventSink, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	consumerID := NewConsumerID()
	return &Worker{
		redis:      client,
		sink:       sink,
		logger:     logger.With("component", "audit.worker", "consumer_id", consumerID),
		metrics:    recorder,
		consumerID: consumerID,
		done:       make(chan struct{}),
	}
}

// Run starts the consume loop. Blocks until ctx is cancelled or
// Shutdown is called.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer close(w.done)
	defer cancel()

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("audit worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("audit worker stopping")
			return nil
		default:
		}

		if err := w.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.logger.Error("audit processing iteration failed", "error", err)
			// Back off briefly so a broken Redis does not spin the loop.
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// Shutdown stops the worker and waits for the in-flight batch to drain.
// Implements the server shutdown hook signature.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit worker drain: %w", ctx.Err())
	}
}

// ensureConsumerGroup creates the consumer group if it does not exist.
func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// processOnce runs one iteration: reclaim stale messages, read a fresh
// batch, persist, ack.
func (w *Worker) processOnce(ctx context.Context) error {
	if err := w.reclaimStale(ctx); err != nil {
		w.logger.Warn("failed to reclaim stale messages", "error", err)
	}

	messages, err := w.readBatch(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	w.reportQueueDepth(ctx)

	events, ids := w.parseMessages(ctx, messages)
	if len(events) > 0 {
		if err := w.processBatchWithRetry(ctx, events); err != nil {
			// Leave the batch pending; a later iteration or another
			// consumer will reclaim and retry it.
			return fmt.Errorf("process batch: %w", err)
		}
	}

	if len(ids) > 0 {
		if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
			return fmt.Errorf("xack: %w", err)
		}
	}

	return nil
}

// reclaimStale claims messages left pending by dead consumers.
func (w *Worker) reclaimStale(ctx context.Context) error {
	messages, _, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  ClaimMinIdleTime,
		Start:    "0",
		Count:    BatchSize,
	}).Result()
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		return nil
	}

	w.logger.Info("reclaimed stale audit messages", "count", len(messages))

	events, ids := w.parseMessages(ctx, messages)
	if len(events) > 0 {
		if err := w.processBatchWithRetry(ctx, events); err != nil {
			return fmt.Errorf("process reclaimed batch: %w", err)
		}
	}
	if len(ids) > 0 {
		if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
			return fmt.Errorf("xack reclaimed: %w", err)
		}
	}
	return nil
}

// readBatch reads up to BatchSize new messages, blocking up to BlockTimeout.
func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    BatchSize,
		Block:    BlockTimeout,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No new messages
		}
		return nil, err
	}

	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// parseMessages decodes stream messages into auth events. Malformed
// messages are acked and moved to the dead-letter stream so they
// cannot wedge the group.
func (w *Worker) parseMessages(ctx context.Context, messages []redis.XMessage) ([]*model.AuthEvent, []string) {
	events := make([]*model.AuthEvent, 0, len(messages))
	ids := make([]string, 0, len(messages))

	for _, msg := range messages {
		ids = append(ids, msg.ID)

		payload, ok := msg.Values["payload"].(string)
		if !ok {
			w.deadLetter(ctx, msg, "missing payload field")
			continue
		}

		var ep EventPayload
		if err := json.Unmarshal([]byte(payload), &ep); err != nil {
			w.deadLetter(ctx, msg, fmt.Sprintf("unmarshal: %v", err))
			continue
		}
		if err := ValidateEventPayload(ep); err != nil {
			w.deadLetter(ctx, msg, err.Error())
			continue
		}

		// Stream entry ID doubles as the idempotency key; redelivery
		// after a crashed ack becomes an ON CONFLICT no-op.
		events = append(events, &model.AuthEvent{
			ID:         msg.ID,
			Type:       ep.Type,
			Username:   ep.Username,
			UserID:     ep.UserID,
			ClientHash: ep.ClientHash,
			OccurredAt: time.UnixMilli(ep.OccurredAt).UTC(),
		})
	}

	return events, ids
}

// deadLetter copies a poison message to the dead-letter stream.
func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	w.logger.Warn("dead-lettering audit message", "stream_id", msg.ID, "reason", reason)
	w.metrics.IncAuditEventProcessed("dead_letter")

	err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id": msg.ID,
			"reason":      reason,
			"payload":     fmt.Sprintf("%v", msg.Values["payload"]),
		},
	}).Err()
	if err != nil {
		w.logger.Error("failed to write dead-letter message", "stream_id", msg.ID, "error", err)
	}
}

// processBatchWithRetry flushes a batch to the sink with exponential backoff.
func (w *Worker) processBatchWithRetry(ctx context.Context, events []*model.AuthEvent) error {
	start := time.Now()

	var err error
	for attempt := 0; attempt < MaxProcessRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = w.sink.BulkInsertAuthEvents(ctx, events)
		if err == nil {
			w.metrics.ObserveAuditBatchSize(len(events))
			w.metrics.ObserveAuditBatchDuration(time.Since(start))
			for range events {
				w.metrics.IncAuditEventProcessed("success")
			}
			return nil
		}

		w.logger.Warn("audit batch insert failed",
			"attempt", attempt+1,
			"batch_size", len(events),
			"error", err,
		)
	}

	for range events {
		w.metrics.IncAuditEventProcessed("failed")
	}
	return fmt.Errorf("after %d attempts: %w", MaxProcessRetries, err)
}

// reportQueueDepth publishes the current stream length as a gauge.
func (w *Worker) reportQueueDepth(ctx context.Context) {
	length, err := w.redis.XLen(ctx, StreamKey).Result()
	if err != nil {
		return
	}
	w.metrics.SetAuditQueueDepth(length)
}

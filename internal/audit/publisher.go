// Package audit provides auth event capture and processing.
// Events are operator-facing only; nothing published here is ever exposed
// to API clients.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskdeck/taskdeck/internal/metrics"
)

const (
	// StreamKey is the Redis stream for auth events.
	StreamKey = "stream:auth_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:auth_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 50000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// EventPayload is the compact event format for the Redis stream.
type EventPayload struct {
	Type       string `json:"ty"`
	Username   string `json:"un"`
	UserID     string `json:"uid,omitempty"`
	ClientHash string `json:"ch"`
	OccurredAt int64  `json:"t"` // Unix milliseconds
}

// Publisher enqueues auth events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new audit event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "audit.publisher"),
		metrics: recorder,
	}
}

// Publish adds an auth event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",  // Auto-generate ID
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget); losing an audit
// event must never fail the request that produced it.
func (p *Publisher) PublishAsync(event EventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish auth event",
				"event_type", event.Type,
				"error", err,
			)
			p.metrics.IncAuditEventPublished("dropped")
			return
		}

		p.logger.Debug("auth event published",
			"event_type", event.Type,
			"stream_id", streamID,
		)
		p.metrics.IncAuditEventPublished("success")
	}()
}

// ValidateEventPayload rejects payloads the worker could not store.
func ValidateEventPayload(event EventPayload) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// HashClientAddr creates a privacy-safe client identifier from a remote
// address. Uses SHA256(addr + daily salt) truncated to 16 hex chars; the
// salt rotates at midnight UTC so hashes cannot be correlated across days.
func HashClientAddr(addr string, occurredAt time.Time) string {
	dailySalt := fmt.Sprintf("taskdeck:%s", occurredAt.UTC().Format("2006-01-02"))

	sum := sha256.Sum256([]byte(addr + dailySalt))
	return hex.EncodeToString(sum[:])[:16]
}

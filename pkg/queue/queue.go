package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueService enqueues typed messages for a consumer process.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Job handles every message of one type. Handlers must be idempotent: a
// message may run again after a retry or a shutdown mid-flight.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

type QueueConfig struct {
	Workers       int
	RetryLimit    int           // retries after the first attempt; 0 dead-letters on first failure
	RetryDelay    time.Duration // first backoff step, doubled per attempt
	MaxRetryDelay time.Duration
	PollInterval  time.Duration // BRPOP timeout and retry promotion period
}

func (c *QueueConfig) withDefaults() QueueConfig {
	out := QueueConfig{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.MaxRetryDelay <= 0 {
		out.MaxRetryDelay = 5 * time.Minute
	}
	if out.MaxRetryDelay < out.RetryDelay {
		out.MaxRetryDelay = out.RetryDelay
	}
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	return out
}

// backoff returns the delay before retry number attempt (1-based).
func (c QueueConfig) backoff(attempt int) time.Duration {
	d := c.RetryDelay
	for i := 1; i < attempt && d < c.MaxRetryDelay; i++ {
		d *= 2
	}
	if d > c.MaxRetryDelay {
		d = c.MaxRetryDelay
	}
	return d
}

// Message is the stored envelope. Payload stays raw until a job decodes it.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// ParsePayload decodes a job payload into T. Workers hand jobs raw JSON; direct
// callers may pass T, *T or a decoded map.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var raw []byte
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case map[string]interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

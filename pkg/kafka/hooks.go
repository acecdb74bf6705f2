package kafka

import (
	"context"
	"fmt"
	"time"

	applogger "ClinicPulse/pkg/logger"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Delivery is one fetched record on its way to a handler. Hooks may rewrite
// Data before the handler sees it.
type Delivery struct {
	Topic string
	Msg   kafka.Message
	Data  []byte
}

// ConsumerHook observes message handling. An error from Before skips the
// handler and counts as a failed attempt.
type ConsumerHook interface {
	Before(ctx context.Context, d *Delivery) (context.Context, error)
	After(ctx context.Context, d *Delivery, err error)
	OnError(ctx context.Context, d *Delivery, err error)
}

type NoopHook struct{}

func (NoopHook) Before(ctx context.Context, _ *Delivery) (context.Context, error) { return ctx, nil }
func (NoopHook) After(context.Context, *Delivery, error)                          {}
func (NoopHook) OnError(context.Context, *Delivery, error)                        {}

// HookError classifies a failure raised inside a hook.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs builds a hook from optional funcs.
type HookFuncs struct {
	BeforeFn  func(context.Context, *Delivery) (context.Context, error)
	AfterFn   func(context.Context, *Delivery, error)
	OnErrorFn func(context.Context, *Delivery, error)
}

func (h HookFuncs) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	if h.BeforeFn == nil {
		return ctx, nil
	}
	return h.BeforeFn(ctx, d)
}

func (h HookFuncs) After(ctx context.Context, d *Delivery, err error) {
	if h.AfterFn != nil {
		h.AfterFn(ctx, d, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, d *Delivery, err error) {
	if h.OnErrorFn != nil {
		h.OnErrorFn(ctx, d, err)
	}
}

// HookChain runs Before in order and After in reverse. A hook panic never
// reaches the consumer; in Before it becomes an ERR_PANIC HookError.
type HookChain struct {
	hooks []ConsumerHook
}

func NewHookChain(hooks ...ConsumerHook) *HookChain {
	c := &HookChain{}
	for _, h := range hooks {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
	return c
}

func (c *HookChain) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	for _, h := range c.hooks {
		next := ctx
		err := guard(func() error {
			var err error
			next, err = h.Before(ctx, d)
			return err
		})
		if err != nil {
			c.OnError(ctx, d, err)
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func (c *HookChain) After(ctx context.Context, d *Delivery, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		_ = guard(func() error { h.After(ctx, d, err); return nil })
	}
}

func (c *HookChain) OnError(ctx context.Context, d *Delivery, err error) {
	for _, h := range c.hooks {
		_ = guard(func() error { h.OnError(ctx, d, err); return nil })
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return fn()
}

// DeliveryMeta is what TraceHook records about a delivery.
type DeliveryMeta struct {
	TraceID  string
	TenantID string
	Start    time.Time
}

type metaKey struct{}

func WithMeta(ctx context.Context, m DeliveryMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

func MetaFrom(ctx context.Context) (DeliveryMeta, bool) {
	m, ok := ctx.Value(metaKey{}).(DeliveryMeta)
	return m, ok
}

// TraceIDFrom returns the delivery trace id, or "".
func TraceIDFrom(ctx context.Context) string {
	m, _ := MetaFrom(ctx)
	return m.TraceID
}

// Header returns the value of the first header named key.
func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// TraceHook records a trace id, the tenant key and the start time. Records
// without a trace_id header get a fresh id so handler logs can be joined.
func TraceHook() ConsumerHook {
	return HookFuncs{
		BeforeFn: func(ctx context.Context, d *Delivery) (context.Context, error) {
			id := Header(d.Msg, "trace_id")
			if id == "" {
				id = uuid.NewString()
			}
			return WithMeta(ctx, DeliveryMeta{TraceID: id, TenantID: string(d.Msg.Key), Start: time.Now()}), nil
		},
	}
}

// LoggingHook logs handled records at debug and failed attempts at warn.
func LoggingHook(l *applogger.Logger) ConsumerHook {
	if l == nil {
		return NoopHook{}
	}
	return HookFuncs{
		AfterFn: func(ctx context.Context, d *Delivery, err error) {
			fields := []applogger.Field{
				applogger.String("topic", d.Topic),
				applogger.Int("partition", d.Msg.Partition),
				applogger.Int64("offset", d.Msg.Offset),
			}
			if m, ok := MetaFrom(ctx); ok {
				fields = append(fields,
					applogger.String("trace_id", m.TraceID),
					applogger.String("tenant_id", m.TenantID),
					applogger.Duration("duration_ms", time.Since(m.Start)))
			}
			if err != nil {
				l.Warn("kafka attempt failed", append(fields, applogger.Error(err))...)
				return
			}
			l.Debug("kafka message handled", fields...)
		},
	}
}

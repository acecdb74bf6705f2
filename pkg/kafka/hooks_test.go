package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	applogger "ClinicPulse/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookChainOrderAndPanicSafety(t *testing.T) {
	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			BeforeFn: func(ctx context.Context, d *Delivery) (context.Context, error) {
				order = append(order, "before:"+name)
				d.Data = append(d.Data, name...)
				return ctx, nil
			},
			AfterFn: func(context.Context, *Delivery, error) { order = append(order, "after:"+name) },
		}
	}
	panicky := HookFuncs{AfterFn: func(context.Context, *Delivery, error) { panic("boom") }}

	chain := NewHookChain(mk("a"), nil, mk("b"), panicky)
	d := &Delivery{Topic: "triggers", Data: []byte("x")}
	_, err := chain.Before(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "xab", string(d.Data))

	assert.NotPanics(t, func() { chain.After(context.Background(), d, nil) })
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)
}

func TestHookChainBeforePanicNotifiesAll(t *testing.T) {
	var notified int
	onErr := func(context.Context, *Delivery, error) { notified++ }
	failing := HookFuncs{
		BeforeFn:  func(context.Context, *Delivery) (context.Context, error) { panic("bad hook") },
		OnErrorFn: onErr,
	}
	chain := NewHookChain(HookFuncs{OnErrorFn: onErr}, failing)

	_, err := chain.Before(context.Background(), &Delivery{})
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.Equal(t, 2, notified)
}

func TestTraceHook(t *testing.T) {
	h := TraceHook()

	km := kafka.Message{Key: []byte("clinic-7"), Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, err := h.Before(context.Background(), &Delivery{Msg: km})
	require.NoError(t, err)
	m, ok := MetaFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", m.TraceID)
	assert.Equal(t, "clinic-7", m.TenantID)
	assert.False(t, m.Start.IsZero())

	ctx, err = h.Before(context.Background(), &Delivery{})
	require.NoError(t, err)
	assert.Len(t, TraceIDFrom(ctx), 36)
	assert.Equal(t, "", TraceIDFrom(context.Background()))
}

func TestLoggingHookNilLogger(t *testing.T) {
	assert.IsType(t, NoopHook{}, LoggingHook(nil))
	h := LoggingHook(applogger.Nop())
	ctx := WithMeta(context.Background(), DeliveryMeta{TraceID: "t", Start: time.Now()})
	assert.NotPanics(t, func() {
		h.After(ctx, &Delivery{Topic: "t"}, errors.New("x"))
		h.After(context.Background(), &Delivery{Topic: "t"}, nil)
	})
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

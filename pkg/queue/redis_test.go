package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ClinicPulse/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trigger struct {
	Entry    string `json:"entry"`
	TenantID string `json:"tenant_id"`
}

type recordingJob struct {
	mu   sync.Mutex
	seen []trigger
	err  error
}

func (j *recordingJob) Name() string { return "record" }
func (j *recordingJob) Type() string { return "test.trigger" }

func (j *recordingJob) Handle(_ context.Context, payload interface{}) error {
	t, err := ParsePayload[trigger](payload)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.seen = append(j.seen, *t)
	j.mu.Unlock()
	return j.err
}

func (j *recordingJob) snapshot() []trigger {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]trigger(nil), j.seen...)
}

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func startQueue(t *testing.T, q *RedisQueue) {
	t.Helper()
	require.NoError(t, q.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
}

func TestRedisQueueDeliversToJob(t *testing.T) {
	_, client := newClient(t)
	job := &recordingJob{}
	q := NewRedisQueue(logger.Nop(), &QueueConfig{Workers: 2, PollInterval: 50 * time.Millisecond}, client, WithKeyPrefix("test:queue"))
	q.RegisterJob(job)
	startQueue(t, q)
	assert.Error(t, q.Start())

	require.NoError(t, q.PublishMessage(context.Background(), "test.trigger", trigger{Entry: "risk", TenantID: "t1"}))
	require.Eventually(t, func() bool { return len(job.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, trigger{Entry: "risk", TenantID: "t1"}, job.snapshot()[0])

	assert.Error(t, q.PublishMessage(context.Background(), "unknown.type", nil))
}

func TestRedisQueueDeadLettersAfterRetries(t *testing.T) {
	_, client := newClient(t)
	job := &recordingJob{err: errors.New("boom")}
	q := NewRedisQueue(logger.Nop(), &QueueConfig{
		Workers:      1,
		RetryLimit:   1,
		RetryDelay:   time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}, client, WithKeyPrefix("test:queue"))
	q.RegisterJob(job)
	startQueue(t, q)

	require.NoError(t, q.PublishMessage(context.Background(), "test.trigger", trigger{Entry: "forecast"}))
	require.Eventually(t, func() bool {
		st, err := q.Stats(context.Background())
		return err == nil && st.Dead == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Len(t, job.snapshot(), 2)
	st, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, st)
}

func TestPublisherAndRedrive(t *testing.T) {
	mr, client := newClient(t)
	p := NewRedisPublisher(client, WithKeyPrefix("test:queue"))
	ctx := context.Background()

	require.NoError(t, p.PublishMessage(ctx, "anything", map[string]int{"n": 1}))
	queued, err := mr.List("test:queue:messages")
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.push(ctx, p.deadKey(), Message{ID: "d", Type: "anything", Attempts: 4, LastError: "boom"}))
	}
	n, err := p.RedriveDead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Queued: 3, Dead: 1}, st)

	n, err = p.RedriveDead(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPromoteDueOnlyMovesExpiredRetries(t *testing.T) {
	_, client := newClient(t)
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	q := NewRedisQueue(nil, nil, client, WithKeyPrefix("test:queue"), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, client.ZAdd(ctx, q.retryKey(),
		redis.Z{Score: float64(now.Add(-time.Second).UnixMilli()), Member: `{"id":"due"}`},
		redis.Z{Score: float64(now.Add(time.Minute).UnixMilli()), Member: `{"id":"later"}`},
	).Err())

	n, err := q.promoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Queued: 1, Retrying: 1}, st)
}

func TestBackoff(t *testing.T) {
	c := (&QueueConfig{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}).withDefaults()
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 4*time.Second, c.backoff(3))
	assert.Equal(t, 5*time.Second, c.backoff(4))

	d := (*QueueConfig)(nil).withDefaults()
	assert.Equal(t, 1, d.Workers)
	assert.Equal(t, 10*time.Second, d.RetryDelay)
	assert.Equal(t, 5*time.Minute, d.MaxRetryDelay)
}

func TestParsePayload(t *testing.T) {
	got, err := ParsePayload[trigger](map[string]interface{}{"entry": "risk", "tenant_id": "t2"})
	require.NoError(t, err)
	assert.Equal(t, "t2", got.TenantID)

	got, err = ParsePayload[trigger]([]byte(`{"entry":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", got.Entry)

	got, err = ParsePayload[trigger](trigger{Entry: "y"})
	require.NoError(t, err)
	assert.Equal(t, "y", got.Entry)

	_, err = ParsePayload[trigger](42)
	assert.Error(t, err)
}

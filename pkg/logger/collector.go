package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a digest; kafka.Producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	Service        string
	TimeInterval   time.Duration // flush period, default 30s
	CountThreshold int           // distinct entries that force an early flush, default 100
	IncludeWarn    bool
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration // default 30s
}

// LogDigest is one flush of deduplicated entries, most frequent first.
type LogDigest struct {
	Service   string        `json:"service"`
	FlushedAt time.Time     `json:"flushed_at"`
	Entries   []DigestEntry `json:"entries"`
}

type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated warn/error entries into periodic digests so a
// failing tenant loop produces one record per interval instead of thousands.
type LogCollector struct {
	config  *CollectionConfig
	now     func() time.Time
	mu      sync.Mutex
	entries map[uint64]*DigestEntry
	stop    chan struct{}
	once    sync.Once
	loop    sync.WaitGroup
	sends   sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 30 * time.Second
	}
	c := &LogCollector{
		config:  config,
		now:     time.Now,
		entries: make(map[uint64]*DigestEntry),
		stop:    make(chan struct{}),
	}
	c.loop.Add(1)
	go c.run()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := c.now()
	key := fingerprint(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.entries[key] = &DigestEntry{
		Level: level, Message: message, Fields: fields, Caller: caller,
		Count: 1, FirstSeen: now, LastSeen: now,
	}
	if len(c.entries) >= c.config.CountThreshold {
		c.flushLocked()
	}
}

// fingerprint hashes the entry identity with field keys in sorted order.
func fingerprint(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, caller, message)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (c *LogCollector) run() {
	defer c.loop.Done()
	t := time.NewTicker(c.config.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
}

func (c *LogCollector) flushLocked() {
	if len(c.entries) == 0 {
		return
	}
	out := make([]DigestEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[uint64]*DigestEntry)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	digest := LogDigest{Service: c.config.Service, FlushedAt: c.now().UTC(), Entries: out}

	c.sends.Add(1)
	go func() {
		defer c.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.PublishTimeout)
		defer cancel()
		// Written to stderr directly: logging here would feed the collector again.
		if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, digest); err != nil {
			fmt.Fprintf(os.Stderr, "log digest publish failed: topic=%s entries=%d err=%v\n", c.config.Topic, len(out), err)
		}
	}()
}

// Close flushes what is pending and waits for in-flight publishes.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.loop.Wait()
	c.sends.Wait()
}

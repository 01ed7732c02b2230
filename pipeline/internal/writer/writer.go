// Package writer accumulates canonical events into per-worker batches and
// flushes them to the columnar store. A batch is owned by exactly one worker
// goroutine; there is no cross-worker sharing and no locking on the hot
// path.
//
// Delivery contract: every accepted event ends up in the store or on the
// dead-letter topic. Message acknowledgment is deferred until disposition,
// so a crash before flush only causes redelivery, never loss.
package writer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/metrics"
)

// EventStore is the columnar store client used by the writer.
type EventStore interface {
	InsertEvents(ctx context.Context, events []*models.CanonicalEvent) error
	InsertEvent(ctx context.Context, event *models.CanonicalEvent) error
}

// DeadLetter receives events that failed terminally.
type DeadLetter interface {
	Write(ctx context.Context, entry *models.DLQEntry) error
}

// AckFunc acknowledges the bus message that carried an event. Called exactly
// once when the event reaches the store or the dead-letter topic.
type AckFunc func()

// Config bounds batch lifetime and the retry policy.
type Config struct {
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	MaxBatchAge  time.Duration `mapstructure:"max_batch_age"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	Dedup        bool          `mapstructure:"dedup"`
	DedupSize    int           `mapstructure:"dedup_size"`
}

// defaults mirror the config file defaults; they guard direct construction
// in tests.
func (c *Config) normalize() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}
	if c.MaxBatchAge <= 0 {
		c.MaxBatchAge = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	if c.DedupSize <= 0 {
		c.DedupSize = 10000
	}
}

type pending struct {
	event    *models.CanonicalEvent
	ack      AckFunc
	dedupKey string
}

// Writer is a single worker's batch accumulator. Not safe for concurrent
// use; each worker owns its own Writer.
type Writer struct {
	cfg    Config
	store  EventStore
	dlq    DeadLetter
	logger *logging.Logger
	stats  *Stats

	batch      []pending
	batchStart time.Time
	dedup      *lru.Cache[string, struct{}]
	inBatch    map[string]struct{}
}

// New constructs a writer for one worker.
func New(cfg Config, store EventStore, dlq DeadLetter, stats *Stats, logger *logging.Logger) (*Writer, error) {
	cfg.normalize()
	w := &Writer{
		cfg:    cfg,
		store:  store,
		dlq:    dlq,
		logger: logger,
		stats:  stats,
		batch:  make([]pending, 0, cfg.MaxBatchSize),
	}
	if cfg.Dedup {
		cache, err := lru.New[string, struct{}](cfg.DedupSize)
		if err != nil {
			return nil, err
		}
		w.dedup = cache
		w.inBatch = make(map[string]struct{})
	}
	return w, nil
}

// Add appends an event to the batch, flushing when the size bound is
// reached. A duplicate is acknowledged and dropped only when another copy
// is already dispositioned or still buffered in the open batch. An event
// whose copies all failed disposition is forgotten, so its redelivery is
// processed again rather than dropped.
func (w *Writer) Add(ctx context.Context, ev *models.CanonicalEvent, ack AckFunc) error {
	p := pending{event: ev, ack: ack}
	if w.dedup != nil {
		p.dedupKey = dedupKey(ev)
		if _, seen := w.dedup.Get(p.dedupKey); seen {
			ack()
			return nil
		}
		if _, buffered := w.inBatch[p.dedupKey]; buffered {
			ack()
			return nil
		}
		w.inBatch[p.dedupKey] = struct{}{}
	}

	if len(w.batch) == 0 {
		w.batchStart = time.Now()
	}
	w.batch = append(w.batch, p)
	metrics.PendingEvents.Inc()

	if len(w.batch) >= w.cfg.MaxBatchSize {
		return w.Flush(ctx, "size")
	}
	return nil
}

// commit records the event as seen and acknowledges its bus message.
func (w *Writer) commit(p pending) {
	if w.dedup != nil && p.dedupKey != "" {
		w.dedup.Add(p.dedupKey, struct{}{})
	}
	p.ack()
}

// MaybeFlush flushes when the oldest buffered event exceeds the age bound.
func (w *Writer) MaybeFlush(ctx context.Context) error {
	if len(w.batch) == 0 || time.Since(w.batchStart) < w.cfg.MaxBatchAge {
		return nil
	}
	return w.Flush(ctx, "age")
}

// Pending returns the number of buffered events.
func (w *Writer) Pending() int { return len(w.batch) }

// Flush performs one bulk write with bounded retries, falling back to
// per-event writes and finally the dead-letter topic. The batch is always
// emptied: events that could not be dispositioned are left unacknowledged
// for bus redelivery.
func (w *Writer) Flush(ctx context.Context, trigger string) error {
	if len(w.batch) == 0 {
		return nil
	}
	start := time.Now()
	batch := w.batch
	w.batch = make([]pending, 0, w.cfg.MaxBatchSize)
	clear(w.inBatch)
	metrics.PendingEvents.Sub(float64(len(batch)))

	events := make([]*models.CanonicalEvent, len(batch))
	for i, p := range batch {
		events[i] = p.event
	}

	err := w.insertWithRetry(ctx, events)
	if err == nil {
		for _, p := range batch {
			w.commit(p)
		}
		w.stats.AddStored(len(batch))
		metrics.BatchFlushes.WithLabelValues(trigger).Inc()
		metrics.BatchFlushDuration.Observe(time.Since(start).Seconds())
		return nil
	}

	w.logger.Warn("bulk flush failed, falling back to per-event writes",
		logging.Count(len(batch)), logging.Error(err))
	w.perEventFallback(ctx, batch)
	metrics.BatchFlushes.WithLabelValues(trigger).Inc()
	metrics.BatchFlushDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (w *Writer) insertWithRetry(ctx context.Context, events []*models.CanonicalEvent) error {
	backoff := w.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		flushCtx, cancel := context.WithTimeout(ctx, w.cfg.FlushTimeout)
		err = w.store.InsertEvents(flushCtx, events)
		cancel()
		if err == nil {
			return nil
		}
		w.stats.IncStorageErrors()
		metrics.Errors.WithLabelValues(CategoryStorageError).Inc()
	}
	return err
}

func (w *Writer) perEventFallback(ctx context.Context, batch []pending) {
	for _, p := range batch {
		insertCtx, cancel := context.WithTimeout(ctx, w.cfg.FlushTimeout)
		err := w.store.InsertEvent(insertCtx, p.event)
		cancel()
		if err == nil {
			w.commit(p)
			w.stats.AddStored(1)
			continue
		}

		w.stats.IncStorageErrors()
		metrics.Errors.WithLabelValues(CategoryStorageError).Inc()
		entry := &models.DLQEntry{
			RawPayload:    p.event.RawEvent,
			ErrorCategory: Categorize(err),
			ErrorDetail:   err.Error(),
			RetryCount:    w.cfg.MaxRetries + 1,
			TenantID:      p.event.TenantID,
			FirstSeen:     time.Now().UTC(),
		}
		if dlqErr := w.dlq.Write(ctx, entry); dlqErr != nil {
			// Neither store nor DLQ took the event: leave it unacked so
			// the bus redelivers it.
			w.logger.Error("event disposition failed, awaiting redelivery",
				logging.EventID(p.event.EventID), logging.Error(dlqErr))
			continue
		}
		w.stats.IncDLQSent()
		w.commit(p)
	}
}

// Drain flushes the remaining batch within the grace deadline at shutdown.
func (w *Writer) Drain(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	return w.Flush(ctx, "shutdown")
}

func dedupKey(ev *models.CanonicalEvent) string {
	h := sha256.New()
	h.Write([]byte(ev.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(ev.RawEvent))
	h.Write([]byte{0})
	h.Write([]byte(ev.EventTimestamp.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

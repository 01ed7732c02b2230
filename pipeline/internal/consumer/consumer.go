// Package consumer runs the pipeline worker pool. Workers pull raw event
// envelopes from JetStream in bounded batches, canonicalize them, and hand
// them to per-worker batch writers. Pull-based fetching keeps buffering
// bounded: a worker that is busy flushing or retrying simply stops asking
// for messages.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/canonical"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/metrics"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/writer"
)

// Fetcher is the subset of jetstream.Consumer the pool uses.
type Fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// Config bounds the pool size and fetch behavior.
type Config struct {
	Workers          int           `mapstructure:"workers"`
	FetchBatch       int           `mapstructure:"fetch_batch"`
	FetchMaxWait     time.Duration `mapstructure:"fetch_max_wait"`
	PendingWatermark int           `mapstructure:"pending_watermark"`
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 256
	}
	if c.FetchMaxWait <= 0 {
		c.FetchMaxWait = time.Second
	}
	if c.PendingWatermark <= 0 {
		c.PendingWatermark = 2000
	}
}

// Pool owns the worker goroutines. Each worker has an exclusive batch
// writer; events never cross workers.
type Pool struct {
	cfg     Config
	fetcher Fetcher
	engine  *canonical.Engine
	store   writer.EventStore
	dlq     writer.DeadLetter
	wcfg    writer.Config
	stats   *writer.Stats
	logger  *logging.Logger

	wg sync.WaitGroup
}

// NewPool constructs the worker pool. Workers are not started until Run.
func NewPool(cfg Config, fetcher Fetcher, engine *canonical.Engine, store writer.EventStore,
	dlq writer.DeadLetter, wcfg writer.Config, stats *writer.Stats, logger *logging.Logger) *Pool {
	cfg.normalize()
	return &Pool{
		cfg:     cfg,
		fetcher: fetcher,
		engine:  engine,
		store:   store,
		dlq:     dlq,
		wcfg:    wcfg,
		stats:   stats,
		logger:  logger,
	}
}

// Run starts the workers and blocks until ctx is canceled and every worker
// has drained its batch.
func (p *Pool) Run(ctx context.Context) error {
	for i := 0; i < p.cfg.Workers; i++ {
		w, err := writer.New(p.wcfg, p.store, p.dlq, p.stats, p.logger.With(logging.Worker(i)))
		if err != nil {
			return err
		}
		p.wg.Add(1)
		go p.runWorker(ctx, i, w)
	}
	p.wg.Wait()
	return nil
}

func (p *Pool) runWorker(ctx context.Context, id int, w *writer.Writer) {
	defer p.wg.Done()
	log := p.logger.With(logging.Worker(id))
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			p.drain(w, log)
			return
		default:
		}

		if w.Pending() >= p.cfg.PendingWatermark {
			// Over the watermark: stop pulling and push the batch out
			// before asking the bus for more.
			if err := w.Flush(ctx, "size"); err != nil {
				log.Warn("watermark flush failed", logging.Error(err))
			}
			continue
		}

		batch, err := p.fetcher.Fetch(p.cfg.FetchBatch, jetstream.FetchMaxWait(p.cfg.FetchMaxWait))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			log.Warn("fetch failed", logging.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.FetchMaxWait):
			}
			continue
		}

		for msg := range batch.Messages() {
			p.handle(ctx, w, msg, log)
		}
		if err := batch.Error(); err != nil {
			log.Warn("fetch batch error", logging.Error(err))
		}

		if err := w.MaybeFlush(ctx); err != nil {
			log.Warn("age flush failed", logging.Error(err))
		}
	}
}

func (p *Pool) drain(w *writer.Writer, log *logging.Logger) {
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Drain(drainCtx); err != nil {
		log.Error("drain failed", logging.Error(err))
		return
	}
	log.Info("worker drained")
}

// handle decodes and validates one envelope, canonicalizes it, and buffers
// the result. Envelopes that cannot become canonical events go straight to
// the dead-letter topic.
func (p *Pool) handle(ctx context.Context, w *writer.Writer, msg jetstream.Msg, log *logging.Logger) {
	p.stats.IncProcessed()
	metrics.EventsProcessed.Inc()

	var raw models.RawEvent
	if err := raw.UnmarshalJSON(msg.Data()); err != nil {
		p.deadLetter(ctx, msg, writer.CategorySchemaError, "undecodable envelope: "+err.Error(), log)
		return
	}

	if cat, detail := validateEnvelope(&raw); cat != "" {
		p.deadLetter(ctx, msg, cat, detail, log)
		return
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now().UTC()
	}

	ev := p.engine.Process(&raw)

	if ev.ParserUsed == canonical.ParserRaw {
		// Unparseable payloads are stored raw, never dead-lettered, but
		// the category counter still moves.
		p.stats.IncParseFallback()
		metrics.Errors.WithLabelValues(writer.CategoryMalformedInput).Inc()
	} else {
		p.stats.IncParsedOK()
		metrics.EventsParsedOK.Inc()
	}

	if err := w.Add(ctx, ev, ackFunc(msg, log)); err != nil {
		log.Warn("batch flush failed", logging.Error(err))
	}
}

// validateEnvelope returns a non-empty error category when the envelope
// violates the ingest contract.
func validateEnvelope(raw *models.RawEvent) (category, detail string) {
	if raw.TenantID == "" {
		return writer.CategorySchemaError, "envelope missing tenant_id"
	}
	if raw.RawPayload == "" {
		return writer.CategorySchemaError, "envelope missing raw event payload"
	}
	if raw.EventID != "" {
		if err := uuid.Validate(raw.EventID); err != nil {
			return writer.CategoryValidationError, "event_id is not a valid UUID"
		}
	}
	return "", ""
}

func (p *Pool) deadLetter(ctx context.Context, msg jetstream.Msg, category, detail string, log *logging.Logger) {
	switch category {
	case writer.CategorySchemaError:
		p.stats.IncSchemaErrors()
	case writer.CategoryValidationError:
		p.stats.IncValidationErrors()
	}
	metrics.Errors.WithLabelValues(category).Inc()

	entry := &models.DLQEntry{
		RawPayload:    string(msg.Data()),
		ErrorCategory: category,
		ErrorDetail:   detail,
		TenantID:      tenantHint(msg.Data()),
		FirstSeen:     time.Now().UTC(),
	}
	if err := p.dlq.Write(ctx, entry); err != nil {
		log.Error("dead-letter write failed", logging.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("nak failed", logging.Error(nakErr))
		}
		return
	}
	p.stats.IncDLQSent()
	if err := msg.Ack(); err != nil {
		log.Warn("ack failed", logging.Error(err))
	}
}

// tenantHint best-effort extracts tenant_id from an undecodable envelope so
// DLQ entries stay attributable.
func tenantHint(data []byte) string {
	var probe struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.TenantID
}

func ackFunc(msg jetstream.Msg, log *logging.Logger) writer.AckFunc {
	return func() {
		if err := msg.Ack(); err != nil {
			log.Warn("ack failed", logging.Error(err))
		}
	}
}

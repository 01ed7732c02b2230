// Package engine runs the stateful rule evaluation loop. Each cycle scans
// events stored since the previous cycle, feeds per-group counters in the
// shared state store, and emits one alert per threshold breach.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/messaging"
	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/detect/internal/metrics"
	"github.com/crowlight-systems/crowlight-core/detect/internal/rules"
	"github.com/crowlight-systems/crowlight-core/detect/internal/store"
)

// EventStore answers rule selection queries over stored events.
type EventStore interface {
	MatchingGroups(ctx context.Context, rule *models.RuleDefinition, since, until time.Time) ([]store.GroupResult, error)
	ResetGroups(ctx context.Context, rule *models.RuleDefinition, since, until time.Time) ([]string, error)
}

// CounterStore holds per-group sliding-window state.
type CounterStore interface {
	Increment(ctx context.Context, tenantID, ruleID, groupKey string, n int64, window time.Duration) (int64, error)
	TryMarkAlerted(ctx context.Context, tenantID, ruleID, groupKey string, window time.Duration) (bool, error)
	ClearAlerted(ctx context.Context, tenantID, ruleID, groupKey string) error
	ClearCounter(ctx context.Context, tenantID, ruleID, groupKey string) error
	Reset(ctx context.Context, tenantID, ruleID, groupKey string) error
}

// AlertPublisher delivers alerts to the bus with stream acknowledgment.
type AlertPublisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// Config bounds the evaluation loop.
type Config struct {
	EvalInterval time.Duration `mapstructure:"eval_interval"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

func (c *Config) normalize() {
	if c.EvalInterval <= 0 {
		c.EvalInterval = 30 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

// Engine schedules rule evaluation. Each (tenant, rule) shard is guarded by
// its own lock: a cycle still running when the next tick fires is skipped,
// never queued.
type Engine struct {
	cfg      Config
	rules    *rules.Source
	store    EventStore
	counters CounterStore
	pub      AlertPublisher
	logger   *logging.Logger

	locks    sync.Map // rule shard key -> *sync.Mutex
	lastEval sync.Map // rule shard key -> time.Time
	wg       sync.WaitGroup
}

// New constructs the engine.
func New(cfg Config, src *rules.Source, st EventStore, counters CounterStore,
	pub AlertPublisher, logger *logging.Logger) *Engine {
	cfg.normalize()
	return &Engine{
		cfg:      cfg,
		rules:    src,
		store:    st,
		counters: counters,
		pub:      pub,
		logger:   logger,
	}
}

// Run evaluates on a fixed interval until ctx is cancelled, then waits for
// in-flight evaluations to finish. No new cycle starts after cancellation.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.logger.Info("rule engine stopped")
			return
		case <-ticker.C:
			e.Cycle(ctx, time.Now().UTC())
		}
	}
}

// Cycle kicks off one evaluation per rule shard. Evaluations run
// concurrently; Cycle does not wait for them.
func (e *Engine) Cycle(ctx context.Context, now time.Time) {
	for _, rule := range e.rules.Rules() {
		e.wg.Add(1)
		go func(rule *models.RuleDefinition) {
			defer e.wg.Done()
			e.evaluateOne(ctx, rule, now)
		}(rule)
	}
	metrics.CyclesTotal.Inc()
}

// Wait blocks until in-flight evaluations complete; used by tests.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) evaluateOne(ctx context.Context, rule *models.RuleDefinition, now time.Time) {
	key := rule.TenantID + "/" + rule.RuleID
	mu := e.lockFor(key)
	if !mu.TryLock() {
		metrics.RulesSkipped.Inc()
		return
	}
	defer mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.EvalDuration.Observe(time.Since(start).Seconds())
	}()

	log := e.logger.With(logging.RuleID(rule.RuleID), logging.TenantID(rule.TenantID))
	since := e.sinceFor(key, now)
	window := time.Duration(rule.Stateful.WindowSeconds) * time.Second

	// Shutdown cancels ctx before Run waits on in-flight evaluations;
	// detach so the current cycle finishes within its own deadline instead
	// of aborting mid-evaluation.
	queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.QueryTimeout)
	defer cancel()

	// Reset matches take precedence over increments within a cycle.
	resetKeys, err := e.store.ResetGroups(queryCtx, rule, since, now)
	if err != nil {
		metrics.RuleErrors.WithLabelValues("query").Inc()
		log.Warn("reset query failed, cycle retried next tick", logging.Error(err))
		return
	}
	resets := make(map[string]bool, len(resetKeys))
	for _, gk := range resetKeys {
		resets[gk] = true
		if err := e.counters.Reset(queryCtx, rule.TenantID, rule.RuleID, gk); err != nil {
			metrics.RuleErrors.WithLabelValues("state").Inc()
			log.Warn("counter reset failed", logging.GroupKey(gk), logging.Error(err))
			continue
		}
		metrics.CounterResets.Inc()
	}

	groups, err := e.store.MatchingGroups(queryCtx, rule, since, now)
	if err != nil {
		metrics.RuleErrors.WithLabelValues("query").Inc()
		log.Warn("selection query failed, cycle retried next tick", logging.Error(err))
		return
	}

	for _, g := range groups {
		if resets[g.Key] {
			continue
		}
		total, err := e.counters.Increment(queryCtx, rule.TenantID, rule.RuleID, g.Key, g.Count, window)
		if err != nil {
			metrics.RuleErrors.WithLabelValues("state").Inc()
			log.Warn("counter increment failed", logging.GroupKey(g.Key), logging.Error(err))
			continue
		}
		if total < rule.Stateful.Threshold {
			continue
		}

		// One SET NX claims the Alerted transition; a concurrent engine or
		// an earlier cycle that already alerted loses the claim.
		claimed, err := e.counters.TryMarkAlerted(queryCtx, rule.TenantID, rule.RuleID, g.Key, window)
		if err != nil {
			metrics.RuleErrors.WithLabelValues("state").Inc()
			log.Warn("alerted transition failed", logging.GroupKey(g.Key), logging.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		if err := e.emit(queryCtx, rule, g, now); err != nil {
			metrics.RuleErrors.WithLabelValues("publish").Inc()
			log.Warn("alert publish failed", logging.GroupKey(g.Key), logging.Error(err))
			// Release the claim and keep the counter; the breach re-fires
			// next cycle.
			if err := e.counters.ClearAlerted(queryCtx, rule.TenantID, rule.RuleID, g.Key); err != nil {
				metrics.RuleErrors.WithLabelValues("state").Inc()
				log.Warn("alerted rollback failed", logging.GroupKey(g.Key), logging.Error(err))
			}
			continue
		}
		if err := e.counters.ClearCounter(queryCtx, rule.TenantID, rule.RuleID, g.Key); err != nil {
			metrics.RuleErrors.WithLabelValues("state").Inc()
			log.Warn("counter clear failed", logging.GroupKey(g.Key), logging.Error(err))
		}
		log.Info("alert emitted", logging.GroupKey(g.Key), logging.Count(int(total)))
	}

	e.lastEval.Store(key, now)
}

func (e *Engine) emit(ctx context.Context, rule *models.RuleDefinition, g store.GroupResult, now time.Time) error {
	alert := models.Alert{
		AlertID:            uuid.New().String(),
		RuleID:             rule.RuleID,
		TenantID:           rule.TenantID,
		GroupKey:           g.Key,
		TriggeringEventIDs: g.EventIDs,
		CreatedAt:          now,
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if _, err := e.pub.PublishSync(ctx, messaging.SubjectDetectAlerts, data); err != nil {
		return err
	}
	metrics.AlertsEmitted.Inc()
	return nil
}

func (e *Engine) lockFor(key string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// sinceFor returns the previous evaluation boundary, defaulting to one
// interval back for a rule's first cycle.
func (e *Engine) sinceFor(key string, now time.Time) time.Time {
	if v, ok := e.lastEval.Load(key); ok {
		return v.(time.Time)
	}
	return now.Add(-e.cfg.EvalInterval)
}

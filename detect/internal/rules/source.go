// Package rules loads stateful rule definitions from the control plane and
// serves them to the engine as immutable snapshots.
package rules

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/crowlight-systems/crowlight-core/common/controlplane"
	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/messaging"
	"github.com/crowlight-systems/crowlight-core/common/models"
)

// Source holds the current rule snapshot. Readers get a consistent slice;
// refreshes swap the whole snapshot atomically.
type Source struct {
	repo     controlplane.Repository
	interval time.Duration
	logger   *logging.Logger

	snapshot atomic.Pointer[[]*models.RuleDefinition]
	reload   chan struct{}
}

// NewSource wires the rule snapshot to the control-plane repository.
func NewSource(repo controlplane.Repository, interval time.Duration, logger *logging.Logger) *Source {
	s := &Source{
		repo:     repo,
		interval: interval,
		logger:   logger,
		reload:   make(chan struct{}, 1),
	}
	empty := make([]*models.RuleDefinition, 0)
	s.snapshot.Store(&empty)
	return s
}

// Rules returns the current snapshot. The returned slice must not be
// mutated.
func (s *Source) Rules() []*models.RuleDefinition {
	return *s.snapshot.Load()
}

// Subscribe registers the rules reload signal.
func (s *Source) Subscribe(sub messaging.Subscriber) error {
	_, err := sub.Subscribe(messaging.SubjectReloadRules, func(_ context.Context, _ *messaging.Message) error {
		select {
		case s.reload <- struct{}{}:
		default:
		}
		return nil
	})
	return err
}

// Run performs an initial load then refreshes on the TTL interval and on
// reload signals until the context is cancelled.
func (s *Source) Run(ctx context.Context) {
	s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		case <-s.reload:
			s.logger.Info("rules reload signal")
			s.Refresh(ctx)
		}
	}
}

// Refresh reloads rules from the control plane, keeping the stale snapshot
// on failure. Rules that fail validation are skipped, not fatal.
func (s *Source) Refresh(ctx context.Context) {
	rows, err := s.repo.ListStatefulRules(ctx)
	if err != nil {
		s.logger.Warn("rule refresh failed, keeping stale snapshot", logging.Error(err))
		return
	}

	valid := make([]*models.RuleDefinition, 0, len(rows))
	for _, rule := range rows {
		if err := rule.Validate(); err != nil {
			s.logger.Warn("skipping invalid rule", logging.RuleID(rule.RuleID), logging.Error(err))
			continue
		}
		valid = append(valid, rule)
	}
	s.snapshot.Store(&valid)
	s.logger.Debug("rule snapshot swapped", logging.Count(len(valid)))
}

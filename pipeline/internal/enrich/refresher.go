package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/crowlight-systems/crowlight-core/common/controlplane"
	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/messaging"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/alias"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/metrics"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/taxonomy"
)

// Refresher keeps the pipeline's read-only snapshots current. Every table is
// reloaded on the TTL interval and immediately on its control.reload.*
// signal. A reload failure leaves the previous snapshot in place.
type Refresher struct {
	repo     controlplane.Repository
	aliases  *alias.Table
	taxonomy *taxonomy.Mapper
	sources  *SourceRegistry
	iocs     *IOCSet
	interval time.Duration
	logger   *logging.Logger

	reload chan string
}

// NewRefresher wires the snapshot holders to the control-plane repository.
func NewRefresher(repo controlplane.Repository, aliases *alias.Table, tax *taxonomy.Mapper,
	sources *SourceRegistry, iocs *IOCSet, interval time.Duration, logger *logging.Logger) *Refresher {
	return &Refresher{
		repo:     repo,
		aliases:  aliases,
		taxonomy: tax,
		sources:  sources,
		iocs:     iocs,
		interval: interval,
		logger:   logger,
		reload:   make(chan string, 16),
	}
}

// Subscribe registers the reload-signal subscriptions on the bus client.
func (r *Refresher) Subscribe(sub messaging.Subscriber) error {
	subjects := []string{
		messaging.SubjectReloadAliases,
		messaging.SubjectReloadTaxonomy,
		messaging.SubjectReloadLogSources,
		messaging.SubjectReloadIOCs,
	}
	for _, subject := range subjects {
		if _, err := sub.Subscribe(subject, r.onSignal); err != nil {
			return err
		}
	}
	return nil
}

func (r *Refresher) onSignal(_ context.Context, msg *messaging.Message) error {
	select {
	case r.reload <- msg.Subject:
	default:
		// A refresh is already queued; the pending full reload covers it.
	}
	return nil
}

// Run performs an initial load then refreshes on the TTL interval and on
// reload signals until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.RefreshAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		case subject := <-r.reload:
			r.logger.Info("control-plane reload signal", logging.Subject(subject))
			r.refreshOne(ctx, subject)
		}
	}
}

// RefreshAll reloads every snapshot.
func (r *Refresher) RefreshAll(ctx context.Context) {
	r.refreshAliases(ctx)
	r.refreshTaxonomy(ctx)
	r.refreshSources(ctx)
	r.refreshIOCs(ctx)
}

func (r *Refresher) refreshOne(ctx context.Context, subject string) {
	switch subject {
	case messaging.SubjectReloadAliases:
		r.refreshAliases(ctx)
	case messaging.SubjectReloadTaxonomy:
		r.refreshTaxonomy(ctx)
	case messaging.SubjectReloadLogSources:
		r.refreshSources(ctx)
	case messaging.SubjectReloadIOCs:
		r.refreshIOCs(ctx)
	default:
		r.RefreshAll(ctx)
	}
}

func (r *Refresher) refreshAliases(ctx context.Context) {
	rows, err := r.repo.ListAliasOverrides(ctx)
	if err != nil {
		metrics.ConfigRefreshFailures.WithLabelValues("aliases").Inc()
		r.logger.Warn("alias refresh failed, keeping stale snapshot", logging.Error(err))
		return
	}
	r.aliases.Swap(rows)
	r.logger.Debug("alias snapshot swapped", slog.Int("overrides", len(rows)))
}

func (r *Refresher) refreshTaxonomy(ctx context.Context) {
	rows, err := r.repo.ListTaxonomyMappings(ctx)
	if err != nil {
		metrics.ConfigRefreshFailures.WithLabelValues("taxonomy").Inc()
		r.logger.Warn("taxonomy refresh failed, keeping stale snapshot", logging.Error(err))
		return
	}
	r.taxonomy.Swap(rows)
	r.logger.Debug("taxonomy snapshot swapped", slog.Int("rules", len(rows)))
}

func (r *Refresher) refreshSources(ctx context.Context) {
	rows, err := r.repo.ListLogSources(ctx)
	if err != nil {
		metrics.ConfigRefreshFailures.WithLabelValues("logsources").Inc()
		r.logger.Warn("log-source refresh failed, keeping stale snapshot", logging.Error(err))
		return
	}
	r.sources.Swap(rows)
	r.logger.Debug("log-source snapshot swapped", slog.Int("sources", len(rows)))
}

func (r *Refresher) refreshIOCs(ctx context.Context) {
	rows, err := r.repo.ListIOCs(ctx)
	if err != nil {
		metrics.ConfigRefreshFailures.WithLabelValues("iocs").Inc()
		r.logger.Warn("ioc refresh failed, keeping stale snapshot", logging.Error(err))
		return
	}
	r.iocs.Swap(rows)
	r.logger.Debug("ioc snapshot swapped", slog.Int("indicators", len(rows)))
}

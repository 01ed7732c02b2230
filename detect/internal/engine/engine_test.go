package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/models"
	"github.com/crowlight-systems/crowlight-core/detect/internal/counters"
	"github.com/crowlight-systems/crowlight-core/detect/internal/rules"
	"github.com/crowlight-systems/crowlight-core/detect/internal/store"
)

// fakeEventStore serves scripted per-cycle query results.
type fakeEventStore struct {
	mu     sync.Mutex
	groups [][]store.GroupResult
	resets [][]string
	calls  int
}

func (f *fakeEventStore) MatchingGroups(_ context.Context, _ *models.RuleDefinition, _, _ time.Time) ([]store.GroupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.groups) {
		return nil, nil
	}
	out := f.groups[f.calls]
	f.calls++
	return out, nil
}

func (f *fakeEventStore) ResetGroups(_ context.Context, _ *models.RuleDefinition, _, _ time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// resets are aligned with the upcoming MatchingGroups call
	if f.calls >= len(f.resets) {
		return nil, nil
	}
	return f.resets[f.calls], nil
}

func (f *fakeEventStore) queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func (f *fakePublisher) PublishSync(_ context.Context, _ string, data []byte) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var alert models.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	f.alerts = append(f.alerts, alert)
	return &jetstream.PubAck{}, nil
}

func (f *fakePublisher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func failedLoginRule() *models.RuleDefinition {
	return &models.RuleDefinition{
		RuleID:   "brute-force",
		TenantID: "tenant-a",
		Query: models.Query{
			{Field: "event_category", Operator: models.OpEquals, Value: "authentication"},
			{Field: "event_outcome", Operator: models.OpEquals, Value: "failure"},
		},
		IsStateful: true,
		Stateful: &models.StatefulConfig{
			GroupByField:  "source_ip",
			Threshold:     6,
			WindowSeconds: 300,
			ResetQuery: models.Query{
				{Field: "event_outcome", Operator: models.OpEquals, Value: "success"},
			},
		},
	}
}

func setupEngine(t *testing.T, events *fakeEventStore, pub *fakePublisher) (*Engine, *counters.Store, *models.RuleDefinition) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	state := counters.NewStoreWithClient(client)

	rule := failedLoginRule()
	eng := New(Config{EvalInterval: 30 * time.Second}, nil, events, state, pub,
		logging.Default())
	return eng, state, rule
}

func TestEngine_ThresholdBreachEmitsOneAlert(t *testing.T) {
	events := &fakeEventStore{
		groups: [][]store.GroupResult{
			// 5 failed logins for IP X: below threshold, no alert
			{{Key: "203.0.113.9", Count: 5, EventIDs: []string{"e1", "e2", "e3", "e4", "e5"}}},
			// 6th event breaches
			{{Key: "203.0.113.9", Count: 1, EventIDs: []string{"e6"}}},
		},
	}
	pub := &fakePublisher{}
	eng, state, rule := setupEngine(t, events, pub)
	ctx := context.Background()

	now := time.Now().UTC()
	eng.evaluateOne(ctx, rule, now)
	assert.Equal(t, 0, pub.count(), "5 events must not alert at threshold 6")

	v, err := state.Count(ctx, rule.TenantID, rule.RuleID, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	eng.evaluateOne(ctx, rule, now.Add(30*time.Second))
	require.Equal(t, 1, pub.count(), "6th event must emit exactly one alert")

	alert := pub.alerts[0]
	assert.Equal(t, "brute-force", alert.RuleID)
	assert.Equal(t, "tenant-a", alert.TenantID)
	assert.Equal(t, "203.0.113.9", alert.GroupKey)
	assert.Equal(t, []string{"e6"}, alert.TriggeringEventIDs)
	assert.NotEmpty(t, alert.AlertID)

	// Counter deleted after the alert: reaccumulation from zero.
	v, err = state.Count(ctx, rule.TenantID, rule.RuleID, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestEngine_NoDuplicateAlertWhileAlerted(t *testing.T) {
	events := &fakeEventStore{
		groups: [][]store.GroupResult{
			{{Key: "203.0.113.9", Count: 6, EventIDs: []string{"e1"}}},
			// Alerted state: another burst above threshold stays silent
			{{Key: "203.0.113.9", Count: 8, EventIDs: []string{"e2"}}},
		},
	}
	pub := &fakePublisher{}
	eng, _, rule := setupEngine(t, events, pub)
	ctx := context.Background()

	now := time.Now().UTC()
	eng.evaluateOne(ctx, rule, now)
	require.Equal(t, 1, pub.count())

	eng.evaluateOne(ctx, rule, now.Add(30*time.Second))
	assert.Equal(t, 1, pub.count(), "no duplicate alert while group is Alerted")
}

func TestEngine_ResetAfterAlertSuppressesSecondAlert(t *testing.T) {
	events := &fakeEventStore{
		groups: [][]store.GroupResult{
			// Breach: alert fires
			{{Key: "203.0.113.9", Count: 6, EventIDs: []string{"e1"}}},
			// 3 more failures, below threshold
			{{Key: "203.0.113.9", Count: 3, EventIDs: []string{"e2"}}},
			// A successful login matches the reset query in the same cycle
			// as 2 more failures: reset wins, no increment
			{{Key: "203.0.113.9", Count: 2, EventIDs: []string{"e3"}}},
		},
		resets: [][]string{
			nil,
			nil,
			{"203.0.113.9"},
		},
	}
	pub := &fakePublisher{}
	eng, state, rule := setupEngine(t, events, pub)
	ctx := context.Background()

	now := time.Now().UTC()
	eng.evaluateOne(ctx, rule, now)
	require.Equal(t, 1, pub.count())

	eng.evaluateOne(ctx, rule, now.Add(30*time.Second))
	eng.evaluateOne(ctx, rule, now.Add(60*time.Second))

	assert.Equal(t, 1, pub.count(), "reset must prevent a second alert")

	v, err := state.Count(ctx, rule.TenantID, rule.RuleID, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "counter absent after reset")
}

// stubRepo serves a fixed rule list through the control-plane interface.
type stubRepo struct {
	rules []*models.RuleDefinition
}

func (r *stubRepo) ListAliasOverrides(context.Context) ([]models.AliasOverride, error) {
	return nil, nil
}
func (r *stubRepo) ListTaxonomyMappings(context.Context) ([]models.TaxonomyMapping, error) {
	return nil, nil
}
func (r *stubRepo) ListLogSources(context.Context) ([]models.LogSourceConfig, error) {
	return nil, nil
}
func (r *stubRepo) ListIOCs(context.Context) ([]models.ThreatIOC, error) { return nil, nil }
func (r *stubRepo) ListStatefulRules(context.Context) ([]*models.RuleDefinition, error) {
	return r.rules, nil
}
func (r *stubRepo) Close() {}

func TestEngine_SkipsShardStillRunning(t *testing.T) {
	events := &fakeEventStore{
		groups: [][]store.GroupResult{
			{{Key: "203.0.113.9", Count: 6, EventIDs: []string{"e1"}}},
		},
	}
	pub := &fakePublisher{}
	eng, _, rule := setupEngine(t, events, pub)

	src := rules.NewSource(&stubRepo{rules: []*models.RuleDefinition{rule}}, time.Minute,
		logging.Default())
	src.Refresh(context.Background())
	eng.rules = src

	// Hold the shard lock as if the previous evaluation were still running.
	mu := eng.lockFor(rule.TenantID + "/" + rule.RuleID)
	mu.Lock()
	eng.Cycle(context.Background(), time.Now().UTC())
	eng.Wait()
	mu.Unlock()

	assert.Equal(t, 0, events.queries(), "busy shard skipped, not queued")
	assert.Equal(t, 0, pub.count())

	// Lock released: the next tick evaluates normally.
	eng.Cycle(context.Background(), time.Now().UTC())
	eng.Wait()
	assert.Equal(t, 1, events.queries())
	assert.Equal(t, 1, pub.count())
}

func TestEngine_FinishesEvaluationAfterShutdownSignal(t *testing.T) {
	events := &fakeEventStore{
		groups: [][]store.GroupResult{
			{{Key: "203.0.113.9", Count: 6, EventIDs: []string{"e1"}}},
		},
	}
	pub := &fakePublisher{}
	eng, state, rule := setupEngine(t, events, pub)

	// SIGTERM cancels the run context while an evaluation is in flight; the
	// evaluation runs to completion under its own deadline.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng.evaluateOne(ctx, rule, time.Now().UTC())

	require.Equal(t, 1, pub.count(), "in-flight evaluation completes despite cancellation")
	v, err := state.Count(context.Background(), rule.TenantID, rule.RuleID, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "counter cleared after the alert")
}

func TestEngine_PublishFailureReleasesAlertedClaim(t *testing.T) {
	events := &fakeEventStore{
		groups: [][]store.GroupResult{
			{{Key: "203.0.113.9", Count: 6, EventIDs: []string{"e1"}}},
			{{Key: "203.0.113.9", Count: 1, EventIDs: []string{"e7"}}},
		},
	}
	pub := &fakePublisher{err: errors.New("stream unavailable")}
	eng, state, rule := setupEngine(t, events, pub)
	ctx := context.Background()

	now := time.Now().UTC()
	eng.evaluateOne(ctx, rule, now)
	assert.Equal(t, 0, pub.count())

	alerted, err := state.IsAlerted(ctx, rule.TenantID, rule.RuleID, "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, alerted, "claim released after the failed publish")

	v, err := state.Count(ctx, rule.TenantID, rule.RuleID, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, int64(6), v, "counter survives the failed publish")

	pub.setErr(nil)
	eng.evaluateOne(ctx, rule, now.Add(30*time.Second))
	require.Equal(t, 1, pub.count(), "breach re-fires once publishing recovers")
}

func TestEngine_ResetPrecedesIncrementWithinCycle(t *testing.T) {
	events := &fakeEventStore{
		groups: [][]store.GroupResult{
			{{Key: "alice", Count: 10, EventIDs: []string{"e1"}}},
		},
		resets: [][]string{
			{"alice"},
		},
	}
	pub := &fakePublisher{}
	eng, state, rule := setupEngine(t, events, pub)
	ctx := context.Background()

	eng.evaluateOne(ctx, rule, time.Now().UTC())

	assert.Equal(t, 0, pub.count(), "reset takes precedence over increment")
	v, err := state.Count(ctx, rule.TenantID, rule.RuleID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

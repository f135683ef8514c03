package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRuleStore struct {
	rules       []model.AlertRule
	events      []model.AlertEvent
	listErr     error
	stateCalls  int
	closedRules []string
	closedAt    []time.Time
}

func (f *fakeRuleStore) ListEnabledRules(ctx context.Context) ([]model.AlertRule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.AlertRule
	for _, rule := range f.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) UpdateRuleState(ctx context.Context, ruleID string, state model.AlertState, enteredAt time.Time) error {
	f.stateCalls++
	for i := range f.rules {
		if f.rules[i].Id == ruleID {
			f.rules[i].State = state
			f.rules[i].StateEnteredAt = enteredAt
			return nil
		}
	}
	return errors.New("no such rule")
}

func (f *fakeRuleStore) CreateEvent(ctx context.Context, event model.AlertEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRuleStore) CloseOpenEvents(ctx context.Context, ruleID string, resolvedAt time.Time) error {
	f.closedRules = append(f.closedRules, ruleID)
	f.closedAt = append(f.closedAt, resolvedAt)
	for i := range f.events {
		if f.events[i].RuleId == ruleID && f.events[i].ResolvedAt == nil {
			at := resolvedAt
			f.events[i].ResolvedAt = &at
		}
	}
	return nil
}

func (f *fakeRuleStore) rule(id string) model.AlertRule {
	for _, rule := range f.rules {
		if rule.Id == id {
			return rule
		}
	}
	return model.AlertRule{}
}

// fakeScalars maps rule metric name to a (value, present) pair.
type fakeScalars struct {
	values  map[string]float64
	absent  map[string]bool
	failing map[string]error
	calls   int
}

func (f *fakeScalars) QueryScalar(ctx context.Context, query model.AlertQuery, now time.Time) (float64, bool, error) {
	f.calls++
	if err := f.failing[query.MetricName]; err != nil {
		return 0, false, err
	}
	if f.absent[query.MetricName] {
		return 0, false, nil
	}
	return f.values[query.MetricName], true, nil
}

type recordingNotifier struct {
	fired    []model.AlertEvent
	resolved []string
}

func (n *recordingNotifier) RuleFired(rule model.AlertRule, event model.AlertEvent) {
	n.fired = append(n.fired, event)
}

func (n *recordingNotifier) RuleResolved(rule model.AlertRule, resolvedAt time.Time) {
	n.resolved = append(n.resolved, rule.Id)
}

func metricRule(id string, metric string, threshold float64, forSeconds int) model.AlertRule {
	return model.AlertRule{
		Id:         id,
		Name:       "rule-" + id,
		Enabled:    true,
		Query:      model.AlertQuery{Kind: model.AlertQueryMetric, MetricName: metric, Aggregation: model.AggAvg},
		Threshold:  threshold,
		Condition:  model.ConditionGreaterThan,
		ForSeconds: forSeconds,
		State:      model.AlertInactive,
	}
}

func newTestEvaluator(store *fakeRuleStore, scalars *fakeScalars, notifier Notifier) *Evaluator {
	return NewEvaluator(store, scalars, notifier, DefaultInterval, zap.NewNop())
}

func TestEvaluator_Hysteresis(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	t.Run("breach shorter than the hold never fires", func(t *testing.T) {
		store := &fakeRuleStore{rules: []model.AlertRule{metricRule("r1", "cpu", 10, 60)}}
		scalars := &fakeScalars{values: map[string]float64{"cpu": 50}}
		evaluator := newTestEvaluator(store, scalars, nil)

		evaluator.now = func() time.Time { return base }
		evaluator.EvaluateAll(ctx)
		assert.Equal(t, model.AlertPending, store.rule("r1").State)

		// 59 seconds into the breach: still pending, no event.
		evaluator.now = func() time.Time { return base.Add(59 * time.Second) }
		evaluator.EvaluateAll(ctx)
		assert.Equal(t, model.AlertPending, store.rule("r1").State)
		assert.Empty(t, store.events)

		// The breach clears before the hold elapses.
		scalars.values["cpu"] = 1
		evaluator.now = func() time.Time { return base.Add(70 * time.Second) }
		evaluator.EvaluateAll(ctx)
		assert.Equal(t, model.AlertInactive, store.rule("r1").State)
		assert.Empty(t, store.events)
	})

	t.Run("breach outlasting the hold fires exactly one event", func(t *testing.T) {
		store := &fakeRuleStore{rules: []model.AlertRule{metricRule("r1", "cpu", 10, 60)}}
		scalars := &fakeScalars{values: map[string]float64{"cpu": 50}}
		notifier := &recordingNotifier{}
		evaluator := newTestEvaluator(store, scalars, notifier)

		evaluator.now = func() time.Time { return base }
		evaluator.EvaluateAll(ctx)

		evaluator.now = func() time.Time { return base.Add(61 * time.Second) }
		evaluator.EvaluateAll(ctx)
		assert.Equal(t, model.AlertFiring, store.rule("r1").State)
		require.Len(t, store.events, 1)
		assert.Equal(t, 50.0, store.events[0].Value)
		assert.Nil(t, store.events[0].ResolvedAt)
		require.Len(t, notifier.fired, 1)

		// Further breached cycles add nothing.
		evaluator.now = func() time.Time { return base.Add(2 * time.Minute) }
		evaluator.EvaluateAll(ctx)
		assert.Len(t, store.events, 1)
	})

	t.Run("resolution closes the open event with a timestamp", func(t *testing.T) {
		store := &fakeRuleStore{rules: []model.AlertRule{metricRule("r1", "cpu", 10, 0)}}
		scalars := &fakeScalars{values: map[string]float64{"cpu": 50}}
		notifier := &recordingNotifier{}
		evaluator := newTestEvaluator(store, scalars, notifier)

		evaluator.now = func() time.Time { return base }
		evaluator.EvaluateAll(ctx)
		assert.Equal(t, model.AlertFiring, store.rule("r1").State)

		scalars.values["cpu"] = 1
		resolvedAt := base.Add(90 * time.Second)
		evaluator.now = func() time.Time { return resolvedAt }
		evaluator.EvaluateAll(ctx)
		assert.Equal(t, model.AlertInactive, store.rule("r1").State)
		require.Len(t, store.events, 1)
		require.NotNil(t, store.events[0].ResolvedAt)
		assert.Equal(t, resolvedAt, *store.events[0].ResolvedAt)
		assert.Equal(t, []string{"r1"}, notifier.resolved)
	})

	t.Run("zero hold fires on the first breached cycle", func(t *testing.T) {
		store := &fakeRuleStore{rules: []model.AlertRule{metricRule("r1", "cpu", 10, 0)}}
		scalars := &fakeScalars{values: map[string]float64{"cpu": 11}}
		evaluator := newTestEvaluator(store, scalars, nil)
		evaluator.now = func() time.Time { return base }

		evaluator.EvaluateAll(ctx)
		assert.Equal(t, model.AlertFiring, store.rule("r1").State)
		assert.Len(t, store.events, 1)
	})
}

func TestEvaluator_Conditions(t *testing.T) {
	rule := metricRule("r", "m", 10, 0)

	t.Run("greater than", func(t *testing.T) {
		assert.True(t, conditionMet(rule, 10.5, true))
		assert.False(t, conditionMet(rule, 10, true))
		assert.False(t, conditionMet(rule, 10.5, false))
	})

	t.Run("less than", func(t *testing.T) {
		rule := rule
		rule.Condition = model.ConditionLessThan
		assert.True(t, conditionMet(rule, 9, true))
		assert.False(t, conditionMet(rule, 10, true))
	})

	t.Run("equal within tolerance", func(t *testing.T) {
		rule := rule
		rule.Condition = model.ConditionEqual
		assert.True(t, conditionMet(rule, 10, true))
		assert.True(t, conditionMet(rule, 10+1e-10, true))
		assert.False(t, conditionMet(rule, 10.001, true))
	})

	t.Run("absent is satisfied only by a missing value", func(t *testing.T) {
		rule := rule
		rule.Condition = model.ConditionAbsent
		assert.True(t, conditionMet(rule, 0, false))
		assert.False(t, conditionMet(rule, 0, true))
	})
}

func TestEvaluator_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	store := &fakeRuleStore{rules: []model.AlertRule{
		metricRule("broken", "broken_metric", 10, 0),
		metricRule("healthy", "cpu", 10, 0),
	}}
	scalars := &fakeScalars{
		values:  map[string]float64{"cpu": 99},
		failing: map[string]error{"broken_metric": errors.New("store unavailable")},
	}
	evaluator := newTestEvaluator(store, scalars, nil)
	evaluator.now = func() time.Time { return base }

	evaluator.EvaluateAll(ctx)
	assert.Equal(t, model.AlertInactive, store.rule("broken").State)
	assert.Equal(t, model.AlertFiring, store.rule("healthy").State)
}

func TestEvaluator_RunStopsOnCancel(t *testing.T) {
	store := &fakeRuleStore{}
	evaluator := NewEvaluator(store, &fakeScalars{}, nil, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		evaluator.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evaluator did not stop after cancellation")
	}
}

// Package service evaluates alert rules against the query engine and walks
// each rule through the inactive/pending/firing state machine.
package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is the evaluation cadence.
	DefaultInterval = 30 * time.Second
	// equalTolerance bounds float comparison for the eq condition.
	equalTolerance = 1e-9
)

// RuleStore is the slice of the hot store the evaluator consumes.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]model.AlertRule, error)
	UpdateRuleState(ctx context.Context, ruleID string, state model.AlertState, enteredAt time.Time) error
	CreateEvent(ctx context.Context, event model.AlertEvent) error
	CloseOpenEvents(ctx context.Context, ruleID string, resolvedAt time.Time) error
}

// ScalarSource resolves a rule's query into a single value. present is false
// when the underlying series is absent or the window holds no samples.
type ScalarSource interface {
	QueryScalar(ctx context.Context, query model.AlertQuery, now time.Time) (value float64, present bool, err error)
}

// Notifier receives state transitions. Implementations must not block.
type Notifier interface {
	RuleFired(rule model.AlertRule, event model.AlertEvent)
	RuleResolved(rule model.AlertRule, resolvedAt time.Time)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) RuleFired(model.AlertRule, model.AlertEvent) {}

func (NopNotifier) RuleResolved(model.AlertRule, time.Time) {}

type Evaluator struct {
	rules    RuleStore
	scalars  ScalarSource
	notifier Notifier
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewEvaluator(
	rules RuleStore,
	scalars ScalarSource,
	notifier Notifier,
	interval time.Duration,
	logger *zap.Logger,
) *Evaluator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Evaluator{
		rules:    rules,
		scalars:  scalars,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run evaluates all enabled rules every interval until the context is
// cancelled. Cycles never overlap: a slow cycle delays the next tick.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll runs one evaluation cycle. A failing rule is logged and
// skipped; it never blocks the remaining rules.
func (e *Evaluator) EvaluateAll(ctx context.Context) {
	rules, err := e.rules.ListEnabledRules(ctx)
	if err != nil {
		e.logger.Error("failed to list enabled alert rules", zap.Error(err))
		return
	}
	for _, rule := range rules {
		if ctx.Err() != nil {
			return
		}
		if err := e.evaluate(ctx, rule); err != nil {
			e.logger.Error(
				"alert rule evaluation failed",
				zap.String("rule_id", rule.Id),
				zap.String("rule_name", rule.Name),
				zap.Error(err),
			)
		}
	}
}

func (e *Evaluator) evaluate(ctx context.Context, rule model.AlertRule) error {
	now := e.now()
	value, present, err := e.scalars.QueryScalar(ctx, rule.Query, now)
	if err != nil {
		return err
	}
	met := conditionMet(rule, value, present)

	switch rule.State {
	case model.AlertFiring:
		if met {
			return nil
		}
		return e.resolve(ctx, rule, now)
	case model.AlertPending:
		if !met {
			return e.transition(ctx, rule, model.AlertInactive, now)
		}
		if now.Sub(rule.StateEnteredAt) >= e.holdDuration(rule) {
			return e.fire(ctx, rule, value, now)
		}
		return nil
	default:
		if !met {
			return nil
		}
		if e.holdDuration(rule) == 0 {
			return e.fire(ctx, rule, value, now)
		}
		return e.transition(ctx, rule, model.AlertPending, now)
	}
}

// holdDuration is how long the condition must hold continuously before the
// rule fires.
func (e *Evaluator) holdDuration(rule model.AlertRule) time.Duration {
	return time.Duration(rule.ForSeconds) * time.Second
}

func (e *Evaluator) fire(ctx context.Context, rule model.AlertRule, value float64, now time.Time) error {
	if err := e.transition(ctx, rule, model.AlertFiring, now); err != nil {
		return err
	}
	event := model.AlertEvent{
		Id:      uuid.NewString(),
		RuleId:  rule.Id,
		FiredAt: now,
		Value:   value,
	}
	if err := e.rules.CreateEvent(ctx, event); err != nil {
		return err
	}
	e.notifier.RuleFired(rule, event)
	return nil
}

func (e *Evaluator) resolve(ctx context.Context, rule model.AlertRule, now time.Time) error {
	if err := e.transition(ctx, rule, model.AlertInactive, now); err != nil {
		return err
	}
	if err := e.rules.CloseOpenEvents(ctx, rule.Id, now); err != nil {
		return err
	}
	e.notifier.RuleResolved(rule, now)
	return nil
}

func (e *Evaluator) transition(ctx context.Context, rule model.AlertRule, state model.AlertState, now time.Time) error {
	return e.rules.UpdateRuleState(ctx, rule.Id, state, now)
}

// conditionMet applies the rule's condition to the evaluated scalar. The
// absent condition is the only one satisfied by a missing value.
func conditionMet(rule model.AlertRule, value float64, present bool) bool {
	if rule.Condition == model.ConditionAbsent {
		return !present
	}
	if !present {
		return false
	}
	switch rule.Condition {
	case model.ConditionGreaterThan:
		return value > rule.Threshold
	case model.ConditionLessThan:
		return value < rule.Threshold
	case model.ConditionEqual:
		return math.Abs(value-rule.Threshold) <= equalTolerance
	default:
		return false
	}
}

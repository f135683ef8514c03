package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pharos-dev/pharos/internal/auth"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

// maxWindowSeconds caps a rule's trailing window at the hot retention of
// logs and spans; alert queries never reach the cold tier.
const maxWindowSeconds = int(model.LogSpanRetention / time.Second)

// ErrInvalidRule marks a rule that fails validation.
var ErrInvalidRule = errors.New("invalid alert rule")

func invalidRule(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// RuleWriter is the full rule-management slice of the hot store.
type RuleWriter interface {
	CreateRule(ctx context.Context, rule model.AlertRule) error
	GetRule(ctx context.Context, id string) (model.AlertRule, error)
	ListRules(ctx context.Context, projectID string) ([]model.AlertRule, error)
	UpdateRule(ctx context.Context, rule model.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	CloseOpenEvents(ctx context.Context, ruleID string, resolvedAt time.Time) error
	ListEventsForRule(ctx context.Context, ruleID string, limit int) ([]model.AlertEvent, error)
}

// RulesService manages alert rules behind the alerts:manage capability.
type RulesService struct {
	store  RuleWriter
	auth   auth.Checker
	logger *zap.Logger
	now    func() time.Time
}

func NewRulesService(store RuleWriter, checker auth.Checker, logger *zap.Logger) *RulesService {
	return &RulesService{
		store:  store,
		auth:   checker,
		logger: logger,
		now:    time.Now,
	}
}

// CreateRule validates and persists a new rule in the inactive state.
func (s *RulesService) CreateRule(ctx context.Context, token string, rule model.AlertRule) (model.AlertRule, error) {
	if err := s.auth.Check(ctx, token, auth.CapabilityManage, rule.ProjectID); err != nil {
		return model.AlertRule{}, err
	}
	if err := validateRule(rule); err != nil {
		return model.AlertRule{}, err
	}
	now := s.now()
	rule.Id = uuid.NewString()
	rule.State = model.AlertInactive
	rule.StateEnteredAt = now
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return model.AlertRule{}, err
	}
	s.logger.Info("alert rule created",
		zap.String("rule_id", rule.Id),
		zap.String("rule_name", rule.Name),
	)
	return rule, nil
}

func (s *RulesService) GetRule(ctx context.Context, token, id string) (model.AlertRule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return model.AlertRule{}, err
	}
	if err := s.auth.Check(ctx, token, auth.CapabilityRead, rule.ProjectID); err != nil {
		return model.AlertRule{}, err
	}
	return rule, nil
}

func (s *RulesService) ListRules(ctx context.Context, token, projectID string) ([]model.AlertRule, error) {
	if err := s.auth.Check(ctx, token, auth.CapabilityRead, projectID); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, projectID)
}

// UpdateRule replaces a rule's definition. Disabling a firing rule resolves
// its open events immediately rather than leaving them dangling.
func (s *RulesService) UpdateRule(ctx context.Context, token string, rule model.AlertRule) (model.AlertRule, error) {
	if err := s.auth.Check(ctx, token, auth.CapabilityManage, rule.ProjectID); err != nil {
		return model.AlertRule{}, err
	}
	if err := validateRule(rule); err != nil {
		return model.AlertRule{}, err
	}
	current, err := s.store.GetRule(ctx, rule.Id)
	if err != nil {
		return model.AlertRule{}, err
	}
	now := s.now()
	rule.CreatedAt = current.CreatedAt
	rule.UpdatedAt = now
	rule.State = current.State
	rule.StateEnteredAt = current.StateEnteredAt
	if !rule.Enabled && current.State != model.AlertInactive {
		rule.State = model.AlertInactive
		rule.StateEnteredAt = now
		if err := s.store.CloseOpenEvents(ctx, rule.Id, now); err != nil {
			return model.AlertRule{}, err
		}
		s.logger.Info("disabled rule force-resolved", zap.String("rule_id", rule.Id))
	}
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return model.AlertRule{}, err
	}
	return rule, nil
}

// DeleteRule removes a rule, resolving any open events first.
func (s *RulesService) DeleteRule(ctx context.Context, token, id string) error {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.auth.Check(ctx, token, auth.CapabilityManage, rule.ProjectID); err != nil {
		return err
	}
	if rule.State == model.AlertFiring {
		if err := s.store.CloseOpenEvents(ctx, id, s.now()); err != nil {
			return err
		}
	}
	return s.store.DeleteRule(ctx, id)
}

// ListEvents returns a rule's firing history, most recent first.
func (s *RulesService) ListEvents(ctx context.Context, token, ruleID string, limit int) ([]model.AlertEvent, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Check(ctx, token, auth.CapabilityRead, rule.ProjectID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ListEventsForRule(ctx, ruleID, limit)
}

func validateRule(rule model.AlertRule) error {
	if rule.Name == "" {
		return invalidRule("name is required")
	}
	if !rule.Condition.Valid() {
		return invalidRule("unknown condition %q", rule.Condition)
	}
	if math.IsNaN(rule.Threshold) || math.IsInf(rule.Threshold, 0) {
		return invalidRule("threshold must be finite")
	}
	if rule.ForSeconds < 0 {
		return invalidRule("for_seconds must not be negative")
	}
	if rule.Query.WindowSeconds < 0 || rule.Query.WindowSeconds > maxWindowSeconds {
		return invalidRule("window must be between 0 and %d seconds", maxWindowSeconds)
	}
	switch rule.Query.Kind {
	case model.AlertQueryMetric:
		if rule.Query.MetricName == "" {
			return invalidRule("metric rules require a metric name")
		}
		if rule.Query.Aggregation != "" && !rule.Query.Aggregation.Valid() {
			return invalidRule("unknown aggregation %q", rule.Query.Aggregation)
		}
	case model.AlertQueryLogs:
		if rule.Condition == model.ConditionAbsent {
			return invalidRule("absent condition applies to metric rules only")
		}
	default:
		return invalidRule("unknown query kind %q", rule.Query.Kind)
	}
	return nil
}

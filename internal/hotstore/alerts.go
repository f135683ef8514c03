package hotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

const selectRuleColumns = `id, name, project_id, enabled, query, threshold,
	condition, for_seconds, state, state_entered_at, created_at, updated_at`

func (s *Store) CreateRule(ctx context.Context, rule model.AlertRule) error {
	query, err := json.Marshal(rule.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal alert query: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alert_rules (
			id, name, project_id, enabled, query, threshold,
			condition, for_seconds, state, state_entered_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rule.Id, rule.Name, rule.ProjectID, rule.Enabled, query, rule.Threshold,
		string(rule.Condition), rule.ForSeconds, string(rule.State),
		rule.StateEnteredAt, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (model.AlertRule, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM alert_rules WHERE id = $1`, selectRuleColumns), id,
	)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AlertRule{}, ErrRuleNotFound
	}
	return rule, err
}

// ListRules returns rules, optionally scoped to one project.
func (s *Store) ListRules(ctx context.Context, projectID string) ([]model.AlertRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_rules ORDER BY created_at ASC`, selectRuleColumns)
	args := []any{}
	if projectID != "" {
		query = fmt.Sprintf(
			`SELECT %s FROM alert_rules WHERE project_id = $1 ORDER BY created_at ASC`,
			selectRuleColumns,
		)
		args = append(args, projectID)
	}
	return s.queryRules(ctx, query, args...)
}

func (s *Store) ListEnabledRules(ctx context.Context) ([]model.AlertRule, error) {
	return s.queryRules(ctx,
		fmt.Sprintf(`SELECT %s FROM alert_rules WHERE enabled ORDER BY created_at ASC`, selectRuleColumns),
	)
}

func (s *Store) UpdateRule(ctx context.Context, rule model.AlertRule) error {
	query, err := json.Marshal(rule.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal alert query: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET
			name = $2, project_id = $3, enabled = $4, query = $5, threshold = $6,
			condition = $7, for_seconds = $8, state = $9, state_entered_at = $10,
			updated_at = $11
		WHERE id = $1`,
		rule.Id, rule.Name, rule.ProjectID, rule.Enabled, query, rule.Threshold,
		string(rule.Condition), rule.ForSeconds, string(rule.State),
		rule.StateEnteredAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// UpdateRuleState persists only the evaluation cursor; rule definitions are
// owned by the API, states by the evaluator.
func (s *Store) UpdateRuleState(ctx context.Context, ruleID string, state model.AlertState, enteredAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET state = $2, state_entered_at = $3 WHERE id = $1`,
		ruleID, string(state), enteredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, event model.AlertEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_events (id, rule_id, fired_at, resolved_at, value)
		VALUES ($1,$2,$3,$4,$5)`,
		event.Id, event.RuleId, event.FiredAt, event.ResolvedAt, event.Value,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// CloseOpenEvents stamps resolved_at on every open event of a rule. Normal
// operation has at most one open event per rule; closing all of them keeps
// the force-close path on rule disable total.
func (s *Store) CloseOpenEvents(ctx context.Context, ruleID string, resolvedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alert_events SET resolved_at = $2 WHERE rule_id = $1 AND resolved_at IS NULL`,
		ruleID, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close alert events: %w", err)
	}
	return nil
}

func (s *Store) ListEventsForRule(ctx context.Context, ruleID string, limit int) ([]model.AlertEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rule_id, fired_at, resolved_at, value
		FROM alert_events WHERE rule_id = $1
		ORDER BY fired_at DESC LIMIT $2`,
		ruleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []model.AlertEvent
	for rows.Next() {
		var event model.AlertEvent
		if err := rows.Scan(&event.Id, &event.RuleId, &event.FiredAt, &event.ResolvedAt, &event.Value); err != nil {
			return nil, fmt.Errorf("failed to scan alert event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alert event rows: %w", err)
	}
	return events, nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alert rule rows: %w", err)
	}
	return rules, nil
}

func scanRule(row pgx.Row) (model.AlertRule, error) {
	var rule model.AlertRule
	var condition, state string
	var query []byte
	err := row.Scan(
		&rule.Id,
		&rule.Name,
		&rule.ProjectID,
		&rule.Enabled,
		&query,
		&rule.Threshold,
		&condition,
		&rule.ForSeconds,
		&state,
		&rule.StateEnteredAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AlertRule{}, err
		}
		return model.AlertRule{}, fmt.Errorf("failed to scan alert rule: %w", err)
	}
	rule.Condition = model.AlertCondition(condition)
	rule.State = model.AlertState(state)
	if err := json.Unmarshal(query, &rule.Query); err != nil {
		return model.AlertRule{}, fmt.Errorf("failed to unmarshal alert query: %w", err)
	}
	return rule, nil
}

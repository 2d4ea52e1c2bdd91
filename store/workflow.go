package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// WorkflowState returns the persisted workflow state for the settlement
// version, or found=false when no workflow action has touched it.
func (t *txn) WorkflowState(ctx context.Context, settlementID string, version int64) (string, bool, error) {
	return workflowState(ctx, t.tx, settlementID, version)
}

// WorkflowState returns the persisted workflow state for the settlement
// version, or found=false when no workflow action has touched it.
func (s *Store) WorkflowState(ctx context.Context, settlementID string, version int64) (string, bool, error) {
	return workflowState(ctx, s.db, settlementID, version)
}

func workflowState(ctx context.Context, q rowQueryer, settlementID string, version int64) (string, bool, error) {
	var state string
	err := q.QueryRowContext(ctx, `
		SELECT state FROM workflow_state
		WHERE settlement_id = $1 AND settlement_version = $2`,
		settlementID, version,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load workflow state: %w", err)
	}
	return state, true, nil
}

// UpsertWorkflowState writes the workflow state for the settlement version.
func (t *txn) UpsertWorkflowState(ctx context.Context, settlementID string, version int64, state string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO workflow_state (settlement_id, settlement_version, state, update_time)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (settlement_id, settlement_version)
		DO UPDATE SET state = EXCLUDED.state, update_time = NOW()`,
		settlementID, version, state)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow state: %w", err)
	}
	return nil
}

// AppendActivity writes one audit record.
func (t *txn) AppendActivity(ctx context.Context, a model.Activity) error {
	return appendActivity(ctx, t.tx, a)
}

// RecordActivity writes one audit record outside a workflow transaction.
// Used by recalculation.
func (s *Store) RecordActivity(ctx context.Context, a model.Activity) error {
	return appendActivity(ctx, s.db, a)
}

func appendActivity(ctx context.Context, e execer, a model.Activity) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO activity (pts, processing_entity, settlement_id, settlement_version,
			user_id, user_name, action_type, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.PTS, a.ProcessingEntity, a.SettlementID, a.SettlementVersion,
		a.UserID, a.UserName, a.ActionType, a.Comment)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// LatestActivityUser returns the user id of the most recent activity of the
// given action type for the settlement version. Backs the segregation
// check.
func (t *txn) LatestActivityUser(ctx context.Context, settlementID string, version int64, actionType string) (string, bool, error) {
	var userID string
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id FROM activity
		WHERE settlement_id = $1 AND settlement_version = $2 AND action_type = $3
		ORDER BY id DESC LIMIT 1`,
		settlementID, version, actionType,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load latest activity user: %w", err)
	}
	return userID, true, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// EnqueueNotification queues a downstream delivery inside the workflow
// transaction that produced it.
func (t *txn) EnqueueNotification(ctx context.Context, n model.Notification) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO notification_queue (settlement_id, status, details, retry_count, next_attempt_at)
		VALUES ($1, $2, $3, 0, NOW())`,
		n.SettlementID, n.Status, n.Details)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// DueNotifications returns queued notifications whose next attempt is due.
func (s *Store) DueNotifications(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	var rows []model.Notification
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, settlement_id, status, details, retry_count, next_attempt_at
		FROM notification_queue
		WHERE next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due notifications: %w", err)
	}
	return rows, nil
}

// DeleteNotification removes a delivered notification.
func (s *Store) DeleteNotification(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notification_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

// RescheduleNotification records a failed attempt and pushes the next one
// out.
func (s *Store) RescheduleNotification(ctx context.Context, id int64, retryCount int, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_queue SET retry_count = $2, next_attempt_at = $3 WHERE id = $1`,
		id, retryCount, next)
	if err != nil {
		return fmt.Errorf("failed to reschedule notification: %w", err)
	}
	return nil
}

// FailNotification moves an exhausted notification to the failure table,
// atomically.
func (s *Store) FailNotification(ctx context.Context, n model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin failure transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notification_failure (settlement_id, status, details, retry_count)
		VALUES ($1, $2, $3, $4)`,
		n.SettlementID, n.Status, n.Details, n.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to insert notification failure: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_queue WHERE id = $1`, n.ID); err != nil {
		return fmt.Errorf("failed to remove failed notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure transaction: %w", err)
	}
	return nil
}

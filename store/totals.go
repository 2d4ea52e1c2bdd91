package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// RunningTotal returns the group's running total row, or found=false when
// no event for the group has been processed yet.
func (s *Store) RunningTotal(ctx context.Context, key model.GroupKey) (model.RunningTotal, bool, error) {
	var rt model.RunningTotal
	err := s.db.GetContext(ctx, &rt, `
		SELECT id, pts, processing_entity, counterparty_id, value_date, total, ref_id
		FROM running_total
		WHERE pts = $1 AND processing_entity = $2 AND counterparty_id = $3 AND value_date = $4`,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunningTotal{}, false, nil
	}
	if err != nil {
		return model.RunningTotal{}, false, fmt.Errorf("failed to load running total: %w", err)
	}
	return rt, true, nil
}

// UpsertRunningTotal writes the recomputed total and advances the group's
// watermark. At most one row per group exists.
func (s *Store) UpsertRunningTotal(ctx context.Context, key model.GroupKey, total decimal.Decimal, watermark int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO running_total (pts, processing_entity, counterparty_id, value_date, total, ref_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pts, processing_entity, counterparty_id, value_date)
		DO UPDATE SET total = EXCLUDED.total, ref_id = EXCLUDED.ref_id`,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate, total, watermark)
	if err != nil {
		return fmt.Errorf("failed to upsert running total: %w", err)
	}
	return nil
}

// EnqueueEvents inserts events into the durable queue inside the ingestion
// transaction, so a committed settlement always has its events on disk.
func (t *txn) EnqueueEvents(ctx context.Context, events []model.SettlementEvent) error {
	return insertEvents(ctx, t.tx, events)
}

// InsertEvents enqueues events outside an ingestion transaction. Used by
// recalculation.
func (s *Store) InsertEvents(ctx context.Context, events []model.SettlementEvent) error {
	return insertEvents(ctx, s.db, events)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvents(ctx context.Context, e execer, events []model.SettlementEvent) error {
	for _, ev := range events {
		_, err := e.ExecContext(ctx, `
			INSERT INTO settlement_event (pts, processing_entity, counterparty_id, value_date, ref_id, force_recalc)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.PTS, ev.ProcessingEntity, ev.CounterpartyID, ev.ValueDate, ev.RefID, ev.Force)
		if err != nil {
			return fmt.Errorf("failed to enqueue settlement event: %w", err)
		}
	}
	return nil
}

// DueEvents returns queued events whose next attempt is due, oldest ref_id
// first so per-group processing stays in FIFO order.
func (s *Store) DueEvents(ctx context.Context, now time.Time, limit int) ([]model.QueuedEvent, error) {
	var events []model.QueuedEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, pts, processing_entity, counterparty_id, value_date, ref_id,
		       force_recalc, attempts, next_attempt_at, created_at
		FROM settlement_event
		WHERE next_attempt_at <= $1
		ORDER BY ref_id ASC
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due events: %w", err)
	}
	return events, nil
}

// DeleteEvent removes a fully processed event from the queue.
func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settlement_event WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete settlement event: %w", err)
	}
	return nil
}

// RescheduleEvent records a failed attempt and pushes the next one out.
func (s *Store) RescheduleEvent(ctx context.Context, id int64, attempts int, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlement_event SET attempts = $2, next_attempt_at = $3 WHERE id = $1`,
		id, attempts, next)
	if err != nil {
		return fmt.Errorf("failed to reschedule settlement event: %w", err)
	}
	return nil
}

// DeadLetterEvent moves an exhausted event out of the queue into the dead
// letter table, atomically.
func (s *Store) DeadLetterEvent(ctx context.Context, ev model.QueuedEvent, reason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin dead letter transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_dead_letter (pts, processing_entity, counterparty_id, value_date, ref_id, attempts, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.PTS, ev.ProcessingEntity, ev.CounterpartyID, ev.ValueDate, ev.RefID, ev.Attempts, reason)
	if err != nil {
		return fmt.Errorf("failed to insert event dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM settlement_event WHERE id = $1`, ev.ID); err != nil {
		return fmt.Errorf("failed to remove dead lettered event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead letter transaction: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/colinzhu/limit-monitoring-sub001/model"
)

const settlementColumns = `ref_id, settlement_id, settlement_version, pts, processing_entity,
	counterparty_id, value_date, currency, amount, business_status, direction,
	settlement_type, is_old, created_at`

// SaveSettlement inserts a new settlement row and returns its ref_id from
// the monotonic sequence. When the (settlement_id, pts, processing_entity,
// settlement_version) key already exists, no row is written and the
// existing ref_id is returned with inserted=false.
func (t *txn) SaveSettlement(ctx context.Context, stl *model.Settlement) (int64, bool, error) {
	var refID int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO settlement (settlement_id, settlement_version, pts, processing_entity,
			counterparty_id, value_date, currency, amount, business_status, direction, settlement_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (settlement_id, pts, processing_entity, settlement_version) DO NOTHING
		RETURNING ref_id`,
		stl.SettlementID, stl.SettlementVersion, stl.PTS, stl.ProcessingEntity,
		stl.CounterpartyID, stl.ValueDate, stl.Currency, stl.Amount,
		stl.BusinessStatus, stl.Direction, stl.SettlementType,
	).Scan(&refID)
	if err == nil {
		return refID, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to insert settlement: %w", err)
	}

	// Duplicate ingestion: hand back the ref_id assigned to the first copy.
	err = t.tx.QueryRowContext(ctx, `
		SELECT ref_id FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3 AND settlement_version = $4`,
		stl.SettlementID, stl.PTS, stl.ProcessingEntity, stl.SettlementVersion,
	).Scan(&refID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up duplicate settlement: %w", err)
	}
	return refID, false, nil
}

// MarkOldVersions flags every earlier version of the natural key as
// superseded. Returns the number of rows aged out.
func (t *txn) MarkOldVersions(ctx context.Context, settlementID, pts, processingEntity string, currentRef int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE settlement SET is_old = TRUE
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3
		  AND ref_id < $4 AND is_old = FALSE`,
		settlementID, pts, processingEntity, currentRef)
	if err != nil {
		return 0, fmt.Errorf("failed to mark old versions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count aged rows: %w", err)
	}
	return n, nil
}

// PreviousCounterparty returns the counterparty of the newest settlement
// row older than currentRef for the natural key, if one exists.
func (t *txn) PreviousCounterparty(ctx context.Context, settlementID, pts, processingEntity string, currentRef int64) (string, bool, error) {
	var counterparty string
	err := t.tx.QueryRowContext(ctx, `
		SELECT counterparty_id FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3 AND ref_id < $4
		ORDER BY ref_id DESC LIMIT 1`,
		settlementID, pts, processingEntity, currentRef,
	).Scan(&counterparty)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find previous counterparty: %w", err)
	}
	return counterparty, true, nil
}

// FindByIDVersion returns the newest row for (settlement_id, version).
func (t *txn) FindByIDVersion(ctx context.Context, settlementID string, version int64) (*model.Settlement, error) {
	return findByIDVersion(ctx, t.tx, settlementID, version)
}

// FindByIDVersion returns the newest row for (settlement_id, version).
func (s *Store) FindByIDVersion(ctx context.Context, settlementID string, version int64) (*model.Settlement, error) {
	return findByIDVersion(ctx, s.db, settlementID, version)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func findByIDVersion(ctx context.Context, q rowQueryer, settlementID string, version int64) (*model.Settlement, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+settlementColumns+` FROM settlement
		WHERE settlement_id = $1 AND settlement_version = $2
		ORDER BY ref_id DESC LIMIT 1`,
		settlementID, version)
	return scanSettlement(row)
}

func scanSettlement(row *sql.Row) (*model.Settlement, error) {
	var stl model.Settlement
	err := row.Scan(&stl.RefID, &stl.SettlementID, &stl.SettlementVersion, &stl.PTS,
		&stl.ProcessingEntity, &stl.CounterpartyID, &stl.ValueDate, &stl.Currency,
		&stl.Amount, &stl.BusinessStatus, &stl.Direction, &stl.SettlementType,
		&stl.IsOld, &stl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan settlement: %w", err)
	}
	return &stl, nil
}

// FindLatest returns the highest-ref_id row for the business identifier.
// pts and processingEntity narrow the natural key when non-empty.
func (s *Store) FindLatest(ctx context.Context, settlementID, pts, processingEntity string) (*model.Settlement, error) {
	conds := []string{"settlement_id = $1"}
	args := []interface{}{settlementID}
	if pts != "" {
		args = append(args, pts)
		conds = append(conds, fmt.Sprintf("pts = $%d", len(args)))
	}
	if processingEntity != "" {
		args = append(args, processingEntity)
		conds = append(conds, fmt.Sprintf("processing_entity = $%d", len(args)))
	}

	query := `SELECT ` + settlementColumns + ` FROM settlement WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY ref_id DESC LIMIT 1`
	return scanSettlement(s.db.QueryRowContext(ctx, query, args...))
}

// GroupSettlements returns the rows that may contribute to a group's
// running total at the given watermark: not superseded, PAY direction, not
// cancelled, ref_id at or below the watermark.
func (s *Store) GroupSettlements(ctx context.Context, key model.GroupKey, maxRef int64) ([]model.Settlement, error) {
	var rows []model.Settlement
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+settlementColumns+` FROM settlement
		WHERE pts = $1 AND processing_entity = $2 AND counterparty_id = $3 AND value_date = $4
		  AND ref_id <= $5 AND is_old = FALSE AND direction = 'PAY' AND business_status <> 'CANCELLED'
		ORDER BY ref_id`,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate, maxRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load group settlements: %w", err)
	}
	return rows, nil
}

// Search returns settlements matching the criteria, newest first.
func (s *Store) Search(ctx context.Context, c model.SearchCriteria) ([]model.Settlement, error) {
	query, args := buildSearchQuery(c)
	var rows []model.Settlement
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search settlements: %w", err)
	}
	return rows, nil
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

// buildSearchQuery assembles the filtered search statement. Exposed inside
// the package so the construction is testable without a database.
func buildSearchQuery(c model.SearchCriteria) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if c.PTS != "" {
		add("pts = $%d", c.PTS)
	}
	if c.ProcessingEntity != "" {
		add("processing_entity = $%d", c.ProcessingEntity)
	}
	if c.CounterpartyID != "" {
		add("counterparty_id = $%d", c.CounterpartyID)
	}
	if c.ValueDateFrom != "" {
		add("value_date >= $%d", c.ValueDateFrom)
	}
	if c.ValueDateTo != "" {
		add("value_date <= $%d", c.ValueDateTo)
	}
	if c.Direction != "" {
		add("direction = $%d", strings.ToUpper(c.Direction))
	}
	if c.BusinessStatus != "" {
		add("business_status = $%d", strings.ToUpper(c.BusinessStatus))
	}

	query := `SELECT ` + settlementColumns + ` FROM settlement`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ref_id DESC"

	limit := c.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset := c.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return query, args
}

// DistinctGroups enumerates group keys present in the settlement table,
// each with its current running total (zero watermark when the group has
// not been computed yet).
func (s *Store) DistinctGroups(ctx context.Context, f model.GroupFilter) ([]model.GroupTotal, error) {
	var conds []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if f.PTS != "" {
		add("pts = $%d", f.PTS)
	}
	if f.ProcessingEntity != "" {
		add("processing_entity = $%d", f.ProcessingEntity)
	}
	if f.CounterpartyID != "" {
		add("counterparty_id = $%d", f.CounterpartyID)
	}
	if f.ValueDate != "" {
		add("value_date = $%d", f.ValueDate)
	}

	inner := `SELECT DISTINCT pts, processing_entity, counterparty_id, value_date FROM settlement`
	if len(conds) > 0 {
		inner += " WHERE " + strings.Join(conds, " AND ")
	}

	query := `
		SELECT g.pts, g.processing_entity, g.counterparty_id, g.value_date,
		       COALESCE(rt.total, 0) AS total, COALESCE(rt.ref_id, 0) AS ref_id
		FROM (` + inner + `) g
		LEFT JOIN running_total rt
		  ON rt.pts = g.pts AND rt.processing_entity = g.processing_entity
		 AND rt.counterparty_id = g.counterparty_id AND rt.value_date = g.value_date
		ORDER BY g.pts, g.processing_entity, g.counterparty_id, g.value_date`

	var groups []model.GroupTotal
	if err := s.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, fmt.Errorf("failed to enumerate groups: %w", err)
	}
	return groups, nil
}

// MaxGroupRefID returns the highest ref_id present in a group, used to
// target recalculation events.
func (s *Store) MaxGroupRefID(ctx context.Context, key model.GroupKey) (int64, bool, error) {
	var max int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(ref_id), 0) FROM settlement
		WHERE pts = $1 AND processing_entity = $2 AND counterparty_id = $3 AND value_date = $4`,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate,
	).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("failed to find group max ref_id: %w", err)
	}
	return max, max > 0, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// Store is the PostgreSQL persistence layer. All settlement, total, event,
// workflow, activity, notification and rate data lives here.
type Store struct {
	db  *sqlx.DB
	log *logging.ComponentLogger
}

// Open connects to PostgreSQL and configures the connection pool.
func Open(dsn string, log *logging.ComponentLogger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, log: log}, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Txn is the set of operations available inside one store transaction.
// The ingestion coordinator and the approval workflow run their multi-step
// sequences through it so every step commits or rolls back together.
type Txn interface {
	SaveSettlement(ctx context.Context, stl *model.Settlement) (refID int64, inserted bool, err error)
	MarkOldVersions(ctx context.Context, settlementID, pts, processingEntity string, currentRef int64) (int64, error)
	PreviousCounterparty(ctx context.Context, settlementID, pts, processingEntity string, currentRef int64) (string, bool, error)
	EnqueueEvents(ctx context.Context, events []model.SettlementEvent) error
	FindByIDVersion(ctx context.Context, settlementID string, version int64) (*model.Settlement, error)
	WorkflowState(ctx context.Context, settlementID string, version int64) (string, bool, error)
	UpsertWorkflowState(ctx context.Context, settlementID string, version int64, state string) error
	AppendActivity(ctx context.Context, a model.Activity) error
	LatestActivityUser(ctx context.Context, settlementID string, version int64, actionType string) (string, bool, error)
	EnqueueNotification(ctx context.Context, n model.Notification) error
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(Txn) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txn implements Txn over one *sqlx.Tx.
type txn struct {
	tx *sqlx.Tx
}

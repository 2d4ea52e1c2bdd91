package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunningTotal is the per-group net USD exposure. RefID is the watermark:
// the highest settlement ref_id incorporated into Total.
type RunningTotal struct {
	ID               int64           `db:"id"`
	PTS              string          `db:"pts"`
	ProcessingEntity string          `db:"processing_entity"`
	CounterpartyID   string          `db:"counterparty_id"`
	ValueDate        time.Time       `db:"value_date"`
	Total            decimal.Decimal `db:"total"`
	RefID            int64           `db:"ref_id"`
}

// Group returns the aggregation key of the total.
func (r *RunningTotal) Group() GroupKey {
	return GroupKey{
		PTS:              r.PTS,
		ProcessingEntity: r.ProcessingEntity,
		CounterpartyID:   r.CounterpartyID,
		ValueDate:        r.ValueDate.Format(DateLayout),
	}
}

// ExchangeRate is one cached currency→USD rate.
type ExchangeRate struct {
	Currency   string          `db:"currency" json:"currency"`
	RateToUSD  decimal.Decimal `db:"rate_to_usd" json:"rateToUsd"`
	UpdateTime time.Time       `db:"update_time" json:"updateTime"`
}

// SettlementEvent tells the running-total engine that a group must be
// recomputed up to RefID. A regroup ingestion emits two events, one per
// affected group. Force marks an admin recalculation, which recomputes
// even when the group watermark is already at RefID.
type SettlementEvent struct {
	PTS              string    `db:"pts"`
	ProcessingEntity string    `db:"processing_entity"`
	CounterpartyID   string    `db:"counterparty_id"`
	ValueDate        time.Time `db:"value_date"`
	RefID            int64     `db:"ref_id"`
	Force            bool      `db:"force_recalc"`
}

// Group returns the aggregation key the event targets.
func (e *SettlementEvent) Group() GroupKey {
	return GroupKey{
		PTS:              e.PTS,
		ProcessingEntity: e.ProcessingEntity,
		CounterpartyID:   e.CounterpartyID,
		ValueDate:        e.ValueDate.Format(DateLayout),
	}
}

// QueuedEvent is a SettlementEvent as stored in the durable event queue.
type QueuedEvent struct {
	ID int64 `db:"id"`
	SettlementEvent
	Attempts      int       `db:"attempts"`
	NextAttemptAt time.Time `db:"next_attempt_at"`
	CreatedAt     time.Time `db:"created_at"`
}

// GroupTotal pairs a group key with its current running total for group
// enumeration queries. Groups whose event is still pending carry a zero
// watermark.
type GroupTotal struct {
	PTS              string          `db:"pts" json:"pts"`
	ProcessingEntity string          `db:"processing_entity" json:"processingEntity"`
	CounterpartyID   string          `db:"counterparty_id" json:"counterpartyId"`
	ValueDate        time.Time       `db:"value_date" json:"valueDate"`
	Total            decimal.Decimal `db:"total" json:"total"`
	RefID            int64           `db:"ref_id" json:"refId"`
}

// Group returns the aggregation key of the row.
func (g *GroupTotal) Group() GroupKey {
	return GroupKey{
		PTS:              g.PTS,
		ProcessingEntity: g.ProcessingEntity,
		CounterpartyID:   g.CounterpartyID,
		ValueDate:        g.ValueDate.Format(DateLayout),
	}
}

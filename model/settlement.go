package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format for value dates.
const DateLayout = "2006-01-02"

// Business statuses supplied by upstream trading systems.
const (
	StatusPending   = "PENDING"
	StatusInvalid   = "INVALID"
	StatusVerified  = "VERIFIED"
	StatusCancelled = "CANCELLED"
)

// Settlement directions.
const (
	DirectionPay     = "PAY"
	DirectionReceive = "RECEIVE"
)

// Settlement types.
const (
	TypeGross = "GROSS"
	TypeNet   = "NET"
)

// BusinessStatuses lists the accepted business_status values.
var BusinessStatuses = []string{StatusPending, StatusInvalid, StatusVerified, StatusCancelled}

// Directions lists the accepted direction values.
var Directions = []string{DirectionPay, DirectionReceive}

// SettlementTypes lists the accepted settlement_type values.
var SettlementTypes = []string{TypeGross, TypeNet}

// Settlement is one version of a settlement record. Rows are immutable
// except for is_old, which flips to true when a newer version arrives.
type Settlement struct {
	RefID             int64           `db:"ref_id" json:"refId"`
	SettlementID      string          `db:"settlement_id" json:"settlementId"`
	SettlementVersion int64           `db:"settlement_version" json:"settlementVersion"`
	PTS               string          `db:"pts" json:"pts"`
	ProcessingEntity  string          `db:"processing_entity" json:"processingEntity"`
	CounterpartyID    string          `db:"counterparty_id" json:"counterpartyId"`
	ValueDate         time.Time       `db:"value_date" json:"valueDate"`
	Currency          string          `db:"currency" json:"currency"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	BusinessStatus    string          `db:"business_status" json:"businessStatus"`
	Direction         string          `db:"direction" json:"direction"`
	SettlementType    string          `db:"settlement_type" json:"settlementType"`
	IsOld             bool            `db:"is_old" json:"isOld"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// Group returns the aggregation key of the settlement.
func (s *Settlement) Group() GroupKey {
	return s.GroupWith(s.CounterpartyID)
}

// GroupWith returns the aggregation key the settlement would belong to
// under a different counterparty. Used when a regroup moves a settlement
// between groups.
func (s *Settlement) GroupWith(counterparty string) GroupKey {
	return GroupKey{
		PTS:              s.PTS,
		ProcessingEntity: s.ProcessingEntity,
		CounterpartyID:   counterparty,
		ValueDate:        s.ValueDate.Format(DateLayout),
	}
}

// GroupKey identifies one aggregation scope:
// (pts, processing_entity, counterparty_id, value_date).
type GroupKey struct {
	PTS              string
	ProcessingEntity string
	CounterpartyID   string
	ValueDate        string
}

func (k GroupKey) String() string {
	return k.PTS + "/" + k.ProcessingEntity + "/" + k.CounterpartyID + "/" + k.ValueDate
}

// SettlementRequest is the inbound JSON payload for POST /api/settlements.
// Amount accepts a JSON number or string. SettlementVersion is a pointer so
// a missing field is distinguishable from version 0.
type SettlementRequest struct {
	SettlementID      string          `json:"settlementId"`
	SettlementVersion *int64          `json:"settlementVersion"`
	PTS               string          `json:"pts"`
	ProcessingEntity  string          `json:"processingEntity"`
	CounterpartyID    string          `json:"counterpartyId"`
	ValueDate         string          `json:"valueDate"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	BusinessStatus    string          `json:"businessStatus"`
	Direction         string          `json:"direction"`
	SettlementType    string          `json:"settlementType"`
}

// Normalize builds the Settlement a valid request describes. Enum fields
// and the currency are upper-cased; the value date is parsed as a calendar
// date. Must only be called after validation has passed.
func (r *SettlementRequest) Normalize() *Settlement {
	valueDate, _ := time.Parse(DateLayout, strings.TrimSpace(r.ValueDate))
	var version int64
	if r.SettlementVersion != nil {
		version = *r.SettlementVersion
	}
	return &Settlement{
		SettlementID:      strings.TrimSpace(r.SettlementID),
		SettlementVersion: version,
		PTS:               strings.TrimSpace(r.PTS),
		ProcessingEntity:  strings.TrimSpace(r.ProcessingEntity),
		CounterpartyID:    strings.TrimSpace(r.CounterpartyID),
		ValueDate:         valueDate,
		Currency:          strings.ToUpper(strings.TrimSpace(r.Currency)),
		Amount:            r.Amount,
		BusinessStatus:    strings.ToUpper(strings.TrimSpace(r.BusinessStatus)),
		Direction:         strings.ToUpper(strings.TrimSpace(r.Direction)),
		SettlementType:    strings.ToUpper(strings.TrimSpace(r.SettlementType)),
	}
}

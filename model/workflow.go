package model

import "time"

// Effective statuses computed by the status resolver.
const (
	EffectiveCancelled      = "CANCELLED"
	EffectiveInvalid        = "INVALID"
	EffectiveSuperseded     = "SUPERSEDED"
	EffectivePendingCalc    = "PENDING_CALC"
	EffectiveBlocked        = "BLOCKED"
	EffectiveAuthorizedAuto = "AUTHORIZED_AUTO"
)

// Workflow states persisted per (settlement_id, settlement_version). A
// settlement without a persisted state is in the implicit AUTO state; the
// resolver derives BLOCKED from the running total and limit.
const (
	WorkflowAuto             = "AUTO"
	WorkflowPendingAuthorise = "PENDING_AUTHORISE"
	WorkflowAuthorised       = "AUTHORISED"
	WorkflowRejected         = "REJECTED"
)

// Activity action types.
const (
	ActionRequestRelease = "REQUEST_RELEASE"
	ActionAuthorise      = "AUTHORISE"
	ActionReject         = "REJECT"
	ActionRecalculate    = "RECALCULATE"
)

// User identifies the operator performing a workflow action.
type User struct {
	ID   string `json:"userId"`
	Name string `json:"userName"`
}

// Activity is one append-only audit record.
type Activity struct {
	ID                int64     `db:"id"`
	PTS               string    `db:"pts"`
	ProcessingEntity  string    `db:"processing_entity"`
	SettlementID      string    `db:"settlement_id"`
	SettlementVersion int64     `db:"settlement_version"`
	UserID            string    `db:"user_id"`
	UserName          string    `db:"user_name"`
	ActionType        string    `db:"action_type"`
	Comment           string    `db:"comment"`
	CreateTime        time.Time `db:"create_time"`
}

// Notification is one pending downstream delivery. Rows are deleted after
// successful delivery and moved to the failure table once retries are
// exhausted.
type Notification struct {
	ID            int64     `db:"id"`
	SettlementID  string    `db:"settlement_id"`
	Status        string    `db:"status"`
	Details       string    `db:"details"`
	RetryCount    int       `db:"retry_count"`
	NextAttemptAt time.Time `db:"next_attempt_at"`
}

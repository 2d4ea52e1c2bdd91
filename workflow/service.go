package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
	"github.com/colinzhu/limit-monitoring-sub001/store"
)

// Store is the transactional surface the workflow needs.
type Store interface {
	WithTx(ctx context.Context, fn func(store.Txn) error) error
}

// Resolver computes the effective status a transition starts from.
type Resolver interface {
	Resolve(ctx context.Context, stl *model.Settlement) (string, error)
}

// Service drives the two-person approval workflow. Each transition loads
// the settlement, checks the current state, writes the new state, the audit
// activity and any notification in one transaction.
type Service struct {
	store    Store
	resolver Resolver
	log      *logging.ComponentLogger
}

// NewService creates a workflow service.
func NewService(st Store, resolver Resolver, log *logging.ComponentLogger) *Service {
	return &Service{store: st, resolver: resolver, log: log}
}

// RequestRelease moves a BLOCKED settlement to PENDING_AUTHORISE and records
// who asked. Only a settlement the limit check blocked, with no workflow
// state yet, can be released.
func (s *Service) RequestRelease(ctx context.Context, settlementID string, version int64, user model.User, comment string) error {
	err := s.store.WithTx(ctx, func(tx store.Txn) error {
		stl, err := tx.FindByIDVersion(ctx, settlementID, version)
		if err != nil {
			return err
		}

		state, found, err := tx.WorkflowState(ctx, settlementID, version)
		if err != nil {
			return err
		}
		if found {
			return &model.InvalidTransitionError{Action: model.ActionRequestRelease, From: state}
		}

		effective, err := s.resolver.Resolve(ctx, stl)
		if err != nil {
			return err
		}
		if effective != model.EffectiveBlocked {
			return &model.InvalidTransitionError{Action: model.ActionRequestRelease, From: effective}
		}

		if err := tx.UpsertWorkflowState(ctx, settlementID, version, model.WorkflowPendingAuthorise); err != nil {
			return err
		}
		return tx.AppendActivity(ctx, activity(stl, user, model.ActionRequestRelease, comment))
	})
	if err != nil {
		return err
	}

	transitionsTotal.WithLabelValues(model.ActionRequestRelease).Inc()
	s.log.Info().
		Str("settlement_id", settlementID).
		Int64("settlement_version", version).
		Str("user_id", user.ID).
		Msg("Release requested")
	return nil
}

// Authorize moves a PENDING_AUTHORISE settlement to AUTHORISED and enqueues
// the downstream notification. The authorizing user must differ from the
// user who requested release.
func (s *Service) Authorize(ctx context.Context, settlementID string, version int64, user model.User, comment string) error {
	err := s.store.WithTx(ctx, func(tx store.Txn) error {
		stl, err := s.pendingAuthorise(ctx, tx, settlementID, version, model.ActionAuthorise, user)
		if err != nil {
			return err
		}

		if err := tx.UpsertWorkflowState(ctx, settlementID, version, model.WorkflowAuthorised); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, activity(stl, user, model.ActionAuthorise, comment)); err != nil {
			return err
		}
		return tx.EnqueueNotification(ctx, model.Notification{
			SettlementID: settlementID,
			Status:       model.WorkflowAuthorised,
			Details:      notificationDetails(stl),
		})
	})
	if err != nil {
		return err
	}

	transitionsTotal.WithLabelValues(model.ActionAuthorise).Inc()
	s.log.Info().
		Str("settlement_id", settlementID).
		Int64("settlement_version", version).
		Str("user_id", user.ID).
		Msg("Settlement authorised")
	return nil
}

// Reject moves a PENDING_AUTHORISE settlement to REJECTED. The same
// segregation rule as Authorize applies.
func (s *Service) Reject(ctx context.Context, settlementID string, version int64, user model.User, comment string) error {
	err := s.store.WithTx(ctx, func(tx store.Txn) error {
		stl, err := s.pendingAuthorise(ctx, tx, settlementID, version, model.ActionReject, user)
		if err != nil {
			return err
		}

		if err := tx.UpsertWorkflowState(ctx, settlementID, version, model.WorkflowRejected); err != nil {
			return err
		}
		return tx.AppendActivity(ctx, activity(stl, user, model.ActionReject, comment))
	})
	if err != nil {
		return err
	}

	transitionsTotal.WithLabelValues(model.ActionReject).Inc()
	s.log.Info().
		Str("settlement_id", settlementID).
		Int64("settlement_version", version).
		Str("user_id", user.ID).
		Msg("Settlement rejected")
	return nil
}

// pendingAuthorise loads the settlement, requires state PENDING_AUTHORISE
// and enforces segregation of duties against the latest release request.
func (s *Service) pendingAuthorise(ctx context.Context, tx store.Txn, settlementID string, version int64, action string, user model.User) (*model.Settlement, error) {
	stl, err := tx.FindByIDVersion(ctx, settlementID, version)
	if err != nil {
		return nil, err
	}

	state, found, err := tx.WorkflowState(ctx, settlementID, version)
	if err != nil {
		return nil, err
	}
	if !found {
		state = model.WorkflowAuto
	}
	if state != model.WorkflowPendingAuthorise {
		return nil, &model.InvalidTransitionError{Action: action, From: state}
	}

	requester, found, err := tx.LatestActivityUser(ctx, settlementID, version, model.ActionRequestRelease)
	if err != nil {
		return nil, err
	}
	if found && requester == user.ID {
		segregationRejectionsTotal.Inc()
		return nil, &model.SegregationError{UserID: user.ID}
	}
	return stl, nil
}

func activity(stl *model.Settlement, user model.User, action, comment string) model.Activity {
	return model.Activity{
		PTS:               stl.PTS,
		ProcessingEntity:  stl.ProcessingEntity,
		SettlementID:      stl.SettlementID,
		SettlementVersion: stl.SettlementVersion,
		UserID:            user.ID,
		UserName:          user.Name,
		ActionType:        action,
		Comment:           comment,
	}
}

// notificationDetails packs the fields the downstream endpoint dedupes and
// routes on. Carried as a JSON document in the queue row.
func notificationDetails(stl *model.Settlement) string {
	raw, err := json.Marshal(map[string]interface{}{
		"settlementId":      stl.SettlementID,
		"settlementVersion": stl.SettlementVersion,
		"pts":               stl.PTS,
		"processingEntity":  stl.ProcessingEntity,
		"counterpartyId":    stl.CounterpartyID,
		"valueDate":         stl.ValueDate.Format(model.DateLayout),
		"currency":          stl.Currency,
		"amount":            stl.Amount.StringFixed(2),
	})
	if err != nil {
		return fmt.Sprintf(`{"settlementId":%q,"settlementVersion":%d}`, stl.SettlementID, stl.SettlementVersion)
	}
	return string(raw)
}

package status

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/model"
	"github.com/colinzhu/limit-monitoring-sub001/totals"
)

// Store is the read surface the resolver needs.
type Store interface {
	RunningTotal(ctx context.Context, key model.GroupKey) (model.RunningTotal, bool, error)
	WorkflowState(ctx context.Context, settlementID string, version int64) (string, bool, error)
}

// Registry resolves calculation rules and exposure limits.
type Registry interface {
	Rule(pts, processingEntity string) model.CalculationRule
	Limit(counterparty string) decimal.Decimal
}

// Converter converts settlement amounts to USD.
type Converter interface {
	ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// Resolver computes a settlement's effective status on demand. It reads
// committed state and never mutates anything.
type Resolver struct {
	store    Store
	registry Registry
	fx       Converter
}

// NewResolver creates a status resolver.
func NewResolver(st Store, registry Registry, fx Converter) *Resolver {
	return &Resolver{store: st, registry: registry, fx: fx}
}

// Resolve derives the effective status of one settlement. Precedence:
// CANCELLED, INVALID, SUPERSEDED, then any persisted workflow state, then
// the limit evaluation against the group running total. A group whose
// watermark has not reached the settlement yet is PENDING_CALC.
func (r *Resolver) Resolve(ctx context.Context, stl *model.Settlement) (string, error) {
	switch stl.BusinessStatus {
	case model.StatusCancelled:
		return model.EffectiveCancelled, nil
	case model.StatusInvalid:
		return model.EffectiveInvalid, nil
	}
	if stl.IsOld {
		return model.EffectiveSuperseded, nil
	}

	// Once a human has acted on the settlement the workflow table is
	// authoritative over the computed limit result.
	state, found, err := r.store.WorkflowState(ctx, stl.SettlementID, stl.SettlementVersion)
	if err != nil {
		return "", err
	}
	if found {
		return state, nil
	}

	return r.LimitStatus(ctx, stl)
}

// LimitStatus evaluates only the running-total and limit part of the
// ladder: PENDING_CALC, BLOCKED or AUTHORIZED_AUTO. The approval workflow
// uses it to decide whether a release request is admissible.
func (r *Resolver) LimitStatus(ctx context.Context, stl *model.Settlement) (string, error) {
	rt, found, err := r.store.RunningTotal(ctx, stl.Group())
	if err != nil {
		return "", err
	}
	if !found || rt.RefID < stl.RefID {
		return model.EffectivePendingCalc, nil
	}

	projected := rt.Total
	if !r.counted(stl) {
		// The settlement is filtered out of its group total, so project
		// what the exposure would be if it settled anyway.
		usd, err := r.fx.ToUSD(stl.Amount, stl.Currency)
		if err != nil {
			return "", err
		}
		projected = projected.Add(totals.Contribution(stl.Direction, usd))
	}

	if projected.Abs().GreaterThan(r.registry.Limit(stl.CounterpartyID)) {
		return model.EffectiveBlocked, nil
	}
	return model.EffectiveAuthorizedAuto, nil
}

// counted reports whether the settlement is already inside its group's
// running total: it must pass the store-level group filter and the
// calculation rule for its (pts, processing_entity).
func (r *Resolver) counted(stl *model.Settlement) bool {
	if stl.IsOld || stl.Direction != model.DirectionPay || stl.BusinessStatus == model.StatusCancelled {
		return false
	}
	return r.registry.Rule(stl.PTS, stl.ProcessingEntity).Includes(stl)
}

package totals

import (
	"context"
	"fmt"

	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// Recalculate enqueues a forced recomputation event for every group
// matching the filter and records who asked for it. Returns the number of
// groups queued. Used after a rule or rate change, or to repair a group
// whose events dead-lettered.
func (e *Engine) Recalculate(ctx context.Context, filter model.GroupFilter, user model.User, comment string) (int, error) {
	groups, err := e.store.DistinctGroups(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate groups: %w", err)
	}

	events := make([]model.SettlementEvent, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		maxRef, found, err := e.store.MaxGroupRefID(ctx, g.Group())
		if err != nil {
			return 0, fmt.Errorf("failed to resolve watermark for group %s: %w", g.Group(), err)
		}
		if !found {
			continue
		}
		events = append(events, model.SettlementEvent{
			PTS:              g.PTS,
			ProcessingEntity: g.ProcessingEntity,
			CounterpartyID:   g.CounterpartyID,
			ValueDate:        g.ValueDate,
			RefID:            maxRef,
			Force:            true,
		})
	}

	if len(events) > 0 {
		if err := e.store.InsertEvents(ctx, events); err != nil {
			return 0, fmt.Errorf("failed to enqueue recalculation events: %w", err)
		}
	}

	if err := e.store.RecordActivity(ctx, model.Activity{
		UserID:     user.ID,
		UserName:   user.Name,
		ActionType: model.ActionRecalculate,
		Comment:    comment,
	}); err != nil {
		e.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to record recalculation activity")
	}

	recalculationsTotal.Inc()
	e.Kick()
	e.log.Info().
		Int("groups", len(events)).
		Str("user_id", user.ID).
		Msg("Recalculation requested")
	return len(events), nil
}

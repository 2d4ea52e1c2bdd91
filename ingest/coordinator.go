package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
	"github.com/colinzhu/limit-monitoring-sub001/store"
)

// Store is the transactional surface the coordinator needs.
type Store interface {
	WithTx(ctx context.Context, fn func(store.Txn) error) error
}

// Converter pre-checks that the settlement currency is convertible.
type Converter interface {
	ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// Coordinator runs the ingestion pipeline: validate, persist, age out
// superseded versions, detect regroups and enqueue recomputation events.
// Everything between persist and enqueue happens in one transaction, so a
// committed settlement always has its events on the queue.
type Coordinator struct {
	store Store
	fx    Converter
	kick  func()
	log   *logging.ComponentLogger
}

// NewCoordinator creates an ingestion coordinator. kick is invoked after a
// commit that enqueued events; it must not block.
func NewCoordinator(st Store, fx Converter, kick func(), log *logging.ComponentLogger) *Coordinator {
	if kick == nil {
		kick = func() {}
	}
	return &Coordinator{store: st, fx: fx, kick: kick, log: log}
}

type ingestResult struct {
	refID     int64
	duplicate bool
	regroup   bool
}

// ProcessSettlement ingests one settlement request and returns its ref ID.
// Replays of an already-ingested (settlement_id, pts, processing_entity,
// settlement_version) return the existing ref ID without side effects.
func (c *Coordinator) ProcessSettlement(ctx context.Context, req *model.SettlementRequest) (int64, error) {
	start := time.Now()

	if err := Validate(req); err != nil {
		ingestRejectedTotal.WithLabelValues("validation").Inc()
		return 0, err
	}
	stl := req.Normalize()

	// Fail closed: a settlement whose currency has no rate would poison
	// every later recomputation of its group.
	if _, err := c.fx.ToUSD(stl.Amount, stl.Currency); err != nil {
		ingestRejectedTotal.WithLabelValues("fx").Inc()
		return 0, err
	}

	res, err := c.persist(ctx, stl)
	if err != nil && store.IsTransient(err) {
		c.log.Warn().
			Err(err).
			Str("settlement_id", stl.SettlementID).
			Msg("Transient database error during ingestion, retrying once")
		res, err = c.persist(ctx, stl)
	}
	if err != nil {
		ingestErrorsTotal.Inc()
		return 0, err
	}

	if res.duplicate {
		ingestDuplicatesTotal.Inc()
	} else {
		ingestAcceptedTotal.Inc()
		if res.regroup {
			ingestRegroupsTotal.Inc()
		}
		c.kick()
	}

	ingestDurationHistogram.Observe(time.Since(start).Seconds())
	c.log.LogIngestion(logging.IngestionRecord{
		SettlementID:      stl.SettlementID,
		SettlementVersion: stl.SettlementVersion,
		RefID:             res.refID,
		Duplicate:         res.duplicate,
		Regroup:           res.regroup,
		Duration:          time.Since(start),
	})
	return res.refID, nil
}

// persist runs steps 2 through 5 of the pipeline in one transaction.
func (c *Coordinator) persist(ctx context.Context, stl *model.Settlement) (ingestResult, error) {
	var res ingestResult
	err := c.store.WithTx(ctx, func(tx store.Txn) error {
		refID, inserted, err := tx.SaveSettlement(ctx, stl)
		if err != nil {
			return err
		}
		res.refID = refID
		if !inserted {
			// Idempotent replay: nothing changed, emit nothing.
			res.duplicate = true
			return nil
		}
		stl.RefID = refID

		if _, err := tx.MarkOldVersions(ctx, stl.SettlementID, stl.PTS, stl.ProcessingEntity, refID); err != nil {
			return err
		}

		prev, found, err := tx.PreviousCounterparty(ctx, stl.SettlementID, stl.PTS, stl.ProcessingEntity, refID)
		if err != nil {
			return err
		}

		events := make([]model.SettlementEvent, 0, 2)
		if found && prev != stl.CounterpartyID {
			// Regroup: the old group must shed this settlement's prior
			// contribution, so it gets its own recomputation event.
			res.regroup = true
			events = append(events, model.SettlementEvent{
				PTS:              stl.PTS,
				ProcessingEntity: stl.ProcessingEntity,
				CounterpartyID:   prev,
				ValueDate:        stl.ValueDate,
				RefID:            refID,
			})
		}
		events = append(events, model.SettlementEvent{
			PTS:              stl.PTS,
			ProcessingEntity: stl.ProcessingEntity,
			CounterpartyID:   stl.CounterpartyID,
			ValueDate:        stl.ValueDate,
			RefID:            refID,
		})
		return tx.EnqueueEvents(ctx, events)
	})
	return res, err
}

package totals

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

const (
	pollInterval  = time.Second
	pollBatchSize = 256
	queueDepth    = 16

	maxEventAttempts = 5
	baseBackoff      = time.Second
	maxBackoff       = 60 * time.Second
)

// Store is the persistence surface the engine needs: the durable event
// queue plus the settlement and running-total tables.
type Store interface {
	DueEvents(ctx context.Context, now time.Time, limit int) ([]model.QueuedEvent, error)
	DeleteEvent(ctx context.Context, id int64) error
	RescheduleEvent(ctx context.Context, id int64, attempts int, next time.Time) error
	DeadLetterEvent(ctx context.Context, ev model.QueuedEvent, reason string) error
	RunningTotal(ctx context.Context, key model.GroupKey) (model.RunningTotal, bool, error)
	UpsertRunningTotal(ctx context.Context, key model.GroupKey, total decimal.Decimal, watermark int64) error
	GroupSettlements(ctx context.Context, key model.GroupKey, maxRef int64) ([]model.Settlement, error)
	DistinctGroups(ctx context.Context, f model.GroupFilter) ([]model.GroupTotal, error)
	MaxGroupRefID(ctx context.Context, key model.GroupKey) (int64, bool, error)
	InsertEvents(ctx context.Context, events []model.SettlementEvent) error
	RecordActivity(ctx context.Context, a model.Activity) error
}

// Rules resolves the calculation rule for a (pts, processing entity) pair.
type Rules interface {
	Rule(pts, processingEntity string) model.CalculationRule
}

// Converter converts settlement amounts to USD.
type Converter interface {
	ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// Engine consumes settlement events and maintains per-group running totals.
// Events with the same group key always land on the same worker, so each
// group is recomputed strictly one event at a time in ref_id order; distinct
// groups proceed in parallel.
type Engine struct {
	store   Store
	rules   Rules
	fx      Converter
	log     *logging.ComponentLogger
	workers int

	kick chan struct{}

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewEngine creates a running-total engine with the given worker count.
func NewEngine(st Store, rules Rules, fx Converter, workers int, log *logging.ComponentLogger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		store:    st,
		rules:    rules,
		fx:       fx,
		log:      log,
		workers:  workers,
		kick:     make(chan struct{}, 1),
		inFlight: make(map[int64]struct{}),
	}
}

// Kick nudges the engine to poll the event queue immediately instead of
// waiting for the next tick. Never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run polls the event queue and dispatches events to the keyed workers
// until ctx is cancelled. Workers finish the events already handed to them
// before Run returns; everything else stays queued for the next start.
func (e *Engine) Run(ctx context.Context) error {
	// Workers keep going through shutdown so an event in hand can persist
	// its watermark.
	workCtx := context.WithoutCancel(ctx)

	queues := make([]chan model.QueuedEvent, e.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan model.QueuedEvent, queueDepth)
		wg.Add(1)
		go func(q <-chan model.QueuedEvent) {
			defer wg.Done()
			for ev := range q {
				e.handle(workCtx, ev)
			}
		}(queues[i])
	}

	e.log.Info().Int("workers", e.workers).Msg("Running-total engine started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, q := range queues {
				close(q)
			}
			wg.Wait()
			e.log.Info().Msg("Running-total engine stopped")
			return nil
		case <-e.kick:
			e.dispatchDue(ctx, queues)
		case <-ticker.C:
			e.dispatchDue(ctx, queues)
		}
	}
}

// dispatchDue claims due events and routes each to the worker owning its
// group key. A full worker queue leaves the event claimed-free in the
// database; the next poll picks it up again.
func (e *Engine) dispatchDue(ctx context.Context, queues []chan model.QueuedEvent) {
	events, err := e.store.DueEvents(ctx, time.Now(), pollBatchSize)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to poll event queue")
		return
	}
	for _, ev := range events {
		if !e.claim(ev.ID) {
			continue
		}
		select {
		case queues[e.route(ev.Group())] <- ev:
		default:
			e.release(ev.ID)
		}
	}
}

func (e *Engine) route(key model.GroupKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(e.workers))
}

func (e *Engine) claim(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[id]; ok {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *Engine) release(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, id)
}

func (e *Engine) handle(ctx context.Context, ev model.QueuedEvent) {
	defer e.release(ev.ID)

	if err := e.process(ctx, ev.SettlementEvent); err != nil {
		e.retryOrBury(ctx, ev, err)
		return
	}
	if err := e.store.DeleteEvent(ctx, ev.ID); err != nil {
		// The event stays queued and gets reprocessed; the watermark check
		// turns that replay into a no-op.
		e.log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to delete processed event")
	}
}

// process recomputes the group total from scratch up to the event's ref_id.
// Recomputation rather than an incremental delta: a regroup or a version
// flip can change the contribution of rows already counted.
func (e *Engine) process(ctx context.Context, ev model.SettlementEvent) error {
	start := time.Now()
	key := ev.Group()

	current, found, err := e.store.RunningTotal(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load running total: %w", err)
	}
	if found && ev.RefID <= current.RefID {
		if !ev.Force {
			eventsDiscardedTotal.Inc()
			e.log.Debug().
				Str("group", key.String()).
				Int64("event_ref", ev.RefID).
				Int64("watermark", current.RefID).
				Msg("Event at or below watermark, discarding")
			return nil
		}
		// Forced recalculation recomputes at the current watermark so it
		// never moves backwards.
		ev.RefID = current.RefID
	}

	rows, err := e.store.GroupSettlements(ctx, key, ev.RefID)
	if err != nil {
		return fmt.Errorf("failed to load group settlements: %w", err)
	}

	rule := e.rules.Rule(ev.PTS, ev.ProcessingEntity)
	total := decimal.Zero
	included := 0
	for i := range rows {
		stl := &rows[i]
		if !rule.Includes(stl) {
			continue
		}
		usd, err := e.fx.ToUSD(stl.Amount, stl.Currency)
		if err != nil {
			return fmt.Errorf("failed to convert settlement %s: %w", stl.SettlementID, err)
		}
		total = total.Add(Contribution(stl.Direction, usd))
		included++
	}

	if err := e.store.UpsertRunningTotal(ctx, key, total, ev.RefID); err != nil {
		return fmt.Errorf("failed to upsert running total: %w", err)
	}

	eventsProcessedTotal.Inc()
	recomputeDurationHistogram.Observe(time.Since(start).Seconds())
	e.log.Info().
		Str("group", key.String()).
		Int64("watermark", ev.RefID).
		Int("included", included).
		Str("total_usd", total.StringFixed(2)).
		Msg("Running total recomputed")
	return nil
}

// retryOrBury schedules a failed event for another attempt, or moves it to
// the dead-letter table once the attempt budget is spent.
func (e *Engine) retryOrBury(ctx context.Context, ev model.QueuedEvent, cause error) {
	attempts := ev.Attempts + 1
	if attempts >= maxEventAttempts {
		eventsDeadLetteredTotal.Inc()
		e.log.Error().
			Err(cause).
			Int64("event_id", ev.ID).
			Str("group", ev.Group().String()).
			Int("attempts", attempts).
			Msg("Event exhausted retries, moving to dead letter")
		if err := e.store.DeadLetterEvent(ctx, ev, cause.Error()); err != nil {
			e.log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to dead-letter event")
		}
		return
	}

	backoff := backoffFor(attempts)
	eventRetriesTotal.Inc()
	e.log.Warn().
		Err(cause).
		Int64("event_id", ev.ID).
		Int("attempt", attempts).
		Dur("backoff", backoff).
		Msg("Event processing failed, scheduling retry")
	if err := e.store.RescheduleEvent(ctx, ev.ID, attempts, time.Now().Add(backoff)); err != nil {
		e.log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to reschedule event")
	}
}

func backoffFor(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Contribution is the signed USD effect of one settlement on its group
// total: PAY counts negative, RECEIVE positive.
func Contribution(direction string, usd decimal.Decimal) decimal.Decimal {
	if direction == model.DirectionReceive {
		return usd
	}
	return usd.Neg()
}

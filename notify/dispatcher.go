package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

const (
	pollInterval  = 5 * time.Second
	pollBatchSize = 64

	baseBackoff = 30 * time.Second
	maxBackoff  = 30 * time.Minute
)

// Store is the queue surface the dispatcher needs.
type Store interface {
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	DeleteNotification(ctx context.Context, id int64) error
	RescheduleNotification(ctx context.Context, id int64, retryCount int, next time.Time) error
	FailNotification(ctx context.Context, n model.Notification) error
}

// Dispatcher delivers queued notifications to the downstream endpoint at
// least once. Failed deliveries back off exponentially; exhausted ones move
// to the failure table. The endpoint is expected to deduplicate by the
// settlement id and version carried in the details payload.
type Dispatcher struct {
	store      Store
	endpoint   string
	maxRetries int
	client     *http.Client
	log        *logging.ComponentLogger
}

// NewDispatcher creates a notification dispatcher. endpoint may be empty,
// in which case deliveries stay queued.
func NewDispatcher(st Store, endpoint string, maxRetries int, log *logging.ComponentLogger) *Dispatcher {
	return &Dispatcher{
		store:      st,
		endpoint:   endpoint,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Run polls the queue and attempts due deliveries until the context is
// cancelled. The batch in hand is finished before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.endpoint == "" {
		d.log.Info().Msg("No notification endpoint configured, deliveries stay queued")
		return nil
	}

	d.log.Info().Str("endpoint", d.endpoint).Msg("Notification dispatcher started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("Notification dispatcher stopped")
			return nil
		case <-ticker.C:
			d.deliverDue(context.WithoutCancel(ctx))
		}
	}
}

func (d *Dispatcher) deliverDue(ctx context.Context) {
	batch, err := d.store.DueNotifications(ctx, time.Now(), pollBatchSize)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to poll notification queue")
		return
	}
	for _, n := range batch {
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n model.Notification) {
	start := time.Now()
	if err := d.attempt(ctx, n); err != nil {
		d.retryOrBury(ctx, n, err)
		return
	}

	deliveredTotal.Inc()
	deliveryDurationHistogram.Observe(time.Since(start).Seconds())
	d.log.Info().
		Int64("notification_id", n.ID).
		Str("settlement_id", n.SettlementID).
		Str("status", n.Status).
		Msg("Notification delivered")
	if err := d.store.DeleteNotification(ctx, n.ID); err != nil {
		// The row stays queued and gets redelivered; at-least-once allows
		// the duplicate.
		d.log.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to delete delivered notification")
	}
}

// deliveryPayload is the JSON body posted to the downstream endpoint. The
// delivery id is fresh per attempt so the receiver can log retries apart.
type deliveryPayload struct {
	DeliveryID   string `json:"deliveryId"`
	SettlementID string `json:"settlementId"`
	Status       string `json:"status"`
	Details      string `json:"details,omitempty"`
}

func (d *Dispatcher) attempt(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(deliveryPayload{
		DeliveryID:   uuid.NewString(),
		SettlementID: n.SettlementID,
		Status:       n.Status,
		Details:      n.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// retryOrBury schedules another delivery attempt, or moves the row to the
// failure table once the retry budget is spent.
func (d *Dispatcher) retryOrBury(ctx context.Context, n model.Notification, cause error) {
	retryCount := n.RetryCount + 1
	if retryCount >= d.maxRetries {
		deadLetteredTotal.Inc()
		n.RetryCount = retryCount
		d.log.Error().
			Err(cause).
			Int64("notification_id", n.ID).
			Str("settlement_id", n.SettlementID).
			Int("retries", retryCount).
			Msg("Notification exhausted retries, moving to failure table")
		if err := d.store.FailNotification(ctx, n); err != nil {
			d.log.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to record notification failure")
		}
		return
	}

	backoff := backoffFor(retryCount)
	retriesTotal.Inc()
	d.log.Warn().
		Err(cause).
		Int64("notification_id", n.ID).
		Int("retry", retryCount).
		Dur("backoff", backoff).
		Msg("Notification delivery failed, scheduling retry")
	if err := d.store.RescheduleNotification(ctx, n.ID, retryCount, time.Now().Add(backoff)); err != nil {
		d.log.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to reschedule notification")
	}
}

func backoffFor(retry int) time.Duration {
	d := baseBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// RateStore loads and persists exchange rates.
type RateStore interface {
	LoadRates(ctx context.Context) ([]model.ExchangeRate, error)
	UpsertRates(ctx context.Context, rates []model.ExchangeRate) error
}

// Refresher keeps the converter snapshot current. On every tick it
// optionally pulls fresh rates from an external HTTP source into the
// exchange_rate table, then reloads the table into the converter. A failed
// source fetch keeps the previous table contents; a failed reload keeps the
// previous snapshot.
type Refresher struct {
	conv      *Converter
	store     RateStore
	sourceURL string
	interval  time.Duration
	client    *http.Client
	log       *logging.ComponentLogger
}

// NewRefresher creates a refresher. sourceURL may be empty, in which case
// rates are only ever read from the database.
func NewRefresher(conv *Converter, store RateStore, sourceURL string, interval time.Duration, log *logging.ComponentLogger) *Refresher {
	return &Refresher{
		conv:      conv,
		store:     store,
		sourceURL: sourceURL,
		interval:  interval,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Run refreshes once immediately, then on every tick until the context is
// cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Initial rate refresh failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Rate refresher stopped")
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn().Err(err).Msg("Rate refresh failed, keeping previous snapshot")
			}
		}
	}
}

// Refresh performs one refresh cycle.
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.sourceURL != "" {
		if err := r.pullSource(ctx); err != nil {
			r.log.Warn().Err(err).Str("source", r.sourceURL).Msg("Rate source fetch failed, using stored rates")
		}
	}

	rates, err := r.store.LoadRates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load exchange rates: %w", err)
	}

	r.conv.Replace(rates)
	r.log.Debug().Int("currencies", len(rates)).Msg("Rate snapshot replaced")
	return nil
}

type ratePayload struct {
	Rates []model.ExchangeRate `json:"rates"`
}

func (r *Refresher) pullSource(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build rate source request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var payload ratePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode rate payload: %w", err)
	}
	if len(payload.Rates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for i := range payload.Rates {
		if payload.Rates[i].UpdateTime.IsZero() {
			payload.Rates[i].UpdateTime = now
		}
	}

	if err := r.store.UpsertRates(ctx, payload.Rates); err != nil {
		return fmt.Errorf("failed to store fetched rates: %w", err)
	}

	r.log.Info().Int("currencies", len(payload.Rates)).Msg("Fetched rates from source")
	return nil
}

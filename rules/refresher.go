package rules

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
)

// Refresher polls the external rule source and applies each fetched
// document to the registry. Fetch or decode failures keep the previous
// snapshot.
type Refresher struct {
	reg       *Registry
	sourceURL string
	interval  time.Duration
	client    *http.Client
	log       *logging.ComponentLogger
}

// NewRefresher creates a refresher for the given source URL.
func NewRefresher(reg *Registry, sourceURL string, interval time.Duration, log *logging.ComponentLogger) *Refresher {
	return &Refresher{
		reg:       reg,
		sourceURL: sourceURL,
		interval:  interval,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Run refreshes once immediately, then on every tick until the context is
// cancelled. With no source URL configured the registry keeps serving
// defaults and Run exits.
func (r *Refresher) Run(ctx context.Context) error {
	if r.sourceURL == "" {
		r.log.Info().Msg("No rule source configured, serving default rule and limits")
		return nil
	}

	if err := r.Refresh(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Initial rule refresh failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Rule refresher stopped")
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn().Err(err).Msg("Rule refresh failed, keeping previous snapshot")
			}
		}
	}
}

// Refresh fetches the rule document and applies it.
func (r *Refresher) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build rule source request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rule source returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rule payload: %w", err)
	}

	return r.reg.Apply(raw)
}

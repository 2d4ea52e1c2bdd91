package store

import (
	"context"
	"fmt"

	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// LoadRates returns the full exchange rate table.
func (s *Store) LoadRates(ctx context.Context) ([]model.ExchangeRate, error) {
	var rates []model.ExchangeRate
	err := s.db.SelectContext(ctx, &rates, `
		SELECT currency, rate_to_usd, update_time
		FROM exchange_rate
		ORDER BY currency`)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange rates: %w", err)
	}
	return rates, nil
}

// UpsertRates writes rates pulled from an external source, replacing any
// existing row per currency.
func (s *Store) UpsertRates(ctx context.Context, rates []model.ExchangeRate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rate transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exchange_rate (currency, rate_to_usd, update_time)
			VALUES ($1, $2, $3)
			ON CONFLICT (currency) DO UPDATE SET
				rate_to_usd = EXCLUDED.rate_to_usd,
				update_time = EXCLUDED.update_time`,
			r.Currency, r.RateToUSD, r.UpdateTime)
		if err != nil {
			return fmt.Errorf("failed to upsert rate for %s: %w", r.Currency, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate transaction: %w", err)
	}
	return nil
}

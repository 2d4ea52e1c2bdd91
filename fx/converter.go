package fx

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// BaseCurrency is the common currency all exposure is expressed in.
const BaseCurrency = "USD"

// StaleAfter is the age past which a rate is considered stale. Stale rates
// are still usable; staleness is logged and counted.
const StaleAfter = 24 * time.Hour

var staleConversions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "limit_monitor_fx_stale_conversions_total",
	Help: "Number of conversions performed with a rate older than 24h",
})

// Converter converts settlement amounts to USD using an in-memory rate
// snapshot. The snapshot is replaced wholesale by the refresher; readers
// never block a replacement for long.
type Converter struct {
	mu    sync.RWMutex
	rates map[string]model.ExchangeRate
	log   *logging.ComponentLogger
}

// NewConverter creates a converter with an empty snapshot.
func NewConverter(log *logging.ComponentLogger) *Converter {
	return &Converter{
		rates: make(map[string]model.ExchangeRate),
		log:   log,
	}
}

// ToUSD converts amount from currency into USD, rounded half-even to two
// fractional digits. USD amounts pass through (rounded the same way). An
// unknown currency returns FxError.
func (c *Converter) ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if currency == BaseCurrency {
		return amount.RoundBank(2), nil
	}

	c.mu.RLock()
	rate, ok := c.rates[currency]
	c.mu.RUnlock()
	if !ok {
		return decimal.Decimal{}, &model.FxError{Currency: currency}
	}

	if age := time.Since(rate.UpdateTime); age > StaleAfter {
		staleConversions.Inc()
		c.log.Warn().
			Str("currency", currency).
			Dur("age", age).
			Msg("Converting with stale exchange rate")
	}

	return amount.Mul(rate.RateToUSD).RoundBank(2), nil
}

// Replace swaps in a new rate snapshot.
func (c *Converter) Replace(rates []model.ExchangeRate) {
	next := make(map[string]model.ExchangeRate, len(rates))
	for _, r := range rates {
		next[r.Currency] = r
	}

	c.mu.Lock()
	c.rates = next
	c.mu.Unlock()
}

// Size returns the number of currencies in the current snapshot.
func (c *Converter) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rates)
}

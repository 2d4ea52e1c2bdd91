package fx

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

func testConverter(rates ...model.ExchangeRate) *Converter {
	c := NewConverter(logging.NewComponentLogger("fx-test", "test"))
	c.Replace(rates)
	return c
}

func rate(currency, value string, age time.Duration) model.ExchangeRate {
	return model.ExchangeRate{
		Currency:   currency,
		RateToUSD:  decimal.RequireFromString(value),
		UpdateTime: time.Now().Add(-age),
	}
}

func TestToUSD(t *testing.T) {
	tests := []struct {
		name     string
		rates    []model.ExchangeRate
		amount   string
		currency string
		want     string
		wantErr  bool
	}{
		{
			name:     "usd passes through",
			amount:   "100",
			currency: "USD",
			want:     "100.00",
		},
		{
			name:     "eur converts at cached rate",
			rates:    []model.ExchangeRate{rate("EUR", "1.10", time.Hour)},
			amount:   "100",
			currency: "EUR",
			want:     "110.00",
		},
		{
			name:     "unknown currency fails",
			amount:   "100",
			currency: "XXX",
			wantErr:  true,
		},
		{
			name:     "stale rate still converts",
			rates:    []model.ExchangeRate{rate("GBP", "1.25", 25 * time.Hour)},
			amount:   "40",
			currency: "GBP",
			want:     "50.00",
		},
		{
			name:     "half even rounds to even neighbour down",
			amount:   "2.345",
			currency: "USD",
			want:     "2.34",
		},
		{
			name:     "half even rounds to even neighbour up",
			amount:   "2.355",
			currency: "USD",
			want:     "2.36",
		},
		{
			name:     "conversion result rounds half even",
			rates:    []model.ExchangeRate{rate("JPY", "0.125", time.Hour)},
			amount:   "5",
			currency: "JPY",
			want:     "0.62",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := testConverter(tt.rates...)
			got, err := conv.ToUSD(decimal.RequireFromString(tt.amount), tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ToUSD(%s, %s) expected error, got %s", tt.amount, tt.currency, got)
				}
				var fxErr *model.FxError
				if !errors.As(err, &fxErr) {
					t.Errorf("ToUSD() error = %v, want FxError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToUSD(%s, %s) unexpected error: %v", tt.amount, tt.currency, err)
			}
			if want := decimal.RequireFromString(tt.want); !got.Equal(want) {
				t.Errorf("ToUSD(%s, %s) = %s, want %s", tt.amount, tt.currency, got, want)
			}
		})
	}
}

func TestReplaceSwapsSnapshot(t *testing.T) {
	conv := testConverter(rate("EUR", "1.10", time.Hour))

	if _, err := conv.ToUSD(decimal.NewFromInt(1), "EUR"); err != nil {
		t.Fatalf("expected EUR in first snapshot: %v", err)
	}

	conv.Replace([]model.ExchangeRate{rate("CHF", "1.12", time.Hour)})

	if _, err := conv.ToUSD(decimal.NewFromInt(1), "EUR"); err == nil {
		t.Error("expected EUR to be gone after snapshot replacement")
	}
	if got := conv.Size(); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
}

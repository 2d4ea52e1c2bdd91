package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/model"
)

// maxAmount caps a single settlement at 10^12.
var maxAmount = decimal.New(1, 12)

// Validate checks every rule on the inbound request and reports all
// violations at once rather than stopping at the first.
func Validate(req *model.SettlementRequest) error {
	var violations []string

	required := []struct {
		name  string
		value string
	}{
		{"settlementId", req.SettlementID},
		{"pts", req.PTS},
		{"processingEntity", req.ProcessingEntity},
		{"counterpartyId", req.CounterpartyID},
		{"valueDate", req.ValueDate},
		{"currency", req.Currency},
		{"businessStatus", req.BusinessStatus},
		{"direction", req.Direction},
		{"settlementType", req.SettlementType},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			violations = append(violations, f.name+" is required")
		}
	}

	if req.SettlementVersion == nil {
		violations = append(violations, "settlementVersion is required")
	} else if *req.SettlementVersion < 0 {
		violations = append(violations, "settlementVersion must not be negative")
	}

	if currency := strings.ToUpper(strings.TrimSpace(req.Currency)); currency != "" {
		if !isCurrencyCode(currency) {
			violations = append(violations, "currency must be exactly three letters")
		}
	}

	switch {
	case req.Amount.Sign() <= 0:
		violations = append(violations, "amount must be greater than zero")
	case req.Amount.GreaterThan(maxAmount):
		violations = append(violations, "amount must not exceed 1000000000000")
	case !req.Amount.Equal(req.Amount.Round(2)):
		violations = append(violations, "amount must have at most two decimal places")
	}

	if valueDate := strings.TrimSpace(req.ValueDate); valueDate != "" {
		if _, err := time.Parse(model.DateLayout, valueDate); err != nil {
			violations = append(violations, "valueDate must be a valid date in YYYY-MM-DD format")
		}
	}

	violations = append(violations, checkEnum("businessStatus", req.BusinessStatus, model.BusinessStatuses)...)
	violations = append(violations, checkEnum("direction", req.Direction, model.Directions)...)
	violations = append(violations, checkEnum("settlementType", req.SettlementType, model.SettlementTypes)...)

	if len(violations) > 0 {
		return &model.ValidationError{Violations: violations}
	}
	return nil
}

func checkEnum(name, value string, allowed []string) []string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return nil // already reported as missing
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return []string{fmt.Sprintf("%s must be one of %s", name, strings.Join(allowed, ", "))}
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

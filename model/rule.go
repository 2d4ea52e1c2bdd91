package model

// CalculationRule decides which settlements of a (pts, processing_entity)
// pair contribute to running totals. A settlement contributes only when its
// business status, direction and settlement type are all admitted.
type CalculationRule struct {
	BusinessStatuses []string `yaml:"businessStatuses" json:"businessStatuses"`
	Directions       []string `yaml:"directions" json:"directions"`
	SettlementTypes  []string `yaml:"settlementTypes" json:"settlementTypes"`
}

// DefaultRule is the rule applied when no rule is configured for a
// (pts, processing_entity) pair.
func DefaultRule() CalculationRule {
	return CalculationRule{
		BusinessStatuses: []string{StatusPending, StatusVerified},
		Directions:       []string{DirectionPay},
		SettlementTypes:  []string{TypeGross, TypeNet},
	}
}

// Includes reports whether the settlement is admitted by the rule.
func (r CalculationRule) Includes(s *Settlement) bool {
	return contains(r.BusinessStatuses, s.BusinessStatus) &&
		contains(r.Directions, s.Direction) &&
		contains(r.SettlementTypes, s.SettlementType)
}

func contains(set []string, v string) bool {
	for _, m := range set {
		if m == v {
			return true
		}
	}
	return false
}

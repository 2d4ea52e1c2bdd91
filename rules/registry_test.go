package rules

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
)

func testRegistry() *Registry {
	return NewRegistry(decimal.New(500_000_000, 0), logging.NewComponentLogger("rules-test", "test"))
}

func TestRuleFallsBackToDefault(t *testing.T) {
	reg := testRegistry()

	rule := reg.Rule("PTS-A", "PE-001")
	want := model.DefaultRule()

	if len(rule.BusinessStatuses) != len(want.BusinessStatuses) ||
		len(rule.Directions) != len(want.Directions) ||
		len(rule.SettlementTypes) != len(want.SettlementTypes) {
		t.Errorf("Rule() = %+v, want default %+v", rule, want)
	}
}

func TestLimitFallsBackToDefault(t *testing.T) {
	reg := testRegistry()

	if got := reg.Limit("CP-UNKNOWN"); !got.Equal(decimal.New(500_000_000, 0)) {
		t.Errorf("Limit() = %s, want 500000000", got)
	}
}

func TestApplyDocument(t *testing.T) {
	reg := testRegistry()

	doc := []byte(`
defaultRule:
  businessStatuses: [pending]
  directions: [pay, receive]
  settlementTypes: [gross]
rules:
  - pts: PTS-A
    processingEntity: PE-001
    businessStatuses: [VERIFIED]
    directions: [PAY]
    settlementTypes: [GROSS, NET]
limits:
  - counterparty: CP-ABC
    limitUsd: "750000000.00"
`)

	if err := reg.Apply(doc); err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}

	configured := reg.Rule("PTS-A", "PE-001")
	if len(configured.BusinessStatuses) != 1 || configured.BusinessStatuses[0] != "VERIFIED" {
		t.Errorf("configured rule statuses = %v, want [VERIFIED]", configured.BusinessStatuses)
	}

	// Unconfigured pairs get the document's default rule, normalized upper.
	fallback := reg.Rule("PTS-B", "PE-XYZ")
	if len(fallback.BusinessStatuses) != 1 || fallback.BusinessStatuses[0] != "PENDING" {
		t.Errorf("default rule statuses = %v, want [PENDING]", fallback.BusinessStatuses)
	}
	if len(fallback.Directions) != 2 || fallback.Directions[1] != "RECEIVE" {
		t.Errorf("default rule directions = %v, want [PAY RECEIVE]", fallback.Directions)
	}

	if got := reg.Limit("CP-ABC"); !got.Equal(decimal.RequireFromString("750000000.00")) {
		t.Errorf("Limit(CP-ABC) = %s, want 750000000.00", got)
	}
	if got := reg.Limit("CP-OTHER"); !got.Equal(decimal.New(500_000_000, 0)) {
		t.Errorf("Limit(CP-OTHER) = %s, want default", got)
	}
}

func TestApplyKeepsSnapshotOnBadDocument(t *testing.T) {
	reg := testRegistry()

	good := []byte(`
limits:
  - counterparty: CP-ABC
    limitUsd: "100.00"
`)
	if err := reg.Apply(good); err != nil {
		t.Fatalf("Apply(good) unexpected error: %v", err)
	}

	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unparseable limit",
			doc: `
limits:
  - counterparty: CP-XYZ
    limitUsd: "not-a-number"
`,
		},
		{
			name: "rule entry missing key",
			doc: `
rules:
  - processingEntity: PE-001
    businessStatuses: [PENDING]
`,
		},
		{
			name: "invalid yaml",
			doc:  "rules: [unclosed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Apply([]byte(tt.doc)); err == nil {
				t.Fatal("Apply() expected error")
			}
			if got := reg.Limit("CP-ABC"); !got.Equal(decimal.RequireFromString("100.00")) {
				t.Errorf("Limit(CP-ABC) after failed apply = %s, want 100.00", got)
			}
		})
	}
}

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
	"github.com/colinzhu/limit-monitoring-sub001/store"
)

// fakeTxn records the calls the coordinator makes inside a transaction.
type fakeTxn struct {
	nextRefID int64
	inserted  bool
	prevCp    string
	prevFound bool

	saved     []*model.Settlement
	markCalls int
	events    []model.SettlementEvent
}

func (f *fakeTxn) SaveSettlement(ctx context.Context, stl *model.Settlement) (int64, bool, error) {
	f.saved = append(f.saved, stl)
	return f.nextRefID, f.inserted, nil
}

func (f *fakeTxn) MarkOldVersions(ctx context.Context, settlementID, pts, pe string, currentRef int64) (int64, error) {
	f.markCalls++
	return 0, nil
}

func (f *fakeTxn) PreviousCounterparty(ctx context.Context, settlementID, pts, pe string, currentRef int64) (string, bool, error) {
	return f.prevCp, f.prevFound, nil
}

func (f *fakeTxn) EnqueueEvents(ctx context.Context, events []model.SettlementEvent) error {
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeTxn) FindByIDVersion(ctx context.Context, settlementID string, version int64) (*model.Settlement, error) {
	return nil, model.ErrNotFound
}

func (f *fakeTxn) WorkflowState(ctx context.Context, settlementID string, version int64) (string, bool, error) {
	return "", false, nil
}

func (f *fakeTxn) UpsertWorkflowState(ctx context.Context, settlementID string, version int64, state string) error {
	return nil
}

func (f *fakeTxn) AppendActivity(ctx context.Context, a model.Activity) error { return nil }

func (f *fakeTxn) LatestActivityUser(ctx context.Context, settlementID string, version int64, actionType string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeTxn) EnqueueNotification(ctx context.Context, n model.Notification) error { return nil }

// fakeStore runs the transaction callback against a fakeTxn, optionally
// failing the first N attempts.
type fakeStore struct {
	txn      *fakeTxn
	failures []error
	attempts int
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(store.Txn) error) error {
	f.attempts++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return fn(f.txn)
}

type fakeConverter struct {
	err error
}

func (f *fakeConverter) ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return amount.RoundBank(2), nil
}

func newTestCoordinator(st *fakeStore, conv *fakeConverter, kicked *int) *Coordinator {
	kick := func() {
		if kicked != nil {
			*kicked++
		}
	}
	return NewCoordinator(st, conv, kick, logging.NewComponentLogger("ingest-test", "test"))
}

func TestProcessSettlementFreshIngestion(t *testing.T) {
	txn := &fakeTxn{nextRefID: 1, inserted: true}
	st := &fakeStore{txn: txn}
	var kicked int
	c := newTestCoordinator(st, &fakeConverter{}, &kicked)

	refID, err := c.ProcessSettlement(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ProcessSettlement() error = %v", err)
	}
	if refID != 1 {
		t.Errorf("ProcessSettlement() = %d, want 1", refID)
	}
	if txn.markCalls != 1 {
		t.Errorf("MarkOldVersions calls = %d, want 1", txn.markCalls)
	}
	if len(txn.events) != 1 {
		t.Fatalf("enqueued events = %d, want 1", len(txn.events))
	}
	ev := txn.events[0]
	if ev.CounterpartyID != "CP-ABC" || ev.RefID != 1 {
		t.Errorf("event = %+v, want counterparty CP-ABC ref 1", ev)
	}
	if ev.ValueDate.Format(model.DateLayout) != "2025-12-31" {
		t.Errorf("event value date = %s, want 2025-12-31", ev.ValueDate.Format(model.DateLayout))
	}
	if kicked != 1 {
		t.Errorf("kick count = %d, want 1", kicked)
	}
	if len(txn.saved) != 1 || txn.saved[0].Currency != "USD" {
		t.Errorf("saved = %+v, want one normalized settlement", txn.saved)
	}
}

func TestProcessSettlementDuplicateIsIdempotent(t *testing.T) {
	txn := &fakeTxn{nextRefID: 7, inserted: false}
	st := &fakeStore{txn: txn}
	var kicked int
	c := newTestCoordinator(st, &fakeConverter{}, &kicked)

	refID, err := c.ProcessSettlement(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ProcessSettlement() error = %v", err)
	}
	if refID != 7 {
		t.Errorf("ProcessSettlement() = %d, want existing ref 7", refID)
	}
	if txn.markCalls != 0 {
		t.Errorf("MarkOldVersions calls = %d, want 0 on duplicate", txn.markCalls)
	}
	if len(txn.events) != 0 {
		t.Errorf("enqueued events = %d, want 0 on duplicate", len(txn.events))
	}
	if kicked != 0 {
		t.Errorf("kick count = %d, want 0 on duplicate", kicked)
	}
}

func TestProcessSettlementRegroupEmitsTwoEvents(t *testing.T) {
	txn := &fakeTxn{nextRefID: 2, inserted: true, prevCp: "CP-OLD", prevFound: true}
	st := &fakeStore{txn: txn}
	c := newTestCoordinator(st, &fakeConverter{}, nil)

	req := validRequest()
	req.CounterpartyID = "CP-NEW"
	if _, err := c.ProcessSettlement(context.Background(), req); err != nil {
		t.Fatalf("ProcessSettlement() error = %v", err)
	}
	if len(txn.events) != 2 {
		t.Fatalf("enqueued events = %d, want 2 on regroup", len(txn.events))
	}
	if txn.events[0].CounterpartyID != "CP-OLD" {
		t.Errorf("first event counterparty = %s, want CP-OLD", txn.events[0].CounterpartyID)
	}
	if txn.events[1].CounterpartyID != "CP-NEW" {
		t.Errorf("second event counterparty = %s, want CP-NEW", txn.events[1].CounterpartyID)
	}
	for i, ev := range txn.events {
		if ev.RefID != 2 {
			t.Errorf("event[%d] ref = %d, want 2", i, ev.RefID)
		}
	}
}

func TestProcessSettlementSameCounterpartySingleEvent(t *testing.T) {
	txn := &fakeTxn{nextRefID: 3, inserted: true, prevCp: "CP-ABC", prevFound: true}
	st := &fakeStore{txn: txn}
	c := newTestCoordinator(st, &fakeConverter{}, nil)

	if _, err := c.ProcessSettlement(context.Background(), validRequest()); err != nil {
		t.Fatalf("ProcessSettlement() error = %v", err)
	}
	if len(txn.events) != 1 {
		t.Errorf("enqueued events = %d, want 1 when counterparty unchanged", len(txn.events))
	}
}

func TestProcessSettlementValidationStopsBeforeStore(t *testing.T) {
	st := &fakeStore{txn: &fakeTxn{}}
	c := newTestCoordinator(st, &fakeConverter{}, nil)

	req := validRequest()
	req.Currency = "NOPE"
	_, err := c.ProcessSettlement(context.Background(), req)
	var vErr *model.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("ProcessSettlement() error = %v, want ValidationError", err)
	}
	if st.attempts != 0 {
		t.Errorf("store attempts = %d, want 0 on validation failure", st.attempts)
	}
}

func TestProcessSettlementUnknownCurrencyFailsClosed(t *testing.T) {
	st := &fakeStore{txn: &fakeTxn{}}
	conv := &fakeConverter{err: &model.FxError{Currency: "XXX"}}
	c := newTestCoordinator(st, conv, nil)

	_, err := c.ProcessSettlement(context.Background(), validRequest())
	var fxErr *model.FxError
	if !errors.As(err, &fxErr) {
		t.Fatalf("ProcessSettlement() error = %v, want FxError", err)
	}
	if st.attempts != 0 {
		t.Errorf("store attempts = %d, want 0 when currency unsupported", st.attempts)
	}
}

func TestProcessSettlementRetriesTransientOnce(t *testing.T) {
	txn := &fakeTxn{nextRefID: 4, inserted: true}
	st := &fakeStore{txn: txn, failures: []error{&pq.Error{Code: "40001"}}}
	c := newTestCoordinator(st, &fakeConverter{}, nil)

	refID, err := c.ProcessSettlement(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ProcessSettlement() error = %v, want retry success", err)
	}
	if refID != 4 {
		t.Errorf("ProcessSettlement() = %d, want 4", refID)
	}
	if st.attempts != 2 {
		t.Errorf("store attempts = %d, want 2", st.attempts)
	}
}

func TestProcessSettlementPermanentErrorNotRetried(t *testing.T) {
	boom := errors.New("constraint violated")
	st := &fakeStore{txn: &fakeTxn{}, failures: []error{boom}}
	c := newTestCoordinator(st, &fakeConverter{}, nil)

	_, err := c.ProcessSettlement(context.Background(), validRequest())
	if !errors.Is(err, boom) {
		t.Fatalf("ProcessSettlement() error = %v, want %v", err, boom)
	}
	if st.attempts != 1 {
		t.Errorf("store attempts = %d, want 1 for permanent error", st.attempts)
	}
}

func TestProcessSettlementTransientTwiceFails(t *testing.T) {
	st := &fakeStore{txn: &fakeTxn{}, failures: []error{
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40001"},
	}}
	c := newTestCoordinator(st, &fakeConverter{}, nil)

	_, err := c.ProcessSettlement(context.Background(), validRequest())
	if err == nil {
		t.Fatal("ProcessSettlement() = nil, want error after two transient failures")
	}
	if st.attempts != 2 {
		t.Errorf("store attempts = %d, want 2", st.attempts)
	}
}

func TestProcessSettlementNormalizesBeforeSave(t *testing.T) {
	txn := &fakeTxn{nextRefID: 5, inserted: true}
	st := &fakeStore{txn: txn}
	c := newTestCoordinator(st, &fakeConverter{}, nil)

	req := validRequest()
	req.Currency = "usd"
	req.Direction = "pay"
	req.BusinessStatus = " verified "
	if _, err := c.ProcessSettlement(context.Background(), req); err != nil {
		t.Fatalf("ProcessSettlement() error = %v", err)
	}
	saved := txn.saved[0]
	if saved.Currency != "USD" || saved.Direction != "PAY" || saved.BusinessStatus != "VERIFIED" {
		t.Errorf("saved settlement not normalized: %+v", saved)
	}
	wantDate := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	if !saved.ValueDate.Equal(wantDate) {
		t.Errorf("saved value date = %v, want %v", saved.ValueDate, wantDate)
	}
}

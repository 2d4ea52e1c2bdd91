package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/model"
	"github.com/colinzhu/limit-monitoring-sub001/store"
)

// fakeTxn holds workflow state, activities and notifications in memory so
// the full release-authorize flow can run against it.
type fakeTxn struct {
	settlements   map[string]*model.Settlement
	states        map[string]string
	activities    []model.Activity
	notifications []model.Notification
}

func newFakeTxn() *fakeTxn {
	return &fakeTxn{
		settlements: make(map[string]*model.Settlement),
		states:      make(map[string]string),
	}
}

func key(id string, version int64) string {
	return fmt.Sprintf("%s/%d", id, version)
}

func (f *fakeTxn) SaveSettlement(ctx context.Context, stl *model.Settlement) (int64, bool, error) {
	return 0, false, errors.New("not used")
}

func (f *fakeTxn) MarkOldVersions(ctx context.Context, settlementID, pts, pe string, currentRef int64) (int64, error) {
	return 0, errors.New("not used")
}

func (f *fakeTxn) PreviousCounterparty(ctx context.Context, settlementID, pts, pe string, currentRef int64) (string, bool, error) {
	return "", false, errors.New("not used")
}

func (f *fakeTxn) EnqueueEvents(ctx context.Context, events []model.SettlementEvent) error {
	return errors.New("not used")
}

func (f *fakeTxn) FindByIDVersion(ctx context.Context, settlementID string, version int64) (*model.Settlement, error) {
	stl, ok := f.settlements[key(settlementID, version)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return stl, nil
}

func (f *fakeTxn) WorkflowState(ctx context.Context, settlementID string, version int64) (string, bool, error) {
	state, ok := f.states[key(settlementID, version)]
	return state, ok, nil
}

func (f *fakeTxn) UpsertWorkflowState(ctx context.Context, settlementID string, version int64, state string) error {
	f.states[key(settlementID, version)] = state
	return nil
}

func (f *fakeTxn) AppendActivity(ctx context.Context, a model.Activity) error {
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeTxn) LatestActivityUser(ctx context.Context, settlementID string, version int64, actionType string) (string, bool, error) {
	for i := len(f.activities) - 1; i >= 0; i-- {
		a := f.activities[i]
		if a.SettlementID == settlementID && a.SettlementVersion == version && a.ActionType == actionType {
			return a.UserID, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeTxn) EnqueueNotification(ctx context.Context, n model.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

// fakeStore runs the callback against the shared fakeTxn. Rollbacks are
// not simulated; every test asserts on the error before looking at state.
type fakeStore struct {
	txn *fakeTxn
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(store.Txn) error) error {
	return fn(f.txn)
}

// fakeResolver returns a fixed limit-derived status.
type fakeResolver struct {
	status string
}

func (f *fakeResolver) Resolve(ctx context.Context, stl *model.Settlement) (string, error) {
	return f.status, nil
}

func blockedSettlement() *model.Settlement {
	return &model.Settlement{
		RefID:             1,
		SettlementID:      "S1",
		SettlementVersion: 1,
		PTS:               "PTS-A",
		ProcessingEntity:  "PE-001",
		CounterpartyID:    "CP-ABC",
		ValueDate:         time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		Currency:          "USD",
		Amount:            decimal.NewFromInt(100),
		BusinessStatus:    model.StatusVerified,
		Direction:         model.DirectionPay,
		SettlementType:    model.TypeGross,
	}
}

func newTestService(txn *fakeTxn, status string) *Service {
	return NewService(&fakeStore{txn: txn}, &fakeResolver{status: status},
		logging.NewComponentLogger("workflow-test", "test"))
}

func TestReleaseAuthorizeFlow(t *testing.T) {
	// alice requests release, alice may not authorize, bob may.
	txn := newFakeTxn()
	txn.settlements[key("S1", 1)] = blockedSettlement()
	s := newTestService(txn, model.EffectiveBlocked)
	ctx := context.Background()

	alice := model.User{ID: "alice", Name: "Alice"}
	bob := model.User{ID: "bob", Name: "Bob"}

	if err := s.RequestRelease(ctx, "S1", 1, alice, "limit breach reviewed"); err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}
	if got := txn.states[key("S1", 1)]; got != model.WorkflowPendingAuthorise {
		t.Fatalf("state = %s, want PENDING_AUTHORISE", got)
	}

	err := s.Authorize(ctx, "S1", 1, alice, "self approve")
	var segErr *model.SegregationError
	if !errors.As(err, &segErr) {
		t.Fatalf("Authorize(alice) error = %v, want SegregationError", err)
	}
	if got := txn.states[key("S1", 1)]; got != model.WorkflowPendingAuthorise {
		t.Errorf("state after rejected authorize = %s, want PENDING_AUTHORISE", got)
	}

	if err := s.Authorize(ctx, "S1", 1, bob, "looks fine"); err != nil {
		t.Fatalf("Authorize(bob) error = %v", err)
	}
	if got := txn.states[key("S1", 1)]; got != model.WorkflowAuthorised {
		t.Errorf("state = %s, want AUTHORISED", got)
	}
	if len(txn.notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(txn.notifications))
	}
	n := txn.notifications[0]
	if n.SettlementID != "S1" || n.Status != model.WorkflowAuthorised {
		t.Errorf("notification = %+v, want S1/AUTHORISED", n)
	}
	if n.Details == "" {
		t.Error("notification details empty, want dedupe payload")
	}

	wantActions := []string{model.ActionRequestRelease, model.ActionAuthorise}
	if len(txn.activities) != len(wantActions) {
		t.Fatalf("activities = %d, want %d", len(txn.activities), len(wantActions))
	}
	for i, want := range wantActions {
		if txn.activities[i].ActionType != want {
			t.Errorf("activity[%d] = %s, want %s", i, txn.activities[i].ActionType, want)
		}
	}
}

func TestRejectFlow(t *testing.T) {
	txn := newFakeTxn()
	txn.settlements[key("S1", 1)] = blockedSettlement()
	s := newTestService(txn, model.EffectiveBlocked)
	ctx := context.Background()

	if err := s.RequestRelease(ctx, "S1", 1, model.User{ID: "alice"}, ""); err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}

	err := s.Reject(ctx, "S1", 1, model.User{ID: "alice"}, "")
	var segErr *model.SegregationError
	if !errors.As(err, &segErr) {
		t.Fatalf("Reject(alice) error = %v, want SegregationError", err)
	}

	if err := s.Reject(ctx, "S1", 1, model.User{ID: "bob"}, "counterparty risk"); err != nil {
		t.Fatalf("Reject(bob) error = %v", err)
	}
	if got := txn.states[key("S1", 1)]; got != model.WorkflowRejected {
		t.Errorf("state = %s, want REJECTED", got)
	}
	if len(txn.notifications) != 0 {
		t.Errorf("notifications = %d, want 0 on reject", len(txn.notifications))
	}
}

func TestRequestReleaseRequiresBlocked(t *testing.T) {
	txn := newFakeTxn()
	txn.settlements[key("S1", 1)] = blockedSettlement()
	s := newTestService(txn, model.EffectiveAuthorizedAuto)

	err := s.RequestRelease(context.Background(), "S1", 1, model.User{ID: "alice"}, "")
	var invErr *model.InvalidTransitionError
	if !errors.As(err, &invErr) {
		t.Fatalf("RequestRelease() error = %v, want InvalidTransitionError", err)
	}
	if invErr.From != model.EffectiveAuthorizedAuto {
		t.Errorf("From = %s, want AUTHORIZED_AUTO", invErr.From)
	}
}

func TestRequestReleaseTwiceFails(t *testing.T) {
	txn := newFakeTxn()
	txn.settlements[key("S1", 1)] = blockedSettlement()
	s := newTestService(txn, model.EffectiveBlocked)
	ctx := context.Background()

	if err := s.RequestRelease(ctx, "S1", 1, model.User{ID: "alice"}, ""); err != nil {
		t.Fatalf("first RequestRelease() error = %v", err)
	}
	err := s.RequestRelease(ctx, "S1", 1, model.User{ID: "carol"}, "")
	var invErr *model.InvalidTransitionError
	if !errors.As(err, &invErr) {
		t.Fatalf("second RequestRelease() error = %v, want InvalidTransitionError", err)
	}
}

func TestAuthorizeWithoutPendingStateFails(t *testing.T) {
	txn := newFakeTxn()
	txn.settlements[key("S1", 1)] = blockedSettlement()
	s := newTestService(txn, model.EffectiveBlocked)

	err := s.Authorize(context.Background(), "S1", 1, model.User{ID: "bob"}, "")
	var invErr *model.InvalidTransitionError
	if !errors.As(err, &invErr) {
		t.Fatalf("Authorize() error = %v, want InvalidTransitionError", err)
	}
	if invErr.From != model.WorkflowAuto {
		t.Errorf("From = %s, want AUTO", invErr.From)
	}
}

func TestAuthorizeTwiceFails(t *testing.T) {
	txn := newFakeTxn()
	txn.settlements[key("S1", 1)] = blockedSettlement()
	s := newTestService(txn, model.EffectiveBlocked)
	ctx := context.Background()

	if err := s.RequestRelease(ctx, "S1", 1, model.User{ID: "alice"}, ""); err != nil {
		t.Fatalf("RequestRelease() error = %v", err)
	}
	if err := s.Authorize(ctx, "S1", 1, model.User{ID: "bob"}, ""); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	err := s.Authorize(ctx, "S1", 1, model.User{ID: "carol"}, "")
	var invErr *model.InvalidTransitionError
	if !errors.As(err, &invErr) {
		t.Fatalf("repeated Authorize() error = %v, want InvalidTransitionError", err)
	}
	if invErr.From != model.WorkflowAuthorised {
		t.Errorf("From = %s, want AUTHORISED", invErr.From)
	}
}

func TestWorkflowUnknownSettlement(t *testing.T) {
	s := newTestService(newFakeTxn(), model.EffectiveBlocked)
	if err := s.RequestRelease(context.Background(), "missing", 1, model.User{ID: "alice"}, ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("RequestRelease() error = %v, want ErrNotFound", err)
	}
}

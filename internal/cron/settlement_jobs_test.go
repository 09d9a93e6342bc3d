package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"go.uber.org/multierr"
)

type fakePendingStore struct {
	orders     []models.Order
	paid       []models.Order
	deposits   []models.Deposit
	limit      int
	maxAge     time.Duration
	paidMaxAge time.Duration
	err        error
}

func (f *fakePendingStore) ListRecentPending(_ context.Context, limit int, maxAge time.Duration) ([]models.Order, error) {
	f.limit, f.maxAge = limit, maxAge
	return f.orders, f.err
}

func (f *fakePendingStore) ListPaidUndelivered(_ context.Context, _ int, maxAge time.Duration) ([]models.Order, error) {
	f.paidMaxAge = maxAge
	return f.paid, f.err
}

func (f *fakePendingStore) ListRecentPendingDeposits(_ context.Context, limit int, maxAge time.Duration) ([]models.Deposit, error) {
	f.limit, f.maxAge = limit, maxAge
	return f.deposits, f.err
}

type fakeSettler struct {
	results map[string]settlement.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeSettler) settle(id string) (settlement.Result, error) {
	f.calls = append(f.calls, id)
	return f.results[id], f.errs[id]
}

func (f *fakeSettler) SettleOrder(_ context.Context, id string) (settlement.Result, error) {
	return f.settle(id)
}

func (f *fakeSettler) SettleDeposit(_ context.Context, id string) (settlement.Result, error) {
	return f.settle(id)
}

func (f *fakeSettler) Settle(_ context.Context, id string) (settlement.Result, error) {
	return f.settle(id)
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestOrderSettlementJobIsolatesFailures(t *testing.T) {
	store := &fakePendingStore{orders: []models.Order{{OrderID: "OA"}, {OrderID: "OB"}, {OrderID: "OC"}, {OrderID: "OD"}}}
	settler := &fakeSettler{
		results: map[string]settlement.Result{
			"OA": {Paid: true, Transitioned: true},
			"OC": {Busy: true},
		},
		errs: map[string]error{
			"OB": errors.New("db timeout"),
			"OD": pkgerrors.New(pkgerrors.CodeDependency, "payment gateway credentials not configured"),
		},
	}
	job, err := NewOrderSettlementJob(OrderSettlementJobParams{Logger: quietLogger(), Orders: store, Settler: settler})
	if err != nil {
		t.Fatalf("NewOrderSettlementJob: %v", err)
	}

	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed order to surface")
	}
	if got := len(multierr.Errors(err)); got != 1 {
		t.Fatalf("expected exactly one error, got %d: %v", got, err)
	}
	if len(settler.calls) != 4 {
		t.Fatalf("expected every order to be checked, got %v", settler.calls)
	}
	if store.limit != defaultOrderPollLimit || store.maxAge != defaultPendingMaxAge {
		t.Fatalf("unexpected defaults limit=%d maxAge=%v", store.limit, store.maxAge)
	}
}

func TestOrderSettlementJobResumesPaidUndeliveredOrders(t *testing.T) {
	store := &fakePendingStore{
		orders: []models.Order{{OrderID: "OPEND"}},
		paid:   []models.Order{{OrderID: "OSTRAND"}},
	}
	settler := &fakeSettler{results: map[string]settlement.Result{
		"OSTRAND": {Paid: true},
	}}
	job, err := NewOrderSettlementJob(OrderSettlementJobParams{Logger: quietLogger(), Orders: store, Settler: settler})
	if err != nil {
		t.Fatalf("NewOrderSettlementJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(settler.calls) != 2 || settler.calls[0] != "OPEND" || settler.calls[1] != "OSTRAND" {
		t.Fatalf("expected pending then stranded order to be settled, got %v", settler.calls)
	}
	if store.paidMaxAge != defaultPaidMaxAge {
		t.Fatalf("expected default paid window, got %v", store.paidMaxAge)
	}
}

func TestOrderSettlementJobListError(t *testing.T) {
	store := &fakePendingStore{err: errors.New("connection reset")}
	job, err := NewOrderSettlementJob(OrderSettlementJobParams{Logger: quietLogger(), Orders: store, Settler: &fakeSettler{}})
	if err != nil {
		t.Fatalf("NewOrderSettlementJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}

func TestDepositSettlementJobSkipsWithoutCredentials(t *testing.T) {
	store := &fakePendingStore{deposits: []models.Deposit{{OrderID: "DEP-1"}}}
	settler := &fakeSettler{}
	job, err := NewDepositSettlementJob(DepositSettlementJobParams{
		Logger:   quietLogger(),
		Deposits: store,
		Settler:  settler,
		Enabled:  func() bool { return false },
	})
	if err != nil {
		t.Fatalf("NewDepositSettlementJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(settler.calls) != 0 {
		t.Fatalf("expected no settlement calls, got %v", settler.calls)
	}
}

func TestDepositSettlementJobSettlesEachDeposit(t *testing.T) {
	store := &fakePendingStore{deposits: []models.Deposit{{OrderID: "DEP-1"}, {OrderID: "DEP-2"}}}
	settler := &fakeSettler{results: map[string]settlement.Result{"DEP-2": {Paid: true, Transitioned: true}}}
	job, err := NewDepositSettlementJob(DepositSettlementJobParams{
		Logger:   quietLogger(),
		Deposits: store,
		Settler:  settler,
		Limit:    5,
		MaxAge:   time.Hour,
	})
	if err != nil {
		t.Fatalf("NewDepositSettlementJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(settler.calls) != 2 || store.limit != 5 || store.maxAge != time.Hour {
		t.Fatalf("unexpected calls=%v limit=%d maxAge=%v", settler.calls, store.limit, store.maxAge)
	}
}

func TestSettlementJobsRequireDependencies(t *testing.T) {
	if _, err := NewOrderSettlementJob(OrderSettlementJobParams{Logger: quietLogger()}); err == nil {
		t.Fatal("expected order job to require a lister")
	}
	if _, err := NewDepositSettlementJob(DepositSettlementJobParams{Logger: quietLogger(), Deposits: &fakePendingStore{}}); err == nil {
		t.Fatal("expected deposit job to require a settler")
	}
}

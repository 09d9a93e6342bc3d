package balance

import (
	"context"
	"errors"
	"sync"
	"testing"

	dbpkg "github.com/angelmondragon/storefront-core/pkg/db"
	"github.com/angelmondragon/storefront-core/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	svc, err := NewService(NewRepository(db), dbpkg.Wrap(db))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, db
}

func credit(amount int64) Mutation {
	return Mutation{TenantID: 2, UserID: 77, Amount: amount, Reason: enums.BalanceReasonDeposit, Reference: "DEP-1"}
}

func debit(amount int64, ref string) Mutation {
	return Mutation{TenantID: 2, UserID: 77, Amount: amount, Reason: enums.BalanceReasonPurchase, Reference: ref}
}

func mustBalance(t *testing.T, svc Service, want int64) {
	t.Helper()
	got, err := svc.GetBalance(context.Background(), 2, 77)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got != want {
		t.Fatalf("expected balance %d, got %d", want, got)
	}
}

func TestGetBalanceInitializesZeroRow(t *testing.T) {
	svc, _ := newTestService(t)
	mustBalance(t, svc, 0)
	mustBalance(t, svc, 0)
}

func TestAddBalanceUpsertsAndJournals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	got, err := svc.AddBalance(ctx, credit(10000))
	if err != nil || got != 10000 {
		t.Fatalf("first credit: got=%d err=%v", got, err)
	}
	got, err = svc.AddBalance(ctx, credit(25000))
	if err != nil || got != 35000 {
		t.Fatalf("second credit: got=%d err=%v", got, err)
	}

	entries, err := svc.ListEntries(ctx, 2, 77, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(entries))
	}
	if entries[0].Kind != enums.BalanceEntryCredit || entries[0].Amount != 25000 {
		t.Fatalf("unexpected latest entry %+v", entries[0])
	}
}

func TestDeductBalanceRejectsOverdraft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.AddBalance(ctx, credit(20000)); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}

	ok, err := svc.DeductBalance(ctx, debit(30000, "O1"))
	if err != nil || ok {
		t.Fatalf("overdraft debit: ok=%v err=%v", ok, err)
	}
	ok, err = svc.DeductBalance(ctx, debit(20000, "O2"))
	if err != nil || !ok {
		t.Fatalf("exact debit: ok=%v err=%v", ok, err)
	}
	mustBalance(t, svc, 0)

	entries, err := svc.ListEntries(ctx, 2, 77, 10)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("failed debit must not be journaled, got %d entries", len(entries))
	}
	if entries[0].Kind != enums.BalanceEntryDebit || entries[0].Reference != "O2" {
		t.Fatalf("unexpected latest entry %+v", entries[0])
	}
}

func TestDeductBalanceWithoutRowIsInsufficient(t *testing.T) {
	svc, _ := newTestService(t)
	ok, err := svc.DeductBalance(context.Background(), debit(1, "O1"))
	if err != nil || ok {
		t.Fatalf("expected insufficient funds, ok=%v err=%v", ok, err)
	}
}

func TestMutationValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddBalance(ctx, credit(0)); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}

	bad := debit(100, "O1")
	bad.Reason = "REFUND"
	if _, err := svc.DeductBalance(ctx, bad); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown reason, got %v", err)
	}
}

func TestConcurrentDeductsNeverGoNegative(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.AddBalance(ctx, credit(50000)); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for _, ref := range []string{"OA", "OB"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := svc.DeductBalance(ctx, debit(30000, ref))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				successes++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if successes != 1 {
		t.Fatalf("expected exactly one debit to succeed, got %d", successes)
	}
	mustBalance(t, svc, 20000)
}

func TestAddBalanceTxRollsBackWithCaller(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	errAbort := pkgerrors.New(pkgerrors.CodeInternal, "abort")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.AddBalanceTx(ctx, tx, credit(10000)); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	mustBalance(t, svc, 0)
}

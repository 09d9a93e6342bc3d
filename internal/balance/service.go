package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Mutation describes one balance movement and what caused it.
type Mutation struct {
	TenantID  int64
	UserID    int64
	Amount    int64
	Reason    enums.BalanceReason
	Reference string
}

func (m Mutation) validate() error {
	if m.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !m.Reason.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid balance reason")
	}
	return nil
}

// Service is the balance ledger. Balances never go negative and every
// mutation is journaled in the same transaction.
type Service interface {
	GetBalance(ctx context.Context, tenantID, userID int64) (int64, error)
	AddBalance(ctx context.Context, m Mutation) (int64, error)
	AddBalanceTx(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error)
	DeductBalance(ctx context.Context, m Mutation) (bool, error)
	DeductBalanceTx(ctx context.Context, tx *gorm.DB, m Mutation) (bool, error)
	ListEntries(ctx context.Context, tenantID, userID int64, limit int) ([]models.BalanceEntry, error)
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService wires a balance ledger with the provided repository.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("balance repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, now: time.Now}, nil
}

// GetBalance initializes a zero row on first read.
func (s *service) GetBalance(ctx context.Context, tenantID, userID int64) (int64, error) {
	if err := s.repo.Touch(ctx, tenantID, userID); err != nil {
		return 0, err
	}
	return s.repo.Get(ctx, tenantID, userID)
}

func (s *service) AddBalance(ctx context.Context, m Mutation) (int64, error) {
	var balance int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		balance, err = s.AddBalanceTx(ctx, tx, m)
		return err
	})
	return balance, err
}

func (s *service) AddBalanceTx(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	if err := repo.Credit(ctx, m.TenantID, m.UserID, m.Amount, now); err != nil {
		return 0, err
	}
	if err := repo.InsertEntry(ctx, entryFor(m, enums.BalanceEntryCredit, now)); err != nil {
		return 0, err
	}
	return repo.Get(ctx, m.TenantID, m.UserID)
}

// DeductBalance reports false, with no error, when funds are insufficient.
func (s *service) DeductBalance(ctx context.Context, m Mutation) (bool, error) {
	var ok bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		ok, err = s.DeductBalanceTx(ctx, tx, m)
		return err
	})
	return ok, err
}

func (s *service) DeductBalanceTx(ctx context.Context, tx *gorm.DB, m Mutation) (bool, error) {
	if err := m.validate(); err != nil {
		return false, err
	}
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	ok, err := repo.Debit(ctx, m.TenantID, m.UserID, m.Amount, now)
	if err != nil || !ok {
		return false, err
	}
	if err := repo.InsertEntry(ctx, entryFor(m, enums.BalanceEntryDebit, now)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) ListEntries(ctx context.Context, tenantID, userID int64, limit int) ([]models.BalanceEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListEntries(ctx, tenantID, userID, limit)
}

func entryFor(m Mutation, kind enums.BalanceEntryKind, at time.Time) *models.BalanceEntry {
	return &models.BalanceEntry{
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Kind:      kind,
		Amount:    m.Amount,
		Reason:    m.Reason,
		Reference: m.Reference,
		CreatedAt: at,
	}
}

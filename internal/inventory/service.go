package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"gorm.io/gorm"
)

// ErrInsufficientStock is returned when fewer unused items exist than requested.
// No item is consumed when it is returned.
var ErrInsufficientStock = pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the inventory ledger. The count of unused stock items is the
// authoritative stock; variants.stock is recomputed from it after every change.
type Service interface {
	GetVariant(ctx context.Context, tenantID, variantID int64) (*models.Variant, error)
	AddStock(ctx context.Context, tenantID, variantID int64, payloads []string) (int64, error)
	PopStockFIFO(ctx context.Context, tenantID, variantID int64, qty int, orderID string) ([]string, error)
	ItemsForOrder(ctx context.Context, orderID string) ([]string, error)
	CountAvailable(ctx context.Context, tenantID, variantID int64) (int64, error)
	SyncVariantStock(ctx context.Context, tenantID, variantID int64) (int64, error)
	DeactivateVariant(ctx context.Context, tenantID, variantID int64) error
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService wires the inventory ledger.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, now: time.Now}, nil
}

func (s *service) GetVariant(ctx context.Context, tenantID, variantID int64) (*models.Variant, error) {
	return s.repo.FindVariant(ctx, tenantID, variantID)
}

// AddStock appends one unused item per non-blank payload line and returns the
// recomputed stock.
func (s *service) AddStock(ctx context.Context, tenantID, variantID int64, payloads []string) (int64, error) {
	items := make([]models.StockItem, 0, len(payloads))
	now := s.now().UTC()
	for _, p := range payloads {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items = append(items, models.StockItem{
			TenantID:  tenantID,
			VariantID: variantID,
			Payload:   p,
			CreatedAt: now,
		})
	}
	if len(items) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "no stock items provided")
	}

	var stock int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindVariant(ctx, tenantID, variantID); err != nil {
			return err
		}
		if err := repo.InsertItems(ctx, items); err != nil {
			return err
		}
		var err error
		stock, err = syncStock(ctx, repo, tenantID, variantID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return stock, nil
}

// PopStockFIFO withdraws exactly qty of the oldest unused items for the
// variant and stamps them with orderID, or withdraws nothing.
func (s *service) PopStockFIFO(ctx context.Context, tenantID, variantID int64, qty int, orderID string) ([]string, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var payloads []string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		items, err := repo.LockOldestUnused(ctx, tenantID, variantID, qty)
		if err != nil {
			return err
		}
		if len(items) < qty {
			return ErrInsufficientStock
		}

		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		marked, err := repo.MarkUsed(ctx, ids, orderID, s.now().UTC())
		if err != nil {
			return err
		}
		if marked != int64(qty) {
			return ErrInsufficientStock
		}

		if _, err := syncStock(ctx, repo, tenantID, variantID); err != nil {
			return err
		}

		payloads = make([]string, len(items))
		for i, item := range items {
			payloads[i] = item.Payload
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return nil, ErrInsufficientStock
		}
		return nil, err
	}
	return payloads, nil
}

func (s *service) ItemsForOrder(ctx context.Context, orderID string) ([]string, error) {
	return s.repo.PayloadsForOrder(ctx, orderID)
}

func (s *service) CountAvailable(ctx context.Context, tenantID, variantID int64) (int64, error) {
	return s.repo.CountUnused(ctx, tenantID, variantID)
}

func (s *service) SyncVariantStock(ctx context.Context, tenantID, variantID int64) (int64, error) {
	return syncStock(ctx, s.repo, tenantID, variantID)
}

// DeactivateVariant hides the variant and retires its unused stock so nothing
// can be withdrawn for it afterwards.
func (s *service) DeactivateVariant(ctx context.Context, tenantID, variantID int64) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, err := repo.DeactivateVariant(ctx, tenantID, variantID)
		if err != nil {
			return err
		}
		if !found {
			return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found").
				WithDetails(map[string]any{"tenant_id": tenantID, "variant_id": variantID})
		}
		if _, err := repo.RetireUnused(ctx, tenantID, variantID, s.now().UTC()); err != nil {
			return err
		}
		return repo.SetVariantStock(ctx, tenantID, variantID, 0)
	})
}

func syncStock(ctx context.Context, repo Repository, tenantID, variantID int64) (int64, error) {
	count, err := repo.CountUnused(ctx, tenantID, variantID)
	if err != nil {
		return 0, err
	}
	if err := repo.SetVariantStock(ctx, tenantID, variantID, count); err != nil {
		return 0, err
	}
	return count, nil
}

package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront-core/internal/repo"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists stock items and the variant stock counter.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindVariant(ctx context.Context, tenantID, variantID int64) (*models.Variant, error)
	InsertItems(ctx context.Context, items []models.StockItem) error
	LockOldestUnused(ctx context.Context, tenantID, variantID int64, limit int) ([]models.StockItem, error)
	MarkUsed(ctx context.Context, ids []int64, orderID string, at time.Time) (int64, error)
	RetireUnused(ctx context.Context, tenantID, variantID int64, at time.Time) (int64, error)
	DeactivateVariant(ctx context.Context, tenantID, variantID int64) (bool, error)
	CountUnused(ctx context.Context, tenantID, variantID int64) (int64, error)
	SetVariantStock(ctx context.Context, tenantID, variantID, stock int64) error
	PayloadsForOrder(ctx context.Context, orderID string) ([]string, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Rebind(tx)}
}

func (r *repository) FindVariant(ctx context.Context, tenantID, variantID int64) (*models.Variant, error) {
	var variant models.Variant
	err := r.DB(ctx).
		Where("id = ? AND tenant_id = ? AND active = ?", variantID, tenantID, true).
		First(&variant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found").
			WithDetails(map[string]any{"tenant_id": tenantID, "variant_id": variantID})
	}
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

func (r *repository) InsertItems(ctx context.Context, items []models.StockItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.DB(ctx).CreateInBatches(&items, 500).Error
}

// LockOldestUnused selects the oldest unused items and row-locks them on
// databases that support FOR UPDATE.
func (r *repository) LockOldestUnused(ctx context.Context, tenantID, variantID int64, limit int) ([]models.StockItem, error) {
	var items []models.StockItem
	err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND variant_id = ? AND used = ?", tenantID, variantID, false).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repository) MarkUsed(ctx context.Context, ids []int64, orderID string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).Model(&models.StockItem{}).
		Where("id IN ? AND used = ?", ids, false).
		Updates(map[string]any{
			"used":          true,
			"used_order_id": orderID,
			"used_at":       at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) RetireUnused(ctx context.Context, tenantID, variantID int64, at time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.StockItem{}).
		Where("tenant_id = ? AND variant_id = ? AND used = ?", tenantID, variantID, false).
		Updates(map[string]any{
			"used":          true,
			"used_order_id": models.RetiredStockOrderID,
			"used_at":       at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) DeactivateVariant(ctx context.Context, tenantID, variantID int64) (bool, error) {
	res := r.DB(ctx).Model(&models.Variant{}).
		Where("id = ? AND tenant_id = ?", variantID, tenantID).
		Updates(map[string]any{"active": false, "stock": 0})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) CountUnused(ctx context.Context, tenantID, variantID int64) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.StockItem{}).
		Where("tenant_id = ? AND variant_id = ? AND used = ?", tenantID, variantID, false).
		Count(&count).Error
	return count, err
}

func (r *repository) SetVariantStock(ctx context.Context, tenantID, variantID, stock int64) error {
	return r.DB(ctx).Model(&models.Variant{}).
		Where("id = ? AND tenant_id = ?", variantID, tenantID).
		Update("stock", stock).Error
}

func (r *repository) PayloadsForOrder(ctx context.Context, orderID string) ([]string, error) {
	var payloads []string
	err := r.DB(ctx).Model(&models.StockItem{}).
		Where("used_order_id = ?", orderID).
		Order("id ASC").
		Pluck("payload", &payloads).Error
	return payloads, err
}

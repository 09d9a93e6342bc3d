package balance

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-core/internal/repo"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists balances and their journal.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Touch(ctx context.Context, tenantID, userID int64) error
	Get(ctx context.Context, tenantID, userID int64) (int64, error)
	Credit(ctx context.Context, tenantID, userID, amount int64, at time.Time) error
	Debit(ctx context.Context, tenantID, userID, amount int64, at time.Time) (bool, error)
	InsertEntry(ctx context.Context, entry *models.BalanceEntry) error
	ListEntries(ctx context.Context, tenantID, userID int64, limit int) ([]models.BalanceEntry, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a balance repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Rebind(tx)}
}

func ownerColumns() []clause.Column {
	return []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}}
}

func (r *repository) Touch(ctx context.Context, tenantID, userID int64) error {
	row := models.Balance{TenantID: tenantID, UserID: userID}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   ownerColumns(),
		DoNothing: true,
	}).Create(&row).Error
}

func (r *repository) Get(ctx context.Context, tenantID, userID int64) (int64, error) {
	var row models.Balance
	if err := r.DB(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		First(&row).Error; err != nil {
		return 0, err
	}
	return row.Balance, nil
}

func (r *repository) Credit(ctx context.Context, tenantID, userID, amount int64, at time.Time) error {
	row := models.Balance{TenantID: tenantID, UserID: userID, Balance: amount, UpdatedAt: at}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: ownerColumns(),
		DoUpdates: clause.Assignments(map[string]any{
			"balance":    gorm.Expr("balances.balance + ?", amount),
			"updated_at": at,
		}),
	}).Create(&row).Error
}

// Debit subtracts amount only when the balance covers it, in one statement.
func (r *repository) Debit(ctx context.Context, tenantID, userID, amount int64, at time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.Balance{}).
		Where("tenant_id = ? AND user_id = ? AND balance >= ?", tenantID, userID, amount).
		UpdateColumns(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.BalanceEntry) error {
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, tenantID, userID int64, limit int) ([]models.BalanceEntry, error) {
	var entries []models.BalanceEntry
	err := r.DB(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

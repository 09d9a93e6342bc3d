package tenants

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles tenant persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to tenant operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindActive loads an active tenant by id.
func (r *Repository) FindActive(ctx context.Context, id int64) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindByOwner loads the active tenant owned by the provided chat user.
func (r *Repository) FindByOwner(ctx context.Context, ownerUserID int64) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Where("owner_user_id = ? AND active = ?", ownerUserID, true).
		Order("id DESC").
		First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// CreateIfAbsent inserts the tenant unless the owner already has one.
func (r *Repository) CreateIfAbsent(ctx context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_user_id"}},
		DoNothing: true,
	}).Create(tenant).Error
}

// UpdateGatewayCredentials stores the tenant's own Pakasir project.
func (r *Repository) UpdateGatewayCredentials(ctx context.Context, id int64, slug, apiKey string, qrisOnly bool) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pakasir_slug":    slug,
			"pakasir_api_key": apiKey,
			"qris_only":       qrisOnly,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

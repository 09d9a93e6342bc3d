package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/pakasir"
	"gorm.io/gorm"
)

// AdminTenantID is the store operated with the process-level gateway account.
const AdminTenantID int64 = 0

type tenantRepository interface {
	FindActive(ctx context.Context, id int64) (*models.Tenant, error)
	FindByOwner(ctx context.Context, ownerUserID int64) (*models.Tenant, error)
	CreateIfAbsent(ctx context.Context, tenant *models.Tenant) error
	UpdateGatewayCredentials(ctx context.Context, id int64, slug, apiKey string, qrisOnly bool) (bool, error)
}

// Resolver answers which gateway account a tenant charges through.
type Resolver struct {
	repo     tenantRepository
	fallback pakasir.Credentials
}

// NewResolver builds a resolver with the env-level credentials as fallback.
func NewResolver(repo tenantRepository, cfg config.PakasirConfig) (*Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("tenant repository required")
	}
	return &Resolver{
		repo: repo,
		fallback: pakasir.Credentials{
			Slug:     strings.TrimSpace(cfg.Slug),
			APIKey:   strings.TrimSpace(cfg.APIKey),
			QRISOnly: cfg.QRISOnly,
		},
	}, nil
}

// GatewayCredentials returns the tenant's own credentials when it has them,
// otherwise the process fallback. ok is false when neither is configured.
func (r *Resolver) GatewayCredentials(ctx context.Context, tenantID int64) (pakasir.Credentials, bool, error) {
	if tenantID > AdminTenantID {
		tenant, err := r.repo.FindActive(ctx, tenantID)
		switch {
		case err == nil:
			if tenant.HasGatewayCredentials() {
				return pakasir.Credentials{
					Slug:     strings.TrimSpace(*tenant.PakasirSlug),
					APIKey:   strings.TrimSpace(*tenant.PakasirAPIKey),
					QRISOnly: tenant.QRISOnly,
				}, true, nil
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return pakasir.Credentials{}, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load tenant")
		}
	}
	if !r.fallback.Valid() {
		return pakasir.Credentials{}, false, nil
	}
	return r.fallback, true, nil
}

// NeedsGatewaySetup reports whether checkout must be blocked for the tenant.
// The admin store is never blocked; any other tenant needs its own account.
func (r *Resolver) NeedsGatewaySetup(ctx context.Context, tenantID int64) (bool, error) {
	if tenantID <= AdminTenantID {
		return false, nil
	}
	tenant, err := r.repo.FindActive(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load tenant")
	}
	return !tenant.HasGatewayCredentials(), nil
}

// EnsureTenantForOwner returns the owner's tenant, creating one if needed.
func (r *Resolver) EnsureTenantForOwner(ctx context.Context, ownerUserID int64, name string) (*models.Tenant, bool, error) {
	if ownerUserID <= 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "owner user id is required")
	}
	existing, err := r.repo.FindByOwner(ctx, ownerUserID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load tenant by owner")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Toko %d", ownerUserID)
	}
	tenant := &models.Tenant{OwnerUserID: ownerUserID, Name: name, QRISOnly: true, Active: true}
	if err := r.repo.CreateIfAbsent(ctx, tenant); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create tenant")
	}
	created, err := r.repo.FindByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload tenant")
	}
	return created, created.ID == tenant.ID, nil
}

// SetGatewayCredentials stores a tenant's own Pakasir project.
func (r *Resolver) SetGatewayCredentials(ctx context.Context, tenantID int64, creds pakasir.Credentials) error {
	if tenantID <= AdminTenantID {
		return pkgerrors.New(pkgerrors.CodeValidation, "admin store uses process credentials")
	}
	if !creds.Valid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "slug and api key are required")
	}
	ok, err := r.repo.UpdateGatewayCredentials(ctx, tenantID, strings.TrimSpace(creds.Slug), strings.TrimSpace(creds.APIKey), creds.QRISOnly)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update gateway credentials")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	}
	return nil
}

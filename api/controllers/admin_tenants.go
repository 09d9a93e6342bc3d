package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-core/api/responses"
	"github.com/angelmondragon/storefront-core/api/validators"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/pakasir"
)

type tenantStatsReader interface {
	TenantStats(ctx context.Context, tenantID int64) (*orders.TenantStats, error)
}

// AdminTenantStats returns the sales summary for one tenant.
func AdminTenantStats(repo tenantStatsReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}
		tenantID, err := validators.ParsePathInt64(r, "tenantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := repo.TenantStats(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "tenant stats"))
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

type tenantProvisioner interface {
	EnsureTenantForOwner(ctx context.Context, ownerUserID int64, name string) (*models.Tenant, bool, error)
	SetGatewayCredentials(ctx context.Context, tenantID int64, creds pakasir.Credentials) error
	NeedsGatewaySetup(ctx context.Context, tenantID int64) (bool, error)
}

// EnsureTenantRequest registers a reseller storefront.
type EnsureTenantRequest struct {
	OwnerUserID int64  `json:"owner_user_id" validate:"gt=0"`
	Name        string `json:"name" validate:"max=120"`
}

// GatewayCredentialsRequest stores a tenant's own Pakasir project.
type GatewayCredentialsRequest struct {
	Slug     string `json:"slug" validate:"required,max=128"`
	APIKey   string `json:"api_key" validate:"required,max=256"`
	QRISOnly bool   `json:"qris_only"`
}

// TenantView never carries the api key.
type TenantView struct {
	ID                int64  `json:"id"`
	OwnerUserID       int64  `json:"owner_user_id"`
	Name              string `json:"name"`
	Active            bool   `json:"active"`
	QRISOnly          bool   `json:"qris_only"`
	GatewayConfigured bool   `json:"gateway_configured"`
}

// AdminEnsureTenant returns the owner's tenant, creating it on first call.
func AdminEnsureTenant(tenants tenantProvisioner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tenants == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tenant resolver unavailable"))
			return
		}
		var body EnsureTenantRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tenant, created, err := tenants.EnsureTenantForOwner(ctx, body.OwnerUserID, validators.SanitizeString(body.Name, 120))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		view := TenantView{
			ID:                tenant.ID,
			OwnerUserID:       tenant.OwnerUserID,
			Name:              tenant.Name,
			Active:            tenant.Active,
			QRISOnly:          tenant.QRISOnly,
			GatewayConfigured: tenant.HasGatewayCredentials(),
		}
		if created {
			responses.WriteSuccessStatus(w, http.StatusCreated, view)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminSetTenantGateway stores the tenant's gateway project. Checkout stays
// blocked for the tenant until this succeeds.
func AdminSetTenantGateway(tenants tenantProvisioner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tenants == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tenant resolver unavailable"))
			return
		}
		tenantID, err := validators.ParsePathInt64(r, "tenantId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body GatewayCredentialsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		creds := pakasir.Credentials{Slug: body.Slug, APIKey: body.APIKey, QRISOnly: body.QRISOnly}
		if err := tenants.SetGatewayCredentials(ctx, tenantID, creds); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		blocked, err := tenants.NeedsGatewaySetup(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "tenant_id", tenantID), "admin.tenant.gateway_set")
		}
		responses.WriteSuccess(w, map[string]any{
			"tenant_id":        tenantID,
			"checkout_blocked": blocked,
		})
	}
}

package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-core/api/responses"
	"github.com/angelmondragon/storefront-core/api/validators"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
)

const maxStockPayloadLength = 4096

type stockManager interface {
	AddStock(ctx context.Context, tenantID, variantID int64, payloads []string) (int64, error)
	DeactivateVariant(ctx context.Context, tenantID, variantID int64) error
}

type AddStockRequest struct {
	TenantID int64    `json:"tenant_id" validate:"gte=0"`
	Items    []string `json:"items" validate:"required,min=1,max=1000,dive,required,max=4096"`
}

// AdminAddStock appends deliverable items to a variant's shelf.
func AdminAddStock(inventory stockManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inventory == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory unavailable"))
			return
		}
		variantID, err := validators.ParsePathInt64(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body AddStockRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]string, 0, len(body.Items))
		for _, item := range body.Items {
			if clean := validators.SanitizeString(item, maxStockPayloadLength); clean != "" {
				items = append(items, clean)
			}
		}

		stock, err := inventory.AddStock(r.Context(), body.TenantID, variantID, items)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"tenant_id":  body.TenantID,
			"variant_id": variantID,
			"added":      len(items),
			"stock":      stock,
		})
	}
}

// AdminDeactivateVariant hides a variant and retires its unsold stock.
func AdminDeactivateVariant(inventory stockManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inventory == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory unavailable"))
			return
		}
		variantID, err := validators.ParsePathInt64(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenantID, err := validators.ParseQueryInt64(r, "tenant_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if tenantID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id is required"))
			return
		}
		if err := inventory.DeactivateVariant(r.Context(), *tenantID, variantID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

package controllers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/angelmondragon/storefront-core/api/middleware"
	"github.com/angelmondragon/storefront-core/api/responses"
	"github.com/angelmondragon/storefront-core/api/validators"
	"github.com/angelmondragon/storefront-core/internal/balance"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
)

type balanceAdjuster interface {
	GetBalance(ctx context.Context, tenantID, userID int64) (int64, error)
	AddBalance(ctx context.Context, m balance.Mutation) (int64, error)
	DeductBalance(ctx context.Context, m balance.Mutation) (bool, error)
}

// AdjustBalanceRequest credits a positive amount or debits a negative one.
type AdjustBalanceRequest struct {
	TenantID  int64  `json:"tenant_id" validate:"gte=0"`
	UserID    int64  `json:"user_id" validate:"gt=0"`
	Amount    int64  `json:"amount" validate:"ne=0"`
	Reference string `json:"reference" validate:"max=128"`
}

// AdminAdjustBalance applies a manual correction to a buyer's balance. A
// debit never drives the balance negative.
func AdminAdjustBalance(ledger balanceAdjuster, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ledger == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "balance ledger unavailable"))
			return
		}
		var body AdjustBalanceRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		reference := validators.SanitizeString(body.Reference, 128)
		if reference == "" {
			reference = fmt.Sprintf("admin:%s", middleware.OperatorIDFromContext(ctx))
		}
		m := balance.Mutation{
			TenantID:  body.TenantID,
			UserID:    body.UserID,
			Amount:    body.Amount,
			Reason:    enums.BalanceReasonAdjustment,
			Reference: reference,
		}

		var (
			newBalance int64
			err        error
		)
		if body.Amount > 0 {
			newBalance, err = ledger.AddBalance(ctx, m)
		} else {
			m.Amount = -body.Amount
			var ok bool
			ok, err = ledger.DeductBalance(ctx, m)
			if err == nil && !ok {
				err = pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance lower than debit")
			}
			if err == nil {
				newBalance, err = ledger.GetBalance(ctx, body.TenantID, body.UserID)
			}
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"tenant_id": body.TenantID,
				"user_id":   body.UserID,
				"amount":    body.Amount,
				"reference": reference,
			}), "admin.balance.adjusted")
		}
		responses.WriteSuccess(w, map[string]any{
			"tenant_id": body.TenantID,
			"user_id":   body.UserID,
			"balance":   newBalance,
		})
	}
}

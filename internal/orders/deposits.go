package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	dbpkg "github.com/angelmondragon/storefront-core/pkg/db"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"gorm.io/gorm"
)

func (s *store) CreateDeposit(ctx context.Context, input CreateDepositInput) (string, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "deposit id is required")
	}
	if input.Amount <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "deposit amount must be positive")
	}

	deposit := &models.Deposit{
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		OrderID:   orderID,
		Amount:    input.Amount,
		Status:    enums.DepositStatusPending,
		PayURL:    input.PayURL,
		CreatedAt: s.timestamp(),
	}

	res := s.DB(ctx).Clauses(onOrderIDConflict()).Create(deposit)
	if res.Error != nil && !dbpkg.IsUniqueViolation(res.Error, "") {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "create deposit")
	}
	if res.Error != nil || res.RowsAffected == 0 {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID), "duplicate deposit id ignored")
	}
	return orderID, nil
}

func (s *store) GetDeposit(ctx context.Context, orderID string) (*models.Deposit, error) {
	var deposit models.Deposit
	err := s.DB(ctx).Where("order_id = ?", orderID).First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("deposit", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

// MarkDepositPaid moves a pending deposit to PAID. Only the winning caller
// gets true and may credit the balance.
func (s *store) MarkDepositPaid(ctx context.Context, orderID string) (bool, error) {
	res := s.DB(ctx).Model(&models.Deposit{}).
		Where("order_id = ? AND status = ?", orderID, enums.DepositStatusPending).
		Updates(map[string]any{
			"status":  enums.DepositStatusPaid,
			"paid_at": s.timestamp(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) SetDepositPaymentMessage(ctx context.Context, orderID string, msg PaymentMessage) error {
	updates := map[string]any{
		"pay_msg_chat_id": msg.ChatID,
		"pay_msg_id":      msg.MessageID,
		"expires_at":      msg.ExpiresAt.UTC(),
		"last_refresh_at": s.timestamp(),
	}
	if msg.PayURL != nil {
		updates["pay_url"] = *msg.PayURL
	}
	res := s.DB(ctx).Model(&models.Deposit{}).Where("order_id = ?", orderID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("deposit", orderID)
	}
	return nil
}

func (s *store) ListRecentPendingDeposits(ctx context.Context, limit int, maxAge time.Duration) ([]models.Deposit, error) {
	var rows []models.Deposit
	cutoff := s.timestamp().Add(-maxAge)
	err := s.DB(ctx).
		Where("status = ? AND created_at >= ?", enums.DepositStatusPending, cutoff).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *store) ListPendingDepositsWithExpiry(ctx context.Context, limit int) ([]models.Deposit, error) {
	var rows []models.Deposit
	err := s.DB(ctx).
		Where("status = ? AND expires_at IS NOT NULL", enums.DepositStatusPending).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *store) SetDepositExpired(ctx context.Context, orderID string) (bool, error) {
	res := s.DB(ctx).Model(&models.Deposit{}).
		Where("order_id = ? AND status = ?", orderID, enums.DepositStatusPending).
		Update("status", enums.DepositStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) TouchDepositRefresh(ctx context.Context, orderID string) error {
	return s.DB(ctx).Model(&models.Deposit{}).
		Where("order_id = ?", orderID).
		UpdateColumn("last_refresh_at", s.timestamp()).Error
}

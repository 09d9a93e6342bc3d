package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-core/internal/repo"
	dbpkg "github.com/angelmondragon/storefront-core/pkg/db"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type store struct {
	repo.Base
	logg *logger.Logger
	now  func() time.Time
}

// NewStore builds an order store bound to the provided DB.
func NewStore(db *gorm.DB, logg *logger.Logger) (Store, error) {
	if db == nil {
		return nil, errors.New("db required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &store{Base: repo.NewBase(db), logg: logg, now: time.Now}, nil
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{Base: s.Rebind(tx), logg: s.logg, now: s.now}
}

func (s *store) timestamp() time.Time {
	return s.now().UTC()
}

func onOrderIDConflict() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}
}

func notFound(kind, orderID string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, kind+" not found").
		WithDetails(map[string]any{"order_id": orderID})
}

func (s *store) CreateOrder(ctx context.Context, input CreateOrderInput) (string, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Kind.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid order kind")
	}
	if input.Qty <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.Kind == enums.OrderKindProduct && input.VariantID == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "product orders require a variant")
	}

	order := &models.Order{
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		Kind:      input.Kind,
		VariantID: input.VariantID,
		Qty:       input.Qty,
		OrderID:   orderID,
		Amount:    input.Amount,
		Total:     input.Total,
		Status:    enums.OrderStatusPending,
		PayURL:    input.PayURL,
		CreatedAt: s.timestamp(),
	}

	res := s.DB(ctx).Clauses(onOrderIDConflict()).Create(order)
	if res.Error != nil && !dbpkg.IsUniqueViolation(res.Error, "") {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "create order")
	}
	if res.Error != nil || res.RowsAffected == 0 {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID), "duplicate order id ignored")
	}
	return orderID, nil
}

func (s *store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.DB(ctx).Where("order_id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("order", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetPaid records payment regardless of the current status. It reports true
// only for the call that moved the order into PAID.
func (s *store) SetPaid(ctx context.Context, orderID string, method enums.PayMethod) (bool, error) {
	if !method.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid pay method")
	}
	res := s.DB(ctx).Model(&models.Order{}).
		Where("order_id = ? AND status <> ?", orderID, enums.OrderStatusPaid).
		Updates(map[string]any{
			"status":     enums.OrderStatusPaid,
			"paid_at":    s.timestamp(),
			"pay_method": method,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

// ClaimFulfillment marks a paid, undelivered order as being fulfilled. Only
// one caller holds the claim; a claim older than staleAfter is taken over so
// a crashed worker does not block the order forever.
func (s *store) ClaimFulfillment(ctx context.Context, orderID string, staleAfter time.Duration) (bool, error) {
	now := s.timestamp()
	res := s.DB(ctx).Model(&models.Order{}).
		Where("order_id = ? AND status = ? AND delivered_at IS NULL", orderID, enums.OrderStatusPaid).
		Where("(fulfilling_at IS NULL OR fulfilling_at < ?)", now.Add(-staleAfter)).
		UpdateColumn("fulfilling_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) ReleaseFulfillment(ctx context.Context, orderID string) error {
	return s.DB(ctx).Model(&models.Order{}).
		Where("order_id = ? AND fulfilling_at IS NOT NULL", orderID).
		UpdateColumn("fulfilling_at", nil).Error
}

func (s *store) MarkDelivered(ctx context.Context, orderID string, qty int) (bool, error) {
	res := s.DB(ctx).Model(&models.Order{}).
		Where("order_id = ? AND status = ? AND delivered_at IS NULL", orderID, enums.OrderStatusPaid).
		Updates(map[string]any{
			"delivered_at":  s.timestamp(),
			"delivered_qty": qty,
			"fulfilling_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) MarkUndeliverable(ctx context.Context, orderID, reason string) (bool, error) {
	res := s.DB(ctx).Model(&models.Order{}).
		Where("order_id = ? AND delivered_at IS NULL AND undeliverable_at IS NULL", orderID).
		Updates(map[string]any{
			"undeliverable_at":     s.timestamp(),
			"undeliverable_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) ListRecentPending(ctx context.Context, limit int, maxAge time.Duration) ([]models.Order, error) {
	var rows []models.Order
	cutoff := s.timestamp().Add(-maxAge)
	err := s.DB(ctx).
		Where("status = ? AND created_at >= ?", enums.OrderStatusPending, cutoff).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPendingWithExpiry returns the invoices closest to expiry first so a
// backlog cannot starve the oldest ones.
func (s *store) ListPendingWithExpiry(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := s.DB(ctx).
		Where("status = ? AND expires_at IS NOT NULL", enums.OrderStatusPending).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPaidUndelivered returns paid orders that were neither delivered nor
// flagged undeliverable, oldest payment first. These are orders whose
// fulfillment was interrupted after payment.
func (s *store) ListPaidUndelivered(ctx context.Context, limit int, maxAge time.Duration) ([]models.Order, error) {
	var rows []models.Order
	cutoff := s.timestamp().Add(-maxAge)
	err := s.DB(ctx).
		Where("status = ? AND delivered_at IS NULL AND undeliverable_at IS NULL", enums.OrderStatusPaid).
		Where("paid_at >= ?", cutoff).
		Order("paid_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// SetExpired moves a still-pending order to EXPIRED. A concurrently paid
// order is left untouched and false is returned.
func (s *store) SetExpired(ctx context.Context, orderID string) (bool, error) {
	res := s.DB(ctx).Model(&models.Order{}).
		Where("order_id = ? AND status = ?", orderID, enums.OrderStatusPending).
		Update("status", enums.OrderStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *store) TouchRefresh(ctx context.Context, orderID string) error {
	return s.DB(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		UpdateColumn("last_refresh_at", s.timestamp()).Error
}

func (s *store) SetPaymentMessage(ctx context.Context, orderID string, msg PaymentMessage) error {
	updates := map[string]any{
		"pay_msg_chat_id": msg.ChatID,
		"pay_msg_id":      msg.MessageID,
		"expires_at":      msg.ExpiresAt.UTC(),
		"last_refresh_at": s.timestamp(),
	}
	if msg.PayURL != nil {
		updates["pay_url"] = *msg.PayURL
	}
	res := s.DB(ctx).Model(&models.Order{}).Where("order_id = ?", orderID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("order", orderID)
	}
	return nil
}

func (s *store) ListUndeliverable(ctx context.Context, tenantID *int64, limit int) ([]models.Order, error) {
	q := s.DB(ctx).
		Where("undeliverable_at IS NOT NULL AND delivered_at IS NULL")
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	var rows []models.Order
	err := q.Order("undeliverable_at ASC").Limit(pagination.NormalizeLimit(limit)).Find(&rows).Error
	return rows, err
}

func (s *store) ListByUser(ctx context.Context, tenantID, userID int64, params pagination.Params) (*OrderPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	q := s.DB(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID)
	if cursor != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := q.Order("created_at DESC").Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	page := &OrderPage{Orders: rows}
	limit := pagination.NormalizeLimit(params.Limit)
	if len(rows) > limit {
		page.Orders = rows[:limit]
		last := page.Orders[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

package orders

import (
	"context"
	"errors"
	"strings"

	dbpkg "github.com/angelmondragon/storefront-core/pkg/db"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"gorm.io/gorm"
)

func (s *store) CreateRent(ctx context.Context, input CreateRentInput) (string, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "rent order id is required")
	}
	if input.Months <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "rent months must be positive")
	}

	rent := &models.Rent{
		UserID:    input.UserID,
		Plan:      input.Plan,
		Months:    input.Months,
		Price:     input.Price,
		OrderID:   orderID,
		Status:    enums.RentStatusPending,
		CreatedAt: s.timestamp(),
	}

	res := s.DB(ctx).Clauses(onOrderIDConflict()).Create(rent)
	if res.Error != nil && !dbpkg.IsUniqueViolation(res.Error, "") {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "create rent")
	}
	if res.Error != nil || res.RowsAffected == 0 {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID), "duplicate rent order id ignored")
	}
	return orderID, nil
}

func (s *store) GetRent(ctx context.Context, orderID string) (*models.Rent, error) {
	var rent models.Rent
	err := s.DB(ctx).Where("order_id = ?", orderID).First(&rent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("rent", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &rent, nil
}

// ActivateRent moves a pending rent to ACTIVE once. The new period starts at
// the later of now and the end of the user's current active rental, so a
// renewal bought early extends instead of overlapping. months <= 0 uses the
// months stored on the rent.
func (s *store) ActivateRent(ctx context.Context, orderID string, months int) (*models.Rent, bool, error) {
	var (
		activated models.Rent
		changed   bool
	)
	err := s.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var rent models.Rent
		if err := tx.Where("order_id = ?", orderID).First(&rent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("rent", orderID)
			}
			return err
		}
		if rent.Status != enums.RentStatusPending {
			activated = rent
			return nil
		}
		if months <= 0 {
			months = rent.Months
		}

		now := s.timestamp()
		start := now
		var current []models.Rent
		if err := tx.Where("user_id = ? AND status = ? AND ends_at > ?", rent.UserID, enums.RentStatusActive, now).
			Order("ends_at DESC").
			Limit(1).
			Find(&current).Error; err != nil {
			return err
		}
		if len(current) == 1 && current[0].EndsAt != nil && current[0].EndsAt.After(start) {
			start = current[0].EndsAt.UTC()
		}
		endsAt := start.AddDate(0, months, 0)

		res := tx.Model(&models.Rent{}).
			Where("order_id = ? AND status = ?", orderID, enums.RentStatusPending).
			Updates(map[string]any{
				"status":       enums.RentStatusActive,
				"ends_at":      endsAt,
				"activated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1

		return tx.Where("order_id = ?", orderID).First(&activated).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &activated, changed, nil
}

func (s *store) GetActiveRentByUser(ctx context.Context, userID int64) (*models.Rent, error) {
	var rent models.Rent
	err := s.DB(ctx).
		Where("user_id = ? AND status = ? AND ends_at > ?", userID, enums.RentStatusActive, s.timestamp()).
		Order("ends_at DESC").
		First(&rent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active rent").
			WithDetails(map[string]any{"user_id": userID})
	}
	if err != nil {
		return nil, err
	}
	return &rent, nil
}

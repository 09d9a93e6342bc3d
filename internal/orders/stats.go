package orders

import (
	"context"

	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/angelmondragon/storefront-core/pkg/money"
)

type tenantStatsRow struct {
	TotalOrders         int64
	PaidOrders          int64
	PendingOrders       int64
	DeliveredOrders     int64
	UndeliverableOrders int64
	QtySold             int64
	Revenue             int64
}

const tenantStatsQuery = `
SELECT
  COUNT(*) AS total_orders,
  COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS paid_orders,
  COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_orders,
  COALESCE(SUM(CASE WHEN delivered_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS delivered_orders,
  COALESCE(SUM(CASE WHEN undeliverable_at IS NOT NULL AND delivered_at IS NULL THEN 1 ELSE 0 END), 0) AS undeliverable_orders,
  COALESCE(SUM(CASE WHEN status = ? THEN qty ELSE 0 END), 0) AS qty_sold,
  COALESCE(SUM(CASE WHEN status = ? THEN total ELSE 0 END), 0) AS revenue
FROM orders
WHERE tenant_id = ?`

func (s *store) TenantStats(ctx context.Context, tenantID int64) (*TenantStats, error) {
	var row tenantStatsRow
	err := s.DB(ctx).Raw(tenantStatsQuery,
		enums.OrderStatusPaid,
		enums.OrderStatusPending,
		enums.OrderStatusPaid,
		enums.OrderStatusPaid,
		tenantID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	revenue := money.Sum(row.Revenue)
	return &TenantStats{
		TenantID:            tenantID,
		TotalOrders:         row.TotalOrders,
		PaidOrders:          row.PaidOrders,
		PendingOrders:       row.PendingOrders,
		DeliveredOrders:     row.DeliveredOrders,
		UndeliverableOrders: row.UndeliverableOrders,
		QtySold:             row.QtySold,
		Revenue:             revenue,
		AverageOrder:        money.Average(revenue, row.PaidOrders),
	}, nil
}

package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultOrderPollLimit = 15
	defaultPendingMaxAge  = 45 * time.Minute
	defaultPaidMaxAge     = 24 * time.Hour
)

// OrderSettlementJobParams configure the pending order poller.
type OrderSettlementJobParams struct {
	Logger  *logger.Logger
	Orders  pendingOrderLister
	Settler orderSettler
	Limit   int
	MaxAge  time.Duration

	// PaidMaxAge is how far back paid but undelivered orders are retried.
	PaidMaxAge time.Duration
}

type pendingOrderLister interface {
	ListRecentPending(ctx context.Context, limit int, maxAge time.Duration) ([]models.Order, error)
	ListPaidUndelivered(ctx context.Context, limit int, maxAge time.Duration) ([]models.Order, error)
}

// NewOrderSettlementJob builds the job that asks the gateway about recent
// pending orders and settles the completed ones. Paid orders whose delivery
// was interrupted are handed to the settler again so fulfillment resumes.
func NewOrderSettlementJob(params OrderSettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("pending order lister required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("order settler required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultOrderPollLimit
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultPendingMaxAge
	}
	paidMaxAge := params.PaidMaxAge
	if paidMaxAge <= 0 {
		paidMaxAge = defaultPaidMaxAge
	}
	return &orderSettlementJob{
		logg:       params.Logger,
		orders:     params.Orders,
		settler:    params.Settler,
		limit:      limit,
		maxAge:     maxAge,
		paidMaxAge: paidMaxAge,
	}, nil
}

type orderSettlementJob struct {
	logg       *logger.Logger
	orders     pendingOrderLister
	settler    orderSettler
	limit      int
	maxAge     time.Duration
	paidMaxAge time.Duration
}

func (j *orderSettlementJob) Name() string { return "order-settlement" }

func (j *orderSettlementJob) Run(ctx context.Context) error {
	pending, err := j.orders.ListRecentPending(ctx, j.limit, j.maxAge)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	stranded, err := j.orders.ListPaidUndelivered(ctx, j.limit, j.paidMaxAge)
	if err != nil {
		return fmt.Errorf("list undelivered paid orders: %w", err)
	}

	var (
		errs  error
		tally settlementTally
	)
	tally.resumed = len(stranded)
	for _, order := range append(pending, stranded...) {
		tally.checked++
		res, err := j.settler.SettleOrder(ctx, order.OrderID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
				tally.unconfigured++
				j.logg.Warn(j.logg.WithOrderID(ctx, order.OrderID), "order settlement skipped: "+err.Error())
				continue
			}
			tally.failed++
			errs = multierr.Append(errs, fmt.Errorf("settle order %s: %w", order.OrderID, err))
			continue
		}
		switch {
		case res.Busy:
			tally.busy++
		case res.Paid:
			tally.paid++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, tally.fields()), "order settlement poll complete")
	return errs
}

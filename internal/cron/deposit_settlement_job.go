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

const defaultDepositPollLimit = 15

// DepositSettlementJobParams configure the pending deposit poller.
// Enabled reports whether gateway credentials exist at all; the job is a
// no-op while it returns false.
type DepositSettlementJobParams struct {
	Logger   *logger.Logger
	Deposits pendingDepositLister
	Settler  depositSettler
	Enabled  func() bool
	Limit    int
	MaxAge   time.Duration
}

type pendingDepositLister interface {
	ListRecentPendingDeposits(ctx context.Context, limit int, maxAge time.Duration) ([]models.Deposit, error)
}

// NewDepositSettlementJob builds the job that credits completed top-ups.
func NewDepositSettlementJob(params DepositSettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Deposits == nil {
		return nil, fmt.Errorf("pending deposit lister required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("deposit settler required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultDepositPollLimit
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultPendingMaxAge
	}
	enabled := params.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &depositSettlementJob{
		logg:     params.Logger,
		deposits: params.Deposits,
		settler:  params.Settler,
		enabled:  enabled,
		limit:    limit,
		maxAge:   maxAge,
	}, nil
}

type depositSettlementJob struct {
	logg     *logger.Logger
	deposits pendingDepositLister
	settler  depositSettler
	enabled  func() bool
	limit    int
	maxAge   time.Duration
}

func (j *depositSettlementJob) Name() string { return "deposit-settlement" }

func (j *depositSettlementJob) Run(ctx context.Context) error {
	if !j.enabled() {
		j.logg.Info(ctx, "deposit settlement skipped: gateway credentials not configured")
		return nil
	}
	pending, err := j.deposits.ListRecentPendingDeposits(ctx, j.limit, j.maxAge)
	if err != nil {
		return fmt.Errorf("list pending deposits: %w", err)
	}

	var (
		errs  error
		tally settlementTally
	)
	for _, deposit := range pending {
		tally.checked++
		res, err := j.settler.SettleDeposit(ctx, deposit.OrderID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
				tally.unconfigured++
				continue
			}
			tally.failed++
			errs = multierr.Append(errs, fmt.Errorf("settle deposit %s: %w", deposit.OrderID, err))
			continue
		}
		switch {
		case res.Busy:
			tally.busy++
		case res.Transitioned:
			tally.paid++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, tally.fields()), "deposit settlement poll complete")
	return errs
}

package cron

import (
	"context"

	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderSettler interface {
	SettleOrder(ctx context.Context, orderID string) (settlement.Result, error)
}

type depositSettler interface {
	SettleDeposit(ctx context.Context, depositID string) (settlement.Result, error)
}

// settlementTally summarizes one poll cycle.
type settlementTally struct {
	checked      int
	paid         int
	busy         int
	unconfigured int
	failed       int
	resumed      int
}

func (t settlementTally) fields() map[string]any {
	return map[string]any{
		"count":        t.checked,
		"paid":         t.paid,
		"busy":         t.busy,
		"unconfigured": t.unconfigured,
		"failed":       t.failed,
		"resumed":      t.resumed,
	}
}

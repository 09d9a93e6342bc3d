package settlement

import (
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/money"
)

// InvoiceCaption renders the text shown under a live QR prompt.
func InvoiceCaption(orderID string, amount int64, remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	total := int(remaining.Round(time.Second).Seconds())
	return fmt.Sprintf("💳 Pembayaran QRIS\nInvoice: %s\nTotal: %s\n\n⏳ Sisa waktu: %dm %ds",
		orderID, money.FormatRupiah(amount), total/60, total%60)
}

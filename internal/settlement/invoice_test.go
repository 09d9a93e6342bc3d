package settlement

import (
	"strings"
	"testing"
	"time"
)

func TestInvoiceCaption(t *testing.T) {
	got := InvoiceCaption("OX1", 20000, 95*time.Second)
	want := "💳 Pembayaran QRIS\nInvoice: OX1\nTotal: Rp20.000\n\n⏳ Sisa waktu: 1m 35s"
	if got != want {
		t.Fatalf("unexpected caption\n got %q\nwant %q", got, want)
	}
	if !strings.HasSuffix(InvoiceCaption("OX1", 1, -time.Second), "0m 0s") {
		t.Fatal("expected negative remaining time to clamp to zero")
	}
}

package enums

import "testing"

func TestParseOrderStatus(t *testing.T) {
	got, err := ParseOrderStatus("PAID")
	if err != nil || got != OrderStatusPaid {
		t.Fatalf("expected PAID, got %q err=%v", got, err)
	}
	if _, err := ParseOrderStatus("paid"); err == nil {
		t.Fatal("expected lowercase status to be rejected")
	}
	if OrderStatus("DELIVERED").IsValid() {
		t.Fatal("delivered is a timestamp, not a status")
	}
}

func TestParseOutboxEventType(t *testing.T) {
	for _, e := range validOutboxEventTypes {
		got, err := ParseOutboxEventType(string(e))
		if err != nil || got != e {
			t.Fatalf("round trip failed for %q: %v", e, err)
		}
	}
	if _, err := ParseOutboxEventType("order_paid"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestPayMethodAndReasons(t *testing.T) {
	if !PayMethodQRIS.IsValid() || PayMethod("CARD").IsValid() {
		t.Fatal("unexpected pay method validity")
	}
	if _, err := ParseBalanceReason("REFUND"); err == nil {
		t.Fatal("refund is not a balance reason")
	}
	if k, err := ParseOrderKind("RENT"); err != nil || k != OrderKindRent {
		t.Fatalf("expected RENT kind, got %q err=%v", k, err)
	}
}

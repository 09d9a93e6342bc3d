package fulfillment

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-core/internal/inventory"
	"github.com/angelmondragon/storefront-core/internal/messenger/messengertest"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/internal/tenants"
	"github.com/angelmondragon/storefront-core/pkg/config"
	dbpkg "github.com/angelmondragon/storefront-core/pkg/db"
	"github.com/angelmondragon/storefront-core/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"gorm.io/gorm"
)

const (
	testTenant = int64(3)
	testBuyer  = int64(7001)
)

type harness struct {
	db        *gorm.DB
	engine    *Engine
	orders    orders.Store
	inventory inventory.Service
	chat      *messengertest.Recorder
	variantID int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "fulfillment-test", Output: io.Discard})

	store, err := orders.NewStore(db, logg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	inv, err := inventory.NewService(inventory.NewRepository(db), dbpkg.Wrap(db))
	if err != nil {
		t.Fatalf("inventory.NewService: %v", err)
	}
	resolver, err := tenants.NewResolver(tenants.NewRepository(db), config.PakasirConfig{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	variant := models.Variant{TenantID: testTenant, ProductID: 1, Name: "Spotify Premium", Price: 15000, Active: true}
	if err := db.Create(&variant).Error; err != nil {
		t.Fatalf("create variant: %v", err)
	}

	chat := &messengertest.Recorder{}
	engine, err := NewEngine(Params{
		Orders:    store,
		Inventory: inv,
		Tenants:   resolver,
		Messenger: chat,
		Outbox:    outbox.NewService(outbox.NewRepository(db), logg),
		Tx:        dbpkg.Wrap(db),
		Logger:    logg,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	return &harness{db: db, engine: engine, orders: store, inventory: inv, chat: chat, variantID: variant.ID}
}

func (h *harness) stock(t *testing.T, items ...string) {
	t.Helper()
	if _, err := h.inventory.AddStock(context.Background(), testTenant, h.variantID, items); err != nil {
		t.Fatalf("AddStock: %v", err)
	}
}

func (h *harness) paidOrder(t *testing.T, orderID string, qty int) {
	t.Helper()
	ctx := context.Background()
	variantID := h.variantID
	_, err := h.orders.CreateOrder(ctx, orders.CreateOrderInput{
		TenantID:  testTenant,
		UserID:    testBuyer,
		Kind:      enums.OrderKindProduct,
		VariantID: &variantID,
		Qty:       qty,
		OrderID:   orderID,
		Amount:    15000,
		Total:     15000 * int64(qty),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := h.orders.SetPaid(ctx, orderID, enums.PayMethodQRIS); err != nil {
		t.Fatalf("SetPaid: %v", err)
	}
}

func (h *harness) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func (h *harness) order(t *testing.T, orderID string) *models.Order {
	t.Helper()
	order, err := h.orders.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("GetOrder(%s): %v", orderID, err)
	}
	return order
}

func (h *harness) available(t *testing.T) int64 {
	t.Helper()
	left, err := h.inventory.CountAvailable(context.Background(), testTenant, h.variantID)
	if err != nil {
		t.Fatalf("CountAvailable: %v", err)
	}
	return left
}

func expectOutcome(t *testing.T, got Outcome, err error, want Outcome) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected %s, got error %v", want, err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	if _, err := NewEngine(Params{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestFulfillProductDeliversOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stock(t, "a@mail.com:1", "b@mail.com:2", "c@mail.com:3")
	h.paidOrder(t, "OFUL1", 2)
	if err := h.orders.SetPaymentMessage(ctx, "OFUL1", orders.PaymentMessage{
		ChatID: testBuyer, MessageID: 55, ExpiresAt: time.Now().Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("SetPaymentMessage: %v", err)
	}

	outcome, err := h.engine.FulfillProduct(ctx, "OFUL1")
	expectOutcome(t, outcome, err, OutcomeDelivered)

	docs := h.chat.Documents()
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	if docs[0].Filename != "stok_OFUL1.txt" || docs[0].ChatID != testBuyer {
		t.Fatalf("unexpected document %+v", docs[0])
	}
	if docs[0].Content != "a@mail.com:1\nb@mail.com:2" {
		t.Fatalf("unexpected document content %q", docs[0].Content)
	}
	if deleted := h.chat.Deleted(); !reflect.DeepEqual(deleted, []int64{55}) {
		t.Fatalf("expected payment message 55 deleted, got %v", deleted)
	}

	order := h.order(t, "OFUL1")
	if !order.Delivered() || order.DeliveredQty != 2 {
		t.Fatalf("expected delivered qty 2, got %+v", order)
	}

	outcome, err = h.engine.FulfillProduct(ctx, "OFUL1")
	expectOutcome(t, outcome, err, OutcomeAlreadyDelivered)
	if docs := h.chat.Documents(); len(docs) != 1 {
		t.Fatalf("second call must not resend, got %d documents", len(docs))
	}
	if left := h.available(t); left != 1 {
		t.Fatalf("expected 1 item left, got %d", left)
	}
	if got := h.events(t, enums.EventOrderDelivered); got != 1 {
		t.Fatalf("expected one delivered event, got %d", got)
	}
}

func TestFulfillProductRequiresPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stock(t, "only")
	variantID := h.variantID
	_, err := h.orders.CreateOrder(ctx, orders.CreateOrderInput{
		TenantID: testTenant, UserID: testBuyer, Kind: enums.OrderKindProduct,
		VariantID: &variantID, Qty: 1, OrderID: "OPEND", Amount: 15000, Total: 15000,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := h.engine.FulfillProduct(ctx, "OPEND"); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if left := h.available(t); left != 1 {
		t.Fatalf("expected stock untouched, got %d", left)
	}
	if docs := h.chat.Documents(); len(docs) != 0 {
		t.Fatalf("expected no documents, got %d", len(docs))
	}
}

func TestFulfillProductFlagsUndeliverableOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stock(t, "single")
	h.paidOrder(t, "OSHORT", 2)

	outcome, err := h.engine.FulfillProduct(ctx, "OSHORT")
	expectOutcome(t, outcome, err, OutcomeUndeliverable)

	order := h.order(t, "OSHORT")
	if order.Status != enums.OrderStatusPaid {
		t.Fatalf("payment is never reverted, got status %s", order.Status)
	}
	if order.UndeliverableAt == nil || order.UndeliverableReason == nil || *order.UndeliverableReason != reasonStockMismatch {
		t.Fatalf("expected stock mismatch flag, got %+v", order)
	}
	if order.Delivered() {
		t.Fatal("undeliverable order must not be delivered")
	}

	texts := h.chat.Texts()
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "⚠️ STOK TIDAK CUKUP") {
		t.Fatalf("expected one stock warning, got %q", texts)
	}
	if docs := h.chat.Documents(); len(docs) != 0 {
		t.Fatalf("expected no documents, got %d", len(docs))
	}
	if left := h.available(t); left != 1 {
		t.Fatalf("failed withdrawal consumes nothing, got %d left", left)
	}

	outcome, err = h.engine.FulfillProduct(ctx, "OSHORT")
	expectOutcome(t, outcome, err, OutcomeUndeliverable)
	if texts := h.chat.Texts(); len(texts) != 1 {
		t.Fatalf("buyer is notified once, got %d messages", len(texts))
	}
	if got := h.events(t, enums.EventOrderUndeliverable); got != 1 {
		t.Fatalf("expected one undeliverable event, got %d", got)
	}
}

func TestFulfillProductTwoBuyersTwoItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stock(t, "item-1", "item-2")
	h.paidOrder(t, "OBUYA", 2)
	h.paidOrder(t, "OBUYB", 2)

	first, err := h.engine.FulfillProduct(ctx, "OBUYA")
	expectOutcome(t, first, err, OutcomeDelivered)
	second, err := h.engine.FulfillProduct(ctx, "OBUYB")
	expectOutcome(t, second, err, OutcomeUndeliverable)

	docs := h.chat.Documents()
	if len(docs) != 1 || docs[0].Content != "item-1\nitem-2" {
		t.Fatalf("expected one document with both items, got %+v", docs)
	}
}

func TestFulfillProductReusesStampedItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stock(t, "x1", "x2", "x3")
	h.paidOrder(t, "OCRASH", 2)

	popped, err := h.inventory.PopStockFIFO(ctx, testTenant, h.variantID, 2, "OCRASH")
	if err != nil {
		t.Fatalf("PopStockFIFO: %v", err)
	}
	if !reflect.DeepEqual(popped, []string{"x1", "x2"}) {
		t.Fatalf("unexpected popped items %v", popped)
	}

	outcome, err := h.engine.FulfillProduct(ctx, "OCRASH")
	expectOutcome(t, outcome, err, OutcomeDelivered)
	docs := h.chat.Documents()
	if len(docs) != 1 || docs[0].Content != "x1\nx2" {
		t.Fatalf("expected the stamped items to be delivered, got %+v", docs)
	}
	if left := h.available(t); left != 1 {
		t.Fatalf("no second withdrawal after a partial run, got %d left", left)
	}
}

func TestFulfillProductVariantRemovedAfterPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stock(t, "gone")
	h.paidOrder(t, "OGONE", 1)
	if err := h.inventory.DeactivateVariant(ctx, testTenant, h.variantID); err != nil {
		t.Fatalf("DeactivateVariant: %v", err)
	}

	outcome, err := h.engine.FulfillProduct(ctx, "OGONE")
	expectOutcome(t, outcome, err, OutcomeUndeliverable)

	order := h.order(t, "OGONE")
	if order.UndeliverableReason == nil || *order.UndeliverableReason != reasonVariantUnavailable {
		t.Fatalf("expected variant unavailable reason, got %v", order.UndeliverableReason)
	}
}

func TestRedeliverResendsStampedItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stock(t, "r1")
	h.paidOrder(t, "OREDO", 1)

	outcome, err := h.engine.FulfillProduct(ctx, "OREDO")
	expectOutcome(t, outcome, err, OutcomeDelivered)

	outcome, err = h.engine.Redeliver(ctx, "OREDO")
	expectOutcome(t, outcome, err, OutcomeRedelivered)
	docs := h.chat.Documents()
	if len(docs) != 2 || docs[0].Content != docs[1].Content {
		t.Fatalf("expected the same items resent, got %+v", docs)
	}
	if got := h.events(t, enums.EventOrderDelivered); got != 1 {
		t.Fatalf("redelivery must not emit a second event, got %d", got)
	}
}

func TestActivateRentProvisionsTenantOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const renter = int64(9100)

	if _, err := h.orders.CreateRent(ctx, orders.CreateRentInput{UserID: renter, Plan: "3M", Months: 3, Price: 135000, OrderID: "RTEST1"}); err != nil {
		t.Fatalf("CreateRent: %v", err)
	}
	if _, err := h.orders.CreateOrder(ctx, orders.CreateOrderInput{
		UserID: renter, Kind: enums.OrderKindRent, Qty: 1, OrderID: "RTEST1", Amount: 135000, Total: 135000,
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := h.engine.ActivateRent(ctx, "RTEST1"); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("unpaid rent must not activate, got %v", err)
	}

	if _, err := h.orders.SetPaid(ctx, "RTEST1", enums.PayMethodQRIS); err != nil {
		t.Fatalf("SetPaid: %v", err)
	}

	outcome, err := h.engine.Fulfill(ctx, "RTEST1")
	expectOutcome(t, outcome, err, OutcomeRentActivated)

	rent, err := h.orders.GetRent(ctx, "RTEST1")
	if err != nil {
		t.Fatalf("GetRent: %v", err)
	}
	if rent.Status != enums.RentStatusActive {
		t.Fatalf("expected active rent, got %s", rent.Status)
	}
	if rent.EndsAt == nil || !rent.EndsAt.After(time.Now().AddDate(0, 2, 27)) {
		t.Fatalf("expected rent to run about three months, got %v", rent.EndsAt)
	}

	var tenant models.Tenant
	if err := h.db.Where("owner_user_id = ?", renter).First(&tenant).Error; err != nil {
		t.Fatalf("load tenant: %v", err)
	}
	if !tenant.QRISOnly {
		t.Fatal("expected new tenant to default to qris only")
	}
	texts := h.chat.Texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "SEWA TOKO AKTIF") {
		t.Fatalf("expected one activation notice, got %q", texts)
	}

	outcome, err = h.engine.ActivateRent(ctx, "RTEST1")
	expectOutcome(t, outcome, err, OutcomeRentAlreadyActive)
	if texts := h.chat.Texts(); len(texts) != 1 {
		t.Fatalf("expected no second notice, got %d", len(texts))
	}
	if got := h.events(t, enums.EventRentActivated); got != 1 {
		t.Fatalf("expected one rent activated event, got %d", got)
	}
}

func TestFulfillProductRejectsRentOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orders.CreateOrder(ctx, orders.CreateOrderInput{
		UserID: 1, Kind: enums.OrderKindRent, Qty: 1, OrderID: "RKIND", Amount: 50000, Total: 50000,
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := h.engine.FulfillProduct(ctx, "RKIND"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-core/internal/balance"
	"github.com/angelmondragon/storefront-core/internal/checkout"
	"github.com/angelmondragon/storefront-core/internal/fulfillment"
	"github.com/angelmondragon/storefront-core/internal/inventory"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/internal/tenants"
	pkgAuth "github.com/angelmondragon/storefront-core/pkg/auth"
	"github.com/angelmondragon/storefront-core/pkg/config"
	pkgdb "github.com/angelmondragon/storefront-core/pkg/db"
	"github.com/angelmondragon/storefront-core/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"github.com/angelmondragon/storefront-core/pkg/pakasir"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSettler struct {
	mu    sync.Mutex
	calls []string
	paid  bool
}

func (s *stubSettler) Settle(_ context.Context, id string) (settlement.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	status := pakasir.StatusPending
	if s.paid {
		status = pakasir.StatusCompleted
	}
	return settlement.Result{Kind: settlement.KindOf(id), OrderID: id, Status: status, Paid: s.paid, Transitioned: s.paid}, nil
}

type stubRedeliverer struct{ orderIDs []string }

func (s *stubRedeliverer) Redeliver(_ context.Context, orderID string) (fulfillment.Outcome, error) {
	s.orderIDs = append(s.orderIDs, orderID)
	return fulfillment.OutcomeRedelivered, nil
}

type stubCheckout struct {
	inputs   []checkout.Input
	attached []checkout.Invoice
}

func (s *stubCheckout) Handle(_ context.Context, tenantID, userID int64, in checkout.Input) (checkout.Reply, error) {
	s.inputs = append(s.inputs, in)
	if in.Event != checkout.EventPayQRIS {
		return checkout.Reply{Text: "❌ Pilih varian terlebih dahulu.", Rejected: true}, nil
	}
	return checkout.Reply{
		Text: "invoice",
		Invoice: &checkout.Invoice{
			Kind:         settlement.KindOrder,
			OrderID:      fmt.Sprintf("O%dX%d", tenantID, userID),
			Amount:       20000,
			TotalPayment: 20700,
			QRString:     "000201",
			ExpiresAt:    time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC),
		},
	}, nil
}

func (s *stubCheckout) AttachPaymentMessage(_ context.Context, inv checkout.Invoice, _, _ int64) error {
	s.attached = append(s.attached, inv)
	return nil
}

// memoryRedis covers the idempotency and rate limit surface.
type memoryRedis struct {
	mu     sync.Mutex
	values map[string]string
	counts map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

type routerHarness struct {
	t         *testing.T
	cfg       *config.Config
	handler   http.Handler
	orders    orders.Store
	inventory inventory.Service
	balance   balance.Service
	settler   *stubSettler
	redeliver *stubRedeliverer
	checkout  *stubCheckout
	variant   models.Variant
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	tx := pkgdb.Wrap(db)

	store, err := orders.NewStore(db, logg)
	require.NoError(t, err)
	inv, err := inventory.NewService(inventory.NewRepository(db), tx)
	require.NoError(t, err)
	wallet, err := balance.NewService(balance.NewRepository(db), tx)
	require.NoError(t, err)
	resolver, err := tenants.NewResolver(tenants.NewRepository(db), config.PakasirConfig{})
	require.NoError(t, err)

	variant := models.Variant{TenantID: 3, ProductID: 1, Name: "Spotify Premium", Price: 20000, Active: true}
	require.NoError(t, db.Create(&variant).Error)

	cfg := &config.Config{
		App:     config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT:     config.JWTConfig{Secret: "secret", Issuer: "storefront-core", ExpirationMinutes: 30},
		Webhook: config.WebhookConfig{RateWindow: time.Minute, IPLimit: 100, OrderLimit: 2},
	}
	reg := prometheus.NewRegistry()
	h := &routerHarness{
		t:         t,
		cfg:       cfg,
		orders:    store,
		inventory: inv,
		balance:   wallet,
		settler:   &stubSettler{},
		redeliver: &stubRedeliverer{},
		checkout:  &stubCheckout{},
		variant:   variant,
	}
	h.handler = NewRouter(cfg, logg, Dependencies{
		DB:          stubPinger{},
		Redis:       newMemoryRedis(),
		RedisPinger: stubPinger{},
		Orders:      store,
		Inventory:   inv,
		Balance:     wallet,
		Tenants:     resolver,
		Settler:     h.settler,
		Fulfillment: h.redeliver,
		Checkout:    h.checkout,
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
	})
	return h
}

func (h *routerHarness) token(role enums.OperatorRole) string {
	h.t.Helper()
	token, err := pkgAuth.MintAccessToken(h.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{Subject: "ops-1", Role: role})
	require.NoError(h.t, err)
	return token
}

func (h *routerHarness) do(method, path, body, token string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestHealthEndpoints(t *testing.T) {
	h := newRouterHarness(t)

	live := h.do(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, live.Code)

	ready := h.do(http.MethodGet, "/health/ready", "", "")
	require.Equal(t, http.StatusOK, ready.Code)
	data := decodeData(t, ready)
	assert.Equal(t, "up", data["db"])
	assert.Equal(t, "up", data["redis"])
	assert.NotEmpty(t, ready.Header().Get("X-Request-Id"))
}

func TestHealthReadyReportsDownDependency(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	handler := NewRouter(cfg, logg, Dependencies{DB: stubPinger{err: fmt.Errorf("conn refused")}})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"db":"down"`)
	assert.Contains(t, rec.Body.String(), `"redis":"skipped"`)
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	h := newRouterHarness(t)
	h.do(http.MethodGet, "/health/live", "", "")

	rec := h.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/health/live",status="200"} 1`)
}

func TestPakasirWebhookTriggersSettlement(t *testing.T) {
	h := newRouterHarness(t)
	h.settler.paid = true

	rec := h.do(http.MethodPost, "/api/v1/webhooks/pakasir",
		`{"order_id":"OABC123","amount":20700,"project":"shop","status":"completed","payment_method":"qris","completed_at":"2026-03-01T10:00:00Z"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, true, data["paid"])
	assert.Equal(t, "order", data["kind"])
	assert.Equal(t, []string{"OABC123"}, h.settler.calls)
}

func TestPakasirWebhookRoutesDeposits(t *testing.T) {
	h := newRouterHarness(t)
	rec := h.do(http.MethodPost, "/api/v1/webhooks/pakasir", `{"order_id":"DEP-1767225600000","amount":50000}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deposit", decodeData(t, rec)["kind"])
}

func TestPakasirWebhookRejectsMissingOrderID(t *testing.T) {
	h := newRouterHarness(t)
	rec := h.do(http.MethodPost, "/api/v1/webhooks/pakasir", `{"amount":1000}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.settler.calls)
}

func TestPakasirWebhookThrottlesPerOrder(t *testing.T) {
	h := newRouterHarness(t)
	body := `{"order_id":"OHOT","amount":1000}`
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/webhooks/pakasir", body, "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/v1/webhooks/pakasir", body, "").Code)
	assert.Len(t, h.settler.calls, 2)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newRouterHarness(t)
	rec := h.do(http.MethodGet, "/api/admin/v1/orders/undeliverable", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminWritesRequireAdminRole(t *testing.T) {
	h := newRouterHarness(t)
	viewer := h.token(enums.OperatorRoleViewer)

	read := h.do(http.MethodGet, "/api/admin/v1/orders/undeliverable", "", viewer)
	assert.Equal(t, http.StatusOK, read.Code)

	write := h.do(http.MethodPost, "/api/admin/v1/orders/O1/redeliver", "", viewer, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusForbidden, write.Code)
	assert.Empty(t, h.redeliver.orderIDs)
}

func TestAdminOrderDetail(t *testing.T) {
	h := newRouterHarness(t)
	variantID := h.variant.ID
	_, err := h.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		TenantID: 3, UserID: 42, Kind: enums.OrderKindProduct, VariantID: &variantID,
		Qty: 1, OrderID: "OVIEW1", Amount: 20000, Total: 20700,
	})
	require.NoError(t, err)

	token := h.token(enums.OperatorRoleAdmin)
	rec := h.do(http.MethodGet, "/api/admin/v1/orders/OVIEW1", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "OVIEW1", data["order_id"])
	assert.Equal(t, string(enums.OrderStatusPending), data["status"])
	assert.EqualValues(t, 20700, data["total"])

	missing := h.do(http.MethodGet, "/api/admin/v1/orders/ONOPE", "", token)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestAdminRedeliverAndCheck(t *testing.T) {
	h := newRouterHarness(t)
	token := h.token(enums.OperatorRoleAdmin)

	rec := h.do(http.MethodPost, "/api/admin/v1/orders/ODONE/redeliver", "", token, "Idempotency-Key", "redeliver-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(fulfillment.OutcomeRedelivered), decodeData(t, rec)["outcome"])

	replay := h.do(http.MethodPost, "/api/admin/v1/orders/ODONE/redeliver", "", token, "Idempotency-Key", "redeliver-1")
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, []string{"ODONE"}, h.redeliver.orderIDs, "replayed request must not resend items")

	check := h.do(http.MethodPost, "/api/admin/v1/orders/OPEND/check", "", token, "Idempotency-Key", "check-1")
	require.Equal(t, http.StatusOK, check.Code)
	assert.Equal(t, string(pakasir.StatusPending), decodeData(t, check)["status"])
}

func TestAdminIdempotentWriteRequiresKey(t *testing.T) {
	h := newRouterHarness(t)
	rec := h.do(http.MethodPost, "/api/admin/v1/balances/adjust", `{"tenant_id":3,"user_id":42,"amount":5000}`, h.token(enums.OperatorRoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminStockLifecycle(t *testing.T) {
	h := newRouterHarness(t)
	token := h.token(enums.OperatorRoleAdmin)
	path := fmt.Sprintf("/api/admin/v1/variants/%d/stock", h.variant.ID)

	rec := h.do(http.MethodPost, path, `{"tenant_id":3,"items":["acc-1","acc-2"," "]}`, token, "Idempotency-Key", "stock-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.EqualValues(t, 2, data["stock"])
	assert.EqualValues(t, 2, data["added"])

	empty := h.do(http.MethodPost, path, `{"tenant_id":3,"items":[]}`, token, "Idempotency-Key", "stock-2")
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	del := h.do(http.MethodDelete, fmt.Sprintf("/api/admin/v1/variants/%d?tenant_id=3", h.variant.ID), "", token)
	require.Equal(t, http.StatusNoContent, del.Code, del.Body.String())
	count, err := h.inventory.CountAvailable(context.Background(), 3, h.variant.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	noTenant := h.do(http.MethodDelete, fmt.Sprintf("/api/admin/v1/variants/%d", h.variant.ID), "", token)
	assert.Equal(t, http.StatusBadRequest, noTenant.Code)
}

func TestAdminBalanceAdjust(t *testing.T) {
	h := newRouterHarness(t)
	token := h.token(enums.OperatorRoleAdmin)

	credit := h.do(http.MethodPost, "/api/admin/v1/balances/adjust", `{"tenant_id":3,"user_id":42,"amount":5000,"reference":"refund O1"}`, token, "Idempotency-Key", "adj-1")
	require.Equal(t, http.StatusOK, credit.Code, credit.Body.String())
	assert.EqualValues(t, 5000, decodeData(t, credit)["balance"])

	debit := h.do(http.MethodPost, "/api/admin/v1/balances/adjust", `{"tenant_id":3,"user_id":42,"amount":-2000}`, token, "Idempotency-Key", "adj-2")
	require.Equal(t, http.StatusOK, debit.Code, debit.Body.String())
	assert.EqualValues(t, 3000, decodeData(t, debit)["balance"])

	overdraw := h.do(http.MethodPost, "/api/admin/v1/balances/adjust", `{"tenant_id":3,"user_id":42,"amount":-9000}`, token, "Idempotency-Key", "adj-3")
	assert.Equal(t, http.StatusPaymentRequired, overdraw.Code)

	got, err := h.balance.GetBalance(context.Background(), 3, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, got)

	zero := h.do(http.MethodPost, "/api/admin/v1/balances/adjust", `{"tenant_id":3,"user_id":42,"amount":0}`, token, "Idempotency-Key", "adj-4")
	assert.Equal(t, http.StatusBadRequest, zero.Code)
}

func TestAdminTenantStats(t *testing.T) {
	h := newRouterHarness(t)
	ctx := context.Background()
	variantID := h.variant.ID
	_, err := h.orders.CreateOrder(ctx, orders.CreateOrderInput{
		TenantID: 3, UserID: 42, Kind: enums.OrderKindProduct, VariantID: &variantID,
		Qty: 2, OrderID: "OSTAT1", Amount: 40000, Total: 40000,
	})
	require.NoError(t, err)
	_, err = h.orders.SetPaid(ctx, "OSTAT1", enums.PayMethodBalance)
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/api/admin/v1/tenants/3/stats", "", h.token(enums.OperatorRoleViewer))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.EqualValues(t, 1, data["total_orders"])
	assert.EqualValues(t, 1, data["paid_orders"])
}

func TestCheckoutEventRelaysToMachine(t *testing.T) {
	h := newRouterHarness(t)
	admin := h.token(enums.OperatorRoleAdmin)

	rec := h.do(http.MethodPost, "/api/admin/v1/checkout/events", `{"tenant_id":3,"user_id":77,"event":"pay_qris"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	invoice, ok := data["invoice"].(map[string]any)
	require.True(t, ok, "expected invoice in reply")
	assert.Equal(t, "O3X77", invoice["order_id"])
	assert.Equal(t, float64(20700), invoice["total_payment"])
	require.Len(t, h.checkout.inputs, 1)
	assert.Equal(t, checkout.EventPayQRIS, h.checkout.inputs[0].Event)

	rejected := h.do(http.MethodPost, "/api/admin/v1/checkout/events", `{"tenant_id":3,"user_id":77,"event":"enter_quantity","qty":2}`, admin)
	require.Equal(t, http.StatusOK, rejected.Code)
	assert.Equal(t, true, decodeData(t, rejected)["rejected"])
}

func TestCheckoutEventValidatesInput(t *testing.T) {
	h := newRouterHarness(t)
	admin := h.token(enums.OperatorRoleAdmin)

	rec := h.do(http.MethodPost, "/api/admin/v1/checkout/events", `{"tenant_id":3,"user_id":77,"event":"teleport"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	viewer := h.do(http.MethodPost, "/api/admin/v1/checkout/events", `{"tenant_id":3,"user_id":77,"event":"cancel"}`, h.token(enums.OperatorRoleViewer))
	assert.Equal(t, http.StatusForbidden, viewer.Code)
	assert.Empty(t, h.checkout.inputs)
}

func TestCheckoutPaymentMessageAttachesInvoice(t *testing.T) {
	h := newRouterHarness(t)
	rec := h.do(http.MethodPost, "/api/admin/v1/checkout/payment-message",
		`{"kind":"deposit","order_id":"DEP-1767225600000","expires_at":"2026-03-01T10:10:00Z","chat_id":77,"message_id":501}`,
		h.token(enums.OperatorRoleAdmin))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, h.checkout.attached, 1)
	assert.Equal(t, settlement.KindDeposit, h.checkout.attached[0].Kind)
	assert.Equal(t, "DEP-1767225600000", h.checkout.attached[0].OrderID)
}

func TestAdminTenantProvisioning(t *testing.T) {
	h := newRouterHarness(t)
	admin := h.token(enums.OperatorRoleAdmin)

	created := h.do(http.MethodPost, "/api/admin/v1/tenants", `{"owner_user_id":5001,"name":"Toko Premium"}`, admin)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	data := decodeData(t, created)
	assert.Equal(t, "Toko Premium", data["name"])
	assert.Equal(t, false, data["gateway_configured"])
	tenantID := int64(data["id"].(float64))

	again := h.do(http.MethodPost, "/api/admin/v1/tenants", `{"owner_user_id":5001}`, admin)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, float64(tenantID), decodeData(t, again)["id"])

	path := fmt.Sprintf("/api/admin/v1/tenants/%d/gateway", tenantID)
	gateway := h.do(http.MethodPut, path, `{"slug":"toko-premium","api_key":"key-123","qris_only":true}`, admin)
	require.Equal(t, http.StatusOK, gateway.Code, gateway.Body.String())
	assert.Equal(t, false, decodeData(t, gateway)["checkout_blocked"])
	assert.NotContains(t, gateway.Body.String(), "key-123")

	adminStore := h.do(http.MethodPut, "/api/admin/v1/tenants/0/gateway", `{"slug":"x","api_key":"y"}`, admin)
	assert.Equal(t, http.StatusBadRequest, adminStore.Code)
}

func TestPakasirWebhookAcknowledgesSettledDuplicates(t *testing.T) {
	h := newRouterHarness(t)
	h.settler.paid = true
	body := `{"order_id":"ODUPE1","amount":20700,"status":"completed"}`

	first := h.do(http.MethodPost, "/api/v1/webhooks/pakasir", body, "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Nil(t, decodeData(t, first)["duplicate"])

	second := h.do(http.MethodPost, "/api/v1/webhooks/pakasir", body, "")
	require.Equal(t, http.StatusOK, second.Code)
	data := decodeData(t, second)
	assert.Equal(t, true, data["duplicate"])
	assert.Equal(t, true, data["paid"])
	assert.Equal(t, []string{"ODUPE1"}, h.settler.calls)
}

package pakasir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
)

const (
	DefaultBaseURL = "https://app.pakasir.com"
	defaultTimeout = 15 * time.Second

	opCreateQRIS        = "create_qris"
	opTransactionDetail = "transaction_detail"
)

const responseBodyReadLimit int64 = 1024

// RequestObserver receives one call per gateway request.
type RequestObserver interface {
	IncGatewayRequest(op, result string)
}

// Credentials identifies the merchant project a charge belongs to.
type Credentials struct {
	Slug     string
	APIKey   string
	QRISOnly bool
}

// Valid reports whether both slug and api key are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Slug) != "" && strings.TrimSpace(c.APIKey) != ""
}

// Client talks to the Pakasir QRIS payment gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	observer   RequestObserver
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithTimeout sets the transport timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithObserver reports request results, typically to prometheus.
func WithObserver(observer RequestObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient builds a gateway client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client
}

// PayURL returns the hosted payment page link for the charge.
func (c *Client) PayURL(creds Credentials, amount int64, orderID string) string {
	base := DefaultBaseURL
	if c != nil && c.baseURL != "" {
		base = c.baseURL
	}
	u := fmt.Sprintf("%s/pay/%s/%s", base, url.PathEscape(creds.Slug), strconv.FormatInt(amount, 10))
	q := url.Values{}
	q.Set("order_id", orderID)
	if creds.QRISOnly {
		q.Set("qris_only", "1")
	}
	return u + "?" + q.Encode()
}

// Charge is a freshly created QRIS transaction.
type Charge struct {
	OrderID       string
	Amount        int64
	TotalPayment  int64
	Fee           int64
	PaymentNumber string
	ExpiredAt     *time.Time
	Raw           json.RawMessage
}

// CreateQRIS opens a QRIS transaction and returns the QR payload to render.
func (c *Client) CreateQRIS(ctx context.Context, creds Credentials, orderID string, amount int64) (*Charge, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pakasir client not configured")
	}
	if !creds.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pakasir credentials not configured")
	}
	if strings.TrimSpace(orderID) == "" || amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and positive amount are required")
	}

	payload, err := json.Marshal(map[string]any{
		"project":  creds.Slug,
		"order_id": orderID,
		"amount":   amount,
		"api_key":  creds.APIKey,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal qris request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("api/transactioncreate/qris"), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build qris request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(opCreateQRIS, "transport_error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute qris request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(opCreateQRIS, "http_"+strconv.Itoa(resp.StatusCode))
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "qris request failed")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(opCreateQRIS, "decode_error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read qris response")
	}
	var apiResp struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
		Payment struct {
			OrderID       string `json:"order_id"`
			Amount        int64  `json:"amount"`
			Fee           int64  `json:"fee"`
			TotalPayment  int64  `json:"total_payment"`
			PaymentNumber string `json:"payment_number"`
			ExpiredAt     string `json:"expired_at"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		c.observe(opCreateQRIS, "decode_error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode qris response")
	}
	if apiResp.Success != nil && !*apiResp.Success && apiResp.Error != "" {
		c.observe(opCreateQRIS, "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pakasir: "+apiResp.Error)
	}
	if strings.TrimSpace(apiResp.Payment.PaymentNumber) == "" {
		c.observe(opCreateQRIS, "missing_payment_number")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pakasir payment_number missing").
			WithDetails(map[string]any{"orderId": orderID})
	}
	c.observe(opCreateQRIS, "ok")

	charge := &Charge{
		OrderID:       orderID,
		Amount:        amount,
		TotalPayment:  apiResp.Payment.TotalPayment,
		Fee:           apiResp.Payment.Fee,
		PaymentNumber: apiResp.Payment.PaymentNumber,
		ExpiredAt:     parseTimestamp(apiResp.Payment.ExpiredAt),
		Raw:           raw,
	}
	if charge.TotalPayment == 0 {
		charge.TotalPayment = amount
	}
	return charge, nil
}

// TransactionDetail looks up the settlement state of a charge. Failures are
// folded into the returned Settlement rather than surfaced as errors.
func (c *Client) TransactionDetail(ctx context.Context, creds Credentials, orderID string, amount int64) Settlement {
	if c == nil {
		return errorSettlement("pakasir client not configured")
	}
	if !creds.Valid() {
		return errorSettlement("pakasir credentials not configured")
	}

	q := url.Values{}
	q.Set("project", creds.Slug)
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("order_id", orderID)
	q.Set("api_key", creds.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("api/transactiondetail")+"?"+q.Encode(), nil)
	if err != nil {
		return errorSettlement("build request: " + err.Error())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(opTransactionDetail, "transport_error")
		return errorSettlement("transport: " + err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		c.observe(opTransactionDetail, "not_found")
		return Settlement{Status: StatusNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(opTransactionDetail, "http_"+strconv.Itoa(resp.StatusCode))
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return errorSettlement(fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(opTransactionDetail, "decode_error")
		return errorSettlement("read body: " + err.Error())
	}
	settlement, err := parseDetail(raw)
	if err != nil {
		c.observe(opTransactionDetail, "decode_error")
		return errorSettlement("decode: " + err.Error())
	}
	c.observe(opTransactionDetail, "ok")
	return settlement
}

func (c *Client) observe(op, result string) {
	if c.observer != nil {
		c.observer.IncGatewayRequest(op, result)
	}
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

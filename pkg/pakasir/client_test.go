package pakasir

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) IncGatewayRequest(op, result string) {
	r.calls = append(r.calls, op+":"+result)
}

var testCreds = Credentials{Slug: "toko-demo", APIKey: "secret-key"}

func newTestClient(rt roundTripFunc, opts ...Option) *Client {
	opts = append([]Option{WithBaseURL("http://pakasir.test/"), WithHTTPClient(&http.Client{Transport: rt})}, opts...)
	return NewClient(opts...)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestPayURL(t *testing.T) {
	client := NewClient()
	got := client.PayURL(testCreds, 30000, "OABC123")
	want := "https://app.pakasir.com/pay/toko-demo/30000?order_id=OABC123"
	if got != want {
		t.Fatalf("expected %q got %q", want, got)
	}

	qris := testCreds
	qris.QRISOnly = true
	got = NewClient(WithBaseURL("http://pakasir.test")).PayURL(qris, 10000, "DEP-1")
	want = "http://pakasir.test/pay/toko-demo/10000?order_id=DEP-1&qris_only=1"
	if got != want {
		t.Fatalf("expected %q got %q", want, got)
	}
}

func TestCreateQRISRequest(t *testing.T) {
	var capturedURL, capturedMethod string
	var payload map[string]any

	observer := &recordingObserver{}
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedMethod = req.Method
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"payment":{"order_id":"OABC","amount":30000,"fee":1003,"total_payment":31003,"payment_number":"00020101021226...","expired_at":"2026-03-01T10:10:00Z"}}`), nil
	}, WithObserver(observer))

	charge, err := client.CreateQRIS(context.Background(), testCreds, "OABC", 30000)
	if err != nil {
		t.Fatalf("create qris: %v", err)
	}
	if capturedMethod != http.MethodPost || capturedURL != "http://pakasir.test/api/transactioncreate/qris" {
		t.Fatalf("unexpected request %s %s", capturedMethod, capturedURL)
	}
	if payload["project"] != "toko-demo" || payload["order_id"] != "OABC" || payload["api_key"] != "secret-key" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if amount, ok := payload["amount"].(float64); !ok || amount != 30000 {
		t.Fatalf("expected numeric amount, got %v", payload["amount"])
	}
	if charge.PaymentNumber != "00020101021226..." || charge.TotalPayment != 31003 || charge.Fee != 1003 {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if charge.ExpiredAt == nil || charge.ExpiredAt.Minute() != 10 {
		t.Fatalf("expected parsed expiry, got %v", charge.ExpiredAt)
	}
	if len(observer.calls) != 1 || observer.calls[0] != "create_qris:ok" {
		t.Fatalf("unexpected observer calls %v", observer.calls)
	}
}

func TestCreateQRISFailures(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode pkgerrors.Code
	}{
		{name: "http error", status: http.StatusBadGateway, body: "upstream down", wantCode: pkgerrors.CodeDependency},
		{name: "rejected", status: http.StatusOK, body: `{"success":false,"error":"invalid api key"}`, wantCode: pkgerrors.CodeDependency},
		{name: "missing payment number", status: http.StatusOK, body: `{"payment":{"order_id":"OABC"}}`, wantCode: pkgerrors.CodeValidation},
		{name: "bad json", status: http.StatusOK, body: `{`, wantCode: pkgerrors.CodeDependency},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(func(req *http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			})
			_, err := client.CreateQRIS(context.Background(), testCreds, "OABC", 30000)
			if err == nil {
				t.Fatal("expected error")
			}
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != tc.wantCode {
				t.Fatalf("expected code %s, got %v", tc.wantCode, err)
			}
		})
	}
}

func TestCreateQRISRequiresCredentials(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := client.CreateQRIS(context.Background(), Credentials{Slug: "x"}, "OABC", 1000); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if _, err := client.CreateQRIS(context.Background(), testCreds, "OABC", 0); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransactionDetailRequest(t *testing.T) {
	var capturedURL string
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		return jsonResponse(http.StatusOK, `{"transaction":{"status":"completed","amount":30000}}`), nil
	})

	got := client.TransactionDetail(context.Background(), testCreds, "OABC", 30000)
	if !got.Completed() {
		t.Fatalf("expected completed, got %+v", got)
	}
	want := "http://pakasir.test/api/transactiondetail?amount=30000&api_key=secret-key&order_id=OABC&project=toko-demo"
	if capturedURL != want {
		t.Fatalf("expected %q got %q", want, capturedURL)
	}
	if len(got.Raw) == 0 {
		t.Fatal("expected raw body to be retained")
	}
}

func TestTransactionDetailNormalizesStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		err    error
		want   Status
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":"not found"}`, want: StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", want: StatusError},
		{name: "transport", err: errors.New("dial tcp: timeout"), want: StatusError},
		{name: "decode", status: http.StatusOK, body: "<html>", want: StatusError},
		{name: "payment key upper case", status: http.StatusOK, body: `{"payment":{"status":"COMPLETED"}}`, want: StatusCompleted},
		{name: "data key", status: http.StatusOK, body: `{"data":{"status":"Completed"}}`, want: StatusCompleted},
		{name: "pending", status: http.StatusOK, body: `{"transaction":{"status":"pending"}}`, want: StatusPending},
		{name: "expired is still pending", status: http.StatusOK, body: `{"transaction":{"status":"expired"}}`, want: StatusPending},
		{name: "absent status", status: http.StatusOK, body: `{}`, want: StatusPending},
		{name: "transaction wins over data", status: http.StatusOK, body: `{"transaction":{"status":"pending"},"data":{"status":"completed"}}`, want: StatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(func(req *http.Request) (*http.Response, error) {
				if tc.err != nil {
					return nil, tc.err
				}
				return jsonResponse(tc.status, tc.body), nil
			})
			got := client.TransactionDetail(context.Background(), testCreds, "OABC", 30000)
			if got.Status != tc.want {
				t.Fatalf("expected %s got %+v", tc.want, got)
			}
			if tc.want == StatusError && got.Reason == "" {
				t.Fatal("expected a reason for error settlements")
			}
		})
	}
}

func TestTransactionDetailWithoutCredentials(t *testing.T) {
	var client *Client
	if got := client.TransactionDetail(context.Background(), testCreds, "OABC", 1); got.Status != StatusError {
		t.Fatalf("expected error for nil client, got %+v", got)
	}
	got := NewClient().TransactionDetail(context.Background(), Credentials{}, "OABC", 1)
	if got.Status != StatusError {
		t.Fatalf("expected error for missing credentials, got %+v", got)
	}
}

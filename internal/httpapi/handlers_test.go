package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/service"
	"caixa/backend/internal/store/memory"
)

const testManagerPIN = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, zap.NewNop())
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN)

	return New(svc, auth, zap.NewNop(), "*")
}

func tokenFor(t *testing.T, api *API, role string) string {
	t.Helper()
	token, _, err := api.auth.IssueToken("test-"+role, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
}

func TestCheckoutRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", "", domain.CheckoutRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckoutAndCollectFlow(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, RoleCashier)

	checkout := map[string]any{
		"idempotency_key":   "idem-http-1",
		"lines":             []map[string]any{{"product_id": "prod-blusa-seda", "quantity": 2}},
		"discount":          map[string]any{"kind": "percent", "value": "10"},
		"payment_method":    "pix",
		"client_id":         "cli-maria",
		"amount_paid_cents": 5820,
		"installments":      map[string]any{"count": 2},
	}
	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, checkout)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var receipt domain.SaleReceipt
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Sale.TotalCents != 17820 || len(receipt.Installments) != 2 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	replay := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, checkout)
	if replay.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", replay.Code)
	}
	reused := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, map[string]any{
		"idempotency_key": "idem-http-1",
		"lines":           []map[string]any{{"product_id": "prod-blusa-seda", "quantity": 1}},
	})
	if reused.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a reused key with another cart, got %d", reused.Code)
	}

	collect := doJSON(t, api, http.MethodPost, "/api/v1/installments/"+receipt.Installments[0].ID+"/collect", token, nil)
	if collect.Code != http.StatusOK {
		t.Fatalf("expected 200 on collect, got %d (body: %s)", collect.Code, collect.Body.String())
	}
	again := doJSON(t, api, http.MethodPost, "/api/v1/installments/"+receipt.Installments[0].ID+"/collect", token, nil)
	if again.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second collect, got %d", again.Code)
	}

	sale := doJSON(t, api, http.MethodGet, "/api/v1/sales/"+receipt.Sale.ID, token, nil)
	if sale.Code != http.StatusOK {
		t.Fatalf("expected 200 on sale lookup, got %d", sale.Code)
	}
	outstanding := doJSON(t, api, http.MethodGet, "/api/v1/installments/outstanding?client_id=cli-maria", token, nil)
	if outstanding.Code != http.StatusOK {
		t.Fatalf("expected 200 on outstanding, got %d", outstanding.Code)
	}
	var list struct {
		Installments []domain.OutstandingInstallment `json:"installments"`
	}
	if err := json.NewDecoder(outstanding.Body).Decode(&list); err != nil {
		t.Fatalf("decode outstanding: %v", err)
	}
	if len(list.Installments) != 1 {
		t.Fatalf("expected one outstanding installment, got %d", len(list.Installments))
	}
}

func TestCheckoutErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, RoleCashier)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"empty cart", map[string]any{"lines": []any{}}, http.StatusBadRequest},
		{"unknown product", map[string]any{"lines": []map[string]any{{"product_id": "nope", "quantity": 1}}}, http.StatusNotFound},
		{"insufficient stock", map[string]any{"lines": []map[string]any{{"product_id": "prod-bolsa-couro", "quantity": 5}}, "amount_paid_cents": 124500}, http.StatusConflict},
		{"missing client", map[string]any{"lines": []map[string]any{{"product_id": "prod-blusa-seda", "quantity": 1}}}, http.StatusBadRequest},
		{"bad discount", map[string]any{"lines": []map[string]any{{"product_id": "prod-blusa-seda", "quantity": 1}}, "discount": map[string]any{"kind": "bogus", "value": 1}}, http.StatusBadRequest},
		{"unknown field", map[string]any{"lines": []any{}, "surprise": true}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (body: %s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestStatusForErrorClasses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.NotFoundError{Entity: "sale", ID: "x"}, http.StatusNotFound},
		{&domain.ForbiddenError{Reason: "admin role required"}, http.StatusForbidden},
		{&domain.IdempotencyKeyReusedError{Key: "k", SaleID: "s"}, http.StatusConflict},
		{&domain.PriceChangedError{ProductID: "p"}, http.StatusConflict},
		{&domain.ValidationError{Reason: "bad"}, http.StatusBadRequest},
		{&domain.PersistenceError{Op: "checkout", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%T: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestQuoteDoesNotNeedClient(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, RoleCashier)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout/quote", token, map[string]any{
		"lines":        []map[string]any{{"product_id": "prod-blusa-seda", "quantity": 1}},
		"installments": map[string]any{"count": 3},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var quote domain.QuoteResponse
	if err := json.NewDecoder(rec.Body).Decode(&quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if len(quote.Installments) != 3 || quote.Installments[2].AmountCents != 3300 {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestSettleConsignmentsNeedsManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, RoleCashier)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, map[string]any{
		"lines":             []map[string]any{{"product_id": "prod-brinco-prata", "quantity": 1}},
		"amount_paid_cents": 5900,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}
	var receipt domain.SaleReceipt
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}

	groups := doJSON(t, api, http.MethodGet, "/api/v1/consignments/unsettled", token, nil)
	if groups.Code != http.StatusOK {
		t.Fatalf("expected 200 listing consignments, got %d", groups.Code)
	}

	body := map[string]any{"brand": "Atelie Lua", "item_ids": []string{receipt.Items[0].ID}, "manager_pin": "000000"}
	if res := doJSON(t, api, http.MethodPost, "/api/v1/consignments/settle", token, body); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong PIN, got %d", res.Code)
	}
	body["manager_pin"] = testManagerPIN
	if res := doJSON(t, api, http.MethodPost, "/api/v1/consignments/settle", token, body); res.Code != http.StatusCreated {
		t.Fatalf("expected 201 with manager PIN, got %d (body: %s)", res.Code, res.Body.String())
	}
	if res := doJSON(t, api, http.MethodPost, "/api/v1/consignments/settle", token, body); res.Code != http.StatusConflict {
		t.Fatalf("expected 409 on repeated settlement, got %d", res.Code)
	}
}

func TestLedgerRoutesAreAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	cashier := tokenFor(t, api, RoleCashier)
	admin := tokenFor(t, api, RoleAdmin)

	if res := doJSON(t, api, http.MethodGet, "/api/v1/ledger", cashier, nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", res.Code)
	}

	expense := doJSON(t, api, http.MethodPost, "/api/v1/ledger/expenses", admin, map[string]any{
		"category":    "aluguel",
		"amount":      "R$ 1.500,00",
		"manager_pin": testManagerPIN,
	})
	if expense.Code != http.StatusCreated {
		t.Fatalf("expected 201 recording expense, got %d (body: %s)", expense.Code, expense.Body.String())
	}

	summary := doJSON(t, api, http.MethodGet, "/api/v1/ledger/summary", admin, nil)
	if summary.Code != http.StatusOK {
		t.Fatalf("expected 200 on summary, got %d", summary.Code)
	}
	var body domain.LedgerSummary
	if err := json.NewDecoder(summary.Body).Decode(&body); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if body.ExpenseCents != 150000 {
		t.Fatalf("expected 150000 expense cents, got %d", body.ExpenseCents)
	}

	if res := doJSON(t, api, http.MethodGet, "/api/v1/ledger?from=2026-13-01", admin, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", res.Code)
	}
}

func TestClientSalesRoute(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, RoleCashier)

	if res := doJSON(t, api, http.MethodGet, "/api/v1/clients/cli-maria/sales", token, nil); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodGet, "/api/v1/clients/cli-ghost/sales", token, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown client, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodGet, "/api/v1/clients/cli-maria/orders", token, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", res.Code)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

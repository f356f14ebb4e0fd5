package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"residence-cloud/internal/audit"
	"residence-cloud/internal/funds/application"
	funds "residence-cloud/internal/funds/domain"
	"residence-cloud/internal/funds/infrastructure/memory"
)

func newTestMux(t *testing.T) (*http.ServeMux, *application.Service) {
	t.Helper()
	service, err := application.NewService(memory.NewLedger(), application.Options{}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := service.EnsureFunds(context.Background(), []string{"operating", "reserve"}); err != nil {
		t.Fatalf("ensure funds: %v", err)
	}
	api, err := NewAPI(service, audit.NewMemoryLogger(nil), nil)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	mux := http.NewServeMux()
	api.Register(mux)
	return mux, service
}

func post(t *testing.T, mux http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body)))
	return rec
}

func TestFundMovements(t *testing.T) {
	mux, service := newTestMux(t)

	if rec := post(t, mux, "/api/v1/funds/deposits", `{"fund":"operating","amount":"1000","reference":"opening"}`); rec.Code != http.StatusCreated {
		t.Fatalf("deposit: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := post(t, mux, "/api/v1/funds/deposits", `{"fund":"operating","amount":"1000","reference":"opening"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate deposit: expected 409, got %d", rec.Code)
	}
	if rec := post(t, mux, "/api/v1/funds/expenses", `{"fund":"operating","concept":"cleaning","amount":"120","incurred_at":"2025-03-05T10:00:00Z"}`); rec.Code != http.StatusCreated {
		t.Fatalf("expense: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := post(t, mux, "/api/v1/funds/transfers", `{"from":"operating","to":"reserve","amount":"200"}`); rec.Code != http.StatusCreated {
		t.Fatalf("transfer: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := post(t, mux, "/api/v1/funds/transfers", `{"from":"operating","to":"reserve","amount":"5000"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraft: expected 422, got %d", rec.Code)
	}

	balances, err := service.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !balances["operating"].Equal(decimal.NewFromInt(680)) || !balances["reserve"].Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected balances %v", balances)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/funds/expenses?from=2025-03-01T00:00:00Z&to=2025-04-01T00:00:00Z", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list expenses: expected 200, got %d", rec.Code)
	}
	var expenses []funds.Expense
	if err := json.Unmarshal(rec.Body.Bytes(), &expenses); err != nil || len(expenses) != 1 {
		t.Fatalf("unexpected expenses %s", rec.Body.String())
	}
}

func TestFundRequestsValidated(t *testing.T) {
	mux, _ := newTestMux(t)
	cases := []struct {
		path string
		body string
		want int
	}{
		{"/api/v1/funds/expenses", `{"fund":"operating","amount":"10"}`, http.StatusBadRequest},
		{"/api/v1/funds/expenses", `{"fund":"operating","concept":"x","amount":"0"}`, http.StatusBadRequest},
		{"/api/v1/funds/expenses", `{"fund":"operating","concept":"x","amount":"1.999"}`, http.StatusBadRequest},
		{"/api/v1/funds/transfers", `{"from":"operating","to":"operating","amount":"1"}`, http.StatusBadRequest},
		{"/api/v1/funds/deposits", `{"fund":"missing","amount":"1","reference":"r"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		if rec := post(t, mux, tc.path, tc.body); rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.path, tc.body, tc.want, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/funds/expenses?from=2025-04-01T00:00:00Z&to=2025-03-01T00:00:00Z", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted window: expected 400, got %d", rec.Code)
	}
}

package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"residence-cloud/internal/audit"
	"residence-cloud/internal/auth"
	billingfunds "residence-cloud/internal/billing/adapters/funds"
	"residence-cloud/internal/billing/application"
	"residence-cloud/internal/billing/application/events"
	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/billing/infrastructure/memory"
	"residence-cloud/internal/eventing"
	"residence-cloud/internal/eventing/eventbus"
	eventmemory "residence-cloud/internal/eventing/infrastructure/memory"
	fundsapp "residence-cloud/internal/funds/application"
	fundsmemory "residence-cloud/internal/funds/infrastructure/memory"
	unitsapp "residence-cloud/internal/units/application"
	unitsmemory "residence-cloud/internal/units/infrastructure/memory"
)

var testSecret = []byte("test-secret")

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type testServer struct {
	handler http.Handler
	funds   *fundsapp.Service
	audit   *audit.MemoryLogger
}

func newTestServer(t *testing.T, accounts ...string) *testServer {
	t.Helper()
	ctx := context.Background()

	directory, err := unitsapp.NewDirectory(unitsmemory.NewUnitRepository(), nil)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	for _, account := range accounts {
		if _, err := directory.Register(ctx, account, "owner "+account); err != nil {
			t.Fatalf("register %s: %v", account, err)
		}
	}

	fundService, err := fundsapp.NewService(fundsmemory.NewLedger(), fundsapp.Options{}, nil)
	if err != nil {
		t.Fatalf("new fund service: %v", err)
	}
	if err := fundService.EnsureFunds(ctx, []string{"operating"}); err != nil {
		t.Fatalf("ensure funds: %v", err)
	}
	ledger, err := billingfunds.NewLedgerAdapter(fundService, time.UTC)
	if err != nil {
		t.Fatalf("new ledger adapter: %v", err)
	}

	bus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(events.ChargesGenerated{}, events.ChargePaid{}, events.ChargeExpired{}, events.PeriodClosed{})
	outbox := eventmemory.NewOutboxStore()
	processed := eventmemory.NewProcessedStore()
	dispatcher := eventing.NewDispatcher(bus, outbox, registry, eventmemory.NewDLQStore(), nil)
	publisher := NewOutboxPublisher(eventing.NewPublisher(outbox, dispatcher, "system", bus, nil))

	credit, err := billingfunds.NewPaymentCredit(fundService, "operating", nil)
	if err != nil {
		t.Fatalf("new payment credit: %v", err)
	}
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.ChargePaid](), billingfunds.PaymentCreditConsumer, credit.Handle, processed)

	clock := fixedClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
	charges, err := application.NewChargeService(memory.NewChargeRepository(), publisher, clock, nil)
	if err != nil {
		t.Fatalf("new charge service: %v", err)
	}
	generator, err := application.NewGenerationScheduler(charges, directory, publisher, application.GenerationDefaults{
		Amount:   decimal.NewFromInt(550),
		Location: time.UTC,
	}, clock, nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	engine, err := application.NewClosingEngine(charges, generator, memory.NewClosingRepository(), ledger, ledger, publisher, clock, nil)
	if err != nil {
		t.Fatalf("new closing engine: %v", err)
	}

	auditLog := audit.NewMemoryLogger(nil)
	chargeAPI, err := NewChargeAPI(charges, generator, auditLog, nil)
	if err != nil {
		t.Fatalf("new charge api: %v", err)
	}
	closingAPI, err := NewClosingAPI(engine, clock, time.UTC, auditLog, nil)
	if err != nil {
		t.Fatalf("new closing api: %v", err)
	}
	mux := http.NewServeMux()
	chargeAPI.Register(mux)
	closingAPI.Register(mux)

	mw := auth.NewMiddleware(testSecret, auth.NewDefaultPolicy([]string{"/healthz"}, nil))
	return &testServer{handler: mw.Wrap(mux), funds: fundService, audit: auditLog}
}

func (s *testServer) do(t *testing.T, role, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token(t, role))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, role string) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   role + "-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerateAndPayCreditsIncomeFund(t *testing.T) {
	s := newTestServer(t, "101", "102")

	rec := s.do(t, "admin", http.MethodPost, "/api/v1/charges/generate", map[string]any{"year": 2025, "month": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	batch := decode[application.BatchResult](t, rec)
	if len(batch.Succeeded) != 2 || batch.FailedCount != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	rec = s.do(t, "viewer", http.MethodGet, "/api/v1/charges?period=2025-03", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	charges := decode[[]billing.Charge](t, rec)
	if len(charges) != 2 {
		t.Fatalf("expected 2 charges, got %d", len(charges))
	}
	id := charges[0].ID

	rec = s.do(t, "treasurer", http.MethodPost, "/api/v1/charges/"+id+"/pay", map[string]string{"proof": "receipt-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pay: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	paid := decode[billing.Charge](t, rec)
	if paid.State != billing.ChargeStatePaid || paid.PaymentProof != "receipt-1" {
		t.Fatalf("unexpected paid charge %+v", paid)
	}

	rec = s.do(t, "treasurer", http.MethodPost, "/api/v1/charges/"+id+"/pay", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second pay: expected 409, got %d", rec.Code)
	}

	balances, err := s.funds.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !balances["operating"].Equal(decimal.NewFromInt(550)) {
		t.Fatalf("expected payment credited once, got %s", balances["operating"])
	}

	entries := s.audit.Entries()
	if len(entries) != 2 || entries[1].Action != "charges.pay" || entries[1].Actor != "treasurer-user" {
		t.Fatalf("unexpected audit trail %+v", entries)
	}
}

func TestChargeEndpointsRejectBadInput(t *testing.T) {
	s := newTestServer(t, "101")

	cases := []struct {
		role   string
		method string
		path   string
		body   any
		want   int
	}{
		{"admin", http.MethodPost, "/api/v1/charges/generate", map[string]any{"year": 2025, "month": 13}, http.StatusBadRequest},
		{"admin", http.MethodPost, "/api/v1/charges/generate", map[string]any{"year": 2025, "amount": "-1"}, http.StatusBadRequest},
		{"admin", http.MethodPost, "/api/v1/charges/generate", map[string]any{"year": 2025, "amount": "10.001"}, http.StatusBadRequest},
		{"viewer", http.MethodPost, "/api/v1/charges/generate", map[string]any{"year": 2025}, http.StatusForbidden},
		{"treasurer", http.MethodPost, "/api/v1/charges/missing/pay", nil, http.StatusNotFound},
		{"viewer", http.MethodGet, "/api/v1/charges", nil, http.StatusBadRequest},
		{"viewer", http.MethodGet, "/api/v1/charges?period=2025-13", nil, http.StatusBadRequest},
		{"viewer", http.MethodGet, "/api/v1/charges/missing", nil, http.StatusNotFound},
		{"viewer", http.MethodGet, "/api/v1/accounts/101/accumulation?year=abc", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := s.do(t, tc.role, tc.method, tc.path, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d %s", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestAccumulationAndCSVExport(t *testing.T) {
	s := newTestServer(t, "101")
	if rec := s.do(t, "admin", http.MethodPost, "/api/v1/charges/generate", map[string]any{"year": 2025, "amount": "612.50"}); rec.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
	}

	rec := s.do(t, "viewer", http.MethodGet, "/api/v1/accounts/101/accumulation?year=2025", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accumulation: expected 200, got %d", rec.Code)
	}
	acc := decode[application.Accumulation](t, rec)
	if acc.Account != "101" || len(acc.Current.Months) != 12 || acc.Current.PendingCount != 12 {
		t.Fatalf("unexpected accumulation %+v", acc.Current)
	}

	rec = s.do(t, "viewer", http.MethodGet, "/api/v1/exports/charges.csv?period=2025-03", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %s", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "id,period,account") {
		t.Fatalf("unexpected csv %q", rec.Body.String())
	}
	if !strings.Contains(lines[1], ",2025-03,101,612.50,") {
		t.Fatalf("unexpected csv row %q", lines[1])
	}
}

func TestClosingEndpoints(t *testing.T) {
	s := newTestServer(t, "101", "102")
	if rec := s.do(t, "admin", http.MethodPost, "/api/v1/charges/generate", map[string]any{"year": 2025, "month": 3}); rec.Code != http.StatusOK {
		t.Fatalf("generate: %d", rec.Code)
	}

	rec := s.do(t, "treasurer", http.MethodPost, "/api/v1/closings/monthly", map[string]any{"year": 2025, "month": 3})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("treasurer close: expected 403, got %d", rec.Code)
	}

	rec = s.do(t, "admin", http.MethodPost, "/api/v1/closings/monthly", map[string]any{"year": 2025, "month": 3})
	if rec.Code != http.StatusCreated {
		t.Fatalf("close: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	record := decode[billing.ClosingRecord](t, rec)
	if record.ID != "close_2025-03" || record.PendingChargeCount != 2 {
		t.Fatalf("unexpected closing %+v", record)
	}

	rec = s.do(t, "admin", http.MethodPost, "/api/v1/closings/monthly", map[string]any{"year": 2025, "month": 3})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second close: expected 409, got %d", rec.Code)
	}
	rec = s.do(t, "admin", http.MethodPost, "/api/v1/closings/annual", map[string]any{"year": 2024})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("annual without monthly closings: expected 422, got %d", rec.Code)
	}

	rec = s.do(t, "viewer", http.MethodGet, "/api/v1/closings?year=2025", nil)
	if rec.Code != http.StatusOK || len(decode[[]billing.ClosingRecord](t, rec)) != 1 {
		t.Fatalf("list: unexpected %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, "viewer", http.MethodGet, "/api/v1/closings/close_2025-03", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	rec = s.do(t, "viewer", http.MethodGet, "/api/v1/closings/close_1999-01", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", rec.Code)
	}

	rec = s.do(t, "viewer", http.MethodGet, "/api/v1/closings/close_2025-03/export.pdf", nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf export: unexpected %d", rec.Code)
	}
	rec = s.do(t, "viewer", http.MethodGet, "/api/v1/closings/close_2025-03/export.xlsx", nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("xlsx export: unexpected %d", rec.Code)
	}
}

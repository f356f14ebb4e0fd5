package interfaces

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/funds/application"
	funds "residence-cloud/internal/funds/domain"
)

// API serves fund balances, expenses, transfers and manual deposits.
type API struct {
	service *application.Service
	audit   audit.Logger
	logger  *zap.Logger
}

// NewAPI constructs the fund API. auditLog may be nil.
func NewAPI(service *application.Service, auditLog audit.Logger, logger *zap.Logger) (*API, error) {
	if service == nil {
		return nil, errors.New("funds api: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{service: service, audit: auditLog, logger: logger}, nil
}

// Register mounts the routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/funds", a.list)
	mux.HandleFunc("GET /api/v1/funds/expenses", a.expenses)
	mux.HandleFunc("POST /api/v1/funds/expenses", a.recordExpense)
	mux.HandleFunc("POST /api/v1/funds/transfers", a.transfer)
	mux.HandleFunc("POST /api/v1/funds/deposits", a.deposit)
}

type expenseRequest struct {
	Fund       string          `json:"fund" validate:"required"`
	Concept    string          `json:"concept" validate:"required,max=200"`
	Category   string          `json:"category" validate:"max=64"`
	Amount     decimal.Decimal `json:"amount"`
	IncurredAt *time.Time      `json:"incurred_at"`
}

type transferRequest struct {
	From   string          `json:"from" validate:"required"`
	To     string          `json:"to" validate:"required,nefield=From"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=200"`
}

type depositRequest struct {
	Fund      string          `json:"fund" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"required,max=128"`
	Concept   string          `json:"concept" validate:"max=200"`
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.Funds(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (a *API) expenses(w http.ResponseWriter, r *http.Request) {
	from, err := apihttp.TimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := apihttp.TimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	list, err := a.service.ExpensesBetween(r.Context(), from, to)
	if err != nil {
		a.writeError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (a *API) recordExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	input := application.ExpenseInput{
		Fund:     strings.TrimSpace(req.Fund),
		Concept:  strings.TrimSpace(req.Concept),
		Category: strings.TrimSpace(req.Category),
		Amount:   req.Amount,
	}
	if req.IncurredAt != nil {
		input.IncurredAt = *req.IncurredAt
	}
	expense, err := a.service.RecordExpense(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.record(r, "funds.expense", "expense", expense.ID, req)
	apihttp.WriteJSON(w, http.StatusCreated, expense)
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	transfer, err := a.service.Transfer(r.Context(), strings.TrimSpace(req.From), strings.TrimSpace(req.To), req.Amount, strings.TrimSpace(req.Note))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.record(r, "funds.transfer", "transfer", transfer.ID, req)
	apihttp.WriteJSON(w, http.StatusCreated, transfer)
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	deposit, err := a.service.Deposit(r.Context(), strings.TrimSpace(req.Fund), req.Amount, strings.TrimSpace(req.Reference), strings.TrimSpace(req.Concept))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.record(r, "funds.deposit", "deposit", deposit.ID, req)
	apihttp.WriteJSON(w, http.StatusCreated, deposit)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, funds.ErrFundNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, funds.ErrDuplicateDeposit):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, funds.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, funds.ErrInvalidAmount),
		errors.Is(err, funds.ErrAmountScale),
		errors.Is(err, funds.ErrSameFund),
		errors.Is(err, funds.ErrEmptyConcept),
		errors.Is(err, funds.ErrEmptyFund):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		a.logger.Error("funds request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a *API) record(r *http.Request, action, resourceType, id string, metadata any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(r.Context(), audit.FromRequest(r, action, resourceType, id, metadata)); err != nil {
		a.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

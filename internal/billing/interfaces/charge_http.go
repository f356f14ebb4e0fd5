package interfaces

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/billing/application"
	billing "residence-cloud/internal/billing/domain"
)

// ChargeAPI serves charge generation, payment and query endpoints.
type ChargeAPI struct {
	charges   *application.ChargeService
	generator *application.GenerationScheduler
	audit     audit.Logger
	logger    *zap.Logger
}

// NewChargeAPI constructs a ChargeAPI. auditLog may be nil.
func NewChargeAPI(charges *application.ChargeService, generator *application.GenerationScheduler, auditLog audit.Logger, logger *zap.Logger) (*ChargeAPI, error) {
	if charges == nil {
		return nil, errors.New("charge api: nil charge service")
	}
	if generator == nil {
		return nil, errors.New("charge api: nil generation scheduler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChargeAPI{charges: charges, generator: generator, audit: auditLog, logger: logger}, nil
}

// Register mounts the routes on mux.
func (a *ChargeAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/charges/generate", a.generate)
	mux.HandleFunc("GET /api/v1/charges", a.list)
	mux.HandleFunc("GET /api/v1/charges/{id}", a.get)
	mux.HandleFunc("POST /api/v1/charges/{id}/pay", a.pay)
	mux.HandleFunc("GET /api/v1/accounts/{account}/accumulation", a.accumulation)
	mux.HandleFunc("GET /api/v1/exports/charges.csv", a.exportCSV)
}

type generateRequest struct {
	Year          int              `json:"year" validate:"required,min=1,max=9999"`
	Month         int              `json:"month" validate:"omitempty,min=1,max=12"`
	Amount        *decimal.Decimal `json:"amount"`
	DueDay        int              `json:"due_day" validate:"omitempty,min=1,max=31"`
	RepairPartial bool             `json:"repair_partial"`
}

func (a *ChargeAPI) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	opts := application.GenerationOptions{DueDay: req.DueDay, RepairPartial: req.RepairPartial}
	if req.Amount != nil {
		if err := billing.ValidateAmount(*req.Amount); err != nil {
			writeError(w, a.logger, err)
			return
		}
		opts.Amount = req.Amount
	}

	var (
		batch *application.BatchResult
		err   error
	)
	if req.Month == 0 {
		batch, err = a.generator.GenerateForYear(r.Context(), req.Year, opts)
	} else {
		batch, err = a.generator.GenerateForPeriod(r.Context(), billing.Period{Year: req.Year, Month: time.Month(req.Month)}, opts)
	}
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	a.record(r, "charges.generate", "period", generationTarget(req), req)

	status := http.StatusOK
	if batch.FailedCount > 0 {
		status = http.StatusMultiStatus
	}
	apihttp.WriteJSON(w, status, batch)
}

func (a *ChargeAPI) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	periodKey := strings.TrimSpace(query.Get("period"))
	account := strings.TrimSpace(query.Get("account"))

	var (
		charges []billing.Charge
		err     error
	)
	switch {
	case periodKey != "":
		period, perr := billing.ParsePeriod(periodKey)
		if perr != nil {
			writeError(w, a.logger, perr)
			return
		}
		charges, err = a.charges.ListByPeriod(r.Context(), period)
		if err == nil && account != "" {
			charges = filterAccount(charges, account)
		}
	case account != "":
		charges, err = a.charges.ListByAccount(r.Context(), account)
	default:
		http.Error(w, "period or account is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, charges)
}

func (a *ChargeAPI) get(w http.ResponseWriter, r *http.Request) {
	charge, err := a.charges.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, charge)
}

type payRequest struct {
	Proof string `json:"proof" validate:"max=512"`
}

func (a *ChargeAPI) pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil && !errors.Is(err, apihttp.ErrEmptyBody) {
		apihttp.WriteBadRequest(w, err)
		return
	}
	id := r.PathValue("id")
	charge, err := a.charges.MarkPaid(r.Context(), id, strings.TrimSpace(req.Proof))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	a.record(r, "charges.pay", "charge", id, req)
	apihttp.WriteJSON(w, http.StatusOK, charge)
}

func (a *ChargeAPI) accumulation(w http.ResponseWriter, r *http.Request) {
	year, ok, err := apihttp.IntQuery(r, "year")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		year = a.generator.CurrentPeriod().Year
	}
	result, err := a.charges.AnnualAccumulation(r.Context(), r.PathValue("account"), year)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

func (a *ChargeAPI) exportCSV(w http.ResponseWriter, r *http.Request) {
	period, err := billing.ParsePeriod(strings.TrimSpace(r.URL.Query().Get("period")))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	charges, err := a.charges.ListByPeriod(r.Context(), period)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="charges-`+period.Key()+`.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"id", "period", "account", "amount", "due_date", "state", "paid_at", "payment_proof"})
	for _, charge := range charges {
		paidAt := ""
		if charge.PaidAt != nil {
			paidAt = charge.PaidAt.UTC().Format(time.RFC3339)
		}
		_ = writer.Write([]string{
			charge.ID,
			charge.Period.Key(),
			charge.Account,
			charge.Amount.StringFixed(2),
			charge.DueDate.UTC().Format(time.RFC3339),
			string(charge.State),
			paidAt,
			charge.PaymentProof,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		a.logger.Warn("charges csv write failed", zap.Error(err))
	}
}

func (a *ChargeAPI) record(r *http.Request, action, resourceType, resourceID string, metadata any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(r.Context(), audit.FromRequest(r, action, resourceType, resourceID, metadata)); err != nil {
		a.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func generationTarget(req generateRequest) string {
	if req.Month == 0 {
		return strconv.Itoa(req.Year)
	}
	return billing.Period{Year: req.Year, Month: time.Month(req.Month)}.Key()
}

func filterAccount(charges []billing.Charge, account string) []billing.Charge {
	out := charges[:0]
	for _, charge := range charges {
		if charge.Account == account {
			out = append(out, charge)
		}
	}
	return out
}

package interfaces

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/billing/application"
	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/observability/metrics"
)

// ClosingAPI serves monthly and annual closing endpoints.
type ClosingAPI struct {
	engine *application.ClosingEngine
	clock  application.Clock
	loc    *time.Location
	audit  audit.Logger
	logger *zap.Logger
}

// NewClosingAPI constructs a ClosingAPI. auditLog may be nil.
func NewClosingAPI(engine *application.ClosingEngine, clock application.Clock, loc *time.Location, auditLog audit.Logger, logger *zap.Logger) (*ClosingAPI, error) {
	if engine == nil {
		return nil, errors.New("closing api: nil closing engine")
	}
	if clock == nil {
		clock = application.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClosingAPI{engine: engine, clock: clock, loc: loc, audit: auditLog, logger: logger}, nil
}

// Register mounts the routes on mux.
func (a *ClosingAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/closings/monthly", a.closeMonth)
	mux.HandleFunc("POST /api/v1/closings/annual", a.closeYear)
	mux.HandleFunc("GET /api/v1/closings", a.list)
	mux.HandleFunc("GET /api/v1/closings/{id}", a.get)
	mux.HandleFunc("GET /api/v1/closings/{id}/export.pdf", a.exportPDF)
	mux.HandleFunc("GET /api/v1/closings/{id}/export.xlsx", a.exportXLSX)
}

type closeMonthRequest struct {
	Year  int `json:"year" validate:"required,min=1,max=9999"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

type closeYearRequest struct {
	Year int `json:"year" validate:"required,min=1,max=9999"`
}

func (a *ClosingAPI) closeMonth(w http.ResponseWriter, r *http.Request) {
	var req closeMonthRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	period := billing.Period{Year: req.Year, Month: time.Month(req.Month)}
	record, err := a.engine.CloseMonth(r.Context(), period)
	if err != nil {
		a.closeFailed(w, err)
		return
	}
	a.record(r, "closings.monthly", record.ID, req)
	apihttp.WriteJSON(w, http.StatusCreated, record)
}

func (a *ClosingAPI) closeYear(w http.ResponseWriter, r *http.Request) {
	var req closeYearRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	record, err := a.engine.CloseYear(r.Context(), req.Year)
	if err != nil {
		a.closeFailed(w, err)
		return
	}
	a.record(r, "closings.annual", record.ID, req)
	apihttp.WriteJSON(w, http.StatusCreated, record)
}

// closeFailed reports an aborted sweep as retryable; nothing was persisted.
func (a *ClosingAPI) closeFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, billing.ErrPartialFailure) {
		a.logger.Warn("closing aborted", zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeError(w, a.logger, err)
}

func (a *ClosingAPI) list(w http.ResponseWriter, r *http.Request) {
	year, ok, err := apihttp.IntQuery(r, "year")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		year = a.clock.Now().In(a.loc).Year()
	}
	records, err := a.engine.ListByYear(r.Context(), year)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, records)
}

func (a *ClosingAPI) get(w http.ResponseWriter, r *http.Request) {
	record, err := a.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, record)
}

func (a *ClosingAPI) exportPDF(w http.ResponseWriter, r *http.Request) {
	a.export(w, r, "pdf", "application/pdf", BuildClosingPDF)
}

func (a *ClosingAPI) exportXLSX(w http.ResponseWriter, r *http.Request) {
	a.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", BuildClosingXLSX)
}

func (a *ClosingAPI) export(w http.ResponseWriter, r *http.Request, format, contentType string, build func(*billing.ClosingRecord) ([]byte, error)) {
	start := time.Now()
	record, err := a.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		metrics.ObserveClosingExport(format, metrics.ResultError, time.Since(start))
		writeError(w, a.logger, err)
		return
	}
	data, err := build(record)
	if err != nil {
		metrics.ObserveClosingExport(format, metrics.ResultError, time.Since(start))
		writeError(w, a.logger, err)
		return
	}
	metrics.ObserveClosingExport(format, metrics.ResultSuccess, time.Since(start))
	filename := strings.ReplaceAll(record.ID, "/", "_") + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *ClosingAPI) record(r *http.Request, action, id string, metadata any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(r.Context(), audit.FromRequest(r, action, "closing", id, metadata)); err != nil {
		a.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

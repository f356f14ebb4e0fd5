package interfaces

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/units/application"
	units "residence-cloud/internal/units/domain"
)

// API serves the unit directory that defines the billed account population.
type API struct {
	directory *application.Directory
	audit     audit.Logger
	logger    *zap.Logger
}

// NewAPI constructs the unit API. auditLog may be nil.
func NewAPI(directory *application.Directory, auditLog audit.Logger, logger *zap.Logger) (*API, error) {
	if directory == nil {
		return nil, errors.New("units api: nil directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{directory: directory, audit: auditLog, logger: logger}, nil
}

// Register mounts the routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/units", a.list)
	mux.HandleFunc("POST /api/v1/units", a.register)
	mux.HandleFunc("POST /api/v1/units/{id}/activation", a.setActive)
}

type registerRequest struct {
	Number string `json:"number" validate:"required,max=32"`
	Owner  string `json:"owner" validate:"max=128"`
}

type activationRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := a.directory.List(r.Context(), activeOnly)
	if err != nil {
		a.writeError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	unit, err := a.directory.Register(r.Context(), req.Number, req.Owner)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.record(r, "units.register", unit.ID, req)
	apihttp.WriteJSON(w, http.StatusCreated, unit)
}

func (a *API) setActive(w http.ResponseWriter, r *http.Request) {
	var req activationRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteBadRequest(w, err)
		return
	}
	id := r.PathValue("id")
	unit, err := a.directory.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.record(r, "units.activation", id, req)
	apihttp.WriteJSON(w, http.StatusOK, unit)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, units.ErrUnitNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, units.ErrDuplicateNumber):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		a.logger.Error("units request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a *API) record(r *http.Request, action, id string, metadata any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(r.Context(), audit.FromRequest(r, action, "unit", id, metadata)); err != nil {
		a.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

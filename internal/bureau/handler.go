package bureau

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

// Handler exposes the bureau operations over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// QueryByPersonID answers GET /consulta-por-cedula/{cedula}.
func (h *Handler) QueryByPersonID(w http.ResponseWriter, r *http.Request) {
	cedula := r.PathValue("cedula")
	h.logger.Debugw("bureau query requested", "person_id", cedula)
	a, err := h.svc.Query(r.Context(), cedula)
	if err != nil {
		h.writeError(w, "query", cedula, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// SyncResponse is returned by the bulk synchronization endpoint.
type SyncResponse struct {
	Message string `json:"message"`
	SyncReport
}

// SyncFromCore answers POST /sincronizar-core.
func (h *Handler) SyncFromCore(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.BulkSync(r.Context())
	if err != nil {
		h.writeError(w, "bulk_sync", "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, SyncResponse{
		Message:    fmt.Sprintf("Se guardaron %d clientes del buró interno", report.Created),
		SyncReport: report,
	})
}

// CountCorePersons answers GET /count-core-personas with a bare integer.
func (h *Handler) CountCorePersons(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CountUpstream(r.Context())
	if err != nil {
		h.writeError(w, "count", "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

// Reconcile answers POST /reconciliar.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if err != nil {
		h.writeError(w, "reconcile", "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// GenerateMock answers POST /generar-mock/{cedula}.
func (h *Handler) GenerateMock(w http.ResponseWriter, r *http.Request) {
	cedula := r.PathValue("cedula")
	a, err := h.svc.GenerateMock(r.Context(), cedula)
	if err != nil {
		h.writeError(w, "generate_mock", cedula, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// ReplaceIncome answers PUT /ingresos/{id}. The body is the full record
// including the version it was read at.
func (h *Handler) ReplaceIncome(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in entity.Income
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.Debugw("invalid income payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	in.ID = id
	out, err := h.svc.ReplaceIncome(r.Context(), in)
	if err != nil {
		h.writeError(w, "replace_income", in.PersonID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ReplaceExpense answers PUT /egresos/{id}.
func (h *Handler) ReplaceExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var ex entity.Expense
	if err := json.NewDecoder(r.Body).Decode(&ex); err != nil {
		h.logger.Debugw("invalid expense payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	ex.ID = id
	out, err := h.svc.ReplaceExpense(r.Context(), ex)
	if err != nil {
		h.writeError(w, "replace_expense", ex.PersonID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps service errors to status codes and puts the error text
// in the body.
func (h *Handler) writeError(w http.ResponseWriter, op, personID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrPersonNotFound), errors.Is(err, ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, entity.ErrInvalidRecord):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Errorw("request failed", "op", op, "person_id", personID, "err", err)
	} else {
		h.logger.Warnw("request rejected", "op", op, "person_id", personID, "status", status, "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

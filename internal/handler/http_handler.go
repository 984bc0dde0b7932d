package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/auth"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
	"github.com/pesio-ai/be-expense-approvals/pkg/middleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	policies  *service.PolicyService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals *service.ApprovalService, policies *service.PolicyService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		policies:  policies,
		log:       log,
	}
}

// Routes mounts the API under r. Every route requires the caller header.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware, requireUser)

		r.Post("/expenses", h.SubmitExpense)
		r.Get("/expenses", h.ListMyExpenses)
		r.Get("/expenses/{id}", h.GetExpense)
		r.Get("/expenses/{id}/history", h.GetApprovalHistory)
		r.Post("/expenses/{id}/decision", h.Decide)

		r.Get("/approvals/pending", h.ListPendingApprovals)

		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.UpdatePolicy)
	})
}

// SubmitExpense handles POST /api/v1/expenses
func (h *HTTPHandler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = callerID(r)

	expense, err := h.approvals.SubmitExpense(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

// GetExpense handles GET /api/v1/expenses/{id}
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := h.approvals.GetExpense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

// ListMyExpenses handles GET /api/v1/expenses
func (h *HTTPHandler) ListMyExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.approvals.ListMyExpenses(r.Context(), callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(expenses))
}

// GetApprovalHistory handles GET /api/v1/expenses/{id}/history
func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.approvals.GetApprovalHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": entries,
		"total": len(entries),
	})
}

type decisionBody struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// Decide handles POST /api/v1/expenses/{id}/decision
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !h.decode(w, r, &body) {
		return
	}

	expense, err := h.approvals.Decide(r.Context(), service.DecideRequest{
		ExpenseID:  chi.URLParam(r, "id"),
		ApproverID: callerID(r),
		Action:     body.Action,
		Comment:    body.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

// ListPendingApprovals handles GET /api/v1/approvals/pending
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.approvals.ListPendingApprovals(r.Context(), callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(expenses))
}

// GetPolicy handles GET /api/v1/policy
func (h *HTTPHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.GetPolicy(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// UpdatePolicy handles PUT /api/v1/policy
func (h *HTTPHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy workflow.Policy
	if !h.decode(w, r, &policy) {
		return
	}

	updated, err := h.policies.UpdatePolicy(r.Context(), &policy, callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ── Health ────────────────────────────────────────────────────────────────────

// Health handles GET /health. It only reports that the process is serving.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready returns a GET /ready handler that runs check against the request context.
func Ready(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.GetUserContext(r.Context()); err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
				Code:    errors.ErrCodeUnauthorized,
				Message: "missing " + auth.UserIDHeader + " header",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerID(r *http.Request) string {
	uc, _ := auth.GetUserContext(r.Context())
	return uc.UserID
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

// writeError maps coded errors to statuses. Internal errors are logged and
// their details withheld from the client.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	code := errors.CodeOf(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		message = "internal server error"
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func listResponse(expenses []*workflow.Expense) map[string]interface{} {
	return map[string]interface{}{
		"items": expenses,
		"total": len(expenses),
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

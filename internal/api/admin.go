package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kycchain/internal/middleware"
	"kycchain/internal/models"
	"kycchain/internal/util"
)

func (h *Handlers) ListApplications(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	apps, err := h.svc.ListApplications(r.Context(), actor, models.ApplicationQuery{
		Status: strings.ToUpper(r.URL.Query().Get("status")),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, apps)
}

func (h *Handlers) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	apps, err := h.svc.ReviewQueue(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, apps)
}

func (h *Handlers) GetApplication(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	detail, err := h.svc.GetApplication(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, detail)
}

func (h *Handlers) RiskExplanation(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	contribs, err := h.svc.RiskExplanation(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, contribs)
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Approve)
}

func (h *Handlers) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Reject)
}

func (h *Handlers) RequestInfo(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.RequestInfo)
}

func (h *Handlers) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor models.User, appID, comment string) (models.Application, error)) {
	actor, _ := middleware.User(r.Context())
	var req decisionRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	a, err := fn(r.Context(), actor, chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, a)
}

func (h *Handlers) RiskMetrics(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	m, err := h.svc.Metrics(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, m)
}

func (h *Handlers) AuditLog(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	records, err := h.svc.Audit(r.Context(), actor, models.AuditQuery{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, records)
}

func (h *Handlers) DedupeQueue(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	apps, err := h.svc.DedupeQueue(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, apps)
}

func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	if err := h.svc.DeleteUser(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (h *Handlers) LedgerRecordByUKN(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	block, err := h.svc.LedgerRecordByUKN(r.Context(), actor, chi.URLParam(r, "ukn"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, block)
}

func (h *Handlers) LedgerRecords(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	apps, err := h.svc.LedgerRecords(r.Context(), actor, queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, apps)
}

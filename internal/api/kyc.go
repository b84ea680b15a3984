package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kycchain/internal/middleware"
	"kycchain/internal/util"
)

func (h *Handlers) StartApplication(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	a, err := h.svc.StartApplication(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, a)
}

func (h *Handlers) SubmitDetails(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var details map[string]any
	if err := util.DecodeJSON(r, &details); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	a, err := h.svc.SubmitDetails(r.Context(), actor, chi.URLParam(r, "id"), details)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, a)
}

// UploadDocument accepts one multipart file plus a doc_type form field.
func (h *Handlers) UploadDocument(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	reqID := middleware.RequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize+4096)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadSize); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid multipart body", reqID)
		return
	}
	docType := strings.ToUpper(strings.TrimSpace(r.FormValue("doc_type")))
	file, header, err := r.FormFile("file")
	if err != nil {
		util.WriteError(w, 400, "bad_request", "file field is required", reqID)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadSize+1))
	if err != nil {
		util.WriteError(w, 400, "bad_request", "could not read upload", reqID)
		return
	}

	doc, err := h.svc.UploadDocument(r.Context(), actor, chi.URLParam(r, "id"), docType, header.Filename, content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, doc)
}

func (h *Handlers) ProcessApplication(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	a, err := h.svc.Process(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, a)
}

func (h *Handlers) MyApplication(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	detail, err := h.svc.MyApplication(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, detail)
}

func (h *Handlers) MyConsents(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	consents, err := h.svc.MyConsents(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, consents)
}

type consentRequest struct {
	Given bool `json:"given"`
}

func (h *Handlers) SetConsent(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req consentRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	c, err := h.svc.SetConsent(r.Context(), actor, chi.URLParam(r, "id"), req.Given)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, c)
}

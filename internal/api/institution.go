package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycchain/internal/middleware"
	"kycchain/internal/util"
)

func (h *Handlers) ResolveKYC(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	summary, err := h.svc.Resolve(r.Context(), actor, chi.URLParam(r, "ukn"), r.URL.Query().Get("purpose"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, summary)
}

func (h *Handlers) ValidateConsent(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	status, err := h.svc.ValidateConsent(r.Context(), actor, chi.URLParam(r, "ukn"), r.URL.Query().Get("purpose"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, status)
}

func (h *Handlers) RequestConsent(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	c, err := h.svc.RequestConsent(r.Context(), actor, chi.URLParam(r, "ukn"), r.URL.Query().Get("purpose"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, c)
}

// VerifyLedger is public: anybody holding a transaction hash can check
// that a block with that hash exists without learning identity data.
func (h *Handlers) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "txHash")
	block, ok := h.svc.VerifyLedgerRecord(txHash)
	if !ok {
		util.WriteError(w, 404, "not_found", "no ledger record for that hash", middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, map[string]any{
		"verified":  true,
		"tx_hash":   block.TxHash,
		"ukn":       block.Data.UKN,
		"issuer":    block.Data.Issuer,
		"timestamp": block.Timestamp,
	})
}

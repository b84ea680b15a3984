package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kycchain/internal/config"
	"kycchain/internal/middleware"
	"kycchain/internal/models"
	"kycchain/internal/rate"
	"kycchain/internal/service"
	"kycchain/internal/store"
	"kycchain/internal/util"
)

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewRouter(cfg config.Config, svc *service.Service, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		cfg:     cfg,
		svc:     svc,
		limiter: rate.NewLimiter(),
		log:     log,
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ready := map[string]any{
			"checked_at": time.Now().UTC().Format(time.RFC3339),
			"components": map[string]any{},
		}
		comps := ready["components"].(map[string]any)
		if err := h.svc.Ready(r.Context()); err != nil {
			comps["database"] = map[string]any{"ok": false, "error": err.Error()}
			ready["status"] = "degraded"
			util.WriteJSON(w, 503, ready)
			return
		}
		comps["database"] = map[string]any{"ok": true}
		ready["status"] = "ready"
		util.WriteJSON(w, 200, ready)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, "register", 10, time.Minute, h.cfg.TrustProxy)).Post("/auth/register", h.Register)
		r.With(middleware.RateLimit(h.limiter, "login", 20, time.Minute, h.cfg.TrustProxy)).Post("/auth/login", h.Login)

		r.Get("/ledger/verify/{txHash}", h.VerifyLedger)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authn(h.svc))
			r.Get("/auth/me", h.Me)

			r.Route("/kyc", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleUser))
				r.Post("/applications", h.StartApplication)
				r.Put("/applications/{id}/details", h.SubmitDetails)
				r.With(middleware.RateLimit(h.limiter, "upload", 30, time.Minute, h.cfg.TrustProxy)).Post("/applications/{id}/documents", h.UploadDocument)
				r.Post("/applications/{id}/process", h.ProcessApplication)
				r.Get("/me", h.MyApplication)
			})

			r.Get("/consents", h.MyConsents)
			r.Post("/consents/{id}", h.SetConsent)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin, models.RoleReviewer))
				r.Get("/applications", h.ListApplications)
				r.Get("/applications/review-queue", h.ReviewQueue)
				r.Get("/applications/{id}", h.GetApplication)
				r.Get("/applications/{id}/risk-explanation", h.RiskExplanation)
				r.Post("/applications/{id}/approve", h.Approve)
				r.Post("/applications/{id}/reject", h.Reject)
				r.Post("/applications/{id}/request-info", h.RequestInfo)
				r.Get("/dedupe-queue", h.DedupeQueue)
				r.Get("/metrics", h.RiskMetrics)
				r.Get("/audit-log", h.AuditLog)
				r.Get("/ledger/records", h.LedgerRecords)
				r.Get("/ledger/records/{ukn}", h.LedgerRecordByUKN)
				r.Get("/users", h.ListUsers)
				r.Post("/users", h.CreateStaffUser)
				r.Delete("/users/{id}", h.DeleteUser)
			})

			r.Route("/institution", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleInstitution, models.RoleAdmin))
				r.With(middleware.RateLimit(h.limiter, "resolve", 60, time.Minute, h.cfg.TrustProxy)).Get("/resolve-kyc/{ukn}", h.ResolveKYC)
				r.Get("/validate-consent/{ukn}", h.ValidateConsent)
				r.Post("/request-consent/{ukn}", h.RequestConsent)
			})
		})
	})

	return r
}

// writeServiceError maps service layer failures onto the API error
// contract.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.RequestID(r.Context())
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		util.WriteError(w, http.StatusBadRequest, "validation_failed", ve.Msg, reqID)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", reqID)
	case errors.Is(err, service.ErrConsentRequired):
		util.WriteError(w, http.StatusForbidden, "consent_required", "identity holder consent is required", reqID)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, http.StatusForbidden, "forbidden", "insufficient permissions", reqID)
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "resource not found", reqID)
	case errors.Is(err, service.ErrInvalidState):
		util.WriteError(w, http.StatusConflict, "invalid_state", "operation not allowed in the current state", reqID)
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", "resource already exists", reqID)
	case errors.Is(err, service.ErrExpired):
		util.WriteError(w, http.StatusGone, "expired", "verification has expired", reqID)
	default:
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", reqID)
	}
}

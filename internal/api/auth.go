package api

import (
	"net/http"
	"strconv"

	"kycchain/internal/middleware"
	"kycchain/internal/models"
	"kycchain/internal/util"
)

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Role     string  `json:"role"`
	Phone    *string `json:"phone"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	u, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Role, req.Phone)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        models.User `json:"user"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	token, user, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.cfg.AccessTokenTTL.Seconds()),
		User:        user,
	})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.User(r.Context())
	if !ok {
		util.WriteError(w, 401, "unauthorized", "authentication required", middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, u)
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	users, err := h.svc.ListUsers(r.Context(), actor, models.UserQuery{
		Role:   r.URL.Query().Get("role"),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, users)
}

type staffUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handlers) CreateStaffUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req staffUserRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	u, err := h.svc.CreateStaffUser(r.Context(), actor, req.Email, req.Password, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, u)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

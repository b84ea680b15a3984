// Package kycclient is the backend-facing core of the admin and
// reviewer dashboards. It owns session state, the application list,
// and the two review actions; all display state derives from the
// normalized records it exposes.
package kycclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"kycchain/internal/normalize"
)

var (
	// ErrUnreachable wraps transport failures. Session state is kept
	// so the user can retry once the backend returns.
	ErrUnreachable = errors.New("cannot connect to backend")

	// ErrMalformedPayload marks responses that failed schema
	// validation at the decode boundary.
	ErrMalformedPayload = errors.New("malformed backend payload")
)

// APIError is a non-2xx response in the backend's error shape.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error %d", e.Status)
}

// User is the session owner as reported by the backend.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// MetricsSummary backs the dashboard tiles.
type MetricsSummary struct {
	TotalApplications int     `json:"total_applications"`
	AutoApproved      int     `json:"auto_approved"`
	ManualReviews     int     `json:"manual_reviews"`
	Rejected          int     `json:"rejected"`
	AvgRiskScore      float64 `json:"avg_risk_score"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

// Client talks to the verification backend. The bearer token is held
// in memory and attached to every authenticated request; a 401 or 403
// clears it, forcing a fresh login.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu    sync.RWMutex
	token string
	user  *User
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns the current session token, empty when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CurrentUser returns the cached session owner, nil when signed out.
func (c *Client) CurrentUser() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Logout clears the session.
func (c *Client) Logout() {
	c.mu.Lock()
	c.token = ""
	c.user = nil
	c.mu.Unlock()
}

// Login authenticates and stores the session for later requests.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": email, "password": password,
	})
	if err != nil {
		return User{}, err
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		User        User   `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
		return User{}, ErrMalformedPayload
	}
	c.mu.Lock()
	c.token = resp.AccessToken
	c.user = &resp.User
	c.mu.Unlock()
	return resp.User, nil
}

// Me refreshes the cached session owner from the backend.
func (c *Client) Me(ctx context.Context) (User, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return User{}, ErrMalformedPayload
	}
	c.mu.Lock()
	c.user = &u
	c.mu.Unlock()
	return u, nil
}

// ListApplications fetches the admin list and normalizes every record
// through the schema-validated decode boundary.
func (c *Client) ListApplications(ctx context.Context) ([]normalize.Application, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/admin/applications", nil)
	if err != nil {
		return nil, err
	}
	apps, err := normalize.DecodeApplications(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return apps, nil
}

// Approve posts a review approval with the given comment.
func (c *Client) Approve(ctx context.Context, id, comment string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/admin/applications/"+url.PathEscape(id)+"/approve", map[string]string{"comment": comment})
	return err
}

// Reject posts a review rejection with the given comment.
func (c *Client) Reject(ctx context.Context, id, comment string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/admin/applications/"+url.PathEscape(id)+"/reject", map[string]string{"comment": comment})
	return err
}

// Metrics fetches the aggregate dashboard counts.
func (c *Client) Metrics(ctx context.Context) (MetricsSummary, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/admin/metrics", nil)
	if err != nil {
		return MetricsSummary{}, err
	}
	var m MetricsSummary
	if err := json.Unmarshal(body, &m); err != nil {
		return MetricsSummary{}, ErrMalformedPayload
	}
	return m, nil
}

// ResolveKYC looks an identity up by UKN on behalf of an institution.
func (c *Client) ResolveKYC(ctx context.Context, ukn, purpose string) (map[string]any, error) {
	path := "/api/v1/institution/resolve-kyc/" + url.PathEscape(ukn) + "?purpose=" + url.QueryEscape(purpose)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var summary map[string]any
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, ErrMalformedPayload
	}
	return summary, nil
}

// do issues one request and classifies the outcome: transport failure,
// backend error status, or a readable body.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.Unmarshal(raw, apiErr)
	// An auth failure on a stored token means the session is dead.
	if token := c.Token(); token != "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		if apiErr.Code != "consent_required" {
			c.Logout()
		}
	}
	return nil, apiErr
}

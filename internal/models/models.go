package models

import "time"

// Roles known to the service. Admin and reviewer accounts are created by an
// admin; user and institution accounts self-register.
const (
	RoleUser        = "user"
	RoleReviewer    = "reviewer"
	RoleAdmin       = "admin"
	RoleInstitution = "institution"
)

// Application lifecycle statuses as stored. The wire representation is the
// same uppercase string; clients derive display buckets from it.
const (
	StatusDraft       = "DRAFT"
	StatusRegistered  = "REGISTERED"
	StatusUploaded    = "UPLOADED"
	StatusProcessing  = "PROCESSING"
	StatusInReview    = "IN_REVIEW"
	StatusVerified    = "VERIFIED"
	StatusRejected    = "REJECTED"
	StatusSuspended   = "SUSPENDED"
	StatusExpired     = "EXPIRED"
	StatusRequestInfo = "REQUEST_INFO"
	StatusFlagged     = "FLAGGED"
)

// ActiveStatuses are the states in which a user may not open another
// application.
var ActiveStatuses = []string{StatusDraft, StatusRegistered, StatusUploaded, StatusProcessing, StatusInReview, StatusRequestInfo, StatusFlagged}

// ReviewQueueStatuses are the states eligible for the manual review queue.
var ReviewQueueStatuses = []string{StatusInReview, StatusProcessing, StatusRequestInfo, StatusFlagged, StatusUploaded, StatusRegistered, StatusDraft}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Phone        *string   `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Application struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	UserEmail         string         `json:"user_email,omitempty"`
	UKN               *string        `json:"ukn,omitempty"`
	Status            string         `json:"status"`
	RiskScore         *float64       `json:"risk_score,omitempty"`
	FaceMatchScore    *float64       `json:"face_match_score,omitempty"`
	FaceEmbeddingHash *string        `json:"face_embedding_hash,omitempty"`
	ReviewerComment   *string        `json:"reviewer_comment,omitempty"`
	UserDetails       map[string]any `json:"user_details,omitempty"`
	LedgerTxHash      *string        `json:"ledger_tx_hash,omitempty"`
	VerifiedAt        *time.Time     `json:"verified_at,omitempty"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type Document struct {
	ID            string         `json:"id"`
	KYCID         string         `json:"kyc_id"`
	DocType       string         `json:"doc_type"`
	FilePath      string         `json:"file_path"`
	FileHash      string         `json:"file_hash"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
	Verified      bool           `json:"verified"`
	UploadedAt    time.Time      `json:"uploaded_at"`
}

// VerificationEvent is an entry in an application's processing history.
type VerificationEvent struct {
	ID          string         `json:"id"`
	KYCID       string         `json:"kyc_id"`
	EventType   string         `json:"event_type"`
	Details     map[string]any `json:"details,omitempty"`
	PerformedBy string         `json:"performed_by"`
	TxHash      *string        `json:"tx_hash,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type ConsentRecord struct {
	ID            string     `json:"id"`
	KYCID         string     `json:"kyc_id"`
	InstitutionID string     `json:"institution_id"`
	Purpose       string     `json:"purpose"`
	ConsentGiven  bool       `json:"consent_given"`
	AccessedAt    *time.Time `json:"accessed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type AuditRecord struct {
	ID          string         `json:"id"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	EventType   string         `json:"event_type"`
	EventHash   string         `json:"event_hash"`
	TxHash      string         `json:"tx_hash"`
	Details     map[string]any `json:"details,omitempty"`
	PerformedBy string         `json:"performed_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

type ApplicationQuery struct {
	Status string
	Offset int
	Limit  int
}

type UserQuery struct {
	Role   string
	Offset int
	Limit  int
}

type AuditQuery struct {
	EntityType string
	EntityID   string
	Offset     int
	Limit      int
}

// RiskMetrics are the aggregate counts behind the admin dashboard tiles.
type RiskMetrics struct {
	TotalApplications int     `json:"total_applications"`
	AutoApproved      int     `json:"auto_approved"`
	ManualReviews     int     `json:"manual_reviews"`
	Rejected          int     `json:"rejected"`
	AvgRiskScore      float64 `json:"avg_risk_score"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

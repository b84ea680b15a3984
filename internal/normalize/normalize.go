// Package normalize maps raw application records from the verification API
// into the canonical display shape. The API is known to emit risk scores
// both as fractions in [0,1] and as percentages in [0,100], and status
// strings in varied casings; everything funnels through this package so
// the rest of the client never sees a raw record.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Display statuses. Whatever the server calls an application, the client
// shows one of these four.
const (
	StatusPending  = "pending"
	StatusInReview = "in_review"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Risk buckets, split at 30 and 70.
const (
	BucketLow    = "low"
	BucketMedium = "medium"
	BucketHigh   = "high"
)

// Application is a normalized record as held in client state.
type Application struct {
	ID            string   `json:"id"`
	DisplayStatus string   `json:"display_status"`
	RiskScore     int      `json:"risk_score"`
	RiskBucket    string   `json:"risk_bucket"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Documents     []string `json:"documents"`
	SubmittedAt   string   `json:"submitted_at"`
}

// InReviewQueue reports whether the record belongs in the review queue
// view: anything still awaiting a decision.
func (a Application) InReviewQueue() bool {
	return a.DisplayStatus == StatusPending || a.DisplayStatus == StatusInReview
}

// Status maps a server status string to its display status. Matching is
// case-insensitive and unknown values fall back to pending.
func Status(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "VERIFIED", "APPROVED":
		return StatusApproved
	case "IN_REVIEW", "PROCESSING", "UPLOADED":
		return StatusInReview
	case "REJECTED":
		return StatusRejected
	default:
		return StatusPending
	}
}

// Risk converts a server risk value to an integer percentage. Values at
// or below 1 are read as fractions and scaled; larger values are taken
// as percentages. A nil value means the score is not yet computed.
func Risk(raw *float64) int {
	if raw == nil {
		return 0
	}
	v := *raw
	if v <= 1 {
		v *= 100
	}
	score := int(math.Round(v))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Bucket assigns a risk bucket for a normalized score.
func Bucket(score int) string {
	switch {
	case score < 30:
		return BucketLow
	case score < 70:
		return BucketMedium
	default:
		return BucketHigh
	}
}

// recordSchema is the lenient shape contract for a single application
// record. Only id and status are required. risk_score is deliberately
// unconstrained: a non-numeric value there must degrade to "no score",
// not reject the record.
const recordSchema = `{
	"type": "object",
	"required": ["id", "status"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"status": {"type": "string"},
		"name": {"type": "string"},
		"email": {"type": "string"},
		"documents": {"type": "array", "items": {"type": "string"}},
		"submitted_at": {"type": "string"}
	}
}`

var compiledSchema = gojsonschema.NewStringLoader(recordSchema)

type rawRecord struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	RiskScore   json.RawMessage `json:"risk_score"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Documents   []string        `json:"documents"`
	SubmittedAt string          `json:"submitted_at"`
}

// DecodeApplication validates and normalizes one raw JSON record. A
// missing id or status fails the decode; a malformed risk_score does
// not, it is treated as absent per the display contract.
func DecodeApplication(data []byte) (Application, error) {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Application{}, fmt.Errorf("validate record: %w", err)
	}
	if !result.Valid() {
		return Application{}, fmt.Errorf("invalid record: %s", firstSchemaError(result))
	}
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return Application{}, fmt.Errorf("decode record: %w", err)
	}
	return fromRaw(raw), nil
}

// DecodeApplications decodes a JSON array of records. Records that fail
// validation are dropped rather than failing the whole list; a payload
// that is not an array at all is an error.
func DecodeApplications(data []byte) ([]Application, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode record list: %w", err)
	}
	out := make([]Application, 0, len(items))
	for _, item := range items {
		a, err := DecodeApplication(item)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func fromRaw(raw rawRecord) Application {
	score := Risk(riskPointer(raw.RiskScore))
	return Application{
		ID:            raw.ID,
		DisplayStatus: Status(raw.Status),
		RiskScore:     score,
		RiskBucket:    Bucket(score),
		Name:          raw.Name,
		Email:         raw.Email,
		Documents:     raw.Documents,
		SubmittedAt:   raw.SubmittedAt,
	}
}

// riskPointer coerces the raw risk_score field to a float pointer.
// null, absence, and non-numeric junk all come back nil.
func riskPointer(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func firstSchemaError(result *gojsonschema.Result) string {
	for _, e := range result.Errors() {
		return e.String()
	}
	return "schema violation"
}

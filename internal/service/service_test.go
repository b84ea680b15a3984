package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"kycchain/internal/config"
	"kycchain/internal/db"
	"kycchain/internal/faces"
	"kycchain/internal/ledger"
	"kycchain/internal/models"
	"kycchain/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return newTestServiceWithValidity(t, 365*24*time.Hour)
}

func newTestServiceWithValidity(t *testing.T, validity time.Duration) *Service {
	t.Helper()
	dir := t.TempDir()
	database, err := db.OpenSQLite(filepath.Join(dir, "test.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrationFile(database, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Config{
		JWTSigningKey:     "0123456789abcdef0123456789abcdef",
		JWTIssuer:         "kycchain-test",
		AccessTokenTTL:    30 * time.Minute,
		UploadDir:         filepath.Join(dir, "uploads"),
		MaxUploadSize:     1 << 20,
		KYCValidity:       validity,
		AutoApproveBelow:  0.3,
		DedupeThreshold:   0.85,
		ConsentTTL:        30 * 24 * time.Hour,
		PasswordMinLength: 8,
	}
	return New(cfg, store.New(database, "sqlite"), ledger.NewChain(), nil, nil, zap.NewNop())
}

func registerUser(t *testing.T, s *Service, email, role string) models.User {
	t.Helper()
	u, err := s.Register(context.Background(), email, "password-123", role, nil)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

// cleanDocument is an identity document whose extracted fields line up
// with matching user details and a long remaining validity.
func cleanDocument(name string) []byte {
	expiry := time.Now().AddDate(9, 0, 0).Format("2006-01-02")
	return []byte(fmt.Sprintf(`PASSPORT
Name: %s
Date of Birth: 1990-04-12
Passport No: X1234567
Address: 12 High Street, London
Expiry: %s
United Kingdom
`, name, expiry))
}

// selfieBytes simulates a live capture with enough byte variety to
// pass the liveness check.
func selfieBytes(tag string) []byte {
	return []byte(fmt.Sprintf("SELFIE CAPTURE %s :: 0123456789 abcdefghijklmnopqrstuvwxyz ABCDEFGHIJKLMNOPQRSTUVWXYZ", tag))
}

func cleanDetails(name string) map[string]any {
	return map[string]any{
		"full_name":     name,
		"date_of_birth": "1990-04-12",
		"address":       "12 High Street, London",
	}
}

// submitApplication walks an application to the UPLOADED state.
func submitApplication(t *testing.T, s *Service, u models.User, details map[string]any, doc, selfie []byte, docType string) models.Application {
	t.Helper()
	ctx := context.Background()
	a, err := s.StartApplication(ctx, u)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitDetails(ctx, u, a.ID, details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if _, err := s.UploadDocument(ctx, u, a.ID, docType, "doc.txt", doc); err != nil {
		t.Fatalf("upload doc: %v", err)
	}
	if selfie != nil {
		if _, err := s.UploadDocument(ctx, u, a.ID, DocTypeSelfie, "selfie.bin", selfie); err != nil {
			t.Fatalf("upload selfie: %v", err)
		}
	}
	return a
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	u := registerUser(t, s, "jane@example.com", "")
	if u.Role != models.RoleUser {
		t.Fatalf("role = %q", u.Role)
	}

	token, got, err := s.Login(ctx, "jane@example.com", "password-123")
	if err != nil || got.ID != u.ID {
		t.Fatalf("login: %v", err)
	}
	authed, err := s.AuthenticateToken(ctx, token)
	if err != nil || authed.ID != u.ID {
		t.Fatalf("authenticate: %v", err)
	}

	if _, _, err := s.Login(ctx, "jane@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := s.Login(ctx, "nobody@example.com", "password-123"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	var ve *ValidationError

	if _, err := s.Register(ctx, "not-an-email", "password-123", "", nil); !errors.As(err, &ve) {
		t.Fatalf("bad email: %v", err)
	}
	if _, err := s.Register(ctx, "a@example.com", "short", "", nil); !errors.As(err, &ve) {
		t.Fatalf("short password: %v", err)
	}
	if _, err := s.Register(ctx, "a@example.com", "password-123", models.RoleAdmin, nil); !errors.As(err, &ve) {
		t.Fatalf("admin self-register: %v", err)
	}
}

func TestCreateStaffUserRequiresAdmin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	user := registerUser(t, s, "user@example.com", "")

	if _, err := s.CreateStaffUser(ctx, user, "rev@example.com", "password-123", models.RoleReviewer); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	admin := makeAdmin(t, s, "admin@example.com")
	rev, err := s.CreateStaffUser(ctx, admin, "rev@example.com", "password-123", models.RoleReviewer)
	if err != nil || rev.Role != models.RoleReviewer {
		t.Fatalf("create reviewer: %v", err)
	}
}

func makeAdmin(t *testing.T, s *Service, email string) models.User {
	t.Helper()
	ctx := context.Background()
	if err := s.st.EnsureAdmin(ctx, email, "hash"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	u, err := s.st.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	return u
}

func TestSingleActiveApplication(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "one@example.com", "")

	if _, err := s.StartApplication(ctx, u); err != nil {
		t.Fatalf("start: %v", err)
	}
	var ve *ValidationError
	if _, err := s.StartApplication(ctx, u); !errors.As(err, &ve) {
		t.Fatalf("second application should fail: %v", err)
	}
}

func TestProcessAutoApproves(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "clean@example.com", "")

	doc := cleanDocument("Jane Roe")
	a := submitApplication(t, s, u, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")

	got, err := s.Process(ctx, u, a.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != models.StatusVerified {
		t.Fatalf("status = %q, comment = %v", got.Status, got.ReviewerComment)
	}
	if got.UKN == nil || got.LedgerTxHash == nil || got.ExpiresAt == nil {
		t.Fatalf("missing issuance fields: %+v", got)
	}
	if got.RiskScore == nil || *got.RiskScore >= 0.3 {
		t.Fatalf("risk = %v", got.RiskScore)
	}

	// The issuance is anchored on the ledger.
	block, ok := s.VerifyLedgerRecord(*got.LedgerTxHash)
	if !ok || block.Data.UKN != *got.UKN {
		t.Fatalf("ledger record missing: %v", ok)
	}

	detail, err := s.MyApplication(ctx, u)
	if err != nil {
		t.Fatalf("my application: %v", err)
	}
	if len(detail.Documents) != 2 {
		t.Fatalf("documents = %d", len(detail.Documents))
	}
	if len(detail.History) == 0 {
		t.Fatal("expected verification history")
	}
}

func TestProcessRejectsMismatchedDetails(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "liar@example.com", "")

	doc := cleanDocument("Jane Roe")
	a := submitApplication(t, s, u, cleanDetails("Completely Different"), doc, doc, "PASSPORT")

	got, err := s.Process(ctx, u, a.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != models.StatusRejected {
		t.Fatalf("status = %q", got.Status)
	}
	if got.ReviewerComment == nil || !strings.Contains(*got.ReviewerComment, "name mismatch") {
		t.Fatalf("comment = %v", got.ReviewerComment)
	}
}

// expiringDocument matches the user details but is days from expiry,
// which drives the risk score up past the review line.
func expiringDocument(name string) []byte {
	expiry := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	return []byte(fmt.Sprintf("NATIONAL_ID\nName: %s\nDate of Birth: 1990-04-12\nExpiry: %s\n", name, expiry))
}

func TestProcessQueuesHighRiskForReview(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "risky@example.com", "")

	a := submitApplication(t, s, u,
		map[string]any{"full_name": "Jane Roe", "date_of_birth": "1990-04-12"},
		expiringDocument("Jane Roe"), selfieBytes("different"), "NATIONAL_ID")

	got, err := s.Process(ctx, u, a.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != models.StatusInReview {
		t.Fatalf("status = %q", got.Status)
	}
	if got.UKN != nil {
		t.Fatal("no UKN before a decision")
	}

	admin := makeAdmin(t, s, "admin@example.com")
	queue, err := s.ReviewQueue(ctx, admin)
	if err != nil || len(queue) != 1 || queue[0].ID != a.ID {
		t.Fatalf("queue = %v, %v", queue, err)
	}
}

func TestReviewerApprove(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "applicant@example.com", "")
	admin := makeAdmin(t, s, "admin@example.com")

	a := submitApplication(t, s, u,
		map[string]any{"full_name": "Jane Roe", "date_of_birth": "1990-04-12"},
		expiringDocument("Jane Roe"), selfieBytes("jane"), "NATIONAL_ID")
	if _, err := s.Process(ctx, u, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := s.Approve(ctx, admin, a.ID, "verified in person")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != models.StatusVerified || got.UKN == nil {
		t.Fatalf("approved = %+v", got)
	}
	if got.ReviewerComment == nil || *got.ReviewerComment != "verified in person" {
		t.Fatalf("comment = %v", got.ReviewerComment)
	}

	// Re-approving a decided application fails.
	if _, err := s.Approve(ctx, admin, a.ID, "again"); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestReviewerReject(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "applicant@example.com", "")
	admin := makeAdmin(t, s, "admin@example.com")

	a := submitApplication(t, s, u,
		map[string]any{"full_name": "Jane Roe", "date_of_birth": "1990-04-12"},
		expiringDocument("Jane Roe"), selfieBytes("jane"), "NATIONAL_ID")
	if _, err := s.Process(ctx, u, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := s.Reject(ctx, admin, a.ID, "document unreadable")
	if err != nil || got.Status != models.StatusRejected {
		t.Fatalf("reject: %v %+v", err, got)
	}

	// A regular user cannot act on the queue.
	if _, err := s.Reject(ctx, u, a.ID, "nope"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDuplicateIdentityFlagged(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	doc := cleanDocument("Jane Roe")
	first := registerUser(t, s, "first@example.com", "")
	a1 := submitApplication(t, s, first, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	got, err := s.Process(ctx, first, a1.ID)
	if err != nil || got.Status != models.StatusVerified {
		t.Fatalf("first applicant should verify: %v %v", err, got.Status)
	}

	// Same document bytes, different account.
	second := registerUser(t, s, "second@example.com", "")
	a2 := submitApplication(t, s, second, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	got2, err := s.Process(ctx, second, a2.ID)
	if err != nil {
		t.Fatalf("process second: %v", err)
	}
	if got2.Status != models.StatusFlagged {
		t.Fatalf("status = %q, want flagged", got2.Status)
	}
	if got2.ReviewerComment == nil || !strings.Contains(*got2.ReviewerComment, *got.UKN) {
		t.Fatalf("comment should name the matched UKN: %v", got2.ReviewerComment)
	}
}

func TestResolveConsentFlow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	doc := cleanDocument("Jane Roe")
	u := registerUser(t, s, "owner@example.com", "")
	a := submitApplication(t, s, u, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	verified, err := s.Process(ctx, u, a.ID)
	if err != nil || verified.Status != models.StatusVerified {
		t.Fatalf("verify: %v %v", err, verified.Status)
	}

	inst := registerUser(t, s, "bank@example.com", models.RoleInstitution)

	// First resolve: consent does not exist yet.
	if _, err := s.Resolve(ctx, inst, *verified.UKN, "account_opening"); err != ErrConsentRequired {
		t.Fatalf("expected ErrConsentRequired, got %v", err)
	}

	// The applicant sees and grants the pending request.
	consents, err := s.MyConsents(ctx, u)
	if err != nil || len(consents) != 1 {
		t.Fatalf("consents = %v, %v", consents, err)
	}
	if _, err := s.SetConsent(ctx, u, consents[0].ID, true); err != nil {
		t.Fatalf("grant: %v", err)
	}

	summary, err := s.Resolve(ctx, inst, *verified.UKN, "account_opening")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if summary.UKN != *verified.UKN || summary.VerifiedName != "Jane Roe" {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.VerifiedAge == 0 || summary.LedgerTxHash == "" {
		t.Fatalf("summary missing fields: %+v", summary)
	}

	status, err := s.ValidateConsent(ctx, inst, *verified.UKN, "account_opening")
	if err != nil || !status.HasConsent {
		t.Fatalf("validate consent: %v %+v", err, status)
	}

	// Revoking cuts access immediately.
	if _, err := s.SetConsent(ctx, u, consents[0].ID, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Resolve(ctx, inst, *verified.UKN, "account_opening"); err != ErrConsentRequired {
		t.Fatalf("expected ErrConsentRequired after revoke, got %v", err)
	}
}

func TestResolveErrors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	inst := registerUser(t, s, "bank@example.com", models.RoleInstitution)

	var ve *ValidationError
	if _, err := s.Resolve(ctx, inst, "not-a-ukn", "p"); !errors.As(err, &ve) {
		t.Fatalf("format: %v", err)
	}
	if _, err := s.Resolve(ctx, inst, "KYC-0000-0000-0000", "p"); err != store.ErrNotFound {
		t.Fatalf("missing: %v", err)
	}

	user := registerUser(t, s, "user@example.com", "")
	if _, err := s.Resolve(ctx, user, "KYC-0000-0000-0000", "p"); err != ErrForbidden {
		t.Fatalf("role: %v", err)
	}
}

func TestResolveExpired(t *testing.T) {
	s := newTestServiceWithValidity(t, -time.Hour)
	ctx := context.Background()

	doc := cleanDocument("Jane Roe")
	u := registerUser(t, s, "old@example.com", "")
	a := submitApplication(t, s, u, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	verified, err := s.Process(ctx, u, a.ID)
	if err != nil || verified.UKN == nil {
		t.Fatalf("verify: %v", err)
	}

	inst := registerUser(t, s, "bank@example.com", models.RoleInstitution)
	if _, err := s.Resolve(ctx, inst, *verified.UKN, "p"); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestMetricsAggregates(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	admin := makeAdmin(t, s, "admin@example.com")

	doc := cleanDocument("Jane Roe")
	u := registerUser(t, s, "clean@example.com", "")
	a := submitApplication(t, s, u, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	if _, err := s.Process(ctx, u, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	m, err := s.Metrics(ctx, admin)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalApplications != 1 || m.AutoApproved != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.AvgProcessingTime == 0 {
		t.Fatal("avg processing time should never be zero")
	}

	if _, err := s.Metrics(ctx, u); err != ErrForbidden {
		t.Fatalf("user metrics: %v", err)
	}
}

func TestDeleteUserGuards(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	admin := makeAdmin(t, s, "admin@example.com")
	u := registerUser(t, s, "victim@example.com", "")

	if err := s.DeleteUser(ctx, u, admin.ID); err != ErrForbidden {
		t.Fatalf("non-admin delete: %v", err)
	}
	var ve *ValidationError
	if err := s.DeleteUser(ctx, admin, admin.ID); !errors.As(err, &ve) {
		t.Fatalf("self delete: %v", err)
	}
	if err := s.DeleteUser(ctx, admin, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Login(ctx, "victim@example.com", "password-123"); err != ErrInvalidCredentials {
		t.Fatalf("deleted user can still log in: %v", err)
	}
}

func TestRequestConsentAndLedgerLookup(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	doc := cleanDocument("Jane Roe")
	u := registerUser(t, s, "owner@example.com", "")
	a := submitApplication(t, s, u, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	verified, err := s.Process(ctx, u, a.ID)
	if err != nil || verified.UKN == nil {
		t.Fatalf("verify: %v", err)
	}

	inst := registerUser(t, s, "bank@example.com", models.RoleInstitution)
	consent, err := s.RequestConsent(ctx, inst, *verified.UKN, "loan_check")
	if err != nil {
		t.Fatalf("request consent: %v", err)
	}
	if consent.ConsentGiven {
		t.Fatal("a fresh request must start ungranted")
	}
	// Requesting again returns the same pending record.
	again, err := s.RequestConsent(ctx, inst, *verified.UKN, "loan_check")
	if err != nil || again.ID != consent.ID {
		t.Fatalf("repeat request: %v %+v", err, again)
	}

	admin := makeAdmin(t, s, "admin@example.com")
	block, err := s.LedgerRecordByUKN(ctx, admin, *verified.UKN)
	if err != nil || block.Data.UKN != *verified.UKN {
		t.Fatalf("ledger by ukn: %v", err)
	}
	if _, err := s.LedgerRecordByUKN(ctx, admin, "KYC-0000-0000-0000"); err != store.ErrNotFound {
		t.Fatalf("missing ukn: %v", err)
	}
	if _, err := s.LedgerRecordByUKN(ctx, inst, *verified.UKN); err != ErrForbidden {
		t.Fatalf("institution ledger access: %v", err)
	}
}

func TestDedupeQueueListsFlagged(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	doc := cleanDocument("Jane Roe")
	first := registerUser(t, s, "first@example.com", "")
	a1 := submitApplication(t, s, first, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	if _, err := s.Process(ctx, first, a1.ID); err != nil {
		t.Fatalf("process first: %v", err)
	}
	second := registerUser(t, s, "second@example.com", "")
	a2 := submitApplication(t, s, second, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	flagged, err := s.Process(ctx, second, a2.ID)
	if err != nil || flagged.Status != models.StatusFlagged {
		t.Fatalf("process second: %v %v", err, flagged.Status)
	}

	admin := makeAdmin(t, s, "admin@example.com")
	queue, err := s.DedupeQueue(ctx, admin)
	if err != nil || len(queue) != 1 || queue[0].ID != a2.ID {
		t.Fatalf("dedupe queue = %v, %v", queue, err)
	}
	// Flagged applications are also reviewable from the main queue.
	review, err := s.ReviewQueue(ctx, admin)
	if err != nil || len(review) != 1 || review[0].ID != a2.ID {
		t.Fatalf("review queue = %v, %v", review, err)
	}
}

func TestAuditTrail(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	admin := makeAdmin(t, s, "admin@example.com")
	u := registerUser(t, s, "audited@example.com", "")

	if _, err := s.StartApplication(ctx, u); err != nil {
		t.Fatalf("start: %v", err)
	}

	records, err := s.Audit(ctx, admin, models.AuditQuery{})
	if err != nil || len(records) == 0 {
		t.Fatalf("audit = %v, %v", records, err)
	}
	for _, r := range records {
		if r.TxHash == "" || r.EventHash == "" {
			t.Fatalf("audit record missing hashes: %+v", r)
		}
		if _, ok := s.VerifyLedgerRecord(r.TxHash); !ok {
			t.Fatalf("audit record not on ledger: %s", r.TxHash)
		}
	}

	if _, err := s.Audit(ctx, u, models.AuditQuery{}); err != ErrForbidden {
		t.Fatalf("user audit: %v", err)
	}
}

func TestProcessWithoutIdentityDocumentLeavesUploadable(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "noid@example.com", "")

	a, err := s.StartApplication(ctx, u)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitDetails(ctx, u, a.ID, cleanDetails("Jane Roe")); err != nil {
		t.Fatalf("details: %v", err)
	}
	if _, err := s.UploadDocument(ctx, u, a.ID, DocTypeSelfie, "selfie.bin", selfieBytes("jane")); err != nil {
		t.Fatalf("upload selfie: %v", err)
	}

	var ve *ValidationError
	if _, err := s.Process(ctx, u, a.ID); !errors.As(err, &ve) {
		t.Fatalf("process without identity document: %v", err)
	}
	got, err := s.st.GetApplicationByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusUploaded {
		t.Fatalf("status after failed process = %q, want %q", got.Status, models.StatusUploaded)
	}

	// The applicant can recover on their own.
	if _, err := s.UploadDocument(ctx, u, a.ID, "PASSPORT", "doc.txt", cleanDocument("Jane Roe")); err != nil {
		t.Fatalf("upload after failed process: %v", err)
	}
	fixed, err := s.Process(ctx, u, a.ID)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if fixed.Status != models.StatusVerified {
		t.Fatalf("status after reprocess = %q", fixed.Status)
	}
}

func TestEmbeddingRegistryRestoredAfterRestart(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "orig@example.com", "")
	doc := cleanDocument("Jane Roe")

	a := submitApplication(t, s, u, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	got, err := s.Process(ctx, u, a.ID)
	if err != nil || got.Status != models.StatusVerified {
		t.Fatalf("process: %v (%+v)", err, got)
	}

	// A second instance over the same store starts empty and restores
	// the registry from the stored uploads.
	restarted := New(s.cfg, s.st, s.chain, nil, nil, zap.NewNop())
	if ukns, _ := restarted.knownEmbeddings(); len(ukns) != 0 {
		t.Fatalf("fresh registry = %v", ukns)
	}
	restarted.restoreEmbeddings(ctx, "")
	ukns, embs := restarted.knownEmbeddings()
	if len(ukns) != 1 || ukns[0] != *got.UKN {
		t.Fatalf("restored registry = %v, want %q", ukns, *got.UKN)
	}
	if faces.Hash(embs[0]) != *got.FaceEmbeddingHash {
		t.Fatal("restored embedding does not reproduce the stored hash")
	}
}

func TestSuspiciousBankStatementFlagsApplication(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "fraud@example.com", "")

	a, err := s.StartApplication(ctx, u)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitDetails(ctx, u, a.ID, cleanDetails("Jane Roe")); err != nil {
		t.Fatalf("details: %v", err)
	}
	if _, err := s.UploadDocument(ctx, u, a.ID, "PASSPORT", "doc.txt", cleanDocument("Jane Roe")); err != nil {
		t.Fatalf("upload passport: %v", err)
	}

	lines := []string{"ACME BANK STATEMENT"}
	for i := 0; i < 12; i++ {
		lines = append(lines, "05/03/2024 | ATM WITHDRAWAL | 50000.00 | 12000.50")
	}
	lines = append(lines, "OVERDRAFT notice issued")
	if _, err := s.UploadDocument(ctx, u, a.ID, "BANK_STATEMENT", "stmt.txt", []byte(strings.Join(lines, "\n"))); err != nil {
		t.Fatalf("upload statement: %v", err)
	}

	got, err := s.st.GetApplicationByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusFlagged {
		t.Fatalf("status = %q, want %q", got.Status, models.StatusFlagged)
	}
	if got.ReviewerComment == nil || !strings.HasPrefix(*got.ReviewerComment, "Transaction document flagged") {
		t.Fatalf("comment = %v", got.ReviewerComment)
	}
	if _, err := s.Process(ctx, u, a.ID); err != ErrInvalidState {
		t.Fatalf("process of flagged application: %v", err)
	}

	// Flagged applications land with the reviewers.
	admin := makeAdmin(t, s, "root@example.com")
	queue, err := s.ReviewQueue(ctx, admin)
	if err != nil || len(queue) != 1 || queue[0].ID != a.ID {
		t.Fatalf("review queue = %v (%v)", queue, err)
	}
}

func TestCleanBankStatementSupportsApplication(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "steady@example.com", "")
	doc := cleanDocument("Jane Roe")

	a := submitApplication(t, s, u, cleanDetails("Jane Roe"), doc, doc, "PASSPORT")
	stmt := strings.Join([]string{
		"ACME BANK STATEMENT",
		"01/02/2024 | GROCERY MART | 1534.21 | 45231.77",
		"03/02/2024 | SALARY CREDIT | 52100.45 | 97332.22",
	}, "\n")
	if _, err := s.UploadDocument(ctx, u, a.ID, "BANK_STATEMENT", "stmt.txt", []byte(stmt)); err != nil {
		t.Fatalf("upload statement: %v", err)
	}

	got, err := s.Process(ctx, u, a.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != models.StatusVerified {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestFlatSelfieFailsLiveness(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "replay@example.com", "")

	a, err := s.StartApplication(ctx, u)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitDetails(ctx, u, a.ID, cleanDetails("Jane Roe")); err != nil {
		t.Fatalf("details: %v", err)
	}
	if _, err := s.UploadDocument(ctx, u, a.ID, "PASSPORT", "doc.txt", cleanDocument("Jane Roe")); err != nil {
		t.Fatalf("upload passport: %v", err)
	}
	flat := bytes.Repeat([]byte{0x7f}, 512)
	if _, err := s.UploadDocument(ctx, u, a.ID, DocTypeSelfie, "selfie.bin", flat); err != nil {
		t.Fatalf("upload selfie: %v", err)
	}

	got, err := s.st.GetApplicationByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusFlagged {
		t.Fatalf("status = %q, want %q", got.Status, models.StatusFlagged)
	}
	if got.ReviewerComment == nil || !strings.Contains(*got.ReviewerComment, "Liveness check failed") {
		t.Fatalf("comment = %v", got.ReviewerComment)
	}
}

func TestRiskExplanation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := registerUser(t, s, "risky2@example.com", "")

	a := submitApplication(t, s, u,
		map[string]any{"full_name": "Jane Roe", "date_of_birth": "1990-04-12"},
		expiringDocument("Jane Roe"), selfieBytes("jane"), "NATIONAL_ID")
	if _, err := s.Process(ctx, u, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	admin := makeAdmin(t, s, "root@example.com")
	contribs, err := s.RiskExplanation(ctx, admin, a.ID)
	if err != nil {
		t.Fatalf("explanation: %v", err)
	}
	if len(contribs) != 8 {
		t.Fatalf("contributions = %d, want 8", len(contribs))
	}
	for i := 1; i < len(contribs); i++ {
		if math.Abs(contribs[i].Value) > math.Abs(contribs[i-1].Value) {
			t.Fatalf("contributions not sorted by impact: %v", contribs)
		}
	}

	if _, err := s.RiskExplanation(ctx, u, a.ID); err != ErrForbidden {
		t.Fatalf("user access: %v", err)
	}

	fresh := registerUser(t, s, "fresh@example.com", "")
	b, err := s.StartApplication(ctx, fresh)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var ve *ValidationError
	if _, err := s.RiskExplanation(ctx, admin, b.ID); !errors.As(err, &ve) {
		t.Fatalf("unscored application: %v", err)
	}
}

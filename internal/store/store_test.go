package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"kycchain/internal/db"
	"kycchain/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrationFile(database, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(database, "sqlite")
}

func mustUser(t *testing.T, s *Store, email, role string) models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, nil, "hash", role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestCreateUserDuplicate(t *testing.T) {
	s := newTestStore(t)
	mustUser(t, s, "a@example.com", models.RoleUser)
	if _, err := s.CreateUser(context.Background(), "a@example.com", nil, "hash", models.RoleUser); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestEnsureAdminCreatesAndPromotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureAdmin(ctx, "root@example.com", "hash"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	u, err := s.GetUserByEmail(ctx, "root@example.com")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	if u.Role != models.RoleAdmin {
		t.Fatalf("role = %q, want admin", u.Role)
	}
	// Existing user gets promoted rather than duplicated.
	if err := s.EnsureAdmin(ctx, "root@example.com", "hash2"); err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}
	u2, _ := s.GetUserByEmail(ctx, "root@example.com")
	if u2.ID != u.ID || u2.PasswordHash != "hash2" {
		t.Fatalf("expected same user with new hash, got %+v", u2)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com", models.RoleUser)

	a, err := s.CreateApplication(ctx, u.ID, models.StatusRegistered)
	if err != nil {
		t.Fatalf("create application: %v", err)
	}

	active, err := s.HasActiveApplication(ctx, u.ID)
	if err != nil || !active {
		t.Fatalf("HasActiveApplication = %v, %v", active, err)
	}

	if err := s.SetUserDetails(ctx, a.ID, map[string]any{"full_name": "Jane Roe"}); err != nil {
		t.Fatalf("set details: %v", err)
	}
	if err := s.UpdateApplicationStatus(ctx, a.ID, models.StatusUploaded, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}

	risk := 0.42
	match := 0.91
	hash := "abc123"
	if err := s.SetProcessingResults(ctx, a.ID, &risk, &match, &hash); err != nil {
		t.Fatalf("set processing: %v", err)
	}

	got, err := s.GetApplicationByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if got.Status != models.StatusUploaded {
		t.Fatalf("status = %q", got.Status)
	}
	if got.RiskScore == nil || *got.RiskScore != 0.42 {
		t.Fatalf("risk = %v", got.RiskScore)
	}
	if got.UserDetails["full_name"] != "Jane Roe" {
		t.Fatalf("details = %v", got.UserDetails)
	}
	if got.UserEmail != "u@example.com" {
		t.Fatalf("user email = %q", got.UserEmail)
	}

	now := time.Now().UTC()
	exp := now.AddDate(1, 0, 0)
	if err := s.MarkVerified(ctx, a.ID, "KYC-0001-0002-0003", "0xdeadbeef", now, exp, "auto approved"); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	got, _ = s.GetApplicationByID(ctx, a.ID)
	if got.Status != models.StatusVerified || got.UKN == nil || *got.UKN != "KYC-0001-0002-0003" {
		t.Fatalf("verified = %+v", got)
	}
	if got.ExpiresAt == nil || got.VerifiedAt == nil || got.LedgerTxHash == nil {
		t.Fatalf("missing verification fields: %+v", got)
	}

	byUKN, err := s.GetApplicationByUKN(ctx, "KYC-0001-0002-0003")
	if err != nil || byUKN.ID != a.ID {
		t.Fatalf("by ukn: %v %v", byUKN.ID, err)
	}
	exists, _ := s.UKNExists(ctx, "KYC-0001-0002-0003")
	if !exists {
		t.Fatal("UKNExists = false")
	}

	active, _ = s.HasActiveApplication(ctx, u.ID)
	if active {
		t.Fatal("verified application should not count as active")
	}
}

func TestReviewQueueFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(email, status string, risk *float64) models.Application {
		u := mustUser(t, s, email, models.RoleUser)
		a, err := s.CreateApplication(ctx, u.ID, status)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if risk != nil {
			if err := s.SetProcessingResults(ctx, a.ID, risk, nil, nil); err != nil {
				t.Fatalf("risk: %v", err)
			}
		}
		return a
	}

	low := 0.1
	high := 0.6
	mk("low@example.com", models.StatusInReview, &low)       // below threshold, excluded
	wantHigh := mk("high@example.com", models.StatusInReview, &high)
	wantNil := mk("nil@example.com", models.StatusUploaded, nil)
	mk("done@example.com", models.StatusVerified, &high) // terminal, excluded

	queue, err := s.ListReviewQueue(ctx, 0.3)
	if err != nil {
		t.Fatalf("review queue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue len = %d, want 2", len(queue))
	}
	ids := map[string]bool{}
	for _, a := range queue {
		ids[a.ID] = true
	}
	if !ids[wantHigh.ID] || !ids[wantNil.ID] {
		t.Fatalf("queue = %v", ids)
	}
}

func TestMetricsCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "m@example.com", models.RoleUser)
	a, _ := s.CreateApplication(ctx, u.ID, models.StatusRegistered)
	low := 0.1
	_ = s.SetProcessingResults(ctx, a.ID, &low, nil, nil)
	_ = s.MarkVerified(ctx, a.ID, "KYC-AAAA-BBBB-CCCC", "0x1", time.Now().UTC(), time.Now().UTC().AddDate(1, 0, 0), "auto")

	u2 := mustUser(t, s, "m2@example.com", models.RoleUser)
	a2, _ := s.CreateApplication(ctx, u2.ID, models.StatusInReview)
	high := 0.7
	_ = s.SetProcessingResults(ctx, a2.ID, &high, nil, nil)

	total, err := s.CountApplications(ctx)
	if err != nil || total != 2 {
		t.Fatalf("total = %d, %v", total, err)
	}
	auto, err := s.CountAutoApproved(ctx, 0.3)
	if err != nil || auto != 1 {
		t.Fatalf("auto = %d, %v", auto, err)
	}
	avg, err := s.AvgRiskScore(ctx)
	if err != nil {
		t.Fatalf("avg: %v", err)
	}
	if avg < 0.39 || avg > 0.41 {
		t.Fatalf("avg = %f", avg)
	}
}

func TestConsentGetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "c@example.com", models.RoleUser)
	inst := mustUser(t, s, "bank@example.com", models.RoleInstitution)
	a, _ := s.CreateApplication(ctx, u.ID, models.StatusVerified)

	c, created, err := s.GetOrCreateConsent(ctx, a.ID, inst.ID, "account_opening", 30*24*time.Hour)
	if err != nil || !created {
		t.Fatalf("first get-or-create: created=%v err=%v", created, err)
	}
	if c.ConsentGiven {
		t.Fatal("new consent should be pending")
	}
	if c.ExpiresAt == nil {
		t.Fatal("missing expiry")
	}

	c2, created, err := s.GetOrCreateConsent(ctx, a.ID, inst.ID, "account_opening", 30*24*time.Hour)
	if err != nil || created {
		t.Fatalf("second get-or-create: created=%v err=%v", created, err)
	}
	if c2.ID != c.ID {
		t.Fatalf("expected same record, got %s and %s", c.ID, c2.ID)
	}

	if err := s.SetConsentGiven(ctx, c.ID, true); err != nil {
		t.Fatalf("grant: %v", err)
	}
	got, _ := s.GetConsent(ctx, c.ID)
	if !got.ConsentGiven {
		t.Fatal("consent not granted")
	}

	list, err := s.ListConsentsByInstitution(ctx, inst.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %d, %v", len(list), err)
	}
}

func TestAuditInsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertAudit(ctx, models.AuditRecord{
		EntityType:  "kyc_application",
		EntityID:    "app-1",
		EventType:   "status_change",
		EventHash:   "h1",
		TxHash:      "0x1",
		Details:     map[string]any{"from": "DRAFT", "to": "REGISTERED"},
		PerformedBy: "system",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("missing id")
	}

	got, err := s.ListAudit(ctx, models.AuditQuery{EntityType: "kyc_application", EntityID: "app-1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("list = %d, %v", len(got), err)
	}
	if got[0].Details["to"] != "REGISTERED" {
		t.Fatalf("details = %v", got[0].Details)
	}
}

func TestVerifiedEmbeddingsAndLatestDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "v@example.com", models.RoleUser)
	a, err := s.CreateApplication(ctx, u.ID, models.StatusRegistered)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	hash := "emb-hash-1"
	if err := s.SetProcessingResults(ctx, a.ID, nil, nil, &hash); err != nil {
		t.Fatalf("results: %v", err)
	}

	// Not verified yet, so nothing to restore.
	got, err := s.ListVerifiedEmbeddings(ctx, "")
	if err != nil || len(got) != 0 {
		t.Fatalf("pre-verify = %v (%v)", got, err)
	}

	now := time.Now().UTC()
	if err := s.MarkVerified(ctx, a.ID, "KYC-1234-5678-9ABC", "0x1", now, now.AddDate(1, 0, 0), "auto"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, err = s.ListVerifiedEmbeddings(ctx, "")
	if err != nil || len(got) != 1 {
		t.Fatalf("verified = %v (%v)", got, err)
	}
	if got[0].AppID != a.ID || got[0].UKN != "KYC-1234-5678-9ABC" || got[0].EmbeddingHash != hash {
		t.Fatalf("identity = %+v", got[0])
	}
	// The owning application itself is excluded from its own sweep.
	if got, _ := s.ListVerifiedEmbeddings(ctx, a.ID); len(got) != 0 {
		t.Fatalf("exclusion failed: %v", got)
	}

	if _, err := s.CreateDocument(ctx, a.ID, "SELFIE", "uploads/x/selfie.bin", "h1"); err != nil {
		t.Fatalf("selfie: %v", err)
	}
	if _, err := s.CreateDocument(ctx, a.ID, "PASSPORT", "uploads/x/doc.txt", "h2"); err != nil {
		t.Fatalf("passport: %v", err)
	}
	doc, err := s.LatestDocumentOfTypes(ctx, a.ID, []string{"PASSPORT", "NATIONAL_ID"})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if doc.DocType != "PASSPORT" || doc.FileHash != "h2" {
		t.Fatalf("doc = %+v", doc)
	}
	if _, err := s.LatestDocumentOfTypes(ctx, a.ID, []string{"AADHAAR"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

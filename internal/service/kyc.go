package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"kycchain/internal/docproc"
	"kycchain/internal/faces"
	"kycchain/internal/metrics"
	"kycchain/internal/models"
	"kycchain/internal/risk"
	"kycchain/internal/txanalysis"
	"kycchain/internal/ukn"
	"kycchain/internal/validation"
)

// DocTypeSelfie marks the applicant's live selfie upload; everything
// else is an identity or supporting document.
const DocTypeSelfie = "SELFIE"

// Identity documents drive extraction, face matching, and risk
// scoring. The latest one uploaded wins.
var identityDocTypes = map[string]bool{
	"PASSPORT":        true,
	"DRIVERS_LICENSE": true,
	"DRIVING_LICENSE": true,
	"NATIONAL_ID":     true,
	"AADHAAR":         true,
	"AADHAR":          true,
	"PAN_CARD":        true,
	"IDENTITY_DOC":    true,
}

// Supporting documents strengthen an application without being the
// primary identity proof.
var supportingDocTypes = map[string]bool{
	"UTILITY_BILL":         true,
	"BANK_STATEMENT":       true,
	"MARRIAGE_CERTIFICATE": true,
	"INCOME_PROOF":         true,
	"EDUCATION_PROOF":      true,
	"MEDICAL_CERTIFICATE":  true,
	"ADDRESS_PROOF":        true,
}

// Transactional documents are screened for fraud signals on upload.
var transactionDocTypes = map[string]bool{
	"BANK_STATEMENT": true,
	"UTILITY_BILL":   true,
}

func identityDocTypeList() []string {
	out := make([]string, 0, len(identityDocTypes))
	for t := range identityDocTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ApplicationDetail bundles an application with its documents and
// processing history.
type ApplicationDetail struct {
	Application models.Application         `json:"application"`
	Documents   []models.Document          `json:"documents"`
	History     []models.VerificationEvent `json:"history"`
}

// StartApplication opens a new application for the user. A user can
// only have one application in flight.
func (s *Service) StartApplication(ctx context.Context, actor models.User) (models.Application, error) {
	if actor.Role != models.RoleUser {
		return models.Application{}, ErrForbidden
	}
	active, err := s.st.HasActiveApplication(ctx, actor.ID)
	if err != nil {
		return models.Application{}, err
	}
	if active {
		return models.Application{}, invalidf("an application is already in progress")
	}
	a, err := s.st.CreateApplication(ctx, actor.ID, models.StatusRegistered)
	if err != nil {
		return models.Application{}, err
	}
	s.audit(ctx, "kyc_application", a.ID, "created", nil, actor.Email)
	return a, nil
}

// SubmitDetails records the applicant's self-declared identity fields.
// Allowed while the application has not entered processing, and again
// when the reviewer has requested more information.
func (s *Service) SubmitDetails(ctx context.Context, actor models.User, appID string, details map[string]any) (models.Application, error) {
	a, err := s.ownApplication(ctx, actor, appID)
	if err != nil {
		return models.Application{}, err
	}
	switch a.Status {
	case models.StatusDraft, models.StatusRegistered, models.StatusUploaded, models.StatusRequestInfo:
	default:
		return models.Application{}, ErrInvalidState
	}
	if strings.TrimSpace(str(details["full_name"])) == "" {
		return models.Application{}, invalidf("full_name is required")
	}
	if strings.TrimSpace(str(details["date_of_birth"])) == "" {
		return models.Application{}, invalidf("date_of_birth is required")
	}
	if err := s.st.SetUserDetails(ctx, a.ID, details); err != nil {
		return models.Application{}, err
	}
	s.audit(ctx, "kyc_application", a.ID, "details_submitted", nil, actor.Email)
	return s.st.GetApplicationByID(ctx, a.ID)
}

// UploadDocument stores an identity document or selfie for the
// application and runs field extraction on it.
func (s *Service) UploadDocument(ctx context.Context, actor models.User, appID, docType, filename string, content []byte) (models.Document, error) {
	a, err := s.ownApplication(ctx, actor, appID)
	if err != nil {
		return models.Document{}, err
	}
	switch a.Status {
	case models.StatusDraft, models.StatusRegistered, models.StatusUploaded, models.StatusRequestInfo:
	default:
		return models.Document{}, ErrInvalidState
	}
	docType = strings.ToUpper(strings.TrimSpace(docType))
	if docType != DocTypeSelfie && !identityDocTypes[docType] && !supportingDocTypes[docType] {
		return models.Document{}, invalidf("unsupported document type %q", docType)
	}
	if len(content) == 0 {
		return models.Document{}, invalidf("empty upload")
	}
	if int64(len(content)) > s.cfg.MaxUploadSize {
		return models.Document{}, invalidf("upload exceeds %d bytes", s.cfg.MaxUploadSize)
	}

	relPath, hash, err := docproc.Save(s.cfg.UploadDir, a.ID, filename, content)
	if err != nil {
		return models.Document{}, err
	}
	doc, err := s.st.CreateDocument(ctx, a.ID, docType, relPath, hash)
	if err != nil {
		return models.Document{}, err
	}
	status := models.StatusUploaded
	var flagComment *string
	switch {
	case docType == DocTypeSelfie:
		live := faces.Liveness(content)
		extracted := map[string]any{
			"liveness_detected":   live.Live,
			"liveness_confidence": live.Confidence,
		}
		if err := s.st.SetDocumentExtraction(ctx, doc.ID, extracted, live.Live); err != nil {
			return models.Document{}, err
		}
		doc.ExtractedData = extracted
		if !live.Live {
			status = models.StatusFlagged
			flagComment = ptr("Liveness check failed on the submitted selfie")
			s.recordEvent(ctx, a.ID, "liveness_failed", map[string]any{"confidence": live.Confidence}, "system")
		}
	case transactionDocTypes[docType]:
		analysis := txanalysis.Analyze(string(content), docType)
		extracted := docproc.Extract(content)
		extracted["transaction_analysis"] = analysis
		if err := s.st.SetDocumentExtraction(ctx, doc.ID, extracted, !analysis.Suspicious); err != nil {
			return models.Document{}, err
		}
		doc.ExtractedData = extracted
		if analysis.Suspicious {
			status = models.StatusFlagged
			flagComment = ptr("Transaction document flagged: " + strings.Join(analysis.Indicators, ", "))
			s.recordEvent(ctx, a.ID, "transaction_flagged", map[string]any{
				"risk_score": analysis.RiskScore,
				"indicators": analysis.Indicators,
			}, "system")
		}
	default:
		extracted := docproc.Extract(content)
		if err := s.st.SetDocumentExtraction(ctx, doc.ID, extracted, len(extracted) > 0); err != nil {
			return models.Document{}, err
		}
		doc.ExtractedData = extracted
	}
	if err := s.st.UpdateApplicationStatus(ctx, a.ID, status, flagComment); err != nil {
		return models.Document{}, err
	}
	s.audit(ctx, "kyc_application", a.ID, "document_uploaded", map[string]any{"doc_type": docType, "file_hash": hash}, actor.Email)
	return doc, nil
}

// Process runs the verification pipeline: cross-checks declared details
// against the extracted document, matches the selfie against the
// document photo, sweeps for duplicate identities, scores risk, and
// either auto-approves or parks the application for manual review.
func (s *Service) Process(ctx context.Context, actor models.User, appID string) (models.Application, error) {
	a, err := s.ownApplication(ctx, actor, appID)
	if err != nil {
		return models.Application{}, err
	}
	if a.Status != models.StatusUploaded {
		return models.Application{}, ErrInvalidState
	}
	docs, err := s.st.ListDocuments(ctx, a.ID)
	if err != nil {
		return models.Application{}, err
	}
	idDoc, selfie := splitDocuments(docs)
	if idDoc == nil {
		return models.Application{}, invalidf("an identity document is required before processing")
	}
	if err := s.st.UpdateApplicationStatus(ctx, a.ID, models.StatusProcessing, nil); err != nil {
		return models.Application{}, err
	}
	out, err := s.verify(ctx, a, docs, idDoc, selfie)
	if err != nil {
		// Put the application back where the applicant can act on it.
		if rbErr := s.st.UpdateApplicationStatus(ctx, a.ID, models.StatusUploaded, nil); rbErr != nil {
			s.log.Warn("processing rollback", zap.String("kyc_id", a.ID), zap.Error(rbErr))
		}
		return models.Application{}, err
	}
	return out, nil
}

// verify is the pipeline body. Process owns the PROCESSING transition
// and undoes it when verify fails.
func (s *Service) verify(ctx context.Context, a models.Application, docs []models.Document, idDoc, selfie *models.Document) (models.Application, error) {
	// Declared details against the document.
	valid, reasons := validation.Check(a.UserDetails, idDoc.ExtractedData, idDoc.DocType)
	if !valid {
		comment := "Details do not match document: " + strings.Join(reasons, "; ")
		if err := s.reject(ctx, a, comment, "system"); err != nil {
			return models.Application{}, err
		}
		s.recordEvent(ctx, a.ID, "validation_failed", map[string]any{"reasons": reasons}, "system")
		metrics.ApplicationsProcessed.WithLabelValues("rejected").Inc()
		return s.st.GetApplicationByID(ctx, a.ID)
	}

	// Face match between the document photo and the selfie.
	docEmb, faceMatch, err := s.faceMatch(idDoc, selfie)
	if err != nil {
		return models.Application{}, err
	}
	embHash := faces.Hash(docEmb)

	// One person, one UKN.
	if dup, matchedUKN, err := s.dedupe(ctx, a.ID, docEmb, embHash); err != nil {
		return models.Application{}, err
	} else if dup {
		if err := s.st.SetProcessingResults(ctx, a.ID, nil, &faceMatch, &embHash); err != nil {
			return models.Application{}, err
		}
		if err := s.st.UpdateApplicationStatus(ctx, a.ID, models.StatusFlagged, ptr("possible duplicate of "+matchedUKN)); err != nil {
			return models.Application{}, err
		}
		s.recordEvent(ctx, a.ID, "duplicate_flagged", map[string]any{"matched_ukn": matchedUKN}, "system")
		metrics.ApplicationsProcessed.WithLabelValues("flagged").Inc()
		return s.st.GetApplicationByID(ctx, a.ID)
	}

	score, contribs := s.scoreRisk(a, idDoc, faceMatch, transactionRisk(docs))
	if err := s.st.SetProcessingResults(ctx, a.ID, &score, &faceMatch, &embHash); err != nil {
		return models.Application{}, err
	}
	s.recordEvent(ctx, a.ID, "risk_scored", map[string]any{
		"risk_score":    score,
		"contributions": contribs,
	}, "system")

	if score < s.cfg.AutoApproveBelow {
		if err := s.approve(ctx, a, docEmb, embHash, docs, score, "Auto-approved: low risk", "system"); err != nil {
			return models.Application{}, err
		}
		metrics.ApplicationsProcessed.WithLabelValues("auto_approved").Inc()
	} else {
		if err := s.st.UpdateApplicationStatus(ctx, a.ID, models.StatusInReview, nil); err != nil {
			return models.Application{}, err
		}
		s.recordEvent(ctx, a.ID, "queued_for_review", map[string]any{"risk_score": score}, "system")
		metrics.ApplicationsProcessed.WithLabelValues("manual_review").Inc()
	}
	return s.st.GetApplicationByID(ctx, a.ID)
}

// MyApplication returns the caller's latest application with documents
// and history.
func (s *Service) MyApplication(ctx context.Context, actor models.User) (ApplicationDetail, error) {
	a, err := s.st.LatestApplicationByUser(ctx, actor.ID)
	if err != nil {
		return ApplicationDetail{}, err
	}
	return s.detail(ctx, s.expireIfPast(ctx, a))
}

func (s *Service) detail(ctx context.Context, a models.Application) (ApplicationDetail, error) {
	docs, err := s.st.ListDocuments(ctx, a.ID)
	if err != nil {
		return ApplicationDetail{}, err
	}
	history, err := s.st.ListVerifications(ctx, a.ID)
	if err != nil {
		return ApplicationDetail{}, err
	}
	return ApplicationDetail{Application: a, Documents: docs, History: history}, nil
}

// expireIfPast flips a verified application to EXPIRED once its
// validity window has passed. Best effort; readers still see the
// correct status even if the write races.
func (s *Service) expireIfPast(ctx context.Context, a models.Application) models.Application {
	if a.Status == models.StatusVerified && a.ExpiresAt != nil && time.Now().After(*a.ExpiresAt) {
		if err := s.st.UpdateApplicationStatus(ctx, a.ID, models.StatusExpired, nil); err == nil {
			a.Status = models.StatusExpired
		}
	}
	return a
}

func (s *Service) ownApplication(ctx context.Context, actor models.User, appID string) (models.Application, error) {
	a, err := s.st.GetApplicationByID(ctx, appID)
	if err != nil {
		return models.Application{}, err
	}
	if a.UserID != actor.ID {
		return models.Application{}, ErrForbidden
	}
	return a, nil
}

func splitDocuments(docs []models.Document) (idDoc, selfie *models.Document) {
	for i := range docs {
		d := &docs[i]
		switch {
		case d.DocType == DocTypeSelfie:
			selfie = d
		case identityDocTypes[d.DocType]:
			if idDoc == nil || d.UploadedAt.After(idDoc.UploadedAt) {
				idDoc = d
			}
		}
	}
	return idDoc, selfie
}

// transactionRisk reads the screening score of the newest transactional
// document, scaled to [0,1]. Without one the model assumes a modest
// baseline rather than a clean history.
func transactionRisk(docs []models.Document) float64 {
	const baseline = 0.2
	var latest *models.Document
	for i := range docs {
		d := &docs[i]
		if !transactionDocTypes[d.DocType] {
			continue
		}
		if latest == nil || d.UploadedAt.After(latest.UploadedAt) {
			latest = d
		}
	}
	if latest == nil {
		return baseline
	}
	analysis, ok := latest.ExtractedData["transaction_analysis"].(map[string]any)
	if !ok {
		return baseline
	}
	score, ok := analysis["risk_score"].(float64)
	if !ok {
		return baseline
	}
	return score / 100
}

// faceMatch embeds the document image and, when a selfie exists,
// reports their cosine similarity. Without a selfie the match is
// conservative, not zero: absence is a review signal, not proof of
// fraud.
func (s *Service) faceMatch(idDoc, selfie *models.Document) (faces.Embedding, float64, error) {
	docBytes, err := s.readUpload(idDoc.FilePath)
	if err != nil {
		return faces.Embedding{}, 0, err
	}
	docEmb := faces.Embed(docBytes)
	if selfie == nil {
		return docEmb, 0.5, nil
	}
	selfieBytes, err := s.readUpload(selfie.FilePath)
	if err != nil {
		return faces.Embedding{}, 0, err
	}
	sim := faces.CosineSimilarity(docEmb, faces.Embed(selfieBytes))
	// Cosine lands in [-1,1]; confidence is its positive part.
	if sim < 0 {
		sim = 0
	}
	return docEmb, sim, nil
}

func (s *Service) readUpload(relPath string) ([]byte, error) {
	// Stored paths look like uploads/<kyc>/<file>; the configured
	// upload dir replaces the leading segment.
	rel := strings.TrimPrefix(filepath.ToSlash(relPath), "uploads/")
	return os.ReadFile(filepath.Join(s.cfg.UploadDir, filepath.FromSlash(rel)))
}

func (s *Service) dedupe(ctx context.Context, appID string, emb faces.Embedding, embHash string) (bool, string, error) {
	// Exact-hash matches in the database catch re-submissions of the
	// same image across restarts.
	n, matchedUKN, err := s.st.CountEmbeddingMatches(ctx, embHash, appID)
	if err != nil {
		return false, "", err
	}
	if n > 0 {
		return true, matchedUKN, nil
	}
	// Near matches against the embedding registry, restored from
	// stored uploads when entries are missing after a restart.
	s.restoreEmbeddings(ctx, appID)
	ukns, embs := s.knownEmbeddings()
	m := faces.CheckDuplicate(emb, ukns, embs, s.cfg.DedupeThreshold)
	if m.Duplicate {
		return true, m.MatchedUKN, nil
	}
	return false, "", nil
}

func (s *Service) scoreRisk(a models.Application, idDoc *models.Document, faceMatch, txRisk float64) (float64, []risk.Contribution) {
	extracted := idDoc.ExtractedData
	nameMatch := validation.Similarity(
		strings.ToUpper(str(a.UserDetails["full_name"])),
		strings.ToUpper(str(extracted["name"])),
	)
	addressScore := 0.0
	if str(a.UserDetails["address"]) != "" {
		addressScore = 0.5
		if str(extracted["address"]) != "" {
			addressScore = 1
		}
	}
	return risk.Score(risk.Features{
		FaceMatchConfidence:      faceMatch,
		DocumentAgeYears:         documentAgeYears(str(extracted["expiry"])),
		AddressVerificationScore: addressScore,
		TransactionHistoryRisk:   txRisk,
		IDQualityScore:           docproc.Quality(extracted),
		DocumentTypeRisk:         risk.DocTypeRisk(idDoc.DocType),
		ExtractionConfidence:     docproc.Quality(extracted),
		NameMatchScore:           nameMatch,
	})
}

// documentAgeYears estimates document age from its expiry date,
// assuming a ten year validity. Unknown expiry reads as two years old,
// a typical document.
func documentAgeYears(expiry string) float64 {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(expiry))
	if err != nil {
		return 2
	}
	age := 10 - time.Until(t).Hours()/24/365
	if age < 0 {
		return 0
	}
	if age > 10 {
		return 10
	}
	return age
}

// approve issues the UKN, writes the ledger block, and marks the
// application verified. Shared by auto-approval and reviewer approval.
func (s *Service) approve(ctx context.Context, a models.Application, emb faces.Embedding, embHash string, docs []models.Document, score float64, comment, approvedBy string) error {
	value, err := s.freshUKN(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	expires := now.Add(s.cfg.KYCValidity)

	docHashes := map[string]string{}
	for _, d := range docs {
		docHashes[d.DocType] = d.FileHash
	}
	block, err := s.chain.Append(value, docHashes, embHash, map[string]any{
		"risk_score":  score,
		"approved_by": approvedBy,
		"record_hash": ukn.RecordHash(value, a.UserID, now),
	}, approvedBy)
	if err != nil {
		return err
	}
	if err := s.st.MarkVerified(ctx, a.ID, value, block.TxHash, now, expires, comment); err != nil {
		return err
	}
	s.rememberEmbedding(value, emb)
	s.recordEvent(ctx, a.ID, "verified", map[string]any{"ukn": value, "tx_hash": block.TxHash}, approvedBy)
	s.audit(ctx, "kyc_application", a.ID, "verified", map[string]any{"ukn": value}, approvedBy)
	s.notifyDecision(ctx, a, models.StatusVerified, comment)
	return nil
}

func (s *Service) reject(ctx context.Context, a models.Application, comment, rejectedBy string) error {
	if err := s.st.UpdateApplicationStatus(ctx, a.ID, models.StatusRejected, &comment); err != nil {
		return err
	}
	s.audit(ctx, "kyc_application", a.ID, "rejected", map[string]any{"comment": comment}, rejectedBy)
	s.notifyDecision(ctx, a, models.StatusRejected, comment)
	return nil
}

// freshUKN generates until the number is unused. Collisions are near
// impossible at 48 bits but the uniqueness constraint is load-bearing.
func (s *Service) freshUKN(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		value, err := ukn.Generate()
		if err != nil {
			return "", err
		}
		exists, err := s.st.UKNExists(ctx, value)
		if err != nil {
			return "", err
		}
		if !exists {
			return value, nil
		}
	}
	return "", errors.New("could not allocate a unique KYC number")
}

func (s *Service) recordEvent(ctx context.Context, appID, eventType string, details map[string]any, performedBy string) {
	if _, err := s.st.RecordVerification(ctx, appID, eventType, details, performedBy, nil); err != nil {
		s.log.Warn("record verification event failed", zap.Error(err), zap.String("event", eventType))
	}
}

func (s *Service) notifyDecision(ctx context.Context, a models.Application, status, comment string) {
	if s.sender == nil || a.UserEmail == "" {
		return
	}
	if err := s.sender.SendDecision(ctx, a.UserEmail, status, comment); err != nil {
		s.log.Warn("decision notice failed", zap.Error(err), zap.String("to", a.UserEmail))
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func ptr(s string) *string { return &s }

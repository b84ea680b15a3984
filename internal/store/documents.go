package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"kycchain/internal/models"
)

func (s *Store) CreateDocument(ctx context.Context, kycID, docType, filePath, fileHash string) (models.Document, error) {
	d := models.Document{
		ID:         uuid.NewString(),
		KYCID:      kycID,
		DocType:    docType,
		FilePath:   filePath,
		FileHash:   fileHash,
		UploadedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO documents(id,kyc_id,doc_type,file_path,file_hash,verified,uploaded_at) VALUES(?,?,?,?,?,0,?)`),
		d.ID, d.KYCID, d.DocType, d.FilePath, d.FileHash, d.UploadedAt,
	)
	return d, err
}

func (s *Store) SetDocumentExtraction(ctx context.Context, id string, extracted map[string]any, verified bool) error {
	raw, err := marshalJSON(extracted)
	if err != nil {
		return err
	}
	return s.execOne(ctx, `UPDATE documents SET extracted_data=?, verified=? WHERE id=?`, raw, verified, id)
}

func (s *Store) ListDocuments(ctx context.Context, kycID string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id,kyc_id,doc_type,file_path,file_hash,extracted_data,verified,uploaded_at FROM documents WHERE kyc_id=? ORDER BY uploaded_at`), kycID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Document
	for rows.Next() {
		var d models.Document
		var extracted sql.NullString
		if err := rows.Scan(&d.ID, &d.KYCID, &d.DocType, &d.FilePath, &d.FileHash, &extracted, &d.Verified, &d.UploadedAt); err != nil {
			return nil, err
		}
		d.ExtractedData = unmarshalJSON(extracted)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestDocumentOfTypes returns the most recently uploaded document of
// one of the given types, or ErrNotFound when none exist.
func (s *Store) LatestDocumentOfTypes(ctx context.Context, kycID string, docTypes []string) (models.Document, error) {
	query := `SELECT id,kyc_id,doc_type,file_path,file_hash,extracted_data,verified,uploaded_at FROM documents
		WHERE kyc_id=? AND doc_type IN (` + placeholders(len(docTypes)) + `) ORDER BY uploaded_at DESC LIMIT 1`
	args := make([]any, 0, len(docTypes)+1)
	args = append(args, kycID)
	for _, t := range docTypes {
		args = append(args, t)
	}
	row := s.db.QueryRowContext(ctx, s.rebind(query), args...)
	var d models.Document
	var extracted sql.NullString
	err := row.Scan(&d.ID, &d.KYCID, &d.DocType, &d.FilePath, &d.FileHash, &extracted, &d.Verified, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return models.Document{}, ErrNotFound
	}
	if err != nil {
		return models.Document{}, err
	}
	d.ExtractedData = unmarshalJSON(extracted)
	return d, nil
}

func (s *Store) RecordVerification(ctx context.Context, kycID, eventType string, details map[string]any, performedBy string, txHash *string) (models.VerificationEvent, error) {
	v := models.VerificationEvent{
		ID:          uuid.NewString(),
		KYCID:       kycID,
		EventType:   eventType,
		Details:     details,
		PerformedBy: performedBy,
		TxHash:      txHash,
		CreatedAt:   time.Now().UTC(),
	}
	raw, err := marshalJSON(details)
	if err != nil {
		return models.VerificationEvent{}, err
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO verifications(id,kyc_id,event_type,details,performed_by,tx_hash,created_at) VALUES(?,?,?,?,?,?,?)`),
		v.ID, v.KYCID, v.EventType, raw, v.PerformedBy, txHash, v.CreatedAt,
	)
	return v, err
}

func (s *Store) ListVerifications(ctx context.Context, kycID string) ([]models.VerificationEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id,kyc_id,event_type,details,performed_by,tx_hash,created_at FROM verifications WHERE kyc_id=? ORDER BY created_at`), kycID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VerificationEvent
	for rows.Next() {
		var v models.VerificationEvent
		var details, txHash sql.NullString
		if err := rows.Scan(&v.ID, &v.KYCID, &v.EventType, &details, &v.PerformedBy, &txHash, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Details = unmarshalJSON(details)
		if txHash.Valid {
			h := txHash.String
			v.TxHash = &h
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"kycchain/internal/models"
)

const consentCols = `id,kyc_id,institution_id,purpose,consent_given,accessed_at,expires_at,created_at`

// GetOrCreateConsent returns the existing consent for the triple, creating
// a pending record when none exists. The ttl only applies to new records.
func (s *Store) GetOrCreateConsent(ctx context.Context, kycID, institutionID, purpose string, ttl time.Duration) (models.ConsentRecord, bool, error) {
	c, err := s.getConsent(ctx, kycID, institutionID, purpose)
	if err == nil {
		return c, false, nil
	}
	if err != ErrNotFound {
		return models.ConsentRecord{}, false, err
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	c = models.ConsentRecord{
		ID:            uuid.NewString(),
		KYCID:         kycID,
		InstitutionID: institutionID,
		Purpose:       purpose,
		ExpiresAt:     &exp,
		CreatedAt:     now,
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO consent_records(id,kyc_id,institution_id,purpose,consent_given,expires_at,created_at) VALUES(?,?,?,?,0,?,?)`),
		c.ID, c.KYCID, c.InstitutionID, c.Purpose, exp, now,
	)
	return c, true, err
}

func (s *Store) getConsent(ctx context.Context, kycID, institutionID, purpose string) (models.ConsentRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+consentCols+` FROM consent_records WHERE kyc_id=? AND institution_id=? AND purpose=? ORDER BY created_at DESC LIMIT 1`),
		kycID, institutionID, purpose)
	return scanConsent(row)
}

func (s *Store) GetConsent(ctx context.Context, id string) (models.ConsentRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+consentCols+` FROM consent_records WHERE id=?`), id)
	return scanConsent(row)
}

func (s *Store) SetConsentGiven(ctx context.Context, id string, given bool) error {
	return s.execOne(ctx, `UPDATE consent_records SET consent_given=? WHERE id=?`, given, id)
}

func (s *Store) TouchConsentAccess(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE consent_records SET accessed_at=? WHERE id=?`, time.Now().UTC(), id)
}

func (s *Store) ListConsentsByKYC(ctx context.Context, kycID string) ([]models.ConsentRecord, error) {
	return s.queryConsents(ctx, `SELECT `+consentCols+` FROM consent_records WHERE kyc_id=? ORDER BY created_at DESC`, kycID)
}

func (s *Store) ListConsentsByInstitution(ctx context.Context, institutionID string) ([]models.ConsentRecord, error) {
	return s.queryConsents(ctx, `SELECT `+consentCols+` FROM consent_records WHERE institution_id=? ORDER BY created_at DESC`, institutionID)
}

func (s *Store) queryConsents(ctx context.Context, query string, args ...any) ([]models.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ConsentRecord
	for rows.Next() {
		c, err := scanConsentFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConsent(row *sql.Row) (models.ConsentRecord, error) {
	c, err := scanConsentFrom(row)
	if err == sql.ErrNoRows {
		return models.ConsentRecord{}, ErrNotFound
	}
	return c, err
}

func scanConsentFrom(r rowScanner) (models.ConsentRecord, error) {
	var c models.ConsentRecord
	var accessedAt, expiresAt sql.NullTime
	err := r.Scan(&c.ID, &c.KYCID, &c.InstitutionID, &c.Purpose, &c.ConsentGiven, &accessedAt, &expiresAt, &c.CreatedAt)
	if err != nil {
		return models.ConsentRecord{}, err
	}
	if accessedAt.Valid {
		t := accessedAt.Time
		c.AccessedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return c, nil
}

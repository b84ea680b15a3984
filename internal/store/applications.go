package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"kycchain/internal/models"
)

const applicationCols = `a.id,a.user_id,u.email,a.ukn,a.status,a.risk_score,a.face_match_score,a.face_embedding_hash,a.reviewer_comment,a.user_details,a.ledger_tx_hash,a.verified_at,a.expires_at,a.created_at,a.updated_at`

func (s *Store) CreateApplication(ctx context.Context, userID, status string) (models.Application, error) {
	now := time.Now().UTC()
	a := models.Application{ID: uuid.NewString(), UserID: userID, Status: status, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO kyc_applications(id,user_id,status,created_at,updated_at) VALUES(?,?,?,?,?)`),
		a.ID, a.UserID, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	return a, err
}

func (s *Store) GetApplicationByID(ctx context.Context, id string) (models.Application, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+applicationCols+` FROM kyc_applications a JOIN users u ON u.id=a.user_id WHERE a.id=?`), id)
	return scanApplication(row)
}

// LatestApplicationByUser returns the user's most recent application.
func (s *Store) LatestApplicationByUser(ctx context.Context, userID string) (models.Application, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+applicationCols+` FROM kyc_applications a JOIN users u ON u.id=a.user_id WHERE a.user_id=? ORDER BY a.created_at DESC LIMIT 1`), userID)
	return scanApplication(row)
}

func (s *Store) GetApplicationByUKN(ctx context.Context, ukn string) (models.Application, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+applicationCols+` FROM kyc_applications a JOIN users u ON u.id=a.user_id WHERE a.ukn=?`), ukn)
	return scanApplication(row)
}

func (s *Store) UKNExists(ctx context.Context, ukn string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM kyc_applications WHERE ukn=?`), ukn).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasActiveApplication reports whether the user has an application in a
// non-terminal state.
func (s *Store) HasActiveApplication(ctx context.Context, userID string) (bool, error) {
	query := `SELECT COUNT(1) FROM kyc_applications WHERE user_id=? AND status IN (` + placeholders(len(models.ActiveStatuses)) + `)`
	args := []any{userID}
	for _, st := range models.ActiveStatuses {
		args = append(args, st)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListApplications(ctx context.Context, q models.ApplicationQuery) ([]models.Application, error) {
	query := `SELECT ` + applicationCols + ` FROM kyc_applications a JOIN users u ON u.id=a.user_id`
	args := []any{}
	if q.Status != "" {
		query += ` WHERE a.status=?`
		args = append(args, q.Status)
	}
	query += ` ORDER BY a.created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}
	return s.queryApplications(ctx, query, args...)
}

// ListReviewQueue returns applications awaiting a human decision: any
// pre-decision status where the risk score is still unknown or at least
// the review threshold. Auto-approved applications never appear here.
func (s *Store) ListReviewQueue(ctx context.Context, minRisk float64) ([]models.Application, error) {
	query := `SELECT ` + applicationCols + ` FROM kyc_applications a JOIN users u ON u.id=a.user_id
		WHERE a.status IN (` + placeholders(len(models.ReviewQueueStatuses)) + `)
		AND (a.risk_score IS NULL OR a.risk_score >= ?)
		ORDER BY a.created_at DESC, a.risk_score DESC`
	args := make([]any, 0, len(models.ReviewQueueStatuses)+1)
	for _, st := range models.ReviewQueueStatuses {
		args = append(args, st)
	}
	args = append(args, minRisk)
	return s.queryApplications(ctx, query, args...)
}

// VerifiedIdentity pairs a verified application with its stored
// embedding hash, for rebuilding the in-memory face registry.
type VerifiedIdentity struct {
	AppID         string
	UKN           string
	EmbeddingHash string
}

// ListVerifiedEmbeddings returns the verified identities other than
// excludeID, feeding the duplicate check.
func (s *Store) ListVerifiedEmbeddings(ctx context.Context, excludeID string) ([]VerifiedIdentity, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, ukn, face_embedding_hash FROM kyc_applications
		WHERE status=? AND ukn IS NOT NULL AND face_embedding_hash IS NOT NULL AND id<>?`),
		models.StatusVerified, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VerifiedIdentity
	for rows.Next() {
		var v VerifiedIdentity
		if err := rows.Scan(&v.AppID, &v.UKN, &v.EmbeddingHash); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) SetUserDetails(ctx context.Context, id string, details map[string]any) error {
	raw, err := marshalJSON(details)
	if err != nil {
		return err
	}
	return s.execOne(ctx, `UPDATE kyc_applications SET user_details=?, updated_at=? WHERE id=?`, raw, time.Now().UTC(), id)
}

func (s *Store) UpdateApplicationStatus(ctx context.Context, id, status string, comment *string) error {
	if comment != nil {
		return s.execOne(ctx, `UPDATE kyc_applications SET status=?, reviewer_comment=?, updated_at=? WHERE id=?`, status, *comment, time.Now().UTC(), id)
	}
	return s.execOne(ctx, `UPDATE kyc_applications SET status=?, updated_at=? WHERE id=?`, status, time.Now().UTC(), id)
}

func (s *Store) SetProcessingResults(ctx context.Context, id string, riskScore, faceMatchScore *float64, embeddingHash *string) error {
	return s.execOne(ctx,
		`UPDATE kyc_applications SET risk_score=?, face_match_score=?, face_embedding_hash=?, updated_at=? WHERE id=?`,
		riskScore, faceMatchScore, embeddingHash, time.Now().UTC(), id)
}

// MarkVerified records the approval decision: UKN, ledger hash, validity
// window and comment in one update.
func (s *Store) MarkVerified(ctx context.Context, id, ukn, txHash string, verifiedAt, expiresAt time.Time, comment string) error {
	return s.execOne(ctx,
		`UPDATE kyc_applications SET status=?, ukn=?, ledger_tx_hash=?, verified_at=?, expires_at=?, reviewer_comment=?, updated_at=? WHERE id=?`,
		models.StatusVerified, ukn, txHash, verifiedAt, expiresAt, comment, time.Now().UTC(), id)
}

func (s *Store) CountApplications(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM kyc_applications`).Scan(&n)
	return n, err
}

func (s *Store) CountByStatus(ctx context.Context, statuses ...string) (int, error) {
	query := `SELECT COUNT(1) FROM kyc_applications WHERE status IN (` + placeholders(len(statuses)) + `)`
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n)
	return n, err
}

// CountAutoApproved counts verified applications whose risk score fell
// under the auto-approve threshold.
func (s *Store) CountAutoApproved(ctx context.Context, below float64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM kyc_applications WHERE status=? AND risk_score IS NOT NULL AND risk_score < ?`),
		models.StatusVerified, below).Scan(&n)
	return n, err
}

func (s *Store) AvgRiskScore(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT AVG(risk_score) FROM kyc_applications WHERE risk_score IS NOT NULL`).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// AvgProcessingHours is the mean wall-clock time from submission to
// verification, in hours. Zero when nothing has been verified yet.
func (s *Store) AvgProcessingHours(ctx context.Context) (float64, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT created_at, verified_at FROM kyc_applications WHERE status=? AND verified_at IS NOT NULL`),
		models.StatusVerified)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var total time.Duration
	var n int
	for rows.Next() {
		var created, verified time.Time
		if err := rows.Scan(&created, &verified); err != nil {
			return 0, err
		}
		total += verified.Sub(created)
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return (total / time.Duration(n)).Hours(), nil
}

// ListDedupeQueue returns in-flight applications that carry a face
// embedding hash, for the duplicate-identity review view.
func (s *Store) ListDedupeQueue(ctx context.Context) ([]models.Application, error) {
	query := `SELECT ` + applicationCols + ` FROM kyc_applications a JOIN users u ON u.id=a.user_id
		WHERE a.face_embedding_hash IS NOT NULL AND a.status IN (?,?,?)
		ORDER BY a.created_at DESC`
	return s.queryApplications(ctx, query, models.StatusFlagged, models.StatusInReview, models.StatusProcessing)
}

// ListLedgerBacked returns verified applications with a ledger transaction.
func (s *Store) ListLedgerBacked(ctx context.Context, offset, limit int) ([]models.Application, error) {
	query := `SELECT ` + applicationCols + ` FROM kyc_applications a JOIN users u ON u.id=a.user_id
		WHERE a.status=? AND a.ledger_tx_hash IS NOT NULL AND a.ukn IS NOT NULL
		ORDER BY a.verified_at DESC`
	args := []any{models.StatusVerified}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	return s.queryApplications(ctx, query, args...)
}

func (s *Store) CountEmbeddingMatches(ctx context.Context, embeddingHash, excludeID string) (int, string, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM kyc_applications WHERE face_embedding_hash=? AND id<>? AND status=?`),
		embeddingHash, excludeID, models.StatusVerified).Scan(&n); err != nil {
		return 0, "", err
	}
	var ukn sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT ukn FROM kyc_applications WHERE face_embedding_hash=? AND id<>? AND status=? AND ukn IS NOT NULL LIMIT 1`),
		embeddingHash, excludeID, models.StatusVerified).Scan(&ukn)
	if err == sql.ErrNoRows {
		return n, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return n, ukn.String, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryApplications(ctx context.Context, query string, args ...any) ([]models.Application, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Application
	for rows.Next() {
		a, err := scanApplicationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row *sql.Row) (models.Application, error) {
	a, err := scanApplicationFrom(row)
	if err == sql.ErrNoRows {
		return models.Application{}, ErrNotFound
	}
	return a, err
}

func scanApplicationRows(rows *sql.Rows) (models.Application, error) {
	return scanApplicationFrom(rows)
}

func scanApplicationFrom(r rowScanner) (models.Application, error) {
	var a models.Application
	var ukn, embeddingHash, comment, details, txHash sql.NullString
	var risk, faceMatch sql.NullFloat64
	var verifiedAt, expiresAt sql.NullTime
	err := r.Scan(&a.ID, &a.UserID, &a.UserEmail, &ukn, &a.Status, &risk, &faceMatch, &embeddingHash,
		&comment, &details, &txHash, &verifiedAt, &expiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Application{}, err
	}
	if ukn.Valid {
		v := ukn.String
		a.UKN = &v
	}
	if risk.Valid {
		v := risk.Float64
		a.RiskScore = &v
	}
	if faceMatch.Valid {
		v := faceMatch.Float64
		a.FaceMatchScore = &v
	}
	if embeddingHash.Valid {
		v := embeddingHash.String
		a.FaceEmbeddingHash = &v
	}
	if comment.Valid {
		v := comment.String
		a.ReviewerComment = &v
	}
	a.UserDetails = unmarshalJSON(details)
	if txHash.Valid {
		v := txHash.String
		a.LedgerTxHash = &v
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		a.VerifiedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	return a, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}

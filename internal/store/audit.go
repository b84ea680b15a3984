package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"kycchain/internal/models"
)

func (s *Store) InsertAudit(ctx context.Context, rec models.AuditRecord) (models.AuditRecord, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	raw, err := marshalJSON(rec.Details)
	if err != nil {
		return models.AuditRecord{}, err
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO audit_records(id,entity_type,entity_id,event_type,event_hash,tx_hash,details,performed_by,created_at) VALUES(?,?,?,?,?,?,?,?,?)`),
		rec.ID, rec.EntityType, rec.EntityID, rec.EventType, rec.EventHash, rec.TxHash, raw, rec.PerformedBy, rec.CreatedAt,
	)
	return rec, err
}

func (s *Store) ListAudit(ctx context.Context, q models.AuditQuery) ([]models.AuditRecord, error) {
	query := `SELECT id,entity_type,entity_id,event_type,event_hash,tx_hash,details,performed_by,created_at FROM audit_records`
	args := []any{}
	switch {
	case q.EntityType != "" && q.EntityID != "":
		query += ` WHERE entity_type=? AND entity_id=?`
		args = append(args, q.EntityType, q.EntityID)
	case q.EntityType != "":
		query += ` WHERE entity_type=?`
		args = append(args, q.EntityType)
	}
	query += ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var details sql.NullString
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.EntityID, &rec.EventType, &rec.EventHash, &rec.TxHash, &details, &rec.PerformedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Details = unmarshalJSON(details)
		out = append(out, rec)
	}
	return out, rows.Err()
}

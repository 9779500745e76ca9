package sqlite

import (
	"context"
	"time"

	gateway "github.com/eugener/smaug/internal"
)

// InsertAuditLog appends one admin-action record.
func (s *Store) InsertAuditLog(ctx context.Context, l *gateway.AuditLog) error {
	details, err := marshalJSON(detailsOrNil(l.Details))
	if err != nil {
		return err
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO audit_logs (admin_id, target_user_id, action, details, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.AdminID, l.TargetUserID, l.Action, details, fmtTime(l.CreatedAt),
	)
	if err != nil {
		return err
	}
	l.ID, err = res.LastInsertId()
	return err
}

func detailsOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

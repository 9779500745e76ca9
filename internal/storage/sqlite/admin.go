package sqlite

import (
	"context"
	"database/sql"

	gateway "github.com/eugener/smaug/internal"
)

// userIDs is the set of users known to the gateway: anyone with a balance row
// or at least one dialog. There is no users table; identity lives in the JWT.
const userIDs = `SELECT user_id FROM token_balances UNION SELECT user_id FROM dialogs`

// ListUserSummaries returns one page of per-user aggregates plus the total
// user count.
func (s *Store) ListUserSummaries(ctx context.Context, offset, limit int) ([]*gateway.UserSummary, int, error) {
	var total int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (`+userIDs+`)`,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT u.user_id,
			(SELECT COUNT(*) FROM dialogs d WHERE d.user_id = u.user_id),
			(SELECT COALESCE(SUM(-t.amount), 0) FROM token_transactions t WHERE t.user_id = u.user_id AND t.amount < 0),
			COALESCE(b.balance, 0), b.token_limit
		 FROM (`+userIDs+`) u
		 LEFT JOIN token_balances b ON b.user_id = u.user_id
		 ORDER BY u.user_id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*gateway.UserSummary
	for rows.Next() {
		var u gateway.UserSummary
		var limit sql.NullInt64
		if err := rows.Scan(&u.UserID, &u.DialogCount, &u.TotalUsed, &u.Balance, &limit); err != nil {
			return nil, 0, err
		}
		u.Limit = intPtr(limit)
		out = append(out, &u)
	}
	return out, total, rows.Err()
}

// GetUserDetails returns the aggregate view of one user, or gateway.ErrNotFound
// when the user has neither a balance row nor any dialog.
func (s *Store) GetUserDetails(ctx context.Context, userID int64) (*gateway.UserDetails, error) {
	var d gateway.UserDetails
	var limit sql.NullInt64
	var lastActivity sql.NullString

	err := s.read.QueryRowContext(ctx,
		`SELECT u.user_id,
			(SELECT COUNT(*) FROM dialogs dg WHERE dg.user_id = u.user_id),
			(SELECT COALESCE(SUM(-t.amount), 0) FROM token_transactions t WHERE t.user_id = u.user_id AND t.amount < 0),
			COALESCE(b.balance, 0), b.token_limit,
			(SELECT MAX(dg.created_at) FROM dialogs dg WHERE dg.user_id = u.user_id)
		 FROM (`+userIDs+`) u
		 LEFT JOIN token_balances b ON b.user_id = u.user_id
		 WHERE u.user_id = ?`,
		userID,
	).Scan(&d.UserID, &d.DialogCount, &d.TotalUsed, &d.Balance, &limit, &lastActivity)
	if err != nil {
		return nil, notFoundErr(err)
	}
	d.Limit = intPtr(limit)
	d.LastActivity = parseTime(lastActivity)
	return &d, nil
}

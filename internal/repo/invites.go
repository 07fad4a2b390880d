package repo

import (
	"context"
	"database/sql"

	"matchline/internal/domain"
)

const inviteColumns = `id,task_id,expert_id,wave,score,status,sent_at,responded_at`

func scanInvite(row taskScanner) (domain.Invite, error) {
	var in domain.Invite
	var respondedAt sql.NullString
	err := row.Scan(&in.ID, &in.TaskID, &in.ExpertID, &in.Wave, &in.Score, &in.Status, &in.SentAt, &respondedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	if respondedAt.Valid {
		in.RespondedAt = &respondedAt.String
	}
	return in, nil
}

func (r Repo) InsertInvite(ctx context.Context, tx *sql.Tx, in domain.Invite) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO invites(id,task_id,expert_id,wave,score,status,sent_at,responded_at) VALUES (?,?,?,?,?,?,?,?)`,
		in.ID, in.TaskID, in.ExpertID, in.Wave, in.Score, in.Status, in.SentAt, nullableStringPtr(in.RespondedAt))
	return err
}

func (r Repo) GetInvite(ctx context.Context, id string) (domain.Invite, error) {
	return scanInvite(r.DB.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id=?`, id))
}

func (r Repo) GetInviteTx(ctx context.Context, tx *sql.Tx, id string) (domain.Invite, error) {
	return scanInvite(tx.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id=?`, id))
}

func (r Repo) ListTaskInvites(ctx context.Context, taskID string) ([]domain.Invite, error) {
	return r.listInvites(ctx, `SELECT `+inviteColumns+` FROM invites WHERE task_id=? ORDER BY sent_at ASC, id ASC`, taskID)
}

func (r Repo) ListExpertInvites(ctx context.Context, expertID string) ([]domain.Invite, error) {
	return r.listInvites(ctx, `SELECT `+inviteColumns+` FROM invites WHERE expert_id=? ORDER BY sent_at DESC, id DESC`, expertID)
}

func (r Repo) listInvites(ctx context.Context, query string, args ...any) ([]domain.Invite, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invite
	for rows.Next() {
		in, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// ListInvitedExpertIDs returns every expert ever invited to a task, for the
// per-task dedupe across waves.
func (r Repo) ListInvitedExpertIDs(ctx context.Context, taskID string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT expert_id FROM invites WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	invited := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		invited[id] = true
	}
	return invited, rows.Err()
}

// RespondInvite stamps a response on a sent invite. The WHERE clause carries
// the addressee and pending-status preconditions.
func (r Repo) RespondInvite(ctx context.Context, tx *sql.Tx, inviteID, expertID, status, respondedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE invites SET status=?, responded_at=? WHERE id=? AND expert_id=? AND status='sent'`,
		status, respondedAt, inviteID, expertID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"matchline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `id,subject,title,COALESCE(description,'') AS description,price,deadline_at,status,reserved_by,reserved_until,expert_id,invited_now,current_wave,next_wave_at,created_at,updated_at`

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (domain.Task, error) {
	var t domain.Task
	var reservedBy, reservedUntil, expertID, nextWaveAt sql.NullString
	err := row.Scan(&t.ID, &t.Subject, &t.Title, &t.Description, &t.Price, &t.DeadlineAt, &t.Status,
		&reservedBy, &reservedUntil, &expertID, &t.InvitedNow, &t.CurrentWave, &nextWaveAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if reservedBy.Valid {
		t.ReservedBy = &reservedBy.String
	}
	if reservedUntil.Valid {
		t.ReservedUntil = &reservedUntil.String
	}
	if expertID.Valid {
		t.ExpertID = &expertID.String
	}
	if nextWaveAt.Valid {
		t.NextWaveAt = &nextWaveAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,subject,title,description,price,deadline_at,status,reserved_by,reserved_until,expert_id,invited_now,current_wave,next_wave_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Subject, t.Title, nullable(t.Description), t.Price, t.DeadlineAt, t.Status,
		nullableStringPtr(t.ReservedBy), nullableStringPtr(t.ReservedUntil), nullableStringPtr(t.ExpertID),
		t.InvitedNow, t.CurrentWave, nullableStringPtr(t.NextWaveAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	Status  string
	Subject string
	Limit   int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Subject != "" {
		clauses = append(clauses, "subject=?")
		args = append(args, f.Subject)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ReserveTask conditionally moves an open task to reserved. The status check
// in the WHERE clause is the atomic precondition: zero rows affected means
// another writer got there first.
func (r Repo) ReserveTask(ctx context.Context, tx *sql.Tx, taskID, expertID, until, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='reserved', reserved_by=?, reserved_until=?, updated_at=?
WHERE id=? AND status='open'`, expertID, until, updatedAt, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimTask conditionally converts a reservation held by expertID into a
// permanent assignment.
func (r Repo) ClaimTask(ctx context.Context, tx *sql.Tx, taskID, expertID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='claimed', expert_id=?, reserved_by=NULL, reserved_until=NULL, updated_at=?
WHERE id=? AND status='reserved' AND reserved_by=?`, expertID, updatedAt, taskID, expertID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseTask conditionally returns a reservation held by expertID to open.
func (r Repo) ReleaseTask(ctx context.Context, tx *sql.Tx, taskID, expertID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='open', reserved_by=NULL, reserved_until=NULL, updated_at=?
WHERE id=? AND status='reserved' AND reserved_by=?`, updatedAt, taskID, expertID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseExpiredTask returns a task to open only if it is still reserved and
// the reservation lapsed before now. Re-stating both conditions in the write
// keeps the sweep safe against a concurrent confirm or re-claim.
func (r Repo) ReleaseExpiredTask(ctx context.Context, tx *sql.Tx, taskID, now, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='open', reserved_by=NULL, reserved_until=NULL, updated_at=?
WHERE id=? AND status='reserved' AND reserved_until < ?`, updatedAt, taskID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountActiveReservations counts unexpired reservations held by an expert
// across all tasks.
func (r Repo) CountActiveReservations(ctx context.Context, tx *sql.Tx, expertID, now string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE status='reserved' AND reserved_by=? AND reserved_until > ?`,
		expertID, now).Scan(&count)
	return count, err
}

// ListExpiredReservations returns IDs of tasks whose reservation lapsed.
func (r Repo) ListExpiredReservations(ctx context.Context, now string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tasks WHERE status='reserved' AND reserved_until < ? ORDER BY reserved_until ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExpansionDue returns open tasks past their next-wave time that have not
// hit the invite ceiling.
func (r Repo) ListExpansionDue(ctx context.Context, now string, ceiling int) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE status='open' AND next_wave_at IS NOT NULL AND next_wave_at <= ? AND invited_now < ?
ORDER BY next_wave_at ASC`, now, ceiling)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// BumpTaskWave advances a task's matching metadata after a wave is issued.
func (r Repo) BumpTaskWave(ctx context.Context, tx *sql.Tx, taskID string, invited int, nextWaveAt, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET invited_now=invited_now+?, current_wave=current_wave+1, next_wave_at=?, updated_at=? WHERE id=?`,
		invited, nextWaveAt, updatedAt, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelTask moves an open task to cancelled.
func (r Repo) CancelTask(ctx context.Context, tx *sql.Tx, taskID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='cancelled', updated_at=? WHERE id=? AND status='open'`, updatedAt, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// --- experts ---

func (r Repo) InsertExpert(ctx context.Context, tx *sql.Tx, e domain.ExpertProfile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO experts(id,name,min_price,max_price,level,rating_avg,rating_count,accept_rate,median_response_minutes,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullable(e.Name), nullableFloatPtr(e.MinPrice), nullableFloatPtr(e.MaxPrice), nullable(e.Level),
		e.RatingAvg, e.RatingCount, e.AcceptRate, e.MedianResponseMinutes, e.CreatedAt)
	if err != nil {
		return err
	}
	for _, s := range e.Subjects {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO expert_subjects(expert_id,subject) VALUES (?,?)`, e.ID, s); err != nil {
			return err
		}
	}
	for subject, n := range e.CompletedBySubject {
		if _, err := tx.ExecContext(ctx, `INSERT INTO expert_completions(expert_id,subject,completed) VALUES (?,?,?)
ON CONFLICT(expert_id,subject) DO UPDATE SET completed=excluded.completed`, e.ID, subject, n); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetExpert(ctx context.Context, id string) (domain.ExpertProfile, error) {
	var e domain.ExpertProfile
	var name, level sql.NullString
	var minPrice, maxPrice sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,min_price,max_price,level,rating_avg,rating_count,accept_rate,median_response_minutes,created_at FROM experts WHERE id=?`, id).
		Scan(&e.ID, &name, &minPrice, &maxPrice, &level, &e.RatingAvg, &e.RatingCount, &e.AcceptRate, &e.MedianResponseMinutes, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if name.Valid {
		e.Name = name.String
	}
	if level.Valid {
		e.Level = level.String
	}
	if minPrice.Valid {
		e.MinPrice = &minPrice.Float64
	}
	if maxPrice.Valid {
		e.MaxPrice = &maxPrice.Float64
	}
	if err := r.loadExpertRelations(ctx, &e); err != nil {
		return e, err
	}
	return e, nil
}

func (r Repo) loadExpertRelations(ctx context.Context, e *domain.ExpertProfile) error {
	rows, err := r.DB.QueryContext(ctx, `SELECT subject FROM expert_subjects WHERE expert_id=? ORDER BY subject`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err
		}
		e.Subjects = append(e.Subjects, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	crows, err := r.DB.QueryContext(ctx, `SELECT subject,completed FROM expert_completions WHERE expert_id=?`, e.ID)
	if err != nil {
		return err
	}
	defer crows.Close()
	for crows.Next() {
		var s string
		var n int
		if err := crows.Scan(&s, &n); err != nil {
			return err
		}
		if e.CompletedBySubject == nil {
			e.CompletedBySubject = map[string]int{}
		}
		e.CompletedBySubject[s] = n
	}
	return crows.Err()
}

func (r Repo) ListExperts(ctx context.Context) ([]domain.ExpertProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM experts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.ExpertProfile, 0, len(ids))
	for _, id := range ids {
		e, err := r.GetExpert(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

type EligibilityFilter struct {
	Subject        string
	MinRatingAvg   float64
	MinRatingCount int
}

// EligibleExperts applies the coarse pre-filter: subject coverage plus a
// minimum reputation bar. Fine-grained quality is scoring's job.
func (r Repo) EligibleExperts(ctx context.Context, f EligibilityFilter) ([]domain.ExpertProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT e.id FROM experts e
JOIN expert_subjects s ON s.expert_id = e.id AND s.subject = ?
WHERE e.rating_avg >= ? AND e.rating_count >= ?
ORDER BY e.created_at ASC, e.id ASC`, f.Subject, f.MinRatingAvg, f.MinRatingCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.ExpertProfile, 0, len(ids))
	for _, id := range ids {
		e, err := r.GetExpert(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

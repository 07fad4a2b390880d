package engine

import (
	"context"
	"errors"
	"time"

	"matchline/internal/domain"
	"matchline/internal/events"
)

// SoftClaim places a time-limited exclusive hold on an open task for an
// expert. Exactly one concurrent claimer wins; the rest see NotOpenError.
// A lost conditional write is retried once against fresh state, so a claim
// racing the expiry sweep lands on the reopened task instead of failing.
func (e Engine) SoftClaim(ctx context.Context, taskID, expertID string) (domain.Task, error) {
	t, err := e.softClaimOnce(ctx, taskID, expertID)
	if errors.Is(err, ErrPreconditionFailed) {
		return e.softClaimOnce(ctx, taskID, expertID)
	}
	return t, err
}

func (e Engine) softClaimOnce(ctx context.Context, taskID, expertID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskOpen {
		return domain.Task{}, NotOpenError{Status: t.Status}
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	active, err := e.Repo.CountActiveReservations(ctx, tx, expertID, nowStr)
	if err != nil {
		return domain.Task{}, err
	}
	if active >= e.Config.Reservation.MaxActivePerExpert {
		return domain.Task{}, ErrTooManyReservations
	}
	until := now.Add(e.Config.ReservationTTL()).Format(time.RFC3339)
	ok, err := e.Repo.ReserveTask(ctx, tx, taskID, expertID, until, nowStr)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, ErrPreconditionFailed
	}
	if err := e.Events.Append(ctx, tx, "task.reserved", "task", taskID, expertID, events.EventPayload{
		"reserved_until": until,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// ConfirmClaim converts an unexpired reservation held by expertID into a
// permanent assignment.
func (e Engine) ConfirmClaim(ctx context.Context, taskID, expertID string) (domain.Task, error) {
	t, err := e.confirmOnce(ctx, taskID, expertID)
	if errors.Is(err, ErrPreconditionFailed) {
		return e.confirmOnce(ctx, taskID, expertID)
	}
	return t, err
}

func (e Engine) confirmOnce(ctx context.Context, taskID, expertID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskReserved || t.ReservedBy == nil || *t.ReservedBy != expertID {
		return domain.Task{}, ErrNotReservedByExpert
	}
	now := e.now().UTC()
	if expired(t, now) {
		return domain.Task{}, ErrReservationExpired
	}
	nowStr := now.Format(time.RFC3339)
	ok, err := e.Repo.ClaimTask(ctx, tx, taskID, expertID, nowStr)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, ErrPreconditionFailed
	}
	if err := e.Events.Append(ctx, tx, "task.claimed", "task", taskID, expertID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// CancelReservation releases the expert's own hold and returns the task to
// the open pool immediately, ahead of the TTL.
func (e Engine) CancelReservation(ctx context.Context, taskID, expertID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskReserved || t.ReservedBy == nil || *t.ReservedBy != expertID {
		return domain.Task{}, ErrNotReservedByExpert
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.ReleaseTask(ctx, tx, taskID, expertID, nowStr)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, ErrNotReservedByExpert
	}
	if err := e.Events.Append(ctx, tx, "reservation.cancelled", "task", taskID, expertID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// TaskReservation projects the current reservation of a task, or nil when the
// task is not reserved. A lapsed but unswept reservation shows zero time
// remaining.
func (e Engine) TaskReservation(ctx context.Context, taskID string) (*domain.Reservation, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TaskReserved || t.ReservedBy == nil || t.ReservedUntil == nil {
		return nil, nil
	}
	res := &domain.Reservation{
		TaskID:        t.ID,
		ReservedBy:    *t.ReservedBy,
		ReservedUntil: *t.ReservedUntil,
	}
	if until, err := time.Parse(time.RFC3339, *t.ReservedUntil); err == nil {
		if remaining := until.Sub(e.now().UTC()); remaining > 0 {
			res.TimeRemainingMs = remaining.Milliseconds()
		}
	}
	return res, nil
}

func expired(t domain.Task, now time.Time) bool {
	if t.ReservedUntil == nil {
		return true
	}
	until, err := time.Parse(time.RFC3339, *t.ReservedUntil)
	if err != nil {
		return true
	}
	return !now.Before(until)
}

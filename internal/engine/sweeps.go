package engine

import (
	"context"
	"time"
)

// ReleaseExpiredReservations returns every task whose soft claim lapsed to the
// open pool. Each task is its own transaction and each release re-checks the
// expiry inside the conditional write, so the sweep is idempotent and safe
// against a confirm racing it. Returns the number of tasks released.
func (e Engine) ReleaseExpiredReservations(ctx context.Context) (int, error) {
	nowStr := e.now().UTC().Format(time.RFC3339)
	ids, err := e.Repo.ListExpiredReservations(ctx, nowStr)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, id := range ids {
		ok, err := e.releaseExpired(ctx, id, nowStr)
		if err != nil {
			e.log().Error("expiry sweep failed for task", "task_id", id, "error", err)
			continue
		}
		if ok {
			released++
		}
	}
	return released, nil
}

func (e Engine) releaseExpired(ctx context.Context, taskID, nowStr string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.ReleaseExpiredTask(ctx, tx, taskID, nowStr, nowStr)
	if err != nil {
		return false, err
	}
	if !ok {
		// Confirmed, cancelled, or already swept since the listing.
		return false, nil
	}
	if err := e.Events.Append(ctx, tx, "reservation.expired", "task", taskID, "", nil); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ProcessExpansions issues the next invite wave for every open task whose
// wave interval elapsed without a claim. Returns the number of tasks that
// received new invites.
func (e Engine) ProcessExpansions(ctx context.Context) (int, error) {
	nowStr := e.now().UTC().Format(time.RFC3339)
	due, err := e.Repo.ListExpansionDue(ctx, nowStr, e.Config.Waves.InviteCeiling)
	if err != nil {
		return 0, err
	}
	expanded := 0
	for _, t := range due {
		sent, err := e.IssueWave(ctx, t.ID, 0)
		if err != nil {
			e.log().Error("expansion wave failed for task", "task_id", t.ID, "error", err)
			continue
		}
		if len(sent) > 0 {
			expanded++
		}
	}
	return expanded, nil
}

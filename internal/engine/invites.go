package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"matchline/internal/domain"
	"matchline/internal/events"
	"matchline/internal/repo"
	"matchline/internal/scoring"
)

// IssueWave scores the eligible pool for a task, picks the top candidates not
// yet invited, and records their invites plus the task's advanced wave
// metadata in one transaction. maxInvites <= 0 means the configured size of
// the task's next wave. The per-task invite ceiling is enforced regardless.
//
// Notifications go out after commit, best-effort.
func (e Engine) IssueWave(ctx context.Context, taskID string, maxInvites int) ([]domain.Invite, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TaskOpen {
		return nil, NotOpenError{Status: t.Status}
	}
	wave := t.CurrentWave + 1
	if maxInvites <= 0 {
		maxInvites = e.Config.WaveSize(wave)
	}
	if room := e.Config.Waves.InviteCeiling - t.InvitedNow; maxInvites > room {
		maxInvites = room
	}
	if maxInvites <= 0 {
		return []domain.Invite{}, nil
	}

	eligible, err := e.EligibleExperts(ctx, t)
	if err != nil {
		return nil, err
	}
	invited, err := e.Repo.ListInvitedExpertIDs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	ranked := scoring.RankExperts(t, eligible, now, e.Config.Scoring.Weights)

	var selected []scoring.Ranked
	for _, r := range ranked {
		if invited[r.Expert.ID] {
			continue
		}
		selected = append(selected, r)
		if len(selected) == maxInvites {
			break
		}
	}

	nowStr := now.Format(time.RFC3339)
	nextWaveAt := now.Add(e.Config.WaveInterval()).Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sent := make([]domain.Invite, 0, len(selected))
	for _, r := range selected {
		in := domain.Invite{
			ID:       ulid.Make().String(),
			TaskID:   taskID,
			ExpertID: r.Expert.ID,
			Wave:     wave,
			Score:    r.Score.Total,
			Status:   domain.InviteSent,
			SentAt:   nowStr,
		}
		if err := e.Repo.InsertInvite(ctx, tx, in); err != nil {
			return nil, err
		}
		sent = append(sent, in)
	}
	if err := e.Repo.BumpTaskWave(ctx, tx, taskID, len(sent), nextWaveAt, nowStr); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "invite.wave", "task", taskID, "", events.EventPayload{
		"wave":    wave,
		"invited": len(sent),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if e.Notifier != nil {
		for _, in := range sent {
			e.Notifier.NotifyInvite(ctx, in, t)
		}
	}
	return sent, nil
}

// RespondInvite records an expert's accept or decline. Only the addressee may
// respond, and only while the invite is still pending. Accepting an invite
// does not reserve the task; the expert soft-claims separately and may lose
// that race.
func (e Engine) RespondInvite(ctx context.Context, inviteID, expertID, status string) (domain.Invite, error) {
	if status != domain.InviteAccepted && status != domain.InviteDeclined {
		return domain.Invite{}, fmt.Errorf("invalid invite response %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invite{}, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInviteTx(ctx, tx, inviteID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Invite{}, ErrInviteNotFound
	}
	if err != nil {
		return domain.Invite{}, err
	}
	if in.ExpertID != expertID {
		return domain.Invite{}, ErrUnauthorized
	}
	if in.Status != domain.InviteSent {
		return domain.Invite{}, ErrInviteAlreadyResponded
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.RespondInvite(ctx, tx, inviteID, expertID, status, nowStr)
	if err != nil {
		return domain.Invite{}, err
	}
	if !ok {
		return domain.Invite{}, ErrInviteAlreadyResponded
	}
	if err := e.Events.Append(ctx, tx, "invite.responded", "invite", inviteID, expertID, events.EventPayload{
		"task_id": in.TaskID,
		"status":  status,
	}); err != nil {
		return domain.Invite{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invite{}, err
	}
	return e.Repo.GetInvite(ctx, inviteID)
}

// TaskInvites lists a task's invites in send order.
func (e Engine) TaskInvites(ctx context.Context, taskID string) ([]domain.Invite, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListTaskInvites(ctx, taskID)
}

// ExpertInvites lists an expert's invites, newest first.
func (e Engine) ExpertInvites(ctx context.Context, expertID string) ([]domain.Invite, error) {
	if _, err := e.Repo.GetExpert(ctx, expertID); err != nil {
		return nil, err
	}
	return e.Repo.ListExpertInvites(ctx, expertID)
}

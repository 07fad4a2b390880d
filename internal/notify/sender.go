// Package notify delivers Web Push notifications to invited experts.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"matchline/internal/config"
	"matchline/internal/domain"
	"matchline/internal/repo"
)

// Sender pushes invite notifications to every endpoint an expert registered.
// It satisfies the engine's Notifier interface. Without VAPID keys it is a
// no-op, so deployments can run matching without push configured.
type Sender struct {
	Repo repo.Repo
	Cfg  *config.Config
	Log  *slog.Logger
}

func NewSender(r repo.Repo, cfg *config.Config, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{Repo: r, Cfg: cfg, Log: log}
}

type invitePayload struct {
	Type     string  `json:"type"`
	InviteID string  `json:"invite_id"`
	TaskID   string  `json:"task_id"`
	Subject  string  `json:"subject"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Deadline string  `json:"deadline_at"`
	Wave     int     `json:"wave"`
}

// NotifyInvite sends one push per registered endpoint. Failures are logged
// and swallowed; a dead endpoint (404/410) is dropped from the store.
func (s *Sender) NotifyInvite(ctx context.Context, invite domain.Invite, task domain.Task) {
	if s.Cfg.Push.VAPIDPublicKey == "" || s.Cfg.Push.VAPIDPrivateKey == "" {
		return
	}
	subs, err := s.Repo.ListPushSubscriptions(ctx, invite.ExpertID)
	if err != nil {
		s.Log.Error("list push subscriptions failed", "expert_id", invite.ExpertID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(invitePayload{
		Type:     "invite",
		InviteID: invite.ID,
		TaskID:   task.ID,
		Subject:  task.Subject,
		Title:    task.Title,
		Price:    task.Price,
		Deadline: task.DeadlineAt,
		Wave:     invite.Wave,
	})
	if err != nil {
		s.Log.Error("encode push payload failed", "error", err)
		return
	}
	for _, sub := range subs {
		s.send(ctx, sub, body)
	}
}

func (s *Sender) send(ctx context.Context, sub domain.PushSubscription, body []byte) {
	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		Subscriber:      s.Cfg.Push.Contact,
		VAPIDPublicKey:  s.Cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: s.Cfg.Push.VAPIDPrivateKey,
		TTL:             300,
	})
	if err != nil {
		s.Log.Warn("push delivery failed", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		// The push service discarded the subscription.
		if err := s.Repo.DeletePushSubscriptionByEndpoint(ctx, sub.Endpoint); err != nil {
			s.Log.Warn("drop dead push endpoint failed", "endpoint", sub.Endpoint, "error", err)
		}
	default:
		if resp.StatusCode >= 400 {
			s.Log.Warn("push service rejected notification", "endpoint", sub.Endpoint, "status", resp.StatusCode)
		}
	}
}

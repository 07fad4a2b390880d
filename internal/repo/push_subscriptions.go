package repo

import (
	"context"
	"time"

	"matchline/internal/domain"
)

// UpsertPushSubscription registers a Web Push endpoint for an expert.
// Endpoints are unique; re-registering refreshes the keys.
func (r Repo) UpsertPushSubscription(ctx context.Context, sub domain.PushSubscription) error {
	if sub.CreatedAt == "" {
		sub.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO push_subscriptions(id,expert_id,endpoint,p256dh_key,auth_key,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(endpoint) DO UPDATE SET expert_id=excluded.expert_id, p256dh_key=excluded.p256dh_key, auth_key=excluded.auth_key`,
		sub.ID, sub.ExpertID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.CreatedAt)
	return err
}

// ListPushSubscriptions returns registered endpoints for one expert.
func (r Repo) ListPushSubscriptions(ctx context.Context, expertID string) ([]domain.PushSubscription, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,expert_id,endpoint,p256dh_key,auth_key,created_at FROM push_subscriptions WHERE expert_id=?`, expertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PushSubscription
	for rows.Next() {
		var s domain.PushSubscription
		if err := rows.Scan(&s.ID, &s.ExpertID, &s.Endpoint, &s.P256dhKey, &s.AuthKey, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DeletePushSubscriptionByEndpoint removes a dead endpoint.
func (r Repo) DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint=?`, endpoint)
	return err
}

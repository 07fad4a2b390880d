package server

// Request payloads. Responses serialize the domain structs directly.

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Subject     string  `json:"subject"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Price       float64 `json:"price"`
	DeadlineAt  string  `json:"deadline_at" format:"date-time"`
	// SkipFirstWave creates the task without inviting anyone, leaving the
	// first wave to a manual trigger or the scheduler.
	SkipFirstWave bool `json:"skip_first_wave,omitempty"`
}

type CreateExpertRequest struct {
	ID                    *string        `json:"id,omitempty"`
	Name                  *string        `json:"name,omitempty"`
	Subjects              []string       `json:"subjects"`
	MinPrice              *float64       `json:"min_price,omitempty"`
	MaxPrice              *float64       `json:"max_price,omitempty"`
	Level                 *string        `json:"level,omitempty"`
	RatingAvg             float64        `json:"rating_avg"`
	RatingCount           int            `json:"rating_count"`
	AcceptRate            float64        `json:"accept_rate"`
	MedianResponseMinutes float64        `json:"median_response_minutes"`
	CompletedBySubject    map[string]int `json:"completed_by_subject,omitempty"`
}

type IssueWaveRequest struct {
	// MaxInvites caps the wave; 0 means the configured size for the task's
	// next wave.
	MaxInvites int `json:"max_invites,omitempty"`
}

type RespondInviteRequest struct {
	Status string `json:"status" enum:"accepted,declined"`
}

type PushSubscriptionRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

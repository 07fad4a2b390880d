package domain

// Task statuses. Matching only ever moves a task between open, reserved and
// claimed; in_progress, completed and cancelled are driven by other systems.
const (
	TaskOpen       = "open"
	TaskReserved   = "reserved"
	TaskClaimed    = "claimed"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"
)

// Invite statuses.
const (
	InviteSent     = "sent"
	InviteAccepted = "accepted"
	InviteDeclined = "declined"
)

type Task struct {
	ID          string  `json:"id"`
	Subject     string  `json:"subject"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	DeadlineAt  string  `json:"deadline_at" format:"date-time"`
	Status      string  `json:"status" enum:"open,reserved,claimed,in_progress,completed,cancelled"`

	ReservedBy    *string `json:"reserved_by,omitempty"`
	ReservedUntil *string `json:"reserved_until,omitempty" format:"date-time"`
	ExpertID      *string `json:"expert_id,omitempty"`

	// Matching metadata maintained by the invite coordinator.
	InvitedNow  int     `json:"invited_now"`
	CurrentWave int     `json:"current_wave"`
	NextWaveAt  *string `json:"next_wave_at,omitempty" format:"date-time"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// ExpertProfile is read-only from the engine's perspective; reputation fields
// are mutated elsewhere.
type ExpertProfile struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name,omitempty"`
	Subjects              []string       `json:"subjects"`
	MinPrice              *float64       `json:"min_price,omitempty"`
	MaxPrice              *float64       `json:"max_price,omitempty"`
	Level                 string         `json:"level,omitempty"`
	RatingAvg             float64        `json:"rating_avg"`
	RatingCount           int            `json:"rating_count"`
	AcceptRate            float64        `json:"accept_rate"`
	MedianResponseMinutes float64        `json:"median_response_minutes"`
	CompletedBySubject    map[string]int `json:"completed_by_subject,omitempty"`
	CreatedAt             string         `json:"created_at" format:"date-time"`
}

// Invite is append-only history: one row per (task, expert), never deleted.
type Invite struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	ExpertID    string  `json:"expert_id"`
	Wave        int     `json:"wave"`
	Score       float64 `json:"score"`
	Status      string  `json:"status" enum:"sent,accepted,declined"`
	SentAt      string  `json:"sent_at" format:"date-time"`
	RespondedAt *string `json:"responded_at,omitempty" format:"date-time"`
}

// Reservation is the read projection of a task's active soft claim.
type Reservation struct {
	TaskID          string `json:"task_id"`
	ReservedBy      string `json:"reserved_by"`
	ReservedUntil   string `json:"reserved_until" format:"date-time"`
	TimeRemainingMs int64  `json:"time_remaining_ms"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ExpertID  string `json:"expert_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// PushSubscription is a Web Push endpoint registered by an expert's client.
type PushSubscription struct {
	ID        string `json:"id"`
	ExpertID  string `json:"expert_id"`
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

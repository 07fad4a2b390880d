// Package matchlinesdk is a minimal HTTP client for the Matchline API.
package matchlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Matchline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID            string  `json:"id"`
	Subject       string  `json:"subject"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	DeadlineAt    string  `json:"deadline_at"`
	Status        string  `json:"status"`
	ReservedBy    *string `json:"reserved_by,omitempty"`
	ReservedUntil *string `json:"reserved_until,omitempty"`
	ExpertID      *string `json:"expert_id,omitempty"`
	InvitedNow    int     `json:"invited_now"`
	CurrentWave   int     `json:"current_wave"`
	NextWaveAt    *string `json:"next_wave_at,omitempty"`
}

// Invite represents an invitation to work on a task.
type Invite struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	ExpertID    string  `json:"expert_id"`
	Wave        int     `json:"wave"`
	Score       float64 `json:"score"`
	Status      string  `json:"status"`
	SentAt      string  `json:"sent_at"`
	RespondedAt *string `json:"responded_at,omitempty"`
}

// Reservation is the current soft claim on a task.
type Reservation struct {
	TaskID          string `json:"task_id"`
	ReservedBy      string `json:"reserved_by"`
	ReservedUntil   string `json:"reserved_until"`
	TimeRemainingMs int64  `json:"time_remaining_ms"`
}

// Expert represents an expert profile.
type Expert struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Subjects    []string `json:"subjects"`
	RatingAvg   float64  `json:"rating_avg"`
	RatingCount int      `json:"rating_count"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask posts a task into matching.
func (c *Client) CreateTask(ctx context.Context, subject, title string, price float64, deadlineAt string) (Task, error) {
	body := map[string]any{
		"subject":     subject,
		"title":       title,
		"price":       price,
		"deadline_at": deadlineAt,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, ""), nil, &resp)
	return resp, err
}

// Claim soft-claims a task for the authenticated expert.
func (c *Client) Claim(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "claim"), nil, &resp)
	return resp, err
}

// Confirm converts the reservation into a permanent claim.
func (c *Client) Confirm(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "confirm"), nil, &resp)
	return resp, err
}

// Release cancels the authenticated expert's reservation.
func (c *Client) Release(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "release"), nil, &resp)
	return resp, err
}

// TaskReservation returns the task's current reservation, or nil.
func (c *Client) TaskReservation(ctx context.Context, taskID string) (*Reservation, error) {
	var resp *Reservation
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "reservation"), nil, &resp)
	return resp, err
}

// IssueWave triggers the next invite wave for a task.
func (c *Client) IssueWave(ctx context.Context, taskID string, maxInvites int) ([]Invite, error) {
	body := map[string]any{"max_invites": maxInvites}
	var resp []Invite
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "waves"), body, &resp)
	return resp, err
}

// TaskInvites lists a task's invites.
func (c *Client) TaskInvites(ctx context.Context, taskID string) ([]Invite, error) {
	var resp []Invite
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "invites"), nil, &resp)
	return resp, err
}

// ExpertInvites lists the invites addressed to an expert.
func (c *Client) ExpertInvites(ctx context.Context, expertID string) ([]Invite, error) {
	var resp []Invite
	endpoint := fmt.Sprintf("v0/experts/%s/invites", url.PathEscape(expertID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RespondInvite accepts or declines an invite.
func (c *Client) RespondInvite(ctx context.Context, inviteID, status string) (Invite, error) {
	body := map[string]any{"status": status}
	var resp Invite
	endpoint := fmt.Sprintf("v0/invites/%s/respond", url.PathEscape(inviteID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) taskPath(taskID, action string) string {
	p := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

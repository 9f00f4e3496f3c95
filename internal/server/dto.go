package server

import (
	"net/http"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

// Request payloads

type CredentialsRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"1"`
}

type CreateTaskRequest struct {
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	Intent              string         `json:"intent,omitempty" enum:"research,build,write,think,admin,ops"`
	Priority            int            `json:"priority,omitempty"`
	Context             map[string]any `json:"context,omitempty"`
	ParentTaskID        string         `json:"parent_task_id,omitempty"`
	AssignedAgent       string         `json:"assigned_agent,omitempty"`
	RequiresHumanReview bool           `json:"requires_human_review,omitempty"`
	Artifacts           []string       `json:"artifacts,omitempty"`
}

func (r CreateTaskRequest) input() engine.TaskInput {
	return engine.TaskInput{
		Title:               r.Title,
		Description:         r.Description,
		Intent:              domain.Intent(r.Intent),
		Priority:            r.Priority,
		Context:             r.Context,
		ParentTaskID:        r.ParentTaskID,
		AssignedAgent:       r.AssignedAgent,
		RequiresHumanReview: r.RequiresHumanReview,
		Artifacts:           r.Artifacts,
	}
}

// UpdateTaskRequest is a partial update. parent_task_id and assigned_agent
// accept null to clear them.
type UpdateTaskRequest struct {
	Title               *string         `json:"title,omitempty"`
	Description         *string         `json:"description,omitempty"`
	Intent              *string         `json:"intent,omitempty" enum:"research,build,write,think,admin,ops"`
	Status              *string         `json:"status,omitempty" enum:"todo,in_progress,blocked,review,done"`
	Priority            *int            `json:"priority,omitempty"`
	Context             *map[string]any `json:"context,omitempty"`
	ParentTaskID        *string         `json:"parent_task_id,omitempty" nullable:"true"`
	AssignedAgent       *string         `json:"assigned_agent,omitempty" nullable:"true"`
	Result              *map[string]any `json:"result,omitempty"`
	Artifacts           *[]string       `json:"artifacts,omitempty"`
	Confidence          *float64        `json:"confidence,omitempty"`
	RequiresHumanReview *bool           `json:"requires_human_review,omitempty"`
}

type BlockRequest struct {
	Reason string `json:"reason"`
}

type CompleteRequest struct {
	Result              map[string]any `json:"result,omitempty"`
	Confidence          *float64       `json:"confidence,omitempty"`
	RequiresHumanReview *bool          `json:"requires_human_review,omitempty"`
	Artifacts           []string       `json:"artifacts,omitempty"`
}

type ReviewRequest struct {
	Note string `json:"note,omitempty"`
}

type LogRequest struct {
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}

type CreateKeyRequest struct {
	Name        string             `json:"name"`
	Permissions domain.Permissions `json:"permissions"`
}

// Response payloads

type HealthResponse struct {
	Status   string `json:"status" example:"ok"`
	Database string `json:"database" example:"ok"`
}

type SessionResponse struct {
	User      domain.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
}

type MeResponse struct {
	User        domain.User        `json:"user"`
	Actor       string             `json:"actor"`
	Source      string             `json:"source" enum:"api_key,session"`
	KeyID       string             `json:"key_id,omitempty"`
	Permissions domain.Permissions `json:"permissions"`
}

type CreatedKeyResponse struct {
	APIKey domain.APIKey `json:"api_key"`
	// Key is the plaintext credential. It is only ever returned here.
	Key string `json:"key"`
}

type URLResponse struct {
	URL string `json:"url" format:"uri"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

// Operation outputs

type taskOutput struct {
	Body domain.Task
}

type taskPageOutput struct {
	Body engine.TaskPage
}

type activityOutput struct {
	Body []domain.ActivityLog
}

type logOutput struct {
	Body domain.ActivityLog
}

type attachmentsOutput struct {
	Body []domain.Attachment
}

type sessionOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      SessionResponse
}

type urlOutput struct {
	Body URLResponse
}

type taskPath struct {
	ID string `path:"id" maxLength:"64"`
}

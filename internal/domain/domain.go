package domain

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeFormat is the fixed-width UTC layout used for every stored timestamp so
// that lexical order matches chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

var Statuses = []Status{StatusTodo, StatusInProgress, StatusBlocked, StatusReview, StatusDone}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusDone }

type Intent string

const (
	IntentResearch Intent = "research"
	IntentBuild    Intent = "build"
	IntentWrite    Intent = "write"
	IntentThink    Intent = "think"
	IntentAdmin    Intent = "admin"
	IntentOps      Intent = "ops"
)

var Intents = []Intent{IntentResearch, IntentBuild, IntentWrite, IntentThink, IntentAdmin, IntentOps}

func (i Intent) Valid() bool {
	for _, v := range Intents {
		if v == i {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionCreated       Action = "created"
	ActionClaimed       Action = "claimed"
	ActionUpdated       Action = "updated"
	ActionBlocked       Action = "blocked"
	ActionCompleted     Action = "completed"
	ActionAddedSubtask  Action = "added_subtask"
	ActionRequestReview Action = "request_review"
	ActionUnclaimed     Action = "unclaimed"
)

var Actions = []Action{
	ActionCreated, ActionClaimed, ActionUpdated, ActionBlocked,
	ActionCompleted, ActionAddedSubtask, ActionRequestReview, ActionUnclaimed,
}

func (a Action) Valid() bool {
	for _, v := range Actions {
		if v == a {
			return true
		}
	}
	return false
}

// Document is a schemaless JSON object (task context, result, log details).
type Document map[string]any

type Task struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	Intent              Intent   `json:"intent"`
	Status              Status   `json:"status"`
	Priority            int      `json:"priority"`
	Context             Document `json:"context"`
	ParentTaskID        *string  `json:"parent_task_id,omitempty"`
	AssignedAgent       *string  `json:"assigned_agent,omitempty"`
	CreatedBy           string   `json:"created_by"`
	Result              Document `json:"result,omitempty"`
	Artifacts           []string `json:"artifacts"`
	Confidence          *float64 `json:"confidence,omitempty"`
	RequiresHumanReview bool     `json:"requires_human_review"`
	Blockers            []string `json:"blockers"`
	ClaimedAt           *string  `json:"claimed_at,omitempty"`
	CompletedAt         *string  `json:"completed_at,omitempty"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
	DeletedAt           *string  `json:"deleted_at,omitempty"`
}

type ActivityLog struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id"`
	Agent     string   `json:"agent"`
	Action    Action   `json:"action"`
	Details   Document `json:"details"`
	CreatedAt string   `json:"created_at"`
}

// Permissions is the capability set carried by an API key.
type Permissions struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

type APIKey struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Name        string      `json:"name"`
	Permissions Permissions `json:"permissions"`
	KeyHash     string      `json:"-"`
	LastUsedAt  *string     `json:"last_used_at,omitempty"`
	CreatedAt   string      `json:"created_at"`
}

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

type User struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	PasswordHash      string `json:"-"`
	Plan              Plan   `json:"plan"`
	BillingCustomerID string `json:"billing_customer_id,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type Attachment struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	OwnerID     string `json:"owner_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	StorageKey  string `json:"-"`
	CreatedAt   string `json:"created_at"`
}

var shortEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewShortID returns a 12-character lowercase base32 identifier drawn from a
// random UUID.
func NewShortID() string {
	u := uuid.New()
	return strings.ToLower(shortEncoding.EncodeToString(u[:]))[:12]
}

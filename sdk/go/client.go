package taskboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Taskboard HTTP API client for agents.
type Client struct {
	// BaseURL includes the API base path, e.g. https://tasks.example.com/api.
	BaseURL string
	APIKey  string
	// Agent is sent as X-Agent-Id and recorded in activity instead of the
	// key name.
	Agent      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID                  string         `json:"id"`
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	Intent              string         `json:"intent"`
	Status              string         `json:"status"`
	Priority            int            `json:"priority"`
	Context             map[string]any `json:"context"`
	ParentTaskID        *string        `json:"parent_task_id,omitempty"`
	AssignedAgent       *string        `json:"assigned_agent,omitempty"`
	CreatedBy           string         `json:"created_by"`
	Result              map[string]any `json:"result,omitempty"`
	Artifacts           []string       `json:"artifacts"`
	Confidence          *float64       `json:"confidence,omitempty"`
	RequiresHumanReview bool           `json:"requires_human_review"`
	Blockers            []string       `json:"blockers"`
	ClaimedAt           *string        `json:"claimed_at,omitempty"`
	CompletedAt         *string        `json:"completed_at,omitempty"`
	CreatedAt           string         `json:"created_at"`
	UpdatedAt           string         `json:"updated_at"`
}

// NewTask is the body of a task or subtask creation.
type NewTask struct {
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	Intent              string         `json:"intent,omitempty"`
	Priority            int            `json:"priority,omitempty"`
	Context             map[string]any `json:"context,omitempty"`
	ParentTaskID        string         `json:"parent_task_id,omitempty"`
	AssignedAgent       string         `json:"assigned_agent,omitempty"`
	RequiresHumanReview bool           `json:"requires_human_review,omitempty"`
	Artifacts           []string       `json:"artifacts,omitempty"`
}

// Completion is the body of a complete call.
type Completion struct {
	Result              map[string]any `json:"result,omitempty"`
	Confidence          *float64       `json:"confidence,omitempty"`
	RequiresHumanReview *bool          `json:"requires_human_review,omitempty"`
	Artifacts           []string       `json:"artifacts,omitempty"`
}

// Activity represents an activity log entry.
type Activity struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Agent     string         `json:"agent"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt string         `json:"created_at"`
}

// Attachment describes an uploaded file.
type Attachment struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	CreatedAt   string `json:"created_at"`
}

// TaskPage wraps list responses with a cursor.
type TaskPage struct {
	Tasks      []Task `json:"tasks"`
	NextCursor string `json:"next_cursor"`
}

// ListOptions filters ListTasks. Zero values are omitted.
type ListOptions struct {
	Status        string
	Intent        string
	AssignedAgent string
	ParentTaskID  string
	Limit         int
	Cursor        string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"error"`
	Details    map[string]any `json:"details"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
}

// ListTasks returns one page of tasks.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("status", opts.Status)
	set("intent", opts.Intent)
	set("assigned_agent", opts.AssignedAgent)
	set("parent_task_id", opts.ParentTaskID)
	set("cursor", opts.Cursor)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &resp)
	return resp, err
}

// NextTask returns the next task for this agent; claim starts it too.
func (c *Client) NextTask(ctx context.Context, intent string, claim bool) (Task, error) {
	endpoint := "tasks/next"
	if intent != "" {
		endpoint += "?intent=" + url.QueryEscape(intent)
	}
	method := http.MethodGet
	if claim {
		method = http.MethodPost
	}
	var resp Task
	err := c.do(ctx, method, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Start(ctx context.Context, id string) (Task, error) {
	return c.taskAction(ctx, id, "start", nil)
}

func (c *Client) Block(ctx context.Context, id, reason string) (Task, error) {
	return c.taskAction(ctx, id, "block", map[string]any{"reason": reason})
}

func (c *Client) Complete(ctx context.Context, id string, in Completion) (Task, error) {
	return c.taskAction(ctx, id, "complete", in)
}

func (c *Client) RequestReview(ctx context.Context, id, note string) (Task, error) {
	return c.taskAction(ctx, id, "review", map[string]any{"note": note})
}

func (c *Client) Unclaim(ctx context.Context, id string) (Task, error) {
	return c.taskAction(ctx, id, "unclaim", nil)
}

// AddSubtask creates a child of parentID.
func (c *Client) AddSubtask(ctx context.Context, parentID string, t NewTask) (Task, error) {
	return c.taskAction(ctx, parentID, "subtasks", t)
}

// Log appends an activity entry to a task.
func (c *Client) Log(ctx context.Context, id, action string, details map[string]any) (Activity, error) {
	var resp Activity
	body := struct {
		Action  string         `json:"action"`
		Details map[string]any `json:"details,omitempty"`
	}{action, details}
	err := c.do(ctx, http.MethodPost, taskPath(id, "log"), body, &resp)
	return resp, err
}

// Activity returns the activity log of a task, oldest first.
func (c *Client) Activity(ctx context.Context, id string) ([]Activity, error) {
	var resp []Activity
	err := c.do(ctx, http.MethodGet, taskPath(id, "activity"), nil, &resp)
	return resp, err
}

// Upload streams body as a new attachment of task id.
func (c *Client) Upload(ctx context.Context, id, filename, contentType string, body io.Reader) (Attachment, error) {
	req, err := c.request(ctx, http.MethodPost, taskPath(id, "attachments")+"?filename="+url.QueryEscape(filename), body)
	if err != nil {
		return Attachment{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	var resp Attachment
	err = c.send(req, &resp)
	return resp, err
}

// Download returns the content of an attachment. The caller closes it.
func (c *Client) Download(ctx context.Context, id, attachmentID string) (io.ReadCloser, error) {
	req, err := c.request(ctx, http.MethodGet, taskPath(id, "attachments/"+url.PathEscape(attachmentID)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

func (c *Client) taskAction(ctx context.Context, id, action string, body any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(id, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := c.request(ctx, method, endpoint, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) request(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	if c.Agent != "" {
		req.Header.Set("X-Agent-Id", c.Agent)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	b, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(b, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}

func taskPath(id, sub string) string {
	p := "tasks/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

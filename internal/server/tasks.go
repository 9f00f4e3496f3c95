package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

func taskResult(ctx context.Context, t domain.Task, err error) (*taskOutput, error) {
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return &taskOutput{Body: t}, nil
}

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

type nextQuery struct {
	Intent string `query:"intent" enum:"research,build,write,think,admin,ops"`
	Agent  string `query:"agent" maxLength:"64"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status"`
		Intent         string `query:"intent"`
		AssignedAgent  string `query:"assigned_agent"`
		ParentTaskID   string `query:"parent_task_id"`
		IncludeDeleted bool   `query:"include_deleted"`
		Limit          int    `query:"limit" minimum:"0"`
		Cursor         string `query:"cursor"`
	}) (*taskPageOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.ListTasks(ctx, id, engine.ListOptions{
			Status:         domain.Status(input.Status),
			Intent:         domain.Intent(input.Intent),
			AssignedAgent:  input.AssignedAgent,
			ParentTaskID:   input.ParentTaskID,
			IncludeDeleted: input.IncludeDeleted,
			Limit:          input.Limit,
			Cursor:         input.Cursor,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskPageOutput{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, id, input.Body.input())
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "peek-next-task",
		Method:      http.MethodGet,
		Path:        "/tasks/next",
		Summary:     "Highest-priority todo task for an agent",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *nextQuery) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.NextTask(ctx, id, engine.NextOptions{Intent: domain.Intent(input.Intent), Agent: input.Agent})
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-next-task",
		Method:      http.MethodPost,
		Path:        "/tasks/next",
		Summary:     "Claim the next todo task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *nextQuery) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.NextTask(ctx, id, engine.NextOptions{Intent: domain.Intent(input.Intent), Agent: input.Agent, Claim: true})
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, id, input.ID)
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id" maxLength:"64"`
		Body UpdateTaskRequest
	}) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, id, input.ID, taskPatch(input.Body, rawBodyMap(ctx)))
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Soft-delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, id, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/activity",
		Summary:     "Task activity, newest first",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id" maxLength:"64"`
		Limit int    `query:"limit" minimum:"0"`
	}) (*activityOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		logs, err := e.ListActivity(ctx, id, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &activityOutput{Body: logs}, nil
	})
}

// taskPatch converts a decoded PATCH body. Explicit nulls on the clearable
// references become empty strings.
func taskPatch(in UpdateTaskRequest, raw map[string]json.RawMessage) engine.TaskPatch {
	p := engine.TaskPatch{
		Title:               in.Title,
		Description:         in.Description,
		Priority:            in.Priority,
		ParentTaskID:        in.ParentTaskID,
		AssignedAgent:       in.AssignedAgent,
		Artifacts:           in.Artifacts,
		Confidence:          in.Confidence,
		RequiresHumanReview: in.RequiresHumanReview,
	}
	if in.Intent != nil {
		v := domain.Intent(*in.Intent)
		p.Intent = &v
	}
	if in.Status != nil {
		v := domain.Status(*in.Status)
		p.Status = &v
	}
	if in.Context != nil {
		v := domain.Document(*in.Context)
		p.Context = &v
	}
	if in.Result != nil {
		v := domain.Document(*in.Result)
		p.Result = &v
	}
	none := ""
	if isNullRaw(raw["parent_task_id"]) {
		p.ParentTaskID = &none
	}
	if isNullRaw(raw["assigned_agent"]) {
		p.AssignedAgent = &none
	}
	return p
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/start",
		Summary:     "Claim and start a task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Start(ctx, id, input.ID)
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "block-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/block",
		Summary:     "Block a task with a reason",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id" maxLength:"64"`
		Body BlockRequest
	}) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Block(ctx, id, input.ID, input.Body.Reason)
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete a task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id" maxLength:"64"`
		Body CompleteRequest `required:"false"`
	}) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Complete(ctx, id, input.ID, engine.CompleteInput{
			Result:              input.Body.Result,
			Confidence:          input.Body.Confidence,
			RequiresHumanReview: input.Body.RequiresHumanReview,
			Artifacts:           input.Body.Artifacts,
		})
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-review",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Hand a task to a human for review",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id" maxLength:"64"`
		Body ReviewRequest `required:"false"`
	}) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RequestReview(ctx, id, input.ID, input.Body.Note)
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "unclaim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/unclaim",
		Summary:     "Return a task to todo",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Unclaim(ctx, id, input.ID)
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-subtask",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/subtasks",
		Summary:       "Create a subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id" maxLength:"64"`
		Body CreateTaskRequest
	}) (*taskOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AddSubtask(ctx, id, input.ID, input.Body.input())
		return taskResult(ctx, t, err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "log-activity",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/log",
		Summary:       "Append an activity entry",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id" maxLength:"64"`
		Body LogRequest
	}) (*logOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.Log(ctx, id, input.ID, engine.LogInput{Action: input.Body.Action, Details: input.Body.Details})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &logOutput{Body: entry}, nil
	})
}

// registerAttachments mounts the JSON operations on the huma group and the
// streaming upload and download routes directly on the router.
func registerAttachments(r chi.Router, api huma.API, basePath string, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/attachments",
		Summary:     "List task attachments",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*attachmentsOutput, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		list, err := e.ListAttachments(ctx, id, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &attachmentsOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-attachment",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}/attachments/{attachmentId}",
		Summary:       "Delete an attachment and its stored file",
		DefaultStatus: http.StatusNoContent,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID           string `path:"id" maxLength:"64"`
		AttachmentID string `path:"attachmentId" maxLength:"64"`
	}) (*struct{}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAttachment(ctx, id, input.ID, input.AttachmentID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	r.Post(path.Join(basePath, "tasks/{id}/attachments"), func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition")); err == nil {
				filename = params["filename"]
			}
		}
		a, err := e.AddAttachment(ctx, id, chi.URLParam(r, "id"), engine.AttachmentInput{
			Filename:    filename,
			ContentType: r.Header.Get("Content-Type"),
			Body:        r.Body,
		})
		if err != nil {
			respondStatusError(w, handleError(ctx, err))
			return
		}
		writeJSON(w, http.StatusCreated, a)
	})

	r.Get(path.Join(basePath, "tasks/{id}/attachments/{attachmentId}"), func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		a, body, err := e.OpenAttachment(ctx, id, chi.URLParam(r, "id"), chi.URLParam(r, "attachmentId"))
		if err != nil {
			respondStatusError(w, handleError(ctx, err))
			return
		}
		defer body.Close()
		h := w.Header()
		h.Set("Content-Type", a.ContentType)
		h.Set("Content-Length", strconv.FormatInt(a.Size, 10))
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
		h.Set("X-Checksum-Blake3", a.Checksum)
		if _, err := io.Copy(w, body); err != nil {
			requestLogger(ctx).Warn("attachment download interrupted", "attachment", a.ID, "err", err)
		}
	})
}

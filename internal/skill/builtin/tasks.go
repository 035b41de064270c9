// Package builtin bundles reference skills that ship with the host binary.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/valeworks/valet/internal/skill"
)

const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"

	reminderPriority = 5
)

type Task struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Due       *time.Time `json:"due,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// TasksSkill is an in-memory task manager. It exists both as a usable
// capability and as the reference implementation of the skill contract.
type TasksSkill struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
	now   func() time.Time
}

func NewTasksSkill() *TasksSkill {
	return &TasksSkill{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

func (t *TasksSkill) Metadata() skill.Metadata {
	return skill.Metadata{
		Name:        "tasks",
		Description: "Create, list, and complete personal tasks",
		Version:     "1.0.0",
		Permissions: skill.PermissionSet{skill.PermissionManageTasks},
		Intents:     []string{"create_task", "list_tasks", "complete_task", "task_summary"},
	}
}

func (t *TasksSkill) Initialize(ctx context.Context) error {
	return nil
}

func (t *TasksSkill) Handle(ctx context.Context, req *skill.Request) *skill.Response {
	switch req.Intent {
	case "create_task":
		return t.createTask(req)
	case "list_tasks":
		return t.listTasks(req)
	case "complete_task":
		return t.completeTask(req)
	case "task_summary":
		return t.taskSummary(req)
	default:
		return skill.Fail(req, fmt.Sprintf("unsupported intent %q", req.Intent))
	}
}

func (t *TasksSkill) createTask(req *skill.Request) *skill.Response {
	title := contextString(req, "title")
	if title == "" {
		title = strings.TrimSpace(req.Message)
	}
	if title == "" {
		return skill.Fail(req, "task title is required")
	}

	task := &Task{
		ID:        ulid.Make().String(),
		UserID:    req.UserID,
		Title:     title,
		Status:    TaskStatusOpen,
		CreatedAt: t.now(),
	}

	if raw := contextString(req, "due"); raw != "" {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return skill.Fail(req, fmt.Sprintf("invalid due time %q: expected RFC3339", raw))
		}
		task.Due = &due
	}

	t.mu.Lock()
	t.tasks[task.ID] = task
	t.order = append(t.order, task.ID)
	t.mu.Unlock()

	return skill.OK(req, fmt.Sprintf("Task %q created", task.Title), map[string]interface{}{
		"task": taskMap(task),
	})
}

func (t *TasksSkill) listTasks(req *skill.Request) *skill.Response {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tasks := make([]map[string]interface{}, 0)
	for _, id := range t.order {
		task := t.tasks[id]
		if task.UserID != req.UserID {
			continue
		}
		tasks = append(tasks, taskMap(task))
	}

	return skill.OK(req, fmt.Sprintf("%d tasks", len(tasks)), map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (t *TasksSkill) completeTask(req *skill.Request) *skill.Response {
	id := contextString(req, "task_id")
	if id == "" {
		return skill.Fail(req, "task_id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok || task.UserID != req.UserID {
		return skill.Fail(req, fmt.Sprintf("task not found: %s", id))
	}
	task.Status = TaskStatusDone

	return skill.OK(req, fmt.Sprintf("Task %q completed", task.Title), map[string]interface{}{
		"task": taskMap(task),
	})
}

func (t *TasksSkill) taskSummary(req *skill.Request) *skill.Response {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byStatus := map[string]interface{}{}
	counts := map[string]int{}
	total := 0
	for _, task := range t.tasks {
		if task.UserID != req.UserID {
			continue
		}
		counts[task.Status]++
		total++
	}
	for status, n := range counts {
		byStatus[status] = n
	}

	return skill.OK(req, fmt.Sprintf("%d tasks total", total), map[string]interface{}{
		"total":     total,
		"by_status": byStatus,
	})
}

// OnHeartbeat proposes a reminder for every open task whose due time has
// passed.
func (t *TasksSkill) OnHeartbeat(ctx context.Context, userIDs []string) ([]skill.HeartbeatAction, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		users[id] = struct{}{}
	}

	now := t.now()
	var actions []skill.HeartbeatAction
	for _, id := range t.order {
		task := t.tasks[id]
		if _, tracked := users[task.UserID]; !tracked {
			continue
		}
		if task.Status != TaskStatusOpen || task.Due == nil || task.Due.After(now) {
			continue
		}
		actions = append(actions, skill.HeartbeatAction{
			Skill:  "tasks",
			Type:   "task_reminder",
			UserID: task.UserID,
			Data: map[string]interface{}{
				"task_id": task.ID,
				"title":   task.Title,
				"due":     task.Due.Format(time.RFC3339),
			},
			Priority: reminderPriority,
		})
	}
	return actions, nil
}

func (t *TasksSkill) SystemPromptFragment(userID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	open := 0
	for _, task := range t.tasks {
		if task.UserID == userID && task.Status == TaskStatusOpen {
			open++
		}
	}
	if open == 0 {
		return ""
	}
	return fmt.Sprintf("The user has %d open tasks.", open)
}

func taskMap(task *Task) map[string]interface{} {
	m := map[string]interface{}{
		"id":         task.ID,
		"user_id":    task.UserID,
		"title":      task.Title,
		"status":     task.Status,
		"created_at": task.CreatedAt.Format(time.RFC3339),
	}
	if task.Due != nil {
		m["due"] = task.Due.Format(time.RFC3339)
	}
	return m
}

func contextString(req *skill.Request, key string) string {
	if req == nil || req.Context == nil {
		return ""
	}
	if v, ok := req.Context[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTreeWarmup is the task type for pre-populating the cached
	// permission and department trees.
	TaskTreeWarmup = "rbac:tree_warmup"
)

// Tree warmup scopes. An empty scope defaults to ScopeAll.
const (
	ScopeAll         = "all"
	ScopePermissions = "permissions"
	ScopeDepartments = "departments"
)

// TreeWarmupPayload selects which trees a warmup run rebuilds.
type TreeWarmupPayload struct {
	Scope string `json:"scope"`
}

// NewTreeWarmupTask constructs an Asynq task.
func NewTreeWarmupTask(payload TreeWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTreeWarmup, data), nil
}

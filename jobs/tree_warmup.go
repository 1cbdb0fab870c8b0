package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/authgrid/authgrid/internal/jobs"
	"github.com/authgrid/authgrid/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TreeLoader is the slice of the resolver the warmup job drives. Loading a
// tree through the resolver populates its cache as a side effect.
type TreeLoader interface {
	PermissionTree(ctx context.Context) ([]*rbac.PermissionNode, error)
	DepartmentTree(ctx context.Context) ([]*rbac.DepartmentNode, error)
}

// TreeWarmupJob rebuilds the cached permission and department trees so the
// first read after an invalidation or TTL expiry does not pay the miss.
type TreeWarmupJob struct {
	Loader  TreeLoader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewTreeWarmupJob wires dependencies for the warmup handler.
func NewTreeWarmupJob(loader TreeLoader, logger *slog.Logger, metrics *jobmetrics.Metrics) *TreeWarmupJob {
	return &TreeWarmupJob{
		Loader:  loader,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes tree warmup tasks.
func (j *TreeWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Loader == nil {
		return errors.New("tree warmup: handler not configured")
	}
	var payload TreeWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Scope == "" {
		payload.Scope = ScopeAll
	}

	tracker := j.metrics().Track(TaskTreeWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("scope", payload.Scope))
	logger.Info("starting tree warmup")
	start := j.now()

	permissionRoots := 0
	departmentRoots := 0
	switch payload.Scope {
	case ScopeAll:
		permissionRoots, resultErr = j.warmPermissions(ctx)
		if resultErr == nil {
			departmentRoots, resultErr = j.warmDepartments(ctx)
		}
	case ScopePermissions:
		permissionRoots, resultErr = j.warmPermissions(ctx)
	case ScopeDepartments:
		departmentRoots, resultErr = j.warmDepartments(ctx)
	default:
		logger.Warn("unknown warmup scope, skipping")
		return asynq.SkipRetry
	}
	if resultErr != nil {
		logger.Error("tree warmup failed", slog.Any("error", resultErr))
		return resultErr
	}

	logger.Info("completed tree warmup",
		slog.Int("permission_roots", permissionRoots),
		slog.Int("department_roots", departmentRoots),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *TreeWarmupJob) warmPermissions(ctx context.Context) (int, error) {
	warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	forest, err := j.Loader.PermissionTree(warmCtx)
	if err != nil {
		return 0, err
	}
	return len(forest), nil
}

func (j *TreeWarmupJob) warmDepartments(ctx context.Context) (int, error) {
	warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	forest, err := j.Loader.DepartmentTree(warmCtx)
	if err != nil {
		return 0, err
	}
	return len(forest), nil
}

func (j *TreeWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTreeWarmup))
	}
	return slog.Default().With(slog.String("job", TaskTreeWarmup))
}

func (j *TreeWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *TreeWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/internal/rbac"
)

type stubLoader struct {
	permCalls int
	deptCalls int
	permErr   error
}

func (s *stubLoader) PermissionTree(ctx context.Context) ([]*rbac.PermissionNode, error) {
	s.permCalls++
	if s.permErr != nil {
		return nil, s.permErr
	}
	return []*rbac.PermissionNode{{}}, nil
}

func (s *stubLoader) DepartmentTree(ctx context.Context) ([]*rbac.DepartmentNode, error) {
	s.deptCalls++
	return []*rbac.DepartmentNode{{}}, nil
}

func warmupTask(t *testing.T, scope string) *asynq.Task {
	t.Helper()
	task, err := NewTreeWarmupTask(TreeWarmupPayload{Scope: scope})
	require.NoError(t, err)
	return task
}

func TestTreeWarmupDefaultsToAllScopes(t *testing.T) {
	loader := &stubLoader{}
	job := NewTreeWarmupJob(loader, nil, nil)

	err := job.Handle(context.Background(), warmupTask(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 1, loader.permCalls)
	assert.Equal(t, 1, loader.deptCalls)
}

func TestTreeWarmupScopedRun(t *testing.T) {
	loader := &stubLoader{}
	job := NewTreeWarmupJob(loader, nil, nil)

	err := job.Handle(context.Background(), warmupTask(t, ScopeDepartments))
	require.NoError(t, err)
	assert.Equal(t, 0, loader.permCalls)
	assert.Equal(t, 1, loader.deptCalls)
}

func TestTreeWarmupPropagatesLoaderError(t *testing.T) {
	loader := &stubLoader{permErr: errors.New("store down")}
	job := NewTreeWarmupJob(loader, nil, nil)

	err := job.Handle(context.Background(), warmupTask(t, ScopePermissions))
	require.Error(t, err)
	assert.Equal(t, 1, loader.permCalls)
	assert.Equal(t, 0, loader.deptCalls)
}

func TestTreeWarmupRejectsUnknownScope(t *testing.T) {
	loader := &stubLoader{}
	job := NewTreeWarmupJob(loader, nil, nil)

	err := job.Handle(context.Background(), warmupTask(t, "everything"))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, 0, loader.permCalls)
}

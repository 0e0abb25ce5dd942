package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sift/internal/models"
	"sift/internal/tasks"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Queue: tasks.QueueBatch, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type mockRunStore struct {
	mock.Mock
	RunStore
}

func (m *mockRunStore) CreateRun(ctx context.Context, run *models.BatchRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockRunStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, errMsg string) error {
	return m.Called(ctx, id, status, errMsg).Error(0)
}

func TestEnqueueBatchRun(t *testing.T) {
	runs := new(mockRunStore)
	runs.On("CreateRun", mock.Anything, mock.MatchedBy(func(r *models.BatchRun) bool {
		return r.Status == models.RunStatusEnqueued && r.TotalSources == 2
	})).Return(nil).Once()
	q := &fakeEnqueuer{}
	jc := &AsynqJobClient{client: q, runs: runs}

	run, err := jc.EnqueueBatchRun(context.Background(), []string{"a.json", "b.yaml"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, run.ID)
	require.Len(t, q.tasks, 1)

	p, err := tasks.ParseBatchRunPayload(q.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, run.ID, p.RunID)
	assert.Equal(t, []string{"a.json", "b.yaml"}, p.Sources)
	runs.AssertExpectations(t)
}

func TestEnqueueBatchRun_QueueDown(t *testing.T) {
	runs := new(mockRunStore)
	runs.On("CreateRun", mock.Anything, mock.Anything).Return(nil).Once()
	runs.On("UpdateRunStatus", mock.Anything, mock.Anything, models.RunStatusFailed, "redis: connection refused").Return(nil).Once()
	jc := &AsynqJobClient{client: &fakeEnqueuer{err: errors.New("redis: connection refused")}, runs: runs}

	_, err := jc.EnqueueBatchRun(context.Background(), []string{"a.json"})
	assert.Error(t, err)
	runs.AssertExpectations(t)
}

func TestEnqueueBatchRun_NoSources(t *testing.T) {
	runs := new(mockRunStore)
	jc := &AsynqJobClient{client: &fakeEnqueuer{}, runs: runs}
	_, err := jc.EnqueueBatchRun(context.Background(), nil)
	assert.Error(t, err)
	runs.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
}

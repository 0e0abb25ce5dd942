package costtracker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sift/internal/models"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordUsage(ctx context.Context, usage *models.AIUsageLog) error {
	args := m.Called(ctx, usage)
	return args.Error(0)
}

func TestTracker_Accumulates(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.RecordCost(ctx, CostEvent{Operation: models.ServiceTypeEvaluation, AmountUSD: 0.25}))
	require.NoError(t, tr.RecordCost(ctx, CostEvent{Operation: models.ServiceTypeBatchEvaluation, AmountUSD: 0.5}))

	total, err := tr.TotalCost(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9)

	byOp, events := tr.Breakdown()
	assert.Equal(t, 2, events)
	assert.InDelta(t, 0.5, byOp[models.ServiceTypeBatchEvaluation], 1e-9)
}

func TestTracker_ForwardsWithRunID(t *testing.T) {
	rec := new(mockRecorder)
	runID := uuid.New()
	rec.On("RecordUsage", mock.Anything, mock.MatchedBy(func(u *models.AIUsageLog) bool {
		return u.ProviderName == "openai" && u.InputTokens == 100 && u.RelatedRunID != nil && *u.RelatedRunID == runID
	})).Return(nil).Once()

	tr := NewWithRecorder(rec)
	ctx := WithRunID(context.Background(), runID)
	err := tr.RecordCost(ctx, CostEvent{Operation: models.ServiceTypeEvaluation, Provider: "openai", Model: "gpt", InputTokens: 100, OutputTokens: 20, AmountUSD: 0.01})
	require.NoError(t, err)
	rec.AssertExpectations(t)
}

func TestTracker_RecorderError(t *testing.T) {
	rec := new(mockRecorder)
	rec.On("RecordUsage", mock.Anything, mock.Anything).Return(errors.New("db down"))

	tr := NewWithRecorder(rec)
	err := tr.RecordCost(context.Background(), CostEvent{AmountUSD: 1})
	assert.Error(t, err)

	// The in-memory total still counts the event.
	total, _ := tr.TotalCost(context.Background())
	assert.InDelta(t, 1.0, total, 1e-9)
}

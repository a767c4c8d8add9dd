package service

import (
	"context"
	"testing"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticsService_GetStatistics(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	svc := NewStatisticsService(repository.NewKanbanRepository(w.db))

	w.createKanban(t, w.owner)
	forwarded := w.createKanban(t, w.owner)
	rejected := w.createKanban(t, w.owner)
	w.approve(t, forwarded, w.manager)
	_, err := w.engine.Reject(ctx, rejected, actorOf(w.leader), "")
	require.NoError(t, err)

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	stats, err := svc.GetStatistics(ctx, "", start, end)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.Open)
	assert.EqualValues(t, 1, stats.Closed)

	byStatus := map[string]int64{}
	for _, c := range stats.ByStatus {
		byStatus[c.Status] = c.Count
	}
	assert.Equal(t, map[string]int64{
		model.KanbanPendingApproval:      1,
		model.KanbanApprovedByDepartment: 1,
		model.KanbanRejectedByDepartment: 1,
	}, byStatus)

	scoped, err := svc.GetStatistics(ctx, w.pc.ID.String(), start, end)
	require.NoError(t, err)
	assert.Zero(t, scoped.Total)

	past, err := svc.GetStatistics(ctx, "", start.Add(-48*time.Hour), start.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, past.Total)
}

func TestStatisticsService_Validation(t *testing.T) {
	w := newWorld(t)
	svc := NewStatisticsService(repository.NewKanbanRepository(w.db))
	now := time.Now()

	_, err := svc.GetStatistics(context.Background(), "", now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.GetStatistics(context.Background(), "bad", now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, ErrValidation)
}

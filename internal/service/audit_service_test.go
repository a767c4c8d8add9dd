package service

import (
	"context"
	"encoding/json"
	"testing"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_GetAuditLogs(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	svc := NewAuditService(repository.NewAuditRepository(w.db))

	id := w.createKanban(t, w.owner)
	w.createKanban(t, w.owner)
	_, err := w.engine.Reject(ctx, id, actorOf(w.manager), "scrap")
	require.NoError(t, err)

	all, total, err := svc.GetAuditLogs(ctx, "", 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	logs, total, err := svc.GetAuditLogs(ctx, id.String(), 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	var reject *AuditLogResponse
	for i := range logs {
		assert.Equal(t, id.String(), logs[i].EntityID)
		assert.Equal(t, "PN-1001", logs[i].EntityName)
		if logs[i].Action == model.ActionRejectKanban {
			reject = &logs[i]
		}
	}
	require.NotNil(t, reject)
	assert.Equal(t, "manager", reject.Username)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(reject.Details), &details))
	assert.Equal(t, "scrap", details["reason"])
	assert.Equal(t, model.KanbanRejectedByDepartment, details["status"])

	_, _, err = svc.GetAuditLogs(ctx, "bad", 1, 20)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWriteKanbanAudit_EncodingFailure(t *testing.T) {
	w := newWorld(t)
	audits := repository.NewAuditRepository(w.db)
	kanban := &model.KanbanRequest{PartNumber: "PN-9"}

	err := writeKanbanAudit(context.Background(), audits, w.owner.ID, model.ActionUpdateKanban, kanban, map[string]interface{}{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode audit details")

	var count int64
	require.NoError(t, w.db.Model(&model.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)

	require.NoError(t, writeKanbanAudit(context.Background(), audits, w.owner.ID, model.ActionUpdateKanban, kanban, UpdateKanbanRequest{PartName: "x"}))
	require.NoError(t, w.db.Model(&model.AuditLog{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

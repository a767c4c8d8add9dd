package service

import (
	"context"
	"encoding/json"
	"fmt"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, kanbanID string, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// GetAuditLogs returns the workflow history newest first, optionally for one Kanban request.
func (s *auditService) GetAuditLogs(ctx context.Context, kanbanID string, page, limit int) ([]AuditLogResponse, int64, error) {
	if kanbanID != "" {
		if _, err := parseID("kanban id", kanbanID); err != nil {
			return nil, 0, err
		}
	}

	logs, total, err := s.repo.List(ctx, kanbanID, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := "System"
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			Username:   username,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    string(l.Details),
			CreatedAt:  l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return res, total, nil
}

// writeKanbanAudit records one action against a kanban request. details is
// stored as JSON; an encoding failure aborts the write.
func writeKanbanAudit(ctx context.Context, audits repository.AuditRepository, userID uuid.UUID, action string, kanban *model.KanbanRequest, details interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	entry := model.AuditLog{
		UserID:     &userID,
		Action:     action,
		EntityID:   kanban.ID.String(),
		EntityName: kanban.PartNumber,
		Details:    datatypes.JSON(payload),
	}
	if err := audits.Log(ctx, &entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"fmt"

	"kanbanflow/internal/notification"
	"kanbanflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RejectKanbanRequest struct {
	Reason string `json:"reason"`
}

// WorkflowService resolves the session user into an approval actor, runs the
// engine and hands notifications off after commit.
type WorkflowService interface {
	Approve(ctx context.Context, kanbanID, userID string) (*ApproveResult, error)
	Reject(ctx context.Context, kanbanID, userID, reason string) (*RejectResult, error)
}

// Notifier receives notification batches. Dispatch must not block.
type Notifier interface {
	Dispatch(batch []notification.Notification)
}

type workflowService struct {
	engine   ApprovalEngine
	users    repository.UserRepository
	notifier Notifier
	logger   *zap.Logger
}

func NewWorkflowService(engine ApprovalEngine, users repository.UserRepository, notifier Notifier, logger *zap.Logger) WorkflowService {
	return &workflowService{engine: engine, users: users, notifier: notifier, logger: logger}
}

func (s *workflowService) Approve(ctx context.Context, kanbanID, userID string) (*ApproveResult, error) {
	id, err := parseID("kanban id", kanbanID)
	if err != nil {
		return nil, err
	}
	actor, err := s.resolveActor(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Approve(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(result.Notifications)
	return result, nil
}

func (s *workflowService) Reject(ctx context.Context, kanbanID, userID, reason string) (*RejectResult, error) {
	id, err := parseID("kanban id", kanbanID)
	if err != nil {
		return nil, err
	}
	actor, err := s.resolveActor(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Reject(ctx, id, actor, reason)
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(result.Notifications)
	return result, nil
}

func (s *workflowService) resolveActor(ctx context.Context, userID string) (Actor, error) {
	uid, err := parseID("user id", userID)
	if err != nil {
		return Actor{}, err
	}
	user, err := s.users.GetByID(ctx, uid)
	if err != nil {
		return Actor{}, notFoundOr(err, "user")
	}
	if user.DepartmentID == uuid.Nil {
		return Actor{}, fmt.Errorf("%w: user %s has no department", ErrForbidden, user.Username)
	}
	return Actor{UserID: user.ID, Role: user.Role, DepartmentID: user.DepartmentID}, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/notification"
	"kanbanflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- DTOs ---

type CreateKanbanRequest struct {
	DepartmentID   string `json:"department_id"`
	ProductionDate string `json:"production_date" binding:"required"`
	RequesterName  string `json:"requester_name" binding:"required"`
	PartNumber     string `json:"part_number" binding:"required"`
	PartName       string `json:"part_name" binding:"required"`
	Location       string `json:"location"`
	Classification string `json:"classification"`
	Description    string `json:"description"`
}

type UpdateKanbanRequest struct {
	ProductionDate string `json:"production_date"`
	RequesterName  string `json:"requester_name"`
	PartNumber     string `json:"part_number"`
	PartName       string `json:"part_name"`
	Location       string `json:"location"`
	Classification string `json:"classification"`
	Description    string `json:"description"`
}

type KanbanListFilter struct {
	Status       string
	DepartmentID string
	Mine         bool
	Page         int
	Limit        int
}

type ApprovalEntryResponse struct {
	UserID       string  `json:"user_id"`
	Username     string  `json:"username"`
	DepartmentID string  `json:"department_id"`
	Role         string  `json:"role"`
	Approved     bool    `json:"approved"`
	ApprovedAt   *string `json:"approved_at"`
	Note         string  `json:"note"`
}

type KanbanResponse struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"user_id"`
	Username       string                  `json:"username"`
	DepartmentID   string                  `json:"department_id"`
	DepartmentName string                  `json:"department_name"`
	ProductionDate string                  `json:"production_date"`
	RequesterName  string                  `json:"requester_name"`
	PartNumber     string                  `json:"part_number"`
	PartName       string                  `json:"part_name"`
	Location       string                  `json:"location"`
	Classification string                  `json:"classification"`
	Description    string                  `json:"description"`
	Status         string                  `json:"status"`
	Approvals      []ApprovalEntryResponse `json:"approvals,omitempty"`
	CreatedAt      string                  `json:"created_at"`
	UpdatedAt      string                  `json:"updated_at"`
}

// --- Interface ---

type KanbanService interface {
	CreateKanban(ctx context.Context, userID string, req CreateKanbanRequest) (KanbanResponse, error)
	GetKanban(ctx context.Context, id string) (KanbanResponse, error)
	UpdateKanban(ctx context.Context, id, userID string, req UpdateKanbanRequest) (KanbanResponse, error)
	ListKanbans(ctx context.Context, userID string, filter KanbanListFilter) ([]KanbanResponse, int64, error)
	ListPendingForUser(ctx context.Context, userID string, page, limit int) ([]KanbanResponse, int64, error)
}

type kanbanService struct {
	kanbans     repository.KanbanRepository
	approvals   repository.ApprovalRepository
	departments repository.DepartmentRepository
	users       repository.UserRepository
	audits      repository.AuditRepository
	directory   Directory
	txManager   repository.TransactionManager
	notifier    Notifier
	logger      *zap.Logger
}

func NewKanbanService(
	kanbans repository.KanbanRepository,
	approvals repository.ApprovalRepository,
	departments repository.DepartmentRepository,
	users repository.UserRepository,
	audits repository.AuditRepository,
	directory Directory,
	txManager repository.TransactionManager,
	notifier Notifier,
	logger *zap.Logger,
) KanbanService {
	return &kanbanService{
		kanbans:     kanbans,
		approvals:   approvals,
		departments: departments,
		users:       users,
		audits:      audits,
		directory:   directory,
		txManager:   txManager,
		notifier:    notifier,
		logger:      logger,
	}
}

const productionDateLayout = "2006-01-02"

// parseProductionDate accepts a plain date or a full RFC3339 timestamp.
func parseProductionDate(raw string) (time.Time, error) {
	if t, err := time.Parse(productionDateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid production_date %q, expected YYYY-MM-DD", ErrValidation, raw)
	}
	return t, nil
}

// --- Implementation ---

// CreateKanban stores the request in the caller's department (or the one given) and
// seeds pending LEADER/SUPERVISOR/MANAGER entries for that department.
func (s *kanbanService) CreateKanban(ctx context.Context, userID string, req CreateKanbanRequest) (KanbanResponse, error) {
	ownerID, err := parseID("user id", userID)
	if err != nil {
		return KanbanResponse{}, err
	}
	productionDate, err := parseProductionDate(req.ProductionDate)
	if err != nil {
		return KanbanResponse{}, err
	}

	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return KanbanResponse{}, notFoundOr(err, "user")
	}

	deptID := owner.DepartmentID
	if req.DepartmentID != "" {
		if deptID, err = parseID("department id", req.DepartmentID); err != nil {
			return KanbanResponse{}, err
		}
	}

	kanban := model.KanbanRequest{
		UserID:         ownerID,
		DepartmentID:   deptID,
		ProductionDate: productionDate,
		RequesterName:  req.RequesterName,
		PartNumber:     req.PartNumber,
		PartName:       req.PartName,
		Location:       req.Location,
		Classification: req.Classification,
		Description:    req.Description,
		Status:         model.KanbanPendingApproval,
	}

	var approvers []model.User
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, findErr := s.departments.FindByID(txCtx, deptID); findErr != nil {
			return notFoundOr(findErr, "department")
		}

		if createErr := s.kanbans.Create(txCtx, &kanban); createErr != nil {
			return fmt.Errorf("failed to create kanban request: %w", createErr)
		}

		users, dirErr := s.directory.UsersByRoles(txCtx, deptID, model.LSMRoles...)
		if dirErr != nil {
			return dirErr
		}
		byRole := map[string][]uuid.UUID{}
		for _, u := range users {
			byRole[u.Role] = append(byRole[u.Role], u.ID)
		}
		for _, role := range model.LSMRoles {
			if _, seedErr := s.approvals.CreatePending(txCtx, kanban.ID, deptID, byRole[role], role); seedErr != nil {
				return fmt.Errorf("failed to seed %s approval entries: %w", role, seedErr)
			}
		}
		approvers = users

		return writeKanbanAudit(txCtx, s.audits, ownerID, model.ActionCreateKanban, &kanban, map[string]interface{}{
			"department_id": deptID.String(),
			"part_number":   kanban.PartNumber,
			"approvers":     len(users),
		})
	})
	if err != nil {
		return KanbanResponse{}, err
	}

	batch := make([]notification.Notification, 0, len(approvers))
	for _, u := range approvers {
		batch = append(batch, notification.Notification{
			UserID:   u.ID,
			KanbanID: kanban.ID,
			Message:  fmt.Sprintf("New kanban request %s from %s awaits your approval", kanban.PartNumber, kanban.RequesterName),
		})
	}
	s.notifier.Dispatch(batch)

	s.logger.Info("Kanban request created",
		zap.String("kanban_id", kanban.ID.String()),
		zap.String("department_id", deptID.String()),
		zap.Int("approvers", len(approvers)))

	return s.GetKanban(ctx, kanban.ID.String())
}

func (s *kanbanService) GetKanban(ctx context.Context, id string) (KanbanResponse, error) {
	kanbanID, err := parseID("kanban id", id)
	if err != nil {
		return KanbanResponse{}, err
	}
	kanban, err := s.kanbans.FindByIDWithRelations(ctx, kanbanID)
	if err != nil {
		return KanbanResponse{}, notFoundOr(err, "kanban request")
	}
	return toKanbanResponse(*kanban), nil
}

// UpdateKanban edits the request fields. Only the owner may edit, and only while
// no approval has been recorded and the request has not been rejected.
func (s *kanbanService) UpdateKanban(ctx context.Context, id, userID string, req UpdateKanbanRequest) (KanbanResponse, error) {
	kanbanID, err := parseID("kanban id", id)
	if err != nil {
		return KanbanResponse{}, err
	}
	callerID, err := parseID("user id", userID)
	if err != nil {
		return KanbanResponse{}, err
	}

	var productionDate *time.Time
	if req.ProductionDate != "" {
		parsed, parseErr := parseProductionDate(req.ProductionDate)
		if parseErr != nil {
			return KanbanResponse{}, parseErr
		}
		productionDate = &parsed
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		kanban, findErr := s.kanbans.FindByIDForUpdate(txCtx, kanbanID)
		if findErr != nil {
			return notFoundOr(findErr, "kanban request")
		}
		if kanban.UserID != callerID {
			return fmt.Errorf("%w: only the requester may edit this kanban request", ErrForbidden)
		}
		if model.IsRejectedStatus(kanban.Status) {
			return fmt.Errorf("%w: kanban request is already %s", ErrConflict, kanban.Status)
		}
		approved, countErr := s.approvals.CountApproved(txCtx, kanbanID)
		if countErr != nil {
			return fmt.Errorf("failed to count approvals: %w", countErr)
		}
		if approved > 0 {
			return fmt.Errorf("%w: kanban request is locked once approval has started", ErrConflict)
		}

		if productionDate != nil {
			kanban.ProductionDate = *productionDate
		}
		applyString(&kanban.RequesterName, req.RequesterName)
		applyString(&kanban.PartNumber, req.PartNumber)
		applyString(&kanban.PartName, req.PartName)
		applyString(&kanban.Location, req.Location)
		applyString(&kanban.Classification, req.Classification)
		applyString(&kanban.Description, req.Description)

		if saveErr := s.kanbans.Update(txCtx, kanban); saveErr != nil {
			return fmt.Errorf("failed to update kanban request: %w", saveErr)
		}

		return writeKanbanAudit(txCtx, s.audits, callerID, model.ActionUpdateKanban, kanban, req)
	})
	if err != nil {
		return KanbanResponse{}, err
	}

	return s.GetKanban(ctx, id)
}

func applyString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (s *kanbanService) ListKanbans(ctx context.Context, userID string, filter KanbanListFilter) ([]KanbanResponse, int64, error) {
	if filter.Status != "" && !model.ValidKanbanStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}

	repoFilter := repository.KanbanFilter{Status: filter.Status, Page: filter.Page, Limit: filter.Limit}
	if filter.DepartmentID != "" {
		deptID, err := parseID("department id", filter.DepartmentID)
		if err != nil {
			return nil, 0, err
		}
		repoFilter.DepartmentID = &deptID
	}
	if filter.Mine {
		ownerID, err := parseID("user id", userID)
		if err != nil {
			return nil, 0, err
		}
		repoFilter.UserID = &ownerID
	}

	return s.list(ctx, repoFilter)
}

// ListPendingForUser is the caller's inbox: requests on which they still hold an open entry.
func (s *kanbanService) ListPendingForUser(ctx context.Context, userID string, page, limit int) ([]KanbanResponse, int64, error) {
	uid, err := parseID("user id", userID)
	if err != nil {
		return nil, 0, err
	}
	ids, err := s.approvals.ListPendingKanbanIDs(ctx, uid)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load pending approvals: %w", err)
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return s.list(ctx, repository.KanbanFilter{IDs: ids, Page: page, Limit: limit})
}

func (s *kanbanService) list(ctx context.Context, filter repository.KanbanFilter) ([]KanbanResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	kanbans, total, err := s.kanbans.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch kanban requests: %w", err)
	}

	result := make([]KanbanResponse, 0, len(kanbans))
	for _, k := range kanbans {
		result = append(result, toKanbanResponse(k))
	}
	return result, total, nil
}

// --- Helpers ---

func toKanbanResponse(k model.KanbanRequest) KanbanResponse {
	resp := KanbanResponse{
		ID:             k.ID.String(),
		UserID:         k.UserID.String(),
		DepartmentID:   k.DepartmentID.String(),
		ProductionDate: k.ProductionDate.Format(productionDateLayout),
		RequesterName:  k.RequesterName,
		PartNumber:     k.PartNumber,
		PartName:       k.PartName,
		Location:       k.Location,
		Classification: k.Classification,
		Description:    k.Description,
		Status:         k.Status,
		CreatedAt:      k.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      k.UpdatedAt.Format(time.RFC3339),
	}
	if k.User != nil {
		resp.Username = k.User.Username
	}
	if k.Department != nil {
		resp.DepartmentName = k.Department.Name
	}

	for _, a := range k.Approvals {
		entry := ApprovalEntryResponse{
			UserID:       a.UserID.String(),
			DepartmentID: a.DepartmentID.String(),
			Role:         a.Role,
			Approved:     a.Approved,
			Note:         a.Note,
		}
		if a.User != nil {
			entry.Username = a.User.Username
		}
		if a.ApprovedAt != nil {
			t := a.ApprovedAt.Format(time.RFC3339)
			entry.ApprovedAt = &t
		}
		resp.Approvals = append(resp.Approvals, entry)
	}

	return resp
}

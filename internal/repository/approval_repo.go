package repository

import (
	"context"
	"time"

	"kanbanflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApprovalRepository is the approval ledger. Every batch method issues a single
// statement so it is applied atomically inside the caller's transaction.
type ApprovalRepository interface {
	CreatePending(ctx context.Context, kanbanID, departmentID uuid.UUID, userIDs []uuid.UUID, role string) (int64, error)
	Find(ctx context.Context, key model.ApprovalKey) (*model.Approval, error)
	ListByKanban(ctx context.Context, kanbanID uuid.UUID) ([]model.Approval, error)
	LockRole(ctx context.Context, kanbanID, departmentID uuid.UUID, role string) ([]model.Approval, error)
	IsRoleApproved(ctx context.Context, kanbanID, departmentID uuid.UUID, role string) (bool, error)
	CountApproved(ctx context.Context, kanbanID uuid.UUID) (int64, error)
	ApproveRole(ctx context.Context, kanbanID, departmentID uuid.UUID, role, note string, at time.Time) (int64, error)
	ApproveRoles(ctx context.Context, kanbanID, departmentID uuid.UUID, roles []string, note string, at time.Time) (int64, error)
	ResetRole(ctx context.Context, kanbanID, departmentID uuid.UUID, role, note string) (int64, error)
	CloseStale(ctx context.Context, kanbanID uuid.UUID, at time.Time) (int64, error)
	Reject(ctx context.Context, key model.ApprovalKey, note string, at time.Time) error
	AutoRejectPending(ctx context.Context, kanbanID uuid.UUID, note string) (int64, error)
	ListPendingKanbanIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

// CreatePending inserts one pending entry per user, skipping rows whose composite key
// already exists. It returns the number of rows actually inserted.
func (r *approvalRepository) CreatePending(ctx context.Context, kanbanID, departmentID uuid.UUID, userIDs []uuid.UUID, role string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	rows := make([]model.Approval, 0, len(userIDs))
	for _, userID := range userIDs {
		rows = append(rows, model.Approval{
			UserID:       userID,
			DepartmentID: departmentID,
			KanbanID:     kanbanID,
			Role:         role,
			Approved:     false,
			Note:         model.NotePending,
		})
	}

	result := GetDB(ctx, r.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return result.RowsAffected, result.Error
}

func (r *approvalRepository) Find(ctx context.Context, key model.ApprovalKey) (*model.Approval, error) {
	var approval model.Approval
	if err := GetDB(ctx, r.db).
		Where("user_id = ? AND department_id = ? AND kanban_id = ? AND role = ?", key.UserID, key.DepartmentID, key.KanbanID, key.Role).
		First(&approval).Error; err != nil {
		return nil, err
	}
	return &approval, nil
}

func (r *approvalRepository) ListByKanban(ctx context.Context, kanbanID uuid.UUID) ([]model.Approval, error) {
	var approvals []model.Approval
	if err := GetDB(ctx, r.db).
		Preload("User").
		Where("kanban_id = ?", kanbanID).
		Order("created_at ASC, role ASC").
		Find(&approvals).Error; err != nil {
		return nil, err
	}
	return approvals, nil
}

// LockRole reads every entry of (role, department, kanban) with FOR UPDATE.
func (r *approvalRepository) LockRole(ctx context.Context, kanbanID, departmentID uuid.UUID, role string) ([]model.Approval, error) {
	var approvals []model.Approval
	if err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kanban_id = ? AND department_id = ? AND role = ?", kanbanID, departmentID, role).
		Find(&approvals).Error; err != nil {
		return nil, err
	}
	return approvals, nil
}

func (r *approvalRepository) IsRoleApproved(ctx context.Context, kanbanID, departmentID uuid.UUID, role string) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Approval{}).
		Where("kanban_id = ? AND department_id = ? AND role = ? AND approved = ?", kanbanID, departmentID, role, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *approvalRepository) CountApproved(ctx context.Context, kanbanID uuid.UUID) (int64, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Approval{}).
		Where("kanban_id = ? AND approved = ?", kanbanID, true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ApproveRole flips every pending entry of (role, department, kanban) to approved.
func (r *approvalRepository) ApproveRole(ctx context.Context, kanbanID, departmentID uuid.UUID, role, note string, at time.Time) (int64, error) {
	return r.ApproveRoles(ctx, kanbanID, departmentID, []string{role}, note, at)
}

func (r *approvalRepository) ApproveRoles(ctx context.Context, kanbanID, departmentID uuid.UUID, roles []string, note string, at time.Time) (int64, error) {
	if len(roles) == 0 {
		return 0, nil
	}
	result := GetDB(ctx, r.db).Model(&model.Approval{}).
		Where("kanban_id = ? AND department_id = ? AND role IN ? AND approved = ?", kanbanID, departmentID, roles, false).
		Updates(map[string]interface{}{
			"approved":    true,
			"approved_at": at,
			"note":        note,
		})
	return result.RowsAffected, result.Error
}

// ResetRole puts every entry of the role back to approved=false with the given note.
func (r *approvalRepository) ResetRole(ctx context.Context, kanbanID, departmentID uuid.UUID, role, note string) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Approval{}).
		Where("kanban_id = ? AND department_id = ? AND role = ?", kanbanID, departmentID, role).
		Updates(map[string]interface{}{
			"approved":    false,
			"approved_at": nil,
			"note":        note,
		})
	return result.RowsAffected, result.Error
}

// CloseStale turns every remaining "Pending Closure" entry of the kanban into a closed one.
func (r *approvalRepository) CloseStale(ctx context.Context, kanbanID uuid.UUID, at time.Time) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Approval{}).
		Where("kanban_id = ? AND note = ?", kanbanID, model.NotePendingClosure).
		Updates(map[string]interface{}{
			"approved":    true,
			"approved_at": at,
			"note":        model.NoteClosure,
		})
	return result.RowsAffected, result.Error
}

// Reject writes the rejecting actor's own entry, creating it when it does not exist yet.
func (r *approvalRepository) Reject(ctx context.Context, key model.ApprovalKey, note string, at time.Time) error {
	entry := model.Approval{
		UserID:       key.UserID,
		DepartmentID: key.DepartmentID,
		KanbanID:     key.KanbanID,
		Role:         key.Role,
		Approved:     false,
		ApprovedAt:   &at,
		Note:         note,
	}
	return GetDB(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "department_id"}, {Name: "kanban_id"}, {Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{"approved", "approved_at", "note"}),
	}).Create(&entry).Error
}

// AutoRejectPending annotates every still-pending entry of the kanban. approved stays false.
func (r *approvalRepository) AutoRejectPending(ctx context.Context, kanbanID uuid.UUID, note string) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Approval{}).
		Where("kanban_id = ? AND approved = ? AND note = ?", kanbanID, false, model.NotePending).
		Update("note", note)
	return result.RowsAffected, result.Error
}

// ListPendingKanbanIDs returns the kanbans on which the user still has an open entry.
func (r *approvalRepository) ListPendingKanbanIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := GetDB(ctx, r.db).Model(&model.Approval{}).
		Distinct("kanban_id").
		Where("user_id = ? AND approved = ? AND note IN ?", userID, false, []string{model.NotePending, model.NotePendingClosure}).
		Pluck("kanban_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

package repository

import (
	"context"
	"time"

	"kanbanflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KanbanFilter narrows List results. Zero values mean "no filter".
type KanbanFilter struct {
	Status       string
	DepartmentID *uuid.UUID
	UserID       *uuid.UUID
	IDs          []uuid.UUID
	Page         int
	Limit        int
}

type KanbanRepository interface {
	Create(ctx context.Context, kanban *model.KanbanRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.KanbanRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.KanbanRequest, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.KanbanRequest, error)
	List(ctx context.Context, filter KanbanFilter) ([]model.KanbanRequest, int64, error)
	Update(ctx context.Context, kanban *model.KanbanRequest) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	CountByStatus(ctx context.Context, departmentID *uuid.UUID, start, end time.Time) ([]model.StatusCount, error)
}

type kanbanRepository struct {
	db *gorm.DB
}

func NewKanbanRepository(db *gorm.DB) KanbanRepository {
	return &kanbanRepository{db: db}
}

func (r *kanbanRepository) Create(ctx context.Context, kanban *model.KanbanRequest) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(kanban).Error
}

func (r *kanbanRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.KanbanRequest, error) {
	var kanban model.KanbanRequest
	if err := GetDB(ctx, r.db).First(&kanban, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &kanban, nil
}

// FindByIDForUpdate loads the request and holds a row lock on it until the
// surrounding transaction ends.
func (r *kanbanRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.KanbanRequest, error) {
	var kanban model.KanbanRequest
	if err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&kanban, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &kanban, nil
}

func (r *kanbanRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.KanbanRequest, error) {
	var kanban model.KanbanRequest
	if err := GetDB(ctx, r.db).
		Preload("User").
		Preload("Department").
		Preload("Approvals", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, role ASC")
		}).
		Preload("Approvals.User").
		First(&kanban, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &kanban, nil
}

func (r *kanbanRepository) List(ctx context.Context, filter KanbanFilter) ([]model.KanbanRequest, int64, error) {
	var kanbans []model.KanbanRequest
	var total int64

	db := GetDB(ctx, r.db)
	scope := func(q *gorm.DB) *gorm.DB {
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.DepartmentID != nil {
			q = q.Where("department_id = ?", *filter.DepartmentID)
		}
		if filter.UserID != nil {
			q = q.Where("user_id = ?", *filter.UserID)
		}
		if filter.IDs != nil {
			q = q.Where("id IN ?", filter.IDs)
		}
		return q
	}

	if filter.IDs != nil && len(filter.IDs) == 0 {
		return []model.KanbanRequest{}, 0, nil
	}

	if err := db.Model(&model.KanbanRequest{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := db.Scopes(scope).
		Preload("User").
		Preload("Department").
		Order("created_at DESC").
		Offset(offset).Limit(filter.Limit).
		Find(&kanbans).Error; err != nil {
		return nil, 0, err
	}

	return kanbans, total, nil
}

func (r *kanbanRepository) Update(ctx context.Context, kanban *model.KanbanRequest) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(kanban).Error
}

func (r *kanbanRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return GetDB(ctx, r.db).Model(&model.KanbanRequest{}).Where("id = ?", id).Update("status", status).Error
}

func (r *kanbanRepository) CountByStatus(ctx context.Context, departmentID *uuid.UUID, start, end time.Time) ([]model.StatusCount, error) {
	var counts []model.StatusCount
	q := GetDB(ctx, r.db).Model(&model.KanbanRequest{}).
		Select("status, COUNT(*) as count").
		Where("created_at >= ? AND created_at <= ?", start, end)
	if departmentID != nil {
		q = q.Where("department_id = ?", *departmentID)
	}
	if err := q.Group("status").Order("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

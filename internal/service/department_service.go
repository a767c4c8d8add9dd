package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"

	"gorm.io/gorm"
)

// --- DTOs ---

type CreateDepartmentRequest struct {
	Name string `json:"name" binding:"required"`
}

type DepartmentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsClosure bool   `json:"is_closure"`
	CreatedAt string `json:"created_at"`
}

// --- Interface ---

type DepartmentService interface {
	ListDepartments(ctx context.Context) ([]DepartmentResponse, error)
	GetDepartment(ctx context.Context, id string) (*DepartmentResponse, error)
	CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*DepartmentResponse, error)
	ListRoles() []string
}

type departmentService struct {
	repo        repository.DepartmentRepository
	closureDept string
}

func NewDepartmentService(repo repository.DepartmentRepository, closureDept string) DepartmentService {
	return &departmentService{repo: repo, closureDept: closureDept}
}

// --- Implementation ---

func (s *departmentService) ListDepartments(ctx context.Context) ([]DepartmentResponse, error) {
	depts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch departments: %w", err)
	}

	res := make([]DepartmentResponse, 0, len(depts))
	for _, d := range depts {
		res = append(res, s.toResponse(d))
	}
	return res, nil
}

func (s *departmentService) GetDepartment(ctx context.Context, id string) (*DepartmentResponse, error) {
	deptID, err := parseID("department id", id)
	if err != nil {
		return nil, err
	}
	dept, err := s.repo.FindByID(ctx, deptID)
	if err != nil {
		return nil, notFoundOr(err, "department")
	}
	resp := s.toResponse(*dept)
	return &resp, nil
}

func (s *departmentService) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*DepartmentResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: department name is empty", ErrValidation)
	}

	if _, err := s.repo.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: department %q already exists", ErrConflict, name)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up department: %w", err)
	}

	dept := model.Department{Name: name}
	if err := s.repo.Create(ctx, &dept); err != nil {
		return nil, fmt.Errorf("failed to create department: %w", err)
	}
	resp := s.toResponse(dept)
	return &resp, nil
}

// ListRoles returns the fixed role vocabulary users and ledger entries draw from.
func (s *departmentService) ListRoles() []string {
	return []string{model.RoleAdmin, model.RoleManager, model.RoleSupervisor, model.RoleLeader, model.RoleStaff, model.RoleUser}
}

func (s *departmentService) toResponse(d model.Department) DepartmentResponse {
	return DepartmentResponse{
		ID:        d.ID.String(),
		Name:      d.Name,
		IsClosure: d.Name == s.closureDept,
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}
}

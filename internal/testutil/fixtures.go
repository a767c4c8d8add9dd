package testutil

import (
	"fmt"
	"testing"

	"kanbanflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateDepartment inserts a department with the given name.
func CreateDepartment(t testing.TB, db *gorm.DB, name string) *model.Department {
	t.Helper()

	dept := &model.Department{Name: name}
	if err := db.Create(dept).Error; err != nil {
		t.Fatalf("create department %s: %v", name, err)
	}
	return dept
}

// CreateUser inserts a user holding role in dept. The password hash is a
// placeholder; tests that log in set their own.
func CreateUser(t testing.TB, db *gorm.DB, username, role string, dept *model.Department) *model.User {
	t.Helper()

	user := &model.User{
		Username:     username,
		Email:        fmt.Sprintf("%s@example.com", username),
		Password:     "not-a-hash",
		Role:         role,
		DepartmentID: dept.ID,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

// Approvals loads every ledger entry of a kanban ordered by role then user.
func Approvals(t testing.TB, db *gorm.DB, kanbanID uuid.UUID) []model.Approval {
	t.Helper()

	var rows []model.Approval
	if err := db.Where("kanban_id = ?", kanbanID).Order("role, user_id").Find(&rows).Error; err != nil {
		t.Fatalf("load approvals: %v", err)
	}
	return rows
}

// KanbanStatus reads the current status column.
func KanbanStatus(t testing.TB, db *gorm.DB, kanbanID uuid.UUID) string {
	t.Helper()

	var kanban model.KanbanRequest
	if err := db.First(&kanban, "id = ?", kanbanID).Error; err != nil {
		t.Fatalf("load kanban: %v", err)
	}
	return kanban.Status
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role values held by users. Approval entries carry the same values.
const (
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleSupervisor = "SUPERVISOR"
	RoleLeader     = "LEADER"
	RoleStaff      = "STAFF"
	RoleUser       = "USER"
)

// LSMRoles are the roles that must sign off inside the requester's home department.
var LSMRoles = []string{RoleLeader, RoleSupervisor, RoleManager}

// ValidRole reports whether role is one of the known role values.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleSupervisor, RoleLeader, RoleStaff, RoleUser:
		return true
	}
	return false
}

// User represents an account in the directory. Role and department decide which
// approval steps the user may act on.
type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Email        string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password     string         `gorm:"type:varchar(255);not null" json:"-"`
	Role         string         `gorm:"type:varchar(20);not null;index:idx_users_dept_role,priority:2" json:"role"`
	DepartmentID uuid.UUID      `gorm:"type:uuid;not null;index:idx_users_dept_role,priority:1" json:"department_id"`
	Department   *Department    `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// RefreshToken stores long-lived tokens allowing users to request new access tokens
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Token     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

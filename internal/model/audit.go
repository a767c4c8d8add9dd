package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionCreateKanban  = "CREATE_KANBAN"
	ActionUpdateKanban  = "UPDATE_KANBAN"
	ActionApproveKanban = "APPROVE_KANBAN"
	ActionCloseKanban   = "CLOSE_KANBAN"
	ActionRejectKanban  = "REJECT_KANBAN"
)

// AuditLog tracks Who, What, and When for every workflow change
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID     `gorm:"type:uuid;index" json:"user_id"` // Nullable for automated actions
	User       *User          `gorm:"foreignKey:UserID" json:"user"`
	Action     string         `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string         `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string         `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    datatypes.JSON `json:"details"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

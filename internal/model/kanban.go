package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KanbanStatus enum constants. The string values are part of the API contract.
const (
	KanbanPendingApproval      = "PENDING_APPROVAL"
	KanbanApprovedByDepartment = "APPROVED_BY_DEPARTMENT"
	KanbanPendingPC            = "PENDING_PC"
	KanbanApprovedByPC         = "APPROVED_BY_PC"
	KanbanRejectedByDepartment = "REJECTED_BY_DEPARTMENT"
	KanbanRejectedByPC         = "REJECTED_BY_PC"
)

// KanbanStatuses lists every status in ladder order.
var KanbanStatuses = []string{
	KanbanPendingApproval,
	KanbanApprovedByDepartment,
	KanbanPendingPC,
	KanbanApprovedByPC,
	KanbanRejectedByDepartment,
	KanbanRejectedByPC,
}

// IsRejectedStatus reports whether status is one of the terminal rejection states.
func IsRejectedStatus(status string) bool {
	return status == KanbanRejectedByDepartment || status == KanbanRejectedByPC
}

// IsTerminalStatus reports whether no further status transition is allowed.
func IsTerminalStatus(status string) bool {
	return status == KanbanApprovedByPC || IsRejectedStatus(status)
}

// ValidKanbanStatus reports whether status belongs to the enum.
func ValidKanbanStatus(status string) bool {
	for _, s := range KanbanStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// KanbanRequest is a production/part change request routed through the approval ladder.
type KanbanRequest struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID   `gorm:"type:uuid;not null;index" json:"user_id"`
	User           *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	DepartmentID   uuid.UUID   `gorm:"type:uuid;not null;index" json:"department_id"`
	Department     *Department `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	ProductionDate time.Time   `gorm:"not null" json:"production_date"`
	RequesterName  string      `gorm:"type:varchar(255);not null" json:"requester_name"`
	PartNumber     string      `gorm:"type:varchar(100);not null;index" json:"part_number"`
	PartName       string      `gorm:"type:varchar(255);not null" json:"part_name"`
	Location       string      `gorm:"type:varchar(255)" json:"location"`
	Classification string      `gorm:"type:varchar(100)" json:"classification"`
	Description    string      `gorm:"type:text" json:"description"`
	Status         string      `gorm:"type:varchar(30);not null;default:'PENDING_APPROVAL';index" json:"status"`
	Approvals      []Approval  `gorm:"foreignKey:KanbanID" json:"approvals,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (k *KanbanRequest) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.Status == "" {
		k.Status = KanbanPendingApproval
	}
	return nil
}

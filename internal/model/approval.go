package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ledger notes. The note doubles as a sub-state of the entry and is exposed as-is.
const (
	NotePending              = "Pending"
	NoteApproved             = "Approved"
	NoteApprovedByManager    = "Approved by Manager"
	NotePendingClosure       = "Pending Closure"
	NoteClosure              = "Closure"
	NoteRejectedByDepartment = "Rejected by Department"
	NoteRejectedByPC         = "Rejected by PC"
	AutoRejectedPrefix       = "Auto-rejected: "
)

// ClosureState is the typed view of a PC STAFF entry's note.
type ClosureState int

const (
	ClosurePending ClosureState = iota
	ClosurePendingClosure
	ClosureDone
)

func (s ClosureState) String() string {
	switch s {
	case ClosurePendingClosure:
		return NotePendingClosure
	case ClosureDone:
		return NoteClosure
	default:
		return NotePending
	}
}

// ParseClosureState maps a stored note onto the closure sub-state. Anything that is
// not one of the closure notes counts as ClosurePending.
func ParseClosureState(note string) ClosureState {
	switch note {
	case NotePendingClosure:
		return ClosurePendingClosure
	case NoteClosure:
		return ClosureDone
	default:
		return ClosurePending
	}
}

// AutoRejectedNote builds the note written on entries swept by a rejection elsewhere.
func AutoRejectedNote(reason string) string {
	return AutoRejectedPrefix + reason
}

// IsAutoRejectedNote reports whether note was written by a rejection sweep.
func IsAutoRejectedNote(note string) bool {
	return strings.HasPrefix(note, AutoRejectedPrefix)
}

// Approval is one ledger entry: whether Role, held by User in Department, has approved
// the Kanban request. Approval is role-level, so every holder of the role gets a row
// and one approver clears them all.
type Approval struct {
	UserID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	DepartmentID uuid.UUID  `gorm:"type:uuid;primaryKey;index:idx_approvals_role_lookup,priority:2" json:"department_id"`
	KanbanID     uuid.UUID  `gorm:"type:uuid;primaryKey;index:idx_approvals_role_lookup,priority:1" json:"kanban_id"`
	Role         string     `gorm:"type:varchar(20);primaryKey;index:idx_approvals_role_lookup,priority:3" json:"role"`
	User         *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Approved     bool       `gorm:"not null;default:false" json:"approved"`
	ApprovedAt   *time.Time `json:"approved_at"`
	Note         string     `gorm:"type:text;not null;default:'Pending'" json:"note"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ApprovalKey identifies one ledger entry.
type ApprovalKey struct {
	UserID       uuid.UUID
	DepartmentID uuid.UUID
	KanbanID     uuid.UUID
	Role         string
}

func (a Approval) Key() ApprovalKey {
	return ApprovalKey{UserID: a.UserID, DepartmentID: a.DepartmentID, KanbanID: a.KanbanID, Role: a.Role}
}

// ClosureState is only meaningful for PC STAFF entries.
func (a Approval) ClosureState() ClosureState {
	return ParseClosureState(a.Note)
}

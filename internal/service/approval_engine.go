package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/notification"
	"kanbanflow/internal/repository"
	"kanbanflow/internal/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Response types returned by Approve.
const (
	ResponseTypeApproval = "approval"
	ResponseTypeClosure  = "closure"
)

// Actor is the (user, role, department) tuple an approval action is performed as.
type Actor struct {
	UserID       uuid.UUID
	Role         string
	DepartmentID uuid.UUID
}

type ApproveResult struct {
	Message       string                      `json:"message"`
	Type          string                      `json:"type"`
	Status        string                      `json:"status"`
	Notifications []notification.Notification `json:"notifications"`
}

type RejectResult struct {
	Status        string                      `json:"status"`
	Notifications []notification.Notification `json:"notifications"`
}

// ApprovalEngine turns approve/reject actions into ledger updates, status
// transitions and the list of users to notify. Each call is one transaction.
type ApprovalEngine interface {
	Approve(ctx context.Context, kanbanID uuid.UUID, actor Actor) (*ApproveResult, error)
	Reject(ctx context.Context, kanbanID uuid.UUID, actor Actor, reason string) (*RejectResult, error)
}

type approvalEngine struct {
	kanbans     repository.KanbanRepository
	approvals   repository.ApprovalRepository
	departments repository.DepartmentRepository
	audits      repository.AuditRepository
	directory   Directory
	txManager   repository.TransactionManager
	closureDept string
	now         func() time.Time
	logger      *zap.Logger
}

type EngineOption func(*approvalEngine)

// WithClock replaces time.Now for approval timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *approvalEngine) { e.now = now }
}

func NewApprovalEngine(
	kanbans repository.KanbanRepository,
	approvals repository.ApprovalRepository,
	departments repository.DepartmentRepository,
	audits repository.AuditRepository,
	directory Directory,
	txManager repository.TransactionManager,
	closureDept string,
	logger *zap.Logger,
	opts ...EngineOption,
) ApprovalEngine {
	e := &approvalEngine{
		kanbans:     kanbans,
		approvals:   approvals,
		departments: departments,
		audits:      audits,
		directory:   directory,
		txManager:   txManager,
		closureDept: closureDept,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// approveState carries what one Approve call has decided so far.
type approveState struct {
	kanban  *model.KanbanRequest
	actor   Actor
	pc      *model.Department
	now     time.Time
	result  ApproveResult
	touched int64
}

func (e *approvalEngine) Approve(ctx context.Context, kanbanID uuid.UUID, actor Actor) (res *ApproveResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.approve", map[string]string{
		"kanban.id":     kanbanID.String(),
		"actor.role":    actor.Role,
		"actor.dept_id": actor.DepartmentID.String(),
	})
	defer func() { tracing.EndSpan(span, err) }()

	var st *approveState
	err = e.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		st = &approveState{actor: actor, now: e.now()}

		kanban, findErr := e.kanbans.FindByIDForUpdate(txCtx, kanbanID)
		if findErr != nil {
			return notFoundOr(findErr, "kanban request")
		}
		st.kanban = kanban

		if model.IsRejectedStatus(kanban.Status) {
			return fmt.Errorf("%w: kanban request is already %s", ErrConflict, kanban.Status)
		}

		pc, pcErr := e.closureDepartment(txCtx)
		if pcErr != nil {
			return pcErr
		}
		st.pc = pc

		isPCStaff := actor.Role == model.RoleStaff && actor.DepartmentID == pc.ID
		if kanban.Status == model.KanbanApprovedByPC && !isPCStaff {
			return fmt.Errorf("%w: kanban request is already %s", ErrConflict, kanban.Status)
		}

		// Lock every holder's row of this role so concurrent approvers queue here.
		rows, lockErr := e.approvals.LockRole(txCtx, kanbanID, actor.DepartmentID, actor.Role)
		if lockErr != nil {
			return fmt.Errorf("failed to lock approval entries: %w", lockErr)
		}
		var own *model.Approval
		for i := range rows {
			if rows[i].Approved {
				return fmt.Errorf("%w: role %s already approved this kanban request", ErrConflict, actor.Role)
			}
			if rows[i].UserID == actor.UserID {
				own = &rows[i]
			}
		}
		if own == nil {
			return fmt.Errorf("%w: no %s approval entry for this user on the kanban request", ErrForbidden, actor.Role)
		}

		if isPCStaff && (kanban.Status == model.KanbanApprovedByPC || own.ClosureState() == model.ClosurePendingClosure) {
			return e.close(txCtx, st)
		}

		touched, flipErr := e.approvals.ApproveRole(txCtx, kanbanID, actor.DepartmentID, actor.Role, model.NoteApproved, st.now)
		if flipErr != nil {
			return fmt.Errorf("failed to approve role entries: %w", flipErr)
		}
		st.touched = touched
		st.result = ApproveResult{
			Message: fmt.Sprintf("Kanban request approved as %s", actor.Role),
			Type:    ResponseTypeApproval,
			Status:  kanban.Status,
		}

		switch {
		case actor.Role == model.RoleManager:
			if cascadeErr := e.approveAsManager(txCtx, st); cascadeErr != nil {
				return cascadeErr
			}
		case isPCStaff:
			if touchErr := e.acceptByPCStaff(txCtx, st); touchErr != nil {
				return touchErr
			}
		}

		return e.writeAudit(txCtx, actor, model.ActionApproveKanban, kanban, map[string]interface{}{
			"role":          actor.Role,
			"department_id": actor.DepartmentID.String(),
			"status":        st.result.Status,
			"entries":       st.touched,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Kanban request approved",
		zap.String("kanban_id", kanbanID.String()),
		zap.String("user_id", actor.UserID.String()),
		zap.String("role", actor.Role),
		zap.String("type", st.result.Type),
		zap.String("status", st.result.Status))

	if st.result.Notifications == nil {
		st.result.Notifications = []notification.Notification{}
	}
	return &st.result, nil
}

// close is the PC STAFF acknowledgement after PC management approval. Status
// does not change. Closure is role-level on purpose: every PC STAFF entry is
// marked Closure, not only the actor's, matching how any other role approval
// clears the whole role.
func (e *approvalEngine) close(ctx context.Context, st *approveState) error {
	touched, err := e.approvals.ApproveRole(ctx, st.kanban.ID, st.pc.ID, model.RoleStaff, model.NoteClosure, st.now)
	if err != nil {
		return fmt.Errorf("failed to close kanban request: %w", err)
	}
	st.touched = touched
	st.result = ApproveResult{
		Message: "Kanban request closed by PC staff",
		Type:    ResponseTypeClosure,
		Status:  st.kanban.Status,
	}
	return e.writeAudit(ctx, st.actor, model.ActionCloseKanban, st.kanban, map[string]interface{}{
		"department_id": st.pc.ID.String(),
		"entries":       touched,
	})
}

// approveAsManager clears the department's leaders and supervisors and moves the
// request forward depending on which department the manager sits in.
func (e *approvalEngine) approveAsManager(ctx context.Context, st *approveState) error {
	kanban, actor := st.kanban, st.actor

	cascaded, err := e.approvals.ApproveRoles(ctx, kanban.ID, actor.DepartmentID,
		[]string{model.RoleLeader, model.RoleSupervisor}, model.NoteApprovedByManager, st.now)
	if err != nil {
		return fmt.Errorf("failed to auto-approve leader/supervisor entries: %w", err)
	}
	st.touched += cascaded

	switch actor.DepartmentID {
	case kanban.DepartmentID:
		if err := e.setStatus(ctx, st, model.KanbanApprovedByDepartment); err != nil {
			return err
		}

		staff, err := e.directory.UsersByRoles(ctx, st.pc.ID, model.RoleStaff)
		if err != nil {
			return err
		}
		if _, err := e.approvals.CreatePending(ctx, kanban.ID, st.pc.ID, userIDs(staff), model.RoleStaff); err != nil {
			return fmt.Errorf("failed to create PC staff entries: %w", err)
		}
		for _, u := range staff {
			st.result.Notifications = append(st.result.Notifications, notification.Notification{
				UserID:   u.ID,
				KanbanID: kanban.ID,
				Message:  fmt.Sprintf("Kanban request %s was approved by its department and awaits PC review", kanban.PartNumber),
			})
		}
		st.result.Message = "Kanban request approved by department manager and forwarded to PC"

	case st.pc.ID:
		return e.approveAsPCManagement(ctx, st)
	}
	return nil
}

// approveAsPCManagement moves the request to APPROVED_BY_PC and asks PC staff to close it.
func (e *approvalEngine) approveAsPCManagement(ctx context.Context, st *approveState) error {
	kanban := st.kanban

	if err := e.setStatus(ctx, st, model.KanbanApprovedByPC); err != nil {
		return err
	}

	cascaded, err := e.approvals.ApproveRoles(ctx, kanban.ID, st.pc.ID,
		[]string{model.RoleLeader, model.RoleSupervisor}, model.NoteApprovedByManager, st.now)
	if err != nil {
		return fmt.Errorf("failed to auto-approve PC leader/supervisor entries: %w", err)
	}
	st.touched += cascaded

	if _, err := e.approvals.ResetRole(ctx, kanban.ID, st.pc.ID, model.RoleStaff, model.ClosurePendingClosure.String()); err != nil {
		return fmt.Errorf("failed to reset PC staff entries: %w", err)
	}

	staffRows, err := e.approvals.LockRole(ctx, kanban.ID, st.pc.ID, model.RoleStaff)
	if err != nil {
		return fmt.Errorf("failed to load PC staff entries: %w", err)
	}
	for _, row := range staffRows {
		st.result.Notifications = append(st.result.Notifications, notification.Notification{
			UserID:   row.UserID,
			KanbanID: kanban.ID,
			Message:  fmt.Sprintf("Kanban request %s was approved by PC management; please close it", kanban.PartNumber),
		})
	}
	st.result.Message = "Kanban request approved by PC; waiting for PC staff closure"
	return nil
}

// acceptByPCStaff is the first PC STAFF touch: hand the request to PC management.
func (e *approvalEngine) acceptByPCStaff(ctx context.Context, st *approveState) error {
	kanban := st.kanban

	if err := e.setStatus(ctx, st, model.KanbanPendingPC); err != nil {
		return err
	}

	management, err := e.directory.UsersByRoles(ctx, st.pc.ID, model.RoleSupervisor, model.RoleManager)
	if err != nil {
		return err
	}
	byRole := map[string][]uuid.UUID{}
	for _, u := range management {
		byRole[u.Role] = append(byRole[u.Role], u.ID)
	}
	for _, role := range []string{model.RoleSupervisor, model.RoleManager} {
		if _, err := e.approvals.CreatePending(ctx, kanban.ID, st.pc.ID, byRole[role], role); err != nil {
			return fmt.Errorf("failed to create PC %s entries: %w", role, err)
		}
	}

	if _, err := e.approvals.CloseStale(ctx, kanban.ID, st.now); err != nil {
		return fmt.Errorf("failed to sweep pending closure entries: %w", err)
	}
	st.result.Message = "Kanban request accepted by PC staff and sent to PC management"

	// A PC-owned request already carries the PC manager's approval from the home
	// department step, so PC management is satisfied right away.
	if kanban.DepartmentID == st.pc.ID {
		managed, err := e.approvals.IsRoleApproved(ctx, kanban.ID, st.pc.ID, model.RoleManager)
		if err != nil {
			return fmt.Errorf("failed to check PC manager approval: %w", err)
		}
		if managed {
			return e.approveAsPCManagement(ctx, st)
		}
	}

	for _, u := range management {
		st.result.Notifications = append(st.result.Notifications, notification.Notification{
			UserID:   u.ID,
			KanbanID: kanban.ID,
			Message:  fmt.Sprintf("Kanban request %s was accepted by PC staff and awaits your approval", kanban.PartNumber),
		})
	}
	return nil
}

func (e *approvalEngine) setStatus(ctx context.Context, st *approveState, status string) error {
	if err := e.kanbans.UpdateStatus(ctx, st.kanban.ID, status); err != nil {
		return fmt.Errorf("failed to update kanban status: %w", err)
	}
	st.kanban.Status = status
	st.result.Status = status
	return nil
}

func (e *approvalEngine) Reject(ctx context.Context, kanbanID uuid.UUID, actor Actor, reason string) (res *RejectResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.reject", map[string]string{
		"kanban.id":     kanbanID.String(),
		"actor.role":    actor.Role,
		"actor.dept_id": actor.DepartmentID.String(),
	})
	defer func() { tracing.EndSpan(span, err) }()

	var result RejectResult
	err = e.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		now := e.now()

		kanban, findErr := e.kanbans.FindByIDForUpdate(txCtx, kanbanID)
		if findErr != nil {
			return notFoundOr(findErr, "kanban request")
		}
		if model.IsTerminalStatus(kanban.Status) {
			return fmt.Errorf("%w: kanban request is already %s", ErrConflict, kanban.Status)
		}

		pc, pcErr := e.closureDepartment(txCtx)
		if pcErr != nil {
			return pcErr
		}

		key := model.ApprovalKey{UserID: actor.UserID, DepartmentID: actor.DepartmentID, KanbanID: kanbanID, Role: actor.Role}
		if _, ownErr := e.approvals.Find(txCtx, key); ownErr != nil {
			if errors.Is(ownErr, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no %s approval entry for this user on the kanban request", ErrForbidden, actor.Role)
			}
			return fmt.Errorf("failed to load approval entry: %w", ownErr)
		}

		target, note := model.KanbanRejectedByDepartment, model.NoteRejectedByDepartment
		if actor.DepartmentID == pc.ID {
			target, note = model.KanbanRejectedByPC, model.NoteRejectedByPC
		}
		if reason != "" {
			note = reason
		}

		if rejectErr := e.approvals.Reject(txCtx, key, note, now); rejectErr != nil {
			return fmt.Errorf("failed to reject approval entry: %w", rejectErr)
		}
		if statusErr := e.kanbans.UpdateStatus(txCtx, kanbanID, target); statusErr != nil {
			return fmt.Errorf("failed to update kanban status: %w", statusErr)
		}
		swept, sweepErr := e.approvals.AutoRejectPending(txCtx, kanbanID, model.AutoRejectedNote(note))
		if sweepErr != nil {
			return fmt.Errorf("failed to auto-reject pending entries: %w", sweepErr)
		}

		result = RejectResult{
			Status: target,
			Notifications: []notification.Notification{{
				UserID:   kanban.UserID,
				KanbanID: kanbanID,
				Message:  fmt.Sprintf("Kanban request %s was rejected: %s", kanban.PartNumber, note),
			}},
		}

		return e.writeAudit(txCtx, actor, model.ActionRejectKanban, kanban, map[string]interface{}{
			"role":          actor.Role,
			"department_id": actor.DepartmentID.String(),
			"status":        target,
			"reason":        note,
			"auto_rejected": swept,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Kanban request rejected",
		zap.String("kanban_id", kanbanID.String()),
		zap.String("user_id", actor.UserID.String()),
		zap.String("role", actor.Role),
		zap.String("status", result.Status))

	return &result, nil
}

func (e *approvalEngine) closureDepartment(ctx context.Context) (*model.Department, error) {
	dept, err := e.departments.FindByName(ctx, e.closureDept)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("closure department %q", e.closureDept))
	}
	return dept, nil
}

func (e *approvalEngine) writeAudit(ctx context.Context, actor Actor, action string, kanban *model.KanbanRequest, details map[string]interface{}) error {
	return writeKanbanAudit(ctx, e.audits, actor.UserID, action, kanban, details)
}

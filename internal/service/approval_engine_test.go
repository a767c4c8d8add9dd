package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"
	"kanbanflow/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestApprovalEngine_ManagerApprovalCascades(t *testing.T) {
	w := newWorld(t)
	id := w.createKanban(t, w.owner)

	res := w.approve(t, id, w.manager)

	assert.Equal(t, ResponseTypeApproval, res.Type)
	assert.Equal(t, model.KanbanApprovedByDepartment, res.Status)
	assert.Equal(t, model.KanbanApprovedByDepartment, testutil.KanbanStatus(t, w.db, id))

	rows := testutil.Approvals(t, w.db, id)
	for _, u := range []*model.User{w.leader, w.supervisor} {
		e := entry(rows, u.ID, u.Role)
		require.NotNil(t, e, u.Username)
		assert.True(t, e.Approved)
		assert.Equal(t, model.NoteApprovedByManager, e.Note)
		require.NotNil(t, e.ApprovedAt)
		assert.True(t, e.ApprovedAt.Equal(fixedNow))
	}
	m := entry(rows, w.manager.ID, model.RoleManager)
	require.NotNil(t, m)
	assert.True(t, m.Approved)
	assert.Equal(t, model.NoteApproved, m.Note)

	for _, u := range []*model.User{w.pcStaff, w.pcStaff2} {
		e := entry(rows, u.ID, model.RoleStaff)
		require.NotNil(t, e, "PC staff %s should get a pending entry", u.Username)
		assert.False(t, e.Approved)
		assert.Equal(t, model.NotePending, e.Note)
		assert.Equal(t, w.pc.ID, e.DepartmentID)
	}
	assert.ElementsMatch(t, []uuid.UUID{w.pcStaff.ID, w.pcStaff2.ID}, recipients(res.Notifications))
}

func TestApprovalEngine_ManagerLeavesNoPendingLeaderOrSupervisor(t *testing.T) {
	w := newWorld(t)
	extraLeader := testutil.CreateUser(t, w.db, "leader-2", model.RoleLeader, w.dept)
	id := w.createKanban(t, w.owner)

	// One leader approves first; the manager then sweeps the rest.
	w.approve(t, id, w.leader)
	w.approve(t, id, w.manager)

	for _, e := range testutil.Approvals(t, w.db, id) {
		if e.DepartmentID != w.dept.ID {
			continue
		}
		if e.Role == model.RoleLeader || e.Role == model.RoleSupervisor {
			assert.True(t, e.Approved, "%s entry of %s still pending", e.Role, e.UserID)
		}
	}
	// Leaders were already cleared by the leader's own approval.
	rows := testutil.Approvals(t, w.db, id)
	assert.Equal(t, model.NoteApproved, entry(rows, extraLeader.ID, model.RoleLeader).Note)
	assert.Equal(t, model.NoteApprovedByManager, entry(rows, w.supervisor.ID, model.RoleSupervisor).Note)
}

func TestApprovalEngine_RoleLevelApproval(t *testing.T) {
	w := newWorld(t)
	second := testutil.CreateUser(t, w.db, "leader-2", model.RoleLeader, w.dept)
	id := w.createKanban(t, w.owner)

	res := w.approve(t, id, w.leader)
	assert.Equal(t, model.KanbanPendingApproval, res.Status)
	assert.Empty(t, res.Notifications)

	rows := testutil.Approvals(t, w.db, id)
	assert.True(t, entry(rows, w.leader.ID, model.RoleLeader).Approved)
	assert.True(t, entry(rows, second.ID, model.RoleLeader).Approved, "one holder clears the whole role")
	assert.False(t, entry(rows, w.supervisor.ID, model.RoleSupervisor).Approved)

	_, err := w.engine.Approve(context.Background(), id, actorOf(second))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestApprovalEngine_PCStaffFirstTouch(t *testing.T) {
	w := newWorld(t)
	id := w.createKanban(t, w.owner)
	w.approve(t, id, w.manager)

	res := w.approve(t, id, w.pcStaff)

	assert.Equal(t, ResponseTypeApproval, res.Type)
	assert.Equal(t, model.KanbanPendingPC, res.Status)
	assert.Equal(t, model.KanbanPendingPC, testutil.KanbanStatus(t, w.db, id))

	rows := testutil.Approvals(t, w.db, id)
	own := entry(rows, w.pcStaff.ID, model.RoleStaff)
	require.NotNil(t, own)
	assert.True(t, own.Approved)
	assert.NotEqual(t, model.NoteClosure, own.Note)
	assert.Equal(t, model.ClosurePending, own.ClosureState())

	for _, u := range []*model.User{w.pcSupervisor, w.pcManager} {
		e := entry(rows, u.ID, u.Role)
		require.NotNil(t, e, u.Username)
		assert.False(t, e.Approved)
		assert.Equal(t, model.NotePending, e.Note)
	}
	assert.Nil(t, entry(rows, w.pcLeader.ID, model.RoleLeader), "PC leaders take no part in PC review")
	assert.ElementsMatch(t, []uuid.UUID{w.pcSupervisor.ID, w.pcManager.ID}, recipients(res.Notifications))
}

func TestApprovalEngine_PCManagerApproval(t *testing.T) {
	w := newWorld(t)
	id := w.toPendingPC(t)

	res := w.approve(t, id, w.pcManager)

	assert.Equal(t, model.KanbanApprovedByPC, res.Status)
	assert.Equal(t, model.KanbanApprovedByPC, testutil.KanbanStatus(t, w.db, id))

	rows := testutil.Approvals(t, w.db, id)
	for _, u := range []*model.User{w.pcStaff, w.pcStaff2} {
		e := entry(rows, u.ID, model.RoleStaff)
		require.NotNil(t, e)
		assert.False(t, e.Approved)
		assert.Equal(t, model.NotePendingClosure, e.Note)
		assert.Equal(t, model.ClosurePendingClosure, e.ClosureState())
		assert.Nil(t, e.ApprovedAt)
	}
	sup := entry(rows, w.pcSupervisor.ID, model.RoleSupervisor)
	assert.True(t, sup.Approved)
	assert.Equal(t, model.NoteApprovedByManager, sup.Note)

	assert.ElementsMatch(t, []uuid.UUID{w.pcStaff.ID, w.pcStaff2.ID}, recipients(res.Notifications))
}

func TestApprovalEngine_Closure(t *testing.T) {
	w := newWorld(t)
	id := w.toApprovedByPC(t)

	res := w.approve(t, id, w.pcStaff)

	assert.Equal(t, ResponseTypeClosure, res.Type)
	assert.Equal(t, model.KanbanApprovedByPC, res.Status)
	assert.Equal(t, model.KanbanApprovedByPC, testutil.KanbanStatus(t, w.db, id))
	assert.Empty(t, res.Notifications)

	rows := testutil.Approvals(t, w.db, id)
	for _, u := range []*model.User{w.pcStaff, w.pcStaff2} {
		e := entry(rows, u.ID, model.RoleStaff)
		assert.True(t, e.Approved)
		assert.Equal(t, model.NoteClosure, e.Note)
		assert.Equal(t, model.ClosureDone, e.ClosureState())
	}

	_, err := w.engine.Approve(context.Background(), id, actorOf(w.pcStaff2))
	assert.ErrorIs(t, err, ErrConflict, "closure happens once")
}

func TestApprovalEngine_ApproveAfterPCApprovalByNonStaff(t *testing.T) {
	w := newWorld(t)
	id := w.toApprovedByPC(t)

	_, err := w.engine.Approve(context.Background(), id, actorOf(w.pcSupervisor))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, model.KanbanApprovedByPC, testutil.KanbanStatus(t, w.db, id))
}

func TestApprovalEngine_PCOwnedRequest(t *testing.T) {
	w := newWorld(t)
	pcOwner := testutil.CreateUser(t, w.db, "pc-owner", model.RoleUser, w.pc)
	id := w.createKanban(t, pcOwner)

	res := w.approve(t, id, w.pcManager)
	assert.Equal(t, model.KanbanApprovedByDepartment, res.Status)

	// PC management already approved as the home department, so intake goes
	// straight to APPROVED_BY_PC.
	res = w.approve(t, id, w.pcStaff)
	assert.Equal(t, model.KanbanApprovedByPC, res.Status)
	assert.ElementsMatch(t, []uuid.UUID{w.pcStaff.ID, w.pcStaff2.ID}, recipients(res.Notifications))

	rows := testutil.Approvals(t, w.db, id)
	assert.Equal(t, model.NotePendingClosure, entry(rows, w.pcStaff.ID, model.RoleStaff).Note)

	res = w.approve(t, id, w.pcStaff2)
	assert.Equal(t, ResponseTypeClosure, res.Type)
	assert.Equal(t, model.KanbanApprovedByPC, testutil.KanbanStatus(t, w.db, id))
}

func TestApprovalEngine_RejectPendingApproval(t *testing.T) {
	w := newWorld(t)
	id := w.createKanban(t, w.owner)

	res, err := w.engine.Reject(context.Background(), id, actorOf(w.leader), "wrong part number")
	require.NoError(t, err)

	assert.Equal(t, model.KanbanRejectedByDepartment, res.Status)
	assert.Equal(t, model.KanbanRejectedByDepartment, testutil.KanbanStatus(t, w.db, id))
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, w.owner.ID, res.Notifications[0].UserID)

	rows := testutil.Approvals(t, w.db, id)
	own := entry(rows, w.leader.ID, model.RoleLeader)
	assert.False(t, own.Approved)
	assert.Equal(t, "wrong part number", own.Note)

	for _, u := range []*model.User{w.supervisor, w.manager} {
		e := entry(rows, u.ID, u.Role)
		assert.False(t, e.Approved)
		assert.Equal(t, "Auto-rejected: wrong part number", e.Note)
		assert.True(t, model.IsAutoRejectedNote(e.Note))
	}
}

func TestApprovalEngine_RejectDefaultNote(t *testing.T) {
	w := newWorld(t)
	id := w.createKanban(t, w.owner)

	_, err := w.engine.Reject(context.Background(), id, actorOf(w.supervisor), "")
	require.NoError(t, err)

	rows := testutil.Approvals(t, w.db, id)
	assert.Equal(t, model.NoteRejectedByDepartment, entry(rows, w.supervisor.ID, model.RoleSupervisor).Note)
	assert.Equal(t, model.AutoRejectedNote(model.NoteRejectedByDepartment), entry(rows, w.manager.ID, model.RoleManager).Note)
}

func TestApprovalEngine_RejectByPC(t *testing.T) {
	w := newWorld(t)
	id := w.toPendingPC(t)

	res, err := w.engine.Reject(context.Background(), id, actorOf(w.pcSupervisor), "")
	require.NoError(t, err)
	assert.Equal(t, model.KanbanRejectedByPC, res.Status)

	rows := testutil.Approvals(t, w.db, id)
	assert.Equal(t, model.NoteRejectedByPC, entry(rows, w.pcSupervisor.ID, model.RoleSupervisor).Note)
	assert.Equal(t, model.AutoRejectedNote(model.NoteRejectedByPC), entry(rows, w.pcManager.ID, model.RoleManager).Note)
	// Approved entries keep their notes.
	assert.Equal(t, model.NoteApproved, entry(rows, w.manager.ID, model.RoleManager).Note)
	assert.True(t, entry(rows, w.manager.ID, model.RoleManager).Approved)
}

func TestApprovalEngine_TerminalStatusNeverChanges(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	rejected := w.createKanban(t, w.owner)
	_, err := w.engine.Reject(ctx, rejected, actorOf(w.leader), "duplicate")
	require.NoError(t, err)

	for _, u := range []*model.User{w.leader, w.supervisor, w.manager} {
		_, err := w.engine.Approve(ctx, rejected, actorOf(u))
		assert.ErrorIs(t, err, ErrConflict, "approve as %s", u.Role)
		_, err = w.engine.Reject(ctx, rejected, actorOf(u), "again")
		assert.ErrorIs(t, err, ErrConflict, "reject as %s", u.Role)
	}
	assert.Equal(t, model.KanbanRejectedByDepartment, testutil.KanbanStatus(t, w.db, rejected))
	for _, e := range testutil.Approvals(t, w.db, rejected) {
		assert.False(t, e.Approved, "no entry may become approved after rejection")
	}

	approved := w.toApprovedByPC(t)
	_, err = w.engine.Reject(ctx, approved, actorOf(w.pcStaff), "too late")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, model.KanbanApprovedByPC, testutil.KanbanStatus(t, w.db, approved))
}

func TestApprovalEngine_Errors(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	id := w.createKanban(t, w.owner)

	_, err := w.engine.Approve(ctx, uuid.New(), actorOf(w.manager))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = w.engine.Reject(ctx, uuid.New(), actorOf(w.manager), "")
	assert.ErrorIs(t, err, ErrNotFound)

	// No ledger entry for these actors on this request.
	for _, u := range []*model.User{w.admin, w.owner, w.pcStaff} {
		_, err = w.engine.Approve(ctx, id, actorOf(u))
		assert.ErrorIs(t, err, ErrForbidden, "approve as %s", u.Username)
		_, err = w.engine.Reject(ctx, id, actorOf(u), "")
		assert.ErrorIs(t, err, ErrForbidden, "reject as %s", u.Username)
	}
	assert.Equal(t, model.KanbanPendingApproval, testutil.KanbanStatus(t, w.db, id))
}

func TestApprovalEngine_ConcurrentApprovalsCascadeOnce(t *testing.T) {
	w := newWorld(t)
	second := testutil.CreateUser(t, w.db, "manager-2", model.RoleManager, w.dept)
	id := w.createKanban(t, w.owner)

	actors := []Actor{actorOf(w.manager), actorOf(second)}
	results := make([]*ApproveResult, len(actors))
	errs := make([]error, len(actors))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range actors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = w.engine.Approve(context.Background(), id, actors[i])
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, conflicted := 0, 0
	for i := range actors {
		switch {
		case errs[i] == nil:
			succeeded++
			assert.Len(t, results[i].Notifications, 2)
		case errors.Is(errs[i], ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	rows := testutil.Approvals(t, w.db, id)
	for _, u := range []*model.User{w.manager, second} {
		assert.True(t, entry(rows, u.ID, model.RoleManager).Approved)
	}
	staff := 0
	for _, e := range rows {
		if e.Role == model.RoleStaff {
			staff++
		}
	}
	assert.Equal(t, 2, staff, "PC staff entries are created once")
	assert.Equal(t, model.KanbanApprovedByDepartment, testutil.KanbanStatus(t, w.db, id))
}

func TestApprovalEngine_AuditTrail(t *testing.T) {
	w := newWorld(t)
	id := w.toApprovedByPC(t)
	w.approve(t, id, w.pcStaff)

	var actions []string
	require.NoError(t, w.db.Model(&model.AuditLog{}).
		Where("entity_id = ?", id.String()).
		Order("created_at, action").
		Pluck("action", &actions).Error)

	assert.Contains(t, actions, model.ActionCreateKanban)
	assert.Contains(t, actions, model.ActionApproveKanban)
	assert.Contains(t, actions, model.ActionCloseKanban)
}

var errDirectoryDown = errors.New("directory down")

type failingDirectory struct{}

func (failingDirectory) UsersByRoles(context.Context, uuid.UUID, ...string) ([]model.User, error) {
	return nil, errDirectoryDown
}

func (failingDirectory) Invalidate(context.Context, uuid.UUID) error {
	return errDirectoryDown
}

func TestApprovalEngine_FailedCascadeRollsBack(t *testing.T) {
	w := newWorld(t)
	id := w.createKanban(t, w.owner)
	engine := NewApprovalEngine(repository.NewKanbanRepository(w.db), w.approvals,
		repository.NewDepartmentRepository(w.db), repository.NewAuditRepository(w.db), failingDirectory{},
		repository.NewTransactionManager(w.db, 0), model.DefaultClosureDepartment, zap.NewNop())

	_, err := engine.Approve(context.Background(), id, actorOf(w.manager))
	require.ErrorIs(t, err, errDirectoryDown)

	assert.Equal(t, model.KanbanPendingApproval, testutil.KanbanStatus(t, w.db, id))
	rows := testutil.Approvals(t, w.db, id)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.False(t, r.Approved, r.Role)
		assert.Equal(t, model.NotePending, r.Note)
	}

	var approvals int64
	require.NoError(t, w.db.Model(&model.AuditLog{}).
		Where("entity_id = ? AND action = ?", id.String(), model.ActionApproveKanban).
		Count(&approvals).Error)
	assert.Zero(t, approvals)

	// The untouched request still goes through once the directory is back.
	res := w.approve(t, id, w.manager)
	assert.Equal(t, model.KanbanApprovedByDepartment, res.Status)
}

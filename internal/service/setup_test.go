package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/notification"
	"kanbanflow/internal/repository"
	"kanbanflow/internal/testutil"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// recordingNotifier keeps every dispatched batch.
type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]notification.Notification
}

func (r *recordingNotifier) Dispatch(batch []notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *recordingNotifier) all() []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Notification
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

// world is a migrated database with a production department D and the PC
// department, each staffed with one user per role (PC has two STAFF).
type world struct {
	db       *gorm.DB
	engine   ApprovalEngine
	kanbans  KanbanService
	workflow WorkflowService
	accounts UserService
	notifier *recordingNotifier

	approvals repository.ApprovalRepository
	users     repository.UserRepository
	directory Directory

	dept, pc *model.Department

	owner                  *model.User
	leader, supervisor     *model.User
	manager                *model.User
	pcStaff, pcStaff2      *model.User
	pcLeader, pcSupervisor *model.User
	pcManager              *model.User
	admin                  *model.User
}

func newWorld(t *testing.T) *world {
	t.Helper()
	return newCachedWorld(t, nil)
}

// newCachedWorld is newWorld with the directory cached in cache.
func newCachedWorld(t *testing.T, cache *redis.Client) *world {
	t.Helper()

	db := testutil.NewTestDB(t)
	logger := zap.NewNop()

	w := &world{db: db, notifier: &recordingNotifier{}}
	w.dept = testutil.CreateDepartment(t, db, "Assembly")
	w.pc = testutil.CreateDepartment(t, db, model.DefaultClosureDepartment)

	w.owner = testutil.CreateUser(t, db, "owner", model.RoleUser, w.dept)
	w.leader = testutil.CreateUser(t, db, "leader", model.RoleLeader, w.dept)
	w.supervisor = testutil.CreateUser(t, db, "supervisor", model.RoleSupervisor, w.dept)
	w.manager = testutil.CreateUser(t, db, "manager", model.RoleManager, w.dept)
	w.pcStaff = testutil.CreateUser(t, db, "pc-staff", model.RoleStaff, w.pc)
	w.pcStaff2 = testutil.CreateUser(t, db, "pc-staff-2", model.RoleStaff, w.pc)
	w.pcLeader = testutil.CreateUser(t, db, "pc-leader", model.RoleLeader, w.pc)
	w.pcSupervisor = testutil.CreateUser(t, db, "pc-supervisor", model.RoleSupervisor, w.pc)
	w.pcManager = testutil.CreateUser(t, db, "pc-manager", model.RoleManager, w.pc)
	w.admin = testutil.CreateUser(t, db, "admin", model.RoleAdmin, w.pc)

	txManager := repository.NewTransactionManager(db, 0)
	kanbanRepo := repository.NewKanbanRepository(db)
	w.approvals = repository.NewApprovalRepository(db)
	deptRepo := repository.NewDepartmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	w.users = repository.NewUserRepository(db)
	w.directory = NewDirectory(w.users, cache, time.Minute, logger)

	w.engine = NewApprovalEngine(kanbanRepo, w.approvals, deptRepo, auditRepo, w.directory, txManager,
		model.DefaultClosureDepartment, logger, WithClock(func() time.Time { return fixedNow }))
	w.kanbans = NewKanbanService(kanbanRepo, w.approvals, deptRepo, w.users, auditRepo, w.directory, txManager, w.notifier, logger)
	w.accounts = NewUserService(w.users, deptRepo, w.directory, TokenConfig{Secret: testSecret}, logger)
	w.workflow = NewWorkflowService(w.engine, w.users, w.notifier, logger)
	return w
}

func actorOf(u *model.User) Actor {
	return Actor{UserID: u.ID, Role: u.Role, DepartmentID: u.DepartmentID}
}

// createKanban files a request owned by owner in owner's department.
func (w *world) createKanban(t *testing.T, owner *model.User) uuid.UUID {
	t.Helper()

	resp, err := w.kanbans.CreateKanban(context.Background(), owner.ID.String(), CreateKanbanRequest{
		ProductionDate: "2026-03-10",
		RequesterName:  owner.Username,
		PartNumber:     "PN-1001",
		PartName:       "Bracket",
		Location:       "Line 3",
		Classification: "Change",
	})
	require.NoError(t, err)
	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	return id
}

func (w *world) approve(t *testing.T, kanbanID uuid.UUID, u *model.User) *ApproveResult {
	t.Helper()
	res, err := w.engine.Approve(context.Background(), kanbanID, actorOf(u))
	require.NoError(t, err)
	return res
}

// toPendingPC drives a fresh request through department approval and PC staff intake.
func (w *world) toPendingPC(t *testing.T) uuid.UUID {
	t.Helper()
	id := w.createKanban(t, w.owner)
	w.approve(t, id, w.manager)
	w.approve(t, id, w.pcStaff)
	return id
}

// toApprovedByPC continues until PC management has approved.
func (w *world) toApprovedByPC(t *testing.T) uuid.UUID {
	t.Helper()
	id := w.toPendingPC(t)
	w.approve(t, id, w.pcManager)
	return id
}

// entry finds the ledger row of user for role.
func entry(rows []model.Approval, userID uuid.UUID, role string) *model.Approval {
	for i := range rows {
		if rows[i].UserID == userID && rows[i].Role == role {
			return &rows[i]
		}
	}
	return nil
}

func recipients(batch []notification.Notification) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(batch))
	for _, n := range batch {
		ids = append(ids, n.UserID)
	}
	return ids
}

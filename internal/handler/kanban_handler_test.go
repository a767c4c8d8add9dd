package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kanbanflow/internal/middleware"
	"kanbanflow/internal/service"
	"kanbanflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var handlerSecret = []byte("handler-secret")

const callerID = "9b3e1f7c-3f8e-4d0a-a8c2-6c1b5a2d9e44"

type fakeWorkflow struct {
	approveErr error
	rejectErr  error
	gotReason  string
	gotUser    string
}

func (f *fakeWorkflow) Approve(_ context.Context, kanbanID, userID string) (*service.ApproveResult, error) {
	f.gotUser = userID
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	return &service.ApproveResult{Message: "ok", Type: service.ResponseTypeApproval, Status: "APPROVED_BY_DEPARTMENT"}, nil
}

func (f *fakeWorkflow) Reject(_ context.Context, kanbanID, userID, reason string) (*service.RejectResult, error) {
	f.gotUser, f.gotReason = userID, reason
	if f.rejectErr != nil {
		return nil, f.rejectErr
	}
	return &service.RejectResult{Status: "REJECTED_BY_DEPARTMENT"}, nil
}

type fakeKanbans struct {
	service.KanbanService
	filter service.KanbanListFilter
}

func (f *fakeKanbans) ListKanbans(_ context.Context, _ string, filter service.KanbanListFilter) ([]service.KanbanResponse, int64, error) {
	f.filter = filter
	return []service.KanbanResponse{{ID: "k1"}}, 41, nil
}

func newTestRouter(kanbans service.KanbanService, workflow service.WorkflowService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewKanbanHandler(kanbans, workflow, middleware.NewAuth(handlerSecret, false)).RegisterRoutes(r.Group(""))
	return r
}

func bearer(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  callerID,
		"role": "MANAGER",
		"dept": "2c7a9d1e-5b3f-4e8a-9d6c-1f0e2b3a4c55",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString(handlerSecret)
	require.NoError(t, err)
	return "Bearer " + s
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad id", service.ErrValidation), http.StatusBadRequest},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("%w: no entry", service.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("kanban request: %w", service.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: already approved", service.ErrConflict), http.StatusConflict},
		{fmt.Errorf("db gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestApproveKanban(t *testing.T) {
	wf := &fakeWorkflow{}
	r := newTestRouter(&fakeKanbans{}, wf)

	rec := do(t, r, http.MethodPut, "/api/kanbans/abc/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, callerID, wf.gotUser)

	var body struct {
		Data service.ApproveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "APPROVED_BY_DEPARTMENT", body.Data.Status)
	assert.Equal(t, service.ResponseTypeApproval, body.Data.Type)
}

func TestApproveKanban_ErrorMapping(t *testing.T) {
	wf := &fakeWorkflow{approveErr: fmt.Errorf("%w: role MANAGER already approved", service.ErrConflict)}
	rec := do(t, newTestRouter(&fakeKanbans{}, wf), http.MethodPut, "/api/kanbans/abc/approve", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Contains(t, body.Error, "already approved")
}

func TestApproveKanban_InternalErrorHidden(t *testing.T) {
	wf := &fakeWorkflow{approveErr: fmt.Errorf("pq: connection refused")}
	rec := do(t, newTestRouter(&fakeKanbans{}, wf), http.MethodPut, "/api/kanbans/abc/approve", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRejectKanban(t *testing.T) {
	wf := &fakeWorkflow{}
	r := newTestRouter(&fakeKanbans{}, wf)

	rec := do(t, r, http.MethodPut, "/api/kanbans/abc/reject", `{"reason":"wrong part"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wrong part", wf.gotReason)

	rec = do(t, r, http.MethodPut, "/api/kanbans/abc/reject", "")
	require.Equal(t, http.StatusOK, rec.Code, "reason is optional")
	assert.Empty(t, wf.gotReason)
}

func TestListKanbans_QueryAndPaging(t *testing.T) {
	kb := &fakeKanbans{}
	rec := do(t, newTestRouter(kb, &fakeWorkflow{}), http.MethodGet, "/api/kanbans?status=PENDING_PC&mine=true&page=3&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.KanbanListFilter{Status: "PENDING_PC", Mine: true, Page: 3, Limit: 10}, kb.filter)

	var body struct {
		Data response.List `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 41, body.Data.Total)
	assert.Equal(t, 5, body.Data.TotalPages)
}

func TestKanbanRoutes_RequireAuth(t *testing.T) {
	r := newTestRouter(&fakeKanbans{}, &fakeWorkflow{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/kanbans/abc/approve", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

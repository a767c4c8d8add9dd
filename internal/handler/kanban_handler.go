package handler

import (
	"net/http"

	"kanbanflow/internal/middleware"
	"kanbanflow/internal/service"
	"kanbanflow/pkg/pagination"
	"kanbanflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type KanbanHandler struct {
	kanbanService   service.KanbanService
	workflowService service.WorkflowService
	auth            *middleware.Auth
}

func NewKanbanHandler(kanbanService service.KanbanService, workflowService service.WorkflowService, auth *middleware.Auth) *KanbanHandler {
	return &KanbanHandler{kanbanService: kanbanService, workflowService: workflowService, auth: auth}
}

func (h *KanbanHandler) RegisterRoutes(router *gin.RouterGroup) {
	kanbans := router.Group("/api/kanbans")
	kanbans.Use(h.auth.RequireAuth())
	{
		kanbans.GET("", h.ListKanbans)
		kanbans.GET("/pending", h.ListPending)
		kanbans.POST("", h.CreateKanban)
		kanbans.GET("/:id", h.GetKanban)
		kanbans.PUT("/:id", h.UpdateKanban)
		kanbans.PUT("/:id/approve", h.ApproveKanban)
		kanbans.PUT("/:id/reject", h.RejectKanban)
	}
}

// CreateKanban handles POST /api/kanbans
// @Summary      Create a kanban request
// @Description  Creates a request in the caller's department and seeds the leader/supervisor/manager approvals
// @Tags         kanbans
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateKanbanRequest  true  "Kanban request"
// @Success      201      {object}  response.Response{data=service.KanbanResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/kanbans [post]
func (h *KanbanHandler) CreateKanban(c *gin.Context) {
	var req service.CreateKanbanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	kanban, err := h.kanbanService.CreateKanban(c.Request.Context(), middleware.UserIDFromContext(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, kanban))
}

// ListKanbans handles GET /api/kanbans
// @Summary      List kanban requests
// @Tags         kanbans
// @Produce      json
// @Security     BearerAuth
// @Param        status         query     string  false  "Status filter"
// @Param        department_id  query     string  false  "Owning department"
// @Param        mine           query     bool    false  "Only the caller's own requests"
// @Param        page           query     int     false  "Page number (default 1)"
// @Param        limit          query     int     false  "Items per page (default 20)"
// @Success      200            {object}  response.Response{data=response.List}
// @Router       /api/kanbans [get]
func (h *KanbanHandler) ListKanbans(c *gin.Context) {
	p := pagination.Parse(c)
	filter := service.KanbanListFilter{
		Status:       c.Query("status"),
		DepartmentID: c.Query("department_id"),
		Mine:         c.Query("mine") == "true",
		Page:         p.Page,
		Limit:        p.Limit,
	}

	kanbans, total, err := h.kanbanService.ListKanbans(c.Request.Context(), middleware.UserIDFromContext(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, kanbans, total, p.Page, p.Limit))
}

// ListPending handles GET /api/kanbans/pending
// @Summary      Caller's approval inbox
// @Description  Requests on which the caller still holds a pending or pending-closure entry
// @Tags         kanbans
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=response.List}
// @Router       /api/kanbans/pending [get]
func (h *KanbanHandler) ListPending(c *gin.Context) {
	p := pagination.Parse(c)

	kanbans, total, err := h.kanbanService.ListPendingForUser(c.Request.Context(), middleware.UserIDFromContext(c), p.Page, p.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, kanbans, total, p.Page, p.Limit))
}

// GetKanban handles GET /api/kanbans/:id
// @Summary      Get a kanban request with its approval entries
// @Tags         kanbans
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Kanban ID"
// @Success      200  {object}  response.Response{data=service.KanbanResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/kanbans/{id} [get]
func (h *KanbanHandler) GetKanban(c *gin.Context) {
	kanban, err := h.kanbanService.GetKanban(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, kanban))
}

// UpdateKanban handles PUT /api/kanbans/:id
// @Summary      Edit a kanban request
// @Description  Only the requester may edit, and only before any approval is recorded
// @Tags         kanbans
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                       true  "Kanban ID"
// @Param        payload  body      service.UpdateKanbanRequest  true  "Fields to change"
// @Success      200      {object}  response.Response{data=service.KanbanResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/kanbans/{id} [put]
func (h *KanbanHandler) UpdateKanban(c *gin.Context) {
	var req service.UpdateKanbanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	kanban, err := h.kanbanService.UpdateKanban(c.Request.Context(), c.Param("id"), middleware.UserIDFromContext(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, kanban))
}

// ApproveKanban handles PUT /api/kanbans/:id/approve
// @Summary      Approve (or close) a kanban request as the caller's role
// @Tags         kanbans
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Kanban ID"
// @Success      200  {object}  response.Response{data=service.ApproveResult}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/kanbans/{id}/approve [put]
func (h *KanbanHandler) ApproveKanban(c *gin.Context) {
	result, err := h.workflowService.Approve(c.Request.Context(), c.Param("id"), middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectKanban handles PUT /api/kanbans/:id/reject
// @Summary      Reject a kanban request
// @Tags         kanbans
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                       true   "Kanban ID"
// @Param        payload  body      service.RejectKanbanRequest  false  "Rejection reason"
// @Success      200      {object}  response.Response{data=service.RejectResult}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/kanbans/{id}/reject [put]
func (h *KanbanHandler) RejectKanban(c *gin.Context) {
	var req service.RejectKanbanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Empty body is fine, reason is optional
		req.Reason = ""
	}

	result, err := h.workflowService.Reject(c.Request.Context(), c.Param("id"), middleware.UserIDFromContext(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

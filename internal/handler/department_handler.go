package handler

import (
	"net/http"

	"kanbanflow/internal/middleware"
	"kanbanflow/internal/model"
	"kanbanflow/internal/service"
	"kanbanflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type DepartmentHandler struct {
	departmentService service.DepartmentService
	auth              *middleware.Auth
}

func NewDepartmentHandler(departmentService service.DepartmentService, auth *middleware.Auth) *DepartmentHandler {
	return &DepartmentHandler{departmentService: departmentService, auth: auth}
}

func (h *DepartmentHandler) RegisterRoutes(router *gin.RouterGroup) {
	depts := router.Group("/api/departments")
	depts.Use(h.auth.RequireAuth())
	{
		depts.GET("", h.ListDepartments)
		depts.GET("/:id", h.GetDepartment)
		depts.POST("", h.auth.RequireRole(model.RoleAdmin), h.CreateDepartment)
	}

	router.GET("/api/roles", h.auth.RequireAuth(), h.ListRoles)
}

// ListDepartments handles GET /api/departments
// @Summary      List departments
// @Tags         departments
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=[]service.DepartmentResponse}
// @Router       /api/departments [get]
func (h *DepartmentHandler) ListDepartments(c *gin.Context) {
	depts, err := h.departmentService.ListDepartments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, depts))
}

// GetDepartment returns a single department by ID
func (h *DepartmentHandler) GetDepartment(c *gin.Context) {
	dept, err := h.departmentService.GetDepartment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, dept))
}

// CreateDepartment handles POST /api/departments
// @Summary      Create a department
// @Tags         departments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateDepartmentRequest  true  "Department"
// @Success      201      {object}  response.Response{data=service.DepartmentResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/departments [post]
func (h *DepartmentHandler) CreateDepartment(c *gin.Context) {
	var req service.CreateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	dept, err := h.departmentService.CreateDepartment(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, dept))
}

// ListRoles returns the role vocabulary
func (h *DepartmentHandler) ListRoles(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(http.StatusOK, h.departmentService.ListRoles()))
}

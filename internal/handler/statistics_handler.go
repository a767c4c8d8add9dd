package handler

import (
	"net/http"
	"time"

	"kanbanflow/internal/middleware"
	"kanbanflow/internal/service"
	"kanbanflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
	auth              *middleware.Auth
	now               func() time.Time
}

func NewStatisticsHandler(statisticsService service.StatisticsService, auth *middleware.Auth) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService, auth: auth, now: time.Now}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/api/statistics")
	{
		statsGroup.GET("", h.auth.RequireAuth(), h.GetStatistics)
	}
}

// @Summary      Get Dashboard Statistics
// @Description  Kanban request counts per status, bounded by creation time
// @Tags         Statistics
// @Produce      json
// @Param        department_id query string false "Owning department"
// @Param        start_date    query string false "Start Date (RFC3339)"
// @Param        end_date      query string false "End Date (RFC3339)"
// @Success      200 {object} response.Response{data=model.StatisticsResponse}
// @Failure      400 {object} response.Response "Invalid date format"
// @Failure      401 {object} response.Response "Unauthorized"
// @Security     BearerAuth
// @Router       /api/statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	startDateStr := c.Query("start_date")
	endDateStr := c.Query("end_date")

	var startDate, endDate time.Time
	var err error

	// Default to current month if no dates are provided
	now := h.now()
	if startDateStr == "" {
		startDate = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	} else {
		startDate, err = time.Parse(time.RFC3339, startDateStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid start_date format, expected RFC3339"))
			return
		}
	}

	if endDateStr == "" {
		endDate = now
	} else {
		endDate, err = time.Parse(time.RFC3339, endDateStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid end_date format, expected RFC3339"))
			return
		}
	}

	stats, err := h.statisticsService.GetStatistics(c.Request.Context(), c.Query("department_id"), startDate, endDate)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

package service

import (
	"context"
	"fmt"
	"time"

	"kanbanflow/internal/model"
	"kanbanflow/internal/repository"

	"github.com/google/uuid"
)

type StatisticsService interface {
	GetStatistics(ctx context.Context, departmentID string, startDate, endDate time.Time) (model.StatisticsResponse, error)
}

type statisticsService struct {
	kanbans repository.KanbanRepository
}

func NewStatisticsService(kanbans repository.KanbanRepository) StatisticsService {
	return &statisticsService{kanbans: kanbans}
}

// GetStatistics counts Kanban requests created inside the time bracket, per status.
// Open covers the non-terminal statuses, Closed the terminal ones.
func (s *statisticsService) GetStatistics(ctx context.Context, departmentID string, startDate, endDate time.Time) (model.StatisticsResponse, error) {
	var response model.StatisticsResponse
	response.TimeRangeStartDate = startDate
	response.TimeRangeEndDate = endDate

	if endDate.Before(startDate) {
		return response, fmt.Errorf("%w: end_date is before start_date", ErrValidation)
	}

	var dept *uuid.UUID
	if departmentID != "" {
		id, err := parseID("department id", departmentID)
		if err != nil {
			return response, err
		}
		dept = &id
	}

	counts, err := s.kanbans.CountByStatus(ctx, dept, startDate, endDate)
	if err != nil {
		return response, fmt.Errorf("failed to count kanban requests: %w", err)
	}

	response.ByStatus = make([]model.StatusCount, 0, len(counts))
	for _, c := range counts {
		response.ByStatus = append(response.ByStatus, c)
		response.Total += c.Count
		if model.IsTerminalStatus(c.Status) {
			response.Closed += c.Count
		} else {
			response.Open += c.Count
		}
	}

	return response, nil
}

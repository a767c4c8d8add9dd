package model

import "time"

// StatusCount is one row of the per-status aggregation.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// StatisticsResponse aggregates Kanban request counts over a time range
type StatisticsResponse struct {
	Total              int64         `json:"total"`
	ByStatus           []StatusCount `json:"by_status"`
	Open               int64         `json:"open"`
	Closed             int64         `json:"closed"`
	TimeRangeStartDate time.Time     `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time     `json:"time_range_end_date"`
}

package reporting

import (
	"time"

	"voicedesk/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallStatistics is derived from the fetched call list on every request;
// nothing is stored.
type CallStatistics struct {
	Period TimeRange `json:"period"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	PreviousTotal  int `json:"previous_total"`

	// AverageDuration is in seconds, over completed calls with a positive duration.
	AverageDuration float64 `json:"average_duration"`
	TotalDuration   float64 `json:"total_duration"`

	// PercentChange compares TotalCalls to the preceding period of equal length.
	PercentChange float64 `json:"percent_change"`

	ByStatus map[calls.CallStatus]int `json:"by_status,omitempty"`
}

// Summary is the reduction of a call list without period comparison.
type Summary struct {
	Total           int
	Completed       int
	AverageDuration float64
	TotalDuration   float64
	ByStatus        map[calls.CallStatus]int
}

// DayBucket counts calls created on one calendar day.
type DayBucket struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Dashboard is statistics and the daily series computed from one fetch.
type Dashboard struct {
	Statistics CallStatistics `json:"statistics"`
	Daily      []DayBucket    `json:"daily"`
}

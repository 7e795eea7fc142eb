package importjob

import (
	"math"
	"time"
)

// ProgressReport is the read-only projection served to polling clients.
type ProgressReport struct {
	ID                     string     `json:"id"`
	Type                   Type       `json:"type"`
	FileName               string     `json:"file_name"`
	Status                 Status     `json:"status"`
	TotalRecords           int64      `json:"total_records"`
	ProcessedRecords       int64      `json:"processed_records"`
	SuccessfulRecords      int64      `json:"successful_records"`
	FailedRecords          int64      `json:"failed_records"`
	ProgressPercent        int        `json:"progress_percent"`
	EstimatedTimeRemaining *int64     `json:"estimated_time_remaining"`
	Errors                 []RowError `json:"errors"`
	Results                *Results   `json:"results,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	StartedAt              *time.Time `json:"started_at"`
	CompletedAt            *time.Time `json:"completed_at"`
	CreatedBy              string     `json:"created_by"`
}

func NewProgressReport(job ImportJob, now time.Time) ProgressReport {
	errs := job.Errors
	if errs == nil {
		errs = []RowError{}
	}

	return ProgressReport{
		ID:                     job.ID,
		Type:                   job.Type,
		FileName:               job.FileName,
		Status:                 job.Status,
		TotalRecords:           job.TotalRecords,
		ProcessedRecords:       job.ProcessedRecords,
		SuccessfulRecords:      job.SuccessfulRecords,
		FailedRecords:          job.FailedRecords,
		ProgressPercent:        ProgressPercent(job.ProcessedRecords, job.TotalRecords),
		EstimatedTimeRemaining: EstimatedSecondsRemaining(job, now),
		Errors:                 errs,
		Results:                job.Results,
		CreatedAt:              job.CreatedAt,
		StartedAt:              job.StartedAt,
		CompletedAt:            job.CompletedAt,
		CreatedBy:              job.CreatedBy,
	}
}

func ProgressPercent(processed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}

// EstimatedSecondsRemaining extrapolates the observed processing rate. It is
// nil unless the job is processing and at least one record was classified.
func EstimatedSecondsRemaining(job ImportJob, now time.Time) *int64 {
	if job.Status != StatusProcessing || job.ProcessedRecords <= 0 || job.StartedAt == nil {
		return nil
	}

	elapsed := now.Sub(*job.StartedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}

	remaining := job.TotalRecords - job.ProcessedRecords
	if remaining < 0 {
		remaining = 0
	}

	rate := float64(job.ProcessedRecords) / elapsed
	eta := int64(math.Ceil(float64(remaining) / rate))
	return &eta
}

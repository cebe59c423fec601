package pipeline

import (
	"greencheck-workspace/internal/analysis"
	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/report"
)

// Status is the true pipeline state. The progress indicator never overrides it.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusExtracting Status = "extracting"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// InProgress reports whether a request is expected to move the status.
func (s Status) InProgress() bool {
	return s == StatusExtracting || s == StatusAnalyzing
}

// FileInfo describes the selected file without its payload.
type FileInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size_bytes"`
}

// Progress is the cosmetic step indicator.
type Progress struct {
	Active bool   `json:"active"`
	Step   int    `json:"step"`
	Label  string `json:"label,omitempty"`
	Total  int    `json:"total"`
}

// Job is a snapshot of the live UploadJob.
type Job struct {
	Generation    string           `json:"generation"`
	File          *FileInfo        `json:"file,omitempty"`
	ExtractedText string           `json:"extracted_text"`
	Analysis      *analysis.Result `json:"analysis,omitempty"`
	Status        Status           `json:"status"`
	Error         *apperr.Error    `json:"error,omitempty"`
	Progress      Progress         `json:"progress"`
	Running       bool             `json:"running"`
	Exporting     bool             `json:"exporting"`
	LastReport    *report.Report   `json:"last_report,omitempty"`
}

type job struct {
	generation    string
	file          *apiclient.File
	extractedText string
	analysis      *analysis.Result
	status        Status
	err           *apperr.Error
	progress      Progress
	lastReport    *report.Report
}

func newJob(generation string) job {
	return job{generation: generation, status: StatusIdle}
}

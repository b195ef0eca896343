package models

import (
	"fmt"
	"time"
)

// Repository is the root owner of all chunks and audit runs.
type Repository struct {
	ID        int64     `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName returns the owner/name form used in logs and source API calls.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Chunk is a bounded contiguous slice of one file's text, the unit of
// embedding and retrieval. Offsets are byte offsets within the file and
// monotonic per file. The embedding is never serialized in API payloads.
type Chunk struct {
	ID           int64     `json:"id"`
	RepositoryID int64     `json:"repository_id"`
	Path         string    `json:"path"`
	Language     string    `json:"language"`
	StartOffset  int       `json:"start_offset"`
	EndOffset    int       `json:"end_offset"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChunkSnippet is the retrieval projection of a chunk. It has no
// embedding field: nearest-neighbor queries must never return vectors.
type ChunkSnippet struct {
	Path        string `json:"path"`
	Language    string `json:"language"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Content     string `json:"content"`
}

// AuditStatus is the lifecycle state of an audit run.
type AuditStatus string

const (
	StatusQueued             AuditStatus = "QUEUED"
	StatusInProgress         AuditStatus = "IN_PROGRESS"
	StatusCompleted          AuditStatus = "COMPLETED"
	StatusPartiallyCompleted AuditStatus = "PARTIALLY_COMPLETED"
	StatusFailed             AuditStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s AuditStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed:
		return true
	}
	return false
}

// AuditRun is one execution of audit orchestration over a repository's
// selected files. It is mutated only by the orchestrator task that owns
// the run, and never again once a terminal status is set.
type AuditRun struct {
	ID                 int64       `json:"id"`
	RepositoryID       int64       `json:"repository_id"`
	Status             AuditStatus `json:"status"`
	StartedAt          time.Time   `json:"started_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	TotalFilesScanned  int         `json:"total_files_scanned"`
	FilesWithIssues    int         `json:"files_with_issues"`
	CriticalCount      int         `json:"critical_count"`
	WarningCount       int         `json:"warning_count"`
	InfoCount          int         `json:"info_count"`
	ProgressPercentage int         `json:"progress_percentage"`
	CurrentFile        string      `json:"current_file,omitempty"`
	ErrorMessage       string      `json:"error_message,omitempty"`
}

// NewAuditRun returns a queued run for the repository.
func NewAuditRun(repositoryID int64) AuditRun {
	return AuditRun{
		RepositoryID: repositoryID,
		Status:       StatusQueued,
		StartedAt:    time.Now().UTC(),
	}
}

// IncrementCounts bumps the severity counter matching the finding.
func (a *AuditRun) IncrementCounts(severity string) {
	switch Severity(severity) {
	case SeverityCritical:
		a.CriticalCount++
	case SeverityWarning:
		a.WarningCount++
	case SeverityInfo:
		a.InfoCount++
	}
}

// UpdateProgress records how far through the selected files the run is.
// Progress never decreases, so snapshots observed by concurrent polls
// are monotonically non-decreasing.
func (a *AuditRun) UpdateProgress(done, total int, currentFile string) {
	if total <= 0 {
		return
	}
	pct := done * 100 / total
	if pct > a.ProgressPercentage {
		a.ProgressPercentage = pct
	}
	a.CurrentFile = currentFile
}

// MarkCompleted transitions the run to its successful terminal state.
func (a *AuditRun) MarkCompleted() {
	now := time.Now().UTC()
	a.Status = StatusCompleted
	a.CompletedAt = &now
	a.ProgressPercentage = 100
	a.CurrentFile = ""
}

// MarkPartiallyCompleted ends the run with some files unanalyzed.
func (a *AuditRun) MarkPartiallyCompleted(failed int) {
	now := time.Now().UTC()
	a.Status = StatusPartiallyCompleted
	a.CompletedAt = &now
	a.ProgressPercentage = 100
	a.CurrentFile = ""
	a.ErrorMessage = fmt.Sprintf("%d files failed to analyze", failed)
}

// MarkFailed ends the run with a human-readable error message.
func (a *AuditRun) MarkFailed(msg string) {
	now := time.Now().UTC()
	a.Status = StatusFailed
	a.CompletedAt = &now
	a.ErrorMessage = msg
}

// Severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Finding is one persisted issue discovered during a run. Findings are
// created during the run and never mutated afterwards.
type Finding struct {
	ID          int64          `json:"id"`
	AuditRunID  int64          `json:"audit_run_id"`
	FilePath    string         `json:"file_path"`
	LineNumber  *int           `json:"line_number,omitempty"`
	Severity    Severity       `json:"severity"`
	Category    string         `json:"category"`
	Language    string         `json:"language"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Suggestion  string         `json:"suggestion"`
	CodeSnippet string         `json:"code_snippet,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AnalysisResult is the single shape every analysis tier normalizes its
// provider response into. It is transient: the orchestrator converts it
// into a Finding before persisting.
type AnalysisResult struct {
	Severity   string         `json:"severity"`
	Category   string         `json:"category"`
	Language   string         `json:"language"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion"`
	Extra      map[string]any `json:"extra"`
}

// HasFinding reports whether the result describes an actual issue.
// Providers signal an analyzed-but-clean file with severity "NONE" or an
// empty title.
func (r *AnalysisResult) HasFinding() bool {
	if r == nil {
		return false
	}
	if r.Title == "" {
		return false
	}
	switch r.Severity {
	case "", "NONE", "none":
		return false
	}
	return true
}

// Confidence returns the provider-reported confidence from Extra, or
// "unknown" when absent.
func (r *AnalysisResult) Confidence() string {
	if r.Extra != nil {
		if v, ok := r.Extra["confidence"]; ok {
			return fmt.Sprint(v)
		}
	}
	return "unknown"
}

// CWE returns the CWE identifier from Extra, if the provider supplied one.
func (r *AnalysisResult) CWE() string {
	if r.Extra != nil {
		if v, ok := r.Extra["cwe"]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Evidence returns the evidence strings from Extra. Finetuned tiers emit
// entries like "@L123: snippet" which the orchestrator mines for line
// numbers and code snippets.
func (r *AnalysisResult) Evidence() []string {
	if r.Extra == nil {
		return nil
	}
	raw, ok := r.Extra["evidence"]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/src-d/enry/v2"
	"golang.org/x/sync/errgroup"

	"github.com/repomind/repomind/internal/notify"
	"github.com/repomind/repomind/internal/source"
	"github.com/repomind/repomind/internal/store"
	"github.com/repomind/repomind/pkg/models"
)

const (
	// DefaultBatchSize files are analyzed in parallel per batch.
	DefaultBatchSize = 2
	// DefaultMaxFileBytes is the per-file ceiling; larger files fail
	// without being sent to a provider.
	DefaultMaxFileBytes = 10 * 1024
	// defaultQueueDepth bounds how many runs can wait for a worker.
	defaultQueueDepth = 64
)

// ErrQueueFull is returned by Start when the audit backlog is at
// capacity.
var ErrQueueFull = errors.New("audit queue full")

// Analyzer is what the orchestrator needs from the analysis layer;
// MultiTier satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, code, language, filePath, ragContext string) (*models.AnalysisResult, error)
}

// ContextRetriever supplies the related-code block for a file.
type ContextRetriever interface {
	Retrieve(ctx context.Context, repositoryID int64, content, path, language string) string
}

// Orchestrator owns the audit lifecycle: it accepts run requests,
// queues them, and drives each run through selection, batched parallel
// analysis and terminal bookkeeping. One worker owns one run at a time;
// nothing else mutates a run after it is queued.
type Orchestrator struct {
	Store        store.AuditStore
	Sources      source.Factory
	Retriever    ContextRetriever
	Analyzer     Analyzer
	Selector     *Selector
	Notifier     notify.Publisher
	BatchSize    int
	MaxFileBytes int

	queue chan auditJob
	slots chan struct{}
	wg    sync.WaitGroup
}

type auditJob struct {
	runID int64
	repo  models.Repository
	token string
}

// NewOrchestrator wires the orchestrator with default sizing.
func NewOrchestrator(st store.AuditStore, sources source.Factory, retriever ContextRetriever, analyzer Analyzer, notifier notify.Publisher) *Orchestrator {
	return &Orchestrator{
		Store:        st,
		Sources:      sources,
		Retriever:    retriever,
		Analyzer:     analyzer,
		Selector:     NewSelector(),
		Notifier:     notifier,
		BatchSize:    DefaultBatchSize,
		MaxFileBytes: DefaultMaxFileBytes,
		queue:        make(chan auditJob, defaultQueueDepth),
		slots:        make(chan struct{}, defaultQueueDepth),
	}
}

// StartWorkers launches n queue drainers. They exit when ctx is
// cancelled and the queue is drained of the jobs they picked up.
func (o *Orchestrator) StartWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		o.wg.Add(1)
		go func(worker int) {
			defer o.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					<-o.slots
					o.process(ctx, job)
				}
			}
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Start verifies the repository, records a QUEUED run and enqueues it.
// It returns the run ID immediately; callers poll for status. Start
// never blocks on audit work; a full queue is an error.
func (o *Orchestrator) Start(ctx context.Context, repositoryID int64, token string) (int64, error) {
	repo, err := o.Store.GetRepository(ctx, repositoryID)
	if err != nil {
		return 0, fmt.Errorf("repository %d: %w", repositoryID, err)
	}

	// Reserve a queue slot before recording the run so a full queue
	// never leaves a stray row behind.
	select {
	case o.slots <- struct{}{}:
	default:
		return 0, ErrQueueFull
	}

	run := models.NewAuditRun(repo.ID)
	runID, err := o.Store.CreateAuditRun(ctx, run)
	if err != nil {
		<-o.slots
		return 0, err
	}

	// Cannot block: one slot is held for every queued job.
	o.queue <- auditJob{runID: runID, repo: repo, token: token}

	log.Info().Int64("audit", runID).Str("repository", repo.FullName()).Msg("audit queued")
	return runID, nil
}

// fileOutcome is the result of scanning one file.
type fileOutcome struct {
	path   string
	result *models.AnalysisResult
	err    error
}

// process runs one audit to a terminal state. Whatever happens, bad
// listing, provider outage or a panic, the run ends terminal and a
// notification goes out.
func (o *Orchestrator) process(ctx context.Context, job auditJob) {
	run := models.AuditRun{
		ID:           job.runID,
		RepositoryID: job.repo.ID,
		Status:       models.StatusInProgress,
	}
	if stored, err := o.Store.GetAuditRun(ctx, job.runID); err == nil {
		run = stored
		run.Status = models.StatusInProgress
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int64("audit", job.runID).Msg("audit panicked")
			o.fail(ctx, &run, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := o.Store.UpdateAuditRun(ctx, run); err != nil {
		log.Error().Err(err).Int64("audit", job.runID).Msg("failed to mark audit in progress")
	}

	src := o.Sources(job.token)
	paths, err := src.ListFiles(ctx, job.repo.Owner, job.repo.Name)
	if err != nil {
		o.fail(ctx, &run, fmt.Sprintf("listing repository files: %v", err))
		return
	}

	selected := o.Selector.Select(paths)
	log.Info().Int64("audit", job.runID).Int("total", len(paths)).Int("selected", len(selected)).Msg("audit starting")

	total := len(selected)
	processed := 0
	failed := 0

	batchSize := o.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		batch := selected[start:end]
		outcomes := o.scanBatch(ctx, src, job.repo, batch)

		var findings []models.Finding
		for _, outcome := range outcomes {
			processed++
			run.UpdateProgress(processed, total, outcome.path)

			if outcome.err != nil {
				log.Warn().Err(outcome.err).Str("path", outcome.path).Int64("audit", job.runID).Msg("file scan failed")
				failed++
				continue
			}
			run.TotalFilesScanned++
			if outcome.result.HasFinding() {
				run.FilesWithIssues++
				run.IncrementCounts(outcome.result.Severity)
				findings = append(findings, toFinding(job.runID, outcome.path, outcome.result))
			}
		}

		if err := o.Store.InsertFindings(ctx, findings); err != nil {
			log.Error().Err(err).Int64("audit", job.runID).Msg("failed to persist findings batch")
		}
		if err := o.Store.UpdateAuditRun(ctx, run); err != nil {
			log.Error().Err(err).Int64("audit", job.runID).Msg("failed to persist audit progress")
		}
	}

	switch {
	case failed == 0:
		run.MarkCompleted()
	case failed < total:
		run.MarkPartiallyCompleted(failed)
	default:
		run.MarkFailed("All files failed to analyze")
	}

	if err := o.Store.UpdateAuditRun(ctx, run); err != nil {
		log.Error().Err(err).Int64("audit", job.runID).Msg("failed to persist terminal audit state")
	}

	log.Info().
		Int64("audit", job.runID).
		Str("status", string(run.Status)).
		Int("scanned", run.TotalFilesScanned).
		Int("with_issues", run.FilesWithIssues).
		Int("failed", failed).
		Msg("audit finished")

	if run.Status == models.StatusFailed {
		o.Notifier.Publish(notify.TopicAuditUpdates, notify.Failure(run.ID, run.ErrorMessage))
	} else {
		o.Notifier.Publish(notify.TopicAuditUpdates,
			notify.Success(run.ID, run.CriticalCount, run.WarningCount, run.InfoCount))
	}
}

// scanBatch fetches, contextualizes and analyzes a batch of files in
// parallel. The batch is a barrier: every file finishes before counters
// move, and outcomes come back in input order.
func (o *Orchestrator) scanBatch(ctx context.Context, src source.Client, repo models.Repository, batch []string) []fileOutcome {
	outcomes := make([]fileOutcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)

	for i, path := range batch {
		g.Go(func() error {
			outcomes[i] = o.scanFile(gctx, src, repo, path)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// scanFile runs the full pipeline for one file. All failure modes fold
// into the outcome's err; nothing here is fatal to the run.
func (o *Orchestrator) scanFile(ctx context.Context, src source.Client, repo models.Repository, path string) fileOutcome {
	content, err := src.GetFileContent(ctx, repo.Owner, repo.Name, path)
	if err != nil {
		return fileOutcome{path: path, err: err}
	}
	if len(content) > o.MaxFileBytes {
		return fileOutcome{path: path, err: fmt.Errorf("file too large (%d KB)", len(content)/1024)}
	}

	language := detectLanguage(path, content)
	ragContext := o.Retriever.Retrieve(ctx, repo.ID, content, path, language)

	result, err := o.Analyzer.Analyze(ctx, content, language, path, ragContext)
	if err != nil {
		return fileOutcome{path: path, err: err}
	}
	if result == nil {
		return fileOutcome{path: path, err: errors.New("all analysis providers exhausted")}
	}
	return fileOutcome{path: path, result: result}
}

// toFinding converts a provider result into the persisted shape, mining
// the evidence list for a line number and code snippet.
func toFinding(runID int64, path string, result *models.AnalysisResult) models.Finding {
	finding := models.Finding{
		AuditRunID: runID,
		FilePath:   path,
		Severity:   models.Severity(result.Severity),
		Category:   result.Category,
		Language:   result.Language,
		Title:      result.Title,
		Message:    result.Message,
		Suggestion: result.Suggestion,
		Metadata:   result.Extra,
	}

	for _, evidence := range result.Evidence() {
		if strings.HasPrefix(evidence, "@L") {
			colon := strings.Index(evidence, ":")
			if colon > 2 {
				if n, err := strconv.Atoi(evidence[2:colon]); err == nil && finding.LineNumber == nil {
					finding.LineNumber = &n
				}
				if finding.CodeSnippet == "" && colon < len(evidence)-1 {
					finding.CodeSnippet = strings.TrimSpace(evidence[colon+1:])
				}
			}
		} else if finding.CodeSnippet == "" && len(evidence) > 10 {
			finding.CodeSnippet = evidence
		}
	}
	return finding
}

func (o *Orchestrator) fail(ctx context.Context, run *models.AuditRun, msg string) {
	run.MarkFailed(msg)
	if err := o.Store.UpdateAuditRun(ctx, *run); err != nil {
		log.Error().Err(err).Int64("audit", run.ID).Msg("failed to persist failed audit")
	}
	o.Notifier.Publish(notify.TopicAuditUpdates, notify.Failure(run.ID, msg))
}

// detectLanguage names the file's language for prompts and findings.
func detectLanguage(path, content string) string {
	if lang := enry.GetLanguage(filepath.Base(path), []byte(content)); lang != "" {
		return lang
	}
	return "Unknown"
}

// Package registry is the canonical in-memory store of jobs and their
// file tasks. All mutations route through it under a per-job lock, so
// counters and states observed via snapshots are self-consistent.
package registry

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imageConverter/errs"
	"imageConverter/metrics"
	"imageConverter/models"
)

type jobEntry struct {
	mu  sync.Mutex
	job *models.Job
}

// Statistics aggregates registry-wide totals.
type Statistics struct {
	TotalQueues     int
	ActiveQueues    int
	CompletedQueues int
	CancelledQueues int
	ErrorQueues     int
	TotalFiles      int
	CompletedFiles  int
}

type Registry struct {
	logger        *zap.Logger
	observer      metrics.Observer
	maxConcurrent int

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func NewRegistry(maxConcurrent int, observer metrics.Observer, logger *zap.Logger) *Registry {
	if observer == nil {
		observer = metrics.Noop{}
	}
	return &Registry{
		logger:        logger,
		observer:      observer,
		maxConcurrent: maxConcurrent,
		jobs:          make(map[string]*jobEntry),
	}
}

// CreateJob registers a new pending job over the given tasks and returns
// its id. Task ids are assigned positionally.
func (r *Registry) CreateJob(opts models.ProcessingOptions, tasks []*models.FileTask) string {
	jobID := uuid.New().String()
	now := time.Now()

	for i, t := range tasks {
		t.ID = i
		t.State = models.TaskPending
	}

	job := &models.Job{
		ID:        jobID,
		Options:   opts,
		Tasks:     tasks,
		Status:    models.JobPending,
		CreatedAt: now,
		Counters:  models.Counters{Total: len(tasks)},
	}

	r.mu.Lock()
	r.jobs[jobID] = &jobEntry{job: job}
	r.mu.Unlock()

	r.observer.JobCreated()
	r.logger.Info("Job created",
		zap.String("job_id", jobID),
		zap.Int("total_files", len(tasks)),
	)
	return jobID
}

func (r *Registry) entry(jobID string) (*jobEntry, error) {
	r.mu.RLock()
	e, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindJobNotFound, "queue not found: "+jobID)
	}
	return e, nil
}

// MarkProcessing transitions a pending job to processing.
func (r *Registry) MarkProcessing(jobID string) error {
	e, err := r.entry(jobID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != models.JobPending {
		return errs.New(errs.KindJobAlreadyTerminal, "job is not pending")
	}
	e.job.Status = models.JobProcessing
	e.job.StartedAt = time.Now()
	return nil
}

// MarkFailed forces a job into the error state, marking every non-terminal
// task skipped. Used when task submission is rejected by the pool.
func (r *Registry) MarkFailed(jobID string, reason string) error {
	e, err := r.entry(jobID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() && !e.job.FinishedAt.IsZero() {
		return nil
	}
	for _, t := range e.job.Tasks {
		if !t.State.Terminal() {
			t.State = models.TaskSkipped
			t.FinishedAt = time.Now()
		}
	}
	e.job.Status = models.JobError
	e.job.FinishedAt = time.Now()
	recountLocked(e.job)
	r.observer.JobFinished(string(models.JobError))
	r.logger.Warn("Job failed", zap.String("job_id", jobID), zap.String("reason", reason))
	return nil
}

// BeginTask marks a task running, or skips it when the job was already
// cancelled. The returned skipped flag tells the worker not to run the
// codec. finished reports whether skipping this task drained the job.
func (r *Registry) BeginTask(jobID string, taskID int) (skipped bool, finished bool, err error) {
	e, err := r.entry(jobID)
	if err != nil {
		return false, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := taskLocked(e.job, taskID)
	if err != nil {
		return false, false, err
	}

	if e.job.Cancelled || e.job.Status.Terminal() {
		if !t.State.Terminal() {
			t.State = models.TaskSkipped
			t.FinishedAt = time.Now()
			recountLocked(e.job)
			r.observer.TaskFinished(string(models.TaskSkipped))
		}
		return true, r.finalizeIfDrainedLocked(e.job), nil
	}

	t.State = models.TaskRunning
	t.StartedAt = time.Now()
	return false, false, nil
}

// CompleteTask commits a task outcome. A task completing after its job
// was cancelled is recorded as skipped regardless of the actual outcome.
// finished reports whether the job just reached its terminal state.
func (r *Registry) CompleteTask(jobID string, taskID int, outcome *models.TaskOutcome, taskErr *models.TaskError) (finished bool, err error) {
	e, err := r.entry(jobID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := taskLocked(e.job, taskID)
	if err != nil {
		return false, err
	}
	if t.State.Terminal() {
		return false, nil
	}

	t.FinishedAt = time.Now()
	switch {
	case e.job.Cancelled:
		t.State = models.TaskSkipped
	case taskErr != nil:
		t.State = models.TaskFailed
		t.Err = taskErr
	default:
		t.State = models.TaskSucceeded
		t.Outcome = outcome
	}
	recountLocked(e.job)
	r.observer.TaskFinished(string(t.State))

	return r.finalizeIfDrainedLocked(e.job), nil
}

// finalizeIfDrainedLocked closes the job once every task is terminal.
// Caller holds the job lock.
func (r *Registry) finalizeIfDrainedLocked(job *models.Job) bool {
	if !job.FinishedAt.IsZero() || job.Counters.Completed != job.Counters.Total {
		return false
	}
	if job.Cancelled {
		job.Status = models.JobCancelled
	} else if job.Status == models.JobProcessing || job.Status == models.JobPending {
		job.Status = models.JobCompleted
	}
	job.FinishedAt = time.Now()
	r.observer.JobFinished(string(job.Status))
	r.logger.Info("Job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("succeeded", job.Counters.Succeeded),
		zap.Int("failed", job.Counters.Failed),
		zap.Int("skipped", job.Counters.Skipped),
	)
	return true
}

// Cancel flips the job's cancellation flag. Pending tasks are skipped
// immediately; running tasks drain as workers observe the flag. Repeated
// calls are idempotent: the prior status is returned along with whether
// the job was already terminal.
func (r *Registry) Cancel(jobID string) (prior models.JobStatus, alreadyTerminal bool, finished bool, err error) {
	e, err := r.entry(jobID)
	if err != nil {
		return "", false, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	prior = e.job.Status
	if e.job.Status.Terminal() || e.job.Cancelled {
		return prior, true, false, nil
	}

	e.job.Cancelled = true
	e.job.Status = models.JobCancelled
	for _, t := range e.job.Tasks {
		if t.State == models.TaskPending {
			t.State = models.TaskSkipped
			t.FinishedAt = time.Now()
			r.observer.TaskFinished(string(models.TaskSkipped))
		}
	}
	recountLocked(e.job)
	r.logger.Info("Job cancelled", zap.String("job_id", jobID), zap.String("prior", string(prior)))
	return prior, false, r.finalizeIfDrainedLocked(e.job), nil
}

// TaskInput hands a worker the immutable inputs of one task.
func (r *Registry) TaskInput(jobID string, taskID int) (fileName string, data []byte, sourcePath string, opts models.ProcessingOptions, err error) {
	e, err := r.entry(jobID)
	if err != nil {
		return "", nil, "", models.ProcessingOptions{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := taskLocked(e.job, taskID)
	if err != nil {
		return "", nil, "", models.ProcessingOptions{}, err
	}
	return t.FileName, t.Data, t.SourcePath, e.job.Options, nil
}

// SetFingerprint records a task's computed cache key.
func (r *Registry) SetFingerprint(jobID string, taskID int, fp string) {
	e, err := r.entry(jobID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, err := taskLocked(e.job, taskID); err == nil {
		t.Fingerprint = fp
	}
}

// IsCancelled reports the job's cancellation flag; workers poll it at
// coarse checkpoints.
func (r *Registry) IsCancelled(jobID string) bool {
	e, err := r.entry(jobID)
	if err != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Cancelled
}

// Snapshot builds the read-only projection served by the progress API.
func (r *Registry) Snapshot(jobID string) (models.JobSnapshot, error) {
	e, err := r.entry(jobID)
	if err != nil {
		return models.JobSnapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(e.job, r.maxConcurrent), nil
}

// QueueInfo builds the per-queue block of the batch status endpoint.
func (r *Registry) QueueInfo(jobID string) (models.QueueInfo, error) {
	e, err := r.entry(jobID)
	if err != nil {
		return models.QueueInfo{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return queueInfoLocked(e.job), nil
}

// AllQueues returns queue info for every registered job.
func (r *Registry) AllQueues() map[string]models.QueueInfo {
	r.mu.RLock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make(map[string]models.QueueInfo, len(ids))
	for _, id := range ids {
		if info, err := r.QueueInfo(id); err == nil {
			out[id] = info
		}
	}
	return out
}

// ListActive returns ids of jobs that have not finished.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var active []string
	for _, e := range entries {
		e.mu.Lock()
		if e.job.FinishedAt.IsZero() {
			active = append(active, e.job.ID)
		}
		e.mu.Unlock()
	}
	return active
}

// Statistics aggregates totals across every registered job.
func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var s Statistics
	for _, e := range entries {
		e.mu.Lock()
		s.TotalQueues++
		switch e.job.Status {
		case models.JobProcessing:
			s.ActiveQueues++
		case models.JobCompleted:
			s.CompletedQueues++
		case models.JobCancelled:
			s.CancelledQueues++
		case models.JobError:
			s.ErrorQueues++
		}
		s.TotalFiles += e.job.Counters.Total
		s.CompletedFiles += e.job.Counters.Completed
		e.mu.Unlock()
	}
	return s
}

// Reap removes terminal jobs older than maxAge and returns how many were
// dropped.
func (r *Registry) Reap(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.jobs {
		e.mu.Lock()
		terminal := e.job.Status.Terminal() && !e.job.FinishedAt.IsZero()
		old := terminal && e.job.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if old {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

func taskLocked(job *models.Job, taskID int) (*models.FileTask, error) {
	if taskID < 0 || taskID >= len(job.Tasks) {
		return nil, errs.New(errs.KindInternal, "task id out of range")
	}
	return job.Tasks[taskID], nil
}

// recountLocked rebuilds the counters from task states. Caller holds the
// job lock.
func recountLocked(job *models.Job) {
	var c models.Counters
	c.Total = len(job.Tasks)
	for _, t := range job.Tasks {
		switch t.State {
		case models.TaskSucceeded:
			c.Succeeded++
		case models.TaskFailed:
			c.Failed++
		case models.TaskSkipped:
			c.Skipped++
		}
	}
	c.Completed = c.Succeeded + c.Failed + c.Skipped
	job.Counters = c
}

func queueInfoLocked(job *models.Job) models.QueueInfo {
	pending, processing := 0, 0
	for _, t := range job.Tasks {
		switch t.State {
		case models.TaskPending:
			pending++
		case models.TaskRunning:
			processing++
		}
	}
	return models.QueueInfo{
		QueueID:         job.ID,
		Status:          job.Status,
		TotalFiles:      job.Counters.Total,
		PendingFiles:    pending,
		ProcessingFiles: processing,
		CompletedFiles:  job.Counters.Completed,
		ErrorFiles:      job.Counters.Failed,
		CreatedTime:     models.UnixSeconds(job.CreatedAt),
		StartedTime:     models.UnixSeconds(job.StartedAt),
		CompletedTime:   models.UnixSeconds(job.FinishedAt),
		Cancelled:       job.Cancelled,
	}
}

func snapshotLocked(job *models.Job, maxConcurrent int) models.JobSnapshot {
	snap := models.JobSnapshot{
		QueueID:        job.ID,
		TotalFiles:     job.Counters.Total,
		CompletedFiles: job.Counters.Completed,
		Status:         job.Status,
		ErrorCount:     job.Counters.Failed,
		StartTime:      models.UnixSeconds(job.StartedAt),
	}

	for _, t := range job.Tasks {
		if t.State == models.TaskRunning {
			snap.CurrentFile = filepath.Base(t.FileName)
			break
		}
	}

	if job.Counters.Total > 0 {
		snap.ProgressPercentage = float64(job.Counters.Completed) / float64(job.Counters.Total) * 100
	}
	if job.Counters.Completed > 0 {
		snap.SuccessRate = float64(job.Counters.Succeeded) / float64(job.Counters.Completed) * 100
	}
	snap.EstimatedTimeRemaining = etaLocked(job, maxConcurrent)

	if job.Status.Terminal() {
		snap.CurrentFileProgress = 1.0
		succeeded := job.Counters.Succeeded
		failed := job.Counters.Failed
		skipped := job.Counters.Skipped
		snap.SuccessfulFiles = &succeeded
		snap.FailedFiles = &failed
		snap.SkippedFiles = &skipped

		var totalTime, avgTime float64
		timed := 0
		for _, t := range job.Tasks {
			if !t.StartedAt.IsZero() && !t.FinishedAt.IsZero() {
				totalTime += t.FinishedAt.Sub(t.StartedAt).Seconds()
				timed++
			}
		}
		if timed > 0 {
			avgTime = totalTime / float64(timed)
		}
		snap.AverageProcessingTime = &avgTime
		wall := 0.0
		if !job.StartedAt.IsZero() && !job.FinishedAt.IsZero() {
			wall = job.FinishedAt.Sub(job.StartedAt).Seconds()
		}
		snap.TotalProcessingTime = &wall

		for _, t := range job.Tasks {
			switch {
			case t.State == models.TaskSucceeded && t.Outcome != nil:
				snap.SuccessfulResults = append(snap.SuccessfulResults, models.SuccessfulResult{
					FilePath:       t.FileName,
					Format:         t.Outcome.Format,
					Size:           [2]int{t.Outcome.Width, t.Outcome.Height},
					FileSize:       t.Outcome.FileSize,
					ProcessingTime: t.Outcome.ProcessingTime,
				})
			case t.State == models.TaskFailed && t.Err != nil:
				snap.FailedFileDetails = append(snap.FailedFileDetails, models.FailedFileDetail{
					FilePath: t.FileName,
					Error:    t.Err.Message,
				})
			}
		}
	}

	return snap
}

// etaLocked estimates remaining wall time: remaining work at the average
// task duration, divided by the usable concurrency. A hint, never
// authoritative.
func etaLocked(job *models.Job, maxConcurrent int) float64 {
	if job.StartedAt.IsZero() || job.Status.Terminal() {
		return 0
	}

	var total float64
	timed := 0
	for _, t := range job.Tasks {
		if t.State.Terminal() && !t.StartedAt.IsZero() && !t.FinishedAt.IsZero() {
			total += t.FinishedAt.Sub(t.StartedAt).Seconds()
			timed++
		}
	}
	if timed == 0 {
		return 0
	}

	remaining := job.Counters.Total - job.Counters.Completed
	if remaining <= 0 {
		return 0
	}
	concurrency := maxConcurrent
	if remaining < concurrency {
		concurrency = remaining
	}
	if concurrency < 1 {
		concurrency = 1
	}
	avg := total / float64(timed)
	return float64(remaining) * avg / float64(concurrency)
}

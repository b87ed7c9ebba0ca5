// Package scheduler owns the top-level batch lifecycle: admission,
// job creation, task submission, progress heartbeats, cancellation, and
// cleanup. It also serves single-file conversions through the same
// cache path the batch workers use.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"imageConverter/bus"
	"imageConverter/cache"
	"imageConverter/codec"
	"imageConverter/dto"
	"imageConverter/errs"
	"imageConverter/fingerprint"
	"imageConverter/metrics"
	"imageConverter/models"
	"imageConverter/pool"
	"imageConverter/registry"
	"imageConverter/validation"
)

// HeartbeatInterval paces batch_progress events while a job runs.
// Intermediate beats may be coalesced by subscription buffers; the
// latest wins.
const HeartbeatInterval = 200 * time.Millisecond

// FileInput is one uploaded file handed to StartBatch. Large uploads are
// spooled to SourcePath instead of held in Data.
type FileInput struct {
	FileName   string
	Data       []byte
	SourcePath string
}

type Scheduler struct {
	logger    *zap.Logger
	observer  metrics.Observer
	registry  *registry.Registry
	pool      *pool.Pool
	store     *cache.Store
	codec     *codec.Codec
	validator *validation.Validator
	bus       *bus.Bus

	mu       sync.Mutex
	trackers map[string]chan struct{} // job id -> heartbeat stop
}

func NewScheduler(
	reg *registry.Registry,
	p *pool.Pool,
	store *cache.Store,
	c *codec.Codec,
	v *validation.Validator,
	b *bus.Bus,
	observer metrics.Observer,
	logger *zap.Logger,
) *Scheduler {
	if observer == nil {
		observer = metrics.Noop{}
	}
	return &Scheduler{
		logger:    logger,
		observer:  observer,
		registry:  reg,
		pool:      p,
		store:     store,
		codec:     c,
		validator: v,
		bus:       b,
		trackers:  make(map[string]chan struct{}),
	}
}

// StartBatch validates every file, creates a job over the admitted ones,
// and submits its tasks. Files failing admission are reported back as
// rejections; if nothing passes, no job is created and an error is
// returned alongside the per-file reasons.
func (s *Scheduler) StartBatch(ctx context.Context, opts models.ProcessingOptions, files []FileInput) (string, []dto.FileRejection, error) {
	if len(files) == 0 {
		return "", nil, errs.New(errs.KindInputInvalid, "no files provided")
	}
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}

	var tasks []*models.FileTask
	var rejections []dto.FileRejection
	for _, f := range files {
		data := f.Data
		if data == nil && f.SourcePath != "" {
			var err error
			data, err = os.ReadFile(f.SourcePath)
			if err != nil {
				rejections = append(rejections, dto.FileRejection{
					FileName: f.FileName,
					Code:     string(errs.KindInputInvalid),
					Reason:   "failed to read uploaded file",
				})
				continue
			}
		}

		res := s.validator.Validate(f.FileName, data)
		if !res.Safe {
			if f.SourcePath != "" {
				os.Remove(f.SourcePath)
			}
			rejections = append(rejections, dto.FileRejection{
				FileName: f.FileName,
				Code:     string(res.Err.Kind),
				Reason:   res.Err.Message,
			})
			continue
		}
		tasks = append(tasks, &models.FileTask{
			FileName:   f.FileName,
			Data:       f.Data,
			SourcePath: f.SourcePath,
		})
	}

	if len(tasks) == 0 {
		kind := errs.KindSecurityRejected
		if len(rejections) > 0 {
			kind = errs.Kind(rejections[0].Code)
		}
		return "", rejections, errs.New(kind, "all files were rejected during validation")
	}

	jobID := s.registry.CreateJob(opts, tasks)
	if err := s.registry.MarkProcessing(jobID); err != nil {
		return "", rejections, err
	}

	snap, _ := s.registry.Snapshot(jobID)
	s.bus.Publish(jobID, models.Event{Type: models.EventBatchStarted, Data: snap})
	s.startHeartbeat(jobID)

	for i := range tasks {
		if err := s.pool.Submit(pool.Task{JobID: jobID, TaskID: i}); err != nil {
			s.registry.MarkFailed(jobID, "CAPACITY")
			s.publishTerminal(jobID)
			return "", rejections, errs.Wrap(errs.KindQueueFull,
				fmt.Sprintf("worker queue full after %d of %d tasks", i, len(tasks)), err)
		}
	}

	s.logger.Info("Batch started",
		zap.String("job_id", jobID),
		zap.Int("accepted", len(tasks)),
		zap.Int("rejected", len(rejections)),
	)
	return jobID, rejections, nil
}

// Run executes one file task. It is invoked by pool workers and never
// returns an error: per-file failures are recorded on the task.
func (s *Scheduler) Run(ctx context.Context, task pool.Task) {
	skipped, finished, err := s.registry.BeginTask(task.JobID, task.TaskID)
	if err != nil {
		s.logger.Warn("Task begin failed", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}
	if skipped {
		s.publishFileProcessed(task, models.TaskSkipped, nil, nil)
		if finished {
			s.publishTerminal(task.JobID)
		}
		return
	}

	s.publishProgress(task.JobID)

	outcome, taskErr := s.executeTask(ctx, task)

	finished, err = s.registry.CompleteTask(task.JobID, task.TaskID, outcome, taskErr)
	if err != nil {
		s.logger.Warn("Task completion failed", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}

	state := models.TaskSucceeded
	if taskErr != nil {
		state = models.TaskFailed
	}
	if s.registry.IsCancelled(task.JobID) {
		state = models.TaskSkipped
	}
	s.publishFileProcessed(task, state, outcome, taskErr)
	s.publishProgress(task.JobID)
	if finished {
		s.publishTerminal(task.JobID)
	}
}

// executeTask performs the conversion for one task: read input, compute
// the fingerprint, and resolve through the cache. The returned outcome
// and error are mutually exclusive.
func (s *Scheduler) executeTask(ctx context.Context, task pool.Task) (*models.TaskOutcome, *models.TaskError) {
	fileName, data, sourcePath, opts, err := s.registry.TaskInput(task.JobID, task.TaskID)
	if err != nil {
		return nil, classify(err)
	}

	if data == nil && sourcePath != "" {
		data, err = os.ReadFile(sourcePath)
		if err != nil {
			return nil, classify(errs.Wrap(errs.KindInputInvalid, "failed to read spooled upload", err))
		}
		os.Remove(sourcePath)
	}
	if len(data) == 0 {
		return nil, classify(errs.New(errs.KindInputInvalid, "task has no input bytes"))
	}

	// Coarse cancellation checkpoint between read and hash. The codec
	// itself is not interrupted; a late result is cached but discarded.
	if s.registry.IsCancelled(task.JobID) {
		return nil, nil
	}

	fp := fingerprint.Compute(data, opts)
	s.registry.SetFingerprint(task.JobID, task.TaskID, fp)

	start := time.Now()
	result, err := s.store.GetOrCompute(ctx, fp, func(ctx context.Context) ([]byte, cache.Meta, error) {
		out, meta, err := s.codec.Convert(data, opts)
		if err != nil {
			return nil, cache.Meta{}, err
		}
		return out, cache.Meta{
			OriginalFormat: meta.OriginalFormat,
			Format:         meta.Format,
			Width:          meta.Width,
			Height:         meta.Height,
		}, nil
	})
	duration := time.Since(start)

	if err != nil {
		s.observer.ConversionCompleted("", duration, false)
		s.logger.Warn("Task conversion failed",
			zap.String("job_id", task.JobID),
			zap.Int("task_id", task.TaskID),
			zap.String("file", fileName),
			zap.Error(err),
		)
		return nil, classify(err)
	}

	s.observer.ConversionCompleted(result.Meta.Format, duration, true)
	return &models.TaskOutcome{
		Format:         result.Meta.Format,
		Width:          result.Meta.Width,
		Height:         result.Meta.Height,
		FileSize:       int(result.Meta.SizeBytes),
		ProcessingTime: duration.Seconds(),
	}, nil
}

// ConvertSingle serves the single-file endpoints through the same
// validate → fingerprint → cache path as batch tasks.
func (s *Scheduler) ConvertSingle(ctx context.Context, fileName string, data []byte, opts models.ProcessingOptions) (cache.Result, error) {
	if err := opts.Validate(); err != nil {
		return cache.Result{}, err
	}

	res := s.validator.Validate(fileName, data)
	if !res.Safe {
		return cache.Result{}, res.Err
	}

	fp := fingerprint.Compute(data, opts)
	start := time.Now()
	result, err := s.store.GetOrCompute(ctx, fp, func(ctx context.Context) ([]byte, cache.Meta, error) {
		out, meta, err := s.codec.Convert(data, opts)
		if err != nil {
			return nil, cache.Meta{}, err
		}
		return out, cache.Meta{
			OriginalFormat: meta.OriginalFormat,
			Format:         meta.Format,
			Width:          meta.Width,
			Height:         meta.Height,
		}, nil
	})
	duration := time.Since(start)

	if err != nil {
		s.observer.ConversionCompleted("", duration, false)
		return cache.Result{}, err
	}
	s.observer.ConversionCompleted(result.Meta.Format, duration, true)
	return result, nil
}

// Progress returns the current snapshot for a job.
func (s *Scheduler) Progress(jobID string) (models.JobSnapshot, error) {
	return s.registry.Snapshot(jobID)
}

// Cancel requests cooperative cancellation. Pending tasks are drained as
// skipped; running tasks stop at their next checkpoint. Repeating the
// call is a no-op reporting the current state.
func (s *Scheduler) Cancel(jobID string) (models.JobStatus, bool, error) {
	prior, alreadyTerminal, finished, err := s.registry.Cancel(jobID)
	if err != nil {
		return "", false, err
	}
	if finished {
		s.publishTerminal(jobID)
	}
	return prior, alreadyTerminal, nil
}

// Status aggregates live queues, statistics, and in-flight trackers for
// the batch status endpoint.
func (s *Scheduler) Status() dto.BatchStatusResponse {
	s.mu.Lock()
	active := make([]string, 0, len(s.trackers))
	for id := range s.trackers {
		active = append(active, id)
	}
	s.mu.Unlock()

	stats := s.registry.Statistics()
	poolStats := s.pool.Stats()

	return dto.BatchStatusResponse{
		ActiveTasks: active,
		AllQueues:   s.registry.AllQueues(),
		Statistics: dto.BatchStatistics{
			TotalQueues:     stats.TotalQueues,
			ActiveQueues:    stats.ActiveQueues,
			CompletedQueues: stats.CompletedQueues,
			CancelledQueues: stats.CancelledQueues,
			ErrorQueues:     stats.ErrorQueues,
			TotalFiles:      stats.TotalFiles,
			CompletedFiles:  stats.CompletedFiles,
			MaxConcurrent:   poolStats.Workers,
			MaxQueueSize:    poolStats.Capacity,
		},
		Timestamp: models.UnixSeconds(time.Now()),
	}
}

// QueueInfo exposes the registry's per-queue view for the WebSocket edge.
func (s *Scheduler) QueueInfo(jobID string) (models.QueueInfo, error) {
	return s.registry.QueueInfo(jobID)
}

// AllQueues exposes every queue's info for the WebSocket edge.
func (s *Scheduler) AllQueues() map[string]models.QueueInfo {
	return s.registry.AllQueues()
}

// Cleanup prunes terminal jobs older than maxAge together with their
// heartbeat trackers and subscriber rooms.
func (s *Scheduler) Cleanup(maxAge time.Duration) (cleanedTasks, cleanedQueues, cleanedTracking int) {
	// Stop trackers whose jobs are already terminal.
	s.mu.Lock()
	for id, stop := range s.trackers {
		snap, err := s.registry.Snapshot(id)
		if err != nil || snap.Status.Terminal() {
			close(stop)
			delete(s.trackers, id)
			cleanedTasks++
		}
	}
	s.mu.Unlock()

	cleanedQueues = s.registry.Reap(maxAge)

	// Close rooms whose jobs no longer exist.
	for _, jobID := range s.bus.Rooms() {
		if _, err := s.registry.Snapshot(jobID); err != nil {
			cleanedTracking += s.bus.CloseRoom(jobID)
		}
	}

	s.logger.Info("Cleanup finished",
		zap.Int("cleaned_tasks", cleanedTasks),
		zap.Int("cleaned_queues", cleanedQueues),
		zap.Int("cleaned_tracking", cleanedTracking),
	)
	return cleanedTasks, cleanedQueues, cleanedTracking
}

// Shutdown stops all heartbeat trackers.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stop := range s.trackers {
		close(stop)
		delete(s.trackers, id)
	}
}

func (s *Scheduler) startHeartbeat(jobID string) {
	stop := make(chan struct{})

	s.mu.Lock()
	s.trackers[jobID] = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				snap, err := s.registry.Snapshot(jobID)
				if err != nil || snap.Status.Terminal() {
					return
				}
				s.bus.Publish(jobID, models.Event{Type: models.EventBatchProgress, Data: snap})
			}
		}
	}()
}

func (s *Scheduler) stopHeartbeat(jobID string) {
	s.mu.Lock()
	if stop, ok := s.trackers[jobID]; ok {
		close(stop)
		delete(s.trackers, jobID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) publishProgress(jobID string) {
	snap, err := s.registry.Snapshot(jobID)
	if err != nil {
		return
	}
	s.bus.Publish(jobID, models.Event{Type: models.EventBatchProgress, Data: snap})
}

func (s *Scheduler) publishFileProcessed(task pool.Task, state models.TaskState, outcome *models.TaskOutcome, taskErr *models.TaskError) {
	fileName, _, _, _, err := s.registry.TaskInput(task.JobID, task.TaskID)
	if err != nil {
		return
	}
	s.bus.Publish(task.JobID, models.Event{
		Type: models.EventFileProcessed,
		Data: models.FileProcessedPayload{
			QueueID:  task.JobID,
			TaskID:   task.TaskID,
			FileName: fileName,
			State:    state,
			Outcome:  outcome,
			Error:    taskErr,
		},
	})
}

// publishTerminal emits the single terminal event for a job and retires
// its heartbeat. Exactly one caller observes the finalizing transition,
// so the terminal event is published exactly once.
func (s *Scheduler) publishTerminal(jobID string) {
	s.stopHeartbeat(jobID)

	snap, err := s.registry.Snapshot(jobID)
	if err != nil {
		return
	}

	var eventType models.EventType
	switch snap.Status {
	case models.JobCancelled:
		eventType = models.EventBatchCancelled
	case models.JobError:
		eventType = models.EventBatchError
	default:
		eventType = models.EventBatchCompleted
	}
	s.bus.Publish(jobID, models.Event{Type: eventType, Data: snap})
}

func classify(err error) *models.TaskError {
	if err == nil {
		return nil
	}
	return &models.TaskError{
		Kind:    string(errs.KindOf(err)),
		Message: errs.MessageOf(err),
	}
}

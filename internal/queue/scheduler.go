// Package queue runs persisted tasks one at a time on a fixed poll interval.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/infra"
)

// DefaultPollInterval is used when Options.PollInterval is not positive.
const DefaultPollInterval = time.Second

var ErrAlreadyRunning = errors.New("scheduler already running")

// Handler executes one task type. The returned value is stored as the task
// output.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *domain.Task) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, task *domain.Task) (any, error) {
	return f(ctx, task)
}

// Options configures a Scheduler.
type Options struct {
	PollInterval time.Duration
	Logger       infra.Logger
	Metrics      *Metrics
}

// Scheduler owns the handler registry and the single poller.
type Scheduler struct {
	repo     domain.TaskRepository
	interval time.Duration
	logger   infra.Logger
	metrics  *Metrics

	mu       sync.RWMutex
	handlers map[domain.TaskType]Handler

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Scheduler over repo. It does not start polling.
func New(repo domain.TaskRepository, opts Options) *Scheduler {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scheduler{
		repo:     repo,
		interval: interval,
		logger:   opts.Logger,
		metrics:  metrics,
		handlers: map[domain.TaskType]Handler{},
	}
}

// Register binds h to taskType, replacing any earlier binding. It is safe to
// call while the poller runs.
func (s *Scheduler) Register(taskType domain.TaskType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = h
}

func (s *Scheduler) handler(taskType domain.TaskType) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[taskType]
	return h, ok
}

// Enqueue validates in and stores it as a pending task.
func (s *Scheduler) Enqueue(ctx context.Context, in jsoncfg.Input, related domain.Related) (*domain.Task, error) {
	raw, err := jsoncfg.EncodeInput(in)
	if err != nil {
		return nil, err
	}
	task := &domain.Task{
		ID:     uuid.NewString(),
		Type:   in.TaskType(),
		Status: domain.TaskStatusPending,
		Input:  raw,
	}
	if id := strings.TrimSpace(related.ID); id != "" {
		task.RelatedID = &id
	}
	if meta := strings.TrimSpace(related.Meta); meta != "" {
		task.RelatedMeta = &meta
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.metrics.enqueued.WithLabelValues(string(task.Type)).Inc()
	s.logger.Info().Str("task_id", task.ID).Str("task_type", string(task.Type)).Msg("queue: enqueued")
	return task, nil
}

// Get returns one task.
func (s *Scheduler) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns tasks newest first.
func (s *Scheduler) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	return s.repo.List(ctx, filter)
}

// Retry moves a failed task back to pending. Any other status is an
// ErrInvalidTransition.
func (s *Scheduler) Retry(ctx context.Context, id string) (*domain.Task, error) {
	if err := s.repo.ResetFailed(ctx, id); err != nil {
		return nil, fmt.Errorf("retry task %s: %w", id, err)
	}
	s.logger.Info().Str("task_id", id).Msg("queue: retried")
	return s.repo.GetByID(ctx, id)
}

// Delete removes a task unless it is running.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteIdle(ctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	s.logger.Info().Str("task_id", id).Msg("queue: deleted")
	return nil
}

// RecoverInterrupted fails every task left running by a previous process.
func (s *Scheduler) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.repo.FailRunning(ctx, domain.InterruptedTaskMessage)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if n > 0 {
		s.metrics.recovered.Add(float64(n))
		s.logger.Warn().Int64("count", n).Msg("queue: failed tasks interrupted by restart")
	}
	return n, nil
}

// Start recovers interrupted tasks and then polls until Stop or until ctx
// is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done != nil {
		return ErrAlreadyRunning
	}
	if _, err := s.RecoverInterrupted(ctx); err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(pollCtx, s.done)
	s.logger.Info().Dur("interval", s.interval).Msg("queue: poller started")
	return nil
}

// Stop ends polling and waits for the in-flight task, if any, until ctx is
// done. A task abandoned this way is recovered on the next Start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.logger.Info().Msg("queue: poller stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight task: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("queue: failed to claim task")
			}
		}
	}
}

// RunOnce claims the oldest pending task and runs it to a terminal state.
// It reports whether a task was processed.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	task, err := s.repo.ClaimNext(ctx)
	if errors.Is(err, domain.ErrNoTaskAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// The handler and the terminal write outlive a Stop request.
	s.process(context.WithoutCancel(ctx), task)
	return true, nil
}

func (s *Scheduler) process(ctx context.Context, task *domain.Task) {
	log := s.logger.With().Str("task_id", task.ID).Str("task_type", string(task.Type)).Logger()
	log.Info().Msg("queue: picked task")

	h, ok := s.handler(task.Type)
	if !ok {
		s.fail(ctx, log, task, fmt.Sprintf("Unknown task type: %s", task.Type))
		return
	}

	start := time.Now()
	out, err := invoke(ctx, log, h, task)
	s.metrics.duration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		s.fail(ctx, log, task, err.Error())
		return
	}

	data, err := json.Marshal(out)
	if err != nil {
		s.fail(ctx, log, task, fmt.Sprintf("encode task output: %v", err))
		return
	}
	if err := s.repo.Complete(ctx, task.ID, data); err != nil {
		log.Error().Err(err).Msg("queue: complete task failed")
		return
	}
	s.metrics.processed.WithLabelValues(string(task.Type), string(domain.TaskStatusCompleted)).Inc()
	log.Info().Dur("took", time.Since(start)).Msg("queue: task completed")
}

func (s *Scheduler) fail(ctx context.Context, log infra.Logger, task *domain.Task, message string) {
	if err := s.repo.Fail(ctx, task.ID, message); err != nil {
		log.Error().Err(err).Msg("queue: fail task failed")
		return
	}
	s.metrics.processed.WithLabelValues(string(task.Type), string(domain.TaskStatusFailed)).Inc()
	log.Error().Str("error", message).Msg("queue: task failed")
}

// invoke runs h and turns a panic into an error.
func invoke(ctx context.Context, log infra.Logger, h Handler, task *domain.Task) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msg("queue: handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task)
}

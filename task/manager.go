package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"transcriber/config"
	"transcriber/metrics"
)

// Runner executes the pipeline for one task. progress may be called any
// number of times before Run returns.
type Runner interface {
	Run(ctx context.Context, job Job, progress func(msg string)) (transcript string, err error)
}

// Throttle vetoes admission when the host is short on resources.
type Throttle interface {
	Check() error
}

type Option func(*Manager)

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now for both the manager and its registry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.registry.now = now
	}
}

func WithThrottle(th Throttle) Option {
	return func(m *Manager) { m.throttle = th }
}

// Manager admits tasks, runs each one on its own goroutine and keeps the
// registry bounded.
type Manager struct {
	cfg      *config.Config
	registry *Registry
	evictor  Evictor
	runner   Runner
	throttle Throttle
	log      logrus.FieldLogger
	now      func() time.Time

	slots chan struct{} // worker slots, one per concurrently running pipeline

	mu       sync.Mutex
	baseCtx  context.Context
	cancels  map[string]context.CancelFunc
	inFlight int
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, runner Runner, opts ...Option) (*Manager, error) {
	if cfg.MaxTasks < 1 || cfg.MaxInFlight < 1 {
		return nil, fmt.Errorf("task limits must be positive: max tasks %d, max in flight %d", cfg.MaxTasks, cfg.MaxInFlight)
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("invalid concurrency limit: %d", cfg.MaxConcurrency)
	}

	m := &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		evictor:  Evictor{Max: cfg.MaxTasks, IncludeInFlight: cfg.EvictInFlight},
		runner:   runner,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		slots:    make(chan struct{}, cfg.MaxConcurrency),
		baseCtx:  context.Background(),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start binds task execution to ctx and starts the retention sweep.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"max_tasks":       m.cfg.MaxTasks,
		"max_in_flight":   m.cfg.MaxInFlight,
		"max_concurrency": m.cfg.MaxConcurrency,
	}).Info("Task manager started")

	if m.cfg.TaskRetention > 0 {
		go m.cleanupLoop(ctx)
	}
}

// cleanupLoop periodically drops terminal tasks older than the retention period.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TaskRetention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Cleanup loop shutting down")
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() []Task {
	removed := m.registry.RemoveWhere(expiredBefore(m.now().Add(-m.cfg.TaskRetention)))
	m.recordEvictions("retention", removed)
	return removed
}

// Submit registers a pending task for url and starts it without waiting on
// any pipeline work.
func (m *Manager) Submit(url string) (Task, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Task{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		metrics.TasksRejected.WithLabelValues("shutting_down").Inc()
		return Task{}, ErrShuttingDown
	}
	if m.inFlight >= m.cfg.MaxInFlight {
		m.mu.Unlock()
		metrics.TasksRejected.WithLabelValues("in_flight").Inc()
		return Task{}, fmt.Errorf("%w: %d tasks already in flight", ErrBusy, m.cfg.MaxInFlight)
	}
	if m.throttle != nil {
		if err := m.throttle.Check(); err != nil {
			m.mu.Unlock()
			metrics.TasksRejected.WithLabelValues("resources").Inc()
			return Task{}, fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	evicted, ok := m.evictor.MakeRoom(m.registry)
	if !ok {
		m.mu.Unlock()
		m.recordEvictions("capacity", evicted)
		metrics.TasksRejected.WithLabelValues("registry_full").Inc()
		return Task{}, fmt.Errorf("%w: task registry is full", ErrBusy)
	}

	t := m.registry.Create(url)
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancels[t.ID] = cancel
	m.inFlight++
	m.wg.Add(1)
	m.mu.Unlock()

	m.recordEvictions("capacity", evicted)
	metrics.TasksSubmitted.Inc()
	metrics.TasksInFlight.Inc()
	m.log.WithField("task_id", t.ID).Info("Task submitted")

	go m.execute(ctx, t.ID, url)
	return t, nil
}

// execute drives one task from pending to a terminal state.
func (m *Manager) execute(ctx context.Context, id, url string) {
	defer m.wg.Done()
	defer m.release(id)
	logger := m.log.WithField("task_id", id)

	// Wait for a free processing slot
	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		m.finish(logger, id, "", NewStageError(Cancelled, errors.New("cancelled before processing started")))
		return
	}

	if _, err := m.registry.Mutate(id, func(t *Task) error { return t.start(m.now()) }); err != nil {
		logger.WithError(err).Warn("Task could not start")
		return
	}
	logger.Info("Processing task")

	progress := func(msg string) {
		if _, err := m.registry.Mutate(id, func(t *Task) error { return t.setMessage(msg) }); err != nil {
			logger.WithError(err).Debug("Progress update dropped")
		}
	}

	transcript, err := m.runSafely(ctx, Job{ID: id, URL: url}, progress)
	if err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			kind := InternalError
			if ctx.Err() != nil {
				kind = Cancelled
			}
			err = NewStageError(kind, err)
		}
	}
	m.finish(logger, id, transcript, err)
}

func (m *Manager) runSafely(ctx context.Context, job Job, progress func(string)) (transcript string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewStageError(InternalError, fmt.Errorf("panic: %v", r))
		}
	}()
	return m.runner.Run(ctx, job, progress)
}

// finish records the terminal state. A pending task is moved through
// processing first so every task follows the same path.
func (m *Manager) finish(logger logrus.FieldLogger, id, transcript string, runErr error) {
	_, err := m.registry.Mutate(id, func(t *Task) error {
		now := m.now()
		if t.Status == StatusPending {
			if err := t.start(now); err != nil {
				return err
			}
		}
		if runErr != nil {
			return t.fail(now, runErr)
		}
		return t.complete(now, transcript)
	})
	if errors.Is(err, ErrNotFound) {
		logger.Warn("Task was evicted before finishing, outcome discarded")
		return
	}
	if err != nil {
		logger.WithError(err).Error("Could not record task outcome")
		return
	}

	if runErr != nil {
		kind := KindOf(runErr)
		metrics.TasksFailed.WithLabelValues(string(kind)).Inc()
		logger.WithField("kind", kind).WithError(runErr).Warn("Task failed")
		return
	}
	metrics.TasksCompleted.Inc()
	logger.Info("Task completed successfully")
}

// release frees the task's admission slot and enforces the registry bound.
func (m *Manager) release(id string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	m.inFlight--
	m.mu.Unlock()
	metrics.TasksInFlight.Dec()

	m.recordEvictions("capacity", m.evictor.Enforce(m.registry))
}

func (m *Manager) recordEvictions(cause string, removed []Task) {
	if len(removed) == 0 {
		return
	}
	metrics.TasksEvicted.WithLabelValues(cause).Add(float64(len(removed)))
	for _, t := range removed {
		m.log.WithFields(logrus.Fields{"task_id": t.ID, "status": t.Status, "cause": cause}).Debug("Task evicted")
	}
}

// Cancel interrupts a pending or processing task. It ends as failed with a
// Cancelled error once its goroutine observes the cancellation.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
		m.log.WithField("task_id", id).Info("Cancellation signal sent")
		return nil
	}

	t, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot cancel task in state: %s", ErrInvalidTransition, t.Status)
}

// ClearTerminal drops every completed or failed task, leaving in-flight ones.
func (m *Manager) ClearTerminal() (removed, remaining int) {
	gone := m.registry.RemoveWhere(terminal)
	m.recordEvictions("clear", gone)
	return len(gone), m.registry.Len()
}

// InFlight lists the ids of tasks that have not reached a terminal state.
func (m *Manager) InFlight() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.cancels))
	for id := range m.cancels {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) Get(id string) (Task, error) {
	return m.registry.Get(id)
}

func (m *Manager) List() []Task {
	return m.registry.List()
}

func (m *Manager) Len() int {
	return m.registry.Len()
}

func (m *Manager) Counts() map[Status]int {
	return m.registry.Counts()
}

// Shutdown stops admission, cancels running tasks and waits for their
// goroutines to exit or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("All tasks finished")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/ada/agent/pipeline"
	"github.com/malbeclabs/ada/api/metrics"
	"github.com/malbeclabs/ada/pkg/errkind"
)

const (
	DefaultTaskRetention = time.Hour
	DefaultTurnTimeout   = 3 * time.Minute
)

var ErrShuttingDown = errors.New("api: task manager is shutting down")

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusStarted   TaskStatus = "started"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type TaskError struct {
	Kind    errkind.Kind `json:"error_kind"`
	Message string       `json:"message"`
}

// Task is the externally visible state of a submitted turn.
type Task struct {
	ID        string           `json:"task_id"`
	Status    TaskStatus       `json:"status"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     *TaskError       `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Runner executes turns.
type Runner interface {
	Admit(turn pipeline.Turn) *pipeline.Ticket
	Run(ctx context.Context, turn pipeline.Turn, ticket *pipeline.Ticket) (*pipeline.Result, error)
}

type TaskManagerConfig struct {
	Logger *slog.Logger
	Runner Runner
	Clock  clockwork.Clock
	// Retention is how long finished tasks stay queryable.
	Retention   time.Duration
	TurnTimeout time.Duration
}

func (c *TaskManagerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("api: logger is required")
	}
	if c.Runner == nil {
		return errors.New("api: runner is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Retention <= 0 {
		c.Retention = DefaultTaskRetention
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	return nil
}

// TaskManager runs turns in the background and tracks their status.
type TaskManager struct {
	log   *slog.Logger
	cfg   TaskManagerConfig
	tasks *ttlcache.Cache[string, Task]

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewTaskManager(cfg *TaskManagerConfig) (*TaskManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tasks := ttlcache.New(ttlcache.WithTTL[string, Task](cfg.Retention))
	go tasks.Start()
	return &TaskManager{
		log:     cfg.Logger,
		cfg:     *cfg,
		tasks:   tasks,
		running: make(map[string]context.CancelFunc),
	}, nil
}

// Submit accepts a turn and starts it in the background. The turn's place
// in its conversation is reserved before Submit returns.
func (m *TaskManager) Submit(turn pipeline.Turn) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Task{}, ErrShuttingDown
	}

	now := m.cfg.Clock.Now().UTC()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	task := Task{ID: turn.ID, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	// Unfinished tasks never expire.
	m.tasks.Set(task.ID, task, ttlcache.NoTTL)

	ticket := m.cfg.Runner.Admit(turn)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TurnTimeout)
	m.running[task.ID] = cancel
	m.wg.Add(1)
	metrics.TasksInFlight.Inc()
	go m.run(ctx, cancel, turn, ticket)

	m.log.Info("api: task accepted", "task_id", task.ID, "tenant", turn.Tenant, "session", turn.Session())
	return task, nil
}

func (m *TaskManager) run(ctx context.Context, cancel context.CancelFunc, turn pipeline.Turn, ticket *pipeline.Ticket) {
	defer m.wg.Done()
	defer metrics.TasksInFlight.Dec()
	defer cancel()
	defer func() {
		m.mu.Lock()
		delete(m.running, turn.ID)
		m.mu.Unlock()
	}()

	m.update(turn.ID, func(t *Task) { t.Status = StatusStarted }, ttlcache.NoTTL)
	res, err := m.cfg.Runner.Run(ctx, turn, ticket)

	m.update(turn.ID, func(t *Task) {
		if err != nil {
			t.Status = StatusFailed
			if errkind.Of(err) == errkind.Cancelled {
				t.Status = StatusCancelled
			}
			t.Error = &TaskError{Kind: errkind.Of(err), Message: errkind.Message(err)}
			return
		}
		t.Status = StatusCompleted
		t.Result = res
	}, ttlcache.DefaultTTL)

	task, _ := m.Get(turn.ID)
	metrics.TasksTotal.WithLabelValues(string(task.Status)).Inc()
	if err != nil {
		m.log.Info("api: task finished", "task_id", turn.ID, "status", task.Status, "kind", errkind.Of(err), "error", err)
		return
	}
	m.log.Info("api: task finished", "task_id", turn.ID, "status", task.Status, "intent", res.Intent, "from_cache", res.FromCache)
}

func (m *TaskManager) update(id string, fn func(*Task), ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.tasks.Get(id)
	if item == nil {
		return
	}
	t := item.Value()
	fn(&t)
	t.UpdatedAt = m.cfg.Clock.Now().UTC()
	m.tasks.Set(id, t, ttl)
}

func (m *TaskManager) Get(id string) (Task, bool) {
	item := m.tasks.Get(id)
	if item == nil {
		return Task{}, false
	}
	return item.Value(), true
}

// Cancel stops a running task. It reports false for unknown ids; finished
// tasks are left unchanged.
func (m *TaskManager) Cancel(id string) (Task, bool) {
	m.mu.Lock()
	cancel, running := m.running[id]
	m.mu.Unlock()
	if running {
		m.log.Info("api: cancelling task", "task_id", id)
		cancel()
	}
	return m.Get(id)
}

// Shutdown stops accepting tasks and waits for running ones. When ctx is
// done first, remaining tasks are cancelled. Safe to call more than once.
func (m *TaskManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	defer m.stopOnce.Do(m.tasks.Stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for _, cancel := range m.running {
			cancel()
		}
		m.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

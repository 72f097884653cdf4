package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/pitcrew/internal/logging"
	"github.com/aretw0/pitcrew/pkg/adapters/memory"
	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/keylock"
	"github.com/aretw0/pitcrew/pkg/ports"
	"github.com/aretw0/pitcrew/pkg/registry"
	"github.com/aretw0/pitcrew/pkg/timeout"
	"github.com/sourcegraph/conc"
)

var (
	// ErrAlreadyStarted is returned by Start when the worker pool is running.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrEngineStopped is returned when work is submitted to a stopped engine.
	ErrEngineStopped = domain.ErrEngineStopped
)

// MessageBus is the subset of the bus the engine dispatches through.
type MessageBus interface {
	Publish(ctx context.Context, channel string, msg domain.Message) bool
	Subscribe(channel string, sub bus.Subscriber)
	Unsubscribe(channel string, sub bus.Subscriber)
}

// TimeoutTracker bounds every dispatched stage.
type TimeoutTracker interface {
	Register(messageID string, timeout time.Duration, onExpire timeout.ExpireFunc)
	Acknowledge(messageID string) bool
}

// Handler performs the work of one stage. See registry.Handler.
type Handler = registry.Handler

// WorkflowError is emitted once a workflow fails permanently.
type WorkflowError struct {
	WorkflowID string
	SubjectID  string
	AgentKind  domain.AgentKind
	Err        error
	Timestamp  time.Time
}

func (e WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s (%s) failed at %s: %v", e.WorkflowID, e.SubjectID, e.AgentKind, e.Err)
}

func (e WorkflowError) Unwrap() error { return e.Err }

// record is the engine-private envelope of an active workflow.
type record struct {
	wf *domain.Workflow

	// taskID is the task currently queued or running for this workflow.
	// Results of any other task are stale and dropped.
	taskID string
	timer  *time.Timer
}

// Engine drives workflows through the stage pipeline.
type Engine struct {
	bus      MessageBus
	tracker  TimeoutTracker
	registry *registry.Registry
	archive  ports.WorkflowArchive
	queue    *TaskQueue
	locks    *keylock.Manager
	hooks    domain.LifecycleHooks
	logger   *slog.Logger

	workers           int
	maxRetries        int
	backoffBase       time.Duration
	stageTimeout      time.Duration
	urgencyThreshold  float64
	criticalThreshold float64
	errorBuffer       int

	mu        sync.RWMutex
	workflows map[string]*record

	errs chan WorkflowError

	runMu   sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	pool    *conc.WaitGroup
	stopped atomic.Bool
	subs    []subscription

	stats stats
}

type subscription struct {
	channel string
	sub     bus.Subscriber
}

// New creates an Engine dispatching through b and bounded by tracker.
// Workers do not run until Start.
func New(b MessageBus, tracker TimeoutTracker, opts ...Option) *Engine {
	e := &Engine{
		bus:               b,
		tracker:           tracker,
		queue:             NewTaskQueue(),
		locks:             keylock.New(),
		logger:            logging.NewNop(),
		workers:           DefaultWorkers,
		maxRetries:        DefaultMaxRetries,
		backoffBase:       DefaultBackoffBase,
		stageTimeout:      DefaultStageTimeout,
		urgencyThreshold:  DefaultUrgencyThreshold,
		criticalThreshold: DefaultCriticalThreshold,
		errorBuffer:       DefaultErrorBuffer,
		workflows:         make(map[string]*record),
		runCtx:            context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = registry.NewRegistry()
	}
	if e.archive == nil {
		e.archive = memory.NewArchive()
	}
	e.errs = make(chan WorkflowError, e.errorBuffer)
	e.stats.byState = make(map[domain.State]int)
	return e
}

// RegisterAgent binds the handler for kind, replacing any previous one.
func (e *Engine) RegisterAgent(kind domain.AgentKind, handler Handler) {
	e.registry.Register(kind, handler)
	e.logger.Debug("agent registered", "agent_kind", string(kind))
}

// Errors delivers a notification for every permanently failed workflow.
// Notifications are dropped when the buffer is full.
func (e *Engine) Errors() <-chan WorkflowError {
	return e.errs
}

// Start launches the worker pool and subscribes to the input channels.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.stopped.Load() {
		return ErrEngineStopped
	}
	if e.pool != nil {
		return ErrAlreadyStarted
	}

	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.pool = &conc.WaitGroup{}
	for i := 0; i < e.workers; i++ {
		id := i
		e.pool.Go(func() { e.workerLoop(id) })
	}
	e.subscribeInputs()

	e.logger.Info("engine started", "workers", e.workers, "max_retries", e.maxRetries, "stage_timeout", e.stageTimeout)
	return nil
}

// Stop halts the worker pool. Running handlers see their context cancelled;
// queued tasks and pending retries are abandoned.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	for _, s := range e.subs {
		e.bus.Unsubscribe(s.channel, s.sub)
	}
	e.subs = nil

	e.mu.RLock()
	active := make([]*record, 0, len(e.workflows))
	for _, rec := range e.workflows {
		active = append(active, rec)
	}
	e.mu.RUnlock()

	for _, rec := range active {
		e.locks.Do(rec.wf.ID, func() {
			if rec.timer != nil {
				rec.timer.Stop()
				rec.timer = nil
			}
		})
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.queue.Close()
	if e.pool != nil {
		e.pool.Wait()
	}
	e.logger.Info("engine stopped")
}

// Run starts the engine and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

func (e *Engine) runContext() context.Context {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.runCtx
}

// workerLoop pops tasks until the queue closes. It never returns on a
// handler fault: every fault becomes a stage failure.
func (e *Engine) workerLoop(id int) {
	e.logger.Debug("worker started", "worker", id)
	for {
		task, ok := e.queue.Pop()
		if !ok {
			e.logger.Debug("worker exiting", "worker", id)
			return
		}
		e.dispatch(e.runContext(), task)
	}
}

type requestKey struct{}

// RequestFromContext returns the bus request that triggered the running handler.
func RequestFromContext(ctx context.Context) (domain.Message, bool) {
	msg, ok := ctx.Value(requestKey{}).(domain.Message)
	return msg, ok
}

// dispatch runs one task: announce it on the bus, bound it with a timeout,
// invoke the handler and route the outcome.
func (e *Engine) dispatch(ctx context.Context, task domain.Task) {
	wf, ok := e.currentTask(task)
	if !ok {
		e.logger.Debug("stale task dropped", "workflow_id", task.WorkflowID, "task_id", task.ID)
		return
	}

	handler, ok := e.registry.Lookup(task.AgentKind)
	if !ok {
		e.completeTask(ctx, task, nil, fmt.Errorf("%w: %s", domain.ErrNoHandler, task.AgentKind))
		return
	}

	req := domain.NewMessage(domain.OrchestratorSender, string(task.AgentKind), task.AgentKind.RequestType(), task.Priority, task.Payload)
	req.ID = task.ID
	req.CorrelationID = wf.CorrelationID
	req.ReplyTo = domain.ResultChannel(task.AgentKind)
	req.TTLSeconds = int(e.stageTimeout / time.Second)
	e.bus.Publish(ctx, domain.RequestChannel(task.AgentKind), req)

	e.tracker.Register(task.ID, e.stageTimeout, func(string) {
		e.onStageTimeout(task, wf.CorrelationID)
	})

	start := time.Now()
	e.emitStage(ctx, e.hooks.OnStageStart, domain.EventStageStart, task, 0, nil, false)

	handlerCtx, cancel := context.WithTimeout(context.WithValue(ctx, requestKey{}, req), e.stageTimeout)
	result, err := e.invoke(handlerCtx, handler, task)
	cancel()

	if !e.tracker.Acknowledge(task.ID) {
		e.logger.Warn("late stage result discarded",
			"workflow_id", task.WorkflowID,
			"agent_kind", string(task.AgentKind),
			"task_id", task.ID,
		)
		return
	}

	e.emitStage(ctx, e.hooks.OnStageFinish, domain.EventStageFinish, task, time.Since(start), err, false)
	e.completeTask(ctx, task, result, err)
}

// invoke calls handler and turns a panic into an error.
func (e *Engine) invoke(ctx context.Context, handler Handler, task domain.Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("agent panicked",
				"workflow_id", task.WorkflowID,
				"agent_kind", string(task.AgentKind),
				"err", fmt.Errorf("panic: %v", r),
				"stack", string(debug.Stack()),
			)
			result, err = nil, fmt.Errorf("agent %s panicked: %v", task.AgentKind, r)
		}
	}()
	return handler(ctx, domain.CloneMap(task.Payload))
}

func (e *Engine) onStageTimeout(task domain.Task, correlationID string) {
	ctx := e.runContext()

	msg := domain.NewMessage(domain.OrchestratorSender, "", domain.TypeTimeout, task.Priority, map[string]any{
		domain.KeyWorkflowID: task.WorkflowID,
		domain.KeyStage:      string(task.AgentKind),
		"task_id":            task.ID,
		"timeout":            e.stageTimeout.String(),
	})
	msg.CorrelationID = correlationID
	e.bus.Publish(ctx, domain.ChannelSystemTimeout, msg)

	e.emitStage(ctx, e.hooks.OnStageFinish, domain.EventStageFinish, task, e.stageTimeout, domain.ErrStageTimeout, true)
	e.completeTask(ctx, task, nil, fmt.Errorf("%w after %s", domain.ErrStageTimeout, e.stageTimeout))
}

// currentTask reports whether task is still the live task of its workflow.
func (e *Engine) currentTask(task domain.Task) (domain.Workflow, bool) {
	var snap domain.Workflow
	ok := false
	e.locks.Do(task.WorkflowID, func() {
		rec := e.lookup(task.WorkflowID)
		if rec == nil || rec.taskID != task.ID {
			return
		}
		snap = domain.Workflow{ID: rec.wf.ID, CorrelationID: rec.wf.CorrelationID, State: rec.wf.State}
		ok = true
	})
	return snap, ok
}

// completeTask routes the outcome of task, unless it became stale.
func (e *Engine) completeTask(ctx context.Context, task domain.Task, result map[string]any, err error) {
	e.locks.Do(task.WorkflowID, func() {
		rec := e.lookup(task.WorkflowID)
		if rec == nil || rec.taskID != task.ID {
			e.logger.Debug("stale stage outcome dropped", "workflow_id", task.WorkflowID, "task_id", task.ID)
			return
		}
		rec.taskID = ""

		if err != nil {
			e.failStageLocked(ctx, rec, task.AgentKind, err)
		} else if err := e.advanceLocked(ctx, rec, task.AgentKind, result); err != nil {
			e.failStageLocked(ctx, rec, task.AgentKind, err)
		}
		e.finalizeIfTerminalLocked(ctx, rec)
	})
}

func (e *Engine) lookup(id string) *record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workflows[id]
}

// enqueueLocked queues the task for kind. The caller holds the workflow lock.
func (e *Engine) enqueueLocked(rec *record, kind domain.AgentKind) {
	task := domain.NewTask(rec.wf.ID, kind, rec.wf.Priority, stagePayload(rec.wf, kind))
	rec.taskID = task.ID
	if !e.queue.Push(task) {
		e.logger.Warn("task dropped: queue closed", "workflow_id", rec.wf.ID, "agent_kind", string(kind))
		return
	}
	e.logger.Debug("task enqueued",
		"workflow_id", rec.wf.ID,
		"agent_kind", string(kind),
		"priority", task.Priority.String(),
		"task_id", task.ID,
	)
}

// finalizeIfTerminalLocked archives a terminal workflow and removes it from the active set.
func (e *Engine) finalizeIfTerminalLocked(ctx context.Context, rec *record) {
	wf := rec.wf
	if !wf.State.Terminal() {
		return
	}

	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}

	duration := wf.CompletedAt.Sub(wf.CreatedAt)
	switch wf.State {
	case domain.StateCompleted:
		e.stats.recordCompletion(duration)
	case domain.StateFailed:
		e.stats.failed.Add(1)
	}

	// Archive before removal so StatusOf never misses the workflow.
	snap := wf.Snapshot()
	if err := e.archive.Save(ctx, &snap); err != nil {
		e.logger.Error("failed to archive workflow", "workflow_id", wf.ID, "err", err)
	}

	e.mu.Lock()
	delete(e.workflows, wf.ID)
	e.mu.Unlock()

	if e.hooks.OnWorkflowDone != nil {
		e.hooks.OnWorkflowDone(ctx, &domain.WorkflowEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventWorkflowDone, WorkflowID: wf.ID},
			State:     wf.State,
			Priority:  wf.Priority,
			Duration:  duration,
		})
	}

	e.logger.Info("workflow finished",
		"workflow_id", wf.ID,
		"subject_id", wf.SubjectID,
		"state", string(wf.State),
		"retries", wf.RetryCount,
		"duration", duration,
	)
}

func (e *Engine) emitStage(ctx context.Context, hook func(context.Context, *domain.StageEvent), typ domain.EventType, task domain.Task, d time.Duration, err error, timedOut bool) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.StageEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: typ, WorkflowID: task.WorkflowID},
		AgentKind: task.AgentKind,
		Priority:  task.Priority,
		Duration:  d,
		Err:       err,
		TimedOut:  timedOut,
	})
}

// notifyFailure publishes on the error channel and the Errors stream.
func (e *Engine) notifyFailure(ctx context.Context, wf *domain.Workflow, kind domain.AgentKind, err error) {
	msg := domain.NewMessage(domain.OrchestratorSender, "", domain.TypeError, domain.PriorityCritical, map[string]any{
		domain.KeyWorkflowID: wf.ID,
		domain.KeyVehicleID:  wf.SubjectID,
		domain.KeyStage:      string(kind),
		domain.KeyError:      err.Error(),
		domain.KeyRetryCount: wf.RetryCount,
	})
	msg.CorrelationID = wf.CorrelationID
	e.bus.Publish(ctx, domain.ChannelSystemError, msg)

	select {
	case e.errs <- WorkflowError{WorkflowID: wf.ID, SubjectID: wf.SubjectID, AgentKind: kind, Err: err, Timestamp: time.Now()}:
	default:
		e.logger.Warn("error channel full, notification dropped", "workflow_id", wf.ID)
	}
}

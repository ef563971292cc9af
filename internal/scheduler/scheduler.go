// Package scheduler runs the actor that owns the worker pool.
//
// A Scheduler dispatches tasks onto a bounded, lazily grown set of workers,
// tracks which workers are idle or busy, and keeps every worker's module
// cache complete. All of its state is owned by the goroutine running Run;
// other goroutines talk to it only through a Channel, so nothing here is
// guarded by a lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"

	"github.com/me/threadpool/internal/logging"
	"github.com/me/threadpool/internal/mailbox"
	"github.com/me/threadpool/internal/metrics"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

// ErrUnhandledMessage is returned for a message kind execute does not know.
var ErrUnhandledMessage = errors.New("unhandled scheduler message")

// Config holds scheduler configuration.
type Config struct {
	// Capacity is the maximum number of workers ever started.
	Capacity int
}

// DefaultConfig returns one worker per CPU.
func DefaultConfig() Config {
	return Config{Capacity: runtime.NumCPU()}
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithMetrics records pool metrics into m.
func WithMetrics(m *metrics.Pool) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// Scheduler is the actor in charge of the worker pool.
type Scheduler struct {
	capacity int
	// idle workers are able to receive work.
	idle workerQueue
	// busy workers are blocked on long-running work.
	busy    workerQueue
	cache   *moduleCache
	spawner Spawner
	// mailbox is cloned for every new worker.
	mailbox *Channel
	rx      *mailbox.Receiver[Message]
	metrics *metrics.Pool
	logger  *slog.Logger
}

// New creates a Scheduler and the first producer handle for its mailbox.
// The scheduler does nothing until Run is called.
func New(cfg Config, spawner Spawner, logger *slog.Logger, opts ...Option) (*Scheduler, *Channel, error) {
	if cfg.Capacity < 1 {
		return nil, nil, fmt.Errorf("scheduler capacity must be at least 1, got %d", cfg.Capacity)
	}
	if spawner == nil {
		return nil, nil, errors.New("scheduler requires a spawner")
	}

	tx, rx := mailbox.New[Message]()
	ch := &Channel{tx: tx}

	s := &Scheduler{
		capacity: cfg.Capacity,
		cache:    newModuleCache(),
		spawner:  spawner,
		mailbox:  ch.Clone(),
		rx:       rx,
		logger:   logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, ch, nil
}

// Spawn starts a Scheduler on a new goroutine and returns a handle to it.
// The scheduler stops when ctx is cancelled.
func Spawn(ctx context.Context, cfg Config, spawner Spawner, logger *slog.Logger, opts ...Option) (*Channel, error) {
	s, ch, err := New(cfg, spawner, logger, opts...)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
	return ch, nil
}

// Run executes mailbox messages one at a time until ctx is done or the
// mailbox reaches end-of-stream. The scheduler and its workers hold
// producer handles of their own, so cancelling ctx is the normal way to
// stop it. Errors from individual messages are logged and do not stop the
// loop. On return the mailbox is torn down and every worker is closed.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("scheduler started", "capacity", s.capacity)
	defer s.shutdown()

	for {
		msg, err := s.rx.Recv(ctx)
		if errors.Is(err, mailbox.ErrClosed) {
			s.logger.Debug("shutting down the scheduler (mailbox closed)")
			return nil
		}
		if err != nil {
			s.logger.Debug("shutting down the scheduler", "reason", err)
			return err
		}

		s.logger.Log(ctx, logging.LevelTrace, "executing a message", "message", messageKind(msg))
		if err := s.execute(msg); err != nil {
			s.metrics.MessageError(messageKind(msg))
			s.logger.Warn("an error occurred while handling a message",
				"message", messageKind(msg),
				"error", err,
			)
		}
	}
}

// shutdown drains the mailbox, answering pending Inspect requests by
// closing their reply, then tears down the mailbox and every worker.
func (s *Scheduler) shutdown() {
	dropped := make(map[string]int)
	for {
		msg, ok := s.rx.TryRecv()
		if !ok {
			break
		}
		if q, ok := msg.(Inspect); ok {
			close(q.Reply)
			continue
		}
		dropped[messageKind(msg)]++
	}
	// Anything sent between the drain and Close is counted here.
	if n := s.rx.Close(); n > 0 {
		dropped["unknown"] += n
	}
	for _, kind := range slices.Sorted(maps.Keys(dropped)) {
		s.logger.Warn("dropped undelivered messages", "message", kind, "count", dropped[kind])
	}
	s.mailbox.Close()
	for _, q := range []*workerQueue{&s.idle, &s.busy} {
		for _, w := range q.items {
			w.conn.Close()
		}
		q.items = nil
	}
	s.metrics.SetPool(0, 0)
}

func (s *Scheduler) execute(msg Message) error {
	switch msg := msg.(type) {
	case SpawnAsync:
		return s.postMessage(task.Async{Run: msg.Task})
	case SpawnBlocking:
		return s.postMessage(task.Blocking{Run: msg.Task})
	case CacheModule:
		return s.cacheModule(msg)
	case SpawnWithModule:
		return s.postMessage(task.WithModule{Module: msg.Module, Run: msg.Task})
	case SpawnWithModuleAndMemory:
		return s.postMessage(task.WithModuleAndMemory{
			Module: msg.Module,
			Memory: msg.Memory,
			Run:    msg.Task,
		})
	case WorkerBusy:
		if err := moveWorker(msg.WorkerID, &s.idle, &s.busy); err != nil {
			return err
		}
		s.logPool("worker marked as busy", msg.WorkerID)
		return nil
	case WorkerIdle:
		if err := moveWorker(msg.WorkerID, &s.busy, &s.idle); err != nil {
			return err
		}
		s.logPool("worker marked as idle", msg.WorkerID)
		return nil
	case Inspect:
		select {
		case msg.Reply <- s.snapshot():
		default:
			return errors.New("inspect reply channel is full")
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnhandledMessage, msg)
	}
}

func (s *Scheduler) logPool(msg string, workerID uint32) {
	s.metrics.SetPool(s.idle.Len(), s.busy.Len())
	s.logger.Log(context.Background(), logging.LevelTrace, msg,
		"worker_id", workerID,
		"idle_workers", s.idle.ids(),
		"busy_workers", s.busy.ids(),
	)
}

// cacheModule records the module and replicates it to every existing
// worker. Every worker is attempted even if some deliveries fail.
func (s *Scheduler) cacheModule(msg CacheModule) error {
	if msg.Module == nil {
		return errors.New("cache module: nil module")
	}
	if !s.cache.insert(msg.Module.Hash, msg.Module) {
		s.logger.Debug("module already cached", "hash", msg.Module.Hash.Short())
	}
	s.metrics.SetCachedModules(s.cache.len())

	payload := task.CacheModule{Module: msg.Module}
	var errs []error
	for _, q := range []*workerQueue{&s.idle, &s.busy} {
		for _, w := range q.items {
			if err := w.Send(payload); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// postMessage sends a task to one of the workers, preferring workers that
// aren't running blocking work.
func (s *Scheduler) postMessage(p task.Payload) error {
	// First, try an idle worker. Dispatching does not change its
	// classification; only the worker's own reports do.
	if w, ok := s.idle.popFront(); ok {
		s.logger.Log(context.Background(), logging.LevelTrace, "sending the task to an idle worker", "worker_id", w.id)
		err := w.Send(p)
		s.idle.pushBack(w)
		if err != nil {
			return err
		}
		s.metrics.Dispatch(metrics.RouteIdle)
		return nil
	}

	// No idle workers, so grow the pool if we're allowed to.
	if s.idle.Len()+s.busy.Len() < s.capacity {
		w, err := s.startWorker()
		if err != nil {
			return err
		}
		s.logger.Log(context.Background(), logging.LevelTrace, "sending the task to a new worker", "worker_id", w.id)
		if err := w.Send(p); err != nil {
			w.conn.Close()
			return err
		}
		s.idle.pushBack(w)
		s.metrics.WorkerStarted()
		s.metrics.SetPool(s.idle.Len(), s.busy.Len())
		s.metrics.Dispatch(metrics.RouteSpawn)
		return nil
	}

	// Saturated: add load to a worker that is already busy. busy cannot be
	// empty here because idle is empty and capacity is at least one.
	w, _ := s.busy.popFront()
	s.logger.Log(context.Background(), logging.LevelTrace, "sending the task to a busy worker", "worker_id", w.id)
	err := w.Send(p)
	s.busy.pushBack(w)
	if err != nil {
		return err
	}
	s.metrics.Dispatch(metrics.RouteBusy)
	return nil
}

// startWorker creates a worker and primes its module cache. The worker is
// not added to either queue; on error it has already been closed.
func (s *Scheduler) startWorker() (*WorkerHandle, error) {
	id := allocWorkerID()

	mb := s.mailbox.Clone()
	conn, err := s.spawner.Spawn(id, mb)
	if err != nil {
		mb.Close()
		return nil, fmt.Errorf("start worker #%d: %w", id, err)
	}
	w := &WorkerHandle{id: id, conn: conn}

	err = s.cache.each(func(_ artifact.Hash, mod *artifact.Module) error {
		return w.Send(task.CacheModule{Module: mod})
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("prime worker #%d module cache: %w", id, err)
	}

	s.logger.Debug("started worker", "worker_id", id, "cached_modules", s.cache.len())
	return w, nil
}

func (s *Scheduler) snapshot() Snapshot {
	return Snapshot{
		Capacity: s.capacity,
		Idle:     s.idle.ids(),
		Busy:     s.busy.ids(),
		Modules:  s.cache.hashes(),
	}
}

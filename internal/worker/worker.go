// Package worker runs the worker execution contexts the scheduler hands
// tasks to.
//
// Each worker is a goroutine that exclusively owns one JavaScript runtime,
// a local module cache and an inbox. It processes payloads one at a time
// and reports its own busy/idle state back to the scheduler: it sends
// WorkerBusy before running work that may block and WorkerIdle once it is
// done. Async tasks run without status reports and must not block.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/dop251/goja"
	"github.com/me/threadpool/internal/logging"
	"github.com/me/threadpool/internal/mailbox"
	"github.com/me/threadpool/internal/scheduler"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

// Worker is the state owned by one worker goroutine. It implements
// task.Env for the tasks it runs.
type Worker struct {
	id      uint32
	rt      *goja.Runtime
	cache   map[artifact.Hash]*artifact.Module
	exports map[artifact.Hash]*goja.Object
	inbox   *mailbox.Receiver[task.Payload]
	status  *scheduler.Channel
	logger  *slog.Logger
}

// WorkerID implements task.Env.
func (w *Worker) WorkerID() uint32 { return w.id }

// Runtime implements task.Env.
func (w *Worker) Runtime() *goja.Runtime { return w.rt }

// Module implements task.Env.
func (w *Worker) Module(hash artifact.Hash) (*artifact.Module, bool) {
	mod, ok := w.cache[hash]
	return mod, ok
}

// Instantiate implements task.Env. A module's body runs at most once per
// worker; later calls return the same exports object.
func (w *Worker) Instantiate(mod *artifact.Module) (*goja.Object, error) {
	if exp, ok := w.exports[mod.Hash]; ok {
		return exp, nil
	}
	fail := func(err error) (*goja.Object, error) {
		return nil, fmt.Errorf("instantiate %s (%s): %w", mod.Name, mod.Hash.Short(), err)
	}

	v, err := w.rt.RunProgram(mod.Program)
	if err != nil {
		return fail(err)
	}
	body, ok := goja.AssertFunction(v)
	if !ok {
		return fail(fmt.Errorf("program did not evaluate to a function"))
	}
	res, err := body(goja.Undefined())
	if err != nil {
		return fail(err)
	}
	exp := res.ToObject(w.rt)
	w.exports[mod.Hash] = exp
	return exp, nil
}

// run processes the inbox until it is closed and drained or ctx is done.
func (w *Worker) run(ctx context.Context) {
	defer w.status.Close()
	defer w.inbox.Close()

	w.logger.Debug("worker started")
	for {
		p, err := w.inbox.Recv(ctx)
		if err != nil {
			w.logger.Debug("worker stopped", "reason", err)
			return
		}
		w.handle(ctx, p)
	}
}

func (w *Worker) handle(ctx context.Context, p task.Payload) {
	w.logger.Log(ctx, logging.LevelTrace, "received payload", "kind", task.Kind(p))

	switch p := p.(type) {
	case task.CacheModule:
		if p.Module == nil {
			w.logger.Warn("ignoring nil module")
			return
		}
		w.cache[p.Module.Hash] = p.Module
		w.logger.Debug("cached module", "hash", p.Module.Hash.Short(), "name", p.Module.Name)
	case task.Async:
		w.exec(ctx, task.Kind(p), func() { p.Run(ctx, w) })
	case task.Blocking:
		w.blocking(ctx, task.Kind(p), func() { p.Run(ctx, w) })
	case task.WithModule:
		w.blocking(ctx, task.Kind(p), func() { p.Run(ctx, w, p.Module) })
	case task.WithModuleAndMemory:
		w.blocking(ctx, task.Kind(p), func() { p.Run(ctx, w, p.Module, p.Memory) })
	default:
		w.logger.Error("unknown payload", "type", fmt.Sprintf("%T", p))
	}
}

// blocking runs fn bracketed by busy/idle reports.
func (w *Worker) blocking(ctx context.Context, kind string, fn func()) {
	if err := w.status.WorkerBusy(w.id); err != nil {
		w.logger.Warn("failed to report busy", "error", err)
	}
	w.exec(ctx, kind, fn)
	if err := w.status.WorkerIdle(w.id); err != nil {
		w.logger.Warn("failed to report idle", "error", err)
	}
}

// exec runs fn, interrupting JavaScript when ctx is done and recovering
// panics so one bad task cannot take the worker down.
func (w *Worker) exec(ctx context.Context, kind string, fn func()) {
	stop := context.AfterFunc(ctx, func() {
		w.rt.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		w.rt.ClearInterrupt()
		if r := recover(); r != nil {
			w.logger.Error("task panicked",
				"kind", kind,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/me/threadpool/internal/mailbox"
	"github.com/me/threadpool/internal/scheduler"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

// Spawner starts worker goroutines. It implements scheduler.Spawner.
type Spawner struct {
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewSpawner returns a Spawner whose workers stop when ctx is done.
func NewSpawner(ctx context.Context, logger *slog.Logger) *Spawner {
	return &Spawner{ctx: ctx, logger: logger.With("component", "worker")}
}

// Spawn starts worker id. The worker owns status and closes it on exit.
func (sp *Spawner) Spawn(id uint32, status *scheduler.Channel) (scheduler.Conn, error) {
	if err := sp.ctx.Err(); err != nil {
		return nil, fmt.Errorf("spawn worker #%d: %w", id, err)
	}

	logger := sp.logger.With("worker_id", id)
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := installConsole(rt, logger); err != nil {
		return nil, fmt.Errorf("spawn worker #%d: %w", id, err)
	}

	tx, rx := mailbox.New[task.Payload]()
	w := &Worker{
		id:      id,
		rt:      rt,
		cache:   make(map[artifact.Hash]*artifact.Module),
		exports: make(map[artifact.Hash]*goja.Object),
		inbox:   rx,
		status:  status,
		logger:  logger,
	}

	sp.wg.Add(1)
	go func() {
		defer sp.wg.Done()
		w.run(sp.ctx)
	}()
	return &conn{tx: tx}, nil
}

// Wait blocks until every worker goroutine has exited.
func (sp *Spawner) Wait() {
	sp.wg.Wait()
}

// conn is the scheduler's end of a worker inbox.
type conn struct {
	tx *mailbox.Sender[task.Payload]
}

func (c *conn) Send(p task.Payload) error { return c.tx.Send(p) }

// Close lets the worker finish what is queued and exit.
func (c *conn) Close() { c.tx.Close() }

// installConsole exposes console.log and friends, routed to logger.
func installConsole(rt *goja.Runtime, logger *slog.Logger) error {
	console := rt.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			logger.Log(context.Background(), level, strings.Join(parts, " "), "source", "console")
			return goja.Undefined()
		}); err != nil {
			return fmt.Errorf("install console.%s: %w", name, err)
		}
	}
	return rt.Set("console", console)
}

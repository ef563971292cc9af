package scheduler

import (
	"context"
	"fmt"

	"github.com/me/threadpool/internal/mailbox"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

// ErrChannelClosed is returned when the scheduler has shut down.
var ErrChannelClosed = mailbox.ErrClosed

// Channel is a producer handle for a Scheduler's mailbox. It is safe for
// concurrent use. Every handle obtained from New or Clone should be closed
// by its owner.
type Channel struct {
	tx *mailbox.Sender[Message]
}

// Send enqueues msg. It never blocks and fails only once the scheduler has
// shut down.
func (c *Channel) Send(msg Message) error {
	return c.tx.Send(msg)
}

// Clone returns another handle to the same scheduler.
func (c *Channel) Clone() *Channel {
	return &Channel{tx: c.tx.Clone()}
}

// Close drops this handle.
func (c *Channel) Close() {
	c.tx.Close()
}

// SpawnAsync submits a non-blocking task.
func (c *Channel) SpawnAsync(fn task.Func) error {
	return c.Send(SpawnAsync{Task: fn})
}

// SpawnBlocking submits a task that may block its worker.
func (c *Channel) SpawnBlocking(fn task.Func) error {
	return c.Send(SpawnBlocking{Task: fn})
}

// CacheModule caches mod and replicates it to every current and future
// worker.
func (c *Channel) CacheModule(mod *artifact.Module) error {
	return c.Send(CacheModule{Module: mod})
}

// SpawnWithModule submits a task bound to mod.
func (c *Channel) SpawnWithModule(mod *artifact.Module, fn task.ModuleFunc) error {
	return c.Send(SpawnWithModule{Module: mod, Task: fn})
}

// SpawnWithModuleAndMemory submits a task bound to mod and mem.
func (c *Channel) SpawnWithModuleAndMemory(mod *artifact.Module, mem *artifact.Memory, fn task.MemoryFunc) error {
	return c.Send(SpawnWithModuleAndMemory{Module: mod, Memory: mem, Task: fn})
}

// WorkerBusy reports that worker id is about to block.
func (c *Channel) WorkerBusy(id uint32) error {
	return c.Send(WorkerBusy{WorkerID: id})
}

// WorkerIdle reports that worker id can accept work again.
func (c *Channel) WorkerIdle(id uint32) error {
	return c.Send(WorkerIdle{WorkerID: id})
}

// Inspect returns a snapshot of the scheduler state as of the time the
// request is dequeued. It fails with ErrChannelClosed if the scheduler
// shuts down first.
func (c *Channel) Inspect(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.Send(Inspect{Reply: reply}); err != nil {
		return Snapshot{}, fmt.Errorf("inspect: %w", err)
	}
	select {
	case snap, ok := <-reply:
		if !ok {
			return Snapshot{}, fmt.Errorf("inspect: %w", ErrChannelClosed)
		}
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

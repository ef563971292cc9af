package scheduler

import (
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

// Message is a mailbox message understood by the Scheduler. The set of
// implementers is closed; execute handles every one of them.
type Message interface {
	message()
}

// SpawnAsync submits a non-blocking task.
type SpawnAsync struct {
	Task task.Func
}

// SpawnBlocking submits a task that may block its worker.
type SpawnBlocking struct {
	Task task.Func
}

// CacheModule adds a module to the cache and replicates it to every worker.
type CacheModule struct {
	Module *artifact.Module
}

// SpawnWithModule submits a task bound to a module.
type SpawnWithModule struct {
	Module *artifact.Module
	Task   task.ModuleFunc
}

// SpawnWithModuleAndMemory submits a task bound to a module and an optional
// preallocated memory.
type SpawnWithModuleAndMemory struct {
	Module *artifact.Module
	Memory *artifact.Memory
	Task   task.MemoryFunc
}

// WorkerBusy is sent by a worker before it starts work that may block.
type WorkerBusy struct {
	WorkerID uint32
}

// WorkerIdle is sent by a worker once it can accept more work again.
type WorkerIdle struct {
	WorkerID uint32
}

// Inspect asks the scheduler for a snapshot of its state. Reply must have
// room for one value; the scheduler never blocks on it. Reply is closed
// without a value if the scheduler stops before answering.
type Inspect struct {
	Reply chan<- Snapshot
}

// markers is never constructed. It keeps the default branch of execute
// meaningful when new message kinds are added.
type markers struct{}

func (SpawnAsync) message()               {}
func (SpawnBlocking) message()            {}
func (CacheModule) message()              {}
func (SpawnWithModule) message()          {}
func (SpawnWithModuleAndMemory) message() {}
func (WorkerBusy) message()               {}
func (WorkerIdle) message()               {}
func (Inspect) message()                  {}
func (markers) message()                  {}

// messageKind names a message for logs and metrics.
func messageKind(msg Message) string {
	switch msg.(type) {
	case SpawnAsync:
		return "spawn_async"
	case SpawnBlocking:
		return "spawn_blocking"
	case CacheModule:
		return "cache_module"
	case SpawnWithModule:
		return "spawn_with_module"
	case SpawnWithModuleAndMemory:
		return "spawn_with_module_and_memory"
	case WorkerBusy:
		return "worker_busy"
	case WorkerIdle:
		return "worker_idle"
	case Inspect:
		return "inspect"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Capacity int             `json:"capacity"`
	Idle     []uint32        `json:"idle"`
	Busy     []uint32        `json:"busy"`
	Modules  []artifact.Hash `json:"modules"`
}

// Workers returns the total number of workers.
func (s Snapshot) Workers() int {
	return len(s.Idle) + len(s.Busy)
}

// Package task defines the payloads delivered to worker execution contexts.
//
// Payload is a closed set: only the types in this package implement it.
// The scheduler never looks inside a payload, it only decides which worker
// receives it. Ownership of a payload passes to the worker on delivery.
package task

import (
	"context"

	"github.com/dop251/goja"
	"github.com/me/threadpool/pkg/artifact"
)

// Env is the worker-side environment handed to a running task. It is only
// valid for the duration of the call and only on the worker's goroutine.
type Env interface {
	// WorkerID is the id of the worker running the task.
	WorkerID() uint32
	// Runtime is the JavaScript runtime owned by the worker.
	Runtime() *goja.Runtime
	// Module looks up a module in the worker's local cache.
	Module(hash artifact.Hash) (*artifact.Module, bool)
	// Instantiate evaluates mod in the worker runtime unless it has already
	// been evaluated there, and returns the object holding its exports.
	Instantiate(mod *artifact.Module) (*goja.Object, error)
}

// Func is the body of a task.
type Func func(ctx context.Context, env Env)

// ModuleFunc is the body of a task bound to a module.
type ModuleFunc func(ctx context.Context, env Env, mod *artifact.Module)

// MemoryFunc is the body of a task bound to a module and a memory. mem may
// be nil when the caller did not preallocate one.
type MemoryFunc func(ctx context.Context, env Env, mod *artifact.Module, mem *artifact.Memory)

// Payload is anything a worker can be sent.
type Payload interface {
	payload()
}

// Async is a short, non-blocking unit of work.
type Async struct {
	Run Func
}

// Blocking is work that may occupy the worker for an extended period.
type Blocking struct {
	Run Func
}

// WithModule is work bound to a compiled module.
type WithModule struct {
	Module *artifact.Module
	Run    ModuleFunc
}

// WithModuleAndMemory is work bound to a compiled module and a linear memory.
type WithModuleAndMemory struct {
	Module *artifact.Module
	Memory *artifact.Memory
	Run    MemoryFunc
}

// CacheModule asks a worker to add a module to its local cache.
type CacheModule struct {
	Module *artifact.Module
}

func (Async) payload()               {}
func (Blocking) payload()            {}
func (WithModule) payload()          {}
func (WithModuleAndMemory) payload() {}
func (CacheModule) payload()         {}

// Kind names a payload for logs and metrics.
func Kind(p Payload) string {
	switch p.(type) {
	case Async:
		return "async"
	case Blocking:
		return "blocking"
	case WithModule:
		return "module"
	case WithModuleAndMemory:
		return "module_memory"
	case CacheModule:
		return "cache_module"
	default:
		return "unknown"
	}
}

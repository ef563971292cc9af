package model

import "time"

// TaskKind selects which scheduler message a submitted task becomes.
type TaskKind string

const (
	TaskKindScript   TaskKind = "script"   // SpawnAsync: evaluate Script
	TaskKindBlocking TaskKind = "blocking" // SpawnBlocking: evaluate Script, reporting busy
	TaskKindModule   TaskKind = "module"   // SpawnWithModule: call Function in Module
	TaskKindMemory   TaskKind = "memory"   // SpawnWithModuleAndMemory: as module, with fresh memory
)

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindScript, TaskKindBlocking, TaskKindModule, TaskKindMemory:
		return true
	}
	return false
}

// NeedsModule reports whether tasks of kind k run a cached module.
func (k TaskKind) NeedsModule() bool {
	return k == TaskKindModule || k == TaskKindMemory
}

// Task is the record of one submitted unit of work.
type Task struct {
	ID          string    `json:"id"`
	Kind        TaskKind  `json:"kind"`
	State       TaskState `json:"state"`
	Script      string    `json:"script,omitempty"`
	Module      string    `json:"module,omitempty"` // module hash, hex
	Function    string    `json:"function,omitempty"`
	Args        []any     `json:"args,omitempty"`
	MemoryPages int       `json:"memory_pages,omitempty"`

	WorkerID    uint32     `json:"worker_id,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

package model

// TaskState is the lifecycle state of a submitted task.
type TaskState string

const (
	TaskStateQueued  TaskState = "QUEUED"
	TaskStateRunning TaskState = "RUNNING"
	TaskStateSuccess TaskState = "SUCCESS"
	TaskStateFailed  TaskState = "FAILED"
)

func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if the task is in a final state.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSuccess || s == TaskStateFailed
}

// ValidTaskTransitions lists the states each state may move to. A task can
// fail before it starts when its payload never reaches a worker.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateQueued:  {TaskStateRunning, TaskStateFailed},
	TaskStateRunning: {TaskStateSuccess, TaskStateFailed},
}

// CanTransitionTo returns true if moving from s to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseTaskState returns the state named s, or false.
func ParseTaskState(s string) (TaskState, bool) {
	switch st := TaskState(s); st {
	case TaskStateQueued, TaskStateRunning, TaskStateSuccess, TaskStateFailed:
		return st, true
	}
	return "", false
}

package scheduler

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/me/threadpool/pkg/task"
)

// ErrUnknownWorker is returned when a status report names a worker that is
// not in the expected queue.
var ErrUnknownWorker = errors.New("unknown worker")

// Conn delivers payloads to one running worker.
type Conn interface {
	// Send delivers p without blocking. It fails once the worker is gone.
	Send(p task.Payload) error
	// Close asks the worker to stop after draining what it has received.
	Close()
}

// Spawner creates worker execution contexts. Spawn must return a live
// worker or an error; it receives its own Channel clone, which the worker
// uses to report WorkerBusy and WorkerIdle and must close when it exits.
type Spawner interface {
	Spawn(id uint32, mailbox *Channel) (Conn, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(id uint32, mailbox *Channel) (Conn, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(id uint32, mailbox *Channel) (Conn, error) {
	return f(id, mailbox)
}

// nextWorkerID is shared by every scheduler in the process so ids are
// never reused.
var nextWorkerID atomic.Uint32

func allocWorkerID() uint32 {
	return nextWorkerID.Add(1)
}

// WorkerHandle is the scheduler's reference to one worker.
type WorkerHandle struct {
	id   uint32
	conn Conn
}

// ID returns the worker id.
func (w *WorkerHandle) ID() uint32 { return w.id }

// Send delivers p to the worker.
func (w *WorkerHandle) Send(p task.Payload) error {
	if err := w.conn.Send(p); err != nil {
		return fmt.Errorf("send %s to worker #%d: %w", task.Kind(p), w.id, err)
	}
	return nil
}

// workerQueue is a FIFO of workers.
type workerQueue struct {
	items []*WorkerHandle
}

func (q *workerQueue) Len() int { return len(q.items) }

func (q *workerQueue) pushBack(w *WorkerHandle) {
	q.items = append(q.items, w)
}

func (q *workerQueue) popFront() (*WorkerHandle, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	w := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return w, true
}

// remove takes the worker with the given id out of the queue.
func (q *workerQueue) remove(id uint32) (*WorkerHandle, bool) {
	for i, w := range q.items {
		if w.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return w, true
		}
	}
	return nil, false
}

func (q *workerQueue) ids() []uint32 {
	ids := make([]uint32, len(q.items))
	for i, w := range q.items {
		ids[i] = w.id
	}
	return ids
}

// moveWorker moves worker id out of from and onto the back of to.
func moveWorker(id uint32, from, to *workerQueue) error {
	w, ok := from.remove(id)
	if !ok {
		return fmt.Errorf("unable to move worker #%d: %w", id, ErrUnknownWorker)
	}
	to.pushBack(w)
	return nil
}

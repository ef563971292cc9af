// Package mailbox provides an unbounded multi-producer, single-consumer
// queue.
//
// Any number of Sender handles may enqueue concurrently; Send never blocks.
// Exactly one Receiver dequeues in arrival order. Messages from a single
// producer goroutine are received in the order they were sent.
//
// The receiver reports end-of-stream (ErrClosed) once every Sender has been
// closed and the queue is drained. Closing the Receiver tears down the
// consuming end, after which Send fails with ErrClosed.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Send after the receiver has been closed, and by
// Recv at end-of-stream.
var ErrClosed = errors.New("mailbox: channel closed")

type shared struct {
	mu             sync.Mutex
	items          *queue.Queue
	senders        int
	receiverClosed bool
	// notify holds at most one pending wakeup for the single consumer.
	notify chan struct{}
}

func (s *shared) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Sender is one producer handle. Each handle must be closed exactly once by
// its owner; Close is idempotent.
type Sender[T any] struct {
	s      *shared
	closed atomic.Bool
}

// Receiver is the single consuming end.
type Receiver[T any] struct {
	s *shared
}

// New creates a mailbox with one producer handle.
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &shared{
		items:   queue.New(),
		senders: 1,
		notify:  make(chan struct{}, 1),
	}
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Send enqueues msg. It fails only if the receiver has been closed.
func (tx *Sender[T]) Send(msg T) error {
	if tx.closed.Load() {
		return ErrClosed
	}
	s := tx.s
	s.mu.Lock()
	if s.receiverClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.items.Add(msg)
	s.mu.Unlock()
	s.wake()
	return nil
}

// Clone returns a new producer handle for the same mailbox.
func (tx *Sender[T]) Clone() *Sender[T] {
	s := tx.s
	s.mu.Lock()
	s.senders++
	s.mu.Unlock()
	return &Sender[T]{s: s}
}

// Close drops this producer handle.
func (tx *Sender[T]) Close() {
	if tx.closed.Swap(true) {
		return
	}
	s := tx.s
	s.mu.Lock()
	s.senders--
	last := s.senders == 0
	s.mu.Unlock()
	if last {
		s.wake()
	}
}

// Recv returns the next message. It blocks until a message arrives, every
// sender has been closed (ErrClosed), or ctx is done.
func (rx *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	s := rx.s
	for {
		s.mu.Lock()
		if s.receiverClosed {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		if s.items.Length() > 0 {
			msg := s.items.Remove().(T)
			s.mu.Unlock()
			return msg, nil
		}
		if s.senders == 0 {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryRecv returns the next message without blocking. ok is false when the
// queue is empty.
func (rx *Receiver[T]) TryRecv() (msg T, ok bool) {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiverClosed || s.items.Length() == 0 {
		return msg, false
	}
	return s.items.Remove().(T), true
}

// Len returns the number of queued messages.
func (rx *Receiver[T]) Len() int {
	rx.s.mu.Lock()
	defer rx.s.mu.Unlock()
	return rx.s.items.Length()
}

// Close tears down the consuming end and discards queued messages. It
// returns the number of messages dropped.
func (rx *Receiver[T]) Close() int {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiverClosed {
		return 0
	}
	s.receiverClosed = true
	dropped := s.items.Length()
	s.items = queue.New()
	return dropped
}

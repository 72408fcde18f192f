// Package queue implements the signaling queue: a bounded, circular byte
// buffer shared by a fixed number of producers and any number of
// consumers within one process, providing end-of-stream semantics once
// every producer has signaled it is done (spec.md 4.1).
package queue

import (
	"sync"

	"github.com/rs/zerolog"
)

// entry describes one live message's location in the circular buffer.
type entry struct {
	offset int
	length int
}

// SignalingQueue is a fixed-capacity circular byte buffer coordinating P
// producers and any number of consumers. It is guarded by a single mutex
// and two condition variables (notFull, notEmpty), mirroring spec.md
// 4.1's concurrency model.
type SignalingQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf      []byte
	capacity int
	head     int // next write offset
	free     int // free bytes

	entries []entry // FIFO index of live messages

	numProducers int
	signaled     map[int]struct{}
	closed       bool // every producer has signaled and queue observed empty once

	allSignaledCh *doneChan // closed the moment the last producer signals

	log zerolog.Logger
}

// New returns a SignalingQueue of the given byte capacity for numProducers
// distinct producer ids. A nil-equivalent logger (zerolog.Nop) is used
// unless replaced with WithLogger.
func New(capacity, numProducers int) *SignalingQueue {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	if numProducers <= 0 {
		panic("queue: numProducers must be positive")
	}
	q := &SignalingQueue{
		buf:           make([]byte, capacity),
		capacity:      capacity,
		free:          capacity,
		numProducers:  numProducers,
		signaled:      make(map[int]struct{}, numProducers),
		allSignaledCh: newDoneChan(),
		log:           zerolog.Nop(),
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// WithLogger attaches a logger and returns the queue for chaining.
func (q *SignalingQueue) WithLogger(l zerolog.Logger) *SignalingQueue {
	q.log = l
	return q
}

// Add enqueues payload. Returns len(payload) on success, 0 if blocking is
// false and there is insufficient free space, or -1 if payload is larger
// than capacity, empty, or the queue is already closed to production.
func (q *SignalingQueue) Add(payload []byte, blocking bool) int {
	n := len(payload)
	if n == 0 || n > q.capacity {
		return -1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.allSignaled() {
		return -1
	}

	for q.free < n {
		if !blocking {
			return 0
		}
		q.notFull.Wait()
		if q.allSignaled() {
			// a racing Signal closed production while we waited.
			return -1
		}
	}

	offset := q.head
	// payload may wrap around the ring; copy in up to two segments.
	first := q.capacity - offset
	if first >= n {
		copy(q.buf[offset:], payload)
	} else {
		copy(q.buf[offset:], payload[:first])
		copy(q.buf[0:], payload[first:])
	}
	q.head = (offset + n) % q.capacity
	q.free -= n
	q.entries = append(q.entries, entry{offset: offset, length: n})

	q.notEmpty.Signal()
	return n
}

// Remove pops the next payload into dst, which must be at least as large
// as the next message. Returns the payload size on success, 0 if the
// queue is empty and every producer has signaled (or, when blocking is
// false, if the queue is merely empty right now), or -1 if dst is too
// small for the next payload.
func (q *SignalingQueue) Remove(dst []byte, blocking bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) == 0 {
		if q.allSignaled() {
			q.closed = true
			return 0
		}
		if !blocking {
			return 0
		}
		q.notEmpty.Wait()
	}

	e := q.entries[0]
	if len(dst) < e.length {
		return -1
	}

	first := q.capacity - e.offset
	if first >= e.length {
		copy(dst, q.buf[e.offset:e.offset+e.length])
	} else {
		copy(dst, q.buf[e.offset:])
		copy(dst[first:], q.buf[:e.length-first])
	}

	q.entries = q.entries[1:]
	q.free += e.length

	q.notFull.Signal()
	return e.length
}

// Signal records that producer id will add nothing more. Once every
// distinct producer id in [0, numProducers) has signaled, blocked
// consumers wake and observe end-of-stream once the queue drains.
// Signaling from more than numProducers distinct ids is harmless.
func (q *SignalingQueue) Signal(producerID int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.signaled[producerID] = struct{}{}
	if q.allSignaled() {
		q.notEmpty.Broadcast()
		q.notFull.Broadcast()
		q.allSignaledCh.close()
		q.log.Debug().Msg("signaling queue: all producers signaled")
	}
}

// Done returns a channel closed the moment every producer has signaled,
// letting a caller select on queue completion alongside a ctx.Done() or
// another queue's Done() instead of blocking inside Remove.
func (q *SignalingQueue) Done() <-chan struct{} {
	return q.allSignaledCh.Done()
}

// Closed reports whether the queue is empty and every producer has
// signaled completion.
func (q *SignalingQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) == 0 && q.allSignaled()
}

func (q *SignalingQueue) allSignaled() bool {
	return len(q.signaled) >= q.numProducers
}

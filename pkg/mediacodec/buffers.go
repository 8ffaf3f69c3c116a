package mediacodec

import (
	"sync"
	"time"
)

// InputSlots is a fixed pool of input buffers.
// A slot is owned by the client between Dequeue and Take, and by the codec between Take and Return.
type InputSlots struct {
	free    chan int
	buffers [][]byte

	mu       sync.Mutex
	dequeued []bool
}

func NewInputSlots(count, size int) *InputSlots {
	s := &InputSlots{
		free:     make(chan int, count),
		buffers:  make([][]byte, count),
		dequeued: make([]bool, count),
	}
	for i := 0; i < count; i++ {
		s.buffers[i] = make([]byte, size)
		s.free <- i
	}
	return s
}

// Number of slots in the pool
func (s *InputSlots) Len() int {
	return len(s.buffers)
}

// Number of slots that are free to be dequeued
func (s *InputSlots) Free() int {
	return len(s.free)
}

// Wait for a free slot. Returns ErrTryAgainLater if none became free within the timeout.
func (s *InputSlots) Dequeue(timeout time.Duration) (int, error) {
	var index int
	if timeout == 0 {
		select {
		case index = <-s.free:
		default:
			return -1, ErrTryAgainLater
		}
	} else if timeout < 0 {
		index = <-s.free
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case index = <-s.free:
		case <-timer.C:
			return -1, ErrTryAgainLater
		}
	}
	s.mu.Lock()
	s.dequeued[index] = true
	s.mu.Unlock()
	return index, nil
}

// Memory of a slot that the client has dequeued
func (s *InputSlots) Buffer(index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.buffers) || !s.dequeued[index] {
		return nil, ErrInvalidIndex
	}
	return s.buffers[index], nil
}

// Take ownership of a slot away from the client, and return its contents
func (s *InputSlots) Take(index, offset, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.buffers) || !s.dequeued[index] {
		return nil, ErrInvalidIndex
	}
	if offset < 0 || size < 0 || offset+size > len(s.buffers[index]) {
		return nil, ErrInvalidIndex
	}
	s.dequeued[index] = false
	return s.buffers[index][offset : offset+size], nil
}

// Give a slot back to the free pool, once the codec has consumed it
func (s *InputSlots) Return(index int) {
	s.free <- index
}

// OutputQueue holds the events and encoded buffers that are waiting for the client.
// Push blocks while the queue is full, which is how an encoder applies backpressure.
type OutputQueue struct {
	results chan OutputResult
	closed  chan struct{}
	once    sync.Once

	mu        sync.Mutex
	buffers   map[int][]byte
	nextIndex int
}

func NewOutputQueue(capacity int) *OutputQueue {
	return &OutputQueue{
		results: make(chan OutputResult, capacity),
		closed:  make(chan struct{}),
		buffers: map[int][]byte{},
	}
}

// Push an event such as OutputFormatChanged. Returns false if the queue has been closed.
func (q *OutputQueue) PushEvent(status OutputStatus, errorCode int) bool {
	return q.push(OutputResult{Status: status, Index: -1, ErrorCode: errorCode})
}

// Push an encoded buffer. Info.Size is taken from len(data). Returns false if the queue has been closed.
func (q *OutputQueue) PushBuffer(data []byte, info BufferInfo) bool {
	q.mu.Lock()
	index := q.nextIndex
	q.nextIndex++
	q.buffers[index] = data
	q.mu.Unlock()
	info.Offset = 0
	info.Size = len(data)
	if !q.push(OutputResult{Status: OutputReady, Index: index, Info: info}) {
		q.mu.Lock()
		delete(q.buffers, index)
		q.mu.Unlock()
		return false
	}
	return true
}

func (q *OutputQueue) push(r OutputResult) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.results <- r:
		return true
	case <-q.closed:
		return false
	}
}

// Number of results waiting to be dequeued
func (q *OutputQueue) Pending() int {
	return len(q.results)
}

func (q *OutputQueue) Dequeue(timeout time.Duration) OutputResult {
	tryAgain := OutputResult{Status: OutputTryAgain, Index: -1}
	if timeout == 0 {
		select {
		case r := <-q.results:
			return r
		default:
			return tryAgain
		}
	} else if timeout < 0 {
		select {
		case r := <-q.results:
			return r
		case <-q.closed:
			return tryAgain
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-q.results:
		return r
	case <-timer.C:
		return tryAgain
	}
}

func (q *OutputQueue) Buffer(index int) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.buffers[index]
	if !ok {
		return nil, ErrInvalidIndex
	}
	return b, nil
}

func (q *OutputQueue) Release(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.buffers[index]; !ok {
		return ErrInvalidIndex
	}
	delete(q.buffers, index)
	return nil
}

// Number of output buffers that have not yet been released
func (q *OutputQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffers)
}

// Close wakes up any blocked producer. Results already queued can still be dequeued.
func (q *OutputQueue) Close() {
	q.once.Do(func() {
		close(q.closed)
	})
}

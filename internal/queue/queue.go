package queue

import (
	"nuha.dev/locagent/internal/location"
)

// Queue is a bounded FIFO of samples accumulated while no transport can
// deliver. Inserting into a full queue evicts the oldest entry: the newest
// fix is the operationally relevant one.
//
// Queue is not safe for concurrent use, the delivery coordinator is its
// single owner.
type Queue struct {
	buf     []location.Sample
	head    int
	n       int
	evicted uint64
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{buf: make([]location.Sample, capacity)}
}

func (q *Queue) Len() int {
	return q.n
}

func (q *Queue) Cap() int {
	return len(q.buf)
}

// Evicted reports how many samples have been dropped to make room.
func (q *Queue) Evicted() uint64 {
	return q.evicted
}

func (q *Queue) Push(s location.Sample) {
	if q.n == len(q.buf) {
		// full, overwrite the oldest slot
		q.buf[q.head] = s
		q.head = q.next(q.head)
		q.evicted++
		return
	}
	q.buf[(q.head+q.n)%len(q.buf)] = s
	q.n++
}

// Pop removes and returns the oldest sample.
func (q *Queue) Pop() (location.Sample, bool) {
	if q.n == 0 {
		return location.Sample{}, false
	}
	s := q.buf[q.head]
	q.buf[q.head] = location.Sample{}
	q.head = q.next(q.head)
	q.n--
	return s, true
}

// Peek returns the oldest sample without removing it.
func (q *Queue) Peek() (location.Sample, bool) {
	if q.n == 0 {
		return location.Sample{}, false
	}
	return q.buf[q.head], true
}

// PopBatch removes up to max samples in FIFO order.
func (q *Queue) PopBatch(max int) []location.Sample {
	if max > q.n {
		max = q.n
	}
	if max == 0 {
		return nil
	}
	out := make([]location.Sample, 0, max)
	for i := 0; i < max; i++ {
		s, _ := q.Pop()
		out = append(out, s)
	}
	return out
}

// PeekBatch returns up to max samples in FIFO order without removing
// them; pair with Discard once delivery succeeded.
func (q *Queue) PeekBatch(max int) []location.Sample {
	if max > q.n {
		max = q.n
	}
	if max == 0 {
		return nil
	}
	out := make([]location.Sample, 0, max)
	i := q.head
	for k := 0; k < max; k++ {
		out = append(out, q.buf[i])
		i = q.next(i)
	}
	return out
}

// Discard drops the n oldest samples.
func (q *Queue) Discard(n int) {
	if n > q.n {
		n = q.n
	}
	for k := 0; k < n; k++ {
		q.buf[q.head] = location.Sample{}
		q.head = q.next(q.head)
		q.n--
	}
}

func (q *Queue) Clear() {
	for i := range q.buf {
		q.buf[i] = location.Sample{}
	}
	q.head = 0
	q.n = 0
}

func (q *Queue) next(i int) int {
	i = i + 1
	if i == len(q.buf) {
		i = 0
	}
	return i
}

package pqueue

// LessFunc reports whether priority key a should be served before key b
type LessFunc func(a, b float64) bool

// Ascending orders smaller keys first
func Ascending(a, b float64) bool {
	return a < b
}

type entry[T any] struct {
	value T
	key   float64
}

// Queue is an array-backed binary min-heap of opaque values ordered by a
// numeric priority key. Entries with equal keys have no defined relative order.
// Queue is not safe for concurrent use; callers serialize access.
type Queue[T any] struct {
	items []entry[T]
	less  LessFunc
}

// New creates an empty queue. A nil less defaults to Ascending.
func New[T any](less LessFunc) *Queue[T] {
	if less == nil {
		less = Ascending
	}
	return &Queue[T]{less: less}
}

// Push inserts value with the given priority key
func (q *Queue[T]) Push(value T, key float64) {
	q.items = append(q.items, entry[T]{value: value, key: key})
	q.siftUp(len(q.items) - 1)
}

// Peek returns the value with the minimum key without removing it
func (q *Queue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0].value, true
}

// PeekKey returns the minimum key without removing its entry
func (q *Queue[T]) PeekKey() (float64, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].key, true
}

// Pop removes and returns the value with the minimum key
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	n := len(q.items)
	if n == 0 {
		return zero, false
	}

	root := q.items[0].value
	last := n - 1
	q.items[0] = q.items[last]
	q.items[last] = entry[T]{} // release the reference
	q.items = q.items[:last]

	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return root, true
}

// Len returns the number of queued entries
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// IsEmpty reports whether the queue has no entries
func (q *Queue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Clear drops every entry
func (q *Queue[T]) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}

func (q *Queue[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		// only move past a parent that is strictly greater
		if !q.less(q.items[i].key, q.items[parent].key) {
			return
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *Queue[T]) siftDown(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}

		smallest := left
		if right := left + 1; right < n && q.less(q.items[right].key, q.items[left].key) {
			smallest = right
		}

		if !q.less(q.items[smallest].key, q.items[i].key) {
			return
		}
		q.items[i], q.items[smallest] = q.items[smallest], q.items[i]
		i = smallest
	}
}

package pqueue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EmptyBehavior(t *testing.T) {
	// Given an empty queue
	q := New[string](nil)

	// Then peek and pop report absence
	_, ok := q.Peek()
	assert.False(t, ok)
	_, ok = q.PeekKey()
	assert.False(t, ok)
	_, ok = q.Pop()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopsInAscendingOrder(t *testing.T) {
	// Given values pushed in arbitrary order, including negative and repeated keys
	q := New[int](nil)
	keys := []float64{5, -3, 12, 0, 5, 7.5, -10, 3}
	for i, k := range keys {
		q.Push(i, k)
	}
	require.Equal(t, len(keys), q.Len())

	// When popping everything
	var popped []float64
	for !q.IsEmpty() {
		v, ok := q.Pop()
		require.True(t, ok)
		popped = append(popped, keys[v])
	}

	// Then keys come out sorted
	expected := append([]float64(nil), keys...)
	sort.Float64s(expected)
	assert.Equal(t, expected, popped)
}

func TestQueue_PeekDoesNotMutate(t *testing.T) {
	q := New[string](nil)
	q.Push("b", 2)
	q.Push("a", 1)

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	k, _ := q.PeekKey()
	assert.Equal(t, 1.0, k)
	assert.Equal(t, 2, q.Len())

	v, _ = q.Peek()
	assert.Equal(t, "a", v)
}

func TestQueue_CustomComparator(t *testing.T) {
	// Given a max-first comparator
	q := New[string](func(a, b float64) bool { return a > b })
	q.Push("low", 1)
	q.Push("high", 100)
	q.Push("mid", 50)

	// Then the largest key is served first
	for _, want := range []string{"high", "mid", "low"} {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[int](nil)
	for i := 0; i < 10; i++ {
		q.Push(i, float64(i))
	}

	q.Clear()

	assert.True(t, q.IsEmpty())
	q.Push(42, 1)
	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestQueue_RandomizedHeapProperty(t *testing.T) {
	// Given interleaved pushes and pops with random keys
	rng := rand.New(rand.NewSource(1))
	q := New[float64](nil)
	var reference []float64

	for i := 0; i < 2000; i++ {
		if rng.Intn(3) == 0 && len(reference) > 0 {
			sort.Float64s(reference)
			v, ok := q.Pop()
			require.True(t, ok)
			// Then every pop returns the current minimum
			assert.Equal(t, reference[0], v)
			reference = reference[1:]
			continue
		}
		k := float64(rng.Intn(100) - 50)
		q.Push(k, k)
		reference = append(reference, k)
	}
	assert.Equal(t, len(reference), q.Len())
}

func BenchmarkQueue_PushPop(b *testing.B) {
	q := New[int](nil)
	for i := 0; i < 1000; i++ {
		q.Push(i, float64((i*7919)%1000))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(i, float64((i*7919)%1000))
		q.Pop()
	}
}

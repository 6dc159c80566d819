package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClampsCapacity(t *testing.T) {
	require.Equal(t, 1, New(0).Cap())
	require.Equal(t, 1, New(-5).Cap())
	require.Equal(t, 64, New(64).Cap())
}

func TestFIFOOrder(t *testing.T) {
	for _, n := range []int{1, 7, 63, 64} {
		b := New(64)
		src := make([]float32, n)
		for i := range src {
			src[i] = float32(i)
		}

		require.Equal(t, n, b.Push(src))
		require.Equal(t, n, b.Len())

		dst := make([]float32, n)
		require.Equal(t, n, b.Pop(dst))
		require.Equal(t, src, dst)
		require.Zero(t, b.Len())
	}
}

func TestPushStopsWhenFull(t *testing.T) {
	b := New(4)
	require.Equal(t, 4, b.Push([]float32{1, 2, 3, 4, 5, 6}))
	require.Zero(t, b.Free())
	require.Zero(t, b.Push([]float32{7}))

	dst := make([]float32, 2)
	require.Equal(t, 2, b.Pop(dst))
	require.Equal(t, []float32{1, 2}, dst)
	require.Equal(t, 2, b.Free())
}

func TestPopEmpty(t *testing.T) {
	b := New(8)
	dst := []float32{9, 9}
	require.Zero(t, b.Pop(dst))
	require.Equal(t, []float32{9, 9}, dst)
}

func TestWrapAround(t *testing.T) {
	b := New(5)
	var next float32
	var want float32
	dst := make([]float32, 3)

	for round := 0; round < 20; round++ {
		src := []float32{next, next + 1, next + 2}
		next += 3
		require.Equal(t, 3, b.Push(src))

		require.Equal(t, 3, b.Pop(dst))
		for _, v := range dst {
			require.Equal(t, want, v)
			want++
		}
	}
}

func TestDiscard(t *testing.T) {
	b := New(8)
	b.Push([]float32{1, 2, 3})
	require.Equal(t, 3, b.Discard())
	require.Zero(t, b.Len())
	require.Equal(t, 8, b.Free())

	b.Push([]float32{4})
	dst := make([]float32, 1)
	require.Equal(t, 1, b.Pop(dst))
	require.Equal(t, float32(4), dst[0])
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 200000
	b := New(1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]float32, 97)
		var v float32
		sent := 0
		for sent < total {
			n := min(len(chunk), total-sent)
			for i := 0; i < n; i++ {
				chunk[i] = v + float32(i)
			}
			pushed := b.Push(chunk[:n])
			v += float32(pushed)
			sent += pushed
		}
	}()

	got := make([]float32, 0, total)
	dst := make([]float32, 61)
	for len(got) < total {
		n := b.Pop(dst)
		got = append(got, dst[:n]...)
	}
	wg.Wait()

	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d = %v, want %v", i, v, float32(i))
		}
	}
}

package rendezvous

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRendezvous_SumMingle(t *testing.T) {
	const n = 5
	r := New[int, int](n, func(in []int) []int {
		sum := 0
		for _, v := range in {
			sum += v
		}
		out := make([]int, len(in))
		for i := range out {
			out[i] = sum
		}
		return out
	})

	results := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Meet(i, i+1)
		}(i)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rendezvous did not complete")
	}
	for _, got := range results {
		require.Equal(t, 15, got) // 1+2+3+4+5
	}
}

func TestRendezvous_ReusableAcrossGenerations(t *testing.T) {
	const n = 3
	r := New[int, int](n, func(in []int) []int {
		max := in[0]
		for _, v := range in[1:] {
			if v > max {
				max = v
			}
		}
		out := make([]int, len(in))
		for i := range out {
			out[i] = max
		}
		return out
	})

	for round := 0; round < 10; round++ {
		results := make([]int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = r.Meet(i, round*n+i)
			}(i)
		}
		wg.Wait()
		want := round*n + (n - 1)
		for _, got := range results {
			require.Equal(t, want, got)
		}
	}
}

func TestRendezvous_OutputIsPerParticipant(t *testing.T) {
	const n = 4
	r := New[int, int](n, func(in []int) []int {
		out := make([]int, len(in))
		sorted := append([]int(nil), in...)
		sort.Ints(sorted)
		for i, v := range in {
			for rank, s := range sorted {
				if s == v {
					out[i] = rank
					break
				}
			}
		}
		return out
	})
	values := []int{30, 10, 40, 20}
	results := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Meet(i, values[i])
		}(i)
	}
	wg.Wait()
	require.Equal(t, []int{2, 0, 3, 1}, results)
}

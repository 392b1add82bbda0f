// Package rendezvous implements a reusable N-party barrier-plus-compute
// primitive: all N participants call Meet with their own input; once the
// last one arrives, a single mingle function computes an output for every
// participant, and all N calls to Meet return (each with its own output).
// The same Rendezvous can be entered repeatedly for the lifetime of a
// match master's thread pool.
package rendezvous

import "sync"

// Rendezvous coordinates exactly N participants, identified by a
// zero-based index in [0, N). Mingle is invoked exactly once per
// generation, by whichever goroutine happens to be the last to arrive; it
// must not retain the slices it is given beyond the call, since the
// backing arrays are reused on the next generation.
type Rendezvous[IN any, OUT any] struct {
	n      int
	mingle func(in []IN) []OUT

	mu      sync.Mutex
	cond    *sync.Cond
	gen     int
	arrived int
	in      []IN
	out     []OUT
}

// New builds a Rendezvous for n participants using the given mingle
// function.
func New[IN any, OUT any](n int, mingle func(in []IN) []OUT) *Rendezvous[IN, OUT] {
	r := &Rendezvous[IN, OUT]{
		n:      n,
		mingle: mingle,
		in:     make([]IN, n),
		out:    make([]OUT, n),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Size returns the number of participants this rendezvous coordinates.
func (r *Rendezvous[IN, OUT]) Size() int { return r.n }

// Meet submits in on behalf of participant id and blocks until all N
// participants of the current generation have submitted theirs; it then
// returns the output computed for id by the single mingle call.
func (r *Rendezvous[IN, OUT]) Meet(id int, in IN) OUT {
	r.mu.Lock()
	r.in[id] = in
	r.arrived++
	gen := r.gen
	if r.arrived == r.n {
		r.out = r.mingle(r.in)
		r.arrived = 0
		r.gen++
		r.cond.Broadcast()
	} else {
		for r.gen == gen {
			r.cond.Wait()
		}
	}
	out := r.out[id]
	r.mu.Unlock()
	return out
}

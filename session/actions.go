package session

import "sync"

// action is work posted from another goroutine for the main thread. discard
// runs instead of run when the session that posted it is gone.
type action struct {
	gen     uint64
	run     func()
	discard func()
}

// actionQueue carries side effects from background goroutines (spawn, RPC
// dispatch) to the main-thread tick.
type actionQueue struct {
	mu      sync.Mutex
	pending []action
}

func (q *actionQueue) post(gen uint64, run, discard func()) {
	q.mu.Lock()
	q.pending = append(q.pending, action{gen: gen, run: run, discard: discard})
	q.mu.Unlock()
}

// drain runs queued actions whose generation matches current() in order and
// discards the rest. current is re-read per action, so an action that ends
// a session makes the remaining actions of that session stale. Actions
// posted while draining wait for the next call.
func (q *actionQueue) drain(current func() uint64) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	ran := 0
	for _, a := range batch {
		if a.gen == current() {
			if a.run != nil {
				a.run()
				ran++
			}
			continue
		}
		if a.discard != nil {
			a.discard()
		}
	}
	return ran
}

func (q *actionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

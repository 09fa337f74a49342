// Package rendezvous implements the single-slot handoff that delivers
// the result of a synchronous offload back to the blocked caller. At most
// one sync call is outstanding per facade, so a single slot suffices;
// a Put against a full slot indicates a protocol bug in the supervisor.
package rendezvous

import (
	"sync"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
)

// Rendezvous is a single-slot result handoff protected by a mutex and a
// condition variable.
type Rendezvous struct {
	mu     sync.Mutex
	cond   *sync.Cond
	result *domain.ExecResponse
}

// New creates an empty rendezvous.
func New() *Rendezvous {
	r := &Rendezvous{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Put stores the result and wakes the waiter. Returns false if the slot is
// already full; the result is discarded in that case.
func (r *Rendezvous) Put(result *domain.ExecResponse) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result != nil {
		logging.Op().Error("sync rendezvous full, result discarded")
		return false
	}
	r.result = result
	r.cond.Signal()
	return true
}

// Take blocks until a result is available, then clears the slot and
// returns it. Timeouts are not applied here: the per-call HTTP deadline
// inside the cluster adapter converts into an error ExecResponse that
// Put delivers.
func (r *Rendezvous) Take() *domain.ExecResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.result == nil {
		r.cond.Wait()
	}
	result := r.result
	r.result = nil
	return result
}

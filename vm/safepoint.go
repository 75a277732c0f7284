package vm

import (
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var safepointLog = commonlog.GetLogger("omnivm.safepoint")

// ---------------------------------------------------------------------------
// SafepointCoordinator: stop-the-world across cores
// ---------------------------------------------------------------------------

// SafepointCoordinator lets one core stop every other running core at a
// safepoint, run a heap operation, and resume them. Cores register while
// they interpret and poll at interrupt points.
type SafepointCoordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	registered int
	parked     int
	requested  atomic.Bool
	owner      *Interpreter

	stops atomic.Uint64
}

// NewSafepointCoordinator creates a coordinator with no registered cores.
func NewSafepointCoordinator() *SafepointCoordinator {
	s := &SafepointCoordinator{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Register adds a running core.
func (s *SafepointCoordinator) Register() {
	s.mu.Lock()
	s.registered++
	s.mu.Unlock()
}

// Unregister removes a core that stopped interpreting. A core that leaves
// while a stop is pending must not hold up the requester.
func (s *SafepointCoordinator) Unregister() {
	s.mu.Lock()
	s.registered--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Registered returns the number of running cores.
func (s *SafepointCoordinator) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// Stops returns how many stop-the-world operations have completed.
func (s *SafepointCoordinator) Stops() uint64 {
	return s.stops.Load()
}

// Poll parks the calling core if another core has requested a stop, and
// returns once the world resumes. It reports whether the core parked.
func (s *SafepointCoordinator) Poll() bool {
	if !s.requested.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requested.Load() {
		return false
	}
	s.parked++
	s.cond.Broadcast()
	for s.requested.Load() {
		s.cond.Wait()
	}
	s.parked--
	return true
}

// StopTheWorld waits until every other registered core has parked, runs fn,
// and resumes them. If another core is already stopping the world the caller
// parks instead and fn is not run; the result reports whether fn ran.
func (s *SafepointCoordinator) StopTheWorld(i *Interpreter, fn func()) bool {
	s.mu.Lock()
	if !s.requested.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.Poll()
		return false
	}
	s.owner = i
	for s.parked < s.registered-1 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.owner = nil
		s.requested.Store(false)
		s.cond.Broadcast()
		s.mu.Unlock()
		s.stops.Add(1)
	}()
	safepointLog.Debugf("world stopped by core %d", i.core)
	fn()
	return true
}

// ---------------------------------------------------------------------------
// Safepoint ability
// ---------------------------------------------------------------------------

// SafepointAbility is a scoped permission for the interpreter to stop at a
// safepoint. Handlers take it around calls into primitive or native code
// that may allocate:
//
//	defer i.safepointAbility(true).Release()
type SafepointAbility struct {
	i    *Interpreter
	prev bool
}

func (i *Interpreter) safepointAbility(able bool) SafepointAbility {
	a := SafepointAbility{i: i, prev: i.safepointAble}
	i.safepointAble = able
	return a
}

// Release restores the ability held before the scope was entered.
func (a SafepointAbility) Release() {
	a.i.safepointAble = a.prev
}

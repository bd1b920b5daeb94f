package spf

import "sync"

// evalState is the mutable, per-evaluation bookkeeping frame: DNS lookup
// budget, void-lookup budget, include/redirect recursion depth, and the set
// of domains already visited in this evaluation. It is created by newResult
// for each top-level check_host() evaluation (CheckHost runs one; SPF runs
// one for HELO and, when that decides nothing, a fresh one for MAIL FROM)
// and threaded by reference through every
// nested "include" and "redirect" sub-evaluation, so the budgets and loop
// guard are shared rather than reset at each recursion level.
//
// The "mx" mechanism resolves its address records concurrently (see
// MechanismMX.Evaluate in mechanism.go), so the counters below are read and
// written from more than one goroutine per evaluation and need the mutex.
type evalState struct {
	mu             sync.Mutex
	dnsLookups     int
	voidLookups    int
	recursionDepth int
	visitedDomains map[string]bool
}

func newEvalState() *evalState {
	return &evalState{visitedDomains: map[string]bool{}}
}

// enterDomain records domain as visited and reports whether it had already
// been seen in this evaluation (an include/redirect loop).
func (s *evalState) enterDomain(domain string) (alreadyVisited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visitedDomains[domain] {
		return true
	}
	s.visitedDomains[domain] = true
	return false
}

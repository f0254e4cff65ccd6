package executor

import "sync"

// concurrencyGate enforces a Policy's MaxConcurrentCommands — spec.md §1's
// "concurrency caps" facet of the policy engine and §2's component table
// entry of the same name. It counts in-flight gated executions per
// MatchedPolicyID; a policy with a non-positive cap is treated as
// uncapped.
type concurrencyGate struct {
	mu     sync.Mutex
	counts map[string]int
}

func newConcurrencyGate() *concurrencyGate {
	return &concurrencyGate{counts: make(map[string]int)}
}

// acquire reserves one concurrency slot for policyID. ok is false if the
// policy is already at its cap; the caller must treat that as a denial and
// must not call the (nil) release. When ok is true, release must be called
// exactly once, whatever the outcome of the command.
func (g *concurrencyGate) acquire(policyID string, max int) (release func(), ok bool) {
	if max <= 0 {
		return func() {}, true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts[policyID] >= max {
		return nil, false
	}
	g.counts[policyID]++

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.counts[policyID]--
			g.mu.Unlock()
		})
	}, true
}

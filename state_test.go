package spf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvalStateEnterDomain(t *testing.T) {
	s := newEvalState()
	assert.False(t, s.enterDomain("example.com."))
	assert.True(t, s.enterDomain("example.com."), "a domain visited twice is a loop")
	assert.False(t, s.enterDomain("other.example."), "a different domain is not a loop")
}

func TestEvalStateConcurrentEnterDomain(t *testing.T) {
	s := newEvalState()
	var wg sync.WaitGroup
	hits := make([]bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hits[i] = s.enterDomain("shared.example.")
		}(i)
	}
	wg.Wait()

	seen := 0
	for _, h := range hits {
		if !h {
			seen++
		}
	}
	assert.Equal(t, 1, seen, "exactly one goroutine should see the domain as new")
}

func TestResultDNSAndVoidLookupBudgets(t *testing.T) {
	r := &Result{state: newEvalState()}

	for i := 0; i < 10; i++ {
		assert.False(t, r.countDNSLookup(10), "lookup %d should stay within budget", i+1)
	}
	assert.True(t, r.countDNSLookup(10), "the 11th lookup should exceed the budget of 10")
	assert.Equal(t, 11, r.DNSQueries)

	r2 := &Result{state: newEvalState()}
	assert.False(t, r2.countVoidLookup(2))
	assert.False(t, r2.countVoidLookup(2))
	assert.True(t, r2.countVoidLookup(2), "the 3rd void lookup should exceed the budget of 2")
	assert.Equal(t, 3, r2.VoidLookups)
}

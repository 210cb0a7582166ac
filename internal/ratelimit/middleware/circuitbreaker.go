package middleware

import "sync"

// circuitBreaker opens after failureThreshold consecutive primary errors and
// closes again after successThreshold consecutive successful trial calls.
type circuitBreaker struct {
	mu               sync.Mutex
	open             bool
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
}

func newCircuitBreaker(failures, successes int) *circuitBreaker {
	return &circuitBreaker{failureThreshold: failures, successThreshold: successes}
}

func (c *circuitBreaker) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// recordFailure reports whether the breaker is open afterwards.
func (c *circuitBreaker) recordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.successes = 0
	if c.failures >= c.failureThreshold {
		c.open = true
	}
	return c.open
}

// recordSuccess reports whether the breaker is closed afterwards.
func (c *circuitBreaker) recordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		c.failures = 0
		return true
	}
	c.successes++
	if c.successes >= c.successThreshold {
		c.open = false
		c.failures = 0
		c.successes = 0
	}
	return !c.open
}

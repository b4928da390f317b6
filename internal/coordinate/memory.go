package coordinate

import (
	"context"
	"sync"
)

// MemoryCoordinator gives claim semantics without Redis. Used in tests to
// exercise two contexts contending for one drain.
type MemoryCoordinator struct {
	mu   sync.Mutex
	held bool
}

func NewMemoryCoordinator() *MemoryCoordinator { return &MemoryCoordinator{} }

func (c *MemoryCoordinator) AcquireDrainClaim(context.Context) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return nil, false, nil
	}
	c.held = true
	return func() {
		c.mu.Lock()
		c.held = false
		c.mu.Unlock()
	}, true, nil
}

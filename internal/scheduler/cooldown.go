package scheduler

import (
	"sync"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
)

// noopCooldown tracks the per-task re-admission cooldown recorded after a
// "no-op completion".
type noopCooldown struct {
	mu    sync.Mutex
	until map[domain.TaskID]time.Time
}

func newNoopCooldown() *noopCooldown {
	return &noopCooldown{until: make(map[domain.TaskID]time.Time)}
}

func (c *noopCooldown) set(taskID domain.TaskID, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[taskID] = time.Now().Add(d)
}

func (c *noopCooldown) active(taskID domain.TaskID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[taskID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.until, taskID)
		return false
	}
	return true
}

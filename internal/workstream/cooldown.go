package workstream

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// cooldownMap tracks the last-emitted timestamp per alert key. Retention is
// at least 3h; entries are pruned periodically.
type cooldownMap struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newCooldownMap() *cooldownMap {
	return &cooldownMap{last: make(map[string]time.Time)}
}

// allow reports whether an alert with key may be emitted now, and if so
// records the emission.
func (c *cooldownMap) allow(key string, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}

// prune drops entries older than the retention window (>= 3h).
func (c *cooldownMap) prune(retention time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range c.last {
		if now.Sub(t) > retention {
			delete(c.last, k)
		}
	}
}

// hydrate reconstructs cooldown entries from the tail of the alerts log on
// startup, reading at most maxBytes from the end of the file.
func (c *cooldownMap) hydrate(alertsLogPath string, maxBytes int64, now time.Time) error {
	f, err := os.Open(alertsLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	start := int64(0)
	if fi.Size() > maxBytes {
		start = fi.Size() - maxBytes
	}
	if _, err := f.Seek(start, 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	c.mu.Lock()
	defer c.mu.Unlock()
	for scanner.Scan() {
		var a Alert
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			continue
		}
		cooldown := cooldownFor(a.Type)
		if now.Sub(a.Timestamp) < cooldown {
			c.last[a.CooldownKey] = a.Timestamp
		}
	}
	return nil
}

// Package eventbus is Bosun's process-wide typed event fan-out: listeners
// that receive every event (there is no per-type subscription), a ring
// buffer of the last ~500 events, per-(type,taskId) deduplication, and a
// heartbeat staleness sweep. Listeners are called synchronously on the
// emitting goroutine, so a slow listener delays Emit's return.
package eventbus

import (
	"sync"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/logx"
)

const (
	ringCapacity = 500
	dedupWindow  = 500 * time.Millisecond
)

// Listener receives every event emitted after it subscribes.
type Listener func(domain.Event)

// Unsubscribe removes a previously registered listener.
type Unsubscribe func()

// Bus is the single process-wide event bus. Construct one with New and pass
// it explicitly into every component that emits or observes events — there
// is no package-level singleton.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int

	ring     []domain.Event
	ringHead int
	ringLen  int

	lastEmit map[string]time.Time

	heartbeats         map[domain.TaskID]time.Time
	staleThreshold     time.Duration
	staleCheckInterval time.Duration
}

// New builds a Bus with the given heartbeat staleness parameters. New
// applies no defaults; cmd/bosun passes 90s and 30s.
func New(staleThreshold, staleCheckInterval time.Duration) *Bus {
	return &Bus{
		listeners:          make(map[int]Listener),
		ring:               make([]domain.Event, ringCapacity),
		lastEmit:           make(map[string]time.Time),
		heartbeats:         make(map[domain.TaskID]time.Time),
		staleThreshold:     staleThreshold,
		staleCheckInterval: staleCheckInterval,
	}
}

// Emit publishes an event, subject to the per-(type,taskId) dedup window.
func (b *Bus) Emit(t domain.EventType, taskID domain.TaskID, payload map[string]any) {
	b.mu.Lock()
	ev := domain.NewEvent(t, taskID, payload)
	key := ev.dedupKey()
	if last, ok := b.lastEmit[key]; ok && ev.Timestamp.Sub(last) < dedupWindow {
		b.mu.Unlock()
		return
	}
	b.lastEmit[key] = ev.Timestamp
	b.appendRing(ev)
	listeners := b.snapshotListeners()
	b.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (b *Bus) appendRing(ev domain.Event) {
	idx := (b.ringHead + b.ringLen) % ringCapacity
	b.ring[idx] = ev
	if b.ringLen < ringCapacity {
		b.ringLen++
	} else {
		b.ringHead = (b.ringHead + 1) % ringCapacity
	}
}

func (b *Bus) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		out = append(out, l)
	}
	return out
}

// AddListener registers fn to receive every emitted event and returns an
// Unsubscribe closure.
func (b *Bus) AddListener(fn Listener) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// EventFilter narrows GetEventLog results.
type EventFilter struct {
	Type   domain.EventType
	TaskID domain.TaskID
}

// GetEventLog returns a copy of ring-buffered events matching filter, oldest
// first. A zero-value field in filter matches anything.
func (b *Bus) GetEventLog(filter EventFilter) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Event, 0, b.ringLen)
	for i := 0; i < b.ringLen; i++ {
		ev := b.ring[(b.ringHead+i)%ringCapacity]
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if filter.TaskID != "" && ev.TaskID != filter.TaskID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// GetErrorHistory returns task.failed events for a single task, oldest first.
func (b *Bus) GetErrorHistory(taskID domain.TaskID) []domain.Event {
	return b.GetEventLog(EventFilter{Type: domain.EventTaskFailed, TaskID: taskID})
}

// GetErrorPatternSummary tallies task.failed occurrences by the "pattern"
// payload field across the whole ring buffer.
func (b *Bus) GetErrorPatternSummary() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	summary := make(map[string]int)
	for i := 0; i < b.ringLen; i++ {
		ev := b.ring[(b.ringHead+i)%ringCapacity]
		if ev.Type != domain.EventTaskFailed {
			continue
		}
		pattern, _ := ev.Payload["pattern"].(string)
		if pattern == "" {
			pattern = "unknown"
		}
		summary[pattern]++
	}
	return summary
}

// Heartbeat records agent liveness for taskID. Call on every heartbeat event
// observed from the work-stream log.
func (b *Bus) Heartbeat(taskID domain.TaskID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats[taskID] = time.Now()
}

// GetAgentLiveness returns a snapshot of taskId -> lastHeartbeat.
func (b *Bus) GetAgentLiveness() map[domain.TaskID]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[domain.TaskID]time.Time, len(b.heartbeats))
	for k, v := range b.heartbeats {
		out[k] = v
	}
	return out
}

// RunStaleSweep runs the heartbeat staleness sweep until ctx-like cancel
// channel is closed. Entries older than staleThreshold emit agent.stale and
// are evicted.
func (b *Bus) RunStaleSweep(stop <-chan struct{}) {
	ticker := time.NewTicker(b.staleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.sweepStale()
		}
	}
}

func (b *Bus) sweepStale() {
	now := time.Now()
	b.mu.Lock()
	var stale []domain.TaskID
	for taskID, last := range b.heartbeats {
		if now.Sub(last) > b.staleThreshold {
			stale = append(stale, taskID)
			delete(b.heartbeats, taskID)
		}
	}
	b.mu.Unlock()

	for _, taskID := range stale {
		logx.WarnCF("eventbus", "agent heartbeat stale", map[string]any{"task_id": taskID.String()})
		b.Emit(domain.EventAgentStale, taskID, nil)
	}
}

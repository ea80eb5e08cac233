// Package state holds the per-domain state container shared by every
// logical domain of the control plane.
package state

import (
	"context"
	"fmt"
	"sync"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/task"
)

// PersistFlag is the transient key that requests a durable write.
const PersistFlag = "updateDb"

// Deps are the collaborators a container publishes through. Any may be nil.
type Deps struct {
	Collection  string
	Broadcaster interfaces.Broadcaster
	Persister   interfaces.Persister
	Notifier    interfaces.Notifier
}

// Container owns one domain's snapshot. Merge and broadcast happen under a
// single lock so clients observe changes in the order they were applied.
type Container struct {
	id      string
	deps    Deps
	initial map[string]any

	mu       sync.Mutex
	snapshot map[string]any
	mirrors  map[string]struct{}
	onChange []func(partial map[string]any)

	tmu    sync.Mutex
	timers map[string]*task.Task
}

var _ interfaces.Domain = (*Container)(nil)
var _ interfaces.Timers = (*Container)(nil)
var _ interfaces.Loader = (*Container)(nil)

// NewContainer builds a container whose initial shape is initial plus id.
// timerNames declares the timer mirrors the domain uses so they start false
// and are never restored as running.
func NewContainer(id string, initial map[string]any, deps Deps, timerNames ...string) *Container {
	c := &Container{
		id:      id,
		deps:    deps,
		initial: clone(initial),
		mirrors: make(map[string]struct{}),
		timers:  make(map[string]*task.Task),
	}
	c.initial["id"] = id
	for _, name := range timerNames {
		c.mirrors[name] = struct{}{}
		c.initial[name] = false
	}
	c.snapshot = clone(c.initial)
	return c
}

func (c *Container) ID() string {
	return c.id
}

// GetState returns a shallow copy of the snapshot.
func (c *Container) GetState() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.snapshot)
}

// Get reads a single key.
func (c *Container) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot[key]
}

// SetState merges partial into the snapshot and broadcasts it. With
// fullReplace the snapshot is first reset to the initial shape and the whole
// result is broadcast. A PersistFlag key requests an async durable write of
// the stripped value; it is never stored or broadcast.
func (c *Container) SetState(partial map[string]any, fullReplace bool) {
	clean, persist := stripPersistFlag(partial)
	delete(clean, "id")

	c.mu.Lock()
	if fullReplace {
		c.snapshot = clone(c.initial)
	}
	for k, v := range clean {
		c.snapshot[k] = v
	}

	var payload map[string]any
	if fullReplace {
		payload = clone(c.snapshot)
	} else {
		payload = clone(clean)
	}
	if c.deps.Broadcaster != nil {
		c.deps.Broadcaster.Broadcast(c.id, payload)
	}

	if persist && c.deps.Persister != nil {
		doc := clean
		if fullReplace {
			doc = c.withoutMirrors(c.snapshot)
		}
		c.deps.Persister.UpsertAsync(c.deps.Collection, c.id, doc)
	}
	observers := c.onChange
	c.mu.Unlock()

	for _, fn := range observers {
		fn(clean)
	}
}

// Load restores a persisted document over the initial shape. Nothing is
// broadcast or persisted and timer mirrors are forced false.
func (c *Container) Load(doc map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = clone(c.initial)
	for k, v := range doc {
		if k == "id" || k == PersistFlag {
			continue
		}
		if _, ok := c.mirrors[k]; ok {
			continue
		}
		c.snapshot[k] = v
	}
}

// OnChange registers fn to run after every merge, outside the lock.
func (c *Container) OnChange(fn func(partial map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// SetIntervalAndUpdate registers t under name and mirrors name=true. A live
// task already registered under name is canceled and reported once.
func (c *Container) SetIntervalAndUpdate(name string, t *task.Task) {
	c.tmu.Lock()
	prev, exists := c.timers[name]
	stale := exists && prev.Active()
	if exists {
		prev.Cancel()
	}
	c.timers[name] = t
	c.tmu.Unlock()

	c.mu.Lock()
	c.mirrors[name] = struct{}{}
	c.mu.Unlock()

	if stale {
		ctx := context.Background()
		logger.Warn(ctx, "Timer registered twice, replaced stale task", "domain", c.id, "timer", name)
		if c.deps.Notifier != nil {
			c.deps.Notifier.Error(ctx, fmt.Sprintf("%s: %s was already running and has been restarted", c.id, name))
		}
	}

	c.SetState(map[string]any{name: true}, false)
}

// ClearIntervalAndUpdate cancels the task under name and mirrors name=false.
func (c *Container) ClearIntervalAndUpdate(name string) {
	c.tmu.Lock()
	prev, exists := c.timers[name]
	if exists {
		prev.Cancel()
		delete(c.timers, name)
	}
	c.tmu.Unlock()

	c.SetState(map[string]any{name: false}, false)
}

// TimerActive reports whether a live task is registered under name.
func (c *Container) TimerActive(name string) bool {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	return c.timers[name].Active()
}

// StopTimers cancels every registered task without touching the snapshot.
func (c *Container) StopTimers() {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	for name, t := range c.timers {
		t.Cancel()
		delete(c.timers, name)
	}
}

// StartingFunctionsAtInitialize is a no-op; domains override it.
func (c *Container) StartingFunctionsAtInitialize(ctx context.Context) error {
	return nil
}

// UpdateDbAtInitOfDay is a no-op; domains override it.
func (c *Container) UpdateDbAtInitOfDay(ctx context.Context) error {
	return nil
}

// Notifier exposes the sink so embedding domains can raise notices.
func (c *Container) Notifier() interfaces.Notifier {
	return c.deps.Notifier
}

func (c *Container) withoutMirrors(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, ok := c.mirrors[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

func stripPersistFlag(partial map[string]any) (map[string]any, bool) {
	out := make(map[string]any, len(partial))
	persist := false
	for k, v := range partial {
		if k == PersistFlag {
			persist = true
			continue
		}
		out[k] = v
	}
	return out, persist
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package task provides cancelable periodic and one-shot timers.
package task

import (
	"sync"
	"sync/atomic"
	"time"
)

// Task is a handle to a running timer. Cancel is idempotent.
type Task struct {
	stop   chan struct{}
	once   sync.Once
	active atomic.Bool
}

func newTask() *Task {
	t := &Task{stop: make(chan struct{})}
	t.active.Store(true)
	return t
}

// Every runs fn every d until canceled. Runs never overlap: a slow fn
// delays the next run instead of stacking.
func Every(d time.Duration, fn func()) *Task {
	t := newTask()
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				select {
				case <-t.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

// After runs fn once after d unless canceled first.
func After(d time.Duration, fn func()) *Task {
	t := newTask()
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-t.stop:
		case <-timer.C:
			if t.active.CompareAndSwap(true, false) {
				fn()
			}
		}
	}()
	return t
}

func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.active.Store(false)
		close(t.stop)
	})
}

// Active reports whether the task can still fire.
func (t *Task) Active() bool {
	return t != nil && t.active.Load()
}

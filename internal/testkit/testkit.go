// Package testkit holds recording fakes shared by package tests.
package testkit

import (
	"context"
	"sync"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/tradelog"
	"tradedesk/internal/types"
)

type Broadcast struct {
	Key     string
	Payload any
}

// Broadcaster records every broadcast.
type Broadcaster struct {
	mu   sync.Mutex
	sent []Broadcast
}

var _ interfaces.Broadcaster = (*Broadcaster)(nil)

func (b *Broadcaster) Broadcast(key string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, Broadcast{Key: key, Payload: payload})
}

func (b *Broadcaster) Sent() []Broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Broadcast(nil), b.sent...)
}

// ForKey returns the payloads broadcast under key, in order.
func (b *Broadcaster) ForKey(key string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, s := range b.sent {
		if s.Key == key {
			out = append(out, s.Payload)
		}
	}
	return out
}

type Notice struct {
	Level       types.NotificationLevel
	Description string
}

// Notifier records notices.
type Notifier struct {
	mu      sync.Mutex
	notices []Notice
}

var _ interfaces.Notifier = (*Notifier)(nil)

func (n *Notifier) add(level types.NotificationLevel, d string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Level: level, Description: d})
}

func (n *Notifier) Info(_ context.Context, d string)    { n.add(types.LevelInfo, d) }
func (n *Notifier) Success(_ context.Context, d string) { n.add(types.LevelSuccess, d) }
func (n *Notifier) Error(_ context.Context, d string)   { n.add(types.LevelError, d) }

func (n *Notifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

func (n *Notifier) Count(level types.NotificationLevel) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.notices {
		if x.Level == level {
			c++
		}
	}
	return c
}

type Write struct {
	Collection string
	Key        string
	Doc        map[string]any
}

// Persister records async upserts synchronously.
type Persister struct {
	mu     sync.Mutex
	writes []Write
}

var _ interfaces.Persister = (*Persister)(nil)

func (p *Persister) UpsertAsync(collection, key string, doc map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, Write{Collection: collection, Key: key, Doc: doc})
}

func (p *Persister) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Write(nil), p.writes...)
}

// Journal records appended entries.
type Journal struct {
	mu      sync.Mutex
	entries []tradelog.Entry
}

var _ interfaces.Journal = (*Journal)(nil)

func (j *Journal) Append(e tradelog.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *Journal) Entries() []tradelog.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]tradelog.Entry(nil), j.entries...)
}

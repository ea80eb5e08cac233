// Package hub fans state changes out to connected clients and routes their
// updates back into the owning domain.
package hub

import (
	"context"
	"fmt"
	"sync"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/types"
)

// AppDomainID is the domain whose loggedIn flag gates the initial push.
const AppDomainID = "app"

// Channel is one connected client.
type Channel interface {
	ID() string
	Send(msg types.Message) error
}

// Domains is the lookup the hub routes through.
type Domains interface {
	Get(id string) (interfaces.Domain, bool)
	All() []interfaces.Domain
}

// peer queues broadcasts until the client's initial push has been sent.
type peer struct {
	ch      Channel
	mu      sync.Mutex
	ready   bool
	pending []types.Message
}

type Hub struct {
	domains Domains

	mu      sync.RWMutex
	peers   map[string]*peer
	sources []interfaces.TickSource
}

var _ interfaces.Broadcaster = (*Hub)(nil)

func New() *Hub {
	return &Hub{peers: make(map[string]*peer)}
}

// Bind attaches the domain registry. Done once at startup since domains
// need the hub to exist before they can be built.
func (h *Hub) Bind(domains Domains) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.domains = domains
}

// AddTickSource registers a venue whose tick cache new clients receive.
func (h *Hub) AddTickSource(src interfaces.TickSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources = append(h.sources, src)
}

// Broadcast sends payload under key to every client. A client that fails
// is logged and skipped; the rest still receive the message.
func (h *Hub) Broadcast(key string, payload any) {
	msg := types.Message{Event: key, Data: payload, FromServerState: true}

	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := p.deliver(msg); err != nil {
			logger.Warn(context.Background(), "Broadcast to client failed", "client", p.ch.ID(), "event", key, "error", err)
		}
	}
}

func (p *peer) deliver(msg types.Message) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		p.pending = append(p.pending, msg)
		return nil
	}
	return safeSend(p.ch, msg)
}

func safeSend(ch Channel, msg types.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return ch.Send(msg)
}

// RouteInbound applies a client update to the domain named by key.
// Unknown keys are ignored.
func (h *Hub) RouteInbound(key string, payload map[string]any) {
	h.mu.RLock()
	domains := h.domains
	h.mu.RUnlock()

	if domains == nil {
		return
	}
	d, ok := domains.Get(key)
	if !ok {
		logger.Debug(context.Background(), "Ignoring inbound update for unknown domain", "event", key)
		return
	}
	if payload == nil {
		return
	}
	d.SetState(payload, false)
}

// Connect registers ch and sends it, in order: the app login flag, then
// when logged in every domain's full state followed by each tick cache.
// Broadcasts racing with this push are delivered after it.
func (h *Hub) Connect(ctx context.Context, ch Channel) {
	p := &peer{ch: ch}

	h.mu.Lock()
	h.peers[ch.ID()] = p
	domains := h.domains
	sources := append([]interfaces.TickSource(nil), h.sources...)
	h.mu.Unlock()

	initial := h.initialMessages(domains, sources)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range append(initial, p.pending...) {
		if err := safeSend(ch, msg); err != nil {
			logger.Warn(ctx, "Initial push to client failed", "client", ch.ID(), "event", msg.Event, "error", err)
		}
	}
	p.pending = nil
	p.ready = true

	logger.Info(ctx, "Client connected", "client", ch.ID(), "initial_messages", len(initial))
}

func (h *Hub) initialMessages(domains Domains, sources []interfaces.TickSource) []types.Message {
	loggedIn := false
	if domains != nil {
		if app, ok := domains.Get(AppDomainID); ok {
			loggedIn = types.Bool(app.GetState()["loggedIn"])
		}
	}

	msgs := []types.Message{{
		Event:           AppDomainID,
		Data:            map[string]any{"loggedIn": loggedIn},
		FromServerState: true,
	}}
	if !loggedIn {
		return msgs
	}

	for _, d := range domains.All() {
		msgs = append(msgs, types.Message{Event: d.ID(), Data: d.GetState(), FromServerState: true})
	}
	for _, src := range sources {
		msgs = append(msgs, types.Message{Event: src.Channel(), Data: src.Snapshot(), FromServerState: true})
	}
	return msgs
}

func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

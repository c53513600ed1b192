// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_hub

import (
	"sync"

	"github.com/homemicai/pkg/commons"
)

// Event is the wire envelope for dashboard frames.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Event types fanned out to observers.
const (
	EventTranscription      = "transcription"
	EventBatchTranscription = "batch_transcription"
	EventAudioLevel         = "audio_level"
	EventNodeStatus         = "node_status"
	EventHeartbeat          = "heartbeat"
	EventInitialState       = "initial_state"
)

// Conn is the hub's view of a live connection. Implementations must be
// safe for concurrent WriteJSON calls.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Hub owns the in-memory connection state: the set of dashboard
// observers and the single control channel per node id. It is
// constructed once at process start and injected wherever events
// originate — there is no package-level instance.
type Hub struct {
	logger commons.Logger

	mu        sync.Mutex
	observers map[Conn]struct{}
	nodes     map[string]Conn

	// onNodeOffline is invoked (outside the hub lock) when a node's
	// control channel goes away.
	onNodeOffline func(nodeId string)
	// onObserverCount reports the observer set size after each change.
	onObserverCount func(n int)
}

type Option func(*Hub)

// WithNodeOfflineFunc registers the callback fired when a node control
// channel disconnects or is reaped.
func WithNodeOfflineFunc(fn func(nodeId string)) Option {
	return func(h *Hub) { h.onNodeOffline = fn }
}

// WithObserverCountFunc registers a gauge callback for the observer set
// size.
func WithObserverCountFunc(fn func(n int)) Option {
	return func(h *Hub) { h.onObserverCount = fn }
}

func NewHub(logger commons.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:    logger,
		observers: make(map[Conn]struct{}),
		nodes:     make(map[string]Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddObserver registers a dashboard connection.
func (h *Hub) AddObserver(c Conn) {
	h.mu.Lock()
	h.observers[c] = struct{}{}
	n := len(h.observers)
	h.mu.Unlock()

	h.logger.Infof("dashboard observer connected, total=%d", n)
	h.reportObservers(n)
}

// RemoveObserver drops a dashboard connection. Safe to call twice.
func (h *Hub) RemoveObserver(c Conn) {
	h.mu.Lock()
	_, present := h.observers[c]
	delete(h.observers, c)
	n := len(h.observers)
	h.mu.Unlock()

	if present {
		h.logger.Infof("dashboard observer disconnected, total=%d", n)
		h.reportObservers(n)
	}
}

// AddNode claims the control-channel slot for a node id. Last connect
// wins: an existing connection is displaced but not closed here — it
// reaps itself on its own send or read failure.
func (h *Hub) AddNode(nodeId string, c Conn) {
	h.mu.Lock()
	_, displaced := h.nodes[nodeId]
	h.nodes[nodeId] = c
	h.mu.Unlock()

	if displaced {
		h.logger.Warnf("node %s reconnected, replacing control channel", nodeId)
	} else {
		h.logger.Infof("node %s connected control channel", nodeId)
	}
}

// RemoveNode clears the node's slot, but only if it still holds this
// connection — a displaced connection's teardown must not evict its
// replacement. Fires the offline callback when the slot was cleared.
func (h *Hub) RemoveNode(nodeId string, c Conn) {
	h.mu.Lock()
	current, ok := h.nodes[nodeId]
	if ok && current == c {
		delete(h.nodes, nodeId)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		h.logger.Infof("node %s disconnected control channel", nodeId)
		if h.onNodeOffline != nil {
			h.onNodeOffline(nodeId)
		}
	}
}

// Broadcast sends the event to every observer. A send failure removes
// only the failing observer; delivery to the rest is unaffected.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.observers))
	for c := range h.observers {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(event); err != nil {
			h.logger.Warnf("observer send failed, dropping connection: %v", err)
			c.Close()
			h.RemoveObserver(c)
		}
	}
}

// SendToNode delivers an event to the node's control channel. A missing
// node id is a silent no-op. A failed send reaps the slot.
func (h *Hub) SendToNode(nodeId string, event Event) {
	h.mu.Lock()
	c, ok := h.nodes[nodeId]
	h.mu.Unlock()
	if !ok {
		return
	}

	if err := c.WriteJSON(event); err != nil {
		h.logger.Warnf("send to node %s failed, reaping control channel: %v", nodeId, err)
		c.Close()
		h.RemoveNode(nodeId, c)
	}
}

// ObserverCount returns the current observer set size.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

func (h *Hub) reportObservers(n int) {
	if h.onObserverCount != nil {
		h.onObserverCount(n)
	}
}

// Package hub routes messages between registered agents. Each agent
// owns a FIFO mailbox; a dispatch loop wakes on mailbox pushes and
// fans messages out to the agent's handlers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/models"
)

var (
	// ErrDuplicateAgent is returned when an agent id is registered twice.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrUnknownAgent is returned for operations on an unregistered agent id.
	ErrUnknownAgent = errors.New("agent not registered")
	// ErrMessageExpired is returned when a message's expiry has passed.
	ErrMessageExpired = errors.New("message expired")
)

// Handler consumes one delivered message. An error is logged and
// isolated; it never stalls dispatch for other agents.
type Handler func(ctx context.Context, msg *models.Message) error

// Config holds hub tuning knobs
type Config struct {
	// PollInterval is the fallback sweep period of the dispatch loop.
	// Dispatch is normally woken by mailbox pushes; the sweep bounds
	// how long a stop request can go unobserved.
	PollInterval time.Duration

	// DrainTimeout bounds how long Drain waits for a first message.
	DrainTimeout time.Duration
}

// DefaultConfig returns default hub configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 50 * time.Millisecond,
		DrainTimeout: time.Second,
	}
}

type agentInfo struct {
	ID           string
	Name         string
	RegisteredAt time.Time
}

// mailbox is one agent's FIFO queue. notify carries at most one pending
// wake-up so pushes never block.
type mailbox struct {
	mu     sync.Mutex
	queue  []*models.Message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (mb *mailbox) push(msg *models.Message) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, msg)
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

func (mb *mailbox) takeAll() []*models.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	msgs := mb.queue
	mb.queue = nil
	return msgs
}

func (mb *mailbox) size() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

// Hub is the central directory of agents and their mailboxes
type Hub struct {
	mu        sync.RWMutex
	agents    map[string]agentInfo
	mailboxes map[string]*mailbox
	handlers  map[string][]Handler

	config *Config
	logger *slog.Logger

	runMu   sync.Mutex
	running bool
	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a hub with no registered agents
func New(config *Config, logger *slog.Logger) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		agents:    make(map[string]agentInfo),
		mailboxes: make(map[string]*mailbox),
		handlers:  make(map[string][]Handler),
		config:    config,
		logger:    logger.With("component", "hub"),
		wake:      make(chan struct{}, 1),
	}
}

// RegisterAgent creates a mailbox and empty handler list for the agent.
// Duplicate registration is rejected.
func (h *Hub) RegisterAgent(agentID, name string, handlers ...Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.agents[agentID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, agentID)
	}

	h.agents[agentID] = agentInfo{ID: agentID, Name: name, RegisteredAt: time.Now().UTC()}
	h.mailboxes[agentID] = newMailbox()
	h.handlers[agentID] = append([]Handler(nil), handlers...)

	h.logger.Info("agent registered", "agent_id", agentID, "name", name)
	return nil
}

// UnregisterAgent removes the agent, its mailbox and its handlers.
func (h *Hub) UnregisterAgent(agentID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.agents[agentID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	delete(h.agents, agentID)
	delete(h.mailboxes, agentID)
	delete(h.handlers, agentID)

	h.logger.Info("agent unregistered", "agent_id", agentID)
	return nil
}

// AddHandler appends a message handler for a registered agent.
func (h *Hub) AddHandler(agentID string, handler Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.agents[agentID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	h.handlers[agentID] = append(h.handlers[agentID], handler)
	return nil
}

// Send enqueues the message for its recipient. Unknown recipients and
// expired messages are failures the caller may ignore; nothing is
// enqueued in either case.
func (h *Hub) Send(msg *models.Message) error {
	if msg.Expired(time.Now()) {
		h.logger.Warn("dropping expired message", "message_id", msg.ID)
		return fmt.Errorf("%w: %s", ErrMessageExpired, msg.ID)
	}

	h.mu.RLock()
	mb, ok := h.mailboxes[msg.RecipientID]
	h.mu.RUnlock()

	if !ok {
		h.logger.Warn("recipient not found", "recipient_id", msg.RecipientID)
		return fmt.Errorf("%w: %s", ErrUnknownAgent, msg.RecipientID)
	}

	mb.push(msg)
	h.signal()

	h.logger.Debug("message sent", "message_id", msg.ID, "recipient_id", msg.RecipientID)
	return nil
}

// Broadcast fans out an independent copy of msg, with a fresh id, to
// every registered agent, optionally skipping the sender. It returns the
// number delivered.
func (h *Hub) Broadcast(msg *models.Message, excludeSender bool) int {
	h.mu.RLock()
	recipients := make([]string, 0, len(h.agents))
	for agentID := range h.agents {
		if excludeSender && agentID == msg.SenderID {
			continue
		}
		recipients = append(recipients, agentID)
	}
	h.mu.RUnlock()

	sent := 0
	for _, agentID := range recipients {
		copyMsg := &models.Message{
			ID:          uuid.NewString(),
			SenderID:    msg.SenderID,
			RecipientID: agentID,
			Type:        msg.Type,
			Priority:    msg.Priority,
			Payload:     msg.Payload,
			Metadata:    msg.Metadata,
			CreatedAt:   time.Now().UTC(),
			ExpiresAt:   msg.ExpiresAt,
		}
		if err := h.Send(copyMsg); err == nil {
			sent++
		}
	}

	h.logger.Info("broadcast complete", "sender_id", msg.SenderID, "sent_count", sent)
	return sent
}

// Drain removes and returns all queued messages for an agent. When the
// mailbox is empty it waits up to timeout for the first message; it
// never blocks longer than that.
func (h *Hub) Drain(agentID string, timeout time.Duration) []*models.Message {
	h.mu.RLock()
	mb, ok := h.mailboxes[agentID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	if msgs := mb.takeAll(); len(msgs) > 0 {
		return msgs
	}
	if timeout <= 0 {
		return nil
	}

	// Clear any stale wake-up from messages already drained, then
	// re-check before waiting.
	select {
	case <-mb.notify:
	default:
	}
	if msgs := mb.takeAll(); len(msgs) > 0 {
		return msgs
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-mb.notify:
		return mb.takeAll()
	case <-timer.C:
		return nil
	}
}

// Acknowledge marks a still-queued message as acknowledged. A message
// already consumed from the mailbox is silently out of reach.
func (h *Hub) Acknowledge(agentID, messageID string) error {
	h.mu.RLock()
	mb, ok := h.mailboxes[agentID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, msg := range mb.queue {
		if msg.ID == messageID {
			msg.Acknowledged = true
			break
		}
	}
	return nil
}

// Start launches the dispatch loop. Starting a running hub is a no-op.
func (h *Hub) Start() {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.done = make(chan struct{})

	go h.dispatchLoop(h.stopCh, h.done)
	h.logger.Info("hub started")
}

// Stop halts the dispatch loop and waits for it to exit. The loop
// observes the stop within one poll interval at most.
func (h *Hub) Stop() {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if !h.running {
		return
	}
	close(h.stopCh)
	<-h.done
	h.running = false
	h.logger.Info("hub stopped")
}

// Running reports whether the dispatch loop is active.
func (h *Hub) Running() bool {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	return h.running
}

func (h *Hub) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop delivers queued messages to handlers. It wakes on pushes
// and additionally sweeps every poll interval.
func (h *Hub) dispatchLoop(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-h.wake:
		case <-ticker.C:
		}
		h.dispatchAll()
	}
}

func (h *Hub) dispatchAll() {
	h.mu.RLock()
	type target struct {
		agentID  string
		mb       *mailbox
		handlers []Handler
	}
	targets := make([]target, 0, len(h.handlers))
	for agentID, handlers := range h.handlers {
		if len(handlers) == 0 {
			continue
		}
		targets = append(targets, target{agentID, h.mailboxes[agentID], handlers})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		for _, msg := range t.mb.takeAll() {
			h.deliver(t.agentID, msg, t.handlers)
		}
	}
}

// deliver runs every handler for one message. A handler failure or
// panic is confined to a log entry.
func (h *Hub) deliver(agentID string, msg *models.Message, handlers []Handler) {
	ctx := context.Background()
	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("message handler panicked",
						"agent_id", agentID, "message_id", msg.ID, "panic", r)
				}
			}()
			if err := handler(ctx, msg); err != nil {
				h.logger.Error("message handler failed",
					"agent_id", agentID, "message_id", msg.ID, "error", err)
			}
		}()
	}
	msg.Delivered = true
}

// Status returns a snapshot of the hub as a plain key-value map.
func (h *Hub) Status() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalHandlers := 0
	for _, handlers := range h.handlers {
		totalHandlers += len(handlers)
	}

	return map[string]interface{}{
		"running":           h.Running(),
		"registered_agents": len(h.agents),
		"total_mailboxes":   len(h.mailboxes),
		"total_handlers":    totalHandlers,
	}
}

// AgentStatus returns a snapshot for one agent, or nil when unknown.
func (h *Hub) AgentStatus(agentID string) map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info, ok := h.agents[agentID]
	if !ok {
		return nil
	}

	return map[string]interface{}{
		"id":            info.ID,
		"name":          info.Name,
		"registered_at": info.RegisteredAt,
		"queue_size":    h.mailboxes[agentID].size(),
		"handler_count": len(h.handlers[agentID]),
	}
}

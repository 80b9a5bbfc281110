package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/internal/models"
)

func newTestMessage(sender, recipient string) *models.Message {
	return &models.Message{
		ID:          "msg-" + recipient + "-" + time.Now().Format("150405.000000000"),
		SenderID:    sender,
		RecipientID: recipient,
		Type:        models.MessageTypeStatusUpdate,
		Priority:    models.PriorityNormal,
		Payload:     map[string]interface{}{"note": "test"},
		CreatedAt:   time.Now().UTC(),
	}
}

// TestRegisterAgent tests registration and duplicate rejection
func TestRegisterAgent(t *testing.T) {
	h := New(nil, nil)

	require.NoError(t, h.RegisterAgent("agent-1", "Agent One"))
	err := h.RegisterAgent("agent-1", "Agent One Again")
	require.ErrorIs(t, err, ErrDuplicateAgent)

	status := h.Status()
	assert.Equal(t, 1, status["registered_agents"])
}

// TestUnregisterAgent tests removal and unknown-agent errors
func TestUnregisterAgent(t *testing.T) {
	h := New(nil, nil)

	require.NoError(t, h.RegisterAgent("agent-1", "Agent One"))
	require.NoError(t, h.UnregisterAgent("agent-1"))
	require.ErrorIs(t, h.UnregisterAgent("agent-1"), ErrUnknownAgent)
}

// TestSendToUnknownRecipient tests that a bad recipient fails the send
// without panicking or enqueueing anything
func TestSendToUnknownRecipient(t *testing.T) {
	h := New(nil, nil)

	err := h.Send(newTestMessage("agent-1", "nobody"))
	require.ErrorIs(t, err, ErrUnknownAgent)
}

// TestSendExpiredMessage tests that an already-expired message is dropped
func TestSendExpiredMessage(t *testing.T) {
	h := New(nil, nil)
	require.NoError(t, h.RegisterAgent("agent-1", "Agent One"))

	past := time.Now().Add(-time.Minute)
	msg := newTestMessage("sender", "agent-1")
	msg.ExpiresAt = &past

	require.ErrorIs(t, h.Send(msg), ErrMessageExpired)
	assert.Empty(t, h.Drain("agent-1", 0))
}

// TestFIFODeliveryOrder tests that messages reach a handler exactly once,
// in send order
func TestFIFODeliveryOrder(t *testing.T) {
	h := New(&Config{PollInterval: 10 * time.Millisecond, DrainTimeout: time.Second}, nil)

	var mu sync.Mutex
	var got []string
	handler := func(ctx context.Context, msg *models.Message) error {
		mu.Lock()
		got = append(got, msg.ID)
		mu.Unlock()
		return nil
	}
	require.NoError(t, h.RegisterAgent("agent-1", "Agent One", handler))

	h.Start()
	defer h.Stop()

	want := []string{"first", "second", "third"}
	for _, id := range want {
		msg := newTestMessage("sender", "agent-1")
		msg.ID = id
		require.NoError(t, h.Send(msg))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

// TestDrain tests that Drain consumes queued messages and a second drain
// returns nothing
func TestDrain(t *testing.T) {
	h := New(nil, nil)
	require.NoError(t, h.RegisterAgent("agent-1", "Agent One"))

	require.NoError(t, h.Send(newTestMessage("sender", "agent-1")))
	require.NoError(t, h.Send(newTestMessage("sender", "agent-1")))

	msgs := h.Drain("agent-1", 0)
	assert.Len(t, msgs, 2)
	assert.Empty(t, h.Drain("agent-1", 0))
}

// TestDrainWaitsForFirstMessage tests the bounded wait for an empty mailbox
func TestDrainWaitsForFirstMessage(t *testing.T) {
	h := New(nil, nil)
	require.NoError(t, h.RegisterAgent("agent-1", "Agent One"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = h.Send(newTestMessage("sender", "agent-1"))
	}()

	msgs := h.Drain("agent-1", time.Second)
	assert.Len(t, msgs, 1)
}

// TestBroadcastExcludeSender tests fan-out with and without the sender,
// and that every copy carries a fresh id
func TestBroadcastExcludeSender(t *testing.T) {
	h := New(nil, nil)
	for _, id := range []string{"agent-1", "agent-2", "agent-3"} {
		require.NoError(t, h.RegisterAgent(id, id))
	}

	msg := newTestMessage("agent-1", "")
	sent := h.Broadcast(msg, true)
	assert.Equal(t, 2, sent)
	assert.Empty(t, h.Drain("agent-1", 0))

	ids := map[string]bool{}
	for _, agentID := range []string{"agent-2", "agent-3"} {
		msgs := h.Drain(agentID, 0)
		require.Len(t, msgs, 1)
		assert.NotEqual(t, msg.ID, msgs[0].ID)
		ids[msgs[0].ID] = true
	}
	assert.Len(t, ids, 2, "broadcast copies must have distinct ids")

	sent = h.Broadcast(newTestMessage("agent-1", ""), false)
	assert.Equal(t, 3, sent)
}

// TestHandlerFailureIsIsolated tests that a failing or panicking handler
// does not stop delivery to other agents
func TestHandlerFailureIsIsolated(t *testing.T) {
	h := New(&Config{PollInterval: 10 * time.Millisecond, DrainTimeout: time.Second}, nil)

	require.NoError(t, h.RegisterAgent("bad", "Bad", func(ctx context.Context, msg *models.Message) error {
		panic("handler exploded")
	}))

	delivered := make(chan struct{}, 1)
	require.NoError(t, h.RegisterAgent("good", "Good", func(ctx context.Context, msg *models.Message) error {
		delivered <- struct{}{}
		return nil
	}))

	h.Start()
	defer h.Stop()

	require.NoError(t, h.Send(newTestMessage("sender", "bad")))
	require.NoError(t, h.Send(newTestMessage("sender", "good")))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("message to healthy agent was not delivered")
	}
}

// TestAcknowledge tests that a queued message can be acknowledged
func TestAcknowledge(t *testing.T) {
	h := New(nil, nil)
	require.NoError(t, h.RegisterAgent("agent-1", "Agent One"))

	msg := newTestMessage("sender", "agent-1")
	require.NoError(t, h.Send(msg))
	require.NoError(t, h.Acknowledge("agent-1", msg.ID))

	msgs := h.Drain("agent-1", 0)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Acknowledged)
}

// TestStartStopIdempotent tests repeated starts and stops
func TestStartStopIdempotent(t *testing.T) {
	h := New(nil, nil)

	h.Start()
	h.Start()
	assert.True(t, h.Running())

	h.Stop()
	h.Stop()
	assert.False(t, h.Running())
}

// TestAgentStatus tests the per-agent snapshot
func TestAgentStatus(t *testing.T) {
	h := New(nil, nil)
	require.NoError(t, h.RegisterAgent("agent-1", "Agent One"))
	require.NoError(t, h.Send(newTestMessage("sender", "agent-1")))

	status := h.AgentStatus("agent-1")
	require.NotNil(t, status)
	assert.Equal(t, "Agent One", status["name"])
	assert.Equal(t, 1, status["queue_size"])

	assert.Nil(t, h.AgentStatus("nobody"))
}

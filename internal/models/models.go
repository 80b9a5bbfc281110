package models

import "time"

// AgentStatus describes an agent's lifecycle state
type AgentStatus string

const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusError     AgentStatus = "error"
	AgentStatusCompleted AgentStatus = "completed"
)

// AgentType defines the role of a pipeline agent
type AgentType string

const (
	AgentTypeCoordinator AgentType = "coordinator"
	AgentTypeResearcher  AgentType = "researcher"
	AgentTypeWriter      AgentType = "writer"
	AgentTypeEditor      AgentType = "editor"
	AgentTypeMemory      AgentType = "memory"
)

// AgentRecord is the mutable state of one agent. It is only mutated
// through the agent's own lifecycle methods.
type AgentRecord struct {
	ID           string      `json:"agent_id"`
	Type         AgentType   `json:"type"`
	Name         string      `json:"name"`
	Status       AgentStatus `json:"status"`
	CurrentTask  string      `json:"current_task,omitempty"`
	Progress     float64     `json:"task_progress"` // clamped to [0,1]
	LastActivity time.Time   `json:"last_activity"`
	LastError    string      `json:"error_message,omitempty"`
}

// MessageType classifies inter-agent messages. The set is closed:
// dispatch switches over it exhaustively.
type MessageType string

const (
	MessageTypeTaskRequest   MessageType = "task_request"
	MessageTypeTaskResponse  MessageType = "task_response"
	MessageTypeStatusUpdate  MessageType = "status_update"
	MessageTypeError         MessageType = "error_notification"
	MessageTypeMemoryShare   MessageType = "memory_share"
	MessageTypeWorkflowEvent MessageType = "workflow_event"
	MessageTypeCoordination  MessageType = "coordination"
)

// MessagePriority orders messages by urgency
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// Message is one unit of inter-agent communication. The payload is
// treated as immutable after creation; a message is delivered to exactly
// one mailbox and consumed at most once.
type Message struct {
	ID           string                 `json:"id"`
	SenderID     string                 `json:"sender_id"`
	RecipientID  string                 `json:"recipient_id"`
	Type         MessageType            `json:"message_type"`
	Priority     MessagePriority        `json:"priority"`
	Payload      map[string]interface{} `json:"content"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	Delivered    bool                   `json:"delivered"`
	Acknowledged bool                   `json:"acknowledged"`
}

// Expired reports whether the message's expiry has passed at t.
func (m *Message) Expired(t time.Time) bool {
	return m.ExpiresAt != nil && t.After(*m.ExpiresAt)
}

// WorkflowState is one node of the workflow phase graph
type WorkflowState string

const (
	StatePending     WorkflowState = "pending"
	StateResearching WorkflowState = "researching"
	StateWriting     WorkflowState = "writing"
	StateEditing     WorkflowState = "editing"
	StateCompleted   WorkflowState = "completed"
	StateError       WorkflowState = "error"
)

// Terminal reports whether the state has no outgoing edges.
func (s WorkflowState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// ResearchSource is one source gathered during the research phase
type ResearchSource struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
	WordCount      int     `json:"word_count"`
}

// WorkflowContext carries accumulated phase outputs through one
// execution. Exactly one instance exists per execution and is never
// shared across executions.
type WorkflowContext struct {
	WorkflowID       string  `json:"workflow_id"`
	Topic            string  `json:"topic"`
	TargetLength     int     `json:"target_length"`
	QualityThreshold float64 `json:"quality_threshold"`

	// Research phase output
	Sources     []ResearchSource `json:"research_sources"`
	KeyInsights []string         `json:"key_insights"`

	// Writing phase output
	DraftContent string `json:"draft_content"`
	WordCount    int    `json:"word_count"`

	// Editing phase output
	FinalContent string  `json:"final_content"`
	QualityScore float64 `json:"quality_score"`

	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CurrentState WorkflowState `json:"current_state"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// SetState records a transition into state and bumps the update time.
func (c *WorkflowContext) SetState(state WorkflowState) {
	c.CurrentState = state
	c.UpdatedAt = time.Now().UTC()
}

// ExecutionStatus describes the lifecycle of one workflow execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// Terminal reports whether the execution can no longer progress.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCancelled || s == ExecutionCompleted || s == ExecutionError
}

// WorkflowExecution is the record of one submitted workflow run. It is
// created at submission, updated throughout, and retained for queries.
type WorkflowExecution struct {
	ExecutionID  string                 `json:"execution_id"`
	WorkflowID   string                 `json:"workflow_id"`
	Status       ExecutionStatus        `json:"status"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      *time.Time             `json:"end_time,omitempty"`
	Progress     float64                `json:"progress"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// MemoryEntry is a stored memory. The content hash is its identity: two
// entries with the same text share one record.
type MemoryEntry struct {
	ContentHash string                 `json:"content_hash"`
	Content     string                 `json:"content"`
	Embedding   []float32              `json:"embedding"`
	Importance  float64                `json:"importance_score"`
	Type        string                 `json:"memory_type"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	AgentID     string                 `json:"agent_id,omitempty"`
}

// ScoredMemory pairs a memory entry with its similarity to a query
type ScoredMemory struct {
	Entry      *MemoryEntry `json:"entry"`
	Similarity float64      `json:"similarity"`
}

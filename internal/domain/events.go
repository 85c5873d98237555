package domain

import "encoding/json"

// StreamEventType discriminates the events a turn emits, in arrival order.
type StreamEventType string

const (
	EventTextDelta      StreamEventType = "text-delta"
	EventReasoningDelta StreamEventType = "reasoning-delta"
	EventToolCallStart  StreamEventType = "tool-call-start"
	EventToolCallResult StreamEventType = "tool-call-result"
	EventTitle          StreamEventType = "title"
	EventError          StreamEventType = "error"
	EventFinish         StreamEventType = "finish"
)

// StreamEvent is one element of a turn's outgoing event sequence. The
// orchestrator produces these; the transport layer serializes them.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// Delta carries text or reasoning content for delta events.
	Delta string `json:"delta,omitempty"`

	// ToolCallID, ToolName and ServerID tag tool events with provenance so
	// the client can render which backend a call went to.
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	ServerID   string `json:"serverId,omitempty"`

	// Result holds the tool payload or error for tool-call-result events.
	Result json.RawMessage `json:"result,omitempty"`

	// Title carries the deferred conversation title.
	Title string `json:"title,omitempty"`

	// Message carries the user-facing text of an error event.
	Message string `json:"message,omitempty"`
}

// TurnState is the terminal status of one conversational turn.
type TurnState string

const (
	TurnFinished TurnState = "FINISHED"
	TurnFailed   TurnState = "FAILED"
)

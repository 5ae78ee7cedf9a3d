package api

// StreamEventType identifies the type of a streaming event.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
	EventError             StreamEventType = "error"
)

// Delta subtypes carried by content_block_delta events.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeThinking  = "thinking_delta"
	DeltaTypeInputJSON = "input_json_delta"
	DeltaTypeSignature = "signature_delta"
)

// StreamEvent is a single server-sent event in a streaming response.
// The SSE event name equals Type, and the JSON payload is the event
// itself; only the fields belonging to the event type are populated.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Message      *MessageStart   `json:"message,omitempty"`
	Index        *int            `json:"index,omitempty"`
	ContentBlock *ContentBlock   `json:"content_block,omitempty"`
	Delta        *EventDelta     `json:"delta,omitempty"`
	Usage        *DeltaUsage     `json:"usage,omitempty"`
	Error        *APIError       `json:"error,omitempty"`
}

// MessageStart is the message snapshot carried by a message_start event:
// an assistant message with empty content and zero usage.
type MessageStart struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
	Usage   Usage          `json:"usage"`
}

// EventDelta is the delta payload of content_block_delta and
// message_delta events.
type EventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Signature   string `json:"signature,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// DeltaUsage is the usage payload of a message_delta event.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// NewMessageStartEvent builds the message_start event opening a stream.
func NewMessageStartEvent(id string) StreamEvent {
	return StreamEvent{
		Type: EventMessageStart,
		Message: &MessageStart{
			ID:      id,
			Type:    "message",
			Role:    RoleAssistant,
			Content: []ContentBlock{},
		},
	}
}

// NewBlockStartEvent builds a content_block_start event at the given index.
func NewBlockStartEvent(index int, block ContentBlock) StreamEvent {
	return StreamEvent{Type: EventContentBlockStart, Index: &index, ContentBlock: &block}
}

// NewBlockDeltaEvent builds a content_block_delta event at the given index.
func NewBlockDeltaEvent(index int, delta EventDelta) StreamEvent {
	return StreamEvent{Type: EventContentBlockDelta, Index: &index, Delta: &delta}
}

// NewBlockStopEvent builds a content_block_stop event at the given index.
func NewBlockStopEvent(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: &index}
}

// NewMessageDeltaEvent builds the message_delta event carrying the final
// stop reason and output token count.
func NewMessageDeltaEvent(stopReason string, outputTokens int) StreamEvent {
	return StreamEvent{
		Type:  EventMessageDelta,
		Delta: &EventDelta{StopReason: stopReason},
		Usage: &DeltaUsage{OutputTokens: outputTokens},
	}
}

// NewMessageStopEvent builds the message_stop event closing a stream.
func NewMessageStopEvent() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

// NewErrorEvent wraps an APIError as an in-band error event.
func NewErrorEvent(err *APIError) StreamEvent {
	return StreamEvent{Type: EventError, Error: err}
}

// IsTerminal reports whether the event ends a streaming response.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventMessageStop || e.Type == EventError
}

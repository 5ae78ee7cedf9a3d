package translate

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/compat"
)

// StreamState folds downstream chunks into ordered source-protocol
// events. One StreamState belongs to exactly one exchange; it holds no
// shared state and needs no locking.
//
// Apply translates one chunk, Finish closes the stream after the
// downstream end sentinel. Both return the events to emit; a returned
// error means the exchange must terminate with a single in-band error
// event and nothing after it.
type StreamState struct {
	started   bool
	messageID string

	nextIndex     int
	textIndex     *int
	thinkingIndex *int
	toolCalls     map[int]*toolCallState

	outputText    strings.Builder
	reasoningText strings.Builder
	signature     string
	hasSignature  bool

	stopReason   string
	inputTokens  int
	outputTokens int
}

// toolCallState assembles one tool call across chunks. The block index
// is allocated at the first fragment so ordering follows downstream
// arrival; the start event is deferred until both id and name are known.
type toolCallState struct {
	id         string
	name       string
	hasID      bool
	hasName    bool
	arguments  strings.Builder
	blockIndex int
	started    bool
}

// NewStreamState creates the state machine for one streaming exchange.
func NewStreamState() *StreamState {
	return &StreamState{toolCalls: make(map[int]*toolCallState)}
}

// MessageID returns the identifier announced in message_start, or ""
// before the first chunk.
func (s *StreamState) MessageID() string { return s.messageID }

// Usage returns the accumulated token usage.
func (s *StreamState) Usage() api.Usage {
	return api.Usage{InputTokens: s.inputTokens, OutputTokens: s.outputTokens}
}

// Apply folds one downstream chunk into the state and returns the
// events it produces.
func (s *StreamState) Apply(chunk *compat.ChatChunk) ([]api.StreamEvent, *api.APIError) {
	var events []api.StreamEvent

	if !s.started {
		s.started = true
		s.messageID = chunk.ID
		if s.messageID == "" {
			s.messageID = api.NewMessageID()
		}
		events = append(events, api.NewMessageStartEvent(s.messageID))
	}

	if chunk.Usage != nil {
		s.inputTokens = chunk.Usage.PromptTokens
		s.outputTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != nil && *choice.Delta.Content != "" {
		text := *choice.Delta.Content
		s.outputText.WriteString(text)
		index := s.ensureTextBlock(&events)
		events = append(events, api.NewBlockDeltaEvent(index, api.EventDelta{Type: api.DeltaTypeText, Text: text}))
	}

	if raw := choice.Delta.ReasoningContent; len(raw) > 0 {
		if apiErr := s.applyReasoning(raw, &events); apiErr != nil {
			return nil, apiErr
		}
	}

	for _, call := range choice.Delta.ToolCalls {
		s.applyToolCall(call, &events)
	}

	if choice.FinishReason != nil {
		s.stopReason = mapFinishReason(choice.FinishReason)
	}

	return events, nil
}

// applyReasoning handles a reasoning_content fragment: a bare string is
// a thinking delta; the object form can carry thinking and signature
// pieces. An unparseable object is skipped.
func (s *StreamState) applyReasoning(raw json.RawMessage, events *[]api.StreamEvent) *api.APIError {
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		var delta compat.ReasoningDelta
		if err := json.Unmarshal(raw, &delta); err != nil {
			return nil
		}
		index, apiErr := s.ensureThinkingBlock(events)
		if apiErr != nil {
			return apiErr
		}
		if delta.Thinking != nil {
			s.reasoningText.WriteString(*delta.Thinking)
			*events = append(*events, api.NewBlockDeltaEvent(index, api.EventDelta{Type: api.DeltaTypeThinking, Thinking: *delta.Thinking}))
		}
		if delta.Signature != nil {
			s.signature = *delta.Signature
			s.hasSignature = true
			*events = append(*events, api.NewBlockDeltaEvent(index, api.EventDelta{Type: api.DeltaTypeSignature, Signature: *delta.Signature}))
		}
		return nil
	}

	var thinking string
	if err := json.Unmarshal(raw, &thinking); err != nil {
		return nil
	}
	index, apiErr := s.ensureThinkingBlock(events)
	if apiErr != nil {
		return apiErr
	}
	s.reasoningText.WriteString(thinking)
	*events = append(*events, api.NewBlockDeltaEvent(index, api.EventDelta{Type: api.DeltaTypeThinking, Thinking: thinking}))
	return nil
}

// applyToolCall folds one tool call fragment. Argument fragments that
// arrive before id and name are buffered and replayed as a single
// input_json_delta right after the deferred start event.
func (s *StreamState) applyToolCall(call compat.ChunkToolCall, events *[]api.StreamEvent) {
	entry, ok := s.toolCalls[call.Index]
	if !ok {
		entry = &toolCallState{blockIndex: s.nextIndex}
		s.nextIndex++
		s.toolCalls[call.Index] = entry
	}

	if call.ID != "" {
		entry.id = call.ID
		entry.hasID = true
	}
	if call.Function != nil {
		if call.Function.Name != "" {
			entry.name = call.Function.Name
			entry.hasName = true
		}
		if call.Function.Arguments != "" {
			entry.arguments.WriteString(call.Function.Arguments)
			if entry.started {
				*events = append(*events, api.NewBlockDeltaEvent(entry.blockIndex,
					api.EventDelta{Type: api.DeltaTypeInputJSON, PartialJSON: call.Function.Arguments}))
			}
		}
	}

	if !entry.started && entry.hasID && entry.hasName {
		entry.started = true
		*events = append(*events, api.NewBlockStartEvent(entry.blockIndex, api.ToolUseBlock(entry.id, entry.name, nil)))
		if buffered := entry.arguments.String(); buffered != "" {
			*events = append(*events, api.NewBlockDeltaEvent(entry.blockIndex,
				api.EventDelta{Type: api.DeltaTypeInputJSON, PartialJSON: buffered}))
		}
	}
}

func (s *StreamState) ensureTextBlock(events *[]api.StreamEvent) int {
	if s.textIndex != nil {
		return *s.textIndex
	}
	index := s.nextIndex
	s.nextIndex++
	s.textIndex = &index
	*events = append(*events, api.NewBlockStartEvent(index, api.TextBlock("")))
	return index
}

// ensureThinkingBlock opens the thinking block. Thinking content must
// lead the message; reasoning arriving after another block has opened is
// a downstream protocol inconsistency and is surfaced, not reordered.
func (s *StreamState) ensureThinkingBlock(events *[]api.StreamEvent) (int, *api.APIError) {
	if s.thinkingIndex != nil {
		return *s.thinkingIndex, nil
	}
	if s.nextIndex > 0 {
		return 0, api.NewAPIError("reasoning content after non-reasoning content")
	}
	index := s.nextIndex
	s.nextIndex++
	s.thinkingIndex = &index
	*events = append(*events, api.NewBlockStartEvent(index, api.ThinkingBlock("", "")))
	return index, nil
}

// Finish closes the stream after the downstream end sentinel: validate
// assembled tool calls, close open blocks in index order, then emit
// message_delta and message_stop. A stream that ends without a
// finish_reason reports end_turn.
func (s *StreamState) Finish() ([]api.StreamEvent, *api.APIError) {
	for _, tool := range s.toolCalls {
		if !tool.started {
			continue
		}
		args := tool.arguments.String()
		if args == "" {
			return nil, api.NewInvalidRequestError("tool_use arguments empty")
		}
		if !json.Valid([]byte(args)) {
			return nil, api.NewInvalidRequestError("tool_use arguments invalid json")
		}
	}

	var open []int
	if s.textIndex != nil {
		open = append(open, *s.textIndex)
	}
	if s.thinkingIndex != nil {
		open = append(open, *s.thinkingIndex)
	}
	for _, tool := range s.toolCalls {
		if tool.started {
			open = append(open, tool.blockIndex)
		}
	}
	sort.Ints(open)

	var events []api.StreamEvent
	for _, index := range open {
		events = append(events, api.NewBlockStopEvent(index))
	}

	stopReason := s.stopReason
	if stopReason == "" {
		stopReason = api.StopReasonEndTurn
	}
	events = append(events, api.NewMessageDeltaEvent(stopReason, s.outputTokens))
	events = append(events, api.NewMessageStopEvent())
	return events, nil
}

// ContentSnapshot reconstructs the assembled assistant content for
// audit recording: thinking first, then text, then tool calls.
func (s *StreamState) ContentSnapshot() []api.ContentBlock {
	var blocks []api.ContentBlock

	if s.reasoningText.Len() > 0 || s.hasSignature {
		signature := s.signature
		if !s.hasSignature {
			signature = "auto"
		}
		blocks = append(blocks, api.ThinkingBlock(s.reasoningText.String(), signature))
	}

	if s.outputText.Len() > 0 {
		blocks = append(blocks, api.TextBlock(s.outputText.String()))
	}

	tools := make([]*toolCallState, 0, len(s.toolCalls))
	for _, tool := range s.toolCalls {
		if tool.hasName {
			tools = append(tools, tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].blockIndex < tools[j].blockIndex })
	for _, tool := range tools {
		input := json.RawMessage(tool.arguments.String())
		if !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		blocks = append(blocks, api.ToolUseBlock(tool.id, tool.name, input))
	}

	return blocks
}

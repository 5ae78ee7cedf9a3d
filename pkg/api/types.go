package api

import (
	"encoding/json"
	"fmt"
)

// Message roles accepted in a request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockTypeText             = "text"
	BlockTypeImage            = "image"
	BlockTypeDocument         = "document"
	BlockTypeToolUse          = "tool_use"
	BlockTypeToolResult       = "tool_result"
	BlockTypeThinking         = "thinking"
	BlockTypeRedactedThinking = "redacted_thinking"
)

// Stop reasons reported on a response.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
	StopReasonToolUse   = "tool_use"
)

// MessagesRequest is the request body for POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []Message       `json:"messages"`
	System        *SystemPrompt   `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        *bool           `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	OutputFormat  *OutputFormat   `json:"output_format,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// Message is one turn in the conversation.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is the string-or-blocks union used for message content.
// The wire value is either a bare JSON string or an array of content
// blocks; the two forms are kept distinct through round-trips.
type MessageContent struct {
	text   string
	blocks []ContentBlock
	isText bool
}

// TextContent wraps a bare string as message content.
func TextContent(s string) MessageContent {
	return MessageContent{text: s, isText: true}
}

// BlocksContent wraps a block sequence as message content.
func BlocksContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{blocks: blocks}
}

// IsText reports whether the content was a bare string on the wire.
func (c MessageContent) IsText() bool { return c.isText }

// Text returns the bare string form. Valid only when IsText is true.
func (c MessageContent) Text() string { return c.text }

// Blocks returns the block sequence form.
func (c MessageContent) Blocks() []ContentBlock { return c.blocks }

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.text)
	}
	return json.Marshal(c.blocks)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent{text: s, isText: true}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of content blocks: %w", err)
	}
	*c = MessageContent{blocks: blocks}
	return nil
}

// SystemPrompt is the out-of-band system prompt: a bare string or a
// sequence of text blocks.
type SystemPrompt struct {
	text   string
	blocks []SystemBlock
	isText bool
}

// SystemText wraps a bare string as a system prompt.
func SystemText(s string) *SystemPrompt {
	return &SystemPrompt{text: s, isText: true}
}

// SystemBlocks wraps a block sequence as a system prompt.
func SystemBlocks(blocks ...SystemBlock) *SystemPrompt {
	return &SystemPrompt{blocks: blocks}
}

// IsText reports whether the prompt was a bare string on the wire.
func (s SystemPrompt) IsText() bool { return s.isText }

// Text returns the bare string form. Valid only when IsText is true.
func (s SystemPrompt) Text() string { return s.text }

// Blocks returns the block sequence form.
func (s SystemPrompt) Blocks() []SystemBlock { return s.blocks }

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.isText {
		return json.Marshal(s.text)
	}
	return json.Marshal(s.blocks)
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemPrompt{text: str, isText: true}
		return nil
	}
	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or an array of text blocks: %w", err)
	}
	*s = SystemPrompt{blocks: blocks}
	return nil
}

// SystemBlock is one entry of a block-form system prompt.
type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ContentBlock is one typed unit of message content, discriminated by
// Type. Only the fields belonging to the block's type are meaningful;
// MarshalJSON emits exactly the wire shape for each type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image, document
	Source *BlockSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// redacted_thinking
	Data string `json:"data,omitempty"`
}

// BlockSource carries the payload of image and document blocks.
type BlockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// ThinkingBlock builds a thinking content block.
func ThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Thinking: thinking, Signature: signature}
}

// MarshalJSON emits the exact wire shape for the block's type. Fields
// that are always present on the wire (a text block's "text", a tool_use
// block's "input") are not dropped when empty.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockTypeText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case BlockTypeImage, BlockTypeDocument:
		return json.Marshal(struct {
			Type   string       `json:"type"`
			Source *BlockSource `json:"source"`
		}{b.Type, b.Source})
	case BlockTypeToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return json.Marshal(struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	case BlockTypeToolResult:
		return json.Marshal(struct {
			Type      string          `json:"type"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content,omitempty"`
			IsError   bool            `json:"is_error,omitempty"`
		}{b.Type, b.ToolUseID, b.Content, b.IsError})
	case BlockTypeThinking:
		return json.Marshal(struct {
			Type      string `json:"type"`
			Thinking  string `json:"thinking"`
			Signature string `json:"signature"`
		}{b.Type, b.Thinking, b.Signature})
	case BlockTypeRedactedThinking:
		return json.Marshal(struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}{b.Type, b.Data})
	default:
		return nil, fmt.Errorf("unknown content block type %q", b.Type)
	}
}

// Tool declares a callable tool with a JSON Schema for its input.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice constrains how the model may use tools. Type is one of
// "auto", "any", or "tool"; Name is set only for "tool".
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// OutputFormat requests structured output conforming to a JSON schema.
type OutputFormat struct {
	Type   string          `json:"type"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// ThinkingConfig enables extended thinking with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

// Usage reports token consumption for an exchange.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// MessagesResponse is the non-streaming response body for POST /v1/messages.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// MarshalJSON ensures content serializes as an empty array rather than null.
func (r MessagesResponse) MarshalJSON() ([]byte, error) {
	type alias MessagesResponse
	a := alias(r)
	if a.Content == nil {
		a.Content = []ContentBlock{}
	}
	return json.Marshal(a)
}

// ModelsResponse is the response body for GET /v1/models.
type ModelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ModelInfo describes one model in a listing.
type ModelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

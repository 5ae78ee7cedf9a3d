package compat

import "encoding/json"

// ChatRequest is a Chat Completions request body.
type ChatRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	Stream              *bool           `json:"stream,omitempty"`
	StreamOptions       *StreamOptions  `json:"stream_options,omitempty"`
	Tools               []ChatTool      `json:"tools,omitempty"`
	ToolChoice          any             `json:"tool_choice,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
}

// StreamOptions tunes streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatMessage is one entry of the flat message list. Content holds a
// string, a part list, or nil for assistant turns that only carry tool
// calls. ReasoningContent is kept raw because backends send either a
// bare string or an object.
type ChatMessage struct {
	Role             string          `json:"role"`
	Content          any             `json:"content,omitempty"`
	ToolCalls        []ChatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ReasoningContent json.RawMessage `json:"reasoning_content,omitempty"`
}

// ChatContentPart is one part of a multimodal content list.
type ChatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ChatImageURL `json:"image_url,omitempty"`
}

// ChatImageURL carries an image reference, here always a data URL.
type ChatImageURL struct {
	URL string `json:"url"`
}

// ChatToolCall is a completed tool invocation on an assistant message.
type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatFunctionCall `json:"function"`
}

// ChatFunctionCall names the function and carries its serialized arguments.
type ChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatTool declares a callable function.
type ChatTool struct {
	Type     string          `json:"type"`
	Function ChatFunctionDef `json:"function"`
}

// ChatFunctionDef describes a function and its parameter schema.
type ChatFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoiceFunction forces a specific function call. Used as the
// ChatRequest.ToolChoice value when a single tool is pinned; the other
// modes are plain strings.
type ToolChoiceFunction struct {
	Type     string         `json:"type"`
	Function ToolChoiceName `json:"function"`
}

// ToolChoiceName names the pinned function.
type ToolChoiceName struct {
	Name string `json:"name"`
}

// ResponseFormat constrains the response to a JSON schema.
type ResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *JSONSchemaFormat `json:"json_schema,omitempty"`
}

// JSONSchemaFormat carries the schema of a json_schema response format.
// Name is always present on the wire, null when unset.
type JSONSchemaFormat struct {
	Name   *string         `json:"name"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict"`
}

// ChatResponse is a non-streaming Chat Completions response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object,omitempty"`
	Created int64        `json:"created,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason *string         `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a choice. Content is a
// pointer so that an empty string and an absent field stay distinct.
type ResponseMessage struct {
	Role             string          `json:"role"`
	Content          *string         `json:"content"`
	ToolCalls        []ChatToolCall  `json:"tool_calls,omitempty"`
	ReasoningContent json.RawMessage `json:"reasoning_content,omitempty"`
}

// ChatUsage reports downstream token accounting.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChunk is one streaming chunk.
type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object,omitempty"`
	Created int64         `json:"created,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *ChatUsage    `json:"usage,omitempty"`
}

// ChunkChoice is one choice of a streaming chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental payload of a streaming chunk.
type ChunkDelta struct {
	Role             string          `json:"role,omitempty"`
	Content          *string         `json:"content,omitempty"`
	ToolCalls        []ChunkToolCall `json:"tool_calls,omitempty"`
	ReasoningContent json.RawMessage `json:"reasoning_content,omitempty"`
}

// ChunkToolCall is an incremental tool call fragment. Index keys the
// fragment to its tool call across chunks; ID and Function.Name arrive
// once, Function.Arguments arrives in pieces.
type ChunkToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *ChunkFunctionCall `json:"function,omitempty"`
}

// ChunkFunctionCall carries a fragment of a streamed function call.
type ChunkFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatErrorResponse is the downstream error envelope.
type ChatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
		Code    any    `json:"code,omitempty"`
	} `json:"error"`
}

// ModelsResponse is the downstream /v1/models listing.
type ModelsResponse struct {
	Object string  `json:"object,omitempty"`
	Data   []Model `json:"data"`
}

// Model is one entry of a downstream model listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Reasoning is the decoded object form of a reasoning_content value.
type Reasoning struct {
	Type      string `json:"type,omitempty"`
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

// ReasoningDelta is the decoded object form of a streamed
// reasoning_content fragment.
type ReasoningDelta struct {
	Thinking  *string `json:"thinking,omitempty"`
	Signature *string `json:"signature,omitempty"`
}

package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/compat"
)

// BuildChatRequest converts a Messages request into a Chat Completions
// request. The model on req must already have passed ResolveModel.
func BuildChatRequest(req *api.MessagesRequest, p *Policy) (*compat.ChatRequest, *api.APIError) {
	var effort string
	includeReasoning := false
	if req.Thinking != nil && req.Thinking.BudgetTokens != nil {
		if e, ok := p.EffortFor(*req.Thinking.BudgetTokens); ok {
			effort = e
			includeReasoning = true
		}
	}

	var messages []compat.ChatMessage
	if req.System != nil {
		text, apiErr := systemText(req.System)
		if apiErr != nil {
			return nil, apiErr
		}
		if text != "" {
			messages = append(messages, compat.ChatMessage{Role: "system", Content: text})
		}
	}

	for _, msg := range req.Messages {
		if msg.Role != api.RoleUser && msg.Role != api.RoleAssistant {
			return nil, api.NewInvalidRequestError(fmt.Sprintf("messages: Unexpected role %q", msg.Role))
		}
		converted, apiErr := convertMessage(msg.Role, msg.Content, p, includeReasoning)
		if apiErr != nil {
			return nil, apiErr
		}
		messages = append(messages, converted...)
	}

	out := &compat.ChatRequest{
		Model:               req.Model,
		Messages:            messages,
		MaxCompletionTokens: &req.MaxTokens,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
		Stop:                req.StopSequences,
		Stream:              req.Stream,
		ReasoningEffort:     effort,
	}
	if req.Tools != nil {
		out.Tools = buildTools(req.Tools)
	}
	if req.ToolChoice != nil {
		out.ToolChoice = buildToolChoice(req.ToolChoice)
	}
	if req.OutputFormat != nil {
		out.ResponseFormat = buildResponseFormat(req.OutputFormat, p.OutputStrict)
	}
	if req.Stream != nil {
		out.StreamOptions = &compat.StreamOptions{IncludeUsage: *req.Stream}
	}
	return out, nil
}

// convertMessage expands one source message into the flat message list.
// A single source message can fan out into several downstream messages:
// content parts, tool results, and tool calls each take their own entry.
func convertMessage(role string, content api.MessageContent, p *Policy, includeReasoning bool) ([]compat.ChatMessage, *api.APIError) {
	if content.IsText() {
		msg := compat.ChatMessage{Role: role, Content: content.Text()}
		if includeReasoning && role == api.RoleAssistant {
			msg.ReasoningContent = jsonString("")
		}
		return []compat.ChatMessage{msg}, nil
	}

	var messages []compat.ChatMessage
	var parts []compat.ChatContentPart
	var thinkingText *string

	// flushParts folds the accumulated parts into one downstream message.
	// A single text part collapses to a plain string; anything else stays
	// a part list.
	flushParts := func() {
		if len(parts) == 0 {
			return
		}
		var content any
		if len(parts) == 1 && parts[0].Type == "text" {
			content = parts[0].Text
		} else {
			content = parts
		}
		parts = nil

		msg := compat.ChatMessage{Role: role, Content: content}
		if includeReasoning && role == api.RoleAssistant {
			t := ""
			if thinkingText != nil {
				t = *thinkingText
			}
			msg.ReasoningContent = jsonString(t)
		}
		messages = append(messages, msg)
	}

	for _, block := range content.Blocks() {
		switch block.Type {
		case api.BlockTypeText:
			parts = append(parts, compat.ChatContentPart{Type: "text", Text: block.Text})

		case api.BlockTypeImage:
			if !p.AllowImages {
				return nil, api.NewInvalidRequestError("image content not allowed")
			}
			if block.Source == nil || block.Source.MediaType == "" {
				return nil, api.NewInvalidRequestError("image media_type missing")
			}
			if block.Source.Data == "" {
				return nil, api.NewInvalidRequestError("image data missing")
			}
			url := fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data)
			parts = append(parts, compat.ChatContentPart{Type: "image_url", ImageURL: &compat.ChatImageURL{URL: url}})

		case api.BlockTypeDocument:
			switch p.Documents {
			case DocumentReject:
				return nil, api.NewInvalidRequestError("document content not supported")
			case DocumentStrip:
				continue
			case DocumentTextOnly:
				parts = append(parts, compat.ChatContentPart{Type: "text", Text: "[document omitted]"})
			}

		case api.BlockTypeToolResult:
			flushParts()
			text, err := toolResultText(block.Content)
			if err != nil {
				return nil, api.NewInvalidRequestError("tool_result content invalid: " + err.Error())
			}
			messages = append(messages, compat.ChatMessage{
				Role:       "tool",
				Content:    text,
				ToolCallID: block.ToolUseID,
			})

		case api.BlockTypeToolUse:
			flushParts()
			if role != api.RoleAssistant {
				return nil, api.NewInvalidRequestError("tool_use must be in assistant role")
			}
			arguments, err := compactJSON(block.Input)
			if err != nil {
				return nil, api.NewInvalidRequestError("tool_use input invalid: " + err.Error())
			}
			t := ""
			if thinkingText != nil {
				t = *thinkingText
			}
			reasoning := jsonString(t)
			call := compat.ChatToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: compat.ChatFunctionCall{Name: block.Name, Arguments: arguments},
			}

			// Consecutive tool_use blocks aggregate into one downstream
			// message, matching how the backend emits multiple calls.
			if n := len(messages); n > 0 {
				last := &messages[n-1]
				if last.Role == api.RoleAssistant && last.ToolCalls != nil && last.Content == nil {
					last.ToolCalls = append(last.ToolCalls, call)
					if last.ReasoningContent == nil {
						last.ReasoningContent = reasoning
					}
					continue
				}
			}
			messages = append(messages, compat.ChatMessage{
				Role:             api.RoleAssistant,
				ToolCalls:        []compat.ChatToolCall{call},
				ReasoningContent: reasoning,
			})

		case api.BlockTypeThinking:
			t := block.Thinking
			thinkingText = &t

		case api.BlockTypeRedactedThinking:
			empty := ""
			thinkingText = &empty

		default:
			return nil, api.NewInvalidRequestError(fmt.Sprintf("messages: unsupported content block type %q", block.Type))
		}
	}

	flushParts()
	return messages, nil
}

// systemText folds the system prompt into a single string. Block form
// prompts concatenate their text blocks; any other block type is
// rejected.
func systemText(s *api.SystemPrompt) (string, *api.APIError) {
	if s.IsText() {
		return s.Text(), nil
	}
	var out strings.Builder
	for _, block := range s.Blocks() {
		if block.Type != "text" {
			return "", api.NewInvalidRequestError("system block type not supported: " + block.Type)
		}
		out.WriteString(block.Text)
	}
	return out.String(), nil
}

func buildTools(tools []api.Tool) []compat.ChatTool {
	out := make([]compat.ChatTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, compat.ChatTool{
			Type: "function",
			Function: compat.ChatFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

// buildToolChoice maps the source tool_choice. "any" has no downstream
// equivalent and degrades to "auto"; this broadens model discretion but
// keeps the request valid. Unrecognized types pass through as a mode
// string for the backend to judge.
func buildToolChoice(choice *api.ToolChoice) any {
	switch choice.Type {
	case "auto", "any":
		return "auto"
	case "tool":
		return compat.ToolChoiceFunction{
			Type:     "function",
			Function: compat.ToolChoiceName{Name: choice.Name},
		}
	default:
		return choice.Type
	}
}

func buildResponseFormat(format *api.OutputFormat, strict bool) *compat.ResponseFormat {
	return &compat.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &compat.JSONSchemaFormat{
			Name:   nil,
			Schema: format.Schema,
			Strict: strict,
		},
	}
}

// jsonString quotes s as a JSON string value.
func jsonString(s string) json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return data
}

// compactJSON re-serializes raw without insignificant whitespace. Empty
// input serializes as null.
func compactJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toolResultText renders a tool_result content value for the downstream
// tool message. A JSON string unwraps to its value; anything else is
// serialized as JSON.
func toolResultText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return compactJSON(raw)
}

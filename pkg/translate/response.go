package translate

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/compat"
)

// BuildMessagesResponse converts a downstream response into a Messages
// response. Blocks are ordered thinking, tool_use, text, so reasoning
// content always leads.
func BuildMessagesResponse(resp *compat.ChatResponse) (*api.MessagesResponse, *api.APIError) {
	if len(resp.Choices) == 0 {
		return nil, api.NewAPIError("missing choices in response")
	}
	choice := resp.Choices[0]

	var blocks []api.ContentBlock

	if raw := choice.Message.ReasoningContent; len(raw) > 0 {
		if block, ok := reasoningBlock(raw); ok {
			blocks = append(blocks, block)
		}
	}

	for _, call := range choice.Message.ToolCalls {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(call.Function.Arguments)); err != nil {
			return nil, api.NewInvalidRequestError("invalid tool call arguments: " + err.Error())
		}
		blocks = append(blocks, api.ToolUseBlock(call.ID, call.Function.Name, buf.Bytes()))
	}

	if choice.Message.Content != nil {
		blocks = append(blocks, api.TextBlock(*choice.Message.Content))
	}

	if len(blocks) == 0 {
		return nil, api.NewAPIError("missing assistant content")
	}

	var usage api.Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}

	id := resp.ID
	if id == "" {
		id = api.NewMessageID()
	}

	return &api.MessagesResponse{
		ID:         id,
		Type:       "message",
		Role:       api.RoleAssistant,
		Model:      resp.Model,
		Content:    blocks,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      usage,
	}, nil
}

// reasoningBlock decodes a reasoning_content value into a thinking
// block. A bare string gets the "auto" signature; an object that does
// not parse is skipped rather than failing the response.
func reasoningBlock(raw json.RawMessage) (api.ContentBlock, bool) {
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		var r compat.Reasoning
		if err := json.Unmarshal(raw, &r); err != nil {
			return api.ContentBlock{}, false
		}
		return api.ThinkingBlock(r.Thinking, r.Signature), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return api.ContentBlock{}, false
	}
	return api.ThinkingBlock(s, "auto"), true
}

func mapFinishReason(reason *string) string {
	if reason == nil {
		return api.StopReasonEndTurn
	}
	switch *reason {
	case "length":
		return api.StopReasonMaxTokens
	case "tool_calls":
		return api.StopReasonToolUse
	default:
		return api.StopReasonEndTurn
	}
}

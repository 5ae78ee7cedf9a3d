package translate

import (
	"encoding/json"
	"testing"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/compat"
)

func intPtr(v int) *int          { return &v }
func boolPtr(v bool) *bool       { return &v }
func strPtr(v string) *string    { return &v }
func f64Ptr(v float64) *float64  { return &v }

func userText(s string) api.Message {
	return api.Message{Role: api.RoleUser, Content: api.TextContent(s)}
}

func TestBuildChatRequestTextOnly(t *testing.T) {
	req := &api.MessagesRequest{
		Model:       "gpt-test",
		MaxTokens:   128,
		System:      api.SystemText("be helpful"),
		Messages:    []api.Message{userText("Hello")},
		Temperature: f64Ptr(0.7),
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if out.Model != "gpt-test" {
		t.Errorf("unexpected model %q", out.Model)
	}
	if out.MaxCompletionTokens == nil || *out.MaxCompletionTokens != 128 {
		t.Errorf("max_completion_tokens not set: %+v", out.MaxCompletionTokens)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected system + user, got %d messages", len(out.Messages))
	}
	if out.Messages[0].Role != "system" || out.Messages[0].Content != "be helpful" {
		t.Errorf("unexpected system message: %+v", out.Messages[0])
	}
	if out.Messages[1].Role != "user" || out.Messages[1].Content != "Hello" {
		t.Errorf("unexpected user message: %+v", out.Messages[1])
	}
	if out.StreamOptions != nil {
		t.Error("stream_options must be absent when stream is absent")
	}
	if out.ReasoningEffort != "" {
		t.Errorf("unexpected reasoning effort %q", out.ReasoningEffort)
	}
}

func TestSystemBlocksConcatenate(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		System: api.SystemBlocks(
			api.SystemBlock{Type: "text", Text: "You are "},
			api.SystemBlock{Type: "text", Text: "terse."},
		),
		Messages: []api.Message{userText("hi")},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if out.Messages[0].Role != "system" || out.Messages[0].Content != "You are terse." {
		t.Errorf("unexpected system message: %+v", out.Messages[0])
	}
}

func TestEmptySystemOmitted(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		System:    api.SystemText(""),
		Messages:  []api.Message{userText("hi")},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Errorf("empty system should not produce a message: %+v", out.Messages)
	}
}

func TestSystemBlocksRejectNonText(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		System:    api.SystemBlocks(api.SystemBlock{Type: "image"}),
		Messages:  []api.Message{userText("hi")},
	}
	_, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr == nil || apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Fatalf("expected invalid_request_error, got %+v", apiErr)
	}
	if apiErr.Message != "system block type not supported: image" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestStreamSetsStreamOptions(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages:  []api.Message{userText("hi")},
		Stream:    boolPtr(true),
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if out.Stream == nil || !*out.Stream {
		t.Error("stream flag not carried")
	}
	if out.StreamOptions == nil || !out.StreamOptions.IncludeUsage {
		t.Errorf("stream_options not set: %+v", out.StreamOptions)
	}
}

func TestRejectsUnexpectedRole(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages:  []api.Message{{Role: "system", Content: api.TextContent("x")}},
	}
	_, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr == nil || apiErr.Message != `messages: Unexpected role "system"` {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestToolUseOutsideAssistantRejected(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages: []api.Message{{
			Role:    api.RoleUser,
			Content: api.BlocksContent(api.ToolUseBlock("t1", "f", json.RawMessage(`{}`))),
		}},
	}
	_, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr == nil || apiErr.Message != "tool_use must be in assistant role" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestToolsAndChoiceMapping(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages:  []api.Message{userText("weather?")},
		Tools: []api.Tool{{
			Name:        "get_weather",
			Description: "Look up weather",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		}},
		ToolChoice: &api.ToolChoice{Type: "tool", Name: "get_weather"},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if len(out.Tools) != 1 || out.Tools[0].Type != "function" || out.Tools[0].Function.Name != "get_weather" {
		t.Errorf("unexpected tools: %+v", out.Tools)
	}
	forced, ok := out.ToolChoice.(compat.ToolChoiceFunction)
	if !ok || forced.Function.Name != "get_weather" {
		t.Errorf("unexpected tool_choice: %+v", out.ToolChoice)
	}
}

func TestToolChoiceModes(t *testing.T) {
	for _, tc := range []struct {
		choiceType string
		want       string
	}{
		{"auto", "auto"},
		{"any", "auto"},
		{"none", "none"},
	} {
		got := buildToolChoice(&api.ToolChoice{Type: tc.choiceType})
		if got != tc.want {
			t.Errorf("%s: got %v, want %q", tc.choiceType, got, tc.want)
		}
	}
}

func TestOutputFormatMapping(t *testing.T) {
	req := &api.MessagesRequest{
		Model:        "gpt-test",
		MaxTokens:    16,
		Messages:     []api.Message{userText("hi")},
		OutputFormat: &api.OutputFormat{Type: "json_schema", Schema: json.RawMessage(`{"type":"object"}`)},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	rf := out.ResponseFormat
	if rf == nil || rf.Type != "json_schema" || rf.JSONSchema == nil {
		t.Fatalf("response_format missing: %+v", rf)
	}
	if rf.JSONSchema.Name != nil {
		t.Errorf("schema name should be null, got %v", rf.JSONSchema.Name)
	}
	if !rf.JSONSchema.Strict {
		t.Error("strict flag should follow policy")
	}
	if string(rf.JSONSchema.Schema) != `{"type":"object"}` {
		t.Errorf("schema not carried: %s", rf.JSONSchema.Schema)
	}
}

func TestToolUsesAggregateIntoSingleMessage(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 10,
		Messages: []api.Message{{
			Role: api.RoleAssistant,
			Content: api.BlocksContent(
				api.ToolUseBlock("tool_1", "get_weather", json.RawMessage(`{"location":"Beijing"}`)),
				api.ToolUseBlock("tool_2", "get_time", json.RawMessage(`{"tz":"Asia/Shanghai"}`)),
			),
		}},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("expected 1 aggregated message, got %d", len(out.Messages))
	}
	msg := out.Messages[0]
	if msg.Role != "assistant" || msg.Content != nil {
		t.Errorf("unexpected aggregated message: %+v", msg)
	}
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].Function.Name != "get_weather" || msg.ToolCalls[1].Function.Name != "get_time" {
		t.Errorf("unexpected tool calls: %+v", msg.ToolCalls)
	}
	if msg.ToolCalls[0].Function.Arguments != `{"location":"Beijing"}` {
		t.Errorf("unexpected arguments: %s", msg.ToolCalls[0].Function.Arguments)
	}
}

func TestThinkingBudgetDrivesReasoning(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages: []api.Message{
			userText("hi"),
			{Role: api.RoleAssistant, Content: api.TextContent("hello")},
		},
		Thinking: &api.ThinkingConfig{Type: "enabled", BudgetTokens: intPtr(5000)},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if out.ReasoningEffort != "medium" {
		t.Errorf("budget 5000 should map to medium, got %q", out.ReasoningEffort)
	}
	if string(out.Messages[1].ReasoningContent) != `""` {
		t.Errorf("assistant message should carry empty reasoning, got %s", out.Messages[1].ReasoningContent)
	}
	if out.Messages[0].ReasoningContent != nil {
		t.Error("user message must not carry reasoning")
	}
}

func TestUnmappedBudgetOmitsEffort(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages:  []api.Message{userText("hi")},
		Thinking:  &api.ThinkingConfig{Type: "enabled", BudgetTokens: intPtr(100)},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if out.ReasoningEffort != "" {
		t.Errorf("unmapped budget must omit effort, got %q", out.ReasoningEffort)
	}
	if out.Messages[0].ReasoningContent != nil {
		t.Error("reasoning must stay off when effort is unmapped")
	}
}

func TestThinkingBlockFeedsToolCallReasoning(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages: []api.Message{{
			Role: api.RoleAssistant,
			Content: api.BlocksContent(
				api.ThinkingBlock("check the forecast", "sig"),
				api.ToolUseBlock("tool_1", "get_weather", json.RawMessage(`{}`)),
			),
		}},
		Thinking: &api.ThinkingConfig{Type: "enabled", BudgetTokens: intPtr(5000)},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out.Messages))
	}
	if string(out.Messages[0].ReasoningContent) != `"check the forecast"` {
		t.Errorf("unexpected reasoning: %s", out.Messages[0].ReasoningContent)
	}
}

func TestRedactedThinkingClearsReasoning(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages: []api.Message{{
			Role: api.RoleAssistant,
			Content: api.BlocksContent(
				api.ContentBlock{Type: api.BlockTypeRedactedThinking, Data: "opaque"},
				api.ToolUseBlock("tool_1", "get_weather", json.RawMessage(`{}`)),
			),
		}},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if string(out.Messages[0].ReasoningContent) != `""` {
		t.Errorf("redacted thinking should yield empty reasoning, got %s", out.Messages[0].ReasoningContent)
	}
}

func TestImageBlocks(t *testing.T) {
	imageMsg := func(source *api.BlockSource) []api.Message {
		return []api.Message{{
			Role:    api.RoleUser,
			Content: api.BlocksContent(api.ContentBlock{Type: api.BlockTypeImage, Source: source}),
		}}
	}

	p := testPolicy()
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages:  imageMsg(&api.BlockSource{Type: "base64", MediaType: "image/png", Data: "aGk="}),
	}
	out, apiErr := BuildChatRequest(req, p)
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	parts, ok := out.Messages[0].Content.([]compat.ChatContentPart)
	if !ok || len(parts) != 1 {
		t.Fatalf("expected single image part, got %+v", out.Messages[0].Content)
	}
	if parts[0].ImageURL.URL != "data:image/png;base64,aGk=" {
		t.Errorf("unexpected data url %q", parts[0].ImageURL.URL)
	}

	req.Messages = imageMsg(&api.BlockSource{Type: "base64", Data: "aGk="})
	if _, apiErr = BuildChatRequest(req, p); apiErr == nil || apiErr.Message != "image media_type missing" {
		t.Errorf("unexpected error: %+v", apiErr)
	}

	req.Messages = imageMsg(&api.BlockSource{Type: "base64", MediaType: "image/png"})
	if _, apiErr = BuildChatRequest(req, p); apiErr == nil || apiErr.Message != "image data missing" {
		t.Errorf("unexpected error: %+v", apiErr)
	}

	p.AllowImages = false
	req.Messages = imageMsg(&api.BlockSource{Type: "base64", MediaType: "image/png", Data: "aGk="})
	if _, apiErr = BuildChatRequest(req, p); apiErr == nil || apiErr.Message != "image content not allowed" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestDocumentPolicies(t *testing.T) {
	docRequest := func() *api.MessagesRequest {
		return &api.MessagesRequest{
			Model:     "gpt-test",
			MaxTokens: 16,
			Messages: []api.Message{{
				Role: api.RoleUser,
				Content: api.BlocksContent(
					api.TextBlock("see attachment"),
					api.ContentBlock{Type: api.BlockTypeDocument, Source: &api.BlockSource{Type: "base64"}},
				),
			}},
		}
	}

	p := testPolicy()
	p.Documents = DocumentReject
	if _, apiErr := BuildChatRequest(docRequest(), p); apiErr == nil || apiErr.Message != "document content not supported" {
		t.Errorf("reject policy: unexpected error %+v", apiErr)
	}

	p.Documents = DocumentStrip
	out, apiErr := BuildChatRequest(docRequest(), p)
	if apiErr != nil {
		t.Fatalf("strip policy failed: %v", apiErr)
	}
	if out.Messages[0].Content != "see attachment" {
		t.Errorf("strip policy: unexpected content %+v", out.Messages[0].Content)
	}

	p.Documents = DocumentTextOnly
	out, apiErr = BuildChatRequest(docRequest(), p)
	if apiErr != nil {
		t.Fatalf("text_only policy failed: %v", apiErr)
	}
	parts, ok := out.Messages[0].Content.([]compat.ChatContentPart)
	if !ok || len(parts) != 2 || parts[1].Text != "[document omitted]" {
		t.Errorf("text_only policy: unexpected content %+v", out.Messages[0].Content)
	}
}

func TestToolResultMessages(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages: []api.Message{{
			Role: api.RoleUser,
			Content: api.BlocksContent(
				api.ContentBlock{Type: api.BlockTypeToolResult, ToolUseID: "tool_1", Content: json.RawMessage(`"sunny"`)},
				api.ContentBlock{Type: api.BlockTypeToolResult, ToolUseID: "tool_2", Content: json.RawMessage(`{"temp": 21}`)},
			),
		}},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected 2 tool messages, got %d", len(out.Messages))
	}
	if out.Messages[0].Role != "tool" || out.Messages[0].ToolCallID != "tool_1" || out.Messages[0].Content != "sunny" {
		t.Errorf("string result: unexpected message %+v", out.Messages[0])
	}
	if out.Messages[1].Content != `{"temp":21}` {
		t.Errorf("object result should serialize compactly, got %v", out.Messages[1].Content)
	}
}

func TestUnsupportedBlockTypeRejected(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages: []api.Message{{
			Role:    api.RoleUser,
			Content: api.BlocksContent(api.ContentBlock{Type: "audio"}),
		}},
	}
	_, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr == nil || apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Fatalf("expected invalid_request_error, got %+v", apiErr)
	}
}

func TestSingleNonTextPartStaysList(t *testing.T) {
	req := &api.MessagesRequest{
		Model:     "gpt-test",
		MaxTokens: 16,
		Messages: []api.Message{{
			Role: api.RoleUser,
			Content: api.BlocksContent(api.ContentBlock{
				Type:   api.BlockTypeImage,
				Source: &api.BlockSource{Type: "base64", MediaType: "image/png", Data: "aGk="},
			}),
		}},
	}
	out, apiErr := BuildChatRequest(req, testPolicy())
	if apiErr != nil {
		t.Fatalf("BuildChatRequest failed: %v", apiErr)
	}
	if _, ok := out.Messages[0].Content.([]compat.ChatContentPart); !ok {
		t.Errorf("single image part must stay a part list, got %T", out.Messages[0].Content)
	}
}

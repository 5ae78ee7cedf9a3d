// Command mock-backend runs a deterministic Chat Completions server for
// exercising the gateway without a real backend. Responses are chosen by
// inspecting the request: tool declarations trigger a tool call, a
// reasoning_effort setting adds reasoning content, and everything else
// gets a short text reply. Streaming responses split the same content
// into chunks, with tool-call arguments delivered as fragments.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthroute/anthroute/pkg/compat"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req compat.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	if req.Stream != nil && *req.Stream {
		handleStreaming(w, &req, model)
		return
	}

	resp := classifyAndRespond(&req)
	resp.Model = model
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func classifyAndRespond(req *compat.ChatRequest) compat.ChatResponse {
	if len(req.Tools) > 0 {
		return toolCallResponse()
	}
	if req.ReasoningEffort != "" {
		return reasoningResponse()
	}
	return textResponse(replyFor(req))
}

func replyFor(req *compat.ChatRequest) string {
	last := lastUserMessage(req)
	if strings.Contains(strings.ToLower(last), "count from 1 to 5") {
		return "1, 2, 3, 4, 5"
	}
	return "Hello, nice day!"
}

func textResponse(text string) compat.ChatResponse {
	finish := "stop"
	return compat.ChatResponse{
		ID:     "chatcmpl-mock-text",
		Object: "chat.completion",
		Choices: []compat.ChatChoice{
			{
				Index:        0,
				Message:      compat.ResponseMessage{Role: "assistant", Content: &text},
				FinishReason: &finish,
			},
		},
		Usage: &compat.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func reasoningResponse() compat.ChatResponse {
	resp := textResponse("The answer is 4.")
	resp.Choices[0].Message.ReasoningContent = json.RawMessage(
		`{"type":"thinking","thinking":"2 + 2 equals 4.","signature":"mock-sig"}`)
	return resp
}

func toolCallResponse() compat.ChatResponse {
	finish := "tool_calls"
	return compat.ChatResponse{
		ID:     "chatcmpl-mock-tool",
		Object: "chat.completion",
		Choices: []compat.ChatChoice{
			{
				Index: 0,
				Message: compat.ResponseMessage{
					Role: "assistant",
					ToolCalls: []compat.ChatToolCall{
						{
							ID:   "call_mock_1",
							Type: "function",
							Function: compat.ChatFunctionCall{
								Name:      "get_weather",
								Arguments: `{"location":"San Francisco","unit":"celsius"}`,
							},
						},
					},
				},
				FinishReason: &finish,
			},
		},
		Usage: &compat.ChatUsage{PromptTokens: 20, CompletionTokens: 15, TotalTokens: 35},
	}
}

func handleStreaming(w http.ResponseWriter, req *compat.ChatRequest, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if len(req.Tools) > 0 {
		streamToolCall(w, flusher, model)
		return
	}

	tokens := strings.SplitAfter(replyFor(req), " ")
	writeChunk(w, flusher, model, map[string]any{"role": "assistant"}, nil, nil)
	for _, token := range tokens {
		writeChunk(w, flusher, model, map[string]any{"content": token}, nil, nil)
	}
	finish := "stop"
	writeChunk(w, flusher, model, map[string]any{}, &finish, &compat.ChatUsage{
		PromptTokens: 10, CompletionTokens: len(tokens), TotalTokens: 10 + len(tokens),
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// streamToolCall delivers one tool call with the arguments split across
// chunks, the way real backends fragment long argument strings.
func streamToolCall(w http.ResponseWriter, flusher http.Flusher, model string) {
	writeChunk(w, flusher, model, map[string]any{
		"role": "assistant",
		"tool_calls": []map[string]any{
			{"index": 0, "id": "call_mock_1", "type": "function",
				"function": map[string]any{"name": "get_weather", "arguments": ""}},
		},
	}, nil, nil)
	for _, fragment := range []string{`{"location":"San`, ` Francisco"`, `,"unit":"celsius"}`} {
		writeChunk(w, flusher, model, map[string]any{
			"tool_calls": []map[string]any{
				{"index": 0, "function": map[string]any{"arguments": fragment}},
			},
		}, nil, nil)
	}
	finish := "tool_calls"
	writeChunk(w, flusher, model, map[string]any{}, &finish, &compat.ChatUsage{
		PromptTokens: 20, CompletionTokens: 15, TotalTokens: 35,
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, model string, delta map[string]any, finish *string, usage *compat.ChatUsage) {
	chunk := map[string]any{
		"id":     "chatcmpl-mock-stream",
		"object": "chat.completion.chunk",
		"model":  model,
		"choices": []any{
			map[string]any{"index": 0, "delta": delta, "finish_reason": finish},
		},
	}
	if usage != nil {
		chunk["usage"] = usage
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := compat.ModelsResponse{
		Object: "list",
		Data: []compat.Model{
			{ID: "mock-model", Object: "model", Created: 1700000000, OwnedBy: "anthroute-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func lastUserMessage(req *compat.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		switch v := req.Messages[i].Content.(type) {
		case string:
			return v
		case []any:
			for _, part := range v {
				if m, ok := part.(map[string]any); ok {
					if t, _ := m["type"].(string); t == "text" {
						if text, ok := m["text"].(string); ok {
							return text
						}
					}
				}
			}
		}
	}
	return ""
}

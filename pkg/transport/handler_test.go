package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/audit"
	"github.com/anthroute/anthroute/pkg/compat"
	"github.com/anthroute/anthroute/pkg/observability"
	"github.com/anthroute/anthroute/pkg/translate"
)

func testPolicy() *translate.Policy {
	p := &translate.Policy{
		Rename:       map[string]string{"claude-x": "gpt-test"},
		Block:        map[string]bool{"gpt-blocked": true},
		OutputStrict: true,
		AllowImages:  true,
		Efforts: []translate.EffortLevel{
			{Threshold: 1024, Effort: "low"},
		},
	}
	return p
}

func newTestHandler(t *testing.T, mode string, downstream http.Handler, opts ...func(*HandlerConfig)) (*Handler, *httptest.Server) {
	t.Helper()
	backend := httptest.NewServer(downstream)
	t.Cleanup(backend.Close)

	cfg := HandlerConfig{
		Mode:   mode,
		Policy: testPolicy(),
		Client: compat.NewClient(compat.Options{
			BaseURL: backend.URL,
			APIKey:  "sk-test",
		}),
		MaxInflight: 8,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewHandler(cfg), backend
}

func postMessages(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestTranslateNonStreaming(t *testing.T) {
	var gotModel string
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected downstream path %q", r.URL.Path)
		}
		var chatReq compat.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
			t.Fatalf("decoding downstream request: %v", err)
		}
		gotModel = chatReq.Model
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`)
	}))

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if gotModel != "gpt-test" {
		t.Errorf("model not renamed downstream: %q", gotModel)
	}

	var resp api.MessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Type != "message" || resp.Role != "assistant" {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("unexpected stop_reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if !strings.Contains(rec.Body.String(), `"text":"Hello!"`) {
		t.Errorf("text block missing: %s", rec.Body.String())
	}
}

func TestTranslateStreaming(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"event: message_start",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
		`"text":"Hel"`,
		`"output_tokens":2`,
		`"stop_reason":"end_turn"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "[DONE]") {
		t.Errorf("source stream must not carry the [DONE] sentinel:\n%s", body)
	}
}

func TestTranslateStreamingMalformedChunk(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
	}))

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	body := rec.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected in-band error event:\n%s", body)
	}
	if strings.Contains(body, "event: message_stop") {
		t.Errorf("message_stop must not follow an error:\n%s", body)
	}
}

func TestModelBlocked(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("downstream must not be called for a blocked model")
	}))

	rec := postMessages(t, h, `{"model":"gpt-blocked","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model is blocked") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestRenamedModelGated(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("downstream must not be called")
	}), func(cfg *HandlerConfig) {
		cfg.Policy.Rename["claude-x"] = "gpt-blocked"
	})

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("rename must not sidestep the blocklist, got %d", rec.Code)
	}
}

func TestDownstreamErrorPreservesStatus(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"backend down","type":"server_error"}}`)
	}))

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("downstream status not preserved: %d", rec.Code)
	}
	var env api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	if env.Error.Type != api.ErrorTypeAPI || env.Error.Message != "backend down" {
		t.Errorf("unexpected error: %+v", env.Error)
	}
}

func TestInvalidJSONRejected(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("downstream must not be called")
	}))

	rec := postMessages(t, h, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request_error") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestBodyTooLarge(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("downstream must not be called")
	}), func(cfg *HandlerConfig) {
		cfg.MaxBodyBytes = 64
	})

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"`+strings.Repeat("a", 200)+`"}]}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestInflightRejection(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}), func(cfg *HandlerConfig) {
		cfg.MaxInflight = 1
	})

	gateway := httptest.NewServer(h.Routes())
	defer gateway.Close()
	defer close(release)

	body := `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`
	firstDone := make(chan error, 1)
	go func() {
		resp, err := http.Post(gateway.URL+"/v1/messages", "application/json", strings.NewReader(body))
		if err == nil {
			resp.Body.Close()
		}
		firstDone <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the downstream")
	}

	resp, err := http.Post(gateway.URL+"/v1/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while limiter is full, got %d", resp.StatusCode)
	}
	out, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(out), "too many in-flight requests") {
		t.Errorf("unexpected body: %s", out)
	}

	release <- struct{}{}
	if err := <-firstDone; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
}

func newAuditLogger(t *testing.T) (*audit.Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := audit.New(audit.Config{Path: path, MaxBodyBytes: 1 << 20, MaxSizeMB: 1, MaxBackups: 1})
	return logger, path
}

// readAuditRecords closes the logger to drain the queue, then decodes
// every line in the log file.
func readAuditRecords(t *testing.T, logger *audit.Logger, path string) []audit.Record {
	t.Helper()
	if err := logger.Close(); err != nil {
		t.Fatalf("closing audit log: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	var records []audit.Record
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decoding audit line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestAuditRecordsExchange(t *testing.T) {
	logger, path := newAuditLogger(t)
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}]}`)
	}), func(cfg *HandlerConfig) {
		cfg.Audit = logger
	})

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	records := readAuditRecords(t, logger, path)
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
	got := records[0]
	if got.Mode != "translate" || got.Model != "claude-x" || got.Status != http.StatusOK {
		t.Errorf("unexpected record: %+v", got)
	}
	if !strings.Contains(got.RequestBody, `"claude-x"`) {
		t.Errorf("request body not captured: %q", got.RequestBody)
	}
	if !strings.Contains(got.ResponseBody, `"text":"Hello!"`) {
		t.Errorf("response body not captured: %q", got.ResponseBody)
	}
}

func TestAuditRecordsStreamedContent(t *testing.T) {
	logger, path := newAuditLogger(t)
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}), func(cfg *HandlerConfig) {
		cfg.Audit = logger
	})

	rec := postMessages(t, h, `{"model":"claude-x","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	records := readAuditRecords(t, logger, path)
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
	got := records[0]
	if !got.Stream || got.Status != http.StatusOK {
		t.Errorf("unexpected record: %+v", got)
	}
	if !strings.Contains(got.ResponseBody, `"text":"Hello"`) {
		t.Errorf("aggregated stream text not captured: %q", got.ResponseBody)
	}
}

func waitForGauge(t *testing.T, g prometheus.Gauge, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		m := &dto.Metric{}
		if err := g.Write(m); err != nil {
			t.Fatalf("reading gauge: %v", err)
		}
		if m.GetGauge().GetValue() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("gauge stuck at %v, want %v", m.GetGauge().GetValue(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamingConnectionsGauge(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
		w.(http.Flusher).Flush()
		close(entered)
		<-release
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	gateway := httptest.NewServer(h.Routes())
	defer gateway.Close()

	done := make(chan error, 1)
	go func() {
		resp, err := http.Post(gateway.URL+"/v1/messages", "application/json",
			strings.NewReader(`{"model":"claude-x","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`))
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never reached the downstream")
	}
	waitForGauge(t, observability.StreamingConnections, 1)

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("streaming request failed: %v", err)
	}
	waitForGauge(t, observability.StreamingConnections, 0)
}

func TestModelsOverride(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("downstream must not be called with a configured override")
	}), func(cfg *HandlerConfig) {
		cfg.ModelsOverride = []api.ModelInfo{
			{ID: "gpt-test", Type: "model", DisplayName: "GPT Test", CreatedAt: "2023-11-14T22:13:20Z"},
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp api.ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].DisplayName != "GPT Test" {
		t.Errorf("unexpected listing: %+v", resp.Data)
	}
}

func TestModelsTranslated(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected downstream path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","created":1700000000,"owned_by":"test"}]}`)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("unexpected listing: %+v", resp.Data)
	}
	if resp.Data[0].DisplayName != "GPT 4O Mini" {
		t.Errorf("unexpected display name %q", resp.Data[0].DisplayName)
	}
	if resp.Data[0].CreatedAt != "2023-11-14T22:13:20Z" {
		t.Errorf("unexpected created_at %q", resp.Data[0].CreatedAt)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t, "translate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

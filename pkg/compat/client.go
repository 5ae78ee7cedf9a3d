package compat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthroute/anthroute/pkg/api"
)

// Options configures a Client.
type Options struct {
	BaseURL            string
	APIKey             string
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	PoolMaxIdlePerHost int
}

// Client performs HTTP requests against a Chat Completions backend.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string
}

// ChunkEvent is one item of a streaming response: a decoded chunk, the
// end-of-stream sentinel, or a fatal error. Exactly one field is set.
type ChunkEvent struct {
	Chunk *ChatChunk
	Done  bool
	Err   *api.APIError
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")

	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.PoolMaxIdlePerHost == 0 {
		opts.PoolMaxIdlePerHost = 64
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: opts.PoolMaxIdlePerHost,
		MaxIdleConns:        opts.PoolMaxIdlePerHost,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.ReadTimeout,
		},
		// Streams and forwarded requests can legitimately outlive any
		// fixed timeout; their lifetime is controlled by the context.
		streamClient: &http.Client{
			Transport: transport,
		},
		baseURL: baseURL,
		apiKey:  opts.APIKey,
	}
}

// ChatCompletionsURL returns the resolved Chat Completions endpoint.
// A base URL that already ends in /v1 is not suffixed twice.
func (c *Client) ChatCompletionsURL() string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + "/chat/completions"
	}
	return c.baseURL + "/v1/chat/completions"
}

// ModelsURL returns the resolved models listing endpoint.
func (c *Client) ModelsURL() string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + "/models"
	}
	return c.baseURL + "/v1/models"
}

// Host returns the host (with port, if any) of the backend base URL.
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Complete performs a non-streaming Chat Completions request.
func (c *Client) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to marshal downstream request: %s", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ChatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to create downstream request: %s", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(httpResp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to parse downstream response: %s", err))
	}
	return &chatResp, nil
}

// Stream performs a streaming Chat Completions request and returns a
// channel of chunk events. The channel is closed after the [DONE]
// sentinel, a fatal error, or context cancellation.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (<-chan ChunkEvent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to marshal downstream request: %s", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ChatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to create downstream request: %s", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}

	// Reject error statuses before committing to the stream.
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, MapHTTPError(httpResp)
	}

	ch := make(chan ChunkEvent, 16)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		parseChunks(ctx, httpResp.Body, ch)
	}()
	return ch, nil
}

// parseChunks reads SSE lines from the downstream body, decodes data
// payloads into chunks, and sends them on ch. A malformed payload is
// fatal: the downstream contract is broken and resynchronizing would
// risk emitting partial content.
func parseChunks(ctx context.Context, body io.Reader, ch chan<- ChunkEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		if payload == "[DONE]" {
			ch <- ChunkEvent{Done: true}
			return
		}

		var chunk ChatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			ch <- ChunkEvent{Err: api.NewAPIError("invalid stream chunk")}
			return
		}
		ch <- ChunkEvent{Chunk: &chunk}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		ch <- ChunkEvent{Err: api.NewAPIError("downstream stream read error: " + err.Error())}
	}
}

// ListModels fetches the downstream model listing.
func (c *Client) ListModels(ctx context.Context) (*ModelsResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ModelsURL(), nil)
	if err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to create downstream request: %s", err))
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(httpResp)
	}

	var modelsResp ModelsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&modelsResp); err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to parse downstream models response: %s", err))
	}
	return &modelsResp, nil
}

// Forward posts an unmodified request body to the Chat Completions
// endpoint with the given headers. The response is returned as-is so the
// caller can relay status, headers, and body bytes, including streams.
// The caller owns the response body.
func (c *Client) Forward(ctx context.Context, header http.Header, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ChatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, api.NewAPIError(fmt.Sprintf("failed to create downstream request: %s", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	return httpResp, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

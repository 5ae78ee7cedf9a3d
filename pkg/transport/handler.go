package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/audit"
	"github.com/anthroute/anthroute/pkg/compat"
	"github.com/anthroute/anthroute/pkg/observability"
	"github.com/anthroute/anthroute/pkg/translate"
)

// HandlerConfig holds the collaborators and settings for the gateway
// handler.
type HandlerConfig struct {
	Mode           string // "translate" or "passthrough"
	Policy         *translate.Policy
	Client         *compat.Client
	Audit          *audit.Logger // nil disables audit logging
	Logger         *slog.Logger
	MaxInflight    int64
	MaxBodyBytes   int64
	ModelsOverride []api.ModelInfo // served instead of the downstream listing when non-empty
}

// Handler serves the Messages API, dispatching exchanges to the
// configured downstream in translate or passthrough mode.
type Handler struct {
	mode         string
	policy       *translate.Policy
	client       *compat.Client
	audit        *audit.Logger
	logger       *slog.Logger
	limiter      *Limiter
	maxBodyBytes int64
	override     []api.ModelInfo
}

// NewHandler creates a gateway handler from the given configuration.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 512
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &Handler{
		mode:         cfg.Mode,
		policy:       cfg.Policy,
		client:       cfg.Client,
		audit:        cfg.Audit,
		logger:       logger,
		limiter:      NewLimiter(maxInflight),
		maxBodyBytes: maxBodyBytes,
		override:     cfg.ModelsOverride,
	}
}

// Routes returns the full http.Handler with routing and the middleware
// chain (metrics, request ID, logging, recovery) applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", h.handleMessages)
	mux.HandleFunc("GET /v1/models", h.handleModels)
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	var handler http.Handler = mux
	handler = Recovery(h.logger, handler)
	handler = Logging(h.logger, handler)
	handler = RequestID(handler)
	handler = observability.MetricsMiddleware(h.mode, handler)
	return handler
}

// handleMessages handles POST /v1/messages.
func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w,
				api.NewInvalidRequestError(fmt.Sprintf("request body too large (max %d bytes)", h.maxBodyBytes)),
				http.StatusRequestEntityTooLarge)
			return
		}
		WriteAPIError(w, api.NewInvalidRequestError("failed to read request body: "+err.Error()))
		return
	}

	// The model and stream flag drive dispatch in both modes, so sniff
	// them from the raw JSON before any decoding.
	model := gjson.GetBytes(body, "model").String()
	stream := gjson.GetBytes(body, "stream").Bool()

	rec := &audit.Record{
		Time:        start,
		RequestID:   RequestIDFromContext(r.Context()),
		Mode:        h.mode,
		Model:       model,
		Stream:      stream,
		Headers:     audit.CaptureHeaders(r.Header),
		RequestBody: string(body),
	}
	defer func() {
		rec.DurationMS = time.Since(start).Milliseconds()
		if h.audit != nil {
			h.audit.Write(*rec)
		}
	}()

	if !h.limiter.Acquire() {
		h.writeError(w, rec, api.NewRateLimitError("too many in-flight requests"))
		return
	}
	defer h.limiter.Release()

	if h.mode == "passthrough" {
		h.servePassthrough(w, r, body, model, rec)
		return
	}
	h.serveTranslate(w, r, body, rec)
}

// serveTranslate decodes the Messages request, translates it, and
// dispatches to the downstream in either streaming or buffered form.
func (h *Handler) serveTranslate(w http.ResponseWriter, r *http.Request, body []byte, rec *audit.Record) {
	var req api.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, rec, api.NewInvalidRequestError("invalid JSON: "+err.Error()))
		return
	}

	resolved, apiErr := h.policy.ResolveModel(req.Model)
	if apiErr != nil {
		h.writeError(w, rec, apiErr)
		return
	}

	chatReq, apiErr := translate.BuildChatRequest(&req, h.policy)
	if apiErr != nil {
		h.writeError(w, rec, apiErr)
		return
	}
	chatReq.Model = resolved

	if req.Stream != nil && *req.Stream {
		h.serveTranslateStream(w, r, chatReq, rec)
		return
	}

	resp, err := h.client.Complete(r.Context(), chatReq)
	if err != nil {
		apiErr := api.AsAPIError(err)
		observability.DownstreamRequestsTotal.WithLabelValues(statusClass(apiErr.HTTPStatus())).Inc()
		h.writeError(w, rec, apiErr)
		return
	}
	observability.DownstreamRequestsTotal.WithLabelValues("2xx").Inc()

	msgResp, apiErr := translate.BuildMessagesResponse(resp)
	if apiErr != nil {
		h.writeError(w, rec, apiErr)
		return
	}
	observability.TokensTotal.WithLabelValues("input").Add(float64(msgResp.Usage.InputTokens))
	observability.TokensTotal.WithLabelValues("output").Add(float64(msgResp.Usage.OutputTokens))

	out, err := json.Marshal(msgResp)
	if err != nil {
		h.writeError(w, rec, api.NewAPIError("failed to encode response: "+err.Error()))
		return
	}
	rec.Status = http.StatusOK
	rec.ResponseBody = string(out)
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// serveTranslateStream relays a streaming exchange, feeding downstream
// chunks through the stream translator and writing the produced events
// over SSE.
func (h *Handler) serveTranslateStream(w http.ResponseWriter, r *http.Request, chatReq *compat.ChatRequest, rec *audit.Record) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, err := h.client.Stream(ctx, chatReq)
	if err != nil {
		apiErr := api.AsAPIError(err)
		observability.DownstreamRequestsTotal.WithLabelValues(statusClass(apiErr.HTTPStatus())).Inc()
		h.writeError(w, rec, apiErr)
		return
	}
	observability.DownstreamRequestsTotal.WithLabelValues("2xx").Inc()
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	sw := newSSEWriter(w)
	st := translate.NewStreamState()
	rec.Status = http.StatusOK

	for ev := range ch {
		if ev.Err != nil {
			h.writeStreamError(w, sw, rec, ev.Err)
			return
		}
		if ev.Done {
			events, apiErr := st.Finish()
			if writeErr := sw.WriteEvents(events); writeErr != nil {
				h.disconnect(rec, writeErr)
				return
			}
			if apiErr != nil {
				h.writeStreamError(w, sw, rec, apiErr)
				return
			}
			if snapshot, err := json.Marshal(st.ContentSnapshot()); err == nil {
				rec.ResponseBody = string(snapshot)
			}
			usage := st.Usage()
			observability.TokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
			observability.TokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
			return
		}
		events, apiErr := st.Apply(ev.Chunk)
		if writeErr := sw.WriteEvents(events); writeErr != nil {
			h.disconnect(rec, writeErr)
			return
		}
		if apiErr != nil {
			h.writeStreamError(w, sw, rec, apiErr)
			return
		}
	}
}

// handleModels handles GET /v1/models. A configured static override is
// served directly; otherwise the downstream listing is fetched and
// translated.
func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	if len(h.override) > 0 {
		writeJSON(w, http.StatusOK, &api.ModelsResponse{Data: h.override})
		return
	}

	listing, err := h.client.ListModels(r.Context())
	if err != nil {
		apiErr := api.AsAPIError(err)
		observability.DownstreamRequestsTotal.WithLabelValues(statusClass(apiErr.HTTPStatus())).Inc()
		WriteAPIError(w, apiErr)
		return
	}
	observability.DownstreamRequestsTotal.WithLabelValues("2xx").Inc()

	out, apiErr := translate.BuildModelsResponse(listing, h.policy.Display)
	if apiErr != nil {
		WriteAPIError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealthz handles GET /healthz.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError records and writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, rec *audit.Record, apiErr *api.APIError) {
	rec.Status = apiErr.HTTPStatus()
	rec.Error = apiErr.Error()
	WriteAPIError(w, apiErr)
}

// writeStreamError delivers an error for a streaming exchange. Before the
// first event the response is still uncommitted and gets a JSON error
// with the proper status; afterwards the error goes in-band as a terminal
// error event.
func (h *Handler) writeStreamError(w http.ResponseWriter, sw *sseWriter, rec *audit.Record, apiErr *api.APIError) {
	rec.Error = apiErr.Error()
	if !sw.Started() {
		rec.Status = apiErr.HTTPStatus()
		WriteAPIError(w, apiErr)
		return
	}
	observability.ErrorsTotal.WithLabelValues(string(apiErr.Type)).Inc()
	if err := sw.WriteEvent(api.NewErrorEvent(apiErr)); err != nil {
		h.disconnect(rec, err)
	}
}

// disconnect records a client write failure mid-stream.
func (h *Handler) disconnect(rec *audit.Record, err error) {
	rec.Error = "client disconnected: " + err.Error()
	h.logger.Debug("stream write failed",
		slog.String("request_id", rec.RequestID),
		slog.String("error", err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusClass renders a status code as its class label, like "2xx".
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

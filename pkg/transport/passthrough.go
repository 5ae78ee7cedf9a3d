package transport

import (
	"io"
	"net/http"
	"strings"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/audit"
	"github.com/anthroute/anthroute/pkg/observability"
)

// hopHeaders are not forwarded in either direction. Content-Length and
// Host are recomputed by net/http for the outbound request.
var hopHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"upgrade":           true,
	"content-length":    true,
	"host":              true,
}

// servePassthrough relays the raw request body to the downstream Chat
// Completions endpoint and copies the response back byte-for-byte. The
// model is gated against the allow and block lists but never renamed,
// since the body is forwarded unmodified.
func (h *Handler) servePassthrough(w http.ResponseWriter, r *http.Request, body []byte, model string, rec *audit.Record) {
	if apiErr := h.policy.CheckModel(model); apiErr != nil {
		h.writeError(w, rec, apiErr)
		return
	}

	resp, err := h.client.Forward(r.Context(), filterHeaders(r.Header), body)
	if err != nil {
		h.writeError(w, rec, api.AsAPIError(err))
		return
	}
	defer resp.Body.Close()
	observability.DownstreamRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	rec.Status = resp.StatusCode

	if err := flushCopy(w, resp.Body); err != nil {
		h.disconnect(rec, err)
	}
}

// filterHeaders copies headers, dropping hop-by-hop entries.
func filterHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, vs := range src {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	return dst
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// flushCopy copies the downstream body to the client, flushing after
// every read so streamed bodies pass through without buffering delay.
func flushCopy(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32<<10)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flushErr := rc.Flush(); flushErr != nil {
				return flushErr
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

package transport

import (
	"encoding/json"
	"net/http"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/observability"
)

// WriteErrorResponse writes a JSON error envelope with the given HTTP
// status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	observability.ErrorsTotal.WithLabelValues(string(apiErr.Type)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.NewErrorResponse(apiErr))
}

// WriteAPIError writes an APIError response, deriving the HTTP status
// code from the error type or its preserved downstream status.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, apiErr.HTTPStatus())
}

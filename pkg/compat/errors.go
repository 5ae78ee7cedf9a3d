package compat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/anthroute/anthroute/pkg/api"
)

// MapHTTPError converts a non-2xx downstream response into an APIError.
// The downstream status code is preserved on the error so the caller can
// answer with it; the error type follows the protocol's taxonomy.
func MapHTTPError(resp *http.Response) *api.APIError {
	message := ExtractErrorMessage(resp.Body)
	if message == "" {
		message = fmt.Sprintf("downstream error (HTTP %d)", resp.StatusCode)
	}
	err := MapStatus(resp.StatusCode, message)
	err.Status = resp.StatusCode
	return err
}

// MapStatus maps a downstream HTTP status code to an APIError of the
// matching type. Unmapped statuses become api_error.
func MapStatus(status int, message string) *api.APIError {
	switch status {
	case http.StatusBadRequest:
		return api.NewInvalidRequestError(message)
	case http.StatusUnauthorized:
		return api.NewAuthenticationError(message)
	case http.StatusForbidden:
		return api.NewPermissionError(message)
	case http.StatusNotFound:
		return api.NewNotFoundError(message)
	case http.StatusTooManyRequests:
		return api.NewRateLimitError(message)
	case api.StatusOverloaded:
		return api.NewOverloadedError(message)
	default:
		return api.NewAPIError(message)
	}
}

// MapNetworkError converts a transport-level failure (connection refused,
// timeout, DNS) into an APIError.
func MapNetworkError(err error) *api.APIError {
	return api.NewAPIError("downstream connection error: " + err.Error())
}

// ExtractErrorMessage reads a bounded amount of the body and pulls the
// message out of the downstream error envelope if one is present.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var errResp ChatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}

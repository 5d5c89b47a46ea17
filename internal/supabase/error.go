package supabase

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/betterme/betterme/internal/errors"
)

// APIError is an error response from PostgREST or GoTrue.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("[%d] %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// errorBody covers both services. PostgREST sends code/message/details/hint,
// GoTrue sends error/error_description or msg.
type errorBody struct {
	Code             any    `json:"code"`
	Message          string `json:"message"`
	Details          string `json:"details"`
	Hint             string `json:"hint"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	ErrorCode        string `json:"error_code"`
}

// ParseError parses an error response from the API
func ParseError(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode()}

	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		apiErr.Message = string(resp.Body())
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}

	switch code := body.Code.(type) {
	case string:
		apiErr.Code = code
	case float64:
		apiErr.Code = fmt.Sprintf("%d", int(code))
	}
	if apiErr.Code == "" {
		apiErr.Code = firstNonEmpty(body.ErrorCode, body.Error)
	}

	apiErr.Message = firstNonEmpty(body.Message, body.ErrorDescription, body.Msg, body.Error, http.StatusText(resp.StatusCode()))
	apiErr.Details = body.Details
	apiErr.Hint = body.Hint
	return apiErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func errorTypeFor(status int) apperrors.ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.ErrorTypeAuth
	case status == http.StatusNotFound || status == http.StatusNotAcceptable:
		return apperrors.ErrorTypeNotFound
	case status == http.StatusConflict:
		return apperrors.ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return apperrors.ErrorTypeRateLimit
	case status >= http.StatusInternalServerError:
		return apperrors.ErrorTypeServer
	default:
		return apperrors.ErrorTypeValidation
	}
}

// IsUnauthorized checks if error is due to missing/invalid authentication
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}

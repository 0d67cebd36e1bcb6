package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"checklist-api/domain"
	"checklist-api/fieldmap"
	"checklist-api/resolve"
)

// Error codes returned in the body of failed requests.
const (
	codeNotFound          = "not_found"
	codeAmbiguous         = "ambiguous_match"
	codeInvalidField      = "invalid_field"
	codeGone              = "task_gone"
	codeUnavailable       = "store_unavailable"
	codeInvalidIdentifier = "invalid_identifier"
	codeInvalidBody       = "invalid_body"
	codeTooLarge          = "payload_too_large"
	codeUnauthorized      = "unauthorized"
	codeInternal          = "internal"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Field      string   `json:"field,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// requestError is an error the handler already knows how to report.
type requestError struct {
	status int
	code   string
	msg    string
	err    error
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Unwrap() error { return e.err }

func badRequest(code, msg string) *requestError {
	return &requestError{status: http.StatusBadRequest, code: code, msg: msg}
}

// errorResponse maps err to a status and a body. Cross-project matches are
// reported exactly like missing tasks.
func errorResponse(err error) (int, errorBody) {
	var (
		reqErr *requestError
		amb    *domain.AmbiguousMatchError
		upd    *domain.UpdateError
		fe     *fieldmap.FieldError
		httpEr *echo.HTTPError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, errorBody{errorDetail{Code: reqErr.code, Message: reqErr.msg}}
	case resolve.IsNotFound(err):
		return http.StatusNotFound, errorBody{errorDetail{Code: codeNotFound, Message: "task not found"}}
	case errors.As(err, &amb):
		return http.StatusConflict, errorBody{errorDetail{
			Code:       codeAmbiguous,
			Message:    "identifier matches more than one task",
			Candidates: amb.Candidates,
		}}
	case errors.As(err, &upd) && upd.Kind == domain.UpdateInvalid:
		return http.StatusBadRequest, errorBody{errorDetail{Code: codeInvalidField, Message: invalidMessage(upd), Field: upd.Field}}
	case errors.As(err, &upd) && upd.Kind == domain.UpdateGone:
		return http.StatusGone, errorBody{errorDetail{Code: codeGone, Message: "task no longer exists"}}
	case errors.As(err, &fe):
		return http.StatusBadRequest, errorBody{errorDetail{Code: codeInvalidField, Message: fe.Reason, Field: fe.Field}}
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable, errorBody{errorDetail{Code: codeUnavailable, Message: "task store unavailable, retry later"}}
	case errors.As(err, &httpEr):
		return httpEr.Code, errorBody{errorDetail{Code: statusCode(httpEr.Code), Message: httpMessage(httpEr)}}
	default:
		return http.StatusInternalServerError, errorBody{errorDetail{Code: codeInternal, Message: "internal error"}}
	}
}

func invalidMessage(e *domain.UpdateError) string {
	if e.Err == nil {
		return "invalid value"
	}
	var ce *domain.ConstraintError
	if errors.As(e.Err, &ce) {
		return ce.Reason
	}
	var fe *fieldmap.FieldError
	if errors.As(e.Err, &fe) {
		return fe.Reason
	}
	return e.Err.Error()
}

func httpMessage(e *echo.HTTPError) string {
	if s, ok := e.Message.(string); ok {
		return s
	}
	return strings.ToLower(http.StatusText(e.Code))
}

// statusCode turns a status into a snake_case code, "Method Not Allowed"
// becoming method_not_allowed.
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return codeInternal
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// writeError sends the structured body for err.
func writeError(c echo.Context, err error) error {
	status, body := errorResponse(err)
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, body)
}

// ErrorHandler is installed as the echo HTTPErrorHandler so router errors,
// recovered panics and anything a handler returns share one body shape.
func ErrorHandler(logger log.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			logger.WithFields(log.Fields{
				"path":       c.Request().URL.Path,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Errorf("request failed: %v", err)
		}
		if status == http.StatusServiceUnavailable {
			c.Response().Header().Set("Retry-After", "1")
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Errorf("write error response: %v", werr)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"checklist-api/domain"
	"checklist-api/fieldmap"
	"checklist-api/resolve"
)

const (
	taskRoute       = "/api/projects/:projectId/tasks/:taskId"
	maxParamLength  = 1024
	strategyHeader  = "X-Task-Resolution"
	defaultMaxBytes = 64 << 10
)

// Options tunes request handling.
type Options struct {
	// MaxBodyBytes caps the decoded patch body.
	MaxBodyBytes int64
	// StoreTimeout bounds the whole resolve and write sequence. Zero means
	// the request context alone applies.
	StoreTimeout time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc TaskService, auth Authenticator, opts Options, logger log.FieldLogger) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET(taskRoute, getTask(svc, auth, opts, logger))
	e.PATCH(taskRoute, patchTask(svc, auth, opts, logger))
	e.PUT(taskRoute, patchTask(svc, auth, opts, logger))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func getTask(svc TaskService, auth Authenticator, opts Options, logger log.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, ok := begin(c, auth, logger, "get")
		if !ok {
			return req.fail(c, req.err)
		}
		defer req.finish(c)

		ctx, cancel := withStoreTimeout(c.Request().Context(), opts.StoreTimeout)
		defer cancel()

		start := time.Now()
		res, err := svc.Get(ctx, req.clientID, req.scope)
		req.metrics.ObservePipeline(time.Since(start))
		if err != nil {
			return req.fail(c, err)
		}
		req.metrics.SetOutcome(res.Strategy, false, 0)
		c.Response().Header().Set(strategyHeader, res.Strategy)
		return c.JSON(http.StatusOK, res.View)
	}
}

func patchTask(svc TaskService, auth Authenticator, opts Options, logger log.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, ok := begin(c, auth, logger, "update")
		if !ok {
			return req.fail(c, req.err)
		}
		defer req.finish(c)

		patch, err := decodePatch(c.Request().Body, opts.MaxBodyBytes)
		if err != nil {
			req.metrics.SetErrorStage("body")
			return req.fail(c, err)
		}

		ctx, cancel := withStoreTimeout(c.Request().Context(), opts.StoreTimeout)
		defer cancel()

		start := time.Now()
		res, err := svc.Update(ctx, req.clientID, req.scope, patch)
		req.metrics.ObservePipeline(time.Since(start))
		if err != nil {
			return req.fail(c, err)
		}
		req.metrics.SetOutcome(res.Strategy, res.Changed, len(res.Fields))
		req.log.WithFields(log.Fields{
			"strategy": res.Strategy,
			"changed":  res.Changed,
			"task_id":  res.View.ID,
		}).Debug("task updated")
		c.Response().Header().Set(strategyHeader, res.Strategy)
		return c.JSON(http.StatusOK, res.View)
	}
}

// taskRequest carries what every task handler needs after authentication
// and path validation.
type taskRequest struct {
	scope    domain.ProjectScope
	clientID string
	log      log.FieldLogger
	metrics  *taskRequestMetrics
	failure  error
	err      error
	finished bool
}

// begin starts metrics, authenticates the caller and validates the path.
// When ok is false req.err holds the reason and the caller must report it.
func begin(c echo.Context, auth Authenticator, logger log.FieldLogger, operation string) (req *taskRequest, ok bool) {
	metrics, ctx := newTaskRequestMetrics(c.Request().Context(), logger, taskRoute, operation)
	c.SetRequest(c.Request().WithContext(ctx))
	req = &taskRequest{metrics: metrics, log: logger}

	authStart := time.Now()
	subject, err := auth.Subject(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if err != nil {
		metrics.SetErrorStage("auth")
		req.err = &requestError{status: http.StatusUnauthorized, code: codeUnauthorized, msg: err.Error(), err: err}
		return req, false
	}

	projectID, err := pathParam(c, "projectId")
	if err == nil {
		req.clientID, err = pathParam(c, "taskId")
	}
	if err != nil {
		metrics.SetErrorStage("params")
		req.err = err
		return req, false
	}
	req.scope = domain.ProjectScope(projectID)
	metrics.SetTarget(projectID, req.clientID)

	req.log = logger.WithFields(log.Fields{
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"project_id": projectID,
		"client_id":  req.clientID,
		"subject":    subject,
		"operation":  operation,
	})
	return req, true
}

// fail writes the structured error for err and records it.
func (r *taskRequest) fail(c echo.Context, err error) error {
	r.failure = err
	status, _ := errorResponse(err)
	r.metrics.SetErrorStage(errorStage(err))
	switch {
	case status >= http.StatusInternalServerError:
		r.log.WithError(err).Warn("task request failed")
	case status != http.StatusUnauthorized:
		r.log.WithError(err).Debug("task request rejected")
	}
	werr := writeError(c, err)
	r.finish(c)
	return werr
}

func (r *taskRequest) finish(c echo.Context) {
	if r.finished {
		return
	}
	r.finished = true
	r.metrics.Log(c.Response().Status, r.failure)
}

func errorStage(err error) string {
	var (
		reqErr *requestError
		upd    *domain.UpdateError
		amb    *domain.AmbiguousMatchError
	)
	switch {
	case errors.As(err, &reqErr):
		return ""
	case resolve.IsNotFound(err), errors.As(err, &amb):
		return "resolve"
	case errors.As(err, &upd):
		return "update"
	case domain.IsTransient(err):
		return "store"
	default:
		return "internal"
	}
}

// pathParam returns the unescaped route parameter name, rejecting values
// that can never be a project or task key.
func pathParam(c echo.Context, name string) (string, error) {
	raw := c.Param(name)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", badRequest(codeInvalidIdentifier, fmt.Sprintf("malformed %s", name))
	}
	if strings.TrimSpace(v) == "" {
		return "", badRequest(codeInvalidIdentifier, fmt.Sprintf("missing %s", name))
	}
	if len(v) > maxParamLength {
		return "", badRequest(codeInvalidIdentifier, fmt.Sprintf("%s too long", name))
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return "", badRequest(codeInvalidIdentifier, fmt.Sprintf("%s contains control characters", name))
	}
	return v, nil
}

// decodePatch reads at most max bytes of JSON object. Member names must match
// a known field exactly; anything else is dropped before decoding. A member of
// the wrong JSON type is reported against its own name.
func decodePatch(body io.Reader, max int64) (domain.ExternalTaskPatch, error) {
	var patch domain.ExternalTaskPatch
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if errors.Is(err, errBodyTooLarge) {
		return patch, tooLarge(max)
	}
	if err != nil {
		return patch, &requestError{status: http.StatusBadRequest, code: codeInvalidBody, msg: "unreadable body", err: err}
	}
	if int64(len(data)) > max {
		return patch, tooLarge(max)
	}
	var members map[string]json.RawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &members); err != nil || members == nil {
		return patch, &requestError{status: http.StatusBadRequest, code: codeInvalidBody, msg: "body must be a JSON object", err: err}
	}
	for name := range members {
		if !fieldmap.Known(name) {
			delete(members, name)
		}
	}
	known, err := sonic.ConfigStd.Marshal(members)
	if err != nil {
		return patch, &requestError{status: http.StatusBadRequest, code: codeInvalidBody, msg: "invalid body", err: err}
	}
	if err := sonic.ConfigStd.Unmarshal(known, &patch); err != nil {
		return patch, memberError(members, err)
	}
	return patch, nil
}

// memberError finds the first member that fails to decode on its own.
func memberError(members map[string]json.RawMessage, cause error) error {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		single, err := sonic.ConfigStd.Marshal(map[string]json.RawMessage{name: members[name]})
		if err != nil {
			continue
		}
		var one domain.ExternalTaskPatch
		if sonic.ConfigStd.Unmarshal(single, &one) != nil {
			return &fieldmap.FieldError{Field: name, Reason: "wrong value type"}
		}
	}
	return &requestError{status: http.StatusBadRequest, code: codeInvalidBody, msg: "invalid body", err: cause}
}

func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "checklist-api/api"
	taskSpanName       = "checklist.tasks.request"
	taskEventName      = "checklist.tasks.request"
	taskEventDomain    = "checklist"
	observabilityEvent = "observability.event"
)

// taskRequestMetrics collects timings for one task request and reports them
// as a log entry and as a span.
type taskRequestMetrics struct {
	logger log.FieldLogger
	span   trace.Span

	route     string
	operation string
	start     time.Time

	authDuration     time.Duration
	pipelineDuration time.Duration

	projectID  string
	clientID   string
	strategy   string
	changed    bool
	fields     int
	errorStage string
}

func newTaskRequestMetrics(ctx context.Context, logger log.FieldLogger, route, operation string) (*taskRequestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, taskSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &taskRequestMetrics{
		logger:    logger,
		span:      span,
		route:     route,
		operation: operation,
		start:     time.Now(),
	}, ctx
}

func (m *taskRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *taskRequestMetrics) ObservePipeline(d time.Duration) {
	if d > 0 {
		m.pipelineDuration = d
	}
}

func (m *taskRequestMetrics) SetTarget(projectID, clientID string) {
	m.projectID = projectID
	m.clientID = clientID
}

func (m *taskRequestMetrics) SetOutcome(strategy string, changed bool, fields int) {
	m.strategy = strategy
	m.changed = changed
	m.fields = fields
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *taskRequestMetrics) attributes(status int, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.String("checklist.tasks.operation", m.operation),
		attribute.String("checklist.tasks.project_id", m.projectID),
		attribute.String("checklist.tasks.client_id", m.clientID),
		attribute.Float64("checklist.tasks.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.strategy != "" {
		attrs = append(attrs,
			attribute.String("checklist.tasks.strategy", m.strategy),
			attribute.Bool("checklist.tasks.changed", m.changed),
			attribute.Int("checklist.tasks.fields", m.fields),
		)
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("checklist.tasks.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.pipelineDuration > 0 {
		attrs = append(attrs, attribute.Float64("checklist.tasks.pipeline_ms", durationToMillis(m.pipelineDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("checklist.tasks.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	return attrs
}

// Log emits the observability event and ends the span.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status, err)
	sevText, sevNumber := severityForStatus(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(append(attrs,
			attribute.String("event.name", taskEventName),
			attribute.String("event.domain", taskEventDomain),
			attribute.String("severity_text", sevText),
		)...))
		if status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	values := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		values[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      taskEventName,
		"event.domain":    taskEventDomain,
		"attributes":      values,
		"severity_text":   sevText,
		"severity_number": sevNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch sevText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus follows the OpenTelemetry severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

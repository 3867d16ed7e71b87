package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "github.com/ewen-r/to-do-list/api"
	viewRoute       = "/lists/:list"
	viewEventName   = "list.view"
	viewEventDomain = "todo"
)

// viewRequestMetrics collects per-stage timings for a list view request and
// emits them both as an otel span and as a structured observability event.
type viewRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	fetchDuration  time.Duration
	renderDuration time.Duration
	list           string
	tasksReturned  int
	errorStage     string
}

func newViewRequestMetrics(ctx context.Context, logger *log.Logger) (*viewRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, viewEventName)
	return &viewRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *viewRequestMetrics) SetList(list string) {
	m.list = list
}

func (m *viewRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *viewRequestMetrics) ObserveRender(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.renderDuration = duration
}

func (m *viewRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *viewRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *viewRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	total := durationToMillis(time.Since(m.start))
	attrs := map[string]any{
		"http.route":          viewRoute,
		"http.status_code":    status,
		"todo.list":           m.list,
		"todo.tasks_returned": m.tasksReturned,
		"todo.total_ms":       total,
	}
	if m.fetchDuration > 0 {
		attrs["todo.fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.renderDuration > 0 {
		attrs["todo.render_ms"] = durationToMillis(m.renderDuration)
	}
	if m.errorStage != "" {
		attrs["todo.error_stage"] = m.errorStage
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("http.route", viewRoute),
			attribute.Int("http.status_code", status),
			attribute.String("todo.list", m.list),
			attribute.Int("todo.tasks_returned", m.tasksReturned),
			attribute.Float64("todo.total_ms", total),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("todo.error_stage", m.errorStage))
		}
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	severity := "INFO"
	fields := log.Fields{
		"event.name":    viewEventName,
		"event.domain":  viewEventDomain,
		"attributes":    attrs,
		"severity_text": severity,
	}
	if err != nil {
		severity = "ERROR"
		fields["severity_text"] = severity
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Error("observability.event")
		return
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

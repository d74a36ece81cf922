package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/bcgov/CRP-GSS-Project-Management/api"
	requestEventName   = "portal.request"
	requestEventDomain = "caribou_portal"
	observabilityEvent = "observability.event"
	attrPrefix         = "portal.request."
)

// requestMetrics times one read request and reports it as a log entry and
// a span.
type requestMetrics struct {
	logger         *log.Logger
	method         string
	route          string
	span           trace.Span
	start          time.Time
	fetchDuration  time.Duration
	encodeDuration time.Duration
	itemsReturned  int
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger: logger,
		method: method,
		route:  route,
		span:   span,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *requestMetrics) SetItemsReturned(n int) {
	m.itemsReturned = max(n, 0)
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log emits the observability event and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.method":                 m.method,
		"http.route":                  m.route,
		"http.status_code":            status,
		attrPrefix + "total_ms":       durationToMillis(time.Since(m.start)),
		attrPrefix + "items_returned": m.itemsReturned,
	}
	if m.fetchDuration > 0 {
		attrs[attrPrefix+"fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		attrs[attrPrefix+"encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	if m.span != nil {
		kvs := make([]attribute.KeyValue, 0, len(attrs)+3)
		for k, v := range attrs {
			kvs = append(kvs, toAttribute(k, v))
		}
		m.span.SetAttributes(kvs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(append(kvs,
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
		)...))
		switch {
		case err != nil:
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	level := log.InfoLevel
	switch severityText {
	case "WARN":
		level = log.WarnLevel
	case "ERROR":
		level = log.ErrorLevel
	}
	m.logger.WithFields(fields).Log(level, observabilityEvent)
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError, status == 0 && err != nil:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toAttribute(key string, v any) attribute.KeyValue {
	switch t := v.(type) {
	case string:
		return attribute.String(key, t)
	case int:
		return attribute.Int(key, t)
	case int64:
		return attribute.Int64(key, t)
	case float64:
		return attribute.Float64(key, t)
	case bool:
		return attribute.Bool(key, t)
	default:
		return attribute.String(key, fmt.Sprint(t))
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// observed wraps a read handler with request metrics.
func observed(route string, logger *log.Logger, h func(echo.Context, *requestMetrics) error) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if asHTTPError(err, &he) {
					status = he.Code
				}
			}
			m.Log(status, err)
		}()
		return h(c, m)
	}
}

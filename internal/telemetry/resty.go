package telemetry

import (
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/semconv/v1.13.0/httpconv"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentResty records every attempt of a request as an event on the span
// already carried by the request context. Spans are owned by the caller so a
// retried request never leaves one open.
func InstrumentResty(client *resty.Client) {
	client.OnBeforeRequest(onBeforeRequest)
	client.OnAfterResponse(onAfterResponse)
	client.OnError(onError)
}

func onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	span := trace.SpanFromContext(req.Context())
	span.AddEvent("http attempt", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
		attribute.Int("http.attempt", req.Attempt),
	))
	return nil
}

func onAfterResponse(_ *resty.Client, res *resty.Response) error {
	span := trace.SpanFromContext(res.Request.Context())
	if res.RawResponse == nil {
		return nil
	}
	span.AddEvent("http response", trace.WithAttributes(httpconv.ClientResponse(res.RawResponse)...))
	return nil
}

func onError(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")
	if req.RawRequest != nil {
		span.SetAttributes(httpconv.ClientRequest(req.RawRequest)...)
	}
}

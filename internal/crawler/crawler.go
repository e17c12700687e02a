
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html/charset"

	"handbook-scraper/internal/config"
	"handbook-scraper/internal/telemetry"
	"handbook-scraper/pkg/logger"
)

var tracer = otel.Tracer("handbook/crawler")

// ErrRetriesExhausted is returned once every attempt failed at the transport
// level or answered 5xx/429.
var ErrRetriesExhausted = errors.New("retries exhausted")

type Options struct {
	Timeout     time.Duration
	DialTimeout time.Duration
	// Retries is the number of extra attempts after the first one.
	Retries int
	// RetryBase is the linear backoff step: attempt n waits n*RetryBase.
	RetryBase        time.Duration
	UserAgent        string
	CloudflareBypass bool
	Logger           *logger.Logger
}

// OptionsFromConfig maps the crawl configuration onto client options.
func OptionsFromConfig(cfg config.Config, log *logger.Logger) Options {
	return Options{
		Timeout:          cfg.Timeout(),
		Retries:          cfg.Retries,
		RetryBase:        cfg.RetryBase(),
		UserAgent:        cfg.UserAgent,
		CloudflareBypass: cfg.CloudflareBypass,
		Logger:           log,
	}
}

type HTTPClient struct {
	client  *resty.Client
	retries int
}

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	// resty's jittered fallback panics on a zero wait
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if opts.CloudflareBypass {
		transport = cloudflarebp.AddCloudFlareByPass(transport)
	}

	client := resty.NewWithClient(&http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	})
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("User-Agent", opts.UserAgent)

	base := opts.RetryBase
	client.SetRetryCount(opts.Retries)
	client.SetRetryWaitTime(base)
	client.SetRetryMaxWaitTime(base * time.Duration(opts.Retries+1))
	client.SetRetryAfter(func(_ *resty.Client, res *resty.Response) (time.Duration, error) {
		return base * time.Duration(res.Request.Attempt), nil
	})
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		return retryable(res, err)
	})
	if opts.Logger != nil {
		client.SetLogger(opts.Logger)
	}
	telemetry.InstrumentResty(client)

	return &HTTPClient{client: client, retries: opts.Retries}
}

func retryable(res *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if res == nil {
		return false
	}
	code := res.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests
}

// Fetch GETs rawURL and returns its body decoded to UTF-8. Statuses other than
// 5xx and 429 are not errors: the body is returned as-is and left to the parsers.
func (h *HTTPClient) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}

	ctx, span := tracer.Start(ctx, "fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", rawURL))

	res, err := h.client.R().
		SetContext(ctx).
		Get(u.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		span.SetStatus(codes.Error, "transport failure")
		return "", fmt.Errorf("%w: get %s after %d attempts: %w", ErrRetriesExhausted, rawURL, h.retries+1, err)
	}
	span.SetAttributes(
		attribute.Int("status", res.StatusCode()),
		attribute.Int("attempts", res.Request.Attempt),
	)
	if retryable(res, nil) {
		span.SetStatus(codes.Error, res.Status())
		return "", fmt.Errorf("%w: get %s: status %d after %d attempts", ErrRetriesExhausted, rawURL, res.StatusCode(), res.Request.Attempt)
	}

	return decode(res.Body(), res.Header().Get("Content-Type"))
}

func decode(data []byte, contentType string) (string, error) {
	enc, _, _ := charset.DetermineEncoding(data, contentType)
	utf8data, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		// fallback: if already utf-8, continue
		if !utf8.Valid(data) {
			return "", err
		}
		utf8data = data
	}
	return string(utf8data), nil
}

// Package client is a Go client for the conversion API. It classifies failures
// the same way the browser UI does and retries the ones worth retrying.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mark2pdf/internal/domain"
	"mark2pdf/internal/infra/logging"
)

// Class groups failures by what the caller can do about them.
type Class string

const (
	ClassNetwork       Class = "network"
	ClassValidation    Class = "validation"
	ClassServer        Class = "server"
	ClassQuota         Class = "quota"
	ClassConfiguration Class = "configuration"
	ClassUnknown       Class = "unknown"
)

// Retryable reports whether a failure of this class may succeed on retry.
func (c Class) Retryable() bool {
	switch c {
	case ClassNetwork, ClassServer, ClassQuota:
		return true
	default:
		return false
	}
}

const generatePath = "/api/generate-pdf"

// Error is returned for every failed Generate call.
type Error struct {
	Class  Class
	Status int // 0 when no response was received
	// Message is the server's "error" field, or a description of the
	// transport failure.
	Message string
	// Detail is the server's "message" field, present outside production.
	Detail string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Class))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on retry.
func (e *Error) Retryable() bool { return e.Class.Retryable() }

// ClassOf returns the class of err, or ClassUnknown.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassUnknown
}

// Options mirrors the request's "options" object. Zero fields are omitted
// and the server applies its defaults.
type Options struct {
	PageSize    string `json:"pageSize,omitempty"`
	Orientation string `json:"orientation,omitempty"`
	Margin      *int   `json:"margin,omitempty"`
}

// Result is either a PDF or a print-ready HTML document, depending on the
// server's render strategy.
type Result struct {
	Kind     domain.ResultKind
	PDF      []byte
	Document string
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles after
	// every retry, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultConfig matches the browser client: 30s per request, three attempts.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Client calls the conversion endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &Error{Class: ClassConfiguration, Message: fmt.Sprintf("invalid server URL %q", cfg.BaseURL), Err: err}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		sleep: sleepCtx,
	}, nil
}

// Generate posts markdown and returns the converted result. Retryable
// failures are retried with exponential backoff up to MaxAttempts; a quota
// error carrying Retry-After waits that long instead.
func (c *Client) Generate(ctx context.Context, markdown string, opts Options) (Result, error) {
	if strings.TrimSpace(markdown) == "" {
		return Result{}, &Error{Class: ClassValidation, Message: "markdown content is empty"}
	}
	body, err := json.Marshal(struct {
		Markdown string  `json:"markdown"`
		Options  Options `json:"options"`
	}{markdown, opts})
	if err != nil {
		return Result{}, &Error{Class: ClassUnknown, Message: "encode request", Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, err := c.do(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == c.cfg.MaxAttempts {
			break
		}
		wait := c.backoff(attempt)
		if d := retryAfter(err); d > 0 {
			wait = d
		}
		logging.Warn("Conversion attempt failed; retrying", "attempt", attempt, "class", string(ClassOf(err)), "wait", wait.String(), "error", err)
		if serr := c.sleep(ctx, wait); serr != nil {
			return Result{}, &Error{Class: ClassNetwork, Message: "request canceled", Err: serr}
		}
	}
	return Result{}, lastErr
}

// retryAfter returns the server's wait hint for quota errors.
func retryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.Class == ClassQuota {
		return e.RetryAfter
	}
	return 0
}

func isRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// backoff returns the wait after the given failed attempt (1-based).
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.cfg.MaxDelay > 0 && d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return d
}

func (c *Client) do(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Class: ClassConfiguration, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, transportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		e := responseError(resp.StatusCode, data)
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return Result{}, e
	}
	return decodeResult(resp.Header.Get("Content-Type"), data)
}

func decodeResult(contentType string, data []byte) (Result, error) {
	if strings.HasPrefix(contentType, "application/pdf") {
		return Result{Kind: domain.KindPDF, PDF: data}, nil
	}
	var env struct {
		Success     bool   `json:"success"`
		HTMLContent string `json:"htmlContent"`
	}
	if err := json.Unmarshal(data, &env); err != nil || !env.Success {
		return Result{}, &Error{Class: ClassUnknown, Status: http.StatusOK, Message: "unexpected response body", Err: err}
	}
	return Result{Kind: domain.KindHTML, Document: env.HTMLContent}, nil
}

func responseError(status int, data []byte) *Error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	if body.Error == "" {
		body.Error = http.StatusText(status)
	}
	return &Error{Class: classifyStatus(status), Status: status, Message: body.Error, Detail: body.Message}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func classifyStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassQuota
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusNotFound, status == http.StatusMethodNotAllowed:
		return ClassConfiguration
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassValidation
	default:
		return ClassUnknown
	}
}

func transportError(err error) error {
	msg := "network connection failed"
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Class: ClassNetwork, Message: "request canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		msg = "request timed out"
	case strings.Contains(strings.ToLower(err.Error()), "connection refused"):
		msg = "cannot connect to server"
	}
	return &Error{Class: ClassNetwork, Message: msg, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

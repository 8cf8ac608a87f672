// Package kina is the typed client of the Kina backend used by the Mini App.
package kina

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/Frozertiru-gif/Kina/internal/authgate"
	"github.com/Frozertiru-gif/Kina/internal/identity"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
	"github.com/Frozertiru-gif/Kina/internal/metrics"
	"github.com/Frozertiru-gif/Kina/internal/session"
)

// Credential and tracing headers.
const (
	HeaderAuthorization = "Authorization"
	HeaderInitData      = "X-Init-Data"
	HeaderDevUserID     = "X-Dev-User-Id"
	HeaderRequestID     = "X-Request-Id"
)

const (
	maxErrorBody    = 64 << 10
	maxResponseBody = 4 << 20
	defaultTimeout  = 15 * time.Second
)

// IdentitySource exposes the current host identity.
type IdentitySource interface {
	Current() identity.HostIdentity
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64 // 0 disables client-side pacing
	Burst         int
	HTTPClient    *http.Client // overrides Timeout and the instrumented transport
}

// Client attaches credentials, gates auth-requiring calls and maps failures
// into the Error taxonomy.
type Client struct {
	apiBase  string
	hc       *http.Client
	session  *session.Session
	identity IdentitySource
	gate     *authgate.Gate
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewClient wires a client to the session, identity and gate it depends on.
func NewClient(cfg Config, sess *session.Session, id IdentitySource, gate *authgate.Gate) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(newTransport()),
		}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		apiBase:  strings.TrimRight(cfg.BaseURL, "/"),
		hc:       hc,
		session:  sess,
		identity: id,
		gate:     gate,
		limiter:  limiter,
		logger:   klog.WithComponent("kina"),
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Session returns the session the client writes tokens and users into.
func (c *Client) Session() *session.Session { return c.session }

// Gate returns the auth gate the client waits on.
func (c *Client) Gate() *authgate.Gate { return c.gate }

type call struct {
	op           string
	method       string
	path         string
	query        url.Values
	body         any
	requiresAuth bool
	anonymous    bool // send no credential headers at all
}

// do performs one request and decodes a 2xx body into out (nil to discard).
func (c *Client) do(ctx context.Context, cl call, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		}
		metrics.ObserveAPIRequest(cl.op, outcome, time.Since(start))
	}()

	if cl.requiresAuth && !cl.anonymous && c.session.Token() == "" && c.session.DevUserID() == "" {
		if c.identity.Current().Empty() {
			// Without a page reload no identity will ever arrive; waiting would hang.
			return &Error{Kind: KindAuthMissing, Op: cl.op, Err: authgate.ErrAuthMissing}
		}
		if err := c.gate.WaitUntilReady(ctx); err != nil {
			return gateError(cl.op, err)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: KindTransport, Op: cl.op, Err: err}
		}
	}

	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return &Error{Kind: KindTransport, Op: cl.op, Err: err}
	}

	logger := klog.WithContext(ctx, c.logger)
	resp, err := c.hc.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str(klog.FieldEndpoint, cl.op).Msg("request failed")
		return &Error{Kind: KindTransport, Op: cl.op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(cl.op, resp)
		c.onFailure(ctx, logger, apiErr)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &Error{Kind: KindTransport, Op: cl.op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	u := c.apiBase + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}
	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	rid := klog.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}
	req.Header.Set(HeaderRequestID, rid)
	if !cl.anonymous {
		c.attachCredentials(req)
	}
	return req, nil
}

// attachCredentials sets exactly one credential header: bearer token, then the
// forwarded host identity, then the development user id.
func (c *Client) attachCredentials(req *http.Request) {
	if tok := c.session.Token(); tok != "" {
		req.Header.Set(HeaderAuthorization, "Bearer "+tok)
		return
	}
	if id := c.identity.Current(); !id.Empty() {
		req.Header.Set(HeaderInitData, id.InitData)
		return
	}
	if dev := c.session.DevUserID(); dev != "" {
		req.Header.Set(HeaderDevUserID, dev)
	}
}

func (c *Client) onFailure(ctx context.Context, logger zerolog.Logger, e *Error) {
	if e.Kind != KindAuthRejected {
		logger.Debug().Str(klog.FieldEndpoint, e.Op).Int(klog.FieldStatus, e.Status).
			Str(klog.FieldErrorKind, string(e.Kind)).Str(klog.FieldErrorCode, e.Code).Msg("request rejected")
		return
	}
	logger.Warn().Str(klog.FieldEndpoint, e.Op).Int(klog.FieldStatus, e.Status).
		Str(klog.FieldErrorCode, e.Code).Msg("credentials rejected")
	if IsTokenRejection(e.Code) && c.session.Token() != "" {
		if err := c.session.ClearToken(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to clear stored token")
		}
	}
}

func gateError(op string, err error) error {
	var failed *authgate.FailedError
	switch {
	case errors.Is(err, authgate.ErrAuthMissing):
		return &Error{Kind: KindAuthMissing, Op: op, Err: err}
	case errors.As(err, &failed):
		return &Error{Kind: KindAuthRejected, Op: op, Code: failed.Reason, Err: err}
	default:
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
}

// decodeError reads {"detail": ...} or {"error": ...} bodies into an Error.
func decodeError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{Op: op, Status: resp.StatusCode}

	var fields struct {
		Error      any     `json:"error"`
		Detail     any     `json:"detail"`
		RetryAfter float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &fields) == nil {
		e.Payload = json.RawMessage(body)
		if s, ok := fields.Error.(string); ok {
			e.Code = s
		} else if s, ok := fields.Detail.(string); ok {
			e.Code = s
		}
		if fields.RetryAfter > 0 {
			e.RetryAfter = time.Duration(fields.RetryAfter * float64(time.Second))
		}
	}
	if e.RetryAfter == 0 {
		if v, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && v > 0 {
			e.RetryAfter = time.Duration(v) * time.Second
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuthRejected
	case resp.StatusCode == http.StatusTooManyRequests,
		e.Code == CodeAdCooldown, e.Code == CodeRateLimited, e.Code == CodeTooManyRequests:
		e.Kind = KindRateLimited
	case e.Code == CodeVariantNotFound, e.Code == CodeTitleNotFound,
		resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case e.Code != "":
		e.Kind = KindApplication
	default:
		e.Kind = KindUnexpected
		if len(body) > 0 && e.Payload == nil {
			e.Err = errors.New(strings.TrimSpace(string(body)))
		}
	}
	return e
}

// AvailabilityOf extracts the variant_not_found payload from err.
func AvailabilityOf(err error) (Availability, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeVariantNotFound || len(e.Payload) == 0 {
		return Availability{}, false
	}
	var a Availability
	if json.Unmarshal(e.Payload, &a) != nil {
		return Availability{}, false
	}
	return a, true
}

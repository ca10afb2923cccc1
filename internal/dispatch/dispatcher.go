// Package dispatch turns a logical request into a signed HTTP call and
// retries it when the connection could not be established.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/internal/canonical"
	"github.com/Te-De-CX/Waas/internal/expiry"
	"github.com/Te-De-CX/Waas/internal/security"
	"github.com/Te-De-CX/Waas/internal/waaserr"
)

const (
	DefaultUserAgent = "OPay-WAAS-App/1.0"
	maxResponseBytes = 1 << 20
)

// envelopeContract is the body of encrypted requests.
var envelopeContract = canonical.Fields("envelope", "paramContent", "sign")

// Request is an endpoint plus the fields to canonicalize.
type Request struct {
	Endpoint Endpoint
	Values   canonical.Values
}

// Envelope is one sealed attempt. It is never reused across attempts.
type Envelope struct {
	Body      []byte
	Signature string
	Timestamp string
	Header    http.Header
	Attempt   int
}

// Response is whatever the processor answered, before verification.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// RetryPolicy bounds retries of connection-establishment failures.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
		Timeout:     10 * time.Second,
	}
}

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

func WithRetryPolicy(p RetryPolicy) Option { return func(d *Dispatcher) { d.retry = p } }

func WithUserAgent(ua string) Option { return func(d *Dispatcher) { d.userAgent = ua } }

// WithClock replaces the timestamp source, for reproducible signatures.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher is safe for concurrent use; it holds no per-request state.
type Dispatcher struct {
	baseURL   string
	creds     *security.Credentials
	client    *http.Client
	retry     RetryPolicy
	userAgent string
	now       func() time.Time
	logger    *slog.Logger
}

func New(logger *slog.Logger, baseURL string, creds *security.Credentials, opts ...Option) (*Dispatcher, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	d := &Dispatcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		creds:     creds,
		client:    &http.Client{},
		retry:     DefaultRetryPolicy(),
		userAgent: DefaultUserAgent,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.retry.MaxAttempts < 1 {
		d.retry.MaxAttempts = 1
	}
	return d, nil
}

// prepared is the attempt-independent part of a request: the canonical
// payload, or its ciphertext when the endpoint encrypts.
type prepared struct {
	endpoint Endpoint
	payload  string
	signer   security.Signer
}

func (d *Dispatcher) prepare(req Request) (*prepared, error) {
	ep := req.Endpoint
	ep.Headers = ep.Headers.withDefaults()

	payload, err := ep.Contract.Canonicalize(req.Values)
	if err != nil {
		return nil, err
	}
	signer, err := security.NewSigner(ep.Mode, d.creds)
	if err != nil {
		return nil, err
	}
	if ep.Mode.Encrypted() {
		enc, err := security.NewEncryptor(d.creds.CounterpartyKey())
		if err != nil {
			return nil, err
		}
		payload, err = enc.Encrypt([]byte(payload))
		if err != nil {
			return nil, err
		}
	}
	if ep.BearerAuth && d.creds.PublicAPIKey() == "" {
		return nil, fmt.Errorf("%w: endpoint %s needs a public API key", waaserr.ErrInvalidKeyMaterial, ep.Name)
	}
	return &prepared{endpoint: ep, payload: payload, signer: signer}, nil
}

// Seal builds the envelope for a single attempt: a fresh timestamp, a fresh
// signature and the complete header set.
func (d *Dispatcher) Seal(req Request, attempt int) (*Envelope, error) {
	p, err := d.prepare(req)
	if err != nil {
		return nil, err
	}
	return d.seal(p, attempt)
}

func (d *Dispatcher) seal(p *prepared, attempt int) (*Envelope, error) {
	ep := p.endpoint
	ts := expiry.Millis(d.now())

	msg := ep.Template.Render(security.TemplateInput{
		Payload:   p.payload,
		Timestamp: ts,
		Secret:    d.creds.Secret(),
		Salt:      d.creds.SaltIndex(),
	})
	sig, err := p.signer.Sign(msg)
	if err != nil {
		return nil, err
	}

	var body string
	switch {
	case ep.Mode.Encrypted():
		body, err = envelopeContract.Canonicalize(canonical.Values{"paramContent": p.payload, "sign": sig})
	case ep.SignField != "":
		body, err = canonical.AppendField(p.payload, ep.SignField, sig)
	default:
		body = p.payload
	}
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", d.userAgent)
	h.Set(ep.Headers.MerchantID, d.creds.MerchantID())
	h.Set(ep.Headers.Timestamp, ts)
	h.Set(ep.Headers.Signature, sig)
	if ep.Version != "" {
		h.Set("version", ep.Version)
	}
	if ep.BodyFormat != "" {
		h.Set("bodyFormat", ep.BodyFormat)
	}
	if ep.BearerAuth {
		h.Set("Authorization", "Bearer "+d.creds.PublicAPIKey())
	}
	if ep.SendClientAuthKey && d.creds.ClientAuthKey() != "" {
		h.Set("clientAuthKey", d.creds.ClientAuthKey())
	}

	return &Envelope{
		Body:      []byte(body),
		Signature: sig,
		Timestamp: ts,
		Header:    h,
		Attempt:   attempt,
	}, nil
}

// Dispatch sends req, re-sealing it for every attempt. Only DNS and dial
// failures are retried and end as ErrTransientNetwork. Failures once the
// connection is up, including the per-attempt timeout, end as ErrNetwork.
// Any HTTP answer, whatever its status, is returned to the caller for
// verification.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	p, err := d.prepare(req)
	if err != nil {
		return nil, err
	}
	logger := d.logger.With(
		slog.String("endpoint", p.endpoint.Name),
		slog.String("correlation_id", uuid.NewString()),
	)

	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, d.retry.Delay); err != nil {
				return nil, fmt.Errorf("%s: waiting to retry: %w", p.endpoint.Name, err)
			}
		}

		env, err := d.seal(p, attempt)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := d.send(ctx, p.endpoint, env)
		if err == nil {
			logger.Info("dispatched",
				slog.Int("attempt", attempt),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("signature", waaserr.Redact(env.Signature)),
			)
			resp.Attempts = attempt
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", p.endpoint.Name, ctx.Err())
		}
		if !isTransient(err) {
			logger.Error("dispatch failed", "err", err, slog.Int("attempt", attempt))
			return nil, err
		}
		lastErr = err
		logger.Warn("transient failure", "err", err,
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", d.retry.MaxAttempts),
		)
	}
	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v",
		waaserr.ErrTransientNetwork, p.endpoint.Name, d.retry.MaxAttempts, lastErr)
}

func (d *Dispatcher) send(ctx context.Context, ep Endpoint, env *Envelope) (*Response, error) {
	if d.retry.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.retry.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+ep.Path, bytes.NewReader(env.Body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", ep.Name, err)
	}
	httpReq.Header = env.Header.Clone()

	res, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: posting %s: %w", waaserr.ErrNetwork, ep.Name, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", waaserr.ErrNetwork, ep.Name, err)
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
}

// isTransient matches name resolution and connection establishment
// failures. Anything that happened after the connection was up is not
// retried since the processor may already have acted on the request.
func isTransient(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

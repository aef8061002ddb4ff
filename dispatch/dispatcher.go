// Package dispatch performs authenticated HTTP calls on behalf of the signed-in
// user.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/jrsteele09/kb-console/internal/metrics"
	"github.com/jrsteele09/kb-console/navigation"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultLoginPath = "/login"
	maxResponseBytes = 10 << 20

	RequestIDHeader = "X-Request-ID"
)

// Refresher is the part of the refresh coordinator the dispatcher uses.
type Refresher interface {
	IsExpiring() bool
	Refresh(ctx context.Context) *sessions.Session
	SignOut(ctx context.Context, reason string) error
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Dispatcher attaches the current access token to outbound requests and
// recovers from a rejected token with a single refresh and retry.
type Dispatcher struct {
	store     *sessions.Store
	refresher Refresher
	nav       navigation.Navigator
	client    *http.Client
	timeout   time.Duration
	loginPath string
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// WithTimeout bounds each attempt, including reading the response body.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithLoginPath(path string) Option {
	return func(d *Dispatcher) {
		d.loginPath = path
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = logging.Component(log, "dispatch")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(store *sessions.Store, refresher Refresher, nav navigation.Navigator, options ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		refresher: refresher,
		nav:       nav,
		client:    http.DefaultClient,
		timeout:   defaultTimeout,
		loginPath: defaultLoginPath,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// GetAccessToken returns a usable access token, refreshing first when the
// current one is about to expire.
func (d *Dispatcher) GetAccessToken(ctx context.Context) (string, error) {
	session, err := d.currentSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", apperrors.ErrUnauthenticated
	}
	return session.AccessToken, nil
}

// Request performs an authenticated call. body may be nil and is resent
// unchanged on the retry.
//
// A 401 triggers one forced refresh and, if that yields a session, exactly
// one retry. When the retry is also rejected, or no session could be
// obtained, the user is signed out and sent to the login surface. A caller
// whose ctx ends while waiting on the refresh gets ctx's error and the
// session is left alone. Statuses
// of 400 and above are returned as a *StatusError together with the
// response; transport failures as a *NetworkError.
func (d *Dispatcher) Request(ctx context.Context, method, url string, body []byte, headers http.Header) (*Response, error) {
	session, err := d.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := d.do(ctx, method, url, body, headers, session)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return d.finish(method, url, resp)
	}

	d.log.Debug().Str("method", method).Str("url", url).Msg("request unauthorized, refreshing session")
	refreshed := d.refresher.Refresh(ctx)
	if refreshed == nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s %s: waiting for session refresh: %w", method, url, err)
		}
		d.unauthorized(ctx)
		return d.finish(method, url, resp)
	}

	d.metrics.AuthRetry()
	resp, err = d.do(ctx, method, url, body, headers, refreshed)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		d.unauthorized(ctx)
	}
	return d.finish(method, url, resp)
}

// JSON sends in (when non-nil) as a JSON body and decodes a successful
// response into out (when non-nil).
func (d *Dispatcher) JSON(ctx context.Context, method, url string, in, out any) error {
	var body []byte
	headers := http.Header{"Accept": {"application/json"}}
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return apperrors.Wrapf(err, "encoding %s %s request", method, url)
		}
		headers.Set("Content-Type", "application/json")
	}

	resp, err := d.Request(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.DecodeJSON(out); err != nil {
		return apperrors.Wrapf(err, "decoding %s %s response", method, url)
	}
	return nil
}

func (d *Dispatcher) currentSession(ctx context.Context) (*sessions.Session, error) {
	if !d.refresher.IsExpiring() {
		return d.store.Get(), nil
	}
	session := d.refresher.Refresh(ctx)
	if session == nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("waiting for session refresh: %w", err)
		}
	}
	return session, nil
}

func (d *Dispatcher) do(ctx context.Context, method, url string, body []byte, headers http.Header, session *sessions.Session) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
	}
	for name, values := range headers {
		req.Header[name] = append([]string(nil), values...)
	}
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	if session != nil && session.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	}

	start := time.Now()
	httpResp, err := d.client.Do(req)
	if err != nil {
		return nil, d.networkError(method, url, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, d.networkError(method, url, err)
	}

	d.log.Debug().
		Str("request_id", req.Header.Get(RequestIDHeader)).
		Str("method", method).
		Str("url", url).
		Int("status", httpResp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request completed")

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (d *Dispatcher) networkError(method, url string, err error) error {
	netErr := &NetworkError{Method: method, URL: url, Err: err, Timeout: isTimeout(err)}
	if netErr.Timeout {
		d.metrics.RequestCompleted(metrics.OutcomeTimeout)
	} else {
		d.metrics.RequestCompleted(metrics.OutcomeNetwork)
	}
	d.log.Warn().Err(err).Str("method", method).Str("url", url).Bool("timeout", netErr.Timeout).Msg("request failed")
	return netErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (d *Dispatcher) finish(method, url string, resp *Response) (*Response, error) {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		d.metrics.RequestCompleted(metrics.OutcomeUnauthorized)
	case resp.StatusCode >= http.StatusBadRequest:
		d.metrics.RequestCompleted(metrics.OutcomeHTTPError)
	default:
		d.metrics.RequestCompleted(metrics.OutcomeOK)
		return resp, nil
	}
	return resp, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: resp.Body}
}

// unauthorized takes the signed-out path after a rejection that a refresh
// could not fix.
func (d *Dispatcher) unauthorized(ctx context.Context) {
	d.log.Info().Msg("authorization could not be recovered, signing out")
	if d.store.Get() != nil {
		if err := d.refresher.SignOut(ctx, metrics.ReasonUnauthorized); err != nil {
			d.log.Warn().Err(err).Msg("sign out failed")
		}
	}
	d.nav.Navigate(d.loginPath)
}

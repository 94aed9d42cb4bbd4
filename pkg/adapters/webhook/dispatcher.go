// Package webhook issues the outbound requests of sessions parked on webservice nodes.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/flowbot/internal/logging"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
	"resty.dev/v3"
)

// DefaultTimeout bounds a single outbound call.
const DefaultTimeout = 10 * time.Second

// ErrRemoteStatus is returned when the webservice answers with a non-2xx status.
var ErrRemoteStatus = errors.New("webservice returned an error status")

// Payload is the body posted to the webservice.
type Payload struct {
	CorrelationKey string           `json:"correlation_key"`
	CallbackURL    string           `json:"callback_url,omitempty"`
	SessionID      string           `json:"session_id"`
	ProcessID      string           `json:"standard_process_id"`
	NodeID         string           `json:"node_id"`
	Variables      domain.Variables `json:"variables"`
}

// Dispatcher posts webservice calls with resty.
type Dispatcher struct {
	client          *resty.Client
	callbackBaseURL string
	logger          *slog.Logger
}

var _ ports.Dispatcher = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Dispatcher) {
		if d > 0 {
			w.client.SetTimeout(d)
		}
	}
}

// WithCallbackBaseURL sets the public base URL the webservice should call back.
func WithCallbackBaseURL(base string) Option {
	return func(w *Dispatcher) {
		w.callbackBaseURL = strings.TrimRight(base, "/")
	}
}

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Dispatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	w := &Dispatcher{
		client: resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "flowbot-webhook"),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CallbackURL returns the callback address of a correlation key, or "" without a base URL.
func (w *Dispatcher) CallbackURL(correlationKey string) string {
	if w.callbackBaseURL == "" {
		return ""
	}
	return w.callbackBaseURL + "/v1/callbacks/" + url.PathEscape(correlationKey)
}

// Dispatch posts the call. Any non-2xx answer is an error.
func (w *Dispatcher) Dispatch(ctx context.Context, call domain.WebserviceCall) error {
	if call.URL == "" {
		return fmt.Errorf("webhook: %w: empty url", domain.ErrWebserviceDispatch)
	}
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodPost
	}

	body := Payload{
		CorrelationKey: call.CorrelationKey,
		CallbackURL:    w.CallbackURL(call.CorrelationKey),
		SessionID:      call.SessionID,
		ProcessID:      call.ProcessID,
		NodeID:         call.NodeID,
		Variables:      call.Variables,
	}

	w.logger.Debug("Dispatching webservice call", "method", method, "url", call.URL, "correlation_key", call.CorrelationKey)

	res, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Correlation-Key", call.CorrelationKey).
		SetBody(body).
		Execute(method, call.URL)
	if err != nil {
		return fmt.Errorf("webhook: %w: %w", domain.ErrWebserviceDispatch, err)
	}
	if res.IsError() || res.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook: %w: %w: %d", domain.ErrWebserviceDispatch, ErrRemoteStatus, res.StatusCode())
	}

	w.logger.Debug("Webservice accepted call", "status", res.StatusCode(), "correlation_key", call.CorrelationKey)
	return nil
}

// Close releases idle connections.
func (w *Dispatcher) Close() error {
	return w.client.Close()
}

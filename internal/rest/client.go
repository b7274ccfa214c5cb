// Package rest is the request/response client for the chat server API.
//
// Every endpoint answers with a JSON envelope {"success": bool, "message": string, ...}.
// A success:false envelope is a handled failure and is returned as *RequestError;
// transport and decoding problems are returned as wrapped errors.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxResponseBytes = 32 << 20

// ErrNoCredential is returned, without any network traffic, when an endpoint
// that requires authorization is called while no credential is present.
var ErrNoCredential = errors.New("not authenticated")

// Authorizer supplies the bearer token for authenticated calls. It is consulted
// on every request so a cleared or replaced credential takes effect immediately.
type Authorizer interface {
	Token() (string, bool)
}

// RequestError is a failure reported by the server through the envelope.
type RequestError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Endpoint, e.Message, e.Status)
}

// IsUnauthorized reports whether err is a server rejection of the credential.
func IsUnauthorized(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Status == http.StatusUnauthorized
}

// Reason extracts the text worth showing a user: the server message for a
// handled failure, otherwise the root cause.
func Reason(err error) string {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Message
	}
	return errors.Cause(err).Error()
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client talks to the chat server REST API.
type Client struct {
	baseURL string
	http    *http.Client
	auth    Authorizer
	logger  *zap.Logger
}

// New creates a client for baseURL (e.g. http://localhost:5000/api).
func New(baseURL string, timeout time.Duration, auth Authorizer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		auth:    auth,
		logger:  logger,
	}
}

// call performs one request. endpoint is a stable label for logs and metrics.
func (c *Client) call(ctx context.Context, endpoint, method, path string, authed bool, body, out any) error {
	start := time.Now()
	outcome := "transport"
	defer func() {
		metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	}()

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s request", endpoint)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return errors.Wrapf(err, "build %s request", endpoint)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, ok := c.auth.Token()
		if !ok {
			outcome = "rejected"
			return ErrNoCredential
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("endpoint", endpoint), zap.String("request_id", requestID), zap.Error(err))
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "read %s response", endpoint)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			outcome = "rejected"
			return &RequestError{Endpoint: endpoint, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return errors.Wrapf(err, "decode %s response", endpoint)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		outcome = "rejected"
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		c.logger.Info("request rejected",
			zap.String("endpoint", endpoint),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return &RequestError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
	}

	outcome = "ok"
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s payload", endpoint)
	}
	return nil
}

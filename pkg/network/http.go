package network

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AdalynJs/nucypher/pkg/models"
)

// API paths served by proxy nodes
const (
	HealthPath       = "/health"
	NodePath         = "/api/v1/node"
	ArrangementsPath = "/api/v1/arrangements"
	KFragsPath       = "/api/v1/kfrags"
	WorkOrdersPath   = "/api/v1/work-orders"
	TreasureMapsPath = "/api/v1/treasure-maps"
)

// HTTP content types
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
	ContentTypeBinary  = "application/octet-stream"
)

// DefaultCallTimeout bounds a single proxy call when none is configured.
const DefaultCallTimeout = 10 * time.Second

// maxResponseSize caps how much of a proxy response is read.
const maxResponseSize = 8 << 20

// APIError is a non-2xx answer from a proxy. It unwraps to the sentinel
// matching the status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return models.ErrMalformedPayload
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.ErrUnverifiedSender
	case http.StatusNotFound:
		return models.ErrArrangementNotFound
	case http.StatusConflict:
		return models.ErrArrangementConflict
	case http.StatusServiceUnavailable:
		return models.ErrStorageUnavailable
	case http.StatusTooManyRequests, http.StatusGatewayTimeout:
		return models.ErrProxyUnresponsive
	default:
		return models.ErrProxyRejected
	}
}

// HTTPTransport talks to proxy nodes over their HTTP API. Every call is
// bounded by CallTimeout.
type HTTPTransport struct {
	httpClient  *http.Client
	callTimeout time.Duration
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport with the given per-call timeout.
func NewHTTPTransport(callTimeout time.Duration) *HTTPTransport {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &HTTPTransport{
		httpClient:  &http.Client{},
		callTimeout: callTimeout,
	}
}

// Do sends msg to the node at endpoint.
func (t *HTTPTransport) Do(ctx context.Context, endpoint string, msg Message) ([]byte, error) {
	method, path, err := route(msg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	var body io.Reader
	if msg.Body != nil {
		body = bytes.NewReader(msg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(endpoint, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if msg.Kind == KindPropose {
		req.Header.Set("Content-Type", ContentTypeMsgpack)
	} else {
		req.Header.Set("Content-Type", ContentTypeBinary)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no answer within %s", models.ErrProxyUnresponsive, t.callTimeout)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: response cut off after %s", models.ErrProxyUnresponsive, t.callTimeout)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func route(msg Message) (method, path string, err error) {
	key := hex.EncodeToString(msg.Key)
	switch msg.Kind {
	case KindPropose:
		return http.MethodPost, ArrangementsPath, nil
	case KindEnact:
		return http.MethodPost, KFragsPath + "/" + key, nil
	case KindRevoke:
		return http.MethodDelete, KFragsPath + "/" + key, nil
	case KindWorkOrder:
		return http.MethodPost, WorkOrdersPath + "/" + key, nil
	case KindPublishMap:
		return http.MethodPut, TreasureMapsPath + "/" + key, nil
	case KindFetchMap:
		return http.MethodGet, TreasureMapsPath + "/" + key, nil
	default:
		return "", "", fmt.Errorf("unknown message kind %d", msg.Kind)
	}
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

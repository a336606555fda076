package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
)

const (
	serviceSubject  = "order-orchestrator"
	serviceTokenTTL = 5 * time.Minute
	maxBody         = 1 << 20
)

// OrderClient calls order-api with a short-lived service JWT.
type OrderClient struct {
	BaseURL string
	Issuer  auth.Issuer
	Timeout time.Duration
	HTTP    *http.Client
}

func NewOrderClient(baseURL string, issuer auth.Issuer, timeout time.Duration) *OrderClient {
	return &OrderClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Issuer:  issuer,
		Timeout: timeout,
		HTTP:    &http.Client{},
	}
}

type createOrderBody struct {
	CustomerID int64              `json:"customer_id"`
	Items      []orders.ItemInput `json:"items"`
}

// CreateOrder returns the id of the new order and the body as received.
func (c *OrderClient) CreateOrder(ctx context.Context, customerID int64, items []orders.ItemInput, correlationID string) (int64, json.RawMessage, error) {
	payload, err := json.Marshal(createOrderBody{CustomerID: customerID, Items: items})
	if err != nil {
		return 0, nil, apperr.Internal(err, "encode order request")
	}
	body, err := c.do(ctx, "/orders", payload, correlationID, "", "order creation failed")
	if err != nil {
		return 0, nil, err
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID <= 0 {
		return 0, nil, apperr.Upstream(errors.New("missing order id"), "order service returned no order id")
	}
	return created.ID, body, nil
}

func (c *OrderClient) ConfirmOrder(ctx context.Context, orderID int64, idempotencyKey, correlationID string) (json.RawMessage, error) {
	return c.do(ctx, fmt.Sprintf("/orders/%d/confirm", orderID), []byte("{}"), correlationID, idempotencyKey, "order confirmation failed")
}

// do POSTs to path. 2xx returns the body; 4xx is passed through with the
// downstream status and body; anything else is UpstreamUnavailable.
func (c *OrderClient) do(ctx context.Context, path string, payload []byte, correlationID, idempotencyKey, failMsg string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	tok, err := c.Issuer.Issue(serviceSubject, "service", auth.ServiceScopes, serviceTokenTTL)
	if err != nil {
		return nil, apperr.Internal(err, "issue service token")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Internal(err, "build order request")
	}
	req.Header.Set("Authorization", auth.BearerHeader(tok))
	req.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		req.Header.Set("X-Correlation-Id", correlationID)
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperr.Upstream(err, "order service unreachable")
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, apperr.Upstream(err, "read order service response")
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return body, nil
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return nil, &apperr.Error{
			Kind:    apperr.KindForStatus(res.StatusCode),
			Message: failMsg,
			Status:  res.StatusCode,
			Details: details(body),
		}
	default:
		return nil, apperr.Upstream(fmt.Errorf("status %d", res.StatusCode), failMsg)
	}
}

// details keeps a JSON body as-is and wraps anything else as a string.
func details(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

package customers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
)

// Client resolves customers through the registry's internal endpoint.
type Client struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	HTTP         *http.Client
}

func NewClient(baseURL, serviceToken string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ServiceToken: serviceToken,
		Timeout:      timeout,
		HTTP:         &http.Client{},
	}
}

// GetCustomer returns NotFound when the registry answers 404 and
// UpstreamUnavailable for any other failure, timeouts included.
func (c *Client) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/internal/customers/%d", c.BaseURL, id), nil)
	if err != nil {
		return nil, apperr.Internal(err, "build customer request")
	}
	req.Header.Set("Authorization", auth.BearerHeader(c.ServiceToken))
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperr.Upstream(err, "customer registry unreachable")
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		var cust Customer
		if err := json.NewDecoder(res.Body).Decode(&cust); err != nil {
			return nil, apperr.Upstream(err, "customer registry returned an invalid body")
		}
		return &cust, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, apperr.Newf(apperr.KindNotFound, "customer %d not found", id)
	default:
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, apperr.Upstream(fmt.Errorf("status %d", res.StatusCode), "customer registry failed")
	}
}

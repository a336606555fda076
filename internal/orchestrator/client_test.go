package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
)

var testIssuer = auth.Issuer{Secret: []byte("test-secret"), Issuer: "test"}

func TestOrderClient_CreateAndConfirm(t *testing.T) {
	verifier := auth.Verifier{Secret: []byte("test-secret"), Issuer: "test"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := verifier.Verify(r.Header.Get("Authorization"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.True(t, caller.Has(auth.ScopeOrdersWrite))
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-Id"))

		switch r.URL.Path {
		case "/orders":
			var body createOrderBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(5), body.CustomerID)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":41,"status":"CREATED"}`)
		case "/orders/41/confirm":
			assert.Equal(t, "idem-1", r.Header.Get("X-Idempotency-Key"))
			_, _ = io.WriteString(w, `{"id":41,"status":"CONFIRMED"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewOrderClient(srv.URL+"/", testIssuer, time.Second)

	id, _, err := c.CreateOrder(context.Background(), 5, []orders.ItemInput{{ProductID: 1, Qty: 1}}, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)

	body, err := c.ConfirmOrder(context.Background(), 41, "idem-1", "corr-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":41,"status":"CONFIRMED"}`, string(body))
}

func TestOrderClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantKind   apperr.Kind
		wantStatus int
	}{
		{"bad request passes through", http.StatusBadRequest, `{"error":"INSUFFICIENT_STOCK"}`, apperr.KindInvalidInput, http.StatusBadRequest},
		{"conflict passes through", http.StatusConflict, `{"error":"CONFLICT"}`, apperr.KindConflict, http.StatusConflict},
		{"server error is upstream", http.StatusInternalServerError, `oops`, apperr.KindUpstreamUnavailable, http.StatusBadGateway},
		{"gateway error is upstream", http.StatusServiceUnavailable, ``, apperr.KindUpstreamUnavailable, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			c := NewOrderClient(srv.URL, testIssuer, time.Second)
			_, _, err := c.CreateOrder(context.Background(), 1, []orders.ItemInput{{ProductID: 1, Qty: 1}}, "")

			require.Error(t, err)
			assert.Equal(t, tc.wantKind, apperr.KindOf(err))
			assert.Equal(t, tc.wantStatus, apperr.HTTPStatus(err))
			if tc.status < 500 {
				e, _ := apperr.As(err)
				assert.JSONEq(t, tc.body, string(e.Details.(json.RawMessage)))
			}
		})
	}
}

func TestOrderClient_TimeoutAndUnreachable(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c := NewOrderClient(slow.URL, testIssuer, 50*time.Millisecond)
	_, err := c.ConfirmOrder(context.Background(), 1, "k", "")
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	c = NewOrderClient(url, testIssuer, time.Second)
	_, err = c.ConfirmOrder(context.Background(), 1, "k", "")
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestOrderClient_MissingOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"status":"CREATED"}`)
	}))
	defer srv.Close()

	c := NewOrderClient(srv.URL, testIssuer, time.Second)
	_, _, err := c.CreateOrder(context.Background(), 1, []orders.ItemInput{{ProductID: 1, Qty: 1}}, "")
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

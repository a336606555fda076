package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/redisx"
)

type StatusCache interface {
	Get(ctx context.Context, orderID int64) (redisx.StatusEntry, bool, error)
	SetIfNewer(ctx context.Context, e redisx.StatusEntry) (bool, error)
}

type OrdersHandler struct {
	Svc   *orders.Service
	Cache StatusCache // optional
}

type CreateOrderReq struct {
	CustomerID int64              `json:"customer_id"`
	Items      []orders.ItemInput `json:"items"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/confirm", h.confirmOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Svc.CreateOrder(r.Context(), orders.CreateOrderInput{
		Caller:     callerFrom(r),
		CustomerID: req.CustomerID,
		Items:      req.Items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Svc.GetOrder(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseOrderFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Svc.ListOrders(r.Context(), callerFrom(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

func parseOrderFilter(r *http.Request) (orders.OrderFilter, error) {
	q := r.URL.Query()
	f := orders.OrderFilter{Status: orders.Status(strings.ToUpper(q.Get("status")))}
	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return f, err
	}
	if s := q.Get("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil || f.Limit <= 0 {
			return f, apperr.InvalidInput("limit must be a positive integer")
		}
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare upper bound covers the
// whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.KindInvalidInput, "invalid date %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// getStatus serves the lightweight status view, read through the cache.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	caller := callerFrom(r)
	if err := caller.Require(auth.ScopeOrdersRead); err != nil {
		writeError(w, r, err)
		return
	}

	if h.Cache != nil {
		e, ok, err := h.Cache.Get(r.Context(), id)
		if err != nil {
			logx.FromContext(r.Context()).Warn("status cache read", zap.Int64("order_id", id), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	o, err := h.Svc.GetOrder(r.Context(), caller, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, redisx.StatusEntry{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

// confirmOrder writes the stored payload bytes as-is so a replay is
// byte-identical to the first answer.
func (h *OrdersHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Svc.ConfirmOrder(r.Context(), orders.ConfirmOrderInput{
		Caller:         callerFrom(r),
		OrderID:        id,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	if res.Transitioned {
		h.cacheStatus(r.Context(), res.Order)
	}
	writeRaw(w, http.StatusOK, res.Payload)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Svc.CancelOrder(r.Context(), orders.CancelOrderInput{Caller: callerFrom(r), OrderID: id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), &orders.Order{ID: id, Status: orders.StatusCanceled, UpdatedAt: time.Now().UTC()})
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Cache == nil || o == nil {
		return
	}
	e := redisx.StatusEntry{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if _, err := h.Cache.SetIfNewer(ctx, e); err != nil {
		logx.FromContext(ctx).Warn("status cache write", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

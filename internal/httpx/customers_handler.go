package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-orchestrator/internal/customers"
)

type CustomerFinder interface {
	Get(ctx context.Context, id int64) (*customers.Customer, error)
}

// CustomersHandler serves the registry's internal lookup, guarded by the
// static service token.
type CustomersHandler struct {
	Repo         CustomerFinder
	ServiceToken string
}

func (h *CustomersHandler) Register(r chi.Router) {
	r.With(RequireServiceToken(h.ServiceToken)).Get("/internal/customers/{id}", h.get)
}

func (h *CustomersHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

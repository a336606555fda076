package httpx

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/orchestrator"
)

type Orchestrate interface {
	Handle(ctx context.Context, body []byte) orchestrator.Response
}

// OrchestrateHandler adapts the gateway-style handler to POST /orchestrate.
type OrchestrateHandler struct {
	Orch Orchestrate
}

func (h *OrchestrateHandler) Register(r chi.Router) {
	r.Post("/orchestrate", h.orchestrate)
}

func (h *OrchestrateHandler) orchestrate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindInvalidInput, err, "request body too large"))
		return
	}
	res := h.Orch.Handle(r.Context(), body)
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

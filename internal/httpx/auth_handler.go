package httpx

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
)

const loginTTL = time.Hour

// AuthHandler issues operator tokens for the single configured back-office
// account.
type AuthHandler struct {
	Issuer   auth.Issuer
	Email    string
	Password string
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/login", h.login)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, apperr.InvalidInput("email and password are required"))
		return
	}
	emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(h.Email)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.Password)) == 1
	if h.Password == "" || !emailOK || !passOK {
		writeError(w, r, apperr.New(apperr.KindUnauthorized, "invalid credentials"))
		return
	}

	tok, err := h.Issuer.Issue(req.Email, "admin", auth.AdminScopes, loginTTL)
	if err != nil {
		writeError(w, r, apperr.Internal(err, "issue token"))
		return
	}
	writeJSON(w, http.StatusOK, loginResp{Token: tok, TokenType: "Bearer", ExpiresIn: int(loginTTL.Seconds())})
}

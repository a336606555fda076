// Package auth models the caller of an operation as an explicit identity
// with scopes, and the two credentials the services exchange: HS256 JWTs
// for the order API and a static service token for the customer registry.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
)

const (
	ScopeOrdersRead    = "orders:read"
	ScopeOrdersWrite   = "orders:write"
	ScopeProductsRead  = "products:read"
	ScopeProductsWrite = "products:write"
)

var (
	AdminScopes   = []string{ScopeOrdersRead, ScopeOrdersWrite, ScopeProductsRead, ScopeProductsWrite}
	ServiceScopes = []string{ScopeOrdersRead, ScopeOrdersWrite, ScopeProductsRead}
)

type Caller struct {
	Subject string
	Role    string
	Scopes  []string
}

// System is used by in-process callers that bypass token verification.
var System = Caller{Subject: "system", Role: "service", Scopes: AdminScopes}

func (c Caller) Has(scope string) bool { return slices.Contains(c.Scopes, scope) }

// Require fails with Unauthorized for an anonymous caller and Forbidden when
// the scope is missing.
func (c Caller) Require(scope string) error {
	if c.Subject == "" {
		return apperr.New(apperr.KindUnauthorized, "caller identity required")
	}
	if !c.Has(scope) {
		return apperr.Newf(apperr.KindForbidden, "missing scope %s", scope)
	}
	return nil
}

type claims struct {
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

type Issuer struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

func (i Issuer) Issue(subject, role string, scopes []string, ttl time.Duration) (string, error) {
	if len(i.Secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	t := now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:   role,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(t),
			ExpiresAt: jwt.NewNumericDate(t.Add(ttl)),
		},
	})
	return tok.SignedString(i.Secret)
}

type Verifier struct {
	Secret []byte
	Issuer string
}

// Verify parses an Authorization header value ("Bearer <jwt>").
func (v Verifier) Verify(header string) (Caller, error) {
	raw, ok := bearer(header)
	if !ok {
		return Caller{}, apperr.New(apperr.KindUnauthorized, "missing bearer token")
	}
	var c claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return v.Secret, nil }, opts...)
	if err != nil {
		return Caller{}, apperr.Wrap(apperr.KindUnauthorized, err, "invalid token")
	}
	return Caller{Subject: c.Subject, Role: c.Role, Scopes: c.Scopes}, nil
}

// CheckServiceToken validates the static token guarding internal endpoints.
func CheckServiceToken(header, want string) error {
	raw, ok := bearer(header)
	if !ok {
		return apperr.New(apperr.KindUnauthorized, "service token not provided")
	}
	if want == "" || subtle.ConstantTimeCompare([]byte(raw), []byte(want)) != 1 {
		return apperr.New(apperr.KindForbidden, "invalid service token")
	}
	return nil
}

func BearerHeader(token string) string { return fmt.Sprintf("Bearer %s", token) }

func bearer(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || tok == "" {
		return "", false
	}
	return tok, true
}

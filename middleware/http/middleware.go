// Package http provides HTTP middleware that authenticates callers by bearer token
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

var (
	// ErrMissingToken is returned when the request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when the token fails signature or claim validation
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Identity is the authenticated caller as asserted by the identity service
type Identity struct {
	UserID string
	Email  string
}

// Claims is the token payload. The subject carries the user id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Config holds middleware configuration
type Config struct {
	// Secret is the HMAC key shared with the identity service (required)
	Secret string

	// Issuer, when set, must match the token's iss claim
	Issuer string

	// Leeway tolerates clock skew on exp and nbf
	// Default: 30 seconds
	Leeway time.Duration

	// OnUnauthorized is called when the caller cannot be authenticated
	// If nil, returns 401 with a JSON error body
	OnUnauthorized func(w http.ResponseWriter, r *http.Request, err error)

	Logger billing.Logger
}

// Authenticator verifies HS256 bearer tokens and stores the Identity in the request context
type Authenticator struct {
	secret []byte
	config Config
	parser *jwt.Parser
}

// NewAuthenticator creates an authenticator. An empty secret is a configuration error.
func NewAuthenticator(config Config) (*Authenticator, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("%w: auth secret is required", billing.ErrConfiguration)
	}
	if config.Leeway == 0 {
		config.Leeway = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(config.Leeway),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &Authenticator{
		secret: []byte(config.Secret),
		config: config,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authenticate extracts and verifies the bearer token of r
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return Identity{UserID: claims.Subject, Email: billing.NormalizeEmail(claims.Email)}, nil
}

// Middleware rejects unauthenticated requests and passes the Identity downstream
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		if err != nil {
			a.config.Logger.Debug("request not authenticated",
				billing.F("path", r.URL.Path),
				billing.F("error", err),
			)
			if a.config.OnUnauthorized != nil {
				a.config.OnUnauthorized(w, r, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// Issue signs a token for identity valid for ttl. Used by tooling and tests.
func (a *Authenticator) Issue(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(r *http.Request) (string, bool) {
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(hdr[7:])
	return tok, tok != ""
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// IdentityKey is the context key for the authenticated Identity
	IdentityKey ContextKey = "billingsync:identity"
)

// WithIdentity returns a copy of ctx carrying identity
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFromContext returns the Identity stored by Middleware
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(Identity)
	return identity, ok && identity.UserID != ""
}

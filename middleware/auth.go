package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/logging"
)

// ClaimsKey is the gin context key holding the caller's *AdminClaims.
const ClaimsKey = "admin_claims"

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingRole is returned when a valid token lacks the required role.
	ErrMissingRole = errors.New("required role not granted")
)

// AdminClaims are the claims read from an operator token. Roles are taken
// from the top-level "roles" claim or from Keycloak's realm_access.
type AdminClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string   `json:"preferred_username,omitempty"`
	ClientID          string   `json:"client_id,omitempty"`
	AuthorizedParty   string   `json:"azp,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access,omitempty"`
}

// Principal names the caller for logs.
func (c *AdminClaims) Principal() string {
	switch {
	case c.Subject != "":
		return c.Subject
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.ClientID != "":
		return c.ClientID
	default:
		return c.AuthorizedParty
	}
}

// HasRole reports whether role was granted to the caller.
func (c *AdminClaims) HasRole(role string) bool {
	return lo.Contains(c.Roles, role) || lo.Contains(c.RealmAccess.Roles, role)
}

// AdminAuth guards operator endpoints with bearer tokens
type AdminAuth struct {
	config   config.AdminConfig
	secret   []byte
	verifier *oidc.IDTokenVerifier
	logger   *logging.Logger
}

// NewAdminAuth builds the guard. An HMAC secret takes precedence over the
// OIDC key set; keys behind JWKSURL are fetched on first use.
func NewAdminAuth(cfg config.AdminConfig) *AdminAuth {
	a := &AdminAuth{
		config: cfg,
		logger: logging.Component("auth"),
	}
	switch {
	case cfg.JWTSecret != "":
		a.secret = []byte(cfg.JWTSecret)
	case cfg.JWKSURL != "":
		ctx := context.Background()
		if cfg.AllowInsecureIssuer {
			ctx = oidc.InsecureIssuerURLContext(ctx, cfg.IssuerURL)
		}
		a.verifier = newOIDCVerifier(cfg, oidc.NewRemoteKeySet(ctx, cfg.JWKSURL))
	}
	return a
}

func newOIDCVerifier(cfg config.AdminConfig, keys oidc.KeySet) *oidc.IDTokenVerifier {
	return oidc.NewVerifier(cfg.IssuerURL, keys, &oidc.Config{
		ClientID:          cfg.Audience,
		SkipClientIDCheck: cfg.Audience == "",
		SkipIssuerCheck:   cfg.AllowInsecureIssuer || cfg.IssuerURL == "",
	})
}

// Enabled reports whether requests are checked at all.
func (a *AdminAuth) Enabled() bool { return a.config.Enabled }

// Verify checks the token signature, expiry and required role.
func (a *AdminAuth) Verify(ctx context.Context, token string) (*AdminClaims, error) {
	var claims AdminClaims

	switch {
	case a.secret != nil:
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		}
		if a.config.IssuerURL != "" {
			opts = append(opts, jwt.WithIssuer(a.config.IssuerURL))
		}
		if a.config.Audience != "" {
			opts = append(opts, jwt.WithAudience(a.config.Audience))
		}
		_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
			return a.secret, nil
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	case a.verifier != nil:
		idToken, err := a.verifier.Verify(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("%w: failed to extract claims: %v", ErrInvalidToken, err)
		}
	default:
		return nil, fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}

	if role := a.config.RequiredRole; role != "" && !claims.HasRole(role) {
		return &claims, fmt.Errorf("%w: %s", ErrMissingRole, role)
	}
	return &claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: invalid authorization format", ErrMissingToken)
	}
	return strings.TrimSpace(token), nil
}

// Handler returns a gin middleware rejecting requests without an operator
// token. It is a no-op when admin auth is disabled.
func (a *AdminAuth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.config.Enabled {
			c.Next()
			return
		}

		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="nkms"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := a.Verify(c.Request.Context(), token)
		switch {
		case errors.Is(err, ErrMissingRole):
			a.logger.Warn("operator %s denied %s: %v", claims.Principal(), c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		case err != nil:
			a.logger.Warn("rejected token for %s: %v", c.FullPath(), err)
			c.Header("WWW-Authenticate", `Bearer realm="nkms", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}

		a.logger.Debug("operator %s authorized for %s", claims.Principal(), c.FullPath())
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
)

// tokenIssuer is the iss claim of tokens minted by IssueToken.
const tokenIssuer = "lifxd"

// IssueToken mints an HS256 token signed with secret. A zero ttl produces a
// token without an expiry.
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret is required")
	}
	claims := jwt.RegisteredClaims{
		Issuer:   tokenIssuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// authenticate accepts the configured secret itself or an HS256 token
// signed with it.
func (s *Server) authenticate(token string) bool {
	if token == "" {
		return false
	}
	secret := []byte(s.secCfg.SecretKey)
	if subtle.ConstantTimeCompare([]byte(token), secret) == 1 {
		return true
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	return err == nil && parsed.Valid
}

// authMiddleware rejects requests without a valid bearer token. Failures
// count against the client's auth window; once it is full every request
// from that client gets 429 until the window slides.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)

		if s.limiter != nil {
			if d := s.limiter.Blocked(ratelimit.KindAuth, client); !d.Allowed {
				writeRateLimited(w, d.RetryAfter, "too many failed authentication attempts")
				return
			}
		}

		if !s.authenticate(bearerToken(r)) {
			if s.limiter != nil {
				s.limiter.Check(ratelimit.KindAuth, client)
			}
			s.logger.Warn("authentication failed",
				"client", client,
				"path", r.URL.Path,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="lifxd"`)
			writeUnauthorized(w, "missing or invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

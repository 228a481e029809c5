package interceptors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FACorreiaa/echo-ingest/internal/domain/common"
)

// NewAuthInterceptor validates HS256 bearer tokens and stores the uid claim in the
// request context. Requests whose path starts with one of publicPaths pass through.
func NewAuthInterceptor(secret []byte, publicPaths ...string) Interceptor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				_ = common.WriteError(w, http.StatusUnauthorized, common.ErrUnauthenticated)
				return
			}

			claims, err := ParseToken(secret, token)
			if err != nil {
				_ = common.WriteError(w, http.StatusUnauthorized, common.ErrUnauthenticated)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

// ParseToken verifies token against secret and returns its claims.
func ParseToken(secret []byte, token string) (*common.Claims, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	claims := &common.Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, errors.New("token missing uid claim")
	}
	return claims, nil
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

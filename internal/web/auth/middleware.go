package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine/access"
)

// Middleware extracts a bearer token and stores the verified identity in the
// request context. Requests without a token pass through anonymously; the
// permission gate decides what anonymous callers may do. Requests with an
// invalid token are rejected.
func Middleware(svc *Service, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				http.Error(w, "malformed authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := svc.Verify(token)
			if err != nil {
				log.Debug("token rejected", zap.Error(err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			subject, _ := claims["sub"].(string)
			a := access.Auth{Subject: subject, Claims: claims}
			next.ServeHTTP(w, r.WithContext(access.WithAuth(r.Context(), a)))
		})
	}
}

package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"advisor/internal/auth"
	"advisor/internal/httputil"
)

// AuthMiddleware resolves the caller's user ID.
// With a verifier, requests must carry a Supabase JWT either as a Bearer
// header or, for EventSource clients that cannot set headers, as the
// access_token query parameter. Without one every request runs as
// defaultUserID. Paths in public skip authentication.
func AuthMiddleware(verifier auth.JWTVerifier, defaultUserID string, logger *slog.Logger, public ...string) func(http.Handler) http.Handler {
	publicPaths := make(map[string]bool, len(public))
	for _, p := range public {
		publicPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if verifier == nil {
				next.ServeHTTP(w, httputil.WithUserID(r, defaultUserID))
				return
			}

			token := bearerToken(r)
			if token == "" {
				httputil.RespondError(w, http.StatusUnauthorized, "missing access token")
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Debug("token rejected",
					"path", r.URL.Path,
					"request_id", httputil.GetRequestID(r),
					"error", err,
				)
				httputil.RespondError(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			next.ServeHTTP(w, httputil.WithUserID(r, claims.GetUserID()))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

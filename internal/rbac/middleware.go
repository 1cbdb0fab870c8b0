package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/authgrid/authgrid/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers on top of the
// resolver. The authenticated user id is expected in the request context.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAny ensures the current user holds at least one of the required
// permission codes.
func (m Middleware) RequireAny(codes ...string) func(http.Handler) http.Handler {
	required := normalizeCodes(codes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted, ok := m.grantedCodes(w, r)
			if !ok {
				return
			}
			for _, code := range required {
				if _, held := granted[code]; held {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current user holds every required permission code.
func (m Middleware) RequireAll(codes ...string) func(http.Handler) http.Handler {
	required := normalizeCodes(codes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			granted, ok := m.grantedCodes(w, r)
			if !ok {
				return
			}
			for _, code := range required {
				if _, held := granted[code]; !held {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) grantedCodes(w http.ResponseWriter, r *http.Request) (map[string]struct{}, bool) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, false
	}
	codes, err := m.Resolver.ResolvePermissionCodes(r.Context(), userID)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("resolve permission codes", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	granted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		granted[strings.ToLower(code)] = struct{}{}
	}
	return granted, true
}

func normalizeCodes(codes []string) []string {
	unique := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(strings.ToLower(code))
		if code == "" {
			continue
		}
		unique[code] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for code := range unique {
		normalized = append(normalized, code)
	}
	return normalized
}

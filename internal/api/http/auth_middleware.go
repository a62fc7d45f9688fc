package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

const (
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"
)

// requireCaller reads the caller identity set by the gateway in front of us.
func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(headerUserID))
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+headerUserID)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid "+headerUserID)
			return
		}
		role, ok := parseRole(r.Header.Get(headerRole))
		if !ok {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid "+headerRole)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), &Caller{UserID: id, Role: role})))
	})
}

// requireRole refuses callers whose asserted role is set and not in roles.
// A caller without a role passes; the state machine still checks parties.
func (s *Server) requireRole(roles ...negotiation.Role) func(http.Handler) http.Handler {
	allowed := make(map[negotiation.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := callerFromContext(r.Context())
			if c == nil {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller")
				return
			}
			if c.Role != "" {
				if _, ok := allowed[c.Role]; !ok {
					respondError(w, http.StatusForbidden, "NOT_AUTHORIZED", "role "+string(c.Role)+" cannot do this")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseRole(raw string) (negotiation.Role, bool) {
	switch negotiation.Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", true
	case negotiation.RoleBuyer:
		return negotiation.RoleBuyer, true
	case negotiation.RoleFarmer:
		return negotiation.RoleFarmer, true
	}
	return "", false
}

/*
identity.go - Caller identity middleware

PURPOSE:
  The engine sits behind the company SSO proxy, which injects the
  authenticated employee id into X-Employee-ID on every request. This
  middleware turns that header into a request-scoped identity and enforces
  the role gate on HR routes.

AUTHORIZATION:
  Roles live on the employee record (employee, hr, admin) and are checked
  there, never inferred from the email address. RequireHR loads the record
  and rejects callers whose role cannot administer.

SEE ALSO:
  - server.go: where the middleware is mounted
  - allowance/types.go: Role and CanAdminister
*/
package api

import (
	"context"
	"net/http"
)

type contextKey string

const identityKey contextKey = "identity"

// headerEmployeeID is set by the SSO proxy; requests without it are
// unauthenticated.
const headerEmployeeID = "X-Employee-ID"

// Identity is the authenticated caller of the current request.
type Identity struct {
	EmployeeID string
}

// WithIdentity rejects requests without an employee header and stores the
// caller identity on the request context.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerEmployeeID)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+headerEmployeeID+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, Identity{EmployeeID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerID returns the authenticated employee id for the request.
func CallerID(r *http.Request) string {
	ident, _ := r.Context().Value(identityKey).(Identity)
	return ident.EmployeeID
}

// RequireHR loads the caller's employee record and rejects anyone whose
// role cannot administer config and exports.
func (h *Handler) RequireHR(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		emp, err := h.Store.GetEmployee(r.Context(), CallerID(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load caller", err)
			return
		}
		if emp == nil || !emp.Active {
			writeError(w, http.StatusUnauthorized, "Unknown employee", nil)
			return
		}
		if !emp.Role.CanAdminister() {
			writeError(w, http.StatusForbidden, "HR role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

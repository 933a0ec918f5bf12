package api

import (
	"net/http"
	"strings"

	"github.com/afterdarksys/mockfactory/internal/emu"
	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// authenticate resolves the caller from the API key and stashes the user in
// the request context. Keys travel as `Authorization: Bearer mf_…` or the
// X-API-Key header.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if h, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				key = h
			}
		}
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}
		user, err := s.Store.UserByAPIKey(r.Context(), key)
		if err != nil {
			// Unknown keys read as 404, never confirming which keys exist.
			writeFault(w, fault.NotFoundf("unknown API key"))
			return
		}
		if !user.Active {
			writeFault(w, fault.Forbiddenf("account %s is disabled", user.ID))
			return
		}
		next.ServeHTTP(w, r.WithContext(emu.WithUser(r.Context(), user)))
	})
}

// caller reads the authenticated user back out of the context.
func caller(r *http.Request) *store.User {
	u, _ := emu.UserFrom(r.Context())
	return u
}

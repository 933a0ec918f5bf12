// Package api exposes the control-plane HTTP surface: environment lifecycle,
// DNS record management, and the mounted cloud-emulation tree, all behind
// API-key authentication.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/afterdarksys/mockfactory/internal/dnszone"
	"github.com/afterdarksys/mockfactory/internal/emu"
	"github.com/afterdarksys/mockfactory/internal/lifecycle"
	"github.com/afterdarksys/mockfactory/internal/provision"
	"github.com/afterdarksys/mockfactory/internal/store"
	"github.com/afterdarksys/mockfactory/pkg/version"
)

// Server wires the HTTP surface to the control-plane components.
type Server struct {
	Store     *store.Store
	Lifecycle *lifecycle.Manager
	Prov      *provision.Provisioner
	DNS       *dnszone.Records
	Emu       *emu.Router

	// DailyQuota caps environment creations per tier over a rolling day.
	DailyQuota map[string]int

	Logger *slog.Logger
}

// Routes builds the full route tree.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/environments", func(r chi.Router) {
				r.Post("/", s.createEnvironment)
				r.Get("/", s.listEnvironments)
				r.Route("/{env}", func(r chi.Router) {
					r.Get("/", s.getEnvironment)
					r.Delete("/", s.destroyEnvironment)
					r.Patch("/", s.patchEnvironment)
					r.Post("/stop", s.stopEnvironment)
					r.Post("/start", s.startEnvironment)
					r.Route("/dns", func(r chi.Router) {
						r.Get("/", s.listDNS)
						r.Post("/", s.createDNS)
						r.Post("/bulk", s.createDNSBulk)
						r.Delete("/{record}", s.deleteDNS)
					})
				})
			})
		})

		// Cloud emulation lives at the root: /aws/…, /gcp/…, /azure/….
		r.Mount("/", s.Emu.Routes())
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Current,
	})
}

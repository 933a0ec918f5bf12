package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/dnszone"
	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/lifecycle"
	"github.com/afterdarksys/mockfactory/internal/store"
)

type envResponse struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	State             string            `json:"state"`
	Hostname          *string           `json:"hostname,omitempty"`
	HourlyRate        float64           `json:"hourly_rate"`
	RunningCost       float64           `json:"running_cost"`
	AutoShutdownSecs  int               `json:"auto_shutdown_secs"`
	CreatedAt         time.Time         `json:"created_at"`
	LastActivityAt    time.Time         `json:"last_activity_at"`
	AutoDeleteAt      *time.Time        `json:"auto_delete_at,omitempty"`
	Endpoints         map[string]string `json:"endpoints,omitempty"`
}

// envBody renders an environment. Connection descriptors are always the
// masked form; the real credential never crosses this boundary.
func (s *Server) envBody(r *http.Request, env *store.Environment, withServices bool) (envResponse, error) {
	out := envResponse{
		ID:               env.ID,
		Name:             env.Name,
		State:            string(env.State),
		Hostname:         env.Hostname,
		HourlyRate:       env.HourlyRate,
		RunningCost:      env.RunningCost,
		AutoShutdownSecs: int(env.AutoShutdownAfter.Seconds()),
		CreatedAt:        env.CreatedAt,
		LastActivityAt:   env.LastActivityAt,
		AutoDeleteAt:     env.AutoDeleteAt,
	}
	if withServices {
		services, err := s.Store.ServicesByEnvironment(r.Context(), env.ID)
		if err != nil {
			return out, err
		}
		out.Endpoints = s.Prov.DescribeAll(services)
	}
	return out, nil
}

type createServiceRequest struct {
	Kind    string         `json:"kind"`
	Version string         `json:"version,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
}

type createEnvRequest struct {
	Name              string                 `json:"name"`
	Services          []createServiceRequest `json:"services"`
	AutoShutdownHours float64                `json:"auto_shutdown_hours"`
	TTLHours          float64                `json:"ttl_hours"`
}

func (s *Server) createEnvironment(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	var req createEnvRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, fault.Invalidf("malformed request body"))
		return
	}

	if err := s.checkQuota(r, user); err != nil {
		writeFault(w, err)
		return
	}

	kinds := make([]catalog.Kind, 0, len(req.Services))
	for _, svc := range req.Services {
		kinds = append(kinds, catalog.Kind(svc.Kind))
	}
	lreq := lifecycle.CreateRequest{
		UserID:            user.ID,
		Name:              req.Name,
		Kinds:             kinds,
		AutoShutdownAfter: time.Duration(req.AutoShutdownHours * float64(time.Hour)),
	}
	if req.TTLHours > 0 {
		at := s.Store.Now().Add(time.Duration(req.TTLHours * float64(time.Hour)))
		lreq.AutoDeleteAt = &at
	}

	env, services, err := s.Lifecycle.Create(r.Context(), lreq)
	if err != nil {
		writeFault(w, err)
		return
	}
	body, berr := s.envBody(r, env, false)
	if berr != nil {
		writeFault(w, berr)
		return
	}
	body.Endpoints = s.Prov.DescribeAll(services)
	writeJSON(w, http.StatusCreated, body)
}

// checkQuota enforces the per-tier daily creation cap over a rolling day.
func (s *Server) checkQuota(r *http.Request, user *store.User) error {
	limit, ok := s.DailyQuota[user.Tier]
	if !ok || limit <= 0 {
		return nil
	}
	n, err := s.Store.EnvironmentsCreatedSince(r.Context(), user.ID, s.Store.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if n >= limit {
		return fault.RateLimitedf("daily limit of %d environments reached for tier %s", limit, user.Tier)
	}
	return nil
}

func (s *Server) listEnvironments(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	state := store.EnvState(r.URL.Query().Get("state"))
	envs, err := s.Store.EnvironmentsByUser(r.Context(), user.ID, state)
	if err != nil {
		writeFault(w, err)
		return
	}
	out := make([]envResponse, 0, len(envs))
	for _, env := range envs {
		body, err := s.envBody(r, env, false)
		if err != nil {
			writeFault(w, err)
			return
		}
		out = append(out, body)
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": out})
}

// ownedEnv resolves the {env} path parameter against the caller.
func (s *Server) ownedEnv(r *http.Request) (*store.Environment, error) {
	return s.Store.OwnedEnvironment(r.Context(), caller(r).ID, chi.URLParam(r, "env"))
}

func (s *Server) getEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	body, err := s.envBody(r, env, true)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) stopEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := s.Lifecycle.Stop(r.Context(), env.ID); err != nil {
		writeFault(w, err)
		return
	}
	s.respondState(w, r, env.ID)
}

func (s *Server) startEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := s.Lifecycle.Start(r.Context(), env.ID); err != nil {
		writeFault(w, err)
		return
	}
	s.respondState(w, r, env.ID)
}

func (s *Server) destroyEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := s.Lifecycle.Destroy(r.Context(), env.ID); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type patchEnvRequest struct {
	Hostname *string `json:"hostname"`
}

// patchEnvironment sets or clears the custom hostname. Hostnames are
// globally unique; a taken name reads as Conflict.
func (s *Server) patchEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	var req patchEnvRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, fault.Invalidf("malformed request body"))
		return
	}
	if req.Hostname != nil {
		if err := dnszone.ValidateName(*req.Hostname); err != nil {
			writeFault(w, err)
			return
		}
	}
	if err := s.Store.SetEnvHostname(r.Context(), env.ID, req.Hostname); err != nil {
		writeFault(w, err)
		return
	}
	s.respondState(w, r, env.ID)
}

func (s *Server) respondState(w http.ResponseWriter, r *http.Request, envID string) {
	env, err := s.Store.Environment(r.Context(), envID)
	if err != nil {
		writeFault(w, err)
		return
	}
	body, err := s.envBody(r, env, false)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

package emu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Lambda translator: function metadata CRUD plus synchronous Invoke.
// Invoke runs an ephemeral container from a per-runtime base image with the
// event on stdin and stdout as the result; concurrent invokes per function
// are bounded.

// lambdaImages maps function runtimes onto ephemeral base images.
var lambdaImages = map[string]string{
	"python3.11": "python:3.11-alpine",
	"python3.12": "python:3.12-alpine",
	"nodejs18.x": "node:18-alpine",
	"nodejs20.x": "node:20-alpine",
	"go1.x":      "golang:1.24-alpine",
}

func lambdaFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "ResourceNotFoundException", err.Error())
	case errors.Is(err, fault.ErrConflict):
		writeJSONError(w, http.StatusConflict, "ResourceConflictException", err.Error())
	case errors.Is(err, fault.ErrInvalid):
		writeJSONError(w, http.StatusBadRequest, "InvalidParameterValueException", err.Error())
	case errors.Is(err, fault.ErrTooManyRequests):
		writeJSONError(w, http.StatusTooManyRequests, "TooManyRequestsException", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "ServiceException", "internal error")
	}
}

type lambdaConfig struct {
	FunctionName string            `json:"FunctionName"`
	Runtime      string            `json:"Runtime"`
	Handler      string            `json:"Handler"`
	MemorySize   int               `json:"MemorySize"`
	Timeout      int               `json:"Timeout"`
	Environment  map[string]string `json:"Environment,omitempty"`
	LastModified string            `json:"LastModified"`
}

func lambdaResource(fn *store.LambdaFunction) lambdaConfig {
	cfg := lambdaConfig{
		FunctionName: fn.Name,
		Runtime:      fn.Runtime,
		Handler:      fn.Handler,
		MemorySize:   fn.MemoryMB,
		Timeout:      fn.TimeoutSecs,
		LastModified: fn.CreatedAt.UTC().Format(time.RFC3339),
	}
	if fn.EnvJSON != "" {
		_ = json.Unmarshal([]byte(fn.EnvJSON), &cfg.Environment)
	}
	return cfg
}

func (rt *Router) lambdaCreate(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	var req struct {
		FunctionName string `json:"FunctionName"`
		Runtime      string `json:"Runtime"`
		Handler      string `json:"Handler"`
		MemorySize   int    `json:"MemorySize"`
		Timeout      int    `json:"Timeout"`
		Environment  struct {
			Variables map[string]string `json:"Variables"`
		} `json:"Environment"`
		Code struct {
			S3Key string `json:"S3Key"`
		} `json:"Code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FunctionName == "" {
		writeJSONError(w, http.StatusBadRequest, "InvalidParameterValueException", "FunctionName required")
		return
	}
	if _, ok := lambdaImages[req.Runtime]; !ok {
		writeJSONError(w, http.StatusBadRequest, "InvalidParameterValueException",
			"unsupported runtime "+req.Runtime)
		return
	}
	if req.MemorySize <= 0 {
		req.MemorySize = 128
	}
	if req.Timeout <= 0 {
		req.Timeout = 3
	}
	envJSON := ""
	if len(req.Environment.Variables) > 0 {
		raw, _ := json.Marshal(req.Environment.Variables)
		envJSON = string(raw)
	}
	fn := &store.LambdaFunction{
		EnvironmentID: env.ID,
		Name:          req.FunctionName,
		Runtime:       req.Runtime,
		Handler:       req.Handler,
		MemoryMB:      req.MemorySize,
		TimeoutSecs:   req.Timeout,
		EnvJSON:       envJSON,
		CodeRef:       req.Code.S3Key,
	}
	if err := rt.Store.CreateLambdaFunction(r.Context(), fn); err != nil {
		lambdaFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lambdaResource(fn))
}

func (rt *Router) lambdaGet(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	fn, err := rt.Store.LambdaFunction(r.Context(), env.ID, chi.URLParam(r, "name"))
	if err != nil {
		lambdaFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Configuration": lambdaResource(fn)})
}

func (rt *Router) lambdaList(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	fns, err := rt.Store.LambdaFunctionsByEnvironment(r.Context(), env.ID)
	if err != nil {
		lambdaFault(w, err)
		return
	}
	out := make([]lambdaConfig, 0, len(fns))
	for _, fn := range fns {
		out = append(out, lambdaResource(fn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"Functions": out})
}

func (rt *Router) lambdaDelete(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	if err := rt.Store.DeleteLambdaFunction(r.Context(), env.ID, chi.URLParam(r, "name")); err != nil {
		lambdaFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// acquireInvoke reserves an invocation slot, or fails with TooManyRequests
// once the per-function bound is hit.
func (rt *Router) acquireInvoke(fnID int64) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.inflight[fnID] >= rt.LambdaConcurrency {
		return fault.RateLimitedf("concurrency limit of %d reached", rt.LambdaConcurrency)
	}
	rt.inflight[fnID]++
	return nil
}

func (rt *Router) releaseInvoke(fnID int64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.inflight[fnID] > 0 {
		rt.inflight[fnID]--
	}
}

func (rt *Router) lambdaInvoke(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	fn, err := rt.Store.LambdaFunction(r.Context(), env.ID, chi.URLParam(r, "name"))
	if err != nil {
		lambdaFault(w, err)
		return
	}
	event, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "InvalidRequestContentException", "unreadable payload")
		return
	}

	if err := rt.acquireInvoke(fn.ID); err != nil {
		lambdaFault(w, err)
		return
	}
	defer rt.releaseInvoke(fn.ID)

	var fnEnv map[string]string
	if fn.EnvJSON != "" {
		_ = json.Unmarshal([]byte(fn.EnvJSON), &fnEnv)
	}
	envVars := make([]string, 0, len(fnEnv)+1)
	for k, v := range fnEnv {
		envVars = append(envVars, k+"="+v)
	}
	envVars = append(envVars, "_HANDLER="+fn.Handler)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(fn.TimeoutSecs)*time.Second)
	defer cancel()

	stdout, runErr := rt.Runtime.RunEphemeral(ctx, lambdaImages[fn.Runtime], envVars, event)
	if runErr != nil && ctx.Err() != nil {
		// Function timed out; partial stdout still ships in the error shape.
		w.Header().Set("X-Amz-Function-Error", "Unhandled")
		writeJSON(w, http.StatusOK, map[string]string{
			"errorType":    "TimeoutError",
			"errorMessage": "task timed out after " + time.Duration(fn.TimeoutSecs*int(time.Second)).String(),
		})
		return
	}
	if runErr != nil {
		rt.Logger.Error("lambda invoke failed", "environment", env.ID, "function", fn.Name, "error", runErr)
		lambdaFault(w, runErr)
		return
	}
	w.Header().Set("X-Amz-Executed-Version", "$LATEST")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, stdout)
}

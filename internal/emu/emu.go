// Package emu translates cloud-shaped API requests (AWS, GCP, Azure) into
// operations against the relational store, the object-store adapter, and the
// container runtime. Each service family gets a thin translator; the router
// dispatches by path prefix or by the <service>.<env>.<base-domain> host
// form. No translator ever emits a stored credential.
package emu

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/afterdarksys/mockfactory/internal/dnszone"
	"github.com/afterdarksys/mockfactory/internal/objectstore"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Router owns the per-family translators.
type Router struct {
	Store   *store.Store
	Objects objectstore.Store
	Runtime runtime.Adapter
	DNS     *dnszone.Records

	BaseDomain string
	// LambdaConcurrency bounds concurrent invokes per function.
	LambdaConcurrency int
	// SQSVisibilityDefault is the queue default visibility timeout, seconds.
	SQSVisibilityDefault int

	Logger *slog.Logger
	Tracer trace.Tracer

	mu       sync.Mutex
	inflight map[int64]int // lambda function id -> running invokes
	iam      map[string]*iamState
}

// New builds the router with defaults.
func New(st *store.Store, obj objectstore.Store, rt runtime.Adapter, dns *dnszone.Records, baseDomain string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		Store:                st,
		Objects:              obj,
		Runtime:              rt,
		DNS:                  dns,
		BaseDomain:           baseDomain,
		LambdaConcurrency:    10,
		SQSVisibilityDefault: 30,
		Logger:               logger,
		Tracer:               otel.Tracer("mockfactory/emu"),
		inflight:             make(map[int64]int),
		iam:                  make(map[string]*iamState),
	}
}

// Routes builds the emulation route tree. The transport resolves the caller
// before these handlers run; WithUser carries the resolved user in.
func (rt *Router) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/aws/{env}", func(r chi.Router) {
		r.Route("/s3", func(r chi.Router) {
			r.Use(rt.envGate("s3", writeS3Error))
			r.Get("/", rt.s3ListBuckets)
			r.Put("/{bucket}", rt.s3CreateBucket)
			r.Delete("/{bucket}", rt.s3DeleteBucket)
			r.Get("/{bucket}", rt.s3ListObjects)
			r.Put("/{bucket}/*", rt.s3PutObject)
			r.Get("/{bucket}/*", rt.s3GetObject)
			r.Delete("/{bucket}/*", rt.s3DeleteObject)
		})
		r.With(rt.envGate("ec2", writeQueryError)).Post("/ec2", rt.ec2Dispatch)
		r.With(rt.envGate("sqs", writeQueryError)).Post("/sqs", rt.sqsDispatch)
		r.With(rt.envGate("iam", writeQueryError)).Post("/iam", rt.iamDispatch)
		r.With(rt.envGate("dynamodb", writeDynamoError)).Post("/dynamodb", rt.dynamoDispatch)
		r.Route("/lambda", func(r chi.Router) {
			r.Use(rt.envGate("lambda", writeJSONError))
			r.Post("/2015-03-31/functions", rt.lambdaCreate)
			r.Get("/2015-03-31/functions", rt.lambdaList)
			r.Get("/2015-03-31/functions/{name}", rt.lambdaGet)
			r.Delete("/2015-03-31/functions/{name}", rt.lambdaDelete)
			r.Post("/2015-03-31/functions/{name}/invocations", rt.lambdaInvoke)
		})
		r.Route("/route53", func(r chi.Router) {
			r.Use(rt.envGate("route53", writeRoute53Error))
			r.Post("/2013-04-01/hostedzone", rt.r53CreateZone)
			r.Get("/2013-04-01/hostedzone", rt.r53ListZones)
			r.Get("/2013-04-01/hostedzone/{zone}", rt.r53GetZone)
			r.Post("/2013-04-01/hostedzone/{zone}/rrset", rt.r53ChangeRRSets)
			r.Get("/2013-04-01/hostedzone/{zone}/rrset", rt.r53ListRRSets)
		})
	})

	r.Route("/gcp/{env}/storage/v1", func(r chi.Router) {
		r.Use(rt.envGate("gcs", writeGCSError))
		r.Post("/b", rt.gcsCreateBucket)
		r.Get("/b", rt.gcsListBuckets)
		r.Get("/b/{bucket}", rt.gcsGetBucket)
		r.Delete("/b/{bucket}", rt.gcsDeleteBucket)
		r.Post("/b/{bucket}/o", rt.gcsInsertObject)
		r.Get("/b/{bucket}/o", rt.gcsListObjects)
		r.Get("/b/{bucket}/o/{object}", rt.gcsGetObject)
		r.Delete("/b/{bucket}/o/{object}", rt.gcsDeleteObject)
	})

	r.Route("/azure/{env}/blob", func(r chi.Router) {
		r.Use(rt.envGate("blob", writeBlobError))
		r.Put("/{container}", rt.blobCreateContainer)
		r.Delete("/{container}", rt.blobDeleteContainer)
		r.Get("/{container}", rt.blobListBlobs)
		r.Put("/{container}/*", rt.blobPut)
		r.Get("/{container}/*", rt.blobGet)
		r.Delete("/{container}/*", rt.blobDelete)
	})

	return r
}

type ctxKey int

const (
	ctxUser ctxKey = iota
	ctxEnv
)

// WithUser attaches the authenticated caller; the transport's auth
// middleware calls this before dispatching into the emulation tree.
func WithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, ctxUser, u)
}

// UserFrom reads the authenticated caller back out.
func UserFrom(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(ctxUser).(*store.User)
	return u, ok
}

func envFrom(ctx context.Context) *store.Environment {
	return ctx.Value(ctxEnv).(*store.Environment)
}

// errWriter renders one family's conventional error encoding.
type errWriter func(w http.ResponseWriter, status int, code, message string)

// envGate resolves the target environment, enforces ownership, bumps
// last-activity, and records the metering event. Cross-user access is
// Forbidden, never NotFound, per the router contract.
func (rt *Router) envGate(family string, writeErr errWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFrom(r.Context())
			if !ok {
				writeErr(w, http.StatusForbidden, "AccessDenied", "no caller identity")
				return
			}
			envID := chi.URLParam(r, "env")
			if envID == "" {
				envID = envFromHost(r.Host, rt.BaseDomain)
			}
			env, err := rt.Store.Environment(r.Context(), envID)
			if err != nil {
				writeErr(w, http.StatusNotFound, "NoSuchEnvironment", "environment not found")
				return
			}
			if env.UserID != user.ID {
				writeErr(w, http.StatusForbidden, "AccessDenied", "environment not owned by caller")
				return
			}
			if env.State == store.EnvDestroyed || env.State == store.EnvDestroying {
				writeErr(w, http.StatusNotFound, "NoSuchEnvironment", "environment destroyed")
				return
			}

			if err := rt.Store.TouchEnvironment(r.Context(), env.ID); err != nil {
				rt.Logger.Warn("activity bump failed", "environment", env.ID, "error", err)
			}
			rt.Logger.Info("emulation request",
				"environment", env.ID, "family", family,
				"method", r.Method, "path", r.URL.Path)

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxEnv, env)))
		})
	}
}

// envFromHost extracts the environment id from <service>.<env>.<base-domain>.
func envFromHost(host, baseDomain string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	rest, ok := strings.CutSuffix(host, "."+baseDomain)
	if !ok {
		return ""
	}
	parts := strings.Split(rest, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

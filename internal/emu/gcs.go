package emu

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// GCS translator: the JSON API subset (buckets insert/get/delete/list,
// objects insert/get/delete/list) against the environment's gcs namespace.

type gcsErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func writeGCSError(w http.ResponseWriter, status int, code, message string) {
	var body gcsErrorBody
	body.Error.Code = status
	body.Error.Message = message
	body.Error.Status = code
	writeJSON(w, status, body)
}

func gcsFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		writeGCSError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, fault.ErrForbidden):
		writeGCSError(w, http.StatusForbidden, "PERMISSION_DENIED", err.Error())
	case errors.Is(err, fault.ErrConflict):
		writeGCSError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, fault.ErrInvalid):
		writeGCSError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		writeGCSError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type gcsBucket struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	TimeCreated string `json:"timeCreated"`
}

func gcsBucketResource(b *store.Bucket) gcsBucket {
	return gcsBucket{
		Kind:        "storage#bucket",
		Name:        b.Name,
		TimeCreated: b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (rt *Router) gcsCreateBucket(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeGCSError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "bucket name required")
		return
	}
	if _, err := rt.namespaceFor(r.Context(), env.ID, familyGCS); err != nil {
		gcsFault(w, err)
		return
	}
	b, err := rt.Store.CreateBucket(r.Context(), env.ID, familyGCS, req.Name)
	if err != nil {
		gcsFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gcsBucketResource(b))
}

func (rt *Router) gcsListBuckets(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	buckets, err := rt.Store.BucketsByEnvironment(r.Context(), env.ID, familyGCS)
	if err != nil {
		gcsFault(w, err)
		return
	}
	items := make([]gcsBucket, 0, len(buckets))
	for _, b := range buckets {
		items = append(items, gcsBucketResource(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": "storage#buckets", "items": items})
}

func (rt *Router) gcsGetBucket(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyGCS, chi.URLParam(r, "bucket"))
	if err != nil {
		gcsFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gcsBucketResource(b))
}

func (rt *Router) gcsDeleteBucket(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyGCS, chi.URLParam(r, "bucket"))
	if err != nil {
		gcsFault(w, err)
		return
	}
	remaining, err := rt.Store.ListObjectMeta(r.Context(), b.ID, "", 1)
	if err != nil {
		gcsFault(w, err)
		return
	}
	if len(remaining) > 0 {
		writeGCSError(w, http.StatusConflict, "FAILED_PRECONDITION", "bucket is not empty")
		return
	}
	if err := rt.Store.DeleteBucket(r.Context(), b.ID); err != nil {
		gcsFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type gcsObject struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Size        string `json:"size"`
	ContentType string `json:"contentType"`
	MD5Hash     string `json:"md5Hash"`
	Updated     string `json:"updated"`
}

func gcsObjectResource(bucket string, m *store.ObjectMeta) gcsObject {
	return gcsObject{
		Kind:        "storage#object",
		Name:        m.Key,
		Bucket:      bucket,
		Size:        strconv.FormatInt(m.Size, 10),
		ContentType: m.ContentType,
		MD5Hash:     m.ETag,
		Updated:     m.LastModified.UTC().Format(time.RFC3339),
	}
}

// gcsInsertObject implements the media upload form: object name in the
// `name` query parameter, raw bytes in the body.
func (rt *Router) gcsInsertObject(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyGCS, chi.URLParam(r, "bucket"))
	if err != nil {
		gcsFault(w, err)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeGCSError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "object name required")
		return
	}
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyGCS)
	if err != nil {
		gcsFault(w, err)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unreadable body")
		return
	}
	if err := rt.Objects.Put(r.Context(), ns, storedKey(b.Name, name), data); err != nil {
		gcsFault(w, err)
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := &store.ObjectMeta{
		BucketID:    b.ID,
		Key:         name,
		Size:        int64(len(data)),
		ETag:        etagFor(data),
		ContentType: contentType,
	}
	if err := rt.Store.PutObjectMeta(r.Context(), meta); err != nil {
		gcsFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gcsObjectResource(b.Name, meta))
}

func (rt *Router) gcsListObjects(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyGCS, chi.URLParam(r, "bucket"))
	if err != nil {
		gcsFault(w, err)
		return
	}
	metas, err := rt.Store.ListObjectMeta(r.Context(), b.ID, r.URL.Query().Get("prefix"), 1000)
	if err != nil {
		gcsFault(w, err)
		return
	}
	items := make([]gcsObject, 0, len(metas))
	for _, m := range metas {
		items = append(items, gcsObjectResource(b.Name, m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": "storage#objects", "items": items})
}

func (rt *Router) gcsGetObject(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyGCS, chi.URLParam(r, "bucket"))
	if err != nil {
		gcsFault(w, err)
		return
	}
	name := chi.URLParam(r, "object")
	meta, err := rt.Store.ObjectMetaByKey(r.Context(), b.ID, name)
	if err != nil {
		gcsFault(w, err)
		return
	}
	// alt=media streams the payload; the default returns the resource.
	if r.URL.Query().Get("alt") == "media" {
		ns, err := rt.namespaceFor(r.Context(), env.ID, familyGCS)
		if err != nil {
			gcsFault(w, err)
			return
		}
		data, err := rt.Objects.Get(r.Context(), ns, storedKey(b.Name, name))
		if err != nil {
			gcsFault(w, err)
			return
		}
		w.Header().Set("Content-Type", meta.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, gcsObjectResource(b.Name, meta))
}

func (rt *Router) gcsDeleteObject(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyGCS, chi.URLParam(r, "bucket"))
	if err != nil {
		gcsFault(w, err)
		return
	}
	name := chi.URLParam(r, "object")
	if _, err := rt.Store.ObjectMetaByKey(r.Context(), b.ID, name); err != nil {
		gcsFault(w, err)
		return
	}
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyGCS)
	if err != nil {
		gcsFault(w, err)
		return
	}
	if err := rt.Objects.Delete(r.Context(), ns, storedKey(b.Name, name)); err != nil && !errors.Is(err, fault.ErrNotFound) {
		gcsFault(w, err)
		return
	}
	if err := rt.Store.DeleteObjectMeta(r.Context(), b.ID, name); err != nil {
		gcsFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError is the generic JSON error envelope used by families without
// a richer convention (Lambda).
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"errorType": code, "errorMessage": message})
}

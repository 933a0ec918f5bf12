package emu

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Azure Blob translator: container create/delete, blob put/get/delete, and
// the XML blob listing, against the environment's blob namespace.

type blobError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func writeBlobError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("x-ms-request-id", uuid.NewString())
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(blobError{Code: code, Message: message})
}

func blobFault(w http.ResponseWriter, err error, notFoundCode string) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		writeBlobError(w, http.StatusNotFound, notFoundCode, err.Error())
	case errors.Is(err, fault.ErrForbidden):
		writeBlobError(w, http.StatusForbidden, "AuthorizationFailure", err.Error())
	case errors.Is(err, fault.ErrConflict):
		writeBlobError(w, http.StatusConflict, "ContainerAlreadyExists", err.Error())
	case errors.Is(err, fault.ErrInvalid):
		writeBlobError(w, http.StatusBadRequest, "InvalidInput", err.Error())
	default:
		writeBlobError(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}

func (rt *Router) blobCreateContainer(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	// PUT /{container}?restype=container creates; a bare PUT is a blob write
	// with an empty name, which is invalid.
	if r.URL.Query().Get("restype") != "container" {
		writeBlobError(w, http.StatusBadRequest, "InvalidInput", "restype=container required")
		return
	}
	if _, err := rt.namespaceFor(r.Context(), env.ID, familyBlob); err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	if _, err := rt.Store.CreateBucket(r.Context(), env.ID, familyBlob, chi.URLParam(r, "container")); err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (rt *Router) blobDeleteContainer(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyBlob, chi.URLParam(r, "container"))
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	if err := rt.Store.DeleteBucket(r.Context(), b.ID); err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type blobEntry struct {
	Name       string `xml:"Name"`
	Properties struct {
		LastModified  string `xml:"Last-Modified"`
		ContentLength int64  `xml:"Content-Length"`
		ContentType   string `xml:"Content-Type"`
		Etag          string `xml:"Etag"`
	} `xml:"Properties"`
}

type blobListResult struct {
	XMLName       xml.Name    `xml:"EnumerationResults"`
	ContainerName string      `xml:"ContainerName,attr"`
	Prefix        string      `xml:"Prefix"`
	Blobs         []blobEntry `xml:"Blobs>Blob"`
}

func (rt *Router) blobListBlobs(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyBlob, chi.URLParam(r, "container"))
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	metas, err := rt.Store.ListObjectMeta(r.Context(), b.ID, prefix, 1000)
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	out := blobListResult{ContainerName: b.Name, Prefix: prefix, Blobs: []blobEntry{}}
	for _, m := range metas {
		var e blobEntry
		e.Name = m.Key
		e.Properties.LastModified = m.LastModified.UTC().Format(http.TimeFormat)
		e.Properties.ContentLength = m.Size
		e.Properties.ContentType = m.ContentType
		e.Properties.Etag = fmt.Sprintf("%q", m.ETag)
		out.Blobs = append(out.Blobs, e)
	}
	writeXML(w, http.StatusOK, out)
}

func (rt *Router) blobPut(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyBlob, chi.URLParam(r, "container"))
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	name := chi.URLParam(r, "*")
	if name == "" {
		writeBlobError(w, http.StatusBadRequest, "InvalidInput", "empty blob name")
		return
	}
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyBlob)
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBlobError(w, http.StatusBadRequest, "InvalidInput", "unreadable body")
		return
	}
	if err := rt.Objects.Put(r.Context(), ns, storedKey(b.Name, name), data); err != nil {
		blobFault(w, err, "BlobNotFound")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	etag := etagFor(data)
	err = rt.Store.PutObjectMeta(r.Context(), &store.ObjectMeta{
		BucketID:    b.ID,
		Key:         name,
		Size:        int64(len(data)),
		ETag:        etag,
		ContentType: contentType,
	})
	if err != nil {
		blobFault(w, err, "BlobNotFound")
		return
	}
	w.Header().Set("Etag", fmt.Sprintf("%q", etag))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusCreated)
}

func (rt *Router) blobGet(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyBlob, chi.URLParam(r, "container"))
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	name := chi.URLParam(r, "*")
	meta, err := rt.Store.ObjectMetaByKey(r.Context(), b.ID, name)
	if err != nil {
		blobFault(w, err, "BlobNotFound")
		return
	}
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyBlob)
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	data, err := rt.Objects.Get(r.Context(), ns, storedKey(b.Name, name))
	if err != nil {
		blobFault(w, err, "BlobNotFound")
		return
	}
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Etag", fmt.Sprintf("%q", meta.ETag))
	w.Header().Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) blobDelete(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyBlob, chi.URLParam(r, "container"))
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	name := chi.URLParam(r, "*")
	if _, err := rt.Store.ObjectMetaByKey(r.Context(), b.ID, name); err != nil {
		blobFault(w, err, "BlobNotFound")
		return
	}
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyBlob)
	if err != nil {
		blobFault(w, err, "ContainerNotFound")
		return
	}
	if err := rt.Objects.Delete(r.Context(), ns, storedKey(b.Name, name)); err != nil && !errors.Is(err, fault.ErrNotFound) {
		blobFault(w, err, "BlobNotFound")
		return
	}
	if err := rt.Store.DeleteObjectMeta(r.Context(), b.ID, name); err != nil {
		blobFault(w, err, "BlobNotFound")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

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

// S3 translator: the {CreateBucket, DeleteBucket, ListBuckets, PutObject,
// GetObject, DeleteObject, ListObjectsV2 (+V1)} subset, XML envelopes,
// against the environment's s3 namespace.

type s3Error struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

func writeS3Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(s3Error{Code: code, Message: message, RequestID: uuid.NewString()})
}

// s3Fault maps internal error kinds onto S3's conventional encoding.
// notFoundCode distinguishes NoSuchBucket from NoSuchKey at the call site.
func s3Fault(w http.ResponseWriter, err error, notFoundCode string) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		writeS3Error(w, http.StatusNotFound, notFoundCode, err.Error())
	case errors.Is(err, fault.ErrForbidden):
		writeS3Error(w, http.StatusForbidden, "AccessDenied", err.Error())
	case errors.Is(err, fault.ErrConflict):
		writeS3Error(w, http.StatusConflict, "BucketAlreadyExists", err.Error())
	case errors.Is(err, fault.ErrInvalid):
		writeS3Error(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	default:
		writeS3Error(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}

type s3BucketEntry struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type s3ListBucketsResult struct {
	XMLName xml.Name        `xml:"ListAllMyBucketsResult"`
	Buckets []s3BucketEntry `xml:"Buckets>Bucket"`
}

func (rt *Router) s3ListBuckets(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	buckets, err := rt.Store.BucketsByEnvironment(r.Context(), env.ID, familyS3)
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	out := s3ListBucketsResult{Buckets: []s3BucketEntry{}}
	for _, b := range buckets {
		out.Buckets = append(out.Buckets, s3BucketEntry{
			Name:         b.Name,
			CreationDate: b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeXML(w, http.StatusOK, out)
}

func (rt *Router) s3CreateBucket(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	name := chi.URLParam(r, "bucket")
	if _, err := rt.namespaceFor(r.Context(), env.ID, familyS3); err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	if _, err := rt.Store.CreateBucket(r.Context(), env.ID, familyS3, name); err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	w.Header().Set("Location", "/"+name)
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) s3DeleteBucket(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyS3, chi.URLParam(r, "bucket"))
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	remaining, err := rt.Store.ListObjectMeta(r.Context(), b.ID, "", 1)
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	if len(remaining) > 0 {
		writeS3Error(w, http.StatusConflict, "BucketNotEmpty", "bucket is not empty")
		return
	}
	if err := rt.Store.DeleteBucket(r.Context(), b.ID); err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type s3Object struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
}

type s3ListObjectsResult struct {
	XMLName     xml.Name   `xml:"ListBucketResult"`
	Name        string     `xml:"Name"`
	Prefix      string     `xml:"Prefix"`
	MaxKeys     int        `xml:"MaxKeys"`
	KeyCount    *int       `xml:"KeyCount,omitempty"`
	IsTruncated bool       `xml:"IsTruncated"`
	Contents    []s3Object `xml:"Contents"`
}

func (rt *Router) s3ListObjects(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyS3, chi.URLParam(r, "bucket"))
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	metas, err := rt.Store.ListObjectMeta(r.Context(), b.ID, prefix, 1000)
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	out := s3ListObjectsResult{
		Name:     b.Name,
		Prefix:   prefix,
		MaxKeys:  1000,
		Contents: []s3Object{},
	}
	for _, m := range metas {
		out.Contents = append(out.Contents, s3Object{
			Key:          m.Key,
			LastModified: m.LastModified.UTC().Format(time.RFC3339),
			ETag:         fmt.Sprintf("%q", m.ETag),
			Size:         m.Size,
		})
	}
	// list-type=2 is ListObjectsV2; plain GET is the V1 fallback.
	if r.URL.Query().Get("list-type") == "2" {
		n := len(out.Contents)
		out.KeyCount = &n
	}
	writeXML(w, http.StatusOK, out)
}

func (rt *Router) s3PutObject(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyS3, chi.URLParam(r, "bucket"))
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	key := chi.URLParam(r, "*")
	if key == "" {
		writeS3Error(w, http.StatusBadRequest, "InvalidRequest", "empty object key")
		return
	}
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyS3)
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "InvalidRequest", "unreadable body")
		return
	}
	if err := rt.Objects.Put(r.Context(), ns, storedKey(b.Name, key), data); err != nil {
		s3Fault(w, err, "NoSuchKey")
		return
	}
	etag := etagFor(data)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err = rt.Store.PutObjectMeta(r.Context(), &store.ObjectMeta{
		BucketID:    b.ID,
		Key:         key,
		Size:        int64(len(data)),
		ETag:        etag,
		ContentType: contentType,
	})
	if err != nil {
		s3Fault(w, err, "NoSuchKey")
		return
	}
	w.Header().Set("ETag", fmt.Sprintf("%q", etag))
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) s3GetObject(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyS3, chi.URLParam(r, "bucket"))
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	key := chi.URLParam(r, "*")
	meta, err := rt.Store.ObjectMetaByKey(r.Context(), b.ID, key)
	if err != nil {
		s3Fault(w, err, "NoSuchKey")
		return
	}
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyS3)
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	data, err := rt.Objects.Get(r.Context(), ns, storedKey(b.Name, key))
	if err != nil {
		s3Fault(w, err, "NoSuchKey")
		return
	}
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("ETag", fmt.Sprintf("%q", meta.ETag))
	w.Header().Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) s3DeleteObject(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	b, err := rt.ownedBucket(r.Context(), env.ID, familyS3, chi.URLParam(r, "bucket"))
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	key := chi.URLParam(r, "*")
	ns, err := rt.namespaceFor(r.Context(), env.ID, familyS3)
	if err != nil {
		s3Fault(w, err, "NoSuchBucket")
		return
	}
	// Deleting a missing key succeeds, matching S3.
	if err := rt.Objects.Delete(r.Context(), ns, storedKey(b.Name, key)); err != nil && !errors.Is(err, fault.ErrNotFound) {
		s3Fault(w, err, "NoSuchKey")
		return
	}
	if err := rt.Store.DeleteObjectMeta(r.Context(), b.ID, key); err != nil {
		s3Fault(w, err, "NoSuchKey")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}

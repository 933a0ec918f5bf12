package emu

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Bucket families as stored in the buckets table.
const (
	familyS3   = "s3"
	familyGCS  = "gcs"
	familyBlob = "blob"
)

var familyKind = map[string]catalog.Kind{
	familyS3:   catalog.AWSS3,
	familyGCS:  catalog.GCPStorage,
	familyBlob: catalog.AzureBlob,
}

// namespaceFor resolves the object-store namespace backing one storage
// family of an environment. The family must have been declared as a managed
// service at provision time.
func (rt *Router) namespaceFor(ctx context.Context, envID, family string) (string, error) {
	kind := familyKind[family]
	services, err := rt.Store.ServicesByEnvironment(ctx, envID)
	if err != nil {
		return "", err
	}
	for _, svc := range services {
		if svc.Kind == string(kind) && svc.Namespace != nil && svc.State != store.SvcDestroyed {
			return *svc.Namespace, nil
		}
	}
	return "", fault.Invalidf("environment %s has no %s service", envID, kind)
}

// ownedBucket resolves a bucket name within a family and pins it to the
// calling environment. Bucket names are globally unique per family, so a
// name owned by another environment reads as NotFound.
func (rt *Router) ownedBucket(ctx context.Context, envID, family, name string) (*store.Bucket, error) {
	b, err := rt.Store.BucketByName(ctx, family, name)
	if err != nil {
		return nil, err
	}
	if b.EnvironmentID != envID {
		return nil, fault.NotFoundf("bucket %s", name)
	}
	return b, nil
}

// storedKey maps a (bucket, object-key) pair onto the family namespace.
// Keys are preserved verbatim past the bucket prefix.
func storedKey(bucket, key string) string {
	return bucket + "/" + key
}

func etagFor(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

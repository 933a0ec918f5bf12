package store

import (
	"context"
	"database/sql"
)

// CreateBucket registers an emulated bucket. Bucket names are globally
// unique per family; a duplicate surfaces as Conflict.
func (s *Store) CreateBucket(ctx context.Context, envID, family, name string) (*Bucket, error) {
	b := &Bucket{EnvironmentID: envID, Family: family, Name: name, CreatedAt: s.Now()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO buckets (environment_id, family, name, created_at) VALUES (?, ?, ?, ?)`,
		b.EnvironmentID, b.Family, b.Name, b.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	b.ID, _ = res.LastInsertId()
	return b, nil
}

// BucketByName resolves a bucket within a family.
func (s *Store) BucketByName(ctx context.Context, family, name string) (*Bucket, error) {
	var b Bucket
	err := s.db.QueryRowContext(ctx,
		`SELECT id, environment_id, family, name, created_at
		 FROM buckets WHERE family = ? AND name = ?`, family, name).
		Scan(&b.ID, &b.EnvironmentID, &b.Family, &b.Name, &b.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &b, nil
}

// BucketsByEnvironment lists buckets owned by one environment, one family.
func (s *Store) BucketsByEnvironment(ctx context.Context, envID, family string) ([]*Bucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, family, name, created_at
		 FROM buckets WHERE environment_id = ? AND family = ? ORDER BY name`, envID, family)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.ID, &b.EnvironmentID, &b.Family, &b.Name, &b.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// DeleteBucket removes a bucket and its object metadata.
func (s *Store) DeleteBucket(ctx context.Context, id int64) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM object_meta WHERE bucket_id = ?`, id); err != nil {
			return classify(err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE id = ?`, id)
		if err != nil {
			return classify(err)
		}
		return requireRow(res, "bucket %d", id)
	})
}

// PutObjectMeta upserts stored metadata for one object.
func (s *Store) PutObjectMeta(ctx context.Context, m *ObjectMeta) error {
	m.LastModified = s.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO object_meta (bucket_id, key, size, etag, content_type, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bucket_id, key) DO UPDATE SET
			size = excluded.size, etag = excluded.etag,
			content_type = excluded.content_type, last_modified = excluded.last_modified`,
		m.BucketID, m.Key, m.Size, m.ETag, m.ContentType, m.LastModified)
	return classify(err)
}

// ObjectMetaByKey fetches one object's metadata.
func (s *Store) ObjectMetaByKey(ctx context.Context, bucketID int64, key string) (*ObjectMeta, error) {
	var m ObjectMeta
	err := s.db.QueryRowContext(ctx,
		`SELECT bucket_id, key, size, etag, content_type, last_modified
		 FROM object_meta WHERE bucket_id = ? AND key = ?`, bucketID, key).
		Scan(&m.BucketID, &m.Key, &m.Size, &m.ETag, &m.ContentType, &m.LastModified)
	if err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

// ListObjectMeta lists object metadata under a prefix, lexicographic by key.
func (s *Store) ListObjectMeta(ctx context.Context, bucketID int64, prefix string, limit int) ([]*ObjectMeta, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_id, key, size, etag, content_type, last_modified
		 FROM object_meta WHERE bucket_id = ? AND substr(key, 1, length(?)) = ?
		 ORDER BY key LIMIT ?`, bucketID, prefix, prefix, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*ObjectMeta
	for rows.Next() {
		var m ObjectMeta
		if err := rows.Scan(&m.BucketID, &m.Key, &m.Size, &m.ETag, &m.ContentType, &m.LastModified); err != nil {
			return nil, classify(err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteObjectMeta removes one object's metadata; deleting a missing key is
// fine, matching S3 semantics.
func (s *Store) DeleteObjectMeta(ctx context.Context, bucketID int64, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM object_meta WHERE bucket_id = ? AND key = ?`, bucketID, key)
	return classify(err)
}

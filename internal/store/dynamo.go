package store

import (
	"context"
	"database/sql"
)

// CreateDynamoTable registers an emulated table descriptor.
func (s *Store) CreateDynamoTable(ctx context.Context, t *DynamoTable) error {
	t.CreatedAt = s.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dynamo_tables (environment_id, name, hash_key, hash_type, range_key, range_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.EnvironmentID, t.Name, t.HashKey, t.HashType,
		nullStr(t.RangeKey), nullStr(t.RangeType), t.CreatedAt)
	if err != nil {
		return classify(err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// DynamoTable fetches one table by (environment, name).
func (s *Store) DynamoTable(ctx context.Context, envID, name string) (*DynamoTable, error) {
	return scanDynamoTableFrom(s.db.QueryRowContext(ctx,
		`SELECT id, environment_id, name, hash_key, hash_type, range_key, range_type, created_at
		 FROM dynamo_tables WHERE environment_id = ? AND name = ?`, envID, name))
}

// DynamoTablesByEnvironment lists an environment's tables.
func (s *Store) DynamoTablesByEnvironment(ctx context.Context, envID string) ([]*DynamoTable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, name, hash_key, hash_type, range_key, range_type, created_at
		 FROM dynamo_tables WHERE environment_id = ? ORDER BY name`, envID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*DynamoTable
	for rows.Next() {
		t, err := scanDynamoTableFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteDynamoTable removes a table and its items.
func (s *Store) DeleteDynamoTable(ctx context.Context, id int64) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dynamo_items WHERE table_id = ?`, id); err != nil {
			return classify(err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM dynamo_tables WHERE id = ?`, id)
		if err != nil {
			return classify(err)
		}
		return requireRow(res, "table %d", id)
	})
}

// PutDynamoItem upserts one item keyed by (hash, range).
func (s *Store) PutDynamoItem(ctx context.Context, item *DynamoItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dynamo_items (table_id, hash_value, range_value, attrs_json)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(table_id, hash_value, range_value) DO UPDATE SET attrs_json = excluded.attrs_json`,
		item.TableID, item.HashValue, item.RangeValue, item.AttrsJSON)
	return classify(err)
}

// DynamoItem fetches one item by key.
func (s *Store) DynamoItem(ctx context.Context, tableID int64, hashValue, rangeValue string) (*DynamoItem, error) {
	var item DynamoItem
	err := s.db.QueryRowContext(ctx,
		`SELECT table_id, hash_value, range_value, attrs_json
		 FROM dynamo_items WHERE table_id = ? AND hash_value = ? AND range_value = ?`,
		tableID, hashValue, rangeValue).
		Scan(&item.TableID, &item.HashValue, &item.RangeValue, &item.AttrsJSON)
	if err != nil {
		return nil, classify(err)
	}
	return &item, nil
}

// DeleteDynamoItem removes one item; missing keys are not an error.
func (s *Store) DeleteDynamoItem(ctx context.Context, tableID int64, hashValue, rangeValue string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dynamo_items WHERE table_id = ? AND hash_value = ? AND range_value = ?`,
		tableID, hashValue, rangeValue)
	return classify(err)
}

// QueryDynamoItems returns all items sharing a hash value, range-ordered.
func (s *Store) QueryDynamoItems(ctx context.Context, tableID int64, hashValue string) ([]*DynamoItem, error) {
	return s.queryItems(ctx,
		`SELECT table_id, hash_value, range_value, attrs_json
		 FROM dynamo_items WHERE table_id = ? AND hash_value = ? ORDER BY range_value`,
		tableID, hashValue)
}

// ScanDynamoItems returns every item of a table.
func (s *Store) ScanDynamoItems(ctx context.Context, tableID int64) ([]*DynamoItem, error) {
	return s.queryItems(ctx,
		`SELECT table_id, hash_value, range_value, attrs_json
		 FROM dynamo_items WHERE table_id = ? ORDER BY hash_value, range_value`, tableID)
}

func (s *Store) queryItems(ctx context.Context, q string, args ...any) ([]*DynamoItem, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*DynamoItem
	for rows.Next() {
		var item DynamoItem
		if err := rows.Scan(&item.TableID, &item.HashValue, &item.RangeValue, &item.AttrsJSON); err != nil {
			return nil, classify(err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

func scanDynamoTableFrom(r rowScanner) (*DynamoTable, error) {
	var (
		t                  DynamoTable
		rangeKey, rangeTyp sql.NullString
	)
	err := r.Scan(&t.ID, &t.EnvironmentID, &t.Name, &t.HashKey, &t.HashType,
		&rangeKey, &rangeTyp, &t.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	if rangeKey.Valid {
		t.RangeKey = &rangeKey.String
	}
	if rangeTyp.Valid {
		t.RangeType = &rangeTyp.String
	}
	return &t, nil
}

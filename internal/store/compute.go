package store

import (
	"context"
	"database/sql"
)

// CreateEC2Instance records a synthesized compute instance.
func (s *Store) CreateEC2Instance(ctx context.Context, inst *EC2Instance) error {
	inst.LaunchedAt = s.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ec2_instances (id, environment_id, state, instance_type, private_ip, public_ip, launched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.EnvironmentID, inst.State, inst.InstanceType,
		inst.PrivateIP, nullStr(inst.PublicIP), inst.LaunchedAt)
	return classify(err)
}

// EC2Instance fetches one instance scoped to an environment.
func (s *Store) EC2Instance(ctx context.Context, envID, id string) (*EC2Instance, error) {
	return scanEC2From(s.db.QueryRowContext(ctx,
		`SELECT id, environment_id, state, instance_type, private_ip, public_ip, launched_at
		 FROM ec2_instances WHERE environment_id = ? AND id = ?`, envID, id))
}

// EC2InstancesByEnvironment lists an environment's instances.
func (s *Store) EC2InstancesByEnvironment(ctx context.Context, envID string) ([]*EC2Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, state, instance_type, private_ip, public_ip, launched_at
		 FROM ec2_instances WHERE environment_id = ? ORDER BY launched_at, id`, envID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*EC2Instance
	for rows.Next() {
		inst, err := scanEC2From(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SetEC2State transitions a synthesized instance.
func (s *Store) SetEC2State(ctx context.Context, envID, id, state string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ec2_instances SET state = ? WHERE environment_id = ? AND id = ?`,
		state, envID, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "instance %s", id)
}

// CountEC2Instances counts an environment's non-terminated instances; used
// to derive the next private IP.
func (s *Store) CountEC2Instances(ctx context.Context, envID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ec2_instances WHERE environment_id = ?`, envID).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func scanEC2From(r rowScanner) (*EC2Instance, error) {
	var (
		inst   EC2Instance
		pubIP  sql.NullString
	)
	err := r.Scan(&inst.ID, &inst.EnvironmentID, &inst.State, &inst.InstanceType,
		&inst.PrivateIP, &pubIP, &inst.LaunchedAt)
	if err != nil {
		return nil, classify(err)
	}
	if pubIP.Valid {
		inst.PublicIP = &pubIP.String
	}
	return &inst, nil
}

// CreateLambdaFunction stores emulated function metadata.
func (s *Store) CreateLambdaFunction(ctx context.Context, fn *LambdaFunction) error {
	fn.CreatedAt = s.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lambda_functions (environment_id, name, runtime, handler, memory_mb, timeout_secs, env_json, code_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fn.EnvironmentID, fn.Name, fn.Runtime, fn.Handler, fn.MemoryMB,
		fn.TimeoutSecs, fn.EnvJSON, fn.CodeRef, fn.CreatedAt)
	if err != nil {
		return classify(err)
	}
	fn.ID, _ = res.LastInsertId()
	return nil
}

// LambdaFunction fetches one function by (environment, name).
func (s *Store) LambdaFunction(ctx context.Context, envID, name string) (*LambdaFunction, error) {
	var fn LambdaFunction
	err := s.db.QueryRowContext(ctx,
		`SELECT id, environment_id, name, runtime, handler, memory_mb, timeout_secs, env_json, code_ref, created_at
		 FROM lambda_functions WHERE environment_id = ? AND name = ?`, envID, name).
		Scan(&fn.ID, &fn.EnvironmentID, &fn.Name, &fn.Runtime, &fn.Handler,
			&fn.MemoryMB, &fn.TimeoutSecs, &fn.EnvJSON, &fn.CodeRef, &fn.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &fn, nil
}

// LambdaFunctionsByEnvironment lists an environment's functions.
func (s *Store) LambdaFunctionsByEnvironment(ctx context.Context, envID string) ([]*LambdaFunction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, name, runtime, handler, memory_mb, timeout_secs, env_json, code_ref, created_at
		 FROM lambda_functions WHERE environment_id = ? ORDER BY name`, envID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*LambdaFunction
	for rows.Next() {
		var fn LambdaFunction
		if err := rows.Scan(&fn.ID, &fn.EnvironmentID, &fn.Name, &fn.Runtime, &fn.Handler,
			&fn.MemoryMB, &fn.TimeoutSecs, &fn.EnvJSON, &fn.CodeRef, &fn.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, &fn)
	}
	return out, rows.Err()
}

// DeleteLambdaFunction removes one function.
func (s *Store) DeleteLambdaFunction(ctx context.Context, envID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lambda_functions WHERE environment_id = ? AND name = ?`, envID, name)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "function %s", name)
}

// CreateHostedZone records an emulated Route53 zone.
func (s *Store) CreateHostedZone(ctx context.Context, z *HostedZone) error {
	z.CreatedAt = s.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hosted_zones (id, environment_id, name, created_at) VALUES (?, ?, ?, ?)`,
		z.ID, z.EnvironmentID, z.Name, z.CreatedAt)
	return classify(err)
}

// HostedZonesByEnvironment lists an environment's zones.
func (s *Store) HostedZonesByEnvironment(ctx context.Context, envID string) ([]*HostedZone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, name, created_at
		 FROM hosted_zones WHERE environment_id = ? ORDER BY created_at, id`, envID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*HostedZone
	for rows.Next() {
		var z HostedZone
		if err := rows.Scan(&z.ID, &z.EnvironmentID, &z.Name, &z.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, &z)
	}
	return out, rows.Err()
}

// HostedZone fetches one zone scoped to an environment.
func (s *Store) HostedZone(ctx context.Context, envID, id string) (*HostedZone, error) {
	var z HostedZone
	err := s.db.QueryRowContext(ctx,
		`SELECT id, environment_id, name, created_at
		 FROM hosted_zones WHERE environment_id = ? AND id = ?`, envID, id).
		Scan(&z.ID, &z.EnvironmentID, &z.Name, &z.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &z, nil
}

package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const svcColumns = `id, environment_id, kind, state, container_id, port,
	namespace, username, password, database_name, created_at`

// NewServiceID mints a service-instance id.
func NewServiceID() string {
	return "svc_" + uuid.NewString()[:12]
}

// CreateServiceInstance inserts a new instance in state PROVISIONING.
func (s *Store) CreateServiceInstance(ctx context.Context, tx *sql.Tx, svc *ServiceInstance) error {
	svc.State = SvcProvisioning
	svc.CreatedAt = s.Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO service_instances (id, environment_id, kind, state, container_id,
			port, namespace, username, password, database_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.EnvironmentID, svc.Kind, svc.State, nullStr(svc.ContainerID),
		nullInt(svc.Port), nullStr(svc.Namespace), svc.Username, svc.Password,
		svc.Database, svc.CreatedAt)
	return classify(err)
}

// ServiceInstance fetches one instance by id.
func (s *Store) ServiceInstance(ctx context.Context, id string) (*ServiceInstance, error) {
	return scanSvcFrom(s.db.QueryRowContext(ctx,
		`SELECT `+svcColumns+` FROM service_instances WHERE id = ?`, id))
}

// ServicesByEnvironment lists an environment's instances in creation order.
func (s *Store) ServicesByEnvironment(ctx context.Context, envID string) ([]*ServiceInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+svcColumns+` FROM service_instances
		 WHERE environment_id = ? ORDER BY created_at, id`, envID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*ServiceInstance
	for rows.Next() {
		svc, err := scanSvcFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// SetServiceState transitions one instance.
func (s *Store) SetServiceState(ctx context.Context, id string, state SvcState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_instances SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "service instance %s", id)
}

// BindContainer records the container id backing an instance.
func (s *Store) BindContainer(ctx context.Context, id, containerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_instances SET container_id = ? WHERE id = ?`, containerID, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "service instance %s", id)
}

// BindNamespace records the external namespace backing a managed instance.
func (s *Store) BindNamespace(ctx context.Context, id, namespace string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_instances SET namespace = ? WHERE id = ?`, namespace, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "service instance %s", id)
}

func scanSvcFrom(r rowScanner) (*ServiceInstance, error) {
	var (
		svc       ServiceInstance
		container sql.NullString
		port      sql.NullInt64
		namespace sql.NullString
	)
	err := r.Scan(&svc.ID, &svc.EnvironmentID, &svc.Kind, &svc.State, &container,
		&port, &namespace, &svc.Username, &svc.Password, &svc.Database, &svc.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	if container.Valid {
		svc.ContainerID = &container.String
	}
	if port.Valid {
		p := int(port.Int64)
		svc.Port = &p
	}
	if namespace.Valid {
		svc.Namespace = &namespace.String
	}
	return &svc, nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

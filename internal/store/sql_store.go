package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deployd/pkg/types"
)

// SQLStore implements [Store] on database/sql.
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect
}

const deploymentColumns = `id, model_name, version, port, run_reference, pid, updated_at`

func (s *SQLStore) List(ctx context.Context) ([]types.Deployment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+deploymentColumns+` FROM deployments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list deployments: %v", ErrStorage, err)
	}
	defer rows.Close()
	var out []types.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list deployments: %v", ErrStorage, err)
	}
	return out, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (types.Deployment, error) {
	row := s.DB.QueryRowContext(ctx,
		s.Dialect.Rebind(`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`), id)
	d, err := scanDeployment(row)
	if errors.Is(err, ErrNotFound) {
		return types.Deployment{}, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	return d, err
}

func (s *SQLStore) Upsert(ctx context.Context, d types.Deployment) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, s.Dialect.Rebind(
		`INSERT INTO deployments (`+deploymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   model_name = excluded.model_name,
		   version = excluded.version,
		   port = excluded.port,
		   run_reference = excluded.run_reference,
		   pid = excluded.pid,
		   updated_at = excluded.updated_at`),
		d.ID, d.ModelName, d.Version, d.Port, d.RunReference, d.PID, d.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w: port %d for %q", ErrStorage, ErrPortConflict, d.Port, d.ID)
		}
		return fmt.Errorf("%w: upsert deployment %q: %v", ErrStorage, d.ID, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, s.Dialect.Rebind(`DELETE FROM deployments WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("%w: delete deployment %q: %v", ErrStorage, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete deployment %q: %v", ErrStorage, id, err)
	}
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(s scanner) (types.Deployment, error) {
	var (
		d       types.Deployment
		updated int64
	)
	err := s.Scan(&d.ID, &d.ModelName, &d.Version, &d.Port, &d.RunReference, &d.PID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Deployment{}, ErrNotFound
	}
	if err != nil {
		return types.Deployment{}, fmt.Errorf("%w: scan deployment: %v", ErrStorage, err)
	}
	if updated > 0 {
		d.UpdatedAt = time.UnixMilli(updated).UTC()
	}
	return d, nil
}

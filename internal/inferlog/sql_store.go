package inferlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"deployd/internal/store"
)

// SQLStore writes entries to the inference_logs table created by the store
// migrations.
type SQLStore struct {
	DB      *sql.DB
	Dialect store.Dialect
}

func (s *SQLStore) Put(ctx context.Context, e Entry) error {
	_, err := s.DB.ExecContext(ctx, s.Dialect.Rebind(
		`INSERT INTO inference_logs (id, deployment_id, received_at, method, path, content_type, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.DeploymentID, e.ReceivedAt.UnixMilli(), e.Method, e.Path, e.ContentType, e.Body,
	)
	if err != nil {
		return fmt.Errorf("insert inference log: %w", err)
	}
	return nil
}

// List returns the entries of deploymentID received at or after since,
// oldest first.
func (s *SQLStore) List(ctx context.Context, deploymentID string, since time.Time) ([]Entry, error) {
	rows, err := s.DB.QueryContext(ctx, s.Dialect.Rebind(
		`SELECT id, deployment_id, received_at, method, path, content_type, body
		 FROM inference_logs WHERE deployment_id = ? AND received_at >= ?
		 ORDER BY received_at, id`),
		deploymentID, since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list inference logs: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.DeploymentID, &ms, &e.Method, &e.Path, &e.ContentType, &e.Body); err != nil {
			return nil, fmt.Errorf("scan inference log: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

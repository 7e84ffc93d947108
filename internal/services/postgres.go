package services

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresProvider reports whether the lead database is reachable and migrated
type PostgresProvider struct {
	BaseProvider
	db *sql.DB
}

// NewPostgresProvider opens a small database/sql pool used only for probes
func NewPostgresProvider(dsn string) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresProvider{
		BaseProvider: BaseProvider{serviceType: "postgres"},
		db:           db,
	}, nil
}

// HealthCheck verifies connectivity and that the users table exists
func (p *PostgresProvider) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return err
	}

	var table sql.NullString
	if err := p.db.QueryRowContext(ctx, `SELECT to_regclass('public.registered_users')::text`).Scan(&table); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if !table.Valid {
		return fmt.Errorf("registered_users table missing, migrations not applied")
	}

	return nil
}

// Close closes the probe pool
func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

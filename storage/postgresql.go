package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	name: "postgresql",
	createTable: []string{
		`CREATE TABLE IF NOT EXISTS measurement_points (
			id BIGSERIAL PRIMARY KEY,
			measurement VARCHAR(255) NOT NULL,
			device_id VARCHAR(255) NOT NULL,
			device_name VARCHAR(255) NOT NULL DEFAULT '',
			value DOUBLE PRECISION NOT NULL,
			point_time TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_points_device ON measurement_points(device_id, measurement)`,
		`CREATE INDEX IF NOT EXISTS idx_points_time ON measurement_points(point_time)`,
	},
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

// NewPostgreSQLStorage connects to the database in dsn, creating it first if
// the server does not have it yet
func NewPostgreSQLStorage(ctx context.Context, dsn string) (DatabaseStorage, error) {
	database, serverDSN, err := parsePostgreSQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse PostgreSQL DSN: %w", err)
	}

	if err := ensurePostgreSQLDatabase(ctx, serverDSN, database); err != nil {
		return nil, err
	}

	s, err := openSQL(ctx, "postgres", dsn, postgresDialect)
	if err != nil {
		return nil, err
	}
	logger.Info("PostgreSQL storage ready: %s", database)
	return s, nil
}

func ensurePostgreSQLDatabase(ctx context.Context, serverDSN, database string) error {
	serverDB, err := sql.Open("postgres", serverDSN)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL server: %w", err)
	}
	defer serverDB.Close()

	var exists bool
	err = serverDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check database %s: %w", database, err)
	}
	if exists {
		return nil
	}

	// CREATE DATABASE cannot run inside a transaction or take parameters
	if _, err := serverDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(database)); err != nil {
		return fmt.Errorf("create database %s: %w", database, err)
	}
	logger.Info("created PostgreSQL database: %s", database)
	return nil
}

// parsePostgreSQLDSN returns the database name and a DSN for the same server
// pointing at the maintenance database. URL DSNs are normalized to key=value form.
func parsePostgreSQLDSN(dsn string) (database string, serverDSN string, err error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dsn, err = pq.ParseURL(dsn)
		if err != nil {
			return "", "", err
		}
	}

	pairs := strings.Fields(dsn)
	serverPairs := make([]string, 0, len(pairs)+1)
	for _, kv := range pairs {
		if name, ok := strings.CutPrefix(kv, "dbname="); ok {
			database = strings.Trim(name, "'")
			continue
		}
		serverPairs = append(serverPairs, kv)
	}
	if database == "" {
		return "", "", fmt.Errorf("no dbname in DSN")
	}

	serverPairs = append(serverPairs, "dbname=postgres")
	return database, strings.Join(serverPairs, " "), nil
}

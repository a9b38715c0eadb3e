package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/transformer"
)

// DatabaseType
type DatabaseType string

const (
	// MySQL
	MySQL DatabaseType = "mysql"
	// PostgreSQL
	PostgreSQL DatabaseType = "postgresql"
)

// DatabaseStorage is a SQL archive of measurement points
type DatabaseStorage interface {
	StorageBackend
	// InitDatabase creates the points table if it is missing
	InitDatabase(ctx context.Context) error
}

// NewDatabaseStorage opens the SQL backend for dbType
func NewDatabaseStorage(ctx context.Context, dbType string, dsn string) (DatabaseStorage, error) {
	switch DatabaseType(strings.ToLower(dbType)) {
	case MySQL:
		return NewMySQLStorage(ctx, dsn)
	case PostgreSQL, "postgres":
		return NewPostgreSQLStorage(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// sqlDialect holds what differs between the SQL backends
type sqlDialect struct {
	name        string
	createTable []string
	placeholder func(n int) string
}

// sqlStorage stores points in a measurement_points table
type sqlStorage struct {
	db      *sql.DB
	dialect sqlDialect
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// InitDatabase implements DatabaseStorage
func (s *sqlStorage) InitDatabase(ctx context.Context) error {
	for _, stmt := range s.dialect.createTable {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: create measurement_points: %w", s.dialect.name, err)
		}
	}
	logger.Info("%s measurement_points table ready", s.dialect.name)
	return nil
}

// Name implements StorageBackend
func (s *sqlStorage) Name() string {
	return s.dialect.name
}

// Store inserts all points in one transaction
func (s *sqlStorage) Store(ctx context.Context, points []transformer.Point) (err error) {
	if len(points) == 0 {
		return nil
	}

	query, args, err := insertPointsQuery(s.dialect.placeholder, points)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert points: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logger.Debug("stored %d points to %s", len(points), s.dialect.name)
	return nil
}

// insertPointsQuery builds one multi-row INSERT. Points without time get a NULL point_time.
func insertPointsQuery(placeholder func(n int) string, points []transformer.Point) (string, []interface{}, error) {
	const columns = 5
	rows := make([]string, 0, len(points))
	args := make([]interface{}, 0, len(points)*columns)

	for i, p := range points {
		var pointTime sql.NullTime
		if p.HasTime() {
			t, err := time.Parse(transformer.PointTimeLayout, p.Time)
			if err != nil {
				return "", nil, fmt.Errorf("point %s for %s: %w", p.Measurement, p.DeviceID(), err)
			}
			pointTime = sql.NullTime{Time: t, Valid: true}
		}

		marks := make([]string, columns)
		for c := range marks {
			marks[c] = placeholder(i*columns + c + 1)
		}
		rows = append(rows, "("+strings.Join(marks, ", ")+")")
		args = append(args, p.Measurement, p.DeviceID(), p.DeviceName(), p.Value(), pointTime)
	}

	query := "INSERT INTO measurement_points (measurement, device_id, device_name, value, point_time) VALUES " +
		strings.Join(rows, ", ")
	return query, args, nil
}

// Close implements StorageBackend
func (s *sqlStorage) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.dialect.name, err)
	}
	logger.Info("%s connection closed", s.dialect.name)
	return nil
}

// openSQL opens dsn, checks the connection and prepares the table
func openSQL(ctx context.Context, driver, dsn string, dialect sqlDialect) (*sqlStorage, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.name, err)
	}
	configurePool(db)

	s := &sqlStorage{db: db, dialect: dialect}
	if err := s.InitDatabase(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

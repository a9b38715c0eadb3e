package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = sqlDialect{
	name: "mysql",
	createTable: []string{
		`CREATE TABLE IF NOT EXISTS measurement_points (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			measurement VARCHAR(255) NOT NULL,
			device_id VARCHAR(255) NOT NULL,
			device_name VARCHAR(255) NOT NULL DEFAULT '',
			value DOUBLE NOT NULL,
			point_time DATETIME NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_points_device (device_id, measurement),
			INDEX idx_points_time (point_time)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	placeholder: func(int) string { return "?" },
}

// NewMySQLStorage connects to the database in dsn, creating it first if needed
func NewMySQLStorage(ctx context.Context, dsn string) (DatabaseStorage, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN: %w", err)
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL server: %w", err)
	}
	defer serverDB.Close()

	quoted := "`" + strings.ReplaceAll(database, "`", "``") + "`"
	if _, err := serverDB.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+quoted+" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		return nil, fmt.Errorf("create database %s: %w", database, err)
	}

	s, err := openSQL(ctx, "mysql", dsn, mysqlDialect)
	if err != nil {
		return nil, err
	}
	logger.Info("MySQL storage ready: %s", database)
	return s, nil
}

// parseMySQLDSN returns the database name and the same DSN without it
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", "", err
	}
	if cfg.DBName == "" {
		return "", "", fmt.Errorf("no database name in DSN")
	}

	database = cfg.DBName
	cfg.DBName = ""
	return database, cfg.FormatDSN(), nil
}

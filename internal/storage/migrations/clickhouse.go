package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "cmc-analytics/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the database named by dsn when missing,
// applies the ClickHouse schema and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	migs, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	if err := createDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse database %s: %w", db, err)
	}
	// The native protocol runs one statement per Exec.
	for _, m := range migs {
		for _, stmt := range m.stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.name, err)
			}
		}
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+db+"`"); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}
	return nil
}

// databaseFromDSN returns the path component of a ClickHouse DSN.
func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn has no database")
	}
	if strings.ContainsAny(db, "`/") {
		return "", fmt.Errorf("clickhouse dsn: invalid database name %q", db)
	}
	return db, nil
}

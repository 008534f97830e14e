package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ResolveLatestImportDBName returns the db_name of the most recent successful
// import whose name contains dataset.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, dataset string) (string, error) {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		return "", fmt.Errorf("dataset is required")
	}
	// Fully qualified to the public schema (assumes we are connected to the 'postgres' database)
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, dataset).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no database found for dataset like %q", dataset)
		}
		return "", fmt.Errorf("query latest import: %w", err)
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("empty db_name for dataset like %q", dataset)
	}
	return dbName.String, nil
}

// OpenDataset resolves the latest import of dataset through the catalogue
// reachable at baseDSN and opens it. It returns the database name with the
// handle.
func OpenDataset(ctx context.Context, baseDSN, dataset string) (*sql.DB, string, error) {
	meta, err := Open(baseDSN)
	if err != nil {
		return nil, "", fmt.Errorf("open catalogue: %w", err)
	}
	defer meta.Close()

	name, err := ResolveLatestImportDBName(ctx, meta, dataset)
	if err != nil {
		return nil, "", err
	}
	dsn, err := WithDBName(baseDSN, name)
	if err != nil {
		return nil, "", fmt.Errorf("build dataset dsn: %w", err)
	}
	conn, err := Open(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open dataset %s: %w", name, err)
	}
	if err := Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("ping dataset %s: %w", name, err)
	}
	return conn, name, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/digkill/aicollect/internal/config"
)

// Connect opens the MySQL pool. The repositories scan DATETIME columns into
// time.Time, so parseTime is forced onto the DSN when the operator left it
// out.
func Connect(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", normalizeDSN(cfg.MySQLDSN))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	// Webhook traffic is bursty but each handler touches only a few rows;
	// a modest pool is enough.
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(3 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func normalizeDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "parseTime=true"
}

// Migrate applies the bootstrap schema one statement at a time, so the
// connection does not need multiStatements enabled.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

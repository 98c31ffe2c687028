// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestVersion() (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create migration source: %w", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return 0, fmt.Errorf("failed to read first migration: %w", err)
	}
	for {
		next, err := source.Next(version)
		if err != nil {
			return version, nil
		}
		version = next
	}
}

// SchemaVersion はschema_migrationsに記録された適用済みバージョンを返す。
// マイグレーション未実行（行なし）の場合は0を返す。
func SchemaVersion(ctx context.Context, db *sql.DB) (version uint, dirty bool, err error) {
	var v int64
	err = db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&v, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return uint(v), dirty, nil
}

// SchemaChecker はDBスキーマが埋め込みマイグレーションの最新版まで適用済みかを確認する。
// handler.HealthCheckerを満たす。
type SchemaChecker struct {
	db   *sql.DB
	want uint
}

// NewSchemaChecker はSchemaCheckerを生成する。
func NewSchemaChecker(db *sql.DB) (*SchemaChecker, error) {
	want, err := LatestVersion()
	if err != nil {
		return nil, err
	}
	return &SchemaChecker{db: db, want: want}, nil
}

// PingContext はスキーマが最新でない、または前回のマイグレーションが途中で失敗している場合にエラーを返す。
func (c *SchemaChecker) PingContext(ctx context.Context) error {
	version, dirty, err := SchemaVersion(ctx, c.db)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	if version < c.want {
		return fmt.Errorf("schema version %d is behind %d", version, c.want)
	}
	return nil
}

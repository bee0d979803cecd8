package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	loaderrors "chatload/errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryDSN opens a private in-memory database, used by tests.
const MemoryDSN = ":memory:"

type Database struct {
	*sql.DB
	path string
}

func NewDatabase(dataSourceName string) (*Database, error) {
	if !isMemory(dataSourceName) {
		if dir := filepath.Dir(dataSourceName); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, loaderrors.NewStoreError(fmt.Errorf("failed to create database directory: %v", err), "open database")
			}
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, loaderrors.NewStoreError(fmt.Errorf("failed to open database: %v", err), "open database")
	}

	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, loaderrors.NewStoreError(fmt.Errorf("failed to ping database: %v", err), "open database")
	}

	database := &Database{
		DB:   db,
		path: dataSourceName,
	}

	if err := database.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return database, nil
}

// Migrate applies every embedded migration that has not run yet.
func (db *Database) Migrate() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return loaderrors.NewStoreError(fmt.Errorf("failed to load migrations: %v", err), "migrate")
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return loaderrors.NewStoreError(fmt.Errorf("failed to create migration driver: %v", err), "migrate")
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return loaderrors.NewStoreError(fmt.Errorf("failed to create migrator: %v", err), "migrate")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return loaderrors.NewStoreError(err, "migrate")
	}

	return nil
}

// SchemaVersion reports the last applied migration.
func (db *Database) SchemaVersion() (uint, bool, error) {
	var version uint
	var dirty bool
	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return 0, false, err
	}
	return version, dirty, nil
}

func (db *Database) Close() error {
	return db.DB.Close()
}

func (db *Database) GetPath() string {
	return db.path
}

func isMemory(dsn string) bool {
	return dsn == MemoryDSN || strings.Contains(dsn, "mode=memory")
}

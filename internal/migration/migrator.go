// Package migration manages the relational schema with embedded,
// versioned SQL migrations. Postgres and MySQL are supported; the
// sqlite development backend migrates through the ORM instead.
package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/config"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

// Migrator applies versioned schema migrations.
type Migrator struct {
	m      *migrate.Migrate
	logger *zap.Logger
}

// New creates a migrator for the given driver and database URL.
func New(driver, databaseURL string, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		sub fs.FS
		err error
	)
	switch driver {
	case "postgres":
		sub, err = fs.Sub(postgresFS, "migrations/postgres")
	case "mysql":
		sub, err = fs.Sub(mysqlFS, "migrations/mysql")
	default:
		return nil, fmt.Errorf("migrations not supported for driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.LockTimeout = 15 * time.Second

	return &Migrator{
		m:      m,
		logger: logger.With(zap.String("component", "migrator")),
	}, nil
}

// NewFromConfig creates a migrator from the database configuration.
func NewFromConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*Migrator, error) {
	dbURL, err := databaseURL(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg.Driver, dbURL, logger)
}

// Up applies all pending migrations.
func (g *Migrator) Up() error {
	g.logger.Info("applying pending migrations")
	if err := g.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			g.logger.Info("schema already up to date")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (g *Migrator) Down() error {
	g.logger.Info("rolling back one migration")
	if err := g.m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Steps applies n migrations forward, or rolls back -n.
func (g *Migrator) Steps(n int) error {
	if err := g.m.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate steps %d: %w", n, err)
	}
	return nil
}

// Version returns the current schema version and dirty flag.
func (g *Migrator) Version() (uint, bool, error) {
	v, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force marks the schema as being at the given version without running
// migrations. Used to recover from a dirty state.
func (g *Migrator) Force(version int) error {
	g.logger.Warn("forcing schema version", zap.Int("version", version))
	return g.m.Force(version)
}

// Close releases the underlying source and database handles.
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}

// databaseURL builds the connection URL golang-migrate expects.
func databaseURL(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
			cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode), nil
	case "mysql":
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name), nil
	default:
		return "", fmt.Errorf("migrations not supported for driver %q", cfg.Driver)
	}
}

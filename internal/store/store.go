// Package store persists requests and the document-type catalog in a SQL
// database. Both sqlite (embedded default) and postgres are supported
// through database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// ErrNotFound is returned when a request id has no row.
var ErrNotFound = errors.New("request not found")

// Store wraps the SQL connection and dialect handling.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// New opens the database, verifies connectivity, and applies the schema
// and catalog seed when auto-migrate is enabled.
func New(cfg config.SQLConfig, logger *slog.Logger) (*Store, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	s := &Store{db: db, driver: cfg.Driver, logger: logger}
	if cfg.AutoMigrate {
		if err := s.ensureSchema(ctx); err != nil {
			return nil, err
		}
		if err := s.seedDocuments(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
		    id TEXT PRIMARY KEY,
		    origin TEXT NOT NULL,
		    label TEXT NOT NULL,
		    enabled INTEGER NOT NULL DEFAULT 1
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS requests (
		    id %s,
		    rut TEXT NOT NULL,
		    email TEXT NOT NULL,
		    documents TEXT NOT NULL,
		    status TEXT NOT NULL DEFAULT 'pending',
		    results TEXT,
		    created TIMESTAMP NOT NULL,
		    completed TIMESTAMP,
		    claveunica TEXT,
		    documento TEXT,
		    delivery TEXT NOT NULL
		)`, idColumn),
		`CREATE INDEX IF NOT EXISTS idx_requests_rut_status ON requests (rut, status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// seedDocuments populates the catalog on first boot only.
func (s *Store) seedDocuments(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if count > 0 {
		return nil
	}

	seed := []types.DocumentType{
		{ID: "nomatrimonio", Origin: "Registro Civil", Label: "Cert. NoMatrimonio", Enabled: true},
		{ID: "nacimiento", Origin: "Registro Civil", Label: "Cert. Nacimiento", Enabled: true},
		{ID: "matrimonio", Origin: "Registro Civil", Label: "Cert. Matrimonio", Enabled: true},
		{ID: "carpeta", Origin: "SII", Label: "Carpeta Tributaria", Enabled: true},
		{ID: "formulario22", Origin: "SII", Label: "Formulario22 Compacto", Enabled: true},
		{ID: "declaracion", Origin: "SII", Label: "Declaración Impuestos", Enabled: true},
		{ID: "deuda", Origin: "CMF", Label: "Informe Deuda", Enabled: false},
		{ID: "cotizaciones", Origin: "AFC", Label: "Cert. Cotizaciones", Enabled: false},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	insert := s.rebind(`INSERT INTO documents (id, origin, label, enabled) VALUES (?, ?, ?, ?)`)
	for _, doc := range seed {
		enabled := 0
		if doc.Enabled {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx, insert, doc.ID, doc.Origin, doc.Label, enabled); err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return fmt.Errorf("seed document %s: %w", doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	s.logger.Info("seeded document catalog", "count", len(seed))
	return nil
}

// rebind converts ? placeholders to the postgres $N form when needed.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isDuplicateKey reports a unique-constraint violation for either dialect.
func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

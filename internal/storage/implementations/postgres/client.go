package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/errors"
)

// PostgresConfig holds configuration for the Postgres table sink
type PostgresConfig struct {
	DSN            string        `json:"-" mapstructure:"dsn"`
	Schema         string        `json:"schema" mapstructure:"schema"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
	MaxConnections int           `json:"max_connections" mapstructure:"max_connections"`
	// Replace truncates the target table before copying rows in.
	Replace bool `json:"replace" mapstructure:"replace"`
}

// PostgresSink writes tables into Postgres with COPY.
type PostgresSink struct {
	config *PostgresConfig
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewPostgresSink creates a new sink; no connection is made until needed.
func NewPostgresSink(config *PostgresConfig, logger *logrus.Logger) (*PostgresSink, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres config cannot be nil")
	}

	if config.DSN == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres connection string is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &PostgresSink{
		config: config,
		logger: logger,
	}, nil
}

// Connect opens and pings the database.
func (p *PostgresSink) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.NewStorageError(errors.CodeConnectionFailed, "Postgres sink is closed")
	}
	if p.db != nil {
		return nil // Already connected
	}

	db, err := sql.Open("postgres", p.config.DSN)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to open database connection")
	}

	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
	}

	if p.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ConnectTimeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to ping database")
	}

	p.db = db
	p.logger.Debug("Connected to Postgres")
	return nil
}

// Close closes the database connection
func (p *PostgresSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Failed to close database connection")
		}
	}

	p.logger.Debug("Postgres connection closed")
	return nil
}

// WriteTable creates the target table when it does not exist and copies every
// row of t into it inside one transaction.
func (p *PostgresSink) WriteTable(ctx context.Context, name string, t *table.Table) (int64, error) {
	if err := p.Connect(ctx); err != nil {
		return 0, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.QueryTimeout)
		defer cancel()
	}

	start := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, CreateTableSQL(p.config.Schema, name, t)); err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to create table %s", name))
	}

	if p.config.Replace {
		if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+qualifiedName(p.config.Schema, name)); err != nil {
			return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
				fmt.Sprintf("Failed to truncate table %s", name))
		}
	}

	rows, err := p.copyRows(ctx, tx, name, t)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to commit transaction")
	}

	p.logger.WithFields(logrus.Fields{
		"table":    name,
		"rows":     rows,
		"columns":  t.Width(),
		"duration": time.Since(start),
	}).Info("Copied table into Postgres")

	return rows, nil
}

func (p *PostgresSink) copyRows(ctx context.Context, tx *sql.Tx, name string, t *table.Table) (int64, error) {
	var stmt *sql.Stmt
	var err error
	if p.config.Schema != "" {
		stmt, err = tx.PrepareContext(ctx, pq.CopyInSchema(p.config.Schema, name, t.Names()...))
	} else {
		stmt, err = tx.PrepareContext(ctx, pq.CopyIn(name, t.Names()...))
	}
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to prepare COPY statement")
	}
	defer stmt.Close()

	columns := t.Columns()
	args := make([]interface{}, len(columns))
	for i := 0; i < t.Len(); i++ {
		for j, c := range columns {
			args[j] = CopyValue(c, i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to execute COPY")
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to finalize COPY")
	}

	return int64(t.Len()), nil
}

// CreateTableSQL renders the CREATE TABLE IF NOT EXISTS statement for t.
func CreateTableSQL(schema, name string, t *table.Table) string {
	defs := make([]string, 0, t.Width())
	for _, c := range t.Columns() {
		defs = append(defs, fmt.Sprintf("%s %s", pq.QuoteIdentifier(c.Name), ColumnType(c.Type)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualifiedName(schema, name), strings.Join(defs, ", "))
}

// ColumnType maps a column type onto a Postgres type.
func ColumnType(typ table.Type) string {
	switch typ {
	case table.Float:
		return "DOUBLE PRECISION"
	case table.Int:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// CopyValue converts cell i of c into a COPY argument; missing cells are NULL.
func CopyValue(c *table.Column, i int) interface{} {
	v := c.Values[i]
	if v.IsMissing() {
		return nil
	}
	switch c.Type {
	case table.Float:
		if f, ok := v.Float(); ok {
			return f
		}
	case table.Int:
		if f, ok := v.Float(); ok {
			return int64(f)
		}
	}
	return v.Text()
}

func qualifiedName(schema, name string) string {
	if schema == "" {
		return pq.QuoteIdentifier(name)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

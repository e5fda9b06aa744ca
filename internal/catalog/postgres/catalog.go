// Package postgres reads the poster catalog from a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/posterwatch/internal/catalog"
	"github.com/JakeFAU/posterwatch/internal/poster"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and the catalog table.
type Config struct {
	DSN             string
	Table           string
	IDColumn        string
	TitleColumn     string
	URLColumn       string
	EagerFirst      int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// Catalog lists resources from Postgres in primary-key order.
type Catalog struct {
	pool       queryCloser
	query      string
	eagerFirst int
}

func (c *Config) applyDefaults() {
	if c.Table == "" {
		c.Table = "movies"
	}
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.TitleColumn == "" {
		c.TitleColumn = "title"
	}
	if c.URLColumn == "" {
		c.URLColumn = "cover_url"
	}
}

func (c Config) listQuery() (string, error) {
	for _, ident := range []string{c.Table, c.IDColumn, c.TitleColumn, c.URLColumn} {
		if !validIdentifier.MatchString(ident) {
			return "", fmt.Errorf("invalid identifier %q", ident)
		}
	}
	return fmt.Sprintf(
		"SELECT %[2]s::text, coalesce(%[3]s, ''), coalesce(%[4]s, '') FROM %[1]s ORDER BY %[2]s",
		c.Table, c.IDColumn, c.TitleColumn, c.URLColumn,
	), nil
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Catalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c, err := NewWithPool(pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// NewWithPool constructs a catalog from an existing pool (primarily for testing).
func NewWithPool(pool queryCloser, cfg Config) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	cfg.applyDefaults()
	query, err := cfg.listQuery()
	if err != nil {
		return nil, err
	}
	return &Catalog{pool: pool, query: query, eagerFirst: cfg.EagerFirst}, nil
}

// ListResources implements poster.Catalog.
func (c *Catalog) ListResources(ctx context.Context) ([]poster.ResourceRef, error) {
	rows, err := c.pool.Query(ctx, c.query)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (poster.ResourceRef, error) {
		var ref poster.ResourceRef
		err := row.Scan(&ref.ID, &ref.Title, &ref.OriginURL)
		return ref, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}
	catalog.MarkEager(refs, c.eagerFirst)
	return refs, nil
}

// Ping checks database connectivity.
func (c *Catalog) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (c *Catalog) Close() {
	c.pool.Close()
}

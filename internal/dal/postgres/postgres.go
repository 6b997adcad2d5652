package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/corray333/backend-labs/fulfillment/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/viper"
)

// DB is the part of pgx the repositories use. It is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Client represents a Postgres client.
type Client struct {
	pool *pgxpool.Pool
}

// Pool returns the underlying connection pool.
func (p *Client) Pool() *pgxpool.Pool {
	return p.pool
}

// Close closes the database connection for graceful shutdown.
func (p *Client) Close() {
	p.pool.Close()
}

// MustNewClient connects to Postgres and applies the embedded migrations from postgres.migrations_dir.
func MustNewClient() *Client {
	config, err := pgxpool.ParseConfig(ConnectionString())
	if err != nil {
		panic(err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		panic(err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		panic(err)
	}

	if err := migrate(pool, viper.GetString("postgres.migrations_dir")); err != nil {
		panic(err)
	}

	return &Client{
		pool: pool,
	}
}

// ConnectionString builds a postgres URL from the postgres.* keys.
func ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(viper.GetString("postgres.user"), viper.GetString("postgres.password")),
		Host:     fmt.Sprintf("%s:%d", viper.GetString("postgres.host"), viper.GetInt("postgres.port")),
		Path:     "/" + viper.GetString("postgres.db"),
		RawQuery: "sslmode=" + viper.GetString("postgres.sslmode"),
	}

	return u.String()
}

func migrate(pool *pgxpool.Pool, dir string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations from %s: %w", dir, err)
	}

	return nil
}

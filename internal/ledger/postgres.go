package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	postgresTableName        = "ecmwf_downloaded_dates"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Postgres stores one row per (namespace, date). The table is created on
// first use.
type Postgres struct {
	dsn       string
	tableName string
	namespace string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgres(dsn, namespace string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(namespace) == "" {
		namespace = "data"
	}
	return &Postgres{
		dsn:       dsn,
		tableName: postgresTableName,
		namespace: namespace,
		openDB:    sql.Open,
	}, nil
}

func (p *Postgres) Exists(date string) (bool, error) {
	if err := p.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE namespace = $1 AND date = $2", quoteIdentifier(p.tableName))
	var one int
	err := p.db.QueryRowContext(ctx, query, p.namespace, date).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "query ledger")
	}
	return true, nil
}

func (p *Postgres) Record(date string) (bool, error) {
	if strings.TrimSpace(date) == "" {
		return false, ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, date, recorded_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (namespace, date) DO NOTHING`, quoteIdentifier(p.tableName))
	res, err := p.db.ExecContext(ctx, query, p.namespace, date)
	if err != nil {
		return false, errors.Wrap(err, "record date")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Postgres) Dates() ([]string, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT date FROM %s WHERE namespace = $1 ORDER BY id", quoteIdentifier(p.tableName))
	rows, err := p.db.QueryContext(ctx, query, p.namespace)
	if err != nil {
		return nil, errors.Wrap(err, "list dates")
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) ensureReady() error {
	if p == nil {
		return ErrInvalidInput
	}
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				namespace TEXT NOT NULL,
				date TEXT NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (namespace, date)
			)`, quoteIdentifier(p.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			p.initErr = errors.Wrap(err, "create ledger table")
			return
		}
		p.db = db
	})
	return p.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fernwood/orderdesk/internal/db"
	"github.com/fernwood/orderdesk/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
// The per-email idempotency probes run for every email on every pass,
// so they benefit the most.
var preparedStatements = map[string]string{
	"has_classification":    `SELECT 1 FROM email_classification WHERE email_id = $1`,
	"save_classification":   `INSERT INTO email_classification (email_id, category, created_at) VALUES ($1, $2, $3) ON CONFLICT (email_id) DO NOTHING`,
	"has_order_response":    `SELECT 1 FROM order_response WHERE email_id = $1`,
	"save_order_response":   `INSERT INTO order_response (email_id, response, created_at) VALUES ($1, $2, $3) ON CONFLICT (email_id) DO NOTHING`,
	"has_inquiry_response":  `SELECT 1 FROM inquiry_response WHERE email_id = $1`,
	"save_inquiry_response": `INSERT INTO inquiry_response (email_id, response, created_at) VALUES ($1, $2, $3) ON CONFLICT (email_id) DO NOTHING`,
	"update_stock":          `UPDATE catalog SET stock = $1 WHERE product_id = $2`,
	"insert_order_line":     `INSERT INTO order_status (id, email_id, product_id, quantity, status, unit_price, stock_at_decision, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS emails (
	id      TEXT PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS catalog (
	product_id  TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	seasons     TEXT NOT NULL DEFAULT '',
	price       DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (price >= 0),
	stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0)
);

CREATE TABLE IF NOT EXISTS email_classification (
	email_id   TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS order_status (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email_id          TEXT NOT NULL,
	product_id        TEXT NOT NULL,
	quantity          INTEGER NOT NULL CHECK (quantity > 0),
	status            TEXT NOT NULL,
	unit_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	stock_at_decision INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS order_response (
	email_id   TEXT PRIMARY KEY,
	response   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS inquiry_response (
	email_id   TEXT PRIMARY KEY,
	response   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_order_status_email_id ON order_status(email_id);
CREATE INDEX IF NOT EXISTS idx_catalog_category ON catalog(category);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListEmails(ctx context.Context) ([]model.Email, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, subject, message FROM emails ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list emails")
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		var e model.Email
		if err := rows.Scan(&e.ID, &e.Subject, &e.Body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		emails = append(emails, e)
	}
	return emails, eris.Wrap(rows.Err(), "postgres: list emails iterate")
}

func (s *PostgresStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, name, category, description, seasons, price, stock FROM catalog ORDER BY product_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list catalog")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.ProductID, &e.Name, &e.Category, &e.Description, &e.Seasons, &e.UnitPrice, &e.Stock); err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list catalog iterate")
}

// ImportEmails bulk-upserts the email sheet via COPY into a temp table.
func (s *PostgresStore) ImportEmails(ctx context.Context, emails []model.Email) (int, error) {
	rows := make([][]any, len(emails))
	for i, e := range emails {
		rows[i] = []any{e.ID, e.Subject, e.Body}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "emails",
		Columns:      []string{"id", "subject", "message"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import emails")
	}
	return int(n), nil
}

// ImportCatalog bulk-upserts the product sheet.
func (s *PostgresStore) ImportCatalog(ctx context.Context, entries []model.CatalogEntry) (int, error) {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.ProductID, e.Name, e.Category, e.Description, e.Seasons, e.UnitPrice, e.Stock}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "catalog",
		Columns:      []string{"product_id", "name", "category", "description", "seasons", "price", "stock"},
		ConflictKeys: []string{"product_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import catalog")
	}
	return int(n), nil
}

func (s *PostgresStore) UpdateStock(ctx context.Context, productID string, stock int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog SET stock = $1 WHERE product_id = $2`,
		stock, productID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update stock %s", productID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("product not found: %s", productID)
	}
	return nil
}

func (s *PostgresStore) HasClassification(ctx context.Context, emailID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM email_classification WHERE email_id = $1`, emailID)
}

func (s *PostgresStore) GetClassification(ctx context.Context, emailID string) (model.Category, bool, error) {
	var category string
	err := s.pool.QueryRow(ctx,
		`SELECT category FROM email_classification WHERE email_id = $1`, emailID).Scan(&category)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: get classification %s", emailID)
	}
	return model.Category(category), true, nil
}

func (s *PostgresStore) SaveClassification(ctx context.Context, c model.Classification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO email_classification (email_id, category, created_at) VALUES ($1, $2, $3) ON CONFLICT (email_id) DO NOTHING`,
		c.EmailID, string(c.Category), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save classification %s", c.EmailID)
}

func (s *PostgresStore) AppendOrderLines(ctx context.Context, lines []model.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}

	rows := make([][]any, len(lines))
	now := time.Now().UTC()
	for i, line := range lines {
		rows[i] = []any{
			uuid.New().String(), line.EmailID, line.ProductID, line.Quantity,
			string(line.Status), line.UnitPrice, line.StockAtDecision, now,
		}
	}

	_, err := db.CopyFrom(ctx, s.pool, "order_status",
		[]string{"id", "email_id", "product_id", "quantity", "status", "unit_price", "stock_at_decision", "created_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: append order lines")
}

func (s *PostgresStore) ListOrderLines(ctx context.Context, emailID string) ([]model.OrderLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email_id, product_id, quantity, status, unit_price, stock_at_decision
		 FROM order_status WHERE email_id = $1 ORDER BY created_at, product_id`,
		emailID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list order lines %s", emailID)
	}
	defer rows.Close()

	var lines []model.OrderLine
	for rows.Next() {
		var line model.OrderLine
		var status string
		if err := rows.Scan(&line.EmailID, &line.ProductID, &line.Quantity, &status, &line.UnitPrice, &line.StockAtDecision); err != nil {
			return nil, eris.Wrap(err, "postgres: scan order line")
		}
		line.Status = model.OrderStatus(status)
		lines = append(lines, line)
	}
	return lines, eris.Wrap(rows.Err(), "postgres: list order lines iterate")
}

func (s *PostgresStore) HasOrderResponse(ctx context.Context, emailID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM order_response WHERE email_id = $1`, emailID)
}

func (s *PostgresStore) SaveOrderResponse(ctx context.Context, r model.Response) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO order_response (email_id, response, created_at) VALUES ($1, $2, $3) ON CONFLICT (email_id) DO NOTHING`,
		r.EmailID, r.Body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save order response %s", r.EmailID)
}

func (s *PostgresStore) HasInquiryResponse(ctx context.Context, emailID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM inquiry_response WHERE email_id = $1`, emailID)
}

func (s *PostgresStore) SaveInquiryResponse(ctx context.Context, r model.Response) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inquiry_response (email_id, response, created_at) VALUES ($1, $2, $3) ON CONFLICT (email_id) DO NOTHING`,
		r.EmailID, r.Body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save inquiry response %s", r.EmailID)
}

func (s *PostgresStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM emails),
			(SELECT COUNT(*) FROM catalog),
			(SELECT COUNT(*) FROM email_classification),
			(SELECT COUNT(*) FROM order_status),
			(SELECT COUNT(*) FROM order_response),
			(SELECT COUNT(*) FROM inquiry_response)`,
	).Scan(&stats.Emails, &stats.Products, &stats.Classified, &stats.OrderLines, &stats.OrderResponses, &stats.InquiryResponses)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return stats, nil
}

func (s *PostgresStore) exists(ctx context.Context, query, id string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, query, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: existence check")
	}
	return true, nil
}

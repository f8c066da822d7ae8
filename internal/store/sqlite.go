package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fernwood/orderdesk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	price       REAL NOT NULL DEFAULT 0 CHECK (price >= 0),
	stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0)
);

CREATE TABLE IF NOT EXISTS email_classification (
	email_id   TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS order_status (
	id                TEXT PRIMARY KEY,
	email_id          TEXT NOT NULL,
	product_id        TEXT NOT NULL,
	quantity          INTEGER NOT NULL CHECK (quantity > 0),
	status            TEXT NOT NULL,
	unit_price        REAL NOT NULL DEFAULT 0,
	stock_at_decision INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS order_response (
	email_id   TEXT PRIMARY KEY,
	response   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS inquiry_response (
	email_id   TEXT PRIMARY KEY,
	response   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_order_status_email_id ON order_status(email_id);
CREATE INDEX IF NOT EXISTS idx_catalog_category ON catalog(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListEmails(ctx context.Context) ([]model.Email, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, subject, message FROM emails ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list emails")
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		var e model.Email
		if err := rows.Scan(&e.ID, &e.Subject, &e.Body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email")
		}
		emails = append(emails, e)
	}
	return emails, eris.Wrap(rows.Err(), "sqlite: list emails iterate")
}

func (s *SQLiteStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, category, description, seasons, price, stock FROM catalog ORDER BY product_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list catalog")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.ProductID, &e.Name, &e.Category, &e.Description, &e.Seasons, &e.UnitPrice, &e.Stock); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list catalog iterate")
}

func (s *SQLiteStore) ImportEmails(ctx context.Context, emails []model.Email) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import emails begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO emails (id, subject, message) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET subject = excluded.subject, message = excluded.message`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import emails prepare")
	}
	defer stmt.Close()

	for _, e := range emails {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Subject, e.Body); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import email %s", e.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import emails commit")
	}
	return len(emails), nil
}

func (s *SQLiteStore) ImportCatalog(ctx context.Context, entries []model.CatalogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import catalog begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO catalog (product_id, name, category, description, seasons, price, stock)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product_id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			description = excluded.description,
			seasons = excluded.seasons,
			price = excluded.price,
			stock = excluded.stock`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import catalog prepare")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ProductID, e.Name, e.Category, e.Description, e.Seasons, e.UnitPrice, e.Stock); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import catalog entry %s", e.ProductID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import catalog commit")
	}
	return len(entries), nil
}

func (s *SQLiteStore) UpdateStock(ctx context.Context, productID string, stock int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE catalog SET stock = ? WHERE product_id = ?`,
		stock, productID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update stock %s", productID)
	}
	return checkRowsAffected(res, "product", productID)
}

func (s *SQLiteStore) HasClassification(ctx context.Context, emailID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM email_classification WHERE email_id = ?`, emailID)
}

func (s *SQLiteStore) GetClassification(ctx context.Context, emailID string) (model.Category, bool, error) {
	var category string
	err := s.db.QueryRowContext(ctx,
		`SELECT category FROM email_classification WHERE email_id = ?`, emailID).Scan(&category)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: get classification %s", emailID)
	}
	return model.Category(category), true, nil
}

func (s *SQLiteStore) SaveClassification(ctx context.Context, c model.Classification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_classification (email_id, category, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(email_id) DO NOTHING`,
		c.EmailID, string(c.Category), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save classification %s", c.EmailID)
}

func (s *SQLiteStore) AppendOrderLines(ctx context.Context, lines []model.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: append order lines begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO order_status (id, email_id, product_id, quantity, status, unit_price, stock_at_decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: append order lines prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, line := range lines {
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), line.EmailID, line.ProductID, line.Quantity,
			string(line.Status), line.UnitPrice, line.StockAtDecision, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: append order line %s/%s", line.EmailID, line.ProductID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: append order lines commit")
}

func (s *SQLiteStore) ListOrderLines(ctx context.Context, emailID string) ([]model.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email_id, product_id, quantity, status, unit_price, stock_at_decision
		 FROM order_status WHERE email_id = ? ORDER BY created_at, product_id`,
		emailID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list order lines %s", emailID)
	}
	defer rows.Close()

	var lines []model.OrderLine
	for rows.Next() {
		var line model.OrderLine
		var status string
		if err := rows.Scan(&line.EmailID, &line.ProductID, &line.Quantity, &status, &line.UnitPrice, &line.StockAtDecision); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan order line")
		}
		line.Status = model.OrderStatus(status)
		lines = append(lines, line)
	}
	return lines, eris.Wrap(rows.Err(), "sqlite: list order lines iterate")
}

func (s *SQLiteStore) HasOrderResponse(ctx context.Context, emailID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM order_response WHERE email_id = ?`, emailID)
}

func (s *SQLiteStore) SaveOrderResponse(ctx context.Context, r model.Response) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_response (email_id, response, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(email_id) DO NOTHING`,
		r.EmailID, r.Body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save order response %s", r.EmailID)
}

func (s *SQLiteStore) HasInquiryResponse(ctx context.Context, emailID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM inquiry_response WHERE email_id = ?`, emailID)
}

func (s *SQLiteStore) SaveInquiryResponse(ctx context.Context, r model.Response) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inquiry_response (email_id, response, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(email_id) DO NOTHING`,
		r.EmailID, r.Body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save inquiry response %s", r.EmailID)
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	for _, q := range []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM emails`, &stats.Emails},
		{`SELECT COUNT(*) FROM catalog`, &stats.Products},
		{`SELECT COUNT(*) FROM email_classification`, &stats.Classified},
		{`SELECT COUNT(*) FROM order_status`, &stats.OrderLines},
		{`SELECT COUNT(*) FROM order_response`, &stats.OrderResponses},
		{`SELECT COUNT(*) FROM inquiry_response`, &stats.InquiryResponses},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats")
		}
	}
	return stats, nil
}

// helpers

func (s *SQLiteStore) exists(ctx context.Context, query, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: existence check")
	}
	return true, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

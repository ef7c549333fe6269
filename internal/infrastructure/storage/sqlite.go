package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flashcur/marketpulse/internal/domain"
)

// SQLiteStore persists the tracked-instrument registry, the snapshot
// archive, alert records and subscriber profiles in one sqlite file.
type SQLiteStore struct {
	db *sql.DB

	timeNow func() time.Time // For testing
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, timeNow: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			price REAL NOT NULL,
			quote_volume_24h REAL NOT NULL,
			price_change_percent REAL NOT NULL,
			funding_rate REAL NOT NULL DEFAULT 0,
			ts DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_ts ON snapshots(symbol, ts);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			threshold REAL NOT NULL,
			triggered_value REAL NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			webhook_url TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'free',
			symbols TEXT NOT NULL DEFAULT '',
			multiplier_override REAL NOT NULL DEFAULT 0,
			email_enabled BOOLEAN NOT NULL DEFAULT 0,
			sms_enabled BOOLEAN NOT NULL DEFAULT 0,
			webhook_enabled BOOLEAN NOT NULL DEFAULT 0
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: add funding_rate column if it doesn't exist
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE snapshots ADD COLUMN funding_rate REAL NOT NULL DEFAULT 0`)

	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) FindOrCreateInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instruments (symbol, created_at) VALUES (?, ?) ON CONFLICT(symbol) DO NOTHING`,
		symbol, s.timeNow().UTC())
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, created_at FROM instruments WHERE symbol = ?`, symbol)
	var inst domain.Instrument
	if err := row.Scan(&inst.ID, &inst.Symbol, &inst.CreatedAt); err != nil {
		return nil, err
	}
	return &inst, nil
}

// InsertSnapshots archives a normalized batch in one transaction.
func (s *SQLiteStore) InsertSnapshots(ctx context.Context, snaps []domain.InstrumentSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshots (symbol, price, quote_volume_24h, price_change_percent, funding_rate, ts)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		if _, err := stmt.ExecContext(ctx,
			snap.Symbol, snap.Price, snap.QuoteVolume24h, snap.PriceChangePercent,
			snap.FundingRate, snap.Timestamp.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateAlert(ctx context.Context, alert *domain.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, user_id, symbol, threshold, triggered_value, delivered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, alert.Symbol, alert.Threshold, alert.TriggeredValue,
		alert.Delivered, alert.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, alertID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET delivered = 1 WHERE id = ?`, alertID)
	return err
}

// Alert loads one alert record by id.
func (s *SQLiteStore) Alert(ctx context.Context, alertID string) (*domain.AlertRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, symbol, threshold, triggered_value, delivered, created_at
		 FROM alerts WHERE id = ?`, alertID)

	var a domain.AlertRecord
	err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Threshold, &a.TriggeredValue, &a.Delivered, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts returns the most recent alerts for a user, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, userID string, limit int) ([]*domain.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symbol, threshold, triggered_value, delivered, created_at
		 FROM alerts WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.AlertRecord
	for rows.Next() {
		var a domain.AlertRecord
		if err := rows.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Threshold, &a.TriggeredValue, &a.Delivered, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) UpsertSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	query := `INSERT INTO subscribers (user_id, email, phone, webhook_url, tier, symbols, multiplier_override, email_enabled, sms_enabled, webhook_enabled)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id) DO UPDATE SET
			  email=excluded.email,
			  phone=excluded.phone,
			  webhook_url=excluded.webhook_url,
			  tier=excluded.tier,
			  symbols=excluded.symbols,
			  multiplier_override=excluded.multiplier_override,
			  email_enabled=excluded.email_enabled,
			  sms_enabled=excluded.sms_enabled,
			  webhook_enabled=excluded.webhook_enabled`
	_, err := s.db.ExecContext(ctx, query,
		sub.UserID, sub.Email, sub.Phone, sub.WebhookURL, sub.Tier.String(),
		strings.Join(sub.Symbols, ","), sub.MultiplierOverride,
		sub.Prefs.EmailEnabled, sub.Prefs.SMSEnabled, sub.Prefs.WebhookEnabled)
	return err
}

func (s *SQLiteStore) Subscriber(ctx context.Context, userID string) (*domain.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, subscriberSelect+` WHERE user_id = ?`, userID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscribersForSymbol returns every subscriber whose watch configuration
// matches the symbol. The watch filter runs in Go because the symbol list is
// stored denormalized.
func (s *SQLiteStore) SubscribersForSymbol(ctx context.Context, symbol string) ([]*domain.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, subscriberSelect+` ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		if sub.Watches(symbol) {
			subs = append(subs, sub)
		}
	}
	return subs, rows.Err()
}

const subscriberSelect = `SELECT user_id, email, phone, webhook_url, tier, symbols, multiplier_override, email_enabled, sms_enabled, webhook_enabled FROM subscribers`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	var tier, symbols string
	err := row.Scan(&sub.UserID, &sub.Email, &sub.Phone, &sub.WebhookURL, &tier, &symbols,
		&sub.MultiplierOverride, &sub.Prefs.EmailEnabled, &sub.Prefs.SMSEnabled, &sub.Prefs.WebhookEnabled)
	if err != nil {
		return nil, err
	}
	sub.Tier = domain.ParseTier(tier)
	if symbols != "" {
		sub.Symbols = strings.Split(symbols, ",")
	}
	return &sub, nil
}

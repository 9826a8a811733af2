package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// SQLiteStore is the durable Repository. Decimals are stored as TEXT in
// their canonical form and timestamps as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_id        TEXT PRIMARY KEY,
		client_id       TEXT NOT NULL,
		instrument      TEXT NOT NULL,
		side            TEXT NOT NULL,
		type            TEXT NOT NULL,
		price           TEXT NOT NULL,
		quantity        TEXT NOT NULL,
		filled_quantity TEXT NOT NULL,
		status          TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_open ON orders (instrument, status, created_at);`,
	`CREATE TABLE IF NOT EXISTS trades (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id       TEXT NOT NULL UNIQUE,
		buy_order_id   TEXT NOT NULL,
		sell_order_id  TEXT NOT NULL,
		instrument     TEXT NOT NULL,
		price          TEXT NOT NULL,
		quantity       TEXT NOT NULL,
		buy_client_id  TEXT NOT NULL,
		sell_client_id TEXT NOT NULL,
		executed_at    INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades (instrument, executed_at);`,
	`CREATE INDEX IF NOT EXISTS idx_trades_buy ON trades (buy_order_id);`,
	`CREATE INDEX IF NOT EXISTS idx_trades_sell ON trades (sell_order_id);`,
	`CREATE TABLE IF NOT EXISTS book_snapshots (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument TEXT NOT NULL,
		bids       TEXT NOT NULL,
		asks       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_instrument ON book_snapshots (instrument, id);`,
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const orderColumns = `order_id, client_id, instrument, side, type, price, quantity,
	filled_quantity, status, idempotency_key, created_at, updated_at`

func orderArgs(o *domain.Order) []any {
	key := sql.NullString{String: o.IdempotencyKey, Valid: o.IdempotencyKey != ""}
	return []any{
		o.OrderID, o.ClientID, o.Instrument, string(o.Side), string(o.Type),
		o.Price.String(), o.Quantity.String(), o.FilledQuantity.String(),
		string(o.Status), key, o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano(),
	}
}

func (s *SQLiteStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		orderArgs(o)...,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(order_id) DO UPDATE SET filled_quantity=excluded.filled_quantity, "+
			"status=excluded.status, updated_at=excluded.updated_at",
		orderArgs(o)...,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = ?", orderID)
	return scanOrder(row)
}

func (s *SQLiteStore) FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = ?", key)
	return scanOrder(row)
}

func (s *SQLiteStore) FindOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE instrument = ? AND status IN (?, ?) "+
			"ORDER BY created_at ASC, order_id ASC",
		instrument, string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o                       domain.Order
		side, typ, status       string
		price, quantity, filled string
		key                     sql.NullString
		createdAt, updatedAt    int64
	)
	err := row.Scan(&o.OrderID, &o.ClientID, &o.Instrument, &side, &typ,
		&price, &quantity, &filled, &status, &key, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.IdempotencyKey = key.String
	o.CreatedAt = time.Unix(0, createdAt).UTC()
	o.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("order %s: bad price: %w", o.OrderID, err)
	}
	if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("order %s: bad quantity: %w", o.OrderID, err)
	}
	if o.FilledQuantity, err = decimal.NewFromString(filled); err != nil {
		return nil, fmt.Errorf("order %s: bad filled quantity: %w", o.OrderID, err)
	}
	return &o, nil
}

const tradeColumns = `trade_id, buy_order_id, sell_order_id, instrument, price, quantity,
	buy_client_id, sell_client_id, executed_at`

func (s *SQLiteStore) CreateTrade(ctx context.Context, t *domain.Trade) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO trades ("+tradeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.TradeID, t.BuyOrderID, t.SellOrderID, t.Instrument,
		t.Price.String(), t.Quantity.String(), t.BuyClientID, t.SellClientID,
		t.ExecutedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	return s.queryTrades(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE instrument = ? ORDER BY seq DESC LIMIT ?",
		instrument, limit,
	)
}

func (s *SQLiteStore) TradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	return s.queryTrades(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE buy_order_id = ? OR sell_order_id = ? ORDER BY seq ASC",
		orderID, orderID,
	)
}

func (s *SQLiteStore) TradesSince(ctx context.Context, instrument string, since time.Time) ([]*domain.Trade, error) {
	return s.queryTrades(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE instrument = ? AND executed_at >= ? ORDER BY seq ASC",
		instrument, since.UnixNano(),
	)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		var (
			t               domain.Trade
			price, quantity string
			executedAt      int64
		)
		if err := rows.Scan(&t.TradeID, &t.BuyOrderID, &t.SellOrderID, &t.Instrument,
			&price, &quantity, &t.BuyClientID, &t.SellClientID, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trade %s: bad price: %w", t.TradeID, err)
		}
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("trade %s: bad quantity: %w", t.TradeID, err)
		}
		t.ExecutedAt = time.Unix(0, executedAt).UTC()
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return trades, nil
}

// snapshotLevel is the stored JSON form of a price level.
type snapshotLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderCount int             `json:"order_count"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

func encodeLevels(levels []domain.PriceLevel) ([]byte, error) {
	out := make([]snapshotLevel, len(levels))
	for i, l := range levels {
		out[i] = snapshotLevel{Price: l.Price, Quantity: l.Quantity, OrderCount: l.OrderCount, Cumulative: l.Cumulative}
	}
	return json.Marshal(out)
}

func decodeLevels(data []byte) ([]domain.PriceLevel, error) {
	var in []snapshotLevel
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	out := make([]domain.PriceLevel, len(in))
	for i, l := range in {
		out[i] = domain.PriceLevel{Price: l.Price, Quantity: l.Quantity, OrderCount: l.OrderCount, Cumulative: l.Cumulative}
	}
	return out, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *domain.BookSnapshot) error {
	bids, err := encodeLevels(snap.Bids)
	if err != nil {
		return fmt.Errorf("failed to marshal bids: %w", err)
	}
	asks, err := encodeLevels(snap.Asks)
	if err != nil {
		return fmt.Errorf("failed to marshal asks: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO book_snapshots (instrument, bids, asks, created_at) VALUES (?, ?, ?, ?)",
		snap.Instrument, string(bids), string(asks), snap.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read snapshot id: %w", err)
	}
	snap.ID = id
	return nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, instrument string) (*domain.BookSnapshot, error) {
	var (
		snap       domain.BookSnapshot
		bids, asks string
		createdAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, instrument, bids, asks, created_at FROM book_snapshots WHERE instrument = ? ORDER BY id DESC LIMIT 1",
		instrument,
	).Scan(&snap.ID, &snap.Instrument, &bids, &asks, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	if snap.Bids, err = decodeLevels([]byte(bids)); err != nil {
		return nil, fmt.Errorf("snapshot %d: bad bids: %w", snap.ID, err)
	}
	if snap.Asks, err = decodeLevels([]byte(asks)); err != nil {
		return nil, fmt.Errorf("snapshot %d: bad asks: %w", snap.ID, err)
	}
	snap.Timestamp = time.Unix(0, createdAt).UTC()
	return &snap, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure. The driver exposes it only through the message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

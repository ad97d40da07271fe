// SQLite-backed Strategy Store (§4.I), grounded on the teacher's
// market_maker/internal/engine/simple/store_sqlite.go: database/sql +
// mattn/go-sqlite3, WAL journal mode, one connection's transaction
// playing the role of a row lock.
//
// SQLite has no per-row FOR UPDATE; every transaction here opens with
// "_txlock=immediate" (a driver DSN option) so it acquires SQLite's
// reserved write lock up front, giving the single-writer serialization
// §4.D step 2 and §5 require without a real multi-row lock manager.
// shopspring/decimal implements database/sql's Scanner/Valuer, so money
// columns are read and written as decimal.Decimal or as its exact string
// form (strategy entry price/high-water mark, log profit) — no float64
// ever touches a money path.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"tradeforge/internal/core"
	"tradeforge/internal/decimalutil"
)

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, maxOpenConns int) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 10 // §5: the DB pool is capped at 10 connections.
	}
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		user_id TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		coin_symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		average_buy_price TEXT NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (user_id, coin_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		coin_symbol TEXT NOT NULL,
		order_type TEXT NOT NULL,
		order_mode TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price_per_unit TEXT,
		total_amount TEXT,
		order_status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		coin_symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price_per_unit TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS strategies (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		exit_style TEXT NOT NULL,
		notional_amount TEXT NOT NULL,
		profit_target_pct TEXT NOT NULL,
		total_iterations INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		iterations_completed INTEGER NOT NULL DEFAULT 0,
		current_coin_id TEXT,
		entry_price TEXT,
		high_water_mark TEXT,
		current_order_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS strategy_logs (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		action TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		coin_symbol TEXT NOT NULL,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		amount TEXT NOT NULL,
		profit TEXT,
		logged_at INTEGER NOT NULL
	)`,
}

// idempotentMigrations adds optional columns to pre-existing tables.
// SQLite reports "duplicate column name" when an ADD COLUMN is
// replayed; that specific error is swallowed so Migrate never crashes
// the engine on the "column already exists" path (§4.I).
var idempotentMigrations = []string{
	`ALTER TABLE strategies ADD COLUMN current_order_id TEXT`,
	`ALTER TABLE strategies ADD COLUMN high_water_mark TEXT`,
}

// Migrate runs the base schema then the idempotent follow-on migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range baseSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("base schema: %w", err)
		}
	}
	for _, stmt := range idempotentMigrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("migration %q: %w", stmt, err)
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func newID() string { return uuid.NewString() }

// --- order access -----------------------------------------------------

func (s *SQLiteStore) InsertOrder(ctx context.Context, o core.Order) (string, error) {
	if o.ID == "" {
		o.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, coin_id, coin_symbol, order_type, order_mode, quantity, price_per_unit, total_amount, order_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.CoinID, o.CoinSymbol, string(o.Side), string(o.Mode),
		o.Quantity, o.PricePerUnit, o.TotalAmount,
		string(o.Status), o.CreatedAt.UnixNano())
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

type orderRow interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row orderRow) (core.Order, bool, error) {
	var o core.Order
	var side, mode, status string
	var createdAt int64
	var completedAt sql.NullInt64

	err := row.Scan(&o.ID, &o.UserID, &o.CoinID, &o.CoinSymbol, &side, &mode, &o.Quantity,
		&o.PricePerUnit, &o.TotalAmount, &status, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return core.Order{}, false, nil
	}
	if err != nil {
		return core.Order{}, false, err
	}

	o.Side = core.OrderSide(side)
	o.Mode = core.OrderMode(mode)
	o.Status = core.OrderStatus(status)
	o.CreatedAt = time.Unix(0, createdAt)
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64)
		o.CompletedAt = &t
	}
	return o, true, nil
}

const orderColumns = `id, user_id, coin_id, coin_symbol, order_type, order_mode, quantity, price_per_unit, total_amount, order_status, created_at, completed_at`

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (core.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

func (s *SQLiteStore) SetOrderStatus(ctx context.Context, id string, status core.OrderStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET order_status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *SQLiteStore) LoadPendingLimitOrders(ctx context.Context) ([]core.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_status = 'pending' AND order_mode = 'limit'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Order
	for rows.Next() {
		o, ok, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, rows.Err()
}

// --- holdings / profiles (read-only outside a tx) ----------------------

func (s *SQLiteStore) GetHolding(ctx context.Context, userID, coinID string) (core.Holding, bool, error) {
	return scanHolding(s.db.QueryRowContext(ctx, `
		SELECT user_id, coin_id, coin_symbol, quantity, average_buy_price, last_updated
		FROM holdings WHERE user_id = ? AND coin_id = ?`, userID, coinID))
}

func scanHolding(row orderRow) (core.Holding, bool, error) {
	var h core.Holding
	var lastUpdated int64
	err := row.Scan(&h.UserID, &h.CoinID, &h.CoinSymbol, &h.Quantity, &h.AverageBuyPrice, &lastUpdated)
	if err == sql.ErrNoRows {
		return core.Holding{}, false, nil
	}
	if err != nil {
		return core.Holding{}, false, err
	}
	h.LastUpdated = time.Unix(0, lastUpdated)
	return h, true, nil
}

func (s *SQLiteStore) EnsureProfile(ctx context.Context, userID string) (core.Profile, error) {
	p, ok, err := scanProfile(s.db.QueryRowContext(ctx, `SELECT id, display_name, email, balance FROM profiles WHERE id = ?`, userID))
	if err != nil {
		return core.Profile{}, err
	}
	if ok {
		return p, nil
	}

	p = core.Profile{ID: userID, DisplayName: "Automation Guest", Email: "guest@automation.local", Balance: decimalutil.SeedBalance}
	_, err = s.db.ExecContext(ctx, `INSERT INTO profiles (id, display_name, email, balance) VALUES (?, ?, ?, ?)`,
		p.ID, p.DisplayName, p.Email, p.Balance)
	if err != nil {
		return core.Profile{}, err
	}
	return p, nil
}

func scanProfile(row orderRow) (core.Profile, bool, error) {
	var p core.Profile
	err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &p.Balance)
	if err == sql.ErrNoRows {
		return core.Profile{}, false, nil
	}
	if err != nil {
		return core.Profile{}, false, err
	}
	return p, true, nil
}

// --- transactional execution primitives --------------------------------

type sqliteTx struct {
	tx *sql.Tx
}

func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

func (t *sqliteTx) GetOrderForUpdate(ctx context.Context, orderID string) (core.Order, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
	return scanOrder(row)
}

func (t *sqliteTx) LockOrCreateProfile(ctx context.Context, userID string) (core.Profile, error) {
	p, ok, err := scanProfile(t.tx.QueryRowContext(ctx, `SELECT id, display_name, email, balance FROM profiles WHERE id = ?`, userID))
	if err != nil {
		return core.Profile{}, err
	}
	if ok {
		return p, nil
	}

	p = core.Profile{ID: userID, DisplayName: "Automation Guest", Email: "guest@automation.local", Balance: decimalutil.SeedBalance}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO profiles (id, display_name, email, balance) VALUES (?, ?, ?, ?)`,
		p.ID, p.DisplayName, p.Email, p.Balance)
	if err != nil {
		return core.Profile{}, err
	}
	return p, nil
}

func (t *sqliteTx) SetProfileBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE profiles SET balance = ? WHERE id = ?`, balance, userID)
	return err
}

func (t *sqliteTx) GetHoldingForUpdate(ctx context.Context, userID, coinID string) (core.Holding, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_id, coin_id, coin_symbol, quantity, average_buy_price, last_updated
		FROM holdings WHERE user_id = ? AND coin_id = ?`, userID, coinID)
	return scanHolding(row)
}

func (t *sqliteTx) UpsertHolding(ctx context.Context, h core.Holding) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO holdings (user_id, coin_id, coin_symbol, quantity, average_buy_price, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, coin_id) DO UPDATE SET
			coin_symbol = excluded.coin_symbol,
			quantity = excluded.quantity,
			average_buy_price = excluded.average_buy_price,
			last_updated = excluded.last_updated`,
		h.UserID, h.CoinID, h.CoinSymbol, h.Quantity, h.AverageBuyPrice, time.Now().UnixNano())
	return err
}

func (t *sqliteTx) DeleteHolding(ctx context.Context, userID, coinID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ? AND coin_id = ?`, userID, coinID)
	return err
}

func (t *sqliteTx) CompleteOrder(ctx context.Context, orderID string, price, total decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET order_status = 'completed', price_per_unit = ?, total_amount = ?, completed_at = ?
		WHERE id = ?`, price, total, time.Now().UnixNano(), orderID)
	return err
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, tr core.Transaction) error {
	if tr.ID == "" {
		tr.ID = newID()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, order_id, transaction_type, coin_id, coin_symbol, quantity, price_per_unit, total_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.UserID, tr.OrderID, string(tr.Type), tr.CoinID, tr.CoinSymbol,
		tr.Quantity, tr.PricePerUnit, tr.TotalAmount, time.Now().UnixNano())
	return err
}

// --- strategies ---------------------------------------------------------

func (s *SQLiteStore) InsertStrategy(ctx context.Context, st core.Strategy) (string, error) {
	if st.ID == "" {
		st.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, owner_id, exit_style, notional_amount, profit_target_pct, total_iterations, duration_minutes, started_at, status, iterations_completed, current_coin_id, entry_price, high_water_mark, current_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL)`,
		st.ID, st.OwnerID, string(st.ExitStyle), st.NotionalAmount, st.ProfitTargetPct,
		st.TotalIterations, st.DurationMinutes, st.StartedAt.UnixNano(), string(st.Status), st.IterationsCompleted)
	if err != nil {
		return "", err
	}
	return st.ID, nil
}

const strategyColumns = `id, owner_id, exit_style, notional_amount, profit_target_pct, total_iterations, duration_minutes, started_at, status, iterations_completed, current_coin_id, entry_price, high_water_mark, current_order_id`

func scanStrategy(row orderRow) (core.Strategy, bool, error) {
	var st core.Strategy
	var exitStyle, status string
	var startedAt int64
	var currentCoinID, currentOrderID sql.NullString
	var entryPrice, hwm sql.NullString

	err := row.Scan(&st.ID, &st.OwnerID, &exitStyle, &st.NotionalAmount, &st.ProfitTargetPct,
		&st.TotalIterations, &st.DurationMinutes, &startedAt, &status, &st.IterationsCompleted,
		&currentCoinID, &entryPrice, &hwm, &currentOrderID)
	if err == sql.ErrNoRows {
		return core.Strategy{}, false, nil
	}
	if err != nil {
		return core.Strategy{}, false, err
	}

	st.ExitStyle = core.ExitStyle(exitStyle)
	st.Status = core.StrategyStatus(status)
	st.StartedAt = time.Unix(0, startedAt)
	if currentCoinID.Valid {
		v := currentCoinID.String
		st.CurrentCoinID = &v
	}
	if currentOrderID.Valid {
		v := currentOrderID.String
		st.CurrentOrderID = &v
	}
	if entryPrice.Valid {
		st.EntryPrice, _ = decimal.NewFromString(entryPrice.String)
	}
	if hwm.Valid {
		st.HighWaterMark, _ = decimal.NewFromString(hwm.String)
	}
	return st, true, nil
}

func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (core.Strategy, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id)
	return scanStrategy(row)
}

func (s *SQLiteStore) ListRunningStrategies(ctx context.Context) ([]core.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE status = 'running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Strategy
	for rows.Next() {
		st, ok, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, rows.Err()
}

// UpdateStrategy persists the full mutable state of a strategy row. The
// write is guarded by "status = 'running'" on the stored row, so a
// strategy stopped or force-stopped by someone else is never written
// back; a write that itself moves a running row to a terminal status
// still applies, because the stored row is running at that moment.
func (s *SQLiteStore) UpdateStrategy(ctx context.Context, st core.Strategy) error {
	var coinID, orderID, entryPrice, hwm interface{}
	if st.CurrentCoinID != nil {
		coinID = *st.CurrentCoinID
	}
	if st.CurrentOrderID != nil {
		orderID = *st.CurrentOrderID
	}
	if !st.EntryPrice.IsZero() {
		entryPrice = st.EntryPrice.String()
	}
	if !st.HighWaterMark.IsZero() {
		hwm = st.HighWaterMark.String()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET
			status = ?, iterations_completed = ?, current_coin_id = ?,
			entry_price = ?, high_water_mark = ?, current_order_id = ?
		WHERE id = ? AND status = 'running'`,
		string(st.Status), st.IterationsCompleted, coinID, entryPrice, hwm, orderID, st.ID)
	return err
}

func (s *SQLiteStore) AppendStrategyLog(ctx context.Context, l core.StrategyLog) error {
	var profit interface{}
	if l.Profit != nil {
		profit = l.Profit.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_logs (id, strategy_id, action, coin_id, coin_symbol, price, quantity, amount, profit, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), l.StrategyID, string(l.Action), l.CoinID, l.CoinSymbol,
		l.Price, l.Quantity, l.Amount, profit, time.Now().UnixNano())
	return err
}

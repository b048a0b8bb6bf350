// Package sqlite provides a SQLite-backed order store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/orders"
	"wzslicense/internal/storage/sqlite/migrations"
	"wzslicense/pkg/contracts/domain"
)

// Store persists orders and device bindings in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ orders.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite order store and applies embedded migrations.
// Transactions take the write lock up front (_txlock=immediate) so device set
// updates are serialized by SQLite rather than failing on lock upgrade.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Create inserts one pending order.
func (s *Store) Create(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	var licenseKey sql.NullString
	if order.LicenseKey != "" {
		licenseKey = sql.NullString{String: order.LicenseKey, Valid: true}
	}
	var paidAt sql.NullInt64
	if order.PaidAt != nil {
		paidAt = sql.NullInt64{Int64: toMillis(*order.PaidAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO orders (
		   order_no, status, amount, product_id, product_name, user_email,
		   max_devices, license_key, gateway_trade_ref, payment_method,
		   created_at, paid_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.OrderNo,
		string(order.Status),
		order.Amount.StringFixed(domain.MinorUnitExponent),
		order.ProductID,
		order.ProductName,
		order.UserEmail,
		order.MaxDevices,
		licenseKey,
		order.GatewayTradeRef,
		order.PaymentMethod,
		toMillis(createdAt),
		paidAt,
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierrors.NewInvalidStateError(fmt.Sprintf("order %s already exists", order.OrderNo))
		}
		return classify("create order", err)
	}
	return nil
}

const selectOrder = `SELECT order_no, status, amount, product_id, product_name, user_email,
	max_devices, license_key, gateway_trade_ref, payment_method, created_at, paid_at, updated_at
	FROM orders`

// GetByOrderNo returns one order with its device set.
func (s *Store) GetByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	return s.getOrder(ctx, selectOrder+` WHERE order_no = ?`, orderNo, "order "+orderNo)
}

// GetByLicenseKey resolves an order through the license key index.
func (s *Store) GetByLicenseKey(ctx context.Context, licenseKey string) (*domain.Order, error) {
	return s.getOrder(ctx, selectOrder+` WHERE license_key = ?`, licenseKey, "license")
}

func (s *Store) getOrder(ctx context.Context, query, arg, resource string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order, err := scanOrder(s.sqlDB.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFoundError(resource)
		}
		return nil, classify("get order", err)
	}
	devices, err := listDevices(ctx, s.sqlDB, order.OrderNo)
	if err != nil {
		return nil, err
	}
	order.ActivatedDevices = devices
	return order, nil
}

// MarkPaid is a single conditional UPDATE guarded by status = 'pending'.
func (s *Store) MarkPaid(ctx context.Context, orderNo string, update domain.PaymentUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE orders
		    SET status = 'paid',
		        license_key = ?,
		        gateway_trade_ref = ?,
		        payment_method = ?,
		        paid_at = ?,
		        updated_at = ?
		  WHERE order_no = ? AND status = 'pending'`,
		update.LicenseKey,
		update.GatewayTradeRef,
		update.PaymentMethod,
		toMillis(update.PaidAt),
		toMillis(now),
		orderNo,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, apierrors.NewInvalidStateError("license key already assigned")
		}
		return false, classify("mark order paid", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("mark order paid", err)
	}
	return n == 1, nil
}

// AddDevice inserts the binding only while the set is below max_devices.
func (s *Store) AddDevice(ctx context.Context, orderNo, deviceID string) (orders.DeviceSetResult, error) {
	var result orders.DeviceSetResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		limit, err := maxDevices(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		now := toMillis(time.Now())
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO order_devices (order_no, device_id, bound_at)
			 SELECT ?, ?, ?
			  WHERE (SELECT COUNT(*) FROM order_devices WHERE order_no = ?) < ?`,
			orderNo, deviceID, now, orderNo, limit,
		)
		if err != nil {
			return classify("add device", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify("add device", err)
		}
		result, err = deviceState(ctx, tx, orderNo, deviceID, limit)
		if err != nil {
			return err
		}
		result.Changed = n == 1
		if result.Changed {
			return touch(ctx, tx, orderNo, now)
		}
		return nil
	})
	return result, err
}

// RemoveDevice deletes the binding if present. The immediate transaction
// holds the write lock, so the requiredMember check and the delete see the
// same set.
func (s *Store) RemoveDevice(ctx context.Context, orderNo, deviceID, requiredMember string) (orders.DeviceSetResult, error) {
	var result orders.DeviceSetResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		limit, err := maxDevices(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		if requiredMember != "" {
			guard, err := deviceState(ctx, tx, orderNo, requiredMember, limit)
			if err != nil {
				return err
			}
			if !guard.Member {
				result, err = deviceState(ctx, tx, orderNo, deviceID, limit)
				result.Denied = true
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM order_devices WHERE order_no = ? AND device_id = ?`, orderNo, deviceID)
		if err != nil {
			return classify("remove device", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify("remove device", err)
		}
		result, err = deviceState(ctx, tx, orderNo, deviceID, limit)
		if err != nil {
			return err
		}
		result.Changed = n == 1
		if result.Changed {
			return touch(ctx, tx, orderNo, toMillis(time.Now()))
		}
		return nil
	})
	return result, err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func maxDevices(ctx context.Context, q queryer, orderNo string) (int, error) {
	var limit int
	err := q.QueryRowContext(ctx, `SELECT max_devices FROM orders WHERE order_no = ?`, orderNo).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apierrors.NewNotFoundError("order " + orderNo)
	}
	if err != nil {
		return 0, classify("read max devices", err)
	}
	return limit, nil
}

func deviceState(ctx context.Context, q queryer, orderNo, deviceID string, limit int) (orders.DeviceSetResult, error) {
	var count, member int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(device_id = ?), 0) FROM order_devices WHERE order_no = ?`,
		deviceID, orderNo,
	).Scan(&count, &member)
	if err != nil {
		return orders.DeviceSetResult{}, classify("count devices", err)
	}
	return orders.DeviceSetResult{Member: member > 0, Count: count, Limit: limit}, nil
}

func touch(ctx context.Context, tx *sql.Tx, orderNo string, at int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET updated_at = ? WHERE order_no = ?`, at, orderNo); err != nil {
		return classify("touch order", err)
	}
	return nil
}

func listDevices(ctx context.Context, q queryer, orderNo string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT device_id FROM order_devices WHERE order_no = ? ORDER BY bound_at, rowid`, orderNo)
	if err != nil {
		return nil, classify("list devices", err)
	}
	defer rows.Close()

	devices := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan device", err)
		}
		devices = append(devices, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list devices", err)
	}
	return devices, nil
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var (
		o          domain.Order
		status     string
		amount     string
		licenseKey sql.NullString
		createdAt  int64
		paidAt     sql.NullInt64
		updatedAt  int64
	)
	if err := row.Scan(
		&o.OrderNo, &status, &amount, &o.ProductID, &o.ProductName, &o.UserEmail,
		&o.MaxDevices, &licenseKey, &o.GatewayTradeRef, &o.PaymentMethod,
		&createdAt, &paidAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	o.Status = domain.OrderStatus(status)
	o.Amount = dec
	o.LicenseKey = licenseKey.String
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	if paidAt.Valid {
		t := fromMillis(paidAt.Int64)
		o.PaidAt = &t
	}
	return &o, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// classify marks lock contention and deadline errors as transient.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewTransientError(op+" timed out", err)
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return apierrors.NewTransientError(op+": database busy", err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

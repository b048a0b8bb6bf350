// Package postgres provides a Postgres order store built on GORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/orders"
	"wzslicense/internal/storage/postgres/migrations"
	"wzslicense/pkg/contracts/domain"
)

// Store persists orders in Postgres
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ orders.Store = (*Store)(nil)

// Connect opens a pooled connection, pings it and applies migrations
func Connect(ctx context.Context, dsn string, maxConns int, logger *slog.Logger) (*Store, error) {
	logger = logger.With(slog.String("component", "postgres_store"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.runMigrations(ctx, dsn); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.InfoContext(ctx, "postgres store ready")
	return s, nil
}

// runMigrations applies the embedded migrations through golang-migrate's pgx
// driver on a short-lived connection of its own. The driver executes each file
// unprepared, so one file may hold several statements, and it holds an
// advisory lock so instances starting together do not race.
func (s *Store) runMigrations(ctx context.Context, dsn string) (err error) {
	migDB, err := sql.Open("pgx/v5", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = migDB.Close()
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepgx.WithInstance(migDB, &migratepgx.Config{})
	if err != nil {
		_ = migDB.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		// closes the driver and migDB
		if _, dbErr := m.Close(); err == nil && dbErr != nil {
			err = fmt.Errorf("close migrator: %w", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if version, dirty, verr := m.Version(); verr == nil {
		s.logger.DebugContext(ctx, "migrations applied",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty))
	}
	return nil
}

// Create inserts one pending order
func (s *Store) Create(ctx context.Context, order *domain.Order) error {
	m := toOrderModel(order)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apierrors.NewInvalidStateError(fmt.Sprintf("order %s already exists", order.OrderNo))
		}
		return classify("create order", err)
	}
	return nil
}

// GetByOrderNo returns one order with its device set
func (s *Store) GetByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	return s.getOrder(ctx, "order_no = ?", orderNo, "order "+orderNo)
}

// GetByLicenseKey resolves an order through the license key index
func (s *Store) GetByLicenseKey(ctx context.Context, licenseKey string) (*domain.Order, error) {
	return s.getOrder(ctx, "license_key = ?", licenseKey, "license")
}

func (s *Store) getOrder(ctx context.Context, where string, arg, resource string) (*domain.Order, error) {
	var m orderModel
	if err := s.db.WithContext(ctx).Where(where, arg).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.NewNotFoundError(resource)
		}
		return nil, classify("get order", err)
	}
	devices, err := listDevices(ctx, s.db, m.OrderNo)
	if err != nil {
		return nil, err
	}
	return m.toDomain(devices), nil
}

// MarkPaid is a single UPDATE guarded by status = 'pending'
func (s *Store) MarkPaid(ctx context.Context, orderNo string, update domain.PaymentUpdate) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&orderModel{}).
		Where("order_no = ? AND status = ?", orderNo, string(domain.OrderStatusPending)).
		Updates(map[string]any{
			"status":            string(domain.OrderStatusPaid),
			"license_key":       update.LicenseKey,
			"gateway_trade_ref": update.GatewayTradeRef,
			"payment_method":    update.PaymentMethod,
			"paid_at":           update.PaidAt.UTC(),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, apierrors.NewInvalidStateError("license key already assigned")
		}
		return false, classify("mark order paid", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AddDevice locks the order row, then inserts the binding if there is room
func (s *Store) AddDevice(ctx context.Context, orderNo, deviceID string) (orders.DeviceSetResult, error) {
	var result orders.DeviceSetResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		limit, err := lockOrder(tx, orderNo)
		if err != nil {
			return err
		}
		devices, err := listDevices(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		result = orders.DeviceSetResult{Limit: limit, Count: len(devices)}
		for _, d := range devices {
			if d == deviceID {
				result.Member = true
				return nil
			}
		}
		if len(devices) >= limit {
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Create(&orderDeviceModel{OrderNo: orderNo, DeviceID: deviceID, BoundAt: now}).Error; err != nil {
			return classify("add device", err)
		}
		if err := tx.Model(&orderModel{}).Where("order_no = ?", orderNo).Update("updated_at", now).Error; err != nil {
			return classify("touch order", err)
		}
		result.Changed = true
		result.Member = true
		result.Count++
		return nil
	})
	return result, err
}

// RemoveDevice locks the order row and deletes the binding if present. The
// row lock also covers the requiredMember check.
func (s *Store) RemoveDevice(ctx context.Context, orderNo, deviceID, requiredMember string) (orders.DeviceSetResult, error) {
	var result orders.DeviceSetResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		limit, err := lockOrder(tx, orderNo)
		if err != nil {
			return err
		}
		if requiredMember != "" {
			devices, err := listDevices(ctx, tx, orderNo)
			if err != nil {
				return err
			}
			if !slices.Contains(devices, requiredMember) {
				result = orders.DeviceSetResult{
					Denied: true,
					Member: slices.Contains(devices, deviceID),
					Count:  len(devices),
					Limit:  limit,
				}
				return nil
			}
		}
		res := tx.Where("order_no = ? AND device_id = ?", orderNo, deviceID).Delete(&orderDeviceModel{})
		if res.Error != nil {
			return classify("remove device", res.Error)
		}
		if res.RowsAffected == 1 {
			if err := tx.Model(&orderModel{}).Where("order_no = ?", orderNo).Update("updated_at", time.Now().UTC()).Error; err != nil {
				return classify("touch order", err)
			}
		}
		var count int64
		if err := tx.Model(&orderDeviceModel{}).Where("order_no = ?", orderNo).Count(&count).Error; err != nil {
			return classify("count devices", err)
		}
		result = orders.DeviceSetResult{Changed: res.RowsAffected == 1, Count: int(count), Limit: limit}
		return nil
	})
	return result, err
}

// Ping checks the pool can reach the server
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// lockOrder takes a row lock on the order for the rest of the transaction
func lockOrder(tx *gorm.DB, orderNo string) (int, error) {
	var m orderModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("order_no", "max_devices").
		Where("order_no = ?", orderNo).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apierrors.NewNotFoundError("order " + orderNo)
	}
	if err != nil {
		return 0, classify("lock order", err)
	}
	return m.MaxDevices, nil
}

func listDevices(ctx context.Context, db *gorm.DB, orderNo string) ([]string, error) {
	devices := []string{}
	err := db.WithContext(ctx).
		Model(&orderDeviceModel{}).
		Where("order_no = ?", orderNo).
		Order("bound_at, device_id").
		Pluck("device_id", &devices).Error
	if err != nil {
		return nil, classify("list devices", err)
	}
	return devices, nil
}

// Postgres error codes worth retrying
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement timeout)
	"53300": true, // too_many_connections
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewTransientError(op+" timed out", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientCodes[pgErr.Code] {
		return apierrors.NewTransientError(op+": "+pgErr.Message, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

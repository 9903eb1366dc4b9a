package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-orders/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// UnitOfWork is one database transaction. Every store method that must
// participate in an atomic scope takes it as a required argument, so calling
// such a method outside a transaction is a compile error rather than a latent
// partial-commit bug.
type UnitOfWork struct {
	tx *sqlx.Tx
}

// WithinTx runs fn inside one transaction. A non-nil error from fn aborts the
// whole scope; nothing fn wrote is visible until commit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &UnitOfWork{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// GetVariantForUpdate loads a variant with a row lock held until commit.
func (s *Store) GetVariantForUpdate(ctx context.Context, uow *UnitOfWork, id int64) (*models.Variant, error) {
	var v models.Variant
	err := uow.tx.GetContext(ctx, &v, "SELECT * FROM variants WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveVariantStock persists a variant's stock count and derived status.
func (s *Store) SaveVariantStock(ctx context.Context, uow *UnitOfWork, v *models.Variant) error {
	_, err := uow.tx.ExecContext(ctx,
		"UPDATE variants SET stock = $1, status = $2, updated_at = NOW() WHERE id = $3",
		v.Stock, v.Status, v.ID)
	return err
}

// StockReturn is one variant's share of a batched rollback.
type StockReturn struct {
	VariantID int64
	Quantity  int
}

// AddVariantStockBatch returns stock to many variants in a single statement,
// reviving out_of_stock variants whose count recovers. returns must carry at
// most one row per variant: UPDATE ... FROM joins at most one source row per
// target row, so a duplicate would be silently dropped and then tripped up by
// the row-count guard.
func (s *Store) AddVariantStockBatch(ctx context.Context, uow *UnitOfWork, returns []StockReturn) error {
	if len(returns) == 0 {
		return nil
	}

	ids := make([]int64, len(returns))
	qtys := make([]int64, len(returns))
	for i, r := range returns {
		ids[i] = r.VariantID
		qtys[i] = int64(r.Quantity)
	}

	query := `
		UPDATE variants AS v
		SET stock = v.stock + r.qty,
		    status = CASE
		        WHEN v.status = 'out_of_stock' AND v.stock + r.qty > 0 THEN 'active'
		        ELSE v.status
		    END,
		    updated_at = NOW()
		FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::bigint[]) AS qty) AS r
		WHERE v.id = r.id`

	res, err := uow.tx.ExecContext(ctx, query, pq.Array(ids), pq.Array(qtys))
	if err != nil {
		return fmt.Errorf("failed to batch-return variant stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(returns)) {
		return fmt.Errorf("variant stock batch touched %d of %d rows: %w", affected, len(returns), models.ErrNotFound)
	}
	return nil
}

// GetVariantByID retrieves a variant outside any transaction.
func (s *Store) GetVariantByID(ctx context.Context, id int64) (*models.Variant, error) {
	var v models.Variant
	err := s.db.GetContext(ctx, &v, "SELECT * FROM variants WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetCourseForUpdate loads a course with a row lock held until commit.
func (s *Store) GetCourseForUpdate(ctx context.Context, uow *UnitOfWork, id int64) (*models.Course, error) {
	var c models.Course
	err := uow.tx.GetContext(ctx, &c, "SELECT * FROM courses WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("course %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveCourseSlots persists a course's slot count.
func (s *Store) SaveCourseSlots(ctx context.Context, uow *UnitOfWork, c *models.Course) error {
	_, err := uow.tx.ExecContext(ctx,
		"UPDATE courses SET available_slot = $1, updated_at = NOW() WHERE id = $2",
		c.AvailableSlot, c.ID)
	return err
}

// GetEventForUpdate loads an event and all of its seat zones, locking the
// zone rows until commit.
func (s *Store) GetEventForUpdate(ctx context.Context, uow *UnitOfWork, id int64) (*models.Event, error) {
	var e models.Event
	err := uow.tx.GetContext(ctx, &e, "SELECT id, name FROM events WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = uow.tx.SelectContext(ctx, &e.Zones,
		"SELECT * FROM seat_zones WHERE event_id = $1 ORDER BY id FOR UPDATE", id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveSeatZone persists one seat zone's seat count.
func (s *Store) SaveSeatZone(ctx context.Context, uow *UnitOfWork, z *models.SeatZone) error {
	_, err := uow.tx.ExecContext(ctx,
		"UPDATE seat_zones SET number_of_seat = $1, updated_at = NOW() WHERE id = $2",
		z.NumberOfSeat, z.ID)
	return err
}

// GetAdsPackage reads an ads package catalog entry inside the caller's scope.
func (s *Store) GetAdsPackage(ctx context.Context, uow *UnitOfWork, id int64) (*models.AdsPackage, error) {
	var p models.AdsPackage
	err := uow.tx.GetContext(ctx, &p, "SELECT * FROM ads_packages WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ads package %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-orders/internal/models"
)

// GetOwnPackagesByOrderID returns every own-package row minted from an order,
// inside the caller's transaction. Used as the issuance replay guard.
func (s *Store) GetOwnPackagesByOrderID(ctx context.Context, uow *UnitOfWork, orderID int64) ([]models.OwnPackage, error) {
	var pkgs []models.OwnPackage
	err := uow.tx.SelectContext(ctx, &pkgs,
		"SELECT * FROM own_packages WHERE order_id = $1 ORDER BY item_index, seq", orderID)
	return pkgs, err
}

// InsertOwnPackages persists a batch of own-package rows. The table's unique
// (order_id, item_index, seq) key rejects a concurrent duplicate issuance.
func (s *Store) InsertOwnPackages(ctx context.Context, uow *UnitOfWork, pkgs []models.OwnPackage) error {
	query := `
		INSERT INTO own_packages
			(user_id, package_id, order_id, item_index, seq, type, status, expiry_date, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	for i := range pkgs {
		p := &pkgs[i]
		err := uow.tx.QueryRowxContext(ctx, query,
			p.UserID, p.PackageID, p.OrderID, p.ItemIndex, p.Seq,
			p.Type, p.Status, p.ExpiryDate, p.PurchasedAt,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert own package (order %d, item %d, seq %d): %w",
				p.OrderID, p.ItemIndex, p.Seq, err)
		}
	}
	return nil
}

// GetOwnPackageForUpdate loads an own package with a row lock held until
// commit.
func (s *Store) GetOwnPackageForUpdate(ctx context.Context, uow *UnitOfWork, id int64) (*models.OwnPackage, error) {
	var p models.OwnPackage
	err := uow.tx.GetContext(ctx, &p, "SELECT * FROM own_packages WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("own package %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveOwnPackageUse persists a redemption.
func (s *Store) SaveOwnPackageUse(ctx context.Context, uow *UnitOfWork, p *models.OwnPackage) error {
	_, err := uow.tx.ExecContext(ctx,
		"UPDATE own_packages SET status = $1, used_at = $2, ref_id = $3 WHERE id = $4",
		p.Status, p.UsedAt, p.RefID, p.ID)
	return err
}

// ExpireOverduePackages flips every active package past its expiry to expired
// in one statement and reports how many rows changed. Re-running immediately
// finds nothing left to update.
func (s *Store) ExpireOverduePackages(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE own_packages SET status = $1 WHERE status = $2 AND expiry_date < $3",
		models.PackageStatusExpired, models.PackageStatusActive, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOwnPackageByID retrieves an own package outside any transaction.
func (s *Store) GetOwnPackageByID(ctx context.Context, id int64) (*models.OwnPackage, error) {
	var p models.OwnPackage
	err := s.db.GetContext(ctx, &p, "SELECT * FROM own_packages WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("own package %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOwnPackagesByUserID retrieves a user's packages, newest first.
func (s *Store) GetOwnPackagesByUserID(ctx context.Context, userID int64) ([]models.OwnPackage, error) {
	var pkgs []models.OwnPackage
	err := s.db.SelectContext(ctx, &pkgs,
		"SELECT * FROM own_packages WHERE user_id = $1 ORDER BY purchased_at DESC", userID)
	return pkgs, err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PackageStore is the own-package persistence surface.
type PackageStore interface {
	GetOwnPackagesByOrderID(ctx context.Context, uow *store.UnitOfWork, orderID int64) ([]models.OwnPackage, error)
	InsertOwnPackages(ctx context.Context, uow *store.UnitOfWork, pkgs []models.OwnPackage) error
	GetOwnPackageForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.OwnPackage, error)
	SaveOwnPackageUse(ctx context.Context, uow *store.UnitOfWork, p *models.OwnPackage) error
	ExpireOverduePackages(ctx context.Context, now time.Time) (int64, error)
	GetOwnPackageByID(ctx context.Context, id int64) (*models.OwnPackage, error)
	GetOwnPackagesByUserID(ctx context.Context, userID int64) ([]models.OwnPackage, error)
}

// CatalogStore reads ads package catalog entries.
type CatalogStore interface {
	GetAdsPackage(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.AdsPackage, error)
}

// OwnPackageService converts paid ads_package orders into owned package
// records and manages their redemption and expiry.
type OwnPackageService struct {
	tx       TxRunner
	orders   OrderStore
	packages PackageStore
	catalog  CatalogStore
	events   EventSink
	logger   *zap.Logger
	now      func() time.Time
}

// NewOwnPackageService wires the issuance service.
func NewOwnPackageService(
	tx TxRunner,
	orders OrderStore,
	packages PackageStore,
	catalog CatalogStore,
	events EventSink,
) *OwnPackageService {
	return &OwnPackageService{
		tx:       tx,
		orders:   orders,
		packages: packages,
		catalog:  catalog,
		events:   events,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// CreateFromOrder mints one own-package row per unit of quantity on every
// line item of an ads_package order, all inside one transaction. Replays are
// safe: if rows for the order already exist they are returned unchanged, and
// the unique (order_id, item_index, seq) key stops a concurrent duplicate. A
// line item whose catalog entry has been removed is logged and skipped rather
// than failing the batch; the remaining items still issue.
func (s *OwnPackageService) CreateFromOrder(ctx context.Context, orderID int64) ([]models.OwnPackage, error) {
	ctx, span := util.StartSpan(ctx, "OwnPackageService.CreateFromOrder")
	defer span.End()

	var (
		created []models.OwnPackage
		userID  int64
		replay  bool
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow *store.UnitOfWork) error {
		order, err := s.orders.GetOrderForUpdate(ctx, uow, orderID)
		if err != nil {
			return err
		}
		if order.OrderType != models.OrderTypeAdsPackage {
			return fmt.Errorf("order %d has type %s: %w", orderID, order.OrderType, models.ErrInvalidOrderType)
		}
		userID = order.UserID

		existing, err := s.packages.GetOwnPackagesByOrderID(ctx, uow, orderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			created = existing
			replay = true
			return nil
		}

		now := s.now()
		batch := make([]models.OwnPackage, 0, len(order.Items))
		for _, item := range order.Items {
			catalog, err := s.catalog.GetAdsPackage(ctx, uow, item.RefID)
			if errors.Is(err, models.ErrNotFound) {
				s.logger.Warn("Ads package missing from catalog, skipping item",
					zap.Int64("order_id", orderID),
					zap.Int("item_index", item.ItemIndex),
					zap.Int64("package_id", item.RefID))
				continue
			}
			if err != nil {
				return err
			}

			expiry := now.AddDate(0, 0, catalog.DurationDays)
			for seq := 0; seq < item.Quantity; seq++ {
				batch = append(batch, models.OwnPackage{
					UserID:      order.UserID,
					PackageID:   catalog.ID,
					OrderID:     orderID,
					ItemIndex:   item.ItemIndex,
					Seq:         seq,
					Type:        catalog.Type,
					Status:      models.PackageStatusActive,
					ExpiryDate:  expiry,
					PurchasedAt: now,
				})
			}
		}

		if err := s.packages.InsertOwnPackages(ctx, uow, batch); err != nil {
			return err
		}
		created = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replay {
		s.logger.Info("Packages already issued for order, returning existing",
			zap.Int64("order_id", orderID),
			zap.Int("count", len(created)))
		return created, nil
	}

	util.PackagesIssuedTotal.Add(float64(len(created)))
	s.logger.Info("Packages issued",
		zap.Int64("order_id", orderID),
		zap.Int("count", len(created)))
	s.publishIssued(ctx, orderID, userID, len(created))

	return created, nil
}

// UsePackage redeems an active, unexpired package against refID exactly once.
func (s *OwnPackageService) UsePackage(ctx context.Context, packageID, refID int64) (*models.OwnPackage, error) {
	ctx, span := util.StartSpan(ctx, "OwnPackageService.UsePackage")
	defer span.End()

	var used *models.OwnPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow *store.UnitOfWork) error {
		pkg, err := s.packages.GetOwnPackageForUpdate(ctx, uow, packageID)
		if err != nil {
			return err
		}
		if err := pkg.Use(refID, s.now()); err != nil {
			return err
		}
		if err := s.packages.SaveOwnPackageUse(ctx, uow, pkg); err != nil {
			return err
		}
		used = pkg
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PackagesUsedTotal.Inc()
	s.logger.Info("Package used",
		zap.Int64("package_id", packageID),
		zap.Int64("ref_id", refID))
	return used, nil
}

// GetPackage retrieves an own package by ID.
func (s *OwnPackageService) GetPackage(ctx context.Context, packageID int64) (*models.OwnPackage, error) {
	return s.packages.GetOwnPackageByID(ctx, packageID)
}

// ListUserPackages retrieves a user's packages, newest first.
func (s *OwnPackageService) ListUserPackages(ctx context.Context, userID int64) ([]models.OwnPackage, error) {
	return s.packages.GetOwnPackagesByUserID(ctx, userID)
}

// ProcessExpiredPackages sweeps active packages past their expiry date into
// expired state and returns how many were flipped. Safe to run on any
// schedule.
func (s *OwnPackageService) ProcessExpiredPackages(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "OwnPackageService.ProcessExpiredPackages")
	defer span.End()

	count, err := s.packages.ExpireOverduePackages(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire packages: %w", err)
	}

	if count > 0 {
		util.PackagesExpiredTotal.Add(float64(count))
		s.logger.Info("Expired packages processed", zap.Int64("count", count))
	}
	return count, nil
}

func (s *OwnPackageService) publishIssued(ctx context.Context, orderID, userID int64, count int) {
	if s.events == nil {
		return
	}

	event := &models.PackagesIssuedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePackagesIssued,
			Timestamp: time.Now(),
		},
		OrderID: orderID,
		UserID:  userID,
		Count:   count,
	}
	if err := s.events.PublishPackagesIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish PackagesIssued event", zap.Error(err))
	}
}

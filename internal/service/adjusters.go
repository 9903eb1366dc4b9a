package service

import (
	"context"
	"fmt"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
)

// InventoryStore is the persistence surface the adjusters need. *store.Store
// satisfies it; tests substitute an in-memory fake.
type InventoryStore interface {
	GetVariantForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Variant, error)
	SaveVariantStock(ctx context.Context, uow *store.UnitOfWork, v *models.Variant) error
	AddVariantStockBatch(ctx context.Context, uow *store.UnitOfWork, returns []store.StockReturn) error
	GetCourseForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Course, error)
	SaveCourseSlots(ctx context.Context, uow *store.UnitOfWork, c *models.Course) error
	GetEventForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Event, error)
	SaveSeatZone(ctx context.Context, uow *store.UnitOfWork, z *models.SeatZone) error
}

// InventoryAdjuster mutates one inventory kind's available quantity. Negative
// delta consumes (order creation), positive delta releases (rollback). Every
// read and write happens inside the caller's unit of work.
type InventoryAdjuster interface {
	Adjust(ctx context.Context, uow *store.UnitOfWork, item models.OrderItem, delta int) error
}

// VariantAdjuster adjusts product variant stock.
type VariantAdjuster struct {
	inv InventoryStore
}

func NewVariantAdjuster(inv InventoryStore) *VariantAdjuster {
	return &VariantAdjuster{inv: inv}
}

func (a *VariantAdjuster) Adjust(ctx context.Context, uow *store.UnitOfWork, item models.OrderItem, delta int) error {
	if item.VariantID == nil {
		return fmt.Errorf("product item %d has no variant_id: %w", item.ItemIndex, models.ErrValidation)
	}

	variant, err := a.inv.GetVariantForUpdate(ctx, uow, *item.VariantID)
	if err != nil {
		return err
	}
	if err := variant.ApplyStockDelta(delta); err != nil {
		return err
	}
	return a.inv.SaveVariantStock(ctx, uow, variant)
}

// ReleaseBatch returns stock for all items of a cancelled product order in one
// multi-row update. Quantities are summed per variant first: the batched
// statement applies at most one source row per variant row, so two line items
// for the same variant must collapse into one return. Releases only add stock,
// so no availability check is needed.
func (a *VariantAdjuster) ReleaseBatch(ctx context.Context, uow *store.UnitOfWork, items []models.OrderItem) error {
	totals := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, item := range items {
		if item.VariantID == nil {
			return fmt.Errorf("product item %d has no variant_id: %w", item.ItemIndex, models.ErrValidation)
		}
		if _, seen := totals[*item.VariantID]; !seen {
			order = append(order, *item.VariantID)
		}
		totals[*item.VariantID] += item.Quantity
	}

	returns := make([]store.StockReturn, 0, len(order))
	for _, id := range order {
		returns = append(returns, store.StockReturn{VariantID: id, Quantity: totals[id]})
	}
	return a.inv.AddVariantStockBatch(ctx, uow, returns)
}

// CourseAdjuster adjusts course slot counts.
type CourseAdjuster struct {
	inv InventoryStore
}

func NewCourseAdjuster(inv InventoryStore) *CourseAdjuster {
	return &CourseAdjuster{inv: inv}
}

func (a *CourseAdjuster) Adjust(ctx context.Context, uow *store.UnitOfWork, item models.OrderItem, delta int) error {
	course, err := a.inv.GetCourseForUpdate(ctx, uow, item.RefID)
	if err != nil {
		return err
	}
	if err := course.ApplySlotDelta(delta); err != nil {
		return err
	}
	return a.inv.SaveCourseSlots(ctx, uow, course)
}

// SeatZoneAdjuster adjusts seat counts of an event's zones.
type SeatZoneAdjuster struct {
	inv InventoryStore
}

func NewSeatZoneAdjuster(inv InventoryStore) *SeatZoneAdjuster {
	return &SeatZoneAdjuster{inv: inv}
}

func (a *SeatZoneAdjuster) Adjust(ctx context.Context, uow *store.UnitOfWork, item models.OrderItem, delta int) error {
	if item.SeatZoneID == nil {
		return fmt.Errorf("ticket item %d has no seat_zone_id: %w", item.ItemIndex, models.ErrValidation)
	}

	event, err := a.inv.GetEventForUpdate(ctx, uow, item.RefID)
	if err != nil {
		return err
	}
	zone, err := event.ApplySeatDelta(*item.SeatZoneID, delta)
	if err != nil {
		return err
	}
	return a.inv.SaveSeatZone(ctx, uow, zone)
}

// AdsPackageAdjuster is a no-op: the catalog entry carries no counter to
// decrement. It exists so every order type dispatches uniformly.
type AdsPackageAdjuster struct{}

func NewAdsPackageAdjuster() *AdsPackageAdjuster {
	return &AdsPackageAdjuster{}
}

func (a *AdsPackageAdjuster) Adjust(ctx context.Context, uow *store.UnitOfWork, item models.OrderItem, delta int) error {
	return nil
}

// AdjusterSet holds one adjuster per order type, wired explicitly at startup.
type AdjusterSet struct {
	Variant    *VariantAdjuster
	Course     *CourseAdjuster
	SeatZone   *SeatZoneAdjuster
	AdsPackage *AdsPackageAdjuster
}

// NewAdjusterSet builds the full set over one inventory store.
func NewAdjusterSet(inv InventoryStore) *AdjusterSet {
	return &AdjusterSet{
		Variant:    NewVariantAdjuster(inv),
		Course:     NewCourseAdjuster(inv),
		SeatZone:   NewSeatZoneAdjuster(inv),
		AdsPackage: NewAdsPackageAdjuster(),
	}
}

// ForType returns the adjuster handling the given order type.
func (s *AdjusterSet) ForType(t models.OrderType) (InventoryAdjuster, bool) {
	switch t {
	case models.OrderTypeProduct:
		return s.Variant, true
	case models.OrderTypeCourse:
		return s.Course, true
	case models.OrderTypeTicket:
		return s.SeatZone, true
	case models.OrderTypeAdsPackage:
		return s.AdsPackage, true
	}
	return nil, false
}

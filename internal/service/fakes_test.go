package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
)

// fakeStore is an in-memory stand-in for *store.Store. Reads hand out copies
// so nothing is visible until the matching Save call.
type fakeStore struct {
	variants    map[int64]*models.Variant
	courses     map[int64]*models.Course
	events      map[int64]*models.Event
	adsPackages map[int64]*models.AdsPackage
	orders      map[int64]*models.Order
	ownPackages []models.OwnPackage
	nextID      int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		variants:    map[int64]*models.Variant{},
		courses:     map[int64]*models.Course{},
		events:      map[int64]*models.Event{},
		adsPackages: map[int64]*models.AdsPackage{},
		orders:      map[int64]*models.Order{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) clone() *fakeStore {
	c := newFakeStore()
	c.nextID = f.nextID
	for k, v := range f.variants {
		cp := *v
		c.variants[k] = &cp
	}
	for k, v := range f.courses {
		cp := *v
		c.courses[k] = &cp
	}
	for k, v := range f.events {
		cp := *v
		cp.Zones = append([]models.SeatZone(nil), v.Zones...)
		c.events[k] = &cp
	}
	for k, v := range f.adsPackages {
		cp := *v
		c.adsPackages[k] = &cp
	}
	for k, v := range f.orders {
		cp := *v
		cp.Items = append([]models.OrderItem(nil), v.Items...)
		c.orders[k] = &cp
	}
	c.ownPackages = append([]models.OwnPackage(nil), f.ownPackages...)
	return c
}

// fakeCache is an in-memory Cache.
type fakeCache struct {
	orderIDs map[string]int64
	stock    map[int64]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		orderIDs: map[string]int64{},
		stock:    map[int64]int{},
	}
}

func (c *fakeCache) GetOrderID(ctx context.Context, key string) (int64, bool, error) {
	id, ok := c.orderIDs[key]
	return id, ok, nil
}

func (c *fakeCache) RememberOrderID(ctx context.Context, key string, orderID int64) error {
	c.orderIDs[key] = orderID
	return nil
}

func (c *fakeCache) GetCachedVariantStock(ctx context.Context, variantID int64) (int, bool, error) {
	s, ok := c.stock[variantID]
	return s, ok, nil
}

func (c *fakeCache) CacheVariantStock(ctx context.Context, variantID int64, stock int, ttl time.Duration) error {
	c.stock[variantID] = stock
	return nil
}

func (c *fakeCache) InvalidateVariantStock(ctx context.Context, variantID int64) error {
	delete(c.stock, variantID)
	return nil
}

// fakeTxRunner mimics transaction semantics by snapshotting the store before
// fn and restoring the snapshot when fn fails.
type fakeTxRunner struct {
	s *fakeStore
}

func (t *fakeTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, uow *store.UnitOfWork) error) error {
	snap := t.s.clone()
	if err := fn(ctx, &store.UnitOfWork{}); err != nil {
		*t.s = *snap
		return err
	}
	return nil
}

// InventoryStore

func (f *fakeStore) GetVariantForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Variant, error) {
	v, ok := f.variants[id]
	if !ok {
		return nil, fmt.Errorf("variant %d: %w", id, models.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) SaveVariantStock(ctx context.Context, uow *store.UnitOfWork, v *models.Variant) error {
	cp := *v
	f.variants[v.ID] = &cp
	return nil
}

// AddVariantStockBatch mirrors the real statement's join semantics: at most
// one source row applies per variant row, and the affected count is checked
// against the batch length, so duplicate variant ids in one batch fail here
// exactly as they would against Postgres.
func (f *fakeStore) AddVariantStockBatch(ctx context.Context, uow *store.UnitOfWork, returns []store.StockReturn) error {
	applied := make(map[int64]bool, len(returns))
	affected := 0
	for _, r := range returns {
		if applied[r.VariantID] {
			continue
		}
		applied[r.VariantID] = true

		v, ok := f.variants[r.VariantID]
		if !ok {
			continue
		}
		v.Stock += r.Quantity
		if v.Status == models.VariantStatusOutOfStock && v.Stock > 0 {
			v.Status = models.VariantStatusActive
		}
		affected++
	}
	if affected != len(returns) {
		return fmt.Errorf("variant stock batch touched %d of %d rows: %w", affected, len(returns), models.ErrNotFound)
	}
	return nil
}

func (f *fakeStore) GetCourseForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %d: %w", id, models.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) SaveCourseSlots(ctx context.Context, uow *store.UnitOfWork, c *models.Course) error {
	cp := *c
	f.courses[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetEventForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	cp := *e
	cp.Zones = append([]models.SeatZone(nil), e.Zones...)
	return &cp, nil
}

func (f *fakeStore) SaveSeatZone(ctx context.Context, uow *store.UnitOfWork, z *models.SeatZone) error {
	e, ok := f.events[z.EventID]
	if !ok {
		return fmt.Errorf("event %d: %w", z.EventID, models.ErrNotFound)
	}
	for i := range e.Zones {
		if e.Zones[i].ID == z.ID {
			e.Zones[i] = *z
			return nil
		}
	}
	return fmt.Errorf("seat zone %d: %w", z.ID, models.ErrNotFound)
}

// VariantReader

func (f *fakeStore) GetVariantByID(ctx context.Context, id int64) (*models.Variant, error) {
	v, ok := f.variants[id]
	if !ok {
		return nil, fmt.Errorf("variant %d: %w", id, models.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

// CatalogStore

func (f *fakeStore) GetAdsPackage(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.AdsPackage, error) {
	p, ok := f.adsPackages[id]
	if !ok {
		return nil, fmt.Errorf("ads package %d: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// OrderStore

func (f *fakeStore) InsertOrder(ctx context.Context, uow *store.UnitOfWork, order *models.Order) error {
	order.ID = f.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	cp.Items = nil
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeStore) InsertOrderItems(ctx context.Context, uow *store.UnitOfWork, orderID int64, items []models.OrderItem) error {
	stored, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	for i := range items {
		items[i].ID = f.id()
		items[i].OrderID = orderID
		items[i].ItemIndex = i
	}
	stored.Items = append([]models.OrderItem(nil), items...)
	return nil
}

func (f *fakeStore) GetOrderForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Order, error) {
	return f.getOrder(id)
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, uow *store.UnitOfWork, orderID int64, status models.OrderStatus) error {
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	o.Status = status
	return nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return f.getOrder(id)
}

func (f *fakeStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	for _, o := range f.orders {
		if o.IdempotencyKey == key {
			return f.getOrder(o.ID)
		}
	}
	return nil, nil
}

func (f *fakeStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			cp, _ := f.getOrder(o.ID)
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (f *fakeStore) getOrder(id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp, nil
}

// PackageStore

func (f *fakeStore) GetOwnPackagesByOrderID(ctx context.Context, uow *store.UnitOfWork, orderID int64) ([]models.OwnPackage, error) {
	var out []models.OwnPackage
	for _, p := range f.ownPackages {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertOwnPackages(ctx context.Context, uow *store.UnitOfWork, pkgs []models.OwnPackage) error {
	for i := range pkgs {
		pkgs[i].ID = f.id()
		f.ownPackages = append(f.ownPackages, pkgs[i])
	}
	return nil
}

func (f *fakeStore) GetOwnPackageForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.OwnPackage, error) {
	for _, p := range f.ownPackages {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("own package %d: %w", id, models.ErrNotFound)
}

func (f *fakeStore) SaveOwnPackageUse(ctx context.Context, uow *store.UnitOfWork, p *models.OwnPackage) error {
	for i := range f.ownPackages {
		if f.ownPackages[i].ID == p.ID {
			f.ownPackages[i] = *p
			return nil
		}
	}
	return fmt.Errorf("own package %d: %w", p.ID, models.ErrNotFound)
}

func (f *fakeStore) GetOwnPackageByID(ctx context.Context, id int64) (*models.OwnPackage, error) {
	for _, p := range f.ownPackages {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("own package %d: %w", id, models.ErrNotFound)
}

func (f *fakeStore) GetOwnPackagesByUserID(ctx context.Context, userID int64) ([]models.OwnPackage, error) {
	var out []models.OwnPackage
	for _, p := range f.ownPackages {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ExpireOverduePackages(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for i := range f.ownPackages {
		p := &f.ownPackages[i]
		if p.Status == models.PackageStatusActive && p.ExpiryDate.Before(now) {
			p.Status = models.PackageStatusExpired
			count++
		}
	}
	return count, nil
}

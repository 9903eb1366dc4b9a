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

// TxRunner opens one atomic transaction scope and runs fn inside it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow *store.UnitOfWork) error) error
}

// OrderStore is the order persistence surface used by the coordinator and the
// own-package service.
type OrderStore interface {
	InsertOrder(ctx context.Context, uow *store.UnitOfWork, order *models.Order) error
	InsertOrderItems(ctx context.Context, uow *store.UnitOfWork, orderID int64, items []models.OrderItem) error
	GetOrderForUpdate(ctx context.Context, uow *store.UnitOfWork, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, uow *store.UnitOfWork, orderID int64, status models.OrderStatus) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
}

// EventSink publishes order lifecycle events. Publishing is best-effort:
// failures are logged, never allowed to undo a committed transaction.
type EventSink interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPackagesIssued(ctx context.Context, event *models.PackagesIssuedEvent) error
}

// Cache is the Redis fast path. It never carries authoritative state: the
// database unique column stays authoritative for idempotency keys, and stock
// snapshots are re-read from the database on a miss.
type Cache interface {
	GetOrderID(ctx context.Context, key string) (int64, bool, error)
	RememberOrderID(ctx context.Context, key string, orderID int64) error
	GetCachedVariantStock(ctx context.Context, variantID int64) (int, bool, error)
	CacheVariantStock(ctx context.Context, variantID int64, stock int, ttl time.Duration) error
	InvalidateVariantStock(ctx context.Context, variantID int64) error
}

// VariantReader reads variants outside any transaction, for query endpoints.
type VariantReader interface {
	GetVariantByID(ctx context.Context, id int64) (*models.Variant, error)
}

const stockCacheTTL = 30 * time.Second

// Coordinator orchestrates order creation and status transitions. Both run
// inside a single transaction so a mid-sequence failure leaves zero observable
// effect.
type Coordinator struct {
	tx        TxRunner
	orders    OrderStore
	variants  VariantReader
	adjusters *AdjusterSet
	events    EventSink
	cache     Cache
	logger    *zap.Logger
}

// NewCoordinator wires the coordinator with its collaborators. cache may be
// nil when no Redis is deployed.
func NewCoordinator(
	tx TxRunner,
	orders OrderStore,
	variants VariantReader,
	adjusters *AdjusterSet,
	events EventSink,
	cache Cache,
) *Coordinator {
	return &Coordinator{
		tx:        tx,
		orders:    orders,
		variants:  variants,
		adjusters: adjusters,
		events:    events,
		cache:     cache,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID          int64                  `json:"user_id" binding:"required"`
	OrderType       models.OrderType       `json:"order_type" binding:"required"`
	Items           []OrderItemRequest     `json:"items" binding:"required,min=1"`
	TotalPrice      int64                  `json:"total_price" binding:"required"`
	ShippingAddress models.ShippingAddress `json:"shipping_address" binding:"required"`
	IdempotencyKey  string                 `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	RefID        int64  `json:"ref_id" binding:"required"`
	VariantID    *int64 `json:"variant_id,omitempty"`
	SeatZoneID   *int64 `json:"seat_zone_id,omitempty"`
	PriceAtOrder int64  `json:"price_at_order"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
}

// Validate checks the request beyond what binding covers: enum membership,
// per-type required references, and the total price invariant.
func (r *CreateOrderRequest) Validate() error {
	if !r.OrderType.Valid() {
		return fmt.Errorf("order_type %q: %w", r.OrderType, models.ErrValidation)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("order has no items: %w", models.ErrValidation)
	}

	var total int64
	for i, item := range r.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("item %d: quantity must be positive: %w", i, models.ErrValidation)
		}
		if item.PriceAtOrder < 0 {
			return fmt.Errorf("item %d: negative price: %w", i, models.ErrValidation)
		}
		if r.OrderType == models.OrderTypeProduct && item.VariantID == nil {
			return fmt.Errorf("item %d: product item requires variant_id: %w", i, models.ErrValidation)
		}
		if r.OrderType == models.OrderTypeTicket && item.SeatZoneID == nil {
			return fmt.Errorf("item %d: ticket item requires seat_zone_id: %w", i, models.ErrValidation)
		}
		total += item.PriceAtOrder * int64(item.Quantity)
	}

	if total != r.TotalPrice {
		return fmt.Errorf("total_price %d does not match item sum %d: %w", r.TotalPrice, total, models.ErrValidation)
	}
	return nil
}

func (r *CreateOrderRequest) toOrder() *models.Order {
	items := make([]models.OrderItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = models.OrderItem{
			ItemIndex:    i,
			RefID:        it.RefID,
			VariantID:    it.VariantID,
			SeatZoneID:   it.SeatZoneID,
			PriceAtOrder: it.PriceAtOrder,
			Quantity:     it.Quantity,
		}
	}
	return &models.Order{
		UserID:          r.UserID,
		OrderType:       r.OrderType,
		Items:           items,
		TotalPrice:      r.TotalPrice,
		ShippingAddress: r.ShippingAddress,
		Status:          models.OrderStatusPending,
		IdempotencyKey:  r.IdempotencyKey,
	}
}

// CreateOrder consumes inventory for every line item and persists the order,
// all inside one transaction. Any adjuster failure aborts the whole scope:
// no partial stock decrement survives and no order row is written. Items are
// processed in input order, so the first unsatisfiable item is the one
// reported.
func (c *Coordinator) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CreateOrderLatency.Observe(time.Since(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	} else {
		if existing, err := c.lookupExisting(ctx, req.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		} else if existing != nil {
			c.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
	}

	order := req.toOrder()

	adjuster, ok := c.adjusters.ForType(order.OrderType)
	if !ok {
		return nil, fmt.Errorf("order_type %q: %w", order.OrderType, models.ErrInvalidOrderType)
	}

	err := c.tx.WithinTx(ctx, func(ctx context.Context, uow *store.UnitOfWork) error {
		for i := range order.Items {
			if err := adjuster.Adjust(ctx, uow, order.Items[i], -order.Items[i].Quantity); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}

		if err := c.orders.InsertOrder(ctx, uow, order); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return c.orders.InsertOrderItems(ctx, uow, order.ID, order.Items)
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	c.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_type", string(order.OrderType)),
		zap.Int("items", len(order.Items)))

	if c.cache != nil {
		if err := c.cache.RememberOrderID(ctx, order.IdempotencyKey, order.ID); err != nil {
			c.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}
	c.invalidateStockCache(ctx, order)

	c.publishOrderCreated(ctx, order)
	return order, nil
}

// lookupExisting checks the cache first, then the database, for an order
// already created under this idempotency key. A cache hit is only a hint: if
// the cached id does not resolve to a row, the database key lookup decides.
func (c *Coordinator) lookupExisting(ctx context.Context, key string) (*models.Order, error) {
	if c.cache != nil {
		if id, ok, err := c.cache.GetOrderID(ctx, key); err != nil {
			c.logger.Warn("Idempotency cache lookup failed, falling back to DB", zap.Error(err))
		} else if ok {
			order, err := c.orders.GetOrderByID(ctx, id)
			if err == nil {
				return order, nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				return nil, err
			}
			c.logger.Warn("Cached order id does not resolve, falling back to DB",
				zap.String("idempotency_key", key),
				zap.Int64("order_id", id))
		}
	}
	return c.orders.GetOrderByIdempotencyKey(ctx, key)
}

// UpdateOrderStatus transitions an order's status inside one transaction.
// A same-status update is an idempotent no-op. Inventory is returned exactly
// when the order enters cancelled/failed from a non-terminal state; all other
// transitions never re-touch inventory, since consumption happened at
// creation. Any failure aborts the scope and the status stays unchanged.
func (c *Coordinator) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.UpdateOrderStatus")
	defer span.End()

	if !newStatus.Valid() {
		return nil, fmt.Errorf("status %q: %w", newStatus, models.ErrValidation)
	}

	var (
		updated    *models.Order
		oldStatus  models.OrderStatus
		rolledBack bool
	)

	err := c.tx.WithinTx(ctx, func(ctx context.Context, uow *store.UnitOfWork) error {
		order, err := c.orders.GetOrderForUpdate(ctx, uow, orderID)
		if err != nil {
			return err
		}
		oldStatus = order.Status

		if order.Status == newStatus {
			updated = order
			return nil
		}

		if models.NeedsStockRollback(order.Status, newStatus) {
			if err := c.rollbackInventory(ctx, uow, order); err != nil {
				return fmt.Errorf("rollback for order %d: %w", orderID, err)
			}
			rolledBack = true
		}

		if err := c.orders.UpdateOrderStatus(ctx, uow, orderID, newStatus); err != nil {
			return err
		}
		order.Status = newStatus
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldStatus != newStatus {
		if newStatus == models.OrderStatusCancelled {
			util.OrdersCancelledTotal.Inc()
		}
		c.logger.Info("Order status updated",
			zap.Int64("order_id", orderID),
			zap.String("old_status", string(oldStatus)),
			zap.String("new_status", string(newStatus)),
			zap.Bool("rolled_back", rolledBack))
		if rolledBack {
			c.invalidateStockCache(ctx, updated)
		}
		c.publishStatusChanged(ctx, updated, oldStatus, rolledBack)
	}

	return updated, nil
}

// invalidateStockCache drops cached snapshots for every variant an order's
// adjustments touched. Best effort; the cache TTL bounds staleness anyway.
func (c *Coordinator) invalidateStockCache(ctx context.Context, order *models.Order) {
	if c.cache == nil || order.OrderType != models.OrderTypeProduct {
		return
	}
	for _, item := range order.Items {
		if item.VariantID == nil {
			continue
		}
		if err := c.cache.InvalidateVariantStock(ctx, *item.VariantID); err != nil {
			c.logger.Warn("Failed to invalidate stock cache",
				zap.Int64("variant_id", *item.VariantID),
				zap.Error(err))
		}
	}
}

// GetVariantStock returns a variant's current stock, serving from the cache
// when possible and refreshing it on a miss.
func (c *Coordinator) GetVariantStock(ctx context.Context, variantID int64) (int, error) {
	if c.cache != nil {
		if stock, ok, err := c.cache.GetCachedVariantStock(ctx, variantID); err != nil {
			c.logger.Warn("Stock cache lookup failed, falling back to DB", zap.Error(err))
		} else if ok {
			return stock, nil
		}
	}

	variant, err := c.variants.GetVariantByID(ctx, variantID)
	if err != nil {
		return 0, err
	}

	if c.cache != nil {
		if err := c.cache.CacheVariantStock(ctx, variantID, variant.Stock, stockCacheTTL); err != nil {
			c.logger.Warn("Failed to cache variant stock", zap.Error(err))
		}
	}
	return variant.Stock, nil
}

// rollbackInventory returns every line item's quantity to its source unit.
// Product items go through one batched update; course and ticket items are
// applied individually. Cancelled ticket orders return their seats to the
// zone.
func (c *Coordinator) rollbackInventory(ctx context.Context, uow *store.UnitOfWork, order *models.Order) error {
	switch order.OrderType {
	case models.OrderTypeProduct:
		if err := c.adjusters.Variant.ReleaseBatch(ctx, uow, order.Items); err != nil {
			return err
		}
	case models.OrderTypeCourse:
		for i := range order.Items {
			if err := c.adjusters.Course.Adjust(ctx, uow, order.Items[i], order.Items[i].Quantity); err != nil {
				return err
			}
		}
	case models.OrderTypeTicket:
		for i := range order.Items {
			if err := c.adjusters.SeatZone.Adjust(ctx, uow, order.Items[i], order.Items[i].Quantity); err != nil {
				return err
			}
		}
	case models.OrderTypeAdsPackage:
		// nothing was consumed at creation
	default:
		return fmt.Errorf("order_type %q: %w", order.OrderType, models.ErrInvalidOrderType)
	}

	util.InventoryRollbacksTotal.WithLabelValues(string(order.OrderType)).Inc()
	return nil
}

// GetOrder retrieves an order with its items.
func (c *Coordinator) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return c.orders.GetOrderByID(ctx, orderID)
}

// ListUserOrders retrieves a user's orders, newest first.
func (c *Coordinator) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return c.orders.GetOrdersByUserID(ctx, userID)
}

func (c *Coordinator) publishOrderCreated(ctx context.Context, order *models.Order) {
	if c.events == nil {
		return
	}

	items := make([]models.OrderItemData, len(order.Items))
	for i, it := range order.Items {
		items[i] = models.OrderItemData{
			RefID:      it.RefID,
			VariantID:  it.VariantID,
			SeatZoneID: it.SeatZoneID,
			Quantity:   it.Quantity,
			UnitPrice:  it.PriceAtOrder,
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		UserID:     order.UserID,
		OrderType:  order.OrderType,
		TotalPrice: order.TotalPrice,
		Items:      items,
	}
	if err := c.events.PublishOrderCreated(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (c *Coordinator) publishStatusChanged(ctx context.Context, order *models.Order, old models.OrderStatus, rolledBack bool) {
	if c.events == nil {
		return
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		UserID:     order.UserID,
		OrderType:  order.OrderType,
		OldStatus:  old,
		NewStatus:  order.Status,
		RolledBack: rolledBack,
	}
	if err := c.events.PublishOrderStatusChanged(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}

// failureReason maps a create-order error to a metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInsufficientCapacity),
		errors.Is(err, models.ErrInsufficientSeats):
		return "insufficient_inventory"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	default:
		return "db_error"
	}
}

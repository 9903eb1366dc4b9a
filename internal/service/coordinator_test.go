package service

import (
	"context"
	"testing"

	"marketplace-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func newTestCoordinator(fs *fakeStore) *Coordinator {
	return NewCoordinator(&fakeTxRunner{s: fs}, fs, fs, NewAdjusterSet(fs), nil, nil)
}

func productRequest(variantID int64, qty int, price int64) *CreateOrderRequest {
	return &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeProduct,
		Items: []OrderItemRequest{
			{RefID: 10, VariantID: int64p(variantID), PriceAtOrder: price, Quantity: qty},
		},
		TotalPrice:      price * int64(qty),
		ShippingAddress: models.ShippingAddress{FullName: "A", City: "B"},
	}
}

func TestCreateOrderConsumesVariantStock(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	order, err := c.CreateOrder(context.Background(), productRequest(5, 3, 100))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.NotZero(t, order.ID)
	assert.Equal(t, 2, fs.variants[5].Stock)

	// a second order for 3 units cannot be satisfied and must not change stock
	_, err = c.CreateOrder(context.Background(), productRequest(5, 3, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 2, fs.variants[5].Stock)
}

func TestCreateOrderStockHitsZeroDerivesOutOfStock(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 3, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	_, err := c.CreateOrder(context.Background(), productRequest(5, 3, 100))
	require.NoError(t, err)

	assert.Equal(t, 0, fs.variants[5].Stock)
	assert.Equal(t, models.VariantStatusOutOfStock, fs.variants[5].Status)
}

func TestCreateOrderAtomicAcrossItems(t *testing.T) {
	fs := newFakeStore()
	fs.variants[1] = &models.Variant{ID: 1, Stock: 10, Status: models.VariantStatusActive}
	fs.variants[2] = &models.Variant{ID: 2, Stock: 1, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	req := &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeProduct,
		Items: []OrderItemRequest{
			{RefID: 10, VariantID: int64p(1), PriceAtOrder: 100, Quantity: 2},
			{RefID: 11, VariantID: int64p(2), PriceAtOrder: 50, Quantity: 5},
		},
		TotalPrice:      2*100 + 5*50,
		ShippingAddress: models.ShippingAddress{FullName: "A"},
	}

	_, err := c.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	// the satisfiable first item must be back at its pre-call value and no
	// order may have been persisted
	assert.Equal(t, 10, fs.variants[1].Stock)
	assert.Equal(t, 1, fs.variants[2].Stock)
	assert.Empty(t, fs.orders)
}

func TestCreateOrderFirstFailureWins(t *testing.T) {
	fs := newFakeStore()
	fs.courses[1] = &models.Course{ID: 1, AvailableSlot: 0}
	fs.courses[2] = &models.Course{ID: 2, AvailableSlot: 0}
	c := newTestCoordinator(fs)

	req := &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeCourse,
		Items: []OrderItemRequest{
			{RefID: 1, PriceAtOrder: 100, Quantity: 1},
			{RefID: 2, PriceAtOrder: 100, Quantity: 1},
		},
		TotalPrice:      200,
		ShippingAddress: models.ShippingAddress{FullName: "A"},
	}

	_, err := c.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 0")
}

func TestCreateOrderRejectsTotalPriceMismatch(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	req := productRequest(5, 3, 100)
	req.TotalPrice = 299

	_, err := c.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 5, fs.variants[5].Stock)
	assert.Empty(t, fs.orders)
}

func TestCreateOrderValidatesPerTypeReferences(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	req := &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeProduct,
		Items: []OrderItemRequest{
			{RefID: 10, PriceAtOrder: 100, Quantity: 1}, // no variant_id
		},
		TotalPrice: 100,
	}
	_, err := c.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrValidation)

	req = &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeTicket,
		Items: []OrderItemRequest{
			{RefID: 10, PriceAtOrder: 100, Quantity: 1}, // no seat_zone_id
		},
		TotalPrice: 100,
	}
	_, err = c.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrValidation)

	req.OrderType = "subscription"
	_, err = c.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateOrderIdempotencyKeyReturnsExisting(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	req := productRequest(5, 2, 100)
	req.IdempotencyKey = "retry-key"
	first, err := c.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, fs.variants[5].Stock)

	req2 := productRequest(5, 2, 100)
	req2.IdempotencyKey = "retry-key"
	second, err := c.CreateOrder(context.Background(), req2)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	// the replay must not consume stock a second time
	assert.Equal(t, 3, fs.variants[5].Stock)
}

func TestCreateOrderStaleIdempotencyCacheFallsBackToDB(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	cache := newFakeCache()
	// cache points at an order that does not exist in the database
	cache.orderIDs["retry-key"] = 999
	c := NewCoordinator(&fakeTxRunner{s: fs}, fs, fs, NewAdjusterSet(fs), nil, cache)

	req := productRequest(5, 2, 100)
	req.IdempotencyKey = "retry-key"
	order, err := c.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, 3, fs.variants[5].Stock)
	// the stale entry is overwritten with the real order
	assert.Equal(t, order.ID, cache.orderIDs["retry-key"])
}

func TestCreateOrderAdsPackageTouchesNoInventory(t *testing.T) {
	fs := newFakeStore()
	c := newTestCoordinator(fs)

	req := &CreateOrderRequest{
		UserID:    7,
		OrderType: models.OrderTypeAdsPackage,
		Items: []OrderItemRequest{
			{RefID: 3, PriceAtOrder: 500, Quantity: 2},
		},
		TotalPrice:      1000,
		ShippingAddress: models.ShippingAddress{FullName: "A"},
	}

	order, err := c.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestUpdateOrderStatusSameStatusIsNoOp(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	order, err := c.CreateOrder(context.Background(), productRequest(5, 3, 100))
	require.NoError(t, err)

	updated, err := c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, updated.Status)
	assert.Equal(t, 2, fs.variants[5].Stock)
}

func TestUpdateOrderStatusCourseRollback(t *testing.T) {
	fs := newFakeStore()
	fs.courses[9] = &models.Course{ID: 9, AvailableSlot: 10}
	c := newTestCoordinator(fs)

	req := &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeCourse,
		Items: []OrderItemRequest{
			{RefID: 9, PriceAtOrder: 250, Quantity: 2},
		},
		TotalPrice:      500,
		ShippingAddress: models.ShippingAddress{FullName: "A"},
	}
	order, err := c.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 8, fs.courses[9].AvailableSlot)

	updated, err := c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Equal(t, 10, fs.courses[9].AvailableSlot)
}

func TestUpdateOrderStatusRollsBackExactlyOnce(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	order, err := c.CreateOrder(context.Background(), productRequest(5, 3, 100))
	require.NoError(t, err)
	assert.Equal(t, 2, fs.variants[5].Stock)

	_, err = c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 5, fs.variants[5].Stock)

	// cancelled -> failed is terminal-to-terminal and must not return stock
	// a second time
	_, err = c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 5, fs.variants[5].Stock)
}

func TestUpdateOrderStatusRollbackSumsDuplicateVariantItems(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 10, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	// two line items for the same variant must collapse into one batched
	// return carrying the summed quantity
	req := &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeProduct,
		Items: []OrderItemRequest{
			{RefID: 10, VariantID: int64p(5), PriceAtOrder: 100, Quantity: 2},
			{RefID: 10, VariantID: int64p(5), PriceAtOrder: 100, Quantity: 3},
		},
		TotalPrice:      500,
		ShippingAddress: models.ShippingAddress{FullName: "A"},
	}
	order, err := c.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, fs.variants[5].Stock)

	updated, err := c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Equal(t, 10, fs.variants[5].Stock)
}

func TestUpdateOrderStatusPendingToFailedRollsBack(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	order, err := c.CreateOrder(context.Background(), productRequest(5, 5, 100))
	require.NoError(t, err)
	assert.Equal(t, 0, fs.variants[5].Stock)
	assert.Equal(t, models.VariantStatusOutOfStock, fs.variants[5].Status)

	_, err = c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 5, fs.variants[5].Stock)
	assert.Equal(t, models.VariantStatusActive, fs.variants[5].Status)
}

func TestUpdateOrderStatusPaidDoesNotTouchInventory(t *testing.T) {
	fs := newFakeStore()
	fs.variants[5] = &models.Variant{ID: 5, Stock: 5, Status: models.VariantStatusActive}
	c := newTestCoordinator(fs)

	order, err := c.CreateOrder(context.Background(), productRequest(5, 3, 100))
	require.NoError(t, err)

	_, err = c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.variants[5].Stock)

	_, err = c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.variants[5].Stock)
}

func TestUpdateOrderStatusTicketRollbackReturnsSeats(t *testing.T) {
	fs := newFakeStore()
	fs.events[4] = &models.Event{
		ID: 4,
		Zones: []models.SeatZone{
			{ID: 40, EventID: 4, NumberOfSeat: 20},
			{ID: 41, EventID: 4, NumberOfSeat: 8},
		},
	}
	c := newTestCoordinator(fs)

	req := &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeTicket,
		Items: []OrderItemRequest{
			{RefID: 4, SeatZoneID: int64p(41), PriceAtOrder: 75, Quantity: 3},
		},
		TotalPrice:      225,
		ShippingAddress: models.ShippingAddress{FullName: "A"},
	}
	order, err := c.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, fs.events[4].Zones[1].NumberOfSeat)
	assert.Equal(t, 20, fs.events[4].Zones[0].NumberOfSeat)

	_, err = c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 8, fs.events[4].Zones[1].NumberOfSeat)
}

func TestUpdateOrderStatusRejectsUnknownStatusAndOrder(t *testing.T) {
	fs := newFakeStore()
	c := newTestCoordinator(fs)

	_, err := c.UpdateOrderStatus(context.Background(), 1, "shipped")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = c.UpdateOrderStatus(context.Background(), 123, models.OrderStatusPaid)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateOrderStatusAbortsWhenRollbackFails(t *testing.T) {
	fs := newFakeStore()
	fs.courses[9] = &models.Course{ID: 9, AvailableSlot: 4}
	c := newTestCoordinator(fs)

	req := &CreateOrderRequest{
		UserID:    1,
		OrderType: models.OrderTypeCourse,
		Items: []OrderItemRequest{
			{RefID: 9, PriceAtOrder: 100, Quantity: 2},
		},
		TotalPrice:      200,
		ShippingAddress: models.ShippingAddress{FullName: "A"},
	}
	order, err := c.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	// simulate the course disappearing before cancellation
	delete(fs.courses, 9)

	_, err = c.UpdateOrderStatus(context.Background(), order.ID, models.OrderStatusCancelled)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// status must remain unchanged from the caller's point of view
	got, err := c.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
}

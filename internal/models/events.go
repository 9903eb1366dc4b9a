package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePackagesIssued     = "PACKAGES_ISSUED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is created and its inventory has
// been consumed.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	UserID     int64           `json:"user_id"`
	OrderType  OrderType       `json:"order_type"`
	TotalPrice int64           `json:"total_price"`
	Items      []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every effective status transition.
// The issuance worker reacts to ads_package orders reaching paid.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64       `json:"order_id"`
	UserID     int64       `json:"user_id"`
	OrderType  OrderType   `json:"order_type"`
	OldStatus  OrderStatus `json:"old_status"`
	NewStatus  OrderStatus `json:"new_status"`
	RolledBack bool        `json:"rolled_back"`
}

// PackagesIssuedEvent published after own-package records are minted from a
// paid ads_package order.
type PackagesIssuedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
	Count   int   `json:"count"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	RefID      int64  `json:"ref_id"`
	VariantID  *int64 `json:"variant_id,omitempty"`
	SeatZoneID *int64 `json:"seat_zone_id,omitempty"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// OrderType determines which inventory kind an order's line items reference
// and which adjuster applies during creation and rollback.
type OrderType string

const (
	OrderTypeProduct    OrderType = "product"
	OrderTypeCourse     OrderType = "course"
	OrderTypeTicket     OrderType = "ticket"
	OrderTypeAdsPackage OrderType = "ads_package"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeProduct, OrderTypeCourse, OrderTypeTicket, OrderTypeAdsPackage:
		return true
	}
	return false
}

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// terminal reports whether s is a state in which consumed inventory has
// already been returned.
func (s OrderStatus) terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusFailed
}

// NeedsStockRollback decides whether a status transition must return consumed
// inventory. The decision is pure set membership: entering a terminal state
// from a non-terminal one rolls back; everything else is inventory-neutral.
// In particular cancelled -> failed must not roll back a second time.
func NeedsStockRollback(old, new OrderStatus) bool {
	return new.terminal() && !old.terminal()
}

// ShippingAddress is a denormalized snapshot stored on the order. Required for
// every order type, digital-only included, matching the platform's schema.
type ShippingAddress struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ShippingAddress) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	}
	return fmt.Errorf("unsupported shipping_address source type %T", src)
}

// Order represents a purchase intent over one inventory kind.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	OrderType       OrderType       `db:"order_type" json:"order_type"`
	Items           []OrderItem     `db:"-" json:"items"`
	TotalPrice      int64           `db:"total_price" json:"total_price"`
	ShippingAddress ShippingAddress `db:"shipping_address" json:"shipping_address"`
	Status          OrderStatus     `db:"status" json:"status"`
	IdempotencyKey  string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is one line of an order. RefID points into the collection named by
// the order's type (variant's product, course, event, or ads package).
// VariantID is set for product items, SeatZoneID for ticket items. ItemIndex
// is the position in the submitted items array and part of the issuance
// idempotency key.
type OrderItem struct {
	ID           int64  `db:"id" json:"id"`
	OrderID      int64  `db:"order_id" json:"order_id"`
	ItemIndex    int    `db:"item_index" json:"item_index"`
	RefID        int64  `db:"ref_id" json:"ref_id"`
	VariantID    *int64 `db:"variant_id" json:"variant_id,omitempty"`
	SeatZoneID   *int64 `db:"seat_zone_id" json:"seat_zone_id,omitempty"`
	PriceAtOrder int64  `db:"price_at_order" json:"price_at_order"`
	Quantity     int    `db:"quantity" json:"quantity"`
}

// VariantStatus is the derived availability state of a product variant.
type VariantStatus string

const (
	VariantStatusActive     VariantStatus = "active"
	VariantStatusInactive   VariantStatus = "inactive"
	VariantStatusOutOfStock VariantStatus = "out_of_stock"
)

// Variant is a purchasable SKU of a product.
type Variant struct {
	ID        int64         `db:"id" json:"id"`
	ProductID int64         `db:"product_id" json:"product_id"`
	SKU       string        `db:"sku" json:"sku"`
	Price     int64         `db:"price" json:"price"`
	Stock     int           `db:"stock" json:"stock"`
	Status    VariantStatus `db:"status" json:"status"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// ApplyStockDelta mutates stock by delta and re-derives status. It refuses a
// delta that would drive stock negative. Status becomes out_of_stock exactly
// when stock hits zero and returns to active when stock recovers from it; an
// inactive variant stays inactive.
func (v *Variant) ApplyStockDelta(delta int) error {
	next := v.Stock + delta
	if next < 0 {
		return fmt.Errorf("variant %d: stock %d, requested %d: %w", v.ID, v.Stock, -delta, ErrInsufficientStock)
	}
	v.Stock = next
	switch {
	case v.Stock == 0 && v.Status == VariantStatusActive:
		v.Status = VariantStatusOutOfStock
	case v.Stock > 0 && v.Status == VariantStatusOutOfStock:
		v.Status = VariantStatusActive
	}
	return nil
}

// Course has a bookable slot count.
type Course struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Price         int64     `db:"price" json:"price"`
	AvailableSlot int       `db:"available_slot" json:"available_slot"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ApplySlotDelta mutates the slot count by delta, refusing a negative result.
func (c *Course) ApplySlotDelta(delta int) error {
	next := c.AvailableSlot + delta
	if next < 0 {
		return fmt.Errorf("course %d: %d slots, requested %d: %w", c.ID, c.AvailableSlot, -delta, ErrInsufficientCapacity)
	}
	c.AvailableSlot = next
	return nil
}

// SeatZone is a seating section of an event with its own seat count.
type SeatZone struct {
	ID           int64     `db:"id" json:"id"`
	EventID      int64     `db:"event_id" json:"event_id"`
	Name         string    `db:"name" json:"name"`
	Price        int64     `db:"price" json:"price"`
	NumberOfSeat int       `db:"number_of_seat" json:"number_of_seat"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Event owns a set of seat zones.
type Event struct {
	ID    int64      `db:"id" json:"id"`
	Name  string     `db:"name" json:"name"`
	Zones []SeatZone `db:"-" json:"zones"`
}

// ApplySeatDelta locates the zone and mutates its seat count by delta. It
// returns the mutated zone so the caller can persist just that row.
func (e *Event) ApplySeatDelta(zoneID int64, delta int) (*SeatZone, error) {
	for i := range e.Zones {
		z := &e.Zones[i]
		if z.ID != zoneID {
			continue
		}
		next := z.NumberOfSeat + delta
		if next < 0 {
			return nil, fmt.Errorf("event %d zone %d: %d seats, requested %d: %w", e.ID, zoneID, z.NumberOfSeat, -delta, ErrInsufficientSeats)
		}
		z.NumberOfSeat = next
		return z, nil
	}
	return nil, fmt.Errorf("event %d has no seat zone %d: %w", e.ID, zoneID, ErrNotFound)
}

// AdsPackage is an immutable catalog entry. Purchasing one never decrements a
// counter on the package itself.
type AdsPackage struct {
	ID           int64     `db:"id" json:"id"`
	Type         string    `db:"type" json:"type"`
	Price        int64     `db:"price" json:"price"`
	DurationDays int       `db:"duration_days" json:"duration_days"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// PackageStatus is the lifecycle state of an owned package.
type PackageStatus string

const (
	PackageStatusActive    PackageStatus = "active"
	PackageStatusUsed      PackageStatus = "used"
	PackageStatusExpired   PackageStatus = "expired"
	PackageStatusCancelled PackageStatus = "cancelled"
)

// OwnPackage is a user's redeemable instance of a purchased ads package.
// (OrderID, ItemIndex, Seq) is unique and makes issuance replays detectable.
type OwnPackage struct {
	ID          int64         `db:"id" json:"id"`
	UserID      int64         `db:"user_id" json:"user_id"`
	PackageID   int64         `db:"package_id" json:"package_id"`
	OrderID     int64         `db:"order_id" json:"order_id"`
	ItemIndex   int           `db:"item_index" json:"item_index"`
	Seq         int           `db:"seq" json:"seq"`
	Type        string        `db:"type" json:"type"`
	Status      PackageStatus `db:"status" json:"status"`
	ExpiryDate  time.Time     `db:"expiry_date" json:"expiry_date"`
	UsedAt      *time.Time    `db:"used_at" json:"used_at,omitempty"`
	PurchasedAt time.Time     `db:"purchased_at" json:"purchased_at"`
	RefID       *int64        `db:"ref_id" json:"ref_id,omitempty"`
}

// Use marks the package redeemed against refID. Only an unexpired active
// package can be used, and only once.
func (p *OwnPackage) Use(refID int64, now time.Time) error {
	if p.Status != PackageStatusActive {
		return fmt.Errorf("package %d is %s: %w", p.ID, p.Status, ErrInvalidState)
	}
	if p.ExpiryDate.Before(now) {
		return fmt.Errorf("package %d expired at %s: %w", p.ID, p.ExpiryDate.Format(time.RFC3339), ErrExpired)
	}
	p.Status = PackageStatusUsed
	p.UsedAt = &now
	p.RefID = &refID
	return nil
}

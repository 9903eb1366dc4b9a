package models

import "errors"

// Domain errors. Callers wrap these with fmt.Errorf("...: %w", Err...) so the
// HTTP layer can classify with errors.Is while keeping the item context in the
// message.
var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInsufficientSeats    = errors.New("insufficient seats")
	ErrInvalidOrderType     = errors.New("invalid order type")
	ErrInvalidState         = errors.New("invalid state")
	ErrExpired              = errors.New("expired")
	ErrValidation           = errors.New("validation failed")
)

package domain

import "errors"

var (
	// ErrInvalidRequest marks malformed input rejected before any ledger
	// access. Not retryable; the messaging boundary dead-letters these.
	ErrInvalidRequest = errors.New("invalid reservation request")

	// ErrProductNotFound is returned by read/admin lookups for unknown ids.
	ErrProductNotFound = errors.New("product not found")

	// ErrProductExists is returned when provisioning an already known product.
	ErrProductExists = errors.New("product already exists")

	// ErrTotalBelowReserved guards total adjustments that would leave
	// reserved > total.
	ErrTotalBelowReserved = errors.New("total cannot drop below reserved quantity")
)

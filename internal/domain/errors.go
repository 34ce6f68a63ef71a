package domain

import "errors"

var (
	ErrExperienceNotFound   = errors.New("experience not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrSessionNotFound      = errors.New("payment session not found")

	ErrCapacityExhausted = errors.New("experience is sold out")
	ErrLedgerDrift       = errors.New("capacity ledger does not cover the requested amount")

	ErrUserRequired         = errors.New("user id is required")
	ErrNameRequired         = errors.New("experience name is required")
	ErrInvalidCapacity      = errors.New("total capacity must be positive")
	ErrPricingLinesRequired = errors.New("at least one pricing line is required")
	ErrInvalidLineItem      = errors.New("line item amount and quantity must not be negative")
	ErrInvalidID            = errors.New("invalid id")

	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key already used for a different booking")

	ErrAlreadyTerminal = errors.New("registration is already in a terminal state")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable or response unverifiable")
)

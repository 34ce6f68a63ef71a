package domain

import "time"

// PaymentSession binds a registration to one gateway transaction. It is
// created when payment is initiated and never mutated; TransactionID is the
// correlation key for status polls and callbacks.
type PaymentSession struct {
	TransactionID  string
	RegistrationID string
	MerchantID     string
	KeyIndex       int
	Sandbox        bool
	CreatedAt      time.Time
}

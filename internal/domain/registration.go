package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// LineItem is one priced entry of a booking (a ticket tier or a food
// add-on). Amount is in integer currency units.
type LineItem struct {
	Label    string `json:"label,omitempty"`
	Amount   int64  `json:"amount"`
	Quantity int    `json:"quantity"`
}

// Registration represents one booking attempt for an experience. The
// itemized lines and TotalAmount are written once at creation and never
// recomputed; PaymentStatus transitions from pending to exactly one
// terminal state.
type Registration struct {
	ID             string
	UserID         string
	ExperienceID   string
	PricingLines   []LineItem
	FoodLines      []LineItem
	TotalAmount    int64
	PaymentStatus  PaymentStatus
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ComputeTotal sums amount*quantity across all pricing and food lines.
func ComputeTotal(pricing, food []LineItem) int64 {
	var total int64
	for _, line := range pricing {
		total += line.Amount * int64(line.Quantity)
	}
	for _, line := range food {
		total += line.Amount * int64(line.Quantity)
	}
	return total
}

package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Terminal reports whether no further callback-driven transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccess || s == PaymentFailed || s == PaymentRefunded
}

// CanTransitionTo encodes the one-way lifecycle:
// pending -> success|failed, success -> refunded.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentSuccess || next == PaymentFailed
	case PaymentSuccess:
		return next == PaymentRefunded
	default:
		return false
	}
}

// PaymentTransaction is the permanent audit record for one payment attempt.
// Amount and Currency are the trusted baseline captured at creation time and
// never updated from callback data. GatewayReference is assigned once, right
// after creation, and is what the gateway echoes back in callbacks.
type PaymentTransaction struct {
	TransactionID    string        `gorm:"size:64;primaryKey"`
	OrderID          uint          `gorm:"not null;index"`
	Method           string        `gorm:"size:50;not null"`
	Amount           float64       `gorm:"type:numeric(14,2);not null"`
	Currency         string        `gorm:"size:3;not null;default:VND"`
	Status           PaymentStatus `gorm:"size:20;not null;default:pending"`
	GatewayReference *string       `gorm:"size:255;uniqueIndex"`

	// ReturnObserved records what the non-authoritative browser redirect
	// reported, so a later webhook settlement can flag a discrepancy.
	ReturnObserved *string `gorm:"size:20"`

	Order Order `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

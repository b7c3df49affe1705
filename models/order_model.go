package models

import "time"

const (
	OrderAwaitingPayment = "awaiting_payment"
	OrderPaid            = "paid"
)

type Order struct {
	ID          uint    `gorm:"primaryKey"`
	OrderCode   string  `gorm:"size:32;uniqueIndex;not null"`
	CustomerID  uint    `gorm:"not null;index"`
	Description string  `gorm:"size:255"`
	TotalAmount float64 `gorm:"type:numeric(14,2);not null"`
	Status      string  `gorm:"size:30;not null;default:awaiting_payment"`

	Customer Customer `gorm:"foreignKey:CustomerID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

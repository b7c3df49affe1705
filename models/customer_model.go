package models

import "time"

type Customer struct {
	ID       uint   `gorm:"primaryKey"`
	FullName string `gorm:"size:100;not null"`
	Email    string `gorm:"size:255;uniqueIndex;not null"`
	Phone    string `gorm:"size:20"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

package models

import "time"

// User is a back-office staff account. Authentication itself lives in a
// separate service; this table only backs the seeded admin and JWT role checks.
type User struct {
	ID       uint   `gorm:"primaryKey"`
	FullName string `gorm:"size:100;not null"`
	Email    string `gorm:"size:255;uniqueIndex;not null"`
	Password string `gorm:"size:255;not null"`
	Role     string `gorm:"size:20;not null;default:staff"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

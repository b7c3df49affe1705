package utils

import (
	"strings"
	"time"

	"github.com/fadovn/fado_crm/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const refPrefix = "VNP"

// NewGatewayRef produces a candidate gateway reference: prefix, UTC
// timestamp, and a random tail so concurrent checkouts in the same second
// stay distinct. References must never be guessable sequential ids.
func NewGatewayRef() string {
	tail := strings.ToUpper(uuid.New().String()[:6])
	return refPrefix + time.Now().UTC().Format("060102150405") + tail
}

// GenerateUniqueGatewayRef returns a reference not present in the store yet.
// The unique index on gateway_reference is the real race arbiter; this check
// just keeps the common path collision-free.
func GenerateUniqueGatewayRef(tx *gorm.DB) (string, error) {
	for {
		ref := NewGatewayRef()

		var txn models.PaymentTransaction
		err := tx.Where("gateway_reference = ?", ref).First(&txn).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return ref, nil
			}
			return "", err
		}
	}
}

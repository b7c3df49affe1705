package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fadovn/fado_crm/models"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderService is the payment engine's view of the order collaborator: it
// supplies the authoritative order total at checkout time and receives the
// fulfillment signal once the webhook settles a payment.
type OrderService struct {
	db *gorm.DB
}

func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{db: db}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).First(&order, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &order, nil
}

// AuthoritativeAmount re-reads the order total from the store. Client-supplied
// amounts are never trusted; this is the baseline used to detect tampering in
// gateway callbacks.
func (s *OrderService) AuthoritativeAmount(ctx context.Context, orderID uint) (float64, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return order.TotalAmount, nil
}

// HandlePaymentOutcome is the downstream fulfillment hook. The reconciler
// invokes it at most once per terminal transition, webhook channel only.
func (s *OrderService) HandlePaymentOutcome(orderID uint, status models.PaymentStatus) {
	if status != models.PaymentSuccess {
		log.Printf("Payment for order %d settled as %s, leaving order untouched", orderID, status)
		return
	}

	res := s.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderAwaitingPayment).
		Updates(map[string]interface{}{"status": models.OrderPaid, "updated_at": time.Now()})
	if res.Error != nil {
		log.Printf("🔥 Failed to mark order %d paid: %v", orderID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		log.Printf("Order %d was not awaiting payment, fulfillment skipped", orderID)
		return
	}
	log.Printf("✅ Order %d marked as paid", orderID)
}

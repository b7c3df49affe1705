package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	config "github.com/fadovn/fado_crm/configs"
	"github.com/fadovn/fado_crm/payments"
	"github.com/fadovn/fado_crm/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var validate = validator.New()

// storeTimeout bounds signature verification plus store access for one
// callback. On timeout the webhook returns a retryable error; the gateway's
// retries are idempotent by construction.
const storeTimeout = 5 * time.Second

type PaymentHandler struct {
	gateway *payments.VNPayGateway
	txns    *services.TransactionService
	orders  *services.OrderService
	rec     *services.Reconciler
}

func NewPaymentHandler(db *gorm.DB, cfg config.VNPayConfig) *PaymentHandler {
	txns := services.NewTransactionService(db)
	orders := services.NewOrderService(db)
	return &PaymentHandler{
		gateway: payments.NewVNPayGateway(cfg),
		txns:    txns,
		orders:  orders,
		rec:     services.NewReconciler(cfg.HashSecret, txns, orders.HandlePaymentOutcome),
	}
}

type CreatePaymentRequest struct {
	OrderID uint `json:"order_id" validate:"required"`
}

// CreatePayment builds the signed redirect URL for an order. The amount is
// re-read from the order record, never taken from the request.
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	var req CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), storeTimeout)
	defer cancel()

	order, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
	}
	if order.TotalAmount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Order total must be positive"})
	}

	txn, err := h.txns.CreateForOrder(ctx, order.ID, order.TotalAmount, "vnpay")
	if err != nil {
		log.Printf("🔥 Failed to create payment transaction for order %d: %v", order.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create payment transaction"})
	}

	orderInfo := order.Description
	if orderInfo == "" {
		orderInfo = fmt.Sprintf("FADO order %s", order.OrderCode)
	}
	redirectURL := h.gateway.BuildPaymentURL(*txn.GatewayReference, txn.Amount, orderInfo)

	return c.JSON(fiber.Map{
		"transaction_id": txn.TransactionID,
		"txn_ref":        *txn.GatewayReference,
		"redirect_url":   redirectURL,
	})
}

// HandleReturn is the browser redirect callback. It is informational only:
// the user always gets some status payload, and fulfillment never fires here.
func (h *PaymentHandler) HandleReturn(c *fiber.Ctx) error {
	params := c.Queries()

	ctx, cancel := context.WithTimeout(c.UserContext(), storeTimeout)
	defer cancel()

	res, err := h.rec.Process(ctx, params, services.ChannelReturn)
	if err != nil {
		// The user is already in the browser; degrade to a generic state
		// and let the webhook settle the transaction.
		log.Printf("🔥 Return callback processing error: %v", err)
		return c.JSON(fiber.Map{"success": true, "status": "processing", "txn_ref": params[payments.TxnRefField]})
	}

	switch res.Outcome {
	case services.OutcomeInvalidSignature:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid signature"})
	case services.OutcomeUnknownRef:
		return c.JSON(fiber.Map{"success": false, "status": "unknown", "txn_ref": res.TxnRef})
	case services.OutcomeAmountMismatch:
		return c.JSON(fiber.Map{"success": true, "status": "processing", "txn_ref": res.TxnRef})
	default:
		return c.JSON(fiber.Map{"success": true, "status": string(res.Status), "txn_ref": res.TxnRef})
	}
}

// HandleWebhook is the authoritative server-to-server callback. The response
// follows the gateway's acknowledgement contract: RspCode 00 stops its retry
// loop, 99 asks for a retry, HTTP 400 rejects malformed or unsigned calls.
func (h *PaymentHandler) HandleWebhook(c *fiber.Ctx) error {
	params, err := callbackParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse webhook payload"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), storeTimeout)
	defer cancel()

	res, err := h.rec.Process(ctx, params, services.ChannelWebhook)
	if err != nil {
		log.Printf("🔥 Webhook processing error for ref %q: %v", params[payments.TxnRefField], err)
		return c.JSON(fiber.Map{"RspCode": "99", "Message": "system error"})
	}

	switch res.Outcome {
	case services.OutcomeInvalidSignature:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid signature"})
	case services.OutcomeUnknownRef:
		// Either a forged callback or a race with reference assignment;
		// the latter resolves itself on the gateway's next retry.
		return c.JSON(fiber.Map{"RspCode": "99", "Message": "transaction not found"})
	default:
		// Applied, duplicate, conflict and amount mismatch all end the
		// retry loop; conflicts and mismatches were already flagged.
		return c.JSON(fiber.Map{"RspCode": "00", "Message": "Confirm Success"})
	}
}

func (h *PaymentHandler) ListBanks(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"banks": payments.SupportedBanks()})
}

// callbackParams flattens the webhook body into the gateway's string
// parameter set, accepting either JSON or form-urlencoded payloads.
func callbackParams(c *fiber.Ctx) (map[string]string, error) {
	params := make(map[string]string)

	contentType := string(c.Request().Header.ContentType())
	if strings.HasPrefix(contentType, fiber.MIMEApplicationForm) {
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})
		return params, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return nil, err
	}
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			params[k] = val
		case float64:
			params[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			params[k] = fmt.Sprintf("%v", val)
		}
	}
	return params, nil
}

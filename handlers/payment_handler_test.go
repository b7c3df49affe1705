package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	config "github.com/fadovn/fado_crm/configs"
	"github.com/fadovn/fado_crm/models"
	"github.com/fadovn/fado_crm/payments"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const handlerTestSecret = "HANDLERTESTSECRET123"

type paymentTestApp struct {
	app *fiber.App
	db  *gorm.DB
	cfg config.VNPayConfig
}

func newPaymentTestApp(t *testing.T) *paymentTestApp {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Customer{},
		&models.Order{},
		&models.PaymentTransaction{},
	))

	cfg := config.VNPayConfig{
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		TmnCode:    "FADO001",
		HashSecret: handlerTestSecret,
		ReturnURL:  "https://crm.example.com/payments/return",
	}

	h := NewPaymentHandler(db, cfg)
	app := fiber.New()
	// Auth middleware is exercised separately; handler behavior is what is
	// under test here.
	app.Post("/payments/create", h.CreatePayment)
	app.Get("/payments/return", h.HandleReturn)
	app.Post("/payments/webhook", h.HandleWebhook)
	app.Get("/payments/banks", h.ListBanks)

	return &paymentTestApp{app: app, db: db, cfg: cfg}
}

var handlerOrderSeq int

func (ta *paymentTestApp) seedOrder(t *testing.T, total float64) *models.Order {
	t.Helper()
	handlerOrderSeq++

	customer := models.Customer{
		FullName: "Tran Thi B",
		Email:    fmt.Sprintf("handler%d@example.com", handlerOrderSeq),
	}
	require.NoError(t, ta.db.Create(&customer).Error)

	order := models.Order{
		OrderCode:   fmt.Sprintf("FD-H%04d", handlerOrderSeq),
		CustomerID:  customer.ID,
		Description: "Import order",
		TotalAmount: total,
		Status:      models.OrderAwaitingPayment,
	}
	require.NoError(t, ta.db.Create(&order).Error)
	return &order
}

func (ta *paymentTestApp) createPayment(t *testing.T, orderID uint) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(map[string]uint{"order_id": orderID})
	req := httptest.NewRequest(http.MethodPost, "/payments/create", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody(t, resp)
}

func (ta *paymentTestApp) signedWebhookBody(ref string, amountMinor int64, respCode string) []byte {
	params := map[string]string{
		"vnp_TmnCode":              ta.cfg.TmnCode,
		payments.AmountField:       strconv.FormatInt(amountMinor, 10),
		"vnp_CurrCode":             "VND",
		payments.TxnRefField:       ref,
		payments.ResponseCodeField: respCode,
		"vnp_PayDate":              "20260828120000",
	}
	params[payments.SecureHashField] = payments.SignParams(params, ta.cfg.HashSecret)
	body, _ := json.Marshal(params)
	return body
}

func (ta *paymentTestApp) postWebhook(t *testing.T, body []byte, contentType string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (ta *paymentTestApp) txnStatus(t *testing.T, ref string) models.PaymentStatus {
	t.Helper()
	var txn models.PaymentTransaction
	require.NoError(t, ta.db.Where("gateway_reference = ?", ref).First(&txn).Error)
	return txn.Status
}

func (ta *paymentTestApp) waitForOrderStatus(t *testing.T, orderID uint, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var order models.Order
		require.NoError(t, ta.db.First(&order, orderID).Error)
		if order.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("order %d never reached status %q", orderID, want)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

func TestCreatePayment(t *testing.T) {
	ta := newPaymentTestApp(t)
	order := ta.seedOrder(t, 500000)

	payload := ta.createPayment(t, order.ID)

	assert.NotEmpty(t, payload["transaction_id"])
	ref, _ := payload["txn_ref"].(string)
	assert.Contains(t, ref, "VNP")

	t.Run("redirect URL is signed and carries the order total", func(t *testing.T) {
		redirect, _ := payload["redirect_url"].(string)
		parsed, err := url.Parse(redirect)
		require.NoError(t, err)

		query := parsed.Query()
		assert.Equal(t, "50000000", query.Get("vnp_Amount"))
		assert.Equal(t, ref, query.Get("vnp_TxnRef"))

		params := make(map[string]string, len(query))
		for k := range query {
			params[k] = query.Get(k)
		}
		assert.True(t, payments.VerifySignature(params, handlerTestSecret))
	})

	t.Run("transaction starts out pending", func(t *testing.T) {
		assert.Equal(t, models.PaymentPending, ta.txnStatus(t, ref))
	})

	t.Run("unknown order leaves no orphan rows", func(t *testing.T) {
		body, _ := json.Marshal(map[string]uint{"order_id": 99999})
		req := httptest.NewRequest(http.MethodPost, "/payments/create", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := ta.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var count int64
		require.NoError(t, ta.db.Model(&models.PaymentTransaction{}).
			Where("order_id = ?", 99999).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("non-positive order total is rejected", func(t *testing.T) {
		zero := ta.seedOrder(t, 0)
		body, _ := json.Marshal(map[string]uint{"order_id": zero.ID})
		req := httptest.NewRequest(http.MethodPost, "/payments/create", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := ta.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWebhook(t *testing.T) {
	t.Run("success callback settles and fulfills exactly once", func(t *testing.T) {
		ta := newPaymentTestApp(t)
		order := ta.seedOrder(t, 500000)
		ref, _ := ta.createPayment(t, order.ID)["txn_ref"].(string)

		resp, ack := ta.postWebhook(t, ta.signedWebhookBody(ref, 50000000, "00"), fiber.MIMEApplicationJSON)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "00", ack["RspCode"])
		assert.Equal(t, "Confirm Success", ack["Message"])

		assert.Equal(t, models.PaymentSuccess, ta.txnStatus(t, ref))
		ta.waitForOrderStatus(t, order.ID, models.OrderPaid)

		// Duplicate delivery: same acknowledgement, no state change.
		resp, ack = ta.postWebhook(t, ta.signedWebhookBody(ref, 50000000, "00"), fiber.MIMEApplicationJSON)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "00", ack["RspCode"])
		assert.Equal(t, models.PaymentSuccess, ta.txnStatus(t, ref))
	})

	t.Run("form-encoded callback is accepted", func(t *testing.T) {
		ta := newPaymentTestApp(t)
		order := ta.seedOrder(t, 250000)
		ref, _ := ta.createPayment(t, order.ID)["txn_ref"].(string)

		params := map[string]string{
			"vnp_TmnCode":              ta.cfg.TmnCode,
			payments.AmountField:       "25000000",
			"vnp_CurrCode":             "VND",
			payments.TxnRefField:       ref,
			payments.ResponseCodeField: "00",
		}
		params[payments.SecureHashField] = payments.SignParams(params, ta.cfg.HashSecret)

		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		resp, ack := ta.postWebhook(t, []byte(form.Encode()), fiber.MIMEApplicationForm)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "00", ack["RspCode"])
		assert.Equal(t, models.PaymentSuccess, ta.txnStatus(t, ref))
	})

	t.Run("altered signature is rejected before touching the store", func(t *testing.T) {
		ta := newPaymentTestApp(t)
		order := ta.seedOrder(t, 500000)
		ref, _ := ta.createPayment(t, order.ID)["txn_ref"].(string)

		body := ta.signedWebhookBody(ref, 50000000, "00")
		tampered := bytes.Replace(body, []byte("50000000"), []byte("50000001"), 1)

		resp, _ := ta.postWebhook(t, tampered, fiber.MIMEApplicationJSON)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, models.PaymentPending, ta.txnStatus(t, ref))
	})

	t.Run("amount one unit off the baseline never settles", func(t *testing.T) {
		ta := newPaymentTestApp(t)
		order := ta.seedOrder(t, 500000)
		ref, _ := ta.createPayment(t, order.ID)["txn_ref"].(string)

		resp, ack := ta.postWebhook(t, ta.signedWebhookBody(ref, 50000001, "00"), fiber.MIMEApplicationJSON)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "00", ack["RspCode"], "mismatch is flagged, not retried")
		assert.Equal(t, models.PaymentPending, ta.txnStatus(t, ref))
	})

	t.Run("unknown reference asks the gateway to retry", func(t *testing.T) {
		ta := newPaymentTestApp(t)

		resp, ack := ta.postWebhook(t, ta.signedWebhookBody("VNPFORGED", 100, "00"), fiber.MIMEApplicationJSON)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "99", ack["RspCode"])
	})

	t.Run("unparseable body is a client error", func(t *testing.T) {
		ta := newPaymentTestApp(t)
		resp, err := ta.app.Test(httptest.NewRequest(http.MethodPost, "/payments/webhook",
			strings.NewReader("{not json")))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReturnChannel(t *testing.T) {
	t.Run("reports the gateway status without settling", func(t *testing.T) {
		ta := newPaymentTestApp(t)
		order := ta.seedOrder(t, 500000)
		ref, _ := ta.createPayment(t, order.ID)["txn_ref"].(string)

		params := map[string]string{
			"vnp_TmnCode":              ta.cfg.TmnCode,
			payments.AmountField:       "50000000",
			payments.TxnRefField:       ref,
			payments.ResponseCodeField: "00",
		}
		params[payments.SecureHashField] = payments.SignParams(params, ta.cfg.HashSecret)

		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/payments/return?"+query.Encode(), nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		payload := decodeBody(t, resp)
		assert.Equal(t, true, payload["success"])
		assert.Equal(t, "success", payload["status"])
		assert.Equal(t, ref, payload["txn_ref"])

		assert.Equal(t, models.PaymentPending, ta.txnStatus(t, ref), "return channel must not settle")
		ta.waitForOrderStatus(t, order.ID, models.OrderAwaitingPayment)
	})

	t.Run("invalid signature is rejected", func(t *testing.T) {
		ta := newPaymentTestApp(t)

		resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet,
			"/payments/return?vnp_TxnRef=VNPX&vnp_SecureHash=bad", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestListBanks(t *testing.T) {
	ta := newPaymentTestApp(t)

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/payments/banks", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeBody(t, resp)
	banks, ok := payload["banks"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, banks)
}

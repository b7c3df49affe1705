package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	config "github.com/fadovn/fado_crm/configs"
)

// Fields that are never part of the signed representation, no matter where
// they appear in the parameter set.
const (
	SecureHashField     = "vnp_SecureHash"
	SecureHashTypeField = "vnp_SecureHashType"
)

const (
	ResponseCodeField = "vnp_ResponseCode"
	TxnRefField       = "vnp_TxnRef"
	AmountField       = "vnp_Amount"

	// ResponseCodeSuccess is the gateway's designated success code; every
	// other response code maps to a failed payment.
	ResponseCodeSuccess = "00"
)

const createDateLayout = "20060102150405"

// CanonicalString builds the deterministic string the signature is computed
// over: excluded and empty fields dropped, keys sorted ascending, values
// form-encoded (space becomes '+'), pairs joined with '&'.
func CanonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == SecureHashField || k == SecureHashTypeField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(pairs, "&")
}

// SignParams returns the HMAC-SHA512 hex digest of the canonical string.
// SHA-512 is fixed by the gateway's published contract.
func SignParams(params map[string]string, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(CanonicalString(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the digest and compares it, case-insensitively
// and in constant time, against the vnp_SecureHash the caller supplied.
func VerifySignature(params map[string]string, secret string) bool {
	provided := strings.ToLower(params[SecureHashField])
	if provided == "" {
		return false
	}
	calculated := SignParams(params, secret)
	return hmac.Equal([]byte(provided), []byte(calculated))
}

// VNPayGateway builds outbound payment URLs for the configured merchant.
type VNPayGateway struct {
	cfg config.VNPayConfig

	version  string
	command  string
	currency string
	locale   string
}

func NewVNPayGateway(cfg config.VNPayConfig) *VNPayGateway {
	return &VNPayGateway{
		cfg:      cfg,
		version:  "2.1.0",
		command:  "pay",
		currency: "VND",
		locale:   "vn",
	}
}

func (g *VNPayGateway) HashSecret() string {
	return g.cfg.HashSecret
}

// BuildPaymentURL assembles the gateway parameter set for one transaction,
// signs it and renders the redirect URL. The amount is scaled to the
// gateway's minor-unit convention (x100).
func (g *VNPayGateway) BuildPaymentURL(txnRef string, amount float64, orderInfo string) string {
	params := map[string]string{
		"vnp_Version":    g.version,
		"vnp_Command":    g.command,
		"vnp_TmnCode":    g.cfg.TmnCode,
		AmountField:      strconv.FormatInt(MinorUnits(amount), 10),
		"vnp_CurrCode":   g.currency,
		TxnRefField:      txnRef,
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     g.locale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_CreateDate": time.Now().Format(createDateLayout),
	}

	secureHash := SignParams(params, g.cfg.HashSecret)
	query := CanonicalString(params)
	return g.cfg.PayURL + "?" + query + "&" + SecureHashField + "=" + url.QueryEscape(secureHash)
}

// MinorUnits converts a major-unit amount into the gateway's integer
// minor-unit representation.
func MinorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

// ParseMinorUnits reads the gateway's vnp_Amount field.
func ParseMinorUnits(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// SupportedBanks is the static list shown on the checkout page.
func SupportedBanks() []Bank {
	return []Bank{
		{Code: "VIETCOMBANK", Name: "Vietcombank", Type: "atm"},
		{Code: "VIETINBANK", Name: "VietinBank", Type: "atm"},
		{Code: "BIDV", Name: "BIDV", Type: "atm"},
	}
}

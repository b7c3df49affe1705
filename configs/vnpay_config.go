package config

// VNPayConfig carries everything the gateway integration needs. It is loaded
// once at startup and passed into the signer, builder and reconciler by value,
// so none of them read the environment themselves.
type VNPayConfig struct {
	PayURL     string
	TmnCode    string
	HashSecret string
	ReturnURL  string
}

const vnpaySandboxURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"

func LoadVNPayConfig() VNPayConfig {
	cfg := VNPayConfig{
		PayURL:     Config("VNPAY_PAY_URL"),
		TmnCode:    Config("VNPAY_TMN_CODE"),
		HashSecret: Config("VNPAY_HASH_SECRET"),
		ReturnURL:  Config("VNPAY_RETURN_URL"),
	}
	if cfg.PayURL == "" {
		cfg.PayURL = vnpaySandboxURL
	}
	return cfg
}

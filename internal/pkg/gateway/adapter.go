package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
	paramResponseCode   = "vnp_ResponseCode"
	paramTxnRef         = "vnp_TxnRef"
	paramTransactionNo  = "vnp_TransactionNo"
	paramAmount         = "vnp_Amount"

	// ResponseCodeSuccess is the gateway's "approved" response code.
	ResponseCodeSuccess = "00"

	createDateLayout = "20060102150405"
)

// Adapter builds signed redirect payment URLs and verifies signed return
// callbacks. Both directions share one canonicalization: keys sorted
// lexicographically, values query-escaped (space encoded as '+'), joined as a
// query string and HMAC-SHA512 signed with the shared secret. The two sides
// must stay byte-exact with each other or every callback fails verification.
type Adapter struct {
	cfg     Config
	charger TokenCharger
	now     func() time.Time
}

// NewAdapter validates the configuration and returns a ready adapter.
// Construction fails with ErrMissingConfig when merchant code, secret or
// base URL are absent.
func NewAdapter(cfg Config, charger TokenCharger) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if charger == nil {
		charger = NewSimulatedCharger()
	}

	return &Adapter{
		cfg:     cfg,
		charger: charger,
		now:     time.Now,
	}, nil
}

// PaymentRequest describes one redirect payment to be signed into a URL.
// Amount is in major currency units; the wire format carries it multiplied
// by 100 per gateway convention.
type PaymentRequest struct {
	TxnRef    string
	OrderInfo string
	OrderType string
	Amount    int64
	ClientIP  string
	BankCode  string
	ExpireAt  *time.Time
}

// BuildPaymentURL assembles the ordered parameter set, signs it and returns
// the full redirect URL with the trailing vnp_SecureHash parameter.
func (a *Adapter) BuildPaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("gateway: txn ref is required")
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("gateway: amount must be positive, got %d", req.Amount)
	}

	params := url.Values{}
	params.Set("vnp_Version", a.cfg.Version)
	params.Set("vnp_Command", defaultCommand)
	params.Set("vnp_TmnCode", a.cfg.TmnCode)
	params.Set("vnp_Locale", a.cfg.Locale)
	params.Set("vnp_CurrCode", a.cfg.CurrCode)
	params.Set(paramTxnRef, req.TxnRef)
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", req.OrderType)
	params.Set(paramAmount, strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_ReturnUrl", a.cfg.ReturnURL)
	params.Set("vnp_IpAddr", req.ClientIP)
	params.Set("vnp_CreateDate", a.now().Format(createDateLayout))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}
	if req.ExpireAt != nil {
		params.Set("vnp_ExpireDate", req.ExpireAt.Format(createDateLayout))
	}

	query := canonicalQuery(params)
	hash := a.sign(query)

	return a.cfg.BaseURL + "?" + query + "&" + paramSecureHash + "=" + hash, nil
}

// VerifyCallback recomputes the signature over the received parameters
// (minus the hash fields) and compares it against the received digest in
// constant time. A false result means the callback must be treated as
// untrusted: no state may be mutated from it.
func (a *Adapter) VerifyCallback(params url.Values) bool {
	received := params.Get(paramSecureHash)
	if received == "" {
		return false
	}

	rest := url.Values{}
	for key, vals := range params {
		if key == paramSecureHash || key == paramSecureHashType {
			continue
		}
		for _, v := range vals {
			rest.Add(key, v)
		}
	}

	expected := a.sign(canonicalQuery(rest))

	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	receivedBytes, err := hex.DecodeString(strings.ToLower(received))
	if err != nil {
		return false
	}
	return hmac.Equal(expectedBytes, receivedBytes)
}

// CallbackResult is the interpreted, signature-checked content of a gateway
// return callback.
type CallbackResult struct {
	TxnRef        string
	TransactionNo string
	ResponseCode  string
	Amount        int64
	Success       bool
	Message       string
}

// ParseCallback verifies and interprets a return callback in one step.
func (a *Adapter) ParseCallback(params url.Values) (*CallbackResult, error) {
	if !a.VerifyCallback(params) {
		return nil, ErrInvalidSignature
	}

	code := params.Get(paramResponseCode)
	amount, _ := strconv.ParseInt(params.Get(paramAmount), 10, 64)

	return &CallbackResult{
		TxnRef:        params.Get(paramTxnRef),
		TransactionNo: params.Get(paramTransactionNo),
		ResponseCode:  code,
		Amount:        amount / 100,
		Success:       code == ResponseCodeSuccess,
		Message:       ResponseCodeMessage(code),
	}, nil
}

// Charge attempts a server-to-server charge against a previously
// stored token. The context bounds the call; a deadline hit surfaces as a
// failed ChargeResult, never as a hang.
func (a *Adapter) Charge(ctx context.Context, token string, amount int64) ChargeResult {
	return a.charger.Charge(ctx, token, amount)
}

func (a *Adapter) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(a.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery renders params as the canonical signing string:
// lexicographically sorted keys, query-escaped values with space as '+'.
// url.Values.Encode provides exactly these semantics.
func canonicalQuery(params url.Values) string {
	// Drop empty values; the gateway omits them from its own signature base.
	filtered := url.Values{}
	for key, vals := range params {
		for _, v := range vals {
			if v != "" {
				filtered.Add(key, v)
			}
		}
	}
	return filtered.Encode()
}

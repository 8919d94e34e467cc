package payment

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/config"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"go.uber.org/zap"
)

const dragonpayName = "dragonpay"

type dragonpayGateway struct {
	merchantID string
	secretKey  string
	payURL     string
	apiURL     string
	currency   string
	httpClient *http.Client
}

// ----------------- Constructor -----------------

func NewDragonpayGateway(cfg config.Dragonpay) Gateway {
	if cfg.MerchantID == "" || cfg.SecretKey == "" {
		logger.L().Warn("Dragonpay merchant credentials are empty")
	}

	currency := cfg.Currency
	if currency == "" {
		currency = "PHP"
	}

	return &dragonpayGateway{
		merchantID: cfg.MerchantID,
		secretKey:  cfg.SecretKey,
		payURL:     cfg.PayURL,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		currency:   currency,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (d *dragonpayGateway) Name() string { return dragonpayName }

func (d *dragonpayGateway) AckToken() string { return "result=OK" }

// ----------------- Initiate -----------------

// Initiate builds the signed redirect URL. Dragonpay's pay page is a plain
// GET, so no request leaves the process here.
func (d *dragonpayGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "Initiate"),
		zap.String("txn_id", req.TransactionID),
	)

	if d.merchantID == "" || d.secretKey == "" || d.payURL == "" {
		return nil, &GatewayError{Op: "initiate", Err: ErrNotConfigured}
	}
	if req.TransactionID == "" || !req.Amount.IsPositive() {
		return nil, &GatewayError{Op: "initiate", Err: fmt.Errorf("invalid payment request for %q", req.TransactionID)}
	}

	currency := req.Currency
	if currency == "" {
		currency = d.currency
	}
	amount := req.Amount.StringFixed(2)

	digest := InitiateDigest(d.merchantID, req.TransactionID, amount, currency, req.Description, req.Email, d.secretKey)

	q := url.Values{}
	q.Set("merchantid", strings.ToUpper(d.merchantID))
	q.Set("txnid", req.TransactionID)
	q.Set("amount", amount)
	q.Set("ccy", currency)
	q.Set("description", req.Description)
	q.Set("email", req.Email)
	q.Set("digest", digest)

	payURL := d.payURL + "?" + q.Encode()

	log.Info("payment url generated", zap.String("amount", amount), zap.String("currency", currency))

	return &InitiateResponse{
		TransactionID: req.TransactionID,
		PaymentURL:    payURL,
	}, nil
}

// ----------------- Callbacks -----------------

func (d *dragonpayGateway) ParseCallback(values url.Values) (*Callback, error) {
	cb := &Callback{
		TransactionID:   strings.TrimSpace(values.Get("txnid")),
		ReferenceNumber: strings.TrimSpace(values.Get("refno")),
		GatewayStatus:   strings.ToUpper(strings.TrimSpace(values.Get("status"))),
		Message:         values.Get("message"),
		Digest:          strings.TrimSpace(values.Get("digest")),
		Raw:             values,
	}

	if cb.TransactionID == "" {
		return nil, fmt.Errorf("%w: txnid", ErrMissingField)
	}
	if cb.GatewayStatus == "" {
		return nil, fmt.Errorf("%w: status", ErrMissingField)
	}
	return cb, nil
}

func (d *dragonpayGateway) VerifyCallback(cb *Callback) bool {
	if cb == nil || cb.Digest == "" || d.secretKey == "" {
		return false
	}
	expected := CallbackDigest(cb.TransactionID, cb.ReferenceNumber, cb.GatewayStatus, cb.Message, d.secretKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(cb.Digest))) == 1
}

// ----------------- Inquire -----------------

type dragonpayInquiryResponse struct {
	RefNo       string `json:"RefNo"`
	TxnID       string `json:"TxnId"`
	Status      string `json:"Status"`
	Description string `json:"Description"`
	Message     string `json:"Message"`
}

func (d *dragonpayGateway) Inquire(ctx context.Context, transactionID string) (*InquiryResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "Inquire"),
		zap.String("txn_id", transactionID),
	)

	if d.apiURL == "" || d.merchantID == "" {
		return nil, &GatewayError{Op: "inquire", Err: ErrNotConfigured}
	}

	endpoint := fmt.Sprintf("%s/txnid/%s", d.apiURL, url.PathEscape(transactionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Error("failed building request", zap.Error(err))
		return nil, &GatewayError{Op: "inquire", Err: err}
	}
	req.SetBasicAuth(d.merchantID, d.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		log.Error("request to Dragonpay failed", zap.Error(err))
		return nil, &GatewayError{Op: "inquire", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("failed to read response body", zap.Error(err))
		return nil, &GatewayError{Op: "inquire", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("Dragonpay returned error",
			zap.Int("http_status", resp.StatusCode),
			zap.ByteString("response", body),
		)
		return nil, &GatewayError{Op: "inquire", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}

	var res dragonpayInquiryResponse
	if err := json.Unmarshal(body, &res); err != nil {
		log.Error("failed decoding inquiry response", zap.Error(err))
		return nil, &GatewayError{Op: "inquire", Err: err}
	}

	msg := res.Message
	if msg == "" {
		msg = res.Description
	}
	code := strings.ToUpper(res.Status)

	return &InquiryResult{
		TransactionID:   transactionID,
		ReferenceNumber: res.RefNo,
		GatewayStatus:   code,
		Message:         msg,
		Status:          d.MapStatus(code),
	}, nil
}

// ----------------- Status mapping -----------------

// MapStatus translates Dragonpay's single-letter codes. Unknown codes are
// treated as pending so nothing moves until the gateway is explicit.
func (d *dragonpayGateway) MapStatus(code string) Status {
	switch strings.ToUpper(code) {
	case "S":
		return StatusCompleted
	case "F", "K", "V":
		return StatusFailed
	case "R":
		return StatusRefunded
	default:
		return StatusPending
	}
}

// ----------------- Digests -----------------

func InitiateDigest(merchantID, txnID, amount, currency, description, email, secret string) string {
	return sha1Hex(strings.Join([]string{
		strings.ToUpper(merchantID), txnID, amount, currency, description, email, secret,
	}, ":"))
}

func CallbackDigest(txnID, refNo, status, message, secret string) string {
	return sha1Hex(strings.Join([]string{txnID, refNo, status, message, secret}, ":"))
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

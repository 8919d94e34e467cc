package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/address"
	"github.com/seiixin/PakbetTV-sub001/internal/config"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"go.uber.org/zap"
)

const (
	ninjavanName = "ninjavan"
	// refresh a little before the carrier's own expiry
	tokenSkew = 30 * time.Second
)

var errUnauthorized = errors.New("unauthorized")

type ninjavanCarrier struct {
	cfg        config.NinjaVan
	baseURL    string
	country    string
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// ----------------- Constructor -----------------

func NewNinjaVanCarrier(cfg config.NinjaVan) Carrier {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		logger.L().Warn("NinjaVan client credentials are empty")
	}

	return &ninjavanCarrier{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		country: strings.ToUpper(cfg.Country),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		now: time.Now,
	}
}

func (n *ninjavanCarrier) Name() string { return ninjavanName }

// ----------------- Token -----------------

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (n *ninjavanCarrier) accessToken(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.token != "" && n.now().Before(n.tokenExpiry) {
		return n.token, nil
	}

	if n.cfg.ClientID == "" || n.cfg.ClientSecret == "" {
		return "", &CarrierError{Op: "auth", Err: ErrNotConfigured}
	}

	body, _ := json.Marshal(map[string]string{
		"client_id":     n.cfg.ClientID,
		"client_secret": n.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint("2.0/oauth/access_token"), bytes.NewReader(body))
	if err != nil {
		return "", &CarrierError{Op: "auth", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", &CarrierError{Op: "auth", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CarrierError{Op: "auth", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &CarrierError{Op: "auth", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		if err == nil {
			err = errors.New("empty access token")
		}
		return "", &CarrierError{Op: "auth", Err: err}
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= tokenSkew {
		ttl = 2 * tokenSkew
	}
	n.token = tok.AccessToken
	n.tokenExpiry = n.now().Add(ttl - tokenSkew)

	logger.FromCtx(ctx).Debug("ninjavan token refreshed", zap.Duration("ttl", ttl))
	return n.token, nil
}

func (n *ninjavanCarrier) invalidateToken() {
	n.mu.Lock()
	n.token = ""
	n.tokenExpiry = time.Time{}
	n.mu.Unlock()
}

// ----------------- Transport -----------------

func (n *ninjavanCarrier) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", n.baseURL, n.country, path)
}

// call sends an authorized request. A 401 drops the cached token and the
// request is retried once with a fresh one.
func (n *ninjavanCarrier) call(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, &CarrierError{Op: op, Err: err}
		}
		body = b
	}

	raw, err := n.do(ctx, op, method, path, body)
	if errors.Is(err, errUnauthorized) {
		n.invalidateToken()
		raw, err = n.do(ctx, op, method, path, body)
	}
	return raw, err
}

func (n *ninjavanCarrier) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	token, err := n.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.endpoint(path), reader)
	if err != nil {
		return nil, &CarrierError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, &CarrierError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CarrierError{Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &CarrierError{Op: op, StatusCode: resp.StatusCode, Err: errUnauthorized}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CarrierError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}
	return raw, nil
}

// ----------------- CreateShipment -----------------

type nvAddress struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	Area     string `json:"area,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country"`
}

type nvContact struct {
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	Email       string    `json:"email,omitempty"`
	Address     nvAddress `json:"address"`
}

type nvOrderRequest struct {
	ServiceType  string `json:"service_type"`
	ServiceLevel string `json:"service_level"`
	Reference    struct {
		MerchantOrderNumber string `json:"merchant_order_number"`
	} `json:"reference"`
	From      nvContact `json:"from"`
	To        nvContact `json:"to"`
	ParcelJob struct {
		IsPickupRequired  bool     `json:"is_pickup_required"`
		DeliveryStartDate string   `json:"delivery_start_date"`
		CashOnDelivery    *float64 `json:"cash_on_delivery,omitempty"`
		InsuredValue      float64  `json:"insured_value,omitempty"`
		Dimensions        struct {
			Size string `json:"size"`
		} `json:"dimensions"`
		DeliveryInstructions string `json:"delivery_instructions,omitempty"`
	} `json:"parcel_job"`
}

type nvOrderResponse struct {
	TrackingNumber          string `json:"tracking_number"`
	RequestedTrackingNumber string `json:"requested_tracking_number"`
	Reference               struct {
		MerchantOrderNumber string `json:"merchant_order_number"`
	} `json:"reference"`
}

func (n *ninjavanCarrier) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "carrier"),
		zap.String("method", "CreateShipment"),
		zap.Uint("order_id", req.OrderID),
		zap.String("order_code", req.OrderCode),
	)

	to, confidence := address.Resolve(&req.Recipient)
	if to.Address1 == "" || to.City == "" {
		log.Warn("recipient address cannot be shipped", zap.String("confidence", string(confidence)))
		return nil, &CarrierError{Op: "create_shipment", Err: address.ErrIncompleteAddress}
	}
	if confidence == address.ConfidenceLow {
		log.Warn("shipping with low confidence legacy address")
	}

	body := nvOrderRequest{
		ServiceType:  "Parcel",
		ServiceLevel: "Standard",
		From: nvContact{
			Name:        n.cfg.ShipperName,
			PhoneNumber: n.cfg.ShipperPhone,
			Email:       n.cfg.ShipperEmail,
			Address: nvAddress{
				Address1: n.cfg.ShipperAddr,
				City:     n.cfg.ShipperCity,
				Postcode: n.cfg.ShipperPost,
				Country:  n.country,
			},
		},
		To: nvContact{
			Name:        to.RecipientName,
			PhoneNumber: to.Phone,
			Email:       to.Email,
			Address: nvAddress{
				Address1: to.Address1,
				Address2: to.Address2,
				Area:     to.Barangay,
				City:     to.City,
				State:    to.Province,
				Postcode: to.Postcode,
				Country:  countryOr(to.Country, n.country),
			},
		},
	}
	body.Reference.MerchantOrderNumber = req.OrderCode
	body.ParcelJob.IsPickupRequired = true
	body.ParcelJob.DeliveryStartDate = n.now().Format("2006-01-02")
	body.ParcelJob.Dimensions.Size = "S"
	body.ParcelJob.InsuredValue = req.ParcelValue.InexactFloat64()
	if req.CashOnDelivery.IsPositive() {
		cod := req.CashOnDelivery.Round(2).InexactFloat64()
		body.ParcelJob.CashOnDelivery = &cod
	}
	if confidence == address.ConfidenceLow && req.Recipient.LegacyAddress != nil {
		body.ParcelJob.DeliveryInstructions = *req.Recipient.LegacyAddress
	}

	raw, err := n.call(ctx, "create_shipment", http.MethodPost, "4.2/orders", body)
	if err != nil {
		log.Error("shipment request failed", zap.Error(err))
		return nil, err
	}

	var res nvOrderResponse
	if err := json.Unmarshal(raw, &res); err != nil || res.TrackingNumber == "" {
		if err == nil {
			err = errors.New("response has no tracking number")
		}
		log.Error("failed decoding shipment response", zap.Error(err))
		return nil, &CarrierError{Op: "create_shipment", Err: err}
	}

	ref := res.Reference.MerchantOrderNumber
	if ref == "" {
		ref = res.RequestedTrackingNumber
	}

	log.Info("shipment created", zap.String("tracking_number", res.TrackingNumber))
	return &ShipmentResult{TrackingNumber: res.TrackingNumber, CarrierReference: ref}, nil
}

func countryOr(v, fallback string) string {
	if v != "" {
		return strings.ToUpper(v)
	}
	return fallback
}

// ----------------- Cancel -----------------

func (n *ninjavanCarrier) Cancel(ctx context.Context, trackingNumber string) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "carrier"),
		zap.String("method", "Cancel"),
		zap.String("tracking_number", trackingNumber),
	)

	if _, err := n.call(ctx, "cancel", http.MethodDelete, "2.2/orders/"+url.PathEscape(trackingNumber), nil); err != nil {
		log.Error("cancel failed", zap.Error(err))
		return err
	}

	log.Info("shipment cancelled at carrier")
	return nil
}

// ----------------- Track -----------------

type nvTrackingResponse struct {
	Data []struct {
		TrackingNumber string `json:"tracking_number"`
		Status         string `json:"status"`
		Comments       string `json:"comments"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

func (n *ninjavanCarrier) Track(ctx context.Context, trackingNumber string) ([]TrackingEvent, error) {
	raw, err := n.call(ctx, "track", http.MethodGet, "1.0/orders/tracking-events/"+url.PathEscape(trackingNumber), nil)
	if err != nil {
		logger.FromCtx(ctx).Error("tracking inquiry failed",
			zap.String("layer", "carrier"),
			zap.String("tracking_number", trackingNumber),
			zap.Error(err),
		)
		return nil, err
	}

	var res nvTrackingResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &CarrierError{Op: "track", Err: err}
	}

	events := make([]TrackingEvent, 0, len(res.Data))
	for _, e := range res.Data {
		at, _ := parseTimestamp(e.Timestamp)
		tn := e.TrackingNumber
		if tn == "" {
			tn = trackingNumber
		}
		events = append(events, TrackingEvent{
			TrackingNumber: tn,
			Status:         e.Status,
			Description:    e.Comments,
			OccurredAt:     at,
		})
	}
	return events, nil
}

package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/address"
	"github.com/seiixin/PakbetTV-sub001/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockRoundTripper func(req *http.Request) *http.Response

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

var carrierNow = time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)

func newTestCarrier(rt http.RoundTripper) *ninjavanCarrier {
	c := NewNinjaVanCarrier(config.NinjaVan{
		BaseURL:      "https://api-sandbox.ninjavan.co/",
		Country:      "ph",
		ClientID:     "client",
		ClientSecret: "secret",
		ShipperName:  "PakbetTV",
		ShipperPhone: "0288880000",
		ShipperAddr:  "1 Warehouse Rd",
		ShipperCity:  "Pasig",
		ShipperPost:  "1600",
	}).(*ninjavanCarrier)
	c.httpClient.Transport = rt
	c.now = func() time.Time { return carrierNow }
	return c
}

func testRequest() ShipmentRequest {
	return ShipmentRequest{
		OrderID:   42,
		OrderCode: "PBT-20250620-42",
		Recipient: address.Detail{
			RecipientName: "Juan Dela Cruz",
			Phone:         "09171234567",
			Address1:      "123 Rizal St.",
			Barangay:      "Poblacion",
			City:          "Makati",
			Province:      "Metro Manila",
			Postcode:      "1210",
		},
		ItemCount:   2,
		ParcelValue: decimal.RequireFromString("300"),
	}
}

const tokenPath = "/PH/2.0/oauth/access_token"

func TestNinjaVan_CreateShipment(t *testing.T) {
	var tokenCalls, orderCalls int32

	c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
		switch req.URL.Path {
		case tokenPath:
			atomic.AddInt32(&tokenCalls, 1)
			return jsonResponse(http.StatusOK, `{"access_token":"tok-1","expires_in":300,"token_type":"bearer"}`)
		case "/PH/4.2/orders":
			atomic.AddInt32(&orderCalls, 1)
			assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			to := body["to"].(map[string]any)
			addr := to["address"].(map[string]any)
			assert.Equal(t, "Makati", addr["city"])
			assert.Equal(t, "Poblacion", addr["area"])
			assert.Equal(t, "PH", addr["country"])
			job := body["parcel_job"].(map[string]any)
			assert.Equal(t, "2025-06-20", job["delivery_start_date"])
			_, hasCOD := job["cash_on_delivery"]
			assert.False(t, hasCOD)

			return jsonResponse(http.StatusOK, `{"tracking_number":"NVPH0001","reference":{"merchant_order_number":"PBT-20250620-42"}}`)
		}
		t.Fatalf("unexpected path %s", req.URL.Path)
		return nil
	}))

	res, err := c.CreateShipment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "NVPH0001", res.TrackingNumber)
	assert.Equal(t, "PBT-20250620-42", res.CarrierReference)

	// token is cached for the second call
	_, err = c.CreateShipment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&orderCalls))
}

func TestNinjaVan_CreateShipment_CashOnDelivery(t *testing.T) {
	c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
		if req.URL.Path == tokenPath {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":300}`)
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		job := body["parcel_job"].(map[string]any)
		assert.Equal(t, 400.5, job["cash_on_delivery"])
		return jsonResponse(http.StatusOK, `{"tracking_number":"NVPH0002"}`)
	}))

	req := testRequest()
	req.CashOnDelivery = decimal.RequireFromString("400.50")

	_, err := c.CreateShipment(context.Background(), req)
	require.NoError(t, err)
}

func TestNinjaVan_RefreshesTokenOn401(t *testing.T) {
	var tokenCalls, orderCalls int32

	c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
		if req.URL.Path == tokenPath {
			n := atomic.AddInt32(&tokenCalls, 1)
			return jsonResponse(http.StatusOK, `{"access_token":"tok-`+string(rune('0'+n))+`","expires_in":300}`)
		}
		atomic.AddInt32(&orderCalls, 1)
		if req.Header.Get("Authorization") == "Bearer tok-1" {
			return jsonResponse(http.StatusUnauthorized, `{"error":"token revoked"}`)
		}
		return jsonResponse(http.StatusOK, `{"tracking_number":"NVPH0003"}`)
	}))

	res, err := c.CreateShipment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "NVPH0003", res.TrackingNumber)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&orderCalls))
}

func TestNinjaVan_TokenExpiry(t *testing.T) {
	var tokenCalls int32
	c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
		if req.URL.Path == tokenPath {
			atomic.AddInt32(&tokenCalls, 1)
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":120}`)
		}
		return jsonResponse(http.StatusOK, `{"data":[]}`)
	}))

	_, err := c.Track(context.Background(), "NV1")
	require.NoError(t, err)

	c.now = func() time.Time { return carrierNow.Add(2 * time.Minute) }
	_, err = c.Track(context.Background(), "NV1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}

func TestNinjaVan_CreateShipment_Errors(t *testing.T) {
	t.Run("IncompleteAddress", func(t *testing.T) {
		c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
			t.Fatalf("no request expected")
			return nil
		}))
		req := testRequest()
		req.Recipient = address.Detail{RecipientName: "X"}

		_, err := c.CreateShipment(context.Background(), req)
		assert.ErrorIs(t, err, address.ErrIncompleteAddress)
	})

	t.Run("CarrierRejects", func(t *testing.T) {
		c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
			if req.URL.Path == tokenPath {
				return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":300}`)
			}
			return jsonResponse(http.StatusBadRequest, `{"error":"invalid postcode"}`)
		}))

		_, err := c.CreateShipment(context.Background(), testRequest())
		var cErr *CarrierError
		require.True(t, errors.As(err, &cErr))
		assert.Equal(t, http.StatusBadRequest, cErr.StatusCode)
		assert.Contains(t, cErr.Error(), "invalid postcode")
	})

	t.Run("AuthFails", func(t *testing.T) {
		c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusForbidden, `bad client`)
		}))

		_, err := c.CreateShipment(context.Background(), testRequest())
		var cErr *CarrierError
		require.True(t, errors.As(err, &cErr))
		assert.Equal(t, "auth", cErr.Op)
	})
}

func TestNinjaVan_LegacyAddress(t *testing.T) {
	c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
		if req.URL.Path == tokenPath {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":300}`)
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		addr := body["to"].(map[string]any)["address"].(map[string]any)
		assert.Equal(t, "45 Katipunan Ave", addr["address1"])
		assert.Equal(t, "Quezon City", addr["city"])
		assert.Equal(t, "1108", addr["postcode"])
		return jsonResponse(http.StatusOK, `{"tracking_number":"NVPH0004"}`)
	}))

	legacy := "45 Katipunan Ave, Quezon City 1108"
	req := testRequest()
	req.Recipient = address.Detail{RecipientName: "Ana", Phone: "0917", LegacyAddress: &legacy}

	res, err := c.CreateShipment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "NVPH0004", res.TrackingNumber)
}

func TestNinjaVan_Cancel(t *testing.T) {
	c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
		if req.URL.Path == tokenPath {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":300}`)
		}
		assert.Equal(t, http.MethodDelete, req.Method)
		assert.Equal(t, "/PH/2.2/orders/NVPH0001", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"trackingId":"NVPH0001","status":"Cancelled"}`)
	}))

	assert.NoError(t, c.Cancel(context.Background(), "NVPH0001"))
}

func TestNinjaVan_Track(t *testing.T) {
	c := newTestCarrier(MockRoundTripper(func(req *http.Request) *http.Response {
		if req.URL.Path == tokenPath {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":300}`)
		}
		assert.True(t, strings.HasSuffix(req.URL.Path, "/1.0/orders/tracking-events/NVPH0001"))
		return jsonResponse(http.StatusOK, `{"data":[
			{"tracking_number":"NVPH0001","status":"Pending Pickup","timestamp":"2025-06-19T01:00:00Z"},
			{"status":"Successful Delivery","comments":"Received by guard","timestamp":"2025-06-20T03:00:00Z"}
		]}`)
	}))

	events, err := c.Track(context.Background(), "NVPH0001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "NVPH0001", events[1].TrackingNumber)
	assert.Equal(t, "Received by guard", events[1].Description)
	assert.Equal(t, time.Date(2025, 6, 20, 3, 0, 0, 0, time.UTC), events[1].OccurredAt)
}

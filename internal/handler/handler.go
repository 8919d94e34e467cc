package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/auth"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"
	"github.com/seiixin/PakbetTV-sub001/internal/order"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/scheduler"
	"github.com/seiixin/PakbetTV-sub001/internal/shipping"
	"github.com/seiixin/PakbetTV-sub001/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// OrderService is the part of the order service exposed over HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, in order.CreateOrderInput) (*order.CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID, userID uint, isAdmin bool) (*order.Order, error)
	InitiatePayment(ctx context.Context, orderID, userID uint) (*payment.InitiateResponse, error)
	InquirePayment(ctx context.Context, transactionID string, apply bool) (*payment.InquiryResult, *order.PaymentOutcome, error)
	BookShipment(ctx context.Context, orderID uint) (*shipping.Shipment, error)
	CancelShipment(ctx context.Context, trackingNumber string) error
	TrackShipment(ctx context.Context, trackingNumber string) ([]shipping.TrackingEvent, error)
}

type Handler struct {
	orders        OrderService
	timeoutSweep  scheduler.Job
	autoCompleter scheduler.Job
}

func New(orders OrderService, timeoutSweep, autoCompleter scheduler.Job) *Handler {
	return &Handler{orders: orders, timeoutSweep: timeoutSweep, autoCompleter: autoCompleter}
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	var req checkoutRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := order.CreateOrderInput{
		UserID:        p.UserID,
		Items:         make([]order.ItemInput, 0, len(req.Items)),
		Address:       req.Address.detail(),
		PaymentMethod: req.PaymentMethod,
		PromoCode:     req.PromoCode,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, order.ItemInput{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}

	res, err := h.orders.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, toCheckoutResponse(res))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(r.Context(), orderID, p.UserID, p.IsAdmin())
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	resp, err := h.orders.InitiatePayment(r.Context(), orderID, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"transaction_id": resp.TransactionID,
		"payment_url":    resp.PaymentURL,
	})
}

// ----------------- Operator endpoints -----------------

func (h *Handler) RunTimeoutSweep(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, h.timeoutSweep)
}

func (h *Handler) RunAutoComplete(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, h.autoCompleter)
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request, job scheduler.Job) {
	p, _ := auth.PrincipalFrom(r.Context())
	logger.FromCtx(r.Context()).Info("manual reconciliation run",
		zap.String("job", job.Name()),
		zap.Uint("operator_id", p.UserID),
	)

	res, err := job.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"job":         res.Job,
		"scanned":     res.Scanned,
		"processed":   res.Processed,
		"skipped":     res.Skipped,
		"failed":      res.Failed,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnID")
	apply, _ := strconv.ParseBool(r.URL.Query().Get("apply"))

	res, out, err := h.orders.InquirePayment(r.Context(), txnID, apply)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := map[string]any{
		"transaction_id":   res.TransactionID,
		"reference_number": res.ReferenceNumber,
		"gateway_status":   res.GatewayStatus,
		"status":           res.Status,
		"message":          res.Message,
	}
	if out != nil {
		body["order_id"] = out.OrderID
		body["outcome"] = out.Outcome
	}
	utils.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) BookShipment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	sh, err := h.orders.BookShipment(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"order_id":        sh.OrderID,
		"tracking_number": utils.PtrString(sh.TrackingNumber),
		"carrier":         sh.Carrier,
		"status":          sh.Status,
	})
}

func (h *Handler) TrackShipment(w http.ResponseWriter, r *http.Request) {
	tn := chi.URLParam(r, "trackingNumber")
	events, err := h.orders.TrackShipment(r.Context(), tn)
	if err != nil {
		writeError(w, r, err)
		return
	}

	type trackingEvent struct {
		Status      string `json:"status"`
		Description string `json:"description,omitempty"`
		OccurredAt  string `json:"occurred_at"`
	}
	out := make([]trackingEvent, 0, len(events))
	for _, e := range events {
		out = append(out, trackingEvent{
			Status:      e.Status,
			Description: e.Description,
			OccurredAt:  e.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"tracking_number": tn, "events": out})
}

func (h *Handler) CancelShipment(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.CancelShipment(r.Context(), chi.URLParam(r, "trackingNumber")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := utils.ToUint(chi.URLParam(r, "orderID"))
	if err != nil || id == 0 {
		utils.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id", Field: "orderID"})
		return 0, false
	}
	return id, true
}

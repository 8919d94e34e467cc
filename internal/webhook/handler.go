package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/logger"
	"github.com/seiixin/PakbetTV-sub001/internal/middleware"
	"github.com/seiixin/PakbetTV-sub001/internal/order"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/shipping"
	"github.com/seiixin/PakbetTV-sub001/internal/utils"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// OrderService is what inbound notifications are applied to.
type OrderService interface {
	ApplyPaymentResult(ctx context.Context, res order.PaymentResult) (*order.PaymentOutcome, error)
	ApplyCarrierEvent(ctx context.Context, evt shipping.WebhookEvent) (order.Outcome, error)
}

type Handler struct {
	orders    OrderService
	gateway   payment.Gateway
	logs      Repository
	returnURL string
	now       func() time.Time
}

// NewHandler builds the webhook endpoints. returnURL is the storefront base
// URL customers are sent back to after paying.
func NewHandler(orders OrderService, gateway payment.Gateway, logs Repository, returnURL string) *Handler {
	return &Handler{
		orders:    orders,
		gateway:   gateway,
		logs:      logs,
		returnURL: strings.TrimRight(returnURL, "/"),
		now:       time.Now,
	}
}

// DragonpayPostback handles the gateway's server-to-server notification.
// Once the digest checks out the gateway always gets its acknowledgment,
// even when applying the result failed; the failure stays in webhook_logs.
func (h *Handler) DragonpayPostback(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithFields(r.Context(), zap.String("source", SourceDragonpay))
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("method", "DragonpayPostback"),
	)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		log.Warn("unreadable postback", zap.Error(err))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	payload, _ := json.Marshal(r.Form)

	cb, err := h.gateway.ParseCallback(r.Form)
	if err != nil {
		log.Warn("postback rejected", zap.Error(err))
		h.saveRejected(ctx, Log{Source: SourceDragonpay, Reference: r.Form.Get("txnid"), Payload: payload}, err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log = log.With(zap.String("txn_id", cb.TransactionID), zap.String("status", cb.GatewayStatus))

	entry := Log{
		Source:         SourceDragonpay,
		EventType:      cb.GatewayStatus,
		Reference:      cb.TransactionID,
		SignatureValid: h.gateway.VerifyCallback(cb),
		Payload:        payload,
	}
	if !entry.SignatureValid {
		log.Warn("postback digest mismatch")
		h.saveRejected(ctx, entry, payment.ErrInvalidDigest.Error())
		http.Error(w, "invalid digest", http.StatusUnauthorized)
		return
	}

	id := h.save(ctx, entry)
	out, err := h.orders.ApplyPaymentResult(ctx, order.PaymentResult{
		TransactionID:   cb.TransactionID,
		ReferenceNumber: cb.ReferenceNumber,
		GatewayStatus:   cb.GatewayStatus,
		Message:         cb.Message,
	})
	switch {
	case errors.Is(err, order.ErrPaymentNotFound):
		h.markFailed(ctx, id, OutcomeUnknown, err)
	case err != nil:
		log.Error("failed to apply postback", zap.Error(err))
		h.markFailed(ctx, id, OutcomeFailed, err)
	default:
		h.markProcessed(ctx, id, string(out.Outcome))
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, h.gateway.AckToken())
}

// PaymentReturn sends the customer back to the storefront status page.
// Pending is kept distinct from failed.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txnID := q.Get("txnid")
	status := returnStatus(h.gateway.MapStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))))

	logger.FromCtx(r.Context()).Info("payment return",
		zap.String("txn_id", txnID),
		zap.String("status", status),
	)

	target := url.Values{}
	target.Set("status", status)
	if txnID != "" {
		target.Set("txnid", txnID)
	}
	if msg := q.Get("message"); msg != "" {
		target.Set("message", msg)
	}
	http.Redirect(w, r, h.returnURL+"/payment/status?"+target.Encode(), http.StatusFound)
}

func returnStatus(s payment.Status) string {
	switch s {
	case payment.StatusCompleted:
		return "success"
	case payment.StatusFailed, payment.StatusRefunded:
		return "failed"
	default:
		return "pending"
	}
}

// NinjaVanWebhook ingests a carrier status push. It answers 200 no matter
// what happened so the carrier does not retry; problems are recorded in
// webhook_logs instead.
func (h *Handler) NinjaVanWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithFields(r.Context(), zap.String("source", SourceNinjaVan))
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("method", "NinjaVanWebhook"),
	)
	defer utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "received"})

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read carrier webhook", zap.Error(err))
		return
	}

	evt, err := shipping.ParseWebhook(body, h.now())
	if err != nil {
		log.Warn("carrier webhook rejected", zap.Error(err))
		h.saveRejected(ctx, Log{Source: SourceNinjaVan, SignatureValid: true, Payload: body}, err.Error())
		return
	}
	log = log.With(
		zap.String("tracking_number", evt.TrackingNumber),
		zap.String("event", evt.RawEventType),
	)

	id := h.save(ctx, Log{
		Source:         SourceNinjaVan,
		EventType:      evt.RawEventType,
		Reference:      evt.TrackingNumber,
		SignatureValid: true,
		Payload:        body,
	})

	outcome, err := h.orders.ApplyCarrierEvent(ctx, *evt)
	switch {
	case errors.Is(err, order.ErrShipmentNotFound):
		h.markFailed(ctx, id, OutcomeUnknown, err)
	case err != nil:
		log.Error("failed to apply carrier webhook", zap.Error(err))
		h.markFailed(ctx, id, OutcomeFailed, err)
	default:
		h.markProcessed(ctx, id, string(outcome))
	}
}

// The audit log is best effort: a failed write is logged and processing
// carries on.

func (h *Handler) save(ctx context.Context, l Log) int64 {
	l.RateLimited = middleware.OverQuota(ctx)
	id, err := h.logs.Save(ctx, l)
	if err != nil {
		return 0
	}
	return id
}

func (h *Handler) saveRejected(ctx context.Context, l Log, reason string) {
	if id := h.save(ctx, l); id != 0 {
		h.markFailed(ctx, id, OutcomeRejected, errors.New(reason))
	}
}

func (h *Handler) markProcessed(ctx context.Context, id int64, outcome string) {
	if id == 0 {
		return
	}
	if err := h.logs.MarkProcessed(ctx, id, outcome); err != nil {
		logger.FromCtx(ctx).Error("failed to update webhook log", zap.Int64("webhook_id", id), zap.Error(err))
	}
}

func (h *Handler) markFailed(ctx context.Context, id int64, outcome string, cause error) {
	if id == 0 {
		return
	}
	if err := h.logs.MarkFailed(ctx, id, outcome, cause.Error()); err != nil {
		logger.FromCtx(ctx).Error("failed to update webhook log", zap.Int64("webhook_id", id), zap.Error(err))
	}
}

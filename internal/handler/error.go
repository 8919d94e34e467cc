package handler

import (
	"errors"
	"net/http"

	"github.com/seiixin/PakbetTV-sub001/internal/inventory"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"
	"github.com/seiixin/PakbetTV-sub001/internal/order"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/promotion"
	"github.com/seiixin/PakbetTV-sub001/internal/scheduler"
	"github.com/seiixin/PakbetTV-sub001/internal/shipping"
	"github.com/seiixin/PakbetTV-sub001/internal/utils"

	"go.uber.org/zap"
)

var errInvalidBody = errors.New("request body is not valid JSON")

// writeError maps a service error onto a status code and a body naming the
// offending field, item or promotion where there is one.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr     *order.ValidationError
		stockErr *inventory.InsufficientStockError
		promoErr *promotion.InvalidPromotionError
		gwErr    *payment.GatewayError
		carErr   *shipping.CarrierError
	)

	switch {
	case errors.As(err, &vErr):
		utils.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Error(), Field: vErr.Field})
	case errors.Is(err, order.ErrEmptyCart), errors.Is(err, errInvalidBody):
		utils.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &stockErr):
		available := stockErr.Available
		utils.WriteJSON(w, http.StatusConflict, errorResponse{
			Error:     stockErr.Error(),
			ProductID: stockErr.ProductID,
			Available: &available,
		})
	case errors.As(err, &promoErr):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: promoErr.Error(), Reason: string(promoErr.Reason)})
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrPaymentNotFound),
		errors.Is(err, order.ErrShipmentNotFound):
		utils.WriteJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, order.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, order.ErrNotPayable),
		errors.Is(err, order.ErrNotShippable),
		errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, scheduler.ErrAlreadyRunning):
		utils.WriteJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &gwErr):
		utils.WriteJSON(w, http.StatusBadGateway, errorResponse{Error: "payment gateway unavailable, please retry"})
	case errors.As(err, &carErr):
		utils.WriteJSON(w, http.StatusBadGateway, errorResponse{Error: "carrier unavailable"})
	default:
		logger.FromCtx(r.Context()).Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		utils.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/pawmart/api/internal/platform/httpx"
	"github.com/pawmart/api/internal/repositories"
	"github.com/pawmart/api/internal/services"
)

func writeError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// writeServiceError maps cart, stock and order service errors onto the HTTP envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	if shortage, ok := services.AsStockShortage(err); ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_stock", shortage.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"product_id": shortage.ProductID,
				"requested":  shortage.Requested,
				"available":  shortage.Available,
			}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrStockInvalidInput):
		writeError(w, r, "invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrStockProductNotFound):
		writeError(w, r, "product_not_found", "product not found", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderMissingShipping):
		writeError(w, r, "shipping_not_found", "order has no shipping reference", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderNotFound):
		writeError(w, r, "order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrCartNotFound):
		writeError(w, r, "cart_item_not_found", "cart item not found", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderConflict):
		writeError(w, r, "order_conflict", "order was modified concurrently; retry", http.StatusConflict)
	case errors.Is(err, services.ErrOrderInvalidState):
		writeError(w, r, "order_invalid_state", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrCartUnavailable), isUnavailable(err):
		writeError(w, r, "service_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable)
	default:
		writeError(w, r, "internal_error", "failed to process request", http.StatusInternalServerError)
	}
}

func isUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// errorCode names a failed bulk item for the response payload.
func errorCode(err error) string {
	if _, ok := services.AsStockShortage(err); ok {
		return "insufficient_stock"
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		return "invalid_request"
	case errors.Is(err, services.ErrOrderMissingShipping):
		return "shipping_not_found"
	case errors.Is(err, services.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, services.ErrOrderConflict):
		return "order_conflict"
	case errors.Is(err, services.ErrOrderInvalidState):
		return "order_invalid_state"
	case isUnavailable(err):
		return "service_unavailable"
	}
	return "internal_error"
}

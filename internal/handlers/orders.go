package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/services"
)

const maxOrderBodySize = 8 * 1024

// OrderHandlers exposes checkout and order reads for authenticated customers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	guards []func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, guards ...func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
		guards: guards,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	useGuards(r, h.guards)
	r.Post("/", h.placeOrder)
	r.Get("/{orderID}", h.getOrder)
}

type placeOrderRequest struct {
	CustomerInfo string `json:"customer_info"`
	ShippingID   string `json:"shipping_id"`
	PaymentID    string `json:"payment_id"`
	ShippingFee  int64  `json:"shipping_fee"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, r, "order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable)
		return
	}
	userID, ok := requireUID(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), services.PlaceOrderCommand{
		UserID:       userID,
		CustomerInfo: req.CustomerInfo,
		ShippingID:   req.ShippingID,
		PaymentID:    req.PaymentID,
		ShippingFee:  req.ShippingFee,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, r, "order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable)
		return
	}
	userID, ok := requireUID(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, r, "invalid_request", "order id is required", http.StatusBadRequest)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID, services.OrderReadOptions{UserID: userID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderLinePayload struct {
	ProductID          string  `json:"product_id"`
	CategoryID         string  `json:"category_id,omitempty"`
	Name               string  `json:"name,omitempty"`
	Quantity           int     `json:"quantity"`
	PriceOriginal      int64   `json:"price_original"`
	DiscountPercent    float64 `json:"discount_percent"`
	PriceAfterDiscount int64   `json:"price_after_discount"`
}

type returnRequestPayload struct {
	IsReturned  bool   `json:"is_returned"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ProcessedAt string `json:"processed_at,omitempty"`
	ProcessedBy string `json:"processed_by,omitempty"`
}

type actorStampPayload struct {
	Actor     string `json:"actor"`
	Timestamp string `json:"timestamp"`
}

type orderSummaryPayload struct {
	Subtotal    int64 `json:"subtotal"`
	Discount    int64 `json:"discount"`
	ShippingFee int64 `json:"shipping_fee"`
	Total       int64 `json:"total"`
}

type orderPayload struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id,omitempty"`
	CustomerInfo  string               `json:"customer_info,omitempty"`
	ShippingID    string               `json:"shipping_id,omitempty"`
	PaymentID     string               `json:"payment_id,omitempty"`
	CartID        string               `json:"cart_id,omitempty"`
	Status        string               `json:"status"`
	StatusMessage string               `json:"status_message,omitempty"`
	Lifecycle     string               `json:"lifecycle"`
	Products      []orderLinePayload   `json:"products"`
	ReturnRequest returnRequestPayload `json:"return_request"`
	Summary       orderSummaryPayload  `json:"summary"`
	UpdatedBy     []actorStampPayload  `json:"updated_by,omitempty"`
	DeletedAt     string               `json:"deleted_at,omitempty"`
	DeletedBy     string               `json:"deleted_by,omitempty"`
	Version       int64                `json:"version"`
	CreatedAt     string               `json:"created_at,omitempty"`
	UpdatedAt     string               `json:"updated_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func buildOrderPayload(order services.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Products))
	for _, line := range order.Products {
		lines = append(lines, orderLinePayload{
			ProductID:          line.ProductID,
			CategoryID:         line.CategoryID,
			Name:               line.Name,
			Quantity:           line.Quantity,
			PriceOriginal:      line.PriceOriginal,
			DiscountPercent:    line.DiscountPercent,
			PriceAfterDiscount: line.PriceAfterDiscount,
		})
	}
	var stamps []actorStampPayload
	for _, stamp := range order.UpdatedBy {
		stamps = append(stamps, actorStampPayload{Actor: stamp.Actor, Timestamp: formatTime(stamp.Timestamp)})
	}
	rr := order.ReturnRequest
	return orderPayload{
		ID:            order.ID,
		UserID:        order.UserID,
		CustomerInfo:  order.CustomerInfo,
		ShippingID:    order.ShippingID,
		PaymentID:     order.PaymentID,
		CartID:        order.CartID,
		Status:        string(order.Status),
		StatusMessage: order.Status.Message(),
		Lifecycle:     string(order.Lifecycle()),
		Products:      lines,
		ReturnRequest: returnRequestPayload{
			IsReturned:  rr.IsReturned,
			Status:      rr.Status,
			Reason:      rr.Reason,
			ProcessedAt: formatTimePtr(rr.ProcessedAt),
			ProcessedBy: rr.ProcessedBy,
		},
		Summary: orderSummaryPayload{
			Subtotal:    order.Summary.Subtotal,
			Discount:    order.Summary.Discount,
			ShippingFee: order.Summary.ShippingFee,
			Total:       order.Summary.Total,
		},
		UpdatedBy: stamps,
		DeletedAt: formatTimePtr(order.DeletedAt),
		DeletedBy: order.DeletedBy,
		Version:   order.Version,
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
}

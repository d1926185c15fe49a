package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/services"
)

const (
	maxAdminOrderBodySize = 64 * 1024
	maxBulkOrderIDs       = 500
)

// AdminOrderHandlers exposes order operations for staff and admins.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	guards []func(http.Handler) http.Handler
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, guards ...func(http.Handler) http.Handler) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders, guards: guards}
}

// Routes registers admin order endpoints beneath /admin.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	useGuards(r, h.guards)
	r.Get("/orders", h.listOrders)
	r.Post("/orders:bulkStatus", h.bulkSetStatus)
	r.Post("/orders:bulkDelete", h.bulkSoftDelete)
	r.Post("/orders:bulkRestore", h.bulkRestore)
	r.Post("/orders:bulkPurge", h.bulkPurge)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}/status", h.setStatus)
	r.Delete("/orders/{orderID}", h.softDelete)
	r.Post("/orders/{orderID}:restore", h.restore)
	r.Delete("/orders/{orderID}:purge", h.purge)
}

type adminOrderStatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type adminOrderShippingCount struct {
	ShippingID string `json:"shipping_id"`
	Count      int64  `json:"count"`
}

type adminOrderListResponse struct {
	Orders          []orderPayload            `json:"orders"`
	TotalCount      int64                     `json:"total_count"`
	Page            int                       `json:"page"`
	Limit           int                       `json:"limit"`
	StatusSummary   []adminOrderStatusCount   `json:"status_summary"`
	ShippingSummary []adminOrderShippingCount `json:"shipping_summary"`
}

type setOrderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type bulkOrderStatusRequest struct {
	OrderIDs []string `json:"order_ids"`
	Status   string   `json:"status"`
}

type bulkOrderRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type bulkFailurePayload struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type bulkResultResponse struct {
	Requested int                  `json:"requested"`
	Updated   int                  `json:"updated"`
	Failures  []bulkFailurePayload `json:"failures"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	filter, err := parseAdminOrderFilter(r)
	if err != nil {
		writeError(w, r, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response := adminOrderListResponse{
		Orders:          make([]orderPayload, 0, len(result.Orders)),
		TotalCount:      result.TotalCount,
		Page:            result.Page,
		Limit:           result.Limit,
		StatusSummary:   make([]adminOrderStatusCount, 0, len(result.StatusSummary)),
		ShippingSummary: make([]adminOrderShippingCount, 0, len(result.ShippingSummary)),
	}
	for _, order := range result.Orders {
		response.Orders = append(response.Orders, buildOrderPayload(order))
	}
	for _, bucket := range result.StatusSummary {
		response.StatusSummary = append(response.StatusSummary, adminOrderStatusCount{
			Status: string(bucket.Status),
			Count:  bucket.Count,
		})
	}
	for _, bucket := range result.ShippingSummary {
		response.ShippingSummary = append(response.ShippingSummary, adminOrderShippingCount{
			ShippingID: bucket.ShippingID,
			Count:      bucket.Count,
		})
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func parseAdminOrderFilter(r *http.Request) (services.OrderListFilter, error) {
	query := r.URL.Query()
	var filter services.OrderListFilter

	for _, status := range parseFilterValues(query["status"]) {
		filter.Status = append(filter.Status, domain.OrderStatus(status))
	}
	filter.UserID = strings.TrimSpace(query.Get("user_id"))
	filter.ShippingID = strings.TrimSpace(query.Get("shipping_id"))
	filter.Keyword = strings.TrimSpace(query.Get("keyword"))
	if filter.Keyword == "" {
		filter.Keyword = strings.TrimSpace(query.Get("q"))
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return filter, newQueryError("created_after", err)
		}
		filter.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return filter, newQueryError("created_before", err)
		}
		filter.DateRange.To = &ts
	}

	var err error
	if filter.IncludeDeleted, err = parseBoolParam(query.Get("include_deleted")); err != nil {
		return filter, newQueryError("include_deleted", err)
	}
	if filter.OnlyDeleted, err = parseBoolParam(query.Get("only_deleted")); err != nil {
		return filter, newQueryError("only_deleted", err)
	}
	if filter.Pagination.Page, err = parseIntParam(query.Get("page"), 1); err != nil {
		return filter, newQueryError("page", err)
	}
	if filter.Pagination.Limit, err = parseIntParam(query.Get("limit"), 0); err != nil {
		return filter, newQueryError("limit", err)
	}
	return filter, nil
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID, services.OrderReadOptions{IncludeDeleted: true})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) setStatus(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	actorID, ok := requireUID(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req setOrderStatusRequest
	if err := decodeJSONBody(r, maxAdminOrderBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	order, err := h.orders.SetStatus(r.Context(), services.SetOrderStatusCommand{
		OrderID: orderID,
		Status:  domain.OrderStatus(req.Status),
		ActorID: actorID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) bulkSetStatus(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	actorID, ok := requireUID(w, r)
	if !ok {
		return
	}

	var req bulkOrderStatusRequest
	if err := decodeJSONBody(r, maxAdminOrderBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(req.OrderIDs) > maxBulkOrderIDs {
		writeError(w, r, "invalid_request", "too many order ids", http.StatusBadRequest)
		return
	}

	result, err := h.orders.BulkSetStatus(r.Context(), services.BulkSetOrderStatusCommand{
		OrderIDs: req.OrderIDs,
		Status:   domain.OrderStatus(req.Status),
		ActorID:  actorID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildBulkResultResponse(result))
}

func (h *AdminOrderHandlers) softDelete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.applyDeletion(w, r, h.orders.SoftDelete)
}

func (h *AdminOrderHandlers) restore(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.applyDeletion(w, r, h.orders.Restore)
}

func (h *AdminOrderHandlers) applyDeletion(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, cmd services.OrderDeletionCommand) (services.Order, error)) {
	actorID, ok := requireUID(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := apply(r.Context(), services.OrderDeletionCommand{OrderID: orderID, ActorID: actorID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) purge(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	actorID, ok := requireUID(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.orders.PermanentDelete(r.Context(), services.OrderDeletionCommand{OrderID: orderID, ActorID: actorID}); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminOrderHandlers) bulkSoftDelete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.applyBulk(w, r, h.orders.BulkSoftDelete)
}

func (h *AdminOrderHandlers) bulkRestore(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.applyBulk(w, r, h.orders.BulkRestore)
}

func (h *AdminOrderHandlers) bulkPurge(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.applyBulk(w, r, h.orders.BulkPermanentDelete)
}

func (h *AdminOrderHandlers) applyBulk(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, cmd services.BulkOrderCommand) (services.BulkResult, error)) {
	actorID, ok := requireUID(w, r)
	if !ok {
		return
	}

	var req bulkOrderRequest
	if err := decodeJSONBody(r, maxAdminOrderBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(req.OrderIDs) > maxBulkOrderIDs {
		writeError(w, r, "invalid_request", "too many order ids", http.StatusBadRequest)
		return
	}

	result, err := apply(r.Context(), services.BulkOrderCommand{OrderIDs: req.OrderIDs, ActorID: actorID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildBulkResultResponse(result))
}

func (h *AdminOrderHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		writeError(w, r, "order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func newQueryError(param string, err error) error {
	return fmt.Errorf("invalid %s: %w", param, err)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, r, "invalid_request", "order id is required", http.StatusBadRequest)
		return "", false
	}
	return orderID, true
}

func buildBulkResultResponse(result services.BulkResult) bulkResultResponse {
	response := bulkResultResponse{
		Requested: result.Requested,
		Updated:   result.Updated,
		Failures:  make([]bulkFailurePayload, 0, len(result.Failures)),
	}
	for _, failure := range result.Failures {
		message := ""
		if failure.Err != nil {
			message = failure.Err.Error()
		}
		response.Failures = append(response.Failures, bulkFailurePayload{
			OrderID: failure.OrderID,
			Error:   errorCode(failure.Err),
			Message: message,
		})
	}
	return response
}

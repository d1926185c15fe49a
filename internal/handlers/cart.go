package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the authenticated user's cart.
type CartHandlers struct {
	authn  *auth.Authenticator
	carts  services.CartService
	guards []func(http.Handler) http.Handler
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
// Guards run after authentication, so they can rely on the caller identity.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, guards ...func(http.Handler) http.Handler) *CartHandlers {
	return &CartHandlers{
		authn:  authn,
		carts:  carts,
		guards: guards,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	useGuards(r, h.guards)
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID       string  `json:"product_id"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discount_percent"`
	Selected        *bool   `json:"selected"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartLinePayload struct {
	ProductID          string  `json:"product_id"`
	CategoryID         string  `json:"category_id,omitempty"`
	Name               string  `json:"name,omitempty"`
	Quantity           int     `json:"quantity"`
	PriceOriginal      int64   `json:"price_original"`
	DiscountPercent    float64 `json:"discount_percent"`
	PriceAfterDiscount int64   `json:"price_after_discount"`
	Selected           bool    `json:"selected"`
	AddedAt            string  `json:"added_at,omitempty"`
}

type cartPayload struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Lines     []cartLinePayload `json:"lines"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	userID, ok := requireUID(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	userID, ok := requireUID(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cart, err := h.carts.AddToCart(r.Context(), services.AddToCartCommand{
		UserID:          userID,
		ProductID:       strings.TrimSpace(req.ProductID),
		Quantity:        req.Quantity,
		DiscountPercent: req.DiscountPercent,
		Selected:        req.Selected,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	userID, ok := requireUID(w, r)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cart, err := h.carts.UpdateCartQuantity(r.Context(), services.UpdateCartQuantityCommand{
		UserID:    userID,
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	userID, ok := requireUID(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveCartItem(r.Context(), userID, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	userID, ok := requireUID(w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		writeError(w, r, "cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func buildCartPayload(cart services.Cart) cartPayload {
	lines := make([]cartLinePayload, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, cartLinePayload{
			ProductID:          line.ProductID,
			CategoryID:         line.CategoryID,
			Name:               line.Name,
			Quantity:           line.Quantity,
			PriceOriginal:      line.PriceOriginal,
			DiscountPercent:    line.DiscountPercent,
			PriceAfterDiscount: line.PriceAfterDiscount,
			Selected:           line.Selected,
			AddedAt:            formatTime(line.AddedAt),
		})
	}
	return cartPayload{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Lines:     lines,
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
}

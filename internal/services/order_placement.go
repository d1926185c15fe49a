package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

// ErrOrderEmptyCart rejects checkout when no cart line is selected.
var ErrOrderEmptyCart = fmt.Errorf("%w: no selected cart lines", ErrOrderInvalidInput)

type committedLine struct {
	kind      domain.ProductKind
	productID string
	quantity  int
}

// PlaceOrder commits each selected cart line against the ledger with a conditional sale and
// creates the pending order. Any failure compensates the lines already committed. The user's
// cart lock is held throughout, so a concurrent checkout sees the trimmed cart.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	shippingID := strings.TrimSpace(cmd.ShippingID)
	if shippingID == "" {
		return Order{}, fmt.Errorf("%w: shipping id is required", ErrOrderInvalidInput)
	}
	if cmd.ShippingFee < 0 {
		return Order{}, fmt.Errorf("%w: shipping fee must not be negative", ErrOrderInvalidInput)
	}
	if s.carts == nil {
		return Order{}, errors.New("order service: cart repository not configured")
	}

	unlock := s.cartLocks.Lock(userID)
	defer unlock()

	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderEmptyCart
		}
		return Order{}, s.mapRepositoryError(err)
	}

	selected := make([]CartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.Selected && line.Quantity > 0 && strings.TrimSpace(line.ProductID) != "" {
			selected = append(selected, line)
		}
	}
	if len(selected) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	now := s.now()
	committed := make([]committedLine, 0, len(selected))
	lines := make([]OrderLine, 0, len(selected))
	for _, line := range selected {
		product, err := s.commitLine(ctx, line)
		if err != nil {
			s.compensate(ctx, committed)
			return Order{}, err
		}
		committed = append(committed, committedLine{kind: product.Kind, productID: product.ID, quantity: line.Quantity})

		discount := clampPercent(line.DiscountPercent)
		lines = append(lines, OrderLine{
			ProductID:          product.ID,
			CategoryID:         chooseFirstNonEmpty(product.CategoryID, line.CategoryID),
			Name:               chooseFirstNonEmpty(product.Name, line.Name),
			Quantity:           line.Quantity,
			PriceOriginal:      product.Price,
			DiscountPercent:    discount,
			PriceAfterDiscount: discountedPrice(product.Price, discount),
		})
	}

	order := Order{
		ID:           s.nextOrderID(),
		UserID:       userID,
		CustomerInfo: strings.TrimSpace(cmd.CustomerInfo),
		ShippingID:   shippingID,
		PaymentID:    strings.TrimSpace(cmd.PaymentID),
		CartID:       cart.ID,
		Products:     lines,
		Status:       domain.OrderStatusPending,
		Summary:      summarize(lines, cmd.ShippingFee),
		UpdatedBy:    []domain.ActorStamp{{Actor: userID, Timestamp: now}},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		s.compensate(ctx, committed)
		return Order{}, s.mapRepositoryError(err)
	}

	s.removePurchased(ctx, cart, selected)
	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"userId":  userID,
		"lines":   len(lines),
		"total":   order.Summary.Total,
	})
	s.publish(ctx, OrderEvent{
		Type:       domain.OrderEventCreated,
		OrderID:    order.ID,
		UserID:     userID,
		Status:     order.Status,
		ActorID:    userID,
		OccurredAt: now,
	})
	if s.notifications != nil {
		s.notifications.Dispatch(ctx, Notification{
			Title:   titleNewOrder,
			Message: messageNewOrder,
			Type:    domain.NotificationTypeOrder,
			Level:   domain.NotificationLevelInfo,
			Metadata: map[string]any{
				"status":  string(order.Status),
				"orderId": order.ID,
				"total":   order.Summary.Total,
			},
		})
	}
	return order, nil
}

func (s *orderService) commitLine(ctx context.Context, line CartLine) (Product, error) {
	productID := strings.TrimSpace(line.ProductID)
	product, err := lookupProduct(ctx, s.products, productID)
	if err != nil {
		return Product{}, err
	}
	committed, err := s.products.CommitSale(ctx, product.Kind, productID, line.Quantity)
	if err == nil {
		return committed, nil
	}
	if stockErr, ok := repositories.AsStockError(err); ok {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return Product{}, &StockShortageError{ProductID: productID, Requested: line.Quantity, Available: max(stockErr.Available, 0)}
		case repositories.StockErrorProductNotFound:
			return Product{}, fmt.Errorf("%w: %s", ErrStockProductNotFound, productID)
		}
	}
	return Product{}, fmt.Errorf("order: commit sale %s: %w", productID, err)
}

// compensate reverses committed sales. Failures are logged; the ledger then over-reports
// sold units until corrected.
func (s *orderService) compensate(ctx context.Context, committed []committedLine) {
	ctx = context.WithoutCancel(ctx)
	for _, line := range committed {
		if err := s.products.Adjust(ctx, line.kind, line.productID, 0, -line.quantity); err != nil {
			s.logger(ctx, "order.checkout.compensation.failed", map[string]any{
				"productId": line.productID,
				"quantity":  line.quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderService) removePurchased(ctx context.Context, cart Cart, purchased []CartLine) {
	bought := make(map[string]struct{}, len(purchased))
	for _, line := range purchased {
		bought[line.ProductID] = struct{}{}
	}
	remaining := make([]CartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if _, ok := bought[line.ProductID]; !ok {
			remaining = append(remaining, line)
		}
	}

	var err error
	if len(remaining) == 0 {
		err = s.carts.Delete(ctx, cart.UserID)
	} else {
		cart.Lines = remaining
		cart.UpdatedAt = s.now()
		err = s.carts.Save(ctx, cart)
	}
	if err != nil {
		s.logger(ctx, "order.checkout.cart_cleanup.failed", map[string]any{
			"userId": cart.UserID,
			"error":  err.Error(),
		})
	}
}

func summarize(lines []OrderLine, shippingFee int64) OrderSummary {
	var summary OrderSummary
	for _, line := range lines {
		qty := int64(line.Quantity)
		summary.Subtotal += line.PriceOriginal * qty
		summary.Discount += (line.PriceOriginal - line.PriceAfterDiscount) * qty
	}
	summary.ShippingFee = shippingFee
	summary.Total = summary.Subtotal - summary.Discount + shippingFee
	return summary
}

func clampPercent(percent float64) float64 {
	switch {
	case math.IsNaN(percent), percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}

// discountedPrice applies percent to price in minor units, rounding half away from zero.
func discountedPrice(price int64, percent float64) int64 {
	return int64(math.Round(float64(price) * (100 - clampPercent(percent)) / 100))
}

func chooseFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

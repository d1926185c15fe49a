package mongo

import (
	"time"

	domain "github.com/pawmart/api/internal/domain"
)

const (
	consumableCollection   = "consumable_products"
	durableCollection      = "durable_products"
	categoryCollection     = "categories"
	orderCollection        = "orders"
	cartCollection         = "carts"
	notificationCollection = "notifications"
)

func productCollection(kind domain.ProductKind) (string, bool) {
	switch kind {
	case domain.ProductKindConsumable:
		return consumableCollection, true
	case domain.ProductKindDurable:
		return durableCollection, true
	default:
		return "", false
	}
}

type productDocument struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	CategoryID string    `bson:"category_id"`
	Quantity   int       `bson:"quantity"`
	SoldCount  int       `bson:"sold_count"`
	Price      int64     `bson:"price"`
	UpdatedAt  time.Time `bson:"updated_at,omitempty"`
}

func (d productDocument) toDomain(kind domain.ProductKind) domain.Product {
	return domain.Product{
		ID:         d.ID,
		Kind:       kind,
		Name:       d.Name,
		CategoryID: d.CategoryID,
		Quantity:   d.Quantity,
		SoldCount:  d.SoldCount,
		Price:      d.Price,
		UpdatedAt:  d.UpdatedAt,
	}
}

type categoryDocument struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
	Kind string `bson:"kind"`
}

type orderLineDocument struct {
	ProductID          string  `bson:"product_id"`
	CategoryID         string  `bson:"category_id,omitempty"`
	Name               string  `bson:"name,omitempty"`
	Quantity           int     `bson:"quantity"`
	PriceOriginal      int64   `bson:"price_original"`
	DiscountPercent    float64 `bson:"discount_percent"`
	PriceAfterDiscount int64   `bson:"price_after_discount"`
}

type returnRequestDocument struct {
	IsReturned  bool       `bson:"is_returned"`
	Status      string     `bson:"status,omitempty"`
	Reason      string     `bson:"reason,omitempty"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty"`
	ProcessedBy string     `bson:"processed_by,omitempty"`
}

type actorStampDocument struct {
	Actor     string    `bson:"actor"`
	Timestamp time.Time `bson:"timestamp"`
}

type orderSummaryDocument struct {
	Subtotal    int64 `bson:"subtotal"`
	Discount    int64 `bson:"discount"`
	ShippingFee int64 `bson:"shipping_fee"`
	Total       int64 `bson:"total"`
}

type orderDocument struct {
	ID            string                `bson:"_id"`
	UserID        string                `bson:"user_id"`
	CustomerInfo  string                `bson:"customer_info"`
	ShippingID    string                `bson:"shipping_id"`
	PaymentID     string                `bson:"payment_id,omitempty"`
	CartID        string                `bson:"cart_id,omitempty"`
	Products      []orderLineDocument   `bson:"products"`
	Status        string                `bson:"status"`
	ReturnRequest returnRequestDocument `bson:"return_request"`
	Summary       orderSummaryDocument  `bson:"summary"`
	Deleted       bool                  `bson:"deleted"`
	DeletedAt     *time.Time            `bson:"deleted_at,omitempty"`
	DeletedBy     string                `bson:"deleted_by,omitempty"`
	UpdatedBy     []actorStampDocument  `bson:"updated_by"`
	Version       int64                 `bson:"version"`
	CreatedAt     time.Time             `bson:"created_at"`
	UpdatedAt     time.Time             `bson:"updated_at"`
}

func orderToDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:           order.ID,
		UserID:       order.UserID,
		CustomerInfo: order.CustomerInfo,
		ShippingID:   order.ShippingID,
		PaymentID:    order.PaymentID,
		CartID:       order.CartID,
		Products:     make([]orderLineDocument, 0, len(order.Products)),
		Status:       string(order.Status),
		ReturnRequest: returnRequestDocument{
			IsReturned:  order.ReturnRequest.IsReturned,
			Status:      order.ReturnRequest.Status,
			Reason:      order.ReturnRequest.Reason,
			ProcessedAt: utcPtr(order.ReturnRequest.ProcessedAt),
			ProcessedBy: order.ReturnRequest.ProcessedBy,
		},
		Summary: orderSummaryDocument{
			Subtotal:    order.Summary.Subtotal,
			Discount:    order.Summary.Discount,
			ShippingFee: order.Summary.ShippingFee,
			Total:       order.Summary.Total,
		},
		Deleted:   order.Deleted,
		DeletedAt: utcPtr(order.DeletedAt),
		DeletedBy: order.DeletedBy,
		UpdatedBy: make([]actorStampDocument, 0, len(order.UpdatedBy)),
		Version:   order.Version,
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	for _, line := range order.Products {
		doc.Products = append(doc.Products, orderLineDocument(line))
	}
	for _, stamp := range order.UpdatedBy {
		doc.UpdatedBy = append(doc.UpdatedBy, actorStampDocument{Actor: stamp.Actor, Timestamp: stamp.Timestamp.UTC()})
	}
	return doc
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		ID:           d.ID,
		UserID:       d.UserID,
		CustomerInfo: d.CustomerInfo,
		ShippingID:   d.ShippingID,
		PaymentID:    d.PaymentID,
		CartID:       d.CartID,
		Products:     make([]domain.OrderLine, 0, len(d.Products)),
		Status:       domain.OrderStatus(d.Status),
		ReturnRequest: domain.ReturnRequest{
			IsReturned:  d.ReturnRequest.IsReturned,
			Status:      d.ReturnRequest.Status,
			Reason:      d.ReturnRequest.Reason,
			ProcessedAt: d.ReturnRequest.ProcessedAt,
			ProcessedBy: d.ReturnRequest.ProcessedBy,
		},
		Summary:   domain.OrderSummary(d.Summary),
		Deleted:   d.Deleted,
		DeletedAt: d.DeletedAt,
		DeletedBy: d.DeletedBy,
		UpdatedBy: make([]domain.ActorStamp, 0, len(d.UpdatedBy)),
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, line := range d.Products {
		order.Products = append(order.Products, domain.OrderLine(line))
	}
	for _, stamp := range d.UpdatedBy {
		order.UpdatedBy = append(order.UpdatedBy, domain.ActorStamp(stamp))
	}
	return order
}

type cartLineDocument struct {
	ProductID          string    `bson:"product_id"`
	CategoryID         string    `bson:"category_id,omitempty"`
	Name               string    `bson:"name,omitempty"`
	Quantity           int       `bson:"quantity"`
	PriceOriginal      int64     `bson:"price_original"`
	DiscountPercent    float64   `bson:"discount_percent"`
	PriceAfterDiscount int64     `bson:"price_after_discount"`
	Selected           bool      `bson:"selected"`
	AddedAt            time.Time `bson:"added_at"`
}

type cartDocument struct {
	ID        string             `bson:"_id"`
	UserID    string             `bson:"user_id"`
	Lines     []cartLineDocument `bson:"lines"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func cartToDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Lines:     make([]cartLineDocument, 0, len(cart.Lines)),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	for _, line := range cart.Lines {
		line.AddedAt = line.AddedAt.UTC()
		doc.Lines = append(doc.Lines, cartLineDocument(line))
	}
	return doc
}

func (d cartDocument) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:        d.ID,
		UserID:    d.UserID,
		Lines:     make([]domain.CartLine, 0, len(d.Lines)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, line := range d.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine(line))
	}
	return cart
}

type notificationDocument struct {
	ID        string         `bson:"_id"`
	UserID    string         `bson:"user_id,omitempty"`
	Audience  string         `bson:"audience"`
	Title     string         `bson:"title"`
	Message   string         `bson:"message"`
	Type      string         `bson:"type"`
	Level     string         `bson:"level"`
	Locale    string         `bson:"locale,omitempty"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	Read      bool           `bson:"read"`
	CreatedAt time.Time      `bson:"created_at"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

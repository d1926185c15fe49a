package firestore

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
	Name       string    `firestore:"name"`
	CategoryID string    `firestore:"categoryId"`
	Quantity   int       `firestore:"quantity"`
	SoldCount  int       `firestore:"soldCount"`
	Price      int64     `firestore:"price"`
	UpdatedAt  time.Time `firestore:"updatedAt,omitempty"`
}

func (d productDocument) toDomain(id string, kind domain.ProductKind) domain.Product {
	return domain.Product{
		ID:         id,
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
	Name string `firestore:"name"`
	Kind string `firestore:"kind"`
}

type orderLineDocument struct {
	ProductID          string  `firestore:"productId"`
	CategoryID         string  `firestore:"categoryId,omitempty"`
	Name               string  `firestore:"name,omitempty"`
	Quantity           int     `firestore:"quantity"`
	PriceOriginal      int64   `firestore:"priceOriginal"`
	DiscountPercent    float64 `firestore:"discountPercent"`
	PriceAfterDiscount int64   `firestore:"priceAfterDiscount"`
}

type returnRequestDocument struct {
	IsReturned  bool       `firestore:"isReturned"`
	Status      string     `firestore:"status,omitempty"`
	Reason      string     `firestore:"reason,omitempty"`
	ProcessedAt *time.Time `firestore:"processedAt,omitempty"`
	ProcessedBy string     `firestore:"processedBy,omitempty"`
}

type actorStampDocument struct {
	Actor     string    `firestore:"actor"`
	Timestamp time.Time `firestore:"timestamp"`
}

type orderSummaryDocument struct {
	Subtotal    int64 `firestore:"subtotal"`
	Discount    int64 `firestore:"discount"`
	ShippingFee int64 `firestore:"shippingFee"`
	Total       int64 `firestore:"total"`
}

type orderDocument struct {
	UserID        string                `firestore:"userId"`
	CustomerInfo  string                `firestore:"customerInfo"`
	ShippingID    string                `firestore:"shippingId"`
	PaymentID     string                `firestore:"paymentId,omitempty"`
	CartID        string                `firestore:"cartId,omitempty"`
	Products      []orderLineDocument   `firestore:"products"`
	Status        string                `firestore:"status"`
	ReturnRequest returnRequestDocument `firestore:"returnRequest"`
	Summary       orderSummaryDocument  `firestore:"summary"`
	Deleted       bool                  `firestore:"deleted"`
	DeletedAt     *time.Time            `firestore:"deletedAt,omitempty"`
	DeletedBy     string                `firestore:"deletedBy,omitempty"`
	UpdatedBy     []actorStampDocument  `firestore:"updatedBy"`
	Version       int64                 `firestore:"version"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	UpdatedAt     time.Time             `firestore:"updatedAt"`
}

func orderToDocument(order domain.Order) orderDocument {
	doc := orderDocument{
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
			ProcessedAt: order.ReturnRequest.ProcessedAt,
			ProcessedBy: order.ReturnRequest.ProcessedBy,
		},
		Summary:   orderSummaryDocument(order.Summary),
		Deleted:   order.Deleted,
		DeletedAt: order.DeletedAt,
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
		doc.UpdatedBy = append(doc.UpdatedBy, actorStampDocument(stamp))
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:           id,
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
	ProductID          string    `firestore:"productId"`
	CategoryID         string    `firestore:"categoryId,omitempty"`
	Name               string    `firestore:"name,omitempty"`
	Quantity           int       `firestore:"quantity"`
	PriceOriginal      int64     `firestore:"priceOriginal"`
	DiscountPercent    float64   `firestore:"discountPercent"`
	PriceAfterDiscount int64     `firestore:"priceAfterDiscount"`
	Selected           bool      `firestore:"selected"`
	AddedAt            time.Time `firestore:"addedAt"`
}

type cartDocument struct {
	CartID     string             `firestore:"cartId"`
	Lines      []cartLineDocument `firestore:"lines"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type notificationDocument struct {
	UserID    string         `firestore:"userId,omitempty"`
	Audience  string         `firestore:"audience"`
	Title     string         `firestore:"title"`
	Message   string         `firestore:"message"`
	Type      string         `firestore:"type"`
	Level     string         `firestore:"level"`
	Locale    string         `firestore:"locale,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Read      bool           `firestore:"read"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

package domain

import "time"

// OrderEventType names an order lifecycle event.
type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventStatusChanged OrderEventType = "order.status.changed"
	OrderEventDeleted       OrderEventType = "order.deleted"
	OrderEventRestored      OrderEventType = "order.restored"
	OrderEventPurged        OrderEventType = "order.purged"
)

// OrderEvent is published after an order change has been committed.
type OrderEvent struct {
	Type           OrderEventType `json:"type"`
	OrderID        string         `json:"orderId"`
	UserID         string         `json:"userId,omitempty"`
	Status         OrderStatus    `json:"status,omitempty"`
	PreviousStatus OrderStatus    `json:"previousStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	Restocked      int            `json:"restocked,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

package events

import (
	"context"
	"errors"
	"time"
)

// Типы событий
const (
	OrderCreated      = "order.created"
	OrderUpdated      = "order.updated"
	QuotationApproved = "quotation.approved"
)

// Event: короткое уведомление: клиенты по нему перечитывают данные
type Event struct {
	Type          string    `json:"type"`
	OrderID       int       `json:"orderId,omitempty"`
	OrderCode     string    `json:"orderCode,omitempty"`
	QuotationCode string    `json:"quotationCode,omitempty"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi рассылает событие всем издателям и собирает ошибки
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard: издатель по умолчанию, когда ничего не настроено
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

package workflow

import (
	"fmt"

	"nursery/models"
)

var merchantTransitions = map[string][]string{
	models.MerchantPending:  {models.MerchantApproved, models.MerchantRejected},
	models.MerchantApproved: {models.MerchantBlocked},
	models.MerchantBlocked:  {models.MerchantApproved},
	models.MerchantRejected: {models.MerchantApproved},
}

var orderTransitions = map[string][]string{
	models.OrderPending:   {models.OrderConfirmed, models.OrderCancelled},
	models.OrderConfirmed: {models.OrderShipped, models.OrderCancelled},
	models.OrderShipped:   {models.OrderDelivered},
}

// CheckMerchantTransition проверяет решение администратора по продавцу.
func CheckMerchantTransition(from, to string) error {
	return checkFlat(merchantTransitions, "merchant", from, to)
}

// CheckOrderTransition проверяет смену статуса заказа администратором.
func CheckOrderTransition(from, to string) error {
	return checkFlat(orderTransitions, "order", from, to)
}

func checkFlat(table map[string][]string, entity, from, to string) error {
	for _, allowed := range table[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q -> %q", ErrInvalidTransition, entity, from, to)
}

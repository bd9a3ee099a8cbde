package workflow

import (
	"strings"

	"github.com/google/uuid"
)

func shortCode(prefix string, n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(raw[:n])
}

// NewQuotationCode возвращает общий ключ для запроса и ответов на него.
func NewQuotationCode() string { return shortCode("Q", 10) }

// NewMerchantCode возвращает код продавца.
func NewMerchantCode() string { return shortCode("M", 8) }

// NewOrderCode возвращает код заказа для клиента.
func NewOrderCode() string { return shortCode("ORD", 10) }

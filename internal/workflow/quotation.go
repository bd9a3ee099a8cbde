package workflow

import (
	"errors"
	"fmt"

	"nursery/models"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAllowed        = errors.New("actor is not allowed to perform this transition")
	ErrInvalidInput      = errors.New("invalid input")
)

type rowKind int

const (
	originalRow rowKind = iota
	responseRow
)

type transitionRule struct {
	kind rowKind
	role string
}

// Разрешённые переходы котировки: from -> to -> правило
var quotationTransitions = map[string]map[string]transitionRule{
	models.QuotationPending: {
		models.QuotationAdminApproved: {kind: originalRow, role: models.RoleAdmin},
	},
	models.QuotationWaitingForAdmin: {
		models.QuotationApproved: {kind: responseRow, role: models.RoleAdmin},
		models.QuotationRejected: {kind: responseRow, role: models.RoleAdmin},
	},
	models.QuotationAdminApproved: {
		models.QuotationUserOrderPlaced: {kind: originalRow, role: models.RoleAdmin},
	},
	models.QuotationApproved: {
		models.QuotationUserConfirmed: {kind: responseRow, role: models.RoleUser},
	},
}

// CheckQuotationTransition проверяет переход статуса для конкретной строки и роли.
func CheckQuotationTransition(q *models.Quotation, to, role string) error {
	rule, ok := quotationTransitions[q.Status][to]
	if !ok {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, q.Status, to)
	}
	kind := responseRow
	if q.IsOriginal() {
		kind = originalRow
	}
	if rule.kind != kind {
		return fmt.Errorf("%w: %q -> %q is not valid for this quotation row", ErrInvalidTransition, q.Status, to)
	}
	if rule.role != role {
		return fmt.Errorf("%w: %s cannot move quotation to %q", ErrNotAllowed, role, to)
	}
	return nil
}

// apply переводит строку в новый статус и поднимает версию
func apply(q *models.Quotation, to, role string) error {
	if err := CheckQuotationTransition(q, to, role); err != nil {
		return err
	}
	q.Status = to
	q.Version++
	return nil
}

// NewRequest собирает исходный запрос котировки пользователя в статусе pending.
func NewRequest(userID, userEmail string, items models.QuotationItems) (*models.Quotation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	seen := make(map[int]bool, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			return nil, fmt.Errorf("%w: productId must be positive", ErrInvalidInput)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %d", ErrInvalidInput, it.ProductID)
		}
		if seen[it.ProductID] {
			return nil, fmt.Errorf("%w: duplicate product %d", ErrInvalidInput, it.ProductID)
		}
		seen[it.ProductID] = true
	}
	return &models.Quotation{
		UserID:        userID,
		UserEmail:     userEmail,
		QuotationCode: NewQuotationCode(),
		Items:         items,
		Status:        models.QuotationPending,
		Version:       1,
	}, nil
}

// Денежные колонки NUMERIC(12,2): не больше двух знаков после запятой и меньше 10^10.
var maxAmount = decimal.New(1, 10)

// CheckPrice проверяет, что цену можно сохранить без округления.
func CheckPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if price.Exponent() < -2 && !price.Equal(price.Round(2)) {
		return fmt.Errorf("%w: price %s has more than 2 decimal places", ErrInvalidInput, price)
	}
	if !price.LessThan(maxAmount) {
		return fmt.Errorf("%w: price %s is too large", ErrInvalidInput, price)
	}
	return nil
}

// NewResponse строит ответ продавца на исходный запрос: цена задаётся за
// каждую позицию, итог считается на сервере.
func NewResponse(original *models.Quotation, merchant *models.Merchant, prices models.UnitPrices, deliveryDays int) (*models.Quotation, error) {
	if !original.IsOriginal() {
		return nil, fmt.Errorf("%w: quotation %d is a merchant response", ErrInvalidInput, original.ID)
	}
	if original.Status != models.QuotationPending {
		return nil, fmt.Errorf("%w: quotation %s is %q and no longer accepts responses", ErrInvalidTransition, original.QuotationCode, original.Status)
	}
	if merchant.Status != models.MerchantApproved {
		return nil, fmt.Errorf("%w: merchant %s is %q", ErrNotAllowed, merchant.MerchantCode, merchant.Status)
	}
	if deliveryDays <= 0 {
		return nil, fmt.Errorf("%w: estimatedDeliveryDays must be positive", ErrInvalidInput)
	}

	total := decimal.Zero
	items := make(models.QuotationItems, len(original.Items))
	for i, it := range original.Items {
		price, ok := prices[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: missing unit price for product %d", ErrInvalidInput, it.ProductID)
		}
		if err := CheckPrice(price); err != nil {
			return nil, fmt.Errorf("unit price for product %d: %w", it.ProductID, err)
		}
		it.UnitPrice = price
		items[i] = it
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !total.LessThan(maxAmount) {
		return nil, fmt.Errorf("%w: quote total %s is too large", ErrInvalidInput, total)
	}
	if len(prices) != len(original.Items) {
		return nil, fmt.Errorf("%w: unit prices reference products outside the request", ErrInvalidInput)
	}

	code := merchant.MerchantCode
	days := deliveryDays
	return &models.Quotation{
		UserID:                original.UserID,
		UserEmail:             original.UserEmail,
		QuotationCode:         original.QuotationCode,
		MerchantCode:          &code,
		Items:                 items,
		Status:                models.QuotationWaitingForAdmin,
		UnitPrices:            prices,
		TotalQuotePrice:       decimal.NewNullDecimal(total),
		EstimatedDeliveryDays: &days,
		Version:               1,
	}, nil
}

// ApprovalPlan: все изменения строк, которые одобрение должно записать
// одной транзакцией.
type ApprovalPlan struct {
	Response     *models.Quotation
	Original     *models.Quotation
	AutoRejected []*models.Quotation
}

// Changed возвращает изменённые строки в порядке записи.
func (p *ApprovalPlan) Changed() []*models.Quotation {
	out := []*models.Quotation{p.Response, p.Original}
	return append(out, p.AutoRejected...)
}

// PlanApproval одобряет ответ продавца: ответ -> approved, исходный запрос ->
// admin approved, остальные ответы в ожидании -> rejected.
func PlanApproval(original, response *models.Quotation, siblings []models.Quotation, approvedPrice decimal.NullDecimal) (*ApprovalPlan, error) {
	if !original.IsOriginal() || response.IsOriginal() {
		return nil, fmt.Errorf("%w: approval needs a merchant response and its original request", ErrInvalidInput)
	}
	if original.QuotationCode != response.QuotationCode {
		return nil, fmt.Errorf("%w: quotation codes differ", ErrInvalidInput)
	}

	price := approvedPrice
	if !price.Valid {
		price = response.TotalQuotePrice
	}
	if !price.Valid || !price.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: approved price must be positive", ErrInvalidInput)
	}

	resp := *response
	orig := *original
	if err := apply(&resp, models.QuotationApproved, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := apply(&orig, models.QuotationAdminApproved, models.RoleAdmin); err != nil {
		return nil, err
	}
	resp.ApprovedPrice = price

	plan := &ApprovalPlan{Response: &resp, Original: &orig}
	for i := range siblings {
		s := siblings[i]
		if s.ID == response.ID || s.IsOriginal() || s.Status != models.QuotationWaitingForAdmin {
			continue
		}
		if err := apply(&s, models.QuotationRejected, models.RoleAdmin); err != nil {
			return nil, err
		}
		plan.AutoRejected = append(plan.AutoRejected, &s)
	}
	return plan, nil
}

// PlanRejection отклоняет ответ продавца; исходный запрос не меняется.
func PlanRejection(response *models.Quotation) (*models.Quotation, error) {
	resp := *response
	if err := apply(&resp, models.QuotationRejected, models.RoleAdmin); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlanOrderPlaced отмечает, что администратор оформил заказ по исходному запросу.
func PlanOrderPlaced(original *models.Quotation) (*models.Quotation, error) {
	orig := *original
	if err := apply(&orig, models.QuotationUserOrderPlaced, models.RoleAdmin); err != nil {
		return nil, err
	}
	return &orig, nil
}

// PlanConfirmation подтверждает одобренную котировку при оформлении заказа
// её владельцем.
func PlanConfirmation(q *models.Quotation, userID string) (*models.Quotation, error) {
	if q.UserID != userID {
		return nil, fmt.Errorf("%w: quotation %d belongs to another user", ErrNotAllowed, q.ID)
	}
	out := *q
	if err := apply(&out, models.QuotationUserConfirmed, models.RoleUser); err != nil {
		return nil, err
	}
	return &out, nil
}

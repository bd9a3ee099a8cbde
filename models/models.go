package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Роли участников
const (
	RoleUser     = "user"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// Actor: кто выполняет действие (из токена)
type Actor struct {
	ID    string
	Email string
	Role  string
}

// Статусы котировки
const (
	QuotationPending         = "pending"
	QuotationWaitingForAdmin = "waiting_for_admin"
	QuotationApproved        = "approved"
	QuotationRejected        = "rejected"
	QuotationAdminApproved   = "admin approved"
	QuotationUserOrderPlaced = "user order placed"
	QuotationUserConfirmed   = "user_confirmed"
)

// Статусы продавца
const (
	MerchantPending  = "pending"
	MerchantApproved = "approved"
	MerchantBlocked  = "blocked"
	MerchantRejected = "rejected"
)

// Статусы заказа
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderShipped   = "shipped"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

// Сущность Товара (растение из каталога)
type Product struct {
	ID          int             `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Category    string          `db:"category" json:"category"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int             `db:"stock" json:"stock"`
	ImageURL    string          `db:"image_url" json:"imageUrl"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"-"`
}

// Сущность Котировки. Исходный запрос пользователя имеет MerchantCode == nil,
// ответы продавцов делят с ним QuotationCode.
type Quotation struct {
	ID                    int                 `db:"id" json:"id"`
	UserID                string              `db:"user_id" json:"userId"`
	UserEmail             string              `db:"user_email" json:"userEmail"`
	QuotationCode         string              `db:"quotation_code" json:"quotationCode"`
	MerchantCode          *string             `db:"merchant_code" json:"merchantCode"`
	Items                 QuotationItems      `db:"items" json:"items"`
	Status                string              `db:"status" json:"status"`
	ApprovedPrice         decimal.NullDecimal `db:"approved_price" json:"approvedPrice"`
	UnitPrices            UnitPrices          `db:"unit_prices" json:"unitPrices"`
	TotalQuotePrice       decimal.NullDecimal `db:"total_quote_price" json:"totalQuotePrice"`
	EstimatedDeliveryDays *int                `db:"estimated_delivery_days" json:"estimatedDeliveryDays"`
	Version               int                 `db:"version" json:"version"`
	CreatedAt             time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time           `db:"updated_at" json:"updatedAt"`
}

// IsOriginal сообщает, является ли строка исходным запросом пользователя.
func (q *Quotation) IsOriginal() bool {
	return q.MerchantCode == nil
}

// Позиция котировки
type QuotationItem struct {
	ProductID   int             `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type QuotationItems []QuotationItem

func (i QuotationItems) Value() (driver.Value, error) { return jsonValue(i) }
func (i *QuotationItems) Scan(src any) error { return jsonScan(src, i) }

// UnitPrices: цены продавца по product_id
type UnitPrices map[int]decimal.Decimal

func (u UnitPrices) Value() (driver.Value, error) { return jsonValue(u) }
func (u *UnitPrices) Scan(src any) error { return jsonScan(src, u) }

// Запись истории котировки: одна строка на каждую смену статуса
type QuotationHistory struct {
	ID          int       `db:"id" json:"id"`
	QuotationID int       `db:"quotation_id" json:"quotationId"`
	Version     int       `db:"version" json:"version"`
	Status      string    `db:"status" json:"status"`
	ActorID     string    `db:"actor_id" json:"actorId"`
	ActorRole   string    `db:"actor_role" json:"actorRole"`
	Note        string    `db:"note" json:"note"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Сущность Продавца
type Merchant struct {
	ID           int       `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"userId"`
	MerchantCode string    `db:"merchant_code" json:"merchantCode"`
	BusinessName string    `db:"business_name" json:"businessName"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone"`
	Address      string    `db:"address" json:"address"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"-"`
}

// Сущность Заказа. CartItems хранит снимок корзины на момент оформления.
type Order struct {
	ID              int             `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"userId"`
	OrderCode       string          `db:"order_code" json:"orderCode"`
	CartItems       CartItems       `db:"cart_items" json:"cartItems"`
	DeliveryAddress Address         `db:"delivery_address" json:"deliveryAddress"`
	Customer        Customer        `db:"customer" json:"customer"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"totalAmount"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
	Items           []OrderItem     `db:"-" json:"items,omitempty"`
}

// Позиция заказа (строка order_items, с названием товара из каталога)
type OrderItem struct {
	ID          int             `db:"id" json:"id"`
	OrderID     int             `db:"order_id" json:"orderId"`
	ProductID   int             `db:"product_id" json:"productId"`
	ProductName string          `db:"product_name" json:"productName"`
	ImageURL    string          `db:"image_url" json:"imageUrl"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unitPrice"`
	QuotationID *int            `db:"quotation_id" json:"quotationId,omitempty"`
}

// Позиция корзины в том виде, как её присылает клиент
type CartItem struct {
	ProductID   int             `json:"productId"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	QuotationID *int            `json:"quotationId,omitempty"`
}

type CartItems []CartItem

func (c CartItems) Value() (driver.Value, error) { return jsonValue(c) }
func (c *CartItems) Scan(src any) error { return jsonScan(src, c) }

// Total считает сумму корзины
func (c CartItems) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Адрес доставки
type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

func (a Address) Value() (driver.Value, error) { return jsonValue(a) }
func (a *Address) Scan(src any) error { return jsonScan(src, a) }

// Покупатель
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (c Customer) Value() (driver.Value, error) { return jsonValue(c) }
func (c *Customer) Scan(src any) error { return jsonScan(src, c) }

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported jsonb source type")
	}
}

package handlers

import (
	"context"

	"nursery/db"
	"nursery/internal/workflow"
	"nursery/models"

	"github.com/shopspring/decimal"
)

type StorageInterface interface {
	Ping(ctx context.Context) error

	GetProduct(ctx context.Context, id int) (*models.Product, error)
	ListProducts(ctx context.Context, category string, limit, offset int) ([]models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int) ([]models.Product, error)

	CreateQuotation(ctx context.Context, q *models.Quotation, actor models.Actor) error
	GetQuotation(ctx context.Context, id int) (*models.Quotation, error)
	GetQuotationsByCode(ctx context.Context, code string) ([]models.Quotation, error)
	ListUserQuotations(ctx context.Context, userID string, limit, offset int) ([]models.Quotation, error)
	ListQuotations(ctx context.Context, status string, limit, offset int) ([]models.Quotation, error)
	ListOpenQuotations(ctx context.Context, merchantCode string, limit, offset int) ([]models.Quotation, error)
	GetQuotationHistory(ctx context.Context, quotationID int) ([]models.QuotationHistory, error)
	CreateMerchantResponse(ctx context.Context, code string, prices models.UnitPrices, deliveryDays int, actor models.Actor) (*models.Quotation, error)
	ApproveQuotation(ctx context.Context, responseID int, approvedPrice decimal.NullDecimal, expectedVersion int, actor models.Actor) (*workflow.ApprovalPlan, error)
	RejectQuotation(ctx context.Context, responseID, expectedVersion int, actor models.Actor, note string) (*models.Quotation, error)
	MarkQuotationOrderPlaced(ctx context.Context, originalID, expectedVersion int, actor models.Actor) (*models.Quotation, error)

	CreateMerchant(ctx context.Context, m *models.Merchant) error
	GetMerchant(ctx context.Context, id int) (*models.Merchant, error)
	GetMerchantByUserID(ctx context.Context, userID string) (*models.Merchant, error)
	ListMerchants(ctx context.Context, status string, limit, offset int) ([]models.Merchant, error)
	UpdateMerchantStatus(ctx context.Context, id int, status string) (*models.Merchant, error)

	PlaceOrder(ctx context.Context, in db.NewOrder, actor models.Actor) (*models.Order, error)
	GetOrder(ctx context.Context, id int) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]models.Order, error)
	ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int, status string) (*models.Order, error)
}

var _ StorageInterface = (*db.Storage)(nil)

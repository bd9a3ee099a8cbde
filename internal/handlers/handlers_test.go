package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nursery/db"
	"nursery/internal/auth"
	"nursery/internal/events"
	"nursery/internal/handlers"
	"nursery/internal/handlers/testutils"
	"nursery/internal/idempotency"
	"nursery/internal/workflow"
	"nursery/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// MockStorage реализует StorageInterface
type MockStorage struct {
	products []models.Product

	GetQuotationsByCodeFunc    func(ctx context.Context, code string) ([]models.Quotation, error)
	CreateMerchantResponseFunc func(ctx context.Context, code string, prices models.UnitPrices, days int, actor models.Actor) (*models.Quotation, error)
	ApproveQuotationFunc       func(ctx context.Context, id int, price decimal.NullDecimal, version int, actor models.Actor) (*workflow.ApprovalPlan, error)
	PlaceOrderFunc             func(ctx context.Context, in db.NewOrder, actor models.Actor) (*models.Order, error)
	UpdateOrderStatusFunc      func(ctx context.Context, id int, status string) (*models.Order, error)
	UpdateMerchantStatusFunc   func(ctx context.Context, id int, status string) (*models.Merchant, error)

	createdQuotation *models.Quotation
	listedUserID     string
}

func (m *MockStorage) Ping(ctx context.Context) error { return nil }

func (m *MockStorage) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	for _, p := range m.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("product %d: %w", id, db.ErrNotFound)
}

func (m *MockStorage) ListProducts(ctx context.Context, category string, limit, offset int) ([]models.Product, error) {
	return m.products, nil
}

func (m *MockStorage) GetProductsByIDs(ctx context.Context, ids []int) ([]models.Product, error) {
	var out []models.Product
	for _, p := range m.products {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (m *MockStorage) CreateQuotation(ctx context.Context, q *models.Quotation, actor models.Actor) error {
	q.ID = 1
	m.createdQuotation = q
	return nil
}

func (m *MockStorage) GetQuotation(ctx context.Context, id int) (*models.Quotation, error) {
	return &models.Quotation{ID: id, QuotationCode: "Q-1"}, nil
}

func (m *MockStorage) GetQuotationsByCode(ctx context.Context, code string) ([]models.Quotation, error) {
	if m.GetQuotationsByCodeFunc != nil {
		return m.GetQuotationsByCodeFunc(ctx, code)
	}
	return nil, db.ErrNotFound
}

func (m *MockStorage) ListUserQuotations(ctx context.Context, userID string, limit, offset int) ([]models.Quotation, error) {
	return []models.Quotation{{ID: 1, UserID: userID, QuotationCode: "Q-1", Status: models.QuotationPending}}, nil
}

func (m *MockStorage) ListQuotations(ctx context.Context, status string, limit, offset int) ([]models.Quotation, error) {
	return []models.Quotation{{ID: 1, QuotationCode: "Q-1", Status: status}}, nil
}

func (m *MockStorage) ListOpenQuotations(ctx context.Context, merchantCode string, limit, offset int) ([]models.Quotation, error) {
	return []models.Quotation{{ID: 1, QuotationCode: "Q-OPEN", Status: models.QuotationPending}}, nil
}

func (m *MockStorage) GetQuotationHistory(ctx context.Context, quotationID int) ([]models.QuotationHistory, error) {
	return []models.QuotationHistory{{QuotationID: quotationID, Version: 1, Status: models.QuotationPending}}, nil
}

func (m *MockStorage) CreateMerchantResponse(ctx context.Context, code string, prices models.UnitPrices, days int, actor models.Actor) (*models.Quotation, error) {
	if m.CreateMerchantResponseFunc != nil {
		return m.CreateMerchantResponseFunc(ctx, code, prices, days, actor)
	}
	mc := "M-1"
	return &models.Quotation{ID: 2, QuotationCode: code, MerchantCode: &mc, Status: models.QuotationWaitingForAdmin}, nil
}

func (m *MockStorage) ApproveQuotation(ctx context.Context, id int, price decimal.NullDecimal, version int, actor models.Actor) (*workflow.ApprovalPlan, error) {
	if m.ApproveQuotationFunc != nil {
		return m.ApproveQuotationFunc(ctx, id, price, version, actor)
	}
	return nil, errors.New("not configured")
}

func (m *MockStorage) RejectQuotation(ctx context.Context, id, version int, actor models.Actor, note string) (*models.Quotation, error) {
	return &models.Quotation{ID: id, Status: models.QuotationRejected}, nil
}

func (m *MockStorage) MarkQuotationOrderPlaced(ctx context.Context, id, version int, actor models.Actor) (*models.Quotation, error) {
	return &models.Quotation{ID: id, Status: models.QuotationUserOrderPlaced}, nil
}

func (m *MockStorage) CreateMerchant(ctx context.Context, merchant *models.Merchant) error {
	merchant.ID = 5
	return nil
}

func (m *MockStorage) GetMerchant(ctx context.Context, id int) (*models.Merchant, error) {
	return &models.Merchant{ID: id, MerchantCode: "M-1"}, nil
}

func (m *MockStorage) GetMerchantByUserID(ctx context.Context, userID string) (*models.Merchant, error) {
	return &models.Merchant{ID: 5, UserID: userID, MerchantCode: "M-1", Status: models.MerchantApproved}, nil
}

func (m *MockStorage) ListMerchants(ctx context.Context, status string, limit, offset int) ([]models.Merchant, error) {
	return []models.Merchant{{ID: 5, MerchantCode: "M-1", Status: models.MerchantPending}}, nil
}

func (m *MockStorage) UpdateMerchantStatus(ctx context.Context, id int, status string) (*models.Merchant, error) {
	if m.UpdateMerchantStatusFunc != nil {
		return m.UpdateMerchantStatusFunc(ctx, id, status)
	}
	return &models.Merchant{ID: id, Status: status}, nil
}

func (m *MockStorage) PlaceOrder(ctx context.Context, in db.NewOrder, actor models.Actor) (*models.Order, error) {
	if m.PlaceOrderFunc != nil {
		return m.PlaceOrderFunc(ctx, in, actor)
	}
	return &models.Order{ID: 7, OrderCode: "ORD-7", UserID: in.UserID, Status: models.OrderPending, Customer: in.Customer, CartItems: in.CartItems}, nil
}

func (m *MockStorage) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	return &models.Order{ID: id, OrderCode: "ORD-1"}, nil
}

func (m *MockStorage) ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]models.Order, error) {
	m.listedUserID = userID
	return []models.Order{{ID: 7, UserID: userID, OrderCode: "ORD-7", Items: []models.OrderItem{{ProductID: 10, ProductName: "Fern"}}}}, nil
}

func (m *MockStorage) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, error) {
	return []models.Order{{ID: 7, OrderCode: "ORD-7"}}, nil
}

func (m *MockStorage) UpdateOrderStatus(ctx context.Context, id int, status string) (*models.Order, error) {
	if m.UpdateOrderStatusFunc != nil {
		return m.UpdateOrderStatusFunc(ctx, id, status)
	}
	return &models.Order{ID: id, UserID: "user-1", Status: status}, nil
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

type fakeGuard struct {
	seen     map[string]bool
	released []string
}

func (g *fakeGuard) Acquire(ctx context.Context, key string) error {
	if g.seen[key] {
		return idempotency.ErrDuplicateRequest
	}
	g.seen[key] = true
	return nil
}

func (g *fakeGuard) Release(ctx context.Context, key string) error {
	delete(g.seen, key)
	g.released = append(g.released, key)
	return nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	f.sent = append(f.sent, order.OrderCode)
	return f.err
}

func readBody(t *testing.T, w *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func TestListProductsHandler(t *testing.T) {
	mockStore := &MockStorage{products: []models.Product{{ID: 1, Name: "Boston Fern", Price: decimal.NewFromInt(15)}}}
	handler := handlers.NewHandler(mockStore)

	req := httptest.NewRequest(http.MethodGet, "/api/products?limit=5", nil)
	w := httptest.NewRecorder()
	handler.ListProductsHandler(w, req)

	status, body := readBody(t, w)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "Boston Fern")
}

func TestGetProductHandlerNotFound(t *testing.T) {
	handler := handlers.NewHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/products/42", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"productId": "42"})
	w := httptest.NewRecorder()
	handler.GetProductHandler(w, req)

	status, body := readBody(t, w)
	require.Equal(t, http.StatusNotFound, status)
	require.Contains(t, body, "error")
}

func TestCreateQuotationHandler(t *testing.T) {
	mockStore := &MockStorage{products: []models.Product{{ID: 10, Name: "Monstera"}, {ID: 11, Name: "Fern"}}}
	handler := handlers.NewHandler(mockStore)

	reqBody := `{"items":[{"productId":10,"quantity":2},{"productId":11,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/quotations", strings.NewReader(reqBody))
	req = testutils.WithActor(req, "user-1", models.RoleUser)
	w := httptest.NewRecorder()
	handler.CreateQuotationHandler(w, req)

	status, body := readBody(t, w)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "Monstera")
	require.NotNil(t, mockStore.createdQuotation)
	require.Equal(t, "user-1", mockStore.createdQuotation.UserID)
	require.Equal(t, models.QuotationPending, mockStore.createdQuotation.Status)
	require.Nil(t, mockStore.createdQuotation.MerchantCode)
}

func TestCreateQuotationHandlerValidation(t *testing.T) {
	mockStore := &MockStorage{products: []models.Product{{ID: 10, Name: "Monstera"}}}
	handler := handlers.NewHandler(mockStore)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no items", `{"items":[]}`},
		{"zero quantity", `{"items":[{"productId":10,"quantity":0}]}`},
		{"unknown product", `{"items":[{"productId":99,"quantity":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/quotations", strings.NewReader(tt.body))
			req = testutils.WithActor(req, "user-1", models.RoleUser)
			w := httptest.NewRecorder()
			handler.CreateQuotationHandler(w, req)

			status, _ := readBody(t, w)
			require.Equal(t, http.StatusBadRequest, status)
		})
	}
	require.Nil(t, mockStore.createdQuotation)
}

func quotationGroup() []models.Quotation {
	m1, m2 := "M-1", "M-2"
	return []models.Quotation{
		{ID: 1, UserID: "user-1", QuotationCode: "Q-1", Status: models.QuotationAdminApproved},
		{ID: 2, UserID: "user-1", QuotationCode: "Q-1", MerchantCode: &m1, Status: models.QuotationApproved},
		{ID: 3, UserID: "user-1", QuotationCode: "Q-1", MerchantCode: &m2, Status: models.QuotationRejected},
	}
}

func TestGetQuotationByCodeHandler(t *testing.T) {
	mockStore := &MockStorage{
		GetQuotationsByCodeFunc: func(ctx context.Context, code string) ([]models.Quotation, error) {
			return quotationGroup(), nil
		},
	}
	handler := handlers.NewHandler(mockStore)

	call := func(userID, role string) (int, []models.Quotation) {
		req := httptest.NewRequest(http.MethodGet, "/api/quotations/Q-1", nil)
		req = testutils.WithChiURLParams(req, map[string]string{"code": "Q-1"})
		req = testutils.WithActor(req, userID, role)
		w := httptest.NewRecorder()
		handler.GetQuotationByCodeHandler(w, req)
		status, body := readBody(t, w)
		var out []models.Quotation
		if status == http.StatusOK {
			require.NoError(t, json.Unmarshal([]byte(body), &out))
		}
		return status, out
	}

	status, rows := call("user-1", models.RoleUser)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, rows, 2, "rejected responses are hidden from the owner")

	status, rows = call("admin-1", models.RoleAdmin)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, rows, 3)

	status, _ = call("user-2", models.RoleUser)
	require.Equal(t, http.StatusForbidden, status)
}

func TestCreateMerchantResponseHandler(t *testing.T) {
	mockStore := &MockStorage{}
	handler := handlers.NewHandler(mockStore)

	send := func(body string) (int, string) {
		req := httptest.NewRequest(http.MethodPost, "/api/merchant/quotations/Q-1/responses", strings.NewReader(body))
		req = testutils.WithChiURLParams(req, map[string]string{"code": "Q-1"})
		req = testutils.WithActor(req, "merchant-user", models.RoleMerchant)
		w := httptest.NewRecorder()
		handler.CreateMerchantResponseHandler(w, req)
		return readBody(t, w)
	}

	status, body := send(`{"unitPrices":{"10":"12.50"},"estimatedDeliveryDays":5}`)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, models.QuotationWaitingForAdmin)

	status, _ = send(`{"unitPrices":{},"estimatedDeliveryDays":5}`)
	require.Equal(t, http.StatusBadRequest, status)

	mockStore.CreateMerchantResponseFunc = func(ctx context.Context, code string, prices models.UnitPrices, days int, actor models.Actor) (*models.Quotation, error) {
		return nil, fmt.Errorf("quotation closed: %w", workflow.ErrInvalidTransition)
	}
	status, _ = send(`{"unitPrices":{"10":"12.50"},"estimatedDeliveryDays":5}`)
	require.Equal(t, http.StatusConflict, status)

	mockStore.CreateMerchantResponseFunc = func(ctx context.Context, code string, prices models.UnitPrices, days int, actor models.Actor) (*models.Quotation, error) {
		return nil, fmt.Errorf("insert quotation: %w", db.ErrDuplicate)
	}
	status, _ = send(`{"unitPrices":{"10":"12.50"},"estimatedDeliveryDays":5}`)
	require.Equal(t, http.StatusConflict, status)
}

func TestApproveQuotationHandler(t *testing.T) {
	var gotPrice decimal.NullDecimal
	var gotVersion int
	mockStore := &MockStorage{
		ApproveQuotationFunc: func(ctx context.Context, id int, price decimal.NullDecimal, version int, actor models.Actor) (*workflow.ApprovalPlan, error) {
			gotPrice, gotVersion = price, version
			group := quotationGroup()
			return &workflow.ApprovalPlan{Response: &group[1], Original: &group[0]}, nil
		},
	}
	pub := &recordingPublisher{}
	handler := handlers.NewHandler(mockStore, handlers.WithPublisher(pub))

	req := httptest.NewRequest(http.MethodPut, "/api/admin/quotations/2/approve?approvedPrice=120.50&version=1", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"id": "2"})
	req = testutils.WithActor(req, "admin-1", models.RoleAdmin)
	w := httptest.NewRecorder()
	handler.ApproveQuotationHandler(w, req)

	status, body := readBody(t, w)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, models.QuotationAdminApproved)
	require.True(t, gotPrice.Valid)
	require.Equal(t, "120.5", gotPrice.Decimal.String())
	require.Equal(t, 1, gotVersion)
	require.Len(t, pub.events, 1)
	require.Equal(t, events.QuotationApproved, pub.events[0].Type)
	require.Equal(t, "user-1", pub.events[0].UserID)
}

func TestApproveQuotationHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		storeErr error
		want     int
	}{
		{"negative price", "?approvedPrice=-5", nil, http.StatusBadRequest},
		{"sub-cent price", "?approvedPrice=10.005", nil, http.StatusBadRequest},
		{"price too large", "?approvedPrice=10000000000", nil, http.StatusBadRequest},
		{"bad version", "?version=abc", nil, http.StatusBadRequest},
		{"stale version", "?version=1", fmt.Errorf("update: %w", db.ErrStaleVersion), http.StatusConflict},
		{"already approved", "", fmt.Errorf("x: %w", workflow.ErrInvalidTransition), http.StatusConflict},
		{"missing", "", fmt.Errorf("x: %w", db.ErrNotFound), http.StatusNotFound},
		{"database down", "", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := &MockStorage{
				ApproveQuotationFunc: func(ctx context.Context, id int, price decimal.NullDecimal, version int, actor models.Actor) (*workflow.ApprovalPlan, error) {
					return nil, tt.storeErr
				},
			}
			handler := handlers.NewHandler(mockStore)

			req := httptest.NewRequest(http.MethodPut, "/api/admin/quotations/2/approve"+tt.query, nil)
			req = testutils.WithChiURLParams(req, map[string]string{"id": "2"})
			req = testutils.WithActor(req, "admin-1", models.RoleAdmin)
			w := httptest.NewRecorder()
			handler.ApproveQuotationHandler(w, req)

			status, body := readBody(t, w)
			require.Equal(t, tt.want, status)
			require.Contains(t, body, `"error"`)
			require.NotContains(t, body, "connection refused")
		})
	}
}

const placeOrderBody = `{
    "userId": "user-1",
    "customer": {"name": "Ann", "email": "ann@example.com", "phone": "123"},
    "order": {"deliveryAddress": {"fullName": "Ann", "line1": "1 Garden St", "city": "Pune", "postalCode": "411001"}, "totalAmount": "33.00"},
    "cartItems": [
        {"productId": 20, "name": "Fern", "quantity": 1, "price": "8"},
        {"productId": 10, "name": "Monstera", "quantity": 2, "price": "12.5", "quotationId": 2}
    ]
}`

func placeOrderRequest(body, userID, role string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/place-order", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return testutils.WithActor(req, userID, role)
}

func TestPlaceOrderHandler(t *testing.T) {
	var got db.NewOrder
	mockStore := &MockStorage{}
	mockStore.PlaceOrderFunc = func(ctx context.Context, in db.NewOrder, actor models.Actor) (*models.Order, error) {
		got = in
		return &models.Order{ID: 7, OrderCode: "ORD-7", UserID: in.UserID, Status: models.OrderPending, Customer: in.Customer}, nil
	}
	pub := &recordingPublisher{}
	mail := &fakeMailer{err: errors.New("mail api down")}
	handler := handlers.NewHandler(mockStore, handlers.WithPublisher(pub), handlers.WithMailer(mail))

	w := httptest.NewRecorder()
	handler.PlaceOrderHandler(w, placeOrderRequest(placeOrderBody, "user-1", models.RoleUser))

	status, body := readBody(t, w)
	require.Equal(t, http.StatusOK, status, body)
	require.JSONEq(t, `{"orderId":7,"orderCode":"ORD-7"}`, body)

	require.Equal(t, "user-1", got.UserID)
	require.Len(t, got.CartItems, 2)
	require.Equal(t, 2, *got.CartItems[1].QuotationID)
	require.True(t, got.ClientTotal.Valid)
	require.True(t, got.ClientTotal.Decimal.Equal(decimal.NewFromInt(33)))
	require.Equal(t, "Pune", got.DeliveryAddress.City)

	require.Len(t, pub.events, 1)
	require.Equal(t, events.OrderCreated, pub.events[0].Type)
	require.Equal(t, 7, pub.events[0].OrderID)
	// ошибка почты не ломает заказ
	require.Equal(t, []string{"ORD-7"}, mail.sent)
}

func TestPlaceOrderHandlerValidation(t *testing.T) {
	handler := handlers.NewHandler(&MockStorage{})

	tests := []struct {
		name string
		body string
		user string
		want int
	}{
		{"invalid json", `{"userId":`, "user-1", http.StatusBadRequest},
		{"empty cart", `{"userId":"user-1","customer":{"name":"Ann","email":"a@b.c"},"order":{"deliveryAddress":{"line1":"x","city":"y"}},"cartItems":[]}`, "user-1", http.StatusBadRequest},
		{"missing customer", strings.Replace(placeOrderBody, `"name": "Ann", "email": "ann@example.com"`, `"name": ""`, 1), "user-1", http.StatusBadRequest},
		{"negative quantity", strings.Replace(placeOrderBody, `"quantity": 1`, `"quantity": -1`, 1), "user-1", http.StatusBadRequest},
		{"other user", placeOrderBody, "user-2", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.PlaceOrderHandler(w, placeOrderRequest(tt.body, tt.user, models.RoleUser))
			status, body := readBody(t, w)
			require.Equal(t, tt.want, status)
			require.Contains(t, body, `"error"`)
		})
	}

	// администратор может оформить заказ за пользователя
	w := httptest.NewRecorder()
	handler.PlaceOrderHandler(w, placeOrderRequest(placeOrderBody, "admin-1", models.RoleAdmin))
	status, _ := readBody(t, w)
	require.Equal(t, http.StatusOK, status)
}

func TestPlaceOrderHandlerStoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient stock", fmt.Errorf("product 10: %w", db.ErrInsufficientStock), http.StatusBadRequest},
		{"price mismatch", fmt.Errorf("x: %w", db.ErrPriceMismatch), http.StatusBadRequest},
		{"quotation already confirmed", fmt.Errorf("x: %w", workflow.ErrInvalidTransition), http.StatusBadRequest},
		{"quotation of another user", fmt.Errorf("x: %w", workflow.ErrNotAllowed), http.StatusBadRequest},
		{"unknown quotation", fmt.Errorf("get quotation 2: %w", db.ErrNotFound), http.StatusBadRequest},
		{"database down", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := &MockStorage{
				PlaceOrderFunc: func(ctx context.Context, in db.NewOrder, actor models.Actor) (*models.Order, error) {
					return nil, tt.err
				},
			}
			guard := &fakeGuard{seen: map[string]bool{}}
			pub := &recordingPublisher{}
			handler := handlers.NewHandler(mockStore, handlers.WithIdempotency(guard), handlers.WithPublisher(pub))

			req := placeOrderRequest(placeOrderBody, "user-1", models.RoleUser)
			req.Header.Set("Idempotency-Key", "k-1")
			w := httptest.NewRecorder()
			handler.PlaceOrderHandler(w, req)

			status, body := readBody(t, w)
			require.Equal(t, tt.want, status)
			require.Contains(t, body, `"error"`)
			require.Empty(t, pub.events)
			// ключ освобождается, чтобы клиент мог повторить запрос
			require.Equal(t, []string{"user-1:k-1"}, guard.released)
		})
	}
}

func TestPlaceOrderHandlerIdempotency(t *testing.T) {
	calls := 0
	mockStore := &MockStorage{
		PlaceOrderFunc: func(ctx context.Context, in db.NewOrder, actor models.Actor) (*models.Order, error) {
			calls++
			return &models.Order{ID: 7, OrderCode: "ORD-7", UserID: in.UserID}, nil
		},
	}
	handler := handlers.NewHandler(mockStore, handlers.WithIdempotency(&fakeGuard{seen: map[string]bool{}}))

	send := func(key string) int {
		req := placeOrderRequest(placeOrderBody, "user-1", models.RoleUser)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		w := httptest.NewRecorder()
		handler.PlaceOrderHandler(w, req)
		status, _ := readBody(t, w)
		return status
	}

	require.Equal(t, http.StatusOK, send("abc"))
	require.Equal(t, http.StatusConflict, send("abc"))
	require.Equal(t, http.StatusOK, send("def"))
	// без ключа защиты нет
	require.Equal(t, http.StatusOK, send(""))
	require.Equal(t, 3, calls)
}

func TestMyOrdersHandler(t *testing.T) {
	mockStore := &MockStorage{}
	handler := handlers.NewHandler(mockStore)

	call := func(pathUser, actor, role string) (int, string) {
		req := httptest.NewRequest(http.MethodGet, "/my-orders/"+pathUser, nil)
		req = testutils.WithChiURLParams(req, map[string]string{"userId": pathUser})
		req = testutils.WithActor(req, actor, role)
		w := httptest.NewRecorder()
		handler.MyOrdersHandler(w, req)
		return readBody(t, w)
	}

	status, body := call("user-1", "user-1", models.RoleUser)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "Fern")
	require.Equal(t, "user-1", mockStore.listedUserID)

	status, _ = call("user-1", "user-2", models.RoleUser)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = call("user-1", "admin-1", models.RoleAdmin)
	require.Equal(t, http.StatusOK, status)
}

func TestUpdateOrderStatusHandler(t *testing.T) {
	mockStore := &MockStorage{}
	pub := &recordingPublisher{}
	handler := handlers.NewHandler(mockStore, handlers.WithPublisher(pub))

	call := func(status string) int {
		req := httptest.NewRequest(http.MethodPut, "/api/admin/orders/7/status?status="+status, nil)
		req = testutils.WithChiURLParams(req, map[string]string{"id": "7"})
		w := httptest.NewRecorder()
		handler.UpdateOrderStatusHandler(w, req)
		code, _ := readBody(t, w)
		return code
	}

	require.Equal(t, http.StatusOK, call(models.OrderShipped))
	require.Len(t, pub.events, 1)
	require.Equal(t, events.OrderUpdated, pub.events[0].Type)
	require.Equal(t, models.OrderShipped, pub.events[0].Status)

	require.Equal(t, http.StatusBadRequest, call("lost"))

	mockStore.UpdateOrderStatusFunc = func(ctx context.Context, id int, status string) (*models.Order, error) {
		return nil, fmt.Errorf("x: %w", workflow.ErrInvalidTransition)
	}
	require.Equal(t, http.StatusConflict, call(models.OrderPending))
	require.Len(t, pub.events, 1)
}

func TestMerchantHandlers(t *testing.T) {
	mockStore := &MockStorage{}
	handler := handlers.NewHandler(mockStore)

	req := httptest.NewRequest(http.MethodPost, "/api/merchants", strings.NewReader(`{"businessName":"Green Leaf","email":"shop@example.com"}`))
	req = testutils.WithActor(req, "user-9", models.RoleUser)
	w := httptest.NewRecorder()
	handler.ApplyMerchantHandler(w, req)

	status, body := readBody(t, w)
	require.Equal(t, http.StatusOK, status)
	var m models.Merchant
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	require.Equal(t, models.MerchantPending, m.Status)
	require.True(t, strings.HasPrefix(m.MerchantCode, "M-"))
	require.Equal(t, "user-9", m.UserID)

	req = httptest.NewRequest(http.MethodPost, "/api/merchants", strings.NewReader(`{"businessName":"","email":"x"}`))
	req = testutils.WithActor(req, "user-9", models.RoleUser)
	w = httptest.NewRecorder()
	handler.ApplyMerchantHandler(w, req)
	status, _ = readBody(t, w)
	require.Equal(t, http.StatusBadRequest, status)

	mockStore.UpdateMerchantStatusFunc = func(ctx context.Context, id int, status string) (*models.Merchant, error) {
		return nil, fmt.Errorf("x: %w", workflow.ErrInvalidTransition)
	}
	req = httptest.NewRequest(http.MethodPut, "/api/admin/merchants/5/status?status=blocked", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"id": "5"})
	w = httptest.NewRecorder()
	handler.UpdateMerchantStatusHandler(w, req)
	status, _ = readBody(t, w)
	require.Equal(t, http.StatusConflict, status)
}

func TestRouter(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	handler := handlers.NewHandler(&MockStorage{products: []models.Product{{ID: 1, Name: "Fern"}}})
	router := handlers.NewRouter(handler, handlers.RouterDeps{Verifier: verifier, AllowedOrigins: []string{"*"}})

	token := func(userID, role string) string {
		tok, err := verifier.Sign(userID, userID+"@example.com", role, time.Hour)
		require.NoError(t, err)
		return "Bearer " + tok
	}

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"ping", http.MethodGet, "/api/ping", "", http.StatusOK},
		{"public catalog", http.MethodGet, "/api/products", "", http.StatusOK},
		{"quotations need token", http.MethodGet, "/api/quotations/my", "", http.StatusUnauthorized},
		{"user quotations", http.MethodGet, "/api/quotations/my", token("user-1", models.RoleUser), http.StatusOK},
		{"admin only", http.MethodGet, "/api/admin/orders", token("user-1", models.RoleUser), http.StatusForbidden},
		{"admin orders", http.MethodGet, "/api/admin/orders", token("admin-1", models.RoleAdmin), http.StatusOK},
		{"merchant only", http.MethodGet, "/api/merchant/quotations/open", token("user-1", models.RoleUser), http.StatusForbidden},
		{"merchant open quotations", http.MethodGet, "/api/merchant/quotations/open", token("m-1", models.RoleMerchant), http.StatusOK},
		{"place order wrong method", http.MethodGet, "/place-order", token("user-1", models.RoleUser), http.StatusMethodNotAllowed},
		{"my orders", http.MethodGet, "/my-orders/user-1", token("user-1", models.RoleUser), http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			status, body := readBody(t, w)
			require.Equal(t, tt.want, status, body)
			if status == http.StatusMethodNotAllowed {
				require.Contains(t, body, `"error"`)
			}
		})
	}
}

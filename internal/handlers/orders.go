package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"nursery/db"
	"nursery/internal/events"
	"nursery/internal/idempotency"
	"nursery/internal/workflow"
	"nursery/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// placeOrderRequest: тело POST /place-order
type placeOrderRequest struct {
	UserID   string          `json:"userId"`
	Customer models.Customer `json:"customer"`
	Order    struct {
		DeliveryAddress models.Address      `json:"deliveryAddress"`
		TotalAmount     decimal.NullDecimal `json:"totalAmount"`
	} `json:"order"`
	CartItems models.CartItems `json:"cartItems"`
}

type placeOrderResponse struct {
	OrderID   int    `json:"orderId"`
	OrderCode string `json:"orderCode"`
}

func validatePlaceOrder(req *placeOrderRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.New("userId is required")
	}
	if strings.TrimSpace(req.Customer.Name) == "" || !strings.Contains(req.Customer.Email, "@") {
		return errors.New("customer name and a valid email are required")
	}
	addr := req.Order.DeliveryAddress
	if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" {
		return errors.New("delivery address line1 and city are required")
	}
	if len(req.CartItems) == 0 {
		return errors.New("cart is empty")
	}
	for _, it := range req.CartItems {
		if it.ProductID <= 0 {
			return errors.New("productId must be positive")
		}
		if it.Quantity <= 0 {
			return errors.New("quantity must be positive")
		}
		if it.QuotationID != nil && *it.QuotationID <= 0 {
			return errors.New("quotationId must be positive")
		}
	}
	if req.Order.TotalAmount.Valid && req.Order.TotalAmount.Decimal.IsNegative() {
		return errors.New("totalAmount must not be negative")
	}
	return nil
}

// PlaceOrderHandler обрабатывает POST /place-order. Ответ {orderId, orderCode},
// ошибки клиента дают 400 {error}.
func (h *Handler) PlaceOrderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.MethodNotAllowedHandler(w, r)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePlaceOrder(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID != actor.ID && actor.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "userId does not match the authenticated user")
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	guarded := false
	if key != "" && h.guard != nil {
		key = req.UserID + ":" + key
		if err := h.guard.Acquire(r.Context(), key); err != nil {
			if errors.Is(err, idempotency.ErrDuplicateRequest) {
				writeError(w, http.StatusConflict, "order with this Idempotency-Key was already submitted")
				return
			}
			// без Redis заказ всё равно оформляется
			h.log.Warn().Err(err).Msg("idempotency guard unavailable")
		} else {
			guarded = true
		}
	}

	order, err := h.Store.PlaceOrder(r.Context(), db.NewOrder{
		UserID:          req.UserID,
		Customer:        req.Customer,
		DeliveryAddress: req.Order.DeliveryAddress,
		CartItems:       req.CartItems,
		ClientTotal:     req.Order.TotalAmount,
	}, actor)
	if err != nil {
		if guarded {
			if rerr := h.guard.Release(context.WithoutCancel(r.Context()), key); rerr != nil {
				h.log.Warn().Err(rerr).Msg("release idempotency key")
			}
		}
		h.failOrder(w, r, err)
		return
	}

	h.log.Info().Int("order_id", order.ID).Str("order_code", order.OrderCode).Str("user_id", order.UserID).Msg("order placed")
	h.publish(r, events.Event{
		Type:      events.OrderCreated,
		OrderID:   order.ID,
		OrderCode: order.OrderCode,
		UserID:    order.UserID,
		Status:    order.Status,
	})
	h.sendConfirmation(r, order)

	writeJSON(w, http.StatusOK, placeOrderResponse{OrderID: order.ID, OrderCode: order.OrderCode})
}

// failOrder: для /place-order все ошибки клиента отдаются как 400
func (h *Handler) failOrder(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrNotAllowed),
		errors.Is(err, db.ErrStaleVersion):
		writeError(w, http.StatusBadRequest, "quotation cannot be used for this order: "+err.Error())
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.fail(w, r, err, "place order")
	}
}

func (h *Handler) sendConfirmation(r *http.Request, order *models.Order) {
	if h.mailer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 15*time.Second)
	defer cancel()
	if err := h.mailer.SendOrderConfirmation(ctx, order); err != nil {
		h.log.Warn().Err(err).Str("order_code", order.OrderCode).Msg("send order confirmation")
	}
}

// MyOrdersHandler обрабатывает GET /my-orders/{userId}
func (h *Handler) MyOrdersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	if userID != actor.ID && actor.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	params := parsePaginationParams(r)

	orders, err := h.Store.ListUserOrders(r.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, err, "list orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	status := r.URL.Query().Get("status")
	if status != "" && !validOrderStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status value")
		return
	}

	orders, err := h.Store.ListOrders(r.Context(), status, params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, err, "list orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.Store.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func validOrderStatus(s string) bool {
	switch s {
	case models.OrderPending, models.OrderConfirmed, models.OrderShipped, models.OrderDelivered, models.OrderCancelled:
		return true
	}
	return false
}

// UpdateOrderStatusHandler обрабатывает PUT /api/admin/orders/{id}/status?status=
func (h *Handler) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := r.URL.Query().Get("status")
	if !validOrderStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status value")
		return
	}

	order, err := h.Store.UpdateOrderStatus(r.Context(), id, status)
	if err != nil {
		h.fail(w, r, err, "update order status")
		return
	}
	h.publish(r, events.Event{
		Type:      events.OrderUpdated,
		OrderID:   order.ID,
		OrderCode: order.OrderCode,
		UserID:    order.UserID,
		Status:    order.Status,
	})
	writeJSON(w, http.StatusOK, order)
}

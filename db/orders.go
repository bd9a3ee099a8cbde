package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"nursery/internal/workflow"
	"nursery/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, order_code, cart_items, delivery_address, customer, total_amount, status, created_at, updated_at`

const orderItemColumns = `oi.id, oi.order_id, oi.product_id, p.name AS product_name, p.image_url,
        oi.quantity, oi.unit_price, oi.quotation_id`

// NewOrder: данные оформления заказа. ClientTotal это сумма, которую показал
// клиент; если задана, она должна совпасть с серверной.
type NewOrder struct {
	UserID          string
	Customer        models.Customer
	DeliveryAddress models.Address
	CartItems       models.CartItems
	ClientTotal     decimal.NullDecimal
}

// PlaceOrder оформляет заказ одной транзакцией: подтверждает котировки,
// списывает остатки, считает цены и сохраняет заказ с позициями.
func (s *Storage) PlaceOrder(ctx context.Context, in NewOrder, actor models.Actor) (*models.Order, error) {
	if len(in.CartItems) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", workflow.ErrInvalidInput)
	}

	order := &models.Order{
		UserID:          in.UserID,
		OrderCode:       workflow.NewOrderCode(),
		DeliveryAddress: in.DeliveryAddress,
		Customer:        in.Customer,
		Status:          models.OrderPending,
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		confirmed := map[int]*models.Quotation{}
		for _, it := range in.CartItems {
			if it.QuotationID == nil {
				continue
			}
			if _, ok := confirmed[*it.QuotationID]; ok {
				continue
			}
			q, err := confirmQuotation(ctx, tx, *it.QuotationID, models.Actor{ID: in.UserID, Email: actor.Email, Role: models.RoleUser})
			if err != nil {
				return err
			}
			confirmed[q.ID] = q
		}

		if err := checkQuotedLines(in.CartItems, confirmed); err != nil {
			return err
		}

		catalog, err := decrementStock(ctx, tx, in.CartItems)
		if err != nil {
			return err
		}

		cart := make(models.CartItems, len(in.CartItems))
		items := make([]models.OrderItem, len(in.CartItems))
		for i, it := range in.CartItems {
			price := catalog[it.ProductID]
			if it.QuotationID != nil {
				quoted, ok := confirmed[*it.QuotationID].UnitPrices[it.ProductID]
				if !ok {
					return fmt.Errorf("%w: quotation %d has no price for product %d", workflow.ErrInvalidInput, *it.QuotationID, it.ProductID)
				}
				price = quoted
			}
			it.Price = price
			cart[i] = it
			items[i] = models.OrderItem{
				ProductID:   it.ProductID,
				Quantity:    it.Quantity,
				UnitPrice:   price,
				QuotationID: it.QuotationID,
			}
		}

		total := cart.Total()
		if in.ClientTotal.Valid && !in.ClientTotal.Decimal.Equal(total) {
			return fmt.Errorf("client total %s, server total %s: %w", in.ClientTotal.Decimal, total, ErrPriceMismatch)
		}
		order.CartItems = cart
		order.TotalAmount = total

		query := `
            INSERT INTO orders
                (user_id, order_code, cart_items, delivery_address, customer, total_amount, status)
            VALUES
                ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id, created_at, updated_at`
		err = tx.QueryRowxContext(ctx, query,
			order.UserID, order.OrderCode, order.CartItems, order.DeliveryAddress, order.Customer, order.TotalAmount, order.Status).
			Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return wrapErr(err, "insert order")
		}

		itemQuery := `
            INSERT INTO order_items (order_id, product_id, quantity, unit_price, quotation_id)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id`
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.QueryRowxContext(ctx, itemQuery,
				order.ID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice, items[i].QuotationID).
				Scan(&items[i].ID); err != nil {
				return wrapErr(err, "insert order item")
			}
		}
		order.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// checkQuotedLines: товар позиции по котировке должен быть в котировке, а
// суммарное количество не больше котированного.
func checkQuotedLines(cart models.CartItems, quotations map[int]*models.Quotation) error {
	type lineKey struct{ quotationID, productID int }
	ordered := map[lineKey]int{}
	for _, it := range cart {
		if it.QuotationID == nil {
			continue
		}
		q := quotations[*it.QuotationID]
		quoted := -1
		for _, qi := range q.Items {
			if qi.ProductID == it.ProductID {
				quoted = qi.Quantity
				break
			}
		}
		if quoted < 0 {
			return fmt.Errorf("%w: product %d is not part of quotation %d", workflow.ErrInvalidInput, it.ProductID, q.ID)
		}
		key := lineKey{q.ID, it.ProductID}
		ordered[key] += it.Quantity
		if ordered[key] > quoted {
			return fmt.Errorf("%w: quotation %d covers %d of product %d, ordered %d",
				workflow.ErrInvalidInput, q.ID, quoted, it.ProductID, ordered[key])
		}
	}
	return nil
}

// decrementStock списывает остатки в порядке product_id и возвращает
// каталожные цены.
func decrementStock(ctx context.Context, tx *sqlx.Tx, cart models.CartItems) (map[int]decimal.Decimal, error) {
	lines := make(models.CartItems, len(cart))
	copy(lines, cart)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	prices := make(map[int]decimal.Decimal, len(lines))
	query := `
        UPDATE product
        SET stock = stock - $1, updated_at = NOW()
        WHERE id = $2 AND stock >= $1
        RETURNING price`
	for _, it := range lines {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %d", workflow.ErrInvalidInput, it.ProductID)
		}
		var price decimal.Decimal
		if err := tx.QueryRowxContext(ctx, query, it.Quantity, it.ProductID).Scan(&price); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("product %d: %w", it.ProductID, ErrInsufficientStock)
			}
			return nil, wrapErr(err, "decrement stock")
		}
		prices[it.ProductID] = price
	}
	return prices, nil
}

func (s *Storage) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	order := &models.Order{}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if err := s.db.GetContext(ctx, order, query, id); err != nil {
		return nil, wrapErr(err, "get order")
	}
	orders := []models.Order{*order}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListUserOrders возвращает заказы пользователя с позициями и названиями товаров
func (s *Storage) ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	query := `SELECT ` + orderColumns + ` FROM orders
        WHERE user_id=$1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &orders, query, userID, limit, offset); err != nil {
		return nil, wrapErr(err, "list user orders")
	}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Storage) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	var err error
	if status != "" {
		query := `SELECT ` + orderColumns + ` FROM orders WHERE status=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		err = s.db.SelectContext(ctx, &orders, query, status, limit, offset)
	} else {
		query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		err = s.db.SelectContext(ctx, &orders, query, limit, offset)
	}
	if err != nil {
		return nil, wrapErr(err, "list orders")
	}
	return orders, nil
}

func (s *Storage) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	byID := make(map[int]int, len(orders))
	for i, o := range orders {
		ids[i] = int64(o.ID)
		byID[o.ID] = i
	}
	items := []models.OrderItem{}
	query := `SELECT ` + orderItemColumns + `
        FROM order_items oi
        JOIN product p ON p.id = oi.product_id
        WHERE oi.order_id = ANY($1)
        ORDER BY oi.id ASC`
	if err := s.db.SelectContext(ctx, &items, query, pq.Array(ids)); err != nil {
		return wrapErr(err, "list order items")
	}
	for _, it := range items {
		i := byID[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return nil
}

// UpdateOrderStatus меняет статус заказа; при отмене товары возвращаются на склад.
func (s *Storage) UpdateOrderStatus(ctx context.Context, id int, status string) (*models.Order, error) {
	order := &models.Order{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1 FOR UPDATE`
		if err := tx.GetContext(ctx, order, query, id); err != nil {
			return wrapErr(err, "get order")
		}
		if err := workflow.CheckOrderTransition(order.Status, status); err != nil {
			return err
		}
		update := `UPDATE orders SET status=$1, updated_at=NOW() WHERE id=$2 RETURNING updated_at`
		if err := tx.QueryRowxContext(ctx, update, status, id).Scan(&order.UpdatedAt); err != nil {
			return wrapErr(err, fmt.Sprintf("update order %d", id))
		}
		order.Status = status

		// котировки заказа остаются user_confirmed, возвращается только склад
		if status == models.OrderCancelled {
			restock := `
                UPDATE product p
                SET stock = p.stock + s.qty, updated_at = NOW()
                FROM (
                    SELECT product_id, SUM(quantity) AS qty
                    FROM order_items
                    WHERE order_id = $1
                    GROUP BY product_id
                ) s
                WHERE p.id = s.product_id`
			if _, err := tx.ExecContext(ctx, restock, id); err != nil {
				return wrapErr(err, "restock cancelled order")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

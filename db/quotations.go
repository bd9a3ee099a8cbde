package db

import (
	"context"
	"fmt"

	"nursery/internal/workflow"
	"nursery/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const quotationColumns = `id, user_id, user_email, quotation_code, merchant_code, items, status, approved_price,
        unit_prices, total_quote_price, estimated_delivery_days, version, created_at, updated_at`

// CreateQuotation сохраняет новую строку котировки (запрос или ответ) и первую
// запись истории.
func (s *Storage) CreateQuotation(ctx context.Context, q *models.Quotation, actor models.Actor) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertQuotation(ctx, tx, q, actor)
	})
}

func insertQuotation(ctx context.Context, tx *sqlx.Tx, q *models.Quotation, actor models.Actor) error {
	query := `
        INSERT INTO quotation
            (user_id, user_email, quotation_code, merchant_code, items, status, approved_price,
             unit_prices, total_quote_price, estimated_delivery_days, version)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id, created_at, updated_at`
	err := tx.QueryRowxContext(ctx, query,
		q.UserID, q.UserEmail, q.QuotationCode, q.MerchantCode, q.Items, q.Status, q.ApprovedPrice,
		q.UnitPrices, q.TotalQuotePrice, q.EstimatedDeliveryDays, q.Version).
		Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return wrapErr(err, "insert quotation")
	}
	return saveQuotationHistory(ctx, tx, q, actor, "")
}

func saveQuotationHistory(ctx context.Context, tx *sqlx.Tx, q *models.Quotation, actor models.Actor, note string) error {
	query := `
        INSERT INTO quotation_history
            (quotation_id, version, status, actor_id, actor_role, note, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, NOW())
    `
	_, err := tx.ExecContext(ctx, query, q.ID, q.Version, q.Status, actor.ID, actor.Role, note)
	return wrapErr(err, "save quotation history")
}

// updateQuotationStatus записывает новый статус, если версия строки не изменилась
func updateQuotationStatus(ctx context.Context, tx *sqlx.Tx, q *models.Quotation, prevVersion int, actor models.Actor, note string) error {
	query := `
        UPDATE quotation
        SET status=$1, approved_price=$2, version=$3, updated_at=NOW()
        WHERE id=$4 AND version=$5`
	res, err := tx.ExecContext(ctx, query, q.Status, q.ApprovedPrice, q.Version, q.ID, prevVersion)
	if err != nil {
		return wrapErr(err, "update quotation")
	}
	if err := expectOneRow(res, fmt.Sprintf("update quotation %d", q.ID)); err != nil {
		return err
	}
	return saveQuotationHistory(ctx, tx, q, actor, note)
}

func (s *Storage) GetQuotation(ctx context.Context, id int) (*models.Quotation, error) {
	q := &models.Quotation{}
	query := `SELECT ` + quotationColumns + ` FROM quotation WHERE id=$1`
	if err := s.db.GetContext(ctx, q, query, id); err != nil {
		return nil, wrapErr(err, "get quotation")
	}
	return q, nil
}

// GetQuotationsByCode возвращает исходный запрос первым, затем ответы продавцов
func (s *Storage) GetQuotationsByCode(ctx context.Context, code string) ([]models.Quotation, error) {
	quotations := []models.Quotation{}
	query := `SELECT ` + quotationColumns + ` FROM quotation
        WHERE quotation_code=$1
        ORDER BY merchant_code NULLS FIRST, id ASC`
	if err := s.db.SelectContext(ctx, &quotations, query, code); err != nil {
		return nil, wrapErr(err, "get quotations by code")
	}
	if len(quotations) == 0 {
		return nil, fmt.Errorf("quotation %s: %w", code, ErrNotFound)
	}
	return quotations, nil
}

// ListUserQuotations: запросы пользователя и одобренные ответы на них
func (s *Storage) ListUserQuotations(ctx context.Context, userID string, limit, offset int) ([]models.Quotation, error) {
	quotations := []models.Quotation{}
	query := `SELECT ` + quotationColumns + ` FROM quotation
        WHERE user_id=$1
        AND (merchant_code IS NULL OR status IN ('approved', 'user_confirmed'))
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &quotations, query, userID, limit, offset); err != nil {
		return nil, wrapErr(err, "list user quotations")
	}
	return quotations, nil
}

// ListQuotations: список для администратора, опционально по статусу
func (s *Storage) ListQuotations(ctx context.Context, status string, limit, offset int) ([]models.Quotation, error) {
	quotations := []models.Quotation{}
	var err error
	if status != "" {
		query := `SELECT ` + quotationColumns + ` FROM quotation WHERE status=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		err = s.db.SelectContext(ctx, &quotations, query, status, limit, offset)
	} else {
		query := `SELECT ` + quotationColumns + ` FROM quotation ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		err = s.db.SelectContext(ctx, &quotations, query, limit, offset)
	}
	if err != nil {
		return nil, wrapErr(err, "list quotations")
	}
	return quotations, nil
}

// ListOpenQuotations: открытые запросы, на которые продавец ещё не ответил
func (s *Storage) ListOpenQuotations(ctx context.Context, merchantCode string, limit, offset int) ([]models.Quotation, error) {
	quotations := []models.Quotation{}
	query := `SELECT ` + quotationColumns + ` FROM quotation q
        WHERE q.merchant_code IS NULL AND q.status = 'pending'
        AND NOT EXISTS (
            SELECT 1 FROM quotation r
            WHERE r.quotation_code = q.quotation_code AND r.merchant_code = $1
        )
        ORDER BY q.created_at ASC
        LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &quotations, query, merchantCode, limit, offset); err != nil {
		return nil, wrapErr(err, "list open quotations")
	}
	return quotations, nil
}

func (s *Storage) GetQuotationHistory(ctx context.Context, quotationID int) ([]models.QuotationHistory, error) {
	history := []models.QuotationHistory{}
	query := `
        SELECT id, quotation_id, version, status, actor_id, actor_role, note, created_at
        FROM quotation_history
        WHERE quotation_id=$1
        ORDER BY version ASC`
	if err := s.db.SelectContext(ctx, &history, query, quotationID); err != nil {
		return nil, wrapErr(err, "get quotation history")
	}
	return history, nil
}

// CreateMerchantResponse сохраняет ответ продавца. Исходный запрос блокируется,
// чтобы одобрение не прошло одновременно с новым ответом.
func (s *Storage) CreateMerchantResponse(ctx context.Context, code string, prices models.UnitPrices, deliveryDays int, actor models.Actor) (*models.Quotation, error) {
	var resp *models.Quotation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		merchant := &models.Merchant{}
		mq := `SELECT ` + merchantColumns + ` FROM merchant WHERE user_id=$1`
		if err := tx.GetContext(ctx, merchant, mq, actor.ID); err != nil {
			return wrapErr(err, "get merchant")
		}

		original := &models.Quotation{}
		oq := `SELECT ` + quotationColumns + ` FROM quotation
            WHERE quotation_code=$1 AND merchant_code IS NULL
            FOR UPDATE`
		if err := tx.GetContext(ctx, original, oq, code); err != nil {
			return wrapErr(err, "get original quotation")
		}

		r, err := workflow.NewResponse(original, merchant, prices, deliveryDays)
		if err != nil {
			return err
		}
		if err := insertQuotation(ctx, tx, r, actor); err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// lockQuotationGroup блокирует все строки с тем же quotation_code, что и id.
// Строки блокируются в порядке id, поэтому параллельные решения не
// взаимоблокируются.
func lockQuotationGroup(ctx context.Context, tx *sqlx.Tx, id int) ([]models.Quotation, error) {
	var code string
	if err := tx.GetContext(ctx, &code, `SELECT quotation_code FROM quotation WHERE id=$1`, id); err != nil {
		return nil, wrapErr(err, "get quotation code")
	}
	group := []models.Quotation{}
	query := `SELECT ` + quotationColumns + ` FROM quotation
        WHERE quotation_code=$1
        ORDER BY id ASC
        FOR UPDATE`
	if err := tx.SelectContext(ctx, &group, query, code); err != nil {
		return nil, wrapErr(err, "lock quotation group")
	}
	return group, nil
}

func findInGroup(group []models.Quotation, match func(*models.Quotation) bool) *models.Quotation {
	for i := range group {
		if match(&group[i]) {
			return &group[i]
		}
	}
	return nil
}

func checkVersion(q *models.Quotation, expected int) error {
	if expected > 0 && q.Version != expected {
		return fmt.Errorf("quotation %d is at version %d, expected %d: %w", q.ID, q.Version, expected, ErrStaleVersion)
	}
	return nil
}

// ApproveQuotation одобряет ответ продавца. Ответ, исходный запрос и
// автоматически отклонённые ответы меняются одной транзакцией.
func (s *Storage) ApproveQuotation(ctx context.Context, responseID int, approvedPrice decimal.NullDecimal, expectedVersion int, actor models.Actor) (*workflow.ApprovalPlan, error) {
	var plan *workflow.ApprovalPlan
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		group, err := lockQuotationGroup(ctx, tx, responseID)
		if err != nil {
			return err
		}
		response := findInGroup(group, func(q *models.Quotation) bool { return q.ID == responseID })
		original := findInGroup(group, func(q *models.Quotation) bool { return q.IsOriginal() })
		if response == nil || original == nil {
			return fmt.Errorf("quotation %d: original request is missing: %w", responseID, ErrNotFound)
		}
		if err := checkVersion(response, expectedVersion); err != nil {
			return err
		}

		p, err := workflow.PlanApproval(original, response, group, approvedPrice)
		if err != nil {
			return err
		}
		notes := map[int]string{
			p.Response.ID: "approved by admin",
			p.Original.ID: fmt.Sprintf("merchant %s approved", *response.MerchantCode),
		}
		for _, changed := range p.Changed() {
			note, ok := notes[changed.ID]
			if !ok {
				note = "another response was approved"
			}
			if err := updateQuotationStatus(ctx, tx, changed, changed.Version-1, actor, note); err != nil {
				return err
			}
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// transitionQuotation: общий шаг для переходов одной строки
func (s *Storage) transitionQuotation(ctx context.Context, id, expectedVersion int, actor models.Actor, note string,
	next func(*models.Quotation) (*models.Quotation, error)) (*models.Quotation, error) {
	var out *models.Quotation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current := &models.Quotation{}
		query := `SELECT ` + quotationColumns + ` FROM quotation WHERE id=$1 FOR UPDATE`
		if err := tx.GetContext(ctx, current, query, id); err != nil {
			return wrapErr(err, "get quotation")
		}
		if err := checkVersion(current, expectedVersion); err != nil {
			return err
		}
		updated, err := next(current)
		if err != nil {
			return err
		}
		if err := updateQuotationStatus(ctx, tx, updated, current.Version, actor, note); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RejectQuotation отклоняет ответ продавца
func (s *Storage) RejectQuotation(ctx context.Context, responseID, expectedVersion int, actor models.Actor, note string) (*models.Quotation, error) {
	if note == "" {
		note = "rejected by admin"
	}
	return s.transitionQuotation(ctx, responseID, expectedVersion, actor, note, workflow.PlanRejection)
}

// MarkQuotationOrderPlaced переводит исходный запрос в "user order placed"
func (s *Storage) MarkQuotationOrderPlaced(ctx context.Context, originalID, expectedVersion int, actor models.Actor) (*models.Quotation, error) {
	return s.transitionQuotation(ctx, originalID, expectedVersion, actor, "order placed by admin", workflow.PlanOrderPlaced)
}

// confirmQuotation подтверждает котировку внутри транзакции заказа
func confirmQuotation(ctx context.Context, tx *sqlx.Tx, id int, actor models.Actor) (*models.Quotation, error) {
	current := &models.Quotation{}
	query := `SELECT ` + quotationColumns + ` FROM quotation WHERE id=$1 FOR UPDATE`
	if err := tx.GetContext(ctx, current, query, id); err != nil {
		return nil, wrapErr(err, fmt.Sprintf("get quotation %d", id))
	}
	confirmed, err := workflow.PlanConfirmation(current, actor.ID)
	if err != nil {
		return nil, err
	}
	if err := updateQuotationStatus(ctx, tx, confirmed, current.Version, actor, "confirmed by order"); err != nil {
		return nil, err
	}
	return confirmed, nil
}

package db

import (
	"context"
	"fmt"

	"nursery/internal/workflow"
	"nursery/models"

	"github.com/jmoiron/sqlx"
)

const merchantColumns = `id, user_id, merchant_code, business_name, email, phone, address, status, created_at, updated_at`

// CreateMerchant сохраняет заявку продавца
func (s *Storage) CreateMerchant(ctx context.Context, m *models.Merchant) error {
	query := `
        INSERT INTO merchant
            (user_id, merchant_code, business_name, email, phone, address, status)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		m.UserID, m.MerchantCode, m.BusinessName, m.Email, m.Phone, m.Address, m.Status).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	return wrapErr(err, "create merchant")
}

func (s *Storage) GetMerchant(ctx context.Context, id int) (*models.Merchant, error) {
	m := &models.Merchant{}
	query := `SELECT ` + merchantColumns + ` FROM merchant WHERE id=$1`
	if err := s.db.GetContext(ctx, m, query, id); err != nil {
		return nil, wrapErr(err, "get merchant")
	}
	return m, nil
}

func (s *Storage) GetMerchantByUserID(ctx context.Context, userID string) (*models.Merchant, error) {
	m := &models.Merchant{}
	query := `SELECT ` + merchantColumns + ` FROM merchant WHERE user_id=$1`
	if err := s.db.GetContext(ctx, m, query, userID); err != nil {
		return nil, wrapErr(err, "get merchant by user")
	}
	return m, nil
}

func (s *Storage) ListMerchants(ctx context.Context, status string, limit, offset int) ([]models.Merchant, error) {
	merchants := []models.Merchant{}
	var err error
	if status != "" {
		query := `SELECT ` + merchantColumns + ` FROM merchant WHERE status=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		err = s.db.SelectContext(ctx, &merchants, query, status, limit, offset)
	} else {
		query := `SELECT ` + merchantColumns + ` FROM merchant ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		err = s.db.SelectContext(ctx, &merchants, query, limit, offset)
	}
	if err != nil {
		return nil, wrapErr(err, "list merchants")
	}
	return merchants, nil
}

// UpdateMerchantStatus меняет статус продавца с проверкой перехода
func (s *Storage) UpdateMerchantStatus(ctx context.Context, id int, status string) (*models.Merchant, error) {
	m := &models.Merchant{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT ` + merchantColumns + ` FROM merchant WHERE id=$1 FOR UPDATE`
		if err := tx.GetContext(ctx, m, query, id); err != nil {
			return wrapErr(err, "get merchant")
		}
		if err := workflow.CheckMerchantTransition(m.Status, status); err != nil {
			return err
		}
		update := `UPDATE merchant SET status=$1, updated_at=NOW() WHERE id=$2 RETURNING updated_at`
		if err := tx.QueryRowxContext(ctx, update, status, id).Scan(&m.UpdatedAt); err != nil {
			return wrapErr(err, fmt.Sprintf("update merchant %d", id))
		}
		m.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

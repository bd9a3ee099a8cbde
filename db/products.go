package db

import (
	"context"

	"nursery/models"

	"github.com/lib/pq"
)

const productColumns = `id, name, description, category, price, stock, image_url, created_at, updated_at`

func (s *Storage) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	p := &models.Product{}
	query := `SELECT ` + productColumns + ` FROM product WHERE id=$1`
	if err := s.db.GetContext(ctx, p, query, id); err != nil {
		return nil, wrapErr(err, "get product")
	}
	return p, nil
}

func (s *Storage) ListProducts(ctx context.Context, category string, limit, offset int) ([]models.Product, error) {
	products := []models.Product{}
	var err error
	if category != "" {
		query := `SELECT ` + productColumns + ` FROM product WHERE category=$1 ORDER BY name ASC LIMIT $2 OFFSET $3`
		err = s.db.SelectContext(ctx, &products, query, category, limit, offset)
	} else {
		query := `SELECT ` + productColumns + ` FROM product ORDER BY name ASC LIMIT $1 OFFSET $2`
		err = s.db.SelectContext(ctx, &products, query, limit, offset)
	}
	if err != nil {
		return nil, wrapErr(err, "list products")
	}
	return products, nil
}

// GetProductsByIDs возвращает товары по списку id (порядок не гарантируется)
func (s *Storage) GetProductsByIDs(ctx context.Context, ids []int) ([]models.Product, error) {
	products := []models.Product{}
	if len(ids) == 0 {
		return products, nil
	}
	arr := make([]int64, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	query := `SELECT ` + productColumns + ` FROM product WHERE id = ANY($1)`
	if err := s.db.SelectContext(ctx, &products, query, pq.Array(arr)); err != nil {
		return nil, wrapErr(err, "get products")
	}
	return products, nil
}

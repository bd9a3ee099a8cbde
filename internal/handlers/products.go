package handlers

import (
	"net/http"
	"strings"
)

// ListProductsHandler возвращает каталог, опционально по категории
func (h *Handler) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	products, err := h.Store.ListProducts(r.Context(), category, params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, err, "list products")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intURLParam(r, "productId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get product")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

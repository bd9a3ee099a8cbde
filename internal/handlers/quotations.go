package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nursery/internal/events"
	"nursery/internal/workflow"
	"nursery/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type quotationRequest struct {
	Items []struct {
		ProductID int `json:"productId"`
		Quantity  int `json:"quantity"`
	} `json:"items"`
}

type merchantResponseRequest struct {
	UnitPrices            models.UnitPrices `json:"unitPrices"`
	EstimatedDeliveryDays int               `json:"estimatedDeliveryDays"`
}

// CreateQuotationHandler обрабатывает POST /api/quotations: пользователь просит цену
func (h *Handler) CreateQuotationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req quotationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 || len(req.Items) > 100 {
		writeError(w, http.StatusBadRequest, "items must contain between 1 and 100 entries")
		return
	}

	items := make(models.QuotationItems, len(req.Items))
	ids := make([]int, len(req.Items))
	for i, it := range req.Items {
		items[i] = models.QuotationItem{ProductID: it.ProductID, Quantity: it.Quantity}
		ids[i] = it.ProductID
	}

	q, err := workflow.NewRequest(actor.ID, actor.Email, items)
	if err != nil {
		h.fail(w, r, err, "create quotation")
		return
	}

	// все товары должны существовать в каталоге
	products, err := h.Store.GetProductsByIDs(r.Context(), ids)
	if err != nil {
		h.fail(w, r, err, "create quotation")
		return
	}
	names := make(map[int]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	for i := range q.Items {
		name, found := names[q.Items[i].ProductID]
		if !found {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown product %d", q.Items[i].ProductID))
			return
		}
		q.Items[i].ProductName = name
	}

	if err := h.Store.CreateQuotation(r.Context(), q, actor); err != nil {
		h.fail(w, r, err, "create quotation")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetMyQuotationsHandler: запросы пользователя и одобренные ответы на них
func (h *Handler) GetMyQuotationsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	params := parsePaginationParams(r)

	quotations, err := h.Store.ListUserQuotations(r.Context(), actor.ID, params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, err, "list quotations")
		return
	}
	writeJSON(w, http.StatusOK, quotations)
}

// GetQuotationByCodeHandler возвращает исходный запрос и ответы продавцов.
// Пользователь видит только свои котировки, а из ответов только одобренные.
func (h *Handler) GetQuotationByCodeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing quotation code")
		return
	}

	quotations, err := h.Store.GetQuotationsByCode(r.Context(), code)
	if err != nil {
		h.fail(w, r, err, "get quotation")
		return
	}
	if actor.Role == models.RoleAdmin {
		writeJSON(w, http.StatusOK, quotations)
		return
	}
	if quotations[0].UserID != actor.ID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	visible := make([]models.Quotation, 0, len(quotations))
	for _, q := range quotations {
		if q.IsOriginal() || q.Status == models.QuotationApproved || q.Status == models.QuotationUserConfirmed {
			visible = append(visible, q)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (h *Handler) GetQuotationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.Store.GetQuotation(r.Context(), id); err != nil {
		h.fail(w, r, err, "get quotation history")
		return
	}
	history, err := h.Store.GetQuotationHistory(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get quotation history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// ListOpenQuotationsHandler: открытые запросы, на которые продавец ещё не ответил
func (h *Handler) ListOpenQuotationsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	params := parsePaginationParams(r)

	merchant, err := h.Store.GetMerchantByUserID(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, r, err, "get merchant")
		return
	}
	if merchant.Status != models.MerchantApproved {
		writeError(w, http.StatusForbidden, "merchant is not approved")
		return
	}

	quotations, err := h.Store.ListOpenQuotations(r.Context(), merchant.MerchantCode, params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, err, "list open quotations")
		return
	}
	writeJSON(w, http.StatusOK, quotations)
}

// CreateMerchantResponseHandler обрабатывает POST /api/merchant/quotations/{code}/responses
func (h *Handler) CreateMerchantResponseHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing quotation code")
		return
	}

	var req merchantResponseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateMerchantResponse(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.Store.CreateMerchantResponse(r.Context(), code, req.UnitPrices, req.EstimatedDeliveryDays, actor)
	if err != nil {
		h.fail(w, r, err, "create quotation response")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func validateMerchantResponse(req *merchantResponseRequest) error {
	if len(req.UnitPrices) == 0 {
		return errors.New("unitPrices is required")
	}
	if req.EstimatedDeliveryDays <= 0 || req.EstimatedDeliveryDays > 365 {
		return errors.New("estimatedDeliveryDays must be between 1 and 365")
	}
	return nil
}

// ListQuotationsHandler: список для администратора
func (h *Handler) ListQuotationsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	status := r.URL.Query().Get("status")
	if status != "" && !validQuotationStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status value")
		return
	}

	quotations, err := h.Store.ListQuotations(r.Context(), status, params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, err, "list quotations")
		return
	}
	writeJSON(w, http.StatusOK, quotations)
}

func validQuotationStatus(s string) bool {
	switch s {
	case models.QuotationPending, models.QuotationWaitingForAdmin, models.QuotationApproved,
		models.QuotationRejected, models.QuotationAdminApproved, models.QuotationUserOrderPlaced,
		models.QuotationUserConfirmed:
		return true
	}
	return false
}

// ApproveQuotationHandler обрабатывает PUT /api/admin/quotations/{id}/approve
func (h *Handler) ApproveQuotationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	version, err := optionalVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var price decimal.NullDecimal
	if s := r.URL.Query().Get("approvedPrice"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "approvedPrice must be a positive number")
			return
		}
		if err := workflow.CheckPrice(d); err != nil {
			writeError(w, http.StatusBadRequest, "approvedPrice: "+err.Error())
			return
		}
		price = decimal.NewNullDecimal(d)
	}

	plan, err := h.Store.ApproveQuotation(r.Context(), id, price, version, actor)
	if err != nil {
		h.fail(w, r, err, "approve quotation")
		return
	}

	h.publish(r, events.Event{
		Type:          events.QuotationApproved,
		QuotationCode: plan.Response.QuotationCode,
		UserID:        plan.Response.UserID,
		Status:        plan.Response.Status,
	})
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) RejectQuotationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	version, err := optionalVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := h.Store.RejectQuotation(r.Context(), id, version, actor, strings.TrimSpace(r.URL.Query().Get("reason")))
	if err != nil {
		h.fail(w, r, err, "reject quotation")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// MarkOrderPlacedHandler: администратор оформил заказ по исходному запросу
func (h *Handler) MarkOrderPlacedHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	version, err := optionalVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := h.Store.MarkQuotationOrderPlaced(r.Context(), id, version, actor)
	if err != nil {
		h.fail(w, r, err, "mark quotation order placed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

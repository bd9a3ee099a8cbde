package handlers

import (
	"errors"
	"net/http"
	"strings"

	"nursery/internal/workflow"
	"nursery/models"
)

type merchantRequest struct {
	BusinessName string `json:"businessName"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
}

func validateMerchantRequest(m *merchantRequest) error {
	if m.BusinessName == "" || len(m.BusinessName) > 200 {
		return errors.New("businessName is required and max length 200")
	}
	if !strings.Contains(m.Email, "@") || len(m.Email) > 200 {
		return errors.New("a valid email is required")
	}
	if len(m.Phone) > 50 {
		return errors.New("phone max length 50")
	}
	return nil
}

// ApplyMerchantHandler обрабатывает POST /api/merchants: заявка на роль продавца
func (h *Handler) ApplyMerchantHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req merchantRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.BusinessName = strings.TrimSpace(req.BusinessName)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateMerchantRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := &models.Merchant{
		UserID:       actor.ID,
		MerchantCode: workflow.NewMerchantCode(),
		BusinessName: req.BusinessName,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		Status:       models.MerchantPending,
	}
	if err := h.Store.CreateMerchant(r.Context(), m); err != nil {
		h.fail(w, r, err, "create merchant")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetMyMerchantHandler: профиль продавца текущего пользователя
func (h *Handler) GetMyMerchantHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	m, err := h.Store.GetMerchantByUserID(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, r, err, "get merchant")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ListMerchantsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	status := r.URL.Query().Get("status")

	merchants, err := h.Store.ListMerchants(r.Context(), status, params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, err, "list merchants")
		return
	}
	writeJSON(w, http.StatusOK, merchants)
}

func (h *Handler) GetMerchantHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.Store.GetMerchant(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get merchant")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateMerchantStatusHandler обрабатывает PUT /api/admin/merchants/{id}/status?status=
func (h *Handler) UpdateMerchantStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intURLParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case models.MerchantApproved, models.MerchantRejected, models.MerchantBlocked:
	default:
		writeError(w, http.StatusBadRequest, "invalid status value")
		return
	}

	m, err := h.Store.UpdateMerchantStatus(r.Context(), id, status)
	if err != nil {
		h.fail(w, r, err, "update merchant status")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"nursery/db"
	"nursery/internal/auth"
	"nursery/internal/events"
	"nursery/internal/idempotency"
	"nursery/internal/mailer"
	"nursery/internal/workflow"
	"nursery/models"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1048576

// Handler оборачивает Storage и побочные сервисы (события, почта, идемпотентность)
type Handler struct {
	Store     StorageInterface
	publisher events.Publisher
	guard     idempotency.Guard
	mailer    mailer.Sender
	log       zerolog.Logger
}

type Option func(*Handler)

func WithPublisher(p events.Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

func WithIdempotency(g idempotency.Guard) Option {
	return func(h *Handler) { h.guard = g }
}

func WithMailer(m mailer.Sender) Option {
	return func(h *Handler) { h.mailer = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// NewHandler создает новый Handler
func NewHandler(store StorageInterface, opts ...Option) *Handler {
	h := &Handler{
		Store:     store,
		publisher: events.Discard{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("database ping")
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// MethodNotAllowedHandler: 405 в формате {error}
func (h *Handler) MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (h *Handler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail переводит ошибку хранилища или workflow в HTTP-ответ
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, workflow.ErrInvalidInput),
		errors.Is(err, db.ErrPriceMismatch),
		errors.Is(err, db.ErrInsufficientStock):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: not found", what))
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, db.ErrStaleVersion),
		errors.Is(err, db.ErrDuplicate),
		errors.Is(err, idempotency.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(what)
		writeError(w, http.StatusInternalServerError, "failed to "+what)
	}
}

// decodeBody читает JSON с ограничением размера тела
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.New("failed to read request body")
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON format")
	}
	return nil
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams парсит limit и offset из query, с дефолтами и ограничениями
func parsePaginationParams(r *http.Request) PaginationParams {
	var params PaginationParams
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	params.Limit = 10 // дефолт
	params.Offset = 0

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			params.Limit = l
		}
	}
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			params.Offset = o
		}
	}
	return params
}

func intURLParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// optionalVersion читает ?version=; 0 означает "без проверки версии"
func optionalVersion(r *http.Request) (int, error) {
	s := r.URL.Query().Get("version")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, errors.New("invalid version")
	}
	return v, nil
}

func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
	}
	return actor, ok
}

// publish отправляет событие; ошибка только логируется
func (h *Handler) publish(r *http.Request, e events.Event) {
	if err := h.publisher.Publish(context.WithoutCancel(r.Context()), e); err != nil {
		h.log.Warn().Err(err).Str("type", e.Type).Msg("publish event")
	}
}

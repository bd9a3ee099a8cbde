package testutils

import (
	"context"
	"net/http"

	"nursery/internal/auth"

	"github.com/go-chi/chi/v5"
)

// WithChiURLParams подставляет параметры пути в контекст chi запроса для тестов.
func WithChiURLParams(req *http.Request, params map[string]string) *http.Request {
	chiCtx := chi.NewRouteContext()
	for k, v := range params {
		chiCtx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
}

// WithActor кладёт в запрос claims, как это делает auth.Authenticate.
func WithActor(req *http.Request, userID, role string) *http.Request {
	claims := &auth.Claims{UserID: userID, Email: userID + "@example.com", Role: role}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

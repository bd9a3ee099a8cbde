package logger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// New собирает zerolog.Logger: format "json" для прода, иначе консольный вывод.
func New(level, format string) zerolog.Logger {
	return newWithWriter(level, format, os.Stdout)
}

func newWithWriter(level, format string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

type slotKey struct{}

// requestSlot заполняется ниже по цепочке (аутентификацией) и читается логгером
type requestSlot struct {
	userID string
}

// SetUserID запоминает пользователя запроса для строки лога
func SetUserID(ctx context.Context, userID string) {
	if slot, ok := ctx.Value(slotKey{}).(*requestSlot); ok {
		slot.userID = userID
	}
}

// Middleware пишет по строке на каждый запрос и восстанавливается после паники.
func Middleware(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			slot := &requestSlot{}
			r = r.WithContext(context.WithValue(r.Context(), slotKey{}, slot))

			defer func() {
				if p := recover(); p != nil {
					log.Error().
						Str("request_id", middleware.GetReqID(r.Context())).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Interface("panic", p).
						Msg("request panicked")
					writeError(rec, http.StatusInternalServerError, "internal server error")
					return
				}

				status := rec.Status()
				if status == 0 {
					status = http.StatusOK
				}
				event := log.Info()
				if status >= http.StatusInternalServerError {
					event = log.Error()
				}
				event.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("user_id", slot.userID).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("duration", time.Since(start)).
					Msg("request completed")
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

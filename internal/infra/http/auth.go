package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"stardiscover/internal/domain"
)

type ctxKey int

const userKey ctxKey = iota

// UserAuthMiddleware аутентифицирует запрос по заголовку X-User-ID.
// Идентификация выполняется внешней границей (OAuth-прокси), здесь
// только проверяется существование пользователя.
func UserAuthMiddleware(users domain.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-User-ID")
			if raw == "" {
				WriteError(w, http.StatusUnauthorized, errors.New("not authenticated"))
				return
			}
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, errors.New("invalid user id"))
				return
			}
			user, err := users.GetByID(userID)
			if err != nil {
				if errors.Is(err, domain.ErrUserNotFound) {
					WriteError(w, http.StatusNotFound, errors.New("user not found"))
					return
				}
				WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// UserFrom возвращает аутентифицированного пользователя из контекста запроса.
func UserFrom(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(userKey).(domain.User)
	return user, ok
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет JSON-ответ.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

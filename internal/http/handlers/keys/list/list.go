// Package list реализует HTTP-обработчик списка ключей доступа.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/terabox-bot/internal/http/response"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

const (
	// DefaultLimit число ключей в ответе без параметра limit.
	DefaultLimit = 20
	// MaxLimit наибольшее допустимое значение limit.
	MaxLimit = 1000
)

// Handler возвращает последние выпущенные ключи.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service источник ключей доступа.
type Service interface {
	ListKeys(ctx context.Context, limit int) ([]models.AccessKey, error)
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.keys.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	limit := DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxLimit {
			log.Warn("invalid limit", slog.String("limit", raw))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid limit"))
			return
		}
		limit = n
	}

	keys, err := h.service.ListKeys(r.Context(), limit)
	if err != nil {
		log.Error("failed to list keys", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list keys"))
		return
	}
	if keys == nil {
		keys = []models.AccessKey{}
	}

	log.Debug("keys listed", slog.Int("count", len(keys)))
	render.JSON(w, r, response.OK(map[string]any{
		"keys":  keys,
		"count": len(keys),
	}))
}

// Package remove реализует HTTP-обработчик удаления неиспользованного ключа.
package remove

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/terabox-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/terabox-bot/internal/http/response"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/keygen"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
)

// Handler удаляет ключ по токену из пути запроса.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service удаляет ключи доступа.
type Service interface {
	DeleteKey(ctx context.Context, token string) error
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.keys.remove"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	token := keygen.Normalize(chi.URLParam(r, "token"))
	if token == "" {
		log.Warn("empty token")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid token"))
		return
	}

	err := h.service.DeleteKey(r.Context(), token)
	switch {
	case errors.Is(err, subscription.ErrKeyNotFound):
		log.Warn("key not found", slog.String("token", token))
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("key not found"))
		return
	case errors.Is(err, subscription.ErrKeyRedeemed):
		log.Warn("attempt to delete redeemed key", slog.String("token", token))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("redeemed key cannot be deleted"))
		return
	case err != nil:
		log.Error("failed to delete key", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not delete key"))
		return
	}

	log.Info("key deleted",
		slog.String("admin", middlewarectx.Username(r.Context())),
		slog.String("token", token),
	)
	render.JSON(w, r, response.OK(map[string]any{
		"deleted": token,
	}))
}

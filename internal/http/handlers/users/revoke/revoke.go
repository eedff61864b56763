// Package revoke реализует HTTP-обработчик отзыва подписки.
package revoke

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/users/view"
	"github.com/magabrotheeeer/terabox-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/terabox-bot/internal/http/response"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

// Handler сбрасывает платную подписку пользователя.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service отзывает подписку.
type Service interface {
	RevokeUser(ctx context.Context, userID int64) (models.User, error)
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.users.revoke"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		log.Warn("invalid id format", slog.String("id", idStr))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid id"))
		return
	}

	u, err := h.service.RevokeUser(r.Context(), id)
	if err != nil {
		log.Error("failed to revoke subscription", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not revoke subscription"))
		return
	}

	log.Info("subscription revoked",
		slog.String("admin", middlewarectx.Username(r.Context())),
		slog.Int64("user_id", id),
	)
	render.JSON(w, r, response.OK(view.FromUser(u)))
}

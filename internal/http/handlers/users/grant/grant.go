// Package grant реализует HTTP-обработчик выдачи подписки без ключа.
package grant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/duration"
	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/users/view"
	"github.com/magabrotheeeer/terabox-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/terabox-bot/internal/http/response"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

// Handler продлевает подписку пользователя на срок плана или число дней.
type Handler struct {
	log      *slog.Logger
	service  Service
	plans    map[string]int
	validate *validator.Validate
}

// Service выдаёт подписку.
type Service interface {
	GrantUser(ctx context.Context, userID int64, days int) (models.User, error)
}

// New создаёт Handler.
func New(log *slog.Logger, service Service, plans map[string]int) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		plans:    plans,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.users.grant"
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

	var req duration.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	days, err := req.Resolve(h.plans)
	if err != nil {
		log.Warn("invalid duration", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}

	u, err := h.service.GrantUser(r.Context(), id, days)
	if err != nil {
		log.Error("failed to grant subscription", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not grant subscription"))
		return
	}

	log.Info("subscription granted",
		slog.String("admin", middlewarectx.Username(r.Context())),
		slog.Int64("user_id", id),
		slog.Int("days", days),
	)
	render.JSON(w, r, response.OK(view.FromUser(u)))
}

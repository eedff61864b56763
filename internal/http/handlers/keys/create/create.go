// Package create реализует HTTP-обработчик выпуска ключа доступа.
//
// Срок ключа задаётся именем плана или числом дней. В ответе возвращается
// созданный ключ.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/duration"
	"github.com/magabrotheeeer/terabox-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/terabox-bot/internal/http/response"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

// Handler управляет запросами на выпуск ключей.
type Handler struct {
	log      *slog.Logger
	service  Service
	plans    map[string]int
	validate *validator.Validate
}

// Service выпускает ключи доступа.
type Service interface {
	IssueKey(ctx context.Context, days int) (models.AccessKey, error)
}

// New создает новый Handler. plans сопоставляет имя плана и срок в днях.
func New(log *slog.Logger, service Service, plans map[string]int) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		plans:    plans,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.keys.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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

	key, err := h.service.IssueKey(r.Context(), days)
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			log.Warn("request canceled", sl.Err(err))
		} else {
			log.Error("failed to issue key", sl.Err(err))
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not issue key"))
		return
	}

	log.Info("key issued",
		slog.String("admin", middlewarectx.Username(r.Context())),
		slog.Int("days", days),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OK(key))
}

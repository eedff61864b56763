// Package broadcast реализует HTTP-обработчик постановки рассылки.
//
// Рассылка выполняется асинхронно: обработчик принимает задачу и сразу
// отвечает 202 Accepted.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/terabox-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/terabox-bot/internal/http/response"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	svcbroadcast "github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
)

// Request текст рассылки.
type Request struct {
	Text string `json:"text" validate:"required,max=4096"`
}

// Handler принимает задачи рассылки.
type Handler struct {
	log        *slog.Logger
	dispatcher Dispatcher
	validate   *validator.Validate
	now        func() time.Time
}

// Dispatcher принимает задачу рассылки.
type Dispatcher interface {
	Dispatch(ctx context.Context, job svcbroadcast.Job) error
}

// New создаёт Handler.
func New(log *slog.Logger, dispatcher Dispatcher) *Handler {
	return &Handler{
		log:        log,
		dispatcher: dispatcher,
		validate:   validator.New(),
		now:        time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.broadcast"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
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

	err := h.dispatcher.Dispatch(r.Context(), svcbroadcast.Job{
		Text:        req.Text,
		RequestedAt: h.now().UTC(),
	})
	switch {
	case errors.Is(err, svcbroadcast.ErrEmptyMessage):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("text must not be blank"))
		return
	case err != nil:
		log.Error("failed to dispatch broadcast", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not start broadcast"))
		return
	}

	log.Info("broadcast accepted", slog.String("admin", middlewarectx.Username(r.Context())))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response.OK(map[string]any{
		"accepted": true,
	}))
}

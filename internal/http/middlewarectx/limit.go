package middlewarectx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/terabox-bot/internal/http/response"
)

// RateLimitMiddleware ограничивает число запросов с одного IP до requests в минуту.
// При превышении отвечает 429 Too Many Requests.
func RateLimitMiddleware(requests int, log *slog.Logger) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Warn("too many requests",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			)
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, response.Error("too many requests"))
		}),
	)
}

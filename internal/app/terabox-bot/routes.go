// Package teraboxbot собирает компоненты бота и административного API в приложение.
package teraboxbot

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/auth/login"
	broadcasthandler "github.com/magabrotheeeer/terabox-bot/internal/http/handlers/broadcast"
	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/health"
	keycreate "github.com/magabrotheeeer/terabox-bot/internal/http/handlers/keys/create"
	keylist "github.com/magabrotheeeer/terabox-bot/internal/http/handlers/keys/list"
	keyremove "github.com/magabrotheeeer/terabox-bot/internal/http/handlers/keys/remove"
	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/users/grant"
	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/users/read"
	"github.com/magabrotheeeer/terabox-bot/internal/http/handlers/users/revoke"
	"github.com/magabrotheeeer/terabox-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/jwt"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
)

// AuthService вход администратора и проверка его токенов.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (*jwt.CustomClaims, error)
}

// AdminService операции администратора над ключами и подписками.
type AdminService interface {
	IssueKey(ctx context.Context, days int) (models.AccessKey, error)
	ListKeys(ctx context.Context, limit int) ([]models.AccessKey, error)
	DeleteKey(ctx context.Context, token string) error
	Status(ctx context.Context, userID int64) (subscription.Status, error)
	GrantUser(ctx context.Context, userID int64, days int) (models.User, error)
	RevokeUser(ctx context.Context, userID int64) (models.User, error)
}

// RouteDeps зависимости маршрутов административного API.
// Если Auth равен nil, защищённые маршруты не регистрируются.
type RouteDeps struct {
	Auth        AuthService
	Admin       AdminService
	Broadcaster broadcast.Dispatcher
	Plans       map[string]int
	RateLimit   int
}

// RegisterRoutes регистрирует все маршруты административного API.
func RegisterRoutes(r chi.Router, logger *slog.Logger, deps RouteDeps) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	if deps.Auth == nil {
		return
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.RateLimit > 0 {
			r.Use(middlewarectx.RateLimitMiddleware(deps.RateLimit, logger))
		}
		r.Post("/login", login.New(logger, deps.Auth).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(deps.Auth, logger))
			r.Post("/keys", keycreate.New(logger, deps.Admin, deps.Plans).ServeHTTP)
			r.Get("/keys", keylist.New(logger, deps.Admin).ServeHTTP)
			r.Delete("/keys/{token}", keyremove.New(logger, deps.Admin).ServeHTTP)
			r.Get("/users/{id}", read.New(logger, deps.Admin).ServeHTTP)
			r.Post("/users/{id}/grant", grant.New(logger, deps.Admin, deps.Plans).ServeHTTP)
			r.Post("/users/{id}/revoke", revoke.New(logger, deps.Admin).ServeHTTP)
			r.Post("/broadcast", broadcasthandler.New(logger, deps.Broadcaster).ServeHTTP)
		})
	})
}

// Package auth аутентификация администратора административного API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/jwt"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/password"
)

var (
	// ErrInvalidCredentials неверное имя или пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginDisabled хеш пароля администратора не задан.
	ErrLoginDisabled = errors.New("admin login is disabled")
	// ErrForbidden токен действителен, но роль не администратор.
	ErrForbidden = errors.New("admin role required")
)

// AuthService выпускает и проверяет токены администратора.
type AuthService struct {
	username     string
	passwordHash string
	jwtMaker     jwt.Maker
}

// NewAuthService создает новый экземпляр AuthService. Учётные данные
// администратора берутся из конфигурации.
func NewAuthService(username, passwordHash string, jwtMaker jwt.Maker) *AuthService {
	return &AuthService{
		username:     username,
		passwordHash: passwordHash,
		jwtMaker:     jwtMaker,
	}
}

// Login проверяет учётные данные и выпускает токен.
func (s *AuthService) Login(_ context.Context, username, rawPassword string) (string, error) {
	const op = "services.auth.Login"
	if s.passwordHash == "" {
		return "", fmt.Errorf("%s: %w", op, ErrLoginDisabled)
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	// Хеш сравнивается всегда, чтобы время ответа не выдавало имя.
	passErr := password.CompareHash(s.passwordHash, rawPassword)
	if !userOK || passErr != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	token, err := s.jwtMaker.GenerateToken(username, jwt.RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// ValidateToken проверяет токен и роль администратора.
func (s *AuthService) ValidateToken(_ context.Context, token string) (*jwt.CustomClaims, error) {
	const op = "services.auth.ValidateToken"
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if claims.Role != jwt.RoleAdmin {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return claims, nil
}

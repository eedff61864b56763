// Package keygen генерирует токены ключей доступа.
package keygen

import (
	"strings"

	"github.com/google/uuid"
)

// Length длина токена.
const Length = 12

// New возвращает случайный токен из заглавных шестнадцатеричных символов.
func New() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:Length])
}

// Normalize приводит введённый пользователем токен к форме хранения.
func Normalize(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

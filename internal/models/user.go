// Package models содержит доменные структуры бота: пользователя, ключ доступа,
// снимок хранилища и результат работы внешнего экстрактора.
package models

import "time"

// DateLayout формат даты последнего сброса дневного счётчика.
const DateLayout = "2006-01-02"

// User представляет пользователя чат-платформы и состояние его подписки.
type User struct {
	ID            int64     `json:"id"`                   // Идентификатор пользователя в чат-платформе
	Username      string    `json:"username,omitempty"`   // Имя пользователя (может отсутствовать)
	FirstName     string    `json:"first_name,omitempty"` // Имя
	IsPaid        bool      `json:"is_paid"`              // Признак платной подписки
	PaidUntil     *Expiry   `json:"paid_until,omitempty"` // Дата окончания подписки, nil означает бессрочную
	DailyCount    int       `json:"daily_count"`          // Количество загрузок за LastResetDate
	LastResetDate string    `json:"last_reset_date"`      // Дата последнего сброса счётчика, YYYY-MM-DD
	CreatedAt     time.Time `json:"created_at"`
}

// NewUser возвращает запись бесплатного пользователя со значениями по умолчанию.
func NewUser(id int64, today string, now time.Time) User {
	return User{
		ID:            id,
		LastResetDate: today,
		CreatedAt:     now,
	}
}

// Normalize обнуляет счётчик, если он относится не к текущему дню.
// Возвращает true, если запись была изменена.
func (u *User) Normalize(today string) bool {
	if u.LastResetDate == today {
		return false
	}
	u.DailyCount = 0
	u.LastResetDate = today
	return true
}

// ResetPaid сбрасывает платные поля к значениям по умолчанию.
func (u *User) ResetPaid() {
	u.IsPaid = false
	u.PaidUntil = nil
}

// Clone возвращает копию пользователя, не разделяющую указатели с оригиналом.
func (u User) Clone() User {
	if u.PaidUntil != nil {
		exp := *u.PaidUntil
		u.PaidUntil = &exp
	}
	return u
}

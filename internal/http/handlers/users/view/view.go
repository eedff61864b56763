// Package view JSON-представление пользователя для административного API.
package view

import (
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
)

// User пользователь в ответе API.
type User struct {
	ID            int64  `json:"id"`
	Username      string `json:"username,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	IsPaid        bool   `json:"is_paid"`
	PaidUntil     string `json:"paid_until,omitempty"`
	DailyCount    int    `json:"daily_count"`
	LastResetDate string `json:"last_reset_date"`
}

// Status состояние подписки в ответе API.
type Status struct {
	User
	Active        bool `json:"active"`
	Unlimited     bool `json:"unlimited"`
	DaysLeft      int  `json:"days_left"`
	RemainingFree int  `json:"remaining_free"`
	Limit         int  `json:"limit"`
}

// FromUser строит представление пользователя.
func FromUser(u models.User) User {
	out := User{
		ID:            u.ID,
		Username:      u.Username,
		FirstName:     u.FirstName,
		IsPaid:        u.IsPaid,
		DailyCount:    u.DailyCount,
		LastResetDate: u.LastResetDate,
	}
	if u.PaidUntil != nil {
		out.PaidUntil = u.PaidUntil.String()
	}
	return out
}

// FromStatus строит представление состояния подписки.
func FromStatus(st subscription.Status) Status {
	return Status{
		User:          FromUser(st.User),
		Active:        st.Active,
		Unlimited:     st.Unlimited,
		DaysLeft:      st.DaysLeft,
		RemainingFree: st.RemainingFree,
		Limit:         st.Limit,
	}
}

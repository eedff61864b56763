package models

import "time"

// AccessKey одноразовый ключ, активирующий платную подписку на DurationDays дней.
type AccessKey struct {
	Token        string     `json:"token"`
	DurationDays int        `json:"duration_days"`
	RedeemedBy   *int64     `json:"redeemed_by,omitempty"` // nil, пока ключ не активирован
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Redeemed сообщает, был ли ключ уже использован.
func (k AccessKey) Redeemed() bool {
	return k.RedeemedBy != nil
}

// Clone возвращает копию ключа, не разделяющую указатели с оригиналом.
func (k AccessKey) Clone() AccessKey {
	if k.RedeemedBy != nil {
		by := *k.RedeemedBy
		k.RedeemedBy = &by
	}
	if k.RedeemedAt != nil {
		at := *k.RedeemedAt
		k.RedeemedAt = &at
	}
	return k
}

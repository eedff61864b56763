// Package duration разбирает срок подписки из запросов административного API:
// либо имя плана, либо число дней.
package duration

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing не задан ни план, ни число дней.
	ErrMissing = errors.New("plan or days is required")
	// ErrUnknownPlan план отсутствует в конфигурации.
	ErrUnknownPlan = errors.New("unknown plan")
)

// Request поля срока подписки в теле запроса.
type Request struct {
	Plan string `json:"plan,omitempty" validate:"omitempty,alphanum,max=32"`
	Days int    `json:"days,omitempty" validate:"omitempty,min=1,max=3650"`
}

// Resolve возвращает срок в днях. План имеет приоритет над явным числом дней.
func (r Request) Resolve(plans map[string]int) (int, error) {
	if r.Plan != "" {
		days, ok := plans[r.Plan]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownPlan, r.Plan)
		}
		return days, nil
	}
	if r.Days > 0 {
		return r.Days, nil
	}
	return 0, ErrMissing
}

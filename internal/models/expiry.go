package models

import (
	"encoding/json"
	"strings"
	"time"
)

// legacyExpiryLayout формат, в котором исходная версия бота хранила paid_until.
const legacyExpiryLayout = "2006-01-02 15:04:05"

// Expiry момент окончания подписки. Если сохранённое значение не удалось
// разобрать, Raw содержит исходный текст, а Time остаётся нулевым.
type Expiry struct {
	Time      time.Time
	Raw       string
	malformed bool
}

// NewExpiry создаёт корректную дату окончания.
func NewExpiry(t time.Time) *Expiry {
	return &Expiry{Time: t.UTC()}
}

// ParseExpiry разбирает дату окончания. Ошибки не возвращаются:
// нераспознанное значение сохраняется как есть и помечается как Malformed.
func ParseExpiry(s string) *Expiry {
	trimmed := strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, legacyExpiryLayout} {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return &Expiry{Time: t.UTC()}
		}
	}
	return &Expiry{Raw: s, malformed: true}
}

// Malformed сообщает, что значение не удалось разобрать.
func (e Expiry) Malformed() bool {
	return e.malformed
}

// String возвращает значение в формате хранения.
func (e Expiry) String() string {
	if e.malformed {
		return e.Raw
	}
	return e.Time.UTC().Format(time.RFC3339Nano)
}

// MarshalJSON сохраняет исходный текст для нераспознанных значений.
func (e Expiry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON никогда не отвергает значение: нераспознанная дата хранится в Raw.
func (e *Expiry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*e = Expiry{Raw: string(data), malformed: true}
		return nil
	}
	*e = *ParseExpiry(s)
	return nil
}

package models

// Snapshot полное состояние хранилища: все пользователи и все ключи.
type Snapshot struct {
	Users map[int64]User       `json:"users"`
	Keys  map[string]AccessKey `json:"keys"`
}

// NewSnapshot возвращает пустой снимок с инициализированными картами.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users: make(map[int64]User),
		Keys:  make(map[string]AccessKey),
	}
}

// Clone возвращает глубокую копию снимка.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for id, u := range s.Users {
		out.Users[id] = u.Clone()
	}
	for token, k := range s.Keys {
		out.Keys[token] = k.Clone()
	}
	return out
}

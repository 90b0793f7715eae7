package events

import "time"

// Evento publicado no tópico "odds_updates"
type OddsUpdate struct {
	OddID     string    `json:"odd_id"`
	MarketID  string    `json:"market_id"`
	Value     string    `json:"value"` // decimal, ex.: "1.90"
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}

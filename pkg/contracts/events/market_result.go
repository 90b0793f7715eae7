package events

import "time"

// Evento publicado no tópico "market_results".
// Outcome: WON | LOST | CANCELLED (mercado anulado) | PENDING (suspenso) | ACTIVE (reaberto)
type MarketResult struct {
	OddID      string    `json:"odd_id"`
	MarketID   string    `json:"market_id"`
	Outcome    string    `json:"outcome"`
	ReportedAt time.Time `json:"reported_at"`
	Source     string    `json:"source"`
}

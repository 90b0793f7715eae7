package topics

const (
	// Feed de mercado
	OddsUpdates   = "odds_updates"
	MarketResults = "market_results"

	// Saída para clientes
	AccountEvents = "account_events"

	// DLQs
	OddsUpdatesDLQ   = "odds_updates_dlq"
	MarketResultsDLQ = "market_results_dlq"
)

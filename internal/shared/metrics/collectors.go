package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os coletores Prometheus do núcleo de apostas.
// Um *Metrics nil é válido: todos os métodos viram no-op.
type Metrics struct {
	ledgerOps     *prometheus.CounterVec
	placements    *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	cryptoActions *prometheus.CounterVec
	rateQuotes    *prometheus.CounterVec
	feedMessages  *prometheus.CounterVec
	placeLatency  prometheus.Histogram
}

// New cria e registra os coletores em reg. reg nil cria coletores sem registro (testes).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "operações de débito/crédito por resultado",
		}, []string{"kind", "result"}),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_placements_total",
			Help: "tentativas de aposta por resultado",
		}, []string{"result"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_leg_settlements_total",
			Help: "liquidações de pernas por estado final",
		}, []string{"state", "result"}),
		cryptoActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypto_transaction_actions_total",
			Help: "ações no fluxo de transações cripto",
		}, []string{"action", "result"}),
		rateQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conversion_rate_quotes_total",
			Help: "cotações por origem (cache, live, fallback)",
		}, []string{"source"}),
		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_messages_total",
			Help: "mensagens do feed de mercado por tópico e estágio",
		}, []string{"topic", "stage"}),
		placeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_placement_seconds",
			Help:    "latência da colocação de apostas",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ledgerOps, m.placements, m.settlements, m.cryptoActions, m.rateQuotes, m.feedMessages, m.placeLatency)
	}
	return m
}

func (m *Metrics) LedgerOp(kind, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Placement(result string, seconds float64) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(result).Inc()
	m.placeLatency.Observe(seconds)
}

func (m *Metrics) Settlement(state, result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(state, result).Inc()
}

func (m *Metrics) CryptoAction(action, result string) {
	if m == nil {
		return
	}
	m.cryptoActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) RateQuote(source string) {
	if m == nil {
		return
	}
	m.rateQuotes.WithLabelValues(source).Inc()
}

func (m *Metrics) FeedMessage(topic, stage string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(topic, stage).Inc()
}

// Result traduz um erro em rótulo curto para os contadores.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Package api expõe o núcleo de apostas, ledger e cripto via HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/radieske/sportsbook-ledger/internal/cryptotx"
	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/wager"
)

// Wagers é o que a API usa do serviço de apostas.
type Wagers interface {
	Place(ctx context.Context, req wager.PlaceRequest) (wager.Placement, error)
	Parlay(ctx context.Context, id string) (wager.Parlay, []wager.Leg, error)
	SettleLeg(ctx context.Context, legID string, outcome wager.LegState) (wager.Settlement, error)
}

type Accounts interface {
	Open(ctx context.Context, accountID string) (ledger.Account, error)
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	Entries(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error)
}

type Crypto interface {
	Request(ctx context.Context, actor cryptotx.Actor, in cryptotx.RequestInput) (cryptotx.Transaction, error)
	Approve(ctx context.Context, actor cryptotx.Actor, id string, in cryptotx.ApproveInput) (cryptotx.Transaction, error)
	Reject(ctx context.Context, actor cryptotx.Actor, id, reason string) (cryptotx.Transaction, error)
	Cancel(ctx context.Context, actor cryptotx.Actor, id, reason string) (cryptotx.Transaction, error)
	Get(ctx context.Context, id string) (cryptotx.Transaction, error)
}

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	maxBodyBytes   = 1 << 20
)

// Server agrupa os handlers HTTP.
type Server struct {
	log      *zap.Logger
	wagers   Wagers
	accounts Accounts
	crypto   Crypto
	ws       http.HandlerFunc
	limiter  *rate.Limiter
}

type Option func(*Server)

// WithWebSocket monta o handler de push em /v1/ws.
func WithWebSocket(h http.HandlerFunc) Option { return func(s *Server) { s.ws = h } }

// WithRateLimit limita as requisições aceitas por segundo na instância.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func NewServer(log *zap.Logger, w Wagers, a Accounts, c Crypto, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{log: log, wagers: w, accounts: a, crypto: c}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router retorna o roteador com todas as rotas da API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	r.Post("/v1/parlays", s.placeParlay)
	r.Get("/v1/parlays/{id}", s.getParlay)
	r.Post("/v1/legs/{id}/settle", s.settleLeg)

	r.Post("/v1/accounts/{id}", s.openAccount)
	r.Get("/v1/accounts/{id}/balance", s.getBalance)
	r.Get("/v1/accounts/{id}/entries", s.listEntries)

	r.Post("/v1/crypto-transactions", s.requestCrypto)
	r.Get("/v1/crypto-transactions/{id}", s.getCrypto)
	r.Post("/v1/crypto-transactions/{id}/{action}", s.resolveCrypto)

	if s.ws != nil {
		r.Get("/v1/ws", s.ws)
	}
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited", Message: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom lê a identidade já autenticada pelo gateway.
func actorFrom(r *http.Request) cryptotx.Actor {
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))
	return cryptotx.Actor{
		ID:     strings.TrimSpace(r.Header.Get(headerUserID)),
		Admin:  role == "admin",
		System: role == "system",
	}
}

// owns: o próprio dono, admin ou sistema.
func owns(a cryptotx.Actor, accountID string) bool {
	return a.Admin || a.System || (a.ID != "" && a.ID == accountID)
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, ErrorResponse{Error: string(errs.KindUnauthorized), Message: "not allowed"})
}

func (s *Server) placeParlay(w http.ResponseWriter, r *http.Request) {
	var req PlaceParlayRequest
	if !decode(w, r, &req) {
		return
	}
	if !owns(actorFrom(r), req.AccountID) {
		forbidden(w)
		return
	}
	in := wager.PlaceRequest{AccountID: req.AccountID}
	for _, sel := range req.Selections {
		in.Selections = append(in.Selections, wager.Selection{
			OddID:    sel.OddID,
			Stake:    sel.Stake,
			OddValue: sel.OddValue,
			BetType:  sel.BetType,
		})
	}
	res, err := s.wagers.Place(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := toParlay(res.Parlay, res.Legs)
	out.Balance = res.Balance.StringFixed(2)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getParlay(w http.ResponseWriter, r *http.Request) {
	p, legs, err := s.wagers.Parlay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !owns(actorFrom(r), p.AccountID) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, toParlay(p, legs))
}

// settleLeg é a entrada manual do operador; o feed usa o consumidor Kafka.
func (s *Server) settleLeg(w http.ResponseWriter, r *http.Request) {
	a := actorFrom(r)
	if !a.Admin && !a.System {
		forbidden(w)
		return
	}
	var req SettleLegRequest
	if !decode(w, r, &req) {
		return
	}
	outcome := wager.LegState(strings.ToUpper(strings.TrimSpace(req.Outcome)))
	res, err := s.wagers.SettleLeg(r.Context(), chi.URLParam(r, "id"), outcome)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SettlementResponse{
		Parlay:   toParlay(res.Parlay, nil),
		Leg:      toLeg(res.Leg),
		Credited: res.Credited.StringFixed(2),
		Balance:  res.Balance.StringFixed(2),
	})
}

func (s *Server) openAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !owns(actorFrom(r), id) {
		forbidden(w)
		return
	}
	acc, err := s.accounts.Open(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, BalanceResponse{AccountID: acc.ID, Balance: acc.Balance.StringFixed(2)})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !owns(actorFrom(r), id) {
		forbidden(w)
		return
	}
	bal, err := s.accounts.Balance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{AccountID: id, Balance: bal.StringFixed(2)})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !owns(actorFrom(r), id) {
		forbidden(w)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: string(errs.KindInvalidRequest), Message: "bad limit"})
			return
		}
		limit = n
	}
	entries, err := s.accounts.Entries(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntry(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requestCrypto(w http.ResponseWriter, r *http.Request) {
	var req CryptoRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := s.crypto.Request(r.Context(), actorFrom(r), cryptotx.RequestInput{
		AccountID:    req.AccountID,
		Type:         cryptotx.Type(strings.ToUpper(strings.TrimSpace(req.Type))),
		Asset:        req.Asset,
		CryptoAmount: req.CryptoAmount,
		WalletID:     req.WalletID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCrypto(tx))
}

func (s *Server) getCrypto(w http.ResponseWriter, r *http.Request) {
	tx, err := s.crypto.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !owns(actorFrom(r), tx.AccountID) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, toCrypto(tx))
}

func (s *Server) resolveCrypto(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	id, actor := chi.URLParam(r, "id"), actorFrom(r)

	var (
		tx  cryptotx.Transaction
		err error
	)
	switch chi.URLParam(r, "action") {
	case string(cryptotx.ActionApprove):
		tx, err = s.crypto.Approve(r.Context(), actor, id, cryptotx.ApproveInput{ExternalRef: req.ExternalRef})
	case string(cryptotx.ActionReject):
		tx, err = s.crypto.Reject(r.Context(), actor, id, req.Reason)
	case string(cryptotx.ActionCancel):
		tx, err = s.crypto.Cancel(r.Context(), actor, id, req.Reason)
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: string(errs.KindNotFound), Message: "unknown action"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCrypto(tx))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: string(errs.KindInvalidRequest), Message: "bad json"})
		return false
	}
	return true
}

// statusOf mapeia o tipo de erro do núcleo para o status HTTP.
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindInvalidRequest:
		return http.StatusBadRequest
	case errs.KindInvalidStake, errs.KindInvalidOdd, errs.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errs.KindUnauthorized:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindAlreadyTerminal, errs.KindConflict:
		return http.StatusConflict
	case errs.KindThrottleExceeded:
		return http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	kind := errs.KindOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: string(kind), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

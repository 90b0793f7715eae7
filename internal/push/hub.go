// Package push entrega eventos de conta aos clientes conectados via WebSocket.
package push

import (
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/notify"
)

const writeTimeout = 5 * time.Second

// ClientMsg é o que o cliente pode enviar: hoje só ping.
type ClientMsg struct {
	Type string `json:"type"`
}

type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub mantém as conexões abertas por conta.
// subs: accountID -> conjunto de clientes
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[string]map[*client]struct{}
}

// NewHub cria o hub com a política de origem informada.
func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS abre a conexão para a conta do usuário autenticado (X-User-ID,
// ou ?account_id= para clientes de navegador).
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if account == "" {
		account = strings.TrimSpace(r.URL.Query().Get("account_id"))
	}
	if account == "" {
		http.Error(w, "account required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	h.add(account, c)
	defer func() {
		h.remove(account, c)
		_ = conn.Close()
	}()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "ping" {
			_ = c.write([]byte(`{"type":"pong"}`))
		}
	}
}

func (h *Hub) add(account string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[account]; !ok {
		h.subs[account] = make(map[*client]struct{})
	}
	h.subs[account][c] = struct{}{}
}

func (h *Hub) remove(account string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[account]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, account)
		}
	}
}

// Connections retorna quantos clientes a conta tem abertos.
func (h *Hub) Connections(account string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[account])
}

// Broadcast envia o evento a todas as conexões da conta dona.
func (h *Hub) Broadcast(e notify.Event) {
	h.mu.RLock()
	set := h.subs[e.AccountID]
	conns := make([]*client, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("ws encode failed", zap.Error(err))
		return
	}
	for _, c := range conns {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.String("account_id", e.AccountID), zap.Error(err))
		}
	}
}

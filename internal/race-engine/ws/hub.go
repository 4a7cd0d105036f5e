package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/radieske/race-engine/pkg/contracts/events"
)

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: get_state | ping
type ClientMsg struct {
	Type string `json:"type"` // get_state | ping
}

// StateSource devolve o snapshot atual da corrida pro get_state.
type StateSource interface {
	CurrentState(ctx context.Context) (*events.RaceState, error)
}

// client serializa as escritas numa conexão: o gorilla não suporta mais de
// um escritor concorrente, e aqui o broadcast (goroutine do subscriber) e
// as respostas de get_state/ping (goroutine do leitor) escrevem na mesma
// conexão.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeMessage(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub gerencia conexões WebSocket. A corrida é global: todo cliente
// conectado recebe todos os eventos, sem modelo de assinatura.
type Hub struct {
	upgrader websocket.Upgrader
	state    StateSource
	mu       sync.RWMutex
	conns    map[*client]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool, state StateSource) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		state:    state,
		conns:    make(map[*client]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket.
// Na conexão o cliente entra na sala global; get_state devolve o snapshot
// corrente (pra sincronizar UI recém-aberta no meio de uma corrida).
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "get_state":
			h.writeState(r.Context(), c)
		case "ping":
			_ = c.writeJSON(map[string]string{"type": "pong"})
		}
	}

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) writeState(ctx context.Context, c *client) {
	if h.state == nil {
		return
	}
	st, err := h.state.CurrentState(ctx)
	if err != nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	_ = c.writeJSON(events.Envelope{Type: events.TypeRaceState, Payload: raw})
}

// Broadcast envia um envelope já serializado para todos os clientes conectados
func (h *Hub) Broadcast(raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		_ = c.writeMessage(raw)
	}
}

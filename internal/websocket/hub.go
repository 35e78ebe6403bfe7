package websocket

import (
	"encoding/json"
	"sync"
)

const (
	EventBalance     = "balance"
	EventRoundResult = "round_result"
	EventClock       = "clock"
)

type BalanceUpdate struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Reason    string `json:"reason"`
}

// RoundResult is pushed to every connected client once a round settles.
type RoundResult struct {
	Type    string `json:"type"`
	RoundID string `json:"round_id"`
	Cycle   int64  `json:"cycle"`
	Outcome int    `json:"outcome"`
}

// ClockSync is sent on connect so clients can align their countdown with the server.
type ClockSync struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
	Phase      string `json:"phase"`
	Remaining  int64  `json:"remaining"`
	Cycle      int64  `json:"cycle"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(accountID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*Client]struct{})
	}
	h.clients[accountID][client] = struct{}{}
}

func (h *Hub) Unregister(accountID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		return
	}
	delete(h.clients[accountID], client)
	if len(h.clients[accountID]) == 0 {
		delete(h.clients, accountID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) BroadcastBalance(accountID string, update BalanceUpdate) {
	update.Type = EventBalance
	update.AccountID = accountID
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[accountID] {
		client.enqueue(payload)
	}
}

func (h *Hub) BroadcastRoundResult(result RoundResult) {
	result.Type = EventRoundResult
	payload, _ := json.Marshal(result)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for client := range set {
			client.enqueue(payload)
		}
	}
}

package realtime

import (
	"sync"
	"time"

	"chesshub/internal/models"
)

// GraceWindow is how long a dropped connection may reconnect before the
// user is treated as gone.
const GraceWindow = 30 * time.Second

// Hub tracks the one live connection per user plus lobby and per-game room
// membership. Membership survives a disconnect until the grace timer fires,
// so a reconnecting client lands back in its rooms transparently.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Client             // user id -> live connection
	lobby  map[string]struct{}            // user ids in the lobby group
	games  map[string]map[string]struct{} // game id -> member user ids
	timers map[string]*time.Timer         // user id -> grace timer
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*Client),
		lobby:  make(map[string]struct{}),
		games:  make(map[string]map[string]struct{}),
		timers: make(map[string]*time.Timer),
	}
}

// Bind registers c as the user's live connection, cancelling any pending
// grace timer. Returns true when this was a reconnect within the grace
// window (room membership was preserved).
func (h *Hub) Bind(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	reconnect := false
	if t, ok := h.timers[c.UserID]; ok {
		t.Stop()
		delete(h.timers, c.UserID)
		reconnect = true
	}
	h.conns[c.UserID] = c
	return reconnect
}

// Disconnect drops the live connection and starts the grace timer. When it
// expires without a rebind, membership is torn down and onExpire is called
// with the games the user was in.
func (h *Hub) Disconnect(c *Client, onExpire func(userID string, gameIDs []string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.UserID] != c {
		// A newer connection already replaced this one.
		return
	}
	delete(h.conns, c.UserID)
	userID := c.UserID
	h.timers[userID] = time.AfterFunc(GraceWindow, func() {
		gameIDs := h.expire(userID)
		if onExpire != nil {
			onExpire(userID, gameIDs)
		}
	})
}

func (h *Hub) expire(userID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.timers, userID)
	if _, ok := h.conns[userID]; ok {
		// Reconnected between timer fire and lock acquisition.
		return nil
	}
	delete(h.lobby, userID)
	var gameIDs []string
	for gameID, members := range h.games {
		if _, ok := members[userID]; ok {
			gameIDs = append(gameIDs, gameID)
			delete(members, userID)
			if len(members) == 0 {
				delete(h.games, gameID)
			}
		}
	}
	return gameIDs
}

func (h *Hub) JoinLobby(userID string) {
	h.mu.Lock()
	h.lobby[userID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) LeaveLobby(userID string) {
	h.mu.Lock()
	delete(h.lobby, userID)
	h.mu.Unlock()
}

func (h *Hub) JoinGame(gameID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.games[gameID]
	if !ok {
		members = make(map[string]struct{})
		h.games[gameID] = members
	}
	members[userID] = struct{}{}
}

func (h *Hub) LeaveGame(gameID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.games[gameID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.games, gameID)
	}
}

// GamesOf returns the game rooms the user currently belongs to.
func (h *Hub) GamesOf(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for gameID, members := range h.games {
		if _, ok := members[userID]; ok {
			out = append(out, gameID)
		}
	}
	return out
}

// SendToUser delivers a frame to the user's live connection, if any.
func (h *Hub) SendToUser(userID string, frame models.WSFrame) bool {
	h.mu.RLock()
	c := h.conns[userID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	c.Send(frame)
	return true
}

// BroadcastLobby sends a frame to every connected lobby member.
func (h *Hub) BroadcastLobby(frame models.WSFrame) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.lobby))
	for userID := range h.lobby {
		if c := h.conns[userID]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Send(frame)
	}
}

// BroadcastGame sends a frame to every connected member of the game room.
func (h *Hub) BroadcastGame(gameID string, frame models.WSFrame) {
	h.mu.RLock()
	var targets []*Client
	for userID := range h.games[gameID] {
		if c := h.conns[userID]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Send(frame)
	}
}

// SendToGamePeers sends a frame to game room members other than senderID.
func (h *Hub) SendToGamePeers(gameID, senderID string, frame models.WSFrame) {
	h.mu.RLock()
	var targets []*Client
	for userID := range h.games[gameID] {
		if userID == senderID {
			continue
		}
		if c := h.conns[userID]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Send(frame)
	}
}

// DeleteGame removes a game room outright (used after terminal broadcast).
func (h *Hub) DeleteGame(gameID string) {
	h.mu.Lock()
	delete(h.games, gameID)
	h.mu.Unlock()
}

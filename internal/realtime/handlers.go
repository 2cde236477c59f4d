package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chesshub/internal/matchmaking"
	"chesshub/internal/metrics"
	"chesshub/internal/models"
	"chesshub/internal/pipeline"
	"chesshub/internal/presence"
	"chesshub/internal/registry"
	"chesshub/internal/repositories"
	"chesshub/internal/utils"
)

const activePlayerLimit = 50

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Handlers owns the websocket endpoint and the event dispatch table.
type Handlers struct {
	log       *zap.Logger
	hub       *Hub
	queue     *matchmaking.Queue
	registry  *registry.Registry
	pipeline  *pipeline.Pipeline
	presence  *presence.Tracker
	users     *repositories.UserRepository
	games     repositories.GameRepository
	jwtSecret string

	// seq serializes each game's action-then-broadcast pair so room frames
	// always go out in the order the pipeline completed the actions.
	seqMu sync.Mutex
	seq   map[string]*sync.Mutex
}

func NewHandlers(
	log *zap.Logger,
	hub *Hub,
	queue *matchmaking.Queue,
	reg *registry.Registry,
	pipe *pipeline.Pipeline,
	tracker *presence.Tracker,
	users *repositories.UserRepository,
	games repositories.GameRepository,
	jwtSecret string,
) *Handlers {
	return &Handlers{
		log:       log,
		hub:       hub,
		queue:     queue,
		registry:  reg,
		pipeline:  pipe,
		presence:  tracker,
		users:     users,
		games:     games,
		jwtSecret: jwtSecret,
		seq:       make(map[string]*sync.Mutex),
	}
}

// gameSequence returns the per-game ordering lock, creating it on first use.
func (h *Handlers) gameSequence(gameID string) *sync.Mutex {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	m, ok := h.seq[gameID]
	if !ok {
		m = &sync.Mutex{}
		h.seq[gameID] = m
	}
	return m
}

func (h *Handlers) dropGameSequence(gameID string) {
	h.seqMu.Lock()
	delete(h.seq, gameID)
	h.seqMu.Unlock()
}

// Hub exposes the room state, for the lobby rebroadcast hooks in main.
func (h *Handlers) Hub() *Hub { return h.hub }

// BroadcastLobbyPlayers pushes the current active-player list to the lobby.
func (h *Handlers) BroadcastLobbyPlayers() {
	players, err := h.users.ActivePlayers(activePlayerLimit)
	if err != nil {
		h.log.Warn("active_players_lookup_failed", zap.Error(err))
		return
	}
	public := make([]models.PublicUser, 0, len(players))
	for i := range players {
		public = append(public, players[i].Public())
	}
	h.hub.BroadcastLobby(models.WSFrame{
		Event: "lobby:players",
		Data:  models.LobbyPlayersEvent{Players: public, Count: len(public)},
	})
}

// ServeWS upgrades the connection, authenticates it once, binds it to a user
// identity and runs the read loop.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	claims, err := utils.VerifyToken(r, h.jwtSecret)
	if err != nil {
		_ = conn.WriteJSON(models.WSFrame{Event: "authentication_error", Data: err.Error()})
		return
	}
	userID, err := utils.GetUserIDFromClaims(claims)
	if err != nil {
		_ = conn.WriteJSON(models.WSFrame{Event: "authentication_error", Data: err.Error()})
		return
	}

	client := NewClient(conn, userID, utils.GetUsernameFromClaims(claims))
	ctx := context.Background()
	metrics.WSConnected()
	defer metrics.WSDisconnected()

	reconnect := h.hub.Bind(client)
	// Read before Bind resets the hash: a surviving current_game pointer
	// means the player has a room to return to that the hub no longer knows.
	pending, _ := h.presence.CurrentGame(ctx, userID)
	if err := h.presence.Bind(ctx, userID, client.ConnectionID); err != nil {
		h.log.Warn("presence_bind_failed", zap.String("user_id", userID), zap.Error(err))
	}
	h.log.Info("ws_connected",
		zap.String("user_id", userID),
		zap.String("connection_id", client.ConnectionID),
		zap.Bool("reconnect", reconnect),
	)
	if reconnect {
		// Membership survived the grace window; resync game state.
		for _, gameID := range h.hub.GamesOf(userID) {
			if view, verr := h.pipeline.GameView(ctx, gameID); verr == nil {
				client.Send(models.WSFrame{Event: "game:data", Data: view})
			}
		}
	} else if pending != "" {
		if ok, perr := h.pipeline.IsParticipant(ctx, pending, userID); perr == nil && ok {
			h.hub.JoinGame(pending, userID)
			if err := h.presence.SetGame(ctx, userID, pending); err != nil {
				h.log.Warn("presence_set_game_failed", zap.String("user_id", userID), zap.Error(err))
			}
			if view, verr := h.pipeline.GameView(ctx, pending); verr == nil {
				client.Send(models.WSFrame{Event: "game:data", Data: view})
			}
		}
	}
	defer h.onDisconnect(client)

	for {
		var frame models.WSFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if err := h.presence.Touch(ctx, userID); err != nil {
			h.log.Warn("presence_touch_failed", zap.String("user_id", userID), zap.Error(err))
		}
		h.Dispatch(ctx, client, frame)
	}
}

// Dispatch routes one inbound frame to its handler.
func (h *Handlers) Dispatch(ctx context.Context, c *Client, frame models.WSFrame) {
	switch frame.Event {
	case "lobby:join":
		h.handleLobbyJoin(c)
	case "lobby:leave":
		h.hub.LeaveLobby(c.UserID)
	case "game:findMatch":
		var req models.FindMatchRequest
		decode(frame.Data, &req)
		h.handleFindMatch(ctx, c, req)
	case "game:cancelMatch":
		h.handleCancelMatch(c)
	case "game:join":
		var req models.JoinGameRequest
		decode(frame.Data, &req)
		h.handleGameJoin(ctx, c, req)
	case "game:move":
		var req models.MoveRequest
		decode(frame.Data, &req)
		h.handleMove(ctx, c, req)
	case "game:resign":
		var ref models.GameRef
		decode(frame.Data, &ref)
		h.handleResign(ctx, c, ref)
	case "game:offerDraw":
		var ref models.GameRef
		decode(frame.Data, &ref)
		h.handleOfferDraw(ctx, c, ref)
	case "game:acceptDraw":
		var ref models.GameRef
		decode(frame.Data, &ref)
		h.handleAcceptDraw(ctx, c, ref)
	case "game:declineDraw":
		var ref models.GameRef
		decode(frame.Data, &ref)
		h.handleDeclineDraw(ctx, c, ref)
	case "game:requestUndo":
		var ref models.GameRef
		decode(frame.Data, &ref)
		h.handleRequestUndo(ctx, c, ref)
	case "game:acceptUndo":
		var ref models.GameRef
		decode(frame.Data, &ref)
		h.handleAcceptUndo(ctx, c, ref)
	case "game:declineUndo":
		var ref models.GameRef
		decode(frame.Data, &ref)
		h.handleDeclineUndo(ctx, c, ref)
	default:
		c.Reject("UNKNOWN_EVENT", "unknown event: "+frame.Event)
	}
}

func (h *Handlers) handleLobbyJoin(c *Client) {
	h.hub.JoinLobby(c.UserID)
	h.BroadcastLobbyPlayers()
}

func (h *Handlers) handleFindMatch(ctx context.Context, c *Client, req models.FindMatchRequest) {
	if req.Mode == "" {
		req.Mode = models.ModeCasual
	}
	if req.TimeControl == "" {
		c.Reject("INVALID_TIME_CONTROL", "timeControl is required")
		return
	}
	if err := h.users.UpdateStatus(c.UserID, models.UserSearching); err != nil {
		h.log.Warn("status_update_failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
	if err := h.queue.Enqueue(c.UserID, req.Mode, req.TimeControl); err != nil {
		if errors.Is(err, matchmaking.ErrAlreadyQueued) {
			c.Reject("ALREADY_QUEUED", "already searching for a match")
			return
		}
		h.rejectError(c, err)
		return
	}

	pair := h.queue.AttemptMatch(req.Mode)
	if pair == nil {
		c.Send(models.WSFrame{Event: "game:searching", Data: models.SearchingEvent{
			Mode:        req.Mode,
			TimeControl: req.TimeControl,
			Waiting:     h.queue.Waiting(req.Mode),
		}})
		return
	}
	h.createMatch(ctx, pair, req.Mode)
}

func (h *Handlers) createMatch(ctx context.Context, pair *matchmaking.Pair, mode string) {
	opts := models.GameOptions{
		TimeControl: pair.First.TimeControl,
		IsRanked:    mode == models.ModeRanked,
	}
	gameID, err := h.registry.Create(ctx, pair.First.UserID, pair.Second.UserID, opts)
	if err != nil {
		h.log.Error("match_creation_failed",
			zap.String("user1", pair.First.UserID),
			zap.String("user2", pair.Second.UserID),
			zap.Error(err),
		)
		for _, userID := range []string{pair.First.UserID, pair.Second.UserID} {
			if serr := h.users.UpdateStatus(userID, models.UserOnline); serr != nil {
				h.log.Warn("status_update_failed", zap.String("user_id", userID), zap.Error(serr))
			}
			h.hub.SendToUser(userID, models.WSFrame{Event: "game:rejected", Data: models.Rejection{
				Code: "MATCHMAKING_FAILED", Message: "could not create game, please retry",
			}})
		}
		return
	}
	metrics.GameCreated()

	sess, err := h.registry.Get(ctx, gameID)
	if err != nil {
		h.log.Error("match_session_lookup_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	for i := range sess.Players {
		me := sess.Players[i]
		opp := sess.Players[1-i]
		if err := h.users.UpdateStatus(me.UserID, models.UserInGame); err != nil {
			h.log.Warn("status_update_failed", zap.String("user_id", me.UserID), zap.Error(err))
		}
		if err := h.presence.SetGame(ctx, me.UserID, gameID); err != nil {
			h.log.Warn("presence_set_game_failed", zap.String("user_id", me.UserID), zap.Error(err))
		}
		opponent := models.PublicUser{UserID: opp.UserID, Username: opp.Username, Rating: opp.Rating}
		if u, uerr := h.users.GetUserByID(opp.UserID); uerr == nil {
			opponent = u.Public()
		}
		h.hub.SendToUser(me.UserID, models.WSFrame{Event: "game:matched", Data: models.MatchedEvent{
			GameID:   gameID,
			Opponent: opponent,
			Color:    me.Color,
			Options:  sess.Options,
		}})
	}
}

func (h *Handlers) handleCancelMatch(c *Client) {
	h.queue.Dequeue(c.UserID)
	if err := h.users.UpdateStatus(c.UserID, models.UserOnline); err != nil {
		h.log.Warn("status_update_failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
}

func (h *Handlers) handleGameJoin(ctx context.Context, c *Client, req models.JoinGameRequest) {
	if req.GameID == "" {
		c.Reject("INVALID_GAME_ID", "gameId is required")
		return
	}
	sess, err := h.registry.Get(ctx, req.GameID)
	if err != nil {
		h.rejectError(c, err)
		return
	}
	if sess.PlayerColor(c.UserID) == "" {
		c.Reject("NOT_A_PARTICIPANT", "you are not a player in this game")
		return
	}
	h.hub.JoinGame(req.GameID, c.UserID)
	if err := h.presence.SetGame(ctx, c.UserID, req.GameID); err != nil {
		h.log.Warn("presence_set_game_failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
	if err := h.users.UpdateStatus(c.UserID, models.UserInGame); err != nil {
		h.log.Warn("status_update_failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
	view, err := h.pipeline.GameView(ctx, req.GameID)
	if err != nil {
		h.hub.LeaveGame(req.GameID, c.UserID)
		h.rejectError(c, err)
		return
	}
	c.Send(models.WSFrame{Event: "game:data", Data: view})
}

func (h *Handlers) handleMove(ctx context.Context, c *Client, req models.MoveRequest) {
	seq := h.gameSequence(req.GameID)
	seq.Lock()
	defer seq.Unlock()
	out, err := h.pipeline.ApplyMove(ctx, req.GameID, c.UserID, req.From, req.To, req.Promotion)
	if err != nil {
		h.rejectError(c, err)
		return
	}
	metrics.MoveApplied()
	h.hub.BroadcastGame(req.GameID, models.WSFrame{Event: "game:update", Data: models.MoveAppliedEvent{
		GameID:     req.GameID,
		Move:       out.Move,
		Position:   out.Position,
		Turn:       out.Turn,
		Check:      out.Check,
		LegalMoves: out.LegalMoves,
		Status:     out.Status,
	}})
	if out.Status == models.StatusCompleted {
		h.finishRoom(ctx, req.GameID, out)
	}
}

func (h *Handlers) handleResign(ctx context.Context, c *Client, ref models.GameRef) {
	seq := h.gameSequence(ref.GameID)
	seq.Lock()
	defer seq.Unlock()
	out, err := h.pipeline.Resign(ctx, ref.GameID, c.UserID)
	if err != nil {
		h.rejectError(c, err)
		return
	}
	h.finishRoom(ctx, ref.GameID, out)
}

func (h *Handlers) handleOfferDraw(ctx context.Context, c *Client, ref models.GameRef) {
	seq := h.gameSequence(ref.GameID)
	seq.Lock()
	defer seq.Unlock()
	if err := h.pipeline.OfferDraw(ctx, ref.GameID, c.UserID); err != nil {
		h.rejectError(c, err)
		return
	}
	h.hub.SendToGamePeers(ref.GameID, c.UserID, models.WSFrame{Event: "game:drawOffered", Data: map[string]string{
		"gameId": ref.GameID,
		"by":     c.UserID,
	}})
}

func (h *Handlers) handleAcceptDraw(ctx context.Context, c *Client, ref models.GameRef) {
	seq := h.gameSequence(ref.GameID)
	seq.Lock()
	defer seq.Unlock()
	out, err := h.pipeline.AcceptDraw(ctx, ref.GameID, c.UserID)
	if err != nil {
		h.rejectError(c, err)
		return
	}
	h.finishRoom(ctx, ref.GameID, out)
}

func (h *Handlers) handleDeclineDraw(ctx context.Context, c *Client, ref models.GameRef) {
	seq := h.gameSequence(ref.GameID)
	seq.Lock()
	defer seq.Unlock()
	if err := h.pipeline.DeclineDraw(ctx, ref.GameID, c.UserID); err != nil {
		h.rejectError(c, err)
		return
	}
	h.hub.SendToGamePeers(ref.GameID, c.UserID, models.WSFrame{Event: "game:drawDeclined", Data: map[string]string{
		"gameId": ref.GameID,
		"by":     c.UserID,
	}})
}

func (h *Handlers) handleRequestUndo(ctx context.Context, c *Client, ref models.GameRef) {
	seq := h.gameSequence(ref.GameID)
	seq.Lock()
	defer seq.Unlock()
	if err := h.pipeline.RequestUndo(ctx, ref.GameID, c.UserID); err != nil {
		h.rejectError(c, err)
		return
	}
	// Relayed to the opponent only, never applied unilaterally.
	h.hub.SendToGamePeers(ref.GameID, c.UserID, models.WSFrame{Event: "game:undoRequested", Data: map[string]string{
		"gameId": ref.GameID,
		"by":     c.UserID,
	}})
}

func (h *Handlers) handleAcceptUndo(ctx context.Context, c *Client, ref models.GameRef) {
	seq := h.gameSequence(ref.GameID)
	seq.Lock()
	defer seq.Unlock()
	if _, err := h.pipeline.AcceptUndo(ctx, ref.GameID, c.UserID); err != nil {
		h.rejectError(c, err)
		return
	}
	view, err := h.pipeline.GameView(ctx, ref.GameID)
	if err != nil {
		h.rejectError(c, err)
		return
	}
	h.hub.BroadcastGame(ref.GameID, models.WSFrame{Event: "game:data", Data: view})
}

func (h *Handlers) handleDeclineUndo(ctx context.Context, c *Client, ref models.GameRef) {
	seq := h.gameSequence(ref.GameID)
	seq.Lock()
	defer seq.Unlock()
	if err := h.pipeline.DeclineUndo(ctx, ref.GameID, c.UserID); err != nil {
		h.rejectError(c, err)
		return
	}
	h.hub.SendToGamePeers(ref.GameID, c.UserID, models.WSFrame{Event: "game:undoDeclined", Data: map[string]string{
		"gameId": ref.GameID,
		"by":     c.UserID,
	}})
}

// finishRoom broadcasts the terminal notice and releases the room and the
// cached session.
func (h *Handlers) finishRoom(ctx context.Context, gameID string, out *pipeline.MoveOutcome) {
	h.hub.BroadcastGame(gameID, models.WSFrame{Event: "game:over", Data: models.GameOverEvent{
		GameID:       gameID,
		Result:       out.Result,
		ResultReason: out.ResultReason,
		Ratings:      out.Ratings,
	}})
	if sess, err := h.registry.Get(ctx, gameID); err == nil {
		for _, p := range sess.Players {
			if err := h.users.UpdateStatus(p.UserID, models.UserOnline); err != nil {
				h.log.Warn("status_update_failed", zap.String("user_id", p.UserID), zap.Error(err))
			}
			if err := h.presence.SetGame(ctx, p.UserID, ""); err != nil {
				h.log.Warn("presence_set_game_failed", zap.String("user_id", p.UserID), zap.Error(err))
			}
		}
	}
	h.registry.Remove(gameID)
	h.hub.DeleteGame(gameID)
	h.dropGameSequence(gameID)
}

func (h *Handlers) onDisconnect(c *Client) {
	h.hub.Disconnect(c, func(userID string, gameIDs []string) {
		ctx := context.Background()
		if err := h.presence.Clear(ctx, userID); err != nil {
			h.log.Warn("presence_clear_failed", zap.String("user_id", userID), zap.Error(err))
		}
		// The disconnected flag is informational; it never forfeits the game.
		for _, gameID := range gameIDs {
			if err := h.games.SetPlayerDisconnected(ctx, gameID, userID, true); err != nil {
				h.log.Warn("disconnect_flag_failed",
					zap.String("game_id", gameID),
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
		}
		h.log.Info("grace_expired", zap.String("user_id", userID), zap.Strings("games", gameIDs))
		h.BroadcastLobbyPlayers()
	})
}

func (h *Handlers) rejectError(c *Client, err error) {
	switch {
	case errors.Is(err, repositories.ErrGameNotFound):
		c.Reject("GAME_NOT_FOUND", "game does not exist")
	case errors.Is(err, registry.ErrPlayerNotFound):
		c.Reject("PLAYER_NOT_FOUND", "player does not exist")
	case errors.Is(err, pipeline.ErrNotAParticipant):
		c.Reject("NOT_A_PARTICIPANT", "you are not a player in this game")
	case errors.Is(err, pipeline.ErrNotYourTurn):
		c.Reject("NOT_YOUR_TURN", "it is not your turn")
	case errors.Is(err, pipeline.ErrIllegalMove):
		c.Reject("ILLEGAL_MOVE", "move rejected by the rules engine")
	case errors.Is(err, pipeline.ErrGameCompleted):
		c.Reject("GAME_COMPLETED", "game is already over")
	case errors.Is(err, pipeline.ErrNoDrawOffered):
		c.Reject("NO_DRAW_OFFERED", "no outstanding draw offer")
	case errors.Is(err, pipeline.ErrCannotAcceptOwnOffer):
		c.Reject("CANNOT_ACCEPT_OWN_OFFER", "opponent must accept your offer")
	case errors.Is(err, pipeline.ErrNothingToUndo):
		c.Reject("NOTHING_TO_UNDO", "move log is empty")
	case errors.Is(err, pipeline.ErrNoUndoRequested):
		c.Reject("NO_UNDO_REQUESTED", "no outstanding undo request")
	case errors.Is(err, pipeline.ErrCannotAcceptOwnUndo):
		c.Reject("CANNOT_ACCEPT_OWN_UNDO", "opponent must accept your request")
	default:
		h.log.Error("operation_failed", zap.Error(err))
		c.Reject("INTERNAL_ERROR", "operation failed")
	}
}

func decode(in any, out any) { b, _ := json.Marshal(in); _ = json.Unmarshal(b, out) }

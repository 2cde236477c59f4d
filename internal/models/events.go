package models

// WSFrame is the envelope for every websocket message in both directions.
type WSFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Rejection is sent to the requesting connection only, never broadcast.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FindMatchRequest is the payload of game:findMatch.
type FindMatchRequest struct {
	Mode        string `json:"mode"`
	TimeControl string `json:"timeControl"`
}

// SearchingEvent is the payload of game:searching, echoing the search plus
// how many players are waiting in the same mode.
type SearchingEvent struct {
	Mode        string `json:"mode"`
	TimeControl string `json:"timeControl"`
	Waiting     int    `json:"waiting"`
}

// JoinGameRequest is the payload of game:join.
type JoinGameRequest struct {
	GameID string `json:"gameId"`
}

// MoveRequest is the payload of game:move.
type MoveRequest struct {
	GameID    string `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// GameRef identifies a game in resign/draw/undo payloads.
type GameRef struct {
	GameID string `json:"gameId"`
}

// MatchedEvent tells a queued player a game was created for them.
type MatchedEvent struct {
	GameID   string      `json:"gameId"`
	Opponent PublicUser  `json:"opponent"`
	Color    string      `json:"color"`
	Options  GameOptions `json:"options"`
}

// GameView is the full state snapshot sent on game:join and after moves.
type GameView struct {
	GameID       string              `json:"gameId"`
	Players      []PlayerSlot        `json:"players"`
	Position     string              `json:"position"`
	Moves        []Move              `json:"moves"`
	Turn         string              `json:"turn"`
	Check        bool                `json:"check"`
	LegalMoves   map[string][]string `json:"legalMoves"`
	Status       string              `json:"status"`
	Result       string              `json:"result,omitempty"`
	ResultReason string              `json:"resultReason,omitempty"`
	DrawOffers   []string            `json:"drawOffers,omitempty"`
}

// MoveAppliedEvent is broadcast to the game room after an accepted move.
type MoveAppliedEvent struct {
	GameID     string              `json:"gameId"`
	Move       Move                `json:"move"`
	Position   string              `json:"position"`
	Turn       string              `json:"turn"`
	Check      bool                `json:"check"`
	LegalMoves map[string][]string `json:"legalMoves"`
	Status     string              `json:"status"`
}

// GameOverEvent is the terminal notice broadcast to the game room.
type GameOverEvent struct {
	GameID       string         `json:"gameId"`
	Result       string         `json:"result"`
	ResultReason string         `json:"resultReason"`
	Ratings      []RatingChange `json:"ratings,omitempty"`
}

// RatingChange reports one player's rating transition after a ranked game.
type RatingChange struct {
	UserID    string `json:"userId"`
	OldRating int    `json:"oldRating"`
	NewRating int    `json:"newRating"`
}

// LobbyPlayersEvent carries the active-player list broadcast to the lobby.
type LobbyPlayersEvent struct {
	Players []PublicUser `json:"players"`
	Count   int          `json:"count"`
}

package models

import "time"

// Game statuses
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Game results
const (
	ResultWhiteWins  = "white-wins"
	ResultBlackWins  = "black-wins"
	ResultDraw       = "draw"
	ResultUnresolved = "unresolved"
)

// Result reasons
const (
	ReasonCheckmate            = "checkmate"
	ReasonResignation          = "resignation"
	ReasonTimeout              = "timeout"
	ReasonStalemate            = "stalemate"
	ReasonInsufficientMaterial = "insufficient-material"
	ReasonRepetition           = "repetition"
	ReasonFiftyMove            = "fifty-move"
	ReasonAgreement            = "agreement"
	ReasonAbandonment          = "abandonment"
)

// Colors
const (
	ColorWhite = "white"
	ColorBlack = "black"
)

// Matchmaking modes
const (
	ModeCasual = "casual"
	ModeRanked = "ranked"
)

// PlayerSlot is one side of a game: identity plus a rating snapshot taken
// at game creation.
type PlayerSlot struct {
	UserID        string `json:"userId" bson:"user_id"`
	Username      string `json:"username" bson:"username"`
	Color         string `json:"color" bson:"color"`
	Rating        int    `json:"rating" bson:"rating"`
	TimeRemaining int64  `json:"timeRemaining" bson:"time_remaining"`
	Disconnected  bool   `json:"disconnected,omitempty" bson:"disconnected"`
}

// Move is one applied half-move as the oracle reported it.
type Move struct {
	From      string    `json:"from" bson:"from"`
	To        string    `json:"to" bson:"to"`
	Piece     string    `json:"piece" bson:"piece"`
	Color     string    `json:"color" bson:"color"`
	Captured  string    `json:"captured,omitempty" bson:"captured,omitempty"`
	Promotion string    `json:"promotion,omitempty" bson:"promotion,omitempty"`
	Notation  string    `json:"notation" bson:"notation"`
	PlayedAt  time.Time `json:"playedAt" bson:"played_at"`
}

// UCI renders the move in from-to(+promotion) form for oracle replay.
func (m Move) UCI() string { return m.From + m.To + m.Promotion }

// GameOptions are the fixed parameters the players matched on.
type GameOptions struct {
	TimeControl string `json:"timeControl" bson:"time_control"`
	IsRanked    bool   `json:"isRanked" bson:"is_ranked"`
}

// Game is the persisted game record. The moves list is append-only and its
// replay from the standard starting position must reproduce Position.
type Game struct {
	ID           string       `json:"id" bson:"_id"`
	Players      []PlayerSlot `json:"players" bson:"players"`
	Moves        []Move       `json:"moves" bson:"moves"`
	Position     string       `json:"position" bson:"position"`
	MoveLog      string       `json:"moveLog" bson:"move_log"`
	Status       string       `json:"status" bson:"status"`
	Result       string       `json:"result" bson:"result"`
	ResultReason string       `json:"resultReason,omitempty" bson:"result_reason,omitempty"`
	TimeControl  string       `json:"timeControl" bson:"time_control"`
	IsRanked     bool         `json:"isRanked" bson:"is_ranked"`
	DrawOffers   []string     `json:"drawOffers" bson:"draw_offers"`
	LastMoveAt   time.Time    `json:"lastMoveAt" bson:"last_move_at"`
	CreatedAt    time.Time    `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" bson:"updated_at"`
}

// PlayerByID returns the slot for userID, or nil.
func (g *Game) PlayerByID(userID string) *PlayerSlot {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return &g.Players[i]
		}
	}
	return nil
}

// OpponentOf returns the other participant's slot, or nil if userID is not
// one of the two players.
func (g *Game) OpponentOf(userID string) *PlayerSlot {
	if g.PlayerByID(userID) == nil {
		return nil
	}
	for i := range g.Players {
		if g.Players[i].UserID != userID {
			return &g.Players[i]
		}
	}
	return nil
}

// HasDrawOffer reports whether userID has an outstanding draw offer.
func (g *Game) HasDrawOffer(userID string) bool {
	for _, id := range g.DrawOffers {
		if id == userID {
			return true
		}
	}
	return false
}

// UCIMoves renders the full move log for oracle replay.
func (g *Game) UCIMoves() []string {
	out := make([]string, len(g.Moves))
	for i, m := range g.Moves {
		out[i] = m.UCI()
	}
	return out
}

// Package oracle wraps the chess rules engine. Legality, check detection and
// terminal conditions are always answered by the engine, never re-derived.
package oracle

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove is returned when the engine rejects a candidate move.
var ErrIllegalMove = errors.New("illegal move")

// Engine owns one rules-engine game instance. It is not safe for concurrent
// use; callers hold the per-game serialization lock.
type Engine struct {
	game *nchess.Game
}

// New returns an engine at the standard starting position.
func New() *Engine {
	return &Engine{game: nchess.NewGame()}
}

// FromFEN reconstructs an engine from a canonical position string. Repetition
// and fifty-move history before the position are lost, which is why callers
// prefer Replay when a move log is available.
func FromFEN(fen string) (*Engine, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	return &Engine{game: nchess.NewGame(opt)}, nil
}

// Replay rebuilds an engine by applying a UCI move list from the starting
// position. Used on cache reload and for undo, never move inversion.
func Replay(ucis []string) (*Engine, error) {
	e := New()
	for i, uci := range ucis {
		if err := e.game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, uci, err)
		}
	}
	return e, nil
}

// MoveResult describes an accepted move as the engine reported it.
type MoveResult struct {
	From      string
	To        string
	Piece     string
	Color     string
	Captured  string
	Promotion string
	SAN       string
}

// TerminalState is non-nil once the game cannot continue.
type TerminalState struct {
	Result string // "white-wins", "black-wins", "draw"
	Reason string // "checkmate", "stalemate", "repetition", "insufficient-material", "fifty-move"
}

// SideToMove returns "white" or "black".
func (e *Engine) SideToMove() string {
	return colorName(e.game.Position().Turn())
}

// FEN returns the canonical position string.
func (e *Engine) FEN() string { return e.game.FEN() }

// PGN returns the portable game text.
func (e *Engine) PGN() string { return strings.TrimSpace(e.game.String()) }

// InCheck reports whether the side to move is in check.
func (e *Engine) InCheck() bool {
	if moves := e.game.Moves(); len(moves) > 0 {
		return moves[len(moves)-1].HasTag(nchess.Check)
	}
	return positionInCheck(e.game.Position())
}

// positionInCheck answers check for a position without move history (a
// FEN-restored game). The turn is handed to the attacking side and its king
// lifted off the board so that no reply is filtered out as self-check; the
// side to move is in check iff some reply then lands on its king's square.
func positionInCheck(pos *nchess.Position) bool {
	defender := pos.Turn()
	squares := pos.Board().SquareMap()
	kingSq := nchess.NoSquare
	for sq, p := range squares {
		if p.Type() != nchess.King {
			continue
		}
		if p.Color() == defender {
			kingSq = sq
		} else {
			delete(squares, sq)
		}
	}
	if kingSq == nchess.NoSquare {
		return false
	}
	attacker := "w"
	if defender == nchess.White {
		attacker = "b"
	}
	opt, err := nchess.FEN(nchess.NewBoard(squares).String() + " " + attacker + " - - 0 1")
	if err != nil {
		return false
	}
	for _, mv := range nchess.NewGame(opt).ValidMoves() {
		if mv.S2() == kingSq {
			return true
		}
	}
	return false
}

// ApplyMove validates and applies from/to(+promotion). The engine is
// authoritative: pins, castling rights, en passant and promotion legality are
// all its verdict. Returns ErrIllegalMove on rejection.
func (e *Engine) ApplyMove(from, to, promotion string) (*MoveResult, error) {
	uci := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
	if len(uci) < 4 {
		return nil, ErrIllegalMove
	}
	pos := e.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	moving := pos.Board().Piece(mv.S1())
	captured := capturedPiece(pos, mv)
	if err := e.game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}
	return &MoveResult{
		From:      mv.S1().String(),
		To:        mv.S2().String(),
		Piece:     pieceLetter(moving.Type()),
		Color:     colorName(moving.Color()),
		Captured:  captured,
		Promotion: pieceLetter(mv.Promo()),
		SAN:       san,
	}, nil
}

// LegalTargets groups the engine's full legal-move list by origin square.
func (e *Engine) LegalTargets() map[string][]string {
	out := make(map[string][]string)
	for _, mv := range e.game.ValidMoves() {
		from := mv.S1().String()
		out[from] = append(out[from], mv.S2().String())
	}
	return out
}

// Terminal reports the ending if the game is over, applying rule-based draws
// (threefold repetition, fifty-move) the engine marks as claimable.
func (e *Engine) Terminal() *TerminalState {
	if e.game.Outcome() == nchess.NoOutcome {
		// Rule-based draws are claimable rather than automatic; the server
		// claims them on the players' behalf.
		for _, m := range e.game.EligibleDraws() {
			if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
				_ = e.game.Draw(m)
				break
			}
		}
	}
	outcome := e.game.Outcome()
	if outcome == nchess.NoOutcome {
		return nil
	}
	ts := &TerminalState{}
	switch outcome {
	case nchess.WhiteWon:
		ts.Result = "white-wins"
	case nchess.BlackWon:
		ts.Result = "black-wins"
	default:
		ts.Result = "draw"
	}
	switch e.game.Method() {
	case nchess.Checkmate:
		ts.Reason = "checkmate"
	case nchess.Stalemate:
		ts.Reason = "stalemate"
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		ts.Reason = "repetition"
	case nchess.InsufficientMaterial:
		ts.Reason = "insufficient-material"
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		ts.Reason = "fifty-move"
	}
	return ts
}

func capturedPiece(pos *nchess.Position, mv *nchess.Move) string {
	target := pos.Board().Piece(mv.S2())
	if target != nchess.NoPiece {
		return pieceLetter(target.Type())
	}
	// En passant: the captured pawn is not on the destination square.
	moving := pos.Board().Piece(mv.S1())
	if moving.Type() == nchess.Pawn && mv.S1().File() != mv.S2().File() {
		return pieceLetter(nchess.Pawn)
	}
	return ""
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

func pieceLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.Pawn:
		return "p"
	case nchess.Knight:
		return "n"
	case nchess.Bishop:
		return "b"
	case nchess.Rook:
		return "r"
	case nchess.Queen:
		return "q"
	case nchess.King:
		return "k"
	default:
		return ""
	}
}

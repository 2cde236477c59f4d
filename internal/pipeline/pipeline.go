// Package pipeline applies game actions: turn validation, oracle invocation,
// persistence, terminal detection and rating settlement. Every operation
// holds the per-game serialization lock for its full duration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chesshub/internal/elo"
	"chesshub/internal/models"
	"chesshub/internal/oracle"
	"chesshub/internal/registry"
	"chesshub/internal/repositories"
)

var (
	ErrNotAParticipant      = errors.New("not a participant")
	ErrNotYourTurn          = errors.New("not your turn")
	ErrIllegalMove          = errors.New("illegal move")
	ErrGameCompleted        = errors.New("game already completed")
	ErrNoDrawOffered        = errors.New("no draw offered")
	ErrCannotAcceptOwnOffer = errors.New("cannot accept own draw offer")
	ErrNothingToUndo        = errors.New("nothing to undo")
	ErrNoUndoRequested      = errors.New("no undo requested")
	ErrCannotAcceptOwnUndo  = errors.New("cannot accept own undo request")
)

const ratingChannel = "rating_updates"

// Pipeline coordinates the session registry, the game store, the user
// directory and the rules oracle.
type Pipeline struct {
	registry *registry.Registry
	games    repositories.GameRepository
	users    *repositories.UserRepository
	rdb      *redis.Client
	log      *zap.Logger
}

func New(reg *registry.Registry, games repositories.GameRepository, users *repositories.UserRepository, rdb *redis.Client, log *zap.Logger) *Pipeline {
	return &Pipeline{registry: reg, games: games, users: users, rdb: rdb, log: log}
}

// MoveOutcome is everything a client needs to render the position after an
// accepted action.
type MoveOutcome struct {
	Move         models.Move
	Position     string
	Turn         string
	Check        bool
	LegalMoves   map[string][]string
	Status       string
	Result       string
	ResultReason string
	Ratings      []models.RatingChange
}

// ApplyMove validates and applies one move for userID on gameID.
func (p *Pipeline) ApplyMove(ctx context.Context, gameID, userID, from, to, promotion string) (*MoveOutcome, error) {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.Status == models.StatusCompleted {
		return nil, ErrGameCompleted
	}
	color := sess.PlayerColor(userID)
	if color == "" {
		return nil, ErrNotAParticipant
	}
	if sess.Oracle.SideToMove() != color {
		return nil, ErrNotYourTurn
	}

	// Load the record before touching the oracle so a store failure leaves
	// session and store in agreement.
	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}

	res, err := sess.Oracle.ApplyMove(from, to, promotion)
	if err != nil {
		if errors.Is(err, oracle.ErrIllegalMove) {
			return nil, ErrIllegalMove
		}
		return nil, err
	}
	move := models.Move{
		From:      res.From,
		To:        res.To,
		Piece:     res.Piece,
		Color:     res.Color,
		Captured:  res.Captured,
		Promotion: res.Promotion,
		Notation:  res.SAN,
		PlayedAt:  time.Now(),
	}
	game.Moves = append(game.Moves, move)
	game.Position = sess.Oracle.FEN()
	game.MoveLog = sess.Oracle.PGN()
	game.LastMoveAt = move.PlayedAt

	out := &MoveOutcome{
		Move:       move,
		Position:   game.Position,
		Turn:       sess.Oracle.SideToMove(),
		Check:      sess.Oracle.InCheck(),
		LegalMoves: sess.Oracle.LegalTargets(),
		Status:     game.Status,
	}

	if term := sess.Oracle.Terminal(); term != nil {
		game.Status = models.StatusCompleted
		game.Result = term.Result
		game.ResultReason = term.Reason
		sess.Status = models.StatusCompleted
		out.Status = game.Status
		out.Result = game.Result
		out.ResultReason = game.ResultReason
	}

	if err := p.games.Update(ctx, game); err != nil {
		p.resyncSession(ctx, sess, gameID)
		return nil, fmt.Errorf("persist move: %w", err)
	}
	p.log.Info("move_applied",
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
		zap.String("san", move.Notation),
		zap.String("status", game.Status),
	)

	if game.Status == models.StatusCompleted {
		out.Ratings = p.settleRatings(ctx, game)
	}
	return out, nil
}

// Resign ends the game; the other participant wins.
func (p *Pipeline) Resign(ctx context.Context, gameID, userID string) (*MoveOutcome, error) {
	return p.finishAgainst(ctx, gameID, userID, models.ReasonResignation)
}

// HandleTimeout ends the game on flag fall; the other participant wins.
func (p *Pipeline) HandleTimeout(ctx context.Context, gameID, playerID string) (*MoveOutcome, error) {
	return p.finishAgainst(ctx, gameID, playerID, models.ReasonTimeout)
}

func (p *Pipeline) finishAgainst(ctx context.Context, gameID, userID, reason string) (*MoveOutcome, error) {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.Status == models.StatusCompleted {
		return nil, ErrGameCompleted
	}
	color := sess.PlayerColor(userID)
	if color == "" {
		return nil, ErrNotAParticipant
	}

	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	game.Status = models.StatusCompleted
	if color == models.ColorWhite {
		game.Result = models.ResultBlackWins
	} else {
		game.Result = models.ResultWhiteWins
	}
	game.ResultReason = reason
	game.DrawOffers = []string{}
	sess.Status = models.StatusCompleted

	if err := p.games.Update(ctx, game); err != nil {
		p.resyncSession(ctx, sess, gameID)
		return nil, fmt.Errorf("persist result: %w", err)
	}
	p.log.Info("game_finished",
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.String("result", game.Result),
	)

	out := &MoveOutcome{
		Position:     game.Position,
		Turn:         sess.Oracle.SideToMove(),
		Status:       game.Status,
		Result:       game.Result,
		ResultReason: game.ResultReason,
	}
	out.Ratings = p.settleRatings(ctx, game)
	return out, nil
}

// OfferDraw records an outstanding draw offer for userID.
func (p *Pipeline) OfferDraw(ctx context.Context, gameID, userID string) error {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.Status == models.StatusCompleted {
		return ErrGameCompleted
	}
	if sess.PlayerColor(userID) == "" {
		return ErrNotAParticipant
	}

	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game.HasDrawOffer(userID) {
		return nil
	}
	game.DrawOffers = append(game.DrawOffers, userID)
	return p.games.Update(ctx, game)
}

// AcceptDraw completes the game as a draw by agreement. The accepting user
// must not be the one who offered.
func (p *Pipeline) AcceptDraw(ctx context.Context, gameID, userID string) (*MoveOutcome, error) {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.Status == models.StatusCompleted {
		return nil, ErrGameCompleted
	}
	if sess.PlayerColor(userID) == "" {
		return nil, ErrNotAParticipant
	}

	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(game.DrawOffers) == 0 {
		return nil, ErrNoDrawOffered
	}
	if game.HasDrawOffer(userID) {
		return nil, ErrCannotAcceptOwnOffer
	}

	game.Status = models.StatusCompleted
	game.Result = models.ResultDraw
	game.ResultReason = models.ReasonAgreement
	game.DrawOffers = []string{}
	sess.Status = models.StatusCompleted

	if err := p.games.Update(ctx, game); err != nil {
		p.resyncSession(ctx, sess, gameID)
		return nil, fmt.Errorf("persist result: %w", err)
	}
	p.log.Info("game_finished",
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
		zap.String("reason", game.ResultReason),
		zap.String("result", game.Result),
	)

	out := &MoveOutcome{
		Position:     game.Position,
		Turn:         sess.Oracle.SideToMove(),
		Status:       game.Status,
		Result:       game.Result,
		ResultReason: game.ResultReason,
	}
	out.Ratings = p.settleRatings(ctx, game)
	return out, nil
}

// DeclineDraw clears all outstanding offers without changing game state.
func (p *Pipeline) DeclineDraw(ctx context.Context, gameID, userID string) error {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.PlayerColor(userID) == "" {
		return ErrNotAParticipant
	}
	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if len(game.DrawOffers) == 0 {
		return ErrNoDrawOffered
	}
	game.DrawOffers = []string{}
	return p.games.Update(ctx, game)
}

// RequestUndo records an undo request to relay to the opponent. It is never
// applied unilaterally.
func (p *Pipeline) RequestUndo(ctx context.Context, gameID, userID string) error {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.Status == models.StatusCompleted {
		return ErrGameCompleted
	}
	if sess.PlayerColor(userID) == "" {
		return ErrNotAParticipant
	}
	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if len(game.Moves) == 0 {
		return ErrNothingToUndo
	}
	sess.UndoRequestedBy = userID
	return nil
}

// AcceptUndo pops the last move and reconstructs oracle state by replaying
// the truncated log from the initial position. Undo is a two-party
// agreement: only the opponent of an outstanding request may accept it.
func (p *Pipeline) AcceptUndo(ctx context.Context, gameID, userID string) (*MoveOutcome, error) {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.Status == models.StatusCompleted {
		return nil, ErrGameCompleted
	}
	if sess.PlayerColor(userID) == "" {
		return nil, ErrNotAParticipant
	}
	if sess.UndoRequestedBy == "" {
		return nil, ErrNoUndoRequested
	}
	if sess.UndoRequestedBy == userID {
		return nil, ErrCannotAcceptOwnUndo
	}

	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(game.Moves) == 0 {
		return nil, ErrNothingToUndo
	}

	game.Moves = game.Moves[:len(game.Moves)-1]
	eng, err := oracle.Replay(game.UCIMoves())
	if err != nil {
		return nil, fmt.Errorf("replay truncated log: %w", err)
	}
	sess.Oracle = eng
	sess.UndoRequestedBy = ""
	game.Position = eng.FEN()
	game.MoveLog = eng.PGN()
	game.LastMoveAt = time.Now()

	if err := p.games.Update(ctx, game); err != nil {
		p.resyncSession(ctx, sess, gameID)
		return nil, fmt.Errorf("persist undo: %w", err)
	}
	p.log.Info("move_undone", zap.String("game_id", gameID), zap.String("user_id", userID))

	return &MoveOutcome{
		Position:   game.Position,
		Turn:       eng.SideToMove(),
		Check:      eng.InCheck(),
		LegalMoves: eng.LegalTargets(),
		Status:     game.Status,
	}, nil
}

// DeclineUndo drops the outstanding request; game state is unchanged.
func (p *Pipeline) DeclineUndo(ctx context.Context, gameID, userID string) error {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	if sess.PlayerColor(userID) == "" {
		return ErrNotAParticipant
	}
	sess.UndoRequestedBy = ""
	return nil
}

// GameView assembles the full client-facing snapshot of a game.
func (p *Pipeline) GameView(ctx context.Context, gameID string) (*models.GameView, error) {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	defer sess.Touch()

	game, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return &models.GameView{
		GameID:       game.ID,
		Players:      game.Players,
		Position:     game.Position,
		Moves:        game.Moves,
		Turn:         sess.Oracle.SideToMove(),
		Check:        sess.Oracle.InCheck(),
		LegalMoves:   sess.Oracle.LegalTargets(),
		Status:       game.Status,
		Result:       game.Result,
		ResultReason: game.ResultReason,
		DrawOffers:   game.DrawOffers,
	}, nil
}

// IsParticipant reports whether userID is one of the game's two players.
func (p *Pipeline) IsParticipant(ctx context.Context, gameID, userID string) (bool, error) {
	sess, err := p.registry.Get(ctx, gameID)
	if err != nil {
		return false, err
	}
	return sess.PlayerColor(userID) != "", nil
}

// resyncSession rewinds a session to the stored record after a failed
// persist, so the cached oracle never runs ahead of the move log. When the
// store cannot be read the session is dropped and the next access reloads it.
func (p *Pipeline) resyncSession(ctx context.Context, sess *registry.Session, gameID string) {
	stored, err := p.games.FindByID(ctx, gameID)
	if err != nil {
		p.registry.Remove(gameID)
		return
	}
	eng, err := registry.RebuildOracle(stored)
	if err != nil {
		p.registry.Remove(gameID)
		return
	}
	sess.Oracle = eng
	sess.Status = stored.Status
}

// settleRatings runs the symmetric Elo update for a completed ranked game.
// It runs exactly once per terminal transition (the caller just flipped the
// game to completed under the session lock). Failures are logged and never
// roll back the game result.
func (p *Pipeline) settleRatings(ctx context.Context, game *models.Game) []models.RatingChange {
	if !game.IsRanked {
		return nil
	}
	whiteScore, blackScore, rated := elo.Scores(game.Result)
	if !rated {
		return nil
	}

	var white, black *models.PlayerSlot
	for i := range game.Players {
		if game.Players[i].Color == models.ColorWhite {
			white = &game.Players[i]
		} else {
			black = &game.Players[i]
		}
	}
	if white == nil || black == nil {
		return nil
	}

	wu, werr := p.users.GetUserByID(white.UserID)
	bu, berr := p.users.GetUserByID(black.UserID)
	if werr != nil || berr != nil {
		p.log.Error("rating_lookup_failed",
			zap.String("game_id", game.ID),
			zap.NamedError("white_err", werr),
			zap.NamedError("black_err", berr),
		)
		return nil
	}

	newWhite := elo.NewRating(wu.Rating, bu.Rating, whiteScore)
	newBlack := elo.NewRating(bu.Rating, wu.Rating, blackScore)

	changes := []models.RatingChange{
		{UserID: wu.UserID, OldRating: wu.Rating, NewRating: newWhite},
		{UserID: bu.UserID, OldRating: bu.Rating, NewRating: newBlack},
	}

	if err := p.users.ApplyRating(wu.UserID, newWhite, outcomeFor(whiteScore)); err != nil {
		p.log.Error("rating_update_failed", zap.String("user_id", wu.UserID), zap.Error(err))
	}
	if err := p.users.ApplyRating(bu.UserID, newBlack, outcomeFor(blackScore)); err != nil {
		p.log.Error("rating_update_failed", zap.String("user_id", bu.UserID), zap.Error(err))
	}

	p.publishRatings(ctx, game.ID, changes)
	return changes
}

func (p *Pipeline) publishRatings(ctx context.Context, gameID string, changes []models.RatingChange) {
	if p.rdb == nil {
		return
	}
	for _, c := range changes {
		payload := fmt.Sprintf(`{"gameId":%q,"userId":%q,"oldRating":%d,"newRating":%d}`,
			gameID, c.UserID, c.OldRating, c.NewRating)
		if err := p.rdb.Publish(ctx, ratingChannel, payload).Err(); err != nil {
			p.log.Warn("rating_publish_failed", zap.String("user_id", c.UserID), zap.Error(err))
		}
	}
}

func outcomeFor(score float64) string {
	switch score {
	case 1:
		return "won"
	case 0:
		return "lost"
	default:
		return "drawn"
	}
}

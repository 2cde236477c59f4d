package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"chesshub/internal/matchmaking"
	"chesshub/internal/models"
	"chesshub/internal/pipeline"
	"chesshub/internal/presence"
	"chesshub/internal/registry"
	"chesshub/internal/repositories"
	"chesshub/internal/repositories/memory"
	"chesshub/internal/testhelpers"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func (r *frameRecorder) push(f models.WSFrame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *frameRecorder) last(event string) (models.WSFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event == event {
			return r.frames[i], true
		}
	}
	return models.WSFrame{}, false
}

func (r *frameRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func setupHandlers(t *testing.T) (*Handlers, *repositories.UserRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users := &repositories.UserRepository{DB: testhelpers.SetupTestDB(t)}
	for _, name := range []string{"alice", "bob", "carol"} {
		u := &models.User{
			UserID:       name,
			Username:     name,
			Email:        name + "@example.com",
			PasswordHash: "hash",
			Rating:       models.DefaultRating,
			Status:       models.UserOnline,
		}
		if err := users.CreateUser(u); err != nil {
			t.Fatalf("failed to seed user %s: %v", name, err)
		}
	}

	log := zap.NewNop()
	games := memory.NewGameRepo()
	reg := registry.New(games, users, log)
	pipe := pipeline.New(reg, games, users, rdb, log)
	tracker := presence.New(rdb, users, log)
	queue := matchmaking.NewQueue()
	hub := NewHub()

	return NewHandlers(log, hub, queue, reg, pipe, tracker, users, games, "test-secret"), users
}

func connect(h *Handlers, userID string) (*Client, *frameRecorder) {
	rec := &frameRecorder{}
	c := NewClient(nil, userID, userID)
	c.SetSendHook(rec.push)
	h.hub.Bind(c)
	return c, rec
}

// pairUp runs both users through matchmaking and returns the created game id.
func pairUp(t *testing.T, h *Handlers, a, b *Client, recA, recB *frameRecorder) string {
	t.Helper()
	ctx := context.Background()
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:findMatch", Data: models.FindMatchRequest{Mode: "casual", TimeControl: "10min"}})
	if _, ok := recA.last("game:searching"); !ok {
		t.Fatal("first seeker did not get game:searching")
	}
	h.Dispatch(ctx, b, models.WSFrame{Event: "game:findMatch", Data: models.FindMatchRequest{Mode: "casual", TimeControl: "10min"}})

	frame, ok := recA.last("game:matched")
	if !ok {
		t.Fatal("first seeker did not get game:matched")
	}
	matched := frame.Data.(models.MatchedEvent)
	return matched.GameID
}

func TestLobbyJoinBroadcastsRoster(t *testing.T) {
	h, _ := setupHandlers(t)
	c, rec := connect(h, "alice")

	h.Dispatch(context.Background(), c, models.WSFrame{Event: "lobby:join"})

	frame, ok := rec.last("lobby:players")
	assert.True(t, ok, "lobby:join must trigger a roster broadcast")
	roster := frame.Data.(models.LobbyPlayersEvent)
	assert.Equal(t, 3, roster.Count)
}

func TestFindMatchPairsBothSeekers(t *testing.T) {
	h, users := setupHandlers(t)
	a, recA := connect(h, "alice")
	b, recB := connect(h, "bob")

	gameID := pairUp(t, h, a, b, recA, recB)
	assert.NotEmpty(t, gameID)

	frameB, ok := recB.last("game:matched")
	assert.True(t, ok, "second seeker did not get game:matched")
	matchedA, _ := recA.last("game:matched")
	evA := matchedA.Data.(models.MatchedEvent)
	evB := frameB.Data.(models.MatchedEvent)

	assert.Equal(t, evA.GameID, evB.GameID)
	assert.NotEqual(t, evA.Color, evB.Color)
	assert.Equal(t, "bob", evA.Opponent.UserID)
	assert.Equal(t, "alice", evB.Opponent.UserID)

	ua, _ := users.GetUserByID("alice")
	assert.Equal(t, models.UserInGame, ua.Status)
}

func TestFindMatchDuplicate(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")
	ctx := context.Background()

	req := models.FindMatchRequest{Mode: "casual", TimeControl: "10min"}
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:findMatch", Data: req})
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:findMatch", Data: req})

	frame, ok := recA.last("game:rejected")
	assert.True(t, ok)
	assert.Equal(t, "ALREADY_QUEUED", frame.Data.(models.Rejection).Code)
}

func TestCancelMatchRevertsStatus(t *testing.T) {
	h, users := setupHandlers(t)
	a, _ := connect(h, "alice")
	ctx := context.Background()

	h.Dispatch(ctx, a, models.WSFrame{Event: "game:findMatch", Data: models.FindMatchRequest{Mode: "casual", TimeControl: "10min"}})
	u, _ := users.GetUserByID("alice")
	assert.Equal(t, models.UserSearching, u.Status)

	h.Dispatch(ctx, a, models.WSFrame{Event: "game:cancelMatch"})
	u, _ = users.GetUserByID("alice")
	assert.Equal(t, models.UserOnline, u.Status)
}

func TestGameJoinValidation(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")
	b, recB := connect(h, "bob")
	carol, recC := connect(h, "carol")
	ctx := context.Background()

	gameID := pairUp(t, h, a, b, recA, recB)

	h.Dispatch(ctx, a, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{}})
	frame, _ := recA.last("game:rejected")
	assert.Equal(t, "INVALID_GAME_ID", frame.Data.(models.Rejection).Code)

	h.Dispatch(ctx, carol, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	frame, _ = recC.last("game:rejected")
	assert.Equal(t, "NOT_A_PARTICIPANT", frame.Data.(models.Rejection).Code)

	h.Dispatch(ctx, a, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	dataFrame, ok := recA.last("game:data")
	assert.True(t, ok)
	view := dataFrame.Data.(*models.GameView)
	assert.Equal(t, gameID, view.GameID)
	assert.Equal(t, "white", view.Turn)
	assert.Len(t, view.Players, 2)
}

func TestMoveBroadcastAndRejection(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")
	b, recB := connect(h, "bob")
	ctx := context.Background()

	gameID := pairUp(t, h, a, b, recA, recB)
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	h.Dispatch(ctx, b, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})

	matched, _ := recA.last("game:matched")
	white, black := a, b
	recWhite, recBlack := recA, recB
	if matched.Data.(models.MatchedEvent).Color == "black" {
		white, black = b, a
		recWhite, recBlack = recB, recA
	}

	// Out-of-turn move: rejection goes to the requester only.
	h.Dispatch(ctx, black, models.WSFrame{Event: "game:move", Data: models.MoveRequest{GameID: gameID, From: "e7", To: "e5"}})
	frame, ok := recBlack.last("game:rejected")
	assert.True(t, ok)
	assert.Equal(t, "NOT_YOUR_TURN", frame.Data.(models.Rejection).Code)
	assert.Zero(t, recWhite.count("game:rejected"))

	h.Dispatch(ctx, white, models.WSFrame{Event: "game:move", Data: models.MoveRequest{GameID: gameID, From: "e2", To: "e4"}})
	for _, rec := range []*frameRecorder{recWhite, recBlack} {
		frame, ok := rec.last("game:update")
		assert.True(t, ok, "both room members must see the move")
		update := frame.Data.(models.MoveAppliedEvent)
		assert.Equal(t, "e2e4", update.Move.UCI())
		assert.Equal(t, "black", update.Turn)
	}
}

func TestDrawOfferRelayedToOpponentOnly(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")
	b, recB := connect(h, "bob")
	ctx := context.Background()

	gameID := pairUp(t, h, a, b, recA, recB)
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	h.Dispatch(ctx, b, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})

	h.Dispatch(ctx, a, models.WSFrame{Event: "game:offerDraw", Data: models.GameRef{GameID: gameID}})
	_, gotB := recB.last("game:drawOffered")
	assert.True(t, gotB, "opponent must see the draw offer")
	assert.Zero(t, recA.count("game:drawOffered"), "offer must not echo to the offerer")
}

func TestResignEndsGameForRoom(t *testing.T) {
	h, users := setupHandlers(t)
	a, recA := connect(h, "alice")
	b, recB := connect(h, "bob")
	ctx := context.Background()

	gameID := pairUp(t, h, a, b, recA, recB)
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	h.Dispatch(ctx, b, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})

	h.Dispatch(ctx, a, models.WSFrame{Event: "game:resign", Data: models.GameRef{GameID: gameID}})
	for _, rec := range []*frameRecorder{recA, recB} {
		frame, ok := rec.last("game:over")
		assert.True(t, ok)
		over := frame.Data.(models.GameOverEvent)
		assert.Equal(t, models.ReasonResignation, over.ResultReason)
	}
	u, _ := users.GetUserByID("alice")
	assert.Equal(t, models.UserOnline, u.Status)
}

func TestUnknownEvent(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")

	h.Dispatch(context.Background(), a, models.WSFrame{Event: "game:teleport"})
	frame, ok := recA.last("game:rejected")
	assert.True(t, ok)
	assert.Equal(t, "UNKNOWN_EVENT", frame.Data.(models.Rejection).Code)
}

func TestAcceptUndoNeedsAgreement(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")
	b, recB := connect(h, "bob")
	ctx := context.Background()

	gameID := pairUp(t, h, a, b, recA, recB)
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	h.Dispatch(ctx, b, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})

	matched, _ := recA.last("game:matched")
	white, recWhite := a, recA
	if matched.Data.(models.MatchedEvent).Color == "black" {
		white, recWhite = b, recB
	}
	h.Dispatch(ctx, white, models.WSFrame{Event: "game:move", Data: models.MoveRequest{GameID: gameID, From: "e2", To: "e4"}})

	// Accepting with no request outstanding is rejected.
	h.Dispatch(ctx, white, models.WSFrame{Event: "game:acceptUndo", Data: models.GameRef{GameID: gameID}})
	frame, ok := recWhite.last("game:rejected")
	assert.True(t, ok)
	assert.Equal(t, "NO_UNDO_REQUESTED", frame.Data.(models.Rejection).Code)

	// The requester cannot accept their own request.
	h.Dispatch(ctx, white, models.WSFrame{Event: "game:requestUndo", Data: models.GameRef{GameID: gameID}})
	h.Dispatch(ctx, white, models.WSFrame{Event: "game:acceptUndo", Data: models.GameRef{GameID: gameID}})
	frame, ok = recWhite.last("game:rejected")
	assert.True(t, ok)
	assert.Equal(t, "CANNOT_ACCEPT_OWN_UNDO", frame.Data.(models.Rejection).Code)

	// The move survived both attempts.
	h.Dispatch(ctx, white, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	dataFrame, _ := recWhite.last("game:data")
	assert.Len(t, dataFrame.Data.(*models.GameView).Moves, 1)
}

func TestGameFramesFollowActionOrder(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")
	b, recB := connect(h, "bob")
	ctx := context.Background()

	gameID := pairUp(t, h, a, b, recA, recB)
	h.Dispatch(ctx, a, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})
	h.Dispatch(ctx, b, models.WSFrame{Event: "game:join", Data: models.JoinGameRequest{GameID: gameID}})

	matched, _ := recA.last("game:matched")
	white, recOpp := a, recB
	if matched.Data.(models.MatchedEvent).Color == "black" {
		white, recOpp = b, recA
	}

	// While an earlier action holds the game sequence, a later action's
	// room frames must wait behind it.
	seq := h.gameSequence(gameID)
	seq.Lock()
	done := make(chan struct{})
	go func() {
		h.Dispatch(ctx, white, models.WSFrame{Event: "game:move", Data: models.MoveRequest{GameID: gameID, From: "e2", To: "e4"}})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, recOpp.count("game:update"), "room frame went out ahead of an earlier action")

	seq.Unlock()
	<-done
	assert.Equal(t, 1, recOpp.count("game:update"))
}

func TestSearchingReportsQueueDepth(t *testing.T) {
	h, _ := setupHandlers(t)
	a, recA := connect(h, "alice")

	h.Dispatch(context.Background(), a, models.WSFrame{Event: "game:findMatch", Data: models.FindMatchRequest{Mode: "casual", TimeControl: "10min"}})
	frame, ok := recA.last("game:searching")
	assert.True(t, ok)
	assert.Equal(t, 1, frame.Data.(models.SearchingEvent).Waiting)
}

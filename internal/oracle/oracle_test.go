package oracle

import (
	"errors"
	"testing"
)

var scholarsMate = []string{"e2e4", "e7e5", "d1h5", "f8c5", "f1c4", "g8f6", "h5f7"}

func TestTurnAlternation(t *testing.T) {
	eng := New()
	if got := eng.SideToMove(); got != "white" {
		t.Fatalf("fresh game side to move = %q, want white", got)
	}
	if _, err := eng.ApplyMove("e2", "e4", ""); err != nil {
		t.Fatalf("e2e4 rejected: %v", err)
	}
	if got := eng.SideToMove(); got != "black" {
		t.Fatalf("after e2e4 side to move = %q, want black", got)
	}
}

func TestApplyMoveIllegal(t *testing.T) {
	eng := New()
	if _, err := eng.ApplyMove("e2", "e5", ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("e2e5 error = %v, want ErrIllegalMove", err)
	}
	// Rejection must not consume the turn.
	if got := eng.SideToMove(); got != "white" {
		t.Fatalf("side to move after rejection = %q, want white", got)
	}
}

func TestApplyMoveCapture(t *testing.T) {
	eng := New()
	for _, uci := range []string{"e2e4", "d7d5"} {
		if _, err := eng.ApplyMove(uci[:2], uci[2:4], ""); err != nil {
			t.Fatalf("%s rejected: %v", uci, err)
		}
	}
	res, err := eng.ApplyMove("e4", "d5", "")
	if err != nil {
		t.Fatalf("exd5 rejected: %v", err)
	}
	if res.Captured != "p" {
		t.Fatalf("captured = %q, want p", res.Captured)
	}
	if res.SAN != "exd5" {
		t.Fatalf("SAN = %q, want exd5", res.SAN)
	}
}

func TestInCheck(t *testing.T) {
	eng := New()
	for _, uci := range []string{"e2e4", "f7f6", "d1h5"} {
		if _, err := eng.ApplyMove(uci[:2], uci[2:4], ""); err != nil {
			t.Fatalf("%s rejected: %v", uci, err)
		}
	}
	if !eng.InCheck() {
		t.Fatal("expected black to be in check after Qh5+")
	}
	if eng.Terminal() != nil {
		t.Fatal("check alone must not be terminal")
	}
}

func TestPromotion(t *testing.T) {
	eng, err := FromFEN("8/P7/8/8/8/8/7k/K7 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	res, err := eng.ApplyMove("a7", "a8", "q")
	if err != nil {
		t.Fatalf("a8=Q rejected: %v", err)
	}
	if res.Promotion != "q" {
		t.Fatalf("promotion = %q, want q", res.Promotion)
	}
}

func TestCheckmateTerminal(t *testing.T) {
	eng := New()
	for _, uci := range scholarsMate {
		if _, err := eng.ApplyMove(uci[:2], uci[2:4], ""); err != nil {
			t.Fatalf("%s rejected: %v", uci, err)
		}
	}
	term := eng.Terminal()
	if term == nil {
		t.Fatal("expected terminal state after Qxf7#")
	}
	if term.Result != "white-wins" || term.Reason != "checkmate" {
		t.Fatalf("terminal = %+v, want white-wins/checkmate", term)
	}
}

func TestStalemateTerminal(t *testing.T) {
	eng, err := FromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	term := eng.Terminal()
	if term == nil {
		t.Fatal("expected terminal state")
	}
	if term.Result != "draw" || term.Reason != "stalemate" {
		t.Fatalf("terminal = %+v, want draw/stalemate", term)
	}
}

func TestReplayIdempotence(t *testing.T) {
	ucis := []string{"e2e4", "e7e5", "g1f3", "b8c6"}
	eng := New()
	for _, uci := range ucis {
		if _, err := eng.ApplyMove(uci[:2], uci[2:4], ""); err != nil {
			t.Fatalf("%s rejected: %v", uci, err)
		}
	}
	replayed, err := Replay(ucis)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if eng.FEN() != replayed.FEN() {
		t.Fatalf("replayed FEN %q differs from live FEN %q", replayed.FEN(), eng.FEN())
	}
	if eng.SideToMove() != replayed.SideToMove() {
		t.Fatal("replayed side to move differs")
	}
}

func TestLegalTargets(t *testing.T) {
	eng := New()
	targets := eng.LegalTargets()
	e2 := targets["e2"]
	if len(e2) != 2 {
		t.Fatalf("e2 targets = %v, want [e3 e4]", e2)
	}
	if _, ok := targets["e7"]; ok {
		t.Fatal("black pawn must have no targets on white's turn")
	}
}

func TestInCheckFromRestoredPosition(t *testing.T) {
	// 1.e4 f6 2.Qh5+ restored as a bare FEN: no move history to consult.
	checked, err := FromFEN("rnbqkbnr/ppppp1pp/5p2/7Q/4P3/8/PPPP1PPP/RNB1KBNR b KQkq - 1 2")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if !checked.InCheck() {
		t.Fatal("black to move under Qh5+ must report check")
	}

	quiet, err := FromFEN("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if quiet.InCheck() {
		t.Fatal("quiet restored position must not report check")
	}
}

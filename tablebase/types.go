// Package tablebase evaluates endgame positions against a remote tablebase
// and caches the results.
//
// Positions are identified by FEN. NormalizeFEN validates a position and
// produces the canonical string used as the cache key, so equivalent inputs
// share one cache entry and one in-flight request.
package tablebase

import (
	"context"
)

// MaxPieces is the largest position, kings included, covered by the tablebase.
const MaxPieces = 7

// Category is the game-theoretic outcome from the side to move.
type Category string

const (
	CategoryWin         Category = "win"
	CategoryLoss        Category = "loss"
	CategoryDraw        Category = "draw"
	CategoryCursedWin   Category = "cursed-win"
	CategoryBlessedLoss Category = "blessed-loss"
	CategoryMaybeWin    Category = "maybe-win"
	CategoryMaybeLoss   Category = "maybe-loss"
	CategoryUnknown     Category = "unknown"
	CategorySyzygyWin   Category = "syzygy-win"
	CategorySyzygyLoss  Category = "syzygy-loss"
)

// Evaluation is the tablebase verdict for a position.
type Evaluation struct {
	Category             Category         `json:"category"`
	DTZ                  *int             `json:"dtz"`
	DTM                  *int             `json:"dtm"`
	Checkmate            bool             `json:"checkmate"`
	Stalemate            bool             `json:"stalemate"`
	InsufficientMaterial bool             `json:"insufficient_material"`
	Moves                []MoveEvaluation `json:"moves"`
}

// MoveEvaluation is the verdict after a legal move, from the opponent's side.
type MoveEvaluation struct {
	UCI                  string   `json:"uci"`
	SAN                  string   `json:"san"`
	Category             Category `json:"category"`
	DTZ                  *int     `json:"dtz"`
	DTM                  *int     `json:"dtm"`
	Zeroing              bool     `json:"zeroing"`
	Checkmate            bool     `json:"checkmate"`
	Stalemate            bool     `json:"stalemate"`
	InsufficientMaterial bool     `json:"insufficient_material"`
}

// BestMove returns the first listed move, which the tablebase orders best first.
func (e *Evaluation) BestMove() (MoveEvaluation, bool) {
	if e == nil || len(e.Moves) == 0 {
		return MoveEvaluation{}, false
	}
	return e.Moves[0], true
}

// Fetcher looks up a normalized FEN upstream.
type Fetcher interface {
	Fetch(ctx context.Context, fen string) (*Evaluation, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, fen string) (*Evaluation, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, fen string) (*Evaluation, error) {
	return f(ctx, fen)
}

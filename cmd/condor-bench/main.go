// condor-bench drives the search end to end without a real rules engine or
// weights: a synthetic game with a fixed move menu, the random-weights
// network, and one blocking search. Useful for profiling the DAG machinery
// and sanity-checking throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/condorchess/condor/chess"
	"github.com/condorchess/condor/config"
	"github.com/condorchess/condor/mcts"
	"github.com/condorchess/condor/neural"
	"github.com/condorchess/condor/search"
)

func main() {
	playouts := flag.Int("playouts", 10000, "playout budget")
	threads := flag.Int("threads", runtime.NumCPU(), "search workers")
	branching := flag.Int("branching", 24, "synthetic branching factor")
	gameLen := flag.Int("game-length", 80, "synthetic game length in plies")
	cacheSize := flag.Int("cache-size", 0, "evaluation cache entries (0 sizes from memory)")
	verbose := flag.Bool("verbose", false, "verbose move stats")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	moves := make([]chess.Move, *branching)
	for i := range moves {
		moves[i] = chess.NewMove(uint8(i%64), uint8((i+8)%64), chess.PromoNone)
	}
	parser := &chess.StubParser{Moves: moves, MaxPly: *gameLen}

	cfg := config.New()
	cfg.Set(config.ConfigVerboseStats, *verbose)
	params, err := mcts.NewSearchParams(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bad search params")
	}

	tree := mcts.NewNodeTree(params, parser)
	tree.ResetToPosition("bench", nil)

	cache := neural.NewNNCache(*cacheSize)
	if *cacheSize <= 0 {
		cache = neural.NewNNCacheFromMemory(cfg.GetFloat64(config.ConfigNNCacheMemFraction))
	}
	network := neural.NewRandomNetwork(0x5eed)
	encoder := &neural.PlaneEncoder{Planes: 16}

	s := search.New(tree, network, encoder, cache, params)

	ctx := log.Logger.WithContext(context.Background())
	start := time.Now()
	if err := s.RunBlocking(ctx, *threads, *playouts); err != nil {
		log.Fatal().Err(err).Msg("search failed")
	}
	elapsed := time.Since(start)

	if !tree.CurrentHead().ZeroNInFlight() {
		log.Fatal().Msg("dag not quiescent after search")
	}

	fmt.Printf("playouts: %d  batches: %d  time: %v  nps: %.0f\n",
		s.TotalPlayouts(), s.TotalBatches(), elapsed,
		float64(s.TotalPlayouts())/elapsed.Seconds())
	fmt.Printf("low nodes: %d  cache entries: %d  cache hits: %d  collisions: %d\n",
		tree.AllocatedNodeCount(), cache.Size(), s.CacheHits(), s.Collisions())
	for i, mi := range s.MultiPvMoves() {
		fmt.Printf("%2d. %-7s n=%-8d q=%+.4f d=%.3f m=%.1f p=%.4f\n",
			i+1, mi.Move, mi.N, mi.Q, mi.D, mi.M, mi.P)
	}
	if best, ok := s.BestMove(); ok {
		fmt.Printf("bestmove %s\n", best)
	}
}

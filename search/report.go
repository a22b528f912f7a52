package search

import (
	"encoding/json"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
	"lukechampine.com/frand"

	"github.com/condorchess/condor/chess"
	"github.com/condorchess/condor/stats"
)

// rootValueStats tracks the spread of values backed up during the search;
// verbose output reports the mean with a confidence interval.
type rootValueStats struct {
	mu   sync.Mutex
	stat stats.Statistic
}

func (r *rootValueStats) reset() {
	r.mu.Lock()
	r.stat = stats.Statistic{}
	r.mu.Unlock()
}

func (r *rootValueStats) push(v float64) {
	r.mu.Lock()
	r.stat.Push(v)
	r.mu.Unlock()
}

func (r *rootValueStats) snapshot() stats.Statistic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stat
}

// MoveInfo is one ranked root move.
type MoveInfo struct {
	Move chess.Move `json:"move" yaml:"move"`
	N    uint32     `json:"n" yaml:"n"`
	P    float32    `json:"p" yaml:"p"`
	// Averages from the head's side to move.
	Q  float64 `json:"q" yaml:"q"`
	WL float64 `json:"wl" yaml:"wl"`
	D  float64 `json:"d" yaml:"d"`
	M  float64 `json:"m" yaml:"m"`
}

// RankedMoves returns the head's moves ordered by visits, then Q, with
// win-loss, draw and moves-left estimates.
func (s *Search) RankedMoves() []MoveInfo {
	head := s.tree.CurrentHead()
	if head == nil || head.LowNode() == nil {
		return nil
	}
	drawScore := s.params.DrawScore()
	var infos []MoveInfo
	for it := head.Edges(); it.Next(); {
		infos = append(infos, MoveInfo{
			Move: it.GetMove(),
			N:    it.GetN(),
			P:    it.GetP(),
			Q:    it.GetQ(0, drawScore),
			WL:   it.GetWL(0),
			D:    it.GetD(0),
			M:    it.GetM(0),
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].N != infos[j].N {
			return infos[i].N > infos[j].N
		}
		return infos[i].Q > infos[j].Q
	})
	return infos
}

// MultiPvMoves is the ranked list truncated to the configured multi-pv
// count.
func (s *Search) MultiPvMoves() []MoveInfo {
	ranked := s.RankedMoves()
	n := s.params.MultiPv()
	if n < 1 || n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// currentTemperature applies the cutoff, endgame and decay schedule to the
// base move-selection temperature.
func (s *Search) currentTemperature() float64 {
	p := s.params
	temp := p.Temperature()
	if temp <= 0 {
		return 0
	}
	moveNumber := s.tree.PlyCount() / 2

	if cutoff := p.TemperatureCutoffMove(); cutoff > 0 && moveNumber >= cutoff {
		return p.TemperatureEndgame()
	}
	if decay := p.TempDecayMoves(); decay > 0 {
		delay := p.TempDecayDelayMoves()
		if moveNumber >= delay+decay {
			return 0
		}
		if moveNumber >= delay {
			temp *= float64(delay+decay-moveNumber) / float64(decay)
		}
	}
	return temp
}

// BestMove picks the move to play: by visits when the temperature schedule
// has gone cold, otherwise sampled proportionally to visits raised to 1/T,
// restricted to moves whose win estimate is within the winpct cutoff of the
// best.
func (s *Search) BestMove() (chess.Move, bool) {
	ranked := s.RankedMoves()
	if len(ranked) == 0 {
		return 0, false
	}
	temp := s.currentTemperature()
	if temp <= 0 {
		return ranked[0].Move, true
	}

	bestWL := ranked[0].WL
	cutoff := s.params.TemperatureWinpctCutoff() / 50.0
	offset := s.params.TemperatureVisitOffset()

	weights := make([]float64, len(ranked))
	total := 0.0
	maxN := float64(ranked[0].N)
	for i, mi := range ranked {
		if bestWL-mi.WL > cutoff {
			continue
		}
		n := float64(mi.N) + offset
		if n <= 0 {
			continue
		}
		weights[i] = math.Pow(n/maxN, 1/temp)
		total += weights[i]
	}
	if total <= 0 {
		return ranked[0].Move, true
	}
	pick := frand.Float64() * total
	for i, w := range weights {
		pick -= w
		if pick <= 0 && w > 0 {
			return ranked[i].Move, true
		}
	}
	return ranked[0].Move, true
}

// logVerboseStats writes the per-edge table the way uci engines dump their
// root stats, plus the backed-up value spread.
func (s *Search) logVerboseStats() {
	stat := s.rootStats.snapshot()
	z := stats.ZVal(95)
	log.Info().
		Float64("value-mean", stat.Mean()).
		Float64("value-stdev", stat.Stdev()).
		Float64("value-ci95", z*stat.StandardError()).
		Int("samples", stat.Iterations()).
		Msg("root-value-spread")

	for _, mi := range s.RankedMoves() {
		log.Info().
			Str("move", mi.Move.String()).
			Uint32("n", mi.N).
			Float32("p", mi.P).
			Float64("q", mi.Q).
			Float64("d", mi.D).
			Float64("m", mi.M).
			Msg("verbose-move-stats")
	}
}

// LiveStatsRecord is one line of the live stats stream.
type LiveStatsRecord struct {
	Playouts uint64     `json:"playouts" yaml:"playouts"`
	Batches  uint64     `json:"batches" yaml:"batches"`
	Moves    []MoveInfo `json:"moves" yaml:"moves,flow"`
}

// WriteLiveStats emits one JSON line of current search state to the
// stream.
func (s *Search) WriteLiveStats(w io.Writer) error {
	rec := LiveStatsRecord{
		Playouts: s.totalPlayouts.Load(),
		Batches:  s.totalBatches.Load(),
		Moves:    s.MultiPvMoves(),
	}
	bytes, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	bytes = append(bytes, '\n')
	_, err = w.Write(bytes)
	return err
}

// DumpStats renders the final ranked move list as YAML, for logs and the
// analysis tooling.
func (s *Search) DumpStats() ([]byte, error) {
	moves := lo.Map(s.RankedMoves(), func(mi MoveInfo, _ int) map[string]any {
		return map[string]any{
			"move": mi.Move.String(),
			"n":    mi.N,
			"q":    mi.Q,
			"d":    mi.D,
			"m":    mi.M,
			"p":    mi.P,
		}
	})
	return yaml.Marshal(map[string]any{
		"playouts": s.totalPlayouts.Load(),
		"queries":  s.totalQueries.Load(),
		"moves":    moves,
	})
}

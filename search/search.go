// Package search runs batched PUCT rollouts over the mcts DAG: a pool of
// workers descends with virtual loss, collects leaves into one evaluator
// call through the caching computation, and converts virtual losses into
// completed visits on the way back up.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/condorchess/condor/chess"
	"github.com/condorchess/condor/mcts"
	"github.com/condorchess/condor/neural"
)

var ErrNoLegalMoves = errors.New("no legal moves at the search head")

// Search owns one search over a NodeTree with a frozen params snapshot.
type Search struct {
	params  *mcts.SearchParams
	tree    *mcts.NodeTree
	network neural.Network
	encoder neural.Encoder
	cache   *neural.NNCache
	tb      chess.TablebaseProber

	totalPlayouts atomic.Uint64
	totalQueries  atomic.Uint64
	totalBatches  atomic.Uint64
	cacheHits     atomic.Uint64
	collisions    atomic.Uint64

	rootStats rootValueStats

	// Bounds how many workers gather simultaneously.
	searcherSlots chan struct{}
	rootOnce      sync.Once
	// Two paths can reach the same unevaluated shell in different batches;
	// only one result may fill it.
	evalMu  sync.Mutex
	started time.Time

	stop atomic.Bool
}

// Option configures optional collaborators.
type Option func(*Search)

// WithTablebase plugs in an endgame prober.
func WithTablebase(tb chess.TablebaseProber) Option {
	return func(s *Search) { s.tb = tb }
}

func New(tree *mcts.NodeTree, network neural.Network, encoder neural.Encoder,
	cache *neural.NNCache, params *mcts.SearchParams, opts ...Option) *Search {
	s := &Search{
		params:  params,
		tree:    tree,
		network: network,
		encoder: encoder,
		cache:   cache,
	}
	slots := params.MaxConcurrentSearchers()
	if slots < 1 {
		slots = 1
	}
	s.searcherSlots = make(chan struct{}, slots)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Search) TotalPlayouts() uint64 { return s.totalPlayouts.Load() }
func (s *Search) TotalQueries() uint64  { return s.totalQueries.Load() }
func (s *Search) TotalBatches() uint64  { return s.totalBatches.Load() }
func (s *Search) CacheHits() uint64     { return s.cacheHits.Load() }
func (s *Search) Collisions() uint64    { return s.collisions.Load() }

// visitKind says how a picked path is settled after the batch.
type visitKind uint8

const (
	visitPending   visitKind = iota // waits for the network result
	visitReady                      // value known before the batch ran
	visitCollision                  // virtual loss only; cancelled at batch end
)

// visit is one picked descent.
type visit struct {
	kind       visitKind
	path       []*mcts.Node
	multivisit uint32
	batchIdx   int

	// Leaf values for ready visits, from the leaf position's side to move.
	v, d, m, vs float64
	e           float32
	leafLnDone  bool
}

// RunBlocking searches until the playout budget is spent or the context is
// cancelled. When it returns, the DAG is quiescent: every claimed virtual
// loss has been converted or returned.
func (s *Search) RunBlocking(ctx context.Context, threads, maxPlayouts int) error {
	logger := zerolog.Ctx(ctx)
	if threads < 1 {
		threads = max(1, runtime.NumCPU())
	}
	head := s.tree.CurrentHead()
	if head == nil {
		return errors.New("search: tree has no head")
	}
	board := s.tree.HeadPosition().Board()
	if board.Outcome() == chess.Ongoing && len(board.GenerateLegalMoves()) == 0 {
		return ErrNoLegalMoves
	}

	s.stop.Store(false)
	s.totalPlayouts.Store(0)
	s.totalQueries.Store(0)
	s.rootStats.reset()
	s.started = time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for t := 0; t < threads; t++ {
		g.Go(func() error {
			return s.workerLoop(gctx, maxPlayouts)
		})
	}
	err := g.Wait()

	elapsed := time.Since(s.started)
	playouts := s.totalPlayouts.Load()
	logger.Info().
		Uint64("playouts", playouts).
		Uint64("queries", s.totalQueries.Load()).
		Uint64("batches", s.totalBatches.Load()).
		Uint64("cache-hits", s.cacheHits.Load()).
		Uint64("collisions", s.collisions.Load()).
		Float64("nps", float64(playouts)/elapsed.Seconds()).
		Msg("search-ended")

	if s.params.VerboseStats() {
		s.logVerboseStats()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Stop requests a cooperative stop; workers notice at batch boundaries.
func (s *Search) Stop() { s.stop.Store(true) }

func (s *Search) workerLoop(ctx context.Context, maxPlayouts int) error {
	idleSpins := 0
	for {
		if s.stop.Load() || ctx.Err() != nil {
			return ctx.Err()
		}
		if maxPlayouts > 0 && s.totalPlayouts.Load() >= uint64(maxPlayouts) {
			s.stop.Store(true)
			return nil
		}

		gathered, err := s.runBatch(ctx, maxPlayouts)
		if err != nil {
			s.stop.Store(true)
			return err
		}
		if gathered == 0 {
			// Nothing pickable right now; other workers hold the leaves.
			idleSpins++
			s.backoff(idleSpins)
			continue
		}
		idleSpins = 0
		s.paceNps()
	}
}

// backoff parks an idle worker briefly. With spin backoff enabled the wait
// grows with consecutive idle rounds, bounded well under a batch time.
func (s *Search) backoff(spins int) {
	if !s.params.SearchSpinBackoff() {
		runtime.Gosched()
		return
	}
	time.Sleep(time.Microsecond << min(spins, 10))
}

// paceNps sleeps workers so completed playouts stay under the configured
// rate.
func (s *Search) paceNps() {
	limit := s.params.NpsLimit()
	if limit <= 0 {
		return
	}
	expected := time.Duration(float64(s.totalPlayouts.Load()) / limit * float64(time.Second))
	if e := time.Since(s.started); e < expected {
		time.Sleep(expected - e)
	}
}

// runBatch gathers one minibatch, runs the evaluator, and settles every
// picked visit. Returns the number of playouts it completed.
func (s *Search) runBatch(ctx context.Context, maxPlayouts int) (int, error) {
	collector := neural.NewCachingComputation(
		s.network.NewComputation(), s.encoder, s.params.HistoryFill(), s.cache)
	collector.Reserve(s.params.MiniBatchSize())

	s.searcherSlots <- struct{}{}
	visits, completed := s.gatherMinibatch(collector, maxPlayouts)
	<-s.searcherSlots

	if len(visits) == 0 {
		return completed, nil
	}

	if ctx.Err() != nil || s.stop.Load() {
		// Cancellation path: return every claimed virtual loss.
		for i := range visits {
			s.cancelVisit(&visits[i])
		}
		collector.Release()
		return completed, ctx.Err()
	}

	if err := collector.ComputeBlocking(s.params.PolicySoftmaxTemp()); err != nil {
		for i := range visits {
			s.cancelVisit(&visits[i])
		}
		collector.Release()
		return completed, fmt.Errorf("network evaluation failed: %w", err)
	}
	s.totalBatches.Add(1)

	for i := range visits {
		vis := &visits[i]
		switch vis.kind {
		case visitCollision:
			s.cancelVisit(vis)
		case visitReady:
			s.backupVisit(vis)
			completed += int(vis.multivisit)
			s.totalPlayouts.Add(uint64(vis.multivisit))
		case visitPending:
			s.settlePending(vis, collector)
			completed += int(vis.multivisit)
			s.totalPlayouts.Add(uint64(vis.multivisit))
		}
	}
	collector.Release()
	return completed, nil
}

// gatherMinibatch picks descents until the batch is full, the collision
// budget is spent, or the playout budget would be exceeded. Ready visits
// within the out-of-order budget are landed immediately so later picks in
// the same batch see their results; the count of those is the second
// result.
func (s *Search) gatherMinibatch(collector *neural.CachingComputation,
	maxPlayouts int) ([]visit, int) {

	var visits []visit
	completed := 0
	pendingVisits := uint64(0)
	collisionEvents := 0
	oooBudget := s.params.MaxOutOfOrderEvals()
	if !s.params.OutOfOrderEval() {
		oooBudget = 0
	}
	batchBudget := s.params.MiniBatchSize()

	for queries := 0; queries < batchBudget; {
		if maxPlayouts > 0 &&
			s.totalPlayouts.Load()+pendingVisits >= uint64(maxPlayouts) {
			break
		}

		vis, ok := s.pickVisit(collector)
		if !ok {
			break
		}
		switch vis.kind {
		case visitCollision:
			s.collisions.Add(1)
			collisionEvents++
			visits = append(visits, vis)
			if collisionEvents >= s.params.MaxCollisionEvents() {
				return visits, completed
			}
		case visitReady:
			if oooBudget > 0 {
				oooBudget--
				s.backupVisit(&vis)
				s.totalPlayouts.Add(uint64(vis.multivisit))
				completed += int(vis.multivisit)
			} else {
				visits = append(visits, vis)
				pendingVisits += uint64(vis.multivisit)
				queries++
			}
		case visitPending:
			visits = append(visits, vis)
			pendingVisits += uint64(vis.multivisit)
			queries++
		}
	}
	return visits, completed
}

// pickVisit descends from the head with virtual loss and classifies the
// leaf it lands on. ok is false when the head itself cannot be claimed.
func (s *Search) pickVisit(collector *neural.CachingComputation) (visit, bool) {
	head := s.tree.CurrentHead()
	history := s.tree.PositionHistory().Copy()

	if !head.TryStartScoreUpdate() {
		return visit{}, false
	}
	path := []*mcts.Node{head}

	for {
		node := path[len(path)-1]
		atRoot := len(path) == 1

		if node.IsTerminal() {
			return s.terminalRevisit(path), true
		}
		ln := node.LowNode()
		if ln == nil || !ln.IsEvaluated() {
			return s.expandLeaf(path, &history, collector), true
		}
		if ln.IsTerminal() {
			// The shared position was decided through another path.
			node.MakeTerminal(ln.GetBounds().Upper.Flip(), lowNodeAvgM(ln),
				ln.TerminalType())
			return s.terminalRevisit(path), true
		}
		if !ln.HasChildren() {
			// Evaluated, but the position has no continuations; treat
			// like a terminal revisit of whatever the leaf holds.
			return s.terminalRevisit(path), true
		}

		if atRoot {
			s.rootOnce.Do(func() { s.prepareRoot(node) })
		}

		it := s.selectChild(node, atRoot)
		if it == nil {
			s.cancelPath(path, 1)
			return visit{}, false
		}
		child := it.GetOrSpawnNode()
		if !child.TryStartScoreUpdate() {
			// Another worker is expanding this leaf right now: a
			// collision. Convert the descent into a fattened virtual
			// loss that is returned at the end of the batch.
			k := s.allowedCollisionVisits()
			child.IncrementNInFlight(k)
			for _, n := range path {
				n.IncrementNInFlight(k - 1)
			}
			path = append(path, child)
			return visit{kind: visitCollision, path: path, multivisit: k}, true
		}
		history.Append(child.Move())
		path = append(path, child)
	}
}

// allowedCollisionVisits scales the per-event collision multivisit with the
// size of the search: early search stays diverse, late search wastes fewer
// descents on re-picking the same leaf.
func (s *Search) allowedCollisionVisits() uint32 {
	p := s.params
	limit := p.MaxCollisionVisits()
	start := uint64(p.MaxCollisionVisitsScalingStart())
	end := uint64(p.MaxCollisionVisitsScalingEnd())
	total := s.totalPlayouts.Load()
	if limit < 1 {
		limit = 1
	}
	if total <= start || end <= start {
		return 1
	}
	if total >= end {
		return uint32(limit)
	}
	frac := float64(total-start) / float64(end-start)
	k := int(math.Pow(frac, p.MaxCollisionVisitsScalingPower()) * float64(limit))
	if k < 1 {
		k = 1
	}
	if k > limit {
		k = limit
	}
	return uint32(k)
}

// terminalRevisit amplifies a landing on a decided leaf into a multivisit
// of its stored result; no network query happens.
func (s *Search) terminalRevisit(path []*mcts.Node) visit {
	node := path[len(path)-1]
	k := s.allowedCollisionVisits()
	if k > 1 {
		node.IncrementNInFlight(k - 1)
		for _, n := range path[:len(path)-1] {
			n.IncrementNInFlight(k - 1)
		}
	}

	// Node sums are mover-perspective; convert back to the leaf position's
	// side to move for the shared backup path. A terminal node that has not
	// finalized its first visit yet reads its result off the bounds.
	var v, d, m, vs float64
	if n := float64(node.N()); n > 0 {
		v = -node.WL() / n
		d = node.D() / n
		m = float64(node.M()) / n
		vs = node.VS() / n
	} else {
		r := float64(node.GetBounds().Upper)
		v = -r
		vs = r * r
		if node.GetBounds().Upper == chess.Draw {
			d = 1
		}
	}
	return visit{
		kind:       visitReady,
		path:       path,
		multivisit: k,
		v:          v,
		d:          d,
		m:          m,
		vs:         vs,
		leafLnDone: node.IsRepetition() || node.LowNode() == nil ||
			!node.LowNode().IsEvaluated(),
	}
}

// expandLeaf binds the leaf to its shared low node and classifies it:
// transposition hit (value known), game end, tablebase hit, or a real
// network query.
func (s *Search) expandLeaf(path []*mcts.Node, history *chess.PositionHistory,
	collector *neural.CachingComputation) visit {

	node := path[len(path)-1]
	hash := s.tree.GetHistoryHash(history, s.r50ForHash(history))

	if node.LowNode() == nil {
		ln, _ := s.tree.TTGetOrCreate(hash)
		node.SetLowNode(ln)
	}
	ln := node.LowNode()

	if ln.IsEvaluated() {
		// Reached an already-known position through a new path.
		return s.knownLeaf(path, ln)
	}

	pos := history.Last()
	board := pos.Board()

	if pos.Repetitions() >= 2 {
		// Path-dependent draw: the verdict stays on the node, never on
		// the shared low node.
		node.MakeTerminal(chess.Draw, 0, mcts.EndOfGame)
		node.SetRepetition()
		return visit{kind: visitReady, path: path, multivisit: 1,
			v: 0, d: 1, m: 0, vs: 0, leafLnDone: true}
	}

	switch board.Outcome() {
	case chess.Checkmate:
		// The side to move at the leaf is mated.
		ln.MakeTerminal(chess.Loss, 0, mcts.EndOfGame)
		node.MakeTerminal(chess.Win, 0, mcts.EndOfGame)
		return visit{kind: visitReady, path: path, multivisit: 1,
			v: -1, d: 0, m: 0, vs: 1}
	case chess.Stalemate, chess.DrawByRule:
		ln.MakeTerminal(chess.Draw, 0, mcts.EndOfGame)
		node.MakeTerminal(chess.Draw, 0, mcts.EndOfGame)
		return visit{kind: visitReady, path: path, multivisit: 1,
			v: 0, d: 1, m: 0, vs: 0}
	}

	if s.tb != nil && len(path) > 1 {
		if result, plies, ok := s.tb.Probe(pos); ok {
			ln.MakeTerminal(result, plies, mcts.Tablebase)
			node.MakeTerminal(result.Flip(), plies, mcts.Tablebase)
			d := 0.0
			if result == chess.Draw {
				d = 1
			}
			return visit{kind: visitReady, path: path, multivisit: 1,
				v: float64(result), d: d, m: float64(plies),
				vs: float64(result) * float64(result)}
		}
	}

	batchIdx := collector.BatchSize()
	wasHit := collector.AddInputByHash(hash)
	if wasHit {
		s.cacheHits.Add(1)
	} else {
		collector.AddInput(hash, history)
	}
	s.totalQueries.Add(1)
	return visit{kind: visitPending, path: path, multivisit: 1, batchIdx: batchIdx}
}

// knownLeaf backs up the stored evaluation of a transposition hit.
func (s *Search) knownLeaf(path []*mcts.Node, ln *mcts.LowNode) visit {
	if ln.IsTerminal() {
		node := path[len(path)-1]
		result := ln.GetBounds().Upper
		node.MakeTerminal(result.Flip(), lowNodeAvgM(ln), ln.TerminalType())
	}
	n := float64(ln.N())
	if n == 0 {
		n = 1
	}
	return visit{
		kind:       visitReady,
		path:       path,
		multivisit: 1,
		v:          ln.WL() / n,
		d:          ln.D() / n,
		m:          float64(ln.M()) / n,
		vs:         ln.VS() / n,
		e:          ln.E(),
	}
}

func lowNodeAvgM(ln *mcts.LowNode) float32 {
	if ln.N() == 0 {
		return ln.M()
	}
	return ln.M() / float32(ln.N())
}

func (s *Search) r50ForHash(history *chess.PositionHistory) int {
	if s.params.MoveRuleBucketing() {
		return history.Last().Board().Rule50Ply()
	}
	return -1
}

// settlePending fills the leaf's low node from the batch result and backs
// the value up.
func (s *Search) settlePending(vis *visit, collector *neural.CachingComputation) {
	node := vis.path[len(vis.path)-1]
	ln := node.LowNode()
	eval := collector.NNEval(vis.batchIdx)

	s.evalMu.Lock()
	if !ln.IsEvaluated() {
		if s.params.ContemptMode() != mcts.ContemptNone {
			leafBlack := s.tree.IsBlackToMove() != ((len(vis.path)-1)%2 == 1)
			ev := *eval
			q, d := s.applyWDLRescale(float64(ev.Q), float64(ev.D), leafBlack)
			ev.Q = float32(q)
			ev.D = float32(d)
			ln.SetNNEval(&ev)
		} else {
			ln.SetNNEval(eval)
		}
		// The eval itself seeded the low node's first visit.
		vis.leafLnDone = true
	}
	s.evalMu.Unlock()
	n := float64(ln.N())
	if n == 0 {
		n = 1
	}
	vis.v = ln.WL() / n
	vis.d = ln.D() / n
	vis.m = float64(ln.M()) / n
	vis.vs = ln.VS() / n
	vis.e = ln.E()
	s.backupVisit(vis)
}

// backupVisit walks the path from the leaf to the head, flipping the value
// each ply and finalizing both members of each (low node, node) pair. The
// value arrives in the leaf position's side-to-move perspective.
func (s *Search) backupVisit(vis *visit) {
	v, d, m, vs := vis.v, vis.d, vis.m, vis.vs
	k := vis.multivisit
	w := s.visitWeight(v, vis.e) * float64(k)

	s.rootStats.push(v)

	path := vis.path
	for i := len(path) - 1; i >= 0; i-- {
		node := path[i]
		if ln := node.LowNode(); ln != nil {
			if i != len(path)-1 || !vis.leafLnDone {
				ln.FinalizeScoreUpdate(v, d, m, vs, k, w)
			}
		}
		node.FinalizeScoreUpdate(-v, d, m, vs, k, w)
		v = -v
		m++

		if s.params.StickyEndgames() && i > 0 && node.IsTerminal() {
			s.maybeTerminalizeParent(path[i-1])
		}
	}
}

// maybeTerminalizeParent converts a parent whose continuations are decided.
// A winning child decides the parent immediately; otherwise every edge must
// be expanded and terminal, and the parent takes the best of them.
func (s *Search) maybeTerminalizeParent(parent *mcts.Node) {
	ln := parent.LowNode()
	if ln == nil || ln.IsTerminal() {
		return
	}
	best := chess.Loss
	bestPlies := float32(0)
	typ := mcts.EndOfGame
	terminalCount := 0
	for it := mcts.NewEdgeIterator(ln); it.Next(); {
		child := it.Node()
		if child == nil || !child.IsTerminal() {
			continue
		}
		terminalCount++
		childPlies := float32(0)
		if child.N() > 0 {
			childPlies = child.M() / float32(child.N())
		}
		// Child results are stored in the parent's perspective already.
		r := child.GetBounds().Upper
		if terminalCount == 1 || r > best {
			best = r
			bestPlies = childPlies
			if child.IsTbTerminal() {
				typ = mcts.Tablebase
			}
		}
		if r == chess.Win {
			// One winning reply settles it.
			ln.MakeTerminal(chess.Win, childPlies+1, typ)
			return
		}
	}
	if terminalCount == ln.NumEdges() && terminalCount > 0 {
		ln.MakeTerminal(best, bestPlies+1, typ)
	}
}

func (s *Search) cancelVisit(vis *visit) {
	s.cancelPath(vis.path, vis.multivisit)
}

func (s *Search) cancelPath(path []*mcts.Node, k uint32) {
	for _, n := range path {
		n.CancelScoreUpdate(k)
	}
}

// prepareRoot runs once per search, on the first descent through an
// evaluated head: when noise or boosting is configured, the root's low node
// is cloned out of the transposition table so the perturbed priors stay
// private to this search.
func (s *Search) prepareRoot(head *mcts.Node) {
	p := s.params
	if p.NoiseEpsilon() <= 0 && !p.UsePolicyBoosting() {
		return
	}
	ln := head.LowNode()
	if !ln.IsTT() {
		// Already private (and already perturbed).
		return
	}
	clone := s.tree.NonTTAddClone(ln)
	head.UnsetLowNode()
	head.SetLowNode(clone)
	s.applyRootNoise(clone)
	log.Debug().Msg("root low node cloned for noise")
}

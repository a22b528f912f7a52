package search

import (
	"math"

	"gonum.org/v1/gonum/stat/distmv"

	"github.com/condorchess/condor/chess"
	"github.com/condorchess/condor/mcts"
)

// cpuctNumerator computes cpuct_eff * pow(parentVisits, exponent); with the
// default exponent of 0.5 this is the familiar cpuct * sqrt(N) PUCT
// numerator. cpuct grows with log((N + base) / base) as the subtree fills
// in.
func (s *Search) cpuctNumerator(parent *mcts.Node, atRoot bool) float64 {
	p := s.params
	n := float64(parent.NStarted())
	cpuct := p.Cpuct(atRoot)
	if factor := p.CpuctFactor(atRoot); factor != 0 {
		cpuct += factor * math.Log((n+p.CpuctBase(atRoot))/p.CpuctBase(atRoot))
	}
	if p.UseCpuctUncertainty() && !p.JustFpuUncertainty() {
		cpuct *= s.uncertaintyFactor(parent)
	}
	if p.UseDesperation() {
		// A lost-looking parent explores harder, hunting for swindles.
		if q := parentQ(parent, p.DrawScore()); q < p.DesperationLow() {
			cpuct *= p.DesperationMultiplier()
		}
	}
	if n < 1 {
		n = 1
	}
	return cpuct * math.Pow(n, p.CpuctExponent(atRoot))
}

// uncertaintyFactor maps the parent's observed value variance into a
// multiplicative cpuct adjustment between the configured min and max
// factors.
func (s *Search) uncertaintyFactor(parent *mcts.Node) float64 {
	p := s.params
	ln := parent.LowNode()
	if ln == nil || ln.N() == 0 {
		return p.CpuctUncertaintyMinFactor()
	}
	n := float64(ln.N())
	mean := ln.WL() / n
	variance := ln.VS()/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	uncert := math.Sqrt(variance)
	minU, maxU := p.CpuctUncertaintyMinUncertainty(), p.CpuctUncertaintyMaxUncertainty()
	if uncert <= minU {
		return p.CpuctUncertaintyMinFactor()
	}
	if uncert >= maxU {
		return p.CpuctUncertaintyMaxFactor()
	}
	frac := (uncert - minU) / (maxU - minU)
	return p.CpuctUncertaintyMinFactor() +
		frac*(p.CpuctUncertaintyMaxFactor()-p.CpuctUncertaintyMinFactor())
}

func parentQ(parent *mcts.Node, drawScore float64) float64 {
	ln := parent.LowNode()
	if ln == nil || ln.N() == 0 {
		return 0
	}
	return (ln.WL() + drawScore*ln.D()) / float64(ln.N())
}

// fpu is the Q assumed for edges with no completed visits. Reduction mode
// starts from the parent's own evaluation and subtracts in proportion to
// how much policy mass has already been explored.
func (s *Search) fpu(parent *mcts.Node, atRoot bool) float64 {
	p := s.params
	value := p.FpuValue(atRoot)
	if p.UseCpuctUncertainty() && p.JustFpuUncertainty() {
		value *= s.uncertaintyFactor(parent)
	}
	if p.FpuStrategy(atRoot) == mcts.FPUAbsolute {
		return value
	}
	visited := math.Sqrt(float64(parent.VisitedPolicy()))
	return parentQ(parent, p.DrawScore()) - value*visited
}

// selectChild runs the PUCT rule over the parent's edges and returns an
// iterator positioned at the argmax, ready to spawn the node.
func (s *Search) selectChild(parent *mcts.Node, atRoot bool) *mcts.EdgeIterator {
	p := s.params
	numerator := s.cpuctNumerator(parent, atRoot)
	fpu := s.fpu(parent, atRoot)
	drawScore := p.DrawScore()

	// A desperate parent waters its priors down toward uniform, widening
	// the swindle hunt.
	priorMix := 0.0
	if p.UseDesperation() && parentQ(parent, drawScore) < p.DesperationLow() {
		priorMix = p.DesperationPriorWeight()
	}
	uniform := 0.0
	if n := parent.NumEdges(); n > 0 {
		uniform = 1 / float64(n)
	}

	best := -1
	bestScore := math.Inf(-1)
	bestIsLoss := false
	var bestIt mcts.EdgeIterator

	for it := parent.Edges(); it.Next(); {
		// A proven loss is only picked when nothing else is left.
		isLoss := it.IsTerminal() && it.GetBounds().Upper == chess.Loss
		if isLoss && best >= 0 {
			continue
		}
		prior := float64(it.GetP())
		if priorMix > 0 {
			prior = (1-priorMix)*prior + priorMix*uniform
		}
		u := numerator * prior / float64(1+it.GetNStarted())
		score := it.GetQ(fpu, drawScore) + u
		if score > bestScore || bestIsLoss {
			bestScore = score
			best = it.Index()
			bestIt = *it
			bestIsLoss = isLoss
		}
	}
	if best < 0 {
		return nil
	}
	return &bestIt
}

// applyRootNoise perturbs the root low node's priors with Dirichlet noise
// and the configured top-policy boosts. The caller has already made sure
// the low node is an unshared clone.
func (s *Search) applyRootNoise(ln *mcts.LowNode) {
	p := s.params
	edges := ln.Edges()
	if len(edges) == 0 {
		return
	}

	if p.UsePolicyBoosting() {
		boostTop(edges, p.TopPolicyNumBoost(), p.TopPolicyBoost())
		boostTier(edges, p.TopPolicyNumBoost(), p.TopPolicyTierTwoNumBoost(),
			p.TopPolicyTierTwoBoost())
		normalize(edges)
	}

	if eps := p.NoiseEpsilon(); eps > 0 {
		alpha := make([]float64, len(edges))
		for i := range alpha {
			alpha[i] = p.NoiseAlpha()
		}
		dist := distmv.NewDirichlet(alpha, nil)
		noise := dist.Rand(nil)
		for i := range edges {
			mixed := (1-eps)*float64(edges[i].P()) + eps*noise[i]
			edges[i].SetP(float32(mixed))
		}
	}

	// Re-establish the sort; legal because the clone has no children yet.
	ln.SortEdges()
}

func boostTop(edges []mcts.Edge, num int, boost float64) {
	for i := 0; i < num && i < len(edges); i++ {
		p := float64(edges[i].P()) * (1 + boost)
		if p > 1 {
			p = 1
		}
		edges[i].SetP(float32(p))
	}
}

func boostTier(edges []mcts.Edge, skip, num int, boost float64) {
	for i := skip; i < skip+num && i < len(edges); i++ {
		p := float64(edges[i].P()) * (1 + boost)
		if p > 1 {
			p = 1
		}
		edges[i].SetP(float32(p))
	}
}

func normalize(edges []mcts.Edge) {
	total := 0.0
	for i := range edges {
		total += float64(edges[i].P())
	}
	if total <= 0 {
		return
	}
	for i := range edges {
		edges[i].SetP(float32(float64(edges[i].P()) / total))
	}
}

// applyWDLRescale adjusts a raw (q, d) pair for contempt by refitting the
// implied win/loss logistics: the spread is scaled by the rescale ratio
// (capped at max-s) and the mean shifted by the rescale diff, signed by
// whose side the contempt favors.
func (s *Search) applyWDLRescale(q, d float64, blackToMove bool) (float64, float64) {
	p := s.params
	if p.ContemptMode() == mcts.ContemptNone {
		return q, d
	}
	if p.WDLRescaleRatio() == 1 && p.WDLRescaleDiff() == 0 {
		return q, d
	}
	sign := 1.0
	switch p.ContemptMode() {
	case mcts.ContemptWhite:
		if blackToMove {
			sign = -1
		}
	case mcts.ContemptBlack:
		if !blackToMove {
			sign = -1
		}
	}

	const eps = 1e-6
	w := (1 + q - d) / 2
	l := (1 - q - d) / 2
	if w <= eps || l <= eps || w >= 1-eps || l >= 1-eps {
		return q, d
	}
	a := math.Log(1/l - 1)
	b := math.Log(1/w - 1)
	spread := 2 / (a + b)
	maxS := p.WDLMaxS()
	if spread > maxS {
		spread = maxS
	}
	mu := (a - b) / (a + b)
	muNew := mu + sign*spread*spread*p.WDLRescaleDiff()
	sNew := spread * p.WDLRescaleRatio()
	if sNew > maxS {
		sNew = maxS
	}
	wNew := logistic((-1 + muNew) / sNew)
	lNew := logistic((-1 - muNew) / sNew)
	qNew := wNew - lNew
	dNew := 1 - wNew - lNew
	if dNew < 0 {
		dNew = 0
	}
	// Objectivity blends back toward the unrescaled eval.
	if obj := p.WDLEvalObjectivity(); obj > 0 {
		qNew = obj*q + (1-obj)*qNew
		dNew = obj*d + (1-obj)*dNew
	}
	return qNew, dNew
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// visitWeight is the backed-up weight of one visit. Uncertainty weighting
// shrinks the weight of evals far from their parent's expectation.
func (s *Search) visitWeight(v float64, e float32) float64 {
	p := s.params
	if !p.UseUncertaintyWeighting() {
		return 1
	}
	u := float64(e)
	if u <= 0 {
		return 1
	}
	w := p.UncertaintyWeightingCoefficient() *
		math.Pow(u, p.UncertaintyWeightingExponent())
	if w > p.UncertaintyWeightingCap() {
		w = p.UncertaintyWeightingCap()
	}
	if w < 0 {
		w = 0
	}
	if decay := p.EasyEvalWeightDecay(); decay > 0 {
		w *= math.Exp(-decay * math.Abs(v))
	}
	if w > 1 {
		w = 1
	}
	return w
}

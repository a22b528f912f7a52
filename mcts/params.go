package mcts

import (
	"fmt"

	"github.com/condorchess/condor/config"
)

// ContemptMode selects whose side the WDL rescaling favors.
type ContemptMode uint8

const (
	ContemptPlay ContemptMode = iota
	ContemptWhite
	ContemptBlack
	ContemptNone
)

// FPUStrategy selects how unvisited edges get their first-play urgency.
type FPUStrategy uint8

const (
	// FPUReduction subtracts value * sqrt(visited policy) from the parent Q.
	FPUReduction FPUStrategy = iota
	// FPUAbsolute uses the value as-is.
	FPUAbsolute
)

// HistoryFill selects how missing history planes are synthesized when a
// position is encoded for the network.
type HistoryFill uint8

const (
	HistoryFillNo HistoryFill = iota
	HistoryFillFenOnly
	HistoryFillAlways
)

// SearchParams is an immutable snapshot of every tunable the concurrent
// workers consult. It is built once per search from the options in a
// config.Config; the search never reaches back into the options while
// running.
type SearchParams struct {
	miniBatchSize int

	cpuct           float64
	cpuctAtRoot     float64
	cpuctBase       float64
	cpuctBaseAtRoot float64
	cpuctFactor     float64
	cpuctFactorAtRoot float64
	cpuctExponent   float64
	cpuctExponentAtRoot float64

	fpuStrategy       FPUStrategy
	fpuValue          float64
	fpuStrategyAtRoot FPUStrategy
	fpuValueAtRoot    float64

	cpuctUncertaintyMinFactor      float64
	cpuctUncertaintyMaxFactor      float64
	cpuctUncertaintyMinUncertainty float64
	cpuctUncertaintyMaxUncertainty float64
	useCpuctUncertainty            bool
	justFpuUncertainty             bool

	uncertaintyWeightingCap         float64
	uncertaintyWeightingCoefficient float64
	uncertaintyWeightingExponent    float64
	useUncertaintyWeighting         bool
	easyEvalWeightDecay             float64

	noiseEpsilon float64
	noiseAlpha   float64

	policySoftmaxTemp float64

	topPolicyBoost           float64
	topPolicyNumBoost        int
	topPolicyTierTwoBoost    float64
	topPolicyTierTwoNumBoost int
	usePolicyBoosting        bool

	temperature             float64
	temperatureVisitOffset  float64
	tempDecayMoves          int
	tempDecayDelayMoves     int
	temperatureCutoffMove   int
	temperatureEndgame      float64
	temperatureWinpctCutoff float64

	maxCollisionEvents             int
	maxCollisionVisits             int
	maxCollisionVisitsScalingStart int
	maxCollisionVisitsScalingEnd   int
	maxCollisionVisitsScalingPower float64

	outOfOrderEval     bool
	maxOutOfOrderEvals int
	stickyEndgames     bool
	syzygyFastPlay     bool
	cacheHistoryLength int
	moveRuleBucketing  bool
	useVarianceScaling bool
	searchSpinBackoff  bool

	taskWorkersPerSearchWorker         int
	minimumWorkSizeForProcessing       int
	minimumWorkSizeForPicking          int
	minimumRemainingWorkSizeForPicking int
	minimumWorkPerTaskForProcessing    int
	idlingMinimumWork                  int
	threadIdlingThreshold              int
	maxConcurrentSearchers             int

	contemptMode       ContemptMode
	contempt           float64
	wdlRescaleRatio    float64
	wdlRescaleDiff     float64
	wdlMaxS            float64
	wdlEvalObjectivity float64

	useCorrectionHistory    bool
	correctionHistoryAlpha  float64
	correctionHistoryLambda float64

	desperationMultiplier  float64
	desperationLow         float64
	desperationHigh        float64
	desperationPriorWeight float64
	useDesperation         bool

	scoreType     string
	multiPv       int
	perPvCounters bool
	verboseStats  bool
	logLiveStats  bool
	reportedNodes string
	drawScore     float64
	npsLimit      float64

	historyFill HistoryFill
}

func parseFpuStrategy(s string) (FPUStrategy, error) {
	switch s {
	case "reduction":
		return FPUReduction, nil
	case "absolute":
		return FPUAbsolute, nil
	}
	return 0, fmt.Errorf("unknown fpu strategy %q", s)
}

func parseContemptMode(s string) (ContemptMode, error) {
	switch s {
	case "play":
		return ContemptPlay, nil
	case "white_side_analysis":
		return ContemptWhite, nil
	case "black_side_analysis":
		return ContemptBlack, nil
	case "disable":
		return ContemptNone, nil
	}
	return 0, fmt.Errorf("unknown contempt mode %q", s)
}

func parseHistoryFill(s string) (HistoryFill, error) {
	switch s {
	case "no":
		return HistoryFillNo, nil
	case "fen-only":
		return HistoryFillFenOnly, nil
	case "always":
		return HistoryFillAlways, nil
	}
	return 0, fmt.Errorf("unknown history fill %q", s)
}

// NewSearchParams freezes the option values. Enum parse failures are
// returned as errors; the harness treats them as fatal before the search
// starts.
func NewSearchParams(cfg *config.Config) (*SearchParams, error) {
	p := &SearchParams{
		miniBatchSize: cfg.GetInt(config.ConfigMiniBatchSize),

		cpuct:               cfg.GetFloat64(config.ConfigCpuct),
		cpuctBase:           cfg.GetFloat64(config.ConfigCpuctBase),
		cpuctFactor:         cfg.GetFloat64(config.ConfigCpuctFactor),
		cpuctExponent:       cfg.GetFloat64(config.ConfigCpuctExponent),
		cpuctAtRoot:         cfg.GetFloat64(config.ConfigCpuct),
		cpuctBaseAtRoot:     cfg.GetFloat64(config.ConfigCpuctBase),
		cpuctFactorAtRoot:   cfg.GetFloat64(config.ConfigCpuctFactor),
		cpuctExponentAtRoot: cfg.GetFloat64(config.ConfigCpuctExponent),

		fpuValue:       cfg.GetFloat64(config.ConfigFpuValue),
		fpuValueAtRoot: cfg.GetFloat64(config.ConfigFpuValueAtRoot),

		cpuctUncertaintyMinFactor:      cfg.GetFloat64(config.ConfigCpuctUncertaintyMinFactor),
		cpuctUncertaintyMaxFactor:      cfg.GetFloat64(config.ConfigCpuctUncertaintyMaxFactor),
		cpuctUncertaintyMinUncertainty: cfg.GetFloat64(config.ConfigCpuctUncertaintyMinUncertainty),
		cpuctUncertaintyMaxUncertainty: cfg.GetFloat64(config.ConfigCpuctUncertaintyMaxUncertainty),
		useCpuctUncertainty:            cfg.GetBool(config.ConfigUseCpuctUncertainty),
		justFpuUncertainty:             cfg.GetBool(config.ConfigJustFpuUncertainty),

		uncertaintyWeightingCap:         cfg.GetFloat64(config.ConfigUncertaintyWeightingCap),
		uncertaintyWeightingCoefficient: cfg.GetFloat64(config.ConfigUncertaintyWeightingCoefficient),
		uncertaintyWeightingExponent:    cfg.GetFloat64(config.ConfigUncertaintyWeightingExponent),
		useUncertaintyWeighting:         cfg.GetBool(config.ConfigUseUncertaintyWeighting),
		easyEvalWeightDecay:             cfg.GetFloat64(config.ConfigEasyEvalWeightDecay),

		noiseEpsilon: cfg.GetFloat64(config.ConfigNoiseEpsilon),
		noiseAlpha:   cfg.GetFloat64(config.ConfigNoiseAlpha),

		policySoftmaxTemp: cfg.GetFloat64(config.ConfigPolicySoftmaxTemp),

		topPolicyBoost:           cfg.GetFloat64(config.ConfigTopPolicyBoost),
		topPolicyNumBoost:        cfg.GetInt(config.ConfigTopPolicyNumBoost),
		topPolicyTierTwoBoost:    cfg.GetFloat64(config.ConfigTopPolicyTierTwoBoost),
		topPolicyTierTwoNumBoost: cfg.GetInt(config.ConfigTopPolicyTierTwoNumBoost),
		usePolicyBoosting:        cfg.GetBool(config.ConfigUsePolicyBoosting),

		temperature:             cfg.GetFloat64(config.ConfigTemperature),
		temperatureVisitOffset:  cfg.GetFloat64(config.ConfigTemperatureVisitOffset),
		tempDecayMoves:          cfg.GetInt(config.ConfigTempDecayMoves),
		tempDecayDelayMoves:     cfg.GetInt(config.ConfigTempDecayDelayMoves),
		temperatureCutoffMove:   cfg.GetInt(config.ConfigTemperatureCutoffMove),
		temperatureEndgame:      cfg.GetFloat64(config.ConfigTemperatureEndgame),
		temperatureWinpctCutoff: cfg.GetFloat64(config.ConfigTemperatureWinpctCutoff),

		maxCollisionEvents:             cfg.GetInt(config.ConfigMaxCollisionEvents),
		maxCollisionVisits:             cfg.GetInt(config.ConfigMaxCollisionVisits),
		maxCollisionVisitsScalingStart: cfg.GetInt(config.ConfigMaxCollisionVisitsScalingStart),
		maxCollisionVisitsScalingEnd:   cfg.GetInt(config.ConfigMaxCollisionVisitsScalingEnd),
		maxCollisionVisitsScalingPower: cfg.GetFloat64(config.ConfigMaxCollisionVisitsScalingPower),

		outOfOrderEval:     cfg.GetBool(config.ConfigOutOfOrderEval),
		maxOutOfOrderEvals: cfg.GetInt(config.ConfigMaxOutOfOrderEvals),
		stickyEndgames:     cfg.GetBool(config.ConfigStickyEndgames),
		syzygyFastPlay:     cfg.GetBool(config.ConfigSyzygyFastPlay),
		cacheHistoryLength: cfg.GetInt(config.ConfigCacheHistoryLength),
		moveRuleBucketing:  cfg.GetBool(config.ConfigMoveRuleBucketing),
		useVarianceScaling: cfg.GetBool(config.ConfigUseVarianceScaling),
		searchSpinBackoff:  cfg.GetBool(config.ConfigSearchSpinBackoff),

		taskWorkersPerSearchWorker:         cfg.GetInt(config.ConfigTaskWorkersPerSearchWorker),
		minimumWorkSizeForProcessing:       cfg.GetInt(config.ConfigMinimumWorkSizeForProcessing),
		minimumWorkSizeForPicking:          cfg.GetInt(config.ConfigMinimumWorkSizeForPicking),
		minimumRemainingWorkSizeForPicking: cfg.GetInt(config.ConfigMinimumRemainingWorkSizeForPicking),
		minimumWorkPerTaskForProcessing:    cfg.GetInt(config.ConfigMinimumWorkPerTaskForProcessing),
		idlingMinimumWork:                  cfg.GetInt(config.ConfigIdlingMinimumWork),
		threadIdlingThreshold:              cfg.GetInt(config.ConfigThreadIdlingThreshold),
		maxConcurrentSearchers:             cfg.GetInt(config.ConfigMaxConcurrentSearchers),

		contempt:           cfg.GetFloat64(config.ConfigContempt),
		wdlRescaleRatio:    cfg.GetFloat64(config.ConfigWDLRescaleRatio),
		wdlRescaleDiff:     cfg.GetFloat64(config.ConfigWDLRescaleDiff),
		wdlMaxS:            cfg.GetFloat64(config.ConfigWDLMaxS),
		wdlEvalObjectivity: cfg.GetFloat64(config.ConfigWDLEvalObjectivity),

		useCorrectionHistory:    cfg.GetBool(config.ConfigUseCorrectionHistory),
		correctionHistoryAlpha:  cfg.GetFloat64(config.ConfigCorrectionHistoryAlpha),
		correctionHistoryLambda: cfg.GetFloat64(config.ConfigCorrectionHistoryLambda),

		desperationMultiplier:  cfg.GetFloat64(config.ConfigDesperationMultiplier),
		desperationLow:         cfg.GetFloat64(config.ConfigDesperationLow),
		desperationHigh:        cfg.GetFloat64(config.ConfigDesperationHigh),
		desperationPriorWeight: cfg.GetFloat64(config.ConfigDesperationPriorWeight),
		useDesperation:         cfg.GetBool(config.ConfigUseDesperation),

		scoreType:     cfg.GetString(config.ConfigScoreType),
		multiPv:       cfg.GetInt(config.ConfigMultiPv),
		perPvCounters: cfg.GetBool(config.ConfigPerPvCounters),
		verboseStats:  cfg.GetBool(config.ConfigVerboseStats),
		logLiveStats:  cfg.GetBool(config.ConfigLogLiveStats),
		reportedNodes: cfg.GetString(config.ConfigReportedNodes),
		drawScore:     cfg.GetFloat64(config.ConfigDrawScore),
		npsLimit:      cfg.GetFloat64(config.ConfigNpsLimit),
	}

	if cfg.GetBool(config.ConfigRootHasOwnCpuctParams) {
		p.cpuctAtRoot = cfg.GetFloat64(config.ConfigCpuctAtRoot)
		p.cpuctBaseAtRoot = cfg.GetFloat64(config.ConfigCpuctBaseAtRoot)
		p.cpuctFactorAtRoot = cfg.GetFloat64(config.ConfigCpuctFactorAtRoot)
		p.cpuctExponentAtRoot = cfg.GetFloat64(config.ConfigCpuctExponentAtRoot)
	}

	var err error
	if p.fpuStrategy, err = parseFpuStrategy(cfg.GetString(config.ConfigFpuStrategy)); err != nil {
		return nil, err
	}
	rootStrategy := cfg.GetString(config.ConfigFpuStrategyAtRoot)
	if rootStrategy == "same" {
		p.fpuStrategyAtRoot = p.fpuStrategy
		p.fpuValueAtRoot = p.fpuValue
	} else if p.fpuStrategyAtRoot, err = parseFpuStrategy(rootStrategy); err != nil {
		return nil, err
	}
	if p.contemptMode, err = parseContemptMode(cfg.GetString(config.ConfigContemptMode)); err != nil {
		return nil, err
	}
	if p.historyFill, err = parseHistoryFill(cfg.GetString(config.ConfigHistoryFill)); err != nil {
		return nil, err
	}
	switch p.scoreType {
	case "centipawn", "centipawn-with-drawscore", "win-percentage", "q", "w-l":
	default:
		return nil, fmt.Errorf("unknown score type %q", p.scoreType)
	}
	switch p.reportedNodes {
	case "queries", "nodes", "edges":
	default:
		return nil, fmt.Errorf("unknown reported nodes mode %q", p.reportedNodes)
	}
	return p, nil
}

func (p *SearchParams) MiniBatchSize() int { return p.miniBatchSize }

func (p *SearchParams) Cpuct(atRoot bool) float64 {
	if atRoot {
		return p.cpuctAtRoot
	}
	return p.cpuct
}

func (p *SearchParams) CpuctBase(atRoot bool) float64 {
	if atRoot {
		return p.cpuctBaseAtRoot
	}
	return p.cpuctBase
}

func (p *SearchParams) CpuctFactor(atRoot bool) float64 {
	if atRoot {
		return p.cpuctFactorAtRoot
	}
	return p.cpuctFactor
}

func (p *SearchParams) CpuctExponent(atRoot bool) float64 {
	if atRoot {
		return p.cpuctExponentAtRoot
	}
	return p.cpuctExponent
}

func (p *SearchParams) FpuStrategy(atRoot bool) FPUStrategy {
	if atRoot {
		return p.fpuStrategyAtRoot
	}
	return p.fpuStrategy
}

func (p *SearchParams) FpuValue(atRoot bool) float64 {
	if atRoot {
		return p.fpuValueAtRoot
	}
	return p.fpuValue
}

func (p *SearchParams) CpuctUncertaintyMinFactor() float64 { return p.cpuctUncertaintyMinFactor }
func (p *SearchParams) CpuctUncertaintyMaxFactor() float64 { return p.cpuctUncertaintyMaxFactor }
func (p *SearchParams) CpuctUncertaintyMinUncertainty() float64 {
	return p.cpuctUncertaintyMinUncertainty
}
func (p *SearchParams) CpuctUncertaintyMaxUncertainty() float64 {
	return p.cpuctUncertaintyMaxUncertainty
}
func (p *SearchParams) UseCpuctUncertainty() bool { return p.useCpuctUncertainty }
func (p *SearchParams) JustFpuUncertainty() bool  { return p.justFpuUncertainty }

func (p *SearchParams) UncertaintyWeightingCap() float64 { return p.uncertaintyWeightingCap }
func (p *SearchParams) UncertaintyWeightingCoefficient() float64 {
	return p.uncertaintyWeightingCoefficient
}
func (p *SearchParams) UncertaintyWeightingExponent() float64 {
	return p.uncertaintyWeightingExponent
}
func (p *SearchParams) UseUncertaintyWeighting() bool { return p.useUncertaintyWeighting }
func (p *SearchParams) EasyEvalWeightDecay() float64  { return p.easyEvalWeightDecay }

func (p *SearchParams) NoiseEpsilon() float64 { return p.noiseEpsilon }
func (p *SearchParams) NoiseAlpha() float64   { return p.noiseAlpha }

func (p *SearchParams) PolicySoftmaxTemp() float64 { return p.policySoftmaxTemp }

func (p *SearchParams) TopPolicyBoost() float64        { return p.topPolicyBoost }
func (p *SearchParams) TopPolicyNumBoost() int         { return p.topPolicyNumBoost }
func (p *SearchParams) TopPolicyTierTwoBoost() float64 { return p.topPolicyTierTwoBoost }
func (p *SearchParams) TopPolicyTierTwoNumBoost() int  { return p.topPolicyTierTwoNumBoost }
func (p *SearchParams) UsePolicyBoosting() bool        { return p.usePolicyBoosting }

func (p *SearchParams) Temperature() float64             { return p.temperature }
func (p *SearchParams) TemperatureVisitOffset() float64  { return p.temperatureVisitOffset }
func (p *SearchParams) TempDecayMoves() int              { return p.tempDecayMoves }
func (p *SearchParams) TempDecayDelayMoves() int         { return p.tempDecayDelayMoves }
func (p *SearchParams) TemperatureCutoffMove() int       { return p.temperatureCutoffMove }
func (p *SearchParams) TemperatureEndgame() float64      { return p.temperatureEndgame }
func (p *SearchParams) TemperatureWinpctCutoff() float64 { return p.temperatureWinpctCutoff }

func (p *SearchParams) MaxCollisionEvents() int { return p.maxCollisionEvents }
func (p *SearchParams) MaxCollisionVisits() int { return p.maxCollisionVisits }
func (p *SearchParams) MaxCollisionVisitsScalingStart() int {
	return p.maxCollisionVisitsScalingStart
}
func (p *SearchParams) MaxCollisionVisitsScalingEnd() int { return p.maxCollisionVisitsScalingEnd }
func (p *SearchParams) MaxCollisionVisitsScalingPower() float64 {
	return p.maxCollisionVisitsScalingPower
}

func (p *SearchParams) OutOfOrderEval() bool     { return p.outOfOrderEval }
func (p *SearchParams) MaxOutOfOrderEvals() int  { return p.maxOutOfOrderEvals }
func (p *SearchParams) StickyEndgames() bool     { return p.stickyEndgames }
func (p *SearchParams) SyzygyFastPlay() bool     { return p.syzygyFastPlay }
func (p *SearchParams) CacheHistoryLength() int  { return p.cacheHistoryLength }
func (p *SearchParams) MoveRuleBucketing() bool  { return p.moveRuleBucketing }
func (p *SearchParams) UseVarianceScaling() bool { return p.useVarianceScaling }
func (p *SearchParams) SearchSpinBackoff() bool  { return p.searchSpinBackoff }

func (p *SearchParams) TaskWorkersPerSearchWorker() int { return p.taskWorkersPerSearchWorker }
func (p *SearchParams) MinimumWorkSizeForProcessing() int {
	return p.minimumWorkSizeForProcessing
}
func (p *SearchParams) MinimumWorkSizeForPicking() int { return p.minimumWorkSizeForPicking }
func (p *SearchParams) MinimumRemainingWorkSizeForPicking() int {
	return p.minimumRemainingWorkSizeForPicking
}
func (p *SearchParams) MinimumWorkPerTaskForProcessing() int {
	return p.minimumWorkPerTaskForProcessing
}
func (p *SearchParams) IdlingMinimumWork() int      { return p.idlingMinimumWork }
func (p *SearchParams) ThreadIdlingThreshold() int  { return p.threadIdlingThreshold }
func (p *SearchParams) MaxConcurrentSearchers() int { return p.maxConcurrentSearchers }

func (p *SearchParams) ContemptMode() ContemptMode  { return p.contemptMode }
func (p *SearchParams) Contempt() float64           { return p.contempt }
func (p *SearchParams) WDLRescaleRatio() float64    { return p.wdlRescaleRatio }
func (p *SearchParams) WDLRescaleDiff() float64     { return p.wdlRescaleDiff }
func (p *SearchParams) WDLMaxS() float64            { return p.wdlMaxS }
func (p *SearchParams) WDLEvalObjectivity() float64 { return p.wdlEvalObjectivity }

func (p *SearchParams) UseCorrectionHistory() bool      { return p.useCorrectionHistory }
func (p *SearchParams) CorrectionHistoryAlpha() float64 { return p.correctionHistoryAlpha }
func (p *SearchParams) CorrectionHistoryLambda() float64 {
	return p.correctionHistoryLambda
}

func (p *SearchParams) DesperationMultiplier() float64  { return p.desperationMultiplier }
func (p *SearchParams) DesperationLow() float64         { return p.desperationLow }
func (p *SearchParams) DesperationHigh() float64        { return p.desperationHigh }
func (p *SearchParams) DesperationPriorWeight() float64 { return p.desperationPriorWeight }
func (p *SearchParams) UseDesperation() bool            { return p.useDesperation }

func (p *SearchParams) ScoreType() string     { return p.scoreType }
func (p *SearchParams) MultiPv() int          { return p.multiPv }
func (p *SearchParams) PerPvCounters() bool   { return p.perPvCounters }
func (p *SearchParams) VerboseStats() bool    { return p.verboseStats }
func (p *SearchParams) LogLiveStats() bool    { return p.logLiveStats }
func (p *SearchParams) ReportedNodes() string { return p.reportedNodes }
func (p *SearchParams) DrawScore() float64    { return p.drawScore }
func (p *SearchParams) NpsLimit() float64     { return p.npsLimit }

func (p *SearchParams) HistoryFill() HistoryFill { return p.historyFill }

// Package config wraps viper with the engine's namespaced settings and their
// defaults. Search code never reads from here during a search; it takes a
// frozen SearchParams snapshot at search start.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Search option keys. The mcts package freezes all of these into a
// SearchParams snapshot.
const (
	ConfigMiniBatchSize = "search.mini-batch-size"

	ConfigCpuct                 = "search.cpuct"
	ConfigCpuctAtRoot           = "search.cpuct-at-root"
	ConfigCpuctBase             = "search.cpuct-base"
	ConfigCpuctBaseAtRoot       = "search.cpuct-base-at-root"
	ConfigCpuctFactor           = "search.cpuct-factor"
	ConfigCpuctFactorAtRoot     = "search.cpuct-factor-at-root"
	ConfigCpuctExponent         = "search.cpuct-exponent"
	ConfigCpuctExponentAtRoot   = "search.cpuct-exponent-at-root"
	ConfigRootHasOwnCpuctParams = "search.root-has-own-cpuct-params"

	ConfigFpuStrategy       = "search.fpu-strategy"
	ConfigFpuValue          = "search.fpu-value"
	ConfigFpuStrategyAtRoot = "search.fpu-strategy-at-root"
	ConfigFpuValueAtRoot    = "search.fpu-value-at-root"

	ConfigCpuctUncertaintyMinFactor      = "search.cpuct-uncertainty-min-factor"
	ConfigCpuctUncertaintyMaxFactor      = "search.cpuct-uncertainty-max-factor"
	ConfigCpuctUncertaintyMinUncertainty = "search.cpuct-uncertainty-min-uncertainty"
	ConfigCpuctUncertaintyMaxUncertainty = "search.cpuct-uncertainty-max-uncertainty"
	ConfigUseCpuctUncertainty            = "search.use-cpuct-uncertainty"
	ConfigJustFpuUncertainty             = "search.just-fpu-uncertainty"

	ConfigUncertaintyWeightingCap         = "search.uncertainty-weighting-cap"
	ConfigUncertaintyWeightingCoefficient = "search.uncertainty-weighting-coefficient"
	ConfigUncertaintyWeightingExponent    = "search.uncertainty-weighting-exponent"
	ConfigUseUncertaintyWeighting         = "search.use-uncertainty-weighting"
	ConfigEasyEvalWeightDecay             = "search.easy-eval-weight-decay"

	ConfigNoiseEpsilon = "search.noise-epsilon"
	ConfigNoiseAlpha   = "search.noise-alpha"

	ConfigPolicySoftmaxTemp = "search.policy-softmax-temp"

	ConfigTopPolicyBoost           = "search.top-policy-boost"
	ConfigTopPolicyNumBoost        = "search.top-policy-num-boost"
	ConfigTopPolicyTierTwoBoost    = "search.top-policy-tier-two-boost"
	ConfigTopPolicyTierTwoNumBoost = "search.top-policy-tier-two-num-boost"
	ConfigUsePolicyBoosting        = "search.use-policy-boosting"

	ConfigTemperature             = "search.temperature"
	ConfigTemperatureVisitOffset  = "search.temperature-visit-offset"
	ConfigTempDecayMoves          = "search.temp-decay-moves"
	ConfigTempDecayDelayMoves     = "search.temp-decay-delay-moves"
	ConfigTemperatureCutoffMove   = "search.temperature-cutoff-move"
	ConfigTemperatureEndgame      = "search.temperature-endgame"
	ConfigTemperatureWinpctCutoff = "search.temperature-winpct-cutoff"

	ConfigMaxCollisionEvents             = "search.max-collision-events"
	ConfigMaxCollisionVisits             = "search.max-collision-visits"
	ConfigMaxCollisionVisitsScalingStart = "search.max-collision-visits-scaling-start"
	ConfigMaxCollisionVisitsScalingEnd   = "search.max-collision-visits-scaling-end"
	ConfigMaxCollisionVisitsScalingPower = "search.max-collision-visits-scaling-power"

	ConfigOutOfOrderEval     = "search.out-of-order-eval"
	ConfigMaxOutOfOrderEvals = "search.max-out-of-order-evals"
	ConfigStickyEndgames     = "search.sticky-endgames"
	ConfigSyzygyFastPlay     = "search.syzygy-fast-play"
	ConfigCacheHistoryLength = "search.cache-history-length"
	ConfigMoveRuleBucketing  = "search.move-rule-bucketing"
	ConfigUseVarianceScaling = "search.use-variance-scaling"
	ConfigSearchSpinBackoff  = "search.search-spin-backoff"

	ConfigTaskWorkersPerSearchWorker         = "search.task-workers-per-search-worker"
	ConfigMinimumWorkSizeForProcessing       = "search.minimum-work-size-for-processing"
	ConfigMinimumWorkSizeForPicking          = "search.minimum-work-size-for-picking"
	ConfigMinimumRemainingWorkSizeForPicking = "search.minimum-remaining-work-size-for-picking"
	ConfigMinimumWorkPerTaskForProcessing    = "search.minimum-work-per-task-for-processing"
	ConfigIdlingMinimumWork                  = "search.idling-minimum-work"
	ConfigThreadIdlingThreshold              = "search.thread-idling-threshold"
	ConfigMaxConcurrentSearchers             = "search.max-concurrent-searchers"

	ConfigContemptMode       = "search.contempt-mode"
	ConfigContempt           = "search.contempt"
	ConfigWDLRescaleRatio    = "search.wdl-rescale-ratio"
	ConfigWDLRescaleDiff     = "search.wdl-rescale-diff"
	ConfigWDLMaxS            = "search.wdl-max-s"
	ConfigWDLEvalObjectivity = "search.wdl-eval-objectivity"

	ConfigUseCorrectionHistory    = "search.use-correction-history"
	ConfigCorrectionHistoryAlpha  = "search.correction-history-alpha"
	ConfigCorrectionHistoryLambda = "search.correction-history-lambda"

	ConfigDesperationMultiplier  = "search.desperation-multiplier"
	ConfigDesperationLow         = "search.desperation-low"
	ConfigDesperationHigh        = "search.desperation-high"
	ConfigDesperationPriorWeight = "search.desperation-prior-weight"
	ConfigUseDesperation         = "search.use-desperation"

	ConfigScoreType     = "report.score-type"
	ConfigMultiPv       = "report.multi-pv"
	ConfigPerPvCounters = "report.per-pv-counters"
	ConfigVerboseStats  = "report.verbose-stats"
	ConfigLogLiveStats  = "report.log-live-stats"
	ConfigReportedNodes = "report.reported-nodes"
	ConfigDrawScore     = "report.draw-score"
	ConfigNpsLimit      = "report.nps-limit"

	ConfigHistoryFill        = "network.history-fill"
	ConfigNNCacheSizeBytes   = "network.cache-size-bytes"
	ConfigNNCacheMemFraction = "network.cache-memory-fraction"
)

type Config struct {
	*viper.Viper
}

func New() *Config {
	v := viper.New()
	v.SetEnvPrefix("condor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Config{v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ConfigMiniBatchSize, 256)

	v.SetDefault(ConfigCpuct, 1.745)
	v.SetDefault(ConfigCpuctAtRoot, 1.745)
	v.SetDefault(ConfigCpuctBase, 38739.0)
	v.SetDefault(ConfigCpuctBaseAtRoot, 38739.0)
	v.SetDefault(ConfigCpuctFactor, 3.894)
	v.SetDefault(ConfigCpuctFactorAtRoot, 3.894)
	v.SetDefault(ConfigCpuctExponent, 0.5)
	v.SetDefault(ConfigCpuctExponentAtRoot, 0.5)
	v.SetDefault(ConfigRootHasOwnCpuctParams, false)

	v.SetDefault(ConfigFpuStrategy, "reduction")
	v.SetDefault(ConfigFpuValue, 0.33)
	v.SetDefault(ConfigFpuStrategyAtRoot, "same")
	v.SetDefault(ConfigFpuValueAtRoot, 1.0)

	v.SetDefault(ConfigCpuctUncertaintyMinFactor, 1.0)
	v.SetDefault(ConfigCpuctUncertaintyMaxFactor, 1.0)
	v.SetDefault(ConfigCpuctUncertaintyMinUncertainty, 0.0)
	v.SetDefault(ConfigCpuctUncertaintyMaxUncertainty, 0.25)
	v.SetDefault(ConfigUseCpuctUncertainty, false)
	v.SetDefault(ConfigJustFpuUncertainty, false)

	v.SetDefault(ConfigUncertaintyWeightingCap, 1.0)
	v.SetDefault(ConfigUncertaintyWeightingCoefficient, 0.13)
	v.SetDefault(ConfigUncertaintyWeightingExponent, -1.76)
	v.SetDefault(ConfigUseUncertaintyWeighting, false)
	v.SetDefault(ConfigEasyEvalWeightDecay, 0.0)

	v.SetDefault(ConfigNoiseEpsilon, 0.0)
	v.SetDefault(ConfigNoiseAlpha, 0.3)

	v.SetDefault(ConfigPolicySoftmaxTemp, 1.359)

	v.SetDefault(ConfigTopPolicyBoost, 0.0)
	v.SetDefault(ConfigTopPolicyNumBoost, 0)
	v.SetDefault(ConfigTopPolicyTierTwoBoost, 0.0)
	v.SetDefault(ConfigTopPolicyTierTwoNumBoost, 0)
	v.SetDefault(ConfigUsePolicyBoosting, false)

	v.SetDefault(ConfigTemperature, 0.0)
	v.SetDefault(ConfigTemperatureVisitOffset, 0.0)
	v.SetDefault(ConfigTempDecayMoves, 0)
	v.SetDefault(ConfigTempDecayDelayMoves, 0)
	v.SetDefault(ConfigTemperatureCutoffMove, 0)
	v.SetDefault(ConfigTemperatureEndgame, 0.0)
	v.SetDefault(ConfigTemperatureWinpctCutoff, 100.0)

	v.SetDefault(ConfigMaxCollisionEvents, 917)
	v.SetDefault(ConfigMaxCollisionVisits, 80000)
	v.SetDefault(ConfigMaxCollisionVisitsScalingStart, 28)
	v.SetDefault(ConfigMaxCollisionVisitsScalingEnd, 145000)
	v.SetDefault(ConfigMaxCollisionVisitsScalingPower, 1.25)

	v.SetDefault(ConfigOutOfOrderEval, true)
	v.SetDefault(ConfigMaxOutOfOrderEvals, 2)
	v.SetDefault(ConfigStickyEndgames, true)
	v.SetDefault(ConfigSyzygyFastPlay, false)
	v.SetDefault(ConfigCacheHistoryLength, 0)
	v.SetDefault(ConfigMoveRuleBucketing, false)
	v.SetDefault(ConfigUseVarianceScaling, false)
	v.SetDefault(ConfigSearchSpinBackoff, false)

	v.SetDefault(ConfigTaskWorkersPerSearchWorker, -1)
	v.SetDefault(ConfigMinimumWorkSizeForProcessing, 20)
	v.SetDefault(ConfigMinimumWorkSizeForPicking, 1)
	v.SetDefault(ConfigMinimumRemainingWorkSizeForPicking, 20)
	v.SetDefault(ConfigMinimumWorkPerTaskForProcessing, 8)
	v.SetDefault(ConfigIdlingMinimumWork, 0)
	v.SetDefault(ConfigThreadIdlingThreshold, 1)
	v.SetDefault(ConfigMaxConcurrentSearchers, 1)

	v.SetDefault(ConfigContemptMode, "disable")
	v.SetDefault(ConfigContempt, 0.0)
	v.SetDefault(ConfigWDLRescaleRatio, 1.0)
	v.SetDefault(ConfigWDLRescaleDiff, 0.0)
	v.SetDefault(ConfigWDLMaxS, 1.4)
	v.SetDefault(ConfigWDLEvalObjectivity, 0.0)

	v.SetDefault(ConfigUseCorrectionHistory, false)
	v.SetDefault(ConfigCorrectionHistoryAlpha, 0.35)
	v.SetDefault(ConfigCorrectionHistoryLambda, 0.75)

	v.SetDefault(ConfigDesperationMultiplier, 1.0)
	v.SetDefault(ConfigDesperationLow, 0.1)
	v.SetDefault(ConfigDesperationHigh, 0.9)
	v.SetDefault(ConfigDesperationPriorWeight, 0.5)
	v.SetDefault(ConfigUseDesperation, false)

	v.SetDefault(ConfigScoreType, "centipawn")
	v.SetDefault(ConfigMultiPv, 1)
	v.SetDefault(ConfigPerPvCounters, false)
	v.SetDefault(ConfigVerboseStats, false)
	v.SetDefault(ConfigLogLiveStats, false)
	v.SetDefault(ConfigReportedNodes, "queries")
	v.SetDefault(ConfigDrawScore, 0.0)
	v.SetDefault(ConfigNpsLimit, 0.0)

	v.SetDefault(ConfigHistoryFill, "fen-only")
	v.SetDefault(ConfigNNCacheSizeBytes, 0)
	v.SetDefault(ConfigNNCacheMemFraction, 0.05)
}

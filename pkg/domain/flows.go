package domain

// Typed inputs and outputs of the task catalogue. JSON tags must match the
// schema member names exactly; the flow package checks this at test time.

type Regime string

const (
	RegimeBull     Regime = "Bull"
	RegimeBear     Regime = "Bear"
	RegimeSideways Regime = "Sideways"
)

type Signal string

const (
	SignalBuy  Signal = "Buy"
	SignalSell Signal = "Sell"
	SignalHold Signal = "Hold"
)

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

type PredictMarketRegimeInput struct {
	Cryptocurrency string `json:"cryptocurrency"`
}

type PredictMarketRegimeOutput struct {
	Regime     Regime  `json:"regime"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type RiskProfile struct {
	ValueAtRisk     float64 `json:"valueAtRisk"`
	MaxPositionSize float64 `json:"maxPositionSize"`
}

type GenerateTradingSignalInput struct {
	Cryptocurrency string      `json:"cryptocurrency"`
	StrategyCode   string      `json:"strategyCode"`
	RiskProfile    RiskProfile `json:"riskProfile"`
}

type GenerateTradingSignalOutput struct {
	Signal      Signal  `json:"signal"`
	TargetPrice float64 `json:"targetPrice"`
	Rationale   string  `json:"rationale"`
}

type SummarizeMarketSentimentInput struct {
	Cryptocurrency string `json:"cryptocurrency"`
}

type SummarizeMarketSentimentOutput struct {
	Summary string `json:"summary"`
}

type RunBacktestSimulationInput struct {
	StrategyCode string `json:"strategyCode"`
	Asset        string `json:"asset"`
	DateRange    string `json:"dateRange"`
}

type EquityPoint struct {
	Date   string  `json:"date"`
	Equity float64 `json:"equity"`
}

type Trade struct {
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	PnL   float64 `json:"pnl"`
}

type RunBacktestSimulationOutput struct {
	NetProfit       float64       `json:"netProfit"`
	SharpeRatio     float64       `json:"sharpeRatio"`
	MaxDrawdown     float64       `json:"maxDrawdown"`
	WinRate         float64       `json:"winRate"`
	ProfitFactor    float64       `json:"profitFactor"`
	TotalTrades     int           `json:"totalTrades"`
	EquityCurveData []EquityPoint `json:"equityCurveData"`
	Trades          []Trade       `json:"trades"`
}

type ExtractStrategyParametersInput struct {
	StrategyCode string `json:"strategyCode"`
}

type ParameterRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type ExtractStrategyParametersOutput struct {
	Parameters map[string]ParameterRange `json:"parameters"`
}

type ConstraintKind string

const (
	ConstraintRange    ConstraintKind = "range"
	ConstraintFreeform ConstraintKind = "freeform"
)

// ParameterConstraint is a tagged union: Min/Max for "range", Description for "freeform".
type ParameterConstraint struct {
	Kind        ConstraintKind `json:"kind"`
	Min         *float64       `json:"min,omitempty"`
	Max         *float64       `json:"max,omitempty"`
	Description string         `json:"description,omitempty"`
}

func RangeConstraint(min, max float64) ParameterConstraint {
	return ParameterConstraint{Kind: ConstraintRange, Min: &min, Max: &max}
}

func FreeformConstraint(description string) ParameterConstraint {
	return ParameterConstraint{Kind: ConstraintFreeform, Description: description}
}

type AutomatedStrategyParameterTuningInput struct {
	StrategyName         string                         `json:"strategyName"`
	MarketConditions     string                         `json:"marketConditions"`
	PerformanceMetric    string                         `json:"performanceMetric"`
	ParameterConstraints map[string]ParameterConstraint `json:"parameterConstraints"`
}

type AutomatedStrategyParameterTuningOutput struct {
	OptimalParameters   map[string]float64 `json:"optimalParameters"`
	ExpectedPerformance float64            `json:"expectedPerformance"`
	TuningRationale     string             `json:"tuningRationale"`
}

type ApplyTunedParametersInput struct {
	StrategyCode      string             `json:"strategyCode"`
	OptimalParameters map[string]float64 `json:"optimalParameters"`
}

type ApplyTunedParametersOutput struct {
	UpdatedStrategyCode string `json:"updatedStrategyCode"`
}

type GenerateTradingStrategyInput struct {
	Prompt string `json:"prompt"`
}

type GenerateTradingStrategyOutput struct {
	StrategyCode string `json:"strategyCode"`
	Explanation  string `json:"explanation"`
}

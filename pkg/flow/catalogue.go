package flow

import (
	"github.com/osvaldoandrade/fpilot/pkg/prompt"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

const (
	TaskPredictMarketRegime              = "predictMarketRegime"
	TaskGenerateTradingSignal            = "generateTradingSignal"
	TaskSummarizeMarketSentiment         = "summarizeMarketSentiment"
	TaskRunBacktestSimulation            = "runBacktestSimulation"
	TaskExtractStrategyParameters        = "extractStrategyParameters"
	TaskAutomatedStrategyParameterTuning = "automatedStrategyParameterTuning"
	TaskApplyTunedParameters             = "applyTunedParameters"
	TaskGenerateTradingStrategy          = "generateTradingStrategy"
)

// NewCatalogueRegistry returns a registry holding every built-in task.
func NewCatalogueRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, c := range Catalogue() {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Catalogue builds fresh contracts for the built-in tasks.
func Catalogue() []Contract {
	return []Contract{
		predictMarketRegime(),
		generateTradingSignal(),
		summarizeMarketSentiment(),
		runBacktestSimulation(),
		extractStrategyParameters(),
		automatedStrategyParameterTuning(),
		applyTunedParameters(),
		generateTradingStrategy(),
	}
}

func contract(name, description string, input, output *schema.Field, template string) Contract {
	return Contract{
		Name:        name,
		Description: description,
		Input:       input,
		Output:      output,
		Template:    prompt.MustParse(template, input),
	}
}

func cryptocurrency(example string) *schema.Field {
	return schema.String("cryptocurrency", "The cryptocurrency to analyse (e.g. "+example+").").NonEmpty()
}

func strategyCode(description string) *schema.Field {
	return schema.String("strategyCode", description).NonEmpty()
}

func predictMarketRegime() Contract {
	in := schema.Object("", "", cryptocurrency("Bitcoin"))
	out := schema.Object("", "",
		schema.Enum("regime", "The predicted market regime.", "Bull", "Bear", "Sideways"),
		schema.Number("confidence", "Confidence of the prediction, from 0 to 1.").Range(0, 1),
		schema.String("rationale", "Key technical and on-chain factors behind the prediction."),
	)
	return contract(TaskPredictMarketRegime, "Classify the current market regime of a cryptocurrency.", in, out, `You are a crypto market analysis model. Predict the current market regime for {{cryptocurrency}}.

Work from simulated current technical indicators (RSI, MACD, EMAs) and on-chain metrics (NVT, SOPR).

Classify the market as exactly one of 'Bull', 'Bear' or 'Sideways'.

Give a confidence between 0 and 1 and a short rationale naming the factors that decided it,
for example: "Bull regime: moving averages trend up and on-chain sentiment is positive."`)
}

func generateTradingSignal() Contract {
	in := schema.Object("", "",
		schema.String("cryptocurrency", "The cryptocurrency pair to trade (e.g. BTC/USDT).").NonEmpty(),
		strategyCode("The strategy source used to derive the signal."),
		schema.Object("riskProfile", "The user's risk profile.",
			schema.Number("valueAtRisk", "Value at Risk, in percent.").Range(0, 100),
			schema.Number("maxPositionSize", "Maximum position size per trade, in percent of the portfolio.").Range(0, 100),
		),
	)
	out := schema.Object("", "",
		schema.Enum("signal", "The trading signal.", "Buy", "Sell", "Hold"),
		schema.Number("targetPrice", "A realistic target price for the signal."),
		schema.String("rationale", "Why the strategy and the risk profile lead to this signal."),
	)
	return contract(TaskGenerateTradingSignal, "Derive a Buy/Sell/Hold signal from strategy code and the user's risk profile.", in, out, `You generate trading signals for the FPILOT platform by interpreting a user's strategy code under their risk profile.

Cryptocurrency: {{cryptocurrency}}

Risk profile:
- Value at Risk (VaR): {{riskProfile.valueAtRisk}}%
- Maximum position size: {{riskProfile.maxPositionSize}}% of the portfolio per trade

Strategy code:
~~~typescript
{{{strategyCode}}}
~~~

Steps:
1. Simulate current market indicators (RSI, MACD, moving averages) for the cryptocurrency.
2. Apply the strategy logic to those indicators.
3. Let the risk profile shape the decision: a conservative profile needs stronger confirmation, and a small maximum position may justify 'Hold'.
4. Decide on 'Buy', 'Sell' or 'Hold'.
5. Set a realistic target price.
6. Explain the decision with reference to both the strategy logic and the risk profile.`)
}

func summarizeMarketSentiment() Contract {
	in := schema.Object("", "", cryptocurrency("Bitcoin"))
	out := schema.Object("", "",
		schema.String("summary", "Summary of recent news and social media sentiment."),
	)
	return contract(TaskSummarizeMarketSentiment, "Summarise recent news and social sentiment for a cryptocurrency.", in, out,
		`Summarize recent news and social media sentiment for {{cryptocurrency}}. Focus on the overall market mood and the most significant trends.`)
}

func runBacktestSimulation() Contract {
	in := schema.Object("", "",
		strategyCode("The strategy source to backtest."),
		schema.String("asset", "The asset to backtest on (e.g. BTC/USDT).").NonEmpty(),
		schema.String("dateRange", "The historical period (e.g. \"last 12 months\").").NonEmpty(),
	)
	point := schema.Object("", "",
		schema.String("date", "Date of the point, YYYY-MM-DD."),
		schema.Number("equity", "Total equity on that date."),
	)
	trade := schema.Object("", "",
		schema.Enum("side", "Side of the trade.", "Buy", "Sell"),
		schema.Number("price", "Execution price."),
		schema.Number("size", "Trade quantity."),
		schema.Number("pnl", "Profit or loss of the trade."),
	)
	out := schema.Object("", "",
		schema.Number("netProfit", "Total net profit or loss."),
		schema.Number("sharpeRatio", "Sharpe ratio."),
		schema.Number("maxDrawdown", "Maximum drawdown, in percent."),
		schema.Number("winRate", "Share of profitable trades, in percent."),
		schema.Number("profitFactor", "Gross profit divided by gross loss."),
		schema.Number("totalTrades", "Number of trades executed.").AtLeast(0).Whole(),
		schema.Array("equityCurveData", "Monthly equity curve.", point).Length(12),
		schema.Array("trades", "Sample trades from the simulation.", trade).AtMost(20),
	)
	return contract(TaskRunBacktestSimulation, "Simulate a backtest of strategy code over an asset and period.", in, out, `You are a trading backtest simulation engine. Simulate how the strategy below would have performed and report its metrics.

The results are simulated but must be realistic and internally consistent with the strategy logic: a mean-reversion strategy in a choppy market shows many small trades and a decent win rate, while trend following in a strong bull market shows a few large winners.

Backtest parameters:
- Asset: {{asset}}
- Date range: {{dateRange}}
- Strategy code:
~~~typescript
{{{strategyCode}}}
~~~

Report:
- netProfit: total net profit.
- sharpeRatio: a realistic Sharpe ratio (usually 0.5 to 2.5).
- maxDrawdown: maximum drawdown in percent (usually 5 to 30).
- winRate: percentage of winning trades.
- profitFactor: a realistic profit factor (usually 1.0 to 3.0).
- totalTrades: the number of trades, a whole number.
- equityCurveData: exactly 12 monthly points spanning the date range, starting from 100000 equity.
- trades: up to 20 sample trades mixing buys and sells with realistic prices and PnL.`)
}

func extractStrategyParameters() Contract {
	in := schema.Object("", "", strategyCode("The strategy source to analyse."))
	out := schema.Object("", "",
		schema.Map("parameters", "Tunable parameters with suggested optimisation ranges.",
			schema.Object("", "",
				schema.Number("min", "Suggested minimum value."),
				schema.Number("max", "Suggested maximum value."),
			),
		),
	)
	return contract(TaskExtractStrategyParameters, "List the tunable parameters of strategy code with suggested ranges.", in, out, `You analyse algorithmic trading strategy code. Identify every tunable parameter in the code below and suggest a minimum and maximum value to optimise it over.

Look for values that drive the strategy logic: indicator periods (RSI length, moving average periods), thresholds (overbought and oversold levels) and risk values (stop-loss and take-profit percentages).

Ignore asset names, timeframes and exchange details.

Strategy code:
~~~typescript
{{{strategyCode}}}
~~~`)
}

func automatedStrategyParameterTuning() Contract {
	constraint := schema.Variant("", "A numeric range or a free-form rule.", "kind", map[string]*schema.Field{
		"range": schema.Object("", "",
			schema.Number("min", "Lowest allowed value."),
			schema.Number("max", "Highest allowed value."),
		),
		"freeform": schema.Object("", "",
			schema.String("description", "A constraint in plain language.").NonEmpty(),
		),
	})
	in := schema.Object("", "",
		schema.String("strategyName", "Name of the strategy to optimise.").NonEmpty(),
		schema.String("marketConditions", "Current market conditions to adapt to.").NonEmpty(),
		schema.String("performanceMetric", "Metric to optimise (e.g. Sharpe ratio, profit factor).").NonEmpty(),
		schema.Map("parameterConstraints", "Constraints per parameter.", constraint),
	)
	out := schema.Object("", "",
		schema.Map("optimalParameters", "Optimised value per parameter.", schema.Number("", "")),
		schema.Number("expectedPerformance", "Expected value of the performance metric with the optimised parameters."),
		schema.String("tuningRationale", "Why these values were chosen."),
	)
	return contract(TaskAutomatedStrategyParameterTuning, "Choose parameter values that optimise a metric under constraints.", in, out, `You optimise trading strategy parameters. Tune the parameters of the strategy below to maximise its performance under the current market conditions.

Strategy name: {{strategyName}}
Market conditions: {{marketConditions}}
Performance metric: {{performanceMetric}}
Parameter constraints: {{parameterConstraints}}

Each constraint is either {"kind":"range","min":...,"max":...} or {"kind":"freeform","description":...}. Every chosen value must respect its constraint.

Return the optimal value for each parameter, the expected value of the performance metric and the rationale for your choices.`)
}

func applyTunedParameters() Contract {
	in := schema.Object("", "",
		strategyCode("The original strategy source."),
		schema.Map("optimalParameters", "Parameter values to write into the code.", schema.Number("", "")),
	)
	out := schema.Object("", "",
		schema.String("updatedStrategyCode", "The full strategy source with the new values applied.").NonEmpty(),
	)
	return contract(TaskApplyTunedParameters, "Rewrite strategy code with new parameter values.", in, out, `You surgically edit TypeScript trading strategy code. Replace the values of the variables named in the parameters below with the new values.

- Change only the values of the listed variables.
- Do not rename variables or touch logic, comments or anything else.
- Return the complete updated source.

Original strategy code:
~~~typescript
{{{strategyCode}}}
~~~

Parameters to apply:
~~~json
{{{optimalParameters}}}
~~~`)
}

func generateTradingStrategy() Contract {
	in := schema.Object("", "",
		schema.String("prompt", "Description of the desired trading strategy.").NonEmpty(),
	)
	out := schema.Object("", "",
		schema.String("strategyCode", "The generated strategy source.").NonEmpty(),
		schema.String("explanation", "High-level explanation of the strategy."),
	)
	return contract(TaskGenerateTradingStrategy, "Generate commented TypeScript strategy code from a description.", in, out, `You generate algorithmic trading strategies. Write a TypeScript strategy for the request below, with comments explaining the logic, and a high-level explanation of how it trades.

Request: {{prompt}}`)
}

package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
)

// Call runs task with a typed input and decodes the validated output into Out.
func Call[In, Out any](ctx context.Context, exec Executor, task string, in In) (Out, error) {
	var out Out
	res, err := exec.Execute(ctx, task, in)
	if err != nil {
		return out, err
	}
	raw, err := json.Marshal(res.Output)
	if err != nil {
		return out, fmt.Errorf("%s: encode output: %w", task, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s: decode output: %w", task, err)
	}
	return out, nil
}

func PredictMarketRegime(ctx context.Context, exec Executor, in domain.PredictMarketRegimeInput) (domain.PredictMarketRegimeOutput, error) {
	return Call[domain.PredictMarketRegimeInput, domain.PredictMarketRegimeOutput](ctx, exec, TaskPredictMarketRegime, in)
}

func GenerateTradingSignal(ctx context.Context, exec Executor, in domain.GenerateTradingSignalInput) (domain.GenerateTradingSignalOutput, error) {
	return Call[domain.GenerateTradingSignalInput, domain.GenerateTradingSignalOutput](ctx, exec, TaskGenerateTradingSignal, in)
}

func SummarizeMarketSentiment(ctx context.Context, exec Executor, in domain.SummarizeMarketSentimentInput) (domain.SummarizeMarketSentimentOutput, error) {
	return Call[domain.SummarizeMarketSentimentInput, domain.SummarizeMarketSentimentOutput](ctx, exec, TaskSummarizeMarketSentiment, in)
}

func RunBacktestSimulation(ctx context.Context, exec Executor, in domain.RunBacktestSimulationInput) (domain.RunBacktestSimulationOutput, error) {
	return Call[domain.RunBacktestSimulationInput, domain.RunBacktestSimulationOutput](ctx, exec, TaskRunBacktestSimulation, in)
}

func ExtractStrategyParameters(ctx context.Context, exec Executor, in domain.ExtractStrategyParametersInput) (domain.ExtractStrategyParametersOutput, error) {
	return Call[domain.ExtractStrategyParametersInput, domain.ExtractStrategyParametersOutput](ctx, exec, TaskExtractStrategyParameters, in)
}

func AutomatedStrategyParameterTuning(ctx context.Context, exec Executor, in domain.AutomatedStrategyParameterTuningInput) (domain.AutomatedStrategyParameterTuningOutput, error) {
	return Call[domain.AutomatedStrategyParameterTuningInput, domain.AutomatedStrategyParameterTuningOutput](ctx, exec, TaskAutomatedStrategyParameterTuning, in)
}

func ApplyTunedParameters(ctx context.Context, exec Executor, in domain.ApplyTunedParametersInput) (domain.ApplyTunedParametersOutput, error) {
	return Call[domain.ApplyTunedParametersInput, domain.ApplyTunedParametersOutput](ctx, exec, TaskApplyTunedParameters, in)
}

func GenerateTradingStrategy(ctx context.Context, exec Executor, in domain.GenerateTradingStrategyInput) (domain.GenerateTradingStrategyOutput, error) {
	return Call[domain.GenerateTradingStrategyInput, domain.GenerateTradingStrategyOutput](ctx, exec, TaskGenerateTradingStrategy, in)
}

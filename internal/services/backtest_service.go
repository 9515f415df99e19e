package services

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

const maxCompareAssets = 10

type BacktestRequest struct {
	StrategyID   string `json:"strategyId,omitempty"`
	StrategyCode string `json:"strategyCode,omitempty"`
	Asset        string `json:"asset"`
	DateRange    string `json:"dateRange"`
}

type CompareRequest struct {
	StrategyID   string   `json:"strategyId,omitempty"`
	StrategyCode string   `json:"strategyCode,omitempty"`
	Assets       []string `json:"assets"`
	DateRange    string   `json:"dateRange"`
}

// AssetBacktest is one row of a comparison. Exactly one of Result and
// ErrorCode is set.
type AssetBacktest struct {
	Asset     string                              `json:"asset"`
	Result    *domain.RunBacktestSimulationOutput `json:"result,omitempty"`
	ErrorCode string                              `json:"errorCode,omitempty"`
	Error     string                              `json:"error,omitempty"`
}

type CompareResult struct {
	Backtests []AssetBacktest `json:"backtests"`
	// Best is the successful asset with the highest Sharpe ratio.
	Best string `json:"best,omitempty"`
}

type BacktestService interface {
	Run(ctx context.Context, owner string, req BacktestRequest) (*domain.RunBacktestSimulationOutput, error)
	// Compare backtests one strategy on several assets concurrently. A failed
	// asset is reported in its row and does not abort the others.
	Compare(ctx context.Context, owner string, req CompareRequest) (*CompareResult, error)
}

type backtestService struct {
	exec       flow.Executor
	strategies persistence.StrategyStorage
	limit      int
}

func NewBacktestService(exec flow.Executor, strategies persistence.StrategyStorage, concurrency int) BacktestService {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &backtestService{exec: exec, strategies: strategies, limit: concurrency}
}

func (s *backtestService) Run(ctx context.Context, owner string, req BacktestRequest) (*domain.RunBacktestSimulationOutput, error) {
	code, err := resolveStrategyCode(ctx, s.strategies, owner, req.StrategyID, req.StrategyCode)
	if err != nil {
		return nil, err
	}
	out, err := flow.RunBacktestSimulation(ctx, s.exec, domain.RunBacktestSimulationInput{
		StrategyCode: code,
		Asset:        req.Asset,
		DateRange:    req.DateRange,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *backtestService) Compare(ctx context.Context, owner string, req CompareRequest) (*CompareResult, error) {
	assets := dedupe(req.Assets)
	switch {
	case len(assets) == 0:
		return nil, &schema.ValidationError{Violations: []schema.Violation{{Path: "assets", Reason: "must not be empty"}}}
	case len(assets) > maxCompareAssets:
		return nil, &schema.ValidationError{Violations: []schema.Violation{{Path: "assets", Reason: "must contain at most 10 assets"}}}
	}
	code, err := resolveStrategyCode(ctx, s.strategies, owner, req.StrategyID, req.StrategyCode)
	if err != nil {
		return nil, err
	}

	rows := make([]AssetBacktest, len(assets))
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, asset := range assets {
		g.Go(func() error {
			rows[i] = AssetBacktest{Asset: asset}
			out, err := flow.RunBacktestSimulation(ctx, s.exec, domain.RunBacktestSimulationInput{
				StrategyCode: code,
				Asset:        asset,
				DateRange:    req.DateRange,
			})
			if err != nil {
				rows[i].ErrorCode = flow.Code(err)
				rows[i].Error = err.Error()
				return nil
			}
			rows[i].Result = &out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &CompareResult{Backtests: rows}
	best := -1
	for i, row := range rows {
		if row.Result == nil {
			continue
		}
		if best < 0 || row.Result.SharpeRatio > rows[best].Result.SharpeRatio {
			best = i
		}
	}
	if best >= 0 {
		res.Best = rows[best].Asset
	}
	return res, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

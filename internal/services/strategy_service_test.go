package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/fpilot/internal/providers"
	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

const rsiStrategy = `export const rsiPeriod = 14;
export const overbought = 70;
export function onBar(bar) { return rsi(bar, rsiPeriod) > overbought ? "sell" : "hold"; }`

func newTestStrategyService(t *testing.T, exec flow.Executor, uploader providers.Uploader) StrategyService {
	t.Helper()
	store := newMemoryStore(t).StrategyStorage()
	return NewStrategyService(exec, store, uploader, discardLogger(), fixedClock(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)))
}

func TestStrategyServiceCreateValidates(t *testing.T) {
	svc := newTestStrategyService(t, newFakeExecutor(), nil)

	_, err := svc.Create(context.Background(), "alice", CreateStrategyRequest{Name: "  "})
	var ve *schema.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := strings.Join(ve.Paths(), ","); got != "name,code" {
		t.Fatalf("paths = %s", got)
	}
}

func TestStrategyServiceCRUD(t *testing.T) {
	svc := newTestStrategyService(t, newFakeExecutor(), nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice", CreateStrategyRequest{Name: " RSI ", Code: rsiStrategy})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.ID == "" || st.Name != "RSI" || st.Owner != "alice" {
		t.Fatalf("unexpected strategy: %+v", st)
	}

	got, err := svc.Get(ctx, "alice", st.ID)
	if err != nil || got.Code != rsiStrategy {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := svc.Get(ctx, "bob", st.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another owner, got %v", err)
	}

	list, err := svc.List(ctx, "alice")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %d %v", len(list), err)
	}
	if err := svc.Delete(ctx, "alice", st.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "alice", st.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStrategyServiceGenerate(t *testing.T) {
	exec := newFakeExecutor().reply(flow.TaskGenerateTradingStrategy, flow.Output{
		"strategyCode": rsiStrategy,
		"explanation":  "Sells when RSI is overbought.",
	})
	svc := newTestStrategyService(t, exec, nil)
	ctx := context.Background()

	res, err := svc.Generate(ctx, "alice", GenerateStrategyRequest{Prompt: "an RSI strategy"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Generated.StrategyCode != rsiStrategy || res.Strategy != nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = svc.Generate(ctx, "alice", GenerateStrategyRequest{Prompt: "  a   mean reversion\nstrategy for ETH  ", Save: true})
	if err != nil {
		t.Fatalf("generate and save: %v", err)
	}
	if res.Strategy == nil || res.Strategy.Name != "a mean reversion strategy for ETH" {
		t.Fatalf("unexpected saved strategy: %+v", res.Strategy)
	}
	if res.Strategy.Description != "Sells when RSI is overbought." {
		t.Fatalf("description = %q", res.Strategy.Description)
	}
}

func TestStrategyServiceOptimize(t *testing.T) {
	updated := strings.Replace(rsiStrategy, "rsiPeriod = 14", "rsiPeriod = 9", 1)
	exec := newFakeExecutor().
		reply(flow.TaskExtractStrategyParameters, flow.Output{"parameters": map[string]any{
			"rsiPeriod":  map[string]any{"min": 7.0, "max": 21.0},
			"overbought": map[string]any{"min": 60.0, "max": 85.0},
		}}).
		reply(flow.TaskAutomatedStrategyParameterTuning, flow.Output{
			"optimalParameters":   map[string]any{"rsiPeriod": 9.0, "overbought": 70.0},
			"expectedPerformance": 1.8,
			"tuningRationale":     "Shorter period reacts faster in trending markets.",
		}).
		reply(flow.TaskApplyTunedParameters, flow.Output{"updatedStrategyCode": updated})
	svc := newTestStrategyService(t, exec, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice", CreateStrategyRequest{Name: "RSI", Code: rsiStrategy})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := svc.Optimize(ctx, "alice", st.ID, OptimizeStrategyRequest{
		MarketConditions:  "trending",
		PerformanceMetric: "sharpe",
		Constraints:       map[string]string{"overbought": "keep it at 70 or above"},
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.Strategy.Code != updated || res.Strategy.Parameters["rsiPeriod"] != 9 {
		t.Fatalf("strategy not rewritten: %+v", res.Strategy)
	}
	if res.Ranges["rsiPeriod"] != (domain.ParameterRange{Min: 7, Max: 21}) {
		t.Fatalf("ranges = %+v", res.Ranges)
	}

	calls := exec.callsFor(flow.TaskAutomatedStrategyParameterTuning)
	if len(calls) != 1 {
		t.Fatalf("tuning calls = %d", len(calls))
	}
	in := calls[0].input.(domain.AutomatedStrategyParameterTuningInput)
	if in.StrategyName != "RSI" {
		t.Fatalf("strategy name = %q", in.StrategyName)
	}
	if c := in.ParameterConstraints["rsiPeriod"]; c.Kind != domain.ConstraintRange || *c.Min != 7 || *c.Max != 21 {
		t.Fatalf("rsiPeriod constraint = %+v", c)
	}
	if c := in.ParameterConstraints["overbought"]; c.Kind != domain.ConstraintFreeform || c.Description != "keep it at 70 or above" {
		t.Fatalf("overbought constraint = %+v", c)
	}

	stored, err := svc.Get(ctx, "alice", st.ID)
	if err != nil || stored.Code != updated {
		t.Fatalf("optimised code not saved: %v", err)
	}
}

func TestStrategyServiceOptimizeWithoutParameters(t *testing.T) {
	exec := newFakeExecutor().reply(flow.TaskExtractStrategyParameters, flow.Output{"parameters": map[string]any{}})
	svc := newTestStrategyService(t, exec, nil)
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice", CreateStrategyRequest{Name: "Buy and hold", Code: "export const hold = true;"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.Optimize(ctx, "alice", st.ID, OptimizeStrategyRequest{MarketConditions: "ranging", PerformanceMetric: "sharpe"})
	var ve *schema.ValidationError
	if !errors.As(err, &ve) || ve.Violations[0].Path != "code" {
		t.Fatalf("expected code violation, got %v", err)
	}
	if len(exec.callsFor(flow.TaskAutomatedStrategyParameterTuning)) != 0 {
		t.Fatal("tuning must not run without parameters")
	}
}

func TestStrategyServiceExport(t *testing.T) {
	root := t.TempDir()
	svc := newTestStrategyService(t, newFakeExecutor(), providers.NewLocalUploader(root))
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice@example.com", CreateStrategyRequest{Name: "RSI", Code: rsiStrategy})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	url, err := svc.Export(ctx, "alice@example.com", st.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("url = %q", url)
	}
	b, err := os.ReadFile(filepath.Join(root, "strategies", "alice@example.com", st.ID+".ts"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(b) != rsiStrategy {
		t.Fatalf("exported code mismatch")
	}
}

func TestStrategyServiceExportWithoutStore(t *testing.T) {
	svc := newTestStrategyService(t, newFakeExecutor(), nil)
	if _, err := svc.Export(context.Background(), "alice", "missing"); err == nil {
		t.Fatal("expected error without artifact store")
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osvaldoandrade/fpilot/internal/providers"
	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

type CreateStrategyRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Code        string             `json:"code"`
	Parameters  map[string]float64 `json:"parameters,omitempty"`
}

type GenerateStrategyRequest struct {
	Prompt string `json:"prompt"`
	// Save stores the generated code as a new strategy named Name.
	Save bool   `json:"save,omitempty"`
	Name string `json:"name,omitempty"`
}

type GenerateStrategyResult struct {
	Generated domain.GenerateTradingStrategyOutput `json:"generated"`
	Strategy  *domain.Strategy                     `json:"strategy,omitempty"`
}

type OptimizeStrategyRequest struct {
	MarketConditions  string `json:"marketConditions"`
	PerformanceMetric string `json:"performanceMetric"`
	// Constraints adds free-form rules on top of the extracted ranges.
	Constraints map[string]string `json:"constraints,omitempty"`
}

type OptimizeStrategyResult struct {
	Strategy *domain.Strategy                              `json:"strategy"`
	Ranges   map[string]domain.ParameterRange              `json:"ranges"`
	Tuning   domain.AutomatedStrategyParameterTuningOutput `json:"tuning"`
}

// StrategyService owns user strategies and the generate and optimise flows
// that produce or rewrite their code.
type StrategyService interface {
	Create(ctx context.Context, owner string, req CreateStrategyRequest) (*domain.Strategy, error)
	Get(ctx context.Context, owner, id string) (*domain.Strategy, error)
	List(ctx context.Context, owner string) ([]*domain.Strategy, error)
	Delete(ctx context.Context, owner, id string) error
	Generate(ctx context.Context, owner string, req GenerateStrategyRequest) (*GenerateStrategyResult, error)
	// Optimize runs extract, tune and apply in sequence and saves the rewritten code.
	Optimize(ctx context.Context, owner, id string, req OptimizeStrategyRequest) (*OptimizeStrategyResult, error)
	// Export writes the strategy source to the artifact store and returns its URL.
	Export(ctx context.Context, owner, id string) (string, error)
}

type strategyService struct {
	exec     flow.Executor
	store    persistence.StrategyStorage
	uploader providers.Uploader
	logger   *slog.Logger
	now      func() time.Time
}

func NewStrategyService(exec flow.Executor, store persistence.StrategyStorage, uploader providers.Uploader, logger *slog.Logger, now func() time.Time) StrategyService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &strategyService{exec: exec, store: store, uploader: uploader, logger: logger, now: now}
}

func (s *strategyService) Create(ctx context.Context, owner string, req CreateStrategyRequest) (*domain.Strategy, error) {
	var violations []schema.Violation
	if strings.TrimSpace(req.Name) == "" {
		violations = append(violations, schema.Violation{Path: "name", Reason: "must not be empty"})
	}
	if strings.TrimSpace(req.Code) == "" {
		violations = append(violations, schema.Violation{Path: "code", Reason: "must not be empty"})
	}
	if len(violations) > 0 {
		return nil, &schema.ValidationError{Violations: violations}
	}
	now := s.now()
	st := &domain.Strategy{
		ID:          uuid.NewString(),
		Owner:       owner,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Code:        req.Code,
		Parameters:  req.Parameters,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create strategy: %w", err)
	}
	s.logger.InfoContext(ctx, "strategy created", "strategy_id", st.ID, "owner", owner)
	return st, nil
}

func (s *strategyService) Get(ctx context.Context, owner, id string) (*domain.Strategy, error) {
	return s.store.Get(ctx, owner, id)
}

func (s *strategyService) List(ctx context.Context, owner string) ([]*domain.Strategy, error) {
	return s.store.List(ctx, owner)
}

func (s *strategyService) Delete(ctx context.Context, owner, id string) error {
	return s.store.Delete(ctx, owner, id)
}

func (s *strategyService) Generate(ctx context.Context, owner string, req GenerateStrategyRequest) (*GenerateStrategyResult, error) {
	out, err := flow.GenerateTradingStrategy(ctx, s.exec, domain.GenerateTradingStrategyInput{Prompt: req.Prompt})
	if err != nil {
		return nil, err
	}
	res := &GenerateStrategyResult{Generated: out}
	if !req.Save {
		return res, nil
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = summarize(req.Prompt, 60)
	}
	st, err := s.Create(ctx, owner, CreateStrategyRequest{Name: name, Description: out.Explanation, Code: out.StrategyCode})
	if err != nil {
		return nil, err
	}
	res.Strategy = st
	return res, nil
}

func (s *strategyService) Optimize(ctx context.Context, owner, id string, req OptimizeStrategyRequest) (*OptimizeStrategyResult, error) {
	st, err := s.store.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	extracted, err := flow.ExtractStrategyParameters(ctx, s.exec, domain.ExtractStrategyParametersInput{StrategyCode: st.Code})
	if err != nil {
		return nil, err
	}
	if len(extracted.Parameters) == 0 {
		return nil, &schema.ValidationError{Violations: []schema.Violation{{Path: "code", Reason: "no tunable parameters found"}}}
	}

	constraints := make(map[string]domain.ParameterConstraint, len(extracted.Parameters)+len(req.Constraints))
	for name, r := range extracted.Parameters {
		constraints[name] = domain.RangeConstraint(r.Min, r.Max)
	}
	for name, rule := range req.Constraints {
		if strings.TrimSpace(rule) != "" {
			constraints[name] = domain.FreeformConstraint(rule)
		}
	}

	tuned, err := flow.AutomatedStrategyParameterTuning(ctx, s.exec, domain.AutomatedStrategyParameterTuningInput{
		StrategyName:         st.Name,
		MarketConditions:     req.MarketConditions,
		PerformanceMetric:    req.PerformanceMetric,
		ParameterConstraints: constraints,
	})
	if err != nil {
		return nil, err
	}

	applied, err := flow.ApplyTunedParameters(ctx, s.exec, domain.ApplyTunedParametersInput{
		StrategyCode:      st.Code,
		OptimalParameters: tuned.OptimalParameters,
	})
	if err != nil {
		return nil, err
	}

	st.Code = applied.UpdatedStrategyCode
	st.Parameters = tuned.OptimalParameters
	st.Ranges = extracted.Parameters
	st.UpdatedAt = s.now()
	if err := s.store.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("save optimised strategy: %w", err)
	}
	s.logger.InfoContext(ctx, "strategy optimised", "strategy_id", st.ID, "parameters", sortedNames(tuned.OptimalParameters))
	return &OptimizeStrategyResult{Strategy: st, Ranges: extracted.Parameters, Tuning: tuned}, nil
}

func (s *strategyService) Export(ctx context.Context, owner, id string) (string, error) {
	if s.uploader == nil {
		return "", fmt.Errorf("artifact store not configured")
	}
	st, err := s.store.Get(ctx, owner, id)
	if err != nil {
		return "", err
	}
	objectPath := path.Join("strategies", url.PathEscape(owner), st.ID+".ts")
	return s.uploader.UploadBytes(ctx, objectPath, "text/typescript", []byte(st.Code))
}

func summarize(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

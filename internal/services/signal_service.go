package services

import (
	"context"
	"strings"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// SignalRequest names the strategy either by stored ID or by inline code.
// RiskProfile defaults to the owner's saved risk settings.
type SignalRequest struct {
	Cryptocurrency string              `json:"cryptocurrency"`
	StrategyID     string              `json:"strategyId,omitempty"`
	StrategyCode   string              `json:"strategyCode,omitempty"`
	RiskProfile    *domain.RiskProfile `json:"riskProfile,omitempty"`
}

type SignalResult struct {
	domain.GenerateTradingSignalOutput
	RiskProfile domain.RiskProfile `json:"riskProfile"`
}

type SignalService interface {
	GenerateSignal(ctx context.Context, owner string, req SignalRequest) (*SignalResult, error)
}

type signalService struct {
	exec       flow.Executor
	strategies persistence.StrategyStorage
	profiles   ProfileService
}

func NewSignalService(exec flow.Executor, strategies persistence.StrategyStorage, profiles ProfileService) SignalService {
	return &signalService{exec: exec, strategies: strategies, profiles: profiles}
}

func (s *signalService) GenerateSignal(ctx context.Context, owner string, req SignalRequest) (*SignalResult, error) {
	code, err := resolveStrategyCode(ctx, s.strategies, owner, req.StrategyID, req.StrategyCode)
	if err != nil {
		return nil, err
	}

	var profile domain.RiskProfile
	if req.RiskProfile != nil {
		profile = *req.RiskProfile
	} else {
		settings, err := s.profiles.GetRiskSettings(ctx, owner)
		if err != nil {
			return nil, err
		}
		profile = settings.Profile()
	}

	out, err := flow.GenerateTradingSignal(ctx, s.exec, domain.GenerateTradingSignalInput{
		Cryptocurrency: req.Cryptocurrency,
		StrategyCode:   code,
		RiskProfile:    profile,
	})
	if err != nil {
		return nil, err
	}
	return &SignalResult{GenerateTradingSignalOutput: out, RiskProfile: profile}, nil
}

// resolveStrategyCode prefers a stored strategy over inline code.
func resolveStrategyCode(ctx context.Context, store persistence.StrategyStorage, owner, id, code string) (string, error) {
	if strings.TrimSpace(id) != "" {
		st, err := store.Get(ctx, owner, id)
		if err != nil {
			return "", err
		}
		return st.Code, nil
	}
	if strings.TrimSpace(code) == "" {
		return "", &schema.ValidationError{Violations: []schema.Violation{{Path: "strategyCode", Reason: "required when strategyId is not set"}}}
	}
	return code, nil
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// riskSettingsSchema holds the settings page bounds; every value is a percentage.
var riskSettingsSchema = schema.Object("", "",
	schema.Number("valueAtRisk", "Value at Risk, in percent.").Range(0, 100),
	schema.Number("maxPositionSize", "Maximum position size, in percent of the portfolio.").Range(0, 100),
	schema.Number("maxDrawdown", "Maximum drawdown, in percent.").Range(0, 100),
	schema.Number("stopLoss", "Stop-loss, in percent.").Range(0, 100),
)

type ProfileService interface {
	// GetRiskSettings falls back to the defaults for owners without saved settings.
	GetRiskSettings(ctx context.Context, owner string) (domain.RiskSettings, error)
	SaveRiskSettings(ctx context.Context, owner string, settings domain.RiskSettings) (domain.RiskSettings, error)
}

type profileService struct {
	store persistence.ProfileStorage
	now   func() time.Time
}

func NewProfileService(store persistence.ProfileStorage, now func() time.Time) ProfileService {
	if now == nil {
		now = time.Now
	}
	return &profileService{store: store, now: now}
}

func (s *profileService) GetRiskSettings(ctx context.Context, owner string) (domain.RiskSettings, error) {
	settings, err := s.store.GetRiskSettings(ctx, owner)
	if errors.Is(err, persistence.ErrNotFound) {
		return domain.DefaultRiskSettings(), nil
	}
	if err != nil {
		return domain.RiskSettings{}, err
	}
	return *settings, nil
}

func (s *profileService) SaveRiskSettings(ctx context.Context, owner string, settings domain.RiskSettings) (domain.RiskSettings, error) {
	raw, err := schema.Normalize(settings)
	if err != nil {
		return domain.RiskSettings{}, err
	}
	if _, err := schema.Validate(raw, riskSettingsSchema); err != nil {
		return domain.RiskSettings{}, err
	}
	settings.UpdatedAt = s.now()
	if err := s.store.SaveRiskSettings(ctx, owner, settings); err != nil {
		return domain.RiskSettings{}, err
	}
	return settings, nil
}

package domain

import "time"

// Strategy is a user-owned trading strategy. Code is the strategy source the
// generative tasks read and rewrite.
type Strategy struct {
	ID          string                    `json:"id"`
	Owner       string                    `json:"owner"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Code        string                    `json:"code"`
	Parameters  map[string]float64        `json:"parameters,omitempty"`
	Ranges      map[string]ParameterRange `json:"ranges,omitempty"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

// RiskSettings mirrors the settings page: every value is a percentage.
type RiskSettings struct {
	ValueAtRisk     float64   `json:"valueAtRisk"`
	MaxPositionSize float64   `json:"maxPositionSize"`
	MaxDrawdown     float64   `json:"maxDrawdown"`
	StopLoss        float64   `json:"stopLoss"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
}

// DefaultRiskSettings are applied to owners who never saved their own.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{ValueAtRisk: 5, MaxPositionSize: 10, MaxDrawdown: 20, StopLoss: 2}
}

// Profile converts the stored settings into the task input shape.
func (r RiskSettings) Profile() RiskProfile {
	return RiskProfile{ValueAtRisk: r.ValueAtRisk, MaxPositionSize: r.MaxPositionSize}
}

package domain

import (
	"encoding"
	"time"
)

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunRecord is the persisted history entry of one task run.
type RunRecord struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`
	Task        string         `json:"task"`
	Async       bool           `json:"async,omitempty"`
	Status      RunStatus      `json:"status"`
	// FailedStage and ErrorCode are set only when Status is FAILED.
	FailedStage string         `json:"failedStage,omitempty"`
	ErrorCode   string         `json:"errorCode,omitempty"`
	Error       string         `json:"error,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	LatencyMs   int64          `json:"latencyMs,omitempty"`
	Usage       *TokenUsage    `json:"usage,omitempty"`
	Webhook     string         `json:"webhook,omitempty"`
	// TraceParent/TraceState carry W3C trace context from submission to the
	// background execution and the outgoing webhook.
	TraceParent string         `json:"traceParent,omitempty"`
	TraceState  string         `json:"traceState,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

var (
	_ encoding.BinaryMarshaler = RunStatus("")
	_ encoding.TextMarshaler   = RunStatus("")
)

func (s RunStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s RunStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

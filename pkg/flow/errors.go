package flow

import (
	"errors"
	"fmt"

	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/prompt"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// Stage names the pipeline step a run failed in.
type Stage string

const (
	StageLookup           Stage = "lookup"
	StageInputValidation  Stage = "input_validation"
	StageRendering        Stage = "rendering"
	StageInvoking         Stage = "invoking"
	StageOutputValidation Stage = "output_validation"
)

type UnknownTaskError struct {
	Task string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", e.Task)
}

type DuplicateTaskError struct {
	Task string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q is already registered", e.Task)
}

// RunError records which stage of a run failed. Err is the stage's own error,
// unchanged, so errors.As reaches *schema.ValidationError, *gateway.RateLimitError
// and the rest directly.
type RunError struct {
	Task  string
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Task, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// StageOf returns the failed stage of err, or "" when err is not a RunError.
func StageOf(err error) Stage {
	var re *RunError
	if errors.As(err, &re) {
		return re.Stage
	}
	return ""
}

// Code maps an error to a stable machine-readable code shared by the HTTP API,
// run history and metrics.
func Code(err error) string {
	var (
		unknown *UnknownTaskError
		dup     *DuplicateTaskError
		valErr  *schema.ValidationError
		resErr  *prompt.ResolutionError
		auth    *gateway.AuthenticationError
		rl      *gateway.RateLimitError
		un      *gateway.BackendUnavailableError
		mal     *gateway.MalformedResponseError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gateway.ErrCancelled):
		return "cancelled"
	case errors.As(err, &unknown):
		return "unknown_task"
	case errors.As(err, &dup):
		return "duplicate_task"
	case errors.As(err, &valErr):
		if StageOf(err) == StageOutputValidation {
			return "invalid_output"
		}
		return "invalid_input"
	case errors.As(err, &resErr):
		return "template_error"
	case errors.As(err, &auth):
		return "backend_auth"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &un):
		if un.Timeout {
			return "backend_timeout"
		}
		return "backend_unavailable"
	case errors.As(err, &mal):
		return "malformed_response"
	}
	return "internal"
}

package domain

import (
	"encoding/json"
	"testing"
)

func TestRunStatusMarshalBinary(t *testing.T) {
	tests := []struct {
		name   string
		status RunStatus
		want   string
	}{
		{"pending", RunPending, "PENDING"},
		{"running", RunRunning, "RUNNING"},
		{"succeeded", RunSucceeded, "SUCCEEDED"},
		{"failed", RunFailed, "FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.status.MarshalBinary()
			if err != nil {
				t.Errorf("MarshalBinary() error = %v", err)
				return
			}
			if string(got) != tt.want {
				t.Errorf("MarshalBinary() = %v, want %v", string(got), tt.want)
			}
		})
	}
}

func TestRunStatusTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunPending, false},
		{RunRunning, false},
		{RunSucceeded, true},
		{RunFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParameterConstraintJSON(t *testing.T) {
	b, err := json.Marshal(map[string]ParameterConstraint{
		"rsiPeriod": RangeConstraint(7, 21),
		"entry":     FreeformConstraint("breakouts only"),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"entry":{"kind":"freeform","description":"breakouts only"},"rsiPeriod":{"kind":"range","min":7,"max":21}}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestRiskSettingsProfile(t *testing.T) {
	rs := DefaultRiskSettings()
	p := rs.Profile()
	if p.ValueAtRisk != rs.ValueAtRisk || p.MaxPositionSize != rs.MaxPositionSize {
		t.Fatalf("profile %+v does not mirror settings %+v", p, rs)
	}
}

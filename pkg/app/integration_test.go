package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	_ "github.com/osvaldoandrade/fpilot/pkg/auth/static"
	"github.com/osvaldoandrade/fpilot/pkg/config"
	"github.com/osvaldoandrade/fpilot/pkg/domain"
	_ "github.com/osvaldoandrade/fpilot/pkg/gateway/static"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

func newTestApp(t *testing.T) (*httptest.Server, *Application) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Env = "dev"
	cfg.LogLevel = "error"
	cfg.LLM.Provider = "static"
	cfg.LLM.Static = map[string]any{
		"responses": map[string]any{
			"summarizeMarketSentiment": map[string]any{"summary": "Mood is cautiously optimistic."},
			"generateTradingSignal":    map[string]any{"signal": "Buy", "targetPrice": 70000, "rationale": "RSI is oversold."},
		},
	}
	cfg.Persistence.Type = "redis"
	cfg.RedisAddr = mr.Addr()
	cfg.AuthProvider = "static"
	cfg.AuthConfig = map[string]any{
		"tokens": []any{
			map[string]any{"token": userToken, "subject": "u1", "email": "alice@example.com"},
			map[string]any{"token": adminToken, "subject": "ops", "scopes": []any{"fpilot:admin"}},
		},
	}
	cfg.LocalArtifactsDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApplication(cfg, WithRedisClient(rdb), WithLogger(logger))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return server, app
}

func TestHTTPSyncRunFlow(t *testing.T) {
	ctx := context.Background()
	server, _ := newTestApp(t)

	var rec domain.RunRecord
	status, body := doJSON(t, ctx, http.MethodPost, server.URL+"/v1/fpilot/flows/summarizeMarketSentiment/run", userToken,
		map[string]any{"input": map[string]any{"cryptocurrency": "BTC"}}, &rec)
	if status != http.StatusOK {
		t.Fatalf("run status %d body=%s", status, body)
	}
	if rec.Status != domain.RunSucceeded || rec.Output["summary"] != "Mood is cautiously optimistic." {
		t.Fatalf("unexpected run: %+v", rec)
	}
	if rec.Provider != "static" {
		t.Fatalf("provider = %q", rec.Provider)
	}

	var got domain.RunRecord
	status, body = doJSON(t, ctx, http.MethodGet, server.URL+"/v1/fpilot/runs/"+rec.ID, userToken, nil, &got)
	if status != http.StatusOK || got.ID != rec.ID {
		t.Fatalf("get run status %d body=%s", status, body)
	}

	var list struct {
		Runs []domain.RunRecord `json:"runs"`
	}
	status, body = doJSON(t, ctx, http.MethodGet, server.URL+"/v1/fpilot/runs?limit=5", userToken, nil, &list)
	if status != http.StatusOK || len(list.Runs) != 1 {
		t.Fatalf("list runs status %d body=%s", status, body)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	ctx := context.Background()
	server, _ := newTestApp(t)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
		code   string
	}{
		{"missing token", http.MethodGet, "/v1/fpilot/flows", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"unknown task", http.MethodPost, "/v1/fpilot/flows/forecastWeather/run", userToken, map[string]any{"input": map[string]any{}}, http.StatusNotFound, "unknown_task"},
		{"invalid input", http.MethodPost, "/v1/fpilot/flows/summarizeMarketSentiment/run", userToken, map[string]any{"input": map[string]any{"cryptocurrency": ""}}, http.StatusBadRequest, "invalid_input"},
		{"bad webhook", http.MethodPost, "/v1/fpilot/flows/summarizeMarketSentiment/runs", userToken, map[string]any{"input": map[string]any{"cryptocurrency": "BTC"}, "webhook": "ftp://x"}, http.StatusBadRequest, "invalid_input"},
		{"missing run", http.MethodGet, "/v1/fpilot/runs/nope", userToken, nil, http.StatusNotFound, "not_found"},
		{"risk out of range", http.MethodPut, "/v1/fpilot/profile/risk", userToken, map[string]any{"valueAtRisk": 150, "maxPositionSize": 10, "maxDrawdown": 20, "stopLoss": 2}, http.StatusBadRequest, "invalid_input"},
		{"admin only", http.MethodGet, "/v1/fpilot/admin/health", userToken, nil, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doJSON(t, ctx, tc.method, server.URL+tc.path, tc.token, tc.body, nil)
			if status != tc.want {
				t.Fatalf("status %d, want %d body=%s", status, tc.want, body)
			}
			var resp map[string]any
			_ = json.Unmarshal([]byte(body), &resp)
			if resp["code"] != tc.code {
				t.Fatalf("code %v, want %s", resp["code"], tc.code)
			}
		})
	}
}

func TestHTTPAsyncRunDeliversWebhook(t *testing.T) {
	ctx := context.Background()
	server, _ := newTestApp(t)

	callbackCh := make(chan map[string]any, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(b, &payload)
		select {
		case callbackCh <- payload:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hookSrv.Close)

	var rec domain.RunRecord
	status, body := doJSON(t, ctx, http.MethodPost, server.URL+"/v1/fpilot/flows/summarizeMarketSentiment/runs", userToken,
		map[string]any{"input": map[string]any{"cryptocurrency": "ETH"}, "webhook": hookSrv.URL}, &rec)
	if status != http.StatusAccepted {
		t.Fatalf("submit status %d body=%s", status, body)
	}
	if rec.Status != domain.RunPending {
		t.Fatalf("expected PENDING, got %s", rec.Status)
	}

	select {
	case payload := <-callbackCh:
		if payload["runId"] != rec.ID {
			t.Fatalf("callback runId mismatch: %v", payload["runId"])
		}
		if payload["status"] != string(domain.RunSucceeded) {
			t.Fatalf("callback status mismatch: %v", payload["status"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected webhook callback")
	}

	var got domain.RunRecord
	status, body = doJSON(t, ctx, http.MethodGet, server.URL+"/v1/fpilot/runs/"+rec.ID, userToken, nil, &got)
	if status != http.StatusOK || got.Status != domain.RunSucceeded {
		t.Fatalf("get run status %d body=%s", status, body)
	}
}

func TestHTTPStrategyAndSignalFlow(t *testing.T) {
	ctx := context.Background()
	server, _ := newTestApp(t)

	var st domain.Strategy
	status, body := doJSON(t, ctx, http.MethodPost, server.URL+"/v1/fpilot/strategies", userToken,
		map[string]any{"name": "RSI", "code": "export const rsiPeriod = 14;"}, &st)
	if status != http.StatusCreated || st.ID == "" {
		t.Fatalf("create strategy status %d body=%s", status, body)
	}

	status, body = doJSON(t, ctx, http.MethodPut, server.URL+"/v1/fpilot/profile/risk", userToken,
		map[string]any{"valueAtRisk": 3, "maxPositionSize": 5, "maxDrawdown": 15, "stopLoss": 1}, nil)
	if status != http.StatusOK {
		t.Fatalf("save risk status %d body=%s", status, body)
	}

	var signal struct {
		Signal      string             `json:"signal"`
		RiskProfile domain.RiskProfile `json:"riskProfile"`
	}
	status, body = doJSON(t, ctx, http.MethodPost, server.URL+"/v1/fpilot/signals", userToken,
		map[string]any{"cryptocurrency": "BTC/USDT", "strategyId": st.ID}, &signal)
	if status != http.StatusOK {
		t.Fatalf("signal status %d body=%s", status, body)
	}
	if signal.Signal != "Buy" || signal.RiskProfile.ValueAtRisk != 3 || signal.RiskProfile.MaxPositionSize != 5 {
		t.Fatalf("unexpected signal: %+v", signal)
	}

	var export struct {
		URL string `json:"url"`
	}
	status, body = doJSON(t, ctx, http.MethodPost, server.URL+"/v1/fpilot/strategies/"+st.ID+"/export", userToken, nil, &export)
	if status != http.StatusOK || export.URL == "" {
		t.Fatalf("export status %d body=%s", status, body)
	}

	status, body = doJSON(t, ctx, http.MethodDelete, server.URL+"/v1/fpilot/strategies/"+st.ID, userToken, nil, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete status %d body=%s", status, body)
	}
}

func TestHTTPOperationalEndpoints(t *testing.T) {
	ctx := context.Background()
	server, _ := newTestApp(t)

	if status, body := doJSON(t, ctx, http.MethodGet, server.URL+"/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz status %d body=%s", status, body)
	}
	if status, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/metrics", "", nil, nil); status != http.StatusOK {
		t.Fatalf("metrics status %d", status)
	}

	var health map[string]any
	status, body := doJSON(t, ctx, http.MethodGet, server.URL+"/v1/fpilot/admin/health", adminToken, nil, &health)
	if status != http.StatusOK {
		t.Fatalf("admin health status %d body=%s", status, body)
	}
	if health["store"] != "ok" || health["provider"] != "static" {
		t.Fatalf("unexpected health: %v", health)
	}

	var flows struct {
		Flows []map[string]any `json:"flows"`
	}
	status, body = doJSON(t, ctx, http.MethodGet, server.URL+"/v1/fpilot/flows", userToken, nil, &flows)
	if status != http.StatusOK || len(flows.Flows) != 8 {
		t.Fatalf("flows status %d body=%s", status, body)
	}
	var described map[string]any
	status, body = doJSON(t, ctx, http.MethodGet, server.URL+"/v1/fpilot/flows/predictMarketRegime", userToken, nil, &described)
	if status != http.StatusOK || described["inputSchema"] == nil || described["outputSchema"] == nil {
		t.Fatalf("describe status %d body=%s", status, body)
	}
}

func doJSON(t *testing.T, ctx context.Context, method, url, token string, body any, out any) (int, string) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = json.Unmarshal(b, out)
	}
	return resp.StatusCode, string(b)
}

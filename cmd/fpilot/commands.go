package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const apiPrefix = "/v1/fpilot"

type runRecord struct {
	ID          string         `json:"id"`
	Task        string         `json:"task"`
	Status      string         `json:"status"`
	FailedStage string         `json:"failedStage"`
	ErrorCode   string         `json:"errorCode"`
	Error       string         `json:"error"`
	Output      map[string]any `json:"output"`
	LatencyMs   int64          `json:"latencyMs"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (r runRecord) terminal() bool {
	return r.Status == "SUCCEEDED" || r.Status == "FAILED"
}

func flowsCmd(api func() *client, ui *ui) *cobra.Command {
	cmd := &cobra.Command{Use: "flows", Short: "Inspect the task catalogue"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List available flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Flows []struct {
					Name        string `json:"name"`
					Description string `json:"description"`
				} `json:"flows"`
			}
			if _, err := api().call("GET", apiPrefix+"/flows", nil, &out, "Fetching flows..."); err != nil {
				return err
			}
			fmt.Println(ui.title("Flows"))
			for _, f := range out.Flows {
				fmt.Printf("  %-34s %s\n", ui.info(f.Name), ui.dim(f.Description))
			}
			return nil
		},
	}

	describe := &cobra.Command{
		Use:   "describe <task>",
		Short: "Show the input and output schema of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api().call("GET", apiPrefix+"/flows/"+url.PathEscape(args[0]), nil, nil, "Fetching flow...")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}

	cmd.AddCommand(list, describe)
	return cmd
}

func runCmd(api func() *client, ui *ui) *cobra.Command {
	var (
		input   string
		async   bool
		webhook string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:     "run <task>",
		Short:   "Run a flow",
		Example: "fpilot run summarizeMarketSentiment --input '{\"cryptocurrency\":\"BTC\"}'\nfpilot run runBacktestSimulation --input @backtest.json --async --wait",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(input, os.Stdin)
			if err != nil {
				return err
			}
			if webhook != "" && !async {
				return errors.New("--webhook requires --async")
			}
			c := api()
			task := url.PathEscape(args[0])
			if !async {
				var rec runRecord
				if _, err := c.call("POST", apiPrefix+"/flows/"+task+"/run", map[string]any{"input": in}, &rec, "Running "+args[0]+"..."); err != nil {
					return err
				}
				printOutput(rec, ui)
				return nil
			}

			body := map[string]any{"input": in}
			if webhook != "" {
				body["webhook"] = webhook
			}
			var rec runRecord
			if _, err := c.call("POST", apiPrefix+"/flows/"+task+"/runs", body, &rec, "Submitting "+args[0]+"..."); err != nil {
				return err
			}
			fmt.Printf("%s Run submitted: %s\n", ui.ok("[OK]"), rec.ID)
			if !wait {
				return nil
			}
			done, err := waitRuns(c, []string{rec.ID}, 2*time.Second)
			if err != nil {
				return err
			}
			printOutput(done[0], ui)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Input JSON, @file or - for stdin")
	cmd.Flags().BoolVar(&async, "async", false, "Run in the background")
	cmd.Flags().StringVar(&webhook, "webhook", "", "Result webhook URL (with --async)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for an async run to finish")
	return cmd
}

func runsCmd(api func() *client, ui *ui) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Run history"}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api().call("GET", apiPrefix+"/runs/"+url.PathEscape(args[0]), nil, nil, "Fetching run...")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Runs []runRecord `json:"runs"`
			}
			path := apiPrefix + "/runs?limit=" + strconv.Itoa(limit)
			if _, err := api().call("GET", path, nil, &out, "Fetching runs..."); err != nil {
				return err
			}
			for _, r := range out.Runs {
				fmt.Printf("%s  %-34s %s  %s\n", r.ID, r.Task, statusLabel(r.Status, ui), ui.dim(r.CreatedAt.Format(time.RFC3339)))
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")

	var interval time.Duration
	wait := &cobra.Command{
		Use:   "wait <id>...",
		Short: "Wait until runs finish",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			done, err := waitRuns(api(), args, interval)
			if err != nil {
				return err
			}
			for _, r := range done {
				fmt.Printf("%s  %s\n", r.ID, statusLabel(r.Status, ui))
			}
			return nil
		},
	}
	wait.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")

	cmd.AddCommand(get, list, wait)
	return cmd
}

// waitRuns polls until every run is terminal and returns them in order.
func waitRuns(c *client, ids []string, interval time.Duration) ([]runRecord, error) {
	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetDescription("Waiting for runs"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(18),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	out := make([]runRecord, len(ids))
	pending := len(ids)
	for pending > 0 {
		for i, id := range ids {
			if out[i].terminal() {
				continue
			}
			status, resp, err := c.request("GET", apiPrefix+"/runs/"+url.PathEscape(id), nil)
			if err != nil {
				return nil, err
			}
			if status >= 300 {
				return nil, decodeAPIError(status, resp)
			}
			if err := json.Unmarshal(resp, &out[i]); err != nil {
				return nil, fmt.Errorf("invalid JSON response: %w", err)
			}
			if out[i].terminal() {
				pending--
				_ = bar.Add(1)
			}
		}
		if pending > 0 {
			time.Sleep(interval)
		}
	}
	_ = bar.Finish()
	return out, nil
}

func strategiesCmd(api func() *client, ui *ui) *cobra.Command {
	cmd := &cobra.Command{Use: "strategies", Short: "Manage trading strategies"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Strategies []struct {
					ID        string    `json:"id"`
					Name      string    `json:"name"`
					UpdatedAt time.Time `json:"updatedAt"`
				} `json:"strategies"`
			}
			if _, err := api().call("GET", apiPrefix+"/strategies", nil, &out, "Fetching strategies..."); err != nil {
				return err
			}
			for _, s := range out.Strategies {
				fmt.Printf("%s  %-32s %s\n", s.ID, ui.info(s.Name), ui.dim(s.UpdatedAt.Format(time.RFC3339)))
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api().call("GET", apiPrefix+"/strategies/"+url.PathEscape(args[0]), nil, nil, "Fetching strategy...")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}

	var name, description, code string
	create := &cobra.Command{
		Use:   "create",
		Short: "Store a strategy from source code",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readText(code, os.Stdin)
			if err != nil {
				return err
			}
			var out struct {
				ID string `json:"id"`
			}
			body := map[string]any{"name": name, "description": description, "code": src}
			if _, err := api().call("POST", apiPrefix+"/strategies", body, &out, "Saving strategy..."); err != nil {
				return err
			}
			fmt.Printf("%s Strategy created: %s\n", ui.ok("[OK]"), out.ID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "Strategy name")
	create.Flags().StringVar(&description, "description", "", "Strategy description")
	create.Flags().StringVar(&code, "code", "", "Source code, @file or - for stdin")

	var save bool
	var saveName string
	generate := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate strategy code from a description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Generated struct {
					StrategyCode string `json:"strategyCode"`
					Explanation  string `json:"explanation"`
				} `json:"generated"`
				Strategy *struct {
					ID string `json:"id"`
				} `json:"strategy"`
			}
			body := map[string]any{"prompt": strings.Join(args, " "), "save": save, "name": saveName}
			if _, err := api().call("POST", apiPrefix+"/strategies/generate", body, &out, "Generating strategy..."); err != nil {
				return err
			}
			fmt.Println(out.Generated.StrategyCode)
			fmt.Println()
			fmt.Println(ui.dim(out.Generated.Explanation))
			if out.Strategy != nil {
				fmt.Printf("%s Strategy saved: %s\n", ui.ok("[OK]"), out.Strategy.ID)
			}
			return nil
		},
	}
	generate.Flags().BoolVar(&save, "save", false, "Save the generated strategy")
	generate.Flags().StringVar(&saveName, "name", "", "Name for the saved strategy")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := api().call("DELETE", apiPrefix+"/strategies/"+url.PathEscape(args[0]), nil, nil, "Deleting strategy..."); err != nil {
				return err
			}
			fmt.Printf("%s Strategy deleted\n", ui.ok("[OK]"))
			return nil
		},
	}

	var market, metric string
	var constraints []string
	optimize := &cobra.Command{
		Use:   "optimize <id>",
		Short: "Tune strategy parameters and rewrite its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := map[string]string{}
			for _, kv := range constraints {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("invalid constraint: %s (expected name=rule)", kv)
				}
				rules[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			body := map[string]any{"marketConditions": market, "performanceMetric": metric, "constraints": rules}
			resp, err := api().call("POST", apiPrefix+"/strategies/"+url.PathEscape(args[0])+"/optimize", body, nil, "Optimizing strategy...")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	optimize.Flags().StringVar(&market, "market", "", "Market conditions to tune for")
	optimize.Flags().StringVar(&metric, "metric", "sharpe ratio", "Performance metric to maximise")
	optimize.Flags().StringArrayVar(&constraints, "constraint", nil, "Extra parameter rule (name=rule)")

	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Export strategy source to the artifact store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				URL string `json:"url"`
			}
			if _, err := api().call("POST", apiPrefix+"/strategies/"+url.PathEscape(args[0])+"/export", nil, &out, "Exporting strategy..."); err != nil {
				return err
			}
			fmt.Printf("%s Exported to %s\n", ui.ok("[OK]"), out.URL)
			return nil
		},
	}

	cmd.AddCommand(list, get, create, generate, del, optimize, export)
	return cmd
}

func profileCmd(api func() *client, ui *ui) *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Risk settings"}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show risk settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api().call("GET", apiPrefix+"/profile/risk", nil, nil, "Fetching risk settings...")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}

	var valueAtRisk, maxPosition, maxDrawdown, stopLoss float64
	set := &cobra.Command{
		Use:   "set",
		Short: "Update risk settings (unset flags keep their value)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := api()
			current := map[string]any{}
			if _, err := c.call("GET", apiPrefix+"/profile/risk", nil, &current, "Fetching risk settings..."); err != nil {
				return err
			}
			flags := cmd.Flags()
			for flag, field := range map[string]struct {
				key string
				val float64
			}{
				"var":          {"valueAtRisk", valueAtRisk},
				"max-position": {"maxPositionSize", maxPosition},
				"max-drawdown": {"maxDrawdown", maxDrawdown},
				"stop-loss":    {"stopLoss", stopLoss},
			} {
				if flags.Changed(flag) {
					current[field.key] = field.val
				}
			}
			delete(current, "updatedAt")
			resp, err := c.call("PUT", apiPrefix+"/profile/risk", current, nil, "Saving risk settings...")
			if err != nil {
				return err
			}
			fmt.Printf("%s Risk settings saved\n", ui.ok("[OK]"))
			printJSON(resp)
			return nil
		},
	}
	set.Flags().Float64Var(&valueAtRisk, "var", 0, "Value at risk, percent")
	set.Flags().Float64Var(&maxPosition, "max-position", 0, "Max position size, percent of portfolio")
	set.Flags().Float64Var(&maxDrawdown, "max-drawdown", 0, "Max drawdown, percent")
	set.Flags().Float64Var(&stopLoss, "stop-loss", 0, "Stop loss, percent")

	cmd.AddCommand(get, set)
	return cmd
}

func backtestCmd(api func() *client, ui *ui) *cobra.Command {
	cmd := &cobra.Command{Use: "backtest", Short: "Simulated backtests"}

	var strategyID, code, dateRange, asset, assets string
	strategyBody := func() (map[string]any, error) {
		body := map[string]any{"dateRange": dateRange}
		if strategyID != "" {
			body["strategyId"] = strategyID
			return body, nil
		}
		src, err := readText(code, os.Stdin)
		if err != nil {
			return nil, err
		}
		body["strategyCode"] = src
		return body, nil
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Backtest a strategy on one asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := strategyBody()
			if err != nil {
				return err
			}
			body["asset"] = asset
			resp, err := api().call("POST", apiPrefix+"/backtests", body, nil, "Simulating backtest...")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	run.Flags().StringVar(&asset, "asset", "BTC/USDT", "Asset to backtest on")

	compare := &cobra.Command{
		Use:   "compare",
		Short: "Backtest a strategy on several assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := strategyBody()
			if err != nil {
				return err
			}
			var list []string
			for _, a := range strings.Split(assets, ",") {
				if a = strings.TrimSpace(a); a != "" {
					list = append(list, a)
				}
			}
			body["assets"] = list
			var out struct {
				Backtests []struct {
					Asset  string `json:"asset"`
					Result *struct {
						NetProfit   float64 `json:"netProfit"`
						SharpeRatio float64 `json:"sharpeRatio"`
						MaxDrawdown float64 `json:"maxDrawdown"`
						WinRate     float64 `json:"winRate"`
					} `json:"result"`
					ErrorCode string `json:"errorCode"`
				} `json:"backtests"`
				Best string `json:"best"`
			}
			if _, err := api().call("POST", apiPrefix+"/backtests/compare", body, &out, "Comparing backtests..."); err != nil {
				return err
			}
			fmt.Printf("%-12s %12s %8s %8s %8s\n", "ASSET", "NET PROFIT", "SHARPE", "MAX DD", "WIN %")
			for _, b := range out.Backtests {
				if b.Result == nil {
					fmt.Printf("%-12s %s\n", b.Asset, ui.err(b.ErrorCode))
					continue
				}
				line := fmt.Sprintf("%-12s %12.2f %8.2f %8.2f %8.2f", b.Asset, b.Result.NetProfit, b.Result.SharpeRatio, b.Result.MaxDrawdown, b.Result.WinRate)
				if b.Asset == out.Best {
					line = ui.ok(line)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	compare.Flags().StringVar(&assets, "assets", "BTC/USDT,ETH/USDT", "Comma-separated assets")

	for _, c := range []*cobra.Command{run, compare} {
		c.Flags().StringVar(&strategyID, "strategy-id", "", "Stored strategy ID")
		c.Flags().StringVar(&code, "code", "", "Strategy source, @file or - for stdin")
		c.Flags().StringVar(&dateRange, "range", "last 12 months", "Historical period")
	}
	cmd.AddCommand(run, compare)
	return cmd
}

// readText resolves a flag value that may be literal text, @file or - for stdin.
func readText(v string, stdin io.Reader) (string, error) {
	switch {
	case v == "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	case strings.HasPrefix(v, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(v, "@"))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return v, nil
}

// readInput parses a JSON object given inline, as @file or on stdin.
func readInput(v string, stdin io.Reader) (map[string]any, error) {
	raw, err := readText(v, stdin)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var in map[string]any
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("invalid input JSON: %w", err)
	}
	return in, nil
}

func printOutput(rec runRecord, ui *ui) {
	if rec.Status == "FAILED" {
		fmt.Printf("%s %s at %s: %s\n", ui.err("[FAILED]"), rec.ErrorCode, rec.FailedStage, rec.Error)
		return
	}
	b, _ := json.Marshal(rec.Output)
	printJSON(b)
	fmt.Println(ui.dim(fmt.Sprintf("run %s in %dms", rec.ID, rec.LatencyMs)))
}

func statusLabel(status string, ui *ui) string {
	switch status {
	case "SUCCEEDED":
		return ui.ok(status)
	case "FAILED":
		return ui.err(status)
	default:
		return ui.warn(status)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// apiError is a non-2xx answer of the fpilot API.
type apiError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("error (%d): %s", e.Status, e.Body)
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *client) request(method, path string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

// call performs the request behind a spinner and decodes a 2xx answer into
// out when out is non-nil.
func (c *client) call(method, path string, body any, out any, label string) ([]byte, error) {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " " + label
	spin.Writer = os.Stderr
	spin.Start()
	status, resp, err := c.request(method, path, body)
	spin.Stop()
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return resp, decodeAPIError(status, resp)
	}
	if out != nil && len(resp) > 0 {
		if err := json.Unmarshal(resp, out); err != nil {
			return resp, fmt.Errorf("invalid JSON response: %w", err)
		}
	}
	return resp, nil
}

func decodeAPIError(status int, body []byte) error {
	e := &apiError{Status: status, Body: strings.TrimSpace(string(body))}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code, e.Message = payload.Code, payload.Error
	}
	return e
}

func main() {
	baseURL := getenv("FPILOT_BASE_URL", "http://localhost:8080")
	token := getenv("FPILOT_TOKEN", "")
	profileName := getenv("FPILOT_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "fpilot",
		Short: "fpilot CLI",
		Long:  "fpilot CLI for generative trading tasks, strategies and backtests.",
	}
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for the fpilot API")
	root.PersistentFlags().StringVar(&token, "token", token, "Bearer token")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		active := resolveProfileName(profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") && strings.TrimSpace(os.Getenv("FPILOT_BASE_URL")) == "" && prof.BaseURL != "" {
			baseURL = prof.BaseURL
		}
		if !flags.Changed("token") && strings.TrimSpace(os.Getenv("FPILOT_TOKEN")) == "" && prof.Token != "" {
			token = prof.Token
		}
		return nil
	}

	api := func() *client { return newClient(baseURL, token) }

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(flowsCmd(api, ui))
	root.AddCommand(runCmd(api, ui))
	root.AddCommand(runsCmd(api, ui))
	root.AddCommand(strategiesCmd(api, ui))
	root.AddCommand(profileCmd(api, ui))
	root.AddCommand(backtestCmd(api, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func printJSON(raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

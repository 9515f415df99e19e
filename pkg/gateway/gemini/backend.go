// Package gemini is the Google Gemini backend built on google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

const (
	providerName = "gemini"
	defaultModel = "gemini-2.0-flash"
)

type Backend struct {
	client *genai.Client
	model  string
}

func New(cfg gateway.BackendConfig) (gateway.Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Backend{client: client, model: model}, nil
}

func (b *Backend) Name() string { return providerName }

func (b *Backend) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{StructuredOutput: true}
}

func (b *Backend) Complete(ctx context.Context, req gateway.CompletionRequest) (*gateway.Completion, error) {
	model := req.Model.Model
	if model == "" {
		model = b.model
	}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if req.Model.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Model.Temperature))
	}
	if req.Model.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Model.MaxOutputTokens)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseSchema = ResponseSchema(req.ResponseSchema)
	}

	resp, err := b.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		return nil, &gateway.MalformedResponseError{Provider: providerName, Text: resp.Text(), Err: gateway.ErrTruncated}
	}
	out := &gateway.Completion{Text: resp.Text(), Model: resp.ModelVersion}
	if resp.UsageMetadata != nil {
		out.Usage = gateway.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if strings.TrimSpace(out.Text) == "" {
		reason := "empty candidate"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			reason = "finish reason " + string(resp.Candidates[0].FinishReason)
		}
		return nil, &gateway.MalformedResponseError{Provider: providerName, Err: errors.New(reason)}
	}
	return out, nil
}

// ResponseSchema converts f into the OpenAPI subset Gemini accepts. Maps and
// tagged variants have no equivalent; for those it returns nil and the call
// falls back to plain JSON mode.
func ResponseSchema(f *schema.Field) *genai.Schema {
	if schema.HasKind(f, schema.KindMap) || schema.HasKind(f, schema.KindVariant) {
		return nil
	}
	return convert(f)
}

func convert(f *schema.Field) *genai.Schema {
	s := &genai.Schema{Description: f.Description}
	switch f.Kind {
	case schema.KindString:
		s.Type = genai.TypeString
		if f.MinLen > 0 {
			s.MinLength = genai.Ptr(int64(f.MinLen))
		}
	case schema.KindEnum:
		s.Type = genai.TypeString
		s.Format = "enum"
		s.Enum = append([]string(nil), f.Enum...)
	case schema.KindBoolean:
		s.Type = genai.TypeBoolean
	case schema.KindNumber:
		s.Type = genai.TypeNumber
		if f.Integral {
			s.Type = genai.TypeInteger
		}
		s.Minimum = f.Min
		s.Maximum = f.Max
	case schema.KindArray:
		s.Type = genai.TypeArray
		s.Items = convert(f.Items)
		if f.ExactLen != nil {
			s.MinItems = genai.Ptr(int64(*f.ExactLen))
			s.MaxItems = genai.Ptr(int64(*f.ExactLen))
		}
		if f.MaxLen != nil {
			s.MaxItems = genai.Ptr(int64(*f.MaxLen))
		}
	case schema.KindObject:
		s.Type = genai.TypeObject
		s.Properties = make(map[string]*genai.Schema, len(f.Fields))
		for _, c := range f.Fields {
			s.Properties[c.Name] = convert(c)
			s.PropertyOrdering = append(s.PropertyOrdering, c.Name)
			if !c.Optional {
				s.Required = append(s.Required, c.Name)
			}
		}
	}
	return s
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptrErr *genai.APIError
		if !errors.As(err, &ptrErr) {
			return &gateway.BackendUnavailableError{Provider: providerName, Err: err}
		}
		apiErr = *ptrErr
	}
	switch {
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return &gateway.AuthenticationError{Provider: providerName, Message: apiErr.Message}
	case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "api key"):
		return &gateway.AuthenticationError{Provider: providerName, Message: apiErr.Message}
	case apiErr.Code == http.StatusTooManyRequests:
		return &gateway.RateLimitError{Provider: providerName, RetryAfter: retryDelay(apiErr.Details), Message: apiErr.Message}
	case apiErr.Code >= 500:
		return &gateway.BackendUnavailableError{Provider: providerName, Err: err}
	}
	return &gateway.BackendUnavailableError{Provider: providerName, Status: apiErr.Code, Err: err}
}

// retryDelay reads google.rpc.RetryInfo from the error details, e.g. {"retryDelay":"17s"}.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		t, _ := d["@type"].(string)
		if !strings.HasSuffix(t, "RetryInfo") {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			return v
		}
	}
	return 0
}

func init() {
	gateway.RegisterBackend(providerName, New)
}
